package codesign

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/outrider-security/sentinel/internal/macho"
	"github.com/outrider-security/sentinel/internal/model"
	"github.com/outrider-security/sentinel/internal/platform"
)

// cacheKey identifies a cached validation by path and the file's
// inode/mtime pair, per spec: invalidated the moment either changes.
type cacheKey struct {
	path  string
	inode uint64
	mtime int64
}

// Validator validates embedded code signatures and queries the live
// kernel code-signing flag word. It is pure over its file argument and
// safe for concurrent use; results are cached with a simple bounded FIFO
// eviction policy keyed by (path, inode, mtime).
type Validator struct {
	query platform.CodeSignQuery

	mu       sync.Mutex
	cache    map[cacheKey]model.SigningInfo
	order    []cacheKey
	maxItems int

	dangerousEntitlements map[string]bool
	dangerousPrefixes     []string
}

// New builds a Validator. dangerousKeys may include trailing "*" to mark a
// platform-private prefix match (e.g. "com.apple.private.*").
func New(query platform.CodeSignQuery, maxCacheItems int, dangerousKeys []string) *Validator {
	v := &Validator{
		query:                 query,
		cache:                 make(map[cacheKey]model.SigningInfo),
		maxItems:              maxCacheItems,
		dangerousEntitlements: make(map[string]bool),
	}
	for _, k := range dangerousKeys {
		if len(k) > 0 && k[len(k)-1] == '*' {
			v.dangerousPrefixes = append(v.dangerousPrefixes, k[:len(k)-1])
		} else {
			v.dangerousEntitlements[k] = true
		}
	}
	return v
}

// Validate reads the binary's embedded signature at path and classifies
// it. Results are cached on (path, inode, mtime).
func (v *Validator) Validate(path string) (model.SigningInfo, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return model.SigningInfo{}, fmt.Errorf("codesign: stat %s: %w", path, platform.ErrNotPresent)
	}
	key := cacheKey{path: path, inode: inodeOf(fi), mtime: fi.ModTime().UnixNano()}

	v.mu.Lock()
	if cached, ok := v.cache[key]; ok {
		v.mu.Unlock()
		return cached, nil
	}
	v.mu.Unlock()

	info, err := v.validateUncached(path)
	if err != nil {
		return model.SigningInfo{}, err
	}

	v.mu.Lock()
	v.store(key, info)
	v.mu.Unlock()
	return info, nil
}

// CacheSize returns the current number of cached validations, exposed for
// the telemetry gauge.
func (v *Validator) CacheSize() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.cache)
}

func (v *Validator) store(key cacheKey, info model.SigningInfo) {
	if v.maxItems > 0 && len(v.cache) >= v.maxItems {
		oldest := v.order[0]
		v.order = v.order[1:]
		delete(v.cache, oldest)
	}
	v.cache[key] = info
	v.order = append(v.order, key)
}

func (v *Validator) validateUncached(path string) (model.SigningInfo, error) {
	mi, err := macho.Parse(path)
	if err != nil {
		return model.SigningInfo{}, fmt.Errorf("codesign: %s: %w", path, err)
	}
	if !mi.HasCodeSign {
		return model.SigningInfo{Status: model.SigningUnsigned}, nil
	}

	sig, err := readSuperBlob(path, mi.SliceFileOffset+int64(mi.CodeSignOff), mi.CodeSignSize)
	if err != nil {
		return model.SigningInfo{Status: model.SigningInvalid}, nil
	}
	if sig.malformed {
		return model.SigningInfo{Status: model.SigningInvalid, SigningID: sig.identifier, TeamID: sig.teamID}, nil
	}

	status := model.SigningAdHoc
	if sig.hasSignature {
		status = model.SigningSigned
	}

	return model.SigningInfo{
		Status:                status,
		SigningID:             sig.identifier,
		TeamID:                sig.teamID,
		Entitlements:          sig.entitlements,
		IsApplePlatformBinary: isApplePlatformIdentity(sig.identifier, sig.teamID),
	}, nil
}

func isApplePlatformIdentity(identifier, teamID string) bool {
	// Apple platform binaries are signed with no team identifier at all
	// (the platform identity), distinct from third-party Apple-developer
	// signed code which always carries a team ID.
	return identifier != "" && teamID == ""
}

// DangerousEntitlements returns the subset of a binary's entitlements
// matching the configured dangerous-key list, including platform-private
// prefix matches.
func (v *Validator) DangerousEntitlements(path string) (map[string]bool, error) {
	info, err := v.Validate(path)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool)
	for key := range info.Entitlements {
		if v.dangerousEntitlements[key] {
			out[key] = true
			continue
		}
		for _, prefix := range v.dangerousPrefixes {
			if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
				out[key] = true
				break
			}
		}
	}
	return out, nil
}

// Kernel CS flag names in declaration order, matched by bit against the
// flag word (codesign.h).
var kernelCSFlagNames = []struct {
	bit  uint32
	name string
}{
	{model.CSValid, "CS_VALID"},
	{model.CSAdhoc, "CS_ADHOC"},
	{model.CSHard, "CS_HARD"},
	{model.CSKill, "CS_KILL"},
	{model.CSDebugged, "CS_DEBUGGED"},
	{model.CSPlatformBinary, "CS_PLATFORM_BINARY"},
}

// KernelCSInfo issues a live kernel query for pid's code-signing flag
// word and decodes the bits the spec names.
func (v *Validator) KernelCSInfo(ctx context.Context, pid int) (model.KernelCSInfo, error) {
	flags, err := v.query.FlagsForPID(ctx, pid)
	if err != nil {
		return model.KernelCSInfo{}, fmt.Errorf("codesign: kernel_cs_info pid=%d: %w", pid, err)
	}
	info := model.KernelCSInfo{
		FlagsWord:  flags,
		IsValid:    flags&model.CSValid != 0,
		IsDebugged: flags&model.CSDebugged != 0,
	}
	for _, f := range kernelCSFlagNames {
		if flags&f.bit != 0 {
			info.FlagNames = append(info.FlagNames, f.name)
		}
	}
	return info, nil
}
