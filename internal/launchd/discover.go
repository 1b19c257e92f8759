package launchd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/outrider-security/sentinel/internal/model"
	"github.com/outrider-security/sentinel/internal/platform"
)

// DefaultDirectories lists the daemon and agent locations launchd itself
// loads from, in the order the census probe should present them.
var DefaultDirectories = []string{
	"/System/Library/LaunchDaemons",
	"/Library/LaunchDaemons",
	"/System/Library/LaunchAgents",
	"/Library/LaunchAgents",
	"~/Library/LaunchAgents",
}

// Discover walks dirs, parsing every *.plist file into a descriptor. A
// file that fails to parse is skipped, not fatal to the walk — a
// truncated or hand-edited plist should not blind the rest of the census.
func Discover(dirs []string) ([]model.LaunchPlistDescriptor, error) {
	home, _ := os.UserHomeDir()
	var out []model.LaunchPlistDescriptor
	for _, dir := range dirs {
		resolved := dir
		if strings.HasPrefix(dir, "~") && home != "" {
			resolved = filepath.Join(home, strings.TrimPrefix(dir, "~"))
		}
		entries, err := os.ReadDir(resolved)
		if err != nil {
			continue // absent directory (e.g. no per-user agents dir) is not an error
		}
		for _, ent := range entries {
			if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".plist") {
				continue
			}
			path := filepath.Join(resolved, ent.Name())
			desc, err := ParseFile(path)
			if err != nil {
				continue
			}
			out = append(out, desc)
		}
	}
	return out, nil
}

// ParseFile reads and decodes a single launchd plist into a descriptor.
func ParseFile(path string) (model.LaunchPlistDescriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.LaunchPlistDescriptor{}, fmt.Errorf("launchd: open %s: %w", path, platform.ErrPermission)
	}
	defer f.Close()

	dict, err := decodePlist(f)
	if err != nil {
		return model.LaunchPlistDescriptor{}, fmt.Errorf("launchd: parse %s: %w", path, platform.ErrMalformed)
	}

	desc := model.LaunchPlistDescriptor{PlistPath: path}
	desc.Label, _ = stringField(dict, "Label")
	if prog, ok := stringField(dict, "Program"); ok {
		desc.BinaryPath = prog
	} else if first, ok := firstProgramArgument(dict); ok {
		desc.BinaryPath = first
	}
	desc.KeepAlive = boolField(dict, "KeepAlive")
	desc.EnvVars = stringDict(dict, "EnvironmentVariables")

	if desc.Label == "" {
		return desc, fmt.Errorf("launchd: %s: no Label key: %w", path, platform.ErrMalformed)
	}
	return desc, nil
}

// IsApplePrefixed reports whether label carries the "com.apple." prefix
// every contradiction-probe check excludes.
func IsApplePrefixed(label string) bool {
	return strings.HasPrefix(label, "com.apple.")
}

// ParsePlistFile decodes any XML property list at path into a generic
// value tree, for callers that need more than the launch-descriptor
// projection above: kext bundle Info.plist (IOKitPersonalities) and app
// Info.plist (LSEnvironment) for the behavior probes.
func ParsePlistFile(path string) (map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("launchd: open %s: %w", path, platform.ErrPermission)
	}
	defer f.Close()

	dict, err := decodePlist(f)
	if err != nil {
		return nil, fmt.Errorf("launchd: parse %s: %w", path, platform.ErrMalformed)
	}
	return dict, nil
}
