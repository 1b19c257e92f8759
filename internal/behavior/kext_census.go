package behavior

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/outrider-security/sentinel/internal/codesign"
	"github.com/outrider-security/sentinel/internal/launchd"
	"github.com/outrider-security/sentinel/internal/model"
	"github.com/outrider-security/sentinel/internal/platform"
	"github.com/outrider-security/sentinel/internal/snapshot"
)

// DefaultExtensionDirs lists the on-disk kext bundle locations scanned in
// addition to the live kext census.
var DefaultExtensionDirs = []string{"/Library/Extensions", "/Library/StagedExtensions"}

// dangerousIOClasses names the IOKitPersonalities IOClass values that place
// a kext in the HID/network/block-storage/USB-host surface spec.md calls
// out for extra scrutiny.
var dangerousIOClasses = []string{
	"IOHIDDevice", "IOHIDEventDriver", "IOUSBHostDevice", "IOUSBHostInterface",
	"IONetworkInterface", "IOEthernetInterface", "IOBlockStorageDevice", "IOBlockStorageDriver",
}

// SystemExtensionEntry is one row read from the system-extension database.
type SystemExtensionEntry struct {
	BundleID       string
	State          string
	ContainingPath string
}

// KextCensus implements the kext/system-extension census: live kext list
// against a malicious-pattern table, on-disk bundle signature/IOKit class
// inspection, system-extension orphan detection, and suspicious boot-arg
// matching.
type KextCensus struct {
	KextLister       platform.KextLister
	KernelStats      platform.KernelStats
	Validator        *codesign.Validator
	ExtensionDirs    []string
	MaliciousKexts   []string
	SuspiciousBootArgs []string
	ListSystemExtensions func() ([]SystemExtensionEntry, error)
}

func (k *KextCensus) Name() string { return "behavior.kext_census" }

func (k *KextCensus) Scan(ctx context.Context, snap *snapshot.Snapshot) ([]model.Anomaly, error) {
	var anomalies []model.Anomaly

	if k.KextLister != nil {
		entries, err := k.KextLister.List(ctx)
		if err == nil {
			for _, e := range entries {
				if !e.Loaded {
					continue
				}
				if strings.HasPrefix(e.BundleID, "com.apple.") {
					continue
				}
				sev := model.SeverityMedium
				if containsSubstring(k.MaliciousKexts, e.BundleID) {
					sev = model.SeverityCritical
				}
				subject := model.FilesystemSubject(e.BundleID, "")
				ev := model.NewEvidence(
					model.Pair("bundle_id", e.BundleID),
					model.Pair("version", e.Version),
				)
				anomalies = append(anomalies, model.NewFilesystemAnomaly(k.Name(), "Non-Apple Kernel Extension Loaded",
					fmt.Sprintf("kext %s is loaded and not Apple-signed by naming convention", e.BundleID),
					sev, "T1547.006", "kext_census", subject, ev))
			}
		}
	}

	dirs := k.ExtensionDirs
	if dirs == nil {
		dirs = DefaultExtensionDirs
	}
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() || !strings.HasSuffix(entry.Name(), ".kext") {
				continue
			}
			bundlePath := filepath.Join(dir, entry.Name())
			anomalies = append(anomalies, k.scanBundle(bundlePath)...)
		}
	}

	if k.ListSystemExtensions != nil {
		if exts, err := k.ListSystemExtensions(); err == nil {
			for _, ext := range exts {
				if strings.HasPrefix(ext.BundleID, "com.apple.") {
					continue
				}
				if ext.State != "activated_enabled" {
					continue
				}
				if _, err := os.Stat(ext.ContainingPath); err == nil {
					continue
				}
				subject := model.FilesystemSubject(ext.BundleID, ext.ContainingPath)
				ev := model.NewEvidence(
					model.Pair("bundle_id", ext.BundleID),
					model.Pair("containing_path", ext.ContainingPath),
				)
				anomalies = append(anomalies, model.NewFilesystemAnomaly(k.Name(), "Orphaned System Extension",
					fmt.Sprintf("system extension %s is activated but %s no longer exists", ext.BundleID, ext.ContainingPath),
					model.SeverityHigh, "T1547.006", "system_extension_db", subject, ev))
			}
		}
	}

	if k.KernelStats != nil {
		if args, err := k.KernelStats.BootArgs(ctx); err == nil {
			joined := strings.Join(args, " ")
			for _, bad := range k.SuspiciousBootArgs {
				if strings.Contains(joined, bad) {
					subject := model.FilesystemSubject("kernel boot-args", "")
					ev := model.NewEvidence(
						model.Pair("boot_args", joined),
						model.Pair("matched", bad),
					)
					anomalies = append(anomalies, model.NewFilesystemAnomaly(k.Name(), "Suspicious Boot Argument",
						fmt.Sprintf("kernel boot-args contain %q", bad),
						model.SeverityHigh, "T1556", "sysctl(kern.bootargs)", subject, ev))
				}
			}
		}
	}

	return anomalies, nil
}

func (k *KextCensus) scanBundle(bundlePath string) []model.Anomaly {
	var anomalies []model.Anomaly
	name := filepath.Base(bundlePath)
	infoPlist := filepath.Join(bundlePath, "Contents", "Info.plist")
	execDir := filepath.Join(bundlePath, "Contents", "MacOS")

	if k.Validator != nil {
		if execEntries, err := os.ReadDir(execDir); err == nil {
			for _, e := range execEntries {
				if e.IsDir() {
					continue
				}
				execPath := filepath.Join(execDir, e.Name())
				info, err := k.Validator.Validate(execPath)
				subject := model.FilesystemSubject(name, execPath)
				if err != nil || info.Status == model.SigningUnsigned {
					anomalies = append(anomalies, model.NewFilesystemAnomaly(k.Name(), "Unsigned Kext Binary",
						fmt.Sprintf("%s is unsigned", execPath),
						model.SeverityCritical, "T1547.006", "codesign_validate", subject,
						model.NewEvidence(model.Pair("path", execPath))))
				} else if info.Status == model.SigningInvalid {
					anomalies = append(anomalies, model.NewFilesystemAnomaly(k.Name(), "Invalid Kext Signature",
						fmt.Sprintf("%s has an invalid code signature", execPath),
						model.SeverityCritical, "T1547.006", "codesign_validate", subject,
						model.NewEvidence(model.Pair("path", execPath))))
				}
			}
		}
	}

	dict, err := launchd.ParsePlistFile(infoPlist)
	if err != nil {
		return anomalies
	}
	personalities := launchd.DictField(dict, "IOKitPersonalities")
	for key, raw := range personalities {
		sub, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		class, ok := launchd.StringField(sub, "IOClass")
		if !ok || !containsString(dangerousIOClasses, class) {
			continue
		}
		subject := model.FilesystemSubject(name, bundlePath)
		ev := model.NewEvidence(
			model.Pair("personality", key),
			model.Pair("io_class", class),
		)
		anomalies = append(anomalies, model.NewFilesystemAnomaly(k.Name(), "Kext Claims Sensitive IOClass",
			fmt.Sprintf("%s personality %s claims IOClass %s", bundlePath, key, class),
			model.SeverityHigh, "T1547.006", "info_plist_iokitpersonalities", subject, ev))
	}
	return anomalies
}
