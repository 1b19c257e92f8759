package config

// Tables holds every data-table catalogue the behavior and contradiction
// probes consult. Each field's contract lists the minimum members it must
// contain; the compiled-in defaults satisfy each contract so the core runs
// usefully with no external file.
type Tables struct {
	// SystemSingletons must contain every process name that should have
	// at most one running instance.
	SystemSingletons []string `yaml:"system_singletons"`

	// CriticalBinaries must contain every system binary basename whose
	// on-disk/in-memory __TEXT is checked for tamper (binary integrity
	// probe).
	CriticalBinaries []string `yaml:"critical_binaries"`

	// CriticalLibraries must contain every dylib basename the inline-hook
	// scan inspects for trampoline patterns.
	CriticalLibraries []string `yaml:"critical_libraries"`

	// DangerousDyldVars must contain every DYLD_* environment variable
	// name considered risky; the primary entry is DYLD_INSERT_LIBRARIES.
	DangerousDyldVars []string `yaml:"dangerous_dyld_vars"`

	// CredentialFiles must contain every path (absolute or ~-relative)
	// that is itself a stored credential.
	CredentialFiles []string `yaml:"credential_files"`

	// CredentialKeywords must contain every keyword that identifies a
	// command line as touching stored credentials.
	CredentialKeywords []string `yaml:"credential_keywords"`

	// LOLBinPatterns maps a process basename to the argument substrings
	// that indicate abuse of that living-off-the-land binary.
	LOLBinPatterns map[string][]string `yaml:"lolbin_patterns"`

	// FakePromptPatterns must contain every osascript argument substring
	// that is evidence of a fake password/credential prompt.
	FakePromptPatterns []string `yaml:"fake_prompt_patterns"`

	// EventTapAllowlist must contain every code-signing identifier known
	// to legitimately install a keyboard event tap.
	EventTapAllowlist []string `yaml:"event_tap_allowlist"`

	// MaliciousKextPatterns must contain every substring known to appear
	// in a malicious kernel-extension bundle identifier.
	MaliciousKextPatterns []string `yaml:"malicious_kext_patterns"`

	// SuspiciousBootArgs must contain every kernel boot-arg token that
	// weakens platform security when present.
	SuspiciousBootArgs []string `yaml:"suspicious_boot_args"`

	// PersistenceBaseline must contain every persistence-item identifier
	// (label or path) known-good for this fleet; items on the list are
	// still reported, tagged baseline.
	PersistenceBaseline []string `yaml:"persistence_baseline"`

	// SuspiciousPorts must contain every remote TCP port associated with
	// common C2/remote-access tooling.
	SuspiciousPorts []int `yaml:"suspicious_ports"`

	// C2Ports must contain remote ports that independently indicate C2
	// traffic (distinct severity path from SuspiciousPorts in §4.11).
	C2Ports []int `yaml:"c2_ports"`

	// CloudC2Hosts and DeadDropHosts must contain hostname substrings
	// associated with cloud-based C2/exfiltration and dead-drop resolvers.
	CloudC2Hosts  []string `yaml:"cloud_c2_hosts"`
	DeadDropHosts []string `yaml:"dead_drop_hosts"`

	// KnownBrowserSigningIDs must contain the code-signing identifiers of
	// legitimate browsers, used to suppress cloud-C2 false positives on
	// ordinary browser traffic.
	KnownBrowserSigningIDs []string `yaml:"known_browser_signing_ids"`
	KnownBrowserNames      []string `yaml:"known_browser_names"`

	// DangerousEntitlements must contain every entitlement key considered
	// high-risk when present on a binary, including platform-private
	// prefixes.
	DangerousEntitlements []string `yaml:"dangerous_entitlements"`

	// CriticalProcesses must contain every process name whose crash
	// report deserves triage against the exploitation-pattern list.
	CriticalProcesses []string `yaml:"critical_processes"`

	// ExploitationPatterns must contain every substring found in crash
	// content that indicates likely exploitation rather than an ordinary
	// bug.
	ExploitationPatterns []string `yaml:"exploitation_patterns"`

	// DangerousCommandSubstrings must contain every substring that marks
	// a decoded shell script as a likely backdoor/dropper.
	DangerousCommandSubstrings []string `yaml:"dangerous_command_substrings"`

	// ScriptHostDirs must contain every directory walked by the script
	// backdoor scan.
	ScriptHostDirs []string `yaml:"script_host_dirs"`

	// AllowedScriptPathPrefixes must contain every path prefix excluded
	// from the script backdoor scan.
	AllowedScriptPathPrefixes []string `yaml:"allowed_script_path_prefixes"`
}

func defaultTables() Tables {
	return Tables{
		SystemSingletons: []string{
			"WindowServer", "loginwindow", "Dock", "Finder", "SystemUIServer", "launchd",
		},
		CriticalBinaries: []string{
			"launchd", "WindowServer", "securityd", "sshd", "sudo", "kernel_task", "loginwindow",
		},
		CriticalLibraries: []string{
			"libsystem_kernel.dylib", "libSystem.B.dylib", "libobjc.A.dylib",
			"CoreFoundation", "Security", "libdyld.dylib",
		},
		DangerousDyldVars: []string{
			"DYLD_INSERT_LIBRARIES",
			"DYLD_LIBRARY_PATH",
			"DYLD_FRAMEWORK_PATH",
			"DYLD_FALLBACK_LIBRARY_PATH",
			"DYLD_FALLBACK_FRAMEWORK_PATH",
			"DYLD_IMAGE_SUFFIX",
			"DYLD_FORCE_FLAT_NAMESPACE",
			"DYLD_PRINT_LIBRARIES",
			"DYLD_PRINT_APIS",
		},
		CredentialFiles: []string{
			"~/Library/Keychains/login.keychain-db",
			"~/.ssh/id_rsa",
			"~/.ssh/id_ed25519",
			"~/.netrc",
			"~/.aws/credentials",
			"~/.kube/config",
			"~/.docker/config.json",
		},
		CredentialKeywords: []string{
			"Login Data", "Cookies", "cookies.sqlite", "key4.db", "keychain", "TCC.db",
		},
		LOLBinPatterns: map[string][]string{
			"xattr":    {"-d com.apple.quarantine"},
			"sqlite3":  {"TCC.db", "Cookies", "Login Data"},
			"security": {"dump-keychain", "find-generic-password", "find-internet-password"},
		},
		FakePromptPatterns: []string{
			"display dialog", "hidden answer", "with icon caution",
			"system preferences", "system settings", "password", "administrator privileges",
			"update required",
		},
		EventTapAllowlist: []string{},
		MaliciousKextPatterns: []string{
			"keylog", "rootkit", "backdoor",
		},
		SuspiciousBootArgs: []string{
			"amfi_get_out_of_my_way", "cs_enforcement_disable", "-v", "debug=", "kext-dev-mode",
		},
		PersistenceBaseline: []string{},
		SuspiciousPorts:     []int{4444, 5555, 1337, 31337, 9050, 9150},
		C2Ports:             []int{4444, 8080, 8443, 6666, 6667},
		CloudC2Hosts: []string{
			"pastebin.com", "discord.com/api/webhooks", "ngrok.io", "trycloudflare.com",
		},
		DeadDropHosts: []string{"raw.githubusercontent.com", "gist.githubusercontent.com"},
		KnownBrowserSigningIDs: []string{
			"com.apple.Safari", "com.google.Chrome", "org.mozilla.firefox", "com.microsoft.edgemac",
		},
		KnownBrowserNames: []string{"Safari", "Google Chrome", "firefox", "Microsoft Edge"},
		DangerousEntitlements: []string{
			"com.apple.security.get-task-allow",
			"com.apple.private.security.no-sandbox",
			"com.apple.rootless.install",
			"com.apple.private.tcc.allow",
		},
		CriticalProcesses: []string{"WindowServer", "loginwindow", "securityd", "launchd"},
		ExploitationPatterns: []string{
			"EXC_BAD_ACCESS", "KERN_INVALID_ADDRESS", "stack overflow", "heap overflow",
			"use-after-free", "double free", "sandbox violation",
		},
		DangerousCommandSubstrings: []string{
			"curl", "wget", " nc ", "bash -i", "python -c", "osascript", "launchctl",
		},
		ScriptHostDirs: []string{
			"/Library/Scripts", "/Library/Application Support", "/usr/local/bin",
		},
		AllowedScriptPathPrefixes: []string{},
	}
}
