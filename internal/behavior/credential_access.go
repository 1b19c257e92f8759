package behavior

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/outrider-security/sentinel/internal/model"
	"github.com/outrider-security/sentinel/internal/platform"
	"github.com/outrider-security/sentinel/internal/snapshot"
)

// scriptInterpreters names the interpreter basenames whose command lines
// are checked for credential-file keywords; generic browser process names
// are deliberately excluded since they legitimately touch their own
// cookie/login-data stores.
var scriptInterpreters = []string{"python", "python3", "ruby", "node", "perl", "php"}

// CredentialAccess implements the four credential-access sub-checks:
// open-fd matches against the credential-files list, SSH key
// permission/netrc checks, cloud-credential-file existence, and
// script-interpreter command lines referencing credential keywords.
type CredentialAccess struct {
	FDTable         platform.FDTable
	ProcessArgs     platform.ProcessArgs
	CredentialFiles []string
	CredKeywords    []string
	StatFile        func(path string) (os.FileInfo, error)
}

func (c *CredentialAccess) Name() string { return "behavior.credential_access" }

func (c *CredentialAccess) statFile(path string) (os.FileInfo, error) {
	if c.StatFile != nil {
		return c.StatFile(path)
	}
	return os.Stat(path)
}

func (c *CredentialAccess) Scan(ctx context.Context, snap *snapshot.Snapshot) ([]model.Anomaly, error) {
	var anomalies []model.Anomaly
	home, _ := os.UserHomeDir()

	resolvedCreds := make([]string, len(c.CredentialFiles))
	for i, p := range c.CredentialFiles {
		resolvedCreds[i] = expandHome(p, home)
	}

	if c.FDTable != nil {
		for _, pid := range snap.PIDs() {
			if ctx.Err() != nil {
				return anomalies, nil
			}
			fds, err := c.FDTable.List(ctx, pid)
			if err != nil {
				continue
			}
			name := snap.Name(pid)
			path := snap.Path(pid)
			for _, fd := range fds {
				if fd.Type != "vnode" || fd.VnodePath == "" {
					continue
				}
				if !containsString(resolvedCreds, fd.VnodePath) {
					continue
				}
				subject := model.ProcessSubject(pid, name, path)
				ev := model.NewEvidence(
					model.Pair("pid", fmt.Sprintf("%d", pid)),
					model.Pair("credential_file", fd.VnodePath),
				)
				anomalies = append(anomalies, model.NewProcessAnomaly(c.Name(), "Credential File Access",
					fmt.Sprintf("pid %d (%s) has %s open", pid, name, fd.VnodePath),
					model.SeverityHigh, "T1555", "proc_pidinfo(PROC_PIDLISTFDS)", subject, ev))
			}
		}
	}

	for _, p := range resolvedCreds {
		if !strings.Contains(p, "id_rsa") && !strings.Contains(p, "id_ed25519") {
			continue
		}
		fi, err := c.statFile(p)
		if err != nil {
			continue
		}
		if fi.Mode().Perm() > 0o600 {
			subject := model.FilesystemSubject("ssh private key", p)
			ev := model.NewEvidence(
				model.Pair("path", p),
				model.Pair("mode", fmt.Sprintf("%#o", fi.Mode().Perm())),
			)
			anomalies = append(anomalies, model.NewFilesystemAnomaly(c.Name(), "Overly Permissive SSH Key",
				fmt.Sprintf("%s has mode %#o, more permissive than 0600", p, fi.Mode().Perm()),
				model.SeverityMedium, "T1552.004", "stat", subject, ev))
		}
	}

	netrc := expandHome("~/.netrc", home)
	if _, err := c.statFile(netrc); err == nil {
		subject := model.FilesystemSubject("netrc", netrc)
		anomalies = append(anomalies, model.NewFilesystemAnomaly(c.Name(), "Netrc Credentials Present",
			fmt.Sprintf("%s exists", netrc),
			model.SeverityLow, "T1552.001", "stat", subject, model.NewEvidence(model.Pair("path", netrc))))
	}

	for _, p := range resolvedCreds {
		if strings.Contains(p, "id_rsa") || strings.Contains(p, "id_ed25519") || strings.Contains(p, ".netrc") {
			continue
		}
		if _, err := c.statFile(p); err != nil {
			continue
		}
		subject := model.FilesystemSubject("cloud credentials", p)
		anomalies = append(anomalies, model.NewFilesystemAnomaly(c.Name(), "Cloud Credentials Present",
			fmt.Sprintf("%s exists", p),
			model.SeverityLow, "T1552.001", "stat", subject, model.NewEvidence(model.Pair("path", p))))
	}

	if c.ProcessArgs != nil {
		for _, pid := range snap.PIDs() {
			if ctx.Err() != nil {
				return anomalies, nil
			}
			name := snap.Name(pid)
			if !containsString(scriptInterpreters, strings.ToLower(name)) {
				continue
			}
			argv, _, err := c.ProcessArgs.Args(ctx, pid)
			if err != nil {
				continue
			}
			joined := strings.Join(argv, " ")
			for _, kw := range c.CredKeywords {
				if !strings.Contains(joined, kw) {
					continue
				}
				subject := model.ProcessSubject(pid, name, snap.Path(pid))
				ev := model.NewEvidence(
					model.Pair("pid", fmt.Sprintf("%d", pid)),
					model.Pair("keyword", kw),
					model.Pair("argv", joined),
				)
				anomalies = append(anomalies, model.NewProcessAnomaly(c.Name(), "Script Interpreter Credential Access",
					fmt.Sprintf("pid %d (%s) references %q in its arguments", pid, name, kw),
					model.SeverityHigh, "T1555", "kern_procargs2", subject, ev))
				break
			}
		}
	}

	return anomalies, nil
}
