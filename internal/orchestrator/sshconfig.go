package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/antonkrylov/mlbox/internal/store"
)

// writeSSHConfig upserts the remote's host block into the managed
// fragment and makes sure the user's main ssh config includes it, so
// plain `ssh <alias>` works outside this tool.
func (o *Orchestrator) writeSSHConfig(r store.Remote) error {
	existing := ""
	if data, err := os.ReadFile(o.fragmentPath); err == nil {
		existing = string(data)
	} else if !os.IsNotExist(err) {
		return err
	}

	updated := upsertHostBlock(existing, r.Alias, hostBlock(r))
	if err := os.MkdirAll(filepath.Dir(o.fragmentPath), 0o700); err != nil {
		return err
	}
	if err := os.WriteFile(o.fragmentPath, []byte(updated), 0o600); err != nil {
		return err
	}

	if o.mainSSHConfig == "" {
		return nil
	}
	return ensureInclude(o.mainSSHConfig, o.fragmentPath)
}

func hostBlock(r store.Remote) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Host %s\n", r.Alias)
	fmt.Fprintf(&b, "    HostName %s\n", r.Host)
	fmt.Fprintf(&b, "    User %s\n", r.Username)
	if r.IdentityFile != "" {
		fmt.Fprintf(&b, "    IdentityFile %s\n", r.IdentityFile)
	}
	fmt.Fprintf(&b, "    Port %d\n", r.Port)
	b.WriteString("    StrictHostKeyChecking no\n")
	b.WriteString("    UserKnownHostsFile /dev/null\n")
	return b.String()
}

// upsertHostBlock replaces the block for alias in the fragment, keeping
// every other host block untouched. Blocks are delimited by "Host "
// lines.
func upsertHostBlock(existing, alias, block string) string {
	lines := strings.Split(existing, "\n")
	var out []string
	skipping := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "Host ") {
			skipping = strings.TrimSpace(strings.TrimPrefix(trimmed, "Host")) == alias
		}
		if !skipping {
			out = append(out, line)
		}
	}
	text := strings.TrimRight(strings.Join(out, "\n"), "\n")
	if text != "" {
		text += "\n\n"
	}
	return text + block
}

// ensureInclude prepends an Include directive to the main ssh config if
// it is not already there. OpenSSH only honors Include before the first
// Host block.
func ensureInclude(mainPath, fragmentPath string) error {
	include := "Include " + fragmentPath
	existing := ""
	if data, err := os.ReadFile(mainPath); err == nil {
		existing = string(data)
	} else if !os.IsNotExist(err) {
		return err
	}

	for _, line := range strings.Split(existing, "\n") {
		if strings.TrimSpace(line) == include {
			return nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(mainPath), 0o700); err != nil {
		return err
	}
	content := include + "\n"
	if existing != "" {
		content += "\n" + existing
	}
	return os.WriteFile(mainPath, []byte(content), 0o600)
}
