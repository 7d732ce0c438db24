package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/antonkrylov/mlbox/internal/config"
	"github.com/antonkrylov/mlbox/internal/sshx"
)

// updateRemoteEnv merges the container environment the compose file
// expects into the project's remote .env, preserving any entries the
// operator added by hand.
func (o *Orchestrator) updateRemoteEnv(ctx context.Context, ch Channel, remoteDir string, conf config.Resolved) error {
	envPath := remoteDir + "/.env"

	existing := ""
	_, err := ch.Run(ctx, fmt.Sprintf("cat %s 2>/dev/null || true", envPath), sshx.RunOptions{
		OnLine: func(line string) { existing += line + "\n" },
	})
	if err != nil {
		return err
	}

	merged := mergeEnv(existing, envUpdates(conf))
	if merged == existing {
		return nil
	}
	return ch.Upload(ctx, strings.NewReader(merged), envPath, "0644")
}

func envUpdates(conf config.Resolved) [][2]string {
	return [][2]string{
		{"PROJECT_NAME", conf.ProjectName},
		{"CONTAINER_NAME", conf.ContainerName},
		{"NVIDIA_VISIBLE_DEVICES", "all"},
		{"NVIDIA_DRIVER_CAPABILITIES", "all"},
	}
}

// mergeEnv updates or appends KEY=value pairs in dotenv text, keeping
// existing line order, comments, and unrelated keys.
func mergeEnv(existing string, updates [][2]string) string {
	lines := []string{}
	if strings.TrimSpace(existing) != "" {
		lines = strings.Split(strings.TrimRight(existing, "\n"), "\n")
	}

	seen := map[string]bool{}
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		key, _, ok := strings.Cut(trimmed, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		for _, u := range updates {
			if key == u[0] {
				lines[i] = u[0] + "=" + u[1]
				seen[key] = true
			}
		}
	}
	for _, u := range updates {
		if !seen[u[0]] {
			lines = append(lines, u[0]+"="+u[1])
		}
	}
	return strings.Join(lines, "\n") + "\n"
}
