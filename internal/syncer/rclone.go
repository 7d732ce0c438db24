package syncer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/antonkrylov/mlbox/internal/sshx"
)

// Cloud providers with a matching rclone remote name. The operator's
// rclone.conf must define a section of the same name.
var providerRemotes = map[string]string{
	"gdrive": "gdrive:",
	"s3":     "s3:",
	"b2":     "b2:",
}

// DataSyncSpec parameterizes one cloud data transfer. Unlike project
// sync, no exclusion compile happens: patterns pass straight to rclone.
type DataSyncSpec struct {
	// Direction is "up" (local to cloud) or "down".
	Direction string
	Provider  string
	LocalDir  string
	RemoteDir string
	Transfers int
	Checkers  int
	Excludes  []string
	// Mode selects where rclone runs: "local", "host" (on the remote via
	// the channel, rclone.conf pushed first), or "container".
	Mode          string
	ContainerName string
	DryRun        bool
}

func (s DataSyncSpec) validate() error {
	if s.Direction != "up" && s.Direction != "down" {
		return fmt.Errorf("direction must be up or down, got %q", s.Direction)
	}
	if _, ok := providerRemotes[s.Provider]; !ok {
		return fmt.Errorf("unknown provider %q (want gdrive, s3, or b2)", s.Provider)
	}
	switch s.Mode {
	case "", "local", "host", "container":
	default:
		return fmt.Errorf("unknown mode %q (want local, host, or container)", s.Mode)
	}
	if s.Mode == "container" && s.ContainerName == "" {
		return fmt.Errorf("container mode needs a container name")
	}
	return nil
}

// DataSync runs one rclone transfer.
func (e *Engine) DataSync(ctx context.Context, spec DataSyncSpec) error {
	if err := spec.validate(); err != nil {
		return &TransferError{Side: "local", Op: "rclone", Err: err}
	}
	args := rcloneArgs(spec)

	switch spec.Mode {
	case "", "local":
		code, err := e.exec(ctx, "rclone", args, func(line string) {
			e.logger.Debug(line)
		})
		if err != nil {
			return &TransferError{Side: "local", Op: "rclone", Err: err}
		}
		if code != 0 {
			return &TransferError{Side: "local", Op: "rclone", Err: fmt.Errorf("rclone exited %d", code)}
		}
		return nil
	case "host":
		if err := e.pushRcloneConfig(ctx); err != nil {
			return err
		}
		return e.remoteRclone(ctx, "rclone "+strings.Join(args, " "))
	case "container":
		return e.remoteRclone(ctx, fmt.Sprintf("docker exec %s rclone %s", spec.ContainerName, strings.Join(args, " ")))
	}
	return nil
}

func (e *Engine) remoteRclone(ctx context.Context, cmd string) error {
	res, err := e.runner.Run(ctx, cmd, sshx.RunOptions{OnLine: func(line string) {
		e.logger.Debug(line)
	}})
	if err != nil {
		return &TransferError{Side: "remote", Op: "rclone", Err: err}
	}
	if res.ExitCode != 0 {
		return &TransferError{Side: "remote", Op: "rclone", Err: fmt.Errorf("exit %d: %s", res.ExitCode, res.TailString())}
	}
	return nil
}

// pushRcloneConfig copies the local rclone.conf to the remote user's
// config dir. The file carries credentials, so it lands 0600 regardless
// of the local mode.
func (e *Engine) pushRcloneConfig(ctx context.Context) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return &TransferError{Side: "local", Op: "rclone", Err: err}
	}
	path := filepath.Join(home, ".config", "rclone", "rclone.conf")
	f, err := os.Open(path)
	if err != nil {
		return &TransferError{Side: "local", Op: "rclone", Err: fmt.Errorf("rclone.conf not found at %s: %w", path, err)}
	}
	defer f.Close()

	if err := e.runner.Upload(ctx, f, "~/.config/rclone/rclone.conf", "0600"); err != nil {
		return &TransferError{Side: "remote", Op: "rclone", Err: err}
	}
	return nil
}

// rcloneArgs builds the argument list for one data sync.
func rcloneArgs(spec DataSyncSpec) []string {
	cloud := providerRemotes[spec.Provider] + spec.RemoteDir
	var src, dst string
	if spec.Direction == "up" {
		src, dst = spec.LocalDir, cloud
	} else {
		src, dst = cloud, spec.LocalDir
	}

	args := []string{"sync", src, dst, "--progress"}
	if spec.Transfers > 0 {
		args = append(args, "--transfers", strconv.Itoa(spec.Transfers))
	}
	if spec.Checkers > 0 {
		args = append(args, "--checkers", strconv.Itoa(spec.Checkers))
	}
	for _, pat := range spec.Excludes {
		if pat = strings.TrimSpace(pat); pat != "" {
			args = append(args, "--exclude", pat)
		}
	}
	if spec.DryRun {
		args = append(args, "--dry-run")
	}
	return args
}
