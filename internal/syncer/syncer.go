package syncer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/creack/pty"
	"golang.org/x/sys/unix"

	"github.com/antonkrylov/mlbox/internal/sshx"
)

// RemoteRunner is the slice of the channel the engine needs. *sshx.Client
// satisfies it; tests use a scripted fake.
type RemoteRunner interface {
	Run(ctx context.Context, command string, opts sshx.RunOptions) (sshx.Result, error)
	Upload(ctx context.Context, content io.Reader, remotePath, mode string) error
}

// Target describes the remote endpoint for transfer tools that open
// their own connection (rsync, rclone).
type Target struct {
	Host         string
	Username     string
	IdentityFile string
	Port         int
}

func (t Target) userHost() string { return t.Username + "@" + t.Host }

// sshCommand builds the transport argument handed to rsync -e. Host key
// checking is off: rented instances recycle IPs faster than known_hosts
// can keep up.
func (t Target) sshCommand() string {
	return fmt.Sprintf("ssh -p %d -i %s -o StrictHostKeyChecking=no -o UserKnownHostsFile=/dev/null",
		t.Port, t.IdentityFile)
}

// localExec runs a local subprocess and streams its merged output line
// by line. Seam for tests; the default implementation attaches a PTY so
// transfer tools emit live progress instead of buffering.
type localExec func(ctx context.Context, name string, args []string, onLine func(string)) (int, error)

// Engine transfers a filtered local tree to a remote path and back, and
// drives cloud data sync. Not transactional: a failed transfer leaves a
// partial remote tree and is safe to rerun to completion.
type Engine struct {
	target Target
	runner RemoteRunner
	logger *log.Logger
	exec   localExec
}

func New(target Target, runner RemoteRunner, logger *log.Logger) *Engine {
	return &Engine{target: target, runner: runner, logger: logger, exec: runUnderPTY}
}

// Result reports one completed transfer.
type Result struct {
	// Method is "rsync" or "archive" (the fallback for hosts without rsync).
	Method string
	// Planned holds the file list for dry runs, nil otherwise.
	Planned []string
}

// Push transfers the admitted files under localRoot to remoteDir.
func (e *Engine) Push(ctx context.Context, localRoot, remoteDir string, excl *ExcludeSet, dryrun bool) (Result, error) {
	if dryrun {
		planned, err := Plan(localRoot, excl)
		if err != nil {
			return Result{}, &TransferError{Side: "local", Op: "plan", Err: err}
		}
		return Result{Method: "rsync", Planned: planned}, nil
	}

	if err := e.ensureRemoteDir(ctx, remoteDir); err != nil {
		return Result{}, err
	}
	if !e.remoteHasRsync(ctx) {
		e.logger.Warn("remote has no rsync, falling back to archive transfer", "host", e.target.Host)
		if err := e.pushArchive(ctx, localRoot, remoteDir, excl); err != nil {
			return Result{}, err
		}
		return Result{Method: "archive"}, nil
	}

	args := rsyncArgs(localRoot+"/", e.target.userHost()+":"+remoteDir+"/", excl, e.target.sshCommand(), false)
	if err := e.runRsync(ctx, args); err != nil {
		return Result{}, err
	}
	return Result{Method: "rsync"}, nil
}

// Pull transfers remotePath from the remote into localDir. Used by
// fetch; exclusion rules apply on the receiving side.
func (e *Engine) Pull(ctx context.Context, remotePath, localDir string, excl *ExcludeSet) (Result, error) {
	args := rsyncArgs(e.target.userHost()+":"+remotePath, localDir, excl, e.target.sshCommand(), false)
	if err := e.runRsync(ctx, args); err != nil {
		return Result{}, err
	}
	return Result{Method: "rsync"}, nil
}

func (e *Engine) ensureRemoteDir(ctx context.Context, dir string) error {
	cmd := fmt.Sprintf("mkdir -p %s && chmod 755 %s", dir, dir)
	res, err := e.runner.Run(ctx, cmd, sshx.RunOptions{})
	if err != nil {
		return &TransferError{Side: "remote", Op: "mkdir", Err: err}
	}
	if res.ExitCode != 0 {
		return &TransferError{Side: "remote", Op: "mkdir", Err: fmt.Errorf("exit %d: %s", res.ExitCode, res.TailString())}
	}
	return nil
}

func (e *Engine) remoteHasRsync(ctx context.Context) bool {
	res, err := e.runner.Run(ctx, "command -v rsync", sshx.RunOptions{})
	return err == nil && res.ExitCode == 0
}

func (e *Engine) runRsync(ctx context.Context, args []string) error {
	code, err := e.exec(ctx, "rsync", args, func(line string) {
		e.logger.Debug(line)
	})
	if err != nil {
		return &TransferError{Side: "local", Op: "rsync", Err: err}
	}
	if code != 0 {
		return &TransferError{Side: "remote", Op: "rsync", Err: fmt.Errorf("rsync exited %d", code)}
	}
	return nil
}

// rsyncArgs builds the argument list for one transfer. Include rules
// come before excludes: rsync filters are first-match, and a trailing
// "!" negation must win over the pattern it carves out of.
func rsyncArgs(src, dst string, excl *ExcludeSet, sshCmd string, dryrun bool) []string {
	args := []string{"-az", "--progress"}
	if dryrun {
		args = append(args, "--dry-run", "--itemize-changes")
	}
	for _, p := range excl.Patterns() {
		if neg, ok := strings.CutPrefix(p, "!"); ok {
			args = append(args, "--include="+neg)
		}
	}
	for _, p := range excl.Patterns() {
		if !strings.HasPrefix(p, "!") {
			args = append(args, "--exclude="+p)
		}
	}
	args = append(args, "-e", sshCmd, src, dst)
	return args
}

// runUnderPTY starts a local subprocess on a pseudo-terminal and scans
// its output. Progress-aware tools like rsync and rclone only render
// live output on a TTY.
func runUnderPTY(ctx context.Context, name string, args []string, onLine func(string)) (int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	f, err := pty.Start(cmd)
	if err != nil {
		return 0, fmt.Errorf("start %s: %w", name, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	sc.Split(scanProgressLines)
	for sc.Scan() {
		if onLine != nil {
			onLine(sc.Text())
		}
	}
	// creack/pty on Linux surfaces EIO once the child closes its side,
	// wrapped in a *os.PathError. Treat it as a normal end-of-stream.
	if err := sc.Err(); err != nil && !errors.Is(err, unix.EIO) {
		_ = cmd.Wait()
		return 0, fmt.Errorf("read %s output: %w", name, err)
	}

	if err := cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode(), nil
		}
		return 0, err
	}
	return 0, nil
}

// scanProgressLines splits on both \n and \r so in-place progress
// updates come through as separate lines.
func scanProgressLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i, b := range data {
		if b == '\n' || b == '\r' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
