package sshx

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"golang.org/x/crypto/ssh"
	"golang.org/x/term"
)

// DefaultTailLines bounds the diagnostic tail kept per command.
const DefaultTailLines = 40

// RunOptions shapes a single command execution.
type RunOptions struct {
	// WorkingDir, when set, is created and entered before the command.
	WorkingDir string
	// Interactive allocates a remote PTY sized to the local terminal and
	// wires it to the local stdin/stdout. Output callbacks are not used
	// in this mode.
	Interactive bool
	// OnLine receives each output line as it is produced, never buffered
	// until completion. Stderr lines arrive on the same callback to
	// preserve interleaving where the channel merges the streams.
	// Delivery is serialized: the callback never runs concurrently with
	// itself, so callers may accumulate state without locking.
	OnLine func(line string)
	// TailLines overrides the diagnostic tail size (default 40).
	TailLines int
	// Stdin, when set, is streamed to the remote command's stdin.
	Stdin io.Reader
}

// Result reports one finished command. A non-zero exit code is data,
// not an error: callers decide whether it is fatal.
type Result struct {
	ExitCode int
	Tail     []string
}

// TailString joins the captured tail for diagnostics.
func (r Result) TailString() string { return strings.Join(r.Tail, "\n") }

// Run executes one command over the channel. The returned error is
// reserved for transport problems (ErrConnectionLost) and local
// failures; remote non-zero exits come back in the Result.
func (c *Client) Run(ctx context.Context, command string, opts RunOptions) (Result, error) {
	sess, err := c.conn.NewSession()
	if err != nil {
		return Result{}, &channelError{kind: ErrConnectionLost, host: c.cfg.Host, err: err}
	}
	defer sess.Close()

	full := command
	if opts.WorkingDir != "" {
		full = fmt.Sprintf("mkdir -p %s && cd %s && %s", opts.WorkingDir, opts.WorkingDir, command)
	}

	if opts.Interactive {
		return c.runInteractive(ctx, sess, full)
	}
	return c.runStreaming(ctx, sess, full, opts)
}

func (c *Client) runStreaming(ctx context.Context, sess *ssh.Session, command string, opts RunOptions) (Result, error) {
	tailN := opts.TailLines
	if tailN <= 0 {
		tailN = DefaultTailLines
	}
	tail := newTailBuffer(tailN)

	stdout, err := sess.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := sess.StderrPipe()
	if err != nil {
		return Result{}, fmt.Errorf("stderr pipe: %w", err)
	}
	if opts.Stdin != nil {
		sess.Stdin = opts.Stdin
	}

	if err := sess.Start(command); err != nil {
		return Result{}, &channelError{kind: ErrConnectionLost, host: c.cfg.Host, err: err}
	}

	var wg sync.WaitGroup
	var lineMu sync.Mutex
	pump := func(r io.Reader) {
		defer wg.Done()
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			line := sc.Text()
			lineMu.Lock()
			tail.Append(line)
			if opts.OnLine != nil {
				opts.OnLine(line)
			}
			lineMu.Unlock()
		}
	}
	wg.Add(2)
	go pump(stdout)
	go pump(stderr)

	done := make(chan error, 1)
	go func() {
		wg.Wait()
		done <- sess.Wait()
	}()

	select {
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGTERM)
		_ = sess.Close()
		<-done
		return Result{Tail: tail.Lines()}, &channelError{kind: ErrConnectionLost, host: c.cfg.Host, err: ctx.Err()}
	case err := <-done:
		return c.finish(err, tail)
	}
}

func (c *Client) finish(waitErr error, tail *tailBuffer) (Result, error) {
	if waitErr == nil {
		return Result{ExitCode: 0, Tail: tail.Lines()}, nil
	}
	var exitErr *ssh.ExitError
	if errors.As(waitErr, &exitErr) {
		return Result{ExitCode: exitErr.ExitStatus(), Tail: tail.Lines()}, nil
	}
	// ExitMissingError and transport errors mean the command's fate is
	// unknown: the session died before reporting a status.
	return Result{Tail: tail.Lines()}, &channelError{kind: ErrConnectionLost, host: c.cfg.Host, err: waitErr}
}

func (c *Client) runInteractive(ctx context.Context, sess *ssh.Session, command string) (Result, error) {
	fd := int(os.Stdin.Fd())
	width, height := 80, 24
	var restore func()
	if term.IsTerminal(fd) {
		if w, h, err := term.GetSize(fd); err == nil {
			width, height = w, h
		}
		oldState, err := term.MakeRaw(fd)
		if err != nil {
			return Result{}, fmt.Errorf("raw terminal: %w", err)
		}
		restore = func() { _ = term.Restore(fd, oldState) }
		defer restore()
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	termEnv := os.Getenv("TERM")
	if termEnv == "" {
		termEnv = "xterm-256color"
	}
	if err := sess.RequestPty(termEnv, height, width, modes); err != nil {
		return Result{}, fmt.Errorf("request pty: %w", err)
	}

	sess.Stdin = os.Stdin
	sess.Stdout = os.Stdout
	sess.Stderr = os.Stderr

	if err := sess.Start(command); err != nil {
		return Result{}, &channelError{kind: ErrConnectionLost, host: c.cfg.Host, err: err}
	}

	// Best-effort resize loop.
	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGWINCH)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			if w, h, err := term.GetSize(fd); err == nil {
				_ = sess.WindowChange(h, w)
			}
		}
	}()

	done := make(chan error, 1)
	go func() { done <- sess.Wait() }()

	select {
	case <-ctx.Done():
		// Interrupting attach terminates the foreground remote process
		// and nothing else; the container keeps running.
		_ = sess.Signal(ssh.SIGINT)
		err := <-done
		return c.finish(err, newTailBuffer(1))
	case err := <-done:
		return c.finish(err, newTailBuffer(1))
	}
}

// Upload writes content to a remote path through the session stdin and
// normalizes permissions afterwards. Transfers of credential material
// must end 0600 regardless of what the transport did to the mode bits.
func (c *Client) Upload(ctx context.Context, content io.Reader, remotePath, mode string) error {
	if mode == "" {
		mode = "0600"
	}
	dir := remoteDir(remotePath)
	cmd := fmt.Sprintf("mkdir -p %s && cat > %s && chmod %s %s", dir, remotePath, mode, remotePath)
	res, err := c.Run(ctx, cmd, RunOptions{Stdin: content})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("upload to %s exited %d: %s", remotePath, res.ExitCode, res.TailString())
	}
	return nil
}

func remoteDir(path string) string {
	i := strings.LastIndex(path, "/")
	if i <= 0 {
		return "."
	}
	return path[:i]
}
