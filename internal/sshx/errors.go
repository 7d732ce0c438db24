package sshx

import (
	"context"
	"errors"
	"net"
	"strings"
)

// Channel-layer failure classes. Callers distinguish these with
// errors.Is; everything else from this package is a plain wrapped error.
var (
	// ErrUnreachable covers dial timeouts and connection refusal.
	ErrUnreachable = errors.New("host unreachable")
	// ErrAuthentication covers credential rejection during handshake.
	ErrAuthentication = errors.New("authentication failed")
	// ErrConnectionLost covers a connection dropped mid-command, as
	// opposed to a clean non-zero exit.
	ErrConnectionLost = errors.New("connection lost")
)

// classifyDialError maps a raw ssh.Dial failure onto the channel error
// taxonomy, keeping the original error in the chain.
func classifyDialError(host string, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "no supported methods remain") ||
		strings.Contains(msg, "permission denied") {
		return &channelError{kind: ErrAuthentication, host: host, err: err}
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return &channelError{kind: ErrUnreachable, host: host, err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no route to host") ||
		strings.Contains(msg, "i/o timeout") ||
		strings.Contains(msg, "no such host") {
		return &channelError{kind: ErrUnreachable, host: host, err: err}
	}
	// Unknown handshake failures read as unreachable rather than auth:
	// retrying is safe, reporting bad credentials when they are fine is not.
	return &channelError{kind: ErrUnreachable, host: host, err: err}
}

type channelError struct {
	kind error
	host string
	err  error
}

func (e *channelError) Error() string {
	return e.kind.Error() + " (" + e.host + "): " + e.err.Error()
}

func (e *channelError) Is(target error) bool { return target == e.kind }

func (e *channelError) Unwrap() error { return e.err }
