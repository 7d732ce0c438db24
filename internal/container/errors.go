package container

import (
	"errors"
	"fmt"
	"strings"
)

// ErrReconnectRequired signals that a remote-side change (docker group
// membership) only takes effect in a new login shell. The orchestrator
// re-establishes the session and resumes; nothing failed.
var ErrReconnectRequired = errors.New("reconnect required for group membership to take effect")

// GpuRuntimeError reports that the nvidia container runtime could not
// be made available, after the install sequence was retried once.
type GpuRuntimeError struct {
	Host   string
	Reason string
}

func (e *GpuRuntimeError) Error() string {
	return fmt.Sprintf("gpu runtime unavailable on %s: %s", e.Host, e.Reason)
}

// BuildError carries the tail of the build output.
type BuildError struct {
	Container string
	Tail      []string
	Err       error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build failed for container %s: %v\n%s", e.Container, e.Err, strings.Join(e.Tail, "\n"))
}

func (e *BuildError) Unwrap() error { return e.Err }

// HealthCheckError reports an exhausted readiness probe. The container
// stays up for post-mortem inspection.
type HealthCheckError struct {
	Container string
	Attempts  int
}

func (e *HealthCheckError) Error() string {
	return fmt.Sprintf("container %s failed health check after %d attempts (left running for inspection)",
		e.Container, e.Attempts)
}
