// Package container manages the lifecycle of a GPU-backed container on
// a remote host. All engine interaction goes through a CommandRunner so
// the state machine is testable without a live docker daemon.
package container

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/antonkrylov/mlbox/internal/sshx"
)

// State tracks where the manager is in the lifecycle.
type State string

const (
	StateUnknown        State = "unknown"
	StateCheckingPrereq State = "checking-prereqs"
	StateBuilding       State = "building"
	StatePulling        State = "pulling"
	StateStarting       State = "starting"
	StateHealthChecking State = "health-checking"
	StateRunning        State = "running"
	StateStopped        State = "stopped"
	StateFailed         State = "failed"
)

// CommandRunner executes one command on the remote host. *sshx.Client
// satisfies it.
type CommandRunner interface {
	Run(ctx context.Context, command string, opts sshx.RunOptions) (sshx.Result, error)
}

// Spec describes the container to guarantee.
type Spec struct {
	// Name is the container name, unique per host.
	Name string
	// WorkDir is the synced project directory holding the compose file.
	WorkDir string
	// HostNetwork selects host networking; distributed-compute head
	// nodes need it, standalone containers get the bridge.
	HostNetwork bool
}

// Manager drives one container on one host through the lifecycle.
type Manager struct {
	runner CommandRunner
	host   string
	logger *log.Logger
	state  State
}

func NewManager(runner CommandRunner, host string, logger *log.Logger) *Manager {
	return &Manager{runner: runner, host: host, logger: logger, state: StateUnknown}
}

// State reports the current lifecycle position.
func (m *Manager) State() State { return m.state }

func (m *Manager) setState(s State) {
	if s != m.state {
		m.logger.Debug("container state", "from", m.state, "to", s)
		m.state = s
	}
}

func (m *Manager) run(ctx context.Context, command string) (sshx.Result, error) {
	return m.runner.Run(ctx, command, sshx.RunOptions{
		OnLine: func(line string) { m.logger.Debug(line) },
	})
}

// installSequence brings in the nvidia container toolkit. Each command
// is idempotent and independently retryable.
var installSequence = []string{
	`curl -fsSL https://nvidia.github.io/libnvidia-container/gpgkey | sudo gpg --dearmor --yes -o /usr/share/keyrings/nvidia-container-toolkit-keyring.gpg`,
	`curl -fsSL https://nvidia.github.io/libnvidia-container/stable/deb/nvidia-container-toolkit.list | sed 's#deb https://#deb [signed-by=/usr/share/keyrings/nvidia-container-toolkit-keyring.gpg] https://#g' | sudo tee /etc/apt/sources.list.d/nvidia-container-toolkit.list > /dev/null`,
	`sudo apt-get update -qq`,
	`sudo apt-get install -y -qq nvidia-container-toolkit`,
	`sudo nvidia-ctk runtime configure --runtime=docker`,
	`sudo systemctl restart docker`,
}

// EnsureGPURuntime verifies the driver answers and the engine knows the
// nvidia runtime, installing the toolkit if needed. The install is
// retried exactly once; package-index timing makes first runs flaky.
func (m *Manager) EnsureGPURuntime(ctx context.Context) error {
	m.setState(StateCheckingPrereq)

	res, err := m.run(ctx, "nvidia-smi -L")
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		m.setState(StateFailed)
		return &GpuRuntimeError{Host: m.host, Reason: "nvidia driver not responding: " + res.TailString()}
	}

	for attempt := 0; attempt <= 1; attempt++ {
		ok, err := m.hasNvidiaRuntime(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		m.logger.Info("installing nvidia container toolkit", "host", m.host, "attempt", attempt+1)
		if err := m.runInstallSequence(ctx); err != nil {
			m.logger.Warn("toolkit install failed", "err", err)
		}
	}
	if ok, err := m.hasNvidiaRuntime(ctx); err != nil {
		return err
	} else if ok {
		return nil
	}
	m.setState(StateFailed)
	return &GpuRuntimeError{Host: m.host, Reason: "nvidia runtime still missing after install"}
}

func (m *Manager) hasNvidiaRuntime(ctx context.Context) (bool, error) {
	res, err := m.run(ctx, `docker info --format '{{json .Runtimes}}'`)
	if err != nil {
		return false, err
	}
	if res.ExitCode != 0 {
		return false, nil
	}
	return strings.Contains(res.TailString(), "nvidia"), nil
}

func (m *Manager) runInstallSequence(ctx context.Context) error {
	for _, cmd := range installSequence {
		res, err := m.run(ctx, cmd)
		if err != nil {
			return err
		}
		if res.ExitCode != 0 {
			return fmt.Errorf("install step %q exited %d: %s", firstWords(cmd, 3), res.ExitCode, res.TailString())
		}
	}
	return nil
}

// EnsureDockerGroup checks that the remote user can talk to the engine
// without elevation. When membership has to be granted it returns
// ErrReconnectRequired because groups only apply to new login shells.
func (m *Manager) EnsureDockerGroup(ctx context.Context, username string) error {
	res, err := m.run(ctx, "docker ps -q")
	if err != nil {
		return err
	}
	if res.ExitCode == 0 {
		return nil
	}
	tail := strings.ToLower(res.TailString())
	if !strings.Contains(tail, "permission denied") && !strings.Contains(tail, "connect: permission") {
		return fmt.Errorf("docker engine not usable on %s: %s", m.host, res.TailString())
	}

	m.logger.Info("adding user to docker group", "host", m.host, "user", username)
	res, err = m.run(ctx, fmt.Sprintf("sudo usermod -aG docker %s", username))
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("usermod failed: %s", res.TailString())
	}
	return ErrReconnectRequired
}

// BuildOrStart guarantees the named container is up. An existing
// container is reused: started if stopped, left alone if running.
// forceRebuild removes it and builds fresh from the project dir.
func (m *Manager) BuildOrStart(ctx context.Context, spec Spec, forceRebuild bool) error {
	existing, err := m.inspect(ctx, spec.Name)
	if err != nil {
		return err
	}

	if existing.found && !forceRebuild {
		if existing.running {
			m.logger.Info("container already running", "container", spec.Name)
			m.setState(StateRunning)
			return nil
		}
		m.setState(StateStarting)
		res, err := m.run(ctx, "docker start "+spec.Name)
		if err != nil {
			return err
		}
		if res.ExitCode != 0 {
			m.setState(StateFailed)
			return &BuildError{Container: spec.Name, Tail: res.Tail, Err: fmt.Errorf("docker start exited %d", res.ExitCode)}
		}
		return nil
	}

	if existing.found {
		res, err := m.run(ctx, "docker rm -f "+spec.Name)
		if err != nil {
			return err
		}
		if res.ExitCode != 0 {
			return fmt.Errorf("remove old container %s: %s", spec.Name, res.TailString())
		}
	}

	if forceRebuild {
		m.setState(StateBuilding)
	} else {
		m.setState(StatePulling)
	}
	cmd := fmt.Sprintf("cd %s && %sdocker compose up -d", spec.WorkDir, composeEnv(spec))
	if forceRebuild {
		cmd += " --build"
	}
	res, err := m.run(ctx, cmd)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		m.setState(StateFailed)
		return &BuildError{Container: spec.Name, Tail: res.Tail, Err: fmt.Errorf("compose up exited %d", res.ExitCode)}
	}
	m.setState(StateStarting)
	return nil
}

// composeEnv passes the network selection into the compose file, which
// consumes NETWORK_MODE with a bridge default.
func composeEnv(spec Spec) string {
	if spec.HostNetwork {
		return "NETWORK_MODE=host "
	}
	return ""
}

type containerStatus struct {
	found   bool
	running bool
}

func (m *Manager) inspect(ctx context.Context, name string) (containerStatus, error) {
	cmd := fmt.Sprintf(`docker ps -a --filter name='^%s$' --format '{{.State}}'`, name)
	res, err := m.run(ctx, cmd)
	if err != nil {
		return containerStatus{}, err
	}
	if res.ExitCode != 0 {
		return containerStatus{}, fmt.Errorf("docker ps exited %d: %s", res.ExitCode, res.TailString())
	}
	state := strings.TrimSpace(res.TailString())
	if state == "" {
		return containerStatus{}, nil
	}
	return containerStatus{found: true, running: state == "running"}, nil
}

// HealthCheck polls driver visibility inside the container until it
// answers or the retry budget runs out. Exhaustion is reported, never
// treated as success, and the container stays up.
func (m *Manager) HealthCheck(ctx context.Context, name string, retries int, interval time.Duration) error {
	m.setState(StateHealthChecking)
	for attempt := 1; attempt <= retries; attempt++ {
		res, err := m.run(ctx, fmt.Sprintf("docker exec %s nvidia-smi -L", name))
		if err != nil {
			return err
		}
		if res.ExitCode == 0 {
			m.setState(StateRunning)
			return nil
		}
		m.logger.Debug("health check attempt failed", "container", name, "attempt", attempt, "of", retries)
		if attempt < retries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interval):
			}
		}
	}
	m.setState(StateRunning)
	return &HealthCheckError{Container: name, Attempts: retries}
}

// Teardown stops and removes the container and its dedicated network.
// Removing an absent container is a success.
func (m *Manager) Teardown(ctx context.Context, name string) error {
	res, err := m.run(ctx, "docker rm -f "+name)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 && !strings.Contains(strings.ToLower(res.TailString()), "no such container") {
		return fmt.Errorf("remove container %s: %s", name, res.TailString())
	}
	// The per-project compose network; absent is fine.
	if _, err := m.run(ctx, fmt.Sprintf("docker network rm %s_default 2>/dev/null || true", name)); err != nil {
		return err
	}
	m.setState(StateStopped)
	return nil
}

func firstWords(s string, n int) string {
	fields := strings.Fields(s)
	if len(fields) > n {
		fields = fields[:n]
	}
	return strings.Join(fields, " ")
}
