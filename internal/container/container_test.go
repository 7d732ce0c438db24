package container

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/antonkrylov/mlbox/internal/sshx"
)

// fakeRunner answers commands by first matching substring rule;
// unmatched commands succeed with empty output.
type fakeRunner struct {
	rules []rule
	calls []string
}

type rule struct {
	match   string
	respond func(cmd string) sshx.Result
}

func (f *fakeRunner) Run(_ context.Context, cmd string, _ sshx.RunOptions) (sshx.Result, error) {
	f.calls = append(f.calls, cmd)
	for _, r := range f.rules {
		if strings.Contains(cmd, r.match) {
			return r.respond(cmd), nil
		}
	}
	return sshx.Result{}, nil
}

func (f *fakeRunner) count(substr string) int {
	n := 0
	for _, c := range f.calls {
		if strings.Contains(c, substr) {
			n++
		}
	}
	return n
}

func exit(code int, tail ...string) func(string) sshx.Result {
	return func(string) sshx.Result { return sshx.Result{ExitCode: code, Tail: tail} }
}

func newTestManager(f *fakeRunner) *Manager {
	return NewManager(f, "gpu1", log.New(io.Discard))
}

func TestHealthCheckExhaustion(t *testing.T) {
	f := &fakeRunner{rules: []rule{
		{match: "docker exec demo nvidia-smi", respond: exit(1, "probe failed")},
	}}
	m := newTestManager(f)

	err := m.HealthCheck(context.Background(), "demo", 3, 0)

	var hcErr *HealthCheckError
	if !errors.As(err, &hcErr) {
		t.Fatalf("want HealthCheckError, got %v", err)
	}
	if hcErr.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", hcErr.Attempts)
	}
	if got := f.count("docker exec demo nvidia-smi"); got != 3 {
		t.Fatalf("probe ran %d times, want exactly 3", got)
	}
	if f.count("docker rm") != 0 || f.count("docker stop") != 0 {
		t.Fatal("failed health check must not remove the container")
	}
	if m.State() != StateRunning {
		t.Fatalf("state = %s, want running (container stays up for inspection)", m.State())
	}
}

func TestHealthCheckEventualSuccess(t *testing.T) {
	attempts := 0
	f := &fakeRunner{rules: []rule{
		{match: "nvidia-smi", respond: func(string) sshx.Result {
			attempts++
			if attempts < 3 {
				return sshx.Result{ExitCode: 1}
			}
			return sshx.Result{ExitCode: 0}
		}},
	}}
	m := newTestManager(f)

	if err := m.HealthCheck(context.Background(), "demo", 5, 0); err != nil {
		t.Fatalf("health check: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("probe ran %d times, want 3", attempts)
	}
	if m.State() != StateRunning {
		t.Fatalf("state = %s, want running", m.State())
	}
}

func TestTeardownAbsentContainerIsSuccess(t *testing.T) {
	f := &fakeRunner{rules: []rule{
		{match: "docker rm -f demo", respond: exit(1, "Error: No such container: demo")},
	}}
	m := newTestManager(f)

	if err := m.Teardown(context.Background(), "demo"); err != nil {
		t.Fatalf("teardown of absent container must succeed, got %v", err)
	}
	if m.State() != StateStopped {
		t.Fatalf("state = %s, want stopped", m.State())
	}
}

func TestBuildOrStartReusesRunningContainer(t *testing.T) {
	f := &fakeRunner{rules: []rule{
		{match: "docker ps -a", respond: exit(0, "running")},
	}}
	m := newTestManager(f)

	if err := m.BuildOrStart(context.Background(), Spec{Name: "demo", WorkDir: "/workspace/demo"}, false); err != nil {
		t.Fatalf("build or start: %v", err)
	}
	if f.count("compose up") != 0 {
		t.Fatal("running container must not trigger a rebuild")
	}
	if m.State() != StateRunning {
		t.Fatalf("state = %s, want running", m.State())
	}
}

func TestBuildOrStartStartsStoppedContainer(t *testing.T) {
	f := &fakeRunner{rules: []rule{
		{match: "docker ps -a", respond: exit(0, "exited")},
	}}
	m := newTestManager(f)

	if err := m.BuildOrStart(context.Background(), Spec{Name: "demo", WorkDir: "/workspace/demo"}, false); err != nil {
		t.Fatalf("build or start: %v", err)
	}
	if f.count("docker start demo") != 1 {
		t.Fatalf("expected one docker start, calls: %v", f.calls)
	}
	if f.count("compose up") != 0 {
		t.Fatal("stopped container must be started, not rebuilt")
	}
}

func TestBuildOrStartForceRebuildRemovesFirst(t *testing.T) {
	f := &fakeRunner{rules: []rule{
		{match: "docker ps -a", respond: exit(0, "running")},
	}}
	m := newTestManager(f)

	if err := m.BuildOrStart(context.Background(), Spec{Name: "demo", WorkDir: "/workspace/demo"}, true); err != nil {
		t.Fatalf("build or start: %v", err)
	}
	if f.count("docker rm -f demo") != 1 {
		t.Fatalf("force rebuild must remove the old container, calls: %v", f.calls)
	}
	if f.count("compose up -d --build") != 1 {
		t.Fatalf("force rebuild must build fresh, calls: %v", f.calls)
	}
}

func TestBuildOrStartFreshHostNetwork(t *testing.T) {
	f := &fakeRunner{rules: []rule{
		{match: "docker ps -a", respond: exit(0)},
	}}
	m := newTestManager(f)

	spec := Spec{Name: "demo", WorkDir: "/workspace/demo", HostNetwork: true}
	if err := m.BuildOrStart(context.Background(), spec, false); err != nil {
		t.Fatalf("build or start: %v", err)
	}
	if f.count("NETWORK_MODE=host docker compose up -d") != 1 {
		t.Fatalf("host networking not passed to compose, calls: %v", f.calls)
	}
}

func TestBuildOrStartSurfacesBuildTail(t *testing.T) {
	f := &fakeRunner{rules: []rule{
		{match: "docker ps -a", respond: exit(0)},
		{match: "compose up", respond: exit(1, "Step 8/12 : RUN pip install", "ERROR: no matching distribution")},
	}}
	m := newTestManager(f)

	err := m.BuildOrStart(context.Background(), Spec{Name: "demo", WorkDir: "/workspace/demo"}, true)
	var buildErr *BuildError
	if !errors.As(err, &buildErr) {
		t.Fatalf("want BuildError, got %v", err)
	}
	if len(buildErr.Tail) == 0 || !strings.Contains(buildErr.Tail[1], "no matching distribution") {
		t.Fatalf("build error must carry output tail: %v", buildErr.Tail)
	}
	if m.State() != StateFailed {
		t.Fatalf("state = %s, want failed", m.State())
	}
}

func TestEnsureDockerGroupPermissionDenied(t *testing.T) {
	f := &fakeRunner{rules: []rule{
		{match: "docker ps -q", respond: exit(1, "permission denied while trying to connect to the Docker daemon socket")},
	}}
	m := newTestManager(f)

	err := m.EnsureDockerGroup(context.Background(), "ubuntu")
	if !errors.Is(err, ErrReconnectRequired) {
		t.Fatalf("want ErrReconnectRequired, got %v", err)
	}
	if f.count("usermod -aG docker ubuntu") != 1 {
		t.Fatalf("expected usermod call, calls: %v", f.calls)
	}
}

func TestEnsureDockerGroupAlreadyMember(t *testing.T) {
	f := &fakeRunner{}
	m := newTestManager(f)

	if err := m.EnsureDockerGroup(context.Background(), "ubuntu"); err != nil {
		t.Fatalf("probe succeeded, want nil, got %v", err)
	}
	if f.count("usermod") != 0 {
		t.Fatal("no usermod when the probe already succeeds")
	}
}

func TestEnsureGPURuntimeAlreadyPresent(t *testing.T) {
	f := &fakeRunner{rules: []rule{
		{match: "docker info", respond: exit(0, `{"nvidia":{"path":"nvidia-container-runtime"}}`)},
	}}
	m := newTestManager(f)

	if err := m.EnsureGPURuntime(context.Background()); err != nil {
		t.Fatalf("ensure gpu runtime: %v", err)
	}
	if f.count("apt-get install") != 0 {
		t.Fatal("present runtime must not trigger an install")
	}
}

func TestEnsureGPURuntimeInstallRetriedOnce(t *testing.T) {
	f := &fakeRunner{rules: []rule{
		{match: "docker info", respond: exit(0, `{}`)},
	}}
	m := newTestManager(f)

	err := m.EnsureGPURuntime(context.Background())
	var gpuErr *GpuRuntimeError
	if !errors.As(err, &gpuErr) {
		t.Fatalf("want GpuRuntimeError, got %v", err)
	}
	if got := f.count("apt-get install"); got != 2 {
		t.Fatalf("install ran %d times, want 2 (initial plus one retry)", got)
	}
	if m.State() != StateFailed {
		t.Fatalf("state = %s, want failed", m.State())
	}
}

func TestEnsureGPURuntimeNoDriver(t *testing.T) {
	f := &fakeRunner{rules: []rule{
		{match: "nvidia-smi -L", respond: exit(127, "nvidia-smi: command not found")},
	}}
	m := newTestManager(f)

	err := m.EnsureGPURuntime(context.Background())
	var gpuErr *GpuRuntimeError
	if !errors.As(err, &gpuErr) {
		t.Fatalf("want GpuRuntimeError, got %v", err)
	}
	if f.count("apt-get") != 0 {
		t.Fatal("missing driver is fatal, not an install trigger")
	}
}
