// Package orchestrator sequences the state store, the execution
// channel, the sync engine, and the container lifecycle into the
// operations the CLI exposes. It is the only layer that decides
// retry versus abort and the only writer of persistent state.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/charmbracelet/log"

	"github.com/antonkrylov/mlbox/internal/config"
	"github.com/antonkrylov/mlbox/internal/container"
	"github.com/antonkrylov/mlbox/internal/sshx"
	"github.com/antonkrylov/mlbox/internal/store"
	"github.com/antonkrylov/mlbox/internal/syncer"
)

const (
	defaultHealthRetries  = 10
	defaultHealthInterval = 3 * time.Second
	defaultReadyTimeout   = 2 * time.Minute
)

// Channel is the slice of the execution channel the orchestrator
// drives. *sshx.Client satisfies it.
type Channel interface {
	Run(ctx context.Context, command string, opts sshx.RunOptions) (sshx.Result, error)
	Upload(ctx context.Context, content io.Reader, remotePath, mode string) error
	ForwardPort(local, remote int) (io.Closer, error)
	Host() string
	Close() error
}

// SyncEngine is the transfer surface consumed here.
type SyncEngine interface {
	Push(ctx context.Context, localRoot, remoteDir string, excl *syncer.ExcludeSet, dryrun bool) (syncer.Result, error)
	Pull(ctx context.Context, remotePath, localDir string, excl *syncer.ExcludeSet) (syncer.Result, error)
	DataSync(ctx context.Context, spec syncer.DataSyncSpec) error
}

// Lifecycle is the container manager surface consumed here.
type Lifecycle interface {
	EnsureGPURuntime(ctx context.Context) error
	EnsureDockerGroup(ctx context.Context, username string) error
	BuildOrStart(ctx context.Context, spec container.Spec, forceRebuild bool) error
	HealthCheck(ctx context.Context, name string, retries int, interval time.Duration) error
	Teardown(ctx context.Context, name string) error
	State() container.State
}

type (
	dialFunc func(ctx context.Context, cfg sshx.Config) (Channel, error)
	waitFunc func(ctx context.Context, cfg sshx.Config, timeout time.Duration) error
)

// Orchestrator coordinates one operation per call, sequentially.
type Orchestrator struct {
	store  *store.Store
	logger *log.Logger

	dial         dialFunc
	waitReady    waitFunc
	newSync      func(t syncer.Target, ch Channel) SyncEngine
	newLifecycle func(ch Channel, host string) Lifecycle

	fragmentPath  string
	mainSSHConfig string

	healthRetries  int
	healthInterval time.Duration
	portFree       func(port int) bool
}

func New(st *store.Store, logger *log.Logger) *Orchestrator {
	o := &Orchestrator{
		store:          st,
		logger:         logger,
		fragmentPath:   config.SSHConfigPath(),
		healthRetries:  defaultHealthRetries,
		healthInterval: defaultHealthInterval,
		portFree:       localPortFree,
	}
	if home, err := os.UserHomeDir(); err == nil {
		o.mainSSHConfig = filepath.Join(home, ".ssh", "config")
	}
	o.dial = func(ctx context.Context, cfg sshx.Config) (Channel, error) {
		return sshx.Dial(ctx, cfg)
	}
	o.waitReady = sshx.WaitReady
	o.newSync = func(t syncer.Target, ch Channel) SyncEngine {
		return syncer.New(t, ch, logger)
	}
	o.newLifecycle = func(ch Channel, host string) Lifecycle {
		return container.NewManager(ch, host, logger)
	}
	return o
}

// resolveRemote finds an existing remote by alias or host substring.
// Ambiguity and not-found surface unchanged from the store.
func (o *Orchestrator) resolveRemote(locator string) (store.Remote, error) {
	return o.store.FindRemote(locator)
}

func sshConfigFor(r store.Remote) sshx.Config {
	return sshx.Config{
		Host:         r.Host,
		Username:     r.Username,
		IdentityFile: r.IdentityFile,
		Port:         r.Port,
	}
}

func syncTargetFor(r store.Remote) syncer.Target {
	return syncer.Target{
		Host:         r.Host,
		Username:     r.Username,
		IdentityFile: r.IdentityFile,
		Port:         r.Port,
	}
}

// remoteProjectDir is where project trees land on the host; the compose
// file mounts it into the container at /workspace/<name>.
func remoteProjectDir(projectName string) string {
	return "~/mlbox/" + projectName
}

func containerWorkDir(projectName string) string {
	return "/workspace/" + projectName
}

func localPortFree(port int) bool {
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}

// allocatePorts picks a free local port for every requested mapping,
// walking upward from the preferred port. Remote ports never move.
// The walk stops at 65535; exhausting the range is an error.
func allocatePorts(desired []store.PortMapping, free func(int) bool) ([]store.PortMapping, error) {
	taken := map[int]bool{}
	out := make([]store.PortMapping, 0, len(desired))
	for _, m := range desired {
		local := m.Local
		for taken[local] || !free(local) {
			local++
			if local > 65535 {
				return nil, fmt.Errorf("no free local port for service %s starting at %d", m.Service, m.Local)
			}
		}
		taken[local] = true
		out = append(out, store.PortMapping{Service: m.Service, Local: local, Remote: m.Remote})
	}
	return out, nil
}

// desiredPorts recalls the project's last mappings when present, else
// starts from the configured defaults, then appends extra forwards.
func desiredPorts(prior []store.PortMapping, conf config.Resolved, extra []store.PortMapping) []store.PortMapping {
	base := prior
	if len(base) == 0 {
		base = []store.PortMapping{
			{Service: "app", Local: conf.AppPort, Remote: conf.AppPort},
			{Service: "ray_dashboard", Local: conf.DashboardPort, Remote: conf.DashboardPort},
			{Service: "ray_client", Local: conf.ClientPort, Remote: conf.ClientPort},
		}
	}
	return append(append([]store.PortMapping{}, base...), extra...)
}

var errRemoteRequired = errors.New("no matching remote; register one with connect first")

func isNotFound(err error) bool { return errors.Is(err, store.ErrRemoteNotFound) }
