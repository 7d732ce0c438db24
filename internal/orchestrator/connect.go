package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/antonkrylov/mlbox/internal/config"
	"github.com/antonkrylov/mlbox/internal/container"
	"github.com/antonkrylov/mlbox/internal/sshx"
	"github.com/antonkrylov/mlbox/internal/store"
	"github.com/antonkrylov/mlbox/internal/syncer"
)

// ConnectParams carries everything one connect invocation needs. The
// configuration layering (flags > env > stored > file > defaults)
// happens inside Connect once the remote is resolved, because stored
// values are not known until then.
type ConnectParams struct {
	// Locator is an alias, a host substring, or a brand-new hostname.
	Locator string
	// Alias names a newly registered remote; ignored for known remotes.
	Alias      string
	ProjectDir string
	Opts       config.Options
	File       *config.File

	Excludes []string
	Forwards []store.PortMapping

	ForceRebuild bool
	SkipSync     bool
	RemoveOnExit bool
	HostNetwork  bool
	DryRun       bool
	// Timeout bounds the wait for the host to answer; zero means the
	// default.
	Timeout time.Duration
}

// Connect runs the full pipeline: resolve records, wait for the host,
// prepare docker and the GPU runtime, push files, start the container,
// health-check, record the association, forward ports, and attach.
// Running it twice with no changes reconciles instead of duplicating.
func (o *Orchestrator) Connect(ctx context.Context, p ConnectParams) error {
	if p.DryRun {
		return o.planConnect(p)
	}

	rem, conf, err := o.resolveForConnect(p)
	if err != nil {
		return err
	}
	o.logger.Info("connecting", "remote", rem.Alias, "host", rem.Host, "project", conf.ProjectName)

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultReadyTimeout
	}
	sshCfg := sshConfigFor(rem)
	if err := o.waitReady(ctx, sshCfg, timeout); err != nil {
		return err
	}
	ch, err := o.dial(ctx, sshCfg)
	if err != nil {
		return err
	}
	defer func() { _ = ch.Close() }()

	if err := o.writeSSHConfig(rem); err != nil {
		// The fragment is a convenience artifact, not a pipeline step.
		o.logger.Warn("could not update ssh config fragment", "err", err)
	}

	lc := o.newLifecycle(ch, rem.Host)
	if err := lc.EnsureDockerGroup(ctx, rem.Username); err != nil {
		if !errors.Is(err, container.ErrReconnectRequired) {
			return err
		}
		o.logger.Info("docker group granted, reconnecting", "host", rem.Host)
		_ = ch.Close()
		if ch, err = o.dial(ctx, sshCfg); err != nil {
			return err
		}
		lc = o.newLifecycle(ch, rem.Host)
		if err := lc.EnsureDockerGroup(ctx, rem.Username); err != nil {
			return fmt.Errorf("docker still unusable after reconnect: %w", err)
		}
	}
	if err := lc.EnsureGPURuntime(ctx); err != nil {
		return err
	}

	remoteDir := remoteProjectDir(conf.ProjectName)
	if !p.SkipSync {
		excl, err := syncer.CompileExcludes(p.ProjectDir, p.Excludes)
		if err != nil {
			return err
		}
		eng := o.newSync(syncTargetFor(rem), ch)
		res, err := eng.Push(ctx, p.ProjectDir, remoteDir, excl, false)
		if err != nil {
			return err
		}
		o.logger.Info("project synced", "method", res.Method, "dir", remoteDir)
	}

	if err := o.updateRemoteEnv(ctx, ch, remoteDir, conf); err != nil {
		return err
	}

	spec := container.Spec{
		Name:        conf.ContainerName,
		WorkDir:     remoteDir,
		HostNetwork: p.HostNetwork,
	}
	if err := lc.BuildOrStart(ctx, spec, p.ForceRebuild); err != nil {
		return err
	}
	if err := lc.HealthCheck(ctx, spec.Name, o.healthRetries, o.healthInterval); err != nil {
		return err
	}

	// The association is written only now: a recorded pair always means
	// the container reached running at the time of recording.
	prior, _ := o.store.GetProject(conf.ProjectName)
	ports, err := allocatePorts(desiredPorts(prior.Ports, conf, p.Forwards), o.portFree)
	if err != nil {
		return err
	}
	proj, err := o.store.UpsertProject(conf.ProjectName, conf.ContainerName, ports)
	if err != nil {
		return err
	}
	if err := o.store.Associate(rem.ID, proj.ID); err != nil {
		return err
	}

	var closers []interface{ Close() error }
	for _, m := range ports {
		closer, err := ch.ForwardPort(m.Local, m.Remote)
		if err != nil {
			o.logger.Warn("port forward failed", "service", m.Service, "local", m.Local, "err", err)
			continue
		}
		o.logger.Info("forwarding", "service", m.Service, "local", m.Local, "remote", m.Remote)
		closers = append(closers, closer)
	}
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()

	if err := o.attachShell(ctx, ch, conf.ContainerName, conf.ProjectName); err != nil {
		return err
	}

	if p.RemoveOnExit {
		o.logger.Info("removing container on exit", "container", spec.Name)
		return lc.Teardown(ctx, spec.Name)
	}
	o.logger.Info("detached, container left running", "container", spec.Name)
	return nil
}

// resolveForConnect resolves the remote, layering stored values into
// the configuration, and registers a new remote when the locator is an
// unknown hostname. The registered record reflects the final resolved
// connection parameters.
func (o *Orchestrator) resolveForConnect(p ConnectParams) (store.Remote, config.Resolved, error) {
	opts := p.Opts
	opts.ProjectDir = p.ProjectDir

	rem, err := o.resolveRemote(p.Locator)
	switch {
	case err == nil:
		stored := config.Stored{
			Username:     rem.Username,
			IdentityFile: rem.IdentityFile,
			Port:         rem.Port,
		}
		conf, err := config.Resolve(opts, stored, p.File)
		if err != nil {
			return store.Remote{}, config.Resolved{}, err
		}
		rem, err = o.store.UpsertRemote(rem.Alias, rem.Host, conf.Username, conf.IdentityFile, conf.Port)
		return rem, conf, err

	case isNotFound(err):
		conf, rerr := config.Resolve(opts, config.Stored{}, p.File)
		if rerr != nil {
			return store.Remote{}, config.Resolved{}, rerr
		}
		alias := p.Alias
		if alias == "" {
			if alias, rerr = o.store.NextAlias(conf.ProjectName); rerr != nil {
				return store.Remote{}, config.Resolved{}, rerr
			}
		}
		o.logger.Info("registering new remote", "alias", alias, "host", p.Locator)
		rem, rerr := o.store.UpsertRemote(alias, p.Locator, conf.Username, conf.IdentityFile, conf.Port)
		return rem, conf, rerr

	default:
		return store.Remote{}, config.Resolved{}, err
	}
}

// planConnect logs every step connect would take without touching the
// store, the host, or any container.
func (o *Orchestrator) planConnect(p ConnectParams) error {
	opts := p.Opts
	opts.ProjectDir = p.ProjectDir

	rem, err := o.resolveRemote(p.Locator)
	stored := config.Stored{}
	switch {
	case err == nil:
		stored = config.Stored{Username: rem.Username, IdentityFile: rem.IdentityFile, Port: rem.Port}
		o.logger.Info("dryrun: would reuse remote", "alias", rem.Alias, "host", rem.Host)
	case isNotFound(err):
		o.logger.Info("dryrun: would register remote", "host", p.Locator)
	default:
		return err
	}
	conf, err := config.Resolve(opts, stored, p.File)
	if err != nil {
		return err
	}

	excl, err := syncer.CompileExcludes(p.ProjectDir, p.Excludes)
	if err != nil {
		return err
	}
	files, err := syncer.Plan(p.ProjectDir, excl)
	if err != nil {
		return err
	}
	o.logger.Info("dryrun: would verify docker group and gpu runtime")
	if p.SkipSync {
		o.logger.Info("dryrun: sync skipped by flag")
	} else {
		o.logger.Info("dryrun: would sync files", "count", len(files), "to", remoteProjectDir(conf.ProjectName))
		for _, f := range files {
			o.logger.Debug("dryrun: sync", "file", f)
		}
	}
	o.logger.Info("dryrun: would build or start container", "container", conf.ContainerName, "rebuild", p.ForceRebuild)
	o.logger.Info("dryrun: would health-check, record association, forward ports, and attach")
	return nil
}

// attachShell opens an interactive shell in the container's workspace
// dir, preferring zsh when the image ships it.
func (o *Orchestrator) attachShell(ctx context.Context, ch Channel, containerName, projectName string) error {
	cmd := fmt.Sprintf(
		"docker exec -it -w %s %s sh -c 'command -v zsh >/dev/null 2>&1 && exec zsh || exec bash'",
		containerWorkDir(projectName), containerName,
	)
	res, err := ch.Run(ctx, cmd, sshx.RunOptions{Interactive: true})
	if err != nil {
		return err
	}
	// A shell's exit code reflects its last command; any clean exit
	// counts as a completed session.
	o.logger.Debug("attach session ended", "exit", res.ExitCode)
	return nil
}
