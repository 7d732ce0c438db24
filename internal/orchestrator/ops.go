package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/antonkrylov/mlbox/internal/config"
	"github.com/antonkrylov/mlbox/internal/sshx"
	"github.com/antonkrylov/mlbox/internal/store"
	"github.com/antonkrylov/mlbox/internal/syncer"
)

// Sync pushes the project tree to the resolved remote. No container
// lifecycle steps run.
func (o *Orchestrator) Sync(ctx context.Context, locator, projectDir string, excludes []string, dryrun bool) error {
	rem, err := o.resolveRemote(locator)
	if err != nil {
		return err
	}
	conf, err := config.Resolve(config.Options{ProjectDir: projectDir}, storedFrom(rem), nil)
	if err != nil {
		return err
	}
	excl, err := syncer.CompileExcludes(projectDir, excludes)
	if err != nil {
		return err
	}

	if dryrun {
		files, err := syncer.Plan(projectDir, excl)
		if err != nil {
			return err
		}
		o.logger.Info("dryrun: would sync files", "count", len(files), "remote", rem.Alias)
		for _, f := range files {
			fmt.Println(f)
		}
		return nil
	}

	ch, err := o.dial(ctx, sshConfigFor(rem))
	if err != nil {
		return err
	}
	defer func() { _ = ch.Close() }()

	eng := o.newSync(syncTargetFor(rem), ch)
	res, err := eng.Push(ctx, projectDir, remoteProjectDir(conf.ProjectName), excl, false)
	if err != nil {
		return err
	}
	o.logger.Info("synced", "remote", rem.Alias, "method", res.Method)
	return nil
}

// Fetch pulls a path from the remote into localDir.
func (o *Orchestrator) Fetch(ctx context.Context, locator, remotePath, localDir string, excludes []string) error {
	rem, err := o.resolveRemote(locator)
	if err != nil {
		return err
	}
	excl, err := syncer.CompileExcludes(localDir, excludes)
	if err != nil {
		return err
	}

	ch, err := o.dial(ctx, sshConfigFor(rem))
	if err != nil {
		return err
	}
	defer func() { _ = ch.Close() }()

	eng := o.newSync(syncTargetFor(rem), ch)
	if _, err := eng.Pull(ctx, remotePath, localDir, excl); err != nil {
		return err
	}
	o.logger.Info("fetched", "remote", rem.Alias, "path", remotePath, "to", localDir)
	return nil
}

// DataSync moves bulk data between a cloud provider and the local
// machine, the remote host, or the remote container.
func (o *Orchestrator) DataSync(ctx context.Context, locator string, spec syncer.DataSyncSpec) error {
	if spec.Mode == "" || spec.Mode == "local" {
		eng := o.newSync(syncer.Target{}, nil)
		return eng.DataSync(ctx, spec)
	}

	rem, err := o.resolveRemote(locator)
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w (mode %s needs a remote)", errRemoteRequired, spec.Mode)
		}
		return err
	}
	ch, err := o.dial(ctx, sshConfigFor(rem))
	if err != nil {
		return err
	}
	defer func() { _ = ch.Close() }()

	eng := o.newSync(syncTargetFor(rem), ch)
	return eng.DataSync(ctx, spec)
}

// Attach opens an interactive shell in the project's running container
// without syncing or touching the lifecycle.
func (o *Orchestrator) Attach(ctx context.Context, locator, projectDir string) error {
	rem, err := o.resolveRemote(locator)
	if err != nil {
		return err
	}
	conf, err := config.Resolve(config.Options{ProjectDir: projectDir}, storedFrom(rem), nil)
	if err != nil {
		return err
	}

	containerName := conf.ContainerName
	if proj, err := o.store.GetProject(conf.ProjectName); err == nil && proj.ContainerName != "" {
		containerName = proj.ContainerName
	}

	ch, err := o.dial(ctx, sshConfigFor(rem))
	if err != nil {
		return err
	}
	defer func() { _ = ch.Close() }()

	res, err := ch.Run(ctx, fmt.Sprintf(`docker ps --filter name='^%s$' --format '{{.Names}}'`, containerName), sshx.RunOptions{})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 || strings.TrimSpace(res.TailString()) == "" {
		return &NoActiveContainerError{Project: conf.ProjectName, Remote: rem.Alias}
	}
	return o.attachShell(ctx, ch, containerName, conf.ProjectName)
}

// RemoteStatus pairs a remote with the projects deployed to it.
type RemoteStatus struct {
	Remote   store.Remote
	Projects []store.Project
}

// List returns every known remote and its associated projects.
func (o *Orchestrator) List() ([]RemoteStatus, error) {
	remotes, err := o.store.ListRemotes()
	if err != nil {
		return nil, err
	}
	out := make([]RemoteStatus, 0, len(remotes))
	for _, r := range remotes {
		projects, err := o.store.ProjectsForRemote(r.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, RemoteStatus{Remote: r, Projects: projects})
	}
	return out, nil
}

// Remove deletes a remote from the store. Unless keepContainers is set
// it first tears down every associated container on that host; project
// rows always persist for future reconnection.
func (o *Orchestrator) Remove(ctx context.Context, locator string, keepContainers bool) error {
	rem, err := o.resolveRemote(locator)
	if err != nil {
		return err
	}

	if !keepContainers {
		projects, err := o.store.ProjectsForRemote(rem.ID)
		if err != nil {
			return err
		}
		if len(projects) > 0 {
			ch, err := o.dial(ctx, sshConfigFor(rem))
			if err != nil {
				return fmt.Errorf("cannot tear down containers on %s (use --keep-container to skip): %w", rem.Alias, err)
			}
			lc := o.newLifecycle(ch, rem.Host)
			for _, p := range projects {
				o.logger.Info("tearing down", "container", p.ContainerName, "remote", rem.Alias)
				if err := lc.Teardown(ctx, p.ContainerName); err != nil {
					_ = ch.Close()
					return err
				}
			}
			_ = ch.Close()
		}
	}

	if err := o.store.RemoveRemote(rem.Alias); err != nil {
		return err
	}
	o.logger.Info("removed remote", "alias", rem.Alias)
	return nil
}

func storedFrom(r store.Remote) config.Stored {
	return config.Stored{
		Username:     r.Username,
		IdentityFile: r.IdentityFile,
		Port:         r.Port,
	}
}
