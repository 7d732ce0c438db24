package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/antonkrylov/mlbox/internal/config"
	"github.com/antonkrylov/mlbox/internal/orchestrator"
	"github.com/antonkrylov/mlbox/internal/store"
)

type connectFlags struct {
	alias        string
	username     string
	identityFile string
	port         int
	container    string
	projectDir   string
	forwards     []string
	excludes     []string
	forceRebuild bool
	skipSync     bool
	removeOnExit bool
	hostNetwork  bool
	dryrun       bool
	timeout      time.Duration
}

func (f *connectFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.alias, "alias", "", "alias for a newly registered remote")
	cmd.Flags().StringVar(&f.username, "username", "", "remote user (default from store, config, or ubuntu)")
	cmd.Flags().StringVar(&f.identityFile, "identity-file", "", "ssh private key (default "+config.DefaultIdentityFile+")")
	cmd.Flags().IntVar(&f.port, "port", 0, "ssh port (default 22)")
	cmd.Flags().StringVar(&f.container, "container-name", "", "container name (default: lowercased project dir)")
	cmd.Flags().StringVar(&f.projectDir, "project-dir", "", "project directory (default: current dir)")
	cmd.Flags().StringArrayVar(&f.forwards, "forward-port", nil, "extra local:remote port forward (repeatable)")
	cmd.Flags().StringSliceVar(&f.excludes, "exclude", nil, "extra sync exclude patterns")
	cmd.Flags().BoolVar(&f.forceRebuild, "force-rebuild", false, "remove any existing container and build fresh")
	cmd.Flags().BoolVar(&f.skipSync, "skip-sync", false, "skip the project file sync")
	cmd.Flags().BoolVar(&f.removeOnExit, "remove-on-exit", false, "tear down the container when the session ends")
	cmd.Flags().BoolVar(&f.hostNetwork, "host-network", false, "run the container on the host network (distributed head nodes)")
	cmd.Flags().BoolVar(&f.dryrun, "dryrun", false, "log the plan without changing anything")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "how long to wait for the host to answer (default 2m)")
}

func newConnectCmd(opts *rootOptions) *cobra.Command {
	var flags connectFlags
	cmd := &cobra.Command{
		Use:   "connect <remote|host>",
		Short: "Provision, sync, start the container, and attach",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			projectDir, err := resolveProjectDir(flags.projectDir)
			if err != nil {
				return err
			}
			forwards, err := parseForwards(flags.forwards)
			if err != nil {
				return err
			}
			file, err := opts.loadFile()
			if err != nil {
				return err
			}

			return opts.orchestrator().Connect(ctx, orchestrator.ConnectParams{
				Locator:    args[0],
				Alias:      flags.alias,
				ProjectDir: projectDir,
				Opts: config.Options{
					Username:      flags.username,
					IdentityFile:  flags.identityFile,
					Port:          flags.port,
					ContainerName: flags.container,
				},
				File:         file,
				Excludes:     flags.excludes,
				Forwards:     forwards,
				ForceRebuild: flags.forceRebuild,
				SkipSync:     flags.skipSync,
				RemoveOnExit: flags.removeOnExit,
				HostNetwork:  flags.hostNetwork,
				DryRun:       flags.dryrun,
				Timeout:      flags.timeout,
			})
		},
	}
	flags.bind(cmd)
	return cmd
}

func resolveProjectDir(flag string) (string, error) {
	if flag != "" {
		return config.ExpandPath(flag)
	}
	return os.Getwd()
}

// parseForwards turns repeated local:remote pairs into port mappings.
func parseForwards(specs []string) ([]store.PortMapping, error) {
	var out []store.PortMapping
	for _, spec := range specs {
		localStr, remoteStr, ok := strings.Cut(spec, ":")
		if !ok {
			return nil, fmt.Errorf("invalid --forward-port %q, want local:remote", spec)
		}
		local, err := strconv.Atoi(localStr)
		if err != nil || local <= 0 || local > 65535 {
			return nil, fmt.Errorf("invalid local port in %q", spec)
		}
		remote, err := strconv.Atoi(remoteStr)
		if err != nil || remote <= 0 || remote > 65535 {
			return nil, fmt.Errorf("invalid remote port in %q", spec)
		}
		out = append(out, store.PortMapping{
			Service: "forward-" + remoteStr,
			Local:   local,
			Remote:  remote,
		})
	}
	return out, nil
}
