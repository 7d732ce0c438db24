package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/antonkrylov/mlbox/internal/config"
)

func newSyncCmd(opts *rootOptions) *cobra.Command {
	var excludes []string
	var projectDir string
	var dryrun bool
	cmd := &cobra.Command{
		Use:   "sync <remote>",
		Short: "Push project files to the remote, nothing else",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			dir, err := resolveProjectDir(projectDir)
			if err != nil {
				return err
			}
			return opts.orchestrator().Sync(ctx, args[0], dir, excludes, dryrun)
		},
	}
	cmd.Flags().StringSliceVar(&excludes, "exclude", nil, "extra sync exclude patterns")
	cmd.Flags().StringVar(&projectDir, "project-dir", "", "project directory (default: current dir)")
	cmd.Flags().BoolVar(&dryrun, "dryrun", false, "print the transfer plan without syncing")
	return cmd
}

func newFetchCmd(opts *rootOptions) *cobra.Command {
	var localPath string
	var excludes []string
	cmd := &cobra.Command{
		Use:   "fetch <remote> <remote-path>",
		Short: "Pull files from the remote into a local directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			dir, err := config.ExpandPath(localPath)
			if err != nil {
				return err
			}
			return opts.orchestrator().Fetch(ctx, args[0], args[1], dir, excludes)
		},
	}
	cmd.Flags().StringVar(&localPath, "local-path", ".", "destination directory")
	cmd.Flags().StringSliceVar(&excludes, "exclude", nil, "extra exclude patterns")
	return cmd
}
