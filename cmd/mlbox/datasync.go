package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/antonkrylov/mlbox/internal/syncer"
)

func newDatasyncCmd(opts *rootOptions) *cobra.Command {
	var (
		provider      string
		localDir      string
		remoteDir     string
		transfers     int
		checkers      int
		excludes      []string
		mode          string
		containerName string
		dryrun        bool
	)
	cmd := &cobra.Command{
		Use:   "datasync <up|down> [remote]",
		Short: "Move bulk data between cloud storage and local, host, or container",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			locator := ""
			if len(args) == 2 {
				locator = args[1]
			}
			return opts.orchestrator().DataSync(ctx, locator, syncer.DataSyncSpec{
				Direction:     args[0],
				Provider:      provider,
				LocalDir:      localDir,
				RemoteDir:     remoteDir,
				Transfers:     transfers,
				Checkers:      checkers,
				Excludes:      excludes,
				Mode:          mode,
				ContainerName: containerName,
				DryRun:        dryrun,
			})
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "gdrive", "cloud provider (gdrive, s3, b2)")
	cmd.Flags().StringVar(&localDir, "local-dir", "./data", "local data directory")
	cmd.Flags().StringVar(&remoteDir, "remote-dir", "", "path within the provider remote")
	cmd.Flags().IntVar(&transfers, "transfers", 0, "parallel transfers (rclone default if 0)")
	cmd.Flags().IntVar(&checkers, "checkers", 0, "parallel checkers (rclone default if 0)")
	cmd.Flags().StringSliceVar(&excludes, "exclude", nil, "rclone exclude patterns, passed through verbatim")
	cmd.Flags().StringVar(&mode, "mode", "local", "where rclone runs: local, host, or container")
	cmd.Flags().StringVar(&containerName, "container-name", "", "container for --mode container")
	cmd.Flags().BoolVar(&dryrun, "dry-run", false, "report what would transfer")
	return cmd
}
