package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newAttachCmd(opts *rootOptions) *cobra.Command {
	var projectDir string
	cmd := &cobra.Command{
		Use:   "attach <remote>",
		Short: "Open a shell in the project's running container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			dir, err := resolveProjectDir(projectDir)
			if err != nil {
				return err
			}
			return opts.orchestrator().Attach(ctx, args[0], dir)
		},
	}
	cmd.Flags().StringVar(&projectDir, "project-dir", "", "project directory (default: current dir)")
	return cmd
}
