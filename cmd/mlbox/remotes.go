package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newRemotesCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remotes",
		Short: "Manage registered remotes",
	}
	cmd.AddCommand(newRemotesListCmd(opts))
	cmd.AddCommand(newRemotesRemoveCmd(opts))
	return cmd
}

func newRemotesListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List remotes and the projects deployed to them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			statuses, err := opts.orchestrator().List()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ALIAS\tHOST\tUSER\tPORT\tLAST USED\tPROJECTS")
			for _, s := range statuses {
				names := make([]string, 0, len(s.Projects))
				for _, p := range s.Projects {
					names = append(names, p.Name)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
					s.Remote.Alias, s.Remote.Host, s.Remote.Username, s.Remote.Port,
					humanTime(s.Remote.LastUsed), strings.Join(names, ","))
			}
			return w.Flush()
		},
	}
}

func newRemotesRemoveCmd(opts *rootOptions) *cobra.Command {
	var keepContainers bool
	cmd := &cobra.Command{
		Use:   "remove <remote>",
		Short: "Delete a remote, tearing down its containers first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return opts.orchestrator().Remove(ctx, args[0], keepContainers)
		},
	}
	cmd.Flags().BoolVar(&keepContainers, "keep-container", false, "leave remote containers running")
	return cmd
}

func humanTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format("2006-01-02 15:04")
}
