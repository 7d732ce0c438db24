// Command mlbox provisions and attaches to GPU-backed dev containers
// on remote hosts.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/antonkrylov/mlbox/internal/config"
	"github.com/antonkrylov/mlbox/internal/container"
	"github.com/antonkrylov/mlbox/internal/orchestrator"
	"github.com/antonkrylov/mlbox/internal/sshx"
	"github.com/antonkrylov/mlbox/internal/store"
	"github.com/antonkrylov/mlbox/internal/syncer"
)

// Exit codes, one per failure class.
const (
	exitOK         = 0
	exitGeneric    = 1
	exitValidation = 2
	exitChannel    = 3
	exitSync       = 4
	exitContainer  = 5
	exitStore      = 6
	exitAmbiguous  = 7
)

type rootOptions struct {
	configPath string
	dbPath     string
	debug      bool

	logger *log.Logger
	store  *store.Store
}

func (r *rootOptions) prepare() error {
	r.logger = log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: false})
	if r.debug {
		r.logger.SetLevel(log.DebugLevel)
	}
	st, err := store.Open(r.dbPath)
	if err != nil {
		return err
	}
	r.store = st
	return nil
}

func (r *rootOptions) close() {
	if r.store != nil {
		_ = r.store.Close()
	}
}

func (r *rootOptions) orchestrator() *orchestrator.Orchestrator {
	return orchestrator.New(r.store, r.logger)
}

func (r *rootOptions) loadFile() (*config.File, error) {
	return config.Load(r.configPath)
}

func main() {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "mlbox",
		Short:         "Ephemeral GPU dev environments on remote hosts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", config.DefaultFilePath(), "path to the defaults file")
	rootCmd.PersistentFlags().StringVar(&opts.dbPath, "db", config.DBPath(), "path to the state store")
	rootCmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "verbose logging")
	rootCmd.PersistentPreRunE = func(*cobra.Command, []string) error {
		return opts.prepare()
	}

	rootCmd.AddCommand(newConnectCmd(opts))
	rootCmd.AddCommand(newSyncCmd(opts))
	rootCmd.AddCommand(newFetchCmd(opts))
	rootCmd.AddCommand(newDatasyncCmd(opts))
	rootCmd.AddCommand(newAttachCmd(opts))
	rootCmd.AddCommand(newRemotesCmd(opts))

	err := rootCmd.Execute()
	opts.close()
	if err != nil {
		fmt.Fprintln(os.Stderr, "mlbox:", err)
		os.Exit(exitCodeFor(err))
	}
}

func exitCodeFor(err error) int {
	var (
		validation *store.ValidationError
		multi      *store.MultipleMatchesError
		txErr      *store.TransactionError
		syncErr    *syncer.TransferError
		gpuErr     *container.GpuRuntimeError
		buildErr   *container.BuildError
		healthErr  *container.HealthCheckError
		noCtr      *orchestrator.NoActiveContainerError
	)
	switch {
	case errors.As(err, &multi):
		return exitAmbiguous
	case errors.As(err, &validation),
		errors.Is(err, store.ErrRemoteNotFound),
		errors.Is(err, store.ErrProjectNotFound):
		return exitValidation
	case errors.Is(err, sshx.ErrUnreachable),
		errors.Is(err, sshx.ErrAuthentication),
		errors.Is(err, sshx.ErrConnectionLost):
		return exitChannel
	case errors.As(err, &syncErr):
		return exitSync
	case errors.As(err, &gpuErr),
		errors.As(err, &buildErr),
		errors.As(err, &healthErr),
		errors.As(err, &noCtr):
		return exitContainer
	case errors.As(err, &txErr):
		return exitStore
	default:
		return exitGeneric
	}
}
