package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/preauth/internal/api"
	"github.com/roach88/preauth/internal/config"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve the HTTP API over the configured database.

The token ledger is held in memory, seeded from the fixture named by
--ledger-fixture or $` + config.EnvLedgerFixture + `.

Example:
  preauth serve --db ./preauth.db --ledger-fixture ./ledger.yaml --addr :8080`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(rootOpts, cmd)
		},
	}

	cmd.Flags().StringVar(&rootOpts.ListenAddr, "addr", "", "listen address (default $"+config.EnvListenAddr+")")
	cmd.Flags().StringVar(&rootOpts.LedgerFixture, "ledger-fixture", "", "YAML ledger fixture (default $"+config.EnvLedgerFixture+")")

	return cmd
}

func runServe(opts *RootOptions, cmd *cobra.Command) error {
	log, err := opts.logger()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	d, st, err := opts.openDispatcher(log)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			log.Error("error closing database", zap.Error(closeErr))
		}
	}()

	if !opts.Verbose {
		gin.SetMode(gin.ReleaseMode)
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := opts.ListenAddr
	if addr == "" {
		addr = config.DefaultListenAddr
	}
	log.Info("starting", zap.String("db", opts.DB), zap.String("ledger_fixture", opts.LedgerFixture))
	if err := api.New(d, log).Run(ctx, addr); err != nil {
		return WrapExitError(ExitFailure, "server error", err)
	}
	log.Info("stopped gracefully")
	return nil
}
