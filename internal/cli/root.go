package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/preauth/internal/address"
	"github.com/roach88/preauth/internal/config"
	"github.com/roach88/preauth/internal/engine"
	"github.com/roach88/preauth/internal/ledger"
	"github.com/roach88/preauth/internal/logger"
	"github.com/roach88/preauth/internal/store"
)

// RootOptions holds global flags for all commands. Empty fields fall back
// to the environment (see internal/config) in PersistentPreRunE.
type RootOptions struct {
	Verbose       bool
	Format        string // "json" | "text"
	DB            string
	ProgramID     string
	LogLevel      string
	LogJSON       bool
	LedgerFixture string
	ListenAddr    string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the preauth CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "preauth",
		Short: "Pre-authorized debit engine",
		Long: `preauth manages pre-authorizations: spending policies a token account
holder grants to a debit authority, enforced against an external token
ledger through a per-account smart delegate.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			cfg, err := config.Load()
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load configuration", err)
			}
			opts.apply(cfg)
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.DB, "db", "", "path to SQLite database (default $"+config.EnvDatabasePath+")")
	cmd.PersistentFlags().StringVar(&opts.ProgramID, "program-id", "", "program identity addresses are derived under (default $"+config.EnvProgramID+")")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level: debug, info, warn, error (default $"+config.EnvLogLevel+")")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewDeriveCommand(opts))
	cmd.AddCommand(NewPolicyCommand(opts))
	cmd.AddCommand(NewInspectCommand(opts))
	cmd.AddCommand(NewEventsCommand(opts))

	return cmd
}

// apply fills every option the user did not set from cfg.
func (o *RootOptions) apply(cfg config.Config) {
	if o.DB == "" {
		o.DB = cfg.DatabasePath
	}
	if o.ProgramID == "" {
		o.ProgramID = cfg.ProgramID
	}
	if o.LogLevel == "" {
		o.LogLevel = cfg.LogLevel
	}
	if o.LedgerFixture == "" {
		o.LedgerFixture = cfg.LedgerFixture
	}
	if o.ListenAddr == "" {
		o.ListenAddr = cfg.ListenAddr
	}
	o.LogJSON = o.LogJSON || cfg.LogJSON
}

func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// programID parses ProgramID, defaulting to address.DefaultProgramID.
func (o *RootOptions) programID() (address.Address, error) {
	if o.ProgramID == "" {
		return address.DefaultProgramID, nil
	}
	id, err := address.Parse(o.ProgramID)
	if err != nil {
		return address.Address{}, WrapExitError(ExitCommandError, "invalid program id", err)
	}
	return id, nil
}

// logger builds the process logger. --verbose forces debug.
func (o *RootOptions) logger() (*zap.Logger, error) {
	level := o.LogLevel
	if o.Verbose {
		level = "debug"
	}
	log, err := logger.New(logger.Config{Level: level, JSON: o.LogJSON})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to build logger", err)
	}
	return log, nil
}

// openStore opens the configured database.
func (o *RootOptions) openStore() (*store.Store, error) {
	if o.DB == "" {
		return nil, NewExitError(ExitCommandError, "database path is required (--db or $"+config.EnvDatabasePath+")")
	}
	st, err := store.Open(o.DB)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// openLedger loads the ledger fixture, or returns an empty ledger.
func (o *RootOptions) openLedger() (*ledger.Memory, error) {
	if o.LedgerFixture == "" {
		return ledger.NewMemory(), nil
	}
	l, err := ledger.LoadFixtureFile(o.LedgerFixture, nil)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load ledger fixture", err)
	}
	return l, nil
}

// openDispatcher opens the store and ledger and builds a Dispatcher over
// them. The caller closes the returned store.
func (o *RootOptions) openDispatcher(log *zap.Logger) (*engine.Dispatcher, *store.Store, error) {
	programID, err := o.programID()
	if err != nil {
		return nil, nil, err
	}
	l, err := o.openLedger()
	if err != nil {
		return nil, nil, err
	}
	st, err := o.openStore()
	if err != nil {
		return nil, nil, err
	}
	d := engine.New(st, l,
		engine.WithLogger(log),
		engine.WithProgramID(programID),
	)
	return d, st, nil
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}
