// Package config loads process configuration from the environment.
//
// Variables may also come from a .env file in the working directory; values
// already present in the environment win over the file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/roach88/preauth/internal/address"
)

// Environment variable names.
const (
	EnvDatabasePath  = "PREAUTH_DATABASE_PATH"
	EnvProgramID     = "PREAUTH_PROGRAM_ID"
	EnvListenAddr    = "PREAUTH_LISTEN_ADDR"
	EnvLogLevel      = "PREAUTH_LOG_LEVEL"
	EnvLogJSON       = "PREAUTH_LOG_JSON"
	EnvLedgerFixture = "PREAUTH_LEDGER_FIXTURE"
)

// Defaults.
const (
	DefaultDatabasePath = "preauth.db"
	DefaultListenAddr   = ":8080"
	DefaultLogLevel     = "info"
)

// Config is the resolved process configuration.
type Config struct {
	DatabasePath  string
	ProgramID     string
	ListenAddr    string
	LogLevel      string
	LogJSON       bool
	LedgerFixture string
}

// Load reads .env files (if present) and then the environment.
// A missing .env file is not an error.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := Config{
		DatabasePath:  getenv(EnvDatabasePath, DefaultDatabasePath),
		ProgramID:     getenv(EnvProgramID, address.DefaultProgramID.String()),
		ListenAddr:    getenv(EnvListenAddr, DefaultListenAddr),
		LogLevel:      getenv(EnvLogLevel, DefaultLogLevel),
		LedgerFixture: os.Getenv(EnvLedgerFixture),
	}
	if v := os.Getenv(EnvLogJSON); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", EnvLogJSON, err)
		}
		cfg.LogJSON = b
	}
	return cfg, cfg.Validate()
}

// Validate checks fields that can be checked without side effects.
func (c Config) Validate() error {
	if _, err := c.Program(); err != nil {
		return err
	}
	if c.DatabasePath == "" {
		return errors.New("database path is required")
	}
	return nil
}

// Program parses ProgramID.
func (c Config) Program() (address.Address, error) {
	id, err := address.Parse(c.ProgramID)
	if err != nil {
		return address.Address{}, fmt.Errorf("%s: %w", EnvProgramID, err)
	}
	return id, nil
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
