package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/preauth/internal/address"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvDatabasePath, EnvProgramID, EnvListenAddr, EnvLogLevel, EnvLogJSON, EnvLedgerFixture} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, DefaultDatabasePath, cfg.DatabasePath)
	assert.Equal(t, DefaultListenAddr, cfg.ListenAddr)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
	assert.False(t, cfg.LogJSON)

	id, err := cfg.Program()
	require.NoError(t, err)
	assert.Equal(t, address.DefaultProgramID, id)
}

func TestLoad_EnvFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte(
		"PREAUTH_DATABASE_PATH=/tmp/x.db\nPREAUTH_LOG_JSON=true\nPREAUTH_LISTEN_ADDR=:9999\n"), 0o600))

	// Environment wins over the file.
	t.Setenv(EnvListenAddr, ":7000")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.db", cfg.DatabasePath)
	assert.True(t, cfg.LogJSON)
	assert.Equal(t, ":7000", cfg.ListenAddr)

	// godotenv.Load sets process env; restore it for later tests.
	os.Unsetenv(EnvDatabasePath)
	os.Unsetenv(EnvLogJSON)
}

func TestLoad_Invalid(t *testing.T) {
	clearEnv(t)
	missing := filepath.Join(t.TempDir(), "missing.env")

	t.Setenv(EnvProgramID, "not-base58-0OIl")
	_, err := Load(missing)
	assert.ErrorContains(t, err, EnvProgramID)

	t.Setenv(EnvProgramID, "")
	t.Setenv(EnvLogJSON, "maybe")
	_, err = Load(missing)
	assert.ErrorContains(t, err, EnvLogJSON)
}
