package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, 8, cfg.Keys.CodeBytes)
	assert.Equal(t, 100, cfg.Keys.MaxBatch)
	assert.Equal(t, 30*time.Second, cfg.Query.CacheTTL)
}

func TestLoadFrom(t *testing.T) {
	tests := []struct {
		name        string
		file        string
		env         map[string]string
		wantErr     bool
		validateCfg func(*testing.T, *Config)
	}{
		{
			name: "defaults without file or env",
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, Default(), cfg)
			},
		},
		{
			name: "file overrides defaults",
			file: `
storage:
  driver: postgres
  dsn: "host=localhost dbname=keyledger sslmode=disable"
keys:
  max_batch: 50
query:
  cache_ttl: 5s
`,
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "postgres", cfg.Storage.Driver)
				assert.Equal(t, 50, cfg.Keys.MaxBatch)
				assert.Equal(t, 5*time.Second, cfg.Query.CacheTTL)
				// untouched sections keep defaults
				assert.Equal(t, 8, cfg.Keys.CodeBytes)
			},
		},
		{
			name: "env overrides file",
			file: `
keys:
  max_batch: 50
`,
			env: map[string]string{
				"KEYLEDGER_KEYS_MAX_BATCH":         "20",
				"KEYLEDGER_REDEEM_RATE_PER_MINUTE": "0",
				"KEYLEDGER_LOGGING_LEVEL":          "debug",
			},
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 20, cfg.Keys.MaxBatch)
				assert.Equal(t, float64(0), cfg.Redeem.RatePerMinute)
				assert.Equal(t, "debug", cfg.Logging.Level)
			},
		},
		{
			name:    "invalid driver",
			env:     map[string]string{"KEYLEDGER_STORAGE_DRIVER": "mysql"},
			wantErr: true,
		},
		{
			name:    "code bytes too small",
			file:    "keys:\n  code_bytes: 2\n",
			wantErr: true,
		},
		{
			name:    "malformed yaml",
			file:    "storage: [",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			path := ""
			if tt.file != "" {
				path = writeConfigFile(t, tt.file)
			}

			cfg, err := LoadFrom(path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.validateCfg(t, cfg)
		})
	}
}

func TestLoadUsesConfigEnvPath(t *testing.T) {
	path := writeConfigFile(t, "ops:\n  addr: \":9999\"\n")
	t.Setenv("KEYLEDGER_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Ops.Addr)
}
