// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quire-editor/quire/internal/extension"
	"github.com/quire-editor/quire/internal/store"
	"github.com/quire-editor/quire/pkg/errutil"
)

// flags isolates the XDG directories and returns a parsed flag set.
func flags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	home := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(home, "data"))

	fs := pflag.NewFlagSet("quire", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	fs := flags(t)

	cfg, err := Load("", fs)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(os.Getenv("XDG_DATA_HOME"), "quire"), cfg.DataDir)
	assert.Equal(t, filepath.Join(os.Getenv("XDG_CONFIG_HOME"), "quire", "settings.yaml"), cfg.SettingsFile)
	assert.Equal(t, "127.0.0.1:9100", cfg.MetricsAddr)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, store.DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, store.KVDriverStore, cfg.KV.Driver)
	assert.Equal(t, extension.DefaultHandlerTimeout, cfg.Extensions.HandlerTimeout)
	assert.Zero(t, cfg.Extensions.ActivationTimeout)
	assert.False(t, cfg.Extensions.CompatShim)
	assert.Equal(t, []string{"**"}, cfg.Extensions.DefaultGrants)
	assert.Equal(t, "http://127.0.0.1:9100", cfg.AssetsBaseURL())
}

func TestLoad_DefaultPathIsRead(t *testing.T) {
	fs := flags(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(DefaultPath()), 0o700))
	require.NoError(t, os.WriteFile(DefaultPath(), []byte("log:\n  level: debug\n"), 0o600))

	cfg, err := Load("", fs)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	fs := flags(t)
	path := writeFile(t, `
vault: /notes
log:
  format: text
store:
  driver: memory
extensions:
  activation_timeout: 3s
  handler_timeout: 250ms
  compat_shim: true
  default_grants: ["ui:*"]
  grants:
    demo.hello: ["ui:*", "file:read"]
    acme.sync: []
assets:
  base_url: https://quire.example/assets
`)

	cfg, err := Load(path, fs)
	require.NoError(t, err)

	assert.Equal(t, "/notes", cfg.Vault)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, store.DriverMemory, cfg.Store.Driver)
	assert.Equal(t, 3*time.Second, cfg.Extensions.ActivationTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Extensions.HandlerTimeout)
	assert.True(t, cfg.Extensions.CompatShim)
	assert.Equal(t, []string{"ui:*"}, cfg.Extensions.DefaultGrants)
	assert.Equal(t, []string{"ui:*", "file:read"}, cfg.Extensions.Grants["demo.hello"])
	assert.Contains(t, cfg.Extensions.Grants, "acme.sync")
	assert.Equal(t, "https://quire.example/assets", cfg.AssetsBaseURL())

	policy := cfg.Policy()
	assert.Equal(t, []string{"ui:*", "file:read"}, policy.PatternsFor("demo.hello"))
	assert.Equal(t, []string{"ui:*"}, policy.PatternsFor("other.ext"))
}

func TestLoad_SetFlagsOverrideFile(t *testing.T) {
	fs := flags(t, "--log-level", "warn", "--store-driver", "memory", "--handler-timeout", "1s", "--compat-shim")
	path := writeFile(t, `
log:
  level: debug
store:
  driver: sqlite
extensions:
  handler_timeout: 10s
`)

	cfg, err := Load(path, fs)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, store.DriverMemory, cfg.Store.Driver)
	assert.Equal(t, time.Second, cfg.Extensions.HandlerTimeout)
	assert.True(t, cfg.Extensions.CompatShim)
}

func TestLoad_ExplicitPathMustExist(t *testing.T) {
	fs := flags(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), fs)
	errutil.AssertErrorCode(t, err, CodeConfigInvalid)
}

func TestLoad_MalformedYAML(t *testing.T) {
	fs := flags(t)

	_, err := Load(writeFile(t, "log: [unterminated\n"), fs)
	errutil.AssertErrorCode(t, err, CodeConfigInvalid)
}

func TestLoad_WithoutFlags(t *testing.T) {
	cfg, err := Load(writeFile(t, "metrics_addr: 127.0.0.1:0\n"), nil)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:0", cfg.MetricsAddr)
	assert.Equal(t, []string{"**"}, cfg.Policy().Defaults)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"log format", "log:\n  format: xml\n"},
		{"log level", "log:\n  level: loud\n"},
		{"store driver", "store:\n  driver: mysql\n"},
		{"postgres without dsn", "store:\n  driver: postgres\n"},
		{"kv driver", "kv:\n  driver: memcached\n"},
		{"negative activation timeout", "extensions:\n  activation_timeout: -1s\n"},
		{"bad default grant", "extensions:\n  default_grants: [\"ui:[\"]\n"},
		{"bad grant", "extensions:\n  grants:\n    demo.hello: [\"file:{read\"]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := flags(t)
			_, err := Load(writeFile(t, tt.yaml), fs)
			errutil.AssertErrorCode(t, err, CodeConfigInvalid)
		})
	}
}

func TestValidate_PostgresWithDSN(t *testing.T) {
	cfg := Config{Store: Store{Driver: store.DriverPostgres, DSN: "postgres://localhost/quire"}}
	require.NoError(t, cfg.Validate())

	opts := cfg.StoreOptions()
	assert.Equal(t, store.DriverPostgres, opts.Driver)
	assert.Equal(t, "postgres://localhost/quire", opts.DSN)
}
