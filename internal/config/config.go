// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

// Package config loads host configuration from flag defaults, an optional
// YAML file and explicitly set flags, in increasing precedence.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/quire-editor/quire/internal/capability"
	"github.com/quire-editor/quire/internal/extension"
	"github.com/quire-editor/quire/internal/logging"
	"github.com/quire-editor/quire/internal/store"
	"github.com/quire-editor/quire/internal/xdg"
)

// CodeConfigInvalid is returned for unreadable or inconsistent
// configuration.
const CodeConfigInvalid = "CONFIG_INVALID"

const delim = "."

// Config is the host configuration.
type Config struct {
	DataDir      string     `koanf:"data_dir"`
	Vault        string     `koanf:"vault"`
	SettingsFile string     `koanf:"settings_file"`
	MetricsAddr  string     `koanf:"metrics_addr"`
	Log          Log        `koanf:"log"`
	Store        Store      `koanf:"store"`
	KV           KV         `koanf:"kv"`
	Extensions   Extensions `koanf:"extensions"`
	Assets       Assets     `koanf:"assets"`
}

// Log configures the default logger.
type Log struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// Store selects the package backend.
type Store struct {
	Driver string `koanf:"driver"`
	DSN    string `koanf:"dsn"`
}

// KV selects the extension storage backend.
type KV struct {
	Driver    string `koanf:"driver"`
	RedisAddr string `koanf:"redis_addr"`
}

// Extensions configures the extension host.
type Extensions struct {
	ActivationTimeout time.Duration       `koanf:"activation_timeout"`
	HandlerTimeout    time.Duration       `koanf:"handler_timeout"`
	CompatShim        bool                `koanf:"compat_shim"`
	DefaultGrants     []string            `koanf:"default_grants"`
	Grants            map[string][]string `koanf:"grants"`
}

// Assets configures extension asset URLs.
type Assets struct {
	BaseURL string `koanf:"base_url"`
}

// flagKeys maps flag names to configuration keys.
var flagKeys = map[string]string{
	"data-dir":           "data_dir",
	"vault":              "vault",
	"settings-file":      "settings_file",
	"metrics-addr":       "metrics_addr",
	"log-format":         "log.format",
	"log-level":          "log.level",
	"store-driver":       "store.driver",
	"store-dsn":          "store.dsn",
	"kv-driver":          "kv.driver",
	"redis-addr":         "kv.redis_addr",
	"activation-timeout": "extensions.activation_timeout",
	"handler-timeout":    "extensions.handler_timeout",
	"compat-shim":        "extensions.compat_shim",
	"default-grants":     "extensions.default_grants",
	"assets-base-url":    "assets.base_url",
}

// RegisterFlags adds the configuration flags, with their defaults, to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("data-dir", xdg.DataDir(), "directory for the package database and other state")
	fs.String("vault", "", "folder to open as the workspace (defaults to the last opened folder)")
	fs.String("settings-file", filepath.Join(xdg.ConfigDir(), "settings.yaml"), "host settings file")
	fs.String("metrics-addr", "127.0.0.1:9100", "listen address for metrics, health, assets and UI endpoints")
	fs.String("log-format", "json", "log format (json or text)")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.String("store-driver", store.DriverSQLite, "package store driver (sqlite, postgres, memory)")
	fs.String("store-dsn", "", "store DSN (sqlite path or postgres URL)")
	fs.String("kv-driver", store.KVDriverStore, "extension storage driver (store, redis)")
	fs.String("redis-addr", "127.0.0.1:6379", "redis address when kv-driver is redis")
	fs.Duration("activation-timeout", 0, "activation time limit, 0 for none")
	fs.Duration("handler-timeout", extension.DefaultHandlerTimeout, "time limit for one extension handler call, 0 for the default")
	fs.Bool("compat-shim", false, "expose the legacy vault facility to extensions")
	fs.StringSlice("default-grants", []string{"**"}, "capability patterns granted to extensions without explicit grants")
	fs.String("assets-base-url", "", "base URL for extension asset links (defaults to http://<metrics-addr>)")
}

// DefaultPath is the config file read when none is given.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigDir(), "config.yaml")
}

// Load builds the configuration. fs must carry the flags added by
// RegisterFlags and be parsed. An empty path reads DefaultPath if it
// exists; an explicit path must exist.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(delim)

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.In("config").Code(CodeConfigInvalid).
				With("path", path).
				Hint("check the YAML syntax").
				Wrapf(err, "load config file")
		}
	} else if explicit || !errors.Is(err, os.ErrNotExist) {
		return nil, oops.In("config").Code(CodeConfigInvalid).With("path", path).Wrapf(err, "read config file")
	}

	if fs != nil {
		provider := posflag.ProviderWithFlag(fs, delim, k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.In("config").Code(CodeConfigInvalid).Wrapf(err, "load flags")
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.In("config").Code(CodeConfigInvalid).
			With("path", path).
			Wrapf(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks drivers, levels and grant patterns.
func (c *Config) Validate() error {
	b := oops.In("config").Code(CodeConfigInvalid)
	if c.Log.Format != "" && !slices.Contains([]string{"json", "text"}, c.Log.Format) {
		return b.With("log.format", c.Log.Format).Errorf("log format must be json or text")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return b.With("log.level", c.Log.Level).Wrap(err)
	}
	switch c.Store.Driver {
	case "", store.DriverSQLite, store.DriverMemory:
	case store.DriverPostgres:
		if c.Store.DSN == "" {
			return b.Hint("set store.dsn to a postgres URL").Errorf("postgres store requires a dsn")
		}
	default:
		return b.With("store.driver", c.Store.Driver).Errorf("unknown store driver %q", c.Store.Driver)
	}
	switch c.KV.Driver {
	case "", store.KVDriverStore, store.KVDriverRedis:
	default:
		return b.With("kv.driver", c.KV.Driver).Errorf("unknown kv driver %q", c.KV.Driver)
	}
	if c.Extensions.ActivationTimeout < 0 {
		return b.Errorf("extensions.activation_timeout must not be negative")
	}
	if err := c.Policy().Validate(); err != nil {
		return b.Hint("grant patterns use glob syntax, e.g. ui:* or file:read").Wrap(err)
	}
	return nil
}

// Policy returns the capability grant policy.
func (c *Config) Policy() capability.Policy {
	p := capability.Policy{Defaults: c.Extensions.DefaultGrants, Grants: c.Extensions.Grants}
	if p.Defaults == nil {
		p.Defaults = capability.AllowAll().Defaults
	}
	return p
}

// StoreOptions returns the backend options.
func (c *Config) StoreOptions() store.Options {
	return store.Options{
		Driver:    c.Store.Driver,
		DSN:       c.Store.DSN,
		DataDir:   c.DataDir,
		KVDriver:  c.KV.Driver,
		RedisAddr: c.KV.RedisAddr,
	}
}

// AssetsBaseURL returns the configured base URL, or one derived from the
// metrics listen address.
func (c *Config) AssetsBaseURL() string {
	if c.Assets.BaseURL != "" {
		return c.Assets.BaseURL
	}
	return "http://" + c.MetricsAddr
}
