// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/quire-editor/quire/internal/config"
	"github.com/quire-editor/quire/internal/extension"
	"github.com/quire-editor/quire/internal/extension/js"
	"github.com/quire-editor/quire/internal/extension/lua"
	"github.com/quire-editor/quire/internal/logging"
	"github.com/quire-editor/quire/internal/resource"
	"github.com/quire-editor/quire/internal/settings"
	"github.com/quire-editor/quire/internal/store"
	"github.com/quire-editor/quire/pkg/errutil"
)

// env is an opened host with its backends.
type env struct {
	cfg      *config.Config
	logger   *slog.Logger
	stores   *store.Stores
	settings *settings.Store
	repo     *resource.Repository
	host     *extension.Host
	natives  *extension.NativeRuntime
}

// openEnv loads configuration, sets up logging and opens the stores,
// settings and extension host. Nothing is loaded into the host.
func openEnv(ctx context.Context, cmd *cobra.Command) (*env, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := logging.SetDefault("quire", version, cfg.Log.Format, cfg.Log.Level)

	st, err := settings.Load(cfg.SettingsFile)
	if err != nil {
		return nil, err
	}

	stores, err := store.Open(ctx, cfg.StoreOptions())
	if err != nil {
		return nil, err
	}

	repo := resource.NewRepository(stores.Packages, resource.WithBaseURL(cfg.AssetsBaseURL()))
	policy := cfg.Policy()
	natives := extension.NewNativeRuntime()
	host := extension.New(repo, extension.Options{
		Logger:            logger,
		Policy:            &policy,
		Runtimes:          []extension.Runtime{lua.NewRuntime(logger), js.NewRuntime(logger), natives},
		Settings:          st,
		KV:                stores.KV,
		ActivationTimeout: cfg.Extensions.ActivationTimeout,
		HandlerTimeout:    cfg.Extensions.HandlerTimeout,
		CompatShim:        cfg.Extensions.CompatShim,
	})

	return &env{
		cfg:      cfg,
		logger:   logger,
		stores:   stores,
		settings: st,
		repo:     repo,
		host:     host,
		natives:  natives,
	}, nil
}

// loaded opens an env and loads every stored extension, waiting for
// activations to finish.
func loaded(ctx context.Context, cmd *cobra.Command) (*env, error) {
	e, err := openEnv(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if err := e.host.LoadAll(ctx); err != nil {
		e.Close(ctx)
		return nil, err
	}
	e.host.Wait()
	if err := e.host.Degraded(); err != nil {
		e.Close(ctx)
		return nil, err //nolint:wrapcheck // storage error already carries its code
	}
	return e, nil
}

// Close shuts the host down and closes the backends.
func (e *env) Close(ctx context.Context) {
	if err := e.host.Close(ctx); err != nil {
		errutil.LogError(e.logger, "closing extension host", err)
	}
	if err := e.stores.Close(); err != nil {
		errutil.LogError(e.logger, "closing stores", err)
	}
}
