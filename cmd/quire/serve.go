// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

package main

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/quire-editor/quire/internal/eventbus"
	"github.com/quire-editor/quire/internal/extension"
	"github.com/quire-editor/quire/internal/observability"
	"github.com/quire-editor/quire/internal/resource"
	"github.com/quire-editor/quire/internal/uiserver"
	"github.com/quire-editor/quire/pkg/errutil"
)

const shutdownTimeout = 10 * time.Second

// serveStarted, when set, receives the listen address once serve is up.
var serveStarted func(addr string)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the extension host",
		Long: `Load and activate every enabled extension, open the workspace folder and
serve metrics, health probes, extension assets and the UI endpoints until
interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd, serveStarted)
		},
	}
}

// runServe runs the host until ctx is done. started, when non-nil,
// receives the listen address once the HTTP server is up.
func runServe(ctx context.Context, cmd *cobra.Command, started func(addr string)) error {
	e, err := openEnv(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		e.Close(closeCtx)
	}()

	if err := e.host.LoadAll(ctx); err != nil {
		return err
	}
	if dir := startupFolder(e); dir != "" {
		if _, err := e.host.OpenVault(ctx, dir); err != nil {
			errutil.LogWarn(e.logger, "opening workspace folder", err, "dir", dir)
		}
	}

	var ready atomic.Bool
	ui := uiserver.New(e.host, e.logger)
	obs := observability.NewServer(e.cfg.MetricsAddr, ready.Load, extension.RegisterMetrics, eventbus.RegisterMetrics)
	obs.Handle(resource.HandlerPattern, "assets", e.repo.Handler())
	obs.Handle("/ui/", "ui", ui.Handler())

	errCh, err := obs.Start()
	if err != nil {
		return err
	}
	e.logger.Info("extension host serving", "addr", obs.Addr(), "extensions", len(e.host.Extensions()))
	if started != nil {
		started(obs.Addr())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Ready once the initial activations have settled.
		e.host.Wait()
		if gctx.Err() == nil {
			ready.Store(true)
		}
		return nil
	})
	g.Go(func() error {
		select {
		case err, ok := <-errCh:
			if ok {
				return err
			}
		case <-gctx.Done():
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		ready.Store(false)
		ui.Close()
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return obs.Stop(stopCtx)
	})
	if err := g.Wait(); err != nil {
		return err //nolint:wrapcheck // serve and shutdown errors are already wrapped
	}
	e.logger.Info("extension host stopped")
	return nil
}

// startupFolder picks the workspace folder: the configured vault, then the
// default folder, then the last opened folder.
func startupFolder(e *env) string {
	for _, dir := range []string{e.cfg.Vault, e.settings.DefaultFolder(), e.settings.LastOpenedFolder()} {
		if dir != "" {
			return dir
		}
	}
	return ""
}
