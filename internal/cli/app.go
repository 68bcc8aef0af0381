// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"io"
	"time"

	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/jeranaias/rigrun-chat/internal/chat"
	"github.com/jeranaias/rigrun-chat/internal/cloud"
	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/session"
	"github.com/jeranaias/rigrun-chat/internal/storage"
)

const (
	// loadTimeout bounds hydration at startup.
	loadTimeout = 10 * time.Second

	// shutdownTimeout bounds the final flush on exit.
	shutdownTimeout = 10 * time.Second
)

// =============================================================================
// APPLICATION ROOT
// =============================================================================

// App owns every long-lived component of a session. It is built once at
// startup and torn down by Close.
type App struct {
	Config       *config.Config
	Log          zerolog.Logger
	Adapter      storage.Adapter
	Scheduler    *session.Scheduler
	Repository   *chat.Repository
	Orchestrator *chat.Orchestrator

	channel *gochannel.GoChannel
	bridge  *storage.BridgeAdapter
	host    *storage.Host
	cancel  context.CancelFunc
}

// appOptions lets tests swap the completion client.
type appOptions struct {
	completer chat.Completer
}

// OpenApp builds the application from cfg: storage backend (probed once),
// scheduler, repository hydrated from storage, and the orchestrator.
func OpenApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	return openApp(ctx, cfg, logger, appOptions{})
}

func openApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts appOptions) (*App, error) {
	dataDir, err := cfg.DataDir()
	if err != nil {
		return nil, err
	}
	backend, err := storage.ParseBackend(cfg.Storage.Backend)
	if err != nil {
		return nil, err
	}

	// The local channel has no other endpoint, so an explicit bridge
	// backend needs the in-process host.
	if backend == storage.BackendBridge && !cfg.Storage.Host {
		return nil, errors.Wrap(storage.ErrBridgeUnavailable, "bridge backend requires storage.host")
	}

	hostCtx, cancel := context.WithCancel(context.Background())
	app := &App{Config: cfg, Log: logger, cancel: cancel}

	if backend == storage.BackendAuto || backend == storage.BackendBridge {
		if err := app.openBridge(hostCtx, dataDir); err != nil {
			app.Close()
			return nil, err
		}
	}

	adapter, err := storage.Select(ctx, storage.Options{
		Backend:      backend,
		DataDir:      dataDir,
		KVPath:       cfg.Storage.KVPath,
		Bridge:       app.bridge,
		ProbeTimeout: cfg.ProbeTimeout(),
	}, logger)
	if err != nil {
		app.Close()
		return nil, errors.Wrap(err, "select storage")
	}
	app.Adapter = adapter
	logger.Info().Str("backend", adapter.Name()).Str("data_dir", dataDir).Msg("storage ready")

	app.Scheduler = session.NewScheduler(adapter, cfg.SchedulerConfig(), logger)
	app.Repository = chat.NewRepository(
		chat.WithPersister(app.Scheduler),
		chat.WithTitleRunes(cfg.Titles.MaxRunes),
		chat.WithLogger(logger),
	)
	loadCtx, cancelLoad := context.WithTimeout(ctx, loadTimeout)
	app.Repository.Load(loadCtx, adapter)
	cancelLoad()

	completer := opts.completer
	if completer == nil {
		completer = cloud.NewClient(cfg.CloudConfig(), logger)
	}
	app.Orchestrator = chat.NewOrchestrator(app.Repository, completer, logger,
		chat.WithRateLimit(cfg.Requests.RequestsPerMinute, cfg.Requests.Burst))

	return app, nil
}

// openBridge starts the in-process message channel, the file-store host
// behind it (unless disabled), and the bridge client.
func (a *App) openBridge(ctx context.Context, dataDir string) error {
	a.channel = storage.NewLocalChannel(a.Log)

	if a.Config.Storage.Host {
		a.host = storage.NewHost(a.channel, a.channel, storage.NewFileStore(dataDir, a.Log), a.Log)
		if err := a.host.Start(ctx); err != nil {
			return errors.Wrap(err, "start storage host")
		}
	}

	bridge, err := storage.NewBridgeAdapter(a.channel, a.channel, a.Log)
	if err != nil {
		return errors.Wrap(err, "open bridge")
	}
	a.bridge = bridge
	return nil
}

// Close cancels outstanding requests, flushes pending state, and releases
// storage. It is safe to call on a partially opened App.
func (a *App) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if a.Orchestrator != nil {
		a.Orchestrator.Close()
	}
	if a.Scheduler != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		keep(a.Scheduler.Close(ctx))
		cancel()
	}
	if a.Adapter != nil {
		keep(a.Adapter.Close())
	}
	if a.bridge != nil && storage.Adapter(a.bridge) != a.Adapter {
		keep(a.bridge.Close())
	}
	if a.cancel != nil {
		a.cancel()
	}
	if a.host != nil {
		keep(a.host.Wait())
	}
	if a.channel != nil {
		keep(a.channel.Close())
	}
	return firstErr
}

var _ io.Closer = (*App)(nil)
