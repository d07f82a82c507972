package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/miradorstack/latencyguard/internal/channels"
	"github.com/miradorstack/latencyguard/internal/config"
	"github.com/miradorstack/latencyguard/internal/detector"
	"github.com/miradorstack/latencyguard/internal/dispatch"
	"github.com/miradorstack/latencyguard/internal/engine"
	"github.com/miradorstack/latencyguard/internal/metrics"
	"github.com/miradorstack/latencyguard/internal/runlock"
	"github.com/miradorstack/latencyguard/internal/store"
)

// app holds the components shared by the serve and detect commands.
type app struct {
	store       *store.Store
	channels    *channels.Set
	dispatcher  *dispatch.Dispatcher
	coordinator *engine.Coordinator
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	st, err := store.Open(cfg.Store.Path, logger)
	if err != nil {
		return nil, err
	}

	set, err := channels.Build(cfg.Channels, os.Stdout, logger)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("build channels: %w", err)
	}
	if len(set.Channels) == 0 {
		logger.Warn("no notification channels configured; anomalies will be retried every run")
	}

	locker, err := buildLocker(ctx, cfg.Lock, logger)
	if err != nil {
		_ = set.Close()
		_ = st.Close()
		return nil, err
	}

	det := detector.New(detector.Config{
		Trees:         cfg.Detector.Trees,
		SampleSize:    cfg.Detector.SampleSize,
		Contamination: cfg.Detector.Contamination,
		Seed:          cfg.Detector.Seed,
		Workers:       cfg.Detector.Workers,
	}, logger.With(slog.String("component", "detector")))

	dispatcher := dispatch.New(st, set.Channels, dispatch.Options{
		Title:          cfg.Pipeline.DigestTitle,
		ChannelTimeout: cfg.Pipeline.ChannelTimeout,
	}, logger.With(slog.String("component", "dispatcher")))

	coordinator := engine.NewCoordinator(
		logger.With(slog.String("component", "coordinator")),
		st,
		det,
		dispatcher,
		locker,
		nil,
	)

	return &app{store: st, channels: set, dispatcher: dispatcher, coordinator: coordinator}, nil
}

// buildLocker always guards cycles with a process-local lock and, when enabled, chains a
// Valkey lease so replicas sharing the store never run concurrently.
func buildLocker(ctx context.Context, cfg config.LockConfig, logger *slog.Logger) (runlock.Locker, error) {
	local := runlock.NewLocal()
	if !cfg.Enabled {
		return local, nil
	}
	lease, err := runlock.NewValkey(ctx, runlock.ValkeyConfig{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxRetries:   cfg.MaxRetries,
		TLS:          cfg.TLS,
	}, cfg.Key, cfg.TTL, logger.With(slog.String("component", "runlock")))
	if err != nil {
		return nil, fmt.Errorf("valkey run lock: %w", err)
	}
	logger.Info("distributed run lock enabled", slog.String("addr", cfg.Addr), slog.String("key", cfg.Key))
	return runlock.Chain{local, lease}, nil
}

func (a *app) Close() {
	if err := a.channels.Close(); err != nil {
		slog.Warn("close channels", slog.Any("error", err))
	}
	if err := a.store.Close(); err != nil {
		slog.Warn("close store", slog.Any("error", err))
	}
}
