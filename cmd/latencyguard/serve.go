package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/latencyguard/internal/api"
	"github.com/miradorstack/latencyguard/internal/collector"
	"github.com/miradorstack/latencyguard/internal/services"
	"github.com/miradorstack/latencyguard/internal/summary"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the detection scheduler with the control and dashboard APIs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting latencyguard",
		slog.String("version", buildVersion),
		slog.String("grpc_address", cfg.Server.Address),
		slog.String("http_address", cfg.Server.HTTPAddress),
	)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	svc := services.NewLatencyGuardService(logger.With(slog.String("component", "grpc")), a.coordinator, a.store)
	grpcServer, err := api.NewServer(cfg.Server, svc)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr: cfg.Server.HTTPAddress,
		Handler: api.NewHTTPHandler(api.HTTPDeps{
			Cycles:         a.coordinator,
			Records:        a.store,
			Summaries:      summary.NewService(a.store, cfg.Server.SummaryTTL, nil, logger),
			AllowedOrigins: cfg.Server.AllowedOrigins,
			Logger:         logger.With(slog.String("component", "http")),
		}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("gRPC server listening", slog.String("address", grpcServer.Address()))
		return grpcServer.Start()
	})
	g.Go(func() error {
		logger.Info("http server listening", slog.String("address", cfg.Server.HTTPAddress))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		err := a.coordinator.Run(gctx, cfg.Pipeline.Interval)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	if cfg.Collector.Enabled {
		c := collector.New(cfg.Collector.Endpoints, a.store, cfg.Collector.Timeout, nil,
			logger.With(slog.String("component", "collector")))
		g.Go(func() error {
			err := c.Run(gctx, cfg.Collector.Interval)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
		defer cancel()
		grpcServer.Shutdown(shutdownCtx)
		if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("http server shutdown", slog.Any("error", err))
		}
		return nil
	})

	err = g.Wait()
	logger.Info("latencyguard stopped")
	return err
}
