package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/miradorstack/latencyguard/internal/probetarget"
	"github.com/miradorstack/latencyguard/internal/utils"
)

func main() {
	addr := flag.String("addr", probetarget.DefaultAddress, "listen address")
	flag.Parse()

	logger := utils.NewLogger("info", false)
	srv := &http.Server{
		Addr:              *addr,
		Handler:           probetarget.NewHandler(probetarget.Options{Logger: logger}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("probe target listening", slog.String("address", *addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("probe target exited", slog.Any("error", err))
		os.Exit(1)
	}
}
