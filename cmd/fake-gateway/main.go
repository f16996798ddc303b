package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aint-no-code/reclaw-conformance/internal/config"
	"github.com/aint-no-code/reclaw-conformance/internal/fakegateway"
	"github.com/aint-no-code/reclaw-conformance/internal/observability"
)

func main() {
	// Load configuration
	cfg := config.LoadGateway()
	log := observability.NewLogger(cfg.LogLevel, os.Stderr)

	log.Info().
		Str("addr", cfg.Addr).
		Dur("run_start_delay", cfg.RunStartDelay).
		Dur("run_duration", cfg.RunDuration).
		Bool("auth", cfg.Token != "").
		Str("version", observability.Version).
		Msg("starting reference gateway")

	opts := fakegateway.OptionsFromConfig(cfg)
	opts.Logger = log
	opts.Metrics = observability.NewMetrics()
	server := fakegateway.New(opts)

	go func() {
		if err := server.Start(cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("gateway server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down reference gateway")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}

	log.Info().Msg("reference gateway stopped")
}
