package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/physio-voice-booking/internal/api/router"
	"github.com/wolfman30/physio-voice-booking/internal/app/bootstrap"
	appconfig "github.com/wolfman30/physio-voice-booking/internal/config"
	"github.com/wolfman30/physio-voice-booking/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/physio-voice-booking/internal/http/middleware"
	"github.com/wolfman30/physio-voice-booking/pkg/logging"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting physio-voice-booking API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	fmt.Println("Server exited gracefully")
}

func run(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) error {
	rt, err := bootstrap.BuildRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	metricsHandler, reg := setupMetrics()
	pipeline, err := bootstrap.BuildPipeline(ctx, cfg, rt, reg, logger)
	if err != nil {
		return err
	}
	pipeline.Start(ctx)

	limiter := httpmiddleware.NewRateLimiter(cfg.SessionCreateRate, cfg.SessionCreateBurst)
	go limiter.Run(ctx, 5*time.Minute, 10*time.Minute)

	routerCfg := &router.Config{
		Logger:             logger,
		Sessions:           handlers.NewSessionHandler(pipeline.Manager, logger),
		MetricsHandler:     metricsHandler,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		CreateLimiter:      limiter,
		ReadinessChecks:    rt.ReadinessChecks(),
	}
	if pipeline.Bookings != nil {
		routerCfg.Bookings = handlers.NewBookingHandler(pipeline.Bookings, logger)
	}
	r := router.New(routerCfg)

	// No read/write timeouts: they would cut long-lived event streams.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

// setupMetrics returns the /metrics handler and the registry every
// collector registers with.
func setupMetrics() (http.Handler, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), reg
}
