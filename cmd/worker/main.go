package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/Driserq/Convergence-sub001/internal/bootstrap"
	"github.com/Driserq/Convergence-sub001/internal/infra"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "worker")
	if cfg.StoreDriver == infra.StoreDriverMemory {
		logger.Fatal().Msg("worker: the memory store is process local; the api sweeps it in-process")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := infra.NewTracerProvider(ctx, cfg, "worker")
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: tracing init failed")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("worker: tracer shutdown failed")
		}
	}()

	pipeline, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: bootstrap failed")
	}
	defer pipeline.Close()

	sweeper := pipeline.NewSweeper(cfg, logger)

	mux := chi.NewRouter()
	mux.Method(http.MethodGet, "/metrics", infra.MetricsHandler(pipeline.Prom))
	mux.Get("/v1/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := pipeline.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	metricsServer := infra.NewHTTPServer(cfg, cfg.MetricsPort, mux)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", metricsServer.Addr()).Msg("worker: metrics listening")
		return metricsServer.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		logger.Info().
			Dur("interval", cfg.SweepInterval).
			Int("batch", cfg.SweepBatchSize).
			Msg("worker: sweeping")
		return sweeper.Run(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}
