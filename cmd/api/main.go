package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/Driserq/Convergence-sub001/internal/bootstrap"
	"github.com/Driserq/Convergence-sub001/internal/generation"
	"github.com/Driserq/Convergence-sub001/internal/http/handlers"
	"github.com/Driserq/Convergence-sub001/internal/http/httpapi"
	"github.com/Driserq/Convergence-sub001/internal/infra"
	"github.com/Driserq/Convergence-sub001/internal/infra/oidc"
	"github.com/Driserq/Convergence-sub001/internal/middleware"
)

const (
	limiterPruneInterval  = 5 * time.Minute
	tracerShutdownTimeout = 5 * time.Second
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := infra.NewTracerProvider(ctx, cfg, "api")
	if err != nil {
		logger.Fatal().Err(err).Msg("api: tracing init failed")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), tracerShutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("api: tracer shutdown failed")
		}
	}()

	pipeline, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: bootstrap failed")
	}
	defer pipeline.Close()

	svc, err := generation.NewService(generation.ServiceOptions{
		Blueprints: pipeline.Blueprints,
		Jobs:       pipeline.Jobs,
		Attempter:  pipeline.Attempter,
		Scheduler:  pipeline.Scheduler,
		Dispatch: generation.DispatcherOptions{
			Workers:   cfg.DispatchWorkers,
			QueueSize: cfg.DispatchQueueSize,
			Metrics:   pipeline.Metrics,
		},
		Logger: &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("api: service init failed")
	}
	svc.Start(ctx)
	defer svc.Close()

	auth := middleware.AuthOptions{Secret: cfg.JWTSecret, Issuer: cfg.AuthIssuer, Audience: cfg.AuthAudience}
	if cfg.AuthIssuer != "" {
		auth.Keys = oidc.NewKeySet(cfg.AuthIssuer, nil)
		logger.Info().Str("issuer", cfg.AuthIssuer).Msg("api: accepting identity provider tokens")
	}

	limiter := middleware.NewLimiterStore(cfg.RateLimitPerMin, max(cfg.RateLimitPerMin/6, 1))
	app := handlers.NewApp(svc, pipeline.Ping, logger)
	router := httpapi.NewRouter(app, httpapi.RouterOptions{
		Auth:    auth,
		Limiter: limiter,
		Logger:  logger,
		Metrics: infra.MetricsHandler(pipeline.Prom),
	})
	server := infra.NewHTTPServer(cfg, cfg.Port, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", server.Addr()).Str("store", cfg.StoreDriver).Msg("api: listening")
		return server.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(limiterPruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if n := limiter.Prune(); n > 0 {
					logger.Debug().Int("removed", n).Msg("api: pruned idle rate limiters")
				}
			}
		}
	})
	// The memory store is process local, so no separate worker can see its
	// jobs; sweep in-process instead.
	if cfg.StoreDriver == infra.StoreDriverMemory {
		sweeper := pipeline.NewSweeper(cfg, logger)
		g.Go(func() error {
			if err := sweeper.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("api: stopped with error")
	}
	logger.Info().Msg("api: stopped")
}
