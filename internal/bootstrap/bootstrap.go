// Package bootstrap assembles the generation pipeline from configuration so
// the API and worker binaries share one wiring.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Driserq/Convergence-sub001/internal/adapter/memstore"
	"github.com/Driserq/Convergence-sub001/internal/adapter/repo"
	"github.com/Driserq/Convergence-sub001/internal/domain"
	"github.com/Driserq/Convergence-sub001/internal/generation"
	"github.com/Driserq/Convergence-sub001/internal/infra"
	"github.com/Driserq/Convergence-sub001/internal/infra/credentials"
	"github.com/Driserq/Convergence-sub001/internal/providers/ai"
)

// Pipeline holds every long-lived component built from Config.
type Pipeline struct {
	Blueprints domain.BlueprintStore
	Jobs       domain.JobStore
	Registry   *ai.Registry
	Metrics    *generation.Metrics
	Attempter  *generation.Attempter
	Scheduler  *generation.Scheduler
	Prom       *prometheus.Registry
	// Ping checks store connectivity; nil for the memory driver.
	Ping func(ctx context.Context) error

	pool *pgxpool.Pool
}

// Close releases the database pool, if any.
func (p *Pipeline) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func New(ctx context.Context, cfg *infra.Config, logger infra.Logger) (*Pipeline, error) {
	p := &Pipeline{Prom: infra.NewMetricsRegistry()}

	var creds *credentials.Store
	switch cfg.StoreDriver {
	case infra.StoreDriverMemory:
		store := memstore.New(memstore.WithLease(cfg.JobLease))
		p.Blueprints, p.Jobs = store, store
	default:
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		p.pool = pool
		p.Ping = pool.Ping
		runner := infra.NewSQLRunner(pool, logger)
		p.Blueprints = repo.NewBlueprintStore(runner)
		p.Jobs = repo.NewJobStore(runner, cfg.JobLease)
		creds = credentials.NewStore(runner)
	}

	registry, err := NewProviderRegistry(ctx, cfg, creds, logger)
	if err != nil {
		p.Close()
		return nil, err
	}
	p.Registry = registry
	p.Metrics = generation.NewMetrics(p.Prom)

	parser, err := generation.NewParser()
	if err != nil {
		p.Close()
		return nil, err
	}
	p.Attempter, err = generation.NewAttempter(generation.AttempterOptions{
		Registry:   registry,
		Parser:     parser,
		Blueprints: p.Blueprints,
		Metrics:    p.Metrics,
		Logger:     &logger,
		Timeout:    cfg.AIRequestTimeout,
	})
	if err != nil {
		p.Close()
		return nil, err
	}
	p.Scheduler = generation.NewScheduler(p.Attempter.Attempt, p.Jobs, p.Blueprints, p.Metrics, &logger)
	return p, nil
}

// NewProviderRegistry builds both providers with keys from the environment,
// falling back to creds. A missing key is logged, not fatal: the provider
// reports it per attempt as a non-retriable failure.
func NewProviderRegistry(ctx context.Context, cfg *infra.Config, creds *credentials.Store, logger infra.Logger) (*ai.Registry, error) {
	fault, err := ai.ParseFault(cfg.AIForceFailure)
	if err != nil {
		return nil, fmt.Errorf("AI_FORCE_FAILURE: %w", err)
	}
	if fault.Active() {
		logger.Warn().Str("fault", fault.String()).Msg("bootstrap: forced provider failure enabled")
	}

	geminiKey, err := creds.Resolve(ctx, ai.ProviderGemini, cfg.GeminiAPIKey)
	if err != nil {
		logger.Warn().Err(err).Msg("bootstrap: failed to load gemini api key from store")
	}
	openAIKey, err := creds.Resolve(ctx, ai.ProviderOpenAI, cfg.OpenAIAPIKey)
	if err != nil {
		logger.Warn().Err(err).Msg("bootstrap: failed to load openai api key from store")
	}

	gemini := ai.NewGeminiProvider(ai.GeminiOptions{
		APIKey:  geminiKey,
		Model:   cfg.GeminiModel,
		BaseURL: cfg.GeminiBaseURL,
	})
	openai := ai.NewOpenAIProvider(ai.OpenAIOptions{
		APIKey:       openAIKey,
		Model:        cfg.OpenAIModel,
		BaseURL:      cfg.OpenAIBaseURL,
		Organization: cfg.OpenAIOrg,
		Schema:       generation.BlueprintSchema(),
		OnWarning: func(reason, detail string) {
			logger.Warn().Str("reason", reason).Str("detail", detail).Msg("bootstrap: openai model adjusted")
		},
	})

	registry := ai.NewRegistry(cfg.AIProvider, fault, gemini, openai)
	if _, name, err := registry.Resolve(""); err != nil {
		return nil, fmt.Errorf("AI_PROVIDER %q is not one of %v", name, registry.Names())
	}
	for name, key := range map[string]string{ai.ProviderGemini: geminiKey, ai.ProviderOpenAI: openAIKey} {
		if key == "" {
			logger.Warn().Str("provider", name).Msg("bootstrap: api key missing, attempts will fail")
		}
	}
	return registry, nil
}

// NewSweeper builds the due-job sweeper over the pipeline's stores.
func (p *Pipeline) NewSweeper(cfg *infra.Config, logger infra.Logger) *generation.Sweeper {
	return generation.NewSweeper(p.Jobs, p.Blueprints, p.Scheduler, generation.SweeperOptions{
		Interval:    cfg.SweepInterval,
		BatchSize:   cfg.SweepBatchSize,
		OrphanAfter: cfg.OrphanAfter,
		Metrics:     p.Metrics,
		Logger:      &logger,
	})
}
