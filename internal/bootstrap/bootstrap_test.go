package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Driserq/Convergence-sub001/internal/adapter/memstore"
	"github.com/Driserq/Convergence-sub001/internal/infra"
	"github.com/Driserq/Convergence-sub001/internal/providers/ai"
)

func memoryConfig() *infra.Config {
	return &infra.Config{
		StoreDriver:      infra.StoreDriverMemory,
		AIProvider:       "openai",
		AIForceFailure:   "off",
		AIRequestTimeout: time.Second,
		OpenAIModel:      "gpt-4o-mini",
		GeminiModel:      "gemini-2.5-flash",
		JobLease:         time.Minute,
		SweepInterval:    time.Second,
		SweepBatchSize:   5,
		OrphanAfter:      time.Minute,
	}
}

func TestNewMemoryPipeline(t *testing.T) {
	p, err := New(context.Background(), memoryConfig(), infra.NopLogger())
	require.NoError(t, err)
	defer p.Close()

	assert.IsType(t, &memstore.Store{}, p.Blueprints)
	assert.Same(t, p.Blueprints, p.Jobs)
	assert.Nil(t, p.Ping)
	assert.Equal(t, []string{ai.ProviderGemini, ai.ProviderOpenAI}, p.Registry.Names())
	assert.NotNil(t, p.NewSweeper(memoryConfig(), infra.NopLogger()))
}

func TestNewRejectsUnknownDefaultProvider(t *testing.T) {
	cfg := memoryConfig()
	cfg.AIProvider = "claude"
	_, err := New(context.Background(), cfg, infra.NopLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AI_PROVIDER")
}

func TestNewRejectsBadFault(t *testing.T) {
	cfg := memoryConfig()
	cfg.AIForceFailure = "sometimes"
	_, err := New(context.Background(), cfg, infra.NopLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AI_FORCE_FAILURE")
}

func TestProviderRegistryAcceptsAlias(t *testing.T) {
	cfg := memoryConfig()
	cfg.AIProvider = "Google"
	registry, err := NewProviderRegistry(context.Background(), cfg, nil, infra.NopLogger())
	require.NoError(t, err)
	assert.Equal(t, ai.ProviderGemini, registry.DefaultName())
}
