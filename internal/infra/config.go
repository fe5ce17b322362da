package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	MetricsPort string
	DatabaseURL string
	StoreDriver string
	JWTSecret   string

	// AuthIssuer enables RS256 tokens from an OpenID issuer.
	AuthIssuer   string
	AuthAudience string

	AIProvider       string
	AIForceFailure   string
	AIRequestTimeout time.Duration
	GeminiAPIKey     string
	GeminiModel      string
	GeminiBaseURL    string
	OpenAIAPIKey     string
	OpenAIModel      string
	OpenAIBaseURL    string
	OpenAIOrg        string

	SweepInterval     time.Duration
	SweepBatchSize    int
	JobLease          time.Duration
	OrphanAfter       time.Duration
	DispatchWorkers   int
	DispatchQueueSize int

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int

	// OTLPEndpoint is a host:port for the OTLP gRPC trace exporter. Spans are
	// not exported when it is empty.
	OTLPEndpoint    string
	OTLPInsecure    bool
	TraceSampleRate float64
}

// leaseHeadroom is how much longer than one provider call a job lease must
// last. The lease is renewed before each attempt, so it only has to cover one
// call plus the store writes that settle it.
const leaseHeadroom = 30 * time.Second

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		MetricsPort: getEnv("METRICS_PORT", "9090"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
		JWTSecret:   os.Getenv("JWT_SECRET"),

		AuthIssuer:   strings.TrimRight(os.Getenv("AUTH_ISSUER"), "/"),
		AuthAudience: os.Getenv("AUTH_AUDIENCE"),

		AIProvider:       getEnv("AI_PROVIDER", "openai"),
		AIForceFailure:   getEnv("AI_FORCE_FAILURE", "off"),
		AIRequestTimeout: getEnvSeconds("AI_REQUEST_TIMEOUT_SECONDS", 60),
		GeminiAPIKey:     os.Getenv("GEMINI_API_KEY"),
		GeminiModel:      getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiBaseURL:    getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:      getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIOrg:        os.Getenv("OPENAI_ORG"),

		SweepInterval:     getEnvSeconds("SWEEP_INTERVAL_SECONDS", 5),
		SweepBatchSize:    getEnvInt("SWEEP_BATCH_SIZE", 10),
		JobLease:          getEnvSeconds("JOB_LEASE_SECONDS", 120),
		OrphanAfter:       getEnvSeconds("ORPHAN_AFTER_SECONDS", 600),
		DispatchWorkers:   getEnvInt("DISPATCH_WORKERS", 4),
		DispatchQueueSize: getEnvInt("DISPATCH_QUEUE_SIZE", 64),

		HTTPReadTimeout:  getEnvSeconds("HTTP_READ_TIMEOUT_SECONDS", 15),
		HTTPWriteTimeout: getEnvSeconds("HTTP_WRITE_TIMEOUT_SECONDS", 30),
		HTTPIdleTimeout:  getEnvSeconds("HTTP_IDLE_TIMEOUT_SECONDS", 60),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),

		OTLPEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPInsecure:    getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		TraceSampleRate: getEnvFloat("OTEL_TRACES_SAMPLE_RATE", 1.0),
	}

	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required")
		}
	case StoreDriverMemory:
	default:
		return nil, fmt.Errorf("STORE_DRIVER must be %q or %q", StoreDriverPostgres, StoreDriverMemory)
	}

	if cfg.JWTSecret == "" && cfg.AuthIssuer == "" {
		return nil, fmt.Errorf("JWT_SECRET or AUTH_ISSUER is required")
	}

	if cfg.SweepBatchSize <= 0 {
		return nil, fmt.Errorf("SWEEP_BATCH_SIZE must be positive")
	}

	if cfg.JobLease < cfg.AIRequestTimeout+leaseHeadroom {
		return nil, fmt.Errorf("JOB_LEASE_SECONDS (%s) must be at least AI_REQUEST_TIMEOUT_SECONDS (%s) plus %s",
			cfg.JobLease, cfg.AIRequestTimeout, leaseHeadroom)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvSeconds(key string, fallback int) time.Duration {
	return time.Second * time.Duration(getEnvInt(key, fallback))
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
