package infra

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("AI_PROVIDER", "")
	t.Setenv("AI_FORCE_FAILURE", "")
	t.Setenv("SWEEP_BATCH_SIZE", "")
	t.Setenv("JOB_LEASE_SECONDS", "")
	t.Setenv("AI_REQUEST_TIMEOUT_SECONDS", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("OTEL_TRACES_SAMPLE_RATE", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.StoreDriver != StoreDriverPostgres {
		t.Fatalf("StoreDriver = %q, want %q", cfg.StoreDriver, StoreDriverPostgres)
	}
	if cfg.AIProvider != "openai" {
		t.Fatalf("AIProvider = %q, want %q", cfg.AIProvider, "openai")
	}
	if cfg.AIForceFailure != "off" {
		t.Fatalf("AIForceFailure = %q, want %q", cfg.AIForceFailure, "off")
	}
	if cfg.SweepBatchSize != 10 {
		t.Fatalf("SweepBatchSize = %d, want 10", cfg.SweepBatchSize)
	}
	if cfg.JobLease != 120*time.Second {
		t.Fatalf("JobLease = %s, want 2m", cfg.JobLease)
	}
	if cfg.OTLPEndpoint != "" || cfg.TraceSampleRate != 1.0 {
		t.Fatalf("tracing = %q at %v, want no exporter sampling everything", cfg.OTLPEndpoint, cfg.TraceSampleRate)
	}
}

func TestLoadConfigMemoryDriverSkipsDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("STORE_DRIVER", "MEMORY")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.StoreDriver != StoreDriverMemory {
		t.Fatalf("StoreDriver = %q, want %q", cfg.StoreDriver, StoreDriverMemory)
	}
}

func TestLoadConfigRequiresDatabaseURLForPostgres(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("STORE_DRIVER", "postgres")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error when DATABASE_URL is missing")
	}
}

func TestLoadConfigRejectsUnknownDriver(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("STORE_DRIVER", "mongo")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for unsupported store driver")
	}
}

func TestLoadConfigParsesDurations(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("SWEEP_INTERVAL_SECONDS", "7")
	t.Setenv("ORPHAN_AFTER_SECONDS", "not-a-number")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.SweepInterval != 7*time.Second {
		t.Fatalf("SweepInterval = %s, want 7s", cfg.SweepInterval)
	}
	if cfg.OrphanAfter != 600*time.Second {
		t.Fatalf("OrphanAfter = %s, want fallback 10m", cfg.OrphanAfter)
	}
}

func TestLoadConfigAcceptsIssuerWithoutSecret(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("AUTH_ISSUER", "https://id.example/")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.AuthIssuer != "https://id.example" {
		t.Fatalf("AuthIssuer = %q, want trailing slash trimmed", cfg.AuthIssuer)
	}
}

func TestLoadConfigRequiresSomeAuth(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("AUTH_ISSUER", "")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error without JWT_SECRET or AUTH_ISSUER")
	}
}

func TestLoadConfigRejectsLeaseShorterThanAttempt(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("AI_REQUEST_TIMEOUT_SECONDS", "60")

	t.Setenv("JOB_LEASE_SECONDS", "61")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error when a lease can run out during one provider call")
	}

	t.Setenv("JOB_LEASE_SECONDS", "90")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.JobLease != 90*time.Second {
		t.Fatalf("JobLease = %s, want 90s", cfg.JobLease)
	}
}

func TestLoadConfigTracing(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "true")
	t.Setenv("OTEL_TRACES_SAMPLE_RATE", "0.25")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.OTLPEndpoint != "collector:4317" || !cfg.OTLPInsecure || cfg.TraceSampleRate != 0.25 {
		t.Fatalf("tracing config = %q insecure=%v rate=%v", cfg.OTLPEndpoint, cfg.OTLPInsecure, cfg.TraceSampleRate)
	}
}
