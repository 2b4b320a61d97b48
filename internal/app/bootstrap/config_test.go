package bootstrap

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const testSecret = "bootstrap-secret-0123456789abcdef"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaultsWithMemoryDriver(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("JWT_SECRET", testSecret)

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.TokenTTL != 8*24*time.Hour {
		t.Fatalf("expected 8 day token ttl, got %s", cfg.TokenTTL)
	}
	if cfg.BcryptCost != 12 {
		t.Fatalf("expected bcrypt cost 12, got %d", cfg.BcryptCost)
	}
	if cfg.PolicyMatcher != "regex" {
		t.Fatalf("expected regex matcher, got %q", cfg.PolicyMatcher)
	}
}

func TestLoadConfigFileThenEnv(t *testing.T) {
	path := writeConfig(t, `
service:
  http_port: 7000
dependencies:
  postgres_url: postgres://file
  redis_url: redis://file:6379
auth:
  access_token_expire_minutes: 60
  bcrypt_rounds: 13
  trusted_proxies: [10.0.0.0/8]
policy:
  matcher: literal
`)
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("HTTP_PORT", "7100")
	t.Setenv("DATABASE_URL", "postgres://env")
	t.Setenv("KAFKA_BROKERS", "k1:9092, ,k2:9092")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.HTTPPort != 7100 {
		t.Fatalf("expected env http port, got %d", cfg.HTTPPort)
	}
	if cfg.DatabaseURL != "postgres://env" || cfg.RedisURL != "redis://file:6379" {
		t.Fatalf("unexpected dependency urls %q %q", cfg.DatabaseURL, cfg.RedisURL)
	}
	if cfg.TokenTTL != time.Hour || cfg.BcryptCost != 13 || cfg.PolicyMatcher != "literal" {
		t.Fatalf("file values not applied: ttl=%s cost=%d matcher=%s", cfg.TokenTTL, cfg.BcryptCost, cfg.PolicyMatcher)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("unexpected brokers %v", cfg.KafkaBrokers)
	}
	if len(cfg.TrustedProxies) != 1 || cfg.TrustedProxies[0] != "10.0.0.0/8" {
		t.Fatalf("unexpected trusted proxies %v", cfg.TrustedProxies)
	}
}

func TestLoadConfigBcryptFloorDependsOnDriver(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("BCRYPT_ROUNDS", "4")

	t.Setenv("STORAGE_DRIVER", "memory")
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("memory driver must accept the minimum cost: %v", err)
	}
	if cfg.BcryptCost != 4 {
		t.Fatalf("expected cost 4, got %d", cfg.BcryptCost)
	}

	t.Setenv("STORAGE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://env")
	t.Setenv("REDIS_URL", "redis://env:6379")
	if _, err := LoadConfig(""); err == nil {
		t.Fatal("postgres driver must reject bcrypt cost below 12")
	}
	t.Setenv("BCRYPT_ROUNDS", "12")
	if _, err := LoadConfig(""); err != nil {
		t.Fatalf("postgres driver must accept cost 12: %v", err)
	}
}

func TestLoadConfigRejectsInvalidSettings(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{name: "short secret", env: map[string]string{"STORAGE_DRIVER": "memory", "JWT_SECRET": "short"}},
		{name: "postgres without url", env: map[string]string{"STORAGE_DRIVER": "postgres", "JWT_SECRET": testSecret, "REDIS_URL": "redis://x", "DATABASE_URL": "", "DB_URL": ""}},
		{name: "unknown driver", env: map[string]string{"STORAGE_DRIVER": "sqlite", "JWT_SECRET": testSecret}},
		{name: "bcrypt cost", env: map[string]string{"STORAGE_DRIVER": "memory", "JWT_SECRET": testSecret, "BCRYPT_ROUNDS": "40"}},
		{name: "trusted proxy", env: map[string]string{"STORAGE_DRIVER": "memory", "JWT_SECRET": testSecret, "TRUSTED_PROXIES": "10.0.0.0/8,not-an-ip"}},
		{name: "matcher", env: map[string]string{"STORAGE_DRIVER": "memory", "JWT_SECRET": testSecret, "POLICY_MATCHER": "glob"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := LoadConfig(""); err == nil {
				t.Fatal("expected config error")
			}
		})
	}
}

func TestLoadConfigRejectsMalformedFile(t *testing.T) {
	path := writeConfig(t, "service: [unterminated")
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("JWT_SECRET", testSecret)
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected parse error")
	}
}
