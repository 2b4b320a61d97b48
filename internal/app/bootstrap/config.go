package bootstrap

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"

	minJWTSecretLength = 32
	// Durable deployments keep bcrypt at cost 12 or above; the memory driver
	// may go down to bcrypt.MinCost for local runs and tests.
	minDurableBcryptCost = 12
)

// Config is the resolved runtime configuration for the tenant access service.
type Config struct {
	ServiceID string

	HTTPPort int
	GRPCPort int

	StorageDriver string
	DatabaseURL   string
	RedisURL      string
	MaxDBConns    int32

	JWTSecret string
	JWTIssuer string
	TokenTTL  time.Duration

	BcryptCost  int
	HashWorkers int

	FailedThreshold int
	LockoutDuration time.Duration

	AuthRateLimitPerSecond float64
	AuthRateLimitBurst     int
	TrustedProxies         []string

	PolicyMatcher    string
	PatternCacheSize int
	PolicyChannel    string

	KafkaBrokers       []string
	OutboxTopic        string
	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxClaimTTL     time.Duration
	OutboxMaxRetries   int
}

// configFile mirrors the YAML schema used by configs/default.yaml.
type configFile struct {
	Service struct {
		ID       string `yaml:"id"`
		HTTPPort int    `yaml:"http_port"`
		GRPCPort int    `yaml:"grpc_port"`
	} `yaml:"service"`
	Storage struct {
		Driver string `yaml:"driver"`
	} `yaml:"storage"`
	Dependencies struct {
		PostgresURL  string   `yaml:"postgres_url"`
		RedisURL     string   `yaml:"redis_url"`
		KafkaBrokers []string `yaml:"kafka_brokers"`
	} `yaml:"dependencies"`
	Auth struct {
		JWTIssuer                string   `yaml:"jwt_issuer"`
		AccessTokenExpireMinutes int      `yaml:"access_token_expire_minutes"`
		BcryptRounds             int      `yaml:"bcrypt_rounds"`
		FailedLoginThreshold     int      `yaml:"failed_login_threshold"`
		LockoutMinutes           int      `yaml:"lockout_minutes"`
		RateLimitPerSecond       float64  `yaml:"rate_limit_per_second"`
		RateLimitBurst           int      `yaml:"rate_limit_burst"`
		TrustedProxies           []string `yaml:"trusted_proxies"`
	} `yaml:"auth"`
	Policy struct {
		Matcher          string `yaml:"matcher"`
		PatternCacheSize int    `yaml:"pattern_cache_size"`
		Channel          string `yaml:"channel"`
	} `yaml:"policy"`
	Outbox struct {
		Topic string `yaml:"topic"`
	} `yaml:"outbox"`
}

// LoadConfig resolves configuration in priority order: defaults -> file -> env.
// A missing file is not an error.
func LoadConfig(path string) (Config, error) {
	cfg := Config{
		ServiceID:              "M98-Tenant-Access-Service",
		HTTPPort:               8080,
		GRPCPort:               9090,
		StorageDriver:          StorageDriverPostgres,
		MaxDBConns:             20,
		JWTIssuer:              "tenant-access",
		TokenTTL:               8 * 24 * time.Hour,
		BcryptCost:             12,
		FailedThreshold:        5,
		LockoutDuration:        15 * time.Minute,
		AuthRateLimitPerSecond: 5,
		AuthRateLimitBurst:     10,
		PolicyMatcher:          "regex",
		PatternCacheSize:       1024,
		PolicyChannel:          "access:policy:changed",
		OutboxTopic:            "tenant-access.events",
		OutboxPollInterval:     2 * time.Second,
		OutboxBatchSize:        100,
		OutboxClaimTTL:         30 * time.Second,
		OutboxMaxRetries:       5,
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err == nil {
			if err := applyFile(&cfg, raw); err != nil {
				return Config{}, err
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(envOrDefault("STORAGE_DRIVER", cfg.StorageDriver)))
	cfg.DatabaseURL = envOrDefault("DATABASE_URL", envOrDefault("DB_URL", cfg.DatabaseURL))
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.JWTSecret = envOrDefault("JWT_SECRET", cfg.JWTSecret)
	cfg.JWTIssuer = envOrDefault("JWT_ISSUER", cfg.JWTIssuer)
	cfg.PolicyMatcher = strings.ToLower(strings.TrimSpace(envOrDefault("POLICY_MATCHER", cfg.PolicyMatcher)))
	cfg.PolicyChannel = envOrDefault("POLICY_CHANNEL", cfg.PolicyChannel)
	cfg.KafkaBrokers = envCSV("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.TrustedProxies = envCSV("TRUSTED_PROXIES", cfg.TrustedProxies)
	cfg.OutboxTopic = envOrDefault("OUTBOX_TOPIC", cfg.OutboxTopic)

	cfg.HTTPPort = envInt("HTTP_PORT", cfg.HTTPPort)
	cfg.GRPCPort = envInt("GRPC_PORT", cfg.GRPCPort)
	cfg.MaxDBConns = int32(envInt("DB_MAX_CONNS", int(cfg.MaxDBConns)))
	cfg.BcryptCost = envInt("BCRYPT_ROUNDS", cfg.BcryptCost)
	cfg.HashWorkers = envInt("HASH_WORKERS", cfg.HashWorkers)
	cfg.FailedThreshold = envInt("FAILED_LOGIN_THRESHOLD", cfg.FailedThreshold)
	cfg.AuthRateLimitPerSecond = envFloat("AUTH_RATE_LIMIT_PER_SECOND", cfg.AuthRateLimitPerSecond)
	cfg.AuthRateLimitBurst = envInt("AUTH_RATE_LIMIT_BURST", cfg.AuthRateLimitBurst)
	cfg.PatternCacheSize = envInt("PATTERN_CACHE_SIZE", cfg.PatternCacheSize)

	cfg.TokenTTL = time.Duration(envInt("ACCESS_TOKEN_EXPIRE_MINUTES", int(cfg.TokenTTL.Minutes()))) * time.Minute
	cfg.LockoutDuration = time.Duration(envInt("ACCOUNT_LOCKOUT_MINUTES", int(cfg.LockoutDuration.Minutes()))) * time.Minute
	cfg.OutboxPollInterval = time.Duration(envInt("OUTBOX_POLL_SECONDS", int(cfg.OutboxPollInterval.Seconds()))) * time.Second
	cfg.OutboxBatchSize = envInt("OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize)
	cfg.OutboxClaimTTL = time.Duration(envInt("OUTBOX_CLAIM_TTL_SECONDS", int(cfg.OutboxClaimTTL.Seconds()))) * time.Second
	cfg.OutboxMaxRetries = envInt("OUTBOX_MAX_RETRIES", cfg.OutboxMaxRetries)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, raw []byte) error {
	var f configFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	if f.Service.ID != "" {
		cfg.ServiceID = f.Service.ID
	}
	if f.Service.HTTPPort > 0 {
		cfg.HTTPPort = f.Service.HTTPPort
	}
	if f.Service.GRPCPort > 0 {
		cfg.GRPCPort = f.Service.GRPCPort
	}
	if f.Storage.Driver != "" {
		cfg.StorageDriver = f.Storage.Driver
	}
	if f.Dependencies.PostgresURL != "" {
		cfg.DatabaseURL = f.Dependencies.PostgresURL
	}
	if f.Dependencies.RedisURL != "" {
		cfg.RedisURL = f.Dependencies.RedisURL
	}
	if len(f.Dependencies.KafkaBrokers) > 0 {
		cfg.KafkaBrokers = f.Dependencies.KafkaBrokers
	}
	if f.Auth.JWTIssuer != "" {
		cfg.JWTIssuer = f.Auth.JWTIssuer
	}
	if f.Auth.AccessTokenExpireMinutes > 0 {
		cfg.TokenTTL = time.Duration(f.Auth.AccessTokenExpireMinutes) * time.Minute
	}
	if f.Auth.BcryptRounds > 0 {
		cfg.BcryptCost = f.Auth.BcryptRounds
	}
	if f.Auth.FailedLoginThreshold > 0 {
		cfg.FailedThreshold = f.Auth.FailedLoginThreshold
	}
	if f.Auth.LockoutMinutes > 0 {
		cfg.LockoutDuration = time.Duration(f.Auth.LockoutMinutes) * time.Minute
	}
	if f.Auth.RateLimitPerSecond > 0 {
		cfg.AuthRateLimitPerSecond = f.Auth.RateLimitPerSecond
	}
	if f.Auth.RateLimitBurst > 0 {
		cfg.AuthRateLimitBurst = f.Auth.RateLimitBurst
	}
	if len(f.Auth.TrustedProxies) > 0 {
		cfg.TrustedProxies = f.Auth.TrustedProxies
	}
	if f.Policy.Matcher != "" {
		cfg.PolicyMatcher = f.Policy.Matcher
	}
	if f.Policy.PatternCacheSize > 0 {
		cfg.PatternCacheSize = f.Policy.PatternCacheSize
	}
	if f.Policy.Channel != "" {
		cfg.PolicyChannel = f.Policy.Channel
	}
	if f.Outbox.Topic != "" {
		cfg.OutboxTopic = f.Outbox.Topic
	}
	return nil
}

func (c Config) validate() error {
	switch c.StorageDriver {
	case StorageDriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("missing DATABASE_URL")
		}
		if c.RedisURL == "" {
			return fmt.Errorf("missing REDIS_URL")
		}
	case StorageDriverMemory:
	default:
		return fmt.Errorf("unsupported STORAGE_DRIVER %q", c.StorageDriver)
	}
	if len(c.JWTSecret) < minJWTSecretLength {
		return fmt.Errorf("JWT_SECRET must be at least %d bytes", minJWTSecretLength)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("ACCESS_TOKEN_EXPIRE_MINUTES must be positive")
	}
	minCost := bcrypt.MinCost
	if c.StorageDriver == StorageDriverPostgres {
		minCost = minDurableBcryptCost
	}
	if c.BcryptCost < minCost || c.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("BCRYPT_ROUNDS must be between %d and %d for the %s driver", minCost, bcrypt.MaxCost, c.StorageDriver)
	}
	for _, proxy := range c.TrustedProxies {
		if _, err := netip.ParsePrefix(proxy); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(proxy); err != nil {
			return fmt.Errorf("TRUSTED_PROXIES entry %q is not an address or CIDR", proxy)
		}
	}
	switch c.PolicyMatcher {
	case "regex", "literal":
	default:
		return fmt.Errorf("unsupported POLICY_MATCHER %q", c.PolicyMatcher)
	}
	return nil
}

// envOrDefault returns an env var when present, otherwise the provided fallback.
func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

// envInt parses integer env vars with safe fallback on empty/invalid values.
func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envFloat(name string, fallback float64) float64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return v
}

// envCSV parses comma-separated env vars and removes empty segments.
func envCSV(name string, fallback []string) []string {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		parts = append(parts, trimmed)
	}
	if len(parts) == 0 {
		return fallback
	}
	return parts
}
