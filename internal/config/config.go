package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	ListenAddr  string

	OTLPEndpoint string

	APIKeyHashSecret string
	CredentialJWTKey string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	GitHub      GitHubConfig
	Facilitator FacilitatorConfig
	Escrow      EscrowConfig
	Upstream    UpstreamConfig
	RateLimit   RateLimitConfig
	Sweep       SweepConfig
}

// GitHubConfig configures the repository-metadata API used for slug
// validation and auto-provisioning.
type GitHubConfig struct {
	APIBaseURL string
	Token      string
	Timeout    time.Duration
}

// FacilitatorConfig configures the ordered payment facilitator backends.
type FacilitatorConfig struct {
	AttemptTimeout time.Duration

	CDPBaseURL   string
	CDPKeyID     string
	CDPKeySecret string

	FallbackURLs []string
}

// EscrowConfig configures the pay-per-call settlement path.
type EscrowConfig struct {
	FundingPrivateKey string
	MinBalanceBuffer  string
	RequestTimeout    time.Duration
	Network           string
	Asset             string
}

// UpstreamConfig configures the provider endpoint proxied calls are
// forwarded to.
type UpstreamConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// RateLimitConfig configures the redis-backed proxy rate limiter.
type RateLimitConfig struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	ProxyRate     float64
	ProxyBurst    int
	LockTTL       time.Duration
}

// SweepConfig configures the credit expiry sweep loop.
type SweepConfig struct {
	Enabled  bool
	Interval time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "tollgate"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		ListenAddr:        getenv("LISTEN_ADDR", ":8080"),
		OTLPEndpoint:      getenv("OTLP_ENDPOINT", "localhost:4317"),
		APIKeyHashSecret:  strings.TrimSpace(getenv("API_KEY_HASH_SECRET", "")),
		CredentialJWTKey:  strings.TrimSpace(getenv("CREDENTIAL_JWT_KEY", "")),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "tollgate"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 600),
		GitHub: GitHubConfig{
			APIBaseURL: getenv("GITHUB_API_BASE_URL", "https://api.github.com"),
			Token:      strings.TrimSpace(getenv("GITHUB_TOKEN", "")),
			Timeout:    getenvDuration("GITHUB_API_TIMEOUT", 5*time.Second),
		},
		Facilitator: FacilitatorConfig{
			AttemptTimeout: getenvDuration("FACILITATOR_ATTEMPT_TIMEOUT", 10*time.Second),
			CDPBaseURL:     getenv("FACILITATOR_CDP_BASE_URL", "https://api.cdp.coinbase.com/platform/v2/x402"),
			CDPKeyID:       strings.TrimSpace(getenv("FACILITATOR_CDP_KEY_ID", "")),
			CDPKeySecret:   strings.TrimSpace(getenv("FACILITATOR_CDP_KEY_SECRET", "")),
			FallbackURLs:   splitList(getenv("FACILITATOR_FALLBACK_URLS", "")),
		},
		Escrow: EscrowConfig{
			FundingPrivateKey: strings.TrimSpace(getenv("ESCROW_FUNDING_PRIVATE_KEY", "")),
			MinBalanceBuffer:  getenv("ESCROW_MIN_BALANCE_BUFFER", "0.50"),
			RequestTimeout:    getenvDuration("ESCROW_REQUEST_TIMEOUT", 30*time.Second),
			Network:           getenv("ESCROW_NETWORK", "base"),
			Asset:             getenv("ESCROW_ASSET", "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"),
		},
		Upstream: UpstreamConfig{
			BaseURL: strings.TrimRight(getenv("UPSTREAM_BASE_URL", "https://api.openai.com"), "/"),
			APIKey:  strings.TrimSpace(getenv("UPSTREAM_API_KEY", "")),
			Timeout: getenvDuration("UPSTREAM_TIMEOUT", 60*time.Second),
		},
		RateLimit: RateLimitConfig{
			Enabled:       getenvBool("RATE_LIMIT_ENABLED", false),
			RedisAddr:     strings.TrimSpace(getenv("RATE_LIMIT_REDIS_ADDR", "")),
			RedisPassword: getenv("RATE_LIMIT_REDIS_PASSWORD", ""),
			RedisDB:       getenvInt("RATE_LIMIT_REDIS_DB", 0),
			ProxyRate:     getenvFloat("RATE_LIMIT_PROXY_RATE", 10),
			ProxyBurst:    getenvInt("RATE_LIMIT_PROXY_BURST", 20),
			LockTTL:       getenvDuration("RATE_LIMIT_LOCK_TTL", 15*time.Second),
		},
		Sweep: SweepConfig{
			Enabled:  getenvBool("SWEEP_ENABLED", true),
			Interval: getenvDuration("SWEEP_INTERVAL", time.Hour),
		},
	}

	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
