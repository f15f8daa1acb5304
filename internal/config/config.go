// Package config loads the savings gateway configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Config is the full process configuration.
type Config struct {
	HTTP      HTTPConfig
	Log       LogConfig
	Ledger    LedgerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Relay     RelayConfig
	Yield     YieldConfig
	Events    EventsConfig
	Recommend RecommendConfig

	// StrategyFile optionally overrides the compiled-in strategy table.
	StrategyFile string `env:"STRATEGY_FILE"`
}

// HTTPConfig configures the HTTP listener.
type HTTPConfig struct {
	Addr            string        `env:"HTTP_ADDR,default=:8080"`
	CORSOrigins     string        `env:"CORS_ORIGINS,default=*"`
	RateLimitRPS    float64       `env:"RATE_LIMIT_RPS,default=20"`
	RateLimitBurst  int           `env:"RATE_LIMIT_BURST,default=40"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT,default=15s"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `env:"LOG_LEVEL,default=info"`
	Format string `env:"LOG_FORMAT,default=json"`
}

// LedgerConfig configures the ledger RPC endpoint and deployed contract ids.
type LedgerConfig struct {
	RPCURL        string        `env:"LEDGER_RPC_URL,default=https://fullnode.testnet.sui.io:443"`
	Timeout       time.Duration `env:"LEDGER_RPC_TIMEOUT,default=30s"`
	SponsorKey    string        `env:"SPONSOR_PRIVATE_KEY"`
	PackageID     string        `env:"PACKAGE_ID"`
	AdminCapID    string        `env:"ADMIN_CAP_ID"`
	TreasuryCapID string        `env:"TREASURY_CAP_ID"`
	CoinType      string        `env:"COIN_TYPE"`
	GasBudget     uint64        `env:"GAS_BUDGET,default=100000000"`
}

// DatabaseConfig configures the room directory store. An empty DSN selects
// the in-memory store.
type DatabaseConfig struct {
	DSN          string        `env:"DATABASE_URL"`
	MaxOpenConns int           `env:"DATABASE_MAX_OPEN_CONNS,default=10"`
	MaxIdleConns int           `env:"DATABASE_MAX_IDLE_CONNS,default=5"`
	ConnMaxLife  time.Duration `env:"DATABASE_CONN_MAX_LIFETIME,default=30m"`
}

// RedisConfig configures the mint cooldown store. An empty URL selects the
// in-memory limiter.
type RedisConfig struct {
	URL string `env:"REDIS_URL"`
}

// AuthConfig configures identity login and session tokens.
type AuthConfig struct {
	JWTSecret     string        `env:"JWT_SECRET"`
	SessionTTL    time.Duration `env:"SESSION_TTL,default=24h"`
	AdminAPIKey   string        `env:"ADMIN_API_KEY"`
	OAuthClientID string        `env:"OAUTH_CLIENT_ID"`
	TokenInfoURL  string        `env:"OAUTH_TOKENINFO_URL,default=https://oauth2.googleapis.com/tokeninfo"`
	AddressSalt   string        `env:"ADDRESS_SALT"`
}

// RelayConfig configures the transaction relay.
type RelayConfig struct {
	MintMaxAmount  float64       `env:"MINT_MAX_AMOUNT,default=1000"`
	MintCooldown   time.Duration `env:"MINT_COOLDOWN,default=1h"`
	AutoStartDelay time.Duration `env:"AUTO_START_DELAY,default=5s"`
	AutoStart      bool          `env:"AUTO_START,default=true"`
	DiscoveryDelay time.Duration `env:"DISCOVERY_DELAY,default=2s"`
}

// YieldConfig configures the yield write-back queue and sweeper.
type YieldConfig struct {
	QueueSize     int    `env:"YIELD_QUEUE_SIZE,default=256"`
	SweepSchedule string `env:"YIELD_SWEEP_SCHEDULE,default=@every 15m"`
}

// EventsConfig bounds event queries.
type EventsConfig struct {
	PageLimit int `env:"EVENT_PAGE_LIMIT,default=50"`
	MaxEvents int `env:"EVENT_MAX,default=500"`
}

// RecommendConfig configures the text-generation backend.
type RecommendConfig struct {
	BaseURL string        `env:"RECOMMENDER_URL,default=https://api.openai.com/v1"`
	APIKey  string        `env:"RECOMMENDER_API_KEY"`
	Model   string        `env:"RECOMMENDER_MODEL,default=gpt-4o-mini"`
	Timeout time.Duration `env:"RECOMMENDER_TIMEOUT,default=20s"`
}

// Load reads an optional .env file and decodes the environment.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if file == "" {
			continue
		}
		if err := godotenv.Load(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", file, err)
		}
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	return &cfg, nil
}

// Origins returns the configured CORS origins.
func (c HTTPConfig) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// ValidateServe checks the settings required to run the HTTP server.
func (c *Config) ValidateServe() error {
	var missing []string
	if c.Ledger.RPCURL == "" {
		missing = append(missing, "LEDGER_RPC_URL")
	}
	if c.Ledger.SponsorKey == "" {
		missing = append(missing, "SPONSOR_PRIVATE_KEY")
	}
	if c.Ledger.PackageID == "" {
		missing = append(missing, "PACKAGE_ID")
	}
	if c.Auth.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if c.Events.PageLimit <= 0 || c.Events.PageLimit > 50 {
		return fmt.Errorf("EVENT_PAGE_LIMIT must be between 1 and 50")
	}
	if c.Relay.MintMaxAmount <= 0 {
		return fmt.Errorf("MINT_MAX_AMOUNT must be positive")
	}
	return nil
}
