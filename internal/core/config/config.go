// Package config provides configuration management for crawlgate services.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/solatis/crawlgate/internal/rules"
)

// envPrefix prefixes every environment variable read by crawlgate.
const envPrefix = "CG"

// Config is the full service configuration.
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Engine EngineConfig `mapstructure:"engine"`
	Cache  CacheConfig  `mapstructure:"cache"`
	Geo    GeoConfig    `mapstructure:"geo"`
	Events EventsConfig `mapstructure:"events"`
}

// ServerConfig holds the gRPC listener and metrics endpoint settings.
type ServerConfig struct {
	Host           string        `mapstructure:"host" validate:"required"`
	Port           int           `mapstructure:"port" validate:"min=1,max=65535"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
	MetricsAddr    string        `mapstructure:"metrics_addr"`
	DataDir        string        `mapstructure:"data_dir" validate:"required"`
}

// EngineConfig holds rule engine tuning.
type EngineConfig struct {
	DefaultCurrency   string        `mapstructure:"default_currency" validate:"required,len=3,alpha"`
	DefaultPriceType  string        `mapstructure:"default_price_type" validate:"required,oneof=per_request per_minute per_mb flat_rate"`
	MaxPrice          float64       `mapstructure:"max_price" validate:"gt=0"`
	RuleStoreTimeout  time.Duration `mapstructure:"rule_store_timeout" validate:"gt=0"`
	RuleStoreAttempts int           `mapstructure:"rule_store_attempts" validate:"min=1,max=10"`
	CounterTimeout    time.Duration `mapstructure:"counter_timeout" validate:"gt=0"`
	FrequencyWindow   time.Duration `mapstructure:"frequency_window" validate:"gte=1s"`
	CountWindow       time.Duration `mapstructure:"count_window" validate:"gte=1s"`
	SnapshotTTL       time.Duration `mapstructure:"snapshot_ttl" validate:"gte=0"`
}

// CacheConfig holds evaluation cache settings.
type CacheConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	TTL        time.Duration `mapstructure:"ttl" validate:"gt=0"`
	Size       int           `mapstructure:"size" validate:"min=1"`
	TimeBucket time.Duration `mapstructure:"time_bucket" validate:"gte=1s"`
}

// GeoConfig locates the GeoIP country database. Empty disables IP lookup.
type GeoConfig struct {
	DatabasePath string `mapstructure:"database_path"`
}

// EventsConfig holds evaluation event sink settings.
type EventsConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	BufferSize int  `mapstructure:"buffer_size" validate:"min=1"`
}

// Default returns configuration with default values.
func Default() *Config {
	engine := rules.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           50061,
			RequestTimeout: 30 * time.Second,
			MetricsAddr:    ":9090",
			DataDir:        "./data",
		},
		Engine: EngineConfig{
			DefaultCurrency:   engine.DefaultCurrency,
			DefaultPriceType:  engine.DefaultPriceType,
			MaxPrice:          engine.MaxPrice,
			RuleStoreTimeout:  engine.RuleStoreTimeout,
			RuleStoreAttempts: engine.RuleStoreAttempts,
			CounterTimeout:    engine.CounterTimeout,
			FrequencyWindow:   engine.FrequencyWindow,
			CountWindow:       engine.CountWindow,
			SnapshotTTL:       5 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:    true,
			TTL:        30 * time.Second,
			Size:       10000,
			TimeBucket: engine.CacheTimeBucket,
		},
		Events: EventsConfig{
			Enabled:    true,
			BufferSize: 1024,
		},
	}
}

// Rules converts the engine section into the rule engine's configuration.
func (c *Config) Rules() rules.Config {
	return rules.Config{
		DefaultCurrency:   strings.ToUpper(c.Engine.DefaultCurrency),
		DefaultPriceType:  c.Engine.DefaultPriceType,
		MaxPrice:          c.Engine.MaxPrice,
		RuleStoreTimeout:  c.Engine.RuleStoreTimeout,
		RuleStoreAttempts: c.Engine.RuleStoreAttempts,
		CounterTimeout:    c.Engine.CounterTimeout,
		FrequencyWindow:   c.Engine.FrequencyWindow,
		CountWindow:       c.Engine.CountWindow,
		CacheTimeBucket:   c.Cache.TimeBucket,
	}
}

// Addr returns the gRPC listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// HMACSecrets extracts HMAC secrets from environment variables.
// Supports CG_HMAC_SECRET (single) and CG_HMAC_SECRET_N (rotation).
// Returns map of secret_id -> decoded secret bytes.
// Secret IDs are 32 hex chars (UUIDv7 without hyphens) matching the API key format.
func HMACSecrets() (map[string][]byte, error) {
	secrets := make(map[string][]byte)

	add := func(name, val string) error {
		secretID, decoded, err := ParseHMACSecretWithID(val)
		if err != nil {
			return errors.Wrap(err, name)
		}
		if _, exists := secrets[secretID]; exists {
			return errors.Newf("duplicate secret_id %q in %s (check %s_HMAC_SECRET and %s_HMAC_SECRET_* for conflicts)", secretID, name, envPrefix, envPrefix)
		}
		secrets[secretID] = decoded
		return nil
	}

	single := envPrefix + "_HMAC_SECRET"
	if val := os.Getenv(single); val != "" {
		if err := add(single, val); err != nil {
			return nil, err
		}
	}

	// Numbered secrets keep old and new keys valid during rotation.
	for i := 1; ; i++ {
		name := fmt.Sprintf("%s_HMAC_SECRET_%d", envPrefix, i)
		val := os.Getenv(name)
		if val == "" {
			break
		}
		if err := add(name, val); err != nil {
			return nil, err
		}
	}

	return secrets, nil
}

// ParseHMACSecret decodes a base64 HMAC secret of at least 32 bytes.
func ParseHMACSecret(encoded string) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, errors.Wrap(err, "invalid base64 encoding")
	}
	if len(decoded) < 32 {
		return nil, errors.Newf("secret must be at least 32 bytes, got %d", len(decoded))
	}
	return decoded, nil
}

// ParseHMACSecretWithID parses the secret_id:base64_secret format.
func ParseHMACSecretWithID(envValue string) (secretID string, secret []byte, err error) {
	id, encoded, ok := strings.Cut(strings.TrimSpace(envValue), ":")
	if !ok {
		return "", nil, errors.New("format must be <secret_id>:<base64_secret>")
	}
	if !isLowerHex(id, 32) {
		return "", nil, errors.New("secret_id must be 32 lowercase hex chars (UUIDv7 without hyphens)")
	}

	secret, err = ParseHMACSecret(encoded)
	if err != nil {
		return "", nil, err
	}
	return id, secret, nil
}

func isLowerHex(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}
