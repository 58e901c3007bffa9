package config

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ErrSecretInConfig is returned when a config file carries an HMAC secret.
var ErrSecretInConfig = errors.Newf("HMAC secrets not allowed in config files (use %s_HMAC_SECRET environment variable)", envPrefix)

var validate = validator.New()

// FlagBinding maps a config key onto a command-line flag.
type FlagBinding struct {
	Key  string
	Flag *pflag.Flag
}

// LoadConfig loads configuration using viper.
// CLI flags > environment (CG_ prefix) > config file > defaults.
func LoadConfig(configPath string, flags ...FlagBinding) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, b := range flags {
		if b.Flag == nil {
			continue
		}
		if err := v.BindPFlag(b.Key, b.Flag); err != nil {
			return nil, errors.Wrapf(err, "bind flag %s", b.Flag.Name)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(err, "read config file")
		}
	}

	// Secrets are environment-only.
	if err := validateNoSecretsInConfig(v); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.request_timeout", d.Server.RequestTimeout)
	v.SetDefault("server.metrics_addr", d.Server.MetricsAddr)
	v.SetDefault("server.data_dir", d.Server.DataDir)

	v.SetDefault("engine.default_currency", d.Engine.DefaultCurrency)
	v.SetDefault("engine.default_price_type", d.Engine.DefaultPriceType)
	v.SetDefault("engine.max_price", d.Engine.MaxPrice)
	v.SetDefault("engine.rule_store_timeout", d.Engine.RuleStoreTimeout)
	v.SetDefault("engine.rule_store_attempts", d.Engine.RuleStoreAttempts)
	v.SetDefault("engine.counter_timeout", d.Engine.CounterTimeout)
	v.SetDefault("engine.frequency_window", d.Engine.FrequencyWindow)
	v.SetDefault("engine.count_window", d.Engine.CountWindow)
	v.SetDefault("engine.snapshot_ttl", d.Engine.SnapshotTTL)

	v.SetDefault("cache.enabled", d.Cache.Enabled)
	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("cache.size", d.Cache.Size)
	v.SetDefault("cache.time_bucket", d.Cache.TimeBucket)

	v.SetDefault("geo.database_path", d.Geo.DatabasePath)

	v.SetDefault("events.enabled", d.Events.Enabled)
	v.SetDefault("events.buffer_size", d.Events.BufferSize)
}

func validateNoSecretsInConfig(v *viper.Viper) error {
	if v.InConfig("hmac_secret") || v.InConfig("server.hmac_secret") {
		return ErrSecretInConfig
	}
	return nil
}
