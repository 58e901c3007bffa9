// internal/rules/config.go
package rules

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
)

// Config holds engine tuning. Populated from internal/core/config by the
// serve command; DefaultConfig serves tests and CLI tooling.
type Config struct {
	DefaultCurrency   string        `validate:"required,len=3,alpha"`
	DefaultPriceType  string        `validate:"required,oneof=per_request per_minute per_mb flat_rate"`
	MaxPrice          float64       `validate:"gt=0"`
	RuleStoreTimeout  time.Duration `validate:"gt=0"`
	RuleStoreAttempts int           `validate:"min=1,max=10"`
	CounterTimeout    time.Duration `validate:"gt=0"`
	FrequencyWindow   time.Duration `validate:"gte=1s"`
	CountWindow       time.Duration `validate:"gte=1s"`
	CacheTimeBucket   time.Duration `validate:"gte=1s"`
}

// DefaultConfig returns the defaults also used by the config package.
func DefaultConfig() Config {
	return Config{
		DefaultCurrency:   "USD",
		DefaultPriceType:  "per_request",
		MaxPrice:          1000,
		RuleStoreTimeout:  250 * time.Millisecond,
		RuleStoreAttempts: 2,
		CounterTimeout:    20 * time.Millisecond,
		FrequencyWindow:   time.Minute,
		CountWindow:       24 * time.Hour,
		CacheTimeBucket:   time.Minute,
	}
}

var validate = validator.New()

// Validate checks the configuration. Errors are fatal at Initialize.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "invalid engine config")
	}
	return nil
}
