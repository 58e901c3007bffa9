package types

import "github.com/cockroachdb/errors"

// Sentinel errors for crawlgate operations.
var (
	// ErrNotInitialized indicates Evaluate was called before Initialize or after Shutdown.
	ErrNotInitialized = errors.New("rule engine not initialized")

	// ErrMissingPublisher indicates an execution context without a publisher id.
	ErrMissingPublisher = errors.New("publisher id is required")

	// ErrRuleStoreUnavailable indicates the rule store failed or timed out.
	ErrRuleStoreUnavailable = errors.New("rule store unavailable")

	// ErrRuleNotFound indicates a rule id that does not exist in the store.
	ErrRuleNotFound = errors.New("rule not found")

	// ErrRuleOwnedByOther indicates an upsert for a rule id another publisher owns.
	ErrRuleOwnedByOther = errors.New("rule id belongs to another publisher")

	// ErrCounterUnavailable indicates the frequency counter failed or timed out.
	ErrCounterUnavailable = errors.New("frequency counter unavailable")

	// ErrCacheUnavailable indicates the cache backend is not connected.
	ErrCacheUnavailable = errors.New("cache backend unavailable")

	// ErrInvalidScalar indicates a metadata or condition value that is not string, number or bool.
	ErrInvalidScalar = errors.New("value must be a string, number or bool")

	// ErrInvalidMetadata indicates metadata that is not a flat JSON object.
	ErrInvalidMetadata = errors.New("metadata must be a flat object")

	// ErrTooManyMetadataPairs indicates too many metadata key-value pairs.
	ErrTooManyMetadataPairs = errors.New("too many metadata pairs")

	// ErrMetadataKeyTooLong indicates a metadata key exceeds MaxMetadataKeyLength.
	ErrMetadataKeyTooLong = errors.New("metadata key too long")

	// ErrMetadataValueTooLong indicates a metadata value exceeds MaxMetadataValueLength.
	ErrMetadataValueTooLong = errors.New("metadata value too long")

	// ErrEmptyConditions indicates a rule has no conditions.
	ErrEmptyConditions = errors.New("rule has no conditions")

	// ErrTooManyConditions indicates a rule exceeds MaxConditionsPerRule.
	ErrTooManyConditions = errors.New("rule has too many conditions")

	// ErrUnknownConditionType indicates a condition type token that is not recognised.
	ErrUnknownConditionType = errors.New("unknown condition type")

	// ErrInvalidOperator indicates an unknown operator or one incompatible with the condition type.
	ErrInvalidOperator = errors.New("invalid operator for condition type")

	// ErrTooManyInValues indicates an IN/NOT_IN set exceeds MaxSetValues.
	ErrTooManyInValues = errors.New("in operator has too many values")

	// ErrInvalidPattern indicates a regex that fails to compile or exceeds MaxPatternLength.
	ErrInvalidPattern = errors.New("invalid regex pattern")

	// ErrCoercionFailed indicates type coercion failed.
	ErrCoercionFailed = errors.New("type coercion failed")

	// ErrFieldNotFound indicates the request carries no value for a condition type.
	ErrFieldNotFound = errors.New("field not found")
)
