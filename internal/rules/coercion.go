// internal/rules/coercion.go
package rules

import (
	"strconv"
	"strings"

	"github.com/solatis/crawlgate/internal/types"
)

/*
 * Type coercion for condition evaluation.
 *
 * Extracted fields and condition values are Scalars (string, number or bool).
 * Operators need one of two views of them:
 *
 *   - NUMERIC: Strict - numbers pass through, numeric strings are parsed,
 *     booleans and empty strings fail.
 *   - TEXT: Lenient - every variant renders to its string form.
 *
 * Null (a zero Scalar) is reported separately from coercion failure. A null
 * field behaves as empty text; a failed numeric coercion makes the numeric
 * operators evaluate false instead of erroring.
 */

// FieldType is the comparison view an operator needs.
type FieldType int

const (
	FieldTypeUnspecified FieldType = iota
	FieldTypeNumeric
	FieldTypeText
)

// CoercionResult holds the coerced value or indicates null.
type CoercionResult struct {
	Value  types.Scalar // coerced value (valid only if !IsNull)
	IsNull bool         // true if input held no value
}

// Coerce converts value to the requested view.
// Returns CoercionResult with IsNull=true for a zero Scalar.
// Returns ErrCoercionFailed for impossible coercions.
func Coerce(value types.Scalar, fieldType FieldType) (CoercionResult, error) {
	if value.IsZero() {
		return CoercionResult{IsNull: true}, nil
	}

	switch fieldType {
	case FieldTypeNumeric:
		return coerceNumeric(value)
	case FieldTypeText, FieldTypeUnspecified:
		return CoercionResult{Value: types.StringValue(value.Text())}, nil
	default:
		return CoercionResult{}, types.ErrCoercionFailed
	}
}

// coerceNumeric accepts numbers and numeric strings; rejects booleans.
// Whitespace-only strings are not numbers.
func coerceNumeric(value types.Scalar) (CoercionResult, error) {
	switch value.Kind() {
	case types.ScalarNumber:
		return CoercionResult{Value: value}, nil
	case types.ScalarString:
		s := strings.TrimSpace(value.Text())
		if s == "" {
			return CoercionResult{}, types.ErrCoercionFailed
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return CoercionResult{}, types.ErrCoercionFailed
		}
		return CoercionResult{Value: types.NumberValue(f)}, nil
	default:
		return CoercionResult{}, types.ErrCoercionFailed
	}
}

// ToNumber is the shorthand used by operators: the numeric view of v and
// whether coercion succeeded.
func ToNumber(v types.Scalar) (float64, bool) {
	res, err := Coerce(v, FieldTypeNumeric)
	if err != nil || res.IsNull {
		return 0, false
	}
	n, _ := res.Value.Number()
	return n, true
}
