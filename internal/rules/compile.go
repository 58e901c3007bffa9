// internal/rules/compile.go
package rules

import (
	"net/netip"
	"regexp"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/solatis/crawlgate/internal/geo"
	"github.com/solatis/crawlgate/internal/types"
)

/*
 * Rule compilation.
 *
 * Compiles a PricingRule into a CompiledRule whose conditions are parsed once
 * and ordered by evaluation cost.
 *
 * Compilation workflow:
 *   1. Reject empty and oversized condition lists
 *   2. Reject unknown condition types and operators
 *   3. Pre-parse comparison values: lower-cased text, numeric view, CIDR
 *      prefixes for ip_address, comma-separated sets for in/not_in, and
 *      case-insensitive regexes (memoised across compilations)
 *   4. Order conditions by ascending cost (stable sort)
 *
 * A compile error makes only its own rule non-matching; the matcher records it
 * and carries on with the rest of the rule set.
 *
 * Stable sort keeps equal-cost conditions in declaration order so evaluation
 * is deterministic across identical inputs.
 */

const patternCacheSize = 1024

var patternCache, _ = lru.New[string, *regexp.Regexp](patternCacheSize)

// setEntry is one pre-parsed member of an in/not_in set.
type setEntry struct {
	text    string
	number  float64
	numeric bool
	prefix  netip.Prefix
	isCIDR  bool
}

// CompiledCondition is a pre-processed condition ready for evaluation.
type CompiledCondition struct {
	Type     types.ConditionType
	Operator types.ConditionOperator
	Value    types.Scalar
	Index    int // declaration position within the rule
	Cost     int

	value   setEntry
	set     []setEntry
	pattern *regexp.Regexp
}

// CompiledRule is fully pre-processed and ready for evaluation.
type CompiledRule struct {
	Rule       *types.PricingRule
	Conditions []CompiledCondition // ordered by ascending cost
	Cost       int
}

// Compile validates and pre-processes a rule for evaluation.
func Compile(rule *types.PricingRule) (*CompiledRule, error) {
	if len(rule.Conditions) == 0 {
		return nil, types.ErrEmptyConditions
	}
	if len(rule.Conditions) > types.MaxConditionsPerRule {
		return nil, errors.Wrapf(types.ErrTooManyConditions, "%d > %d", len(rule.Conditions), types.MaxConditionsPerRule)
	}

	compiled := &CompiledRule{
		Rule:       rule,
		Conditions: make([]CompiledCondition, 0, len(rule.Conditions)),
	}

	for i, cond := range rule.Conditions {
		cc, err := CompileCondition(cond)
		if err != nil {
			return nil, errors.Wrapf(err, "condition %d", i)
		}
		cc.Index = i
		compiled.Conditions = append(compiled.Conditions, cc)
		compiled.Cost += cc.Cost
	}

	// Stable sort: equal-cost conditions keep declaration order
	sort.SliceStable(compiled.Conditions, func(i, j int) bool {
		return compiled.Conditions[i].Cost < compiled.Conditions[j].Cost
	})

	return compiled, nil
}

// CompileCondition validates and pre-parses a single condition.
func CompileCondition(cond types.RuleCondition) (CompiledCondition, error) {
	if !cond.Type.Known() {
		return CompiledCondition{}, types.ErrUnknownConditionType
	}
	if !cond.Operator.Known() {
		return CompiledCondition{}, types.ErrInvalidOperator
	}

	cc := CompiledCondition{
		Type:     cond.Type,
		Operator: cond.Operator,
		Value:    cond.Value,
		Cost:     CalculateConditionCost(cond.Type, cond.Operator),
	}

	switch cond.Operator {
	case types.OpIn, types.OpNotIn:
		set, err := parseSet(cond.Type, cond.Value.Text())
		if err != nil {
			return CompiledCondition{}, err
		}
		cc.set = set
	case types.OpRegex:
		re, err := compilePattern(cond.Value.Text())
		if err != nil {
			return CompiledCondition{}, err
		}
		cc.pattern = re
	default:
		cc.value = parseEntry(cond.Type, cond.Value.Text(), cond.Operator == types.OpEquals || cond.Operator == types.OpNotEquals)
		if n, ok := ToNumber(cond.Value); ok {
			cc.value.number, cc.value.numeric = n, true
		}
	}

	return cc, nil
}

// parseSet splits a comma-separated set, trimming entries and dropping empties.
func parseSet(ct types.ConditionType, raw string) ([]setEntry, error) {
	parts := strings.Split(raw, ",")
	set := make([]setEntry, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		set = append(set, parseEntry(ct, p, true))
	}
	if len(set) > types.MaxSetValues {
		return nil, errors.Wrapf(types.ErrTooManyInValues, "%d > %d", len(set), types.MaxSetValues)
	}
	return set, nil
}

// parseEntry normalises one comparison value. allowCIDR enables prefix
// parsing for ip_address equality and membership.
func parseEntry(ct types.ConditionType, raw string, allowCIDR bool) setEntry {
	e := setEntry{text: normalizeText(ct, raw)}
	if n, ok := ToNumber(types.StringValue(raw)); ok {
		e.number, e.numeric = n, true
	}
	if allowCIDR && ct == types.ConditionIPAddress && strings.Contains(raw, "/") {
		if p, err := netip.ParsePrefix(strings.TrimSpace(raw)); err == nil {
			e.prefix, e.isCIDR = p.Masked(), true
		}
	}
	return e
}

// normalizeText lower-cases comparison text; geography is first mapped to alpha-2.
func normalizeText(ct types.ConditionType, s string) string {
	if ct == types.ConditionGeography {
		return strings.ToLower(geo.NormalizeCountry(s))
	}
	return strings.ToLower(s)
}

// compilePattern compiles a case-insensitive RE2 pattern, memoised by source.
func compilePattern(src string) (*regexp.Regexp, error) {
	if len(src) > types.MaxPatternLength {
		return nil, errors.Wrapf(types.ErrInvalidPattern, "pattern longer than %d", types.MaxPatternLength)
	}
	if re, ok := patternCache.Get(src); ok {
		return re, nil
	}
	re, err := regexp.Compile("(?i)" + src)
	if err != nil {
		return nil, errors.Wrapf(types.ErrInvalidPattern, "pattern %q: %v", src, err)
	}
	patternCache.Add(src, re)
	return re, nil
}
