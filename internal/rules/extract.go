// internal/rules/extract.go
package rules

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/solatis/crawlgate/internal/geo"
	"github.com/solatis/crawlgate/internal/types"
)

/*
 * Field extraction by condition type.
 *
 * Maps a condition type to the request value it reads:
 *   - bot_id, user_agent, ip_address, domain, url_pattern: request fields
 *   - referer: Referer header, then metadata "referer"
 *   - content_type: CrawlerRequest.ContentType derivation
 *   - time_of_day: hour 0-23 of the context timestamp in UTC
 *   - day_of_week: lowercase English weekday of the context timestamp in UTC
 *   - geography: alpha-2 country from metadata "country", the CF-IPCountry
 *     header, or the GeoIP locator, in that order
 *   - request_frequency: requests per minute over the frequency window
 *   - request_count: raw request count over the count window
 *
 * ok=false means the field is unavailable (counter missing, failed or timed
 * out). Unavailable fields make the condition false for every operator,
 * including is_empty: a lookup that did not happen is not an empty value.
 */

// extract returns the value a condition type reads from the execution context.
func (e *ConditionEvaluator) extract(ctx context.Context, ct types.ConditionType, execCtx *types.RuleExecutionContext) (types.Scalar, bool) {
	req := &execCtx.Request

	switch ct {
	case types.ConditionBotID:
		return types.StringValue(req.BotID), true
	case types.ConditionUserAgent:
		return types.StringValue(req.UserAgent), true
	case types.ConditionContentType:
		return types.StringValue(req.ContentType()), true
	case types.ConditionIPAddress:
		return types.StringValue(req.IPAddress), true
	case types.ConditionReferer:
		return types.StringValue(req.Referer()), true
	case types.ConditionDomain:
		return types.StringValue(req.Domain), true
	case types.ConditionURLPattern:
		return types.StringValue(req.URL), true
	case types.ConditionTimeOfDay:
		return types.NumberValue(float64(execCtx.Timestamp.UTC().Hour())), true
	case types.ConditionDayOfWeek:
		return types.StringValue(strings.ToLower(execCtx.Timestamp.UTC().Weekday().String())), true
	case types.ConditionGeography:
		return types.StringValue(e.country(req)), true
	case types.ConditionRequestFrequency:
		n, ok := e.count(ctx, req, e.frequencyWindow)
		if !ok {
			return types.Scalar{}, false
		}
		minutes := e.frequencyWindow.Minutes()
		if minutes <= 0 {
			minutes = 1
		}
		return types.NumberValue(float64(n) / minutes), true
	case types.ConditionRequestCount:
		n, ok := e.count(ctx, req, e.countWindow)
		if !ok {
			return types.Scalar{}, false
		}
		return types.NumberValue(float64(n)), true
	default:
		return types.Scalar{}, false
	}
}

// country resolves the request's alpha-2 country code, "" when unknown.
func (e *ConditionEvaluator) country(req *types.CrawlerRequest) string {
	if c := req.Metadata.GetString("country"); c != "" {
		return geo.NormalizeCountry(c)
	}
	if c := req.Header("CF-IPCountry"); c != "" && !strings.EqualFold(c, "XX") {
		return geo.NormalizeCountry(c)
	}
	if e.geo == nil || req.IPAddress == "" {
		return ""
	}
	c, err := e.geo.Country(req.IPAddress)
	if err != nil {
		e.logger.Debug().Err(err).Str("ip", req.IPAddress).Msg("geo lookup failed")
		return ""
	}
	return geo.NormalizeCountry(c)
}

// count queries the frequency counter under the configured timeout.
func (e *ConditionEvaluator) count(ctx context.Context, req *types.CrawlerRequest, window time.Duration) (int64, bool) {
	key := IdentityKey(req)
	if e.counter == nil || key == "" {
		return 0, false
	}

	cctx, cancel := context.WithTimeout(ctx, e.counterTimeout)
	defer cancel()

	type reply struct {
		n   int64
		err error
	}
	done := make(chan reply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- reply{err: errors.Newf("frequency counter panicked: %v", r)}
			}
		}()
		n, err := e.counter.GetCount(cctx, key, window)
		done <- reply{n, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			e.metrics.CounterFailure()
			e.logger.Debug().Err(r.err).Str("key", key).Msg("frequency counter failed")
			return 0, false
		}
		return r.n, true
	case <-cctx.Done():
		e.metrics.CounterFailure()
		e.logger.Debug().Str("key", key).Dur("timeout", e.counterTimeout).Msg("frequency counter timed out")
		return 0, false
	}
}
