package api

import (
	"context"

	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/solatis/crawlgate/internal/core/auth"
	"github.com/solatis/crawlgate/internal/rules"
	"github.com/solatis/crawlgate/internal/types"
)

type testRuleRequest struct {
	Rule    types.PricingRule    `json:"rule"`
	Request types.CrawlerRequest `json:"request"`
}

type validateRuleRequest struct {
	Rule types.PricingRule `json:"rule"`
}

// Evaluate prices one crawler request for the authenticated publisher.
// The request is recorded against its identity after evaluation so it does
// not count toward its own frequency.
func (s *RuleEngineService) Evaluate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var execCtx types.RuleExecutionContext
	if err := decode(in, &execCtx); err != nil {
		return nil, toStatus(err)
	}
	// The authenticated publisher wins over any publisherId in the payload.
	if p := auth.PublisherFromContext(ctx); p != "" {
		execCtx.PublisherID = p
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.engine.Evaluate(ctx, execCtx)
	if err != nil {
		return nil, toStatus(err)
	}
	if s.recorder != nil {
		if key := rules.IdentityKey(&execCtx.Request); key != "" {
			s.recorder.Record(key)
		}
	}

	if result.Degraded() {
		s.logger.Warn().
			Str("publisher_id", string(execCtx.PublisherID)).
			Msg("degraded evaluation")
	}
	return s.respond(result)
}

// TestRule evaluates a candidate rule against a sample request.
func (s *RuleEngineService) TestRule(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req testRuleRequest
	if err := decode(in, &req); err != nil {
		return nil, toStatus(err)
	}
	if p := auth.PublisherFromContext(ctx); p != "" {
		req.Rule.PublisherID = p
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	return s.respond(s.engine.Test(ctx, req.Rule, req.Request))
}

// ValidateRule runs static checks on a rule.
func (s *RuleEngineService) ValidateRule(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req validateRuleRequest
	if err := decode(in, &req); err != nil {
		return nil, toStatus(err)
	}
	return s.respond(s.engine.Validate(req.Rule))
}

func (s *RuleEngineService) respond(v any) (*structpb.Struct, error) {
	out, err := encode(v)
	if err != nil {
		s.logger.Error().Err(err).Msg("encode response")
		return nil, toStatus(errors.Wrap(err, "encode response"))
	}
	return out, nil
}
