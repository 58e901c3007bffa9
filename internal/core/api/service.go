// Package api provides the crawlgate.v1.RuleEngine gRPC service.
package api

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/solatis/crawlgate/internal/types"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "crawlgate.v1.RuleEngine"

// Engine is the rule engine surface the service delegates to.
// Implemented by *rules.Engine.
type Engine interface {
	Evaluate(ctx context.Context, execCtx types.RuleExecutionContext) (*types.RuleEvaluationResult, error)
	Test(ctx context.Context, rule types.PricingRule, req types.CrawlerRequest) types.TestResult
	Validate(rule types.PricingRule) types.RuleValidationResult
}

// Recorder counts crawler requests for frequency conditions.
// Implemented by *counter.Memory.
type Recorder interface {
	Record(key string)
}

// RuleEngineServer is the server API for crawlgate.v1.RuleEngine.
// Requests and responses are google.protobuf.Struct carrying the JSON
// forms of the engine types.
type RuleEngineServer interface {
	Evaluate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	TestRule(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ValidateRule(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RuleEngineService implements RuleEngineServer.
// Thin orchestration layer delegating to auth, rules and the counter.
type RuleEngineService struct {
	engine   Engine
	recorder Recorder
	logger   zerolog.Logger
	timeout  time.Duration
}

// NewRuleEngineService creates service instance with dependencies.
// recorder may be nil when no frequency counter is configured.
func NewRuleEngineService(engine Engine, recorder Recorder, timeout time.Duration, logger zerolog.Logger) (*RuleEngineService, error) {
	if engine == nil {
		return nil, errors.New("engine cannot be nil")
	}
	if timeout <= 0 {
		return nil, errors.Newf("request timeout must be positive, got %v", timeout)
	}
	return &RuleEngineService{
		engine:   engine,
		recorder: recorder,
		logger:   logger.With().Str("component", "api").Logger(),
		timeout:  timeout,
	}, nil
}

// Register attaches the service to a gRPC server.
func Register(s grpc.ServiceRegistrar, srv RuleEngineServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func unaryHandler(method string, call func(RuleEngineServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(RuleEngineServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ServiceName + "/" + method,
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(RuleEngineServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes crawlgate.v1.RuleEngine for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RuleEngineServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("Evaluate", RuleEngineServer.Evaluate),
		unaryHandler("TestRule", RuleEngineServer.TestRule),
		unaryHandler("ValidateRule", RuleEngineServer.ValidateRule),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "crawlgate/v1/rule_engine.proto",
}
