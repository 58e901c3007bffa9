package api

import (
	"context"

	"github.com/cockroachdb/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/solatis/crawlgate/internal/types"
)

// Auth errors are mapped in the auth package interceptor.
var errInvalidPayload = errors.New("invalid request payload")

// toStatus maps handler errors onto gRPC status codes.
// Payload and publisher errors map to INVALID_ARGUMENT, an engine that is not
// ready to UNAVAILABLE, and context timeouts to DEADLINE_EXCEEDED.
func toStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errInvalidPayload), errors.Is(err, types.ErrMissingPublisher):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, types.ErrNotInitialized):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
