// Package auth provides HMAC-based publisher API key authentication for gRPC services.
package auth

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/guregu/null/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/solatis/crawlgate/internal/types"
)

// MetadataKey is the gRPC metadata header carrying the API key.
const MetadataKey = "x-api-key"

const lastUsedThrottle = time.Minute

type contextKey string

const publisherKey = contextKey("publisher_id")

// Queries defines the database operations needed for authentication.
// Implemented by *db.Queries.
type Queries interface {
	Get(ctx context.Context, name string, dest any, args ...any) error
	Exec(ctx context.Context, name string, args ...any) (sql.Result, error)
}

// Authenticator validates API keys using HMAC-SHA256 signatures.
type Authenticator struct {
	secrets map[string][]byte
	queries Queries
	now     func() time.Time
}

// NewAuthenticator creates an authenticator with HMAC secrets keyed by secret_id.
func NewAuthenticator(secrets map[string][]byte, queries Queries) *Authenticator {
	return &Authenticator{
		secrets: secrets,
		queries: queries,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

type apiKeyRow struct {
	APIKeyID    string    `db:"api_key_id"`
	PublisherID string    `db:"publisher_id"`
	RevokedAt   null.Time `db:"revoked_at"`
	LastUsedAt  null.Time `db:"last_used_at"`
}

// Authenticate validates an API key and returns the publisher it belongs to.
func (a *Authenticator) Authenticate(ctx context.Context, apiKey string) (types.PublisherID, error) {
	secretID, _, err := ParseAPIKey(apiKey)
	if err != nil {
		return "", err
	}

	secret, ok := a.secrets[secretID]
	if !ok {
		return "", ErrUnknownKey
	}

	var row apiKeyRow
	err = a.queries.Get(ctx, "get-api-key-by-hash", &row, ComputeHMAC(secret, apiKey))
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrInvalidKey
	}
	if err != nil {
		return "", errors.Wrapf(ErrBackend, "lookup key: %v", err)
	}

	if row.RevokedAt.Valid {
		return "", ErrKeyRevoked
	}

	// Best effort; a failed write never rejects an otherwise valid key.
	if now := a.now(); !row.LastUsedAt.Valid || now.Sub(row.LastUsedAt.Time) > lastUsedThrottle {
		_, _ = a.queries.Exec(ctx, "update-last-used", now, row.APIKeyID)
	}

	return types.PublisherID(row.PublisherID), nil
}

// IssueKey generates a key for publisherID under secretID and stores its hash.
// The plaintext key is returned once and never persisted.
func (a *Authenticator) IssueKey(ctx context.Context, secretID string, publisherID types.PublisherID) (string, error) {
	if publisherID == "" {
		return "", errors.Wrap(types.ErrMissingPublisher, "issue key")
	}
	secret, ok := a.secrets[secretID]
	if !ok {
		return "", ErrUnknownKey
	}

	key, err := GenerateAPIKey(secretID)
	if err != nil {
		return "", err
	}
	id := uuid.Must(uuid.NewV7()).String()
	if _, err := a.queries.Exec(ctx, "insert-api-key", id, string(publisherID), ComputeHMAC(secret, key), a.now()); err != nil {
		return "", errors.Wrap(err, "insert api key")
	}
	return key, nil
}

// UnaryInterceptor returns a gRPC interceptor that authenticates requests
// and injects the publisher into the handler context.
func (a *Authenticator) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}

		keys := md.Get(MetadataKey)
		if len(keys) == 0 || strings.TrimSpace(keys[0]) == "" {
			return nil, status.Error(codes.Unauthenticated, ErrMissingKey.Error())
		}

		publisherID, err := a.Authenticate(ctx, keys[0])
		if err != nil {
			return nil, status.Error(codeFor(err), err.Error())
		}
		return handler(WithPublisher(ctx, publisherID), req)
	}
}

func codeFor(err error) codes.Code {
	switch {
	case errors.Is(err, ErrKeyRevoked):
		return codes.PermissionDenied
	case errors.Is(err, ErrBackend):
		return codes.Unavailable
	default:
		return codes.Unauthenticated
	}
}

// WithPublisher returns a context carrying the authenticated publisher.
func WithPublisher(ctx context.Context, id types.PublisherID) context.Context {
	return context.WithValue(ctx, publisherKey, id)
}

// PublisherFromContext extracts the authenticated publisher.
// Returns empty string if not found.
func PublisherFromContext(ctx context.Context) types.PublisherID {
	if id, ok := ctx.Value(publisherKey).(types.PublisherID); ok {
		return id
	}
	return ""
}
