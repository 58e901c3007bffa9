package auth

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/solatis/crawlgate/internal/core/db"
	"github.com/solatis/crawlgate/internal/types"
)

const testSecretID = "0123456789abcdef0123456789abcdef"

var testSecret = []byte("test-secret-with-at-least-32-bytes!!")

func openQueries(t *testing.T) *db.Queries {
	t.Helper()
	ctx := context.Background()
	database, err := db.Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	_, err = db.MigrateUp(ctx, database, zerolog.Nop())
	require.NoError(t, err)
	q, err := db.LoadQueries(database)
	require.NoError(t, err)
	return q
}

// countingQueries records update-last-used writes.
type countingQueries struct {
	Queries
	updates int
}

func (c *countingQueries) Exec(ctx context.Context, name string, args ...any) (sql.Result, error) {
	if name == "update-last-used" {
		c.updates++
	}
	return c.Queries.Exec(ctx, name, args...)
}

type failingQueries struct{}

func (failingQueries) Get(context.Context, string, any, ...any) error {
	return errors.New("connection refused")
}

func (failingQueries) Exec(context.Context, string, ...any) (sql.Result, error) {
	return nil, errors.New("connection refused")
}

func TestParseAPIKey(t *testing.T) {
	random := strings.Repeat("ab", 32)
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"valid", FormatAPIKey(testSecretID, random), false},
		{"wrong prefix", "tk-v1-" + testSecretID + "-" + random, true},
		{"wrong version", "cg-v2-" + testSecretID + "-" + random, true},
		{"short secret id", "cg-v1-abc-" + random, true},
		{"uppercase hex", "cg-v1-" + strings.ToUpper(testSecretID) + "-" + random, true},
		{"short random", "cg-v1-" + testSecretID + "-abcd", true},
		{"extra part", FormatAPIKey(testSecretID, random) + "-x", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			secretID, randomData, err := ParseAPIKey(tt.key)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidKeyFormat) {
					t.Fatalf("ParseAPIKey() error = %v, want ErrInvalidKeyFormat", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAPIKey() error = %v, want nil", err)
			}
			assert.Equal(t, testSecretID, secretID)
			assert.Equal(t, random, randomData)
		})
	}
}

func TestGenerateAPIKey(t *testing.T) {
	a, err := GenerateAPIKey(testSecretID)
	require.NoError(t, err)
	b, err := GenerateAPIKey(testSecretID)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	_, _, err = ParseAPIKey(a)
	assert.NoError(t, err)

	_, err = GenerateAPIKey("nothex")
	assert.ErrorIs(t, err, ErrInvalidKeyFormat)
}

func TestComputeHMAC(t *testing.T) {
	key := FormatAPIKey(testSecretID, strings.Repeat("0", 64))
	h1 := ComputeHMAC(testSecret, key)
	h2 := ComputeHMAC(testSecret, key)
	h3 := ComputeHMAC([]byte("another-secret-of-sufficient-size!!!"), key)

	assert.Len(t, h1, 32)
	assert.True(t, VerifyHMAC(h1, h2))
	assert.False(t, VerifyHMAC(h1, h3))
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	q := openQueries(t)
	a := NewAuthenticator(map[string][]byte{testSecretID: testSecret}, q)

	key, err := a.IssueKey(ctx, testSecretID, "pub-1")
	require.NoError(t, err)

	revoked, err := a.IssueKey(ctx, testSecretID, "pub-2")
	require.NoError(t, err)
	_, err = q.DB().ExecContext(ctx, "UPDATE api_keys SET revoked_at = ? WHERE publisher_id = ?", time.Now().UTC(), "pub-2")
	require.NoError(t, err)

	unknownSecret := FormatAPIKey("fedcba9876543210fedcba9876543210", strings.Repeat("1", 64))
	neverIssued := FormatAPIKey(testSecretID, strings.Repeat("2", 64))

	tests := []struct {
		name    string
		key     string
		want    types.PublisherID
		wantErr error
	}{
		{"valid key", key, "pub-1", nil},
		{"malformed", "garbage", "", ErrInvalidKeyFormat},
		{"unknown secret", unknownSecret, "", ErrUnknownKey},
		{"never issued", neverIssued, "", ErrInvalidKey},
		{"revoked", revoked, "", ErrKeyRevoked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.Authenticate(ctx, tt.key)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Authenticate() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Authenticate() error = %v, want nil", err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAuthenticate_LastUsedThrottle(t *testing.T) {
	ctx := context.Background()
	q := &countingQueries{Queries: openQueries(t)}
	a := NewAuthenticator(map[string][]byte{testSecretID: testSecret}, q)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	key, err := a.IssueKey(ctx, testSecretID, "pub-1")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := a.Authenticate(ctx, key)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, q.updates)

	now = now.Add(2 * time.Minute)
	_, err = a.Authenticate(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 2, q.updates)
}

func TestIssueKey_Errors(t *testing.T) {
	a := NewAuthenticator(map[string][]byte{testSecretID: testSecret}, openQueries(t))

	_, err := a.IssueKey(context.Background(), testSecretID, "")
	assert.ErrorIs(t, err, types.ErrMissingPublisher)

	_, err = a.IssueKey(context.Background(), "fedcba9876543210fedcba9876543210", "pub-1")
	assert.ErrorIs(t, err, ErrUnknownKey)
}

func TestUnaryInterceptor(t *testing.T) {
	ctx := context.Background()
	q := openQueries(t)
	a := NewAuthenticator(map[string][]byte{testSecretID: testSecret}, q)
	key, err := a.IssueKey(ctx, testSecretID, "pub-1")
	require.NoError(t, err)

	var seen types.PublisherID
	handler := func(ctx context.Context, req any) (any, error) {
		seen = PublisherFromContext(ctx)
		return "ok", nil
	}
	info := &grpc.UnaryServerInfo{FullMethod: "/crawlgate.v1.RuleEngine/Evaluate"}

	tests := []struct {
		name     string
		ctx      context.Context
		auth     *Authenticator
		wantCode codes.Code
	}{
		{"valid key", metadata.NewIncomingContext(ctx, metadata.Pairs(MetadataKey, key)), a, codes.OK},
		{"no metadata", ctx, a, codes.Unauthenticated},
		{"missing key", metadata.NewIncomingContext(ctx, metadata.Pairs("other", "x")), a, codes.Unauthenticated},
		{"bad key", metadata.NewIncomingContext(ctx, metadata.Pairs(MetadataKey, "bad")), a, codes.Unauthenticated},
		{"backend down", metadata.NewIncomingContext(ctx, metadata.Pairs(MetadataKey, key)),
			NewAuthenticator(map[string][]byte{testSecretID: testSecret}, failingQueries{}), codes.Unavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			resp, err := tt.auth.UnaryInterceptor()(tt.ctx, nil, info, handler)
			if got := status.Code(err); got != tt.wantCode {
				t.Fatalf("interceptor code = %v, want %v (err %v)", got, tt.wantCode, err)
			}
			if tt.wantCode == codes.OK {
				assert.Equal(t, "ok", resp)
				assert.Equal(t, types.PublisherID("pub-1"), seen)
			} else {
				assert.Empty(t, seen)
			}
		})
	}
}

func TestPublisherFromContext(t *testing.T) {
	assert.Empty(t, PublisherFromContext(context.Background()))
	ctx := WithPublisher(context.Background(), "pub-9")
	assert.Equal(t, types.PublisherID("pub-9"), PublisherFromContext(ctx))
}
