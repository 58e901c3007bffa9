package store

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solatis/crawlgate/internal/core/db"
	"github.com/solatis/crawlgate/internal/types"
)

func newSQLStore(t *testing.T) *SQLStore {
	t.Helper()
	ctx := context.Background()

	database, err := db.Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "rules.db"))
	if err != nil {
		t.Fatalf("Open() error = %v, want nil", err)
	}
	t.Cleanup(func() { _ = database.Close() })

	if _, err := db.MigrateUp(ctx, database, zerolog.Nop()); err != nil {
		t.Fatalf("MigrateUp() error = %v, want nil", err)
	}
	queries, err := db.LoadQueries(database)
	if err != nil {
		t.Fatalf("LoadQueries() error = %v, want nil", err)
	}
	return NewSQLStore(queries, zerolog.Nop())
}

func sampleRule(id, publisher string, priority int, active bool) types.PricingRule {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return types.PricingRule{
		ID:          types.RuleID(id),
		PublisherID: types.PublisherID(publisher),
		Name:        id,
		Description: "charges " + id,
		Conditions: []types.RuleCondition{
			{Type: types.ConditionBotID, Operator: types.OpContains, Value: types.StringValue("GPT")},
			{Type: types.ConditionRequestCount, Operator: types.OpGreaterThan, Value: types.NumberValue(100)},
		},
		Actions: []types.RuleAction{
			{Type: types.ActionSetPrice, Value: types.NumberValue(0.05), Parameters: types.NewMetadata().Set(types.ParamCurrency, types.StringValue("EUR"))},
		},
		Priority:  priority,
		IsActive:  active,
		ValidFrom: &from,
	}
}

func TestSQLStore_RoundTrip(t *testing.T) {
	s := newSQLStore(t)
	ctx := context.Background()

	ids, err := s.UpsertRules(ctx, []types.PricingRule{
		sampleRule("a", "pub-1", 10, true),
		sampleRule("b", "pub-1", 50, true),
		sampleRule("c", "pub-1", 99, false),
		sampleRule("d", "pub-2", 10, true),
	})
	require.NoError(t, err)
	assert.Len(t, ids, 4)

	active, err := s.ListActiveRules(ctx, "pub-1")
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, types.RuleID("b"), active[0].ID)
	assert.Equal(t, types.RuleID("a"), active[1].ID)

	got := active[1]
	assert.Equal(t, "charges a", got.Description)
	require.Len(t, got.Conditions, 2)
	assert.Equal(t, types.OpGreaterThan, got.Conditions[1].Operator)
	n, ok := got.Conditions[1].Value.Number()
	assert.True(t, ok)
	assert.Equal(t, 100.0, n)
	assert.Equal(t, "EUR", got.Actions[0].Parameters.GetString(types.ParamCurrency))
	require.NotNil(t, got.ValidFrom)
	assert.True(t, got.ValidFrom.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.Nil(t, got.ValidUntil)
	assert.False(t, got.CreatedAt.IsZero())

	all, err := s.ListRules(ctx, "pub-1")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestSQLStore_UpsertKeepsCreatedAt(t *testing.T) {
	s := newSQLStore(t)
	ctx := context.Background()

	first := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return first }
	_, err := s.UpsertRules(ctx, []types.PricingRule{sampleRule("a", "pub-1", 1, true)})
	require.NoError(t, err)

	second := first.Add(time.Hour)
	s.now = func() time.Time { return second }
	updated := sampleRule("a", "pub-1", 7, true)
	_, err = s.UpsertRules(ctx, []types.PricingRule{updated})
	require.NoError(t, err)

	got, err := s.GetRule(ctx, "pub-1", "a")
	require.NoError(t, err)
	assert.Equal(t, 7, got.Priority)
	assert.True(t, got.CreatedAt.Equal(first), "created_at = %v", got.CreatedAt)
	assert.True(t, got.UpdatedAt.Equal(second), "updated_at = %v", got.UpdatedAt)
}

func TestSQLStore_GeneratesIDs(t *testing.T) {
	s := newSQLStore(t)

	rule := sampleRule("", "pub-1", 1, true)
	ids, err := s.UpsertRules(context.Background(), []types.PricingRule{rule})
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Len(t, string(ids[0]), 36)
}

func TestSQLStore_UpsertKeepsRuleOwnership(t *testing.T) {
	s := newSQLStore(t)
	ctx := context.Background()

	_, err := s.UpsertRules(ctx, []types.PricingRule{sampleRule("shared", "pub-a", 1, true)})
	require.NoError(t, err)

	// The whole import is rejected, including rules that were fine on their own.
	hijack := sampleRule("shared", "pub-b", 9, true)
	_, err = s.UpsertRules(ctx, []types.PricingRule{sampleRule("other", "pub-b", 1, true), hijack})
	assert.ErrorIs(t, err, types.ErrRuleOwnedByOther)

	owned, err := s.GetRule(ctx, "pub-a", "shared")
	require.NoError(t, err)
	assert.Equal(t, 1, owned.Priority)

	rulesB, err := s.ListRules(ctx, "pub-b")
	require.NoError(t, err)
	assert.Empty(t, rulesB)

	// The owner can still update it.
	update := sampleRule("shared", "pub-a", 5, true)
	_, err = s.UpsertRules(ctx, []types.PricingRule{update})
	require.NoError(t, err)
	owned, err = s.GetRule(ctx, "pub-a", "shared")
	require.NoError(t, err)
	assert.Equal(t, 5, owned.Priority)
}

func TestSQLStore_RejectsMissingPublisher(t *testing.T) {
	s := newSQLStore(t)

	_, err := s.UpsertRules(context.Background(), []types.PricingRule{sampleRule("a", "", 1, true)})
	assert.ErrorIs(t, err, types.ErrMissingPublisher)
}

func TestSQLStore_SkipsUndecodableRows(t *testing.T) {
	s := newSQLStore(t)
	ctx := context.Background()

	_, err := s.UpsertRules(ctx, []types.PricingRule{sampleRule("good", "pub-1", 1, true), sampleRule("bad", "pub-1", 2, true)})
	require.NoError(t, err)
	_, err = s.queries.DB().ExecContext(ctx, "UPDATE rules SET conditions = '{not json' WHERE rule_id = 'bad'")
	require.NoError(t, err)

	rules, err := s.ListActiveRules(ctx, "pub-1")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, types.RuleID("good"), rules[0].ID)
}

func TestSQLStore_Delete(t *testing.T) {
	s := newSQLStore(t)
	ctx := context.Background()

	_, err := s.UpsertRules(ctx, []types.PricingRule{sampleRule("a", "pub-1", 1, true)})
	require.NoError(t, err)

	require.NoError(t, s.DeleteRule(ctx, "pub-1", "a"))
	assert.ErrorIs(t, s.DeleteRule(ctx, "pub-1", "a"), types.ErrRuleNotFound)

	_, err = s.GetRule(ctx, "pub-1", "a")
	assert.ErrorIs(t, err, types.ErrRuleNotFound)
}

func TestLoadYAML(t *testing.T) {
	doc := `
publisherId: pub-1
rules:
  - id: gpt
    name: GPT standard
    priority: 100
    conditions:
      - {type: BOT_ID, operator: contains, value: GPT}
      - {type: time_of_day, operator: greater_than_or_equal, value: 9}
    actions:
      - type: set_price
        value: 0.05
        parameters: {currency: USD, priceType: per_request}
      - {type: apply_discount, value: 10, parameters: {discountType: percentage}}
  - id: paused
    publisherId: pub-2
    isActive: false
    conditions:
      - {type: domain, operator: equals, value: example.com}
    actions:
      - {type: block_access}
`
	rules, err := LoadYAML(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, rules, 2)

	gpt := rules[0]
	assert.Equal(t, types.PublisherID("pub-1"), gpt.PublisherID)
	assert.True(t, gpt.IsActive)
	assert.Equal(t, 100, gpt.Priority)
	assert.Equal(t, types.ConditionBotID, gpt.Conditions[0].Type)
	hour, ok := gpt.Conditions[1].Value.Number()
	assert.True(t, ok)
	assert.Equal(t, 9.0, hour)
	assert.Equal(t, "per_request", gpt.Actions[0].Parameters.GetString(types.ParamPriceType))
	assert.Equal(t, types.ActionApplyDiscount, gpt.Actions[1].Type)

	paused := rules[1]
	assert.Equal(t, types.PublisherID("pub-2"), paused.PublisherID)
	assert.False(t, paused.IsActive)
}

func TestLoadYAML_BareListAndErrors(t *testing.T) {
	rules, err := LoadYAML(strings.NewReader("- {name: a, publisherId: p, conditions: [], actions: []}\n"))
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.True(t, rules[0].IsActive)

	empty, err := LoadYAML(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = LoadYAML(strings.NewReader("just a string"))
	assert.ErrorIs(t, err, ErrInvalidRuleFile)

	_, err = LoadYAML(strings.NewReader("rules:\n  - 42\n"))
	assert.ErrorIs(t, err, ErrInvalidRuleFile)

	_, err = LoadYAML(strings.NewReader("rules:\n  - {conditions: [{type: bot_id, operator: equals, value: {nested: 1}}]}\n"))
	assert.ErrorIs(t, err, types.ErrInvalidScalar)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore(sampleRule("a", "pub-1", 1, true), sampleRule("b", "pub-1", 1, false), sampleRule("c", "pub-2", 1, true))

	rules, err := s.ListActiveRules(context.Background(), "pub-1")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, types.RuleID("a"), rules[0].ID)
	assert.Equal(t, []types.PublisherID{"pub-1", "pub-2"}, s.Publishers())

	none, err := s.ListActiveRules(context.Background(), "pub-3")
	require.NoError(t, err)
	assert.Empty(t, none)
}

type slowSource struct {
	calls atomic.Int32
	err   error
	delay time.Duration
}

func (s *slowSource) ListActiveRules(context.Context, types.PublisherID) ([]types.PricingRule, error) {
	s.calls.Add(1)
	time.Sleep(s.delay)
	if s.err != nil {
		return nil, s.err
	}
	return []types.PricingRule{sampleRule("a", "pub-1", 1, true)}, nil
}

func TestSnapshotStore_SharesFetch(t *testing.T) {
	src := &slowSource{delay: 20 * time.Millisecond}
	s := NewSnapshotStore(src, 16, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rules, err := s.ListActiveRules(context.Background(), "pub-1")
			assert.NoError(t, err)
			assert.Len(t, rules, 1)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), src.calls.Load())

	_, err := s.ListActiveRules(context.Background(), "pub-1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), src.calls.Load())

	s.Invalidate("pub-1")
	_, err = s.ListActiveRules(context.Background(), "pub-1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestSnapshotStore_DoesNotCacheErrors(t *testing.T) {
	src := &slowSource{err: errors.New("db down")}
	s := NewSnapshotStore(src, 16, time.Minute)

	_, err := s.ListActiveRules(context.Background(), "pub-1")
	assert.Error(t, err)
	_, err = s.ListActiveRules(context.Background(), "pub-1")
	assert.Error(t, err)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestSnapshotStore_Expires(t *testing.T) {
	src := &slowSource{}
	s := NewSnapshotStore(src, 16, 20*time.Millisecond)

	_, err := s.ListActiveRules(context.Background(), "pub-1")
	require.NoError(t, err)
	time.Sleep(60 * time.Millisecond)
	_, err = s.ListActiveRules(context.Background(), "pub-1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.calls.Load())
}
