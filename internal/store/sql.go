// Package store provides rule stores: SQL-backed persistence, an in-memory
// set for tooling and tests, YAML rule files for authoring, and a snapshot
// cache that shares one fetch per publisher across concurrent evaluations.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/guregu/null/v5"
	"github.com/rs/zerolog"

	"github.com/solatis/crawlgate/internal/core/db"
	"github.com/solatis/crawlgate/internal/types"
)

// maxRulesPerPublisher bounds a single fetch.
const maxRulesPerPublisher = 10000

// ruleRow mirrors the rules table. Conditions and actions are JSON text.
type ruleRow struct {
	RuleID      string      `db:"rule_id"`
	PublisherID string      `db:"publisher_id"`
	Name        string      `db:"name"`
	Description null.String `db:"description"`
	Priority    int         `db:"priority"`
	IsActive    bool        `db:"is_active"`
	ValidFrom   null.Time   `db:"valid_from"`
	ValidUntil  null.Time   `db:"valid_until"`
	Conditions  string      `db:"conditions"`
	Actions     string      `db:"actions"`
	CreatedAt   time.Time   `db:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at"`
}

func (r *ruleRow) decode() (types.PricingRule, error) {
	rule := types.PricingRule{
		ID:          types.RuleID(r.RuleID),
		PublisherID: types.PublisherID(r.PublisherID),
		Name:        r.Name,
		Description: r.Description.ValueOrZero(),
		Priority:    r.Priority,
		IsActive:    r.IsActive,
		ValidFrom:   r.ValidFrom.Ptr(),
		ValidUntil:  r.ValidUntil.Ptr(),
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
	if err := json.Unmarshal([]byte(r.Conditions), &rule.Conditions); err != nil {
		return rule, errors.Wrap(err, "decode conditions")
	}
	if err := json.Unmarshal([]byte(r.Actions), &rule.Actions); err != nil {
		return rule, errors.Wrap(err, "decode actions")
	}
	return rule, nil
}

func encodeRow(rule *types.PricingRule) (ruleRow, error) {
	conditions, err := json.Marshal(nonNil(rule.Conditions))
	if err != nil {
		return ruleRow{}, errors.Wrap(err, "encode conditions")
	}
	actions, err := json.Marshal(nonNil(rule.Actions))
	if err != nil {
		return ruleRow{}, errors.Wrap(err, "encode actions")
	}
	return ruleRow{
		RuleID:      string(rule.ID),
		PublisherID: string(rule.PublisherID),
		Name:        rule.Name,
		Description: null.NewString(rule.Description, rule.Description != ""),
		Priority:    rule.Priority,
		IsActive:    rule.IsActive,
		ValidFrom:   null.TimeFromPtr(rule.ValidFrom),
		ValidUntil:  null.TimeFromPtr(rule.ValidUntil),
		Conditions:  string(conditions),
		Actions:     string(actions),
		CreatedAt:   rule.CreatedAt.UTC(),
		UpdatedAt:   rule.UpdatedAt.UTC(),
	}, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// SQLStore reads and writes rules through the named queries in internal/core/db.
type SQLStore struct {
	queries *db.Queries
	logger  zerolog.Logger
	now     func() time.Time
}

// NewSQLStore creates a store over loaded queries.
func NewSQLStore(queries *db.Queries, logger zerolog.Logger) *SQLStore {
	return &SQLStore{queries: queries, logger: logger, now: time.Now}
}

// ListActiveRules returns the publisher's active rules. Rows whose JSON
// columns fail to decode are skipped and logged; the rest are returned.
func (s *SQLStore) ListActiveRules(ctx context.Context, publisherID types.PublisherID) ([]types.PricingRule, error) {
	var rows []ruleRow
	if err := s.queries.Select(ctx, "list-active-rules", &rows, string(publisherID), true); err != nil {
		return nil, errors.Wrap(err, "list active rules")
	}
	return s.decodeRows(publisherID, rows), nil
}

// ListRules returns all of the publisher's rules, active or not.
func (s *SQLStore) ListRules(ctx context.Context, publisherID types.PublisherID) ([]types.PricingRule, error) {
	var rows []ruleRow
	if err := s.queries.Select(ctx, "list-rules", &rows, string(publisherID)); err != nil {
		return nil, errors.Wrap(err, "list rules")
	}
	return s.decodeRows(publisherID, rows), nil
}

// GetRule returns one rule. Returns types.ErrRuleNotFound when absent.
func (s *SQLStore) GetRule(ctx context.Context, publisherID types.PublisherID, id types.RuleID) (types.PricingRule, error) {
	var row ruleRow
	err := s.queries.Get(ctx, "get-rule", &row, string(publisherID), string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return types.PricingRule{}, errors.Wrapf(types.ErrRuleNotFound, "rule %s", id)
	}
	if err != nil {
		return types.PricingRule{}, errors.Wrap(err, "get rule")
	}
	return row.decode()
}

func (s *SQLStore) decodeRows(publisherID types.PublisherID, rows []ruleRow) []types.PricingRule {
	if len(rows) > maxRulesPerPublisher {
		s.logger.Warn().
			Str("publisher_id", string(publisherID)).
			Int("rules", len(rows)).
			Int("limit", maxRulesPerPublisher).
			Msg("rule set truncated")
		rows = rows[:maxRulesPerPublisher]
	}

	out := make([]types.PricingRule, 0, len(rows))
	for i := range rows {
		rule, err := rows[i].decode()
		if err != nil {
			s.logger.Warn().
				Err(err).
				Str("publisher_id", string(publisherID)).
				Str("rule_id", rows[i].RuleID).
				Msg("skipping undecodable rule")
			continue
		}
		out = append(out, rule)
	}
	return out
}

// UpsertRules inserts or replaces rules in a single transaction. Rules without
// an ID get a UUIDv7; CreatedAt is kept on update, UpdatedAt is set to now.
// A rule id already owned by another publisher aborts the whole import.
func (s *SQLStore) UpsertRules(ctx context.Context, rules []types.PricingRule) ([]types.RuleID, error) {
	tx, err := s.queries.DB().BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin rule import")
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now().UTC()
	ids := make([]types.RuleID, 0, len(rules))
	for i := range rules {
		rule := rules[i]
		if rule.PublisherID == "" {
			return nil, errors.Wrapf(types.ErrMissingPublisher, "rule %d (%s)", i, rule.Name)
		}
		if rule.ID == "" {
			rule.ID = types.NewRuleID()
		}
		if rule.CreatedAt.IsZero() {
			rule.CreatedAt = now
		}
		rule.UpdatedAt = now

		row, err := encodeRow(&rule)
		if err != nil {
			return nil, errors.Wrapf(err, "rule %s", rule.ID)
		}
		res, err := s.queries.ExecTx(ctx, tx, "upsert-rule",
			row.RuleID, row.PublisherID, row.Name, row.Description, row.Priority, row.IsActive,
			row.ValidFrom, row.ValidUntil, row.Conditions, row.Actions, row.CreatedAt, row.UpdatedAt,
		)
		if err != nil {
			return nil, errors.Wrapf(err, "upsert rule %s", rule.ID)
		}
		// The conflict update only fires for the owning publisher.
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return nil, errors.Wrapf(types.ErrRuleOwnedByOther, "rule %s", rule.ID)
		}
		ids = append(ids, rule.ID)
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "commit rule import")
	}
	return ids, nil
}

// DeleteRule removes a rule. Returns types.ErrRuleNotFound when absent.
func (s *SQLStore) DeleteRule(ctx context.Context, publisherID types.PublisherID, id types.RuleID) error {
	res, err := s.queries.Exec(ctx, "delete-rule", string(publisherID), string(id))
	if err != nil {
		return errors.Wrap(err, "delete rule")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Wrapf(types.ErrRuleNotFound, "rule %s", id)
	}
	return nil
}
