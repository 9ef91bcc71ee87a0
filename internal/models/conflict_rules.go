// Copyright (c) 2025, the cross-seed contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/PiloUnk/cross-seed/internal/dbinterface"
	"github.com/PiloUnk/cross-seed/internal/metafile"
)

// ConflictRule is one priority band used to choose between same-info-hash
// seeds on different trackers. Priority 1 is highest. A rule with AllIndexers
// matches any tracker currently known to an indexer.
type ConflictRule struct {
	ID          int64     `json:"id"`
	Priority    int       `json:"priority"`
	AllIndexers bool      `json:"allIndexers"`
	Trackers    []string  `json:"trackers"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ErrEmptyRule indicates a non-allIndexers rule with zero trackers.
var ErrEmptyRule = errors.New("conflict rule must list at least one tracker")

// ErrMisplacedAllIndexers indicates an allIndexers rule anywhere but first.
// The UI collapses an allIndexers-first rule set to a single entry; the store
// enforces the same shape.
var ErrMisplacedAllIndexers = errors.New("only the first conflict rule may match all indexers")

type ConflictRuleStore struct {
	db dbinterface.TxQuerier
}

func NewConflictRuleStore(db dbinterface.TxQuerier) *ConflictRuleStore {
	return &ConflictRuleStore{db: db}
}

// List returns the active rules ordered by priority ascending, with the
// implicit lowest-priority allIndexers rule appended when the operator's
// rule set doesn't already start with one.
func (s *ConflictRuleStore) List(ctx context.Context) ([]*ConflictRule, error) {
	rules, err := s.listStored(ctx)
	if err != nil {
		return nil, err
	}

	if len(rules) == 0 {
		return rules, nil
	}
	for _, r := range rules {
		if r.AllIndexers {
			return rules, nil
		}
	}

	rules = append(rules, &ConflictRule{
		Priority:    len(rules) + 1,
		AllIndexers: true,
		Trackers:    []string{},
	})
	return rules, nil
}

func (s *ConflictRuleStore) listStored(ctx context.Context) ([]*ConflictRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, priority, all_indexers, trackers, created_at, updated_at
		FROM conflict_rules
		ORDER BY priority ASC`)
	if err != nil {
		return nil, fmt.Errorf("list conflict rules: %w", err)
	}
	defer rows.Close()

	var rules []*ConflictRule
	for rows.Next() {
		var (
			r            ConflictRule
			trackersJSON sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Priority, &r.AllIndexers, &trackersJSON, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conflict rule: %w", err)
		}
		if err := decodeTrackerSet(trackersJSON, &r.Trackers); err != nil {
			return nil, fmt.Errorf("decode rule trackers: %w", err)
		}
		rules = append(rules, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conflict rules: %w", err)
	}
	return rules, nil
}

// Save atomically replaces the whole rule set. Priorities are renumbered to a
// contiguous 1..N in the order given. Saving the same set twice yields the
// same stored rows.
func (s *ConflictRuleStore) Save(ctx context.Context, rules []*ConflictRule) ([]*ConflictRule, error) {
	for i, r := range rules {
		if r == nil {
			return nil, errors.New("conflict rule cannot be nil")
		}
		if r.AllIndexers && i > 0 {
			return nil, ErrMisplacedAllIndexers
		}
		if !r.AllIndexers && len(metafile.NormalizeTrackerSet(r.Trackers)) == 0 {
			return nil, ErrEmptyRule
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin save rules tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM conflict_rules"); err != nil {
		return nil, fmt.Errorf("clear conflict rules: %w", err)
	}

	now := time.Now().UTC()
	for i, r := range rules {
		trackersJSON, err := encodeTrackerSet(r.Trackers)
		if err != nil {
			return nil, fmt.Errorf("encode rule trackers: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conflict_rules (priority, all_indexers, trackers, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)`,
			i+1, r.AllIndexers, trackersJSON, now, now); err != nil {
			return nil, fmt.Errorf("insert conflict rule: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit conflict rules: %w", err)
	}

	return s.List(ctx)
}
