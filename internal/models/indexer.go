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

// Indexer is a configured torznab endpoint together with the tracker
// hostnames observed in torrents snatched from it.
type Indexer struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	URL           string     `json:"url"`
	APIKey        string     `json:"-"`
	Enabled       bool       `json:"enabled"`
	Trackers      []string   `json:"trackers"`
	Caps          *string    `json:"caps,omitempty"`
	CapsFetchedAt *time.Time `json:"capsFetchedAt,omitempty"`
}

type IndexerStore struct {
	db dbinterface.Querier
}

func NewIndexerStore(db dbinterface.Querier) *IndexerStore {
	return &IndexerStore{db: db}
}

// Upsert registers an indexer by name, updating its URL and API key.
func (s *IndexerStore) Upsert(ctx context.Context, name, url, apiKey string) (*Indexer, error) {
	if name == "" || url == "" {
		return nil, errors.New("indexer name and url are required")
	}

	query := `
		INSERT INTO indexer (name, url, api_key, enabled)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(name) DO UPDATE SET
			url = excluded.url,
			api_key = excluded.api_key
	`
	if _, err := s.db.ExecContext(ctx, query, name, url, apiKey); err != nil {
		return nil, fmt.Errorf("upsert indexer: %w", err)
	}

	return s.GetByName(ctx, name)
}

func (s *IndexerStore) GetByName(ctx context.Context, name string) (*Indexer, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, url, api_key, enabled, trackers, caps, caps_fetched_at
		FROM indexer WHERE name = ?`, name)
	return scanIndexer(row)
}

func (s *IndexerStore) Get(ctx context.Context, id int64) (*Indexer, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, url, api_key, enabled, trackers, caps, caps_fetched_at
		FROM indexer WHERE id = ?`, id)
	return scanIndexer(row)
}

// List returns all indexers ordered by name.
func (s *IndexerStore) List(ctx context.Context) ([]*Indexer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, url, api_key, enabled, trackers, caps, caps_fetched_at
		FROM indexer ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list indexers: %w", err)
	}
	defer rows.Close()

	var indexers []*Indexer
	for rows.Next() {
		idx, err := scanIndexer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan indexer: %w", err)
		}
		indexers = append(indexers, idx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate indexers: %w", err)
	}
	return indexers, nil
}

// ListEnabled returns the enabled indexers only.
func (s *IndexerStore) ListEnabled(ctx context.Context) ([]*Indexer, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	enabled := all[:0]
	for _, idx := range all {
		if idx.Enabled {
			enabled = append(enabled, idx)
		}
	}
	return enabled, nil
}

// AddTrackers merges tracker hostnames into the indexer's persisted set.
// The union is append-only: existing entries are never removed.
func (s *IndexerStore) AddTrackers(ctx context.Context, id int64, trackers []string) error {
	if len(trackers) == 0 {
		return nil
	}

	idx, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if idx == nil {
		return fmt.Errorf("indexer %d not found", id)
	}

	merged := metafile.NormalizeTrackerSet(append(idx.Trackers, trackers...))
	if len(merged) == len(idx.Trackers) {
		return nil
	}

	encoded, err := encodeTrackerSet(merged)
	if err != nil {
		return fmt.Errorf("encode trackers: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		"UPDATE indexer SET trackers = ? WHERE id = ?", encoded, id); err != nil {
		return fmt.Errorf("update indexer trackers: %w", err)
	}
	return nil
}

// AllTrackers returns the union of every indexer's tracker set. This is the
// set a conflict rule with allIndexers expands to.
func (s *IndexerStore) AllTrackers(ctx context.Context) ([]string, error) {
	indexers, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	var all []string
	for _, idx := range indexers {
		all = append(all, idx.Trackers...)
	}
	return metafile.NormalizeTrackerSet(all), nil
}

// SaveCaps records a capability snapshot for the caps-refresh job.
func (s *IndexerStore) SaveCaps(ctx context.Context, id int64, caps string) error {
	if _, err := s.db.ExecContext(ctx,
		"UPDATE indexer SET caps = ?, caps_fetched_at = ? WHERE id = ?",
		caps, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("save indexer caps: %w", err)
	}
	return nil
}

func scanIndexer(scanner interface{ Scan(dest ...any) error }) (*Indexer, error) {
	var (
		idx           Indexer
		trackersJSON  sql.NullString
		caps          sql.NullString
		capsFetchedAt sql.NullTime
	)

	err := scanner.Scan(
		&idx.ID,
		&idx.Name,
		&idx.URL,
		&idx.APIKey,
		&idx.Enabled,
		&trackersJSON,
		&caps,
		&capsFetchedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	if err := decodeTrackerSet(trackersJSON, &idx.Trackers); err != nil {
		return nil, fmt.Errorf("decode indexer trackers: %w", err)
	}
	if caps.Valid {
		idx.Caps = &caps.String
	}
	if capsFetchedAt.Valid {
		t := capsFetchedAt.Time
		idx.CapsFetchedAt = &t
	}

	return &idx, nil
}
