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
)

// Collision records a candidate whose info-hash already exists locally under
// a different tracker set. Rows are 1:1 with their decision row and only kept
// for private candidates.
type Collision struct {
	DecisionID        int64     `json:"decisionId"`
	CandidateTrackers []string  `json:"candidateTrackers"`
	KnownTrackers     []string  `json:"knownTrackers"`
	FirstSeen         time.Time `json:"firstSeen"`
	LastSeen          time.Time `json:"lastSeen"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// CollisionListing joins a collision with its decision and searchee for the
// RPC listing and the recheck job.
type CollisionListing struct {
	Collision
	SearcheeID   int64    `json:"searcheeId"`
	SearcheeName string   `json:"searcheeName"`
	GUID         string   `json:"guid"`
	InfoHash     string   `json:"infoHash"`
	Decision     Decision `json:"decision"`
}

type CollisionStore struct {
	db dbinterface.Querier
}

func NewCollisionStore(db dbinterface.Querier) *CollisionStore {
	return &CollisionStore{db: db}
}

// WithTx returns a store bound to the given transaction.
func (s *CollisionStore) WithTx(tx *sql.Tx) *CollisionStore {
	return &CollisionStore{db: tx}
}

// Upsert records a collision for decisionID. When a semantically equivalent
// row (same info-hash, searchee name, and tracker payloads) already exists
// under a different decision — the same torrent re-announced under a new
// guid — that row is refreshed instead and decisionID's own row is dropped.
func (s *CollisionStore) Upsert(ctx context.Context, decisionID int64, candidateTrackers, knownTrackers []string) error {
	if decisionID == 0 {
		return errors.New("decision id cannot be zero")
	}

	candidateJSON, err := encodeTrackerSet(candidateTrackers)
	if err != nil {
		return fmt.Errorf("encode candidate trackers: %w", err)
	}
	knownJSON, err := encodeTrackerSet(knownTrackers)
	if err != nil {
		return fmt.Errorf("encode known trackers: %w", err)
	}

	equivalentID, err := s.findEquivalent(ctx, decisionID, candidateJSON, knownJSON)
	if err != nil {
		return err
	}

	now := time.Now().UTC()

	if equivalentID != 0 {
		if _, err := s.db.ExecContext(ctx, `
			UPDATE collisions SET last_seen = MAX(last_seen, ?), updated_at = ?
			WHERE decision_id = ?`, now, now, equivalentID); err != nil {
			return fmt.Errorf("refresh equivalent collision: %w", err)
		}
		return s.Delete(ctx, decisionID)
	}

	query := `
		INSERT INTO collisions (decision_id, candidate_trackers, known_trackers, first_seen, last_seen, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(decision_id) DO UPDATE SET
			candidate_trackers = excluded.candidate_trackers,
			known_trackers = excluded.known_trackers,
			last_seen = MAX(collisions.last_seen, excluded.last_seen),
			updated_at = excluded.updated_at
	`

	if _, err := s.db.ExecContext(ctx, query,
		decisionID, candidateJSON, knownJSON, now, now, now); err != nil {
		return fmt.Errorf("upsert collision: %w", err)
	}
	return nil
}

// findEquivalent locates a collision row describing the same conflict under a
// different decision id.
func (s *CollisionStore) findEquivalent(ctx context.Context, decisionID int64, candidateJSON, knownJSON string) (int64, error) {
	query := `
		SELECT c.decision_id
		FROM collisions c
		JOIN decision d ON d.id = c.decision_id
		JOIN searchee s ON s.id = d.searchee_id
		WHERE c.decision_id != ?
		  AND c.candidate_trackers = ?
		  AND c.known_trackers = ?
		  AND d.info_hash = (SELECT info_hash FROM decision WHERE id = ?)
		  AND s.name = (
			SELECT s2.name FROM decision d2
			JOIN searchee s2 ON s2.id = d2.searchee_id
			WHERE d2.id = ?
		  )
		LIMIT 1
	`

	var id int64
	err := s.db.QueryRowContext(ctx, query, decisionID, candidateJSON, knownJSON, decisionID, decisionID).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("find equivalent collision: %w", err)
	}
	return id, nil
}

// Get returns the collision for decisionID, or nil.
func (s *CollisionStore) Get(ctx context.Context, decisionID int64) (*Collision, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT decision_id, candidate_trackers, known_trackers, first_seen, last_seen, updated_at
		FROM collisions WHERE decision_id = ?`, decisionID)

	var (
		c             Collision
		candidateJSON sql.NullString
		knownJSON     sql.NullString
	)
	err := row.Scan(&c.DecisionID, &candidateJSON, &knownJSON, &c.FirstSeen, &c.LastSeen, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query collision: %w", err)
	}

	if err := decodeTrackerSet(candidateJSON, &c.CandidateTrackers); err != nil {
		return nil, fmt.Errorf("decode candidate trackers: %w", err)
	}
	if err := decodeTrackerSet(knownJSON, &c.KnownTrackers); err != nil {
		return nil, fmt.Errorf("decode known trackers: %w", err)
	}

	return &c, nil
}

// Delete removes the collision row for decisionID.
func (s *CollisionStore) Delete(ctx context.Context, decisionID int64) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM collisions WHERE decision_id = ?", decisionID); err != nil {
		return fmt.Errorf("delete collision: %w", err)
	}
	return nil
}

// DeleteMany removes a batch of collision rows.
func (s *CollisionStore) DeleteMany(ctx context.Context, decisionIDs []int64) error {
	if len(decisionIDs) == 0 {
		return nil
	}

	for start := 0; start < len(decisionIDs); start += dbinterface.MaxParams {
		end := start + dbinterface.MaxParams
		if end > len(decisionIDs) {
			end = len(decisionIDs)
		}
		chunk := decisionIDs[start:end]

		query := dbinterface.BuildQueryWithPlaceholders(
			"DELETE FROM collisions WHERE decision_id IN (%s)", 1, len(chunk))
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("delete collisions: %w", err)
		}
	}
	return nil
}

// List returns collisions joined with their decision and searchee, newest
// activity first.
func (s *CollisionStore) List(ctx context.Context, limit, offset int) ([]*CollisionListing, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT c.decision_id, c.candidate_trackers, c.known_trackers,
		       c.first_seen, c.last_seen, c.updated_at,
		       d.searchee_id, s.name, d.guid, d.info_hash, d.decision
		FROM collisions c
		JOIN decision d ON d.id = c.decision_id
		JOIN searchee s ON s.id = d.searchee_id
		ORDER BY c.last_seen DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list collisions: %w", err)
	}
	defer rows.Close()

	return scanCollisionListings(rows)
}

// ListStale returns collisions whose decision is the cross-tracker variant
// but whose info-hash is no longer held by any client. The recheck job
// deletes these and re-searches the affected searchees.
func (s *CollisionStore) ListStale(ctx context.Context) ([]*CollisionListing, error) {
	query := `
		SELECT c.decision_id, c.candidate_trackers, c.known_trackers,
		       c.first_seen, c.last_seen, c.updated_at,
		       d.searchee_id, s.name, d.guid, d.info_hash, d.decision
		FROM collisions c
		JOIN decision d ON d.id = c.decision_id
		JOIN searchee s ON s.id = d.searchee_id
		LEFT JOIN client_searchee cs ON cs.info_hash = d.info_hash
		WHERE d.decision = ?
		  AND cs.info_hash IS NULL
	`

	rows, err := s.db.QueryContext(ctx, query, DecisionInfoHashExistsOtherTracker)
	if err != nil {
		return nil, fmt.Errorf("list stale collisions: %w", err)
	}
	defer rows.Close()

	return scanCollisionListings(rows)
}

func scanCollisionListings(rows *sql.Rows) ([]*CollisionListing, error) {
	var listings []*CollisionListing
	for rows.Next() {
		var (
			l             CollisionListing
			candidateJSON sql.NullString
			knownJSON     sql.NullString
			infoHash      sql.NullString
		)
		if err := rows.Scan(
			&l.DecisionID, &candidateJSON, &knownJSON,
			&l.FirstSeen, &l.LastSeen, &l.UpdatedAt,
			&l.SearcheeID, &l.SearcheeName, &l.GUID, &infoHash, &l.Decision,
		); err != nil {
			return nil, fmt.Errorf("scan collision listing: %w", err)
		}
		if err := decodeTrackerSet(candidateJSON, &l.CandidateTrackers); err != nil {
			return nil, fmt.Errorf("decode candidate trackers: %w", err)
		}
		if err := decodeTrackerSet(knownJSON, &l.KnownTrackers); err != nil {
			return nil, fmt.Errorf("decode known trackers: %w", err)
		}
		if infoHash.Valid {
			l.InfoHash = infoHash.String
		}
		listings = append(listings, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate collision listings: %w", err)
	}
	return listings, nil
}
