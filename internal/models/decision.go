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

// Decision classifies the relationship between a candidate and a searchee.
// Exactly one tag is produced per assessment.
type Decision string

const (
	// Content agreement.
	DecisionMatch         Decision = "MATCH"
	DecisionMatchSizeOnly Decision = "MATCH_SIZE_ONLY"
	DecisionMatchPartial  Decision = "MATCH_PARTIAL"

	// Content disagreement.
	DecisionSizeMismatch        Decision = "SIZE_MISMATCH"
	DecisionPartialSizeMismatch Decision = "PARTIAL_SIZE_MISMATCH"
	DecisionFileTreeMismatch    Decision = "FILE_TREE_MISMATCH"

	// Pre-filter rejections.
	DecisionReleaseGroupMismatch Decision = "RELEASE_GROUP_MISMATCH"
	DecisionResolutionMismatch   Decision = "RESOLUTION_MISMATCH"
	DecisionSourceMismatch       Decision = "SOURCE_MISMATCH"
	DecisionProperRepackMismatch Decision = "PROPER_REPACK_MISMATCH"
	DecisionFuzzySizeMismatch    Decision = "FUZZY_SIZE_MISMATCH"
	DecisionNoDownloadLink       Decision = "NO_DOWNLOAD_LINK"
	DecisionBlockedRelease       Decision = "BLOCKED_RELEASE"

	// I/O and protocol.
	DecisionMagnetLink     Decision = "MAGNET_LINK"
	DecisionRateLimited    Decision = "RATE_LIMITED"
	DecisionDownloadFailed Decision = "DOWNLOAD_FAILED"

	// Identity collision.
	DecisionSameInfoHash               Decision = "SAME_INFO_HASH"
	DecisionInfoHashAlreadyExists      Decision = "INFO_HASH_ALREADY_EXISTS"
	DecisionInfoHashExistsOtherTracker Decision = "INFO_HASH_ALREADY_EXISTS_ANOTHER_TRACKER"
)

// IsAnyMatch reports whether d represents usable content agreement.
func (d Decision) IsAnyMatch() bool {
	switch d {
	case DecisionMatch, DecisionMatchSizeOnly, DecisionMatchPartial:
		return true
	}
	return false
}

// DecisionRow is the persisted assessment of one (searchee, guid) pair.
type DecisionRow struct {
	ID              int64     `json:"id"`
	SearcheeID      int64     `json:"searcheeId"`
	GUID            string    `json:"guid"`
	InfoHash        *string   `json:"infoHash,omitempty"`
	Decision        Decision  `json:"decision"`
	FirstSeen       time.Time `json:"firstSeen"`
	LastSeen        time.Time `json:"lastSeen"`
	FuzzySizeFactor float64   `json:"fuzzySizeFactor"`
}

// CandidateListing is the joined view surfaced by the RPC candidates call.
type CandidateListing struct {
	DecisionRow
	SearcheeName string `json:"searcheeName"`
	HasCollision bool   `json:"hasCollision"`
}

type DecisionStore struct {
	db dbinterface.Querier
}

func NewDecisionStore(db dbinterface.Querier) *DecisionStore {
	return &DecisionStore{db: db}
}

// WithTx returns a store bound to the given transaction.
func (s *DecisionStore) WithTx(tx *sql.Tx) *DecisionStore {
	return &DecisionStore{db: tx}
}

// Get returns the decision for a (searchee, guid) pair, or nil.
func (s *DecisionStore) Get(ctx context.Context, searcheeID int64, guid string) (*DecisionRow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, searchee_id, guid, info_hash, decision, first_seen, last_seen, fuzzy_size_factor
		FROM decision
		WHERE searchee_id = ? AND guid = ?`, searcheeID, guid)
	return scanDecision(row)
}

// Upsert writes the assessment for a (searchee, guid) pair. first_seen is
// preserved on conflict; last_seen only ever advances.
func (s *DecisionStore) Upsert(ctx context.Context, row *DecisionRow) (*DecisionRow, error) {
	if row == nil {
		return nil, errors.New("decision row cannot be nil")
	}
	if row.SearcheeID == 0 || row.GUID == "" {
		return nil, errors.New("decision row requires searchee and guid")
	}

	now := time.Now().UTC()
	firstSeen := row.FirstSeen
	if firstSeen.IsZero() {
		firstSeen = now
	}

	query := `
		INSERT INTO decision (searchee_id, guid, info_hash, decision, first_seen, last_seen, fuzzy_size_factor)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(searchee_id, guid) DO UPDATE SET
			info_hash = COALESCE(excluded.info_hash, decision.info_hash),
			decision = excluded.decision,
			last_seen = MAX(decision.last_seen, excluded.last_seen),
			fuzzy_size_factor = excluded.fuzzy_size_factor
	`

	var infoHash any
	if row.InfoHash != nil && *row.InfoHash != "" {
		infoHash = *row.InfoHash
	}

	if _, err := s.db.ExecContext(ctx, query,
		row.SearcheeID, row.GUID, infoHash, row.Decision, firstSeen, now, row.FuzzySizeFactor,
	); err != nil {
		return nil, fmt.Errorf("upsert decision: %w", err)
	}

	return s.Get(ctx, row.SearcheeID, row.GUID)
}

// TouchLastSeen refreshes last_seen without changing the decision.
func (s *DecisionStore) TouchLastSeen(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx,
		"UPDATE decision SET last_seen = MAX(last_seen, ?) WHERE id = ?",
		time.Now().UTC(), id); err != nil {
		return fmt.Errorf("touch decision: %w", err)
	}
	return nil
}

// ListCandidates pages through the assessed candidates, newest activity
// first. A limit outside [1,200] falls back to 50; a negative offset
// becomes 0.
func (s *DecisionStore) ListCandidates(ctx context.Context, limit, offset int) ([]*CandidateListing, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT d.id, d.searchee_id, d.guid, d.info_hash, d.decision,
		       d.first_seen, d.last_seen, d.fuzzy_size_factor,
		       s.name, c.decision_id IS NOT NULL
		FROM decision d
		JOIN searchee s ON s.id = d.searchee_id
		LEFT JOIN collisions c ON c.decision_id = d.id
		ORDER BY d.last_seen DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	defer rows.Close()

	var listings []*CandidateListing
	for rows.Next() {
		var (
			l        CandidateListing
			infoHash sql.NullString
		)
		if err := rows.Scan(
			&l.ID, &l.SearcheeID, &l.GUID, &infoHash, &l.Decision,
			&l.FirstSeen, &l.LastSeen, &l.FuzzySizeFactor,
			&l.SearcheeName, &l.HasCollision,
		); err != nil {
			return nil, fmt.Errorf("scan candidate listing: %w", err)
		}
		if infoHash.Valid {
			l.InfoHash = &infoHash.String
		}
		listings = append(listings, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidate listings: %w", err)
	}

	return listings, nil
}

// LastSeenForSearchee returns the newest last_seen across a searchee's
// decisions, or the zero time when none exist.
func (s *DecisionStore) LastSeenForSearchee(ctx context.Context, searcheeID int64) (time.Time, error) {
	var lastSeen sql.NullTime
	err := s.db.QueryRowContext(ctx,
		"SELECT MAX(last_seen) FROM decision WHERE searchee_id = ?", searcheeID).Scan(&lastSeen)
	if err != nil {
		return time.Time{}, fmt.Errorf("query searchee last seen: %w", err)
	}
	if !lastSeen.Valid {
		return time.Time{}, nil
	}
	return lastSeen.Time, nil
}

// GuidInfoHashPairs returns guid → info-hash for every decision that holds a
// hash. Used to rebuild the in-memory correlation map at startup.
func (s *DecisionStore) GuidInfoHashPairs(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT guid, info_hash FROM decision WHERE info_hash IS NOT NULL")
	if err != nil {
		return nil, fmt.Errorf("query guid pairs: %w", err)
	}
	defer rows.Close()

	pairs := make(map[string]string)
	for rows.Next() {
		var guid, infoHash string
		if err := rows.Scan(&guid, &infoHash); err != nil {
			return nil, fmt.Errorf("scan guid pair: %w", err)
		}
		pairs[guid] = infoHash
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate guid pairs: %w", err)
	}
	return pairs, nil
}

// InfoHashes returns the distinct set of info-hashes referenced by decisions.
func (s *DecisionStore) InfoHashes(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT info_hash FROM decision WHERE info_hash IS NOT NULL")
	if err != nil {
		return nil, fmt.Errorf("query decision info hashes: %w", err)
	}
	defer rows.Close()

	hashes := make(map[string]struct{})
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("scan decision info hash: %w", err)
		}
		hashes[h] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decision info hashes: %w", err)
	}
	return hashes, nil
}

// DeleteStale removes non-matching decision rows last seen before cutoff.
// Matched decisions are kept as the injection record.
func (s *DecisionStore) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM decision
		WHERE last_seen < ?
		  AND decision NOT IN (?, ?, ?)`,
		cutoff, DecisionMatch, DecisionMatchSizeOnly, DecisionMatchPartial)
	if err != nil {
		return 0, fmt.Errorf("delete stale decisions: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return rows, nil
}

func scanDecision(scanner interface{ Scan(dest ...any) error }) (*DecisionRow, error) {
	var (
		row      DecisionRow
		infoHash sql.NullString
	)

	err := scanner.Scan(
		&row.ID,
		&row.SearcheeID,
		&row.GUID,
		&infoHash,
		&row.Decision,
		&row.FirstSeen,
		&row.LastSeen,
		&row.FuzzySizeFactor,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	if infoHash.Valid {
		row.InfoHash = &infoHash.String
	}

	return &row, nil
}
