// Copyright (c) 2025, the cross-seed contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PiloUnk/cross-seed/internal/dbinterface"
	"github.com/PiloUnk/cross-seed/internal/metafile"
)

// ClientSearchee mirrors one torrent held by one torrent client. Rows are
// refreshed by the client sync and consulted during identity checks and
// conflict resolution.
type ClientSearchee struct {
	InfoHash   string    `json:"infoHash"`
	ClientHost string    `json:"clientHost"`
	Name       string    `json:"name"`
	Trackers   []string  `json:"trackers"`
	Private    *bool     `json:"private,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// normalizeHash canonicalizes an info-hash for storage and lookups.
func normalizeHash(hash string) string {
	return strings.ToLower(strings.TrimSpace(hash))
}

type ClientSearcheeStore struct {
	db dbinterface.Querier
}

func NewClientSearcheeStore(db dbinterface.Querier) *ClientSearcheeStore {
	return &ClientSearcheeStore{db: db}
}

// Upsert refreshes the row for (infoHash, clientHost).
func (s *ClientSearcheeStore) Upsert(ctx context.Context, row *ClientSearchee) error {
	if row == nil {
		return errors.New("client searchee cannot be nil")
	}
	if row.InfoHash == "" || row.ClientHost == "" {
		return errors.New("client searchee requires info hash and client host")
	}

	trackersJSON, err := encodeTrackerSet(row.Trackers)
	if err != nil {
		return fmt.Errorf("encode client trackers: %w", err)
	}

	var private any
	if row.Private != nil {
		private = *row.Private
	}

	query := `
		INSERT INTO client_searchee (info_hash, client_host, name, trackers, private, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(info_hash, client_host) DO UPDATE SET
			name = excluded.name,
			trackers = excluded.trackers,
			private = excluded.private,
			updated_at = excluded.updated_at
	`

	if _, err := s.db.ExecContext(ctx, query,
		normalizeHash(row.InfoHash), row.ClientHost, row.Name,
		trackersJSON, private, time.Now().UTC()); err != nil {
		return fmt.Errorf("upsert client searchee: %w", err)
	}
	return nil
}

// TrackersForHash returns the union of tracker hostnames every client reports
// for infoHash.
func (s *ClientSearcheeStore) TrackersForHash(ctx context.Context, infoHash string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT trackers FROM client_searchee WHERE info_hash = ?",
		normalizeHash(infoHash))
	if err != nil {
		return nil, fmt.Errorf("query client trackers: %w", err)
	}
	defer rows.Close()

	var all []string
	for rows.Next() {
		var trackersJSON sql.NullString
		if err := rows.Scan(&trackersJSON); err != nil {
			return nil, fmt.Errorf("scan client trackers: %w", err)
		}
		var trackers []string
		if err := decodeTrackerSet(trackersJSON, &trackers); err != nil {
			return nil, fmt.Errorf("decode client trackers: %w", err)
		}
		all = append(all, trackers...)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate client trackers: %w", err)
	}

	return metafile.NormalizeTrackerSet(all), nil
}

// HostsForHash returns the client hosts currently holding infoHash.
func (s *ClientSearcheeStore) HostsForHash(ctx context.Context, infoHash string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT client_host FROM client_searchee WHERE info_hash = ?",
		normalizeHash(infoHash))
	if err != nil {
		return nil, fmt.Errorf("query client hosts: %w", err)
	}
	defer rows.Close()

	var hosts []string
	for rows.Next() {
		var host string
		if err := rows.Scan(&host); err != nil {
			return nil, fmt.Errorf("scan client host: %w", err)
		}
		hosts = append(hosts, host)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate client hosts: %w", err)
	}
	return hosts, nil
}

// AllInfoHashes returns every info-hash currently held by any client.
func (s *ClientSearcheeStore) AllInfoHashes(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT info_hash FROM client_searchee")
	if err != nil {
		return nil, fmt.Errorf("query client info hashes: %w", err)
	}
	defer rows.Close()

	hashes := make(map[string]struct{})
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("scan client info hash: %w", err)
		}
		hashes[h] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate client info hashes: %w", err)
	}
	return hashes, nil
}

// KnownTrackers returns the union of tracker hostnames across all clients.
func (s *ClientSearcheeStore) KnownTrackers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT trackers FROM client_searchee")
	if err != nil {
		return nil, fmt.Errorf("query known trackers: %w", err)
	}
	defer rows.Close()

	var all []string
	for rows.Next() {
		var trackersJSON sql.NullString
		if err := rows.Scan(&trackersJSON); err != nil {
			return nil, fmt.Errorf("scan known trackers: %w", err)
		}
		var trackers []string
		if err := decodeTrackerSet(trackersJSON, &trackers); err != nil {
			return nil, fmt.Errorf("decode known trackers: %w", err)
		}
		all = append(all, trackers...)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate known trackers: %w", err)
	}

	return metafile.NormalizeTrackerSet(all), nil
}

// DeleteByHash removes every client row for infoHash. Called only after all
// owning clients confirmed removal.
func (s *ClientSearcheeStore) DeleteByHash(ctx context.Context, infoHash string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM client_searchee WHERE info_hash = ?",
		normalizeHash(infoHash)); err != nil {
		return fmt.Errorf("delete client searchee: %w", err)
	}
	return nil
}

// DeleteForHost removes every row for a client host, used when a configured
// client is removed or fully resynced.
func (s *ClientSearcheeStore) DeleteForHost(ctx context.Context, clientHost string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM client_searchee WHERE client_host = ?", clientHost); err != nil {
		return fmt.Errorf("delete client rows: %w", err)
	}
	return nil
}
