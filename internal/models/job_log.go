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

// JobLogStore persists the last-run timestamp per scheduler job.
type JobLogStore struct {
	db dbinterface.Querier
}

func NewJobLogStore(db dbinterface.Querier) *JobLogStore {
	return &JobLogStore{db: db}
}

// LastRun returns the persisted last-run time for a job, or the zero time.
func (s *JobLogStore) LastRun(ctx context.Context, name string) (time.Time, error) {
	var lastRun time.Time
	err := s.db.QueryRowContext(ctx,
		"SELECT last_run FROM job_log WHERE name = ?", name).Scan(&lastRun)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("query job log: %w", err)
	}
	return lastRun, nil
}

// SetLastRun upserts the last-run time for a job.
func (s *JobLogStore) SetLastRun(ctx context.Context, name string, lastRun time.Time) error {
	query := `
		INSERT INTO job_log (name, last_run)
		VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET last_run = excluded.last_run
	`
	if _, err := s.db.ExecContext(ctx, query, name, lastRun); err != nil {
		return fmt.Errorf("upsert job log: %w", err)
	}
	return nil
}
