// Copyright (c) 2025, the cross-seed contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/PiloUnk/cross-seed/internal/dbinterface"
)

// Searchee is the persisted identity of locally seeded content. The decision
// table keys on it.
type Searchee struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type SearcheeStore struct {
	db dbinterface.Querier
}

func NewSearcheeStore(db dbinterface.Querier) *SearcheeStore {
	return &SearcheeStore{db: db}
}

// Ensure returns the row for name, creating it when absent.
func (s *SearcheeStore) Ensure(ctx context.Context, name string) (*Searchee, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("searchee name cannot be empty")
	}

	if _, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO searchee (name) VALUES (?)", name); err != nil {
		return nil, fmt.Errorf("insert searchee: %w", err)
	}

	return s.GetByName(ctx, name)
}

func (s *SearcheeStore) GetByName(ctx context.Context, name string) (*Searchee, error) {
	var se Searchee
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name FROM searchee WHERE name = ?", name).Scan(&se.ID, &se.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query searchee: %w", err)
	}
	return &se, nil
}

func (s *SearcheeStore) Get(ctx context.Context, id int64) (*Searchee, error) {
	var se Searchee
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name FROM searchee WHERE id = ?", id).Scan(&se.ID, &se.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query searchee: %w", err)
	}
	return &se, nil
}
