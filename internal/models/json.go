// Copyright (c) 2025, the cross-seed contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"database/sql"
	"encoding/json"

	"github.com/PiloUnk/cross-seed/internal/metafile"
)

// Tracker JSON columns always hold sorted-unique string arrays. These helpers
// are the only path in and out of the database for them, so the invariant
// holds by construction.

func encodeTrackerSet(values []string) (string, error) {
	normalized := metafile.NormalizeTrackerSet(values)
	data, err := json.Marshal(normalized)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeTrackerSet(src sql.NullString, dest *[]string) error {
	if !src.Valid || src.String == "" {
		*dest = []string{}
		return nil
	}
	var tmp []string
	if err := json.Unmarshal([]byte(src.String), &tmp); err != nil {
		return err
	}
	*dest = metafile.NormalizeTrackerSet(tmp)
	return nil
}
