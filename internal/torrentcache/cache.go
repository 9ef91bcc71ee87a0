// Copyright (c) 2025, the cross-seed contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package torrentcache stores snatched torrent files on disk, keyed by
// info-hash, alongside the in-memory guid correlation map.
package torrentcache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/PiloUnk/cross-seed/internal/metafile"
)

const cachedSuffix = ".cached.torrent"

// ErrNotCached indicates no cached torrent exists for the requested hash.
var ErrNotCached = errors.New("torrent not in cache")

type Cache struct {
	dir string
}

func New(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create torrent cache directory: %w", err)
	}
	return &Cache{dir: dir}, nil
}

func (c *Cache) path(infoHash string) string {
	return filepath.Join(c.dir, infoHash+cachedSuffix)
}

// Put writes raw torrent bytes under the metafile's info-hash. Writes are
// best-effort: a failure is logged and returned, but readers tolerate the
// missing file.
func (c *Cache) Put(m *metafile.Metafile, raw []byte) error {
	if err := os.WriteFile(c.path(m.InfoHash), raw, 0644); err != nil {
		log.Warn().Err(err).Str("infoHash", m.InfoHash).Msg("Failed to write cached torrent")
		return fmt.Errorf("write cached torrent: %w", err)
	}
	return nil
}

// Get loads and parses the cached torrent for infoHash, touching its mtime.
// A corrupt file is removed best-effort and reported as a parse error; when
// the removal itself fails, that is only logged so the parse error is not
// masked.
func (c *Cache) Get(infoHash string) (*metafile.Metafile, []byte, error) {
	p := c.path(infoHash)

	raw, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, ErrNotCached
		}
		return nil, nil, fmt.Errorf("read cached torrent: %w", err)
	}

	m, err := metafile.Parse(raw)
	if err != nil {
		if rmErr := os.Remove(p); rmErr != nil && !os.IsNotExist(rmErr) {
			log.Warn().Err(rmErr).Str("infoHash", infoHash).Msg("Failed to remove corrupt cached torrent")
		}
		return nil, nil, fmt.Errorf("corrupt cached torrent %s: %w", infoHash, err)
	}

	now := time.Now()
	if err := os.Chtimes(p, now, now); err != nil {
		log.Debug().Err(err).Str("infoHash", infoHash).Msg("Failed to touch cached torrent")
	}

	return m, raw, nil
}

// Has reports whether a cached torrent exists without parsing it.
func (c *Cache) Has(infoHash string) bool {
	_, err := os.Stat(c.path(infoHash))
	return err == nil
}

// Delete removes the cached torrent for infoHash.
func (c *Cache) Delete(infoHash string) error {
	if err := os.Remove(c.path(infoHash)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete cached torrent: %w", err)
	}
	return nil
}

// List returns the info-hashes of every cached torrent on disk.
func (c *Cache) List() ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("read torrent cache directory: %w", err)
	}

	hashes := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, cachedSuffix) {
			continue
		}
		hashes = append(hashes, strings.TrimSuffix(name, cachedSuffix))
	}
	return hashes, nil
}
