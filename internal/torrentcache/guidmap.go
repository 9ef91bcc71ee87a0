// Copyright (c) 2025, the cross-seed contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torrentcache

import (
	"context"
	"sync"
)

// GuidMap correlates indexer guids and download links with the info-hashes of
// torrents we have already snatched, so repeated announcements resolve without
// another download. Process-scoped; rebuilt from the decision table on startup.
type GuidMap struct {
	mu sync.Mutex
	m  map[string]string
}

func NewGuidMap() *GuidMap {
	return &GuidMap{m: make(map[string]string)}
}

// Lookup returns the info-hash recorded for guid or link.
func (g *GuidMap) Lookup(guid, link string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if guid != "" {
		if h, ok := g.m[guid]; ok {
			return h, true
		}
	}
	if link != "" {
		if h, ok := g.m[link]; ok {
			return h, true
		}
	}
	return "", false
}

// Record remembers the info-hash for both keys.
func (g *GuidMap) Record(guid, link, infoHash string) {
	if infoHash == "" {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if guid != "" {
		g.m[guid] = infoHash
	}
	if link != "" {
		g.m[link] = infoHash
	}
}

// Rebuild repopulates the map from persisted decision rows. The source is
// queried while the map lock is held so concurrent Record calls cannot
// interleave with a partially-built map.
func (g *GuidMap) Rebuild(ctx context.Context, source func(context.Context) (map[string]string, error)) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	pairs, err := source(ctx)
	if err != nil {
		return err
	}

	g.m = make(map[string]string, len(pairs))
	for k, v := range pairs {
		if k == "" || v == "" {
			continue
		}
		g.m[k] = v
	}
	return nil
}

// Len returns the number of correlation entries.
func (g *GuidMap) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.m)
}
