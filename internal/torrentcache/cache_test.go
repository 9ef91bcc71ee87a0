// Copyright (c) 2025, the cross-seed contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torrentcache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PiloUnk/cross-seed/internal/metafile"
)

func buildTorrent(t *testing.T, name string) ([]byte, *metafile.Metafile) {
	t.Helper()

	tempDir := t.TempDir()
	path := filepath.Join(tempDir, name, "payload.bin")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("payload data"), 0644))

	mi := metainfo.MetaInfo{
		AnnounceList: [][]string{{"http://tracker.example.com/announce"}},
	}
	info := metainfo.Info{Name: name, PieceLength: 16384}
	require.NoError(t, info.BuildFromFilePath(filepath.Join(tempDir, name)))
	info.Name = name

	infoBytes, err := bencode.Marshal(info)
	require.NoError(t, err)
	mi.InfoBytes = infoBytes

	var buf bytes.Buffer
	require.NoError(t, mi.Write(&buf))

	m, err := metafile.Parse(buf.Bytes())
	require.NoError(t, err)
	return buf.Bytes(), m
}

func TestCachePutGet(t *testing.T) {
	cache, err := New(filepath.Join(t.TempDir(), "torrents"))
	require.NoError(t, err)

	raw, m := buildTorrent(t, "Cached.Release")
	require.NoError(t, cache.Put(m, raw))
	assert.True(t, cache.Has(m.InfoHash))

	got, gotRaw, err := cache.Get(m.InfoHash)
	require.NoError(t, err)
	assert.Equal(t, m.InfoHash, got.InfoHash)
	assert.Equal(t, raw, gotRaw)

	hashes, err := cache.List()
	require.NoError(t, err)
	assert.Equal(t, []string{m.InfoHash}, hashes)
}

func TestCacheMiss(t *testing.T) {
	cache, err := New(filepath.Join(t.TempDir(), "torrents"))
	require.NoError(t, err)

	_, _, err = cache.Get("0000000000000000000000000000000000000000")
	assert.True(t, errors.Is(err, ErrNotCached))
}

func TestCacheCorruptFileRemoved(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "torrents")
	cache, err := New(dir)
	require.NoError(t, err)

	hash := "1111111111111111111111111111111111111111"
	path := filepath.Join(dir, hash+".cached.torrent")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0644))

	_, _, err = cache.Get(hash)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotCached), "corruption is a parse error, not a miss")

	// The corrupt file was removed best-effort.
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestCacheDelete(t *testing.T) {
	cache, err := New(filepath.Join(t.TempDir(), "torrents"))
	require.NoError(t, err)

	raw, m := buildTorrent(t, "Doomed.Release")
	require.NoError(t, cache.Put(m, raw))
	require.NoError(t, cache.Delete(m.InfoHash))
	assert.False(t, cache.Has(m.InfoHash))

	// Deleting a missing entry is not an error.
	assert.NoError(t, cache.Delete(m.InfoHash))
}

func TestGuidMap(t *testing.T) {
	g := NewGuidMap()

	g.Record("guid-1", "https://x/dl/1", "aaaa")
	g.Record("", "https://x/dl/2", "bbbb")
	g.Record("guid-3", "", "cccc")
	g.Record("guid-empty", "link-empty", "")

	h, ok := g.Lookup("guid-1", "")
	assert.True(t, ok)
	assert.Equal(t, "aaaa", h)

	h, ok = g.Lookup("", "https://x/dl/2")
	assert.True(t, ok)
	assert.Equal(t, "bbbb", h)

	h, ok = g.Lookup("guid-3", "https://x/dl/1")
	assert.True(t, ok)
	assert.Equal(t, "cccc", h, "guid takes precedence over link")

	_, ok = g.Lookup("guid-empty", "link-empty")
	assert.False(t, ok, "empty hashes are never recorded")

	assert.Equal(t, 4, g.Len())
}

func TestGuidMapRebuild(t *testing.T) {
	g := NewGuidMap()
	g.Record("stale", "", "dead")

	err := g.Rebuild(context.Background(), func(context.Context) (map[string]string, error) {
		return map[string]string{"fresh": "beef", "": "skipped"}, nil
	})
	require.NoError(t, err)

	_, ok := g.Lookup("stale", "")
	assert.False(t, ok)

	h, ok := g.Lookup("fresh", "")
	assert.True(t, ok)
	assert.Equal(t, "beef", h)
	assert.Equal(t, 1, g.Len())
}

func TestGuidMapRebuildFailureKeepsOld(t *testing.T) {
	g := NewGuidMap()
	g.Record("keep", "", "cafe")

	err := g.Rebuild(context.Background(), func(context.Context) (map[string]string, error) {
		return nil, fmt.Errorf("db unavailable")
	})
	require.Error(t, err)

	h, ok := g.Lookup("keep", "")
	assert.True(t, ok)
	assert.Equal(t, "cafe", h)
}
