// Copyright (c) 2025, the cross-seed contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metafile

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildTestTorrent creates real bencoded torrent bytes from synthetic files.
func buildTestTorrent(t *testing.T, name string, files []string, private bool) []byte {
	t.Helper()

	tempDir := t.TempDir()

	for _, f := range files {
		path := filepath.Join(tempDir, name, f)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))

		content := fmt.Appendf(nil, "test content for %s", f)
		require.NoError(t, os.WriteFile(path, content, 0644))
	}

	mi := metainfo.MetaInfo{
		AnnounceList: [][]string{{"http://tracker.example.com:8080/announce"}},
	}

	info := metainfo.Info{
		Name:        name,
		PieceLength: 16384,
	}
	require.NoError(t, info.BuildFromFilePath(filepath.Join(tempDir, name)))
	info.Name = name
	if private {
		p := true
		info.Private = &p
	}

	infoBytes, err := bencode.Marshal(info)
	require.NoError(t, err)
	mi.InfoBytes = infoBytes

	var buf bytes.Buffer
	require.NoError(t, mi.Write(&buf))
	return buf.Bytes()
}

func TestParse(t *testing.T) {
	raw := buildTestTorrent(t, "Test.Release.2024", []string{"video.mkv", "info.nfo"}, true)

	m, err := Parse(raw)
	require.NoError(t, err)

	assert.Len(t, m.InfoHash, 40)
	assert.Equal(t, "Test.Release.2024", m.Name)
	assert.Len(t, m.Files, 2)
	assert.Positive(t, m.Length)
	assert.Equal(t, int64(16384), m.PieceLength)
	assert.True(t, m.IsPrivate())
	assert.Equal(t, []string{"tracker.example.com"}, m.TrackerHosts())

	for _, f := range m.Files {
		assert.Contains(t, f.Path, "Test.Release.2024/")
		assert.NotEmpty(t, f.Name)
		assert.Positive(t, f.Length)
	}
}

func TestParsePrivateUnknown(t *testing.T) {
	raw := buildTestTorrent(t, "Public.Release", []string{"file.bin"}, false)

	m, err := Parse(raw)
	require.NoError(t, err)
	assert.False(t, m.IsPrivate())
}

func TestParseCorrupt(t *testing.T) {
	_, err := Parse([]byte("not a torrent"))
	assert.Error(t, err)
}

func TestNormalizeTrackerIdempotent(t *testing.T) {
	inputs := []string{"  Tracker.Example.ORG ", "tracker.example.org", "TRACKER.example.org"}
	for _, in := range inputs {
		once := NormalizeTracker(in)
		assert.Equal(t, once, NormalizeTracker(once))
		assert.Equal(t, "tracker.example.org", once)
	}
}

func TestNormalizeTrackerSet(t *testing.T) {
	got := NormalizeTrackerSet([]string{"b.example.com", " A.example.com", "b.EXAMPLE.com", ""})
	assert.Equal(t, []string{"a.example.com", "b.example.com"}, got)

	// Idempotent on its own output.
	assert.Equal(t, got, NormalizeTrackerSet(got))
}

func TestTrackerSetsEqual(t *testing.T) {
	assert.True(t, TrackerSetsEqual(
		[]string{"A.example.com", "b.example.com"},
		[]string{"b.example.com", "a.example.com"},
	))
	assert.False(t, TrackerSetsEqual(
		[]string{"a.example.com"},
		[]string{"b.example.com"},
	))
	assert.True(t, TrackerSetsEqual(nil, []string{"  "}))
}

func TestTrackerHost(t *testing.T) {
	assert.Equal(t, "tracker.example.com", TrackerHost("https://tracker.example.com:2053/announce?key=abc"))
	assert.Equal(t, "tracker.example.com", TrackerHost("tracker.example.com"))
	assert.Equal(t, "", TrackerHost("  "))
}

func TestFromMetafile(t *testing.T) {
	raw := buildTestTorrent(t, "Some.Release", []string{"a.mkv"}, false)
	m, err := Parse(raw)
	require.NoError(t, err)

	se := FromMetafile(m, LabelAnnounce)
	assert.Equal(t, m.Name, se.Title)
	assert.Equal(t, m.InfoHash, se.InfoHash)
	assert.Equal(t, m.Length, se.Length)
	assert.Equal(t, LabelAnnounce, se.Label)
	assert.True(t, se.HasPathInfo())
}
