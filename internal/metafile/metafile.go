// Copyright (c) 2025, the cross-seed contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package metafile holds the parsed-torrent and searchee value types the
// decision engine operates on.
package metafile

import (
	"bytes"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
)

// File is one payload file inside a torrent.
type File struct {
	// Path is the full torrent-relative path, forward-slash separated.
	Path   string
	Name   string
	Length int64
}

// Metafile is an immutable view of a parsed .torrent file.
type Metafile struct {
	InfoHash    string // 40-char lowercase hex
	Name        string
	Length      int64
	PieceLength int64
	Files       []File
	Trackers    []string // announce URLs, tier order preserved
	// Private is nil when the info dict carries no private key.
	Private *bool
}

// Parse decodes raw bencoded torrent bytes into a Metafile.
func Parse(raw []byte) (*Metafile, error) {
	mi, err := metainfo.Load(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse torrent metainfo: %w", err)
	}

	var info metainfo.Info
	if err := bencode.Unmarshal(mi.InfoBytes, &info); err != nil {
		return nil, fmt.Errorf("failed to parse torrent info dict: %w", err)
	}

	m := &Metafile{
		InfoHash:    strings.ToLower(mi.HashInfoBytes().HexString()),
		Name:        info.Name,
		PieceLength: info.PieceLength,
		Private:     info.Private,
	}

	if len(info.Files) == 0 {
		// Single-file torrent.
		m.Files = []File{{
			Path:   info.Name,
			Name:   info.Name,
			Length: info.Length,
		}}
		m.Length = info.Length
	} else {
		m.Files = make([]File, 0, len(info.Files))
		for _, f := range info.Files {
			p := strings.Join(f.Path, "/")
			m.Files = append(m.Files, File{
				Path:   path.Join(info.Name, p),
				Name:   path.Base(p),
				Length: f.Length,
			})
			m.Length += f.Length
		}
	}

	if mi.Announce != "" {
		m.Trackers = append(m.Trackers, mi.Announce)
	}
	for _, tier := range mi.AnnounceList {
		for _, tr := range tier {
			if tr != "" && !containsString(m.Trackers, tr) {
				m.Trackers = append(m.Trackers, tr)
			}
		}
	}

	return m, nil
}

// IsPrivate reports the private flag, treating unknown as false.
func (m *Metafile) IsPrivate() bool {
	return m.Private != nil && *m.Private
}

// TrackerHosts returns the normalized announce hostnames of this metafile.
func (m *Metafile) TrackerHosts() []string {
	hosts := make([]string, 0, len(m.Trackers))
	for _, tr := range m.Trackers {
		if host := TrackerHost(tr); host != "" {
			hosts = append(hosts, host)
		}
	}
	return NormalizeTrackerSet(hosts)
}

// TrackerHost extracts the hostname from an announce URL. Bare hostnames pass
// through normalized.
func TrackerHost(announce string) string {
	trimmed := strings.TrimSpace(announce)
	if trimmed == "" {
		return ""
	}
	if u, err := url.Parse(trimmed); err == nil && u.Host != "" {
		return NormalizeTracker(u.Hostname())
	}
	return NormalizeTracker(trimmed)
}

// NormalizeTracker trims and lowercases a tracker identifier. Normalization is
// idempotent: normalize(normalize(x)) == normalize(x).
func NormalizeTracker(tracker string) string {
	return strings.ToLower(strings.TrimSpace(tracker))
}

// NormalizeTrackerSet normalizes every entry and returns a sorted, unique set
// for deterministic serialization.
func NormalizeTrackerSet(trackers []string) []string {
	seen := make(map[string]struct{}, len(trackers))
	out := make([]string, 0, len(trackers))
	for _, tr := range trackers {
		norm := NormalizeTracker(tr)
		if norm == "" {
			continue
		}
		if _, ok := seen[norm]; ok {
			continue
		}
		seen[norm] = struct{}{}
		out = append(out, norm)
	}
	sort.Strings(out)
	return out
}

// TrackerSetsEqual compares two tracker lists as normalized sets.
func TrackerSetsEqual(a, b []string) bool {
	na := NormalizeTrackerSet(a)
	nb := NormalizeTrackerSet(b)
	if len(na) != len(nb) {
		return false
	}
	for i := range na {
		if na[i] != nb[i] {
			return false
		}
	}
	return true
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
