// Copyright (c) 2025, the cross-seed contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metafile

// Label records where a searchee came from.
type Label string

const (
	LabelSearch   Label = "SEARCH"
	LabelAnnounce Label = "ANNOUNCE"
	LabelRSS      Label = "RSS"
	LabelInject   Label = "INJECT"
	LabelWebhook  Label = "WEBHOOK"
)

// Searchee is locally seeded content serving as the reference for a
// cross-seed search. Client-sourced searchees carry an info-hash,
// filesystem-sourced ones carry a path.
type Searchee struct {
	Title    string
	InfoHash string // empty when filesystem-sourced
	Path     string // empty when client-sourced
	Files    []File
	Length   int64
	Label    Label
	Trackers []string
}

// FromMetafile builds a client-sourced searchee from a parsed torrent.
func FromMetafile(m *Metafile, label Label) *Searchee {
	return &Searchee{
		Title:    m.Name,
		InfoHash: m.InfoHash,
		Files:    m.Files,
		Length:   m.Length,
		Label:    label,
		Trackers: m.Trackers,
	}
}

// HasPathInfo reports whether file comparisons for this searchee should key
// on full paths rather than base names.
func (s *Searchee) HasPathInfo() bool {
	return s.InfoHash != "" || s.Path != ""
}
