// Copyright (c) 2025, the cross-seed contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package torrentclient drives the torrent clients the engine injects into
// and evicts from.
package torrentclient

import (
	"context"

	"github.com/PiloUnk/cross-seed/internal/metafile"
)

// ClientTorrent is one torrent as reported by a client.
type ClientTorrent struct {
	InfoHash string
	Name     string
	Trackers []string // normalized hostnames
	Private  *bool
}

// Driver is the per-client surface the conflict resolver and injector need.
// All operations are fallible; the resolver treats any failure as "leave
// state untouched".
type Driver interface {
	// Host identifies this client; it matches client_searchee.client_host.
	Host() string
	// RemoveTorrent removes hash from the client without deleting payload data.
	RemoveTorrent(ctx context.Context, hash string) error
	// IsTorrentInClient reports whether the client still holds hash.
	IsTorrentInClient(ctx context.Context, hash string) (bool, error)
	// ListTorrents enumerates the client's torrents for the sync pass.
	ListTorrents(ctx context.Context) ([]ClientTorrent, error)
	// AddTorrent injects raw torrent bytes, started paused for verification.
	AddTorrent(ctx context.Context, raw []byte, savePath string) error
	// Searchees converts the client's torrents into decision-engine searchees.
	Searchees(ctx context.Context) ([]*metafile.Searchee, error)
}
