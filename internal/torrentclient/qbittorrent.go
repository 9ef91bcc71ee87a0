// Copyright (c) 2025, the cross-seed contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torrentclient

import (
	"context"
	"fmt"
	"strings"
	"sync"

	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/rs/zerolog/log"

	"github.com/PiloUnk/cross-seed/internal/metafile"
)

// QBittorrent implements Driver over the qBittorrent WebUI API.
type QBittorrent struct {
	host   string
	client *qbt.Client

	loginMu  sync.Mutex
	loggedIn bool
}

func NewQBittorrent(host, username, password string) *QBittorrent {
	client := qbt.NewClient(qbt.Config{
		Host:     host,
		Username: username,
		Password: password,
	})

	return &QBittorrent{
		host:   host,
		client: client,
	}
}

func (c *QBittorrent) Host() string {
	return c.host
}

func (c *QBittorrent) ensureLogin(ctx context.Context) error {
	c.loginMu.Lock()
	defer c.loginMu.Unlock()

	if c.loggedIn {
		return nil
	}
	if err := c.client.LoginCtx(ctx); err != nil {
		return fmt.Errorf("qbittorrent login to %s: %w", c.host, err)
	}
	c.loggedIn = true
	return nil
}

// RemoveTorrent removes the torrent without deleting its payload data.
func (c *QBittorrent) RemoveTorrent(ctx context.Context, hash string) error {
	if err := c.ensureLogin(ctx); err != nil {
		return err
	}
	if err := c.client.DeleteTorrentsCtx(ctx, []string{hash}, false); err != nil {
		return fmt.Errorf("remove torrent %s from %s: %w", hash, c.host, err)
	}
	return nil
}

// IsTorrentInClient reports whether the client still holds hash.
func (c *QBittorrent) IsTorrentInClient(ctx context.Context, hash string) (bool, error) {
	if err := c.ensureLogin(ctx); err != nil {
		return false, err
	}

	torrents, err := c.client.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{Hashes: []string{hash}})
	if err != nil {
		return false, fmt.Errorf("lookup torrent %s in %s: %w", hash, c.host, err)
	}

	hash = strings.ToLower(hash)
	for _, t := range torrents {
		if strings.ToLower(t.Hash) == hash {
			return true, nil
		}
	}
	return false, nil
}

// ListTorrents enumerates the client's torrents with their tracker hosts.
func (c *QBittorrent) ListTorrents(ctx context.Context) ([]ClientTorrent, error) {
	if err := c.ensureLogin(ctx); err != nil {
		return nil, err
	}

	torrents, err := c.client.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{})
	if err != nil {
		return nil, fmt.Errorf("list torrents from %s: %w", c.host, err)
	}

	out := make([]ClientTorrent, 0, len(torrents))
	for _, t := range torrents {
		ct := ClientTorrent{
			InfoHash: strings.ToLower(t.Hash),
			Name:     t.Name,
		}

		trackers, err := c.client.GetTorrentTrackersCtx(ctx, t.Hash)
		if err != nil {
			log.Debug().Err(err).Str("hash", t.Hash).Str("client", c.host).
				Msg("Failed to fetch torrent trackers")
		} else {
			hosts := make([]string, 0, len(trackers))
			for _, tr := range trackers {
				if host := metafile.TrackerHost(tr.Url); host != "" {
					hosts = append(hosts, host)
				}
			}
			ct.Trackers = metafile.NormalizeTrackerSet(hosts)
		}

		if props, err := c.client.GetTorrentPropertiesCtx(ctx, t.Hash); err == nil {
			private := props.IsPrivate
			ct.Private = &private
		}

		out = append(out, ct)
	}

	return out, nil
}

// AddTorrent injects torrent bytes, paused, into the client.
func (c *QBittorrent) AddTorrent(ctx context.Context, raw []byte, savePath string) error {
	if err := c.ensureLogin(ctx); err != nil {
		return err
	}

	options := map[string]string{
		"stopped": "true",
		"paused":  "true",
	}
	if savePath != "" {
		options["savepath"] = savePath
		options["autoTMM"] = "false"
	}

	if err := c.client.AddTorrentFromMemoryCtx(ctx, raw, options); err != nil {
		return fmt.Errorf("add torrent to %s: %w", c.host, err)
	}
	return nil
}

// Searchees converts the client's completed torrents into searchees.
func (c *QBittorrent) Searchees(ctx context.Context) ([]*metafile.Searchee, error) {
	if err := c.ensureLogin(ctx); err != nil {
		return nil, err
	}

	torrents, err := c.client.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{})
	if err != nil {
		return nil, fmt.Errorf("list torrents from %s: %w", c.host, err)
	}

	searchees := make([]*metafile.Searchee, 0, len(torrents))
	for _, t := range torrents {
		if t.Progress < 1 {
			continue
		}

		files, err := c.client.GetFilesInformationCtx(ctx, t.Hash)
		if err != nil {
			log.Debug().Err(err).Str("hash", t.Hash).Str("client", c.host).
				Msg("Failed to fetch torrent files")
			continue
		}

		se := &metafile.Searchee{
			Title:    t.Name,
			InfoHash: strings.ToLower(t.Hash),
			Label:    metafile.LabelSearch,
		}
		for _, f := range *files {
			se.Files = append(se.Files, metafile.File{
				Path:   f.Name,
				Name:   baseName(f.Name),
				Length: f.Size,
			})
			se.Length += f.Size
		}

		searchees = append(searchees, se)
	}

	return searchees, nil
}

func baseName(p string) string {
	if idx := strings.LastIndexAny(p, "/\\"); idx >= 0 {
		return p[idx+1:]
	}
	return p
}
