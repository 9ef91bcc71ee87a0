// Copyright (c) 2025, the cross-seed contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package torznab talks to torznab-compatible indexers: searching, capability
// discovery, and snatching torrent files.
package torznab

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PiloUnk/cross-seed/internal/buildinfo"
	"github.com/PiloUnk/cross-seed/internal/models"
)

const maxTorrentDownloadBytes int64 = 16 << 20 // 16 MiB safety limit for torrent blobs

// DownloadError represents an HTTP error during torrent download. It
// preserves the status code for rate-limit detection.
type DownloadError struct {
	StatusCode int
	URL        string
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("torrent download from %s returned status %d", e.URL, e.StatusCode)
}

func (e *DownloadError) Is(target error) bool {
	_, ok := target.(*DownloadError)
	return ok
}

// IsRateLimited reports whether this error indicates rate limiting (HTTP 429).
func (e *DownloadError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// Client queries a single torznab endpoint.
type Client struct {
	indexer    *models.Indexer
	httpClient *http.Client
}

func NewClient(indexer *models.Indexer, timeoutSeconds int) *Client {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 30
	}
	return &Client{
		indexer:    indexer,
		httpClient: &http.Client{Timeout: time.Duration(timeoutSeconds) * time.Second},
	}
}

func (c *Client) Indexer() *models.Indexer {
	return c.indexer
}

// Search runs a text query against the indexer and returns candidates.
func (c *Client) Search(ctx context.Context, query string) ([]Candidate, error) {
	params := url.Values{}
	params.Set("t", "search")
	if query != "" {
		params.Set("q", query)
	}
	return c.fetchResults(ctx, params)
}

// FetchRSS pulls the latest releases (an empty search is the torznab RSS
// convention).
func (c *Client) FetchRSS(ctx context.Context) ([]Candidate, error) {
	params := url.Values{}
	params.Set("t", "search")
	return c.fetchResults(ctx, params)
}

// FetchCaps retrieves the raw capability document for the caps-refresh job.
func (c *Client) FetchCaps(ctx context.Context) (string, error) {
	params := url.Values{}
	params.Set("t", "caps")

	body, err := c.get(ctx, params)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (c *Client) fetchResults(ctx context.Context, params url.Values) ([]Candidate, error) {
	body, err := c.get(ctx, params)
	if err != nil {
		return nil, err
	}

	var feed rss
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("parse torznab response: %w", err)
	}

	tracker := c.indexer.Name
	candidates := make([]Candidate, 0, len(feed.Channel.Items))
	for _, item := range feed.Channel.Items {
		link := item.Enclosure.URL
		if link == "" {
			link = item.Link
		}

		cand := Candidate{
			Name:      item.Title,
			GUID:      item.GUID,
			Link:      link,
			Tracker:   tracker,
			IndexerID: c.indexer.ID,
			Size:      item.Size,
		}
		if cand.Size == 0 {
			cand.Size = item.Enclosure.Length
		}
		for _, attr := range item.Attrs {
			if strings.EqualFold(attr.Name, "size") {
				if size, err := strconv.ParseInt(attr.Value, 10, 64); err == nil {
					cand.Size = size
				}
			}
		}
		if item.PubDate != "" {
			if ts, err := time.Parse(time.RFC1123Z, item.PubDate); err == nil {
				cand.PublishDate = ts
			}
		}

		candidates = append(candidates, cand)
	}

	return candidates, nil
}

func (c *Client) get(ctx context.Context, params url.Values) ([]byte, error) {
	if c.indexer.APIKey != "" {
		params.Set("apikey", c.indexer.APIKey)
	}

	endpoint := strings.TrimRight(c.indexer.URL, "/") + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build torznab request: %w", err)
	}
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("torznab request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &DownloadError{StatusCode: resp.StatusCode, URL: c.indexer.URL}
	}

	return io.ReadAll(io.LimitReader(resp.Body, maxTorrentDownloadBytes))
}

// Download retrieves the raw torrent bytes for the provided download URL.
func (c *Client) Download(ctx context.Context, downloadURL string) ([]byte, error) {
	if strings.TrimSpace(downloadURL) == "" {
		return nil, fmt.Errorf("download URL is required")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	// Normalise relative URLs
	if !strings.HasPrefix(downloadURL, "http://") && !strings.HasPrefix(downloadURL, "https://") {
		base := c.indexer.URL
		if u, err := url.Parse(base); err == nil {
			u.Path = ""
			u.RawQuery = ""
			base = u.String()
		}
		downloadURL = strings.TrimRight(base, "/") + "/" + strings.TrimLeft(downloadURL, "/")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	req.Header.Set("Accept", "application/x-bittorrent, application/octet-stream")
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	if c.indexer.APIKey != "" && !strings.Contains(downloadURL, "apikey=") {
		query := req.URL.Query()
		query.Set("apikey", c.indexer.APIKey)
		req.URL.RawQuery = query.Encode()
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("torrent download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &DownloadError{StatusCode: resp.StatusCode, URL: downloadURL}
	}

	limitedReader := io.LimitReader(resp.Body, maxTorrentDownloadBytes+1)
	data, err := io.ReadAll(limitedReader)
	if err != nil {
		return nil, fmt.Errorf("read torrent body: %w", err)
	}
	if int64(len(data)) > maxTorrentDownloadBytes {
		return nil, fmt.Errorf("torrent download exceeded %d bytes limit", maxTorrentDownloadBytes)
	}

	return data, nil
}
