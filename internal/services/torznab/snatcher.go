// Copyright (c) 2025, the cross-seed contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torznab

import (
	"context"
	"errors"
	"strings"

	"github.com/PiloUnk/cross-seed/internal/metafile"
	"github.com/PiloUnk/cross-seed/internal/models"
)

// SnatchErrorKind classifies why a snatch failed.
type SnatchErrorKind string

const (
	SnatchMagnetLink  SnatchErrorKind = "MAGNET_LINK"
	SnatchRateLimited SnatchErrorKind = "RATE_LIMITED"
	SnatchIOError     SnatchErrorKind = "IO_ERROR"
)

// SnatchError is the typed failure of a torrent download attempt.
type SnatchError struct {
	Kind SnatchErrorKind
	Err  error
}

func (e *SnatchError) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Err.Error()
	}
	return string(e.Kind)
}

func (e *SnatchError) Unwrap() error {
	return e.Err
}

// AsSnatchError unwraps err into a *SnatchError when possible.
func AsSnatchError(err error) (*SnatchError, bool) {
	var se *SnatchError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// Snatcher downloads and parses a candidate's torrent file.
type Snatcher interface {
	Snatch(ctx context.Context, candidate *Candidate) (*metafile.Metafile, []byte, error)
}

// Service owns one torznab client per configured indexer and implements
// Snatcher over them.
type Service struct {
	indexerStore   *models.IndexerStore
	timeoutSeconds int
}

func NewService(indexerStore *models.IndexerStore, timeoutSeconds int) *Service {
	return &Service{
		indexerStore:   indexerStore,
		timeoutSeconds: timeoutSeconds,
	}
}

// ClientFor builds a client for the indexer owning a candidate.
func (s *Service) ClientFor(ctx context.Context, indexerID int64) (*Client, error) {
	idx, err := s.indexerStore.Get(ctx, indexerID)
	if err != nil {
		return nil, err
	}
	if idx == nil {
		return nil, errors.New("indexer not found")
	}
	return NewClient(idx, s.timeoutSeconds), nil
}

// Clients returns a client per enabled indexer.
func (s *Service) Clients(ctx context.Context) ([]*Client, error) {
	indexers, err := s.indexerStore.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}
	clients := make([]*Client, 0, len(indexers))
	for _, idx := range indexers {
		clients = append(clients, NewClient(idx, s.timeoutSeconds))
	}
	return clients, nil
}

// Snatch downloads a candidate's torrent and parses it. Magnet links and
// rate limits map to their dedicated kinds; everything else is an I/O error.
func (s *Service) Snatch(ctx context.Context, candidate *Candidate) (*metafile.Metafile, []byte, error) {
	if strings.HasPrefix(strings.ToLower(candidate.Link), "magnet:") {
		return nil, nil, &SnatchError{Kind: SnatchMagnetLink}
	}

	client, err := s.ClientFor(ctx, candidate.IndexerID)
	if err != nil {
		return nil, nil, &SnatchError{Kind: SnatchIOError, Err: err}
	}

	raw, err := client.Download(ctx, candidate.Link)
	if err != nil {
		var de *DownloadError
		if errors.As(err, &de) && de.IsRateLimited() {
			return nil, nil, &SnatchError{Kind: SnatchRateLimited, Err: err}
		}
		return nil, nil, &SnatchError{Kind: SnatchIOError, Err: err}
	}

	// Some indexers answer a torrent request with a magnet redirect body.
	if strings.HasPrefix(strings.TrimSpace(string(raw)), "magnet:") {
		return nil, nil, &SnatchError{Kind: SnatchMagnetLink}
	}

	m, err := metafile.Parse(raw)
	if err != nil {
		return nil, nil, &SnatchError{Kind: SnatchIOError, Err: err}
	}

	return m, raw, nil
}
