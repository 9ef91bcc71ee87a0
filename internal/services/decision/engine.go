// Copyright (c) 2025, the cross-seed contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package decision classifies the relationship between an indexer candidate
// and a locally seeded searchee.
package decision

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/PiloUnk/cross-seed/internal/dbinterface"
	"github.com/PiloUnk/cross-seed/internal/domain"
	"github.com/PiloUnk/cross-seed/internal/metafile"
	"github.com/PiloUnk/cross-seed/internal/models"
	"github.com/PiloUnk/cross-seed/internal/services/conflict"
	"github.com/PiloUnk/cross-seed/internal/services/torznab"
	"github.com/PiloUnk/cross-seed/internal/torrentcache"
)

// One initial download plus four retries.
const snatchAttempts = 5

var (
	snatchDelay         = time.Minute
	snatchDelayAnnounce = 5 * time.Minute
)

// Settings is the dynamic subset of configuration the engine consults per
// assessment. Swapped atomically on config reload.
type Settings struct {
	MatchMode             domain.MatchMode
	FuzzySizeFactor       float64
	SeasonFuzzySizeFactor float64
	MinSizeRatio          float64
	IncludeSingleEpisodes bool
	BlockList             []string
}

// SettingsFromConfig extracts engine settings from the process config.
func SettingsFromConfig(cfg *domain.Config) *Settings {
	return &Settings{
		MatchMode:             cfg.MatchMode,
		FuzzySizeFactor:       cfg.FuzzySizeFactor,
		SeasonFuzzySizeFactor: cfg.SeasonFuzzySizeFactor,
		MinSizeRatio:          cfg.MinSizeRatio,
		IncludeSingleEpisodes: cfg.IncludeSingleEpisodes,
		BlockList:             append([]string(nil), cfg.BlockList...),
	}
}

// ResultAssessment is the engine's verdict for one candidate.
type ResultAssessment struct {
	Decision        models.Decision
	Metafile        *metafile.Metafile
	MetaCached      bool
	TrackerMismatch bool
}

type Engine struct {
	db       dbinterface.TxQuerier
	snatcher torznab.Snatcher
	cache    *torrentcache.Cache
	guidMap  *torrentcache.GuidMap

	searcheeStore       *models.SearcheeStore
	decisionStore       *models.DecisionStore
	collisionStore      *models.CollisionStore
	indexerStore        *models.IndexerStore
	clientSearcheeStore *models.ClientSearcheeStore

	resolver *conflict.Resolver

	settings atomic.Pointer[Settings]
	metrics  *Metrics
}

func NewEngine(
	db dbinterface.TxQuerier,
	snatcher torznab.Snatcher,
	cache *torrentcache.Cache,
	guidMap *torrentcache.GuidMap,
	searcheeStore *models.SearcheeStore,
	decisionStore *models.DecisionStore,
	collisionStore *models.CollisionStore,
	indexerStore *models.IndexerStore,
	clientSearcheeStore *models.ClientSearcheeStore,
	resolver *conflict.Resolver,
	settings *Settings,
	metrics *Metrics,
) *Engine {
	e := &Engine{
		db:                  db,
		snatcher:            snatcher,
		cache:               cache,
		guidMap:             guidMap,
		searcheeStore:       searcheeStore,
		decisionStore:       decisionStore,
		collisionStore:      collisionStore,
		indexerStore:        indexerStore,
		clientSearcheeStore: clientSearcheeStore,
		resolver:            resolver,
		metrics:             metrics,
	}
	e.settings.Store(settings)
	return e
}

// UpdateSettings swaps the dynamic settings; safe for concurrent assessments.
func (e *Engine) UpdateSettings(settings *Settings) {
	e.settings.Store(settings)
}

// Settings returns the current dynamic settings.
func (e *Engine) Settings() *Settings {
	return e.settings.Load()
}

// fuzzySizeFactor returns the tolerance for a searchee: season packs get the
// looser factor when partial matching is enabled.
func (e *Engine) fuzzySizeFactor(searchee *metafile.Searchee) float64 {
	s := e.Settings()
	if s.MatchMode == domain.MatchModePartial && isSeasonTitle(searchee.Title) {
		return s.SeasonFuzzySizeFactor
	}
	return s.FuzzySizeFactor
}

func (e *Engine) minSizeRatio(searchee *metafile.Searchee) float64 {
	return e.Settings().MinSizeRatio
}

// Assess runs the full candidate pipeline: pre-filters, snatch, identity
// checks, content matching. excluded is the live set of info-hashes held by
// the clients; a successful eviction mutates it so the candidate can fall
// through to content matching.
func (e *Engine) Assess(ctx context.Context, candidate *torznab.Candidate, searchee *metafile.Searchee, excluded map[string]struct{}) (*ResultAssessment, error) {
	if e.metrics != nil {
		timer := prometheus.NewTimer(e.metrics.AssessDuration)
		defer timer.ObserveDuration()
	}

	result, err := e.assessCandidate(ctx, candidate, searchee, excluded)
	if err != nil {
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.AssessTotal.WithLabelValues(string(result.Decision)).Inc()
	}

	log.Debug().
		Str("searchee", searchee.Title).
		Str("candidate", candidate.Name).
		Str("guid", candidate.GUID).
		Str("decision", string(result.Decision)).
		Msg("Assessed candidate")

	return result, nil
}

func (e *Engine) assessCandidate(ctx context.Context, candidate *torznab.Candidate, searchee *metafile.Searchee, excluded map[string]struct{}) (*ResultAssessment, error) {
	settings := e.Settings()

	if entry := blockedBy(searchee.Title, settings.BlockList); entry != "" {
		return &ResultAssessment{Decision: models.DecisionBlockedRelease}, nil
	}

	// Pre-filter order: release group, resolution, source, proper/repack,
	// fuzzy size, download link. No I/O until all pass.
	if !releaseGroupsCompatible(searchee.Title, candidate.Name) {
		return &ResultAssessment{Decision: models.DecisionReleaseGroupMismatch}, nil
	}
	if !resolutionsCompatible(searchee.Title, candidate.Name) {
		return &ResultAssessment{Decision: models.DecisionResolutionMismatch}, nil
	}
	if !sourcesCompatible(searchee.Title, candidate.Name) {
		return &ResultAssessment{Decision: models.DecisionSourceMismatch}, nil
	}
	if !properRepackCompatible(searchee.Title, candidate.Name) {
		return &ResultAssessment{Decision: models.DecisionProperRepackMismatch}, nil
	}
	if !fuzzySizeOK(candidate.Size, searchee.Length, e.fuzzySizeFactor(searchee)) {
		return &ResultAssessment{Decision: models.DecisionFuzzySizeMismatch}, nil
	}
	if candidate.Link == "" {
		return &ResultAssessment{Decision: models.DecisionNoDownloadLink}, nil
	}

	meta, raw, snatchErr := e.snatch(ctx, candidate, searchee.Label)
	if snatchErr != nil {
		if e.metrics != nil {
			e.metrics.SnatchFailures.Inc()
		}
		switch snatchErr.Kind {
		case torznab.SnatchMagnetLink:
			return &ResultAssessment{Decision: models.DecisionMagnetLink}, nil
		case torznab.SnatchRateLimited:
			return &ResultAssessment{Decision: models.DecisionRateLimited}, nil
		default:
			return &ResultAssessment{Decision: models.DecisionDownloadFailed}, nil
		}
	}
	if e.metrics != nil {
		e.metrics.SnatchTotal.Inc()
	}

	if entry := blockedBy(meta.Name, settings.BlockList); entry != "" {
		return &ResultAssessment{Decision: models.DecisionBlockedRelease, Metafile: meta}, nil
	}

	metaCached := e.cache.Put(meta, raw) == nil
	e.guidMap.Record(candidate.GUID, candidate.Link, meta.InfoHash)

	if candidate.IndexerID != 0 {
		if err := e.indexerStore.AddTrackers(ctx, candidate.IndexerID, meta.TrackerHosts()); err != nil {
			log.Warn().Err(err).Int64("indexer", candidate.IndexerID).
				Msg("Failed to merge snatched trackers into indexer")
		}
	}

	result, err := e.AssessMetafile(ctx, meta, searchee, excluded, candidate.Tracker)
	if err != nil {
		return nil, err
	}
	result.MetaCached = metaCached
	return result, nil
}

// AssessMetafile assesses an already-parsed metafile, skipping the candidate
// pre-filters: the caller vouches the torrent is usable. announceTracker is
// the candidate's indexer announce host, used for conflict resolution when
// the metafile itself shows no tracker mismatch.
func (e *Engine) AssessMetafile(ctx context.Context, meta *metafile.Metafile, searchee *metafile.Searchee, excluded map[string]struct{}, announceTracker string) (*ResultAssessment, error) {
	// Identity: the searchee's own hash.
	if searchee.InfoHash != "" && meta.InfoHash == searchee.InfoHash {
		mismatch := !metafile.TrackerSetsEqual(meta.TrackerHosts(), trackerHostsOf(searchee.Trackers))
		if mismatch {
			return &ResultAssessment{
				Decision:        models.DecisionInfoHashExistsOtherTracker,
				Metafile:        meta,
				TrackerMismatch: true,
			}, nil
		}
		return &ResultAssessment{Decision: models.DecisionSameInfoHash, Metafile: meta}, nil
	}

	// Identity: another local torrent holds this hash.
	if _, held := excluded[meta.InfoHash]; held {
		knownTrackers, err := e.clientSearcheeStore.TrackersForHash(ctx, meta.InfoHash)
		if err != nil {
			return nil, err
		}

		candidateTrackers := meta.TrackerHosts()
		mismatch := !metafile.TrackerSetsEqual(candidateTrackers, knownTrackers)

		resolveWith := candidateTrackers
		if !mismatch {
			resolveWith = metafile.NormalizeTrackerSet([]string{announceTracker})
		}

		evicted, err := e.resolver.Resolve(ctx, meta.InfoHash, resolveWith, searchee.Title)
		if err != nil {
			log.Warn().Err(err).Str("infoHash", meta.InfoHash).Msg("Conflict resolution failed")
		}
		if evicted {
			if e.metrics != nil {
				e.metrics.Evictions.Inc()
			}
			delete(excluded, meta.InfoHash)
			// Fall through to content matching.
		} else {
			if mismatch {
				return &ResultAssessment{
					Decision:        models.DecisionInfoHashExistsOtherTracker,
					Metafile:        meta,
					TrackerMismatch: true,
				}, nil
			}
			return &ResultAssessment{Decision: models.DecisionInfoHashAlreadyExists, Metafile: meta}, nil
		}
	}

	return e.assessContent(meta, searchee), nil
}

// assessContent runs the pure file-tree comparison.
func (e *Engine) assessContent(meta *metafile.Metafile, searchee *metafile.Searchee) *ResultAssessment {
	settings := e.Settings()

	// A single episode can't stand in for a whole season pack.
	if !settings.IncludeSingleEpisodes && isSeasonTitle(searchee.Title) && isSingleEpisode(meta.Name) {
		return &ResultAssessment{Decision: models.DecisionFileTreeMismatch, Metafile: meta}
	}

	if compareFileTrees(meta, searchee) {
		return &ResultAssessment{Decision: models.DecisionMatch, Metafile: meta}
	}

	switch settings.MatchMode {
	case domain.MatchModeStrict:
		if meta.Length != searchee.Length {
			return &ResultAssessment{Decision: models.DecisionSizeMismatch, Metafile: meta}
		}
		return &ResultAssessment{Decision: models.DecisionFileTreeMismatch, Metafile: meta}

	case domain.MatchModePartial:
		ratio := e.minSizeRatio(searchee)
		matched := matchedLength(meta, searchee)
		if pieceCoverage(matched, meta.Length, meta.PieceLength) < ratio {
			return &ResultAssessment{Decision: models.DecisionPartialSizeMismatch, Metafile: meta}
		}
		if !compareFileTreesPartial(meta, searchee, ratio) {
			return &ResultAssessment{Decision: models.DecisionFileTreeMismatch, Metafile: meta}
		}
		return &ResultAssessment{Decision: models.DecisionMatchPartial, Metafile: meta}

	default: // flexible
		if sizeBijection(meta, searchee) {
			return &ResultAssessment{Decision: models.DecisionMatchSizeOnly, Metafile: meta}
		}
		if meta.Length != searchee.Length {
			return &ResultAssessment{Decision: models.DecisionSizeMismatch, Metafile: meta}
		}
		return &ResultAssessment{Decision: models.DecisionFileTreeMismatch, Metafile: meta}
	}
}

// snatch downloads the candidate's torrent with retries. Magnet links and
// rate limits are terminal; only transport errors are retried.
func (e *Engine) snatch(ctx context.Context, candidate *torznab.Candidate, label metafile.Label) (*metafile.Metafile, []byte, *torznab.SnatchError) {
	delay := snatchDelay
	if label == metafile.LabelAnnounce {
		delay = snatchDelayAnnounce
	}

	var (
		meta *metafile.Metafile
		raw  []byte
	)

	err := retry.Do(
		func() error {
			var err error
			meta, raw, err = e.snatcher.Snatch(ctx, candidate)
			if err == nil {
				return nil
			}
			if se, ok := torznab.AsSnatchError(err); ok && se.Kind != torznab.SnatchIOError {
				return retry.Unrecoverable(err)
			}
			return err
		},
		retry.Attempts(snatchAttempts),
		retry.Delay(delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err != nil {
		if se, ok := torznab.AsSnatchError(err); ok {
			return nil, nil, se
		}
		return nil, nil, &torznab.SnatchError{Kind: torznab.SnatchIOError, Err: err}
	}

	return meta, raw, nil
}

func trackerHostsOf(announces []string) []string {
	hosts := make([]string, 0, len(announces))
	for _, a := range announces {
		if h := metafile.TrackerHost(a); h != "" {
			hosts = append(hosts, h)
		}
	}
	return metafile.NormalizeTrackerSet(hosts)
}

var errNoSearchee = errors.New("searchee could not be ensured")
