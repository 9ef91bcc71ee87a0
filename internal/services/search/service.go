// Copyright (c) 2025, the cross-seed contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package search owns the recurring work the scheduler drives: RSS scans,
// bulk searches, injection flushes, cleanup, capability refresh, and the
// collision recheck.
package search

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/PiloUnk/cross-seed/internal/domain"
	"github.com/PiloUnk/cross-seed/internal/metafile"
	"github.com/PiloUnk/cross-seed/internal/models"
	"github.com/PiloUnk/cross-seed/internal/services/decision"
	"github.com/PiloUnk/cross-seed/internal/services/torznab"
	"github.com/PiloUnk/cross-seed/internal/torrentcache"
	"github.com/PiloUnk/cross-seed/internal/torrentclient"
)

const (
	// Per-indexer fan-out cap during bulk searches.
	searchConcurrency = 4

	// How long a (searchee, guid) assessment stays fresh before a bulk
	// search will reassess it.
	recentSearchWindow = 24 * time.Hour

	staleDecisionAge = 90 * 24 * time.Hour
)

// BulkSearchOptions tunes one bulk search run.
type BulkSearchOptions struct {
	// ExcludeRecentSearch bypasses the recent-search skip so the searches
	// actually execute; the collision recheck depends on this.
	ExcludeRecentSearch bool
	ConfigOverride      map[string]string
}

// BulkSearchReport summarizes a bulk search run.
type BulkSearchReport struct {
	Attempted  int `json:"attempted"`
	Requested  int `json:"requested"`
	TotalFound int `json:"totalFound"`
}

type Service struct {
	cfg *domain.Config

	engine  *decision.Engine
	torznab *torznab.Service
	syncer  *torrentclient.Syncer
	cache   *torrentcache.Cache

	searcheeStore       *models.SearcheeStore
	decisionStore       *models.DecisionStore
	collisionStore      *models.CollisionStore
	clientSearcheeStore *models.ClientSearcheeStore
	indexerStore        *models.IndexerStore

	searcheeMu sync.Mutex
}

func NewService(
	cfg *domain.Config,
	engine *decision.Engine,
	torznabService *torznab.Service,
	syncer *torrentclient.Syncer,
	cache *torrentcache.Cache,
	searcheeStore *models.SearcheeStore,
	decisionStore *models.DecisionStore,
	collisionStore *models.CollisionStore,
	clientSearcheeStore *models.ClientSearcheeStore,
	indexerStore *models.IndexerStore,
) *Service {
	return &Service{
		cfg:                 cfg,
		engine:              engine,
		torznab:             torznabService,
		syncer:              syncer,
		cache:               cache,
		searcheeStore:       searcheeStore,
		decisionStore:       decisionStore,
		collisionStore:      collisionStore,
		clientSearcheeStore: clientSearcheeStore,
		indexerStore:        indexerStore,
	}
}

// loadSearchees pulls searchees from every configured client, keyed by title.
func (s *Service) loadSearchees(ctx context.Context) (map[string]*metafile.Searchee, error) {
	s.searcheeMu.Lock()
	defer s.searcheeMu.Unlock()

	searchees := make(map[string]*metafile.Searchee)
	for _, driver := range s.syncer.Drivers() {
		list, err := driver.Searchees(ctx)
		if err != nil {
			log.Warn().Err(err).Str("client", driver.Host()).Msg("Failed to load searchees")
			continue
		}
		for _, se := range list {
			searchees[se.Title] = se
		}
	}
	return searchees, nil
}

// BulkSearchByNames searches every enabled indexer for each named searchee
// and feeds the hits through the caching assessor.
func (s *Service) BulkSearchByNames(ctx context.Context, names []string, opts BulkSearchOptions) (*BulkSearchReport, error) {
	report := &BulkSearchReport{Requested: len(names)}

	searchees, err := s.loadSearchees(ctx)
	if err != nil {
		return nil, err
	}

	clients, err := s.torznab.Clients(ctx)
	if err != nil {
		return nil, err
	}
	if len(clients) == 0 {
		log.Warn().Msg("No indexers configured, bulk search is a no-op")
		return report, nil
	}

	excluded, err := s.syncer.ExcludedInfoHashes(ctx)
	if err != nil {
		return nil, err
	}

	for _, name := range names {
		searchee, ok := searchees[name]
		if !ok {
			log.Debug().Str("searchee", name).Msg("Searchee not found in any client, skipping")
			continue
		}

		if !opts.ExcludeRecentSearch {
			recent, err := s.recentlySearched(ctx, name)
			if err != nil {
				return nil, err
			}
			if recent {
				log.Debug().Str("searchee", name).Msg("Searched recently, skipping")
				continue
			}
		}

		report.Attempted++

		candidates := s.searchAllIndexers(ctx, clients, searchee.Title)
		report.TotalFound += len(candidates)

		for i := range candidates {
			if _, err := s.engine.AssessCaching(ctx, &candidates[i], searchee, excluded); err != nil {
				log.Error().Err(err).
					Str("searchee", searchee.Title).
					Str("candidate", candidates[i].Name).
					Msg("Assessment failed")
			}
		}
	}

	return report, nil
}

func (s *Service) recentlySearched(ctx context.Context, name string) (bool, error) {
	row, err := s.searcheeStore.GetByName(ctx, name)
	if err != nil || row == nil {
		return false, err
	}

	lastSeen, err := s.decisionStore.LastSeenForSearchee(ctx, row.ID)
	if err != nil {
		return false, err
	}
	return !lastSeen.IsZero() && time.Since(lastSeen) < recentSearchWindow, nil
}

// searchAllIndexers fans a query out to every indexer, a few at a time.
// Per-indexer failures are logged and dropped.
func (s *Service) searchAllIndexers(ctx context.Context, clients []*torznab.Client, query string) []torznab.Candidate {
	var (
		mu  sync.Mutex
		all []torznab.Candidate
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(searchConcurrency)

	for _, client := range clients {
		client := client
		g.Go(func() error {
			candidates, err := client.Search(gctx, query)
			if err != nil {
				log.Warn().Err(err).Str("indexer", client.Indexer().Name).Msg("Indexer search failed")
				return nil
			}
			mu.Lock()
			all = append(all, candidates...)
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
	return all
}

// RunRSS scans each indexer's feed and assesses new candidates against the
// searchees they parse to.
func (s *Service) RunRSS(ctx context.Context, _ map[string]string) error {
	searchees, err := s.loadSearchees(ctx)
	if err != nil {
		return err
	}
	if len(searchees) == 0 {
		return nil
	}

	titleIndex := buildTitleIndex(searchees)

	clients, err := s.torznab.Clients(ctx)
	if err != nil {
		return err
	}

	excluded, err := s.syncer.ExcludedInfoHashes(ctx)
	if err != nil {
		return err
	}

	for _, client := range clients {
		candidates, err := client.FetchRSS(ctx)
		if err != nil {
			log.Warn().Err(err).Str("indexer", client.Indexer().Name).Msg("RSS fetch failed")
			continue
		}

		for i := range candidates {
			searchee, ok := titleIndex[titleKey(candidates[i].Name)]
			if !ok {
				continue
			}
			rssSearchee := *searchee
			rssSearchee.Label = metafile.LabelRSS

			if _, err := s.engine.AssessCaching(ctx, &candidates[i], &rssSearchee, excluded); err != nil {
				log.Error().Err(err).
					Str("candidate", candidates[i].Name).
					Msg("RSS assessment failed")
			}
		}
	}

	return nil
}

// RunSearch is the scheduled bulk search over every client searchee.
func (s *Service) RunSearch(ctx context.Context, override map[string]string) error {
	searchees, err := s.loadSearchees(ctx)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(searchees))
	for name := range searchees {
		names = append(names, name)
	}

	opts := BulkSearchOptions{ConfigOverride: override}
	if override != nil {
		if v, ok := override["excludeRecentSearch"]; ok {
			if parsed, err := strconv.ParseBool(v); err == nil {
				opts.ExcludeRecentSearch = parsed
			} else {
				opts.ExcludeRecentSearch = v == "1"
			}
		}
	}

	report, err := s.BulkSearchByNames(ctx, names, opts)
	if err != nil {
		return err
	}

	log.Info().
		Int("attempted", report.Attempted).
		Int("requested", report.Requested).
		Int("found", report.TotalFound).
		Msg("Bulk search pass complete")
	return nil
}

// RunInject flushes matched decisions whose torrents aren't in any client yet.
func (s *Service) RunInject(ctx context.Context, _ map[string]string) error {
	if s.cfg.Action != domain.ActionInject {
		return nil
	}

	held, err := s.clientSearcheeStore.AllInfoHashes(ctx)
	if err != nil {
		return err
	}

	listings, err := s.decisionStore.ListCandidates(ctx, 200, 0)
	if err != nil {
		return err
	}

	injected := 0
	for _, l := range listings {
		if !l.Decision.IsAnyMatch() || l.InfoHash == nil {
			continue
		}
		if _, ok := held[*l.InfoHash]; ok {
			continue
		}

		_, raw, err := s.cache.Get(*l.InfoHash)
		if err != nil {
			log.Debug().Err(err).Str("infoHash", *l.InfoHash).Msg("Matched torrent missing from cache, skipping injection")
			continue
		}

		for _, driver := range s.syncer.Drivers() {
			if err := driver.AddTorrent(ctx, raw, ""); err != nil {
				log.Warn().Err(err).Str("infoHash", *l.InfoHash).Str("client", driver.Host()).
					Msg("Injection failed")
				continue
			}
			injected++
			break
		}
	}

	if injected > 0 {
		log.Info().Int("injected", injected).Msg("Injection flush complete")
		// Refresh the client mirror so the new hashes collide correctly.
		if err := s.syncer.Sync(ctx); err != nil {
			return err
		}
	}

	return nil
}

// RunCleanup prunes stale decisions and orphaned cache files. The torrent
// cache invariant — a cached file exists iff a decision row references its
// hash — is enforced here.
func (s *Service) RunCleanup(ctx context.Context, _ map[string]string) error {
	deleted, err := s.decisionStore.DeleteStale(ctx, time.Now().UTC().Add(-staleDecisionAge))
	if err != nil {
		return err
	}

	referenced, err := s.decisionStore.InfoHashes(ctx)
	if err != nil {
		return err
	}

	cached, err := s.cache.List()
	if err != nil {
		return err
	}

	pruned := 0
	for _, hash := range cached {
		if _, ok := referenced[hash]; ok {
			continue
		}
		if err := s.cache.Delete(hash); err != nil {
			log.Warn().Err(err).Str("infoHash", hash).Msg("Failed to prune cached torrent")
			continue
		}
		pruned++
	}

	log.Info().Int64("staleDecisions", deleted).Int("prunedTorrents", pruned).Msg("Cleanup complete")
	return nil
}

// RunCapsRefresh refreshes each indexer's capability snapshot.
func (s *Service) RunCapsRefresh(ctx context.Context, _ map[string]string) error {
	clients, err := s.torznab.Clients(ctx)
	if err != nil {
		return err
	}

	for _, client := range clients {
		caps, err := client.FetchCaps(ctx)
		if err != nil {
			log.Warn().Err(err).Str("indexer", client.Indexer().Name).Msg("Caps fetch failed")
			continue
		}
		if err := s.indexerStore.SaveCaps(ctx, client.Indexer().ID, caps); err != nil {
			return err
		}
	}

	return nil
}

// RunCollisionRecheck sweeps collision rows whose incumbent is gone from
// every client, then re-searches the affected searchees with the
// recent-search skip disabled so the searches actually execute.
func (s *Service) RunCollisionRecheck(ctx context.Context, _ map[string]string) error {
	// Refresh the mirror first so "no client holds this hash" is current.
	if err := s.syncer.Sync(ctx); err != nil {
		return err
	}

	stale, err := s.collisionStore.ListStale(ctx)
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}

	ids := make([]int64, 0, len(stale))
	nameSet := make(map[string]struct{}, len(stale))
	for _, l := range stale {
		ids = append(ids, l.DecisionID)
		nameSet[l.SearcheeName] = struct{}{}
	}

	if err := s.collisionStore.DeleteMany(ctx, ids); err != nil {
		return err
	}

	names := make([]string, 0, len(nameSet))
	for name := range nameSet {
		names = append(names, name)
	}

	report, err := s.BulkSearchByNames(ctx, names, BulkSearchOptions{ExcludeRecentSearch: true})
	if err != nil {
		return err
	}

	log.Info().
		Int("sweptCollisions", len(ids)).
		Int("researched", report.Attempted).
		Msg("Collision recheck complete")
	return nil
}

// buildTitleIndex maps normalized title keys to searchees for RSS matching.
func buildTitleIndex(searchees map[string]*metafile.Searchee) map[string]*metafile.Searchee {
	index := make(map[string]*metafile.Searchee, len(searchees))
	for _, se := range searchees {
		index[titleKey(se.Title)] = se
	}
	return index
}

// titleKey normalizes a release name for lookup: lowercase, punctuation that
// differs between dot- and space-separated forms stripped.
func titleKey(title string) string {
	title = strings.ToLower(strings.TrimSpace(title))
	title = strings.ReplaceAll(title, "'", "")
	title = strings.ReplaceAll(title, ":", "")
	title = strings.ReplaceAll(title, ".", " ")
	title = strings.ReplaceAll(title, "-", " ")
	title = strings.ReplaceAll(title, "_", " ")
	return strings.Join(strings.Fields(title), " ")
}
