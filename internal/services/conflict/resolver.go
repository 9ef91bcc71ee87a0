// Copyright (c) 2025, the cross-seed contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package conflict decides which tracker's copy of a torrent survives when
// the same info-hash is seeded under different trackers.
package conflict

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/PiloUnk/cross-seed/internal/metafile"
	"github.com/PiloUnk/cross-seed/internal/models"
	"github.com/PiloUnk/cross-seed/internal/torrentclient"
)

type Resolver struct {
	ruleStore           *models.ConflictRuleStore
	indexerStore        *models.IndexerStore
	clientSearcheeStore *models.ClientSearcheeStore
	syncer              *torrentclient.Syncer
}

func NewResolver(
	ruleStore *models.ConflictRuleStore,
	indexerStore *models.IndexerStore,
	clientSearcheeStore *models.ClientSearcheeStore,
	syncer *torrentclient.Syncer,
) *Resolver {
	return &Resolver{
		ruleStore:           ruleStore,
		indexerStore:        indexerStore,
		clientSearcheeStore: clientSearcheeStore,
		syncer:              syncer,
	}
}

// Resolve applies the operator's conflict rules to an incumbent torrent
// holding infoHash. It returns true only when the incumbent was fully
// evicted from every owning client; any failure leaves all state untouched.
func (r *Resolver) Resolve(ctx context.Context, infoHash string, candidateTrackers []string, searcheeName string) (bool, error) {
	if len(candidateTrackers) == 0 {
		return false, nil
	}

	rules, err := r.ruleStore.List(ctx)
	if err != nil {
		return false, fmt.Errorf("load conflict rules: %w", err)
	}
	if len(rules) == 0 {
		return false, nil
	}

	indexerTrackers, err := r.indexerStore.AllTrackers(ctx)
	if err != nil {
		return false, fmt.Errorf("load indexer trackers: %w", err)
	}
	indexerSet := toSet(indexerTrackers)

	candidatePriority := bestPriority(rules, indexerSet, candidateTrackers)
	if candidatePriority == noPriority {
		// No rule speaks for the candidate; the incumbent stays.
		return false, nil
	}

	incumbentTrackers, err := r.clientSearcheeStore.TrackersForHash(ctx, infoHash)
	if err != nil {
		return false, fmt.Errorf("load incumbent trackers: %w", err)
	}

	incumbentPriority := bestPriority(rules, indexerSet, incumbentTrackers)
	if incumbentPriority == noPriority {
		// Unmatched incumbents rank strictly below every rule.
		incumbentPriority = len(rules)
	}

	// Equal priority keeps the incumbent.
	if candidatePriority >= incumbentPriority {
		log.Debug().
			Str("infoHash", infoHash).
			Str("searchee", searcheeName).
			Int("candidatePriority", candidatePriority+1).
			Int("incumbentPriority", incumbentPriority+1).
			Msg("Conflict rules keep the incumbent")
		return false, nil
	}

	evicted, err := r.evict(ctx, infoHash)
	if err != nil || !evicted {
		return false, err
	}

	log.Info().
		Str("infoHash", infoHash).
		Str("searchee", searcheeName).
		Strs("candidateTrackers", metafile.NormalizeTrackerSet(candidateTrackers)).
		Strs("incumbentTrackers", incumbentTrackers).
		Msg("Evicted incumbent torrent by conflict rule")

	return true, nil
}

// evict removes infoHash from every owning client, verifying absence before
// touching the database. All-or-nothing: the first failure aborts.
func (r *Resolver) evict(ctx context.Context, infoHash string) (bool, error) {
	hosts, err := r.clientSearcheeStore.HostsForHash(ctx, infoHash)
	if err != nil {
		return false, fmt.Errorf("load owning clients: %w", err)
	}
	if len(hosts) == 0 {
		return false, nil
	}

	drivers := r.syncer.DriversForHost(hosts)
	if len(drivers) != len(hosts) {
		return false, fmt.Errorf("owning client not configured for %s", infoHash)
	}

	for _, driver := range drivers {
		if err := driver.RemoveTorrent(ctx, infoHash); err != nil {
			log.Warn().Err(err).Str("infoHash", infoHash).Str("client", driver.Host()).
				Msg("Eviction aborted: removal failed")
			return false, nil
		}

		present, err := driver.IsTorrentInClient(ctx, infoHash)
		if err != nil {
			log.Warn().Err(err).Str("infoHash", infoHash).Str("client", driver.Host()).
				Msg("Eviction aborted: removal could not be verified")
			return false, nil
		}
		if present {
			log.Warn().Str("infoHash", infoHash).Str("client", driver.Host()).
				Msg("Eviction aborted: torrent still present after removal")
			return false, nil
		}
	}

	if err := r.clientSearcheeStore.DeleteByHash(ctx, infoHash); err != nil {
		return false, err
	}

	return true, nil
}

const noPriority = -1

// bestPriority returns the index of the first rule matching any of the
// trackers, or noPriority. Rule order is priority order, so the minimum
// matching index is the best priority.
func bestPriority(rules []*models.ConflictRule, indexerSet map[string]struct{}, trackers []string) int {
	best := noPriority
	for _, tracker := range metafile.NormalizeTrackerSet(trackers) {
		for i, rule := range rules {
			if !ruleMatches(rule, indexerSet, tracker) {
				continue
			}
			if best == noPriority || i < best {
				best = i
			}
			break
		}
	}
	return best
}

func ruleMatches(rule *models.ConflictRule, indexerSet map[string]struct{}, tracker string) bool {
	if rule.AllIndexers {
		_, ok := indexerSet[tracker]
		return ok
	}
	for _, t := range rule.Trackers {
		if metafile.NormalizeTracker(t) == tracker {
			return true
		}
	}
	return false
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
