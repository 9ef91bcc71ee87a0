// Copyright (c) 2025, the cross-seed contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package decision

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/PiloUnk/cross-seed/internal/metafile"
	"github.com/PiloUnk/cross-seed/internal/models"
	"github.com/PiloUnk/cross-seed/internal/services/torznab"
	"github.com/PiloUnk/cross-seed/internal/torrentcache"
)

// AssessCaching wraps Assess with the decision table: known candidates whose
// info-hash already collides short-circuit to a collision-only path that
// refreshes bookkeeping and retries conflict resolution without re-snatching.
// Every outcome is persisted, decision and collision row under one
// transaction.
func (e *Engine) AssessCaching(ctx context.Context, candidate *torznab.Candidate, searchee *metafile.Searchee, excluded map[string]struct{}) (*ResultAssessment, error) {
	searcheeRow, err := e.searcheeStore.Ensure(ctx, searchee.Title)
	if err != nil {
		return nil, err
	}
	if searcheeRow == nil {
		return nil, errNoSearchee
	}

	existing, err := e.decisionStore.Get(ctx, searcheeRow.ID, candidate.GUID)
	if err != nil {
		return nil, err
	}

	knownHash := ""
	if existing != nil && existing.InfoHash != nil {
		knownHash = *existing.InfoHash
	}
	if knownHash == "" {
		if h, ok := e.guidMap.Lookup(candidate.GUID, candidate.Link); ok {
			knownHash = h
		}
	}

	if knownHash != "" {
		if _, held := excluded[knownHash]; held {
			return e.assessCollisionOnly(ctx, candidate, searchee, searcheeRow, existing, knownHash, excluded)
		}
	}

	result, err := e.Assess(ctx, candidate, searchee, excluded)
	if err != nil {
		return nil, err
	}

	if err := e.persistAssessment(ctx, searcheeRow, candidate, searchee, result); err != nil {
		return nil, err
	}

	return result, nil
}

// assessCollisionOnly handles a candidate whose snatched info-hash is already
// held locally: no re-snatch, just refreshed timestamps, a conflict-rule
// retry, and the collision row. A previously matched decision is preserved so
// re-announcements never regress an injected match.
func (e *Engine) assessCollisionOnly(
	ctx context.Context,
	candidate *torznab.Candidate,
	searchee *metafile.Searchee,
	searcheeRow *models.Searchee,
	existing *models.DecisionRow,
	knownHash string,
	excluded map[string]struct{},
) (*ResultAssessment, error) {
	meta, _, err := e.cache.Get(knownHash)
	if err != nil && !errors.Is(err, torrentcache.ErrNotCached) {
		log.Debug().Err(err).Str("infoHash", knownHash).Msg("Cached torrent unusable during collision check")
	}

	knownTrackers, err := e.clientSearcheeStore.TrackersForHash(ctx, knownHash)
	if err != nil {
		return nil, err
	}

	var candidateTrackers []string
	if meta != nil {
		candidateTrackers = meta.TrackerHosts()
	} else {
		candidateTrackers = metafile.NormalizeTrackerSet([]string{candidate.Tracker})
	}

	mismatch := !metafile.TrackerSetsEqual(candidateTrackers, knownTrackers)

	resolveWith := candidateTrackers
	if !mismatch {
		resolveWith = metafile.NormalizeTrackerSet([]string{candidate.Tracker})
	}

	evicted, err := e.resolver.Resolve(ctx, knownHash, resolveWith, searchee.Title)
	if err != nil {
		log.Warn().Err(err).Str("infoHash", knownHash).Msg("Conflict resolution failed")
	}
	if evicted {
		if e.metrics != nil {
			e.metrics.Evictions.Inc()
		}
		delete(excluded, knownHash)

		var result *ResultAssessment
		if meta != nil {
			result, err = e.AssessMetafile(ctx, meta, searchee, excluded, candidate.Tracker)
			if err != nil {
				return nil, err
			}
			result.MetaCached = true
		} else {
			result, err = e.Assess(ctx, candidate, searchee, excluded)
			if err != nil {
				return nil, err
			}
		}

		if err := e.persistAssessment(ctx, searcheeRow, candidate, searchee, result); err != nil {
			return nil, err
		}
		return result, nil
	}

	decision := models.DecisionInfoHashAlreadyExists
	if mismatch {
		decision = models.DecisionInfoHashExistsOtherTracker
	}
	// Never regress a decision that already produced a usable match.
	if existing != nil && existing.Decision.IsAnyMatch() {
		decision = existing.Decision
	}

	result := &ResultAssessment{
		Decision:        decision,
		Metafile:        meta,
		MetaCached:      meta != nil,
		TrackerMismatch: mismatch,
	}

	if err := e.persistCollision(ctx, searcheeRow, candidate, searchee, knownHash, decision, candidateTrackers, knownTrackers, meta); err != nil {
		return nil, err
	}

	return result, nil
}

// persistAssessment writes the decision row and its collision row (or the
// collision's absence) in one transaction.
func (e *Engine) persistAssessment(ctx context.Context, searcheeRow *models.Searchee, candidate *torznab.Candidate, searchee *metafile.Searchee, result *ResultAssessment) error {
	recordCollision := result.Decision == models.DecisionInfoHashExistsOtherTracker &&
		result.Metafile != nil && result.Metafile.IsPrivate()

	// Read the incumbent's trackers before the transaction takes the
	// database's only connection.
	var knownTrackers []string
	if recordCollision {
		var err error
		knownTrackers, err = e.clientSearcheeStore.TrackersForHash(ctx, result.Metafile.InfoHash)
		if err != nil {
			return err
		}
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin assessment tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	decisions := e.decisionStore.WithTx(tx)
	collisions := e.collisionStore.WithTx(tx)

	row := &models.DecisionRow{
		SearcheeID:      searcheeRow.ID,
		GUID:            candidate.GUID,
		Decision:        result.Decision,
		FuzzySizeFactor: e.fuzzySizeFactor(searchee),
	}
	if result.Metafile != nil {
		h := result.Metafile.InfoHash
		row.InfoHash = &h
	}

	saved, err := decisions.Upsert(ctx, row)
	if err != nil {
		return err
	}

	if recordCollision {
		if err := collisions.Upsert(ctx, saved.ID, result.Metafile.TrackerHosts(), knownTrackers); err != nil {
			return err
		}
		if e.metrics != nil {
			e.metrics.CollisionsSaved.Inc()
		}
	} else {
		if err := collisions.Delete(ctx, saved.ID); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit assessment tx: %w", err)
	}
	return nil
}

// persistCollision writes the collision-only path's bookkeeping. Collisions
// are recorded for private candidates only; public swarms churn trackers too
// much to be signal.
func (e *Engine) persistCollision(
	ctx context.Context,
	searcheeRow *models.Searchee,
	candidate *torznab.Candidate,
	searchee *metafile.Searchee,
	knownHash string,
	decision models.Decision,
	candidateTrackers, knownTrackers []string,
	meta *metafile.Metafile,
) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin collision tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	decisions := e.decisionStore.WithTx(tx)
	collisions := e.collisionStore.WithTx(tx)

	row := &models.DecisionRow{
		SearcheeID:      searcheeRow.ID,
		GUID:            candidate.GUID,
		InfoHash:        &knownHash,
		Decision:        decision,
		FuzzySizeFactor: e.fuzzySizeFactor(searchee),
	}

	saved, err := decisions.Upsert(ctx, row)
	if err != nil {
		return err
	}

	isPrivate := meta != nil && meta.IsPrivate()
	if decision == models.DecisionInfoHashExistsOtherTracker && isPrivate {
		if err := collisions.Upsert(ctx, saved.ID, candidateTrackers, knownTrackers); err != nil {
			return err
		}
		if e.metrics != nil {
			e.metrics.CollisionsSaved.Inc()
		}
	} else {
		if err := collisions.Delete(ctx, saved.ID); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit collision tx: %w", err)
	}
	return nil
}
