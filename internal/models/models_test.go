// Copyright (c) 2025, the cross-seed contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PiloUnk/cross-seed/internal/database"
	"github.com/PiloUnk/cross-seed/internal/models"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSearcheeEnsure(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	store := models.NewSearcheeStore(db.Conn())

	se, err := store.Ensure(ctx, "Test.Release.2024.1080p.WEB-DL-GRP")
	require.NoError(t, err)
	require.NotNil(t, se)
	assert.Positive(t, se.ID)

	again, err := store.Ensure(ctx, "Test.Release.2024.1080p.WEB-DL-GRP")
	require.NoError(t, err)
	assert.Equal(t, se.ID, again.ID)

	_, err = store.Ensure(ctx, "   ")
	assert.Error(t, err)
}

func TestDecisionUpsertPreservesFirstSeen(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	searchees := models.NewSearcheeStore(db.Conn())
	decisions := models.NewDecisionStore(db.Conn())

	se, err := searchees.Ensure(ctx, "Some.Release")
	require.NoError(t, err)

	hash := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	first, err := decisions.Upsert(ctx, &models.DecisionRow{
		SearcheeID:      se.ID,
		GUID:            "guid-1",
		InfoHash:        &hash,
		Decision:        models.DecisionMatch,
		FuzzySizeFactor: 0.02,
	})
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := decisions.Upsert(ctx, &models.DecisionRow{
		SearcheeID:      se.ID,
		GUID:            "guid-1",
		Decision:        models.DecisionSameInfoHash,
		FuzzySizeFactor: 0.05,
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.FirstSeen, second.FirstSeen)
	// last_seen never decreases.
	assert.False(t, second.LastSeen.Before(first.LastSeen))
	// info_hash survives an upsert that carries none.
	require.NotNil(t, second.InfoHash)
	assert.Equal(t, hash, *second.InfoHash)
	assert.Equal(t, models.DecisionSameInfoHash, second.Decision)
	assert.InDelta(t, 0.05, second.FuzzySizeFactor, 1e-9)
}

func TestDecisionListCandidatesClamps(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	decisions := models.NewDecisionStore(db.Conn())

	listings, err := decisions.ListCandidates(ctx, 9999, -5)
	require.NoError(t, err)
	assert.Empty(t, listings)
}

func TestGuidInfoHashPairs(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	searchees := models.NewSearcheeStore(db.Conn())
	decisions := models.NewDecisionStore(db.Conn())

	se, err := searchees.Ensure(ctx, "A.Release")
	require.NoError(t, err)

	hash := "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	_, err = decisions.Upsert(ctx, &models.DecisionRow{
		SearcheeID: se.ID, GUID: "with-hash", InfoHash: &hash,
		Decision: models.DecisionMatch, FuzzySizeFactor: 0.02,
	})
	require.NoError(t, err)
	_, err = decisions.Upsert(ctx, &models.DecisionRow{
		SearcheeID: se.ID, GUID: "without-hash",
		Decision: models.DecisionFuzzySizeMismatch, FuzzySizeFactor: 0.02,
	})
	require.NoError(t, err)

	pairs, err := decisions.GuidInfoHashPairs(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"with-hash": hash}, pairs)
}

func TestCollisionUpsertAndEquivalence(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	searchees := models.NewSearcheeStore(db.Conn())
	decisions := models.NewDecisionStore(db.Conn())
	collisions := models.NewCollisionStore(db.Conn())

	se, err := searchees.Ensure(ctx, "Colliding.Release")
	require.NoError(t, err)

	hash := "cccccccccccccccccccccccccccccccccccccccc"
	d1, err := decisions.Upsert(ctx, &models.DecisionRow{
		SearcheeID: se.ID, GUID: "guid-old", InfoHash: &hash,
		Decision: models.DecisionInfoHashExistsOtherTracker, FuzzySizeFactor: 0.02,
	})
	require.NoError(t, err)

	candidate := []string{"tracker-a.example.com"}
	known := []string{"tracker-b.example.com"}

	require.NoError(t, collisions.Upsert(ctx, d1.ID, candidate, known))

	got, err := collisions.Get(ctx, d1.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, candidate, got.CandidateTrackers)
	assert.Equal(t, known, got.KnownTrackers)

	// The same torrent re-announced under a new guid must not create a
	// duplicate collision: the old row is refreshed, the new one dropped.
	d2, err := decisions.Upsert(ctx, &models.DecisionRow{
		SearcheeID: se.ID, GUID: "guid-new", InfoHash: &hash,
		Decision: models.DecisionInfoHashExistsOtherTracker, FuzzySizeFactor: 0.02,
	})
	require.NoError(t, err)

	require.NoError(t, collisions.Upsert(ctx, d2.ID, candidate, known))

	fromNew, err := collisions.Get(ctx, d2.ID)
	require.NoError(t, err)
	assert.Nil(t, fromNew)

	fromOld, err := collisions.Get(ctx, d1.ID)
	require.NoError(t, err)
	require.NotNil(t, fromOld)
	assert.False(t, fromOld.UpdatedAt.Before(got.UpdatedAt))
}

func TestCollisionListStale(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	searchees := models.NewSearcheeStore(db.Conn())
	decisions := models.NewDecisionStore(db.Conn())
	collisions := models.NewCollisionStore(db.Conn())
	clients := models.NewClientSearcheeStore(db.Conn())

	se, err := searchees.Ensure(ctx, "Stale.Release")
	require.NoError(t, err)

	hash := "dddddddddddddddddddddddddddddddddddddddd"
	d, err := decisions.Upsert(ctx, &models.DecisionRow{
		SearcheeID: se.ID, GUID: "guid", InfoHash: &hash,
		Decision: models.DecisionInfoHashExistsOtherTracker, FuzzySizeFactor: 0.02,
	})
	require.NoError(t, err)
	require.NoError(t, collisions.Upsert(ctx, d.ID, []string{"a.example.com"}, []string{"b.example.com"}))

	// No client holds the hash: stale.
	stale, err := collisions.ListStale(ctx)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "Stale.Release", stale[0].SearcheeName)
	assert.Equal(t, hash, stale[0].InfoHash)

	// A client row makes it current again.
	require.NoError(t, clients.Upsert(ctx, &models.ClientSearchee{
		InfoHash: hash, ClientHost: "http://localhost:8080",
		Trackers: []string{"b.example.com"},
	}))

	stale, err = collisions.ListStale(ctx)
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestConflictRuleSave(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	store := models.NewConflictRuleStore(db.Conn())

	rules := []*models.ConflictRule{
		{Trackers: []string{"A.example.com"}},
		{Trackers: []string{"b.example.com", "c.example.com"}},
	}

	saved, err := store.Save(ctx, rules)
	require.NoError(t, err)
	// Two stored rules plus the implicit allIndexers tail.
	require.Len(t, saved, 3)
	assert.Equal(t, 1, saved[0].Priority)
	assert.Equal(t, []string{"a.example.com"}, saved[0].Trackers)
	assert.Equal(t, 2, saved[1].Priority)
	assert.True(t, saved[2].AllIndexers)
	assert.Equal(t, 3, saved[2].Priority)

	// Idempotent: saving the stored set again yields the same shape.
	again, err := store.Save(ctx, saved[:2])
	require.NoError(t, err)
	require.Len(t, again, 3)
	for i := range again {
		assert.Equal(t, saved[i].Priority, again[i].Priority)
		assert.Equal(t, saved[i].AllIndexers, again[i].AllIndexers)
		assert.Equal(t, saved[i].Trackers, again[i].Trackers)
	}
}

func TestConflictRuleSaveValidation(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	store := models.NewConflictRuleStore(db.Conn())

	_, err := store.Save(ctx, []*models.ConflictRule{
		{Trackers: []string{}},
	})
	assert.ErrorIs(t, err, models.ErrEmptyRule)

	_, err = store.Save(ctx, []*models.ConflictRule{
		{Trackers: []string{"a.example.com"}},
		{AllIndexers: true},
	})
	assert.ErrorIs(t, err, models.ErrMisplacedAllIndexers)

	// allIndexers first is the single-entry shape and needs no tail.
	saved, err := store.Save(ctx, []*models.ConflictRule{{AllIndexers: true}})
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.True(t, saved[0].AllIndexers)
}

func TestClientSearcheeTrackerRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	store := models.NewClientSearcheeStore(db.Conn())

	hash := "eeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee"
	require.NoError(t, store.Upsert(ctx, &models.ClientSearchee{
		InfoHash:   hash,
		ClientHost: "http://localhost:8080",
		Name:       "Round.Trip",
		Trackers:   []string{"Z.example.com", "a.example.com", "z.EXAMPLE.com", " "},
	}))

	trackers, err := store.TrackersForHash(ctx, hash)
	require.NoError(t, err)
	// Sorted, unique, normalized.
	assert.Equal(t, []string{"a.example.com", "z.example.com"}, trackers)

	hosts, err := store.HostsForHash(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://localhost:8080"}, hosts)

	require.NoError(t, store.DeleteByHash(ctx, hash))
	hosts, err = store.HostsForHash(ctx, hash)
	require.NoError(t, err)
	assert.Empty(t, hosts)
}

func TestIndexerAddTrackersAppendOnly(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	store := models.NewIndexerStore(db.Conn())

	idx, err := store.Upsert(ctx, "example", "https://indexer.example.org/api", "key")
	require.NoError(t, err)

	require.NoError(t, store.AddTrackers(ctx, idx.ID, []string{"b.example.com"}))
	require.NoError(t, store.AddTrackers(ctx, idx.ID, []string{"a.example.com"}))
	// Re-adding an existing tracker never removes anything.
	require.NoError(t, store.AddTrackers(ctx, idx.ID, []string{"b.example.com"}))

	got, err := store.Get(ctx, idx.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.example.com", "b.example.com"}, got.Trackers)

	all, err := store.AllTrackers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.example.com", "b.example.com"}, all)
}

func TestJobLog(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	store := models.NewJobLogStore(db.Conn())

	lastRun, err := store.LastRun(ctx, "RSS")
	require.NoError(t, err)
	assert.True(t, lastRun.IsZero())

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, store.SetLastRun(ctx, "RSS", now))

	got, err := store.LastRun(ctx, "RSS")
	require.NoError(t, err)
	assert.Equal(t, now.Unix(), got.UTC().Unix())

	later := now.Add(time.Hour)
	require.NoError(t, store.SetLastRun(ctx, "RSS", later))
	got, err = store.LastRun(ctx, "RSS")
	require.NoError(t, err)
	assert.Equal(t, later.Unix(), got.UTC().Unix())
}
