// Copyright (c) 2025, the cross-seed contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package search

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PiloUnk/cross-seed/internal/database"
	"github.com/PiloUnk/cross-seed/internal/domain"
	"github.com/PiloUnk/cross-seed/internal/metafile"
	"github.com/PiloUnk/cross-seed/internal/models"
	"github.com/PiloUnk/cross-seed/internal/services/torznab"
	"github.com/PiloUnk/cross-seed/internal/torrentcache"
	"github.com/PiloUnk/cross-seed/internal/torrentclient"
)

type fakeDriver struct {
	host string
}

func (f *fakeDriver) Host() string                                            { return f.host }
func (f *fakeDriver) RemoveTorrent(context.Context, string) error             { return nil }
func (f *fakeDriver) IsTorrentInClient(context.Context, string) (bool, error) { return false, nil }
func (f *fakeDriver) ListTorrents(context.Context) ([]torrentclient.ClientTorrent, error) {
	return nil, nil
}
func (f *fakeDriver) AddTorrent(context.Context, []byte, string) error        { return nil }
func (f *fakeDriver) Searchees(context.Context) ([]*metafile.Searchee, error) { return nil, nil }

type fixture struct {
	svc        *Service
	decisions  *models.DecisionStore
	collisions *models.CollisionStore
	searchees  *models.SearcheeStore
	clients    *models.ClientSearcheeStore
	cache      *torrentcache.Cache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := database.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cache, err := torrentcache.New(filepath.Join(t.TempDir(), "torrents"))
	require.NoError(t, err)

	conn := db.Conn()
	searchees := models.NewSearcheeStore(conn)
	indexers := models.NewIndexerStore(conn)
	decisions := models.NewDecisionStore(conn)
	collisions := models.NewCollisionStore(conn)
	clients := models.NewClientSearcheeStore(conn)

	driver := &fakeDriver{host: "http://localhost:8080"}
	syncer := torrentclient.NewSyncer([]torrentclient.Driver{driver}, clients)

	cfg := &domain.Config{Action: domain.ActionInject}

	svc := NewService(cfg, nil, torznab.NewService(indexers, 5), syncer, cache,
		searchees, decisions, collisions, clients, indexers)

	return &fixture{
		svc:        svc,
		decisions:  decisions,
		collisions: collisions,
		searchees:  searchees,
		clients:    clients,
		cache:      cache,
	}
}

func TestTitleKey(t *testing.T) {
	assert.Equal(t, titleKey("Bobs.Burgers.S01.1080p"), titleKey("Bob's Burgers S01 1080p"))
	assert.Equal(t, "csi miami s02", titleKey("CSI: Miami.S02"))
	assert.NotEqual(t, titleKey("Show.A"), titleKey("Show.B"))
}

func TestRunCleanupPrunesOrphanedCacheFiles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Referenced hash: decision row + cache file.
	se, err := f.searchees.Ensure(ctx, "Kept.Release")
	require.NoError(t, err)
	kept := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	_, err = f.decisions.Upsert(ctx, &models.DecisionRow{
		SearcheeID: se.ID, GUID: "guid", InfoHash: &kept,
		Decision: models.DecisionMatch,
	})
	require.NoError(t, err)
	require.NoError(t, f.cache.Put(&metafile.Metafile{InfoHash: kept}, []byte("kept")))

	// Orphan: cache file with no decision row.
	orphan := "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	require.NoError(t, f.cache.Put(&metafile.Metafile{InfoHash: orphan}, []byte("orphan")))

	require.NoError(t, f.svc.RunCleanup(ctx, nil))

	assert.True(t, f.cache.Has(kept))
	assert.False(t, f.cache.Has(orphan))
}

func TestRunCollisionRecheckSweepsStaleRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	se, err := f.searchees.Ensure(ctx, "Stale.Release")
	require.NoError(t, err)

	hash := "cccccccccccccccccccccccccccccccccccccccc"
	d, err := f.decisions.Upsert(ctx, &models.DecisionRow{
		SearcheeID: se.ID, GUID: "guid", InfoHash: &hash,
		Decision: models.DecisionInfoHashExistsOtherTracker,
	})
	require.NoError(t, err)
	require.NoError(t, f.collisions.Upsert(ctx, d.ID,
		[]string{"a.example.com"}, []string{"b.example.com"}))

	// No client holds the hash, so the sweep removes the row.
	require.NoError(t, f.svc.RunCollisionRecheck(ctx, nil))

	col, err := f.collisions.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Nil(t, col)
}

func TestBulkSearchNoIndexers(t *testing.T) {
	f := newFixture(t)

	report, err := f.svc.BulkSearchByNames(context.Background(), []string{"Anything"}, BulkSearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Requested)
	assert.Zero(t, report.Attempted)
	assert.Zero(t, report.TotalFound)
}
