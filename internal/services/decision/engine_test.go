// Copyright (c) 2025, the cross-seed contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package decision

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PiloUnk/cross-seed/internal/database"
	"github.com/PiloUnk/cross-seed/internal/domain"
	"github.com/PiloUnk/cross-seed/internal/metafile"
	"github.com/PiloUnk/cross-seed/internal/models"
	"github.com/PiloUnk/cross-seed/internal/services/conflict"
	"github.com/PiloUnk/cross-seed/internal/services/torznab"
	"github.com/PiloUnk/cross-seed/internal/torrentcache"
	"github.com/PiloUnk/cross-seed/internal/torrentclient"
)

// fakeSnatcher returns canned results and records invocations.
type fakeSnatcher struct {
	meta  *metafile.Metafile
	raw   []byte
	err   error
	calls int
}

func (f *fakeSnatcher) Snatch(_ context.Context, _ *torznab.Candidate) (*metafile.Metafile, []byte, error) {
	f.calls++
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.meta, f.raw, nil
}

// fakeDriver is an in-memory torrent client.
type fakeDriver struct {
	host        string
	torrents    map[string]bool
	removeErr   error
	removeCalls int
}

func (f *fakeDriver) Host() string { return f.host }

func (f *fakeDriver) RemoveTorrent(_ context.Context, hash string) error {
	f.removeCalls++
	if f.removeErr != nil {
		return f.removeErr
	}
	delete(f.torrents, hash)
	return nil
}

func (f *fakeDriver) IsTorrentInClient(_ context.Context, hash string) (bool, error) {
	return f.torrents[hash], nil
}

func (f *fakeDriver) ListTorrents(_ context.Context) ([]torrentclient.ClientTorrent, error) {
	return nil, nil
}

func (f *fakeDriver) AddTorrent(_ context.Context, _ []byte, _ string) error { return nil }

func (f *fakeDriver) Searchees(_ context.Context) ([]*metafile.Searchee, error) { return nil, nil }

type fixture struct {
	engine     *Engine
	snatcher   *fakeSnatcher
	driver     *fakeDriver
	searchees  *models.SearcheeStore
	decisions  *models.DecisionStore
	collisions *models.CollisionStore
	clients    *models.ClientSearcheeStore
	rules      *models.ConflictRuleStore
	indexers   *models.IndexerStore
	cache      *torrentcache.Cache
}

func newFixture(t *testing.T, settings *Settings) *fixture {
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
	rules := models.NewConflictRuleStore(conn)
	clients := models.NewClientSearcheeStore(conn)

	driver := &fakeDriver{host: "http://localhost:8080", torrents: map[string]bool{}}
	syncer := torrentclient.NewSyncer([]torrentclient.Driver{driver}, clients)
	resolver := conflict.NewResolver(rules, indexers, clients, syncer)

	snatcher := &fakeSnatcher{}

	if settings == nil {
		settings = &Settings{
			MatchMode:             domain.MatchModeFlexible,
			FuzzySizeFactor:       0.02,
			SeasonFuzzySizeFactor: 0.1,
			MinSizeRatio:          0.7,
		}
	}

	engine := NewEngine(conn, snatcher, cache, torrentcache.NewGuidMap(),
		searchees, decisions, collisions, indexers, clients, resolver, settings, nil)

	return &fixture{
		engine:     engine,
		snatcher:   snatcher,
		driver:     driver,
		searchees:  searchees,
		decisions:  decisions,
		collisions: collisions,
		clients:    clients,
		rules:      rules,
		indexers:   indexers,
		cache:      cache,
	}
}

func boolPtr(b bool) *bool { return &b }

func testSearchee(files ...metafile.File) *metafile.Searchee {
	se := &metafile.Searchee{
		Title: "Some.Content.Here",
		Label: metafile.LabelSearch,
	}
	for _, f := range files {
		se.Files = append(se.Files, f)
		se.Length += f.Length
	}
	return se
}

func testMetafile(hash string, pieceLength int64, files ...metafile.File) *metafile.Metafile {
	m := &metafile.Metafile{
		InfoHash:    hash,
		Name:        "Some.Content.Here",
		PieceLength: pieceLength,
		Trackers:    []string{"http://tracker-a.example.com/announce"},
	}
	for _, f := range files {
		m.Files = append(m.Files, f)
		m.Length += f.Length
	}
	return m
}

func TestAssessMetafileFullMatch(t *testing.T) {
	f := newFixture(t, nil)

	searchee := testSearchee(
		metafile.File{Path: "a", Name: "a", Length: 100},
		metafile.File{Path: "b", Name: "b", Length: 200},
	)
	meta := testMetafile("1111111111111111111111111111111111111111", 16384,
		metafile.File{Path: "a", Name: "a", Length: 100},
		metafile.File{Path: "b", Name: "b", Length: 200},
	)

	result, err := f.engine.AssessMetafile(context.Background(), meta, searchee, map[string]struct{}{}, "tracker-a.example.com")
	require.NoError(t, err)
	assert.Equal(t, models.DecisionMatch, result.Decision)
}

func TestAssessMetafileSizeOnly(t *testing.T) {
	searchee := testSearchee(
		metafile.File{Path: "a", Name: "a", Length: 100},
		metafile.File{Path: "b", Name: "b", Length: 200},
	)
	meta := testMetafile("2222222222222222222222222222222222222222", 16384,
		metafile.File{Path: "x", Name: "x", Length: 100},
		metafile.File{Path: "y", Name: "y", Length: 200},
	)

	t.Run("flexible", func(t *testing.T) {
		f := newFixture(t, nil)
		result, err := f.engine.AssessMetafile(context.Background(), meta, searchee, map[string]struct{}{}, "")
		require.NoError(t, err)
		assert.Equal(t, models.DecisionMatchSizeOnly, result.Decision)
	})

	t.Run("strict", func(t *testing.T) {
		f := newFixture(t, &Settings{
			MatchMode:       domain.MatchModeStrict,
			FuzzySizeFactor: 0.02,
			MinSizeRatio:    0.7,
		})
		result, err := f.engine.AssessMetafile(context.Background(), meta, searchee, map[string]struct{}{}, "")
		require.NoError(t, err)
		assert.Equal(t, models.DecisionFileTreeMismatch, result.Decision)
	})
}

func TestAssessMetafileSizeMismatch(t *testing.T) {
	f := newFixture(t, nil)

	searchee := testSearchee(metafile.File{Path: "a", Name: "a", Length: 100})
	meta := testMetafile("3333333333333333333333333333333333333333", 16384,
		metafile.File{Path: "a", Name: "a", Length: 150})

	result, err := f.engine.AssessMetafile(context.Background(), meta, searchee, map[string]struct{}{}, "")
	require.NoError(t, err)
	assert.Equal(t, models.DecisionSizeMismatch, result.Decision)
}

func TestAssessFuzzySizeRejectionPreSnatch(t *testing.T) {
	f := newFixture(t, nil)

	searchee := testSearchee(metafile.File{Path: "a", Name: "a", Length: 1000})
	candidate := &torznab.Candidate{
		Name: searchee.Title,
		GUID: "guid-fuzzy",
		Link: "https://indexer.example.org/dl/1",
		Size: 2000,
	}

	result, err := f.engine.Assess(context.Background(), candidate, searchee, map[string]struct{}{})
	require.NoError(t, err)
	assert.Equal(t, models.DecisionFuzzySizeMismatch, result.Decision)
	assert.Zero(t, f.snatcher.calls, "pre-filter rejection must not snatch")
}

func TestAssessNoDownloadLink(t *testing.T) {
	f := newFixture(t, nil)

	searchee := testSearchee(metafile.File{Path: "a", Name: "a", Length: 1000})
	candidate := &torznab.Candidate{Name: searchee.Title, GUID: "guid-nolink"}

	result, err := f.engine.Assess(context.Background(), candidate, searchee, map[string]struct{}{})
	require.NoError(t, err)
	assert.Equal(t, models.DecisionNoDownloadLink, result.Decision)
}

func TestAssessBlockedRelease(t *testing.T) {
	f := newFixture(t, &Settings{
		MatchMode:       domain.MatchModeFlexible,
		FuzzySizeFactor: 0.02,
		MinSizeRatio:    0.7,
		BlockList:       []string{"some.content"},
	})

	searchee := testSearchee(metafile.File{Path: "a", Name: "a", Length: 1000})
	candidate := &torznab.Candidate{Name: searchee.Title, GUID: "guid-blocked", Link: "https://x/dl"}

	result, err := f.engine.Assess(context.Background(), candidate, searchee, map[string]struct{}{})
	require.NoError(t, err)
	assert.Equal(t, models.DecisionBlockedRelease, result.Decision)
	assert.Zero(t, f.snatcher.calls)
}

func TestAssessSnatchErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want models.Decision
	}{
		{"magnet", &torznab.SnatchError{Kind: torznab.SnatchMagnetLink}, models.DecisionMagnetLink},
		{"rate limited", &torznab.SnatchError{Kind: torznab.SnatchRateLimited}, models.DecisionRateLimited},
		{"io error", &torznab.SnatchError{Kind: torznab.SnatchIOError, Err: errors.New("boom")}, models.DecisionDownloadFailed},
	}

	// Shrink the retry delay so the IO case doesn't sleep for minutes.
	origDelay := snatchDelay
	snatchDelay = time.Millisecond
	t.Cleanup(func() { snatchDelay = origDelay })

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.snatcher.err = tt.err

			searchee := testSearchee(metafile.File{Path: "a", Name: "a", Length: 1000})
			candidate := &torznab.Candidate{Name: searchee.Title, GUID: "guid-err", Link: "https://x/dl", Size: 1000}

			result, err := f.engine.Assess(context.Background(), candidate, searchee, map[string]struct{}{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.Decision)

			if tt.want == models.DecisionDownloadFailed {
				// Only transport errors burn the full retry budget.
				assert.Equal(t, 5, f.snatcher.calls)
			} else {
				assert.Equal(t, 1, f.snatcher.calls)
			}
		})
	}
}

func TestAssessSameInfoHash(t *testing.T) {
	f := newFixture(t, nil)

	searchee := testSearchee(metafile.File{Path: "a", Name: "a", Length: 100})
	searchee.InfoHash = "4444444444444444444444444444444444444444"
	searchee.Trackers = []string{"http://tracker-a.example.com/announce"}

	meta := testMetafile(searchee.InfoHash, 16384, metafile.File{Path: "a", Name: "a", Length: 100})

	result, err := f.engine.AssessMetafile(context.Background(), meta, searchee, map[string]struct{}{}, "")
	require.NoError(t, err)
	assert.Equal(t, models.DecisionSameInfoHash, result.Decision)
	assert.False(t, result.TrackerMismatch)

	// Different tracker set: the cross-tracker variant.
	meta.Trackers = []string{"http://tracker-b.example.com/announce"}
	result, err = f.engine.AssessMetafile(context.Background(), meta, searchee, map[string]struct{}{}, "")
	require.NoError(t, err)
	assert.Equal(t, models.DecisionInfoHashExistsOtherTracker, result.Decision)
	assert.True(t, result.TrackerMismatch)
}

func TestAssessExcludedHashNoRules(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	hash := "5555555555555555555555555555555555555555"
	require.NoError(t, f.clients.Upsert(ctx, &models.ClientSearchee{
		InfoHash:   hash,
		ClientHost: f.driver.host,
		Trackers:   []string{"tracker-b.example.com"},
		Private:    boolPtr(true),
	}))

	searchee := testSearchee(metafile.File{Path: "a", Name: "a", Length: 100})
	meta := testMetafile(hash, 16384, metafile.File{Path: "a", Name: "a", Length: 100})

	excluded := map[string]struct{}{hash: {}}
	result, err := f.engine.AssessMetafile(ctx, meta, searchee, excluded, "tracker-a.example.com")
	require.NoError(t, err)
	// Candidate announces tracker-a, clients hold it under tracker-b.
	assert.Equal(t, models.DecisionInfoHashExistsOtherTracker, result.Decision)
	assert.True(t, result.TrackerMismatch)
	assert.Contains(t, excluded, hash)
}

func TestAssessExcludedHashEvictionFallsThrough(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// Candidate's tracker outranks the incumbent's.
	_, err := f.rules.Save(ctx, []*models.ConflictRule{
		{Trackers: []string{"tracker-a.example.com"}},
		{Trackers: []string{"tracker-b.example.com"}},
	})
	require.NoError(t, err)

	hash := "6666666666666666666666666666666666666666"
	f.driver.torrents[hash] = true
	require.NoError(t, f.clients.Upsert(ctx, &models.ClientSearchee{
		InfoHash:   hash,
		ClientHost: f.driver.host,
		Trackers:   []string{"tracker-b.example.com"},
	}))

	searchee := testSearchee(metafile.File{Path: "a", Name: "a", Length: 100})
	meta := testMetafile(hash, 16384, metafile.File{Path: "a", Name: "a", Length: 100})

	excluded := map[string]struct{}{hash: {}}
	result, err := f.engine.AssessMetafile(ctx, meta, searchee, excluded, "tracker-a.example.com")
	require.NoError(t, err)

	// The incumbent was evicted and content matching ran.
	assert.Equal(t, models.DecisionMatch, result.Decision)
	assert.NotContains(t, excluded, hash)
	assert.Equal(t, 1, f.driver.removeCalls)

	hosts, err := f.clients.HostsForHash(ctx, hash)
	require.NoError(t, err)
	assert.Empty(t, hosts)
}

func TestSeasonPackGuard(t *testing.T) {
	f := newFixture(t, nil)

	searchee := testSearchee(
		metafile.File{Path: "ep1.mkv", Name: "ep1.mkv", Length: 100},
		metafile.File{Path: "ep2.mkv", Name: "ep2.mkv", Length: 100},
	)
	searchee.Title = "Some.Show.S01.1080p.WEB-DL"

	meta := testMetafile("7777777777777777777777777777777777777777", 16384,
		metafile.File{Path: "ep1.mkv", Name: "ep1.mkv", Length: 100},
		metafile.File{Path: "ep2.mkv", Name: "ep2.mkv", Length: 100},
	)
	meta.Name = "Some.Show.S01E01.1080p.WEB-DL"

	result, err := f.engine.AssessMetafile(context.Background(), meta, searchee, map[string]struct{}{}, "")
	require.NoError(t, err)
	assert.Equal(t, models.DecisionFileTreeMismatch, result.Decision)
}

func TestPartialMatch(t *testing.T) {
	f := newFixture(t, &Settings{
		MatchMode:       domain.MatchModePartial,
		FuzzySizeFactor: 0.02,
		MinSizeRatio:    0.7,
	})

	// Candidate has one extra small file; the big ones line up.
	searchee := testSearchee(
		metafile.File{Path: "ep1.mkv", Name: "ep1.mkv", Length: 1 << 20},
		metafile.File{Path: "ep2.mkv", Name: "ep2.mkv", Length: 1 << 20},
	)
	meta := testMetafile("8888888888888888888888888888888888888888", 16384,
		metafile.File{Path: "ep1.mkv", Name: "ep1.mkv", Length: 1 << 20},
		metafile.File{Path: "ep2.mkv", Name: "ep2.mkv", Length: 1 << 20},
		metafile.File{Path: "extra.nfo", Name: "extra.nfo", Length: 1024},
	)

	result, err := f.engine.AssessMetafile(context.Background(), meta, searchee, map[string]struct{}{}, "")
	require.NoError(t, err)
	assert.Equal(t, models.DecisionMatchPartial, result.Decision)
}

func TestPartialSizeMismatch(t *testing.T) {
	f := newFixture(t, &Settings{
		MatchMode:       domain.MatchModePartial,
		FuzzySizeFactor: 0.02,
		MinSizeRatio:    0.7,
	})

	searchee := testSearchee(metafile.File{Path: "ep1.mkv", Name: "ep1.mkv", Length: 1 << 20})
	meta := testMetafile("9999999999999999999999999999999999999999", 16384,
		metafile.File{Path: "ep1.mkv", Name: "ep1.mkv", Length: 1 << 20},
		metafile.File{Path: "ep2.mkv", Name: "ep2.mkv", Length: 3 << 20},
	)

	result, err := f.engine.AssessMetafile(context.Background(), meta, searchee, map[string]struct{}{}, "")
	require.NoError(t, err)
	assert.Equal(t, models.DecisionPartialSizeMismatch, result.Decision)
}

func TestAssessCachingPersistsDecisionAndCollision(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	hash := "aaaabbbbccccddddeeeeffff0000111122223333"
	require.NoError(t, f.clients.Upsert(ctx, &models.ClientSearchee{
		InfoHash:   hash,
		ClientHost: f.driver.host,
		Trackers:   []string{"tracker-b.example.com"},
		Private:    boolPtr(true),
	}))

	private := true
	f.snatcher.meta = &metafile.Metafile{
		InfoHash:    hash,
		Name:        "Some.Content.Here",
		PieceLength: 16384,
		Length:      100,
		Files:       []metafile.File{{Path: "a", Name: "a", Length: 100}},
		Trackers:    []string{"http://tracker-a.example.com/announce"},
		Private:     &private,
	}
	f.snatcher.raw = []byte("d4:infoe") // placeholder bytes for the cache

	searchee := testSearchee(metafile.File{Path: "a", Name: "a", Length: 100})
	candidate := &torznab.Candidate{
		Name:    searchee.Title,
		GUID:    "guid-collision",
		Link:    "https://indexer.example.org/dl/2",
		Tracker: "tracker-a.example.com",
		Size:    100,
	}

	excluded := map[string]struct{}{hash: {}}
	result, err := f.engine.AssessCaching(ctx, candidate, searchee, excluded)
	require.NoError(t, err)
	assert.Equal(t, models.DecisionInfoHashExistsOtherTracker, result.Decision)
	assert.True(t, result.TrackerMismatch)

	searcheeRow, err := f.searchees.GetByName(ctx, searchee.Title)
	require.NoError(t, err)
	require.NotNil(t, searcheeRow)

	row, err := f.decisions.Get(ctx, searcheeRow.ID, candidate.GUID)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, models.DecisionInfoHashExistsOtherTracker, row.Decision)
	require.NotNil(t, row.InfoHash)
	assert.Equal(t, hash, *row.InfoHash)

	// Private cross-tracker duplicate: collision row exists.
	col, err := f.collisions.Get(ctx, row.ID)
	require.NoError(t, err)
	require.NotNil(t, col)
	assert.Equal(t, []string{"tracker-a.example.com"}, col.CandidateTrackers)
	assert.Equal(t, []string{"tracker-b.example.com"}, col.KnownTrackers)
}

func TestAssessCachingPublicCandidateNoCollision(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	hash := "0000111122223333444455556666777788889999"
	require.NoError(t, f.clients.Upsert(ctx, &models.ClientSearchee{
		InfoHash:   hash,
		ClientHost: f.driver.host,
		Trackers:   []string{"tracker-b.example.com"},
	}))

	f.snatcher.meta = &metafile.Metafile{
		InfoHash:    hash,
		Name:        "Some.Content.Here",
		PieceLength: 16384,
		Length:      100,
		Files:       []metafile.File{{Path: "a", Name: "a", Length: 100}},
		Trackers:    []string{"http://tracker-a.example.com/announce"},
	}
	f.snatcher.raw = []byte("d4:infoe")

	searchee := testSearchee(metafile.File{Path: "a", Name: "a", Length: 100})
	candidate := &torznab.Candidate{
		Name:    searchee.Title,
		GUID:    "guid-public",
		Link:    "https://indexer.example.org/dl/3",
		Tracker: "tracker-a.example.com",
		Size:    100,
	}

	excluded := map[string]struct{}{hash: {}}
	result, err := f.engine.AssessCaching(ctx, candidate, searchee, excluded)
	require.NoError(t, err)
	assert.Equal(t, models.DecisionInfoHashExistsOtherTracker, result.Decision)

	searcheeRow, err := f.searchees.GetByName(ctx, searchee.Title)
	require.NoError(t, err)
	row, err := f.decisions.Get(ctx, searcheeRow.ID, candidate.GUID)
	require.NoError(t, err)
	require.NotNil(t, row)

	// Public candidate: no collision row despite the cross-tracker decision.
	col, err := f.collisions.Get(ctx, row.ID)
	require.NoError(t, err)
	assert.Nil(t, col)
}

func TestAssessCachingShortCircuitPreservesMatch(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	hash := "1234123412341234123412341234123412341234"

	searchee := testSearchee(metafile.File{Path: "a", Name: "a", Length: 100})
	searcheeRow, err := f.searchees.Ensure(ctx, searchee.Title)
	require.NoError(t, err)

	// A previous pass matched and injected this candidate.
	_, err = f.decisions.Upsert(ctx, &models.DecisionRow{
		SearcheeID: searcheeRow.ID,
		GUID:       "guid-matched",
		InfoHash:   &hash,
		Decision:   models.DecisionMatch,
	})
	require.NoError(t, err)

	require.NoError(t, f.clients.Upsert(ctx, &models.ClientSearchee{
		InfoHash:   hash,
		ClientHost: f.driver.host,
		Trackers:   []string{"tracker-a.example.com"},
	}))

	candidate := &torznab.Candidate{
		Name:    searchee.Title,
		GUID:    "guid-matched",
		Link:    "https://indexer.example.org/dl/4",
		Tracker: "tracker-a.example.com",
	}

	excluded := map[string]struct{}{hash: {}}
	result, err := f.engine.AssessCaching(ctx, candidate, searchee, excluded)
	require.NoError(t, err)

	// The short-circuit path must not regress the stored match.
	assert.Equal(t, models.DecisionMatch, result.Decision)
	assert.Zero(t, f.snatcher.calls, "known hash must not be re-snatched")

	row, err := f.decisions.Get(ctx, searcheeRow.ID, candidate.GUID)
	require.NoError(t, err)
	assert.Equal(t, models.DecisionMatch, row.Decision)
}
