// Copyright (c) 2025, the cross-seed contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/PiloUnk/cross-seed/internal/metafile"
)

func filesOf(entries ...metafile.File) []metafile.File {
	return entries
}

func TestCompareFileTreesByPath(t *testing.T) {
	searchee := &metafile.Searchee{
		InfoHash: "abc", // path-keyed comparison
		Files: filesOf(
			metafile.File{Path: "dir/a.mkv", Name: "a.mkv", Length: 100},
			metafile.File{Path: "dir/b.mkv", Name: "b.mkv", Length: 200},
		),
	}

	candidate := &metafile.Metafile{
		Files: filesOf(
			metafile.File{Path: "dir/b.mkv", Name: "b.mkv", Length: 200},
			metafile.File{Path: "dir/a.mkv", Name: "a.mkv", Length: 100},
		),
	}
	assert.True(t, compareFileTrees(candidate, searchee))

	// Same names under a different directory fail the path-keyed compare.
	candidate.Files[0].Path = "other/b.mkv"
	assert.False(t, compareFileTrees(candidate, searchee))
}

func TestCompareFileTreesByName(t *testing.T) {
	// No info-hash and no path: compare by base name.
	searchee := &metafile.Searchee{
		Files: filesOf(
			metafile.File{Path: "x/a.mkv", Name: "a.mkv", Length: 100},
		),
	}
	candidate := &metafile.Metafile{
		Files: filesOf(
			metafile.File{Path: "y/a.mkv", Name: "a.mkv", Length: 100},
		),
	}
	assert.True(t, compareFileTrees(candidate, searchee))
}

func TestCompareFileTreesLengthMatters(t *testing.T) {
	searchee := &metafile.Searchee{
		Files: filesOf(metafile.File{Path: "a", Name: "a", Length: 100}),
	}
	candidate := &metafile.Metafile{
		Files: filesOf(metafile.File{Path: "a", Name: "a", Length: 101}),
	}
	assert.False(t, compareFileTrees(candidate, searchee))
}

func TestSizeBijection(t *testing.T) {
	searchee := &metafile.Searchee{
		Files: filesOf(
			metafile.File{Path: "a", Name: "a", Length: 100},
			metafile.File{Path: "b", Name: "b", Length: 200},
		),
	}
	candidate := &metafile.Metafile{
		Files: filesOf(
			metafile.File{Path: "x", Name: "x", Length: 200},
			metafile.File{Path: "y", Name: "y", Length: 100},
		),
	}
	assert.True(t, sizeBijection(candidate, searchee))

	// Duplicate lengths must pair one-to-one.
	searchee.Files = filesOf(
		metafile.File{Path: "a", Name: "a", Length: 100},
		metafile.File{Path: "b", Name: "b", Length: 100},
	)
	candidate.Files = filesOf(
		metafile.File{Path: "x", Name: "x", Length: 100},
		metafile.File{Path: "y", Name: "y", Length: 100},
	)
	assert.True(t, sizeBijection(candidate, searchee))

	candidate.Files = filesOf(
		metafile.File{Path: "x", Name: "x", Length: 100},
		metafile.File{Path: "y", Name: "y", Length: 200},
	)
	assert.False(t, sizeBijection(candidate, searchee))
}

func TestPieceCoverage(t *testing.T) {
	// 10 pieces of 100 bytes, 7 matched.
	assert.InDelta(t, 0.7, pieceCoverage(700, 1000, 100), 1e-9)
	// Partial trailing piece rounds the denominator up.
	assert.InDelta(t, float64(7)/11, pieceCoverage(700, 1001, 100), 1e-9)
	assert.Zero(t, pieceCoverage(100, 0, 100))
	assert.Zero(t, pieceCoverage(100, 1000, 0))
}

func TestCompareFileTreesPartial(t *testing.T) {
	searchee := &metafile.Searchee{
		Files: filesOf(
			metafile.File{Path: "ep1.mkv", Name: "ep1.mkv", Length: 1000},
			metafile.File{Path: "ep2.mkv", Name: "ep2.mkv", Length: 1000},
		),
	}
	candidate := &metafile.Metafile{
		Length:      2100,
		PieceLength: 100,
		Files: filesOf(
			metafile.File{Path: "ep1.mkv", Name: "ep1.mkv", Length: 1000},
			metafile.File{Path: "ep2.mkv", Name: "ep2.mkv", Length: 1000},
			metafile.File{Path: "extra.nfo", Name: "extra.nfo", Length: 100},
		),
	}
	assert.True(t, compareFileTreesPartial(candidate, searchee, 0.7))

	// Same sizes but disagreeing names fail verification.
	candidate.Files = filesOf(
		metafile.File{Path: "other1.mkv", Name: "other1.mkv", Length: 1000},
		metafile.File{Path: "other2.mkv", Name: "other2.mkv", Length: 1000},
		metafile.File{Path: "extra.nfo", Name: "extra.nfo", Length: 100},
	)
	assert.False(t, compareFileTreesPartial(candidate, searchee, 0.7))
}

func TestMatchedLength(t *testing.T) {
	searchee := &metafile.Searchee{
		Files: filesOf(
			metafile.File{Path: "a", Name: "a", Length: 100},
			metafile.File{Path: "b", Name: "b", Length: 200},
		),
	}
	candidate := &metafile.Metafile{
		Files: filesOf(
			metafile.File{Path: "a", Name: "a", Length: 100},
			metafile.File{Path: "c", Name: "c", Length: 300},
		),
	}
	assert.Equal(t, int64(100), matchedLength(candidate, searchee))
}
