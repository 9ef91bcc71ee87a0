// Copyright (c) 2025, the cross-seed contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package decision

import (
	"math"

	"github.com/PiloUnk/cross-seed/internal/metafile"
)

// matching.go groups the file-tree heuristics that decide whether a candidate
// torrent describes the same bytes a searchee already seeds.

// compareFileTrees reports a full tree match: every candidate file pairs with
// a searchee file of equal length and equal path (or name, for searchees
// without path information).
func compareFileTrees(candidate *metafile.Metafile, searchee *metafile.Searchee) bool {
	if len(candidate.Files) == 0 || len(candidate.Files) != len(searchee.Files) {
		return false
	}

	usePath := searchee.HasPathInfo()

	available := make(map[string][]int64, len(searchee.Files))
	for _, sf := range searchee.Files {
		key := sf.Name
		if usePath {
			key = sf.Path
		}
		available[key] = append(available[key], sf.Length)
	}

	for _, cf := range candidate.Files {
		key := cf.Name
		if usePath {
			key = cf.Path
		}
		lengths, ok := available[key]
		if !ok || len(lengths) == 0 {
			return false
		}
		matched := false
		for i, l := range lengths {
			if l == cf.Length {
				available[key] = append(lengths[:i], lengths[i+1:]...)
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	return true
}

// sizeBijection greedily pairs candidate files with searchee files on length
// alone, preferring same-name pairs at each step. Returns whether a full
// bijection exists.
func sizeBijection(candidate *metafile.Metafile, searchee *metafile.Searchee) bool {
	if len(candidate.Files) == 0 || len(candidate.Files) != len(searchee.Files) {
		return false
	}

	used := make([]bool, len(searchee.Files))
	for _, cf := range candidate.Files {
		idx := -1
		for i, sf := range searchee.Files {
			if used[i] || sf.Length != cf.Length {
				continue
			}
			if sf.Name == cf.Name {
				idx = i
				break
			}
			if idx == -1 {
				idx = i
			}
		}
		if idx == -1 {
			return false
		}
		used[idx] = true
	}

	return true
}

// matchedLength accumulates candidate bytes covered by the greedy
// length-then-name bijection against the searchee.
func matchedLength(candidate *metafile.Metafile, searchee *metafile.Searchee) int64 {
	used := make([]bool, len(searchee.Files))
	var total int64

	for _, cf := range candidate.Files {
		idx := -1
		for i, sf := range searchee.Files {
			if used[i] || sf.Length != cf.Length {
				continue
			}
			if sf.Name == cf.Name {
				idx = i
				break
			}
			if idx == -1 {
				idx = i
			}
		}
		if idx == -1 {
			continue
		}
		used[idx] = true
		total += cf.Length
	}

	return total
}

// pieceCoverage converts matched bytes into aligned-piece coverage of the
// candidate: floor(matched/pieceLength) / ceil(length/pieceLength).
func pieceCoverage(matched, candidateLength, pieceLength int64) float64 {
	if candidateLength <= 0 || pieceLength <= 0 {
		return 0
	}
	matchedPieces := matched / pieceLength
	totalPieces := int64(math.Ceil(float64(candidateLength) / float64(pieceLength)))
	if totalPieces == 0 {
		return 0
	}
	return float64(matchedPieces) / float64(totalPieces)
}

// compareFileTreesPartial verifies a partial match: the bytes covered by
// pairs agreeing on BOTH length and name (or path) must still clear the
// ratio. This catches size-coincidence false positives the pure length
// bijection lets through.
func compareFileTreesPartial(candidate *metafile.Metafile, searchee *metafile.Searchee, minRatio float64) bool {
	usePath := searchee.HasPathInfo()

	used := make([]bool, len(searchee.Files))
	var verified int64

	for _, cf := range candidate.Files {
		key := cf.Name
		if usePath {
			key = cf.Path
		}
		for i, sf := range searchee.Files {
			if used[i] || sf.Length != cf.Length {
				continue
			}
			sk := sf.Name
			if usePath {
				sk = sf.Path
			}
			if sk != key && sf.Name != cf.Name {
				continue
			}
			used[i] = true
			verified += cf.Length
			break
		}
	}

	return pieceCoverage(verified, candidate.Length, candidate.PieceLength) >= minRatio
}
