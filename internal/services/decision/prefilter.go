// Copyright (c) 2025, the cross-seed contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package decision

import (
	"regexp"
	"strings"

	"github.com/moistari/rls"
)

// Pre-filters run before any I/O. Each predicate passes when either side
// lacks the information being compared.

var (
	// Strict resolution tokens only; rls is looser and will infer
	// resolutions from other hints, which is exactly what we don't want here.
	resolutionRe = regexp.MustCompile(`(?i)\b(480p|576p|720p|810p|1080i|1080p|2160p|4320p)\b`)

	// Trailing "-GRP" release group token.
	trailingGroupRe = regexp.MustCompile(`-\s?([a-zA-Z0-9][a-zA-Z0-9_.]*)$`)

	// Anime convention: "[Group] Title - 01".
	animeGroupRe = regexp.MustCompile(`^\s*\[([^\]]+)\]`)

	seasonRe  = regexp.MustCompile(`(?i)\bS(\d{1,3})(?:[\s.]*-[\s.]*S?\d{1,3})?\b`)
	episodeRe = regexp.MustCompile(`(?i)\bS\d{1,3}[\s.]*E\d{1,4}\b`)
)

// releaseGroup extracts the release group from a title: the rls parse first,
// then the trailing -GRP token, then the anime bracket-group fallback.
func releaseGroup(title string) string {
	r := rls.ParseString(title)
	if r.Group != "" {
		return strings.ToLower(strings.TrimSpace(r.Group))
	}

	stripped := strings.TrimSpace(title)
	if m := trailingGroupRe.FindStringSubmatch(stripped); m != nil {
		return strings.ToLower(m[1])
	}
	if m := animeGroupRe.FindStringSubmatch(stripped); m != nil {
		return strings.ToLower(strings.TrimSpace(m[1]))
	}
	return ""
}

// releaseGroupsCompatible passes when either side has no group.
func releaseGroupsCompatible(searcheeTitle, candidateName string) bool {
	sg := releaseGroup(searcheeTitle)
	cg := releaseGroup(candidateName)
	if sg == "" || cg == "" {
		return true
	}
	return sg == cg
}

// resolution extracts a strict resolution token from a title.
func resolution(title string) string {
	if m := resolutionRe.FindString(title); m != "" {
		return strings.ToLower(m)
	}
	return ""
}

func resolutionsCompatible(searcheeTitle, candidateName string) bool {
	sr := resolution(searcheeTitle)
	cr := resolution(candidateName)
	if sr == "" || cr == "" {
		return true
	}
	return sr == cr
}

// source extracts the media source (WEB-DL, BluRay, ...) via rls.
func source(title string) string {
	r := rls.ParseString(title)
	return strings.ToLower(strings.TrimSpace(r.Source))
}

func sourcesCompatible(searcheeTitle, candidateName string) bool {
	ss := source(searcheeTitle)
	cs := source(candidateName)
	if ss == "" || cs == "" {
		return true
	}
	return ss == cs
}

// hasProperRepack reports whether a title carries a PROPER or REPACK tag.
func hasProperRepack(title string) bool {
	r := rls.ParseString(title)
	for _, tag := range r.Other {
		upper := strings.ToUpper(strings.TrimSpace(tag))
		if upper == "PROPER" || strings.HasPrefix(upper, "REPACK") {
			return true
		}
	}
	return false
}

// properRepackCompatible rejects pairing a fixed release with the flawed
// original: the files differ by definition.
func properRepackCompatible(searcheeTitle, candidateName string) bool {
	return hasProperRepack(searcheeTitle) == hasProperRepack(candidateName)
}

// fuzzySizeOK applies the advisory-size tolerance check. A candidate with no
// advertised size passes.
func fuzzySizeOK(candidateSize, searcheeLength int64, factor float64) bool {
	if candidateSize <= 0 || searcheeLength <= 0 {
		return true
	}
	diff := candidateSize - searcheeLength
	if diff < 0 {
		diff = -diff
	}
	return float64(diff)/float64(searcheeLength) <= factor
}

// blockedBy returns the first block-list entry appearing as a substring of
// the title, or "".
func blockedBy(title string, blockList []string) string {
	lower := strings.ToLower(title)
	for _, entry := range blockList {
		needle := strings.ToLower(strings.TrimSpace(entry))
		if needle == "" {
			continue
		}
		if strings.Contains(lower, needle) {
			return entry
		}
	}
	return ""
}

// isSeasonTitle reports whether a title names a whole season (SxX with no
// episode marker).
func isSeasonTitle(title string) bool {
	return seasonRe.MatchString(title) && !episodeRe.MatchString(title)
}

// isSingleEpisode reports whether a parsed name represents one episode of an
// episodic release.
func isSingleEpisode(name string) bool {
	r := rls.ParseString(name)
	return r.Series > 0 && r.Episode > 0
}
