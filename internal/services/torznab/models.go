// Copyright (c) 2025, the cross-seed contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torznab

import "time"

// Candidate is a single search hit from an indexer, under evaluation by the
// decision engine. Size is advisory; trackers may lie.
type Candidate struct {
	Name        string
	GUID        string
	Link        string
	Tracker     string
	IndexerID   int64
	Size        int64
	PublishDate time.Time
}

// rss mirrors the subset of the torznab RSS response we consume.
type rss struct {
	Channel struct {
		Title string    `xml:"title"`
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title     string `xml:"title"`
	GUID      string `xml:"guid"`
	Link      string `xml:"link"`
	Size      int64  `xml:"size"`
	PubDate   string `xml:"pubDate"`
	Enclosure struct {
		URL    string `xml:"url,attr"`
		Length int64  `xml:"length,attr"`
	} `xml:"enclosure"`
	Attrs []rssAttr `xml:"attr"`
}

type rssAttr struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}
