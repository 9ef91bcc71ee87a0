// Copyright (c) 2025, the cross-seed contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import "time"

// MatchMode controls how strictly candidate file trees must line up with a
// searchee before the engine calls them a match.
type MatchMode string

const (
	MatchModeStrict   MatchMode = "strict"
	MatchModeFlexible MatchMode = "flexible"
	MatchModePartial  MatchMode = "partial"
)

// Action determines what happens with a matched torrent.
type Action string

const (
	ActionInject Action = "inject"
	ActionSave   Action = "save"
)

// Config is the process configuration, loaded by internal/config.
type Config struct {
	Version string `mapstructure:"-"`

	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	BaseURL string `mapstructure:"baseUrl"`
	APIKey  string `mapstructure:"apiKey"`

	DataDir string `mapstructure:"dataDir"`

	LogLevel      string `mapstructure:"logLevel"`
	LogPath       string `mapstructure:"logPath"`
	LogMaxSize    int    `mapstructure:"logMaxSize"`
	LogMaxBackups int    `mapstructure:"logMaxBackups"`

	Action    Action    `mapstructure:"action"`
	MatchMode MatchMode `mapstructure:"matchMode"`

	// FuzzySizeFactor is the relative size tolerance applied before a candidate
	// is snatched. SeasonFuzzySizeFactor applies when the searchee looks like a
	// season pack and partial matching is enabled.
	FuzzySizeFactor       float64 `mapstructure:"fuzzySizeFactor"`
	SeasonFuzzySizeFactor float64 `mapstructure:"seasonFuzzySizeFactor"`

	// MinSizeRatio is the minimum aligned-piece coverage for a partial match.
	MinSizeRatio float64 `mapstructure:"minSizeRatio"`

	IncludeSingleEpisodes bool     `mapstructure:"includeSingleEpisodes"`
	BlockList             []string `mapstructure:"blockList"`

	UseClientTorrents bool `mapstructure:"useClientTorrents"`

	// Cadences in milliseconds; zero disables the job.
	RSSCadenceMs              int64 `mapstructure:"rssCadence"`
	SearchCadenceMs           int64 `mapstructure:"searchCadence"`
	InjectCadenceMs           int64 `mapstructure:"injectCadence"`
	CleanupCadenceMs          int64 `mapstructure:"cleanupCadence"`
	CollisionRecheckCadenceMs int64 `mapstructure:"collisionRecheckCadence"`
	CapsRefreshCadenceMs      int64 `mapstructure:"capsRefreshCadence"`

	SnatchTimeoutSeconds int `mapstructure:"snatchTimeout"`

	Indexers []IndexerConfig       `mapstructure:"indexers"`
	Clients  []TorrentClientConfig `mapstructure:"torrentClients"`
}

// IndexerConfig describes one torznab endpoint.
type IndexerConfig struct {
	Name   string `mapstructure:"name"`
	URL    string `mapstructure:"url"`
	APIKey string `mapstructure:"apiKey"`
}

// TorrentClientConfig describes one torrent client the engine injects into.
type TorrentClientConfig struct {
	Type     string `mapstructure:"type"`
	Host     string `mapstructure:"host"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

func (c *Config) RSSCadence() time.Duration {
	return time.Duration(c.RSSCadenceMs) * time.Millisecond
}

func (c *Config) SearchCadence() time.Duration {
	return time.Duration(c.SearchCadenceMs) * time.Millisecond
}

func (c *Config) InjectCadence() time.Duration {
	return time.Duration(c.InjectCadenceMs) * time.Millisecond
}

func (c *Config) CleanupCadence() time.Duration {
	return time.Duration(c.CleanupCadenceMs) * time.Millisecond
}

func (c *Config) CollisionRecheckCadence() time.Duration {
	return time.Duration(c.CollisionRecheckCadenceMs) * time.Millisecond
}

func (c *Config) CapsRefreshCadence() time.Duration {
	return time.Duration(c.CapsRefreshCadenceMs) * time.Millisecond
}
