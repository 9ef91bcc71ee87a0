// Copyright (c) 2025, the cross-seed contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package decision

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments the assessment pipeline.
type Metrics struct {
	AssessDuration  prometheus.Histogram
	AssessTotal     *prometheus.CounterVec
	SnatchTotal     prometheus.Counter
	SnatchFailures  prometheus.Counter
	Evictions       prometheus.Counter
	CollisionsSaved prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		AssessDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "cross_seed_assess_duration_seconds",
			Help:    "Time spent assessing a candidate against a searchee",
			Buckets: prometheus.DefBuckets,
		}),
		AssessTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cross_seed_assess_total",
			Help: "Assessments by resulting decision",
		}, []string{"decision"}),
		SnatchTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cross_seed_snatch_total",
			Help: "Torrent files downloaded from indexers",
		}),
		SnatchFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cross_seed_snatch_failures_total",
			Help: "Torrent downloads that failed after retries",
		}),
		Evictions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cross_seed_evictions_total",
			Help: "Incumbent torrents evicted by conflict rules",
		}),
		CollisionsSaved: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cross_seed_collisions_saved_total",
			Help: "Collision rows written for cross-tracker duplicates",
		}),
	}
}
