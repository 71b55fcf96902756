// Copyright 2024 The jsondb Authors
// This file is part of jsondb.
//
// jsondb is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// jsondb is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with jsondb. If not, see <http://www.gnu.org/licenses/>.

package partition

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var partitionLabels = []string{"partition"}

var (
	commitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jsondb_commits_total",
		Help: "number of write transactions committed to a partition",
	}, partitionLabels)

	queryDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "jsondb_query_duration_seconds",
		Help:    "wall time spent draining an IndexQuery to completion",
		Buckets: prometheus.DefBuckets,
	}, partitionLabels)

	cursorSeeksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jsondb_cursor_seeks_total",
		Help: "number of Seek/SeekRange calls issued against a partition's cursors",
	}, partitionLabels)

	watchersActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "jsondb_watchers_active",
		Help: "number of registered watchers currently armed on a partition",
	}, partitionLabels)
)

// metrics binds the package-level vectors to one partition's label value.
type metrics struct {
	commits        prometheus.Counter
	queryDuration  prometheus.Observer
	cursorSeeks    prometheus.Counter
	watchersActive prometheus.Gauge
}

func newMetrics(partitionName string) *metrics {
	return &metrics{
		commits:        commitsTotal.WithLabelValues(partitionName),
		queryDuration:  queryDurationSeconds.WithLabelValues(partitionName),
		cursorSeeks:    cursorSeeksTotal.WithLabelValues(partitionName),
		watchersActive: watchersActive.WithLabelValues(partitionName),
	}
}
