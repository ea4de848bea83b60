// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package observability

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the Prometheus instruments shared by the orchestrator,
// embedding pipeline, and retriever. Registered once per process via
// MustRegister, mirroring the teacher's promhttp.Handler() wiring in
// cmd/cie/index.go.
type Metrics struct {
	ShardsTotal      *prometheus.CounterVec
	FilesParsed      *prometheus.CounterVec
	ParseErrors      prometheus.Counter
	EdgesResolved    prometheus.Counter
	EmbeddingBatches *prometheus.CounterVec
	EmbeddingLatency prometheus.Histogram
	VectorsRecovered prometheus.Counter
	QueryLatency     *prometheus.HistogramVec
	ActiveSnapshots  *prometheus.GaugeVec
}

// NewMetrics constructs and registers the metric set against reg. Passing
// a fresh prometheus.NewRegistry() keeps tests isolated from the process
// default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ShardsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crader",
			Name:      "shards_total",
			Help:      "Parse shards processed, labeled by outcome.",
		}, []string{"outcome"}),
		FilesParsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crader",
			Name:      "files_parsed_total",
			Help:      "Files parsed, labeled by parsing_status.",
		}, []string{"status"}),
		ParseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "crader",
			Name:      "parse_errors_total",
			Help:      "Per-file parse failures recorded against the files table.",
		}),
		EdgesResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "crader",
			Name:      "edges_resolved_total",
			Help:      "Cross-reference edges ingested.",
		}),
		EmbeddingBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crader",
			Name:      "embedding_batches_total",
			Help:      "Embedding provider batch calls, labeled by outcome.",
		}, []string{"outcome"}),
		EmbeddingLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "crader",
			Name:      "embedding_batch_seconds",
			Help:      "Latency of embedding provider batch calls.",
			Buckets:   prometheus.DefBuckets,
		}),
		VectorsRecovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "crader",
			Name:      "vectors_recovered_total",
			Help:      "Vectors recovered from history instead of re-embedded.",
		}),
		QueryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "crader",
			Name:      "query_seconds",
			Help:      "Retriever query latency, labeled by modality.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"modality"}),
		ActiveSnapshots: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "crader",
			Name:      "active_snapshots",
			Help:      "Whether a (repo, branch) has an active snapshot (1) or not (0).",
		}, []string{"repo_id", "branch"}),
	}

	reg.MustRegister(
		m.ShardsTotal, m.FilesParsed, m.ParseErrors, m.EdgesResolved,
		m.EmbeddingBatches, m.EmbeddingLatency, m.VectorsRecovered,
		m.QueryLatency, m.ActiveSnapshots,
	)

	return m
}
