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

// Package embedding implements the two-phase embedding pipeline (C7):
// stage every chunk's text deterministically, recover already-known
// vectors by content hash, then dispatch the remainder to an embedding
// provider with bounded concurrency. Generalizes the teacher's
// EmbeddingGenerator (referenced, not defined, in
// pkg/ingestion/local_pipeline.go) into a provider-agnostic pipeline over
// the storage adapter's staging primitives (spec.md §4.7).
package embedding

import (
	"log/slog"
	"time"
)

// ProgressEvent is streamed to an optional caller-supplied channel during
// EmbedSnapshot, per spec.md §4.7's "{status: embedding_progress, ...}"
// and "{status: completed, ...}" reports.
type ProgressEvent struct {
	Status                string // "embedding_progress" or "completed"
	TotalEmbedded         int
	NewlyEmbedded         int
	RecoveredFromHistory  int
	SkippedPages          int
}

// RetryConfig controls the embed phase's per-page retry/backoff,
// generalized from the teacher's ingestion.RetryConfig /
// EmbeddingRetry default (pkg/ingestion/config.go).
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

func defaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		Multiplier:     2.0,
	}
}

// Options configures a Pipeline.
type Options struct {
	// PageSize bounds NextStagingPage reads; defaults to the provider's
	// MaxBatchSize when zero.
	PageSize int
	Retry    RetryConfig
	Progress chan<- ProgressEvent
}

func (o Options) withDefaults(p Provider) Options {
	if o.PageSize <= 0 {
		o.PageSize = p.MaxBatchSize()
	}
	if o.Retry == (RetryConfig{}) {
		o.Retry = defaultRetryConfig()
	}
	return o
}

// Pipeline is the concrete C7 implementation; it satisfies
// pkg/snapshot.Embedder.
type Pipeline struct {
	provider Provider
	logger   *slog.Logger
	opts     Options
}

// New builds a Pipeline over provider.
func New(provider Provider, opts Options, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}

	return &Pipeline{provider: provider, logger: logger, opts: opts.withDefaults(provider)}
}
