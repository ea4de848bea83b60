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

package embedding

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	craderrors "github.com/sheeptech/crader/internal/errors"
	"github.com/sheeptech/crader/pkg/model"
	"github.com/sheeptech/crader/pkg/storage"
)

// EmbedSnapshot drives the full stage -> backfill -> embed -> cleanup
// sequence for snapshotID (spec.md §4.7), satisfying pkg/snapshot.Embedder.
func (p *Pipeline) EmbedSnapshot(ctx context.Context, backend storage.PooledConnector, snapshotID string) error {
	staged, err := p.stage(ctx, backend, snapshotID)
	if err != nil {
		return err
	}

	recovered, err := backend.BackfillFromVectorHash(ctx, snapshotID)
	if err != nil {
		return craderrors.New(craderrors.KindTransientStorage, "embedding.EmbedSnapshot.BackfillFromVectorHash", err)
	}

	p.logger.Info("embedding backfilled from history", "snapshot_id", snapshotID, "staged", staged, "recovered", recovered)

	newlyEmbedded, skippedPages, err := p.embedPhase(ctx, backend, snapshotID)

	if cleanupErr := backend.CleanupStaging(ctx, snapshotID); cleanupErr != nil {
		p.logger.Warn("staging cleanup failed", "snapshot_id", snapshotID, "err", cleanupErr)
	}

	p.emit(ProgressEvent{
		Status:               "completed",
		TotalEmbedded:        recovered + newlyEmbedded,
		NewlyEmbedded:        newlyEmbedded,
		RecoveredFromHistory: recovered,
		SkippedPages:         skippedPages,
	})

	return err
}

// embedPhase pages remaining staged rows and dispatches them to the
// provider with bounded concurrency (spec.md §5: "single-process
// cooperative asynchrony bounded by the provider's concurrency").
// Persistent per-page provider failures are recorded and skipped rather
// than failing the snapshot (spec.md §4.7/§7's ProviderFailure
// disposition).
func (p *Pipeline) embedPhase(ctx context.Context, backend storage.PooledConnector, snapshotID string) (newlyEmbedded, skippedPages int, err error) {
	sem := semaphore.NewWeighted(int64(p.provider.MaxConcurrency()))
	g, gctx := errgroup.WithContext(ctx)

	var (
		embeddedCount int64
		skipped       int64
	)

	for {
		page, pageErr := backend.NextStagingPage(ctx, snapshotID, p.opts.PageSize)
		if pageErr != nil {
			err = craderrors.New(craderrors.KindTransientStorage, "embedding.embedPhase.NextStagingPage", pageErr)
			break
		}

		if len(page) == 0 {
			break
		}

		if acqErr := sem.Acquire(gctx, 1); acqErr != nil {
			break
		}

		g.Go(func() error {
			defer sem.Release(1)

			vectors, embedErr := p.embedPageWithRetry(gctx, snapshotID, page)
			if embedErr != nil {
				p.logger.Warn("embedding page skipped after retries", "snapshot_id", snapshotID, "size", len(page), "err", embedErr)
				atomic.AddInt64(&skipped, 1)
				return nil
			}

			if commitErr := backend.CommitEmbeddings(gctx, vectors); commitErr != nil {
				return craderrors.New(craderrors.KindTransientStorage, "embedding.embedPhase.CommitEmbeddings", commitErr)
			}

			n := atomic.AddInt64(&embeddedCount, int64(len(vectors)))
			p.emit(ProgressEvent{Status: "embedding_progress", TotalEmbedded: int(n)})

			return nil
		})
	}

	if waitErr := g.Wait(); waitErr != nil && err == nil {
		err = waitErr
	}

	return int(atomic.LoadInt64(&embeddedCount)), int(atomic.LoadInt64(&skipped)), err
}

// embedPageWithRetry calls the provider for one page, retrying on failure
// with exponential backoff up to opts.Retry.MaxRetries times.
func (p *Pipeline) embedPageWithRetry(ctx context.Context, snapshotID string, page []storage.StagingRow) ([]model.EmbeddingVector, error) {
	texts := make([]string, len(page))
	for i, row := range page {
		texts[i] = row.Text
	}

	backoff := p.opts.Retry.InitialBackoff

	var lastErr error

	for attempt := 0; attempt <= p.opts.Retry.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}

			backoff = time.Duration(float64(backoff) * p.opts.Retry.Multiplier)
			if backoff > p.opts.Retry.MaxBackoff {
				backoff = p.opts.Retry.MaxBackoff
			}
		}

		raw, err := p.provider.Embed(ctx, texts)
		if err == nil {
			vectors := make([]model.EmbeddingVector, len(page))
			for i, row := range page {
				vectors[i] = model.EmbeddingVector{
					NodeID: row.NodeID, SnapshotID: snapshotID, VectorHash: row.VectorHash, Model: row.Model,
					Dim: len(raw[i]), Vector: raw[i],
				}
			}

			return vectors, nil
		}

		lastErr = err
	}

	return nil, lastErr
}

func (p *Pipeline) emit(ev ProgressEvent) {
	if p.opts.Progress == nil {
		return
	}

	select {
	case p.opts.Progress <- ev:
	default:
	}
}
