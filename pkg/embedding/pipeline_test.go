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

//go:build cgo

package embedding

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sheeptech/crader/pkg/model"
	"github.com/sheeptech/crader/pkg/storage"
)

// fakeProvider counts calls and optionally fails the first N of them, to
// exercise embedPageWithRetry's retry/skip path.
type fakeProvider struct {
	model          string
	maxConcurrency int
	maxBatchSize   int
	failFirst      int32

	calls int32
}

func (f *fakeProvider) ModelName() string   { return f.model }
func (f *fakeProvider) MaxConcurrency() int { return f.maxConcurrency }
func (f *fakeProvider) MaxBatchSize() int   { return f.maxBatchSize }

func (f *fakeProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if n <= atomic.LoadInt32(&f.failFirst) {
		return nil, fmt.Errorf("simulated provider failure")
	}

	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i), 1}
	}

	return out, nil
}

func setupBackendWithChunks(t *testing.T, snapshotID string, n int) storage.Backend {
	t.Helper()

	backend, err := storage.NewEmbeddedBackend(storage.EmbeddedConfig{DataDir: t.TempDir(), Engine: "mem", EmbeddingDimensions: 2})
	require.NoError(t, err)
	require.NoError(t, backend.EnsureSchema(context.Background()))

	ctx := context.Background()

	_, err = backend.EnsureRepository(ctx, model.Repository{ID: "repo1", Name: "repo1"})
	require.NoError(t, err)

	snap, _, err := backend.CreateSnapshot(ctx, model.Snapshot{RepoID: "repo1", CommitHash: "c1", Branch: "main"})
	require.NoError(t, err)
	require.Equal(t, snapshotID, snap.ID)

	conn, err := backend.NewSingleConnector(ctx)
	require.NoError(t, err)
	defer conn.Close()

	var nodes []model.ChunkNode
	var contents []model.ChunkContent

	for i := 0; i < n; i++ {
		hash := fmt.Sprintf("hash-%d", i)
		nodes = append(nodes, model.ChunkNode{
			ID: fmt.Sprintf("node-%d", i), SnapshotID: snapshotID, FileID: "file-1",
			FilePath: "main.go", ChunkHash: hash, Type: model.ChunkFunction,
			StartLine: i, EndLine: i + 1,
		})
		contents = append(contents, model.ChunkContent{ChunkHash: hash, Content: []byte(fmt.Sprintf("func F%d() {}", i))})
	}

	require.NoError(t, conn.InsertChunks(ctx, nodes, contents))

	return backend
}

func TestEmbedSnapshot_EmbedsAllStagedChunks(t *testing.T) {
	const snapshotID = "snap-1"

	backend := setupBackendWithChunks(t, snapshotID, 10)
	provider := &fakeProvider{model: "test-model", maxConcurrency: 2, maxBatchSize: 4}

	progress := make(chan ProgressEvent, 16)
	pipeline := New(provider, Options{PageSize: 4, Progress: progress}, nil)

	err := pipeline.EmbedSnapshot(context.Background(), backend, snapshotID)
	require.NoError(t, err)

	close(progress)

	var final ProgressEvent
	for ev := range progress {
		if ev.Status == "completed" {
			final = ev
		}
	}

	require.Equal(t, 10, final.TotalEmbedded)
	require.Equal(t, 0, final.RecoveredFromHistory)
	require.Equal(t, 0, final.SkippedPages)
}

func TestEmbedSnapshot_RecoversFromHistory(t *testing.T) {
	const snapshotID = "snap-1"

	backend := setupBackendWithChunks(t, snapshotID, 5)
	provider := &fakeProvider{model: "test-model", maxConcurrency: 2, maxBatchSize: 4}
	pipeline := New(provider, Options{PageSize: 4}, nil)

	require.NoError(t, pipeline.EmbedSnapshot(context.Background(), backend, snapshotID))
	firstCallCount := provider.calls

	snap2, _, err := backend.CreateSnapshot(context.Background(), model.Snapshot{RepoID: "repo1", CommitHash: "c2", Branch: "main"})
	require.NoError(t, err)

	conn, err := backend.NewSingleConnector(context.Background())
	require.NoError(t, err)

	require.NoError(t, conn.InsertChunks(context.Background(),
		[]model.ChunkNode{{ID: "node-0-again", SnapshotID: snap2.ID, FileID: "file-1", FilePath: "main.go", ChunkHash: "hash-0", Type: model.ChunkFunction}},
		nil,
	))
	conn.Close()

	require.NoError(t, pipeline.EmbedSnapshot(context.Background(), backend, snap2.ID))

	require.Equal(t, firstCallCount, provider.calls, "re-embedding an identical chunk must not call the provider again")
}

func TestEmbedPageWithRetry_SkipsAfterPersistentFailure(t *testing.T) {
	const snapshotID = "snap-1"

	backend := setupBackendWithChunks(t, snapshotID, 3)
	provider := &fakeProvider{model: "test-model", maxConcurrency: 1, maxBatchSize: 10, failFirst: 100}
	pipeline := New(provider, Options{
		PageSize: 10,
		Retry:    RetryConfig{MaxRetries: 1, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 1},
	}, nil)

	err := pipeline.EmbedSnapshot(context.Background(), backend, snapshotID)
	require.NoError(t, err, "a skipped page must not fail the snapshot")
}
