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

package retriever

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sheeptech/crader/pkg/model"
	"github.com/sheeptech/crader/pkg/storage"
)

// fakeEmbedder returns a fixed vector per call, so SearchDense's ordering
// is driven entirely by the fixture's committed embeddings rather than
// this double's output.
type fakeEmbedder struct{ vector []float32 }

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vector
	}
	return out, nil
}

// seedFixture builds repo1's active snapshot with four chunks in one file:
// node-parent (the module) defines node-class, node-class defines the two
// functions node-0 and node-1, node-0 calls node-1, and node-0/node-1 are
// adjacent siblings by line after the two line-1 chunks.
func seedFixture(t *testing.T) (storage.Backend, string) {
	t.Helper()

	backend, err := storage.NewEmbeddedBackend(storage.EmbeddedConfig{DataDir: t.TempDir(), Engine: "mem", EmbeddingDimensions: 2})
	require.NoError(t, err)
	require.NoError(t, backend.EnsureSchema(context.Background()))

	ctx := context.Background()

	_, err = backend.EnsureRepository(ctx, model.Repository{ID: "repo1", Name: "repo1"})
	require.NoError(t, err)

	snap, _, err := backend.CreateSnapshot(ctx, model.Snapshot{RepoID: "repo1", CommitHash: "c1", Branch: "HEAD"})
	require.NoError(t, err)

	conn, err := backend.NewSingleConnector(ctx)
	require.NoError(t, err)

	require.NoError(t, conn.InsertFiles(ctx, []model.File{
		{ID: "file-1", SnapshotID: snap.ID, Path: "a.py", Language: "python"},
	}))

	nodes := []model.ChunkNode{
		{ID: "node-parent", SnapshotID: snap.ID, FileID: "file-1", FilePath: "a.py", ChunkHash: "h-parent", Type: model.ChunkModule, StartLine: 1, EndLine: 1},
		{ID: "node-class", SnapshotID: snap.ID, FileID: "file-1", FilePath: "a.py", ChunkHash: "h-class", Type: model.ChunkClass, StartLine: 1, EndLine: 10},
		{ID: "node-0", SnapshotID: snap.ID, FileID: "file-1", FilePath: "a.py", ChunkHash: "h-0", Type: model.ChunkFunction, StartLine: 2, EndLine: 3},
		{ID: "node-1", SnapshotID: snap.ID, FileID: "file-1", FilePath: "a.py", ChunkHash: "h-1", Type: model.ChunkFunction, StartLine: 4, EndLine: 5},
	}
	contents := []model.ChunkContent{
		{ChunkHash: "h-parent", Content: []byte("")},
		{ChunkHash: "h-class", Content: []byte("class Foo:\n")},
		{ChunkHash: "h-0", Content: []byte("def f0(): f1()")},
		{ChunkHash: "h-1", Content: []byte("def f1(): pass")},
	}
	require.NoError(t, conn.InsertChunks(ctx, nodes, contents))

	require.NoError(t, conn.IndexSearchDocs(ctx, "repo1", snap.ID, []model.SearchDoc{
		{NodeID: "node-0", FilePath: "a.py", Content: "def f0(): f1()"},
		{NodeID: "node-1", FilePath: "a.py", Content: "def f1(): pass"},
	}))
	require.NoError(t, conn.Close())

	require.NoError(t, backend.InsertEdges(ctx, []model.Edge{
		{SourceNodeID: "node-class", TargetNodeID: "node-0", RelationType: model.RelationDefines},
		{SourceNodeID: "node-class", TargetNodeID: "node-1", RelationType: model.RelationDefines},
		{SourceNodeID: "node-parent", TargetNodeID: "node-class", RelationType: model.RelationDefines},
		{SourceNodeID: "node-0", TargetNodeID: "node-1", RelationType: model.RelationCalls, Metadata: map[string]any{"symbol": "f1"}},
	}))

	require.NoError(t, backend.CommitEmbeddings(ctx, []model.EmbeddingVector{
		{NodeID: "node-0", SnapshotID: snap.ID, VectorHash: "h-0", Model: "test", Dim: 2, Vector: []float32{1, 0}},
		{NodeID: "node-1", SnapshotID: snap.ID, VectorHash: "h-1", Model: "test", Dim: 2, Vector: []float32{0, 1}},
	}))

	require.NoError(t, backend.ActivateSnapshot(ctx, snap.ID))

	return backend, snap.ID
}

func TestSearch_FusesDenseAndSparseRanking(t *testing.T) {
	backend, snapshotID := seedFixture(t)
	defer backend.Close()

	r := New(backend, &fakeEmbedder{vector: []float32{1, 0}})

	results, err := r.Search(context.Background(), Query{Text: "f0", RepoID: "repo1"})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Equal(t, "node-0", results[0].NodeID, "node-0 is the closest vector match and a sparse hit for its own text")
	require.Equal(t, "a.py", results[0].FilePath)
	require.NotEmpty(t, snapshotID)
}

func TestSearch_NoActiveSnapshotReturnsEmpty(t *testing.T) {
	backend, err := storage.NewEmbeddedBackend(storage.EmbeddedConfig{DataDir: t.TempDir(), Engine: "mem", EmbeddingDimensions: 2})
	require.NoError(t, err)
	require.NoError(t, backend.EnsureSchema(context.Background()))
	defer backend.Close()

	_, err = backend.EnsureRepository(context.Background(), model.Repository{ID: "repo1", Name: "repo1"})
	require.NoError(t, err)

	r := New(backend, &fakeEmbedder{vector: []float32{1, 0}})

	results, err := r.Search(context.Background(), Query{Text: "anything", RepoID: "repo1"})
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestSearch_RequiresRepoID(t *testing.T) {
	backend, _ := seedFixture(t)
	defer backend.Close()

	r := New(backend, &fakeEmbedder{vector: []float32{1, 0}})

	_, err := r.Search(context.Background(), Query{Text: "anything"})
	require.Error(t, err)
}

func TestSearch_ExpandsGraphContext(t *testing.T) {
	backend, _ := seedFixture(t)
	defer backend.Close()

	r := New(backend, &fakeEmbedder{vector: []float32{1, 0}})

	results, err := r.Search(context.Background(), Query{Text: "f0", RepoID: "repo1"})
	require.NoError(t, err)
	require.NotEmpty(t, results)

	var node0 *RetrievedContext
	for i := range results {
		if results[i].NodeID == "node-0" {
			node0 = &results[i]
		}
	}
	require.NotNil(t, node0)

	require.Contains(t, node0.ParentContext, "a.py")
	require.Equal(t, []string{"f1"}, node0.OutgoingCalls)
	require.Contains(t, []string{"node-parent", "node-class"}, node0.PrevNodeID, "node-0 (line 2) follows the two chunks that start at line 1")
	require.Equal(t, "node-1", node0.NextNodeID)
}
