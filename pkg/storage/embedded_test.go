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

package storage

import (
	"context"
	"testing"

	"github.com/sheeptech/crader/pkg/model"
)

// setupTestStorage creates an in-memory EmbeddedBackend for testing. The
// caller is responsible for calling Close() on the returned backend.
func setupTestStorage(t *testing.T) *EmbeddedBackend {
	t.Helper()

	backend, err := NewEmbeddedBackend(EmbeddedConfig{DataDir: t.TempDir(), Engine: "mem"})
	if err != nil {
		t.Fatalf("NewEmbeddedBackend: %v", err)
	}

	if err := backend.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}

	return backend
}

func TestNewEmbeddedBackend_DefaultEngine(t *testing.T) {
	backend, err := NewEmbeddedBackend(EmbeddedConfig{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewEmbeddedBackend: %v", err)
	}
	defer backend.Close()

	if backend.closed {
		t.Error("expected backend to not be closed initially")
	}
}

func TestNewEmbeddedBackend_RequiresDataDir(t *testing.T) {
	if _, err := NewEmbeddedBackend(EmbeddedConfig{}); err == nil {
		t.Fatal("expected error for missing DataDir")
	}
}

func TestEnsureSchema_Idempotent(t *testing.T) {
	backend := setupTestStorage(t)
	defer backend.Close()

	if err := backend.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("second EnsureSchema call should be idempotent: %v", err)
	}
}

func TestEnsureRepository_CreatesOnce(t *testing.T) {
	backend := setupTestStorage(t)
	defer backend.Close()

	ctx := context.Background()
	repo := model.Repository{ID: "repo:1", URL: "https://example.com/x.git", Name: "x", DefaultBranch: "main"}

	isNew, err := backend.EnsureRepository(ctx, repo)
	if err != nil {
		t.Fatalf("EnsureRepository: %v", err)
	}

	if !isNew {
		t.Error("expected first EnsureRepository call to report isNew=true")
	}

	isNew, err = backend.EnsureRepository(ctx, repo)
	if err != nil {
		t.Fatalf("EnsureRepository (second): %v", err)
	}

	if isNew {
		t.Error("expected second EnsureRepository call to report isNew=false")
	}
}

func TestCreateSnapshot_DedupesOnRepoCommitBranch(t *testing.T) {
	backend := setupTestStorage(t)
	defer backend.Close()

	ctx := context.Background()
	snap := model.Snapshot{ID: "snap:1", RepoID: "repo:1", CommitHash: "deadbeef", Branch: "main"}

	first, isNew, err := backend.CreateSnapshot(ctx, snap)
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}

	if !isNew {
		t.Fatal("expected first CreateSnapshot call to be new")
	}

	dup := snap
	dup.ID = "snap:2"

	second, isNew, err := backend.CreateSnapshot(ctx, dup)
	if err != nil {
		t.Fatalf("CreateSnapshot (dup): %v", err)
	}

	if isNew {
		t.Error("expected duplicate (repo_id, commit_hash, branch) to report isNew=false")
	}

	if second.ID != first.ID {
		t.Errorf("expected dedup to return existing snapshot id %s, got %s", first.ID, second.ID)
	}
}

func TestActivateSnapshot_DemotesPriorActive(t *testing.T) {
	backend := setupTestStorage(t)
	defer backend.Close()

	ctx := context.Background()

	s1, _, err := backend.CreateSnapshot(ctx, model.Snapshot{ID: "snap:a", RepoID: "repo:1", CommitHash: "c1", Branch: "main"})
	if err != nil {
		t.Fatalf("CreateSnapshot s1: %v", err)
	}

	s2, _, err := backend.CreateSnapshot(ctx, model.Snapshot{ID: "snap:b", RepoID: "repo:1", CommitHash: "c2", Branch: "main"})
	if err != nil {
		t.Fatalf("CreateSnapshot s2: %v", err)
	}

	if err := backend.ActivateSnapshot(ctx, s1.ID); err != nil {
		t.Fatalf("ActivateSnapshot s1: %v", err)
	}

	if err := backend.ActivateSnapshot(ctx, s2.ID); err != nil {
		t.Fatalf("ActivateSnapshot s2: %v", err)
	}

	active, err := backend.GetActiveSnapshot(ctx, "repo:1", "main")
	if err != nil {
		t.Fatalf("GetActiveSnapshot: %v", err)
	}

	if active.ID != s2.ID {
		t.Errorf("expected active snapshot to be %s, got %s", s2.ID, active.ID)
	}
}

func TestGetActiveSnapshot_NotFound(t *testing.T) {
	backend := setupTestStorage(t)
	defer backend.Close()

	if _, err := backend.GetActiveSnapshot(context.Background(), "repo:missing", "main"); err == nil {
		t.Fatal("expected error for repo with no active snapshot")
	}
}

func TestInsertChunksAndLookupNode(t *testing.T) {
	backend := setupTestStorage(t)
	defer backend.Close()

	ctx := context.Background()
	conn, err := backend.NewSingleConnector(ctx)
	if err != nil {
		t.Fatalf("NewSingleConnector: %v", err)
	}
	defer conn.Close()

	node := model.ChunkNode{
		ID: "node:1", SnapshotID: "snap:1", FileID: "file:1", FilePath: "a.go",
		ChunkHash: "hash1", Type: model.ChunkFunction, StartLine: 1, EndLine: 3,
		ByteRange: model.ByteRange{Start: 0, End: 42},
	}
	content := model.ChunkContent{ChunkHash: "hash1", Content: []byte("func Foo() {}")}

	if err := conn.InsertChunks(ctx, []model.ChunkNode{node}, []model.ChunkContent{content}); err != nil {
		t.Fatalf("InsertChunks: %v", err)
	}

	nodeID, ok, err := backend.LookupNode(ctx, "snap:1", "a.go", model.ByteRange{Start: 0, End: 42})
	if err != nil {
		t.Fatalf("LookupNode: %v", err)
	}

	if !ok || nodeID != "node:1" {
		t.Errorf("expected node:1 found=true, got %q found=%v", nodeID, ok)
	}

	got, text, err := backend.GetNode(ctx, "node:1")
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}

	if got.ChunkHash != "hash1" || string(text) != "func Foo() {}" {
		t.Errorf("unexpected node/content: %+v %q", got, text)
	}
}

func TestLookupNode_NotFound(t *testing.T) {
	backend := setupTestStorage(t)
	defer backend.Close()

	_, ok, err := backend.LookupNode(context.Background(), "snap:x", "missing.go", model.ByteRange{Start: 0, End: 1})
	if err != nil {
		t.Fatalf("LookupNode: %v", err)
	}

	if ok {
		t.Error("expected LookupNode to report not found")
	}
}

func TestInsertEdgesAndGetNeighbors(t *testing.T) {
	backend := setupTestStorage(t)
	defer backend.Close()

	ctx := context.Background()
	edges := []model.Edge{
		{SourceNodeID: "node:caller", TargetNodeID: "node:callee", RelationType: model.RelationCalls},
		{SourceNodeID: "node:self", TargetNodeID: "node:self", RelationType: model.RelationCalls},
	}

	if err := backend.InsertEdges(ctx, edges); err != nil {
		t.Fatalf("InsertEdges: %v", err)
	}

	out, err := backend.GetNeighbors(ctx, "node:caller", model.RelationCalls, "out")
	if err != nil {
		t.Fatalf("GetNeighbors: %v", err)
	}

	if len(out) != 1 || out[0].TargetNodeID != "node:callee" {
		t.Errorf("expected one edge to node:callee, got %+v", out)
	}

	self, err := backend.GetNeighbors(ctx, "node:self", model.RelationCalls, "out")
	if err != nil {
		t.Fatalf("GetNeighbors (self): %v", err)
	}

	if len(self) != 0 {
		t.Errorf("expected self-loop to be rejected on insert, got %+v", self)
	}
}

func TestStageAndCommitEmbeddings(t *testing.T) {
	backend := setupTestStorage(t)
	defer backend.Close()

	ctx := context.Background()

	if err := backend.StageEmbeddingText(ctx, "snap:1", "node:1", "vh:1", "func Foo() {}", "text-embedding-3-small"); err != nil {
		t.Fatalf("StageEmbeddingText: %v", err)
	}

	page, err := backend.NextStagingPage(ctx, "snap:1", 10)
	if err != nil {
		t.Fatalf("NextStagingPage: %v", err)
	}

	if len(page) != 1 || page[0].NodeID != "node:1" {
		t.Fatalf("expected one staged row for node:1, got %+v", page)
	}

	vec := make([]float32, backend.embeddingDimensions)
	for i := range vec {
		vec[i] = float32(i) / float32(len(vec))
	}

	err = backend.CommitEmbeddings(ctx, []model.EmbeddingVector{
		{NodeID: "node:1", SnapshotID: "snap:1", VectorHash: "vh:1", Model: "text-embedding-3-small", Vector: vec},
	})
	if err != nil {
		t.Fatalf("CommitEmbeddings: %v", err)
	}

	remaining, err := backend.NextStagingPage(ctx, "snap:1", 10)
	if err != nil {
		t.Fatalf("NextStagingPage (after commit): %v", err)
	}

	if len(remaining) != 0 {
		t.Errorf("expected staging row to be cleared after commit, got %+v", remaining)
	}
}

func TestBackfillFromVectorHash_RecoversCommittedVector(t *testing.T) {
	backend := setupTestStorage(t)
	defer backend.Close()

	ctx := context.Background()
	vec := make([]float32, backend.embeddingDimensions)
	copy(vec, []float32{0.1, 0.2, 0.3})

	err := backend.CommitEmbeddings(ctx, []model.EmbeddingVector{
		{NodeID: "node:old", SnapshotID: "snap:old", VectorHash: "vh:shared", Model: "m", Vector: vec},
	})
	if err != nil {
		t.Fatalf("CommitEmbeddings (seed): %v", err)
	}

	if err := backend.StageEmbeddingText(ctx, "snap:new", "node:new", "vh:shared", "same text", "m"); err != nil {
		t.Fatalf("StageEmbeddingText: %v", err)
	}

	recovered, err := backend.BackfillFromVectorHash(ctx, "snap:new")
	if err != nil {
		t.Fatalf("BackfillFromVectorHash: %v", err)
	}

	if recovered != 1 {
		t.Errorf("expected 1 recovered embedding, got %d", recovered)
	}

	page, err := backend.NextStagingPage(ctx, "snap:new", 10)
	if err != nil {
		t.Fatalf("NextStagingPage: %v", err)
	}

	if len(page) != 0 {
		t.Errorf("expected backfilled row to leave staging, got %+v", page)
	}
}

func TestIndexSearchDocsAndSearchSparse(t *testing.T) {
	backend := setupTestStorage(t)
	defer backend.Close()

	ctx := context.Background()

	snap, _, err := backend.CreateSnapshot(ctx, model.Snapshot{ID: "snap:search", RepoID: "repo:search", CommitHash: "c1", Branch: "main"})
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}

	if err := backend.ActivateSnapshot(ctx, snap.ID); err != nil {
		t.Fatalf("ActivateSnapshot: %v", err)
	}

	conn, err := backend.NewSingleConnector(ctx)
	if err != nil {
		t.Fatalf("NewSingleConnector: %v", err)
	}
	defer conn.Close()

	docs := []model.SearchDoc{
		{NodeID: "node:greet", FilePath: "greeter.go", Content: "func Greet(name string) string { return \"hi \" + name }"},
	}

	if err := conn.IndexSearchDocs(ctx, "repo:search", snap.ID, docs); err != nil {
		t.Fatalf("IndexSearchDocs: %v", err)
	}

	hits, err := backend.SearchSparse(ctx, "repo:search", "Greet", 5)
	if err != nil {
		t.Fatalf("SearchSparse: %v", err)
	}

	if len(hits) != 1 || hits[0].NodeID != "node:greet" {
		t.Errorf("expected one hit for node:greet, got %+v", hits)
	}
}

func TestPruneSnapshot_RemovesRows(t *testing.T) {
	backend := setupTestStorage(t)
	defer backend.Close()

	ctx := context.Background()
	conn, err := backend.NewSingleConnector(ctx)
	if err != nil {
		t.Fatalf("NewSingleConnector: %v", err)
	}
	defer conn.Close()

	files := []model.File{{ID: "file:1", SnapshotID: "snap:prune", Path: "a.go", Language: "go"}}
	if err := conn.InsertFiles(ctx, files); err != nil {
		t.Fatalf("InsertFiles: %v", err)
	}

	if err := backend.PruneSnapshot(ctx, "snap:prune"); err != nil {
		t.Fatalf("PruneSnapshot: %v", err)
	}

	remaining, err := backend.ListFiles(ctx, "snap:prune")
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}

	if len(remaining) != 0 {
		t.Errorf("expected file rows to be removed, got %+v", remaining)
	}
}
