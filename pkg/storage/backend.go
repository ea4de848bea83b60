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

// Package storage implements the Graph + Vector Store (C2) behind one
// Backend interface with three interchangeable implementations:
// PooledPostgres and SinglePostgres (pgx-backed, matching spec.md's
// relational schema with pgvector/HNSW and FTS), and Embedded (adapted
// from the teacher's CozoDB-backed EmbeddedBackend, generalized from
// Go-only tables to the spec's language-agnostic schema).
//
// The split between a pooled, orchestrator-owned connector and a
// single-connection, per-worker connector follows spec.md §5's
// scheduling model: the parse phase's workers each own a SingleConnector
// with no shared connection, while the orchestrator and the embed/resolve
// phases share one pool.
package storage

import (
	"context"

	"github.com/sheeptech/crader/pkg/model"
)

// ScoredDoc is one retrieval hit: a node id with its fused or raw score.
type ScoredDoc struct {
	NodeID string
	Score  float64
}

// PooledConnector is the orchestrator-facing half of Backend: snapshot
// lifecycle, edge/embedding writes that need cross-shard visibility, and
// all retrieval queries.
type PooledConnector interface {
	// EnsureRepository inserts repo if absent and reports whether it was
	// newly created.
	EnsureRepository(ctx context.Context, repo model.Repository) (isNew bool, err error)

	// CreateSnapshot inserts a pending snapshot for (repo_id, commit_hash,
	// branch). If the tuple already exists (unique constraint), it
	// returns the existing row with isNew=false rather than erroring,
	// per spec.md §5's same-repo-same-branch serialization rule.
	CreateSnapshot(ctx context.Context, snap model.Snapshot) (result model.Snapshot, isNew bool, err error)

	// TransitionSnapshot commits a snapshot's state-machine transition.
	TransitionSnapshot(ctx context.Context, snapshotID string, state model.SnapshotState) error

	// ActivateSnapshot atomically promotes snapshotID to active for its
	// (repo_id, branch) pair, demoting whatever was previously active.
	ActivateSnapshot(ctx context.Context, snapshotID string) error

	// GetActiveSnapshot returns the active snapshot for (repoID, branch),
	// or KindNotFound if none exists.
	GetActiveSnapshot(ctx context.Context, repoID, branch string) (model.Snapshot, error)

	// InsertEdges bulk-inserts edges for a snapshot, deduplicating on
	// (source_id, target_id, relation_type).
	InsertEdges(ctx context.Context, edges []model.Edge) error

	// LookupNode resolves a (file, byte range) span to its chunk node id
	// within snapshotID — the NodeLookup the cross-reference resolver
	// needs (pkg/xref.NodeLookup), backed by a real index lookup here.
	LookupNode(ctx context.Context, snapshotID, filePath string, r model.ByteRange) (nodeID string, ok bool, err error)

	// StageEmbeddingText records text awaiting embedding for node_id,
	// keyed by the text's content hash (vector_hash) so unchanged chunks
	// can be recovered instead of re-embedded.
	StageEmbeddingText(ctx context.Context, snapshotID, nodeID, vectorHash, text, model string) error

	// BackfillFromVectorHash copies committed embeddings from a prior
	// snapshot for any staged vector_hash that already has one, removing
	// them from staging. Returns the count recovered.
	BackfillFromVectorHash(ctx context.Context, snapshotID string) (recovered int, err error)

	// NextStagingPage returns up to limit un-embedded staging rows for
	// snapshotID, for the embed phase's paging cursor.
	NextStagingPage(ctx context.Context, snapshotID string, limit int) ([]StagingRow, error)

	// CommitEmbeddings writes resolved vectors and removes their staging
	// rows.
	CommitEmbeddings(ctx context.Context, vectors []model.EmbeddingVector) error

	// ListSnapshotChunks returns every chunk node of a snapshot together
	// with its content, for the embedding pipeline's staging phase
	// (spec.md §4.7: "for each chunk in the snapshot").
	ListSnapshotChunks(ctx context.Context, snapshotID string) ([]ChunkWithContent, error)

	// ListFileChunks returns every chunk node of one file within a
	// snapshot together with its content, ordered by StartLine, for the
	// Graph Walker's sibling navigation (spec.md §4.8) and the historical
	// file reader's byte-order reconstruction (spec.md §4.8's C8b).
	ListFileChunks(ctx context.Context, snapshotID, filePath string) ([]ChunkWithContent, error)

	// ListFiles returns every file row of a snapshot, for the historical
	// Reader's directory manifest (spec.md §4.8's C8b).
	ListFiles(ctx context.Context, snapshotID string) ([]model.File, error)

	// CleanupStaging removes any remaining staging rows for snapshotID,
	// on success or after a non-recoverable embedding failure, per
	// spec.md §4.7's "to avoid unbounded growth".
	CleanupStaging(ctx context.Context, snapshotID string) error

	// SearchDense runs a nearest-neighbor vector search scoped to the
	// active snapshot for repoID.
	SearchDense(ctx context.Context, repoID string, vector []float32, topK int) ([]ScoredDoc, error)

	// SearchSparse runs a full-text search scoped to the active snapshot
	// for repoID.
	SearchSparse(ctx context.Context, repoID, query string, topK int) ([]ScoredDoc, error)

	// GetNode fetches one chunk node plus its content by id.
	GetNode(ctx context.Context, nodeID string) (model.ChunkNode, []byte, error)

	// GetNeighbors returns edges of relation touching nodeID, in the
	// given direction ("out" or "in").
	GetNeighbors(ctx context.Context, nodeID string, relation model.RelationType, direction string) ([]model.Edge, error)

	// PruneSnapshot deletes a failed or superseded snapshot's file, chunk,
	// staging, embedding and search rows and marks the snapshot "pruned";
	// edges and content-addressed chunk contents are left in place.
	PruneSnapshot(ctx context.Context, snapshotID string) error

	Close() error
}

// SingleConnector is the per-worker half of Backend used during the
// parse phase: independent, batched bulk inserts with no shared
// connection across workers (spec.md §5).
type SingleConnector interface {
	// InsertFiles bulk-inserts file rows for one shard.
	InsertFiles(ctx context.Context, files []model.File) error

	// InsertChunks bulk-inserts chunk nodes and their deduplicated
	// content rows (content is inserted ON CONFLICT DO NOTHING, keyed by
	// chunk_hash, since it's global and shared across snapshots).
	InsertChunks(ctx context.Context, nodes []model.ChunkNode, contents []model.ChunkContent) error

	// InsertEdges bulk-inserts intra-file edges discovered during
	// parsing (defines/calls within one file), same dedup semantics as
	// PooledConnector.InsertEdges.
	InsertEdges(ctx context.Context, edges []model.Edge) error

	// IndexSearchDocs bulk-inserts the sparse (full-text) search
	// projection of each chunk node, computed by the parse phase
	// alongside InsertChunks.
	IndexSearchDocs(ctx context.Context, repoID, snapshotID string, docs []model.SearchDoc) error

	Close() error
}

// StagingRow is one pending embedding job read back from staging.
type StagingRow struct {
	NodeID     string
	VectorHash string
	Text       string
	Model      string
}

// ChunkWithContent pairs a chunk node with its content bytes, as returned
// by ListSnapshotChunks.
type ChunkWithContent struct {
	Node    model.ChunkNode
	Content []byte
}

// Backend is the full storage surface a Backend implementation provides:
// a pooled connector for the orchestrator plus a factory for per-worker
// single connectors, and schema lifecycle management.
type Backend interface {
	PooledConnector

	// NewSingleConnector returns an independent connector suitable for
	// one parse-phase worker.
	NewSingleConnector(ctx context.Context) (SingleConnector, error)

	// EnsureSchema creates or migrates the backend's schema to the
	// current version. Idempotent.
	EnsureSchema(ctx context.Context) error
}

var (
	_ Backend = (*EmbeddedBackend)(nil)
	_ Backend = (*PooledPostgres)(nil)
	_ Backend = (*SinglePostgres)(nil)

	_ SingleConnector = (*embeddedSingleConnector)(nil)
	_ SingleConnector = (*pgSingleConnector)(nil)
)
