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

// Package model defines the data-model types shared across the indexing
// pipeline and the storage backends: the graph's nodes, edges, and the
// identities that tie a snapshot to a repository and commit.
//
// Entity shapes follow the teacher's entity-struct style (FileEntity,
// FunctionEntity, CallsEdge in pkg/ingestion/schema.go) generalized from
// Go-only function/type extraction to language-agnostic semantic chunks.
package model

import "time"

// SnapshotState is the indexing lifecycle state of a Snapshot.
type SnapshotState string

// Snapshot lifecycle states, per the linear state machine of spec.md §3/§4.6.
const (
	SnapshotPending  SnapshotState = "pending"
	SnapshotBuilding SnapshotState = "building"
	SnapshotReady    SnapshotState = "ready"
	SnapshotActive   SnapshotState = "active"
	SnapshotFailed   SnapshotState = "failed"
	SnapshotPruned   SnapshotState = "pruned"
)

// FileCategory classifies a file's role for ranking and filtering.
type FileCategory string

// File categories.
const (
	CategorySource FileCategory = "source"
	CategoryTest   FileCategory = "test"
	CategoryConfig FileCategory = "config"
	CategoryDocs   FileCategory = "docs"
	CategoryOther  FileCategory = "other"
)

// ParsingStatus is the outcome of running the chunk parser on one file.
type ParsingStatus string

// Parsing outcomes.
const (
	ParsingSuccess ParsingStatus = "success"
	ParsingSkipped ParsingStatus = "skipped"
	ParsingError   ParsingStatus = "error"
)

// ChunkType identifies the semantic role of a chunk node.
type ChunkType string

// Chunk types. Filler chunks cover the gaps between semantic constructs so
// that a file's chunks reconstruct it byte-for-byte (spec.md §4.4 coverage
// invariant).
const (
	ChunkFunction ChunkType = "function"
	ChunkMethod   ChunkType = "method"
	ChunkClass    ChunkType = "class"
	ChunkBlock    ChunkType = "block"
	ChunkModule   ChunkType = "module"
	ChunkFiller   ChunkType = "filler"
)

// RelationType is the kind of a cross-reference or intra-file edge.
type RelationType string

// Relation types, per spec.md §3.
const (
	RelationCalls      RelationType = "calls"
	RelationImports    RelationType = "imports"
	RelationDefines    RelationType = "defines"
	RelationReadsFrom  RelationType = "reads_from"
	RelationWritesTo   RelationType = "writes_to"
	RelationImplements RelationType = "implements"
	RelationOverrides  RelationType = "overrides"
)

// Repository identifies a single indexed remote (or local tree).
// id is a pure, stable function of the sanitized URL (or absolute path);
// see pkg/metadata.RepoID.
type Repository struct {
	ID            string
	URL           string
	Name          string
	DefaultBranch string
	CreatedAt     time.Time
}

// Snapshot identifies one indexing run of a (repo, commit, branch) tuple.
type Snapshot struct {
	ID          string
	RepoID      string
	CommitHash  string
	Branch      string
	State       SnapshotState
	Stats       map[string]any
	CreatedAt   time.Time
	ActivatedAt *time.Time
}

// ByteRange is an inclusive-exclusive [Start, End) byte offset pair.
type ByteRange struct {
	Start int
	End   int
}

// File is one tracked file within a snapshot.
type File struct {
	ID            string
	SnapshotID    string
	Path          string
	Language      string
	SizeBytes     int64
	Category      FileCategory
	FileHash      string
	ParsingStatus ParsingStatus
	ParsingError  string
	IndexedAt     time.Time
}

// ChunkNode is one semantic code chunk: a function, class, block, or
// filler span. Uniqueness is (SnapshotID, FileID, ByteRange).
type ChunkNode struct {
	ID              string
	SnapshotID      string
	FileID          string
	FilePath        string
	ChunkHash       string
	Type            ChunkType
	StartLine       int
	EndLine         int
	ByteRange       ByteRange
	Metadata        map[string]any
	HasParseErrors  bool
	IsExternal      bool
	ExternalSymbol  string
}

// ChunkContent is the content-addressed byte payload of a chunk. It is
// global, not scoped to a snapshot, and deduplicated store-wide by hash.
type ChunkContent struct {
	ChunkHash string
	Content   []byte
}

// Edge is one cross-reference or intra-file relation between two nodes in
// the same snapshot. Self-loops are dropped before insertion.
type Edge struct {
	SourceNodeID string
	TargetNodeID string
	RelationType RelationType
	Metadata     map[string]any
}

// SearchDoc is the dense/sparse index entry projected from a ChunkNode for
// retrieval.
type SearchDoc struct {
	NodeID   string
	FilePath string
	Tags     string
	Content  string
}

// EmbeddingVector is one committed vector for a node within a snapshot.
// VectorHash keys cross-snapshot reuse: rows with the same VectorHash and
// Model may be recovered instead of re-embedded.
type EmbeddingVector struct {
	NodeID     string
	SnapshotID string
	VectorHash string
	Model      string
	Dim        int
	Vector     []float32
}

// ExternalSentinelID derives a stable id for a symbol defined outside the
// indexed tree, so that edges targeting it have somewhere to land.
func ExternalSentinelID(symbol string) string {
	return "ext:" + symbol
}
