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

// Package retriever implements the Retriever + Graph Walker (C8): hybrid
// vector/keyword search fused by reciprocal rank fusion, neighborhood
// expansion of each hit (parent chunk, outgoing calls, sibling
// navigation), and a historical file/directory Reader (C8b) that
// reconstructs bytes from ordered chunk content rows (spec.md §4.8).
package retriever

import (
	"context"

	craderrors "github.com/sheeptech/crader/internal/errors"
	"github.com/sheeptech/crader/pkg/model"
	"github.com/sheeptech/crader/pkg/storage"
)

// rrfK is the default reciprocal rank fusion constant (spec.md §4.8).
const rrfK = 60

// defaultLimit caps Search results when Query.Limit is unset.
const defaultLimit = 10

// defaultMaxNeighbors caps outgoing-call targets per hit when
// Query.MaxNeighbors is unset.
const defaultMaxNeighbors = 5

// Embedder embeds a query string into a vector, one call per Search. It
// is satisfied by pkg/embedding.Provider (Embed(ctx, []string)) so this
// package never needs to import pkg/embedding.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Query describes one retrieval request. Search always resolves against
// RepoID's currently active snapshot (storage.PooledConnector.SearchDense/
// SearchSparse are themselves scoped to the active snapshot for a repo);
// retrieving against an arbitrary non-active snapshot id is only
// supported by the historical Reader (C8b), not Search.
type Query struct {
	Text string
	// RepoID is required; the search is scoped to this repository's
	// currently active snapshot.
	RepoID string
	// Branch selects which (repo, branch) active snapshot to search;
	// defaults to "HEAD", matching pkg/snapshot's convention for an
	// unnamed branch.
	Branch string
	// Limit caps the number of fused, context-expanded results; defaults
	// to 10.
	Limit int
	// MaxNeighbors caps outgoing-call targets per result; defaults to 5.
	MaxNeighbors int
}

func (q Query) withDefaults() Query {
	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}
	if q.MaxNeighbors <= 0 {
		q.MaxNeighbors = defaultMaxNeighbors
	}
	if q.Branch == "" {
		q.Branch = "HEAD"
	}
	return q
}

// RetrievedContext is one search hit expanded with graph-neighborhood
// context, per spec.md §4.8.
type RetrievedContext struct {
	NodeID    string
	FilePath  string
	Type      model.ChunkType
	StartLine int
	EndLine   int
	Content   []byte
	Score     float64

	// ParentContext describes the enclosing chunk ("Inside class defined
	// in a.py (L1)"), or "" if the node has no parent or its parent is a
	// module (spec.md's "skipping module-type parents").
	ParentContext string
	// OutgoingCalls is the deduplicated set of call-target symbols,
	// "<unknown>" filtered, in first-seen order.
	OutgoingCalls []string
	// PrevNodeID/NextNodeID are the preceding/following chunk in the same
	// file by source order; empty at a file's boundary.
	PrevNodeID string
	NextNodeID string
}

// Retriever runs hybrid search and graph-context expansion against one
// storage backend.
type Retriever struct {
	backend  storage.PooledConnector
	embedder Embedder
}

// New constructs a Retriever.
func New(backend storage.PooledConnector, embedder Embedder) *Retriever {
	return &Retriever{backend: backend, embedder: embedder}
}

// Search resolves q's target snapshot, runs vector and keyword search
// concurrently, fuses by RRF, and expands each surviving hit with graph
// context, per spec.md §4.8.
func (r *Retriever) Search(ctx context.Context, q Query) ([]RetrievedContext, error) {
	q = q.withDefaults()

	if q.RepoID == "" {
		return nil, craderrors.Newf(craderrors.KindInvalidArgument, "retriever.Search", "repo_id required")
	}

	active, err := r.backend.GetActiveSnapshot(ctx, q.RepoID, q.Branch)
	if err != nil {
		if craderrors.Of(err) == craderrors.KindNotFound {
			return nil, nil
		}
		return nil, err
	}

	dense, sparse, err := r.search(ctx, q)
	if err != nil {
		return nil, err
	}

	fused := reciprocalRankFusion(dense, sparse, rrfK)
	if len(fused) > q.Limit {
		fused = fused[:q.Limit]
	}

	results := make([]RetrievedContext, 0, len(fused))
	for _, f := range fused {
		rc, err := r.expand(ctx, active.ID, f, q.MaxNeighbors)
		if err != nil {
			continue
		}
		results = append(results, rc)
	}

	return results, nil
}
