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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	craderrors "github.com/sheeptech/crader/internal/errors"
	"github.com/sheeptech/crader/pkg/chunker"
	"github.com/sheeptech/crader/pkg/model"
	"github.com/sheeptech/crader/pkg/storage"
)

const maxNeighborHints = 5

// stage computes a vector_hash and staged text for every chunk of
// snapshotID and records it via StageEmbeddingText, per spec.md §4.7
// Phase 1. It returns the number of chunks staged.
func (p *Pipeline) stage(ctx context.Context, backend storage.PooledConnector, snapshotID string) (int, error) {
	chunks, err := backend.ListSnapshotChunks(ctx, snapshotID)
	if err != nil {
		return 0, craderrors.New(craderrors.KindTransientStorage, "embedding.stage.ListSnapshotChunks", err)
	}

	for _, c := range chunks {
		hints := p.neighborhoodHints(ctx, backend, c.Node.ID)
		enrichment := enrichmentContext(c.Node, c.Content, hints)
		vectorHash := vectorHash(c.Node.ChunkHash, enrichment, p.provider.ModelName())

		if err := backend.StageEmbeddingText(ctx, snapshotID, c.Node.ID, vectorHash, enrichment, p.provider.ModelName()); err != nil {
			return 0, craderrors.New(craderrors.KindTransientStorage, "embedding.stage.StageEmbeddingText", err)
		}
	}

	return len(chunks), nil
}

// enrichmentContext deterministically derives the text actually sent to
// the provider from (file_path, language, category, content, neighborhood
// hints), per spec.md §4.7. Semantic-match hints are deliberately omitted:
// nothing upstream of the embedding phase yet computes them (Open
// Question, recorded in DESIGN.md).
func enrichmentContext(n model.ChunkNode, content []byte, hints []string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "file: %s\n", n.FilePath)
	fmt.Fprintf(&b, "language: %s\n", chunker.LanguageForPath(n.FilePath))
	fmt.Fprintf(&b, "category: %s\n", n.Type)

	if len(hints) > 0 {
		fmt.Fprintf(&b, "neighbors: %s\n", strings.Join(hints, ", "))
	}

	b.WriteString("---\n")
	if len(strings.TrimSpace(string(content))) == 0 {
		b.WriteString(placeholderText)
	} else {
		b.Write(content)
	}

	return b.String()
}

// neighborhoodHints fetches up to maxNeighborHints outgoing call targets
// for nodeID, best-effort: a lookup failure degrades to no hints rather
// than failing the whole staging pass.
func (p *Pipeline) neighborhoodHints(ctx context.Context, backend storage.PooledConnector, nodeID string) []string {
	edges, err := backend.GetNeighbors(ctx, nodeID, model.RelationCalls, "out")
	if err != nil {
		p.logger.Debug("neighborhood hint lookup failed", "node_id", nodeID, "err", err)
		return nil
	}

	hints := make([]string, 0, maxNeighborHints)
	for _, e := range edges {
		if len(hints) >= maxNeighborHints {
			break
		}
		hints = append(hints, e.TargetNodeID)
	}

	return hints
}

func vectorHash(chunkHash, enrichment, modelName string) string {
	sum := sha256.Sum256([]byte(chunkHash + "|" + enrichment + "|" + modelName))
	return hex.EncodeToString(sum[:])
}
