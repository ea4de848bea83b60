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

package retriever

import (
	"context"
	"fmt"

	"github.com/sheeptech/crader/pkg/model"
)

// unknownSymbol is filtered from outgoing-call results: an occurrence
// scanner emits it when a call target's name could not be determined
// (spec.md §4.8).
const unknownSymbol = "<unknown>"

// expand fetches nodeID's content and populates its parent context,
// outgoing calls, and sibling navigation hints, per spec.md §4.8's Graph
// Walker.
func (r *Retriever) expand(ctx context.Context, snapshotID string, f fusedDoc, maxNeighbors int) (RetrievedContext, error) {
	node, content, err := r.backend.GetNode(ctx, f.nodeID)
	if err != nil {
		return RetrievedContext{}, err
	}

	rc := RetrievedContext{
		NodeID: node.ID, FilePath: node.FilePath, Type: node.Type,
		StartLine: node.StartLine, EndLine: node.EndLine, Content: content, Score: f.score,
	}

	rc.ParentContext, _ = r.parentContext(ctx, node.ID)
	rc.OutgoingCalls, _ = r.outgoingCalls(ctx, node.ID, maxNeighbors)
	rc.PrevNodeID, rc.NextNodeID = r.siblingChunks(ctx, snapshotID, node)

	return rc, nil
}

// parentContext returns a human-readable description of nodeID's
// enclosing chunk, or "" if it has none or its parent is a module
// (spec.md: "skipping module-type parents").
func (r *Retriever) parentContext(ctx context.Context, nodeID string) (string, error) {
	edges, err := r.backend.GetNeighbors(ctx, nodeID, model.RelationDefines, "in")
	if err != nil || len(edges) == 0 {
		return "", err
	}

	parent, _, err := r.backend.GetNode(ctx, edges[0].SourceNodeID)
	if err != nil {
		return "", nil
	}

	if parent.Type == model.ChunkModule {
		return "", nil
	}

	return fmt.Sprintf("Inside %s defined in %s (L%d)", parent.Type, parent.FilePath, parent.StartLine), nil
}

// outgoingCalls returns the deduplicated call-target symbols of nodeID,
// in first-seen order, capped at max, with unknownSymbol filtered.
func (r *Retriever) outgoingCalls(ctx context.Context, nodeID string, max int) ([]string, error) {
	edges, err := r.backend.GetNeighbors(ctx, nodeID, model.RelationCalls, "out")
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []string

	for _, e := range edges {
		symbol, _ := e.Metadata["symbol"].(string)
		if symbol == "" || symbol == unknownSymbol || seen[symbol] {
			continue
		}

		seen[symbol] = true
		out = append(out, symbol)

		if len(out) >= max {
			break
		}
	}

	return out, nil
}

// siblingChunks returns the node ids immediately before and after node
// within its file, by source order (spec.md: "prev/next chunk in source
// order").
func (r *Retriever) siblingChunks(ctx context.Context, snapshotID string, node model.ChunkNode) (prev, next string) {
	chunks, err := r.backend.ListFileChunks(ctx, snapshotID, node.FilePath)
	if err != nil {
		return "", ""
	}

	for i, c := range chunks {
		if c.Node.ID != node.ID {
			continue
		}
		if i > 0 {
			prev = chunks[i-1].Node.ID
		}
		if i < len(chunks)-1 {
			next = chunks[i+1].Node.ID
		}
		return prev, next
	}

	return "", ""
}
