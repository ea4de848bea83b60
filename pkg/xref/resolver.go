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

package xref

import (
	"log/slog"

	"github.com/sheeptech/crader/pkg/model"
)

// Resolver turns a stream of Occurrences into graph Edges, pairing every
// non-defining occurrence with its symbol's definition site. It mirrors
// the two-pass shape of the teacher's CallResolver (BuildIndex then
// ResolveCalls) but the first pass populates a disk-backed SymbolTable
// instead of an in-memory map, and resolution spans every language found
// under the worktree rather than Go alone.
type Resolver struct {
	symtab *SymbolTable
	logger *slog.Logger
}

// NewResolver builds a Resolver backed by a fresh symbol table rooted at
// symtabDir (typically a scratch directory scoped to one snapshot).
func NewResolver(symtabDir string, logger *slog.Logger) (*Resolver, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := NewSymbolTable(symtabDir)
	if err != nil {
		return nil, err
	}

	return &Resolver{symtab: st, logger: logger}, nil
}

// IndexDefinitions is the first pass: record every occurrence whose role
// includes RoleDefines as a definition site for its symbol.
func (r *Resolver) IndexDefinitions(occurrences []Occurrence) error {
	for _, occ := range occurrences {
		if occ.Role&RoleDefines == 0 {
			continue
		}

		if err := r.symtab.AddDefinition(occ.Symbol, occ.File, occ.ByteRange); err != nil {
			return err
		}
	}

	return nil
}

// ResolveEdges is the second pass: for every non-defining occurrence,
// look up its node_id via lookup, pair it with its symbol's definition
// (in-tree via the symbol table, or an external sentinel if undefined),
// and emit an edge. Self-loops and occurrences that can't be resolved to
// a source node are dropped, per spec.md §4.5.
func (r *Resolver) ResolveEdges(occurrences []Occurrence, lookup NodeLookup) ([]model.Edge, error) {
	var edges []model.Edge

	dropped := 0

	for _, occ := range occurrences {
		if occ.Role&RoleDefines != 0 {
			continue
		}

		sourceID, ok := lookup(occ.File, occ.ByteRange)
		if !ok {
			dropped++
			continue
		}

		relation := relationFor(occ.Role)

		targetID, err := r.resolveTarget(occ.Symbol, lookup)
		if err != nil {
			return nil, err
		}

		if targetID == sourceID {
			dropped++
			continue
		}

		edges = append(edges, model.Edge{
			SourceNodeID: sourceID,
			TargetNodeID: targetID,
			RelationType: relation,
			Metadata:     map[string]any{"symbol": occ.Symbol},
		})
	}

	if dropped > 0 {
		r.logger.Debug("dropped unresolved or self-loop occurrences", "count", dropped)
	}

	return edges, nil
}

// resolveTarget returns the node_id for symbol's definition, or an
// external sentinel id if the symbol has no in-tree definition, or its
// definition site doesn't map to any ingested chunk (e.g. it falls
// outside every emitted byte range, which should not happen but is
// tolerated defensively).
func (r *Resolver) resolveTarget(symbol string, lookup NodeLookup) (string, error) {
	defs, err := r.symtab.Lookup(symbol)
	if err != nil {
		return "", err
	}

	for _, d := range defs {
		if nodeID, ok := lookup(d.File, d.Range); ok {
			return nodeID, nil
		}
	}

	return model.ExternalSentinelID(symbol), nil
}

// Flush persists the symbol table to disk; Close discards its in-memory
// cache. Callers that resolve entirely within one process lifetime for
// one snapshot may skip Flush.
func (r *Resolver) Flush() error { return r.symtab.Flush() }

// Close releases resolver resources.
func (r *Resolver) Close() { r.symtab.Close() }
