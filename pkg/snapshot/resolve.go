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

package snapshot

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	craderrors "github.com/sheeptech/crader/internal/errors"
	"github.com/sheeptech/crader/pkg/model"
	"github.com/sheeptech/crader/pkg/xref"
)

// resolvePhase runs the cross-reference indexer (C5) against every
// discovered project root and ingests the resulting edges, per spec.md
// §4.5/§4.6's "resolve" step. It runs strictly after the parse phase has
// committed every chunk, so byte-range lookups hit (spec.md's ordering
// guarantee). A single project's indexer failure is recorded and does not
// abort resolution of the rest (KindIndexerTool is per-project, not fatal).
func (c *Controller) resolvePhase(ctx context.Context, snapshotID, worktreeRoot string) error {
	projects, err := xref.DiscoverProjects(worktreeRoot)
	if err != nil {
		return craderrors.New(craderrors.KindGit, "snapshot.resolvePhase.DiscoverProjects", err)
	}

	if len(projects) == 0 {
		return nil
	}

	symtabDir := filepath.Join(c.opts.SymtabRoot, snapshotID)
	if err := os.MkdirAll(symtabDir, 0o755); err != nil {
		return craderrors.New(craderrors.KindConfig, "snapshot.resolvePhase.MkdirAll", err)
	}
	defer os.RemoveAll(symtabDir)

	resolver, err := xref.NewResolver(symtabDir, c.logger)
	if err != nil {
		return craderrors.New(craderrors.KindConfig, "snapshot.resolvePhase.NewResolver", err)
	}
	defer resolver.Close()

	var all []xref.Occurrence

	for _, p := range projects {
		tool, ok := c.opts.XRefTools[p.Language]
		if !ok {
			c.logger.Debug("no cross-reference tool configured for language", "language", p.Language, "root", p.Root)
			continue
		}

		occ, err := runProjectIndexer(ctx, tool, p)
		if err != nil {
			c.logger.Warn("cross-reference indexer failed for project", "root", p.Root, "language", p.Language, "err", err)
			continue
		}

		all = append(all, occ...)
	}

	if len(all) == 0 {
		return nil
	}

	if err := resolver.IndexDefinitions(all); err != nil {
		return craderrors.New(craderrors.KindPermanentStorage, "snapshot.resolvePhase.IndexDefinitions", err)
	}

	lookup := c.nodeLookup(ctx, snapshotID)

	edges, err := resolver.ResolveEdges(all, lookup)
	if err != nil {
		return craderrors.New(craderrors.KindPermanentStorage, "snapshot.resolvePhase.ResolveEdges", err)
	}

	if len(edges) == 0 {
		return nil
	}

	if err := c.backend.InsertEdges(ctx, edges); err != nil {
		return craderrors.New(craderrors.KindTransientStorage, "snapshot.resolvePhase.InsertEdges", err)
	}

	return nil
}

// nodeLookup adapts the pooled backend's LookupNode into the
// xref.NodeLookup shape the resolver needs, logging (not propagating)
// storage errors since a lookup miss is already tolerated by the resolver
// as "orphan, drop the edge" per spec.md §4.5.
func (c *Controller) nodeLookup(ctx context.Context, snapshotID string) xref.NodeLookup {
	return func(file string, r model.ByteRange) (string, bool) {
		nodeID, ok, err := c.backend.LookupNode(ctx, snapshotID, file, r)
		if err != nil {
			c.logger.Warn("node lookup failed", "file", file, "err", err)
			return "", false
		}

		return nodeID, ok
	}
}

func runProjectIndexer(ctx context.Context, tool xref.Tool, p xref.Project) ([]xref.Occurrence, error) {
	occCh := make(chan xref.Occurrence, 256)
	done := make(chan error, 1)

	go func() {
		done <- xref.Run(ctx, slog.Default(), tool, p.Root, occCh)
		close(occCh)
	}()

	var occurrences []xref.Occurrence
	for occ := range occCh {
		occurrences = append(occurrences, occ)
	}

	if err := <-done; err != nil {
		return nil, err
	}

	return occurrences, nil
}
