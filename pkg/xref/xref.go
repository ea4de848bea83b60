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

// Package xref implements the Cross-Reference Indexer (C5): it drives an
// external, language-specific symbol indexer as a subprocess per project
// root, streams back symbol occurrences, and turns them into graph edges
// against chunks already ingested for the snapshot.
//
// The symbol-table design (local resolution in-process, cross-file
// resolution via lookup) generalizes the teacher's CallResolver
// (pkg/ingestion/resolver.go), which does the same thing for Go alone via
// in-memory package/import indexes; here the index is a sharded symbol
// table (symtab.go) that can be flushed to disk and that spans more than
// one language.
package xref

import "github.com/sheeptech/crader/pkg/model"

// RoleMask is a bit-field describing a symbol occurrence's role, matching
// the cross-reference indexer contract of spec.md §1/§6.
type RoleMask uint8

// Role bits. Any occurrence with none of these set is treated as a plain
// reference (role defines "calls" by default).
const (
	RoleDefines    RoleMask = 1
	RoleReferences RoleMask = 2
	RoleReadsFrom  RoleMask = 16
	RoleWritesTo   RoleMask = 32
	RoleOverrides  RoleMask = 64
	RoleImplements RoleMask = 128
)

// relationFor maps a non-defining role mask to the graph relation type it
// produces. References with no extra bits set default to "calls".
func relationFor(mask RoleMask) model.RelationType {
	switch {
	case mask&RoleReadsFrom != 0:
		return model.RelationReadsFrom
	case mask&RoleWritesTo != 0:
		return model.RelationWritesTo
	case mask&RoleOverrides != 0:
		return model.RelationOverrides
	case mask&RoleImplements != 0:
		return model.RelationImplements
	default:
		return model.RelationCalls
	}
}

// Occurrence is one symbol mention streamed from the indexer subprocess:
// a symbol name at a byte range in a file, tagged with its role.
type Occurrence struct {
	Symbol    string
	File      string
	ByteRange model.ByteRange
	Role      RoleMask
}

// NodeLookup resolves a (file, byte range) occurrence to the node_id of
// the chunk already ingested for that span. It must only be called after
// every chunk for the snapshot has been stored (spec.md §4.5: "runs after
// all chunks are ingested so that byte-range → node_id lookup hits").
type NodeLookup func(file string, r model.ByteRange) (nodeID string, ok bool)
