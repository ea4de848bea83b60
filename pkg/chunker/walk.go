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

package chunker

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/sheeptech/crader/pkg/model"
)

// fileParser accumulates chunk nodes/edges for one file as it walks the
// tree-sitter AST depth-first, tracking the enclosing class/struct name
// so methods emit a "defines" edge back to it, mirroring how the
// teacher's resolver.go links methods to receivers.
type fileParser struct {
	spec       languageSpec
	content    []byte
	path       string
	snapshotID string
	fileID     string

	nodes   []model.ChunkNode
	edges   []model.Edge
	byHash  map[string][]byte
	seq     int
	covered []model.ByteRange
}

func (p *fileParser) walk(n *sitter.Node, enclosingID string) {
	if n == nil {
		return
	}

	chunkType, isChunk := p.spec.chunkNodeTypes[n.Type()]
	nextEnclosing := enclosingID

	if isChunk {
		id := p.emit(n, chunkType)
		nextEnclosing = id

		if enclosingID != "" {
			p.edges = append(p.edges, model.Edge{
				SourceNodeID: enclosingID,
				TargetNodeID: id,
				RelationType: model.RelationDefines,
			})
		}
	} else if _, isCall := p.spec.callNodeTypes[n.Type()]; isCall && enclosingID != "" {
		callee := calleeName(n, p.content)
		if callee != "" {
			p.edges = append(p.edges, model.Edge{
				SourceNodeID: enclosingID,
				TargetNodeID: model.ExternalSentinelID(callee),
				RelationType: model.RelationCalls,
				Metadata:     map[string]any{"symbol": callee},
			})
		}
	}

	for i := 0; i < int(n.ChildCount()); i++ {
		p.walk(n.Child(i), nextEnclosing)
	}
}

func (p *fileParser) emit(n *sitter.Node, chunkType model.ChunkType) string {
	start, end := int(n.StartByte()), int(n.EndByte())
	text := p.content[start:end]
	hash := contentHash(text)

	id := fmt.Sprintf("%s:%s:%d", p.snapshotID, p.fileID, p.seq)
	p.seq++

	p.nodes = append(p.nodes, model.ChunkNode{
		ID:             id,
		SnapshotID:     p.snapshotID,
		FileID:         p.fileID,
		FilePath:       p.path,
		ChunkHash:      hash,
		Type:           chunkType,
		StartLine:      int(n.StartPoint().Row) + 1,
		EndLine:        int(n.EndPoint().Row) + 1,
		ByteRange:      model.ByteRange{Start: start, End: end},
		HasParseErrors: countErrors(n) > 0,
	})

	if p.byHash == nil {
		p.byHash = make(map[string][]byte)
	}
	p.byHash[hash] = text

	p.covered = append(p.covered, model.ByteRange{Start: start, End: end})

	return id
}

func (p *fileParser) contentsOf() []model.ChunkContent {
	out := make([]model.ChunkContent, 0, len(p.byHash))
	for hash, text := range p.byHash {
		out = append(out, model.ChunkContent{ChunkHash: hash, Content: text})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ChunkHash < out[j].ChunkHash })

	return out
}

// fillGaps emits filler chunks covering every byte range not already
// claimed by a parsed construct (comments, imports, package-level
// statements, blank lines), preserving the coverage invariant required
// by spec.md §4.4. The sweep leaves no uncovered byte, so it always
// returns true; no separate coverage check is made.
func (p *fileParser) fillGaps(totalLen int) bool {
	sort.Slice(p.covered, func(i, j int) bool { return p.covered[i].Start < p.covered[j].Start })

	cursor := 0

	for _, r := range p.covered {
		if r.Start > cursor {
			p.emitFiller(cursor, r.Start)
		}

		if r.End > cursor {
			cursor = r.End
		}
	}

	if cursor < totalLen {
		p.emitFiller(cursor, totalLen)
	}

	return true
}

func (p *fileParser) emitFiller(start, end int) {
	if start >= end {
		return
	}

	text := p.content[start:end]
	hash := contentHash(text)
	id := fmt.Sprintf("%s:%s:%d", p.snapshotID, p.fileID, p.seq)
	p.seq++

	p.nodes = append(p.nodes, model.ChunkNode{
		ID:             id,
		SnapshotID:     p.snapshotID,
		FileID:         p.fileID,
		FilePath:       p.path,
		ChunkHash:      hash,
		Type:           model.ChunkFiller,
		ByteRange:      model.ByteRange{Start: start, End: end},
	})

	if p.byHash == nil {
		p.byHash = make(map[string][]byte)
	}
	p.byHash[hash] = text
}

// calleeName extracts the textual name of the function/method being
// invoked by a call-expression node, handling the common "function" and
// "member access -> function" field shapes shared across the four
// supported grammars.
func calleeName(call *sitter.Node, content []byte) string {
	fn := call.ChildByFieldName("function")
	if fn == nil {
		return ""
	}

	if fn.Type() == "selector_expression" || fn.Type() == "member_expression" || fn.Type() == "attribute" {
		if field := fn.ChildByFieldName("field"); field != nil {
			return string(content[field.StartByte():field.EndByte()])
		}

		if attr := fn.ChildByFieldName("attribute"); attr != nil {
			return string(content[attr.StartByte():attr.EndByte()])
		}
	}

	return string(content[fn.StartByte():fn.EndByte()])
}

func countErrors(n *sitter.Node) int {
	if n == nil {
		return 0
	}

	count := 0
	if n.Type() == "ERROR" {
		count++
	}

	for i := 0; i < int(n.ChildCount()); i++ {
		count += countErrors(n.Child(i))
	}

	return count
}

func categorize(path string) model.FileCategory {
	base := filepath.Base(path)
	lower := strings.ToLower(base)

	switch {
	case strings.Contains(lower, "_test.") || strings.Contains(lower, ".test.") || strings.Contains(lower, ".spec.") || strings.HasPrefix(lower, "test_"):
		return model.CategoryTest
	case strings.HasSuffix(lower, ".md") || strings.HasSuffix(lower, ".rst") || strings.HasSuffix(lower, ".txt"):
		return model.CategoryDocs
	case strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml") || strings.HasSuffix(lower, ".json") ||
		strings.HasSuffix(lower, ".toml") || strings.HasSuffix(lower, ".ini") || lower == "dockerfile":
		return model.CategoryConfig
	case LanguageForPath(path) != "":
		return model.CategorySource
	default:
		return model.CategoryOther
	}
}
