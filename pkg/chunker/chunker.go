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

// Package chunker implements the Chunk Parser (C4): it slices a file's
// content into typed, byte-addressable chunks using tree-sitter grammars,
// falling back to whole-file filler chunks for unsupported languages or
// parse failures, so that the union of emitted byte ranges always equals
// the file's bytes (spec.md §4.4).
//
// The per-language sync.Pool of parsers and the ERROR-node tolerance are
// grounded in the teacher's pkg/ingestion/parser_treesitter.go
// (TreeSitterParser: goPool/pyPool/jsPool/tsPool, countErrors).
package chunker

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/sheeptech/crader/internal/errors"
	"github.com/sheeptech/crader/pkg/model"
)

// MaxFileSize is the size above which a file is treated as binary/opaque
// and chunked as a single filler, matching the teacher's truncation guard
// in parser_treesitter.go (TruncateCodeText) but applied pre-parse.
const MaxFileSize = 2 << 20 // 2 MiB

// Result is everything a single file parse contributes to a snapshot.
type Result struct {
	File     model.File
	Nodes    []model.ChunkNode
	Contents []model.ChunkContent
	Edges    []model.Edge
}

// Chunker parses file contents into chunks, pooling one tree-sitter
// parser instance per supported language to amortize grammar setup.
type Chunker struct {
	pools map[string]*sync.Pool
}

// New constructs a Chunker with a parser pool per entry in languageSpecs.
func New() *Chunker {
	c := &Chunker{pools: make(map[string]*sync.Pool, len(languageSpecs))}

	for lang, spec := range languageSpecs {
		spec := spec
		c.pools[lang] = &sync.Pool{
			New: func() any {
				p := sitter.NewParser()
				p.SetLanguage(spec.grammar)
				return p
			},
		}
	}

	return c
}

// ParseFile chunks one file's raw bytes. fileID/snapshotID are stamped
// onto the emitted nodes/file record. path is the repo-relative path.
func (c *Chunker) ParseFile(ctx context.Context, snapshotID, fileID, path string, raw []byte) (Result, error) {
	lang := LanguageForPath(path)

	file := model.File{
		ID:         fileID,
		SnapshotID: snapshotID,
		Path:       path,
		Language:   lang,
		SizeBytes:  int64(len(raw)),
		Category:   categorize(path),
	}
	file.FileHash = contentHash(raw)

	if len(raw) == 0 {
		file.ParsingStatus = model.ParsingSkipped
		file.ParsingError = "empty file"
		return Result{File: file}, nil
	}

	if looksBinary(raw) {
		file.ParsingStatus = model.ParsingSkipped
		file.ParsingError = "Binary content detected"
		return fillerResult(file, raw), nil
	}

	if len(raw) > MaxFileSize {
		file.ParsingStatus = model.ParsingSkipped
		file.ParsingError = fmt.Sprintf("file too large: %d bytes exceeds %d byte cap", len(raw), MaxFileSize)
		return fillerResult(file, raw), nil
	}

	text := toUTF8(raw)

	spec, ok := languageSpecs[lang]
	if !ok {
		file.ParsingStatus = model.ParsingSkipped
		file.ParsingError = fmt.Sprintf("unsupported language for %q", path)
		return fillerResult(file, raw), nil
	}

	pool := c.pools[lang]
	parser := pool.Get().(*sitter.Parser)
	defer pool.Put(parser)

	tree, err := parser.ParseCtx(ctx, nil, text)
	if err != nil {
		file.ParsingStatus = model.ParsingError
		file.ParsingError = err.Error()
		return fillerResult(file, raw), nil
	}
	defer tree.Close()

	root := tree.RootNode()

	p := &fileParser{
		spec:       spec,
		content:    text,
		path:       path,
		snapshotID: snapshotID,
		fileID:     fileID,
	}
	p.walk(root, "")

	file.ParsingStatus = model.ParsingSuccess

	covered := p.fillGaps(len(text))

	result := Result{File: file, Nodes: p.nodes, Contents: p.contentsOf(), Edges: p.edges}
	if !covered {
		return result, errors.Newf(errors.KindParse, "chunker.ParseFile", "coverage invariant violated for %s", path)
	}

	return result, nil
}

func fillerResult(file model.File, raw []byte) Result {
	hash := contentHash(raw)

	node := model.ChunkNode{
		ID:         fmt.Sprintf("%s:%s:0", file.SnapshotID, file.ID),
		SnapshotID: file.SnapshotID,
		FileID:    file.ID,
		FilePath:  file.Path,
		ChunkHash: hash,
		Type:      model.ChunkFiller,
		ByteRange: model.ByteRange{Start: 0, End: len(raw)},
	}

	return Result{
		File:     file,
		Nodes:    []model.ChunkNode{node},
		Contents: []model.ChunkContent{{ChunkHash: hash, Content: raw}},
	}
}

func contentHash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// looksBinary applies the standard NUL-byte-in-first-8KiB heuristic used
// by git and most diff tooling.
func looksBinary(b []byte) bool {
	probe := b
	if len(probe) > 8192 {
		probe = probe[:8192]
	}

	return bytes.IndexByte(probe, 0) >= 0
}

func toUTF8(b []byte) []byte {
	if utf8.Valid(b) {
		return b
	}

	return bytes.ToValidUTF8(b, []byte(string(utf8.RuneError))) // lossy-decodes via the UTF-8 replacement rune
}
