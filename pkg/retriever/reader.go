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
	"bytes"
	"context"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	craderrors "github.com/sheeptech/crader/internal/errors"
	"github.com/sheeptech/crader/pkg/storage"
)

const (
	manifestCacheSize = 64
	contentCacheSize  = 256
)

// DirEntry is one child of a ListDirectory listing.
type DirEntry struct {
	Name string
	Type string // "file" or "dir"
}

// manifestNode is one directory's worth of a snapshot's file tree.
type manifestNode struct {
	isDir    bool
	children map[string]*manifestNode
}

// Reader exposes historical reads (C8b) against any snapshot id: whole-
// file reconstruction from ordered ChunkContent rows, and directory
// listing over a manifest derived from the snapshot's file rows.
// Per-process LRU caches bound both, matching spec.md §5's "in-memory
// caches in C8 ... are per-process and LRU-bounded".
type Reader struct {
	backend   storage.PooledConnector
	manifests *lru.Cache[string, *manifestNode]
	contents  *lru.Cache[string, []byte]
}

// NewReader constructs a Reader.
func NewReader(backend storage.PooledConnector) *Reader {
	manifests, _ := lru.New[string, *manifestNode](manifestCacheSize)
	contents, _ := lru.New[string, []byte](contentCacheSize)

	return &Reader{backend: backend, manifests: manifests, contents: contents}
}

// ReadFile reconstructs path's bytes within snapshotID from its ordered
// chunk contents (spec.md §4.8's C8b), optionally narrowed to
// [startLine, endLine] (1-based, inclusive; 0 means unbounded).
func (r *Reader) ReadFile(ctx context.Context, snapshotID, path string, startLine, endLine int) ([]byte, error) {
	full, err := r.readFullFile(ctx, snapshotID, path)
	if err != nil {
		return nil, err
	}

	if startLine <= 0 && endLine <= 0 {
		return full, nil
	}

	return sliceLines(full, startLine, endLine), nil
}

func (r *Reader) readFullFile(ctx context.Context, snapshotID, path string) ([]byte, error) {
	cacheKey := snapshotID + "|" + path
	if cached, ok := r.contents.Get(cacheKey); ok {
		return cached, nil
	}

	chunks, err := r.backend.ListFileChunks(ctx, snapshotID, path)
	if err != nil {
		return nil, err
	}

	if len(chunks) == 0 {
		return nil, craderrors.Newf(craderrors.KindNotFound, "retriever.ReadFile", "file %q not found in snapshot %s", path, snapshotID)
	}

	var buf bytes.Buffer
	for _, c := range chunks {
		buf.Write(c.Content)
	}

	full := buf.Bytes()
	r.contents.Add(cacheKey, full)

	return full, nil
}

// sliceLines returns the lines [start, end] (1-based, inclusive) of
// content; an unset bound (<=0) extends to the file's edge.
func sliceLines(content []byte, start, end int) []byte {
	lines := bytes.Split(content, []byte("\n"))

	if start <= 0 {
		start = 1
	}
	if end <= 0 || end > len(lines) {
		end = len(lines)
	}
	if start > len(lines) {
		return nil
	}

	return bytes.Join(lines[start-1:end], []byte("\n"))
}

// ListDirectory lists the immediate children of path (or the root when
// path is empty) within snapshotID's file manifest.
func (r *Reader) ListDirectory(ctx context.Context, snapshotID, path string) ([]DirEntry, error) {
	root, err := r.manifest(ctx, snapshotID)
	if err != nil {
		return nil, err
	}

	node := root
	if path != "" {
		for _, seg := range strings.Split(strings.Trim(path, "/"), "/") {
			child, ok := node.children[seg]
			if !ok {
				return nil, craderrors.Newf(craderrors.KindNotFound, "retriever.ListDirectory", "path %q not found in snapshot %s", path, snapshotID)
			}
			node = child
		}
	}

	if !node.isDir {
		return nil, craderrors.Newf(craderrors.KindInvalidArgument, "retriever.ListDirectory", "%q is not a directory", path)
	}

	entries := make([]DirEntry, 0, len(node.children))
	for name, child := range node.children {
		typ := "file"
		if child.isDir {
			typ = "dir"
		}
		entries = append(entries, DirEntry{Name: name, Type: typ})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	return entries, nil
}

// FindDirectories returns every directory path under snapshotID whose
// base name contains query (case-sensitive substring match).
func (r *Reader) FindDirectories(ctx context.Context, snapshotID, query string) ([]string, error) {
	root, err := r.manifest(ctx, snapshotID)
	if err != nil {
		return nil, err
	}

	var matches []string
	var walk func(node *manifestNode, prefix string)
	walk = func(node *manifestNode, prefix string) {
		for name, child := range node.children {
			if !child.isDir {
				continue
			}

			p := name
			if prefix != "" {
				p = prefix + "/" + name
			}

			if strings.Contains(name, query) {
				matches = append(matches, p)
			}

			walk(child, p)
		}
	}
	walk(root, "")

	sort.Strings(matches)

	return matches, nil
}

func (r *Reader) manifest(ctx context.Context, snapshotID string) (*manifestNode, error) {
	if cached, ok := r.manifests.Get(snapshotID); ok {
		return cached, nil
	}

	files, err := r.backend.ListFiles(ctx, snapshotID)
	if err != nil {
		return nil, err
	}

	root := &manifestNode{isDir: true, children: map[string]*manifestNode{}}
	for _, f := range files {
		insertPath(root, f.Path)
	}

	r.manifests.Add(snapshotID, root)

	return root, nil
}

func insertPath(root *manifestNode, path string) {
	segs := strings.Split(strings.Trim(path, "/"), "/")
	node := root

	for i, seg := range segs {
		isLast := i == len(segs)-1

		child, ok := node.children[seg]
		if !ok {
			child = &manifestNode{isDir: !isLast, children: map[string]*manifestNode{}}
			node.children[seg] = child
		}

		node = child
	}
}
