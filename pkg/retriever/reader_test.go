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

//go:build cgo

package retriever

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sheeptech/crader/pkg/model"
	"github.com/sheeptech/crader/pkg/storage"
)

// seedReaderFixture builds a snapshot with two files under src/ and one at
// the repo root, so ListDirectory/FindDirectories have nested structure to
// walk.
func seedReaderFixture(t *testing.T) (storage.Backend, string) {
	t.Helper()

	backend, err := storage.NewEmbeddedBackend(storage.EmbeddedConfig{DataDir: t.TempDir(), Engine: "mem", EmbeddingDimensions: 2})
	require.NoError(t, err)
	require.NoError(t, backend.EnsureSchema(context.Background()))

	ctx := context.Background()

	_, err = backend.EnsureRepository(ctx, model.Repository{ID: "repo1", Name: "repo1"})
	require.NoError(t, err)

	snap, _, err := backend.CreateSnapshot(ctx, model.Snapshot{RepoID: "repo1", CommitHash: "c1", Branch: "HEAD"})
	require.NoError(t, err)

	conn, err := backend.NewSingleConnector(ctx)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.InsertFiles(ctx, []model.File{
		{ID: "file-readme", SnapshotID: snap.ID, Path: "README.md", Language: "markdown"},
		{ID: "file-main", SnapshotID: snap.ID, Path: "src/main.py", Language: "python"},
		{ID: "file-util", SnapshotID: snap.ID, Path: "src/utils/helpers.py", Language: "python"},
	}))

	nodes := []model.ChunkNode{
		{ID: "n0", SnapshotID: snap.ID, FileID: "file-main", FilePath: "src/main.py", ChunkHash: "hm0", Type: model.ChunkFunction, StartLine: 1, EndLine: 2},
		{ID: "n1", SnapshotID: snap.ID, FileID: "file-main", FilePath: "src/main.py", ChunkHash: "hm1", Type: model.ChunkFunction, StartLine: 3, EndLine: 5},
	}
	contents := []model.ChunkContent{
		{ChunkHash: "hm0", Content: []byte("def a():\n    pass\n")},
		{ChunkHash: "hm1", Content: []byte("def b():\n    return 1\n")},
	}
	require.NoError(t, conn.InsertChunks(ctx, nodes, contents))

	return backend, snap.ID
}

func TestReader_ReadFile_ReconstructsOrderedContent(t *testing.T) {
	backend, snapshotID := seedReaderFixture(t)
	defer backend.Close()

	r := NewReader(backend)

	content, err := r.ReadFile(context.Background(), snapshotID, "src/main.py", 0, 0)
	require.NoError(t, err)
	require.Equal(t, "def a():\n    pass\ndef b():\n    return 1\n", string(content))
}

func TestReader_ReadFile_LineRange(t *testing.T) {
	backend, snapshotID := seedReaderFixture(t)
	defer backend.Close()

	r := NewReader(backend)

	content, err := r.ReadFile(context.Background(), snapshotID, "src/main.py", 1, 1)
	require.NoError(t, err)
	require.Equal(t, "def a():", string(content))
}

func TestReader_ReadFile_NotFound(t *testing.T) {
	backend, snapshotID := seedReaderFixture(t)
	defer backend.Close()

	r := NewReader(backend)

	_, err := r.ReadFile(context.Background(), snapshotID, "missing.py", 0, 0)
	require.Error(t, err)
}

func TestReader_ListDirectory(t *testing.T) {
	backend, snapshotID := seedReaderFixture(t)
	defer backend.Close()

	r := NewReader(backend)

	root, err := r.ListDirectory(context.Background(), snapshotID, "")
	require.NoError(t, err)
	require.Equal(t, []DirEntry{
		{Name: "README.md", Type: "file"},
		{Name: "src", Type: "dir"},
	}, root)

	src, err := r.ListDirectory(context.Background(), snapshotID, "src")
	require.NoError(t, err)
	require.Equal(t, []DirEntry{
		{Name: "main.py", Type: "file"},
		{Name: "utils", Type: "dir"},
	}, src)
}

func TestReader_ListDirectory_NotFound(t *testing.T) {
	backend, snapshotID := seedReaderFixture(t)
	defer backend.Close()

	r := NewReader(backend)

	_, err := r.ListDirectory(context.Background(), snapshotID, "nope")
	require.Error(t, err)
}

func TestReader_FindDirectories(t *testing.T) {
	backend, snapshotID := seedReaderFixture(t)
	defer backend.Close()

	r := NewReader(backend)

	dirs, err := r.FindDirectories(context.Background(), snapshotID, "util")
	require.NoError(t, err)
	require.Equal(t, []string{"src/utils"}, dirs)
}
