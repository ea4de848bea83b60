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

package snapshot

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sheeptech/crader/pkg/chunker"
	"github.com/sheeptech/crader/pkg/gitvolume"
	"github.com/sheeptech/crader/pkg/model"
	"github.com/sheeptech/crader/pkg/storage"
)

// initTestRepo creates a throwaway git repository with one committed Go
// file, matching the teacher's own git-fixture style used by
// pkg/gitvolume's tests.
func initTestRepo(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	runGit(t, dir, "init")
	runGit(t, dir, "config", "user.email", "test@example.com")
	runGit(t, dir, "config", "user.name", "Test")

	src := "package greet\n\nfunc Hello() string {\n\treturn \"hi\"\n}\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "greet.go"), []byte(src), 0o644))

	runGit(t, dir, "add", "greet.go")
	runGit(t, dir, "commit", "-m", "initial")

	return dir
}

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()

	cmd := exec.Command("git", args...)
	cmd.Dir = dir

	out, err := cmd.CombinedOutput()
	require.NoErrorf(t, err, "git %v: %s", args, out)
}

func newTestController(t *testing.T) *Controller {
	t.Helper()

	backend, err := storage.NewEmbeddedBackend(storage.EmbeddedConfig{DataDir: t.TempDir(), Engine: "mem"})
	require.NoError(t, err)
	require.NoError(t, backend.EnsureSchema(context.Background()))

	gitvol, err := gitvolume.New(t.TempDir(), nil)
	require.NoError(t, err)

	return New(gitvol, backend, chunker.New(), nil, Options{SymtabRoot: t.TempDir()}, nil)
}

func TestIndex_LocalRepo_ActivatesSnapshot(t *testing.T) {
	ctrl := newTestController(t)
	repoDir := initTestRepo(t)

	snap, err := ctrl.Index(context.Background(), Request{LocalPath: repoDir})
	require.NoError(t, err)
	require.Equal(t, model.SnapshotActive, snap.State)
	require.NotEmpty(t, snap.ID)
	require.NotEmpty(t, snap.CommitHash)
}

func TestIndex_SameCommit_ShortCircuitsWithoutForce(t *testing.T) {
	ctrl := newTestController(t)
	repoDir := initTestRepo(t)

	first, err := ctrl.Index(context.Background(), Request{LocalPath: repoDir})
	require.NoError(t, err)

	second, err := ctrl.Index(context.Background(), Request{LocalPath: repoDir})
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID)
}

func TestIndex_Force_ReindexesSameCommit(t *testing.T) {
	ctrl := newTestController(t)
	repoDir := initTestRepo(t)

	first, err := ctrl.Index(context.Background(), Request{LocalPath: repoDir})
	require.NoError(t, err)

	second, err := ctrl.Index(context.Background(), Request{LocalPath: repoDir, Force: true})
	require.NoError(t, err)

	// Snapshot identity is a pure function of (repo, commit, branch), so a
	// forced re-index reuses the same snapshot row rather than minting a
	// new one.
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, model.SnapshotActive, second.State)
}
