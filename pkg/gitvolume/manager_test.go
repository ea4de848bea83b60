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

package gitvolume

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// initLocalRepo creates a minimal git repository with one commit on
// "main" and returns its path, for use as a same-machine "remote".
func initLocalRepo(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
		)
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}

	run("init", "--initial-branch=main")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello\n"), 0o644))
	run("add", "a.txt")
	run("commit", "-m", "initial")

	return dir
}

func TestEnsureMirrorCloneThenFetch(t *testing.T) {
	ctx := context.Background()
	remote := initLocalRepo(t)
	root := t.TempDir()

	mgr, err := New(root, nil)
	require.NoError(t, err)

	mirror1, err := mgr.EnsureMirror(ctx, remote)
	require.NoError(t, err)
	require.DirExists(t, mirror1)

	// Second call should fetch the existing mirror rather than re-clone.
	mirror2, err := mgr.EnsureMirror(ctx, remote)
	require.NoError(t, err)
	require.Equal(t, mirror1, mirror2)
}

func TestCheckoutWorktreeAndRelease(t *testing.T) {
	ctx := context.Background()
	remote := initLocalRepo(t)
	root := t.TempDir()

	mgr, err := New(root, nil)
	require.NoError(t, err)

	mirror, err := mgr.EnsureMirror(ctx, remote)
	require.NoError(t, err)

	wt, err := mgr.CheckoutWorktree(ctx, mirror, "main")
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(wt.Path, "a.txt"))

	require.NoError(t, wt.Release(ctx))
	require.NoDirExists(t, wt.Path)
}

func TestResolveHead(t *testing.T) {
	ctx := context.Background()
	remote := initLocalRepo(t)
	root := t.TempDir()

	mgr, err := New(root, nil)
	require.NoError(t, err)

	commit, err := mgr.ResolveHead(ctx, remote, "main")
	require.NoError(t, err)
	require.Len(t, commit, 40)
}

func TestCleanupOrphansRemovesStaleWorkspace(t *testing.T) {
	root := t.TempDir()

	mgr, err := New(root, nil)
	require.NoError(t, err)

	stale := filepath.Join(root, "workspaces", "stale")
	require.NoError(t, os.MkdirAll(stale, 0o755))

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	require.NoError(t, mgr.CleanupOrphans(context.Background(), 24*time.Hour))
	require.NoDirExists(t, stale)
}

func TestIsTransientClassification(t *testing.T) {
	require.True(t, isTransient("fatal: unable to access 'x': Could not resolve host: github.com"))
	require.True(t, isTransient("error: RPC failed; curl 18 transfer closed"))
	require.False(t, isTransient("fatal: repository 'x' does not exist"))
}
