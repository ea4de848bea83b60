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

// Package gitvolume implements the Git Volume Manager (C1): it deduplicates
// fetches of the same remote onto a shared bare mirror, and materializes
// per-job worktrees protected by a cross-process file-lock.
//
// The subprocess-driving style is grounded in the teacher's
// pkg/tools/git.go (GitExecutor.Run: exec.CommandContext + captured
// stdout/stderr + context-aware timeout errors) and pkg/ingestion/delta.go
// (DeltaDetector shells out to `git diff --name-status`).
package gitvolume

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/sheeptech/crader/pkg/metadata"
)

// Manager owns a storage root containing two subtrees: cache/ (bare
// mirrors, one per repo_id) and workspaces/ (ephemeral per-job worktrees).
type Manager struct {
	root   string
	git    *runner
	logger *slog.Logger
}

// New creates a Manager rooted at root, creating the cache/ and
// workspaces/ subtrees if absent.
func New(root string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Join(root, "cache"), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	if err := os.MkdirAll(filepath.Join(root, "workspaces"), 0o755); err != nil {
		return nil, fmt.Errorf("create workspaces dir: %w", err)
	}

	return &Manager{root: root, git: newRunner(), logger: logger}, nil
}

func (m *Manager) mirrorPath(repoID string) string {
	return filepath.Join(m.root, "cache", repoID+".git")
}

func (m *Manager) lockPath(repoID string) string {
	return filepath.Join(m.root, "cache", repoID+".lock")
}

// EnsureMirror guarantees a bare mirror of url exists and is fresh,
// serialized per-repo by an exclusive file-lock held only for the
// duration of the clone/fetch (spec.md §4.1: "never during parsing, so
// concurrent jobs on different repos never contend").
func (m *Manager) EnsureMirror(ctx context.Context, url string) (string, error) {
	repoID := metadata.RepoID(url)
	mirror := m.mirrorPath(repoID)

	lock := newFileLock(m.lockPath(repoID))
	if err := lock.Lock(); err != nil {
		return "", wrapGitErr("gitvolume.EnsureMirror.lock", err)
	}
	defer lock.Unlock()

	if _, err := os.Stat(mirror); os.IsNotExist(err) {
		m.logger.Info("cloning mirror", "url", url, "repo_id", repoID)

		if _, err := m.git.runRetryOnce(ctx, "", "clone", "--mirror", url, mirror); err != nil {
			return "", wrapGitErr("gitvolume.EnsureMirror.clone", err)
		}

		return mirror, nil
	}

	m.logger.Info("fetching mirror", "url", url, "repo_id", repoID)

	if _, err := m.git.runRetryOnce(ctx, mirror, "fetch", "--all", "--prune"); err != nil {
		return "", wrapGitErr("gitvolume.EnsureMirror.fetch", err)
	}

	return mirror, nil
}

// ResolveHead returns the fully-resolved commit hash for branch on the
// mirror of url, after EnsureMirror has cloned (first sight) or fetched
// (every later call) the mirror.
func (m *Manager) ResolveHead(ctx context.Context, url, branch string) (string, error) {
	mirror, err := m.EnsureMirror(ctx, url)
	if err != nil {
		return "", err
	}

	ref := branch
	if ref == "" {
		ref = "HEAD"
	}

	out, err := m.git.run(ctx, mirror, "rev-parse", ref)
	if err != nil {
		return "", wrapGitErr("gitvolume.ResolveHead", err)
	}

	return out, nil
}

// Worktree is a scoped handle to an ephemeral checkout. Release must be
// called (typically via defer) at every call site; it removes the
// worktree directory even on error paths, matching the teacher's
// resource-handle idiom (gitlib.Blob.Free-style explicit release).
type Worktree struct {
	Path   string
	mirror string
	git    *runner
}

// Release removes the worktree from the owning mirror and deletes its
// directory, tolerating a mirror that has since disappeared.
func (w *Worktree) Release(ctx context.Context) error {
	if w == nil {
		return nil
	}

	_, _ = w.git.run(ctx, w.mirror, "worktree", "remove", "--force", w.Path)

	return os.RemoveAll(w.Path)
}

// CheckoutWorktree creates a detached worktree at commitOrBranch on top of
// mirror. The caller owns the returned handle and must call Release.
func (m *Manager) CheckoutWorktree(ctx context.Context, mirror, commitOrBranch string) (*Worktree, error) {
	id, err := randomID()
	if err != nil {
		return nil, fmt.Errorf("generate worktree id: %w", err)
	}

	path := filepath.Join(m.root, "workspaces", id)

	if _, err := m.git.run(ctx, mirror, "worktree", "add", "--detach", path, commitOrBranch); err != nil {
		return nil, wrapGitErr("gitvolume.CheckoutWorktree", err)
	}

	return &Worktree{Path: path, mirror: mirror, git: m.git}, nil
}

// CleanupOrphans removes worktree directories whose mtime exceeds maxAge
// and prunes the relevant mirror's worktree metadata.
func (m *Manager) CleanupOrphans(ctx context.Context, maxAge time.Duration) error {
	workspaces := filepath.Join(m.root, "workspaces")

	entries, err := os.ReadDir(workspaces)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("read workspaces dir: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)

	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}

		if info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(workspaces, entry.Name())
		m.logger.Info("removing orphaned worktree", "path", path, "mtime", info.ModTime())

		if err := os.RemoveAll(path); err != nil {
			m.logger.Warn("failed to remove orphaned worktree", "path", path, "error", err)
		}
	}

	mirrors, err := os.ReadDir(filepath.Join(m.root, "cache"))
	if err != nil {
		return nil
	}

	for _, entry := range mirrors {
		if filepath.Ext(entry.Name()) != ".git" {
			continue
		}

		mirror := filepath.Join(m.root, "cache", entry.Name())
		_, _ = m.git.run(ctx, mirror, "worktree", "prune")
	}

	return nil
}

func randomID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}

	return hex.EncodeToString(buf), nil
}
