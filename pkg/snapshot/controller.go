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
	"crypto/sha256"
	"encoding/hex"
	"os"
	"runtime"
	"time"

	craderrors "github.com/sheeptech/crader/internal/errors"
	"github.com/sheeptech/crader/pkg/metadata"
	"github.com/sheeptech/crader/pkg/model"
)

func defaultWorkerCount() int {
	if n := runtime.NumCPU() - 1; n > 0 {
		return n
	}
	return 1
}

func osTempDir() string {
	return os.TempDir()
}

// Index drives the full open -> prepare -> parse -> resolve -> embed ->
// activate state machine for req, returning the resulting snapshot. A
// phase failure transitions the snapshot to "failed" and prunes its rows
// rather than leaving it in "building" (spec.md §7: "never leaves a
// snapshot in building").
func (c *Controller) Index(ctx context.Context, req Request) (model.Snapshot, error) {
	snap, isNew, repo, err := c.open(ctx, req)
	if err != nil {
		return model.Snapshot{}, err
	}
	if !isNew {
		return snap, nil
	}

	wt, meta, err := c.prepareWorktree(ctx, req, repo)
	if err != nil {
		c.failSnapshot(ctx, snap.ID, err)
		return model.Snapshot{}, err
	}
	defer func() { _ = wt.Release(ctx) }()

	files, err := enumerateFiles(wt.Path, c.opts)
	if err != nil {
		c.failSnapshot(ctx, snap.ID, err)
		return model.Snapshot{}, err
	}

	if err := c.backend.TransitionSnapshot(ctx, snap.ID, model.SnapshotBuilding); err != nil {
		c.failSnapshot(ctx, snap.ID, err)
		return model.Snapshot{}, err
	}

	if err := c.parsePhase(ctx, snap.ID, repo.ID, wt.Path, files, req.WorkerInit); err != nil {
		c.failSnapshot(ctx, snap.ID, err)
		return model.Snapshot{}, err
	}

	if err := c.resolvePhase(ctx, snap.ID, wt.Path); err != nil {
		c.logger.Warn("resolve phase degraded", "snapshot_id", snap.ID, "err", err)
	}

	if c.embedder != nil {
		if err := c.embedder.EmbedSnapshot(ctx, c.backend, snap.ID); err != nil {
			c.logger.Warn("embed phase degraded", "snapshot_id", snap.ID, "err", err)
		}
	}

	if err := c.backend.TransitionSnapshot(ctx, snap.ID, model.SnapshotReady); err != nil {
		c.failSnapshot(ctx, snap.ID, err)
		return model.Snapshot{}, err
	}

	prevActive, err := c.backend.GetActiveSnapshot(ctx, repo.ID, meta.Branch)
	hadPrev := err == nil
	if err != nil && craderrors.Of(err) != craderrors.KindNotFound {
		c.logger.Warn("lookup previous active snapshot failed", "err", err)
	}

	if err := c.backend.ActivateSnapshot(ctx, snap.ID); err != nil {
		c.failSnapshot(ctx, snap.ID, err)
		return model.Snapshot{}, err
	}

	if req.AutoPrune && hadPrev && prevActive.ID != snap.ID {
		if err := c.backend.PruneSnapshot(ctx, prevActive.ID); err != nil {
			c.logger.Warn("auto-prune of superseded snapshot failed", "snapshot_id", prevActive.ID, "err", err)
		}
	}

	snap.State = model.SnapshotActive
	now := time.Now()
	snap.ActivatedAt = &now

	return snap, nil
}

// open resolves the repository and commit identity and either creates a
// new pending snapshot or short-circuits to the existing one, per spec.md
// §4.6's "open" step.
func (c *Controller) open(ctx context.Context, req Request) (model.Snapshot, bool, model.Repository, error) {
	url := req.URL
	if url == "" {
		url = req.LocalPath
	}

	repo := model.Repository{
		ID:        repoIDFor(req),
		URL:       req.URL,
		Name:      repoNameFor(req),
		CreatedAt: time.Now(),
	}

	if _, err := c.backend.EnsureRepository(ctx, repo); err != nil {
		return model.Snapshot{}, false, model.Repository{}, craderrors.New(craderrors.KindTransientStorage, "snapshot.open.EnsureRepository", err)
	}

	commit, branch, err := c.resolveCommit(ctx, req)
	if err != nil {
		return model.Snapshot{}, false, model.Repository{}, err
	}

	pending := model.Snapshot{
		ID:         snapshotIDFor(repo.ID, commit, branch),
		RepoID:     repo.ID,
		CommitHash: commit,
		Branch:     branch,
		State:      model.SnapshotPending,
		CreatedAt:  time.Now(),
	}

	snap, isNew, err := c.backend.CreateSnapshot(ctx, pending)
	if err != nil {
		return model.Snapshot{}, false, model.Repository{}, craderrors.New(craderrors.KindTransientStorage, "snapshot.open.CreateSnapshot", err)
	}

	if !isNew && !req.Force {
		c.logger.Info("snapshot already indexed", "snapshot_id", snap.ID, "repo_id", repo.ID, "commit", commit)
		return snap, false, repo, nil
	}

	if !isNew && req.Force {
		if err := c.backend.PruneSnapshot(ctx, snap.ID); err != nil {
			return model.Snapshot{}, false, model.Repository{}, craderrors.New(craderrors.KindPermanentStorage, "snapshot.open.PruneSnapshot", err)
		}

		snap, _, err = c.backend.CreateSnapshot(ctx, pending)
		if err != nil {
			return model.Snapshot{}, false, model.Repository{}, craderrors.New(craderrors.KindTransientStorage, "snapshot.open.CreateSnapshot.retry", err)
		}
	}

	repo.DefaultBranch = branch

	return snap, true, repo, nil
}

func (c *Controller) resolveCommit(ctx context.Context, req Request) (commit, branch string, err error) {
	if req.URL != "" {
		branch = req.Branch
		if branch == "" {
			// No branch named: snapshots are scoped by the literal
			// string "HEAD" rather than resolving a symbolic default,
			// per the Open Question decision recorded in DESIGN.md.
			branch = "HEAD"
		}

		head, err := c.gitvol.ResolveHead(ctx, req.URL, req.Branch)
		if err != nil {
			return "", "", craderrors.New(craderrors.KindGit, "snapshot.resolveCommit.ResolveHead", err)
		}

		return head, branch, nil
	}

	m, err := metadata.Resolve(ctx, req.LocalPath, "", req.Branch)
	if err != nil {
		return "", "", craderrors.New(craderrors.KindGit, "snapshot.resolveCommit.Resolve", err)
	}

	return m.CommitHash, m.Branch, nil
}

func (c *Controller) prepareWorktree(ctx context.Context, req Request, repo model.Repository) (*worktreeHandle, metadata.Metadata, error) {
	if req.URL != "" {
		mirror, err := c.gitvol.EnsureMirror(ctx, req.URL)
		if err != nil {
			return nil, metadata.Metadata{}, craderrors.New(craderrors.KindGit, "snapshot.prepareWorktree.EnsureMirror", err)
		}

		ref := req.Branch
		if ref == "" {
			ref = "HEAD"
		}

		wt, err := c.gitvol.CheckoutWorktree(ctx, mirror, ref)
		if err != nil {
			return nil, metadata.Metadata{}, craderrors.New(craderrors.KindGit, "snapshot.prepareWorktree.CheckoutWorktree", err)
		}

		m, err := metadata.Resolve(ctx, wt.Path, req.URL, req.Branch)
		if err != nil {
			_ = wt.Release(ctx)
			return nil, metadata.Metadata{}, craderrors.New(craderrors.KindGit, "snapshot.prepareWorktree.Resolve", err)
		}

		return &worktreeHandle{Path: wt.Path, release: wt.Release}, m, nil
	}

	m, err := metadata.Resolve(ctx, req.LocalPath, "", req.Branch)
	if err != nil {
		return nil, metadata.Metadata{}, craderrors.New(craderrors.KindGit, "snapshot.prepareWorktree.Resolve.local", err)
	}

	return &worktreeHandle{Path: req.LocalPath, release: func(context.Context) error { return nil }}, m, nil
}

// worktreeHandle abstracts over a gitvolume-managed worktree and a bare
// local directory, so the rest of the controller doesn't branch on
// req.URL being empty.
type worktreeHandle struct {
	Path    string
	release func(context.Context) error
}

func (w *worktreeHandle) Release(ctx context.Context) error {
	if w == nil || w.release == nil {
		return nil
	}
	return w.release(ctx)
}

func (c *Controller) failSnapshot(ctx context.Context, snapshotID string, cause error) {
	c.logger.Error("snapshot failed", "snapshot_id", snapshotID, "err", cause)

	if err := c.backend.TransitionSnapshot(ctx, snapshotID, model.SnapshotFailed); err != nil {
		c.logger.Error("failed to transition snapshot to failed", "snapshot_id", snapshotID, "err", err)
	}

	if err := c.backend.PruneSnapshot(ctx, snapshotID); err != nil {
		c.logger.Error("failed to prune failed snapshot", "snapshot_id", snapshotID, "err", err)
	}
}

// snapshotIDFor derives a stable snapshot id from its identity tuple, so
// that re-opening the same (repo, commit, branch) always resolves to the
// same row regardless of whether CreateSnapshot's own conflict detection
// fires.
func snapshotIDFor(repoID, commit, branch string) string {
	sum := sha256.Sum256([]byte(repoID + "|" + commit + "|" + branch))
	return hex.EncodeToString(sum[:])
}

func repoIDFor(req Request) string {
	if req.URL != "" {
		return metadata.RepoID(req.URL)
	}

	id, err := metadata.LocalRepoID(req.LocalPath)
	if err != nil {
		return metadata.RepoID(req.LocalPath)
	}

	return id
}

func repoNameFor(req Request) string {
	if req.URL != "" {
		return metadata.RepoName(req.URL)
	}

	return req.LocalPath
}
