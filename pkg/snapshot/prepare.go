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
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	craderrors "github.com/sheeptech/crader/internal/errors"
)

// blockedDirs mirrors the teacher's blocklist pattern (pkg/ingestion's
// exclude-globs handling) generalized to spec.md §4.6's fixed default set.
var blockedDirs = map[string]struct{}{
	".git":         {},
	"node_modules": {},
	"dist":         {},
	"build":        {},
	"venv":         {},
	".venv":        {},
	"vendor":       {},
	"__pycache__":  {},
}

// candidateFile is one enumerated file awaiting the parse phase.
type candidateFile struct {
	Path string // repo-relative, forward-slash separated
	Abs  string
}

// enumerateFiles lists worktreeRoot's tracked and untracked-but-not-ignored
// files (git ls-files semantics, per spec.md §4.6's "prepare" step),
// dropping blocked directories, symlinks, and files over opts.MaxFileSize.
func enumerateFiles(worktreeRoot string, opts Options) ([]candidateFile, error) {
	out, err := runGitLsFiles(worktreeRoot)
	if err != nil {
		return nil, craderrors.New(craderrors.KindGit, "snapshot.enumerateFiles", err)
	}

	var files []candidateFile

	for _, rel := range out {
		rel = filepath.ToSlash(rel)
		if isBlocked(rel, opts.ExcludeGlobs) {
			continue
		}

		abs := filepath.Join(worktreeRoot, rel)

		info, err := os.Lstat(abs)
		if err != nil {
			continue // raced with a concurrent delete in the worktree; skip
		}

		if info.Mode()&os.ModeSymlink != 0 {
			continue
		}

		if info.Size() > opts.MaxFileSize {
			continue
		}

		files = append(files, candidateFile{Path: rel, Abs: abs})
	}

	return files, nil
}

func isBlocked(relPath string, extraGlobs []string) bool {
	parts := strings.Split(relPath, "/")
	for _, p := range parts {
		if _, blocked := blockedDirs[p]; blocked {
			return true
		}
	}

	for _, pattern := range extraGlobs {
		if ok, _ := filepath.Match(pattern, relPath); ok {
			return true
		}
	}

	return false
}

// runGitLsFiles lists cached (tracked) and other (untracked, non-ignored)
// files, matching spec.md §4.6's "Git's tracked list plus untracked
// working-copy files ... gitignore enforcement (git ls-files semantics)".
func runGitLsFiles(worktreeRoot string) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "ls-files", "--cached", "--others", "--exclude-standard")
	cmd.Dir = worktreeRoot

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git ls-files: %s: %w", strings.TrimSpace(stderr.String()), err)
	}

	lines := strings.Split(stdout.String(), "\n")
	files := make([]string, 0, len(lines))

	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l != "" {
			files = append(files, l)
		}
	}

	return files, nil
}

// shard splits files into batches of opts.ShardSize files each (spec.md
// §4.6: "shard files into chunks of ~50-200 files").
func shardFiles(files []candidateFile, shardSize int) [][]candidateFile {
	if shardSize <= 0 {
		shardSize = 100
	}

	var shards [][]candidateFile
	for i := 0; i < len(files); i += shardSize {
		end := i + shardSize
		if end > len(files) {
			end = len(files)
		}
		shards = append(shards, files[i:end])
	}

	return shards
}
