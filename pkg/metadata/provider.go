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

// Package metadata derives the stable repository identity and resolves
// commit/branch metadata for a worktree, per spec.md §4.3 (C3).
package metadata

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"os/exec"
	"path/filepath"
	"strings"
)

// Metadata is the identity tuple derived for one indexing job.
type Metadata struct {
	RepoID     string
	CommitHash string
	Branch     string
	Name       string
	URL        string
}

// RepoID derives the stable 128-bit (as 32 hex chars) identity of a
// repository from its sanitized canonical remote URL. Userinfo
// (user:pass@) is stripped before hashing so that the same repo cloned
// with different credentials, or from http vs https with embedded auth,
// always yields the same id (spec.md invariant #2).
//
// This is a pure function: same input, same output, forever. It must
// never be re-derived differently across runs (spec.md §9 Open Question:
// the implementer enforces determinism even where the original source did
// not).
func RepoID(rawURL string) string {
	canonical := sanitizeURL(rawURL)
	sum := sha256.Sum256([]byte(canonical))

	return hex.EncodeToString(sum[:16])
}

// LocalRepoID derives the stable id for a remoteless (local-only) tree
// from its absolute, cleaned path.
func LocalRepoID(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path: %w", err)
	}

	clean := filepath.Clean(abs)
	sum := sha256.Sum256([]byte("local:" + clean))

	return hex.EncodeToString(sum[:16]), nil
}

// sanitizeURL strips userinfo and the scheme, and normalizes the host+path
// pair that forms the canonical remote identity, so https://, ssh:// and
// scp-style remotes of the same repository agree. Unparseable input (e.g.
// an scp-style "git@host:path" URL) is normalized by hand since net/url
// doesn't parse it as a URL.
func sanitizeURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimSuffix(trimmed, "/")
	trimmed = strings.TrimSuffix(trimmed, ".git")

	if u, err := url.Parse(trimmed); err == nil && u.Host != "" {
		return strings.ToLower(u.Host) + u.Path
	}

	// scp-style: [user@]host:path
	if idx := strings.Index(trimmed, "@"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}

	host, path, _ := strings.Cut(trimmed, ":")

	return strings.ToLower(host) + "/" + strings.TrimPrefix(path, "/")
}

// RepoName extracts a human-readable repo name from a URL, e.g.
// "https://github.com/org/repo.git" -> "repo".
func RepoName(rawURL string) string {
	trimmed := strings.TrimSuffix(strings.TrimSpace(rawURL), "/")
	trimmed = strings.TrimSuffix(trimmed, ".git")

	parts := strings.FieldsFunc(trimmed, func(r rune) bool { return r == '/' || r == ':' })
	if len(parts) == 0 {
		return trimmed
	}

	return parts[len(parts)-1]
}

// Resolve produces the full identity tuple for a worktree: the resolved
// HEAD commit hash, the current branch name, and the repo id derived from
// the given remote URL (or the worktree's own path, if url is empty).
func Resolve(ctx context.Context, worktreePath, remoteURL, branch string) (Metadata, error) {
	commit, err := resolveHead(ctx, worktreePath)
	if err != nil {
		return Metadata{}, fmt.Errorf("resolve HEAD: %w", err)
	}

	repoID := ""
	name := ""

	if remoteURL != "" {
		repoID = RepoID(remoteURL)
		name = RepoName(remoteURL)
	} else {
		repoID, err = LocalRepoID(worktreePath)
		if err != nil {
			return Metadata{}, err
		}

		name = filepath.Base(filepath.Clean(worktreePath))
	}

	if branch == "" {
		branch, err = resolveBranch(ctx, worktreePath)
		if err != nil {
			return Metadata{}, fmt.Errorf("resolve branch: %w", err)
		}
	}

	return Metadata{
		RepoID:     repoID,
		CommitHash: commit,
		Branch:     branch,
		Name:       name,
		URL:        remoteURL,
	}, nil
}

func resolveHead(ctx context.Context, worktreePath string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "HEAD")
	cmd.Dir = worktreePath

	out, err := cmd.Output()
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(string(out)), nil
}

func resolveBranch(ctx context.Context, worktreePath string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--abbrev-ref", "HEAD")
	cmd.Dir = worktreePath

	out, err := cmd.Output()
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(string(out)), nil
}
