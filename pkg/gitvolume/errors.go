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
	"strings"

	craderrors "github.com/sheeptech/crader/internal/errors"
)

// transientMarkers are substrings of git's own stderr output that indicate
// a retryable network failure, as opposed to a permanent one (bad URL, auth
// failure, corrupt repo). Matches the teacher's stderr-substring error
// classification style in pkg/tools/git.go's Run.
var transientMarkers = []string{
	"could not resolve host",
	"connection reset",
	"connection refused",
	"early eof",
	"the remote end hung up unexpectedly",
	"rpc failed",
	"timed out",
	"temporary failure in name resolution",
}

// isTransient reports whether stderr output from a git invocation looks
// like a transient network failure worth retrying once (spec.md §4.1).
func isTransient(stderr string) bool {
	lower := strings.ToLower(stderr)
	for _, marker := range transientMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}

	return false
}

// wrapGitErr classifies a git subprocess failure as a GitFailure.
func wrapGitErr(op string, err error) error {
	if err == nil {
		return nil
	}

	return craderrors.New(craderrors.KindGit, op, err)
}
