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

// Package observability provides the process-wide structured logger and
// Prometheus metrics used across the indexing pipeline.
package observability

import (
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
)

// NewLogger builds the process-wide slog.Logger. Output is a JSON handler
// when asJSON is true or stdout is not a terminal (so piped/CI output stays
// machine-parseable); otherwise a human-readable text handler, matching the
// verbosity duality of the teacher's CLI (-v/-vv/--json).
func NewLogger(level slog.Level, asJSON bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if asJSON || !isatty.IsTerminal(os.Stdout.Fd()) {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

// LevelFromVerbosity maps the CLI's -v/-vv count to a slog.Level.
func LevelFromVerbosity(verbose int) slog.Level {
	switch {
	case verbose >= 2:
		return slog.LevelDebug
	case verbose == 1:
		return slog.LevelInfo
	default:
		return slog.LevelWarn
	}
}
