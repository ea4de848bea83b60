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

// Package main implements the crader CLI.
//
// Usage:
//
//	crader index <repo_url> [--branch <b>] [--db-url <u>] [--force] [--auto-prune]
//	crader db upgrade [--db-url <u>]
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"
)

var (
	version = "dev"
	commit  = "unknown"
)

// GlobalFlags holds flags that apply to every subcommand.
type GlobalFlags struct {
	Verbose int
	Quiet   bool
	JSON    bool
}

func logInfo(g GlobalFlags, format string, args ...any) {
	if !g.Quiet && g.Verbose >= 1 {
		fmt.Fprintf(os.Stderr, "[INFO] "+format+"\n", args...)
	}
}

func logDebug(g GlobalFlags, format string, args ...any) {
	if g.Verbose >= 2 {
		fmt.Fprintf(os.Stderr, "[DEBUG] "+format+"\n", args...)
	}
}

func logError(g GlobalFlags, format string, args ...any) {
	if !g.Quiet {
		fmt.Fprintf(os.Stderr, "[ERROR] "+format+"\n", args...)
	}
}

func main() {
	var (
		showVersion = flag.BoolP("version", "V", false, "Show version and exit")
		verbose     = flag.CountP("verbose", "v", "Increase verbosity (-v for info, -vv for debug)")
		quiet       = flag.BoolP("quiet", "q", false, "Suppress non-essential output")
		jsonOutput  = flag.Bool("json", false, "Output in JSON format")
	)

	flag.SetInterspersed(false)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `crader - semantic code knowledge graph indexer

Usage:
  crader index <repo_url> [--branch <b>] [--db-url <u>] [--force] [--auto-prune]
  crader db upgrade [--db-url <u>]

Global Options:
  -v, --verbose   Increase verbosity (-v for info, -vv for debug)
  -q, --quiet     Suppress non-essential output
  --json          Output in JSON format
  -V, --version   Show version and exit

Environment:
  CRADER_DB_URL    Postgres DSN; supplies --db-url when absent
  REPO_VOLUME      Git volume manager's storage root
  OPENAI_API_KEY   Embedding provider credential
`)
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("crader version %s (%s)\n", version, commit)
		os.Exit(0)
	}

	globals := GlobalFlags{Verbose: *verbose, Quiet: *quiet, JSON: *jsonOutput}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	command := args[0]
	cmdArgs := args[1:]

	var code int
	switch command {
	case "index":
		code = runIndex(cmdArgs, globals)
	case "db":
		code = runDB(cmdArgs, globals)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		flag.Usage()
		code = 1
	}

	os.Exit(code)
}
