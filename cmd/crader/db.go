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

package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/sheeptech/crader/pkg/storage"
)

// runDB dispatches crader's `db` subcommands. Only `upgrade` is defined by
// spec.md §6; any other subcommand is an error.
func runDB(args []string, globals GlobalFlags) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: crader db upgrade [--db-url <u>]")
		return 1
	}

	switch args[0] {
	case "upgrade":
		return runDBUpgrade(args[1:], globals)
	default:
		fmt.Fprintf(os.Stderr, "Unknown db subcommand: %s\n", args[0])
		return 1
	}
}

// runDBUpgrade implements `crader db upgrade [--db-url <u>]`: runs schema
// migrations to head, exiting 0/1.
func runDBUpgrade(args []string, globals GlobalFlags) int {
	fs := flag.NewFlagSet("db upgrade", flag.ContinueOnError)
	dbURL := fs.String("db-url", "", "Postgres DSN (default: $CRADER_DB_URL)")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	dsn := *dbURL
	if dsn == "" {
		dsn = os.Getenv("CRADER_DB_URL")
	}
	if dsn == "" {
		logError(globals, "no --db-url given and CRADER_DB_URL is unset")
		return 1
	}

	if err := storage.Upgrade(dsn); err != nil {
		logError(globals, "%v", err)
		return 1
	}

	logInfo(globals, "schema upgraded to head")
	return 0
}
