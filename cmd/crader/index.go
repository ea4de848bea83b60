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
	"context"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/sheeptech/crader/pkg/chunker"
	"github.com/sheeptech/crader/pkg/config"
	"github.com/sheeptech/crader/pkg/embedding"
	"github.com/sheeptech/crader/pkg/gitvolume"
	"github.com/sheeptech/crader/pkg/observability"
	"github.com/sheeptech/crader/pkg/snapshot"
	"github.com/sheeptech/crader/pkg/storage"
)

// runIndex implements `crader index <repo_url> [--branch <b>] [--db-url
// <u>] [--force] [--auto-prune]` (spec.md §6): exits 0 printing the
// snapshot id on success, 1 with a single error line on failure.
func runIndex(args []string, globals GlobalFlags) int {
	fs := flag.NewFlagSet("index", flag.ContinueOnError)
	branch := fs.String("branch", "", "Branch to index (default: repository's default branch)")
	dbURL := fs.String("db-url", "", "Postgres DSN (default: $CRADER_DB_URL, falling back to an embedded store)")
	force := fs.Bool("force", false, "Re-index even if this (repo, commit, branch) was already indexed")
	autoPrune := fs.Bool("auto-prune", false, "Physically remove the snapshot this run's activation supersedes")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: crader index <repo_url> [--branch <b>] [--db-url <u>] [--force] [--auto-prune]")
		return 1
	}
	repoURL := fs.Arg(0)

	cfg := config.DefaultConfig("")
	dsn := *dbURL
	if dsn == "" {
		dsn = os.Getenv("CRADER_DB_URL")
	}
	if dsn != "" {
		cfg.DB.Driver = "postgres"
		cfg.DB.URL = dsn
	}
	if vol := os.Getenv("REPO_VOLUME"); vol != "" {
		cfg.Indexing.RepoVolume = vol
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.Embedding.APIKey = key
	}
	if cfg.Indexing.RepoVolume == "" {
		cfg.Indexing.RepoVolume = ".crader/repos"
	}

	logger := observability.NewLogger(observability.LevelFromVerbosity(globals.Verbose), globals.JSON)
	ctx := context.Background()

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		logError(globals, "open storage backend: %v", err)
		return 1
	}
	defer backend.Close()

	if err := backend.EnsureSchema(ctx); err != nil {
		logError(globals, "ensure schema: %v", err)
		return 1
	}

	gitvol, err := gitvolume.New(cfg.Indexing.RepoVolume, logger)
	if err != nil {
		logError(globals, "open git volume: %v", err)
		return 1
	}

	var embedder snapshot.Embedder
	if cfg.Embedding.APIKey != "" {
		provider := embedding.NewOpenAIProvider(
			cfg.Embedding.APIKey, cfg.Embedding.Model,
			cfg.Embedding.MaxConcurrency, cfg.Embedding.MaxBatchSize,
		)
		embedder = embedding.New(provider, embedding.Options{PageSize: cfg.Embedding.PageSize}, logger)
	} else {
		logInfo(globals, "no OPENAI_API_KEY set; indexing without the embedding phase")
	}

	controller := snapshot.New(gitvol, backend, chunker.New(), embedder, snapshot.Options{
		WorkerCount:           cfg.Indexing.WorkerCount,
		ShardSize:             cfg.Indexing.ShardSize,
		ShardFailureThreshold: cfg.Indexing.ShardFailureThreshold,
		MaxFileSize:           cfg.Indexing.MaxFileSize,
		ExcludeGlobs:          cfg.Indexing.Exclude,
	}, logger)

	snap, err := controller.Index(ctx, snapshot.Request{
		URL:       repoURL,
		Branch:    *branch,
		Force:     *force,
		AutoPrune: *autoPrune,
	})
	if err != nil {
		logError(globals, "%v", err)
		return 1
	}

	fmt.Println(snap.ID)
	return 0
}

// openBackend selects the Postgres or embedded storage.Backend per cfg.DB,
// matching spec.md §6's "CRADER_DB_URL supplies --db-url when absent".
func openBackend(ctx context.Context, cfg *config.Config) (storage.Backend, error) {
	if cfg.DB.Driver == "postgres" {
		return storage.NewPooledPostgres(ctx, cfg.DB.URL)
	}

	dataDir := cfg.DB.DataDir
	if dataDir == "" {
		dataDir = ".crader/data"
	}

	return storage.NewEmbeddedBackend(storage.EmbeddedConfig{
		DataDir:             dataDir,
		Engine:              cfg.DB.Engine,
		EmbeddingDimensions: cfg.Embedding.Dimensions,
	})
}
