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
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	craderrors "github.com/sheeptech/crader/internal/errors"
	"github.com/sheeptech/crader/pkg/model"
	"github.com/sheeptech/crader/pkg/storage"
)

// parsePhase shards files across opts.WorkerCount workers, each owning an
// independent SingleConnector (spec.md §5: "no shared connection across
// processes"), and fails the snapshot if more than
// opts.ShardFailureThreshold of shards error out.
func (c *Controller) parsePhase(ctx context.Context, snapshotID, repoID, worktreeRoot string, files []candidateFile, workerInit func(int) error) error {
	shards := shardFiles(files, c.opts.ShardSize)
	if len(shards) == 0 {
		return nil
	}

	jobs := make(chan int, len(shards))
	for i := range shards {
		jobs <- i
	}
	close(jobs)

	var shardFailures int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.WorkerCount)

	for w := 0; w < c.opts.WorkerCount; w++ {
		workerID := w

		g.Go(func() error {
			if workerInit != nil {
				if err := workerInit(workerID); err != nil {
					return craderrors.New(craderrors.KindConfig, "snapshot.parsePhase.WorkerInit", err)
				}
			}

			conn, err := c.backend.NewSingleConnector(gctx)
			if err != nil {
				return craderrors.New(craderrors.KindTransientStorage, "snapshot.parsePhase.NewSingleConnector", err)
			}
			defer conn.Close()

			for idx := range jobs {
				if err := c.parseShard(gctx, conn, snapshotID, repoID, worktreeRoot, shards[idx]); err != nil {
					c.logger.Warn("shard failed", "snapshot_id", snapshotID, "shard", idx, "err", err)
					atomic.AddInt32(&shardFailures, 1)
				}
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	failureRate := float64(shardFailures) / float64(len(shards))
	if failureRate > c.opts.ShardFailureThreshold {
		return craderrors.Newf(craderrors.KindPermanentStorage, "snapshot.parsePhase",
			"%d/%d shards failed (%.1f%%, threshold %.1f%%)", shardFailures, len(shards), failureRate*100, c.opts.ShardFailureThreshold*100)
	}

	return nil
}

// parseShard parses every file in one shard and flushes the results
// through conn. A file-level parse error is recorded on that file's row
// (parsing_status=error) and does not fail the shard; only a storage
// write error does.
func (c *Controller) parseShard(ctx context.Context, conn storage.SingleConnector, snapshotID, repoID, worktreeRoot string, shard []candidateFile) error {
	var (
		files    []model.File
		nodes    []model.ChunkNode
		contents []model.ChunkContent
		edges    []model.Edge
		docs     []model.SearchDoc
	)

	for _, f := range shard {
		fileID := deriveFileID(snapshotID, f.Path)

		raw, err := os.ReadFile(f.Abs)
		if err != nil {
			files = append(files, model.File{
				ID:            fileID,
				SnapshotID:    snapshotID,
				Path:          f.Path,
				ParsingStatus: model.ParsingError,
				ParsingError:  err.Error(),
			})
			continue
		}

		result, err := c.chunker.ParseFile(ctx, snapshotID, fileID, f.Path, raw)
		if err != nil && craderrors.Of(err) != craderrors.KindParse {
			return err // a non-parse error (e.g. context cancellation) fails the shard
		}

		files = append(files, result.File)
		nodes = append(nodes, result.Nodes...)
		contents = append(contents, result.Contents...)
		edges = append(edges, result.Edges...)

		for i, n := range result.Nodes {
			docs = append(docs, buildSearchDoc(n, result.Contents[i]))
		}
	}

	if len(files) > 0 {
		if err := conn.InsertFiles(ctx, files); err != nil {
			return err
		}
	}

	if len(nodes) > 0 {
		if err := conn.InsertChunks(ctx, nodes, contents); err != nil {
			return err
		}
	}

	if len(edges) > 0 {
		if err := conn.InsertEdges(ctx, edges); err != nil {
			return err
		}
	}

	if len(docs) > 0 {
		if err := conn.IndexSearchDocs(ctx, repoID, snapshotID, docs); err != nil {
			return err
		}
	}

	return nil
}

// buildSearchDoc projects a chunk node plus its content into the sparse
// search index's document shape (spec.md §6 search_index: node_id,
// file_path, tags, content).
func buildSearchDoc(n model.ChunkNode, content model.ChunkContent) model.SearchDoc {
	tags := strings.Join([]string{string(n.Type), n.FilePath}, " ")

	return model.SearchDoc{
		NodeID:   n.ID,
		FilePath: n.FilePath,
		Tags:     tags,
		Content:  string(content.Content),
	}
}

func deriveFileID(snapshotID, path string) string {
	sum := sha256.Sum256([]byte(snapshotID + ":" + path))
	return hex.EncodeToString(sum[:])
}
