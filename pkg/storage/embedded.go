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

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	craderrors "github.com/sheeptech/crader/internal/errors"
	cozo "github.com/sheeptech/crader/pkg/cozodb"
	"github.com/sheeptech/crader/pkg/model"
)

// EmbeddedBackend implements Backend on a local CozoDB instance: the
// no-network, single-binary storage option. It is a direct descendant of
// the teacher's EmbeddedBackend (pkg/storage/embedded.go), with the
// Go-only cie_function/cie_type tables replaced by the spec's
// language-agnostic schema (repositories/snapshots/files/chunk_nodes/
// chunk_contents/edges/search_index/embeddings/staging_embeddings).
type EmbeddedBackend struct {
	db                  *cozo.CozoDB
	mu                  sync.RWMutex
	closed              bool
	embeddingDimensions int
}

// EmbeddedConfig configures the embedded backend.
type EmbeddedConfig struct {
	// DataDir is the directory where CozoDB stores its data.
	DataDir string
	// Engine is the CozoDB storage engine: "rocksdb", "sqlite", or "mem".
	Engine string
	// EmbeddingDimensions is the vector size for embeddings.
	EmbeddingDimensions int
}

// NewEmbeddedBackend opens (or creates) an embedded CozoDB-backed store.
func NewEmbeddedBackend(cfg EmbeddedConfig) (*EmbeddedBackend, error) {
	if cfg.Engine == "" {
		cfg.Engine = "rocksdb"
	}

	if cfg.DataDir == "" {
		return nil, craderrors.New(craderrors.KindConfig, "storage.NewEmbeddedBackend", fmt.Errorf("DataDir is required"))
	}

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return nil, craderrors.New(craderrors.KindConfig, "storage.NewEmbeddedBackend", fmt.Errorf("create data dir: %w", err))
	}

	db, err := cozo.New(cfg.Engine, cfg.DataDir, nil)
	if err != nil {
		return nil, craderrors.New(craderrors.KindConfig, "storage.NewEmbeddedBackend", fmt.Errorf("open cozodb: %w", err))
	}

	dim := cfg.EmbeddingDimensions
	if dim <= 0 {
		dim = 1536 // text-embedding-3-small
	}

	return &EmbeddedBackend{db: &db, embeddingDimensions: dim}, nil
}

// EnsureSchema creates the relations this backend needs if they don't
// already exist, and the HNSW index over embeddings.
func (b *EmbeddedBackend) EnsureSchema(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	tables := []string{
		`:create repositories { id: String => url: String, name: String, default_branch: String, created_at: Float }`,
		`:create snapshot_lookup { repo_id: String, commit_hash: String, branch: String => id: String }`,
		`:create snapshots { id: String => repo_id: String, commit_hash: String, branch: String, state: String, stats_json: String default '{}', created_at: Float, activated_at: Float default 0.0 }`,
		`:create files { id: String => snapshot_id: String, path: String, language: String, size_bytes: Int, category: String, file_hash: String, parsing_status: String, parsing_error: String default '' }`,
		`:create chunk_nodes { id: String => snapshot_id: String, file_id: String, file_path: String, chunk_hash: String, type: String, start_line: Int, end_line: Int, byte_start: Int, byte_end: Int, metadata_json: String default '{}', has_parse_errors: Bool default false }`,
		`:create chunk_ranges { snapshot_id: String, file_path: String, byte_start: Int, byte_end: Int => id: String }`,
		`:create chunk_contents { chunk_hash: String => content: Bytes }`,
		`:create edges { source_id: String, target_id: String, relation_type: String => metadata_json: String default '{}' }`,
		`:create search_index { node_id: String => snapshot_id: String, repo_id: String, file_path: String, tags: String, content: String }`,
		fmt.Sprintf(`:create embeddings { node_id: String, snapshot_id: String => vector_hash: String, model: String, embedding: <F32; %d> }`, b.embeddingDimensions),
		`:create staging_embeddings { snapshot_id: String, node_id: String => vector_hash: String, text: String, model: String }`,
	}

	for _, stmt := range tables {
		if _, err := b.db.Run(stmt, nil); err != nil {
			if isAlreadyExists(err) {
				continue
			}

			return craderrors.New(craderrors.KindPermanentStorage, "storage.EnsureSchema", err)
		}
	}

	idx := fmt.Sprintf(`::hnsw create embeddings:vector_idx { dim: %d, m: 16, ef_construction: 200, distance: Cosine, fields: [embedding] }`, b.embeddingDimensions)
	if _, err := b.db.Run(idx, nil); err != nil && !isAlreadyExists(err) {
		return craderrors.New(craderrors.KindPermanentStorage, "storage.EnsureSchema", err)
	}

	return nil
}

func isAlreadyExists(err error) bool {
	s := err.Error()
	return strings.Contains(s, "already exists") || strings.Contains(s, "conflicts with an existing one")
}

// Close closes the underlying database.
func (b *EmbeddedBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.closed = true
	b.db.Close()

	return nil
}

func (b *EmbeddedBackend) EnsureRepository(ctx context.Context, repo model.Repository) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	existing, err := b.db.RunReadOnly(`?[id] := *repositories{id}, id = $id`, map[string]any{"id": repo.ID})
	if err != nil {
		return false, craderrors.New(craderrors.KindTransientStorage, "storage.EnsureRepository", err)
	}

	if len(existing.Rows) > 0 {
		return false, nil
	}

	_, err = b.db.Run(
		`?[id, url, name, default_branch, created_at] <- [[$id, $url, $name, $branch, $created_at]]
		 :put repositories { id => url, name, default_branch, created_at }`,
		map[string]any{
			"id": repo.ID, "url": repo.URL, "name": repo.Name,
			"branch": repo.DefaultBranch, "created_at": float64(time.Now().Unix()),
		},
	)
	if err != nil {
		return false, craderrors.New(craderrors.KindTransientStorage, "storage.EnsureRepository", err)
	}

	return true, nil
}

func (b *EmbeddedBackend) CreateSnapshot(ctx context.Context, snap model.Snapshot) (model.Snapshot, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	existing, err := b.db.RunReadOnly(
		`?[id] := *snapshot_lookup{repo_id, commit_hash, branch, id}, repo_id = $repo_id, commit_hash = $commit_hash, branch = $branch`,
		map[string]any{"repo_id": snap.RepoID, "commit_hash": snap.CommitHash, "branch": snap.Branch},
	)
	if err != nil {
		return model.Snapshot{}, false, craderrors.New(craderrors.KindTransientStorage, "storage.CreateSnapshot", err)
	}

	if len(existing.Rows) > 0 {
		existingID, _ := existing.Rows[0][0].(string)
		return b.loadSnapshot(existingID)
	}

	statsJSON, err := json.Marshal(snap.Stats)
	if err != nil {
		return model.Snapshot{}, false, fmt.Errorf("marshal stats: %w", err)
	}

	params := map[string]any{
		"id": snap.ID, "repo_id": snap.RepoID, "commit_hash": snap.CommitHash, "branch": snap.Branch,
		"state": string(model.SnapshotPending), "stats_json": string(statsJSON),
		"created_at": float64(time.Now().Unix()),
	}

	if _, err := b.db.Run(
		`?[id, repo_id, commit_hash, branch, state, stats_json, created_at, activated_at] <-
		   [[$id, $repo_id, $commit_hash, $branch, $state, $stats_json, $created_at, 0.0]]
		 :put snapshots { id => repo_id, commit_hash, branch, state, stats_json, created_at, activated_at }`,
		params,
	); err != nil {
		return model.Snapshot{}, false, craderrors.New(craderrors.KindTransientStorage, "storage.CreateSnapshot", err)
	}

	if _, err := b.db.Run(
		`?[repo_id, commit_hash, branch, id] <- [[$repo_id, $commit_hash, $branch, $id]]
		 :put snapshot_lookup { repo_id, commit_hash, branch => id }`,
		params,
	); err != nil {
		return model.Snapshot{}, false, craderrors.New(craderrors.KindTransientStorage, "storage.CreateSnapshot", err)
	}

	snap.State = model.SnapshotPending

	return snap, true, nil
}

func (b *EmbeddedBackend) loadSnapshot(id string) (model.Snapshot, bool, error) {
	res, err := b.db.RunReadOnly(
		`?[id, repo_id, commit_hash, branch, state, stats_json, created_at, activated_at] :=
		   *snapshots{id, repo_id, commit_hash, branch, state, stats_json, created_at, activated_at}, id = $id`,
		map[string]any{"id": id},
	)
	if err != nil || len(res.Rows) == 0 {
		return model.Snapshot{}, false, craderrors.New(craderrors.KindNotFound, "storage.loadSnapshot", fmt.Errorf("snapshot %s not found", id))
	}

	row := res.Rows[0]
	snap := model.Snapshot{
		ID:         asString(row[0]),
		RepoID:     asString(row[1]),
		CommitHash: asString(row[2]),
		Branch:     asString(row[3]),
		State:      model.SnapshotState(asString(row[4])),
	}

	return snap, false, nil
}

func (b *EmbeddedBackend) TransitionSnapshot(ctx context.Context, snapshotID string, state model.SnapshotState) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap, _, err := b.loadSnapshot(snapshotID)
	if err != nil {
		return err
	}

	_, err = b.db.Run(
		`?[id, repo_id, commit_hash, branch, state] <- [[$id, $repo_id, $commit_hash, $branch, $state]]
		 :update snapshots { id => repo_id, commit_hash, branch, state }`,
		map[string]any{
			"id": snapshotID, "repo_id": snap.RepoID, "commit_hash": snap.CommitHash,
			"branch": snap.Branch, "state": string(state),
		},
	)
	if err != nil {
		return craderrors.New(craderrors.KindTransientStorage, "storage.TransitionSnapshot", err)
	}

	return nil
}

func (b *EmbeddedBackend) ActivateSnapshot(ctx context.Context, snapshotID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap, _, err := b.loadSnapshot(snapshotID)
	if err != nil {
		return err
	}

	prior, err := b.db.RunReadOnly(
		`?[id] := *snapshots{id, repo_id, branch, state}, repo_id = $repo_id, branch = $branch, state = "active"`,
		map[string]any{"repo_id": snap.RepoID, "branch": snap.Branch},
	)
	if err == nil {
		for _, row := range prior.Rows {
			_, _ = b.db.Run(
				`?[id, state] <- [[$id, "ready"]] :update snapshots { id => state }`,
				map[string]any{"id": asString(row[0])},
			)
		}
	}

	_, err = b.db.Run(
		`?[id, state, activated_at] <- [[$id, "active", $now]] :update snapshots { id => state, activated_at }`,
		map[string]any{"id": snapshotID, "now": float64(time.Now().Unix())},
	)
	if err != nil {
		return craderrors.New(craderrors.KindTransientStorage, "storage.ActivateSnapshot", err)
	}

	return nil
}

func (b *EmbeddedBackend) GetActiveSnapshot(ctx context.Context, repoID, branch string) (model.Snapshot, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	res, err := b.db.RunReadOnly(
		`?[id, commit_hash] := *snapshots{id, repo_id, branch, state, commit_hash}, repo_id = $repo_id, branch = $branch, state = "active"`,
		map[string]any{"repo_id": repoID, "branch": branch},
	)
	if err != nil {
		return model.Snapshot{}, craderrors.New(craderrors.KindTransientStorage, "storage.GetActiveSnapshot", err)
	}

	if len(res.Rows) == 0 {
		return model.Snapshot{}, craderrors.New(craderrors.KindNotFound, "storage.GetActiveSnapshot", fmt.Errorf("no active snapshot for %s@%s", repoID, branch))
	}

	return model.Snapshot{
		ID:         asString(res.Rows[0][0]),
		RepoID:     repoID,
		Branch:     branch,
		CommitHash: asString(res.Rows[0][1]),
		State:      model.SnapshotActive,
	}, nil
}

func (b *EmbeddedBackend) InsertEdges(ctx context.Context, edges []model.Edge) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.insertEdgesLocked(edges)
}

func (b *EmbeddedBackend) insertEdgesLocked(edges []model.Edge) error {
	for _, e := range edges {
		if e.SourceNodeID == e.TargetNodeID {
			continue
		}

		meta, _ := json.Marshal(e.Metadata)

		if _, err := b.db.Run(
			`?[source_id, target_id, relation_type, metadata_json] <- [[$s, $t, $r, $m]]
			 :put edges { source_id, target_id, relation_type => metadata_json }`,
			map[string]any{"s": e.SourceNodeID, "t": e.TargetNodeID, "r": string(e.RelationType), "m": string(meta)},
		); err != nil {
			return craderrors.New(craderrors.KindTransientStorage, "storage.InsertEdges", err)
		}
	}

	return nil
}

func (b *EmbeddedBackend) LookupNode(ctx context.Context, snapshotID, filePath string, r model.ByteRange) (string, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	res, err := b.db.RunReadOnly(
		`?[id] := *chunk_ranges{snapshot_id, file_path, byte_start, byte_end, id},
		   snapshot_id = $sid, file_path = $fp, byte_start = $start, byte_end = $end`,
		map[string]any{"sid": snapshotID, "fp": filePath, "start": r.Start, "end": r.End},
	)
	if err != nil {
		return "", false, craderrors.New(craderrors.KindTransientStorage, "storage.LookupNode", err)
	}

	if len(res.Rows) == 0 {
		return "", false, nil
	}

	return asString(res.Rows[0][0]), true, nil
}

func (b *EmbeddedBackend) StageEmbeddingText(ctx context.Context, snapshotID, nodeID, vectorHash, text, modelName string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, err := b.db.Run(
		`?[snapshot_id, node_id, vector_hash, text, model] <- [[$sid, $nid, $vh, $text, $model]]
		 :put staging_embeddings { snapshot_id, node_id => vector_hash, text, model }`,
		map[string]any{"sid": snapshotID, "nid": nodeID, "vh": vectorHash, "text": text, "model": modelName},
	)
	if err != nil {
		return craderrors.New(craderrors.KindTransientStorage, "storage.StageEmbeddingText", err)
	}

	return nil
}

func (b *EmbeddedBackend) BackfillFromVectorHash(ctx context.Context, snapshotID string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	staged, err := b.db.RunReadOnly(
		`?[node_id, vector_hash, model] := *staging_embeddings{snapshot_id, node_id, vector_hash, model}, snapshot_id = $sid`,
		map[string]any{"sid": snapshotID},
	)
	if err != nil {
		return 0, craderrors.New(craderrors.KindTransientStorage, "storage.BackfillFromVectorHash", err)
	}

	recovered := 0

	for _, row := range staged.Rows {
		nodeID, vectorHash, modelName := asString(row[0]), asString(row[1]), asString(row[2])

		prior, err := b.db.RunReadOnly(
			`?[embedding] := *embeddings{vector_hash, model, embedding}, vector_hash = $vh, model = $model :limit 1`,
			map[string]any{"vh": vectorHash, "model": modelName},
		)
		if err != nil || len(prior.Rows) == 0 {
			continue
		}

		if _, err := b.db.Run(
			`?[node_id, snapshot_id, vector_hash, model, embedding] <- [[$nid, $sid, $vh, $model, $emb]]
			 :put embeddings { node_id, snapshot_id => vector_hash, model, embedding }`,
			map[string]any{"nid": nodeID, "sid": snapshotID, "vh": vectorHash, "model": modelName, "emb": prior.Rows[0][0]},
		); err != nil {
			continue
		}

		_, _ = b.db.Run(
			`?[snapshot_id, node_id] <- [[$sid, $nid]] :rm staging_embeddings { snapshot_id, node_id }`,
			map[string]any{"sid": snapshotID, "nid": nodeID},
		)

		recovered++
	}

	return recovered, nil
}

func (b *EmbeddedBackend) NextStagingPage(ctx context.Context, snapshotID string, limit int) ([]StagingRow, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	res, err := b.db.RunReadOnly(
		fmt.Sprintf(`?[node_id, vector_hash, text, model] := *staging_embeddings{snapshot_id, node_id, vector_hash, text, model}, snapshot_id = $sid :limit %d`, limit),
		map[string]any{"sid": snapshotID},
	)
	if err != nil {
		return nil, craderrors.New(craderrors.KindTransientStorage, "storage.NextStagingPage", err)
	}

	rows := make([]StagingRow, 0, len(res.Rows))
	for _, row := range res.Rows {
		rows = append(rows, StagingRow{
			NodeID: asString(row[0]), VectorHash: asString(row[1]),
			Text: asString(row[2]), Model: asString(row[3]),
		})
	}

	return rows, nil
}

func (b *EmbeddedBackend) CommitEmbeddings(ctx context.Context, vectors []model.EmbeddingVector) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, v := range vectors {
		vec := make([]any, len(v.Vector))
		for i, f := range v.Vector {
			vec[i] = f
		}

		if _, err := b.db.Run(
			`?[node_id, snapshot_id, vector_hash, model, embedding] <- [[$nid, $sid, $vh, $model, $emb]]
			 :put embeddings { node_id, snapshot_id => vector_hash, model, embedding }`,
			map[string]any{"nid": v.NodeID, "sid": v.SnapshotID, "vh": v.VectorHash, "model": v.Model, "emb": vec},
		); err != nil {
			return craderrors.New(craderrors.KindTransientStorage, "storage.CommitEmbeddings", err)
		}

		_, _ = b.db.Run(
			`?[snapshot_id, node_id] <- [[$sid, $nid]] :rm staging_embeddings { snapshot_id, node_id }`,
			map[string]any{"sid": v.SnapshotID, "nid": v.NodeID},
		)
	}

	return nil
}

func (b *EmbeddedBackend) ListSnapshotChunks(ctx context.Context, snapshotID string) ([]ChunkWithContent, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	res, err := b.db.RunReadOnly(
		`?[id, file_id, file_path, chunk_hash, type, start_line, end_line, byte_start, byte_end, content] :=
		   *chunk_nodes{id, snapshot_id, file_id, file_path, chunk_hash, type, start_line, end_line, byte_start, byte_end},
		   snapshot_id = $sid,
		   *chunk_contents{chunk_hash, content}`,
		map[string]any{"sid": snapshotID},
	)
	if err != nil {
		return nil, craderrors.New(craderrors.KindTransientStorage, "storage.ListSnapshotChunks", err)
	}

	out := make([]ChunkWithContent, 0, len(res.Rows))
	for _, row := range res.Rows {
		text, _ := row[9].(string)

		out = append(out, ChunkWithContent{
			Node: model.ChunkNode{
				ID: asString(row[0]), SnapshotID: snapshotID, FileID: asString(row[1]),
				FilePath: asString(row[2]), ChunkHash: asString(row[3]), Type: model.ChunkType(asString(row[4])),
				StartLine: asInt(row[5]), EndLine: asInt(row[6]),
				ByteRange: model.ByteRange{Start: asInt(row[7]), End: asInt(row[8])},
			},
			Content: []byte(text),
		})
	}

	return out, nil
}

func (b *EmbeddedBackend) ListFileChunks(ctx context.Context, snapshotID, filePath string) ([]ChunkWithContent, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	res, err := b.db.RunReadOnly(
		`?[id, file_id, chunk_hash, type, start_line, end_line, byte_start, byte_end, content] :=
		   *chunk_nodes{id, snapshot_id, file_id, file_path, chunk_hash, type, start_line, end_line, byte_start, byte_end},
		   snapshot_id = $sid, file_path = $path,
		   *chunk_contents{chunk_hash, content}
		 :order start_line`,
		map[string]any{"sid": snapshotID, "path": filePath},
	)
	if err != nil {
		return nil, craderrors.New(craderrors.KindTransientStorage, "storage.ListFileChunks", err)
	}

	out := make([]ChunkWithContent, 0, len(res.Rows))
	for _, row := range res.Rows {
		text, _ := row[8].(string)

		out = append(out, ChunkWithContent{
			Node: model.ChunkNode{
				ID: asString(row[0]), SnapshotID: snapshotID, FileID: asString(row[1]),
				FilePath: filePath, ChunkHash: asString(row[2]), Type: model.ChunkType(asString(row[3])),
				StartLine: asInt(row[4]), EndLine: asInt(row[5]),
				ByteRange: model.ByteRange{Start: asInt(row[6]), End: asInt(row[7])},
			},
			Content: []byte(text),
		})
	}

	return out, nil
}

func (b *EmbeddedBackend) ListFiles(ctx context.Context, snapshotID string) ([]model.File, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	res, err := b.db.RunReadOnly(
		`?[id, path, language, size_bytes, category, file_hash, parsing_status, parsing_error] :=
		   *files{id, snapshot_id, path, language, size_bytes, category, file_hash, parsing_status, parsing_error},
		   snapshot_id = $sid`,
		map[string]any{"sid": snapshotID},
	)
	if err != nil {
		return nil, craderrors.New(craderrors.KindTransientStorage, "storage.ListFiles", err)
	}

	out := make([]model.File, 0, len(res.Rows))
	for _, row := range res.Rows {
		out = append(out, model.File{
			ID: asString(row[0]), SnapshotID: snapshotID, Path: asString(row[1]), Language: asString(row[2]),
			SizeBytes: int64(asInt(row[3])), Category: model.FileCategory(asString(row[4])),
			FileHash: asString(row[5]), ParsingStatus: model.ParsingStatus(asString(row[6])), ParsingError: asString(row[7]),
		})
	}

	return out, nil
}

func (b *EmbeddedBackend) CleanupStaging(ctx context.Context, snapshotID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, err := b.db.Run(
		`?[snapshot_id, node_id] := *staging_embeddings{snapshot_id, node_id}, snapshot_id = $sid :rm staging_embeddings {snapshot_id, node_id}`,
		map[string]any{"sid": snapshotID},
	)
	if err != nil {
		return craderrors.New(craderrors.KindTransientStorage, "storage.CleanupStaging", err)
	}

	return nil
}

func (b *EmbeddedBackend) SearchDense(ctx context.Context, repoID string, vector []float32, topK int) ([]ScoredDoc, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	vec := make([]any, len(vector))
	for i, f := range vector {
		vec[i] = f
	}

	res, err := b.db.RunReadOnly(
		fmt.Sprintf(`?[node_id, dist] := ~embeddings:vector_idx{node_id | query: $q, k: %d, ef: 50, bind_distance: dist},
		   *embeddings{node_id, snapshot_id}, *snapshots{id: snapshot_id, repo_id, state}, repo_id = $repo_id, state = "active"
		 :order dist :limit %d`, topK*4, topK),
		map[string]any{"q": vec, "repo_id": repoID},
	)
	if err != nil {
		return nil, craderrors.New(craderrors.KindTransientStorage, "storage.SearchDense", err)
	}

	out := make([]ScoredDoc, 0, len(res.Rows))
	for _, row := range res.Rows {
		dist, _ := row[1].(float64)
		out = append(out, ScoredDoc{NodeID: asString(row[0]), Score: 1.0 / (1.0 + dist)})
	}

	return out, nil
}

func (b *EmbeddedBackend) SearchSparse(ctx context.Context, repoID, query string, topK int) ([]ScoredDoc, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	res, err := b.db.RunReadOnly(
		fmt.Sprintf(`?[node_id] := *search_index{node_id, snapshot_id, repo_id, content}, repo_id = $repo_id, str_includes(content, $q),
		   *snapshots{id: snapshot_id, state}, state = "active"
		 :limit %d`, topK),
		map[string]any{"repo_id": repoID, "q": query},
	)
	if err != nil {
		return nil, craderrors.New(craderrors.KindTransientStorage, "storage.SearchSparse", err)
	}

	out := make([]ScoredDoc, 0, len(res.Rows))
	for i, row := range res.Rows {
		out = append(out, ScoredDoc{NodeID: asString(row[0]), Score: 1.0 / float64(i+1)})
	}

	return out, nil
}

func (b *EmbeddedBackend) GetNode(ctx context.Context, nodeID string) (model.ChunkNode, []byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	res, err := b.db.RunReadOnly(
		`?[id, snapshot_id, file_id, file_path, chunk_hash, type, start_line, end_line, byte_start, byte_end, has_parse_errors] :=
		   *chunk_nodes{id, snapshot_id, file_id, file_path, chunk_hash, type, start_line, end_line, byte_start, byte_end, has_parse_errors}, id = $id`,
		map[string]any{"id": nodeID},
	)
	if err != nil || len(res.Rows) == 0 {
		return model.ChunkNode{}, nil, craderrors.New(craderrors.KindNotFound, "storage.GetNode", fmt.Errorf("node %s not found", nodeID))
	}

	row := res.Rows[0]
	node := model.ChunkNode{
		ID: asString(row[0]), SnapshotID: asString(row[1]), FileID: asString(row[2]),
		FilePath: asString(row[3]), ChunkHash: asString(row[4]), Type: model.ChunkType(asString(row[5])),
		StartLine: asInt(row[6]), EndLine: asInt(row[7]),
		ByteRange: model.ByteRange{Start: asInt(row[8]), End: asInt(row[9])},
	}

	content, err := b.db.RunReadOnly(
		`?[content] := *chunk_contents{chunk_hash, content}, chunk_hash = $h`,
		map[string]any{"h": node.ChunkHash},
	)
	if err != nil || len(content.Rows) == 0 {
		return node, nil, nil
	}

	text, _ := content.Rows[0][0].(string)

	return node, []byte(text), nil
}

func (b *EmbeddedBackend) GetNeighbors(ctx context.Context, nodeID string, relation model.RelationType, direction string) ([]model.Edge, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var query string
	if direction == "in" {
		query = `?[source_id, target_id, metadata_json] := *edges{source_id, target_id, relation_type, metadata_json}, target_id = $id, relation_type = $rel`
	} else {
		query = `?[source_id, target_id, metadata_json] := *edges{source_id, target_id, relation_type, metadata_json}, source_id = $id, relation_type = $rel`
	}

	res, err := b.db.RunReadOnly(query, map[string]any{"id": nodeID, "rel": string(relation)})
	if err != nil {
		return nil, craderrors.New(craderrors.KindTransientStorage, "storage.GetNeighbors", err)
	}

	edges := make([]model.Edge, 0, len(res.Rows))
	for _, row := range res.Rows {
		var meta map[string]any
		if raw, _ := row[2].(string); raw != "" {
			_ = json.Unmarshal([]byte(raw), &meta)
		}

		edges = append(edges, model.Edge{
			SourceNodeID: asString(row[0]), TargetNodeID: asString(row[1]), RelationType: relation,
			Metadata: meta,
		})
	}

	return edges, nil
}

func (b *EmbeddedBackend) PruneSnapshot(ctx context.Context, snapshotID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	queries := []string{
		`?[id] := *files{id, snapshot_id}, snapshot_id = $sid :rm files {id}`,
		`?[id] := *chunk_nodes{id, snapshot_id}, snapshot_id = $sid :rm chunk_nodes {id}`,
		`?[snapshot_id, file_path, byte_start, byte_end] := *chunk_ranges{snapshot_id, file_path, byte_start, byte_end}, snapshot_id = $sid :rm chunk_ranges {snapshot_id, file_path, byte_start, byte_end}`,
		`?[snapshot_id, node_id] := *staging_embeddings{snapshot_id, node_id}, snapshot_id = $sid :rm staging_embeddings {snapshot_id, node_id}`,
		`?[node_id, snapshot_id] := *embeddings{node_id, snapshot_id}, snapshot_id = $sid :rm embeddings {node_id, snapshot_id}`,
		`?[node_id] := *search_index{node_id, snapshot_id}, snapshot_id = $sid :rm search_index {node_id}`,
		`?[id, state] <- [[$sid, "pruned"]] :update snapshots { id => state }`,
	}

	for _, q := range queries {
		_, _ = b.db.Run(q, map[string]any{"sid": snapshotID})
	}

	return nil
}

// NewSingleConnector returns a worker-scoped connector that writes
// through the same embedded database handle (CozoDB has no separate
// server process to open a second connection against, unlike the
// Postgres variants; the Cozo engine itself serializes concurrent
// writers, so sharing the handle across workers is safe).
func (b *EmbeddedBackend) NewSingleConnector(ctx context.Context) (SingleConnector, error) {
	return &embeddedSingleConnector{backend: b}, nil
}

type embeddedSingleConnector struct {
	backend *EmbeddedBackend
}

func (c *embeddedSingleConnector) InsertFiles(ctx context.Context, files []model.File) error {
	b := c.backend

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, f := range files {
		if _, err := b.db.Run(
			`?[id, snapshot_id, path, language, size_bytes, category, file_hash, parsing_status, parsing_error] <-
			   [[$id, $sid, $path, $lang, $size, $cat, $hash, $status, $perr]]
			 :put files { id => snapshot_id, path, language, size_bytes, category, file_hash, parsing_status, parsing_error }`,
			map[string]any{
				"id": f.ID, "sid": f.SnapshotID, "path": f.Path, "lang": f.Language,
				"size": f.SizeBytes, "cat": string(f.Category), "hash": f.FileHash,
				"status": string(f.ParsingStatus), "perr": f.ParsingError,
			},
		); err != nil {
			return craderrors.New(craderrors.KindTransientStorage, "storage.InsertFiles", err)
		}
	}

	return nil
}

func (c *embeddedSingleConnector) InsertChunks(ctx context.Context, nodes []model.ChunkNode, contents []model.ChunkContent) error {
	b := c.backend

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, content := range contents {
		if _, err := b.db.Run(
			`?[chunk_hash, content] <- [[$h, $c]] :put chunk_contents { chunk_hash => content }`,
			map[string]any{"h": content.ChunkHash, "c": string(content.Content)},
		); err != nil {
			return craderrors.New(craderrors.KindTransientStorage, "storage.InsertChunks.content", err)
		}
	}

	for _, n := range nodes {
		meta, _ := json.Marshal(n.Metadata)

		if _, err := b.db.Run(
			`?[id, snapshot_id, file_id, file_path, chunk_hash, type, start_line, end_line, byte_start, byte_end, metadata_json, has_parse_errors] <-
			   [[$id, $sid, $fid, $fp, $hash, $type, $sl, $el, $bs, $be, $meta, $hpe]]
			 :put chunk_nodes { id => snapshot_id, file_id, file_path, chunk_hash, type, start_line, end_line, byte_start, byte_end, metadata_json, has_parse_errors }`,
			map[string]any{
				"id": n.ID, "sid": n.SnapshotID, "fid": n.FileID, "fp": n.FilePath, "hash": n.ChunkHash,
				"type": string(n.Type), "sl": n.StartLine, "el": n.EndLine,
				"bs": n.ByteRange.Start, "be": n.ByteRange.End, "meta": string(meta), "hpe": n.HasParseErrors,
			},
		); err != nil {
			return craderrors.New(craderrors.KindTransientStorage, "storage.InsertChunks.node", err)
		}

		if _, err := b.db.Run(
			`?[snapshot_id, file_path, byte_start, byte_end, id] <- [[$sid, $fp, $bs, $be, $id]]
			 :put chunk_ranges { snapshot_id, file_path, byte_start, byte_end => id }`,
			map[string]any{"sid": n.SnapshotID, "fp": n.FilePath, "bs": n.ByteRange.Start, "be": n.ByteRange.End, "id": n.ID},
		); err != nil {
			return craderrors.New(craderrors.KindTransientStorage, "storage.InsertChunks.range", err)
		}
	}

	return nil
}

func (c *embeddedSingleConnector) InsertEdges(ctx context.Context, edges []model.Edge) error {
	b := c.backend

	b.mu.Lock()
	defer b.mu.Unlock()

	return b.insertEdgesLocked(edges)
}

func (c *embeddedSingleConnector) IndexSearchDocs(ctx context.Context, repoID, snapshotID string, docs []model.SearchDoc) error {
	b := c.backend

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, d := range docs {
		if _, err := b.db.Run(
			`?[node_id, snapshot_id, repo_id, file_path, tags, content] <- [[$nid, $sid, $repo, $fp, $tags, $content]]
			 :put search_index { node_id => snapshot_id, repo_id, file_path, tags, content }`,
			map[string]any{"nid": d.NodeID, "sid": snapshotID, "repo": repoID, "fp": d.FilePath, "tags": d.Tags, "content": d.Content},
		); err != nil {
			return craderrors.New(craderrors.KindTransientStorage, "storage.IndexSearchDocs", err)
		}
	}

	return nil
}

func (c *embeddedSingleConnector) Close() error { return nil }

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
