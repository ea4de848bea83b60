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

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	craderrors "github.com/sheeptech/crader/internal/errors"
	"github.com/sheeptech/crader/pkg/model"
)

// pgxIface is satisfied by both *pgxpool.Pool and *pgx.Conn, letting
// pgCore's PooledConnector implementation run unchanged against a pooled
// connection or a single dedicated one.
type pgxIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// pgCore implements PooledConnector against any pgxIface. PooledPostgres
// embeds it directly over a pgxpool.Pool; SinglePostgres wraps it behind a
// mutex over a single pgx.Conn.
type pgCore struct {
	db pgxIface
}

func (c *pgCore) EnsureRepository(ctx context.Context, repo model.Repository) (bool, error) {
	rows, err := c.db.Query(ctx,
		`INSERT INTO repositories (id, url, name, default_branch) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO NOTHING RETURNING id`,
		repo.ID, repo.URL, repo.Name, repo.DefaultBranch,
	)
	if err != nil {
		return false, craderrors.New(craderrors.KindTransientStorage, "storage.EnsureRepository", err)
	}
	defer rows.Close()

	return rows.Next(), rows.Err()
}

func (c *pgCore) CreateSnapshot(ctx context.Context, snap model.Snapshot) (model.Snapshot, bool, error) {
	statsJSON, err := json.Marshal(snap.Stats)
	if err != nil {
		return model.Snapshot{}, false, fmt.Errorf("marshal stats: %w", err)
	}

	rows, err := c.db.Query(ctx,
		`INSERT INTO snapshots (id, repo_id, commit_hash, branch, state, stats)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (repo_id, commit_hash, branch) DO NOTHING RETURNING id`,
		snap.ID, snap.RepoID, snap.CommitHash, snap.Branch, string(model.SnapshotPending), statsJSON,
	)
	if err != nil {
		return model.Snapshot{}, false, craderrors.New(craderrors.KindTransientStorage, "storage.CreateSnapshot", err)
	}

	inserted := rows.Next()
	rows.Close()

	if inserted {
		snap.State = model.SnapshotPending
		return snap, true, nil
	}

	existing, err := c.db.Query(ctx,
		`SELECT id, state FROM snapshots WHERE repo_id = $1 AND commit_hash = $2 AND branch = $3`,
		snap.RepoID, snap.CommitHash, snap.Branch,
	)
	if err != nil {
		return model.Snapshot{}, false, craderrors.New(craderrors.KindTransientStorage, "storage.CreateSnapshot", err)
	}
	defer existing.Close()

	if !existing.Next() {
		return model.Snapshot{}, false, craderrors.New(craderrors.KindNotFound, "storage.CreateSnapshot", fmt.Errorf("snapshot vanished after conflict"))
	}

	var id, state string
	if err := existing.Scan(&id, &state); err != nil {
		return model.Snapshot{}, false, craderrors.New(craderrors.KindTransientStorage, "storage.CreateSnapshot", err)
	}

	snap.ID = id
	snap.State = model.SnapshotState(state)

	return snap, false, existing.Err()
}

func (c *pgCore) TransitionSnapshot(ctx context.Context, snapshotID string, state model.SnapshotState) error {
	_, err := c.db.Exec(ctx, `UPDATE snapshots SET state = $2 WHERE id = $1`, snapshotID, string(state))
	if err != nil {
		return craderrors.New(craderrors.KindTransientStorage, "storage.TransitionSnapshot", err)
	}

	return nil
}

func (c *pgCore) ActivateSnapshot(ctx context.Context, snapshotID string) error {
	tx, err := c.db.Begin(ctx)
	if err != nil {
		return craderrors.New(craderrors.KindTransientStorage, "storage.ActivateSnapshot", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`UPDATE snapshots SET state = 'ready'
		 WHERE state = 'active'
		   AND repo_id = (SELECT repo_id FROM snapshots WHERE id = $1)
		   AND branch = (SELECT branch FROM snapshots WHERE id = $1)`,
		snapshotID,
	)
	if err != nil {
		return craderrors.New(craderrors.KindTransientStorage, "storage.ActivateSnapshot", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE snapshots SET state = 'active', activated_at = now() WHERE id = $1`, snapshotID); err != nil {
		return craderrors.New(craderrors.KindTransientStorage, "storage.ActivateSnapshot", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return craderrors.New(craderrors.KindTransientStorage, "storage.ActivateSnapshot", err)
	}

	return nil
}

func (c *pgCore) GetActiveSnapshot(ctx context.Context, repoID, branch string) (model.Snapshot, error) {
	rows, err := c.db.Query(ctx,
		`SELECT id, commit_hash FROM snapshots WHERE repo_id = $1 AND branch = $2 AND state = 'active'`,
		repoID, branch,
	)
	if err != nil {
		return model.Snapshot{}, craderrors.New(craderrors.KindTransientStorage, "storage.GetActiveSnapshot", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return model.Snapshot{}, craderrors.New(craderrors.KindNotFound, "storage.GetActiveSnapshot", fmt.Errorf("no active snapshot for %s@%s", repoID, branch))
	}

	var id, commitHash string
	if err := rows.Scan(&id, &commitHash); err != nil {
		return model.Snapshot{}, craderrors.New(craderrors.KindTransientStorage, "storage.GetActiveSnapshot", err)
	}

	return model.Snapshot{ID: id, RepoID: repoID, Branch: branch, CommitHash: commitHash, State: model.SnapshotActive}, rows.Err()
}

func (c *pgCore) InsertEdges(ctx context.Context, edges []model.Edge) error {
	for _, e := range edges {
		if e.SourceNodeID == e.TargetNodeID {
			continue
		}

		meta, _ := json.Marshal(e.Metadata)

		_, err := c.db.Exec(ctx,
			`INSERT INTO edges (source_id, target_id, relation_type, metadata) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (source_id, target_id, relation_type) DO NOTHING`,
			e.SourceNodeID, e.TargetNodeID, string(e.RelationType), meta,
		)
		if err != nil {
			return craderrors.New(craderrors.KindTransientStorage, "storage.InsertEdges", err)
		}
	}

	return nil
}

func (c *pgCore) LookupNode(ctx context.Context, snapshotID, filePath string, r model.ByteRange) (string, bool, error) {
	rows, err := c.db.Query(ctx,
		`SELECT id FROM chunk_nodes WHERE snapshot_id = $1 AND file_path = $2 AND byte_start = $3 AND byte_end = $4`,
		snapshotID, filePath, r.Start, r.End,
	)
	if err != nil {
		return "", false, craderrors.New(craderrors.KindTransientStorage, "storage.LookupNode", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return "", false, nil
	}

	var id string
	if err := rows.Scan(&id); err != nil {
		return "", false, craderrors.New(craderrors.KindTransientStorage, "storage.LookupNode", err)
	}

	return id, true, rows.Err()
}

func (c *pgCore) StageEmbeddingText(ctx context.Context, snapshotID, nodeID, vectorHash, text, modelName string) error {
	_, err := c.db.Exec(ctx,
		`INSERT INTO staging_embeddings (snapshot_id, node_id, vector_hash, text, model) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (snapshot_id, node_id) DO UPDATE SET vector_hash = EXCLUDED.vector_hash, text = EXCLUDED.text, model = EXCLUDED.model`,
		snapshotID, nodeID, vectorHash, text, modelName,
	)
	if err != nil {
		return craderrors.New(craderrors.KindTransientStorage, "storage.StageEmbeddingText", err)
	}

	return nil
}

func (c *pgCore) BackfillFromVectorHash(ctx context.Context, snapshotID string) (int, error) {
	staged, err := c.db.Query(ctx, `SELECT node_id, vector_hash, model FROM staging_embeddings WHERE snapshot_id = $1`, snapshotID)
	if err != nil {
		return 0, craderrors.New(craderrors.KindTransientStorage, "storage.BackfillFromVectorHash", err)
	}

	type pending struct{ nodeID, vectorHash, model string }

	var toRecover []pending

	for staged.Next() {
		var p pending
		if err := staged.Scan(&p.nodeID, &p.vectorHash, &p.model); err != nil {
			staged.Close()
			return 0, craderrors.New(craderrors.KindTransientStorage, "storage.BackfillFromVectorHash", err)
		}

		toRecover = append(toRecover, p)
	}

	staged.Close()

	recovered := 0

	for _, p := range toRecover {
		prior, err := c.db.Query(ctx, `SELECT embedding FROM embeddings WHERE vector_hash = $1 AND model = $2 LIMIT 1`, p.vectorHash, p.model)
		if err != nil {
			continue
		}

		if !prior.Next() {
			prior.Close()
			continue
		}

		var vec pgvector.Vector
		if err := prior.Scan(&vec); err != nil {
			prior.Close()
			continue
		}

		prior.Close()

		_, err = c.db.Exec(ctx,
			`INSERT INTO embeddings (node_id, snapshot_id, vector_hash, model, embedding) VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (node_id, snapshot_id) DO UPDATE SET vector_hash = EXCLUDED.vector_hash, model = EXCLUDED.model, embedding = EXCLUDED.embedding`,
			p.nodeID, snapshotID, p.vectorHash, p.model, vec,
		)
		if err != nil {
			continue
		}

		if _, err := c.db.Exec(ctx, `DELETE FROM staging_embeddings WHERE snapshot_id = $1 AND node_id = $2`, snapshotID, p.nodeID); err != nil {
			continue
		}

		recovered++
	}

	return recovered, nil
}

func (c *pgCore) NextStagingPage(ctx context.Context, snapshotID string, limit int) ([]StagingRow, error) {
	rows, err := c.db.Query(ctx,
		`SELECT node_id, vector_hash, text, model FROM staging_embeddings WHERE snapshot_id = $1 LIMIT $2`,
		snapshotID, limit,
	)
	if err != nil {
		return nil, craderrors.New(craderrors.KindTransientStorage, "storage.NextStagingPage", err)
	}
	defer rows.Close()

	var out []StagingRow

	for rows.Next() {
		var r StagingRow
		if err := rows.Scan(&r.NodeID, &r.VectorHash, &r.Text, &r.Model); err != nil {
			return nil, craderrors.New(craderrors.KindTransientStorage, "storage.NextStagingPage", err)
		}

		out = append(out, r)
	}

	return out, rows.Err()
}

func (c *pgCore) CommitEmbeddings(ctx context.Context, vectors []model.EmbeddingVector) error {
	for _, v := range vectors {
		vec := pgvector.NewVector(v.Vector)

		_, err := c.db.Exec(ctx,
			`INSERT INTO embeddings (node_id, snapshot_id, vector_hash, model, embedding) VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (node_id, snapshot_id) DO UPDATE SET vector_hash = EXCLUDED.vector_hash, model = EXCLUDED.model, embedding = EXCLUDED.embedding`,
			v.NodeID, v.SnapshotID, v.VectorHash, v.Model, vec,
		)
		if err != nil {
			return craderrors.New(craderrors.KindTransientStorage, "storage.CommitEmbeddings", err)
		}

		if _, err := c.db.Exec(ctx, `DELETE FROM staging_embeddings WHERE snapshot_id = $1 AND node_id = $2`, v.SnapshotID, v.NodeID); err != nil {
			return craderrors.New(craderrors.KindTransientStorage, "storage.CommitEmbeddings", err)
		}
	}

	return nil
}

func (c *pgCore) ListSnapshotChunks(ctx context.Context, snapshotID string) ([]ChunkWithContent, error) {
	rows, err := c.db.Query(ctx,
		`SELECT n.id, n.file_id, n.file_path, n.chunk_hash, n.type, n.start_line, n.end_line,
		        n.byte_start, n.byte_end, cc.content
		 FROM chunk_nodes n JOIN chunk_contents cc ON cc.chunk_hash = n.chunk_hash
		 WHERE n.snapshot_id = $1`,
		snapshotID,
	)
	if err != nil {
		return nil, craderrors.New(craderrors.KindTransientStorage, "storage.ListSnapshotChunks", err)
	}
	defer rows.Close()

	var out []ChunkWithContent

	for rows.Next() {
		var (
			n         model.ChunkNode
			chunkType string
			content   string
		)

		if err := rows.Scan(&n.ID, &n.FileID, &n.FilePath, &n.ChunkHash, &chunkType, &n.StartLine, &n.EndLine,
			&n.ByteRange.Start, &n.ByteRange.End, &content); err != nil {
			return nil, craderrors.New(craderrors.KindTransientStorage, "storage.ListSnapshotChunks", err)
		}

		n.SnapshotID = snapshotID
		n.Type = model.ChunkType(chunkType)

		out = append(out, ChunkWithContent{Node: n, Content: []byte(content)})
	}

	return out, rows.Err()
}

func (c *pgCore) ListFileChunks(ctx context.Context, snapshotID, filePath string) ([]ChunkWithContent, error) {
	rows, err := c.db.Query(ctx,
		`SELECT n.id, n.file_id, n.chunk_hash, n.type, n.start_line, n.end_line,
		        n.byte_start, n.byte_end, cc.content
		 FROM chunk_nodes n JOIN chunk_contents cc ON cc.chunk_hash = n.chunk_hash
		 WHERE n.snapshot_id = $1 AND n.file_path = $2
		 ORDER BY n.start_line`,
		snapshotID, filePath,
	)
	if err != nil {
		return nil, craderrors.New(craderrors.KindTransientStorage, "storage.ListFileChunks", err)
	}
	defer rows.Close()

	var out []ChunkWithContent

	for rows.Next() {
		var (
			n         model.ChunkNode
			chunkType string
			content   string
		)

		if err := rows.Scan(&n.ID, &n.FileID, &n.ChunkHash, &chunkType, &n.StartLine, &n.EndLine,
			&n.ByteRange.Start, &n.ByteRange.End, &content); err != nil {
			return nil, craderrors.New(craderrors.KindTransientStorage, "storage.ListFileChunks", err)
		}

		n.SnapshotID = snapshotID
		n.FilePath = filePath
		n.Type = model.ChunkType(chunkType)

		out = append(out, ChunkWithContent{Node: n, Content: []byte(content)})
	}

	return out, rows.Err()
}

func (c *pgCore) ListFiles(ctx context.Context, snapshotID string) ([]model.File, error) {
	rows, err := c.db.Query(ctx,
		`SELECT id, path, language, size_bytes, category, file_hash, parsing_status, parsing_error
		 FROM files WHERE snapshot_id = $1`,
		snapshotID,
	)
	if err != nil {
		return nil, craderrors.New(craderrors.KindTransientStorage, "storage.ListFiles", err)
	}
	defer rows.Close()

	var out []model.File

	for rows.Next() {
		var (
			f        model.File
			category string
			status   string
		)

		if err := rows.Scan(&f.ID, &f.Path, &f.Language, &f.SizeBytes, &category, &f.FileHash, &status, &f.ParsingError); err != nil {
			return nil, craderrors.New(craderrors.KindTransientStorage, "storage.ListFiles", err)
		}

		f.SnapshotID = snapshotID
		f.Category = model.FileCategory(category)
		f.ParsingStatus = model.ParsingStatus(status)

		out = append(out, f)
	}

	return out, rows.Err()
}

func (c *pgCore) CleanupStaging(ctx context.Context, snapshotID string) error {
	if _, err := c.db.Exec(ctx, `DELETE FROM staging_embeddings WHERE snapshot_id = $1`, snapshotID); err != nil {
		return craderrors.New(craderrors.KindTransientStorage, "storage.CleanupStaging", err)
	}

	return nil
}

func (c *pgCore) SearchDense(ctx context.Context, repoID string, vector []float32, topK int) ([]ScoredDoc, error) {
	vec := pgvector.NewVector(vector)

	rows, err := c.db.Query(ctx,
		`SELECT e.node_id, e.embedding <=> $1 AS dist
		 FROM embeddings e
		 JOIN snapshots s ON s.id = e.snapshot_id
		 WHERE s.repo_id = $2 AND s.state = 'active'
		 ORDER BY dist
		 LIMIT $3`,
		vec, repoID, topK,
	)
	if err != nil {
		return nil, craderrors.New(craderrors.KindTransientStorage, "storage.SearchDense", err)
	}
	defer rows.Close()

	var out []ScoredDoc

	for rows.Next() {
		var nodeID string

		var dist float64
		if err := rows.Scan(&nodeID, &dist); err != nil {
			return nil, craderrors.New(craderrors.KindTransientStorage, "storage.SearchDense", err)
		}

		out = append(out, ScoredDoc{NodeID: nodeID, Score: 1.0 / (1.0 + dist)})
	}

	return out, rows.Err()
}

func (c *pgCore) SearchSparse(ctx context.Context, repoID, query string, topK int) ([]ScoredDoc, error) {
	rows, err := c.db.Query(ctx,
		`SELECT si.node_id, ts_rank(si.content_tsv, plainto_tsquery('simple', $2)) AS rank
		 FROM search_index si
		 JOIN snapshots s ON s.id = si.snapshot_id
		 WHERE si.repo_id = $1 AND s.state = 'active' AND si.content_tsv @@ plainto_tsquery('simple', $2)
		 ORDER BY rank DESC
		 LIMIT $3`,
		repoID, query, topK,
	)
	if err != nil {
		return nil, craderrors.New(craderrors.KindTransientStorage, "storage.SearchSparse", err)
	}
	defer rows.Close()

	var out []ScoredDoc

	for rows.Next() {
		var nodeID string

		var rank float64
		if err := rows.Scan(&nodeID, &rank); err != nil {
			return nil, craderrors.New(craderrors.KindTransientStorage, "storage.SearchSparse", err)
		}

		out = append(out, ScoredDoc{NodeID: nodeID, Score: rank})
	}

	return out, rows.Err()
}

func (c *pgCore) GetNode(ctx context.Context, nodeID string) (model.ChunkNode, []byte, error) {
	rows, err := c.db.Query(ctx,
		`SELECT n.id, n.snapshot_id, n.file_id, n.file_path, n.chunk_hash, n.type, n.start_line, n.end_line,
		        n.byte_start, n.byte_end, n.has_parse_errors, cc.content
		 FROM chunk_nodes n JOIN chunk_contents cc ON cc.chunk_hash = n.chunk_hash
		 WHERE n.id = $1`,
		nodeID,
	)
	if err != nil {
		return model.ChunkNode{}, nil, craderrors.New(craderrors.KindTransientStorage, "storage.GetNode", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return model.ChunkNode{}, nil, craderrors.New(craderrors.KindNotFound, "storage.GetNode", fmt.Errorf("node %s not found", nodeID))
	}

	var n model.ChunkNode

	var chunkType, content string

	err = rows.Scan(&n.ID, &n.SnapshotID, &n.FileID, &n.FilePath, &n.ChunkHash, &chunkType, &n.StartLine, &n.EndLine,
		&n.ByteRange.Start, &n.ByteRange.End, &n.HasParseErrors, &content)
	if err != nil {
		return model.ChunkNode{}, nil, craderrors.New(craderrors.KindTransientStorage, "storage.GetNode", err)
	}

	n.Type = model.ChunkType(chunkType)

	return n, []byte(content), rows.Err()
}

func (c *pgCore) GetNeighbors(ctx context.Context, nodeID string, relation model.RelationType, direction string) ([]model.Edge, error) {
	column := "source_id"
	if direction == "in" {
		column = "target_id"
	}

	rows, err := c.db.Query(ctx,
		fmt.Sprintf(`SELECT source_id, target_id, metadata FROM edges WHERE %s = $1 AND relation_type = $2`, column),
		nodeID, string(relation),
	)
	if err != nil {
		return nil, craderrors.New(craderrors.KindTransientStorage, "storage.GetNeighbors", err)
	}
	defer rows.Close()

	var out []model.Edge

	for rows.Next() {
		var (
			e       model.Edge
			rawMeta []byte
		)

		if err := rows.Scan(&e.SourceNodeID, &e.TargetNodeID, &rawMeta); err != nil {
			return nil, craderrors.New(craderrors.KindTransientStorage, "storage.GetNeighbors", err)
		}

		if len(rawMeta) > 0 {
			_ = json.Unmarshal(rawMeta, &e.Metadata)
		}

		e.RelationType = relation
		out = append(out, e)
	}

	return out, rows.Err()
}

func (c *pgCore) PruneSnapshot(ctx context.Context, snapshotID string) error {
	stmts := []string{
		`DELETE FROM files WHERE snapshot_id = $1`,
		`DELETE FROM chunk_nodes WHERE snapshot_id = $1`,
		`DELETE FROM staging_embeddings WHERE snapshot_id = $1`,
		`DELETE FROM embeddings WHERE snapshot_id = $1`,
		`DELETE FROM search_index WHERE snapshot_id = $1`,
		`UPDATE snapshots SET state = 'pruned' WHERE id = $1`,
	}

	for _, stmt := range stmts {
		if _, err := c.db.Exec(ctx, stmt, snapshotID); err != nil {
			return craderrors.New(craderrors.KindTransientStorage, "storage.PruneSnapshot", err)
		}
	}

	return nil
}

// pgSingleConnector implements SingleConnector over a dedicated pgx.Conn,
// one per parse-phase worker, per spec.md §5.
type pgSingleConnector struct {
	conn *pgx.Conn
	core *pgCore
}

func newPgSingleConnector(conn *pgx.Conn) *pgSingleConnector {
	return &pgSingleConnector{conn: conn, core: &pgCore{db: conn}}
}

func (c *pgSingleConnector) InsertFiles(ctx context.Context, files []model.File) error {
	for _, f := range files {
		_, err := c.conn.Exec(ctx,
			`INSERT INTO files (id, snapshot_id, path, language, size_bytes, category, file_hash, parsing_status, parsing_error)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (id) DO NOTHING`,
			f.ID, f.SnapshotID, f.Path, f.Language, f.SizeBytes, string(f.Category), f.FileHash, string(f.ParsingStatus), f.ParsingError,
		)
		if err != nil {
			return craderrors.New(craderrors.KindTransientStorage, "storage.InsertFiles", err)
		}
	}

	return nil
}

func (c *pgSingleConnector) InsertChunks(ctx context.Context, nodes []model.ChunkNode, contents []model.ChunkContent) error {
	for _, content := range contents {
		_, err := c.conn.Exec(ctx,
			`INSERT INTO chunk_contents (chunk_hash, content) VALUES ($1, $2) ON CONFLICT (chunk_hash) DO NOTHING`,
			content.ChunkHash, content.Content,
		)
		if err != nil {
			return craderrors.New(craderrors.KindTransientStorage, "storage.InsertChunks.content", err)
		}
	}

	for _, n := range nodes {
		meta, _ := json.Marshal(n.Metadata)

		_, err := c.conn.Exec(ctx,
			`INSERT INTO chunk_nodes (id, snapshot_id, file_id, file_path, chunk_hash, type, start_line, end_line, byte_start, byte_end, metadata, has_parse_errors)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			 ON CONFLICT (id) DO NOTHING`,
			n.ID, n.SnapshotID, n.FileID, n.FilePath, n.ChunkHash, string(n.Type), n.StartLine, n.EndLine,
			n.ByteRange.Start, n.ByteRange.End, meta, n.HasParseErrors,
		)
		if err != nil {
			return craderrors.New(craderrors.KindTransientStorage, "storage.InsertChunks.node", err)
		}
	}

	return nil
}

func (c *pgSingleConnector) InsertEdges(ctx context.Context, edges []model.Edge) error {
	return c.core.InsertEdges(ctx, edges)
}

func (c *pgSingleConnector) IndexSearchDocs(ctx context.Context, repoID, snapshotID string, docs []model.SearchDoc) error {
	for _, d := range docs {
		_, err := c.conn.Exec(ctx,
			`INSERT INTO search_index (node_id, snapshot_id, repo_id, file_path, tags, content) VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (node_id) DO UPDATE SET tags = EXCLUDED.tags, content = EXCLUDED.content`,
			d.NodeID, snapshotID, repoID, d.FilePath, d.Tags, d.Content,
		)
		if err != nil {
			return craderrors.New(craderrors.KindTransientStorage, "storage.IndexSearchDocs", err)
		}
	}

	return nil
}

func (c *pgSingleConnector) Close() error {
	return c.conn.Close(context.Background())
}
