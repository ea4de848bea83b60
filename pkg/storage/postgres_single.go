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
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	craderrors "github.com/sheeptech/crader/internal/errors"
	"github.com/sheeptech/crader/pkg/model"
)

// SinglePostgres is the Backend variant for connection-constrained
// deployments (a managed Postgres with a tight connection quota): the
// orchestrator's PooledConnector surface serializes through one dedicated
// pgx.Conn behind a mutex rather than a pool. Parse-phase workers still
// each get an independent pgx.Conn via NewSingleConnector, since that
// phase's concurrency comes from process-level parallelism (spec.md §5),
// not from the orchestrator's own connection.
type SinglePostgres struct {
	conn *pgx.Conn
	core *pgCore
	mu   sync.Mutex
	dsn  string
}

// NewSinglePostgres opens one dedicated connection to dsn.
func NewSinglePostgres(ctx context.Context, dsn string) (*SinglePostgres, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, craderrors.New(craderrors.KindTransientStorage, "storage.NewSinglePostgres", err)
	}

	if err := pgvector.RegisterTypes(ctx, conn); err != nil {
		_ = conn.Close(ctx)
		return nil, craderrors.New(craderrors.KindTransientStorage, "storage.NewSinglePostgres", fmt.Errorf("register pgvector types: %w", err))
	}

	return &SinglePostgres{conn: conn, core: &pgCore{db: conn}, dsn: dsn}, nil
}

func (s *SinglePostgres) EnsureSchema(ctx context.Context) error {
	return Upgrade(s.dsn)
}

func (s *SinglePostgres) NewSingleConnector(ctx context.Context) (SingleConnector, error) {
	conn, err := pgx.Connect(ctx, s.dsn)
	if err != nil {
		return nil, craderrors.New(craderrors.KindTransientStorage, "storage.NewSingleConnector", err)
	}

	if err := pgvector.RegisterTypes(ctx, conn); err != nil {
		_ = conn.Close(ctx)
		return nil, craderrors.New(craderrors.KindTransientStorage, "storage.NewSingleConnector", fmt.Errorf("register pgvector types: %w", err))
	}

	return newPgSingleConnector(conn), nil
}

func (s *SinglePostgres) Close() error {
	return s.conn.Close(context.Background())
}

func (s *SinglePostgres) EnsureRepository(ctx context.Context, repo model.Repository) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.core.EnsureRepository(ctx, repo)
}

func (s *SinglePostgres) CreateSnapshot(ctx context.Context, snap model.Snapshot) (model.Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.core.CreateSnapshot(ctx, snap)
}

func (s *SinglePostgres) TransitionSnapshot(ctx context.Context, snapshotID string, state model.SnapshotState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.core.TransitionSnapshot(ctx, snapshotID, state)
}

func (s *SinglePostgres) ActivateSnapshot(ctx context.Context, snapshotID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.core.ActivateSnapshot(ctx, snapshotID)
}

func (s *SinglePostgres) GetActiveSnapshot(ctx context.Context, repoID, branch string) (model.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.core.GetActiveSnapshot(ctx, repoID, branch)
}

func (s *SinglePostgres) InsertEdges(ctx context.Context, edges []model.Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.core.InsertEdges(ctx, edges)
}

func (s *SinglePostgres) LookupNode(ctx context.Context, snapshotID, filePath string, r model.ByteRange) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.core.LookupNode(ctx, snapshotID, filePath, r)
}

func (s *SinglePostgres) StageEmbeddingText(ctx context.Context, snapshotID, nodeID, vectorHash, text, modelName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.core.StageEmbeddingText(ctx, snapshotID, nodeID, vectorHash, text, modelName)
}

func (s *SinglePostgres) BackfillFromVectorHash(ctx context.Context, snapshotID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.core.BackfillFromVectorHash(ctx, snapshotID)
}

func (s *SinglePostgres) NextStagingPage(ctx context.Context, snapshotID string, limit int) ([]StagingRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.core.NextStagingPage(ctx, snapshotID, limit)
}

func (s *SinglePostgres) CommitEmbeddings(ctx context.Context, vectors []model.EmbeddingVector) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.core.CommitEmbeddings(ctx, vectors)
}

func (s *SinglePostgres) SearchDense(ctx context.Context, repoID string, vector []float32, topK int) ([]ScoredDoc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.core.SearchDense(ctx, repoID, vector, topK)
}

func (s *SinglePostgres) SearchSparse(ctx context.Context, repoID, query string, topK int) ([]ScoredDoc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.core.SearchSparse(ctx, repoID, query, topK)
}

func (s *SinglePostgres) GetNode(ctx context.Context, nodeID string) (model.ChunkNode, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.core.GetNode(ctx, nodeID)
}

func (s *SinglePostgres) GetNeighbors(ctx context.Context, nodeID string, relation model.RelationType, direction string) ([]model.Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.core.GetNeighbors(ctx, nodeID, relation, direction)
}

func (s *SinglePostgres) PruneSnapshot(ctx context.Context, snapshotID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.core.PruneSnapshot(ctx, snapshotID)
}
