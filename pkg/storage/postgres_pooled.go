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

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	craderrors "github.com/sheeptech/crader/internal/errors"
)

// PooledPostgres is the Backend variant for production deployments with a
// real connection pool: the orchestrator and retrieval paths share
// pgxpool.Pool, while each parse-phase worker dials its own dedicated
// pgx.Conn via NewSingleConnector, matching spec.md §5's no-shared-
// connection rule for that phase.
type PooledPostgres struct {
	*pgCore

	pool *pgxpool.Pool
	dsn  string
}

// NewPooledPostgres opens a pgxpool against dsn, registering pgvector's
// wire codec on every pooled connection.
func NewPooledPostgres(ctx context.Context, dsn string) (*PooledPostgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, craderrors.New(craderrors.KindConfig, "storage.NewPooledPostgres", err)
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, craderrors.New(craderrors.KindTransientStorage, "storage.NewPooledPostgres", err)
	}

	return &PooledPostgres{pgCore: &pgCore{db: pool}, pool: pool, dsn: dsn}, nil
}

func (p *PooledPostgres) EnsureSchema(ctx context.Context) error {
	return Upgrade(p.dsn)
}

func (p *PooledPostgres) NewSingleConnector(ctx context.Context) (SingleConnector, error) {
	conn, err := pgx.Connect(ctx, p.dsn)
	if err != nil {
		return nil, craderrors.New(craderrors.KindTransientStorage, "storage.NewSingleConnector", err)
	}

	if err := pgvector.RegisterTypes(ctx, conn); err != nil {
		_ = conn.Close(ctx)
		return nil, craderrors.New(craderrors.KindTransientStorage, "storage.NewSingleConnector", fmt.Errorf("register pgvector types: %w", err))
	}

	return newPgSingleConnector(conn), nil
}

func (p *PooledPostgres) Close() error {
	p.pool.Close()
	return nil
}
