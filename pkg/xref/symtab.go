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

package xref

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sheeptech/crader/pkg/model"
)

// definition is one place a symbol is defined.
type definition struct {
	File  string          `json:"file"`
	Range model.ByteRange `json:"range"`
}

// shardCount controls how many on-disk shards the symbol table spreads
// across; sized so a single snapshot's symbol set (tens of thousands of
// entries for a large monorepo) stays well within a few MB per shard.
const shardCount = 16

// SymbolTable is a symbol → definition-sites index split into shards that
// Flush writes as JSON files the same way the teacher's manifest.go
// persists per-project state: temp-file-then-rename writes, plain JSON,
// no external KV store dependency.
//
// Every shard that is read or written stays in the in-memory cache until
// Close, and shard files are written only by Flush; a table that is never
// flushed lives entirely in memory.
type SymbolTable struct {
	dir string
	mu  sync.Mutex
	// cache holds shards already loaded this resolve pass.
	cache map[int]map[string][]definition
}

// NewSymbolTable roots a symbol table at dir, creating it if absent.
func NewSymbolTable(dir string) (*SymbolTable, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create symtab dir: %w", err)
	}

	return &SymbolTable{dir: dir, cache: make(map[int]map[string][]definition)}, nil
}

func shardFor(symbol string) int {
	sum := sha256.Sum256([]byte(symbol))
	return int(sum[0]) % shardCount
}

func (s *SymbolTable) shardPath(shard int) string {
	return filepath.Join(s.dir, fmt.Sprintf("shard-%02d.json", shard))
}

func (s *SymbolTable) loadShard(shard int) (map[string][]definition, error) {
	if m, ok := s.cache[shard]; ok {
		return m, nil
	}

	m := make(map[string][]definition)

	data, err := os.ReadFile(s.shardPath(shard))
	if err != nil {
		if os.IsNotExist(err) {
			s.cache[shard] = m
			return m, nil
		}

		return nil, fmt.Errorf("read shard %d: %w", shard, err)
	}

	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse shard %d: %w", shard, err)
	}

	s.cache[shard] = m

	return m, nil
}

// AddDefinition records that symbol is defined at file:range.
func (s *SymbolTable) AddDefinition(symbol, file string, r model.ByteRange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	shard := shardFor(symbol)

	m, err := s.loadShard(shard)
	if err != nil {
		return err
	}

	m[symbol] = append(m[symbol], definition{File: file, Range: r})

	return nil
}

// Lookup returns the recorded definition sites for symbol, if any.
func (s *SymbolTable) Lookup(symbol string) ([]definition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.loadShard(shardFor(symbol))
	if err != nil {
		return nil, err
	}

	return m[symbol], nil
}

// Flush persists every modified shard atomically (temp file + rename),
// matching the teacher's ManifestManager.SaveManifest idiom.
func (s *SymbolTable) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for shard, m := range s.cache {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal shard %d: %w", shard, err)
		}

		path := s.shardPath(shard)
		tmp := path + ".tmp"

		if err := os.WriteFile(tmp, data, 0o600); err != nil {
			return fmt.Errorf("write shard %d: %w", shard, err)
		}

		if err := os.Rename(tmp, path); err != nil {
			_ = os.Remove(tmp)
			return fmt.Errorf("rename shard %d: %w", shard, err)
		}
	}

	return nil
}

// Close releases the in-memory shard cache. The on-disk shards persist
// only if Flush was called; callers that build a fresh symbol table per
// snapshot (the common case) may skip Flush and just discard the
// directory once resolution is done.
func (s *SymbolTable) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache = make(map[int]map[string][]definition)
}
