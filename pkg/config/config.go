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

// Package config loads crader's project configuration: a YAML file plus
// environment variable overrides, matching the teacher's
// cmd/cie/config.go convention and original_source's CRADER_DB_URL/.env
// one.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	craderrors "github.com/sheeptech/crader/internal/errors"
)

const (
	defaultConfigDir  = ".crader"
	defaultConfigFile = "project.yaml"
	configVersion     = "1"
)

// Config is the .crader/project.yaml project configuration.
type Config struct {
	Version   string          `yaml:"version"`
	ProjectID string          `yaml:"project_id"`
	DB        DBConfig        `yaml:"db"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Indexing  IndexingConfig  `yaml:"indexing"`
}

// DBConfig selects and configures the storage backend (pkg/storage).
type DBConfig struct {
	// Driver is "embedded" (CozoDB, single process) or "postgres".
	Driver string `yaml:"driver"`
	// URL is the Postgres DSN; ignored for the embedded driver.
	URL string `yaml:"url,omitempty"`
	// DataDir is the embedded driver's CozoDB data directory.
	DataDir string `yaml:"data_dir,omitempty"`
	// Engine is the embedded driver's CozoDB storage engine.
	Engine string `yaml:"engine,omitempty"`
}

// EmbeddingConfig configures the embedding provider (pkg/embedding).
type EmbeddingConfig struct {
	Model          string `yaml:"model"`
	Dimensions     int    `yaml:"dimensions"`
	APIKey         string `yaml:"api_key,omitempty"`
	MaxConcurrency int    `yaml:"max_concurrency,omitempty"`
	MaxBatchSize   int    `yaml:"max_batch_size,omitempty"`
	PageSize       int    `yaml:"page_size,omitempty"`
}

// IndexingConfig configures the snapshot orchestrator (pkg/snapshot).
type IndexingConfig struct {
	RepoVolume            string   `yaml:"repo_volume"`
	WorkerCount           int      `yaml:"worker_count,omitempty"`
	ShardSize             int      `yaml:"shard_size,omitempty"`
	ShardFailureThreshold float64  `yaml:"shard_failure_threshold,omitempty"`
	MaxFileSize           int64    `yaml:"max_file_size,omitempty"`
	Exclude               []string `yaml:"exclude,omitempty"`
	XRefTimeoutSeconds    int      `yaml:"xref_timeout_seconds,omitempty"`
}

// DefaultConfig returns sensible local-development defaults: an embedded
// CozoDB store under .crader/data and OpenAI's text-embedding-3-small.
func DefaultConfig(projectID string) *Config {
	return &Config{
		Version:   configVersion,
		ProjectID: projectID,
		DB: DBConfig{
			Driver:  "embedded",
			DataDir: ".crader/data",
			Engine:  "rocksdb",
		},
		Embedding: EmbeddingConfig{
			Model:      "text-embedding-3-small",
			Dimensions: 1536,
		},
		Indexing: IndexingConfig{
			ShardSize:             100,
			ShardFailureThreshold: 0.10,
			MaxFileSize:           1048576,
			Exclude: []string{
				".git/**",
				"node_modules/**",
				"vendor/**",
				"dist/**",
				"build/**",
			},
		},
	}
}

// Load reads configuration from configPath, or auto-discovers
// .crader/project.yaml in the current or a parent directory when
// configPath is empty, then applies environment overrides.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		var err error
		configPath, err = findConfigFile()
		if err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(configPath) //nolint:gosec // G304: path comes from config discovery, not untrusted input
	if err != nil {
		return nil, craderrors.New(craderrors.KindConfig, "config.Load", fmt.Errorf("read %s: %w", configPath, err))
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, craderrors.New(craderrors.KindConfig, "config.Load", fmt.Errorf("parse %s: %w", configPath, err))
	}

	if cfg.Version != configVersion {
		return nil, craderrors.Newf(craderrors.KindConfig, "config.Load", "unsupported config version %q (expected %q)", cfg.Version, configVersion)
	}

	cfg.applyEnvOverrides()

	return &cfg, nil
}

// Save writes cfg to configPath as YAML, creating the parent directory
// if needed.
func Save(cfg *Config, configPath string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return craderrors.New(craderrors.KindConfig, "config.Save", fmt.Errorf("marshal config: %w", err))
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o750); err != nil {
		return craderrors.New(craderrors.KindConfig, "config.Save", fmt.Errorf("create config dir: %w", err))
	}

	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return craderrors.New(craderrors.KindConfig, "config.Save", fmt.Errorf("write %s: %w", configPath, err))
	}

	return nil
}

// Path returns <dir>/.crader/project.yaml.
func Path(dir string) string {
	return filepath.Join(dir, defaultConfigDir, defaultConfigFile)
}

// findConfigFile walks up from the working directory looking for
// .crader/project.yaml, honoring CRADER_CONFIG_PATH when set.
func findConfigFile() (string, error) {
	if p := os.Getenv("CRADER_CONFIG_PATH"); p != "" {
		if _, err := os.Stat(p); err != nil {
			return "", craderrors.New(craderrors.KindConfig, "config.findConfigFile", fmt.Errorf("CRADER_CONFIG_PATH=%s: %w", p, err))
		}
		return p, nil
	}

	dir, err := os.Getwd()
	if err != nil {
		return "", craderrors.New(craderrors.KindConfig, "config.findConfigFile", err)
	}

	for {
		candidate := Path(dir)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", craderrors.New(craderrors.KindConfig, "config.findConfigFile", fmt.Errorf("no %s/%s found in current or parent directories", defaultConfigDir, defaultConfigFile))
}

// applyEnvOverrides applies CRADER_DB_URL, REPO_VOLUME, and
// OPENAI_API_KEY, matching original_source's environment-variable
// convention.
func (c *Config) applyEnvOverrides() {
	if url := os.Getenv("CRADER_DB_URL"); url != "" {
		c.DB.URL = url
		c.DB.Driver = "postgres"
	}
	if vol := os.Getenv("REPO_VOLUME"); vol != "" {
		c.Indexing.RepoVolume = vol
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.Embedding.APIKey = key
	}
}
