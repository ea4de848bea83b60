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

package embedding

import (
	"context"

	"github.com/sashabaranov/go-openai"

	craderrors "github.com/sheeptech/crader/internal/errors"
)

// Provider is the embedding-provider contract of spec.md §4.7/§6: a named
// model, concurrency/batch limits, and an async Embed call returning one
// vector per input, order preserved.
type Provider interface {
	ModelName() string
	MaxConcurrency() int
	MaxBatchSize() int
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// placeholderText stands in for an empty chunk so the provider is never
// called with a blank input, per spec.md §6: "Short/empty inputs are
// replaced with a placeholder before calling (never sent as empty)".
const placeholderText = "(empty)"

// OpenAIProvider wraps sashabaranov/go-openai's embeddings endpoint,
// grounded on the mycelium reference's openai.Client-per-worker-pool
// shape (other_examples/c9aa7ad1_smartramana-developer-mesh_...embedding_manager.go.go).
type OpenAIProvider struct {
	client         *openai.Client
	model          openai.EmbeddingModel
	modelName      string
	maxConcurrency int
	maxBatchSize   int
}

// NewOpenAIProvider builds a Provider against apiKey for the given model
// name (e.g. "text-embedding-3-small").
func NewOpenAIProvider(apiKey, modelName string, maxConcurrency, maxBatchSize int) *OpenAIProvider {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	if maxBatchSize <= 0 {
		maxBatchSize = 256
	}

	return &OpenAIProvider{
		client:         openai.NewClient(apiKey),
		model:          openai.EmbeddingModel(modelName),
		modelName:      modelName,
		maxConcurrency: maxConcurrency,
		maxBatchSize:   maxBatchSize,
	}
}

func (p *OpenAIProvider) ModelName() string   { return p.modelName }
func (p *OpenAIProvider) MaxConcurrency() int { return p.maxConcurrency }
func (p *OpenAIProvider) MaxBatchSize() int   { return p.maxBatchSize }

// Embed calls the OpenAI embeddings endpoint for one batch, preserving
// input order in the returned slice.
func (p *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	inputs := make([]string, len(texts))
	for i, t := range texts {
		if t == "" {
			inputs[i] = placeholderText
			continue
		}
		inputs[i] = t
	}

	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: inputs,
		Model: p.model,
	})
	if err != nil {
		return nil, craderrors.New(craderrors.KindProvider, "embedding.OpenAIProvider.Embed", err)
	}

	if len(resp.Data) != len(inputs) {
		return nil, craderrors.Newf(craderrors.KindProvider, "embedding.OpenAIProvider.Embed",
			"provider returned %d vectors for %d inputs", len(resp.Data), len(inputs))
	}

	vectors := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		vectors[d.Index] = d.Embedding
	}

	return vectors, nil
}
