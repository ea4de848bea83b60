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

package retriever

import (
	"context"

	"golang.org/x/sync/errgroup"

	craderrors "github.com/sheeptech/crader/internal/errors"
	"github.com/sheeptech/crader/pkg/storage"
)

// searchTopK is how many candidates each modality contributes before RRF
// fusion narrows to Query.Limit.
const searchTopK = 100

// search embeds q.Text once and runs the vector and keyword searches
// concurrently (spec.md §4.8: "runs two searches in parallel"), scoped to
// q.RepoID.
func (r *Retriever) search(ctx context.Context, q Query) (dense, sparse []storage.ScoredDoc, err error) {
	vectors, err := r.embedder.Embed(ctx, []string{q.Text})
	if err != nil {
		return nil, nil, craderrors.New(craderrors.KindProvider, "retriever.search.Embed", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		d, searchErr := r.backend.SearchDense(gctx, q.RepoID, vectors[0], searchTopK)
		if searchErr != nil {
			return craderrors.New(craderrors.KindTransientStorage, "retriever.search.SearchDense", searchErr)
		}
		dense = d
		return nil
	})

	g.Go(func() error {
		s, searchErr := r.backend.SearchSparse(gctx, q.RepoID, q.Text, searchTopK)
		if searchErr != nil {
			return craderrors.New(craderrors.KindTransientStorage, "retriever.search.SearchSparse", searchErr)
		}
		sparse = s
		return nil
	})

	if waitErr := g.Wait(); waitErr != nil {
		return nil, nil, waitErr
	}

	return dense, sparse, nil
}
