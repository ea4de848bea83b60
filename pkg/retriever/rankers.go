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
	"sort"

	"github.com/sheeptech/crader/pkg/storage"
)

// fusedDoc is one RRF-fused candidate carrying enough of its originating
// rank to break ties deterministically.
type fusedDoc struct {
	nodeID      string
	score       float64
	vectorScore float64
}

// reciprocalRankFusion combines dense and sparse rankings into one
// ordering: score(doc) = Σ 1/(k + rank + 1) over the modalities doc
// appears in (spec.md §4.8). Ties break by descending vector score, then
// ascending node id, so a doc ranked top in both modalities always
// outranks one ranked top in only one (spec.md §8 invariant 9).
func reciprocalRankFusion(dense, sparse []storage.ScoredDoc, k int) []fusedDoc {
	byNode := make(map[string]*fusedDoc)

	get := func(nodeID string) *fusedDoc {
		d, ok := byNode[nodeID]
		if !ok {
			d = &fusedDoc{nodeID: nodeID}
			byNode[nodeID] = d
		}
		return d
	}

	for rank, doc := range dense {
		d := get(doc.NodeID)
		d.score += 1.0 / float64(k+rank+1)
		d.vectorScore = doc.Score
	}

	for rank, doc := range sparse {
		d := get(doc.NodeID)
		d.score += 1.0 / float64(k+rank+1)
	}

	out := make([]fusedDoc, 0, len(byNode))
	for _, d := range byNode {
		out = append(out, *d)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		if out[i].vectorScore != out[j].vectorScore {
			return out[i].vectorScore > out[j].vectorScore
		}
		return out[i].nodeID < out[j].nodeID
	})

	return out
}
