// Copyright 2018-2021 CERN
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// In applying this license, CERN does not waive the privileges and immunities
// granted to it by virtue of its status as an Intergovernmental Organization
// or submit itself to any jurisdiction.

// Package memory provides an in-memory repository. It is the canonical
// implementation of the filter semantics and doubles as the vector index
// reference with a brute-force cosine search.
package memory

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/kindalus/antbox/pkg/errtypes"
	"github.com/kindalus/antbox/pkg/node"
	"github.com/kindalus/antbox/pkg/node/filter"
	"github.com/kindalus/antbox/pkg/repository"
	"github.com/kindalus/antbox/pkg/repository/registry"
)

func init() {
	registry.Register("memory", New)
}

// New returns an in-memory repository.
func New(_ map[string]interface{}) (repository.Repository, error) {
	return &mem{
		nodes:      map[string]*node.Node{},
		fids:       map[string]string{},
		embeddings: map[string][]float32{},
	}, nil
}

type mem struct {
	mu         sync.RWMutex
	nodes      map[string]*node.Node
	fids       map[string]string
	embeddings map[string][]float32
}

func (m *mem) Add(_ context.Context, n *node.Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.nodes[n.UUID]; ok {
		return errtypes.Duplicated("uuid: " + n.UUID)
	}
	if n.FID != "" {
		if _, ok := m.fids[n.FID]; ok {
			return errtypes.Duplicated("fid: " + n.FID)
		}
	}
	m.nodes[n.UUID] = n.Clone()
	if n.FID != "" {
		m.fids[n.FID] = n.UUID
	}
	return nil
}

func (m *mem) GetByUUID(_ context.Context, uuid string) (*node.Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[uuid]
	if !ok {
		return nil, errtypes.NotFound(uuid)
	}
	return n.Clone(), nil
}

func (m *mem) GetByFID(_ context.Context, fid string) (*node.Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	uuid, ok := m.fids[fid]
	if !ok {
		return nil, errtypes.NotFound("fid: " + fid)
	}
	return m.nodes[uuid].Clone(), nil
}

func (m *mem) Update(_ context.Context, n *node.Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.nodes[n.UUID]
	if !ok {
		return errtypes.NotFound(n.UUID)
	}
	if old.FID != n.FID {
		if n.FID != "" {
			if taken, ok := m.fids[n.FID]; ok && taken != n.UUID {
				return errtypes.Duplicated("fid: " + n.FID)
			}
		}
		delete(m.fids, old.FID)
		if n.FID != "" {
			m.fids[n.FID] = n.UUID
		}
	}
	m.nodes[n.UUID] = n.Clone()
	return nil
}

func (m *mem) Delete(_ context.Context, uuid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[uuid]
	if !ok {
		return errtypes.NotFound(uuid)
	}
	delete(m.nodes, uuid)
	delete(m.fids, n.FID)
	delete(m.embeddings, uuid)
	return nil
}

func (m *mem) Filter(_ context.Context, f filter.Filters, pageSize, pageToken int) (repository.Page, error) {
	if pageSize <= 0 {
		pageSize = 25
	}
	if pageToken <= 0 {
		pageToken = 1
	}

	m.mu.RLock()
	matched := make([]*node.Node, 0)
	for _, n := range m.nodes {
		if filter.Matches(f, n.Metadata()) {
			matched = append(matched, n.Clone())
		}
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Title != matched[j].Title {
			return matched[i].Title < matched[j].Title
		}
		return matched[i].UUID < matched[j].UUID
	})

	start := (pageToken - 1) * pageSize
	if start > len(matched) {
		start = len(matched)
	}
	end := start + pageSize
	if end > len(matched) {
		end = len(matched)
	}
	return repository.Page{Nodes: matched[start:end], PageSize: pageSize, PageToken: pageToken}, nil
}

func (m *mem) Close() error { return nil }

// SupportsEmbeddings implements the optional vector extension.
func (m *mem) SupportsEmbeddings() bool { return true }

// UpsertEmbedding stores the vector of a node.
func (m *mem) UpsertEmbedding(_ context.Context, uuid string, vec []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.nodes[uuid]; !ok {
		return errtypes.NotFound(uuid)
	}
	m.embeddings[uuid] = append([]float32(nil), vec...)
	return nil
}

// VectorSearch ranks all indexed nodes by cosine similarity, descending.
func (m *mem) VectorSearch(_ context.Context, vec []float32, topK int) ([]repository.Match, error) {
	m.mu.RLock()
	matches := make([]repository.Match, 0, len(m.embeddings))
	for uuid, emb := range m.embeddings {
		n, ok := m.nodes[uuid]
		if !ok {
			continue
		}
		matches = append(matches, repository.Match{Node: n.Clone(), Score: cosine(vec, emb)})
	}
	m.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if topK > 0 && topK < len(matches) {
		matches = matches[:topK]
	}
	return matches, nil
}

// DeleteEmbedding drops the vector of a node.
func (m *mem) DeleteEmbedding(_ context.Context, uuid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.embeddings, uuid)
	return nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
