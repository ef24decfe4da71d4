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

// Package repository defines the durable node metadata store contract.
// A repository instance is scoped to one tenant; the daemon builds one per
// tenant from its configuration.
package repository

import (
	"context"

	"github.com/kindalus/antbox/pkg/node"
	"github.com/kindalus/antbox/pkg/node/filter"
)

// PromotedFields are the envelope fields backends may project into direct
// columns for query planners. The full envelope lives in a JSON document.
var PromotedFields = []string{"uuid", "fid", "title", "parent", "mimetype"}

// Page is one result page of a Filter call. The token is 1-based.
type Page struct {
	Nodes     []*node.Node
	PageSize  int
	PageToken int
}

// Repository is the durable metadata store port. All operations are fallible
// and idempotent with respect to repeated success.
type Repository interface {
	// Add stores a new node. Fails with a Duplicated error when the uuid
	// or the fid is already taken.
	Add(ctx context.Context, n *node.Node) error
	// GetByUUID returns the node or a NotFound error.
	GetByUUID(ctx context.Context, uuid string) (*node.Node, error)
	// GetByFID returns the node or a NotFound error.
	GetByFID(ctx context.Context, fid string) (*node.Node, error)
	// Update replaces an existing node. The node must exist.
	Update(ctx context.Context, n *node.Node) error
	// Delete removes an existing node. The node must exist.
	Delete(ctx context.Context, uuid string) error
	// Filter returns the nodes satisfying the DNF predicate, paged.
	// Backends must preserve the canonical filter semantics; translations
	// that cannot express an operator over-approximate and post-filter.
	Filter(ctx context.Context, f filter.Filters, pageSize, pageToken int) (Page, error)
	// Close releases backend resources.
	Close() error
}

// Match pairs a node with its similarity score.
type Match struct {
	Node  *node.Node
	Score float64
}

// VectorIndex is the optional embedding extension of a repository.
type VectorIndex interface {
	// SupportsEmbeddings reports whether the backend maintains an index.
	SupportsEmbeddings() bool
	// UpsertEmbedding stores the vector of a node.
	UpsertEmbedding(ctx context.Context, uuid string, vec []float32) error
	// VectorSearch returns up to topK matches ordered by score descending.
	VectorSearch(ctx context.Context, vec []float32, topK int) ([]Match, error)
	// DeleteEmbedding drops the vector of a node.
	DeleteEmbedding(ctx context.Context, uuid string) error
}
