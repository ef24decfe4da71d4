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

package nodes

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/kindalus/antbox/pkg/auth"
	"github.com/kindalus/antbox/pkg/errtypes"
	"github.com/kindalus/antbox/pkg/eventbus"
	"github.com/kindalus/antbox/pkg/node"
)

// cascadeConcurrency bounds the sibling fan-out of a folder delete.
const cascadeConcurrency = 8

// Delete removes the node. Folders cascade to their subtree; file blobs are
// removed from storage before the metadata row, so a storage failure leaves
// the row in place for a retry. System singletons are indelible.
func (s *Service) Delete(ctx context.Context, id string) error {
	actx, err := s.authFrom(ctx)
	if err != nil {
		return err
	}
	n, err := s.resolve(ctx, id)
	if err != nil {
		return err
	}
	if n.IsSystem() {
		return errtypes.Forbidden("system node " + n.UUID + " cannot be deleted")
	}
	if err := s.assertWrite(ctx, actx, n); err != nil {
		return err
	}
	return s.deleteTree(ctx, actx, n)
}

// deleteTree removes the subtree rooted at n. The permission check happened
// at the cascade root; children fall with their folder.
func (s *Service) deleteTree(ctx context.Context, actx auth.Context, n *node.Node) error {
	if n.IsFolder() {
		children, err := s.listChildren(ctx, n.UUID)
		if err != nil {
			return err
		}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(cascadeConcurrency)
		for _, child := range children {
			child := child
			g.Go(func() error {
				return s.deleteTree(gctx, actx, child)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}

	if n.IsFile() {
		if err := s.store.Delete(ctx, n.UUID); err != nil {
			// The row survives so the delete can be retried once the
			// provider recovers.
			return err
		}
	}

	if err := s.repo.Delete(ctx, n.UUID); err != nil {
		return err
	}

	s.bus.Publish(eventbus.NodeDeleted{Tenant: s.tenant, Node: n})
	if n.IsUser() {
		s.bus.Publish(eventbus.UserDeleted{Tenant: s.tenant, Email: n.Email})
	}
	s.record(ctx, actx, n, "node.deleted", map[string]interface{}{
		"title":  n.Title,
		"parent": n.Parent,
	})
	return nil
}
