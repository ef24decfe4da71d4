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
	"io"

	"github.com/kindalus/antbox/pkg/auth"
	"github.com/kindalus/antbox/pkg/errtypes"
	"github.com/kindalus/antbox/pkg/node"
	"github.com/kindalus/antbox/pkg/node/filter"
	"github.com/kindalus/antbox/pkg/permissions"
	"github.com/kindalus/antbox/pkg/repository"
)

// List returns the visible members of a container. Folders list their direct
// children; smart folders evaluate their stored filters. Members the caller
// cannot read are omitted, not errored.
func (s *Service) List(ctx context.Context, parentID string) ([]*node.Node, error) {
	actx, err := s.authFrom(ctx)
	if err != nil {
		return nil, err
	}
	parent, err := s.resolve(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if err := s.assertRead(ctx, actx, parent); err != nil {
		return nil, err
	}

	switch {
	case parent.IsFolder():
		children, err := s.listChildren(ctx, parent.UUID)
		if err != nil {
			return nil, err
		}
		return s.pruneUnreadable(ctx, actx, children), nil
	case parent.IsSmartFolder():
		return s.evaluateSmartFolder(ctx, actx, parent)
	default:
		return nil, errtypes.NodeType("node " + parent.UUID + " is not a container")
	}
}

func (s *Service) evaluateSmartFolder(ctx context.Context, actx auth.Context, sf *node.Node) ([]*node.Node, error) {
	out := []*node.Node{}
	for token := 1; ; token++ {
		page, err := s.repo.Filter(ctx, sf.Filters, scanPageSize, token)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Nodes...)
		if len(page.Nodes) < scanPageSize {
			break
		}
	}
	return s.pruneUnreadable(ctx, actx, out), nil
}

// Find runs a DNF query and prunes unreadable matches from the page. A page
// may therefore come back shorter than pageSize even when more matches
// exist; the token still advances over the unpruned result set.
func (s *Service) Find(ctx context.Context, f filter.Filters, pageSize, pageToken int) (repository.Page, error) {
	actx, err := s.authFrom(ctx)
	if err != nil {
		return repository.Page{}, err
	}
	page, err := s.repo.Filter(ctx, f, pageSize, pageToken)
	if err != nil {
		return repository.Page{}, err
	}
	page.Nodes = s.pruneUnreadable(ctx, actx, page.Nodes)
	return page, nil
}

// Export returns the binary of a file node. Requires the export permission
// on the node and read on its ancestor chain.
func (s *Service) Export(ctx context.Context, id string) (io.ReadCloser, *node.Node, error) {
	actx, err := s.authFrom(ctx)
	if err != nil {
		return nil, nil, err
	}
	n, err := s.resolve(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !n.IsFile() {
		return nil, nil, errtypes.NodeType("node " + n.UUID + " does not carry a binary")
	}
	if err := s.assertRead(ctx, actx, n); err != nil {
		return nil, nil, err
	}
	if !permissions.Can(actx, n, node.PermissionExport) {
		return nil, nil, errtypes.Forbidden("export denied on " + n.UUID)
	}

	rc, err := s.store.Read(ctx, n.UUID)
	if err != nil {
		return nil, nil, err
	}
	return rc, n, nil
}

// pruneUnreadable drops the nodes the principal cannot read, memoizing the
// ancestor verdicts so shared chains are walked once per call.
func (s *Service) pruneUnreadable(ctx context.Context, actx auth.Context, in []*node.Node) []*node.Node {
	if permissions.IsAdmin(actx) {
		return in
	}
	verdicts := map[string]bool{}
	out := make([]*node.Node, 0, len(in))
	for _, n := range in {
		if s.readable(ctx, actx, n, verdicts) {
			out = append(out, n)
		}
	}
	return out
}

func (s *Service) readable(ctx context.Context, actx auth.Context, n *node.Node, verdicts map[string]bool) bool {
	if v, ok := verdicts[n.UUID]; ok {
		return v
	}
	ok := permissions.Can(actx, n, node.PermissionRead)
	if ok && n.UUID != node.RootFolderUUID {
		parent, err := s.repo.GetByUUID(ctx, n.Parent)
		if err != nil {
			ok = false
		} else {
			ok = s.readable(ctx, actx, parent, verdicts)
		}
	}
	verdicts[n.UUID] = ok
	return ok
}
