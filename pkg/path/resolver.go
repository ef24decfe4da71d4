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

package path

import (
	"context"
	"net/url"
	"strings"

	"github.com/kindalus/antbox/pkg/auth"
	"github.com/kindalus/antbox/pkg/errtypes"
	"github.com/kindalus/antbox/pkg/eventbus"
	"github.com/kindalus/antbox/pkg/node"
	"github.com/kindalus/antbox/pkg/node/filter"
	"github.com/kindalus/antbox/pkg/nodes"
)

// Resolver turns slash-separated paths into nodes by walking folder titles,
// consulting the cache for the deepest known ancestor. Cache hits are
// re-validated through the node service so permissions always apply.
type Resolver struct {
	svc   *nodes.Service
	cache *Cache
}

// NewResolver builds a resolver and subscribes its invalidation rules to the
// service bus. Renames and moves flush the tenant because every descendant
// path changes with them; deletes flush only the affected associations.
func NewResolver(svc *nodes.Service, cache *Cache) *Resolver {
	r := &Resolver{svc: svc, cache: cache}

	bus := svc.Bus()
	bus.Subscribe(func(ev interface{}) {
		e := ev.(eventbus.NodeUpdated)
		if e.TitleChanged || e.PreviousParent != e.NewParent {
			cache.InvalidateTenant(e.Tenant)
			return
		}
	}, eventbus.NodeUpdated{})
	bus.Subscribe(func(ev interface{}) {
		e := ev.(eventbus.NodeDeleted)
		cache.InvalidateByUUID(e.Tenant, e.Node.UUID)
	}, eventbus.NodeDeleted{})

	return r
}

// Resolve maps a path to its node. Segments are percent-decoded; "" and "/"
// address the root folder.
func (r *Resolver) Resolve(ctx context.Context, p string) (*node.Node, error) {
	segments, err := splitPath(p)
	if err != nil {
		return nil, err
	}
	if len(segments) == 0 {
		return r.svc.Get(ctx, node.RootFolderUUID)
	}

	tenant := r.svc.Tenant()
	user := ""
	if actx, ok := auth.ContextGet(ctx); ok {
		user = actx.Principal.Email
	}

	// Start from the deepest cached ancestor that still resolves.
	start := 0
	current, err := r.svc.Get(ctx, node.RootFolderUUID)
	if err != nil {
		return nil, err
	}
	for i := len(segments); i > 0; i-- {
		prefix := "/" + strings.Join(segments[:i], "/")
		uuid, ok := r.cache.Get(tenant, user, prefix)
		if !ok {
			continue
		}
		n, gerr := r.svc.Get(ctx, uuid)
		if gerr != nil {
			r.cache.InvalidatePath(tenant, prefix)
			continue
		}
		current, start = n, i
		break
	}

	for i := start; i < len(segments); i++ {
		child, err := r.child(ctx, current, segments[i])
		if err != nil {
			return nil, err
		}
		current = child
		r.cache.Put(tenant, user, "/"+strings.Join(segments[:i+1], "/"), current.UUID)
	}
	return current, nil
}

// child finds the member of parent titled title. When several children share
// the title the first in the repository ordering wins.
func (r *Resolver) child(ctx context.Context, parent *node.Node, title string) (*node.Node, error) {
	f := filter.From(
		filter.New("parent", filter.OpEqual, parent.UUID),
		filter.New("title", filter.OpEqual, title),
	)
	page, err := r.svc.Find(ctx, f, 2, 1)
	if err != nil {
		return nil, err
	}
	if len(page.Nodes) == 0 {
		return nil, errtypes.NotFound(title + " under " + parent.UUID)
	}
	return page.Nodes[0], nil
}

func splitPath(p string) ([]string, error) {
	p = strings.Trim(strings.TrimSpace(p), "/")
	if p == "" {
		return nil, nil
	}
	raw := strings.Split(p, "/")
	out := make([]string, 0, len(raw))
	for _, seg := range raw {
		if seg == "" || seg == "." {
			continue
		}
		if seg == ".." {
			return nil, errtypes.BadRequest("path traversal is not allowed")
		}
		decoded, err := url.PathUnescape(seg)
		if err != nil {
			return nil, errtypes.BadRequest("malformed path segment " + seg)
		}
		out = append(out, decoded)
	}
	return out, nil
}
