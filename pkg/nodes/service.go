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

// Package nodes implements the node lifecycle kernel of a tenant: creation,
// retrieval, mutation, deletion and querying of typed nodes, with permission
// enforcement, aspect validation and two-phase coordination between the
// metadata repository and the blob storage provider.
package nodes

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/kindalus/antbox/pkg/appctx"
	"github.com/kindalus/antbox/pkg/auth"
	"github.com/kindalus/antbox/pkg/errtypes"
	"github.com/kindalus/antbox/pkg/eventbus"
	"github.com/kindalus/antbox/pkg/eventstore"
	"github.com/kindalus/antbox/pkg/node"
	"github.com/kindalus/antbox/pkg/node/filter"
	"github.com/kindalus/antbox/pkg/permissions"
	"github.com/kindalus/antbox/pkg/repository"
	"github.com/kindalus/antbox/pkg/storage"
)

// maxDepth bounds every parent-chain walk so that a corrupt graph cannot
// loop the service.
const maxDepth = 128

// pageSize used for internal full scans (children listings, cascades).
const scanPageSize = 500

// Options configure a tenant service. Repository and Storage are mandatory;
// Bus defaults to a private bus and Audit is optional.
type Options struct {
	Tenant     string
	Repository repository.Repository
	Storage    storage.Storage
	Bus        *eventbus.Bus
	Audit      eventstore.Store
}

// Service is the node kernel of one tenant. All operations read the
// authentication context stored in ctx; a missing context is treated as
// unauthorized rather than anonymous so that callers opt into anonymity
// explicitly.
type Service struct {
	tenant string
	repo   repository.Repository
	store  storage.Storage
	bus    *eventbus.Bus
	audit  eventstore.Store
}

// New builds the service and provisions the system singletons of the tenant.
func New(ctx context.Context, opts Options) (*Service, error) {
	if opts.Repository == nil {
		return nil, errors.New("nodes: repository is required")
	}
	if opts.Storage == nil {
		return nil, errors.New("nodes: storage is required")
	}
	bus := opts.Bus
	if bus == nil {
		bus = eventbus.New()
	}
	s := &Service{
		tenant: opts.Tenant,
		repo:   opts.Repository,
		store:  opts.Storage,
		bus:    bus,
		audit:  opts.Audit,
	}
	if err := s.bootstrap(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Bus exposes the tenant event bus so that listeners (path caches, mirrored
// storage providers) can subscribe.
func (s *Service) Bus() *eventbus.Bus { return s.bus }

// Tenant returns the tenant this service is scoped to.
func (s *Service) Tenant() string { return s.tenant }

// bootstrap persists the system folders and the admins group when missing.
// The root and anonymous users are built-in principals and never stored.
func (s *Service) bootstrap(ctx context.Context) error {
	now := time.Now().UTC()
	builtins := []*node.Node{
		systemFolder(node.RootFolderUUID, "Root", node.RootFolderUUID, now),
		systemFolder(node.AspectsFolderUUID, "Aspects", node.RootFolderUUID, now),
		systemFolder(node.UsersFolderUUID, "Users", node.RootFolderUUID, now),
		systemFolder(node.GroupsFolderUUID, "Groups", node.RootFolderUUID, now),
		systemFolder(node.APIKeysFolderUUID, "API Keys", node.RootFolderUUID, now),
		systemFolder(node.AgentsFolderUUID, "Agents", node.RootFolderUUID, now),
		systemFolder(node.WorkflowsFolderUUID, "Workflows", node.RootFolderUUID, now),
		systemFolder(node.FeaturesFolderUUID, "Features", node.RootFolderUUID, now),
		{
			UUID:         node.AdminsGroupUUID,
			FID:          "admins",
			Title:        "Admins",
			Parent:       node.GroupsFolderUUID,
			Mimetype:     node.GroupMimetype,
			Owner:        auth.RootEmail,
			CreatedTime:  now,
			ModifiedTime: now,
			Permissions:  systemPermissions(),
		},
	}

	for _, b := range builtins {
		_, err := s.repo.GetByUUID(ctx, b.UUID)
		if err == nil {
			continue
		}
		if !isNotFound(err) {
			return errors.Wrap(err, "nodes: bootstrap probe failed")
		}
		if err := s.repo.Add(ctx, b); err != nil && !isDuplicated(err) {
			return errors.Wrap(err, "nodes: bootstrap of "+b.UUID+" failed")
		}
	}
	return nil
}

func systemFolder(uuid, title, parent string, now time.Time) *node.Node {
	return &node.Node{
		UUID:         uuid,
		FID:          node.Slugify(title),
		Title:        title,
		Parent:       parent,
		Mimetype:     node.FolderMimetype,
		Owner:        auth.RootEmail,
		Group:        node.AdminsGroupUUID,
		CreatedTime:  now,
		ModifiedTime: now,
		Permissions:  systemPermissions(),
	}
}

func systemPermissions() node.Permissions {
	return node.Permissions{
		Group:         []node.Permission{node.PermissionRead, node.PermissionWrite, node.PermissionExport},
		Authenticated: []node.Permission{node.PermissionRead},
		Anonymous:     []node.Permission{},
	}
}

// Get returns the node addressed by uuid or by the --fid--<fid> compound
// form, after the read check.
func (s *Service) Get(ctx context.Context, id string) (*node.Node, error) {
	actx, err := s.authFrom(ctx)
	if err != nil {
		return nil, err
	}
	n, err := s.resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.assertRead(ctx, actx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// Breadcrumbs returns the chain from the root folder down to the node,
// inclusive. Readable only when the whole chain is readable.
func (s *Service) Breadcrumbs(ctx context.Context, id string) ([]*node.Node, error) {
	actx, err := s.authFrom(ctx)
	if err != nil {
		return nil, err
	}
	n, err := s.resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.assertRead(ctx, actx, n); err != nil {
		return nil, err
	}

	chain, err := s.ancestors(ctx, n)
	if err != nil {
		return nil, err
	}
	// ancestors returns nearest-first; breadcrumbs are root-first.
	out := make([]*node.Node, 0, len(chain)+1)
	for i := len(chain) - 1; i >= 0; i-- {
		out = append(out, chain[i])
	}
	return append(out, n), nil
}

func (s *Service) resolve(ctx context.Context, id string) (*node.Node, error) {
	if id == "" {
		id = node.RootFolderUUID
	}
	if node.IsFidID(id) {
		return s.repo.GetByFID(ctx, node.FidFromID(id))
	}
	return s.repo.GetByUUID(ctx, id)
}

func (s *Service) authFrom(ctx context.Context) (auth.Context, error) {
	actx, ok := auth.ContextGet(ctx)
	if !ok {
		return auth.Context{}, errtypes.Unauthorized("no authentication context")
	}
	return actx, nil
}

// ancestors walks the parent chain nearest-first, stopping at the root
// folder. The root folder is its own parent and is never repeated.
func (s *Service) ancestors(ctx context.Context, n *node.Node) ([]*node.Node, error) {
	out := []*node.Node{}
	current := n
	for depth := 0; depth < maxDepth; depth++ {
		if current.UUID == node.RootFolderUUID {
			return out, nil
		}
		parent, err := s.repo.GetByUUID(ctx, current.Parent)
		if err != nil {
			return nil, err
		}
		out = append(out, parent)
		current = parent
	}
	return nil, errtypes.BadRequest("parent chain of " + n.UUID + " exceeds the depth limit")
}

// assertRead enforces the read permission on the node and on every ancestor
// up to the root. Admins skip the walk.
func (s *Service) assertRead(ctx context.Context, actx auth.Context, n *node.Node) error {
	if permissions.IsAdmin(actx) {
		return nil
	}
	if !permissions.Can(actx, n, node.PermissionRead) {
		return errtypes.Forbidden("read denied on " + n.UUID)
	}
	chain, err := s.ancestors(ctx, n)
	if err != nil {
		return err
	}
	for _, anc := range chain {
		if !permissions.Can(actx, anc, node.PermissionRead) {
			return errtypes.Forbidden("read denied on ancestor " + anc.UUID)
		}
	}
	return nil
}

// assertWrite enforces the lock rule, the write permission on the node and
// the write permission on the immediate parent.
func (s *Service) assertWrite(ctx context.Context, actx auth.Context, n *node.Node) error {
	if err := lockGuard(actx, n); err != nil {
		return err
	}
	if !permissions.Can(actx, n, node.PermissionWrite) {
		return errtypes.Forbidden("write denied on " + n.UUID)
	}
	if permissions.IsAdmin(actx) || n.UUID == node.RootFolderUUID {
		return nil
	}
	parent, err := s.repo.GetByUUID(ctx, n.Parent)
	if err != nil {
		return err
	}
	if !permissions.Can(actx, parent, node.PermissionWrite) {
		return errtypes.Forbidden("write denied on parent " + parent.UUID)
	}
	return nil
}

// assertParentWrite checks that nodes may be created under parent.
func (s *Service) assertParentWrite(actx auth.Context, parent *node.Node) error {
	if err := lockGuard(actx, parent); err != nil {
		return err
	}
	if !permissions.Can(actx, parent, node.PermissionWrite) {
		return errtypes.Forbidden("write denied on parent " + parent.UUID)
	}
	return nil
}

func lockGuard(actx auth.Context, n *node.Node) error {
	if n.Locked && !permissions.CanMutateLocked(actx, n) {
		return errtypes.Forbidden("node " + n.UUID + " is locked by " + n.LockedBy)
	}
	return nil
}

// listChildren pages through every direct child of a folder.
func (s *Service) listChildren(ctx context.Context, parentUUID string) ([]*node.Node, error) {
	f := filter.From(filter.New("parent", filter.OpEqual, parentUUID))
	out := []*node.Node{}
	for token := 1; ; token++ {
		page, err := s.repo.Filter(ctx, f, scanPageSize, token)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Nodes...)
		if len(page.Nodes) < scanPageSize {
			return out, nil
		}
	}
}

// record appends an audit event for the node. Audit failures are logged and
// never fail the operation: the repository write is the source of truth.
func (s *Service) record(ctx context.Context, actx auth.Context, n *node.Node, eventType string, payload map[string]interface{}) {
	if s.audit == nil {
		return
	}
	if payload == nil {
		payload = map[string]interface{}{}
	}
	payload["actor"] = actx.Principal.Email
	_, err := s.audit.Append(ctx, n.UUID, n.Mimetype, eventstore.Event{
		Type:       eventType,
		Payload:    payload,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		appctx.GetLogger(ctx).Error().Err(err).
			Str("node", n.UUID).Str("event", eventType).
			Msg("audit append failed")
	}
}

func isNotFound(err error) bool {
	_, ok := err.(errtypes.IsNotFound)
	return ok
}

func isDuplicated(err error) bool {
	_, ok := err.(errtypes.IsDuplicated)
	return ok
}

func isFileNotFound(err error) bool {
	_, ok := err.(errtypes.IsFileNotFound)
	return ok
}
