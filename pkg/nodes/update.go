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
	"time"

	"github.com/google/uuid"

	"github.com/kindalus/antbox/pkg/aspect"
	"github.com/kindalus/antbox/pkg/auth"
	"github.com/kindalus/antbox/pkg/errtypes"
	"github.com/kindalus/antbox/pkg/eventbus"
	"github.com/kindalus/antbox/pkg/node"
	"github.com/kindalus/antbox/pkg/permissions"
	"github.com/kindalus/antbox/pkg/storage"
)

// Update applies a metadata patch using the clone-apply-validate cycle.
// Moves re-check the destination and reject cycles.
func (s *Service) Update(ctx context.Context, id string, patch map[string]interface{}) (*node.Node, error) {
	actx, err := s.authFrom(ctx)
	if err != nil {
		return nil, err
	}
	current, err := s.resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.IsSystem() {
		return nil, errtypes.Forbidden("system node " + current.UUID + " cannot be modified")
	}
	if err := s.assertWrite(ctx, actx, current); err != nil {
		return nil, err
	}

	updated := current.Clone()
	if err := updated.Apply(patch); err != nil {
		return nil, err
	}
	if err := updated.Validate(); err != nil {
		return nil, err
	}

	if updated.Parent != current.Parent {
		if err := s.checkMove(ctx, actx, current, updated.Parent); err != nil {
			return nil, err
		}
	}

	if _, ok := patch["properties"]; ok && updated.IsAspect() {
		if err := aspect.ValidateDefaults(updated); err != nil {
			return nil, err
		}
	}
	_, aspectsTouched := patch["aspects"]
	_, propsTouched := patch["properties"]
	if (aspectsTouched || propsTouched) && !updated.IsAspect() {
		if err := s.validateAspects(ctx, updated); err != nil {
			return nil, err
		}
	}

	if err := s.repo.Update(ctx, updated); err != nil {
		return nil, err
	}

	changes := make(map[string]interface{}, len(patch))
	for k, v := range patch {
		changes[k] = v
	}
	s.bus.Publish(eventbus.NodeUpdated{
		Tenant:         s.tenant,
		UUID:           updated.UUID,
		Changes:        changes,
		PreviousParent: current.Parent,
		NewParent:      updated.Parent,
		TitleChanged:   updated.Title != current.Title,
	})
	s.record(ctx, actx, updated, "node.updated", map[string]interface{}{
		"changes": changes,
	})
	return updated, nil
}

// checkMove validates the destination of a reparenting patch: it must be an
// existing writable folder and must not sit below the node being moved.
func (s *Service) checkMove(ctx context.Context, actx auth.Context, current *node.Node, destUUID string) error {
	if destUUID == current.UUID {
		return errtypes.BadRequest("node " + current.UUID + " cannot be its own parent")
	}
	dest, err := s.repo.GetByUUID(ctx, destUUID)
	if err != nil {
		return err
	}
	if !dest.IsFolder() {
		return errtypes.NodeType("destination " + dest.UUID + " is not a folder")
	}
	if err := s.assertParentWrite(actx, dest); err != nil {
		return err
	}

	chain, err := s.ancestors(ctx, dest)
	if err != nil {
		return err
	}
	for _, anc := range chain {
		if anc.UUID == current.UUID {
			return errtypes.BadRequest("moving " + current.UUID + " under " + destUUID + " would create a cycle")
		}
	}
	return nil
}

// UpdateFile replaces the binary of a file node. The mimetype is immutable.
func (s *Service) UpdateFile(ctx context.Context, id string, content FileContent) (*node.Node, error) {
	actx, err := s.authFrom(ctx)
	if err != nil {
		return nil, err
	}
	n, err := s.resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	if !n.IsFile() {
		return nil, errtypes.NodeType("node " + n.UUID + " does not carry a binary")
	}
	if content.Mimetype != "" && content.Mimetype != n.Mimetype {
		return nil, errtypes.BadRequest("mimetype is immutable")
	}
	if content.Reader == nil {
		return nil, errtypes.BadRequest("file content is required")
	}
	if err := s.assertWrite(ctx, actx, n); err != nil {
		return nil, err
	}

	size, err := s.store.Write(ctx, n.UUID, content.Reader, &storage.WriteOptions{
		Parent: n.Parent,
		Title:  n.Title,
	})
	if err != nil {
		return nil, err
	}

	n.Size = size
	n.ModifiedTime = time.Now().UTC()
	if err := s.repo.Update(ctx, n); err != nil {
		return nil, err
	}

	s.bus.Publish(eventbus.NodeUpdated{
		Tenant:    s.tenant,
		UUID:      n.UUID,
		Changes:   map[string]interface{}{"size": size},
		NewParent: n.Parent, PreviousParent: n.Parent,
	})
	s.record(ctx, actx, n, "node.content.updated", map[string]interface{}{
		"size": size,
	})
	return n, nil
}

// Lock marks the node as writable only by the locker, the given unlock
// groups and admins. Re-locking an own lock refreshes the groups.
func (s *Service) Lock(ctx context.Context, id string, unlockGroups []string) (*node.Node, error) {
	actx, err := s.authFrom(ctx)
	if err != nil {
		return nil, err
	}
	if actx.IsAnonymous() {
		return nil, errtypes.Forbidden("anonymous principals cannot lock nodes")
	}
	n, err := s.resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.IsSystem() {
		return nil, errtypes.Forbidden("system node " + n.UUID + " cannot be locked")
	}
	if err := s.assertWrite(ctx, actx, n); err != nil {
		return nil, err
	}

	n.Locked = true
	n.LockedBy = actx.Principal.Email
	n.UnlockAuthorizedGroups = append([]string(nil), unlockGroups...)
	n.ModifiedTime = time.Now().UTC()
	if err := s.repo.Update(ctx, n); err != nil {
		return nil, err
	}

	s.bus.Publish(eventbus.NodeUpdated{
		Tenant:  s.tenant,
		UUID:    n.UUID,
		Changes: map[string]interface{}{"locked": true, "lockedBy": n.LockedBy},
		NewParent: n.Parent, PreviousParent: n.Parent,
	})
	s.record(ctx, actx, n, "node.locked", map[string]interface{}{
		"unlockAuthorizedGroups": n.UnlockAuthorizedGroups,
	})
	return n, nil
}

// Unlock clears the lock. Only the locker, the unlock groups and admins may
// do so. Unlocking an unlocked node is a no-op.
func (s *Service) Unlock(ctx context.Context, id string) (*node.Node, error) {
	actx, err := s.authFrom(ctx)
	if err != nil {
		return nil, err
	}
	n, err := s.resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	if !n.Locked {
		return n, nil
	}
	if !permissions.CanMutateLocked(actx, n) {
		return nil, errtypes.Forbidden("node " + n.UUID + " is locked by " + n.LockedBy)
	}

	n.Locked = false
	n.LockedBy = ""
	n.UnlockAuthorizedGroups = nil
	n.ModifiedTime = time.Now().UTC()
	if err := s.repo.Update(ctx, n); err != nil {
		return nil, err
	}

	s.bus.Publish(eventbus.NodeUpdated{
		Tenant:  s.tenant,
		UUID:    n.UUID,
		Changes: map[string]interface{}{"locked": false},
		NewParent: n.Parent, PreviousParent: n.Parent,
	})
	s.record(ctx, actx, n, "node.unlocked", nil)
	return n, nil
}

// Copy duplicates a file or meta node into a destination folder, cloning the
// metadata and the binary. The copy belongs to the caller and starts
// unlocked and unbound from any workflow.
func (s *Service) Copy(ctx context.Context, id, destParent string) (*node.Node, error) {
	actx, err := s.authFrom(ctx)
	if err != nil {
		return nil, err
	}
	if actx.IsAnonymous() {
		return nil, errtypes.Forbidden("anonymous principals cannot copy nodes")
	}
	src, err := s.resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	if !src.IsFile() && !src.IsMeta() {
		return nil, errtypes.NodeType("node " + src.UUID + " cannot be copied")
	}
	if err := s.assertRead(ctx, actx, src); err != nil {
		return nil, err
	}

	if destParent == "" {
		destParent = src.Parent
	}
	dest, err := s.repo.GetByUUID(ctx, destParent)
	if err != nil {
		return nil, err
	}
	if !dest.IsFolder() {
		return nil, errtypes.NodeType("destination " + dest.UUID + " is not a folder")
	}
	if err := s.assertParentWrite(actx, dest); err != nil {
		return nil, err
	}

	dup := src.Clone()
	dup.UUID = uuid.NewString()
	dup.FID = ""
	dup.Title = src.Title + " (copy)"
	dup.Parent = dest.UUID
	dup.Owner = actx.Principal.Email
	dup.Locked = false
	dup.LockedBy = ""
	dup.UnlockAuthorizedGroups = nil
	dup.WorkflowInstanceUUID = ""
	dup.WorkflowState = ""
	now := time.Now().UTC()
	dup.CreatedTime = now
	dup.ModifiedTime = now

	if err := s.allocateFid(ctx, dup); err != nil {
		return nil, err
	}
	if err := s.repo.Add(ctx, dup); err != nil {
		return nil, err
	}

	if src.IsFile() {
		rc, err := s.store.Read(ctx, src.UUID)
		if err != nil {
			_ = s.repo.Delete(ctx, dup.UUID)
			return nil, err
		}
		defer rc.Close()
		size, err := s.store.Write(ctx, dup.UUID, rc, &storage.WriteOptions{
			Parent: dup.Parent,
			Title:  dup.Title,
		})
		if err != nil {
			_ = s.repo.Delete(ctx, dup.UUID)
			return nil, err
		}
		if size != dup.Size {
			dup.Size = size
			if err := s.repo.Update(ctx, dup); err != nil {
				return nil, err
			}
		}
	}

	s.bus.Publish(eventbus.NodeCreated{Tenant: s.tenant, Node: dup})
	s.record(ctx, actx, dup, "node.copied", map[string]interface{}{
		"source": src.UUID,
	})
	return dup, nil
}
