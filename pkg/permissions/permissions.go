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

// Package permissions resolves the effective permissions of a principal over
// a node. Ancestor propagation (Read up the chain, Write on the immediate
// parent) is enforced by the node service, which owns the parent graph.
package permissions

import (
	"github.com/kindalus/antbox/pkg/auth"
	"github.com/kindalus/antbox/pkg/node"
)

// IsAdmin reports whether the principal bypasses all permission checks:
// the built-in root user and every member of the admins group.
func IsAdmin(ctx auth.Context) bool {
	return ctx.IsRoot() || ctx.Principal.InGroup(node.AdminsGroupUUID)
}

// Can resolves whether the principal holds perm on n.
//
// Resolution order: admin override, lock rule for writes, owner, then the
// union of the vector entries that apply to the principal (anonymous or
// authenticated base, owner-group, advanced ACL).
func Can(ctx auth.Context, n *node.Node, perm node.Permission) bool {
	if IsAdmin(ctx) {
		return true
	}

	// Writes on a locked node are restricted to the locker and the
	// designated unlock groups regardless of the vector.
	if perm == node.PermissionWrite && n.Locked {
		return CanMutateLocked(ctx, n)
	}

	if !ctx.IsAnonymous() && ctx.Principal.Email == n.Owner {
		return true
	}

	if ctx.IsAnonymous() {
		return node.Has(n.Permissions.Anonymous, perm)
	}

	effective := n.Permissions.Authenticated
	if n.Group != "" && ctx.Principal.InGroup(n.Group) {
		effective = union(effective, n.Permissions.Group)
	}
	for _, g := range ctx.Principal.Groups {
		if advanced, ok := n.Permissions.Advanced[g]; ok {
			effective = union(effective, advanced)
		}
	}
	return node.Has(effective, perm)
}

// CanMutateLocked reports whether the principal may write to or unlock a
// locked node: the locking principal, a member of the unlock groups, or an
// admin.
func CanMutateLocked(ctx auth.Context, n *node.Node) bool {
	if IsAdmin(ctx) {
		return true
	}
	if !ctx.IsAnonymous() && ctx.Principal.Email == n.LockedBy {
		return true
	}
	return ctx.Principal.InAnyGroup(n.UnlockAuthorizedGroups)
}

func union(a, b []node.Permission) []node.Permission {
	out := append([]node.Permission(nil), a...)
	for _, p := range b {
		if !node.Has(out, p) {
			out = append(out, p)
		}
	}
	return out
}
