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
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/kindalus/antbox/pkg/aspect"
	"github.com/kindalus/antbox/pkg/auth"
	"github.com/kindalus/antbox/pkg/errtypes"
	"github.com/kindalus/antbox/pkg/eventbus"
	"github.com/kindalus/antbox/pkg/node"
	"github.com/kindalus/antbox/pkg/node/filter"
	"github.com/kindalus/antbox/pkg/storage"
)

// fidAttempts bounds the slug disambiguation loop before falling back to a
// uuid-derived suffix.
const fidAttempts = 8

// FileContent carries the binary of a create-file or update-file call.
type FileContent struct {
	Mimetype string
	Reader   io.Reader
}

// Create adds a metadata-carried node: folders, smart folders, meta nodes,
// aspects, users, groups, api keys, agents, workflows and features. File
// variants go through CreateFile.
func (s *Service) Create(ctx context.Context, metadata map[string]interface{}) (*node.Node, error) {
	n, err := node.FromMetadata(metadata)
	if err != nil {
		return nil, err
	}
	if n.IsFile() {
		return nil, errtypes.BadRequest("mimetype " + n.Mimetype + " carries a binary, use the file create operation")
	}
	return s.create(ctx, n, metadata, nil)
}

// CreateFile adds a file node and writes its binary. The repository row is
// written first; a storage failure rolls it back.
func (s *Service) CreateFile(ctx context.Context, metadata map[string]interface{}, content FileContent) (*node.Node, error) {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	if _, ok := metadata["mimetype"]; !ok && content.Mimetype != "" {
		metadata["mimetype"] = content.Mimetype
	}
	n, err := node.FromMetadata(metadata)
	if err != nil {
		return nil, err
	}
	if !n.IsFile() {
		return nil, errtypes.NodeType("mimetype " + n.Mimetype + " does not carry a binary")
	}
	if content.Reader == nil {
		return nil, errtypes.BadRequest("file content is required")
	}
	return s.create(ctx, n, metadata, content.Reader)
}

func (s *Service) create(ctx context.Context, n *node.Node, metadata map[string]interface{}, content io.Reader) (*node.Node, error) {
	actx, err := s.authFrom(ctx)
	if err != nil {
		return nil, err
	}
	if actx.IsAnonymous() {
		return nil, errtypes.Forbidden("anonymous principals cannot create nodes")
	}

	s.prepare(n, actx, metadata)

	parent, err := s.repo.GetByUUID(ctx, n.Parent)
	if err != nil {
		return nil, err
	}
	if !parent.IsFolder() {
		return nil, errtypes.NodeType("parent " + parent.UUID + " is not a folder")
	}
	if err := s.assertParentWrite(actx, parent); err != nil {
		return nil, err
	}

	if err := n.Validate(); err != nil {
		return nil, err
	}
	if n.IsAspect() {
		if err := aspect.ValidateDefaults(n); err != nil {
			return nil, err
		}
	}
	if err := s.validateAspects(ctx, n); err != nil {
		return nil, err
	}

	if err := s.allocateFid(ctx, n); err != nil {
		return nil, err
	}
	if err := s.repo.Add(ctx, n); err != nil {
		return nil, err
	}

	if content != nil {
		size, werr := s.store.Write(ctx, n.UUID, content, &storage.WriteOptions{
			Parent: n.Parent,
			Title:  n.Title,
		})
		if werr != nil {
			// Compensate: the metadata row must not outlive a blob
			// that was never written.
			_ = s.repo.Delete(ctx, n.UUID)
			return nil, werr
		}
		if size != n.Size {
			n.Size = size
			if uerr := s.repo.Update(ctx, n); uerr != nil {
				return nil, uerr
			}
		}
	}

	s.bus.Publish(eventbus.NodeCreated{Tenant: s.tenant, Node: n})
	if n.IsUser() {
		s.bus.Publish(eventbus.UserCreated{Tenant: s.tenant, Email: n.Email})
	}
	s.record(ctx, actx, n, "node.created", map[string]interface{}{
		"title":    n.Title,
		"parent":   n.Parent,
		"mimetype": n.Mimetype,
	})
	return n, nil
}

// prepare fills the server-assigned envelope fields.
func (s *Service) prepare(n *node.Node, actx auth.Context, metadata map[string]interface{}) {
	if n.UUID == "" {
		n.UUID = uuid.NewString()
	}
	if canonical, ok := node.CanonicalParent(n.Mimetype); ok {
		n.Parent = canonical
	} else if n.Parent == "" {
		n.Parent = node.RootFolderUUID
	}
	if n.Owner == "" {
		n.Owner = actx.Principal.Email
	}
	if n.Group == "" && len(actx.Principal.Groups) > 0 {
		n.Group = actx.Principal.Groups[0]
	}
	if _, ok := metadata["permissions"]; !ok {
		n.Permissions = node.DefaultPermissions()
	}
	now := time.Now().UTC()
	n.CreatedTime = now
	n.ModifiedTime = now
	n.Locked = false
	n.LockedBy = ""
	n.UnlockAuthorizedGroups = nil
	n.WorkflowInstanceUUID = ""
	n.WorkflowState = ""
}

// allocateFid assigns a friendly id derived from the title, probing
// slug, slug-2, … before falling back to a uuid suffix. A caller-supplied
// fid is kept as-is and collides loudly at Add time.
func (s *Service) allocateFid(ctx context.Context, n *node.Node) error {
	if n.FID != "" {
		return nil
	}
	base := node.Slugify(n.Title)
	if base == "" {
		base = "node"
	}
	candidate := base
	for i := 2; i <= fidAttempts; i++ {
		_, err := s.repo.GetByFID(ctx, candidate)
		if isNotFound(err) {
			n.FID = candidate
			return nil
		}
		if err != nil && !isNotFound(err) {
			return err
		}
		candidate = base + "-" + strconv.Itoa(i)
	}
	n.FID = base + "-" + n.UUID[:8]
	return nil
}

// validateAspects applies defaults and validates the node against every
// attached aspect, including the cross-node validation filters.
func (s *Service) validateAspects(ctx context.Context, n *node.Node) error {
	if len(n.Aspects) == 0 {
		return nil
	}
	verr := errtypes.NewValidationError()
	for _, aspectUUID := range n.Aspects {
		def, err := s.repo.GetByUUID(ctx, aspectUUID)
		if err != nil {
			if isNotFound(err) {
				verr.Append(errtypes.PropertyError{
					Property: "aspects",
					Code:     errtypes.CodeInvalidUUID,
					Message:  "aspect " + aspectUUID + " does not exist",
				})
				continue
			}
			return err
		}

		spec, err := aspect.SpecificationFrom(def)
		if err != nil {
			return err
		}

		applyDefaults(n, def)

		if err := spec.IsSatisfiedBy(n); err != nil {
			if sub, ok := err.(*errtypes.ValidationError); ok {
				verr.Merge(sub)
				continue
			}
			return err
		}

		if err := s.checkValidationFilters(ctx, n, def, verr); err != nil {
			return err
		}
	}
	return verr.OrNil()
}

func applyDefaults(n *node.Node, def *node.Node) {
	for _, p := range def.SchemaProperties {
		if p.Default == nil {
			continue
		}
		key := aspect.PropertyKey(def.UUID, p.Name)
		if n.Properties == nil {
			n.Properties = map[string]interface{}{}
		}
		if _, ok := n.Properties[key]; !ok {
			n.Properties[key] = p.Default
		}
	}
}

// checkValidationFilters resolves uuid-typed property values and verifies
// that the referenced nodes satisfy the property's filter constraint.
func (s *Service) checkValidationFilters(ctx context.Context, n *node.Node, def *node.Node, verr *errtypes.ValidationError) error {
	for _, p := range def.SchemaProperties {
		if p.ValidationFilters.IsEmpty() {
			continue
		}
		key := aspect.PropertyKey(def.UUID, p.Name)
		value, ok := n.Properties[key]
		if !ok || value == nil {
			continue
		}
		for _, ref := range referencedUUIDs(value) {
			target, err := s.repo.GetByUUID(ctx, ref)
			if err != nil {
				if isNotFound(err) {
					verr.Append(errtypes.PropertyError{
						Property: key,
						Code:     errtypes.CodePropertyDoesNotMatchFilters,
						Message:  "referenced node " + ref + " does not exist",
					})
					continue
				}
				return err
			}
			if !filter.Matches(p.ValidationFilters, target.Metadata()) {
				verr.Append(errtypes.PropertyError{
					Property: key,
					Code:     errtypes.CodePropertyDoesNotMatchFilters,
					Message:  "referenced node " + ref + " does not satisfy the property filters",
				})
			}
		}
	}
	return nil
}

func referencedUUIDs(value interface{}) []string {
	switch t := value.(type) {
	case string:
		return []string{t}
	case []string:
		return t
	case []interface{}:
		out := []string{}
		for _, v := range t {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
