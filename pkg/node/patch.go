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

package node

import (
	"time"

	"github.com/kindalus/antbox/pkg/errtypes"
	"github.com/kindalus/antbox/pkg/node/filter"
)

// Fields managed exclusively by the service. A patch naming one of these is
// rejected with ReadonlyProperty; lock and workflow state change only through
// their dedicated operations.
var readonlyFields = map[string]struct{}{
	"uuid": {}, "mimetype": {}, "createdTime": {}, "modifiedTime": {},
	"owner": {}, "size": {}, "locked": {}, "lockedBy": {},
	"unlockAuthorizedGroups": {}, "workflowInstanceUuid": {},
	"workflowState": {}, "email": {},
}

// Apply merges a metadata patch into the node, advancing modifiedTime.
// Immutable fields are rejected, the title cannot be cleared, and
// system-scoped variants cannot leave their canonical parent. The caller
// re-runs Validate afterwards.
func (n *Node) Apply(patch map[string]interface{}) error {
	verr := errtypes.NewValidationError()

	for key, value := range patch {
		if _, ok := readonlyFields[key]; ok {
			verr.Append(errtypes.PropertyError{
				Property: key,
				Code:     errtypes.CodeReadonlyProperty,
				Message:  "field is immutable",
			})
			continue
		}

		switch key {
		case "title":
			title := asString(value)
			if title == "" {
				verr.Append(errtypes.PropertyError{
					Property: "title",
					Code:     errtypes.CodeNodeTitleRequired,
					Message:  "title cannot be cleared",
				})
				continue
			}
			n.Title = title
		case "description":
			n.Description = asString(value)
		case "fid":
			n.FID = asString(value)
		case "parent":
			parent := asString(value)
			if canonical, ok := CanonicalParent(n.Mimetype); ok && parent != canonical {
				verr.Append(errtypes.PropertyError{
					Property: "parent",
					Code:     errtypes.CodeReadonlyProperty,
					Message:  "variant cannot leave " + canonical,
				})
				continue
			}
			n.Parent = parent
		case "group":
			n.Group = asString(value)
		case "permissions":
			if m, ok := value.(map[string]interface{}); ok {
				n.Permissions = permissionsFromMap(m)
			}
		case "aspects":
			n.Aspects = asStrings(value)
		case "properties":
			if n.IsAspect() {
				props, err := propertiesFromAny(value)
				if err != nil {
					verr.Append(errtypes.PropertyError{
						Property: "properties",
						Code:     errtypes.CodePropertyType,
						Message:  err.Error(),
					})
					continue
				}
				n.SchemaProperties = props
				continue
			}
			if m, ok := value.(map[string]interface{}); ok {
				if n.Properties == nil {
					n.Properties = map[string]interface{}{}
				}
				for k, v := range m {
					if v == nil {
						delete(n.Properties, k)
						continue
					}
					n.Properties[k] = v
				}
			}
		case "filters":
			switch t := value.(type) {
			case string:
				f, err := filter.Parse(t)
				if err != nil {
					verr.Append(errtypes.PropertyError{
						Property: "filters",
						Code:     errtypes.CodePropertyType,
						Message:  err.Error(),
					})
					continue
				}
				n.Filters = f
			case filter.Filters:
				n.Filters = t
			}
		case "onCreate":
			n.OnCreate = asStrings(value)
		case "onUpdate":
			n.OnUpdate = asStrings(value)
		case "groups":
			n.Groups = asStrings(value)
		case "secret":
			n.Secret = asString(value)
		}
	}

	if err := verr.OrNil(); err != nil {
		return err
	}

	n.ModifiedTime = time.Now().UTC()
	return nil
}

// Clone returns a deep enough copy for the copy-apply-validate update cycle.
func (n *Node) Clone() *Node {
	c := *n
	c.UnlockAuthorizedGroups = append([]string(nil), n.UnlockAuthorizedGroups...)
	c.Aspects = append([]string(nil), n.Aspects...)
	c.OnCreate = append([]string(nil), n.OnCreate...)
	c.OnUpdate = append([]string(nil), n.OnUpdate...)
	c.Groups = append([]string(nil), n.Groups...)
	c.SchemaProperties = append([]Property(nil), n.SchemaProperties...)
	if n.Properties != nil {
		c.Properties = make(map[string]interface{}, len(n.Properties))
		for k, v := range n.Properties {
			c.Properties[k] = v
		}
	}
	if n.Permissions.Advanced != nil {
		c.Permissions.Advanced = make(map[string][]Permission, len(n.Permissions.Advanced))
		for g, perms := range n.Permissions.Advanced {
			c.Permissions.Advanced[g] = append([]Permission(nil), perms...)
		}
	}
	c.Permissions.Group = append([]Permission(nil), n.Permissions.Group...)
	c.Permissions.Authenticated = append([]Permission(nil), n.Permissions.Authenticated...)
	c.Permissions.Anonymous = append([]Permission(nil), n.Permissions.Anonymous...)
	return &c
}
