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

	"github.com/kindalus/antbox/pkg/node/filter"
)

// Metadata renders the node as a generic envelope map. This is the canonical
// representation consumed by the filter evaluator and persisted by the
// repositories. Filters are encoded in their textual form; timestamps as
// RFC-3339 UTC. On aspect nodes the "properties" key carries the schema
// definition instead of a values map.
func (n *Node) Metadata() map[string]interface{} {
	md := map[string]interface{}{
		"uuid":         n.UUID,
		"title":        n.Title,
		"parent":       n.Parent,
		"mimetype":     n.Mimetype,
		"owner":        n.Owner,
		"createdTime":  n.CreatedTime.UTC().Format(time.RFC3339),
		"modifiedTime": n.ModifiedTime.UTC().Format(time.RFC3339),
		"permissions":  permissionsToMap(n.Permissions),
	}
	if n.FID != "" {
		md["fid"] = n.FID
	}
	if n.Description != "" {
		md["description"] = n.Description
	}
	if n.Group != "" {
		md["group"] = n.Group
	}
	if n.Locked {
		md["locked"] = true
		md["lockedBy"] = n.LockedBy
		md["unlockAuthorizedGroups"] = stringsToAny(n.UnlockAuthorizedGroups)
	}
	if n.WorkflowInstanceUUID != "" {
		md["workflowInstanceUuid"] = n.WorkflowInstanceUUID
		md["workflowState"] = n.WorkflowState
	}
	if len(n.Aspects) > 0 {
		md["aspects"] = stringsToAny(n.Aspects)
	}

	switch {
	case n.IsAspect():
		md["properties"] = propertiesToAny(n.SchemaProperties)
		if !n.Filters.IsEmpty() {
			md["filters"] = filter.Format(n.Filters)
		}
	default:
		if len(n.Properties) > 0 {
			md["properties"] = n.Properties
		}
	}

	switch n.Mimetype {
	case FolderMimetype:
		if len(n.OnCreate) > 0 {
			md["onCreate"] = stringsToAny(n.OnCreate)
		}
		if len(n.OnUpdate) > 0 {
			md["onUpdate"] = stringsToAny(n.OnUpdate)
		}
	case SmartFolderMimetype, WorkflowMimetype:
		if !n.Filters.IsEmpty() {
			md["filters"] = filter.Format(n.Filters)
		}
	case UserMimetype:
		md["email"] = n.Email
		md["groups"] = stringsToAny(n.Groups)
	case APIKeyMimetype:
		md["group"] = n.Group
		md["secret"] = n.Secret
	default:
		if n.IsFile() {
			md["size"] = float64(n.Size)
		}
	}
	return md
}

func permissionsToMap(p Permissions) map[string]interface{} {
	m := map[string]interface{}{
		"group":         permsToAny(p.Group),
		"authenticated": permsToAny(p.Authenticated),
		"anonymous":     permsToAny(p.Anonymous),
	}
	if len(p.Advanced) > 0 {
		adv := map[string]interface{}{}
		for g, perms := range p.Advanced {
			adv[g] = permsToAny(perms)
		}
		m["advanced"] = adv
	}
	return m
}

func propertiesToAny(props []Property) []interface{} {
	out := make([]interface{}, 0, len(props))
	for _, p := range props {
		m := map[string]interface{}{
			"name": p.Name,
			"type": string(p.Type),
		}
		if p.Title != "" {
			m["title"] = p.Title
		}
		if p.ArrayType != "" {
			m["arrayType"] = string(p.ArrayType)
		}
		if p.Required {
			m["required"] = true
		}
		if p.Readonly {
			m["readonly"] = true
		}
		if p.Searchable {
			m["searchable"] = true
		}
		if p.Default != nil {
			m["default"] = p.Default
		}
		if p.ValidationRegex != "" {
			m["validationRegex"] = p.ValidationRegex
		}
		if len(p.ValidationList) > 0 {
			m["validationList"] = stringsToAny(p.ValidationList)
		}
		if !p.ValidationFilters.IsEmpty() {
			m["validationFilters"] = filter.Format(p.ValidationFilters)
		}
		if p.StringMimetype != "" {
			m["stringMimetype"] = p.StringMimetype
		}
		out = append(out, m)
	}
	return out
}

func stringsToAny(in []string) []interface{} {
	out := make([]interface{}, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func permsToAny(in []Permission) []interface{} {
	out := make([]interface{}, len(in))
	for i, p := range in {
		out[i] = string(p)
	}
	return out
}
