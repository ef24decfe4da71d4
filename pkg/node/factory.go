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

// FromMetadata rehydrates a node from a raw metadata map. The mimetype
// discriminator selects the variant; an absent discriminator fails. The
// inverse of (*Node).Metadata.
func FromMetadata(md map[string]interface{}) (*Node, error) {
	mimetype := asString(md["mimetype"])
	if mimetype == "" {
		return nil, errtypes.BadRequest("metadata has no mimetype discriminator")
	}

	n := &Node{
		UUID:        asString(md["uuid"]),
		FID:         asString(md["fid"]),
		Title:       asString(md["title"]),
		Description: asString(md["description"]),
		Parent:      asString(md["parent"]),
		Mimetype:    mimetype,
		Owner:       asString(md["owner"]),
		Group:       asString(md["group"]),
		Locked:      asBool(md["locked"]),
		LockedBy:    asString(md["lockedBy"]),

		WorkflowInstanceUUID:   asString(md["workflowInstanceUuid"]),
		WorkflowState:          asString(md["workflowState"]),
		UnlockAuthorizedGroups: asStrings(md["unlockAuthorizedGroups"]),
		Aspects:                asStrings(md["aspects"]),
	}

	n.CreatedTime = asTime(md["createdTime"])
	n.ModifiedTime = asTime(md["modifiedTime"])

	if perms, ok := md["permissions"].(map[string]interface{}); ok {
		n.Permissions = permissionsFromMap(perms)
	}

	if n.IsAspect() {
		props, err := propertiesFromAny(md["properties"])
		if err != nil {
			return nil, err
		}
		n.SchemaProperties = props
	} else if props, ok := md["properties"].(map[string]interface{}); ok {
		n.Properties = props
	}

	if raw := asString(md["filters"]); raw != "" {
		f, err := filter.Parse(raw)
		if err != nil {
			return nil, err
		}
		n.Filters = f
	}

	switch mimetype {
	case FolderMimetype:
		n.OnCreate = asStrings(md["onCreate"])
		n.OnUpdate = asStrings(md["onUpdate"])
	case UserMimetype:
		n.Email = asString(md["email"])
		n.Groups = asStrings(md["groups"])
	case APIKeyMimetype:
		n.Secret = asString(md["secret"])
	default:
		if n.IsFile() {
			n.Size = asInt64(md["size"])
		}
	}

	return n, nil
}

func permissionsFromMap(m map[string]interface{}) Permissions {
	p := Permissions{
		Group:         asPerms(m["group"]),
		Authenticated: asPerms(m["authenticated"]),
		Anonymous:     asPerms(m["anonymous"]),
	}
	if adv, ok := m["advanced"].(map[string]interface{}); ok {
		p.Advanced = map[string][]Permission{}
		for g, perms := range adv {
			p.Advanced[g] = asPerms(perms)
		}
	}
	return p
}

func propertiesFromAny(v interface{}) ([]Property, error) {
	items, ok := v.([]interface{})
	if !ok {
		return nil, nil
	}
	props := make([]Property, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, errtypes.BadRequest("aspect property is not an object")
		}
		p := Property{
			Name:            asString(m["name"]),
			Title:           asString(m["title"]),
			Type:            PropertyType(asString(m["type"])),
			ArrayType:       PropertyType(asString(m["arrayType"])),
			Required:        asBool(m["required"]),
			Readonly:        asBool(m["readonly"]),
			Searchable:      asBool(m["searchable"]),
			Default:         m["default"],
			ValidationRegex: asString(m["validationRegex"]),
			ValidationList:  asStrings(m["validationList"]),
			StringMimetype:  asString(m["stringMimetype"]),
		}
		if raw := asString(m["validationFilters"]); raw != "" {
			f, err := filter.Parse(raw)
			if err != nil {
				return nil, err
			}
			p.ValidationFilters = f
		}
		props = append(props, p)
	}
	return props, nil
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asBool(v interface{}) bool {
	b, _ := v.(bool)
	return b
}

func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	default:
		return 0
	}
}

func asTime(v interface{}) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed
		}
	}
	return time.Time{}
}

func asStrings(v interface{}) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func asPerms(v interface{}) []Permission {
	ss := asStrings(v)
	out := make([]Permission, 0, len(ss))
	for _, s := range ss {
		out = append(out, Permission(s))
	}
	return out
}
