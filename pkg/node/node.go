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

// Package node defines the typed-node model: every addressable entity of the
// engine (file, folder, aspect, user, group, workflow, …) is a Node sharing a
// common metadata envelope. The mimetype is the variant discriminator and is
// immutable after creation.
package node

import (
	"regexp"
	"strings"
	"time"

	"github.com/kindalus/antbox/pkg/node/filter"
)

// Canonical mimetypes of the built-in variants. Any other mimetype denotes a
// plain file whose binary lives in the storage provider.
const (
	FolderMimetype           = "application/vnd.antbox.folder"
	SmartFolderMimetype      = "application/vnd.antbox.smartfolder"
	MetaNodeMimetype         = "application/vnd.antbox.metanode"
	AspectMimetype           = "application/vnd.antbox.aspect"
	UserMimetype             = "application/vnd.antbox.user"
	GroupMimetype            = "application/vnd.antbox.group"
	APIKeyMimetype           = "application/vnd.antbox.apikey"
	AgentMimetype            = "application/vnd.antbox.agent"
	WorkflowMimetype         = "application/vnd.antbox.workflow"
	WorkflowInstanceMimetype = "application/vnd.antbox.workflow-instance"
	FeatureMimetype          = "application/vnd.antbox.feature"
	ArticleMimetype          = "application/vnd.antbox.article"
)

// Reserved uuids of the system singletons. They exist in every tenant and
// cannot be deleted. The root and anonymous users are built-in principals and
// are never persisted as nodes.
const (
	RootFolderUUID      = "--root--"
	AspectsFolderUUID   = "--aspects--"
	UsersFolderUUID     = "--users--"
	GroupsFolderUUID    = "--groups--"
	APIKeysFolderUUID   = "--api-keys--"
	AgentsFolderUUID    = "--agents--"
	WorkflowsFolderUUID = "--workflows--"
	FeaturesFolderUUID  = "--features--"
	AdminsGroupUUID     = "--admins--"
	AnonymousUserUUID   = "--anonymous--"
	RootUserUUID        = "--root--"
	RAGAgentUUID        = "--rag-agent--"
)

// FidPrefix marks a request identifier that addresses a node by its friendly
// id instead of its uuid.
const FidPrefix = "--fid--"

var (
	uuidRegexp         = regexp.MustCompile(`^([\w-]{8,}|--[\w-]{4,}--)$`)
	systemUUIDRegexp   = regexp.MustCompile(`^--[\w-]{4,}--$`)
	emailRegexp        = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	PropertyNameRegexp = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{2,}$`)
)

// Permission is an access right on a node.
type Permission string

// The permission set.
const (
	PermissionRead   Permission = "Read"
	PermissionWrite  Permission = "Write"
	PermissionExport Permission = "Export"
)

// Permissions is the permission vector carried by every non-system node.
// The owner implicitly has every permission; members of the admins group
// bypass the vector entirely.
type Permissions struct {
	Group         []Permission
	Authenticated []Permission
	Anonymous     []Permission
	Advanced      map[string][]Permission
}

// DefaultPermissions is the vector assigned when a create request carries
// none: the owner group gets full access, authenticated users may read.
func DefaultPermissions() Permissions {
	return Permissions{
		Group:         []Permission{PermissionRead, PermissionWrite, PermissionExport},
		Authenticated: []Permission{PermissionRead},
		Anonymous:     []Permission{},
	}
}

// Has reports whether perm is contained in set.
func Has(set []Permission, perm Permission) bool {
	for _, p := range set {
		if p == perm {
			return true
		}
	}
	return false
}

// PropertyType is the type of an aspect property.
type PropertyType string

// The closed set of aspect property types.
const (
	PropertyString   PropertyType = "string"
	PropertyNumber   PropertyType = "number"
	PropertyBoolean  PropertyType = "boolean"
	PropertyDate     PropertyType = "date"
	PropertyDateTime PropertyType = "dateTime"
	PropertyUUID     PropertyType = "uuid"
	PropertyRichText PropertyType = "richText"
	PropertyText     PropertyType = "text"
	PropertyJSON     PropertyType = "json"
	PropertyArray    PropertyType = "array"
)

var propertyTypes = map[PropertyType]struct{}{
	PropertyString: {}, PropertyNumber: {}, PropertyBoolean: {},
	PropertyDate: {}, PropertyDateTime: {}, PropertyUUID: {},
	PropertyRichText: {}, PropertyText: {}, PropertyJSON: {},
	PropertyArray: {},
}

// ValidPropertyType reports whether t is a member of the closed type set.
func ValidPropertyType(t PropertyType) bool {
	_, ok := propertyTypes[t]
	return ok
}

// Property describes one field of an aspect schema. A node storing property
// p of aspect a keys its value as a.UUID + ":" + p.Name inside the generic
// properties map.
type Property struct {
	Name              string
	Title             string
	Type              PropertyType
	ArrayType         PropertyType
	Required          bool
	Readonly          bool
	Searchable        bool
	Default           interface{}
	ValidationRegex   string
	ValidationList    []string
	ValidationFilters filter.Filters
	StringMimetype    string
}

// Node is the universal entity. All variants share the envelope; the
// variant-specific payload fields are meaningful only for their mimetype.
type Node struct {
	UUID                   string
	FID                    string
	Title                  string
	Description            string
	Parent                 string
	Mimetype               string
	Owner                  string
	Group                  string
	CreatedTime            time.Time
	ModifiedTime           time.Time
	Permissions            Permissions
	Locked                 bool
	LockedBy               string
	UnlockAuthorizedGroups []string
	WorkflowInstanceUUID   string
	WorkflowState          string
	Aspects                []string
	Properties             map[string]interface{}

	// File payload. The binary itself lives in the storage provider.
	Size int64

	// Folder payload.
	OnCreate []string
	OnUpdate []string

	// SmartFolder, Aspect and Workflow payload.
	Filters filter.Filters

	// Aspect payload.
	SchemaProperties []Property

	// User payload.
	Email  string
	Groups []string

	// APIKey payload.
	Secret string
}

// IsFolder reports whether the node is a plain folder.
func (n *Node) IsFolder() bool { return n.Mimetype == FolderMimetype }

// IsSmartFolder reports whether the node is a smart folder.
func (n *Node) IsSmartFolder() bool { return n.Mimetype == SmartFolderMimetype }

// IsFile reports whether the node carries a binary in the storage provider.
// Articles are file-like: their rendered body is stored as a blob.
func (n *Node) IsFile() bool {
	return !isBuiltinMimetype(n.Mimetype)
}

// IsAspect reports whether the node is an aspect definition.
func (n *Node) IsAspect() bool { return n.Mimetype == AspectMimetype }

// IsUser reports whether the node is a user.
func (n *Node) IsUser() bool { return n.Mimetype == UserMimetype }

// IsGroup reports whether the node is a group.
func (n *Node) IsGroup() bool { return n.Mimetype == GroupMimetype }

// IsMeta reports whether the node is a metadata-only node.
func (n *Node) IsMeta() bool { return n.Mimetype == MetaNodeMimetype }

// IsAspectable reports whether aspects may be attached to the variant.
func (n *Node) IsAspectable() bool {
	switch n.Mimetype {
	case FolderMimetype, MetaNodeMimetype, ArticleMimetype:
		return true
	default:
		return n.IsFile()
	}
}

// IsSystem reports whether the node is one of the reserved singletons.
func (n *Node) IsSystem() bool { return IsSystemUUID(n.UUID) }

// ETag derives the entity tag from the uuid and the UTC modification time.
func (n *Node) ETag() string {
	return n.UUID + "-" + n.ModifiedTime.UTC().Format("20060102150405")
}

func isBuiltinMimetype(m string) bool {
	switch m {
	case FolderMimetype, SmartFolderMimetype, MetaNodeMimetype, AspectMimetype,
		UserMimetype, GroupMimetype, APIKeyMimetype, AgentMimetype,
		WorkflowMimetype, WorkflowInstanceMimetype, FeatureMimetype:
		return true
	}
	return false
}

// IsSystemUUID reports whether uuid follows the reserved --slug-- pattern.
func IsSystemUUID(uuid string) bool { return systemUUIDRegexp.MatchString(uuid) }

// ValidUUID reports whether uuid follows the accepted identifier format.
func ValidUUID(uuid string) bool { return uuidRegexp.MatchString(uuid) }

// ValidEmail reports whether email has the standard form.
func ValidEmail(email string) bool { return emailRegexp.MatchString(email) }

// IsFidID reports whether a request identifier uses the --fid-- addressing
// form.
func IsFidID(id string) bool { return strings.HasPrefix(id, FidPrefix) }

// FidFromID strips the --fid-- prefix from a request identifier.
func FidFromID(id string) string { return strings.TrimPrefix(id, FidPrefix) }

// CanonicalParent returns the mandatory parent for system-scoped variants.
func CanonicalParent(mimetype string) (string, bool) {
	switch mimetype {
	case AspectMimetype:
		return AspectsFolderUUID, true
	case UserMimetype:
		return UsersFolderUUID, true
	case GroupMimetype:
		return GroupsFolderUUID, true
	case APIKeyMimetype:
		return APIKeysFolderUUID, true
	case AgentMimetype:
		return AgentsFolderUUID, true
	case WorkflowMimetype, WorkflowInstanceMimetype:
		return WorkflowsFolderUUID, true
	case FeatureMimetype:
		return FeaturesFolderUUID, true
	}
	return "", false
}

var slugCleaner = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify derives a friendly id candidate from a title.
func Slugify(title string) string {
	slug := slugCleaner.ReplaceAllString(strings.ToLower(title), "-")
	return strings.Trim(slug, "-")
}
