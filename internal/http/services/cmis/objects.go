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

package cmis

import (
	"io"
	"net/http"
	"strconv"

	"github.com/kindalus/antbox/pkg/errtypes"
	"github.com/kindalus/antbox/pkg/node"
	"github.com/kindalus/antbox/pkg/node/filter"
	"github.com/kindalus/antbox/pkg/nodes"
)

func (s *svc) doGet(w http.ResponseWriter, r *http.Request, t *Tenant) {
	n, err := s.target(r, t)
	if err != nil {
		writeCmisError(w, r, err)
		return
	}

	switch r.URL.Query().Get("cmisselector") {
	case "children":
		children, err := t.Nodes.List(r.Context(), n.UUID)
		if err != nil {
			writeCmisError(w, r, err)
			return
		}
		objects := make([]interface{}, 0, len(children))
		for _, child := range children {
			objects = append(objects, map[string]interface{}{"object": cmisObject(child)})
		}
		writeJSON(w, r, http.StatusOK, map[string]interface{}{
			"objects":      objects,
			"numItems":     len(objects),
			"hasMoreItems": false,
		})
	case "content":
		rc, n, err := t.Nodes.Export(r.Context(), n.UUID)
		if err != nil {
			writeCmisError(w, r, err)
			return
		}
		defer rc.Close()
		w.Header().Set("Content-Type", n.Mimetype)
		w.Header().Set("Content-Length", strconv.FormatInt(n.Size, 10))
		_, _ = io.Copy(w, rc)
	case "acl":
		writeJSON(w, r, http.StatusOK, map[string]interface{}{
			"acl":   aclFrom(n),
			"exact": true,
		})
	case "parent", "folderParent":
		if n.UUID == node.RootFolderUUID || n.Parent == "" {
			writeCmisError(w, r, errtypes.BadRequest("the root folder has no parent"))
			return
		}
		parent, err := t.Nodes.Get(r.Context(), n.Parent)
		if err != nil {
			writeCmisError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, cmisObject(parent))
	case "descendants", "folderTree":
		depth := -1
		if v, err := strconv.Atoi(r.URL.Query().Get("depth")); err == nil && v != 0 {
			depth = v
		}
		foldersOnly := r.URL.Query().Get("cmisselector") == "folderTree"
		tree, err := s.descendants(r, t, n, depth, foldersOnly)
		if err != nil {
			writeCmisError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, tree)
	default: // object
		writeJSON(w, r, http.StatusOK, cmisObject(n))
	}
}

// descendants walks the containment tree breadth-last. Smart folder members
// are listed but not descended into, since their membership is a query, not
// containment.
func (s *svc) descendants(r *http.Request, t *Tenant, n *node.Node, depth int, foldersOnly bool) ([]interface{}, error) {
	if depth == 0 {
		return []interface{}{}, nil
	}
	children, err := t.Nodes.List(r.Context(), n.UUID)
	if err != nil {
		return nil, err
	}
	out := []interface{}{}
	for _, child := range children {
		if foldersOnly && !child.IsFolder() && !child.IsSmartFolder() {
			continue
		}
		entry := map[string]interface{}{"object": cmisObject(child)}
		if child.IsFolder() {
			sub, err := s.descendants(r, t, child, depth-1, foldersOnly)
			if err != nil {
				return nil, err
			}
			if len(sub) > 0 {
				entry["children"] = sub
			}
		}
		out = append(out, entry)
	}
	return out, nil
}

func (s *svc) doPost(w http.ResponseWriter, r *http.Request, t *Tenant) {
	switch r.FormValue("cmisaction") {
	case "createFolder":
		s.createFolder(w, r, t)
	case "createDocument":
		s.createDocument(w, r, t)
	case "updateProperties":
		s.updateProperties(w, r, t)
	case "delete", "deleteObject":
		s.deleteObject(w, r, t)
	case "deleteTree":
		s.deleteObject(w, r, t)
	case "moveObject":
		s.moveObject(w, r, t)
	case "copyObject":
		s.copyObject(w, r, t)
	case "applyACL", "applyAcl":
		s.applyACL(w, r, t)
	case "query":
		s.query(w, r, t)
	case "checkOut":
		s.checkOut(w, r, t)
	case "checkIn", "cancelCheckOut":
		s.checkIn(w, r, t)
	case "setContent":
		s.setContent(w, r, t)
	default:
		writeCmisError(w, r, errtypes.BadRequest("unsupported cmisaction "+r.FormValue("cmisaction")))
	}
}

func (s *svc) createFolder(w http.ResponseWriter, r *http.Request, t *Tenant) {
	parent, err := s.target(r, t)
	if err != nil {
		writeCmisError(w, r, err)
		return
	}
	name := cmisProperty(r, "cmis:name")
	if name == "" {
		writeCmisError(w, r, errtypes.BadRequest("cmis:name is required"))
		return
	}
	created, err := t.Nodes.Create(r.Context(), map[string]interface{}{
		"title":    name,
		"parent":   parent.UUID,
		"mimetype": node.FolderMimetype,
	})
	if err != nil {
		writeCmisError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, cmisObject(created))
}

func (s *svc) createDocument(w http.ResponseWriter, r *http.Request, t *Tenant) {
	parent, err := s.target(r, t)
	if err != nil {
		writeCmisError(w, r, err)
		return
	}
	name := cmisProperty(r, "cmis:name")

	file, header, err := r.FormFile("content")
	if err != nil {
		writeCmisError(w, r, errtypes.BadRequest("content stream is required"))
		return
	}
	defer file.Close()

	mimetype := header.Header.Get("Content-Type")
	if mimetype == "" {
		mimetype = "application/octet-stream"
	}
	if name == "" {
		name = header.Filename
	}

	created, err := t.Nodes.CreateFile(r.Context(), map[string]interface{}{
		"title":  name,
		"parent": parent.UUID,
	}, nodes.FileContent{Mimetype: mimetype, Reader: file})
	if err != nil {
		writeCmisError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, cmisObject(created))
}

func (s *svc) updateProperties(w http.ResponseWriter, r *http.Request, t *Tenant) {
	n, err := s.target(r, t)
	if err != nil {
		writeCmisError(w, r, err)
		return
	}
	patch := map[string]interface{}{}
	for i := 0; ; i++ {
		id := r.FormValue("propertyId[" + strconv.Itoa(i) + "]")
		if id == "" {
			break
		}
		value := r.FormValue("propertyValue[" + strconv.Itoa(i) + "]")
		switch id {
		case "cmis:name":
			patch["title"] = value
		case "cmis:description":
			patch["description"] = value
		default:
			// Custom properties pass through to the generic map.
			props, _ := patch["properties"].(map[string]interface{})
			if props == nil {
				props = map[string]interface{}{}
			}
			props[id] = value
			patch["properties"] = props
		}
	}
	updated, err := t.Nodes.Update(r.Context(), n.UUID, patch)
	if err != nil {
		writeCmisError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, cmisObject(updated))
}

func (s *svc) deleteObject(w http.ResponseWriter, r *http.Request, t *Tenant) {
	n, err := s.target(r, t)
	if err != nil {
		writeCmisError(w, r, err)
		return
	}
	if err := t.Nodes.Delete(r.Context(), n.UUID); err != nil {
		writeCmisError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *svc) moveObject(w http.ResponseWriter, r *http.Request, t *Tenant) {
	n, err := s.target(r, t)
	if err != nil {
		writeCmisError(w, r, err)
		return
	}
	target := r.FormValue("targetFolderId")
	if target == "" {
		writeCmisError(w, r, errtypes.BadRequest("targetFolderId is required"))
		return
	}
	updated, err := t.Nodes.Update(r.Context(), n.UUID, map[string]interface{}{"parent": target})
	if err != nil {
		writeCmisError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, cmisObject(updated))
}

func (s *svc) copyObject(w http.ResponseWriter, r *http.Request, t *Tenant) {
	n, err := s.target(r, t)
	if err != nil {
		writeCmisError(w, r, err)
		return
	}
	target := r.FormValue("targetFolderId")
	if target == "" {
		writeCmisError(w, r, errtypes.BadRequest("targetFolderId is required"))
		return
	}
	created, err := t.Nodes.Copy(r.Context(), n.UUID, target)
	if err != nil {
		writeCmisError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, cmisObject(created))
}

// applyACL folds ACE changes into the node's permission vector. Removals run
// before additions, matching the binding's aclPropagation=objectonly mode.
func (s *svc) applyACL(w http.ResponseWriter, r *http.Request, t *Tenant) {
	n, err := s.target(r, t)
	if err != nil {
		writeCmisError(w, r, err)
		return
	}

	perms := n.Permissions
	for i := 0; ; i++ {
		principal := r.FormValue("removeACEPrincipal[" + strconv.Itoa(i) + "]")
		if principal == "" {
			break
		}
		setACE(&perms, n, principal, []node.Permission{})
	}
	for i := 0; ; i++ {
		principal := r.FormValue("addACEPrincipal[" + strconv.Itoa(i) + "]")
		if principal == "" {
			break
		}
		granted := []node.Permission{}
		for j := 0; ; j++ {
			p := r.FormValue("addACEPermission[" + strconv.Itoa(i) + "][" + strconv.Itoa(j) + "]")
			if p == "" {
				break
			}
			for _, perm := range nodePermissions(p) {
				if !node.Has(granted, perm) {
					granted = append(granted, perm)
				}
			}
		}
		setACE(&perms, n, principal, granted)
	}

	updated, err := t.Nodes.Update(r.Context(), n.UUID, map[string]interface{}{
		"permissions": permissionsMap(perms),
	})
	if err != nil {
		writeCmisError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"acl":   aclFrom(updated),
		"exact": true,
	})
}

// setACE routes a principal to its slot in the permission vector. Unknown
// principals land in the advanced map as group grants.
func setACE(perms *node.Permissions, n *node.Node, principal string, granted []node.Permission) {
	switch {
	case principal == "cmis:anonymous":
		perms.Anonymous = granted
	case principal == "cmis:user":
		perms.Authenticated = granted
	case n.Group != "" && principal == n.Group:
		perms.Group = granted
	default:
		if perms.Advanced == nil {
			perms.Advanced = map[string][]node.Permission{}
		}
		if len(granted) == 0 {
			delete(perms.Advanced, principal)
			return
		}
		perms.Advanced[principal] = granted
	}
}

func nodePermissions(cmisPerm string) []node.Permission {
	switch cmisPerm {
	case "cmis:read":
		return []node.Permission{node.PermissionRead}
	case "cmis:write":
		return []node.Permission{node.PermissionRead, node.PermissionWrite}
	case "cmis:all":
		return []node.Permission{node.PermissionRead, node.PermissionWrite, node.PermissionExport}
	}
	return nil
}

func permissionsMap(p node.Permissions) map[string]interface{} {
	adv := map[string]interface{}{}
	for g, granted := range p.Advanced {
		adv[g] = permissionStrings(granted)
	}
	return map[string]interface{}{
		"group":         permissionStrings(p.Group),
		"authenticated": permissionStrings(p.Authenticated),
		"anonymous":     permissionStrings(p.Anonymous),
		"advanced":      adv,
	}
}

func permissionStrings(granted []node.Permission) []interface{} {
	out := make([]interface{}, 0, len(granted))
	for _, p := range granted {
		out = append(out, string(p))
	}
	return out
}

// query runs a statement in the node filter language against the tenant.
func (s *svc) query(w http.ResponseWriter, r *http.Request, t *Tenant) {
	statement := r.FormValue("statement")
	f, err := filter.Parse(statement)
	if err != nil {
		writeCmisError(w, r, err)
		return
	}

	maxItems := 100
	if v, err := strconv.Atoi(r.FormValue("maxItems")); err == nil && v > 0 {
		maxItems = v
	}
	pageToken := 1
	if v, err := strconv.Atoi(r.FormValue("skipCount")); err == nil && v > 0 {
		pageToken = v/maxItems + 1
	}

	page, err := t.Nodes.Find(r.Context(), f, maxItems, pageToken)
	if err != nil {
		writeCmisError(w, r, err)
		return
	}
	results := make([]interface{}, 0, len(page.Nodes))
	for _, n := range page.Nodes {
		results = append(results, cmisObject(n))
	}
	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"results":      results,
		"numItems":     len(results),
		"hasMoreItems": len(page.Nodes) == maxItems,
	})
}

// checkOut maps to the node lock: the document becomes writable only by the
// caller until checked in.
func (s *svc) checkOut(w http.ResponseWriter, r *http.Request, t *Tenant) {
	n, err := s.target(r, t)
	if err != nil {
		writeCmisError(w, r, err)
		return
	}
	locked, err := t.Nodes.Lock(r.Context(), n.UUID, nil)
	if err != nil {
		writeCmisError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, cmisObject(locked))
}

func (s *svc) checkIn(w http.ResponseWriter, r *http.Request, t *Tenant) {
	n, err := s.target(r, t)
	if err != nil {
		writeCmisError(w, r, err)
		return
	}
	unlocked, err := t.Nodes.Unlock(r.Context(), n.UUID)
	if err != nil {
		writeCmisError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, cmisObject(unlocked))
}

func (s *svc) setContent(w http.ResponseWriter, r *http.Request, t *Tenant) {
	n, err := s.target(r, t)
	if err != nil {
		writeCmisError(w, r, err)
		return
	}
	file, _, err := r.FormFile("content")
	if err != nil {
		writeCmisError(w, r, errtypes.BadRequest("content stream is required"))
		return
	}
	defer file.Close()

	updated, err := t.Nodes.UpdateFile(r.Context(), n.UUID, nodes.FileContent{Reader: file})
	if err != nil {
		writeCmisError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, cmisObject(updated))
}

func cmisProperty(r *http.Request, name string) string {
	for i := 0; ; i++ {
		id := r.FormValue("propertyId[" + strconv.Itoa(i) + "]")
		if id == "" {
			return ""
		}
		if id == name {
			return r.FormValue("propertyValue[" + strconv.Itoa(i) + "]")
		}
	}
}

// cmisObject renders the succinct property view of a node.
func cmisObject(n *node.Node) map[string]interface{} {
	baseType := "cmis:document"
	if n.IsFolder() || n.IsSmartFolder() {
		baseType = "cmis:folder"
	}
	props := map[string]interface{}{
		"cmis:objectId":         n.UUID,
		"cmis:baseTypeId":       baseType,
		"cmis:name":             n.Title,
		"cmis:description":      n.Description,
		"cmis:createdBy":        n.Owner,
		"cmis:creationDate":     n.CreatedTime.UTC().UnixMilli(),
		"cmis:lastModificationDate": n.ModifiedTime.UTC().UnixMilli(),
		"cmis:changeToken":      n.ETag(),
	}
	if baseType == "cmis:folder" {
		props["cmis:parentId"] = n.Parent
	} else {
		props["cmis:contentStreamMimeType"] = n.Mimetype
		props["cmis:contentStreamLength"] = n.Size
		props["cmis:isVersionSeriesCheckedOut"] = n.Locked
		if n.Locked {
			props["cmis:versionSeriesCheckedOutBy"] = n.LockedBy
		}
	}
	return map[string]interface{}{
		"succinctProperties": props,
		"exactACL":           true,
	}
}

// aclFrom translates the permission vector into CMIS ACEs: Read maps to
// cmis:read, Write to cmis:write and the full set to cmis:all.
func aclFrom(n *node.Node) map[string]interface{} {
	aces := []interface{}{}
	add := func(principal string, perms []node.Permission) {
		if len(perms) == 0 {
			return
		}
		aces = append(aces, map[string]interface{}{
			"principal":   map[string]interface{}{"principalId": principal},
			"permissions": cmisPermissions(perms),
			"isDirect":    true,
		})
	}
	add("cmis:anonymous", n.Permissions.Anonymous)
	add("cmis:user", n.Permissions.Authenticated)
	if n.Group != "" {
		add(n.Group, n.Permissions.Group)
	}
	for group, perms := range n.Permissions.Advanced {
		add(group, perms)
	}
	return map[string]interface{}{"aces": aces}
}

func cmisPermissions(perms []node.Permission) []string {
	if node.Has(perms, node.PermissionRead) &&
		node.Has(perms, node.PermissionWrite) &&
		node.Has(perms, node.PermissionExport) {
		return []string{"cmis:all"}
	}
	out := []string{}
	// Export has no CMIS counterpart beyond the readable content stream.
	if node.Has(perms, node.PermissionRead) || node.Has(perms, node.PermissionExport) {
		out = append(out, "cmis:read")
	}
	if node.Has(perms, node.PermissionWrite) {
		out = append(out, "cmis:write")
	}
	return out
}
