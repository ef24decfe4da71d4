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

// Package cmis exposes a CMIS 1.1 Browser Binding subset: repository
// discovery, object, children and tree retrieval, create, move, copy,
// delete, query, ACL management, checkOut/checkIn (mapped onto the node
// lock) and content streams.
package cmis

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kindalus/antbox/pkg/appctx"
	"github.com/kindalus/antbox/pkg/configstore"
	"github.com/kindalus/antbox/pkg/errtypes"
	"github.com/kindalus/antbox/pkg/node"
	"github.com/kindalus/antbox/pkg/nodes"
	"github.com/kindalus/antbox/pkg/path"
)

// Tenant bundles the per-tenant collaborators of the binding.
type Tenant struct {
	Nodes    *nodes.Service
	Resolver *path.Resolver
	Config   configstore.Store
}

type svc struct {
	tenants map[string]*Tenant
}

// New builds the /cmis handler. The tenant doubles as the CMIS repository
// id: /cmis/{tenant}/root is the root folder URL.
func New(tenants map[string]*Tenant) http.Handler {
	s := &svc{tenants: tenants}

	r := chi.NewRouter()
	r.HandleFunc("/", s.repositories)
	r.HandleFunc("/{tenant}", s.repositoryInfo)
	r.HandleFunc("/{tenant}/root", s.dispatch)
	r.HandleFunc("/{tenant}/root/*", s.dispatch)
	return r
}

func (s *svc) tenant(r *http.Request) (*Tenant, bool) {
	t, ok := s.tenants[chi.URLParam(r, "tenant")]
	return t, ok
}

// repositories answers the service document across every tenant.
func (s *svc) repositories(w http.ResponseWriter, r *http.Request) {
	out := map[string]interface{}{}
	for name := range s.tenants {
		out[name] = repositoryEntry(name)
	}
	writeJSON(w, r, http.StatusOK, out)
}

// repositoryInfo answers the service document for one tenant.
func (s *svc) repositoryInfo(w http.ResponseWriter, r *http.Request) {
	t, ok := s.tenant(r)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	tenant := t.Nodes.Tenant()
	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		tenant: repositoryEntry(tenant),
	})
}

func repositoryEntry(tenant string) map[string]interface{} {
	base := "/cmis/" + tenant
	return map[string]interface{}{
		"repositoryId":         tenant,
		"repositoryName":       tenant,
		"cmisVersionSupported": "1.1",
		"rootFolderId":         node.RootFolderUUID,
		"rootFolderUrl":        base + "/root",
		"capabilities": map[string]interface{}{
			"capabilityQuery":         "bothcombined",
			"capabilityACL":           "manage",
			"capabilityContentStream": "updatable",
			"capabilityVersioning":    "checkedout",
			"capabilityMultifiling":   false,
			"capabilityUnfiling":      false,
		},
	}
}

func (s *svc) dispatch(w http.ResponseWriter, r *http.Request) {
	t, ok := s.tenant(r)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	ctx, err := s.authenticate(r, t)
	if err != nil {
		writeCmisError(w, r, err)
		return
	}
	r = r.WithContext(ctx)

	switch r.Method {
	case http.MethodGet:
		s.doGet(w, r, t)
	case http.MethodPost:
		s.doPost(w, r, t)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// target resolves the addressed object: objectId wins over the path suffix.
func (s *svc) target(r *http.Request, t *Tenant) (*node.Node, error) {
	if id := r.URL.Query().Get("objectId"); id != "" {
		return t.Nodes.Get(r.Context(), id)
	}
	if id := r.FormValue("objectId"); id != "" {
		return t.Nodes.Get(r.Context(), id)
	}
	return t.Resolver.Resolve(r.Context(), "/"+chi.URLParam(r, "*"))
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appctx.GetLogger(r.Context()).Error().Err(err).Msg("error encoding cmis response")
	}
}

func writeCmisError(w http.ResponseWriter, r *http.Request, err error) {
	status, exception := http.StatusInternalServerError, "runtime"
	switch errtypes.CodeOf(err) {
	case errtypes.CodeNodeNotFound, errtypes.CodeNodeFileNotFound:
		status, exception = http.StatusNotFound, "objectNotFound"
	case errtypes.CodeForbidden:
		status, exception = http.StatusForbidden, "permissionDenied"
	case errtypes.CodeUnauthorized:
		status, exception = http.StatusUnauthorized, "permissionDenied"
		w.Header().Set("WWW-Authenticate", `Basic realm="antbox"`)
	case errtypes.CodeDuplicatedNode:
		status, exception = http.StatusConflict, "nameConstraintViolation"
	case errtypes.CodeBadRequest, errtypes.CodeValidation:
		status, exception = http.StatusBadRequest, "invalidArgument"
	case errtypes.CodeNodeTypeError:
		status, exception = http.StatusConflict, "constraint"
	}

	appctx.GetLogger(r.Context()).Debug().Err(err).Int("status", status).Msg("cmis request rejected")
	writeJSON(w, r, status, map[string]interface{}{
		"exception": exception,
		"message":   err.Error(),
	})
}
