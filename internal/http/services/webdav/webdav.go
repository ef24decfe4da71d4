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

// Package webdav exposes every tenant's node tree over WebDAV (class 1 and
// 2). Folders are collections, file nodes are resources, and the node lock
// maps to the DAV lock with an opaquelocktoken minted per LOCK request.
package webdav

import (
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/kindalus/antbox/pkg/configstore"
	"github.com/kindalus/antbox/pkg/nodes"
	"github.com/kindalus/antbox/pkg/path"
)

// Tenant bundles the per-tenant collaborators of the handler.
type Tenant struct {
	Nodes    *nodes.Service
	Resolver *path.Resolver
	Config   configstore.Store
}

type svc struct {
	tenants map[string]*Tenant

	// tokens remembers the DAV token minted for each locked node uuid. The
	// tokens are advisory; the node lock is authoritative.
	tokens sync.Map
}

// New builds the /dav handler. Requests address tenants by the first path
// segment: /dav/{tenant}/{path…}.
func New(tenants map[string]*Tenant) http.Handler {
	s := &svc{tenants: tenants}

	r := chi.NewRouter()
	r.Handle("/{tenant}", http.HandlerFunc(s.dispatch))
	r.Handle("/{tenant}/*", http.HandlerFunc(s.dispatch))
	return r
}

func (s *svc) dispatch(w http.ResponseWriter, r *http.Request) {
	tenant, ok := s.tenants[chi.URLParam(r, "tenant")]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	ctx, err := s.authenticate(r, tenant)
	if err != nil {
		writeError(w, r, err)
		return
	}
	r = r.WithContext(ctx)
	reqPath := "/" + chi.URLParam(r, "*")

	switch r.Method {
	case "PROPFIND":
		s.doPropfind(w, r, tenant, reqPath)
	case http.MethodOptions:
		s.doOptions(w, r)
	case http.MethodHead:
		s.doHead(w, r, tenant, reqPath)
	case http.MethodGet:
		s.doGet(w, r, tenant, reqPath)
	case http.MethodPut:
		s.doPut(w, r, tenant, reqPath)
	case http.MethodDelete:
		s.doDelete(w, r, tenant, reqPath)
	case "MKCOL":
		s.doMkcol(w, r, tenant, reqPath)
	case "COPY":
		s.doCopy(w, r, tenant, reqPath)
	case "MOVE":
		s.doMove(w, r, tenant, reqPath)
	case "LOCK":
		s.doLock(w, r, tenant, reqPath)
	case "UNLOCK":
		s.doUnlock(w, r, tenant, reqPath)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
