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

package webdav

import (
	"encoding/xml"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type lockResponse struct {
	XMLName xml.Name   `xml:"d:prop"`
	Xmlnsd  string     `xml:"xmlns:d,attr"`
	Lock    activeLock `xml:"d:lockdiscovery>d:activelock"`
}

// doLock maps the DAV exclusive write lock onto the node lock. Each LOCK
// mints a fresh opaque token and remembers it for the unlock handshake.
func (s *svc) doLock(w http.ResponseWriter, r *http.Request, t *Tenant, reqPath string) {
	n, err := t.Resolver.Resolve(r.Context(), reqPath)
	if err != nil {
		writeError(w, r, err)
		return
	}

	locked, err := t.Nodes.Lock(r.Context(), n.UUID, nil)
	if err != nil {
		writeError(w, r, err)
		return
	}

	token := lockTokenPrefix + uuid.NewString()
	s.tokens.Store(locked.UUID, token)
	body, err := xml.Marshal(&lockResponse{
		Xmlnsd: "DAV:",
		Lock: activeLock{
			Depth: "0",
			Owner: locked.LockedBy,
			Token: lockHref{Href: token},
		},
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Lock-Token", "<"+token+">")
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(xml.Header))
	_, _ = w.Write(body)
}

func (s *svc) doUnlock(w http.ResponseWriter, r *http.Request, t *Tenant, reqPath string) {
	n, err := t.Resolver.Resolve(r.Context(), reqPath)
	if err != nil {
		writeError(w, r, err)
		return
	}

	token := strings.Trim(r.Header.Get("Lock-Token"), "<>")
	if minted, ok := s.tokens.Load(n.UUID); ok && token != "" && token != minted.(string) {
		w.WriteHeader(http.StatusConflict)
		return
	}

	if _, err := t.Nodes.Unlock(r.Context(), n.UUID); err != nil {
		writeError(w, r, err)
		return
	}
	s.tokens.Delete(n.UUID)
	w.WriteHeader(http.StatusNoContent)
}
