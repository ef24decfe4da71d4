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
	"net/http"

	"github.com/kindalus/antbox/pkg/node"
)

func (s *svc) doMkcol(w http.ResponseWriter, r *http.Request, t *Tenant, reqPath string) {
	ctx := r.Context()

	if _, err := t.Resolver.Resolve(ctx, reqPath); err == nil {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	dir, name := splitDir(reqPath)
	parent, err := t.Resolver.Resolve(ctx, dir)
	if err != nil {
		// RFC 4918: missing intermediate collections are a conflict.
		if isNotFoundErr(err) {
			w.WriteHeader(http.StatusConflict)
			return
		}
		writeError(w, r, err)
		return
	}

	if _, err := t.Nodes.Create(ctx, map[string]interface{}{
		"title":    name,
		"parent":   parent.UUID,
		"mimetype": node.FolderMimetype,
	}); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}
