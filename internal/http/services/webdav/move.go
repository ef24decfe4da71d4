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

	"github.com/kindalus/antbox/pkg/errtypes"
)

// doMove reparents and renames through a metadata patch.
func (s *svc) doMove(w http.ResponseWriter, r *http.Request, t *Tenant, reqPath string) {
	ctx := r.Context()
	tenant := t.Nodes.Tenant()

	src, err := t.Resolver.Resolve(ctx, reqPath)
	if err != nil {
		writeError(w, r, err)
		return
	}
	destPath, ok := destination(r, tenant)
	if !ok {
		writeError(w, r, errtypes.BadRequest("missing or malformed Destination header"))
		return
	}

	created := http.StatusCreated
	if existing, err := t.Resolver.Resolve(ctx, destPath); err == nil {
		if !overwrite(r) {
			w.WriteHeader(http.StatusPreconditionFailed)
			return
		}
		if err := t.Nodes.Delete(ctx, existing.UUID); err != nil {
			writeError(w, r, err)
			return
		}
		created = http.StatusNoContent
	}

	destDir, destName := splitDir(destPath)
	destParent, err := t.Resolver.Resolve(ctx, destDir)
	if err != nil {
		writeError(w, r, err)
		return
	}

	patch := map[string]interface{}{}
	if destParent.UUID != src.Parent {
		patch["parent"] = destParent.UUID
	}
	if destName != src.Title {
		patch["title"] = destName
	}
	if len(patch) > 0 {
		if _, err := t.Nodes.Update(ctx, src.UUID, patch); err != nil {
			writeError(w, r, err)
			return
		}
	}
	w.WriteHeader(created)
}
