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

// doCopy duplicates a file node into the destination collection. Folder
// copies are not supported; clients fall back to per-file copies.
func (s *svc) doCopy(w http.ResponseWriter, r *http.Request, t *Tenant, reqPath string) {
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

	status := http.StatusCreated
	if existing, err := t.Resolver.Resolve(ctx, destPath); err == nil {
		if !overwrite(r) {
			w.WriteHeader(http.StatusPreconditionFailed)
			return
		}
		if err := t.Nodes.Delete(ctx, existing.UUID); err != nil {
			writeError(w, r, err)
			return
		}
		status = http.StatusNoContent
	}

	destDir, destName := splitDir(destPath)
	destParent, err := t.Resolver.Resolve(ctx, destDir)
	if err != nil {
		writeError(w, r, err)
		return
	}

	dup, err := t.Nodes.Copy(ctx, src.UUID, destParent.UUID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if dup.Title != destName {
		if _, err := t.Nodes.Update(ctx, dup.UUID, map[string]interface{}{
			"title": destName,
		}); err != nil {
			writeError(w, r, err)
			return
		}
	}
	w.WriteHeader(status)
}
