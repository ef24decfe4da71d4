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
	"strings"

	"github.com/kindalus/antbox/pkg/errtypes"
	"github.com/kindalus/antbox/pkg/nodes"
)

// doPut creates or replaces the file at the request path. The mimetype of a
// new node comes from Content-Type; an existing node keeps its mimetype.
func (s *svc) doPut(w http.ResponseWriter, r *http.Request, t *Tenant, reqPath string) {
	ctx := r.Context()

	existing, err := t.Resolver.Resolve(ctx, reqPath)
	switch {
	case err == nil:
		if !existing.IsFile() {
			writeError(w, r, errtypes.NodeType("cannot PUT to a collection"))
			return
		}
		updated, uerr := t.Nodes.UpdateFile(ctx, existing.UUID, nodes.FileContent{Reader: r.Body})
		if uerr != nil {
			writeError(w, r, uerr)
			return
		}
		w.Header().Set("ETag", `"`+updated.ETag()+`"`)
		w.WriteHeader(http.StatusNoContent)
	case isNotFoundErr(err):
		dir, name := splitDir(reqPath)
		parent, perr := t.Resolver.Resolve(ctx, dir)
		if perr != nil {
			writeError(w, r, perr)
			return
		}
		mimetype := r.Header.Get("Content-Type")
		if mimetype == "" || strings.HasPrefix(mimetype, "application/x-www-form-urlencoded") {
			mimetype = "application/octet-stream"
		}
		created, cerr := t.Nodes.CreateFile(ctx, map[string]interface{}{
			"title":  name,
			"parent": parent.UUID,
		}, nodes.FileContent{Mimetype: mimetype, Reader: r.Body})
		if cerr != nil {
			writeError(w, r, cerr)
			return
		}
		w.Header().Set("ETag", `"`+created.ETag()+`"`)
		w.WriteHeader(http.StatusCreated)
	default:
		writeError(w, r, err)
	}
}

func isNotFoundErr(err error) bool {
	_, ok := err.(errtypes.IsNotFound)
	return ok
}
