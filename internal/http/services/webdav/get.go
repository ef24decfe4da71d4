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
	"io"
	"net/http"
	"strconv"

	"github.com/kindalus/antbox/pkg/appctx"
)

func (s *svc) doGet(w http.ResponseWriter, r *http.Request, t *Tenant, reqPath string) {
	n, err := t.Resolver.Resolve(r.Context(), reqPath)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !n.IsFile() {
		w.Header().Set("Allow", "OPTIONS, PROPFIND, MKCOL, DELETE, MOVE, COPY")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	rc, n, err := t.Nodes.Export(r.Context(), n.UUID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", n.Mimetype)
	w.Header().Set("Content-Length", strconv.FormatInt(n.Size, 10))
	w.Header().Set("ETag", `"`+n.ETag()+`"`)
	w.Header().Set("Last-Modified", n.ModifiedTime.UTC().Format(lastModifiedFormat))
	if _, err := io.Copy(w, rc); err != nil {
		appctx.GetLogger(r.Context()).Error().Err(err).
			Str("node", n.UUID).Msg("error streaming file body")
	}
}
