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

	"github.com/kindalus/antbox/pkg/appctx"
	"github.com/kindalus/antbox/pkg/errtypes"
)

// http://www.webdav.org/specs/rfc4918.html#ELEMENT_error
type errorXML struct {
	XMLName   xml.Name `xml:"d:error"`
	Xmlnsd    string   `xml:"xmlns:d,attr"`
	Xmlnss    string   `xml:"xmlns:s,attr"`
	Exception string   `xml:"s:exception"`
	Message   string   `xml:"s:message"`
}

func exceptionFor(status int) string {
	switch status {
	case http.StatusNotFound:
		return "Sabre\\DAV\\Exception\\NotFound"
	case http.StatusForbidden:
		return "Sabre\\DAV\\Exception\\Forbidden"
	case http.StatusUnauthorized:
		return "Sabre\\DAV\\Exception\\NotAuthenticated"
	case http.StatusLocked:
		return "Sabre\\DAV\\Exception\\Locked"
	case http.StatusConflict:
		return "Sabre\\DAV\\Exception\\Conflict"
	case http.StatusMethodNotAllowed:
		return "Sabre\\DAV\\Exception\\MethodNotAllowed"
	case http.StatusPreconditionFailed:
		return "Sabre\\DAV\\Exception\\PreconditionFailed"
	default:
		return "Sabre\\DAV\\Exception\\BadRequest"
	}
}

// statusFor maps the kernel error taxonomy to HTTP. A forbidden error whose
// message names the lock maps to 423 so DAV clients surface it properly.
func statusFor(err error) int {
	switch errtypes.CodeOf(err) {
	case errtypes.CodeNodeNotFound, errtypes.CodeNodeFileNotFound:
		return http.StatusNotFound
	case errtypes.CodeForbidden:
		if strings.Contains(err.Error(), "locked") {
			return http.StatusLocked
		}
		return http.StatusForbidden
	case errtypes.CodeUnauthorized:
		return http.StatusUnauthorized
	case errtypes.CodeDuplicatedNode:
		return http.StatusConflict
	case errtypes.CodeBadRequest, errtypes.CodeValidation, errtypes.CodeNodeTypeError:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	log := appctx.GetLogger(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("webdav request failed")
	} else {
		log.Debug().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("webdav request rejected")
	}

	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Basic realm="antbox"`)
	}

	body, merr := xml.Marshal(&errorXML{
		Xmlnsd:    "DAV",
		Xmlnss:    "http://sabredav.org/ns",
		Exception: exceptionFor(status),
		Message:   err.Error(),
	})
	if merr != nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
