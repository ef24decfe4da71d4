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
	"net/url"
	"strings"
	"time"
)

const (
	// RFC 4918 wants RFC 1123 dates in GMT.
	lastModifiedFormat = "Mon, 02 Jan 2006 15:04:05 GMT"
	creationFormat     = time.RFC3339

	lockTokenPrefix = "opaquelocktoken:"
)

// depth of a PROPFIND: 0, 1 or infinity. Infinity is treated as 1; deep
// listings go through the find operation instead.
func parseDepth(r *http.Request) int {
	switch strings.ToLower(r.Header.Get("Depth")) {
	case "0":
		return 0
	default:
		return 1
	}
}

// destination extracts the tenant-relative path from a COPY/MOVE
// Destination header.
func destination(r *http.Request, tenant string) (string, bool) {
	raw := r.Header.Get("Destination")
	if raw == "" {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	p := u.Path
	marker := "/" + tenant + "/"
	idx := strings.Index(p, marker)
	if idx < 0 {
		return "", false
	}
	return "/" + strings.Trim(p[idx+len(marker):], "/"), true
}

func overwrite(r *http.Request) bool {
	// RFC 4918: absent means overwrite.
	return r.Header.Get("Overwrite") != "F"
}

// splitDir returns the parent path and the leaf name.
func splitDir(p string) (dir, name string) {
	p = strings.TrimSuffix(p, "/")
	idx := strings.LastIndex(p, "/")
	if idx < 0 {
		return "/", p
	}
	dir = p[:idx]
	if dir == "" {
		dir = "/"
	}
	name = p[idx+1:]
	if decoded, err := url.PathUnescape(name); err == nil {
		name = decoded
	}
	return dir, name
}

// davLockToken returns the token minted at LOCK time, falling back to a
// derived one for locks taken outside the DAV surface.
func (s *svc) davLockToken(uuid string) string {
	if v, ok := s.tokens.Load(uuid); ok {
		return v.(string)
	}
	return lockTokenPrefix + uuid
}
