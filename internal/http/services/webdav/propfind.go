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
	"net/url"
	gopath "path"
	"strconv"
	"strings"

	"github.com/kindalus/antbox/pkg/node"
)

type multistatus struct {
	XMLName   xml.Name   `xml:"d:multistatus"`
	Xmlnsd    string     `xml:"xmlns:d,attr"`
	Responses []response `xml:"d:response"`
}

type response struct {
	Href     string     `xml:"d:href"`
	Propstat []propstat `xml:"d:propstat"`
}

type propstat struct {
	Prop   prop   `xml:"d:prop"`
	Status string `xml:"d:status"`
}

type prop struct {
	DisplayName      string        `xml:"d:displayname,omitempty"`
	CreationDate     string        `xml:"d:creationdate,omitempty"`
	LastModified     string        `xml:"d:getlastmodified,omitempty"`
	ETag             string        `xml:"d:getetag,omitempty"`
	ContentType      string        `xml:"d:getcontenttype,omitempty"`
	ContentLength    string        `xml:"d:getcontentlength,omitempty"`
	ResourceType     resourceType  `xml:"d:resourcetype"`
	SupportedLock    supportedLock `xml:"d:supportedlock"`
	LockDiscovery    *activeLock   `xml:"d:lockdiscovery>d:activelock,omitempty"`
}

type resourceType struct {
	Collection *struct{} `xml:"d:collection,omitempty"`
}

type supportedLock struct {
	LockEntry lockEntry `xml:"d:lockentry"`
}

type lockEntry struct {
	LockScope lockScope `xml:"d:lockscope"`
	LockType  lockType  `xml:"d:locktype"`
}

type lockScope struct {
	Exclusive struct{} `xml:"d:exclusive"`
}

type lockType struct {
	Write struct{} `xml:"d:write"`
}

type activeLock struct {
	LockScope lockScope `xml:"d:lockscope"`
	LockType  lockType  `xml:"d:locktype"`
	Depth     string    `xml:"d:depth"`
	Owner     string    `xml:"d:owner,omitempty"`
	Token     lockHref  `xml:"d:locktoken"`
}

type lockHref struct {
	Href string `xml:"d:href"`
}

func (s *svc) doPropfind(w http.ResponseWriter, r *http.Request, t *Tenant, reqPath string) {
	n, err := t.Resolver.Resolve(r.Context(), reqPath)
	if err != nil {
		writeError(w, r, err)
		return
	}

	base := gopath.Join("/dav", t.Nodes.Tenant())
	responses := []response{s.nodeResponse(base, reqPath, n)}

	if parseDepth(r) > 0 && (n.IsFolder() || n.IsSmartFolder()) {
		children, err := t.Nodes.List(r.Context(), n.UUID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		for _, child := range children {
			childPath := gopath.Join(reqPath, child.Title)
			responses = append(responses, s.nodeResponse(base, childPath, child))
		}
	}

	body, err := xml.Marshal(&multistatus{Xmlnsd: "DAV:", Responses: responses})
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("DAV", "1, 2")
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(http.StatusMultiStatus)
	_, _ = w.Write([]byte(xml.Header))
	_, _ = w.Write(body)
}

func (s *svc) nodeResponse(base, nodePath string, n *node.Node) response {
	p := prop{
		DisplayName:  n.Title,
		CreationDate: n.CreatedTime.UTC().Format(creationFormat),
		LastModified: n.ModifiedTime.UTC().Format(lastModifiedFormat),
		ETag:         `"` + n.ETag() + `"`,
	}
	if n.IsFolder() || n.IsSmartFolder() {
		p.ResourceType.Collection = &struct{}{}
	} else {
		p.ContentType = n.Mimetype
		p.ContentLength = strconv.FormatInt(n.Size, 10)
	}
	if n.Locked {
		p.LockDiscovery = &activeLock{
			Depth: "0",
			Owner: n.LockedBy,
			Token: lockHref{Href: s.davLockToken(n.UUID)},
		}
	}
	return response{
		Href: hrefFor(base, nodePath),
		Propstat: []propstat{{
			Prop:   p,
			Status: "HTTP/1.1 200 OK",
		}},
	}
}

func hrefFor(base, nodePath string) string {
	segments := []string{}
	for _, seg := range strings.Split(gopath.Join(base, nodePath), "/") {
		if seg == "" {
			continue
		}
		segments = append(segments, url.PathEscape(seg))
	}
	return "/" + strings.Join(segments, "/")
}
