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

package cmis

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kindalus/antbox/pkg/auth"
	"github.com/kindalus/antbox/pkg/configstore"
	cfgmem "github.com/kindalus/antbox/pkg/configstore/memory"
	"github.com/kindalus/antbox/pkg/node"
	"github.com/kindalus/antbox/pkg/nodes"
	"github.com/kindalus/antbox/pkg/path"
	repmem "github.com/kindalus/antbox/pkg/repository/memory"
	stgmem "github.com/kindalus/antbox/pkg/storage/memory"
)

const rootPassword = "s3cret"

func newHandler(t *testing.T) http.Handler {
	t.Helper()

	repo, err := repmem.New(nil)
	require.NoError(t, err)
	store, err := stgmem.New(nil)
	require.NoError(t, err)
	svc, err := nodes.New(context.Background(), nodes.Options{
		Tenant:     "t1",
		Repository: repo,
		Storage:    store,
	})
	require.NoError(t, err)

	cfg, err := cfgmem.New(nil)
	require.NoError(t, err)
	sum := sha256.Sum256([]byte(rootPassword))
	require.NoError(t, cfg.Set(context.Background(),
		configstore.CredentialsPrefix+auth.RootEmail, []byte(hex.EncodeToString(sum[:]))))

	cache := path.NewCache(path.CacheOptions{TTL: time.Hour, SweepInterval: time.Hour})
	t.Cleanup(cache.Close)

	return New(map[string]*Tenant{"t1": {
		Nodes:    svc,
		Resolver: path.NewResolver(svc, cache),
		Config:   cfg,
	}})
}

func doGet(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.SetBasicAuth(auth.RootEmail, rootPassword)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func doForm(t *testing.T, h http.Handler, target string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(auth.RootEmail, rootPassword)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func doMultipart(t *testing.T, h http.Handler, target string, fields map[string]string, filename, mimetype, content string) *httptest.ResponseRecorder {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="content"; filename="`+filename+`"`)
	hdr.Set("Content-Type", mimetype)
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = io.WriteString(part, content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.SetBasicAuth(auth.RootEmail, rootPassword)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	out := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func succinct(t *testing.T, obj map[string]interface{}) map[string]interface{} {
	t.Helper()
	props, ok := obj["succinctProperties"].(map[string]interface{})
	require.True(t, ok)
	return props
}

func TestRepositoryInfo(t *testing.T) {
	h := newHandler(t)
	w := doGet(t, h, "/t1")
	require.Equal(t, http.StatusOK, w.Code)

	info := decode(t, w)
	repo, ok := info["t1"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "1.1", repo["cmisVersionSupported"])
	assert.Equal(t, node.RootFolderUUID, repo["rootFolderId"])
}

func TestGetRootObject(t *testing.T) {
	h := newHandler(t)
	w := doGet(t, h, "/t1/root")
	require.Equal(t, http.StatusOK, w.Code)

	props := succinct(t, decode(t, w))
	assert.Equal(t, node.RootFolderUUID, props["cmis:objectId"])
	assert.Equal(t, "cmis:folder", props["cmis:baseTypeId"])
}

func TestCreateFolderAndChildren(t *testing.T) {
	h := newHandler(t)

	w := doForm(t, h, "/t1/root", url.Values{
		"cmisaction":       {"createFolder"},
		"propertyId[0]":    {"cmis:name"},
		"propertyValue[0]": {"Invoices"},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	props := succinct(t, decode(t, w))
	assert.Equal(t, "Invoices", props["cmis:name"])
	assert.Equal(t, node.RootFolderUUID, props["cmis:parentId"])

	w = doGet(t, h, "/t1/root?cmisselector=children")
	require.Equal(t, http.StatusOK, w.Code)
	listing := decode(t, w)
	objects, ok := listing["objects"].([]interface{})
	require.True(t, ok)
	require.NotEmpty(t, objects)
}

func TestCreateFolderRequiresName(t *testing.T) {
	h := newHandler(t)
	w := doForm(t, h, "/t1/root", url.Values{"cmisaction": {"createFolder"}})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalidArgument", decode(t, w)["exception"])
}

func TestDocumentLifecycle(t *testing.T) {
	h := newHandler(t)

	w := doMultipart(t, h, "/t1/root", map[string]string{
		"cmisaction":       "createDocument",
		"propertyId[0]":    "cmis:name",
		"propertyValue[0]": "invoice.txt",
	}, "invoice.txt", "text/plain", "total: 42")
	require.Equal(t, http.StatusCreated, w.Code)
	props := succinct(t, decode(t, w))
	id, ok := props["cmis:objectId"].(string)
	require.True(t, ok)
	assert.Equal(t, "cmis:document", props["cmis:baseTypeId"])
	assert.Equal(t, "text/plain", props["cmis:contentStreamMimeType"])

	w = doGet(t, h, "/t1/root?cmisselector=content&objectId="+id)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "total: 42", w.Body.String())

	w = doForm(t, h, "/t1/root", url.Values{
		"cmisaction":       {"updateProperties"},
		"objectId":         {id},
		"propertyId[0]":    {"cmis:description"},
		"propertyValue[0]": {"march invoice"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "march invoice", succinct(t, decode(t, w))["cmis:description"])

	w = doForm(t, h, "/t1/root", url.Values{
		"cmisaction": {"deleteObject"},
		"objectId":   {id},
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doGet(t, h, "/t1/root?objectId="+id)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "objectNotFound", decode(t, w)["exception"])
}

func TestCheckOutMapsToLock(t *testing.T) {
	h := newHandler(t)

	w := doMultipart(t, h, "/t1/root", map[string]string{
		"cmisaction": "createDocument",
	}, "doc.txt", "text/plain", "x")
	require.Equal(t, http.StatusCreated, w.Code)
	id := succinct(t, decode(t, w))["cmis:objectId"].(string)

	w = doForm(t, h, "/t1/root", url.Values{
		"cmisaction": {"checkOut"},
		"objectId":   {id},
	})
	require.Equal(t, http.StatusOK, w.Code)
	props := succinct(t, decode(t, w))
	assert.Equal(t, true, props["cmis:isVersionSeriesCheckedOut"])
	assert.Equal(t, auth.RootEmail, props["cmis:versionSeriesCheckedOutBy"])

	w = doForm(t, h, "/t1/root", url.Values{
		"cmisaction": {"cancelCheckOut"},
		"objectId":   {id},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, succinct(t, decode(t, w))["cmis:isVersionSeriesCheckedOut"])
}

func TestGetRepositories(t *testing.T) {
	h := newHandler(t)
	w := doGet(t, h, "/")
	require.Equal(t, http.StatusOK, w.Code)

	out := decode(t, w)
	repo, ok := out["t1"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "t1", repo["repositoryId"])
	assert.Equal(t, node.RootFolderUUID, repo["rootFolderId"])
}

func TestFolderParent(t *testing.T) {
	h := newHandler(t)

	w := doForm(t, h, "/t1/root", url.Values{
		"cmisaction":       {"createFolder"},
		"propertyId[0]":    {"cmis:name"},
		"propertyValue[0]": {"Archive"},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	id := succinct(t, decode(t, w))["cmis:objectId"].(string)

	w = doGet(t, h, "/t1/root?cmisselector=folderParent&objectId="+id)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, node.RootFolderUUID, succinct(t, decode(t, w))["cmis:objectId"])

	// The root folder has no parent.
	w = doGet(t, h, "/t1/root?cmisselector=folderParent")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDescendantsAndFolderTree(t *testing.T) {
	h := newHandler(t)

	w := doForm(t, h, "/t1/root", url.Values{
		"cmisaction":       {"createFolder"},
		"propertyId[0]":    {"cmis:name"},
		"propertyValue[0]": {"Projects"},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	folderID := succinct(t, decode(t, w))["cmis:objectId"].(string)

	w = doMultipart(t, h, "/t1/root?objectId="+folderID, map[string]string{
		"cmisaction": "createDocument",
		"objectId":   folderID,
	}, "plan.txt", "text/plain", "plan")
	require.Equal(t, http.StatusCreated, w.Code)

	w = doGet(t, h, "/t1/root?cmisselector=descendants")
	require.Equal(t, http.StatusOK, w.Code)
	var tree []interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tree))
	require.NotEmpty(t, tree)
	found := false
	for _, e := range tree {
		entry := e.(map[string]interface{})
		obj := entry["object"].(map[string]interface{})
		if succinct(t, obj)["cmis:objectId"] != folderID {
			continue
		}
		found = true
		children, ok := entry["children"].([]interface{})
		require.True(t, ok)
		require.Len(t, children, 1)
	}
	assert.True(t, found)

	// The folder tree keeps only containers: the document disappears.
	w = doGet(t, h, "/t1/root?cmisselector=folderTree")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tree))
	for _, e := range tree {
		entry := e.(map[string]interface{})
		obj := entry["object"].(map[string]interface{})
		assert.Equal(t, "cmis:folder", succinct(t, obj)["cmis:baseTypeId"])
		_, hasChildren := entry["children"]
		assert.False(t, hasChildren)
	}
}

func TestMoveObject(t *testing.T) {
	h := newHandler(t)

	w := doForm(t, h, "/t1/root", url.Values{
		"cmisaction":       {"createFolder"},
		"propertyId[0]":    {"cmis:name"},
		"propertyValue[0]": {"Inbox"},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	inbox := succinct(t, decode(t, w))["cmis:objectId"].(string)

	w = doMultipart(t, h, "/t1/root", map[string]string{
		"cmisaction": "createDocument",
	}, "memo.txt", "text/plain", "memo")
	require.Equal(t, http.StatusCreated, w.Code)
	docID := succinct(t, decode(t, w))["cmis:objectId"].(string)

	w = doForm(t, h, "/t1/root", url.Values{
		"cmisaction":     {"moveObject"},
		"objectId":       {docID},
		"targetFolderId": {inbox},
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doGet(t, h, "/t1/root?cmisselector=children&objectId="+inbox)
	require.Equal(t, http.StatusOK, w.Code)
	objects := decode(t, w)["objects"].([]interface{})
	require.Len(t, objects, 1)

	// Without a target the action is rejected.
	w = doForm(t, h, "/t1/root", url.Values{
		"cmisaction": {"moveObject"},
		"objectId":   {docID},
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCopyObject(t *testing.T) {
	h := newHandler(t)

	w := doForm(t, h, "/t1/root", url.Values{
		"cmisaction":       {"createFolder"},
		"propertyId[0]":    {"cmis:name"},
		"propertyValue[0]": {"Backups"},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	backups := succinct(t, decode(t, w))["cmis:objectId"].(string)

	w = doMultipart(t, h, "/t1/root", map[string]string{
		"cmisaction": "createDocument",
	}, "data.txt", "text/plain", "payload")
	require.Equal(t, http.StatusCreated, w.Code)
	docID := succinct(t, decode(t, w))["cmis:objectId"].(string)

	w = doForm(t, h, "/t1/root", url.Values{
		"cmisaction":     {"copyObject"},
		"objectId":       {docID},
		"targetFolderId": {backups},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	copyID := succinct(t, decode(t, w))["cmis:objectId"].(string)
	require.NotEqual(t, docID, copyID)

	// Both the original and the copy serve the content stream.
	for _, id := range []string{docID, copyID} {
		w = doGet(t, h, "/t1/root?cmisselector=content&objectId="+id)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "payload", w.Body.String())
	}
}

func TestApplyACL(t *testing.T) {
	h := newHandler(t)

	w := doMultipart(t, h, "/t1/root", map[string]string{
		"cmisaction": "createDocument",
	}, "shared.txt", "text/plain", "x")
	require.Equal(t, http.StatusCreated, w.Code)
	id := succinct(t, decode(t, w))["cmis:objectId"].(string)

	w = doForm(t, h, "/t1/root", url.Values{
		"cmisaction":              {"applyACL"},
		"objectId":                {id},
		"addACEPrincipal[0]":      {"g-auditors"},
		"addACEPermission[0][0]":  {"cmis:read"},
		"addACEPrincipal[1]":      {"cmis:anonymous"},
		"addACEPermission[1][0]":  {"cmis:read"},
		"removeACEPrincipal[0]":   {"cmis:user"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	acl := decode(t, w)["acl"].(map[string]interface{})
	aces := acl["aces"].([]interface{})
	byPrincipal := map[string][]interface{}{}
	for _, a := range aces {
		ace := a.(map[string]interface{})
		principal := ace["principal"].(map[string]interface{})["principalId"].(string)
		byPrincipal[principal] = ace["permissions"].([]interface{})
	}
	assert.Equal(t, []interface{}{"cmis:read"}, byPrincipal["g-auditors"])
	assert.Equal(t, []interface{}{"cmis:read"}, byPrincipal["cmis:anonymous"])
	_, hasAuthenticated := byPrincipal["cmis:user"]
	assert.False(t, hasAuthenticated)
}

func TestQueryUsesFilterLanguage(t *testing.T) {
	h := newHandler(t)

	w := doMultipart(t, h, "/t1/root", map[string]string{
		"cmisaction": "createDocument",
	}, "a.pdf", "application/pdf", "%PDF")
	require.Equal(t, http.StatusCreated, w.Code)

	w = doForm(t, h, "/t1/root", url.Values{
		"cmisaction": {"query"},
		"statement":  {`mimetype=="application/pdf"`},
	})
	require.Equal(t, http.StatusOK, w.Code)
	out := decode(t, w)
	assert.Equal(t, float64(1), out["numItems"])
	assert.Equal(t, false, out["hasMoreItems"])
}

func TestAclView(t *testing.T) {
	h := newHandler(t)

	w := doGet(t, h, "/t1/root?cmisselector=acl")
	require.Equal(t, http.StatusOK, w.Code)
	out := decode(t, w)
	acl, ok := out["acl"].(map[string]interface{})
	require.True(t, ok)
	aces, ok := acl["aces"].([]interface{})
	require.True(t, ok)
	// The root folder grants the admins group and authenticated users.
	assert.NotEmpty(t, aces)
}

func TestUnknownAction(t *testing.T) {
	h := newHandler(t)
	w := doForm(t, h, "/t1/root", url.Values{"cmisaction": {"frobnicate"}})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBadCredentials(t *testing.T) {
	h := newHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/t1/root", nil)
	req.SetBasicAuth(auth.RootEmail, "wrong")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "permissionDenied", decode(t, w)["exception"])
}
