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

package path

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kindalus/antbox/pkg/auth"
	"github.com/kindalus/antbox/pkg/errtypes"
	"github.com/kindalus/antbox/pkg/node"
	"github.com/kindalus/antbox/pkg/nodes"
	repmem "github.com/kindalus/antbox/pkg/repository/memory"
	stgmem "github.com/kindalus/antbox/pkg/storage/memory"
)

func newResolverFixture(t *testing.T) (*Resolver, *Cache, *nodes.Service, context.Context) {
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

	cache := NewCache(CacheOptions{TTL: time.Hour, SweepInterval: time.Hour})
	t.Cleanup(cache.Close)
	r := NewResolver(svc, cache)
	ctx := auth.ContextSet(context.Background(), auth.System("t1"))
	return r, cache, svc, ctx
}

func mkFolder(t *testing.T, svc *nodes.Service, ctx context.Context, parent, title string) *node.Node {
	t.Helper()
	n, err := svc.Create(ctx, map[string]interface{}{
		"title":    title,
		"mimetype": node.FolderMimetype,
		"parent":   parent,
	})
	require.NoError(t, err)
	return n
}

func TestResolveRoot(t *testing.T) {
	r, _, _, ctx := newResolverFixture(t)

	for _, p := range []string{"", "/", "//", "/./"} {
		n, err := r.Resolve(ctx, p)
		require.NoError(t, err, p)
		assert.Equal(t, node.RootFolderUUID, n.UUID, p)
	}
}

func TestResolveNestedPath(t *testing.T) {
	r, cache, svc, ctx := newResolverFixture(t)

	ws := mkFolder(t, svc, ctx, node.RootFolderUUID, "Workspace")
	docs := mkFolder(t, svc, ctx, ws.UUID, "Docs")
	f, err := svc.CreateFile(ctx, map[string]interface{}{
		"title": "notes.txt", "parent": docs.UUID,
	}, nodes.FileContent{Mimetype: "text/plain", Reader: strings.NewReader("x")})
	require.NoError(t, err)

	got, err := r.Resolve(ctx, "/Workspace/Docs/notes.txt")
	require.NoError(t, err)
	assert.Equal(t, f.UUID, got.UUID)

	// Every prefix is now cached.
	for p, uuid := range map[string]string{
		"/Workspace":                ws.UUID,
		"/Workspace/Docs":           docs.UUID,
		"/Workspace/Docs/notes.txt": f.UUID,
	} {
		cached, ok := cache.Get("t1", auth.RootEmail, p)
		assert.True(t, ok, p)
		assert.Equal(t, uuid, cached, p)
	}
}

func TestResolveReusesCachedAncestor(t *testing.T) {
	r, cache, svc, ctx := newResolverFixture(t)

	ws := mkFolder(t, svc, ctx, node.RootFolderUUID, "Workspace")
	mkFolder(t, svc, ctx, ws.UUID, "Docs")

	_, err := r.Resolve(ctx, "/Workspace/Docs")
	require.NoError(t, err)
	before := cache.Stats().Hits

	_, err = r.Resolve(ctx, "/Workspace/Docs")
	require.NoError(t, err)
	assert.Greater(t, cache.Stats().Hits, before)
}

func TestResolveEscapedSegments(t *testing.T) {
	r, _, svc, ctx := newResolverFixture(t)

	ws := mkFolder(t, svc, ctx, node.RootFolderUUID, "Workspace")
	q := mkFolder(t, svc, ctx, ws.UUID, "Q1 Report")

	got, err := r.Resolve(ctx, "/Workspace/Q1%20Report")
	require.NoError(t, err)
	assert.Equal(t, q.UUID, got.UUID)
}

func TestResolveRejectsTraversal(t *testing.T) {
	r, _, _, ctx := newResolverFixture(t)

	_, err := r.Resolve(ctx, "/Workspace/../secrets")
	require.Error(t, err)
	assert.Equal(t, errtypes.CodeBadRequest, errtypes.CodeOf(err))
}

func TestResolveMissingSegment(t *testing.T) {
	r, _, svc, ctx := newResolverFixture(t)
	mkFolder(t, svc, ctx, node.RootFolderUUID, "Workspace")

	_, err := r.Resolve(ctx, "/Workspace/NoSuchThing")
	require.Error(t, err)
	assert.Equal(t, errtypes.CodeNodeNotFound, errtypes.CodeOf(err))
}

func TestRenameFlushesCachedPaths(t *testing.T) {
	r, _, svc, ctx := newResolverFixture(t)

	ws := mkFolder(t, svc, ctx, node.RootFolderUUID, "Workspace")
	mkFolder(t, svc, ctx, ws.UUID, "Docs")

	_, err := r.Resolve(ctx, "/Workspace/Docs")
	require.NoError(t, err)

	_, err = svc.Update(ctx, ws.UUID, map[string]interface{}{"title": "Renamed"})
	require.NoError(t, err)

	_, err = r.Resolve(ctx, "/Workspace/Docs")
	require.Error(t, err)

	got, err := r.Resolve(ctx, "/Renamed/Docs")
	require.NoError(t, err)
	assert.Equal(t, "Docs", got.Title)
}

func TestDeleteFlushesCachedPaths(t *testing.T) {
	r, cache, svc, ctx := newResolverFixture(t)

	ws := mkFolder(t, svc, ctx, node.RootFolderUUID, "Workspace")
	_, err := r.Resolve(ctx, "/Workspace")
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, ws.UUID))
	_, ok := cache.Get("t1", auth.RootEmail, "/Workspace")
	assert.False(t, ok)
}
