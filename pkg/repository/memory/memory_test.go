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

package memory

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kindalus/antbox/pkg/errtypes"
	"github.com/kindalus/antbox/pkg/node"
	"github.com/kindalus/antbox/pkg/node/filter"
	"github.com/kindalus/antbox/pkg/repository"
)

func newRepo(t *testing.T) repository.Repository {
	t.Helper()
	r, err := New(nil)
	require.NoError(t, err)
	return r
}

func doc(uuid, fid, title, parent string) *node.Node {
	return &node.Node{
		UUID:     uuid,
		FID:      fid,
		Title:    title,
		Parent:   parent,
		Mimetype: "application/pdf",
	}
}

func TestAddAndGet(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	require.NoError(t, r.Add(ctx, doc("u1-00000000", "report", "Report", "--root--")))

	byUUID, err := r.GetByUUID(ctx, "u1-00000000")
	require.NoError(t, err)
	assert.Equal(t, "Report", byUUID.Title)

	byFID, err := r.GetByFID(ctx, "report")
	require.NoError(t, err)
	assert.Equal(t, "u1-00000000", byFID.UUID)
}

func TestAddDuplicateUUID(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	require.NoError(t, r.Add(ctx, doc("u1-00000000", "a", "A", "--root--")))
	err := r.Add(ctx, doc("u1-00000000", "b", "B", "--root--"))
	require.Error(t, err)
	_, ok := err.(errtypes.IsDuplicated)
	assert.True(t, ok)
}

func TestAddDuplicateFID(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	require.NoError(t, r.Add(ctx, doc("u1-00000000", "same", "A", "--root--")))
	err := r.Add(ctx, doc("u2-00000000", "same", "B", "--root--"))
	require.Error(t, err)
	_, ok := err.(errtypes.IsDuplicated)
	assert.True(t, ok)
}

func TestGetMissing(t *testing.T) {
	r := newRepo(t)
	_, err := r.GetByUUID(context.Background(), "nope-00000000")
	require.Error(t, err)
	_, ok := err.(errtypes.IsNotFound)
	assert.True(t, ok)
}

func TestUpdateRetargetsFid(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	n := doc("u1-00000000", "old-fid", "A", "--root--")
	require.NoError(t, r.Add(ctx, n))

	n.FID = "new-fid"
	require.NoError(t, r.Update(ctx, n))

	_, err := r.GetByFID(ctx, "old-fid")
	require.Error(t, err)
	got, err := r.GetByFID(ctx, "new-fid")
	require.NoError(t, err)
	assert.Equal(t, "u1-00000000", got.UUID)
}

func TestDeleteReleasesFid(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	require.NoError(t, r.Add(ctx, doc("u1-00000000", "slot", "A", "--root--")))
	require.NoError(t, r.Delete(ctx, "u1-00000000"))
	require.NoError(t, r.Add(ctx, doc("u2-00000000", "slot", "B", "--root--")))
}

func TestFilterSortAndPaging(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		n := doc("u"+strconv.Itoa(i)+"-0000000", "f"+strconv.Itoa(i), "Doc "+strconv.Itoa(i), "--root--")
		require.NoError(t, r.Add(ctx, n))
	}

	f := filter.From(filter.New("parent", filter.OpEqual, "--root--"))
	page1, err := r.Filter(ctx, f, 3, 1)
	require.NoError(t, err)
	require.Len(t, page1.Nodes, 3)
	assert.Equal(t, "Doc 0", page1.Nodes[0].Title)

	page3, err := r.Filter(ctx, f, 3, 3)
	require.NoError(t, err)
	require.Len(t, page3.Nodes, 1)
	assert.Equal(t, "Doc 6", page3.Nodes[0].Title)

	page4, err := r.Filter(ctx, f, 3, 4)
	require.NoError(t, err)
	assert.Empty(t, page4.Nodes)
}

func TestFilterDisjunction(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	require.NoError(t, r.Add(ctx, doc("u1-00000000", "a", "Alpha", "--root--")))
	require.NoError(t, r.Add(ctx, doc("u2-00000000", "b", "Beta", "other-parent-01")))

	f, err := filter.Parse(`title=="Alpha"|parent=="other-parent-01"`)
	require.NoError(t, err)
	page, err := r.Filter(ctx, f, 10, 1)
	require.NoError(t, err)
	assert.Len(t, page.Nodes, 2)
}

func TestFilterIsolationFromCallerMutation(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	n := doc("u1-00000000", "a", "Alpha", "--root--")
	require.NoError(t, r.Add(ctx, n))
	n.Title = "mutated"

	got, err := r.GetByUUID(ctx, "u1-00000000")
	require.NoError(t, err)
	assert.Equal(t, "Alpha", got.Title)
}

func TestVectorSearch(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	vi, ok := r.(repository.VectorIndex)
	require.True(t, ok)
	assert.True(t, vi.SupportsEmbeddings())

	require.NoError(t, r.Add(ctx, doc("u1-00000000", "a", "A", "--root--")))
	require.NoError(t, r.Add(ctx, doc("u2-00000000", "b", "B", "--root--")))
	require.NoError(t, vi.UpsertEmbedding(ctx, "u1-00000000", []float32{1, 0}))
	require.NoError(t, vi.UpsertEmbedding(ctx, "u2-00000000", []float32{0, 1}))

	matches, err := vi.VectorSearch(ctx, []float32{1, 0.1}, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "u1-00000000", matches[0].Node.UUID)
	assert.Greater(t, matches[0].Score, matches[1].Score)
}
