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

package sqlite

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
	r, err := New(nil) // file defaults to :memory:
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.(interface{ Close() error }).Close() })
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

func TestAddAndGetRoundTrip(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	n := doc("u1-00000000", "report", "Report", "--root--")
	n.Description = "quarterly numbers"
	n.Properties = map[string]interface{}{"finance:quarter": "Q1"}
	require.NoError(t, r.Add(ctx, n))

	byUUID, err := r.GetByUUID(ctx, "u1-00000000")
	require.NoError(t, err)
	assert.Equal(t, "Report", byUUID.Title)
	assert.Equal(t, "quarterly numbers", byUUID.Description)
	assert.Equal(t, "Q1", byUUID.Properties["finance:quarter"])

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

func TestEmptyFidIsNotUnique(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	require.NoError(t, r.Add(ctx, doc("u1-00000000", "", "A", "--root--")))
	require.NoError(t, r.Add(ctx, doc("u2-00000000", "", "B", "--root--")))
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

func TestUpdateMissing(t *testing.T) {
	r := newRepo(t)
	err := r.Update(context.Background(), doc("ghost-0000000", "", "G", "--root--"))
	require.Error(t, err)
	_, ok := err.(errtypes.IsNotFound)
	assert.True(t, ok)
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
		n := doc("uuid-doc-"+strconv.Itoa(i), "", "Doc "+strconv.Itoa(i), "folder-000001")
		require.NoError(t, r.Add(ctx, n))
	}

	f := filter.From(filter.New("parent", filter.OpEqual, "folder-000001"))

	page, err := r.Filter(ctx, f, 3, 1)
	require.NoError(t, err)
	require.Len(t, page.Nodes, 3)
	assert.Equal(t, "Doc 0", page.Nodes[0].Title)

	page, err = r.Filter(ctx, f, 3, 3)
	require.NoError(t, err)
	assert.Len(t, page.Nodes, 1)

	page, err = r.Filter(ctx, f, 3, 4)
	require.NoError(t, err)
	assert.Empty(t, page.Nodes)
}

func TestFilterResidualClause(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	a := doc("uuid-aaa-0001", "", "Alpha", "folder-000001")
	a.Description = "keep"
	b := doc("uuid-bbb-0001", "", "Beta", "folder-000001")
	b.Description = "drop"
	require.NoError(t, r.Add(ctx, a))
	require.NoError(t, r.Add(ctx, b))

	// parent is promoted and pushed down; description is post-filtered.
	f, err := filter.Parse(`parent=="folder-000001",description=="keep"`)
	require.NoError(t, err)

	page, err := r.Filter(ctx, f, 25, 1)
	require.NoError(t, err)
	require.Len(t, page.Nodes, 1)
	assert.Equal(t, "Alpha", page.Nodes[0].Title)
}

func TestFilterDisjunction(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	require.NoError(t, r.Add(ctx, doc("uuid-aaa-0001", "", "Alpha", "folder-000001")))
	require.NoError(t, r.Add(ctx, doc("uuid-bbb-0001", "", "Beta", "folder-000002")))
	require.NoError(t, r.Add(ctx, doc("uuid-ccc-0001", "", "Gamma", "folder-000003")))

	f, err := filter.Parse(`title=="Alpha"|parent=="folder-000002"`)
	require.NoError(t, err)

	page, err := r.Filter(ctx, f, 25, 1)
	require.NoError(t, err)
	require.Len(t, page.Nodes, 2)
	assert.Equal(t, "Alpha", page.Nodes[0].Title)
	assert.Equal(t, "Beta", page.Nodes[1].Title)
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		where string
		args  int
	}{
		{
			name:  "promoted equality",
			in:    `parent=="p1"`,
			where: "(parent = ?)",
			args:  1,
		},
		{
			name:  "conjunction keeps promoted clauses only",
			in:    `parent=="p1",description=="x"`,
			where: "(parent = ?)",
			args:  1,
		},
		{
			name:  "disjunction of promoted groups",
			in:    `title=="A"|parent=="p2"`,
			where: "(title = ?) OR (parent = ?)",
			args:  2,
		},
		{
			name:  "unconstrained disjunct disables pushdown",
			in:    `parent=="p1"|description=="x"`,
			where: "",
			args:  0,
		},
		{
			name:  "in over promoted field",
			in:    `mimetype in ("a/b","c/d")`,
			where: "(mimetype IN (?,?))",
			args:  2,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f, err := filter.Parse(tc.in)
			require.NoError(t, err)
			where, args := translate(f)
			assert.Equal(t, tc.where, where)
			assert.Len(t, args, tc.args)
		})
	}
}
