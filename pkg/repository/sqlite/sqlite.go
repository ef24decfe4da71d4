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

// Package sqlite provides a SQL repository. The promoted envelope fields are
// projected into direct columns; the full envelope lives in a JSON column.
// Filter translation pushes down what the planner can use and the canonical
// evaluator post-filters, so translated queries only ever over-approximate.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mattn/go-sqlite3"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"

	"github.com/kindalus/antbox/pkg/errtypes"
	"github.com/kindalus/antbox/pkg/node"
	"github.com/kindalus/antbox/pkg/node/filter"
	"github.com/kindalus/antbox/pkg/repository"
	"github.com/kindalus/antbox/pkg/repository/registry"
)

func init() {
	registry.Register("sqlite", New)
}

type config struct {
	File string `mapstructure:"file"`
}

// New returns a sqlite backed repository.
func New(conf map[string]interface{}) (repository.Repository, error) {
	c := &config{}
	if err := mapstructure.Decode(conf, c); err != nil {
		return nil, errors.Wrap(err, "sqlite: error decoding config")
	}
	if c.File == "" {
		c.File = ":memory:"
	}

	db, err := sql.Open("sqlite3", c.File)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite: error opening database")
	}

	const schema = `
CREATE TABLE IF NOT EXISTS nodes (
	uuid     TEXT PRIMARY KEY,
	fid      TEXT,
	title    TEXT NOT NULL,
	parent   TEXT,
	mimetype TEXT NOT NULL,
	metadata TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS nodes_fid ON nodes(fid) WHERE fid <> '';
CREATE INDEX IF NOT EXISTS nodes_parent ON nodes(parent);
CREATE INDEX IF NOT EXISTS nodes_mimetype ON nodes(mimetype);
`
	if _, err := db.Exec(schema); err != nil {
		return nil, errors.Wrap(err, "sqlite: error creating schema")
	}

	return &repo{db: db}, nil
}

type repo struct {
	db *sql.DB
}

func (r *repo) Add(ctx context.Context, n *node.Node) error {
	md, err := json.Marshal(n.Metadata())
	if err != nil {
		return errors.Wrap(err, "sqlite: error encoding metadata")
	}
	_, err = r.db.ExecContext(ctx,
		"INSERT INTO nodes (uuid, fid, title, parent, mimetype, metadata) VALUES (?, ?, ?, ?, ?, ?)",
		n.UUID, n.FID, n.Title, n.Parent, n.Mimetype, string(md))
	if isConstraintError(err) {
		return errtypes.Duplicated(n.UUID)
	}
	if err != nil {
		return errtypes.Unknown{Msg: "sqlite: add failed", Cause: err}
	}
	return nil
}

func (r *repo) GetByUUID(ctx context.Context, uuid string) (*node.Node, error) {
	return r.getBy(ctx, "uuid", uuid)
}

func (r *repo) GetByFID(ctx context.Context, fid string) (*node.Node, error) {
	return r.getBy(ctx, "fid", fid)
}

func (r *repo) getBy(ctx context.Context, column, value string) (*node.Node, error) {
	var raw string
	err := r.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT metadata FROM nodes WHERE %s = ?", column), value).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, errtypes.NotFound(value)
	}
	if err != nil {
		return nil, errtypes.Unknown{Msg: "sqlite: get failed", Cause: err}
	}
	return decode(raw)
}

func (r *repo) Update(ctx context.Context, n *node.Node) error {
	md, err := json.Marshal(n.Metadata())
	if err != nil {
		return errors.Wrap(err, "sqlite: error encoding metadata")
	}
	res, err := r.db.ExecContext(ctx,
		"UPDATE nodes SET fid = ?, title = ?, parent = ?, mimetype = ?, metadata = ? WHERE uuid = ?",
		n.FID, n.Title, n.Parent, n.Mimetype, string(md), n.UUID)
	if isConstraintError(err) {
		return errtypes.Duplicated("fid: " + n.FID)
	}
	if err != nil {
		return errtypes.Unknown{Msg: "sqlite: update failed", Cause: err}
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return errtypes.NotFound(n.UUID)
	}
	return nil
}

func (r *repo) Delete(ctx context.Context, uuid string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM nodes WHERE uuid = ?", uuid)
	if err != nil {
		return errtypes.Unknown{Msg: "sqlite: delete failed", Cause: err}
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return errtypes.NotFound(uuid)
	}
	return nil
}

func (r *repo) Filter(ctx context.Context, f filter.Filters, pageSize, pageToken int) (repository.Page, error) {
	if pageSize <= 0 {
		pageSize = 25
	}
	if pageToken <= 0 {
		pageToken = 1
	}

	where, args := translate(f)
	query := "SELECT metadata FROM nodes"
	if where != "" {
		query += " WHERE " + where
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return repository.Page{}, errtypes.Unknown{Msg: "sqlite: filter failed", Cause: err}
	}
	defer rows.Close()

	matched := make([]*node.Node, 0)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return repository.Page{}, errtypes.Unknown{Msg: "sqlite: scan failed", Cause: err}
		}
		n, err := decode(raw)
		if err != nil {
			return repository.Page{}, err
		}
		// The pushdown over-approximates; the evaluator is the truth.
		if filter.Matches(f, n.Metadata()) {
			matched = append(matched, n)
		}
	}
	if err := rows.Err(); err != nil {
		return repository.Page{}, errtypes.Unknown{Msg: "sqlite: filter failed", Cause: err}
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Title != matched[j].Title {
			return matched[i].Title < matched[j].Title
		}
		return matched[i].UUID < matched[j].UUID
	})

	start := (pageToken - 1) * pageSize
	if start > len(matched) {
		start = len(matched)
	}
	end := start + pageSize
	if end > len(matched) {
		end = len(matched)
	}
	return repository.Page{Nodes: matched[start:end], PageSize: pageSize, PageToken: pageToken}, nil
}

func (r *repo) Close() error { return r.db.Close() }

// translate renders the pushdown WHERE clause of a DNF: an OR of per-
// conjunction groups over the promoted columns. Clauses that do not fit are
// dropped, widening the result set for the post-filter. A conjunction with
// no translatable clause widens the whole query to a full scan.
func translate(f filter.Filters) (string, []interface{}) {
	promoted := map[string]struct{}{}
	for _, p := range repository.PromotedFields {
		promoted[p] = struct{}{}
	}

	groups := make([]string, 0, len(f))
	args := make([]interface{}, 0)
	for _, and := range f {
		clauses := make([]string, 0, len(and))
		for _, flt := range and {
			if _, ok := promoted[flt.Field]; !ok {
				continue
			}
			switch flt.Operator {
			case filter.OpEqual:
				if s, ok := flt.Value.(string); ok {
					clauses = append(clauses, flt.Field+" = ?")
					args = append(args, s)
				}
			case filter.OpNotEqual:
				if s, ok := flt.Value.(string); ok {
					clauses = append(clauses, flt.Field+" <> ?")
					args = append(args, s)
				}
			case filter.OpIn:
				list, ok := flt.Value.([]interface{})
				if !ok || len(list) == 0 {
					continue
				}
				placeholders := make([]string, 0, len(list))
				listArgs := make([]interface{}, 0, len(list))
				for _, item := range list {
					s, isStr := item.(string)
					if !isStr {
						placeholders = nil
						break
					}
					placeholders = append(placeholders, "?")
					listArgs = append(listArgs, s)
				}
				if len(placeholders) > 0 {
					clauses = append(clauses, flt.Field+" IN ("+strings.Join(placeholders, ",")+")")
					args = append(args, listArgs...)
				}
			}
		}
		if len(clauses) == 0 {
			// One unconstrained disjunct makes the pushdown moot.
			return "", nil
		}
		groups = append(groups, "("+strings.Join(clauses, " AND ")+")")
	}
	if len(groups) == 0 {
		return "", nil
	}
	return strings.Join(groups, " OR "), args
}

func decode(raw string) (*node.Node, error) {
	md := map[string]interface{}{}
	if err := json.Unmarshal([]byte(raw), &md); err != nil {
		return nil, errtypes.Unknown{Msg: "sqlite: error decoding metadata", Cause: err}
	}
	return node.FromMetadata(md)
}

func isConstraintError(err error) bool {
	if err == nil {
		return false
	}
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code == sqlite3.ErrConstraint
	}
	return false
}
