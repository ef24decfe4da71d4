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

// Package filter implements the query language used across the engine: a
// disjunctive normal form of [field, operator, value] triples. The in-memory
// evaluator in this package is the canonical semantics; backend translations
// must over-approximate and let callers post-filter with Matches.
package filter

import (
	"fmt"
	"strconv"
	"strings"
)

// Operator is one of the closed set of filter operators.
type Operator string

// The operator set. Longest-first matching during parsing disambiguates
// "contains-all" from "contains" and ">=" from ">".
const (
	OpEqual          Operator = "=="
	OpNotEqual       Operator = "!="
	OpLess           Operator = "<"
	OpLessOrEqual    Operator = "<="
	OpGreater        Operator = ">"
	OpGreaterOrEqual Operator = ">="
	OpIn             Operator = "in"
	OpNotIn          Operator = "not-in"
	OpContains       Operator = "contains"
	OpNotContains    Operator = "not-contains"
	OpContainsAll    Operator = "contains-all"
	OpContainsAny    Operator = "contains-any"
	OpContainsNone   Operator = "contains-none"
	OpMatch          Operator = "match"
	OpSimilar        Operator = "~="
)

// operators holds every operator ordered longest first.
var operators = []Operator{
	OpContainsNone,
	OpContainsAll,
	OpContainsAny,
	OpNotContains,
	OpContains,
	OpNotIn,
	OpMatch,
	OpLessOrEqual,
	OpGreaterOrEqual,
	OpEqual,
	OpNotEqual,
	OpSimilar,
	OpIn,
	OpLess,
	OpGreater,
}

// IsOperator reports whether s is a member of the operator set.
func IsOperator(s string) bool {
	for _, op := range operators {
		if string(op) == s {
			return true
		}
	}
	return false
}

// Filter is a single [field, operator, value] predicate.
type Filter struct {
	Field    string
	Operator Operator
	Value    interface{}
}

// New builds a single filter triple.
func New(field string, op Operator, value interface{}) Filter {
	return Filter{Field: field, Operator: op, Value: value}
}

// Filters1D is an AND-conjunction of filters.
type Filters1D []Filter

// Filters is a disjunction of conjunctions. A node satisfies the predicate
// iff at least one conjunction is fully satisfied. An empty Filters matches
// every node.
type Filters []Filters1D

// From wraps a single conjunction as a DNF.
func From(fs ...Filter) Filters {
	if len(fs) == 0 {
		return Filters{}
	}
	return Filters{Filters1D(fs)}
}

// IsEmpty reports whether no filter is present at all.
func (f Filters) IsEmpty() bool {
	for _, and := range f {
		if len(and) > 0 {
			return false
		}
	}
	return true
}

// And returns a DNF where every conjunction additionally requires extra.
// AND distributes over the disjunction.
func (f Filters) And(extra ...Filter) Filters {
	if f.IsEmpty() {
		return From(extra...)
	}
	out := make(Filters, 0, len(f))
	for _, and := range f {
		merged := make(Filters1D, 0, len(and)+len(extra))
		merged = append(merged, and...)
		merged = append(merged, extra...)
		out = append(out, merged)
	}
	return out
}

// Format renders the DNF in the textual form accepted by Parse. The result
// round-trips: Parse(Format(f)) yields the same DNF.
func Format(f Filters) string {
	groups := make([]string, 0, len(f))
	for _, and := range f {
		clauses := make([]string, 0, len(and))
		for _, flt := range and {
			clauses = append(clauses, formatClause(flt))
		}
		groups = append(groups, strings.Join(clauses, ", "))
	}
	return strings.Join(groups, " | ")
}

func formatClause(f Filter) string {
	return fmt.Sprintf("%s %s %s", f.Field, f.Operator, formatValue(f.Value))
}

func formatValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return `""`
	case string:
		return strconv.Quote(t)
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case []string:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			parts = append(parts, strconv.Quote(e))
		}
		return "(" + strings.Join(parts, ",") + ")"
	case []interface{}:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			parts = append(parts, formatValue(e))
		}
		return "(" + strings.Join(parts, ",") + ")"
	default:
		return strconv.Quote(fmt.Sprintf("%v", t))
	}
}
