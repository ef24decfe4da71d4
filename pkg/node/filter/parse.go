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

package filter

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/kindalus/antbox/pkg/errtypes"
)

// Parse reads the textual filter form: OR groups separated by "|", AND
// clauses by ",", quoted values via `"…"`, list values via `(v1,"v2",…)`.
// Quotes and parentheses suppress splitting. A bare string with no operator
// is not a filter and yields a BadRequest error.
func Parse(s string) (Filters, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Filters{}, nil
	}

	out := Filters{}
	for _, group := range splitTop(s, '|') {
		group = strings.TrimSpace(group)
		if group == "" {
			continue
		}
		and := Filters1D{}
		for _, clause := range splitTop(group, ',') {
			clause = strings.TrimSpace(clause)
			if clause == "" {
				continue
			}
			f, err := parseClause(clause)
			if err != nil {
				return nil, err
			}
			and = append(and, f)
		}
		if len(and) > 0 {
			out = append(out, and)
		}
	}
	return out, nil
}

// splitTop splits s on sep occurrences that are outside quotes and outside
// parentheses.
func splitTop(s string, sep rune) []string {
	var (
		parts   []string
		depth   int
		inQuote bool
		start   int
	)
	for i, r := range s {
		switch {
		case r == '"' && !escaped(s, i):
			inQuote = !inQuote
		case inQuote:
		case r == '(':
			depth++
		case r == ')':
			if depth > 0 {
				depth--
			}
		case r == sep && depth == 0:
			parts = append(parts, s[start:i])
			start = i + len(string(r))
		}
	}
	parts = append(parts, s[start:])
	return parts
}

func escaped(s string, i int) bool {
	return i > 0 && s[i-1] == '\\'
}

func parseClause(clause string) (Filter, error) {
	field, op, rawValue, ok := splitClause(clause)
	if !ok {
		return Filter{}, errtypes.BadRequest("not a filter expression: " + clause)
	}
	if field == "" {
		return Filter{}, errtypes.BadRequest("filter clause missing field: " + clause)
	}
	value, err := parseValue(rawValue)
	if err != nil {
		return Filter{}, err
	}
	return Filter{Field: field, Operator: op, Value: value}, nil
}

// splitClause locates the first operator occurrence outside quotes, trying
// operators longest first so "contains-all" never parses as "contains".
func splitClause(clause string) (field string, op Operator, value string, ok bool) {
	inQuote := false
	for i := 0; i < len(clause); i++ {
		if clause[i] == '"' && !escaped(clause, i) {
			inQuote = !inQuote
			continue
		}
		if inQuote {
			continue
		}
		for _, candidate := range operators {
			c := string(candidate)
			if !strings.HasPrefix(clause[i:], c) {
				continue
			}
			if isWordOperator(candidate) && !wordBoundary(clause, i, len(c)) {
				continue
			}
			return strings.TrimSpace(clause[:i]), candidate, strings.TrimSpace(clause[i+len(c):]), true
		}
	}
	return "", "", "", false
}

func isWordOperator(op Operator) bool {
	return unicode.IsLetter(rune(op[0]))
}

// wordBoundary requires word operators (in, match, contains…) to be
// delimited so a field like "inbox" is not cut at "in".
func wordBoundary(s string, start, length int) bool {
	if start > 0 {
		prev := rune(s[start-1])
		if unicode.IsLetter(prev) || unicode.IsDigit(prev) || prev == '_' || prev == '-' || prev == '.' {
			return false
		}
	}
	end := start + length
	if end < len(s) {
		next := rune(s[end])
		if unicode.IsLetter(next) || unicode.IsDigit(next) || next == '_' || next == '-' || next == '.' {
			return false
		}
	}
	return true
}

func parseValue(raw string) (interface{}, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return "", nil
	case raw[0] == '"':
		s, err := strconv.Unquote(raw)
		if err != nil {
			return nil, errtypes.BadRequest("unterminated quoted value: " + raw)
		}
		return s, nil
	case raw[0] == '(':
		if !strings.HasSuffix(raw, ")") {
			return nil, errtypes.BadRequest("unterminated list value: " + raw)
		}
		inner := raw[1 : len(raw)-1]
		list := []interface{}{}
		for _, item := range splitTop(inner, ',') {
			item = strings.TrimSpace(item)
			if item == "" {
				continue
			}
			v, err := parseValue(item)
			if err != nil {
				return nil, err
			}
			list = append(list, v)
		}
		return list, nil
	case raw == "true":
		return true, nil
	case raw == "false":
		return false, nil
	default:
		if n, err := strconv.ParseFloat(raw, 64); err == nil {
			return n, nil
		}
		return raw, nil
	}
}
