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
	"fmt"
	"regexp"
	"strings"
)

// Matches is the canonical filter semantics. The metadata argument is a node
// envelope as produced by node.Metadata(): nested maps with the properties
// map under "properties". Dotted field paths descend into it.
func Matches(f Filters, metadata map[string]interface{}) bool {
	if f.IsEmpty() {
		return true
	}
	for _, and := range f {
		if matchesAll(and, metadata) {
			return true
		}
	}
	return false
}

func matchesAll(and Filters1D, metadata map[string]interface{}) bool {
	for _, flt := range and {
		if !matchesOne(flt, metadata) {
			return false
		}
	}
	return true
}

func matchesOne(f Filter, metadata map[string]interface{}) bool {
	value, present := lookup(metadata, f.Field)

	// Absent fields satisfy only the negative operators.
	if !present {
		switch f.Operator {
		case OpNotEqual, OpNotIn, OpNotContains, OpContainsNone:
			return true
		default:
			return false
		}
	}

	switch f.Operator {
	case OpEqual:
		return equal(value, f.Value)
	case OpNotEqual:
		return !equal(value, f.Value)
	case OpLess:
		c, ok := compare(value, f.Value)
		return ok && c < 0
	case OpLessOrEqual:
		c, ok := compare(value, f.Value)
		return ok && c <= 0
	case OpGreater:
		c, ok := compare(value, f.Value)
		return ok && c > 0
	case OpGreaterOrEqual:
		c, ok := compare(value, f.Value)
		return ok && c >= 0
	case OpIn:
		return containsScalar(toSlice(f.Value), value)
	case OpNotIn:
		return !containsScalar(toSlice(f.Value), value)
	case OpContains:
		return containsScalar(toSlice(value), f.Value)
	case OpNotContains:
		return !containsScalar(toSlice(value), f.Value)
	case OpContainsAll:
		return containsAll(toSlice(value), toSlice(f.Value))
	case OpContainsAny:
		return containsAny(toSlice(value), toSlice(f.Value))
	case OpContainsNone:
		return !containsAny(toSlice(value), toSlice(f.Value))
	case OpMatch:
		return match(value, f.Value)
	case OpSimilar:
		// Semantic similarity is delegated to vector-capable backends;
		// locally every candidate is a match.
		return true
	default:
		return false
	}
}

// lookup descends a dotted path through nested maps. Missing intermediate
// keys yield absence, not an error.
func lookup(metadata map[string]interface{}, path string) (interface{}, bool) {
	segments := strings.Split(path, ".")
	var current interface{} = metadata
	for _, seg := range segments {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	if current == nil {
		return nil, false
	}
	return current, true
}

func equal(a, b interface{}) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	if as, aok := asSlice(a); aok {
		bs, bok := asSlice(b)
		if !bok || len(as) != len(bs) {
			return false
		}
		for i := range as {
			if !equal(as[i], bs[i]) {
				return false
			}
		}
		return true
	}
	if _, bok := asSlice(b); bok {
		return false
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

// compare orders two values: numerically when both are numbers, otherwise
// by string form. The second result is false when ordering does not apply.
func compare(a, b interface{}) (int, bool) {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			default:
				return 0, true
			}
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), true
	}
	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint64:
		return float64(t), true
	default:
		return 0, false
	}
}

func asSlice(v interface{}) ([]interface{}, bool) {
	switch t := v.(type) {
	case []interface{}:
		return t, true
	case []string:
		out := make([]interface{}, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, true
	case []float64:
		out := make([]interface{}, len(t))
		for i, f := range t {
			out[i] = f
		}
		return out, true
	default:
		return nil, false
	}
}

// toSlice coerces a value to a slice; scalars become a one-element slice so
// membership operators degrade gracefully.
func toSlice(v interface{}) []interface{} {
	if s, ok := asSlice(v); ok {
		return s
	}
	if v == nil {
		return nil
	}
	return []interface{}{v}
}

func containsScalar(haystack []interface{}, needle interface{}) bool {
	for _, e := range haystack {
		if equal(e, needle) {
			return true
		}
	}
	return false
}

func containsAll(haystack, needles []interface{}) bool {
	for _, n := range needles {
		if !containsScalar(haystack, n) {
			return false
		}
	}
	return true
}

func containsAny(haystack, needles []interface{}) bool {
	for _, n := range needles {
		if containsScalar(haystack, n) {
			return true
		}
	}
	return false
}

// match performs a case-insensitive substring match where whitespace in the
// pattern behaves as a lazy wildcard.
func match(value, pattern interface{}) bool {
	text := fmt.Sprintf("%v", value)
	words := strings.Fields(fmt.Sprintf("%v", pattern))
	if len(words) == 0 {
		return true
	}
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		quoted = append(quoted, regexp.QuoteMeta(w))
	}
	re, err := regexp.Compile("(?i)" + strings.Join(quoted, ".*?"))
	if err != nil {
		return false
	}
	return re.MatchString(text)
}
