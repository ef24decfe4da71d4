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

// Package aspect turns aspect definitions into composable validation
// specifications. An aspect is itself a node (mimetype aspect) whose schema
// properties constrain the values other nodes store under the composite key
// "<aspectUuid>:<propName>".
package aspect

import (
	"fmt"
	"regexp"

	"github.com/kindalus/antbox/pkg/errtypes"
	"github.com/kindalus/antbox/pkg/node"
)

// Specification validates a node against one aspect's declared constraints.
type Specification interface {
	// IsSatisfiedBy returns nil or a ValidationError aggregating every
	// failing constraint.
	IsSatisfiedBy(n *node.Node) error
}

// PropertyKey is the composite key a node uses to store property prop of the
// given aspect.
func PropertyKey(aspectUUID, prop string) string {
	return aspectUUID + ":" + prop
}

// SpecificationFrom builds the composite predicate of an aspect definition:
// the AND of one sub-predicate per declared property.
func SpecificationFrom(a *node.Node) (Specification, error) {
	if !a.IsAspect() {
		return nil, errtypes.NodeType("node " + a.UUID + " is not an aspect")
	}
	spec := &aspectSpecification{aspectUUID: a.UUID}
	for _, p := range a.SchemaProperties {
		pred, err := newPropertyPredicate(a.UUID, p)
		if err != nil {
			return nil, err
		}
		spec.properties = append(spec.properties, pred)
	}
	return spec, nil
}

// ValidateDefaults rejects aspect definitions whose property defaults violate
// their own constraints. Called at aspect create/update time.
func ValidateDefaults(a *node.Node) error {
	verr := errtypes.NewValidationError()
	for _, p := range a.SchemaProperties {
		if p.Default == nil {
			continue
		}
		pred, err := newPropertyPredicate(a.UUID, p)
		if err != nil {
			return err
		}
		if ferr := pred.check(p.Default); ferr != nil {
			verr.Append(errtypes.PropertyError{
				Property: p.Name,
				Code:     errtypes.CodeInvalidDefaultValue,
				Message:  "default value violates the property constraints: " + ferr.Code,
			})
		}
	}
	return verr.OrNil()
}

type aspectSpecification struct {
	aspectUUID string
	properties []*propertyPredicate
}

func (s *aspectSpecification) IsSatisfiedBy(n *node.Node) error {
	verr := errtypes.NewValidationError()
	for _, pred := range s.properties {
		value, present := lookupProperty(n, pred.key)
		if !present {
			if pred.prop.Required {
				verr.Append(errtypes.PropertyError{
					Property: pred.key,
					Code:     errtypes.CodePropertyRequired,
					Message:  "required property is missing",
				})
			}
			continue
		}
		if ferr := pred.check(value); ferr != nil {
			ferr.Property = pred.key
			verr.Append(*ferr)
		}
	}
	return verr.OrNil()
}

func lookupProperty(n *node.Node, key string) (interface{}, bool) {
	if n.Properties == nil {
		return nil, false
	}
	v, ok := n.Properties[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

type propertyPredicate struct {
	key   string
	prop  node.Property
	regex *regexp.Regexp
}

func newPropertyPredicate(aspectUUID string, p node.Property) (*propertyPredicate, error) {
	pred := &propertyPredicate{key: PropertyKey(aspectUUID, p.Name), prop: p}
	if p.ValidationRegex != "" {
		re, err := regexp.Compile("^" + p.ValidationRegex + "$")
		if err != nil {
			return nil, errtypes.BadRequest("invalid validation regex for property " + p.Name)
		}
		pred.regex = re
	}
	return pred, nil
}

// check runs the type, list and regex sub-predicates in order and reports the
// first failing one. Required presence is handled by the caller because a
// literal false counts as present.
func (pred *propertyPredicate) check(value interface{}) *errtypes.PropertyError {
	p := pred.prop

	elements, isArray := toElements(value)
	if p.Required && isArray && len(elements) == 0 {
		return &errtypes.PropertyError{
			Code:    errtypes.CodePropertyRequired,
			Message: "required property is an empty array",
		}
	}

	if ferr := pred.checkType(value, elements, isArray); ferr != nil {
		return ferr
	}

	// List and regex constraints apply only to string scalars and to
	// arrays of strings; everything else defers to backend semantics.
	if applies := p.Type == node.PropertyString ||
		(p.Type == node.PropertyArray && p.ArrayType == node.PropertyString); !applies {
		return nil
	}

	values := elements
	if !isArray {
		values = []interface{}{value}
	}

	if len(p.ValidationList) > 0 {
		for _, v := range values {
			if !inList(p.ValidationList, v) {
				return &errtypes.PropertyError{
					Code:    errtypes.CodePropertyNotInList,
					Message: fmt.Sprintf("%v is not in the validation list", v),
				}
			}
		}
	}

	if pred.regex != nil {
		for _, v := range values {
			s, ok := v.(string)
			if !ok || !pred.regex.MatchString(s) {
				return &errtypes.PropertyError{
					Code:    errtypes.CodePropertyDoesNotMatchRegex,
					Message: fmt.Sprintf("%v does not match %s", v, p.ValidationRegex),
				}
			}
		}
	}

	return nil
}

func (pred *propertyPredicate) checkType(value interface{}, elements []interface{}, isArray bool) *errtypes.PropertyError {
	p := pred.prop
	switch p.Type {
	case node.PropertyString, node.PropertyNumber, node.PropertyBoolean:
		if !scalarTypeOK(p.Type, value) {
			return typeError(p.Type, value)
		}
	case node.PropertyArray:
		if !isArray {
			return typeError(p.Type, value)
		}
		if p.ArrayType == "" {
			return nil
		}
		for _, e := range elements {
			if !scalarTypeOK(p.ArrayType, e) {
				return typeError(p.ArrayType, e)
			}
		}
	default:
		// date, dateTime, uuid, richText, text, json: deferred.
	}
	return nil
}

func scalarTypeOK(t node.PropertyType, v interface{}) bool {
	switch t {
	case node.PropertyString:
		_, ok := v.(string)
		return ok
	case node.PropertyBoolean:
		_, ok := v.(bool)
		return ok
	case node.PropertyNumber:
		switch v.(type) {
		case float64, float32, int, int32, int64:
			return true
		}
		return false
	default:
		return true
	}
}

func typeError(t node.PropertyType, v interface{}) *errtypes.PropertyError {
	return &errtypes.PropertyError{
		Code:    errtypes.CodePropertyType,
		Message: fmt.Sprintf("%v is not a %s", v, t),
	}
}

func toElements(v interface{}) ([]interface{}, bool) {
	switch t := v.(type) {
	case []interface{}:
		return t, true
	case []string:
		out := make([]interface{}, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

func inList(list []string, v interface{}) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
