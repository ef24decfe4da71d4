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

package aspect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kindalus/antbox/pkg/errtypes"
	"github.com/kindalus/antbox/pkg/node"
)

func invoiceAspect() *node.Node {
	return &node.Node{
		UUID:     "aspect-invoice-001",
		Title:    "Invoice",
		Parent:   node.AspectsFolderUUID,
		Mimetype: node.AspectMimetype,
		SchemaProperties: []node.Property{
			{Name: "amount", Type: node.PropertyNumber, Required: true},
			{Name: "currency", Type: node.PropertyString, ValidationList: []string{"EUR", "USD"}},
			{Name: "reference", Type: node.PropertyString, ValidationRegex: `INV-[0-9]{4}`},
			{Name: "tags", Type: node.PropertyArray, ArrayType: node.PropertyString},
		},
	}
}

func document(props map[string]interface{}) *node.Node {
	return &node.Node{
		UUID:       "doc-0000000001",
		Title:      "March invoice",
		Parent:     node.RootFolderUUID,
		Mimetype:   "application/pdf",
		Aspects:    []string{"aspect-invoice-001"},
		Properties: props,
	}
}

func TestSpecificationSatisfied(t *testing.T) {
	spec, err := SpecificationFrom(invoiceAspect())
	require.NoError(t, err)

	n := document(map[string]interface{}{
		"aspect-invoice-001:amount":    float64(99.5),
		"aspect-invoice-001:currency":  "EUR",
		"aspect-invoice-001:reference": "INV-2024",
		"aspect-invoice-001:tags":      []interface{}{"q1", "paid"},
	})
	require.NoError(t, spec.IsSatisfiedBy(n))
}

func TestSpecificationMissingRequired(t *testing.T) {
	spec, err := SpecificationFrom(invoiceAspect())
	require.NoError(t, err)

	err = spec.IsSatisfiedBy(document(map[string]interface{}{}))
	require.Error(t, err)
	verr, ok := err.(*errtypes.ValidationError)
	require.True(t, ok)
	assert.True(t, verr.Has(errtypes.CodePropertyRequired))
}

func TestSpecificationTypeMismatch(t *testing.T) {
	spec, err := SpecificationFrom(invoiceAspect())
	require.NoError(t, err)

	err = spec.IsSatisfiedBy(document(map[string]interface{}{
		"aspect-invoice-001:amount": "not a number",
	}))
	require.Error(t, err)
	verr, ok := err.(*errtypes.ValidationError)
	require.True(t, ok)
	assert.True(t, verr.Has(errtypes.CodePropertyType))
}

func TestSpecificationListViolation(t *testing.T) {
	spec, err := SpecificationFrom(invoiceAspect())
	require.NoError(t, err)

	err = spec.IsSatisfiedBy(document(map[string]interface{}{
		"aspect-invoice-001:amount":   float64(1),
		"aspect-invoice-001:currency": "GBP",
	}))
	require.Error(t, err)
	verr, ok := err.(*errtypes.ValidationError)
	require.True(t, ok)
	assert.True(t, verr.Has(errtypes.CodePropertyNotInList))
}

func TestSpecificationRegexViolation(t *testing.T) {
	spec, err := SpecificationFrom(invoiceAspect())
	require.NoError(t, err)

	err = spec.IsSatisfiedBy(document(map[string]interface{}{
		"aspect-invoice-001:amount":    float64(1),
		"aspect-invoice-001:reference": "2024-INV",
	}))
	require.Error(t, err)
	verr, ok := err.(*errtypes.ValidationError)
	require.True(t, ok)
	assert.True(t, verr.Has(errtypes.CodePropertyDoesNotMatchRegex))
}

func TestSpecificationArrayElementType(t *testing.T) {
	spec, err := SpecificationFrom(invoiceAspect())
	require.NoError(t, err)

	err = spec.IsSatisfiedBy(document(map[string]interface{}{
		"aspect-invoice-001:amount": float64(1),
		"aspect-invoice-001:tags":   []interface{}{"ok", 7},
	}))
	require.Error(t, err)
}

func TestRequiredEmptyArray(t *testing.T) {
	a := &node.Node{
		UUID:     "aspect-x",
		Mimetype: node.AspectMimetype,
		SchemaProperties: []node.Property{
			{Name: "labels", Type: node.PropertyArray, ArrayType: node.PropertyString, Required: true},
		},
	}
	spec, err := SpecificationFrom(a)
	require.NoError(t, err)

	err = spec.IsSatisfiedBy(document(map[string]interface{}{
		"aspect-x:labels": []interface{}{},
	}))
	require.Error(t, err)
}

func TestSpecificationFromRejectsNonAspect(t *testing.T) {
	_, err := SpecificationFrom(&node.Node{UUID: "f", Mimetype: node.FolderMimetype})
	require.Error(t, err)
}

func TestValidateDefaults(t *testing.T) {
	a := invoiceAspect()
	a.SchemaProperties[1].Default = "EUR"
	require.NoError(t, ValidateDefaults(a))

	a.SchemaProperties[1].Default = "GBP"
	err := ValidateDefaults(a)
	require.Error(t, err)
	verr, ok := err.(*errtypes.ValidationError)
	require.True(t, ok)
	assert.True(t, verr.Has(errtypes.CodeInvalidDefaultValue))
}

func TestPropertyKey(t *testing.T) {
	assert.Equal(t, "a:b", PropertyKey("a", "b"))
}
