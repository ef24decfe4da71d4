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

package errtypes

import "strings"

// Property-level validation codes carried inside a ValidationError.
const (
	CodePropertyRequired            = "PropertyRequired"
	CodePropertyType                = "PropertyType"
	CodePropertyNotInList           = "PropertyNotInList"
	CodePropertyDoesNotMatchRegex   = "PropertyDoesNotMatchRegex"
	CodePropertyDoesNotMatchFilters = "PropertyDoesNotMatchFilters"
	CodeReadonlyProperty            = "ReadonlyProperty"
	CodeNodeTitleRequired           = "NodeTitleRequired"
	CodeInvalidMimetype             = "InvalidMimetype"
	CodeInvalidParent               = "InvalidParent"
	CodeInvalidUUID                 = "InvalidUUID"
	CodeInvalidEmail                = "InvalidEmail"
	CodeInvalidFid                  = "InvalidFid"
	CodeInvalidPropertyName         = "InvalidPropertyName"
	CodeInvalidDefaultValue         = "InvalidDefaultValue"
)

// PropertyError is a single constraint failure inside a ValidationError.
type PropertyError struct {
	Property string
	Code     string
	Message  string
}

func (p PropertyError) Error() string {
	if p.Property == "" {
		return p.Code + ": " + p.Message
	}
	return p.Code + ": " + p.Property + ": " + p.Message
}

// ValidationError aggregates one or more property-level failures. It is an
// aggregator, not a hierarchy: every failing constraint of a write is
// collected into a single value before it is surfaced.
type ValidationError struct {
	errs []PropertyError
}

// NewValidationError builds a ValidationError from the given failures.
func NewValidationError(errs ...PropertyError) *ValidationError {
	return &ValidationError{errs: errs}
}

// Append adds a failure to the aggregate.
func (e *ValidationError) Append(p PropertyError) {
	e.errs = append(e.errs, p)
}

// Merge folds another aggregate into this one. Nil is a no-op.
func (e *ValidationError) Merge(other *ValidationError) {
	if other == nil {
		return
	}
	e.errs = append(e.errs, other.errs...)
}

// Empty reports whether no failure has been recorded.
func (e *ValidationError) Empty() bool { return len(e.errs) == 0 }

// Errors returns the collected failures.
func (e *ValidationError) Errors() []PropertyError { return e.errs }

// Has reports whether any collected failure carries the given code.
func (e *ValidationError) Has(code string) bool {
	for _, p := range e.errs {
		if p.Code == code {
			return true
		}
	}
	return false
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.errs))
	for _, p := range e.errs {
		msgs = append(msgs, p.Error())
	}
	return "error: validation: " + strings.Join(msgs, "; ")
}

// Code returns the stable error code.
func (e *ValidationError) Code() string { return CodeValidation }

// IsValidation implements the IsValidation interface.
func (e *ValidationError) IsValidation() {}

// OrNil returns nil when the aggregate is empty so call sites can return it
// directly as an error value.
func (e *ValidationError) OrNil() error {
	if e == nil || e.Empty() {
		return nil
	}
	return e
}

// IsValidation is the interface to implement
// to specify that one or more constraints failed.
type IsValidation interface {
	IsValidation()
}
