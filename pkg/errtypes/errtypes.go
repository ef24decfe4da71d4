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

// Package errtypes contains definitions for the domain errors of the node
// kernel. Every error carries a stable code so transport layers can map it
// to a protocol status without inspecting messages.
package errtypes

// Stable error codes. These are part of the wire contract and must not change.
const (
	CodeNodeNotFound     = "NodeNotFound"
	CodeNodeFileNotFound = "NodeFileNotFound"
	CodeDuplicatedNode   = "DuplicatedNode"
	CodeNodeTypeError    = "NodeTypeError"
	CodeForbidden        = "ForbiddenError"
	CodeUnauthorized     = "UnauthorizedError"
	CodeBadRequest       = "BadRequestError"
	CodeValidation       = "ValidationError"
	CodeUnknown          = "UnknownError"
)

// NotFound is the error to use when a node lookup by uuid, fid or path missed.
type NotFound string

func (e NotFound) Error() string { return "error: node not found: " + string(e) }

// Code returns the stable error code.
func (e NotFound) Code() string { return CodeNodeNotFound }

// IsNotFound implements the IsNotFound interface.
func (e NotFound) IsNotFound() {}

// FileNotFound is the error to use when node metadata exists but the binary
// is missing in the storage provider.
type FileNotFound string

func (e FileNotFound) Error() string { return "error: node file not found: " + string(e) }

// Code returns the stable error code.
func (e FileNotFound) Code() string { return CodeNodeFileNotFound }

// IsFileNotFound implements the IsFileNotFound interface.
func (e FileNotFound) IsFileNotFound() {}

// Duplicated is the error to use when a uuid or fid collides on add.
type Duplicated string

func (e Duplicated) Error() string { return "error: duplicated node: " + string(e) }

// Code returns the stable error code.
func (e Duplicated) Code() string { return CodeDuplicatedNode }

// IsDuplicated implements the IsDuplicated interface.
func (e Duplicated) IsDuplicated() {}

// NodeType is the error to use when an operation is inapplicable to the
// node variant, e.g. export on a folder.
type NodeType string

func (e NodeType) Error() string { return "error: node type: " + string(e) }

// Code returns the stable error code.
func (e NodeType) Code() string { return CodeNodeTypeError }

// IsNodeType implements the IsNodeType interface.
func (e NodeType) IsNodeType() {}

// Forbidden is the error to use when a permission check failed.
type Forbidden string

func (e Forbidden) Error() string { return "error: forbidden: " + string(e) }

// Code returns the stable error code.
func (e Forbidden) Code() string { return CodeForbidden }

// IsForbidden implements the IsForbidden interface.
func (e Forbidden) IsForbidden() {}

// Unauthorized is the error to use when credentials are missing or invalid.
type Unauthorized string

func (e Unauthorized) Error() string { return "error: unauthorized: " + string(e) }

// Code returns the stable error code.
func (e Unauthorized) Code() string { return CodeUnauthorized }

// IsUnauthorized implements the IsUnauthorized interface.
func (e Unauthorized) IsUnauthorized() {}

// BadRequest is the error to use on syntactic input failures, e.g. an
// unparsable filter string or a missing required field.
type BadRequest string

func (e BadRequest) Error() string { return "error: bad request: " + string(e) }

// Code returns the stable error code.
func (e BadRequest) Code() string { return CodeBadRequest }

// IsBadRequest implements the IsBadRequest interface.
func (e BadRequest) IsBadRequest() {}

// Unknown wraps a backend failure that has no domain meaning.
type Unknown struct {
	Msg   string
	Cause error
}

func (e Unknown) Error() string {
	if e.Cause != nil {
		return "error: unknown: " + e.Msg + ": " + e.Cause.Error()
	}
	return "error: unknown: " + e.Msg
}

// Code returns the stable error code.
func (e Unknown) Code() string { return CodeUnknown }

// Unwrap returns the wrapped cause.
func (e Unknown) Unwrap() error { return e.Cause }

// IsNotFound is the interface to implement
// to specify that a node is not found.
type IsNotFound interface {
	IsNotFound()
}

// IsFileNotFound is the interface to implement
// to specify that a node binary is missing.
type IsFileNotFound interface {
	IsFileNotFound()
}

// IsDuplicated is the interface to implement
// to specify that a uuid or fid already exists.
type IsDuplicated interface {
	IsDuplicated()
}

// IsNodeType is the interface to implement
// to specify that an operation does not apply to the variant.
type IsNodeType interface {
	IsNodeType()
}

// IsForbidden is the interface to implement
// to specify that a permission check failed.
type IsForbidden interface {
	IsForbidden()
}

// IsUnauthorized is the interface to implement
// to specify that credentials were missing or wrong.
type IsUnauthorized interface {
	IsUnauthorized()
}

// IsBadRequest is the interface to implement
// to specify that the input was malformed.
type IsBadRequest interface {
	IsBadRequest()
}

// Coder is implemented by every domain error.
type Coder interface {
	Code() string
}

// CodeOf returns the stable code of err, or CodeUnknown for foreign errors.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	if c, ok := err.(Coder); ok {
		return c.Code()
	}
	return CodeUnknown
}
