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

package node

import (
	"github.com/kindalus/antbox/pkg/auth"
	"github.com/kindalus/antbox/pkg/errtypes"
)

// Validate enforces the per-variant construction invariants. Failures are
// aggregated into a single ValidationError.
func (n *Node) Validate() error {
	verr := errtypes.NewValidationError()

	if n.Title == "" {
		verr.Append(errtypes.PropertyError{
			Property: "title",
			Code:     errtypes.CodeNodeTitleRequired,
			Message:  "title must not be empty",
		})
	}
	if n.Mimetype == "" {
		verr.Append(errtypes.PropertyError{
			Property: "mimetype",
			Code:     errtypes.CodeInvalidMimetype,
			Message:  "mimetype must not be empty",
		})
	}
	if n.UUID != "" && !ValidUUID(n.UUID) {
		verr.Append(errtypes.PropertyError{
			Property: "uuid",
			Code:     errtypes.CodeInvalidUUID,
			Message:  "uuid does not match the accepted identifier format",
		})
	}

	if canonical, ok := CanonicalParent(n.Mimetype); ok && n.Parent != canonical {
		verr.Append(errtypes.PropertyError{
			Property: "parent",
			Code:     errtypes.CodeInvalidParent,
			Message:  "variant must live under " + canonical,
		})
	}

	switch n.Mimetype {
	case SmartFolderMimetype:
		if n.Filters.IsEmpty() {
			verr.Append(errtypes.PropertyError{
				Property: "filters",
				Code:     errtypes.CodePropertyRequired,
				Message:  "smart folder requires filters",
			})
		}
	case AspectMimetype:
		for _, p := range n.SchemaProperties {
			if !PropertyNameRegexp.MatchString(p.Name) {
				verr.Append(errtypes.PropertyError{
					Property: p.Name,
					Code:     errtypes.CodeInvalidPropertyName,
					Message:  "property name does not match [A-Za-z_][A-Za-z0-9_]{2,}",
				})
			}
			if !ValidPropertyType(p.Type) {
				verr.Append(errtypes.PropertyError{
					Property: p.Name,
					Code:     errtypes.CodePropertyType,
					Message:  "unknown property type: " + string(p.Type),
				})
			}
			if p.Type == PropertyArray && p.ArrayType != "" && !ValidPropertyType(p.ArrayType) {
				verr.Append(errtypes.PropertyError{
					Property: p.Name,
					Code:     errtypes.CodePropertyType,
					Message:  "unknown array element type: " + string(p.ArrayType),
				})
			}
		}
	case UserMimetype:
		if !ValidEmail(n.Email) {
			verr.Append(errtypes.PropertyError{
				Property: "email",
				Code:     errtypes.CodeInvalidEmail,
				Message:  "email does not have the standard form",
			})
		}
		// Root and anonymous are built-in principals, never stored as nodes.
		if n.Email == auth.RootEmail || n.Email == auth.AnonymousEmail {
			verr.Append(errtypes.PropertyError{
				Property: "email",
				Code:     errtypes.CodeInvalidEmail,
				Message:  "email is reserved for a built-in principal",
			})
		}
		if n.Group == "" {
			verr.Append(errtypes.PropertyError{
				Property: "group",
				Code:     errtypes.CodePropertyRequired,
				Message:  "user requires a primary group",
			})
		}
	case APIKeyMimetype:
		if n.Group == "" {
			verr.Append(errtypes.PropertyError{
				Property: "group",
				Code:     errtypes.CodePropertyRequired,
				Message:  "api key requires a group",
			})
		}
		if n.Secret == "" {
			verr.Append(errtypes.PropertyError{
				Property: "secret",
				Code:     errtypes.CodePropertyRequired,
				Message:  "api key requires a secret",
			})
		}
	}

	if n.Locked && n.LockedBy == "" {
		verr.Append(errtypes.PropertyError{
			Property: "lockedBy",
			Code:     errtypes.CodePropertyRequired,
			Message:  "locked node requires lockedBy",
		})
	}

	if len(n.Aspects) > 0 && !n.IsAspectable() {
		verr.Append(errtypes.PropertyError{
			Property: "aspects",
			Code:     errtypes.CodeInvalidMimetype,
			Message:  "variant does not accept aspects",
		})
	}

	return verr.OrNil()
}
