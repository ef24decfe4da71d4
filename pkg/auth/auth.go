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

// Package auth defines the authentication context every service call runs
// under. The context is an input: credential verification happens at the
// transport layer, the kernel only consumes its outcome.
package auth

// Mode says on whose behalf a call is made.
type Mode string

const (
	// ModeDirect is a call made directly by a principal.
	ModeDirect Mode = "Direct"
	// ModeAction is a call made by an action running on behalf of a principal.
	ModeAction Mode = "Action"
	// ModeAI is a call made by an agent on behalf of a principal.
	ModeAI Mode = "AI"
)

// Built-in principal emails.
const (
	// RootEmail is the superuser. It bypasses every permission check.
	RootEmail = "root@antbox.io"
	// AnonymousEmail marks unauthenticated requests.
	AnonymousEmail = "anonymous@antbox.io"
)

// Principal is the identity making a request.
type Principal struct {
	Email  string
	Groups []string
}

// InGroup reports whether the principal belongs to the given group uuid.
func (p Principal) InGroup(group string) bool {
	for _, g := range p.Groups {
		if g == group {
			return true
		}
	}
	return false
}

// InAnyGroup reports whether the principal belongs to at least one of the
// given groups. An empty list never matches.
func (p Principal) InAnyGroup(groups []string) bool {
	for _, g := range groups {
		if p.InGroup(g) {
			return true
		}
	}
	return false
}

// Context is the authentication context of a service call.
type Context struct {
	Tenant    string
	Mode      Mode
	Principal Principal
}

// IsAnonymous reports whether the call is unauthenticated.
func (c Context) IsAnonymous() bool {
	return c.Principal.Email == "" || c.Principal.Email == AnonymousEmail
}

// IsRoot reports whether the principal is the built-in superuser.
func (c Context) IsRoot() bool {
	return c.Principal.Email == RootEmail
}

// Anonymous returns an unauthenticated context for the given tenant.
func Anonymous(tenant string) Context {
	return Context{
		Tenant:    tenant,
		Mode:      ModeDirect,
		Principal: Principal{Email: AnonymousEmail},
	}
}

// System returns a root context for the given tenant. It is used by internal
// machinery (bootstrap, workflow engine) that must bypass permission checks.
func System(tenant string) Context {
	return Context{
		Tenant:    tenant,
		Mode:      ModeDirect,
		Principal: Principal{Email: RootEmail},
	}
}
