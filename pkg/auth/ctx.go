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

package auth

import "context"

type ctxKey int

const authKey ctxKey = iota

// ContextSet stores the authentication context in ctx.
func ContextSet(ctx context.Context, a Context) context.Context {
	return context.WithValue(ctx, authKey, a)
}

// ContextGet retrieves the authentication context from ctx.
func ContextGet(ctx context.Context) (Context, bool) {
	a, ok := ctx.Value(authKey).(Context)
	return a, ok
}

// ContextMustGet retrieves the authentication context or an anonymous one
// for the given tenant when none is stored.
func ContextMustGet(ctx context.Context, tenant string) Context {
	if a, ok := ContextGet(ctx); ok {
		return a
	}
	return Anonymous(tenant)
}
