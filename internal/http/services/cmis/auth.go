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

package cmis

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/kindalus/antbox/pkg/auth"
	"github.com/kindalus/antbox/pkg/configstore"
	"github.com/kindalus/antbox/pkg/errtypes"
	"github.com/kindalus/antbox/pkg/node"
	"github.com/kindalus/antbox/pkg/node/filter"
)

// authenticate resolves Basic credentials against the tenant config store.
// Requests without credentials proceed as anonymous.
func (s *svc) authenticate(r *http.Request, t *Tenant) (context.Context, error) {
	ctx := r.Context()
	tenant := t.Nodes.Tenant()

	email, password, ok := r.BasicAuth()
	if !ok {
		return auth.ContextSet(ctx, auth.Anonymous(tenant)), nil
	}

	stored, err := t.Config.Get(ctx, configstore.CredentialsPrefix+email)
	if err != nil {
		return nil, errtypes.Unauthorized("unknown principal " + email)
	}
	sum := sha256.Sum256([]byte(password))
	if subtle.ConstantTimeCompare([]byte(hex.EncodeToString(sum[:])), stored) != 1 {
		return nil, errtypes.Unauthorized("invalid credentials for " + email)
	}

	groups := []string{}
	if email != auth.RootEmail {
		sys := auth.ContextSet(ctx, auth.System(tenant))
		page, err := t.Nodes.Find(sys, filter.From(
			filter.New("mimetype", filter.OpEqual, node.UserMimetype),
			filter.New("email", filter.OpEqual, email),
		), 1, 1)
		if err != nil {
			return nil, err
		}
		if len(page.Nodes) == 0 {
			return nil, errtypes.Unauthorized("no user node for " + email)
		}
		groups = page.Nodes[0].Groups
	}

	return auth.ContextSet(ctx, auth.Context{
		Tenant:    tenant,
		Mode:      auth.ModeDirect,
		Principal: auth.Principal{Email: email, Groups: groups},
	}), nil
}
