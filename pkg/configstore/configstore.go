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

// Package configstore defines the tenant configuration key/value store,
// independent of the node graph. It holds user credentials and feature
// configuration. An instance is scoped to one tenant.
package configstore

import "context"

// Store is the configuration repository port.
type Store interface {
	// Get returns the value or a NotFound error.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set creates or replaces the value.
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes the key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// List returns all entries whose key starts with prefix.
	List(ctx context.Context, prefix string) (map[string][]byte, error)
	// Close releases backend resources.
	Close() error
}

// Well-known key prefixes.
const (
	// CredentialsPrefix + email holds the sha256 hex of a user password.
	CredentialsPrefix = "credentials/"
	// FeaturesPrefix + featureUUID holds feature configuration blobs.
	FeaturesPrefix = "features/"
)
