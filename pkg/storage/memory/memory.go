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

// Package memory provides an in-memory blob store, used by tests and
// ephemeral tenants.
package memory

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/kindalus/antbox/pkg/errtypes"
	"github.com/kindalus/antbox/pkg/storage"
	"github.com/kindalus/antbox/pkg/storage/registry"
)

func init() {
	registry.Register("memory", New)
}

// New returns an in-memory blob store.
func New(_ map[string]interface{}) (storage.Storage, error) {
	return &mem{blobs: map[string][]byte{}}, nil
}

type mem struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func (m *mem) Write(_ context.Context, uuid string, r io.Reader, _ *storage.WriteOptions) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, errtypes.Unknown{Msg: "memory storage: read body failed", Cause: err}
	}
	m.mu.Lock()
	m.blobs[uuid] = data
	m.mu.Unlock()
	return int64(len(data)), nil
}

func (m *mem) Read(_ context.Context, uuid string) (io.ReadCloser, error) {
	m.mu.RLock()
	data, ok := m.blobs[uuid]
	m.mu.RUnlock()
	if !ok {
		return nil, errtypes.FileNotFound(uuid)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *mem) Delete(_ context.Context, uuid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[uuid]; !ok {
		return errtypes.FileNotFound(uuid)
	}
	delete(m.blobs, uuid)
	return nil
}

func (m *mem) Close() error { return nil }
