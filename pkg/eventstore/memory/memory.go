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

// Package memory provides an in-memory event store.
package memory

import (
	"context"
	"sync"

	"github.com/kindalus/antbox/pkg/eventstore"
	"github.com/kindalus/antbox/pkg/eventstore/registry"
)

func init() {
	registry.Register("memory", New)
}

// New returns an in-memory event store.
func New(_ map[string]interface{}) (eventstore.Store, error) {
	return &mem{streams: map[streamKey][]eventstore.Event{}}, nil
}

type streamKey struct {
	streamID string
	mimetype string
}

type mem struct {
	mu      sync.Mutex
	streams map[streamKey][]eventstore.Event
}

func (m *mem) Append(_ context.Context, streamID, mimetype string, ev eventstore.Event) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := streamKey{streamID: streamID, mimetype: mimetype}
	ev.StreamID = streamID
	ev.Mimetype = mimetype
	ev.Sequence = uint64(len(m.streams[key]))
	m.streams[key] = append(m.streams[key], ev)
	return ev.Sequence, nil
}

func (m *mem) GetStream(_ context.Context, streamID, mimetype string) ([]eventstore.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := streamKey{streamID: streamID, mimetype: mimetype}
	return append([]eventstore.Event(nil), m.streams[key]...), nil
}

func (m *mem) GetStreamsByMimetype(_ context.Context, mimetype string) (map[string][]eventstore.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string][]eventstore.Event{}
	for key, evs := range m.streams {
		if key.mimetype == mimetype {
			out[key.streamID] = append([]eventstore.Event(nil), evs...)
		}
	}
	return out, nil
}

func (m *mem) Close() error { return nil }
