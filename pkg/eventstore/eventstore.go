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

// Package eventstore defines the append-only audit log port. Streams are
// keyed by (streamId, mimetype); within a stream sequences are assigned
// atomically starting at 0, with no gaps and no duplicates. Events are
// immutable once appended.
package eventstore

import (
	"context"
	"time"
)

// Event is one immutable audit record.
type Event struct {
	StreamID   string                 `json:"streamId"`
	Mimetype   string                 `json:"mimetype"`
	Sequence   uint64                 `json:"sequence"`
	Type       string                 `json:"type"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	OccurredAt time.Time              `json:"occurredAt"`
}

// Store is the event store port. Sequence assignment is serialised per
// stream by the backend.
type Store interface {
	// Append assigns the next sequence of the stream and stores the event.
	Append(ctx context.Context, streamID, mimetype string, ev Event) (uint64, error)
	// GetStream returns the events of one stream ordered by sequence.
	GetStream(ctx context.Context, streamID, mimetype string) ([]Event, error)
	// GetStreamsByMimetype returns every stream of the given kind.
	GetStreamsByMimetype(ctx context.Context, mimetype string) (map[string][]Event, error)
	// Close releases backend resources.
	Close() error
}
