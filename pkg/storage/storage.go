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

// Package storage defines the opaque blob store contract. Blobs are keyed by
// the node uuid; the write hints are advisory and only used by providers that
// mirror the folder structure.
package storage

import (
	"context"
	"io"

	"github.com/kindalus/antbox/pkg/eventbus"
)

// WriteOptions carry advisory hints for providers that mirror the tree.
type WriteOptions struct {
	Parent string
	Title  string
}

// Storage is the blob store port.
type Storage interface {
	// Write creates or replaces the blob and returns the written size.
	Write(ctx context.Context, uuid string, r io.Reader, opts *WriteOptions) (int64, error)
	// Read returns the blob or a FileNotFound error.
	Read(ctx context.Context, uuid string) (io.ReadCloser, error)
	// Delete removes the blob or fails with FileNotFound.
	Delete(ctx context.Context, uuid string) error
	// Close releases provider resources.
	Close() error
}

// EventAware providers subscribe to node events to reflect moves and
// renames in their mirrored structure. Their sync is eventually consistent;
// the kernel never waits for it.
type EventAware interface {
	StartListeners(bus *eventbus.Bus)
}
