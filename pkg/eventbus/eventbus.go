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

// Package eventbus is the in-process publish/subscribe channel for node
// lifecycle events. Delivery is best-effort, synchronous on the publisher's
// goroutine and unordered within a publish; handlers are not retried.
// Publication happens after the durable repository write.
package eventbus

import (
	"reflect"
	"sync"
)

// Handler consumes one event. Handlers must be crash-safe; a panicking
// handler is recovered and skipped.
type Handler func(event interface{})

// Bus is the in-process event bus. The subscriber registry is read-mostly:
// registration is rare, dispatch common.
type Bus struct {
	mu       sync.RWMutex
	handlers map[reflect.Type][]Handler
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{handlers: map[reflect.Type][]Handler{}}
}

// Subscribe registers the handler for every given event type. The event
// arguments are zero values used only for their type.
func (b *Bus) Subscribe(h Handler, events ...interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ev := range events {
		t := reflect.TypeOf(ev)
		b.handlers[t] = append(b.handlers[t], h)
	}
}

// Publish dispatches the events synchronously to every matching handler.
func (b *Bus) Publish(events ...interface{}) {
	for _, ev := range events {
		b.mu.RLock()
		hs := b.handlers[reflect.TypeOf(ev)]
		b.mu.RUnlock()
		for _, h := range hs {
			dispatch(h, ev)
		}
	}
}

func dispatch(h Handler, ev interface{}) {
	defer func() {
		_ = recover()
	}()
	h(ev)
}
