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

// Package bolt provides a bbolt backed event store. Each (mimetype,
// streamId) pair maps to a nested bucket whose keys are big-endian sequence
// numbers, so cursor order is sequence order.
package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/kindalus/antbox/pkg/eventstore"
	"github.com/kindalus/antbox/pkg/eventstore/registry"
)

func init() {
	registry.Register("bolt", New)
}

type config struct {
	File string `mapstructure:"file"`
}

// New returns a bbolt backed event store.
func New(conf map[string]interface{}) (eventstore.Store, error) {
	c := &config{}
	if err := mapstructure.Decode(conf, c); err != nil {
		return nil, errors.Wrap(err, "bolt eventstore: error decoding config")
	}
	if c.File == "" {
		return nil, errors.New("bolt eventstore: file is required")
	}

	db, err := bolt.Open(c.File, 0o600, nil)
	if err != nil {
		return nil, errors.Wrap(err, "bolt eventstore: error opening database")
	}
	return &store{db: db}, nil
}

type store struct {
	db *bolt.DB
}

func (s *store) Append(_ context.Context, streamID, mimetype string, ev eventstore.Event) (uint64, error) {
	var seq uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		kind, err := tx.CreateBucketIfNotExists([]byte(mimetype))
		if err != nil {
			return err
		}
		stream, err := kind.CreateBucketIfNotExists([]byte(streamID))
		if err != nil {
			return err
		}

		// NextSequence is 1-based and never reused; the stream contract
		// starts at 0.
		next, err := stream.NextSequence()
		if err != nil {
			return err
		}
		seq = next - 1

		ev.StreamID = streamID
		ev.Mimetype = mimetype
		ev.Sequence = seq
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		return stream.Put(sequenceKey(seq), data)
	})
	if err != nil {
		return 0, errors.Wrap(err, "bolt eventstore: append failed")
	}
	return seq, nil
}

func (s *store) GetStream(_ context.Context, streamID, mimetype string) ([]eventstore.Event, error) {
	out := []eventstore.Event{}
	err := s.db.View(func(tx *bolt.Tx) error {
		kind := tx.Bucket([]byte(mimetype))
		if kind == nil {
			return nil
		}
		stream := kind.Bucket([]byte(streamID))
		if stream == nil {
			return nil
		}
		return stream.ForEach(func(_, v []byte) error {
			var ev eventstore.Event
			if err := json.Unmarshal(v, &ev); err != nil {
				return err
			}
			out = append(out, ev)
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "bolt eventstore: get stream failed")
	}
	return out, nil
}

func (s *store) GetStreamsByMimetype(ctx context.Context, mimetype string) (map[string][]eventstore.Event, error) {
	out := map[string][]eventstore.Event{}
	err := s.db.View(func(tx *bolt.Tx) error {
		kind := tx.Bucket([]byte(mimetype))
		if kind == nil {
			return nil
		}
		return kind.ForEachBucket(func(name []byte) error {
			stream := kind.Bucket(name)
			events := []eventstore.Event{}
			err := stream.ForEach(func(_, v []byte) error {
				var ev eventstore.Event
				if err := json.Unmarshal(v, &ev); err != nil {
					return err
				}
				events = append(events, ev)
				return nil
			})
			if err != nil {
				return err
			}
			out[string(name)] = events
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "bolt eventstore: get streams failed")
	}
	return out, nil
}

func (s *store) Close() error { return s.db.Close() }

func sequenceKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
