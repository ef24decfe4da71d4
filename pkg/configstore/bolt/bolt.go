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

// Package bolt provides a bbolt backed configuration store.
package bolt

import (
	"bytes"
	"context"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/kindalus/antbox/pkg/configstore"
	"github.com/kindalus/antbox/pkg/configstore/registry"
	"github.com/kindalus/antbox/pkg/errtypes"
)

func init() {
	registry.Register("bolt", New)
}

var bucketName = []byte("config")

type config struct {
	File string `mapstructure:"file"`
}

// New returns a bbolt backed configuration store.
func New(conf map[string]interface{}) (configstore.Store, error) {
	c := &config{}
	if err := mapstructure.Decode(conf, c); err != nil {
		return nil, errors.Wrap(err, "bolt configstore: error decoding config")
	}
	if c.File == "" {
		return nil, errors.New("bolt configstore: file is required")
	}

	db, err := bolt.Open(c.File, 0o600, nil)
	if err != nil {
		return nil, errors.Wrap(err, "bolt configstore: error opening database")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "bolt configstore: error creating bucket")
	}
	return &store{db: db}, nil
}

type store struct {
	db *bolt.DB
}

func (s *store) Get(_ context.Context, key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get([]byte(key))
		if v == nil {
			return errtypes.NotFound(key)
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *store) Set(_ context.Context, key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(key), value)
	})
}

func (s *store) Delete(_ context.Context, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete([]byte(key))
	})
}

func (s *store) List(_ context.Context, prefix string) (map[string][]byte, error) {
	out := map[string][]byte{}
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketName).Cursor()
		p := []byte(prefix)
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			out[string(k)] = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *store) Close() error { return s.db.Close() }
