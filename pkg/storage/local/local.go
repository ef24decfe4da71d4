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

// Package local provides a filesystem blob store. Blobs are sharded by the
// first two characters of the uuid; writes are atomic via rename.
package local

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"

	"github.com/kindalus/antbox/pkg/errtypes"
	"github.com/kindalus/antbox/pkg/storage"
	"github.com/kindalus/antbox/pkg/storage/registry"
)

func init() {
	registry.Register("local", New)
}

type config struct {
	Root string `mapstructure:"root"`
}

// New returns a filesystem blob store rooted at the configured directory.
func New(conf map[string]interface{}) (storage.Storage, error) {
	c := &config{}
	if err := mapstructure.Decode(conf, c); err != nil {
		return nil, errors.Wrap(err, "local storage: error decoding config")
	}
	if c.Root == "" {
		return nil, errors.New("local storage: root is required")
	}
	if err := os.MkdirAll(c.Root, 0o700); err != nil {
		return nil, errors.Wrap(err, "local storage: error creating root")
	}
	return &local{root: c.Root}, nil
}

type local struct {
	root string
}

func (l *local) path(uuid string) string {
	shard := uuid
	if len(shard) > 2 {
		shard = shard[:2]
	}
	return filepath.Join(l.root, shard, uuid)
}

func (l *local) Write(_ context.Context, uuid string, r io.Reader, _ *storage.WriteOptions) (int64, error) {
	path := l.path(uuid)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return 0, errtypes.Unknown{Msg: "local storage: mkdir failed", Cause: err}
	}

	t, err := renameio.TempFile("", path)
	if err != nil {
		return 0, errtypes.Unknown{Msg: "local storage: temp file failed", Cause: err}
	}
	defer t.Cleanup()

	written, err := io.Copy(t, r)
	if err != nil {
		return 0, errtypes.Unknown{Msg: "local storage: write failed", Cause: err}
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		return 0, errtypes.Unknown{Msg: "local storage: rename failed", Cause: err}
	}
	return written, nil
}

func (l *local) Read(_ context.Context, uuid string) (io.ReadCloser, error) {
	f, err := os.Open(l.path(uuid))
	if os.IsNotExist(err) {
		return nil, errtypes.FileNotFound(uuid)
	}
	if err != nil {
		return nil, errtypes.Unknown{Msg: "local storage: open failed", Cause: err}
	}
	return f, nil
}

func (l *local) Delete(_ context.Context, uuid string) error {
	err := os.Remove(l.path(uuid))
	if os.IsNotExist(err) {
		return errtypes.FileNotFound(uuid)
	}
	if err != nil {
		return errtypes.Unknown{Msg: "local storage: remove failed", Cause: err}
	}
	return nil
}

func (l *local) Close() error { return nil }
