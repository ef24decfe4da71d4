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

package main

import (
	"context"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/kindalus/antbox/pkg/configstore"
	cfgregistry "github.com/kindalus/antbox/pkg/configstore/registry"
	evtregistry "github.com/kindalus/antbox/pkg/eventstore/registry"
	"github.com/kindalus/antbox/pkg/nodes"
	"github.com/kindalus/antbox/pkg/path"
	repregistry "github.com/kindalus/antbox/pkg/repository/registry"
	"github.com/kindalus/antbox/pkg/storage"
	stgregistry "github.com/kindalus/antbox/pkg/storage/registry"
)

type config struct {
	HTTP    httpConfig     `toml:"http"`
	Log     logConfig      `toml:"log"`
	Tenants []tenantConfig `toml:"tenants"`
}

type httpConfig struct {
	Address string `toml:"address"`
}

type logConfig struct {
	Level  string `toml:"level"`
	Pretty bool   `toml:"pretty"`
}

type driverConfig struct {
	Driver  string                 `toml:"driver"`
	Options map[string]interface{} `toml:"options"`
}

type cacheConfig struct {
	MaxEntries    int  `toml:"max_entries"`
	TTLSeconds    int  `toml:"ttl_seconds"`
	SweepSeconds  int  `toml:"sweep_seconds"`
	PerUser       bool `toml:"per_user"`
}

type tenantConfig struct {
	Name        string       `toml:"name"`
	Repository  driverConfig `toml:"repository"`
	Storage     driverConfig `toml:"storage"`
	ConfigStore driverConfig `toml:"configstore"`
	EventStore  driverConfig `toml:"eventstore"`
	Cache       cacheConfig  `toml:"cache"`

	// RootPasswordSHA256 seeds the root credential at startup.
	RootPasswordSHA256 string `toml:"root_password_sha256"`
}

func readConfig(file string) (*config, error) {
	c := &config{}
	if _, err := toml.DecodeFile(file, c); err != nil {
		return nil, errors.Wrap(err, "error decoding "+file)
	}
	if c.HTTP.Address == "" {
		c.HTTP.Address = ":8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if len(c.Tenants) == 0 {
		return nil, errors.New("no tenants configured")
	}
	for i := range c.Tenants {
		t := &c.Tenants[i]
		if t.Name == "" {
			return nil, errors.New("tenant without a name")
		}
		if t.Repository.Driver == "" {
			t.Repository.Driver = "memory"
		}
		if t.Storage.Driver == "" {
			t.Storage.Driver = "memory"
		}
		if t.ConfigStore.Driver == "" {
			t.ConfigStore.Driver = "memory"
		}
		if t.EventStore.Driver == "" {
			t.EventStore.Driver = "memory"
		}
	}
	return c, nil
}

type tenantStack struct {
	nodes    *nodes.Service
	resolver *path.Resolver
	config   configstore.Store
	cache    *path.Cache
}

func buildTenants(ctx context.Context, conf *config) (map[string]*tenantStack, []func() error, error) {
	tenants := map[string]*tenantStack{}
	closers := []func() error{}

	for _, tc := range conf.Tenants {
		repoNew, ok := repregistry.NewFuncs[tc.Repository.Driver]
		if !ok {
			return nil, closers, errors.New("tenant " + tc.Name + ": unknown repository driver " + tc.Repository.Driver)
		}
		repo, err := repoNew(tc.Repository.Options)
		if err != nil {
			return nil, closers, errors.Wrap(err, "tenant "+tc.Name+": repository")
		}
		closers = append(closers, repo.Close)

		stgNew, ok := stgregistry.NewFuncs[tc.Storage.Driver]
		if !ok {
			return nil, closers, errors.New("tenant " + tc.Name + ": unknown storage driver " + tc.Storage.Driver)
		}
		store, err := stgNew(tc.Storage.Options)
		if err != nil {
			return nil, closers, errors.Wrap(err, "tenant "+tc.Name+": storage")
		}
		closers = append(closers, store.Close)

		cfgNew, ok := cfgregistry.NewFuncs[tc.ConfigStore.Driver]
		if !ok {
			return nil, closers, errors.New("tenant " + tc.Name + ": unknown configstore driver " + tc.ConfigStore.Driver)
		}
		cfg, err := cfgNew(tc.ConfigStore.Options)
		if err != nil {
			return nil, closers, errors.Wrap(err, "tenant "+tc.Name+": configstore")
		}
		closers = append(closers, cfg.Close)

		evtNew, ok := evtregistry.NewFuncs[tc.EventStore.Driver]
		if !ok {
			return nil, closers, errors.New("tenant " + tc.Name + ": unknown eventstore driver " + tc.EventStore.Driver)
		}
		audit, err := evtNew(tc.EventStore.Options)
		if err != nil {
			return nil, closers, errors.Wrap(err, "tenant "+tc.Name+": eventstore")
		}
		closers = append(closers, audit.Close)

		svc, err := nodes.New(ctx, nodes.Options{
			Tenant:     tc.Name,
			Repository: repo,
			Storage:    store,
			Audit:      audit,
		})
		if err != nil {
			return nil, closers, errors.Wrap(err, "tenant "+tc.Name+": node service")
		}

		if aware, ok := store.(storage.EventAware); ok {
			aware.StartListeners(svc.Bus())
		}

		cache := path.NewCache(path.CacheOptions{
			MaxEntries:    tc.Cache.MaxEntries,
			TTL:           time.Duration(tc.Cache.TTLSeconds) * time.Second,
			SweepInterval: time.Duration(tc.Cache.SweepSeconds) * time.Second,
			PerUser:       tc.Cache.PerUser,
		})
		closers = append(closers, func() error { cache.Close(); return nil })
		resolver := path.NewResolver(svc, cache)

		if tc.RootPasswordSHA256 != "" {
			key := configstore.CredentialsPrefix + "root@antbox.io"
			if err := cfg.Set(ctx, key, []byte(tc.RootPasswordSHA256)); err != nil {
				return nil, closers, errors.Wrap(err, "tenant "+tc.Name+": seeding root credential")
			}
		}

		tenants[tc.Name] = &tenantStack{
			nodes:    svc,
			resolver: resolver,
			config:   cfg,
			cache:    cache,
		}
	}
	return tenants, closers, nil
}
