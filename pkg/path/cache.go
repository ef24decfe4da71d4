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

// Package path maps filesystem-style paths to node uuids. The cache stores
// only the path-to-uuid association; the resolver re-validates every hit
// against the node service, so a stale entry can cost a lookup but never
// leak a node the caller may not read.
package path

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/bluele/gcache"
)

const (
	defaultMaxEntries = 10000
	defaultTTL        = 300 * time.Second
	defaultSweep      = 60 * time.Second
)

// keySep never occurs in tenants, emails or normalized paths.
const keySep = "\x00"

// CacheOptions tune the path cache. Zero values select the defaults.
type CacheOptions struct {
	MaxEntries    int
	TTL           time.Duration
	SweepInterval time.Duration
	// PerUser keys entries by principal as well, trading hit rate for
	// isolation. Safe to leave off: hits are re-validated with the
	// caller's own credentials.
	PerUser bool
}

// Stats is a point-in-time snapshot of the cache counters.
type Stats struct {
	Hits          uint64
	Misses        uint64
	Evictions     uint64
	Invalidations uint64
	Size          int
	HitRate       float64
}

// Cache is an LRU path-to-uuid cache with TTL expiry and a periodic sweep
// that evicts expired entries instead of waiting for them to be touched.
type Cache struct {
	c    gcache.Cache
	opts CacheOptions

	hits          atomic.Uint64
	misses        atomic.Uint64
	evictions     atomic.Uint64
	invalidations atomic.Uint64

	stop chan struct{}
}

// NewCache builds the cache and starts its sweeper.
func NewCache(opts CacheOptions) *Cache {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = defaultMaxEntries
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = defaultSweep
	}

	cache := &Cache{opts: opts, stop: make(chan struct{})}
	cache.c = gcache.New(opts.MaxEntries).
		LRU().
		EvictedFunc(func(_, _ interface{}) {
			cache.evictions.Add(1)
		}).
		Build()

	go cache.sweep()
	return cache
}

// Get returns the cached uuid for the path, if present and fresh.
func (c *Cache) Get(tenant, user, path string) (string, bool) {
	v, err := c.c.GetIFPresent(c.key(tenant, user, path))
	if err != nil {
		c.misses.Add(1)
		return "", false
	}
	c.hits.Add(1)
	return v.(string), true
}

// Put stores the association with the configured TTL.
func (c *Cache) Put(tenant, user, path, uuid string) {
	_ = c.c.SetWithExpire(c.key(tenant, user, path), uuid, c.opts.TTL)
}

// InvalidatePath drops the entry for one path across every user.
func (c *Cache) InvalidatePath(tenant, path string) {
	c.removeMatching(func(key string, _ string) bool {
		t, _, p := splitKey(key)
		return t == tenant && p == path
	})
}

// InvalidatePrefix drops every entry at or below the given path.
func (c *Cache) InvalidatePrefix(tenant, prefix string) {
	c.removeMatching(func(key string, _ string) bool {
		t, _, p := splitKey(key)
		return t == tenant && (p == prefix || strings.HasPrefix(p, prefix+"/"))
	})
}

// InvalidateByUUID drops every entry resolving to the given node.
func (c *Cache) InvalidateByUUID(tenant, uuid string) {
	c.removeMatching(func(key string, value string) bool {
		t, _, _ := splitKey(key)
		return t == tenant && value == uuid
	})
}

// InvalidateTenant drops every entry of the tenant.
func (c *Cache) InvalidateTenant(tenant string) {
	c.removeMatching(func(key string, _ string) bool {
		t, _, _ := splitKey(key)
		return t == tenant
	})
}

// Stats snapshots the counters.
func (c *Cache) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	rate := 0.0
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	return Stats{
		Hits:          hits,
		Misses:        misses,
		Evictions:     c.evictions.Load(),
		Invalidations: c.invalidations.Load(),
		Size:          c.c.Len(true),
		HitRate:       rate,
	}
}

// Close stops the sweeper. The cache stays usable.
func (c *Cache) Close() {
	close(c.stop)
}

func (c *Cache) key(tenant, user, path string) string {
	if !c.opts.PerUser {
		user = ""
	}
	return tenant + keySep + user + keySep + path
}

func splitKey(key string) (tenant, user, path string) {
	parts := strings.SplitN(key, keySep, 3)
	if len(parts) != 3 {
		return "", "", ""
	}
	return parts[0], parts[1], parts[2]
}

func (c *Cache) removeMatching(match func(key, value string) bool) {
	for _, k := range c.c.Keys(true) {
		key, ok := k.(string)
		if !ok {
			continue
		}
		v, err := c.c.GetIFPresent(k)
		if err != nil {
			continue
		}
		if match(key, v.(string)) {
			if c.c.Remove(k) {
				c.invalidations.Add(1)
			}
		}
	}
}

// sweep touches every key so that gcache drops the expired ones eagerly.
func (c *Cache) sweep() {
	ticker := time.NewTicker(c.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			for _, k := range c.c.Keys(false) {
				_, _ = c.c.GetIFPresent(k)
			}
		}
	}
}
