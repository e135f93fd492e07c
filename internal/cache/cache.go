// Package cache implements the TTL-driven record cache: a keyed
// multimap of observed records with insert/refresh/remove/expire
// operations, per §4.D.
package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/beacondns/mdns/internal/records"
)

// Cache is a keyed multimap of records.Record, keyed by lowercased
// name. Reaping is split from listener notification: Reap only
// removes and returns the expired records, leaving the caller
// (internal/dispatcher) to translate PTR/SRV expiry into
// ServiceRemoved events.
type Cache struct {
	mu     sync.Mutex
	byName map[string][]records.Record
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{byName: make(map[string][]records.Record)}
}

func key(name string) string {
	return strings.ToLower(strings.TrimSuffix(name, "."))
}

// Put inserts record unconditionally; callers must first consult Get
// to decide between insert, refresh, and replace (§4.D).
func (c *Cache) Put(r records.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := key(r.Entry().Name)
	c.byName[k] = append(c.byName[k], r)
}

// Get returns the cached record whose identity equals r's, or nil if
// none exists.
func (c *Cache) Get(r records.Record) records.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.byName[key(r.Entry().Name)] {
		if existing.Entry().Equal(r.Entry()) {
			return existing
		}
	}
	return nil
}

// GetByName returns every record cached under name, in insertion
// order. The returned slice is a snapshot safe to iterate without
// holding the cache lock.
func (c *Cache) GetByName(name string) []records.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := c.byName[key(name)]
	out := make([]records.Record, len(entries))
	copy(out, entries)
	return out
}

// Remove deletes the exact record instance r from the cache. It
// reports whether anything was removed.
func (c *Cache) Remove(r records.Record) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := key(r.Entry().Name)
	entries := c.byName[k]
	for i, existing := range entries {
		if existing == r {
			c.byName[k] = append(entries[:i], entries[i+1:]...)
			if len(c.byName[k]) == 0 {
				delete(c.byName, k)
			}
			return true
		}
	}
	return false
}

// Refresh copies arriving's ttl/created onto existing, per §4.D:
// "existing.ttl = arriving.ttl; existing.created = arriving.created".
func (c *Cache) Refresh(existing, arriving records.Record) {
	existing.ResetTTL(arriving)
}

// Reap removes and returns every record whose TTL has elapsed as of
// now.
func (c *Cache) Reap(now time.Time) []records.Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expired []records.Record
	for k, entries := range c.byName {
		var kept []records.Record
		for _, r := range entries {
			if r.TTL().IsExpiredAt(now) {
				expired = append(expired, r)
			} else {
				kept = append(kept, r)
			}
		}
		if len(kept) == 0 {
			delete(c.byName, k)
		} else {
			c.byName[k] = kept
		}
	}
	return expired
}

// Names returns every distinct name currently cached, for debug
// display and the type-enumeration resolver.
func (c *Cache) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.byName))
	for k := range c.byName {
		out = append(out, k)
	}
	return out
}
