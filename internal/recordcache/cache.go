// Package recordcache implements the RecordCache component (§4.D): a
// process-wide map from "series:recnum" to a ref-counted *record.Record,
// guarded by a single coarse lock. Grounded on internal/reactive's
// Registry (map + sync.RWMutex, Register/Unregister/Get/Snapshot/ForEach)
// generalized from a one-shot map to a ref-counted one, since records
// here are shared and released rather than owned by a single client.
package recordcache

import (
	"sync"

	"github.com/lmjps/drms-recordset/internal/drmserr"
	"github.com/lmjps/drms-recordset/internal/record"
)

type slot struct {
	rec      *record.Record
	refCount int
}

// Cache holds every non-partial Record currently referenced by any open
// RecordSet. Partial records (§4.D invariant) never enter the cache.
type Cache struct {
	mu   sync.RWMutex
	data map[string]*slot
}

func NewCache() *Cache {
	return &Cache{data: map[string]*slot{}}
}

func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = nil
}

// Get returns the cached record for key and increments its ref count, or
// reports a miss without side effects.
func (c *Cache) Get(key string) (*record.Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.data[key]
	if !ok {
		return nil, false
	}
	s.refCount++
	return s.rec, true
}

// Insert adds a freshly materialized record to the cache with an initial
// ref count of 1. Inserting a partial record is a programming error and
// fails with InvalidAction (recordset never inserts partial records).
func (c *Cache) Insert(rec *record.Record) error {
	if rec.Partial {
		return drmserr.New(drmserr.InvalidAction, "recordcache.Insert")
	}
	key := rec.CacheKey()
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.data[key]; ok {
		s.refCount++
		return nil
	}
	c.data[key] = &slot{rec: rec, refCount: 1}
	return nil
}

// Release decrements key's ref count, evicting the entry once it reaches
// zero. Releasing an unknown key is a no-op.
func (c *Cache) Release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.data[key]
	if !ok {
		return
	}
	s.refCount--
	if s.refCount <= 0 {
		delete(c.data, key)
	}
}

// RefCount reports the current ref count for key, 0 if absent.
func (c *Cache) RefCount(key string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, ok := c.data[key]; ok {
		return s.refCount
	}
	return 0
}

// Len reports the number of distinct records currently cached.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// ForEach iterates a snapshot of cached records; fn returning false stops
// iteration early. Mirrors the teacher's Registry.ForEach shape.
func (c *Cache) ForEach(fn func(key string, rec *record.Record) bool) {
	c.mu.RLock()
	snap := make(map[string]*record.Record, len(c.data))
	for k, s := range c.data {
		snap[k] = s.rec
	}
	c.mu.RUnlock()

	for k, rec := range snap {
		if !fn(k, rec) {
			return
		}
	}
}

// EvictSeries drops every cached record belonging to series regardless
// of ref count, used when a session aborts uncommitted new records.
func (c *Cache) EvictSeries(series string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := series + ":"
	n := 0
	for k := range c.data {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			delete(c.data, k)
			n++
		}
	}
	return n
}
