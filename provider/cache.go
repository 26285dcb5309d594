package provider

import (
	"bytes"
	"context"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"

	"github.com/syssam/persist"
	"github.com/syssam/persist/metadata"
)

// MemoryCache is an in-process persist.Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// NewMemoryCache returns an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

// Get implements persist.Cache.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if !e.expires.IsZero() && !c.now().Before(e.expires) {
		c.mu.Lock()
		if cur, ok := c.entries[key]; ok && cur.expires.Equal(e.expires) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, nil
	}
	return slices.Clone(e.value), nil
}

// Set implements persist.Cache.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := memoryEntry{value: slices.Clone(value)}
	if ttl > 0 {
		e.expires = c.now().Add(ttl)
	}
	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
	return nil
}

// Delete implements persist.Cache.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

// DeletePrefix implements persist.Cache.
func (c *MemoryCache) DeletePrefix(_ context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
	return nil
}

// Clear implements persist.Cache.
func (c *MemoryCache) Clear(context.Context) error {
	c.mu.Lock()
	clear(c.entries)
	c.mu.Unlock()
	return nil
}

// Len returns the number of entries, expired ones included.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// EntityCache is the entity view of a factory's shared cache. All
// methods are no-ops when the unit has no shared cache.
type EntityCache struct {
	f *Factory
}

// Cache returns the shared cache of the factory.
func (f *Factory) Cache() *EntityCache { return &EntityCache{f: f} }

// Enabled reports whether the unit has a shared cache.
func (c *EntityCache) Enabled() bool { return c.f.cache != nil }

// Contains reports whether the cache holds the state of the entity.
func (c *EntityCache) Contains(ctx context.Context, entityType, id any) (bool, error) {
	if c.f.cache == nil {
		return false, nil
	}
	key, err := c.key(entityType, id)
	if err != nil {
		return false, err
	}
	data, err := c.f.cache.Get(ctx, key)
	return data != nil, err
}

// Evict removes the state of one entity.
func (c *EntityCache) Evict(ctx context.Context, entityType, id any) error {
	if c.f.cache == nil {
		return nil
	}
	key, err := c.key(entityType, id)
	if err != nil {
		return err
	}
	return c.f.cache.Delete(ctx, key)
}

// EvictType removes the state of all entities of a type.
func (c *EntityCache) EvictType(ctx context.Context, entityType any) error {
	if c.f.cache == nil {
		return nil
	}
	mt, err := c.f.managedType(entityType)
	if err != nil {
		return err
	}
	return c.f.cache.DeletePrefix(ctx, persist.CachePrefix(mt.Name))
}

// EvictAll empties the cache.
func (c *EntityCache) EvictAll(ctx context.Context) error {
	if c.f.cache == nil {
		return nil
	}
	return c.f.cache.Clear(ctx)
}

func (c *EntityCache) key(entityType, id any) (string, error) {
	mt, err := c.f.managedType(entityType)
	if err != nil {
		return "", err
	}
	id, err = convertID(mt, id)
	if err != nil {
		return "", err
	}
	return cacheKey(mt, id), nil
}

func cacheKey(mt *metadata.ManagedType, id any) string {
	return persist.CacheKey{Entity: mt.Name, ID: id}.String()
}

// store puts encoded entity state in the shared cache. CacheStoreUse keeps
// an existing entry.
func (f *Factory) store(ctx context.Context, key string, data []byte, mode persist.CacheStoreMode) {
	if f.cache == nil || mode == persist.CacheStoreBypass {
		return
	}
	if mode != persist.CacheStoreRefresh {
		if cur, err := f.cache.Get(ctx, key); err == nil && cur != nil {
			return
		}
	}
	if err := f.cache.Set(ctx, key, data, f.ttl); err != nil {
		f.log.WarnContext(ctx, "shared cache store failed", "key", key, "error", err)
	}
}

func (f *Factory) evict(ctx context.Context, keys ...string) {
	if f.cache == nil {
		return
	}
	for _, key := range keys {
		if err := f.cache.Delete(ctx, key); err != nil {
			f.log.WarnContext(ctx, "shared cache eviction failed", "key", key, "error", err)
		}
	}
}

func (f *Factory) evictAll(ctx context.Context) {
	if f.cache == nil {
		return
	}
	if err := f.cache.Clear(ctx); err != nil {
		f.log.WarnContext(ctx, "shared cache clear failed", "error", err)
	}
}

// A row holds one scan destination per attribute of a managed type, as
// returned by Attribute.NewScanDest.
func newRow(mt *metadata.ManagedType) []reflect.Value {
	row := make([]reflect.Value, len(mt.Attributes))
	for i, a := range mt.Attributes {
		row[i] = a.NewScanDest()
	}
	return row
}

// encodeRow encodes a scanned row as a msgpack array of per-attribute
// values. NULL columns encode as nil.
func encodeRow(row []reflect.Value) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeArrayLen(len(row)); err != nil {
		return nil, err
	}
	for _, dest := range row {
		if err := enc.Encode(dest.Elem().Interface()); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// decodeRow is the inverse of encodeRow. A nil value leaves the scan
// destination nil.
func decodeRow(mt *metadata.ManagedType, data []byte) ([]reflect.Value, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, fmt.Errorf("persist: decode cached %s: %w", mt.Name, err)
	}
	if n != len(mt.Attributes) {
		return nil, fmt.Errorf("persist: cached %s has %d values, want %d", mt.Name, n, len(mt.Attributes))
	}
	row := newRow(mt)
	for i := range row {
		code, err := dec.PeekCode()
		if err != nil {
			return nil, fmt.Errorf("persist: decode cached %s.%s: %w", mt.Name, mt.Attributes[i].Name, err)
		}
		if code == msgpcode.Nil {
			if err := dec.DecodeNil(); err != nil {
				return nil, err
			}
			continue
		}
		if err := dec.Decode(row[i].Interface()); err != nil {
			return nil, fmt.Errorf("persist: decode cached %s.%s: %w", mt.Name, mt.Attributes[i].Name, err)
		}
	}
	return row, nil
}
