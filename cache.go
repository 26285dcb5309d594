package persist

import (
	"context"
	"fmt"
	"time"
)

// Cache is the shared (second-level) cache of a persistence unit. Entries
// hold encoded entity state and are shared by all entity managers of a
// factory. Implementations must be safe for concurrent use.
type Cache interface {
	// Get returns the encoded state stored under a CacheKey string, or
	// nil with no error when the entity is not cached.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores the encoded state of one entity. A ttl of 0 keeps it
	// until it is evicted.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete evicts one entity.
	Delete(ctx context.Context, key string) error

	// DeletePrefix evicts every entity of a type, given its CachePrefix.
	DeletePrefix(ctx context.Context, prefix string) error

	// Clear evicts everything.
	Clear(ctx context.Context) error
}

// CacheKey identifies the cached state of one entity.
type CacheKey struct {
	Entity string
	ID     any
}

// String returns the cache key in "Entity:id" form.
func (k CacheKey) String() string {
	return fmt.Sprintf("%s:%v", k.Entity, k.ID)
}

// CachePrefix returns the key prefix shared by all entries of an entity
// type, for use with Cache.DeletePrefix.
func CachePrefix(entity string) string {
	return entity + ":"
}
