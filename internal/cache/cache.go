package cache

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ErrCacheMiss is returned by Pop when the key was never inserted or has
// already been consumed.
var ErrCacheMiss = errors.New("cache miss")

// Key is an opaque single-use reference to a cached payload.
// The zero Key means "no payload".
type Key uuid.UUID

// NoKey is the zero Key carried by messages without a payload.
var NoKey Key

// IsZero reports whether k references nothing.
func (k Key) IsZero() bool {
	return k == NoKey
}

func (k Key) String() string {
	return uuid.UUID(k).String()
}

// Cache is a single-use store for payloads. A payload is owned by the cache
// from Put until the first Pop of its key; a second Pop fails with ErrCacheMiss.
// Thread-safe: Pop is destructive, so concurrent callers never both get the
// same payload.
type Cache[T any] struct {
	mu        sync.Mutex
	entries   map[Key]T
	namespace uuid.UUID
	seq       uint64
}

// New creates an empty cache. Keys are derived from namespace and an
// increasing sequence number, so two caches created with the same namespace
// mint the same key sequence.
func New[T any](namespace uuid.UUID) *Cache[T] {
	return &Cache[T]{
		entries:   make(map[Key]T),
		namespace: namespace,
	}
}

// Put stores v under a freshly minted key and returns the key.
func (c *Cache[T]) Put(v T) Key {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], c.seq)
	k := Key(uuid.NewSHA1(c.namespace, buf[:]))
	c.entries[k] = v
	return k
}

// Pop removes and returns the payload stored under k.
func (c *Cache[T]) Pop(k Key) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.entries[k]
	if !ok {
		var zero T
		return zero, fmt.Errorf("pop %s: %w", k, ErrCacheMiss)
	}
	delete(c.entries, k)
	return v, nil
}

// Len returns the number of outstanding payloads.
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear drops every outstanding payload.
func (c *Cache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}
