// Copyright 2025-2026, United Kingdom Atomic Energy Authority (UKAEA)
// SPDX-License-Identifier: Apache-2.0

package uda

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

const (
	// DefaultCacheExpiry is the lifetime of a cached response.
	DefaultCacheExpiry = 86400 * time.Second
	// DefaultCacheSize bounds the compressed bytes a cache holds.
	DefaultCacheSize = 64 << 20
	// maxCacheKey is the longest key stored as is. Longer keys are hashed.
	maxCacheKey = 250
)

// Cache holds responses serialised with SerialiseObject and compressed with
// zstd. It is safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]cacheEntry
	size     int
	maxBytes int
	expiry   time.Duration
	now      func() time.Time
	enc      *zstd.Encoder
	dec      *zstd.Decoder
}

type cacheEntry struct {
	data    []byte
	stored  time.Time
	expires time.Time
}

// NewCache returns an empty cache whose entries live for expiry. A
// non-positive expiry selects DefaultCacheExpiry.
func NewCache(expiry time.Duration) (*Cache, error) {
	if expiry <= 0 {
		expiry = DefaultCacheExpiry
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("cache encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("cache decoder: %w", err)
	}
	return &Cache{
		entries:  make(map[string]cacheEntry),
		maxBytes: DefaultCacheSize,
		expiry:   expiry,
		now:      time.Now,
		enc:      enc,
		dec:      dec,
	}, nil
}

// SetMaxBytes bounds the compressed bytes held. A non-positive n selects
// DefaultCacheSize. Entries over the new bound are evicted oldest first.
func (c *Cache) SetMaxBytes(n int) {
	if n <= 0 {
		n = DefaultCacheSize
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxBytes = n
	c.evict(0)
}

// CacheKey builds the cache key of a request sent to host:port with the
// given flags.
func CacheKey(req *RequestData, host string, port int, clientFlags, privateFlags uint32) string {
	key := fmt.Sprintf("%s&&%s&&%s&&%d&&%d&&%d", req.Signal, req.Source, host, port, clientFlags, privateFlags)
	key = strings.ReplaceAll(strings.ToLower(key), " ", "_")
	if len(key) >= maxCacheKey {
		sum := sha1.Sum([]byte(key))
		return hex.EncodeToString(sum[:])
	}
	return key
}

// Cacheable reports whether b can be stored. Payloads held outside the
// block itself, such as XML documents and spooled files, are not.
func Cacheable(b *DataBlock) bool {
	switch b.OpaqueType {
	case OpaqueUnknown:
		return true
	case OpaqueStructures:
		return b.Structures != nil
	}
	return false
}

// Put stores b under key.
func (c *Cache) Put(key string, b *DataBlock) error {
	if !Cacheable(b) {
		return newError(UnknownOpaqueType, "Cache", ClassSemantic, fmt.Sprintf("opaque type %s cannot be cached", b.OpaqueType))
	}
	obj, err := SerialiseObject(b, ProtocolVersion)
	if err != nil {
		return err
	}
	data := c.enc.EncodeAll(obj, make([]byte, 0, len(obj)/2))
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(data) > c.maxBytes {
		c.drop(key)
		return newError(ErrorAllocatingHeap, "Cache", ClassResource,
			fmt.Sprintf("%d byte entry exceeds the %d byte cache", len(data), c.maxBytes))
	}
	c.drop(key)
	c.evict(len(data))
	now := c.now()
	c.entries[key] = cacheEntry{data: data, stored: now, expires: now.Add(c.expiry)}
	c.size += len(data)
	return nil
}

func (c *Cache) drop(key string) {
	if e, ok := c.entries[key]; ok {
		c.size -= len(e.data)
		delete(c.entries, key)
	}
}

// evict drops expired entries, then the oldest ones until room more bytes
// fit. Callers hold mu.
func (c *Cache) evict(room int) {
	now := c.now()
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			c.drop(k)
		}
	}
	for c.size+room > c.maxBytes && len(c.entries) > 0 {
		var oldest string
		var at time.Time
		first := true
		for k, e := range c.entries {
			if first || e.stored.Before(at) {
				oldest, at, first = k, e.stored, false
			}
		}
		c.drop(oldest)
	}
}

// Get returns a fresh copy of the block stored under key. Expired entries
// are dropped.
func (c *Cache) Get(key string) (*DataBlock, bool) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok && !c.now().Before(e.expires) {
		c.drop(key)
		ok = false
	}
	c.mu.Unlock()
	if !ok {
		return nil, false
	}
	obj, err := c.dec.DecodeAll(e.data, nil)
	if err != nil {
		return nil, false
	}
	b, err := DeserialiseObject(obj, ProtocolVersion)
	if err != nil {
		return nil, false
	}
	return b, true
}

// Len returns the number of stored entries, including any that expired
// since the last Put.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Size returns the compressed bytes held.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Close releases the codec resources.
func (c *Cache) Close() {
	c.enc.Close()
	c.dec.Close()
}
