// Copyright 2025-2026, United Kingdom Atomic Energy Authority (UKAEA)
// SPDX-License-Identifier: Apache-2.0

package uda

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheKey(t *testing.T) {
	req := NewRequest("Plasma Current", "MAST::45272")
	key := CacheKey(&req, "UDA.Example.org", 56565, ClientFlagCache, 0)
	assert.Equal(t, "plasma_current&&mast::45272&&uda.example.org&&56565&&4&&0", key)

	long := NewRequest(strings.Repeat("s", 300), "")
	key = CacheKey(&long, "h", 1, 0, 0)
	assert.Len(t, key, 40)
	assert.Equal(t, key, CacheKey(&long, "h", 1, 0, 0))
}

func TestCachePutGet(t *testing.T) {
	c, err := NewCache(0)
	require.NoError(t, err)
	defer c.Close()
	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }

	b, err := NewDataBlock(TypeFloat, []float32{1, 2, 3})
	require.NoError(t, err)
	b.DataUnits = "m"
	require.NoError(t, c.Put("k", b))

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2, 3}, got.Data)
	assert.Equal(t, "m", got.DataUnits)

	now = now.Add(DefaultCacheExpiry)
	_, ok = c.Get("k")
	assert.False(t, ok, "entries expire")
	assert.Zero(t, c.Len())
}

func TestCacheStructures(t *testing.T) {
	c, err := NewCache(time.Minute)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Put("items", NewStructuredBlock(buildItems(t, itemCatalog(t), 3))))
	got, ok := c.Get("items")
	require.True(t, ok)
	assertItems(t, got.Structures, 3)
}

func TestCacheRefusesExternalPayloads(t *testing.T) {
	c, err := NewCache(time.Minute)
	require.NoError(t, err)
	defer c.Close()
	assert.Error(t, c.Put("xml", NewXMLBlock("<a/>")))
	assert.False(t, Cacheable(&DataBlock{OpaqueType: OpaqueXDRFile}))
}

func TestCacheBoundedSize(t *testing.T) {
	c, err := NewCache(time.Minute)
	require.NoError(t, err)
	defer c.Close()
	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }

	data := make([]float64, 1000)
	for i := range data {
		data[i] = float64(i*i) * 1.1
	}
	b, err := NewDataBlock(TypeDouble, data)
	require.NoError(t, err)

	require.NoError(t, c.Put("a", b))
	entry := c.Size()
	require.Positive(t, entry)
	c.SetMaxBytes(2*entry + entry/2)

	now = now.Add(time.Second)
	require.NoError(t, c.Put("b", b))
	now = now.Add(time.Second)
	require.NoError(t, c.Put("c", b))
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, 2*entry, c.Size())
	_, ok := c.Get("a")
	assert.False(t, ok, "the oldest entry makes room")
	_, ok = c.Get("c")
	assert.True(t, ok)

	// replacing a key does not count it twice
	require.NoError(t, c.Put("c", b))
	assert.Equal(t, 2*entry, c.Size())

	// expired entries are swept by the next Put, not only by Get
	now = now.Add(2 * time.Minute)
	require.NoError(t, c.Put("d", b))
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, entry, c.Size())

	c.SetMaxBytes(entry / 2)
	assert.Zero(t, c.Len())
	assert.Error(t, c.Put("e", b))
	assert.Zero(t, c.Size())
}
