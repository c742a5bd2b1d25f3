// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package server

import (
	"sync"

	"github.com/golang/groupcache/lru"
	"github.com/grailbio/hillview/wire"
	"github.com/spaolacci/murmur3"
)

// DefaultMaxMemoized is the default number of results retained for
// memoization.
const DefaultMaxMemoized = 1024

// A memoKey identifies a request by its operation and operands. The
// payload is identified by its 128-bit hash.
type memoKey struct {
	kind          wire.Kind
	target        int32
	second        int32
	hasSecond     bool
	hash1, hash2  uint64
	payloadLength int
}

func keyOf(req *wire.Request) memoKey {
	h1, h2 := murmur3.Sum128(req.Payload)
	return memoKey{
		kind:          req.Kind,
		target:        req.TargetIndex,
		second:        req.SecondTargetIndex,
		hasSecond:     req.HasSecond,
		hash1:         h1,
		hash2:         h2,
		payloadLength: len(req.Payload),
	}
}

// A memoized result is either the encoded final value of a sketch or
// the handle of the dataset produced by a map, flatmap, or zip.
type memoized struct {
	value []byte
	// index is valid when isDataSet is set.
	index     int32
	isDataSet bool
}

// memoCache is a bounded LRU cache of completed results.
type memoCache struct {
	mu  sync.Mutex
	max int
	lru *lru.Cache
}

func newMemoCache(max int) *memoCache {
	return &memoCache{max: max, lru: lru.New(max)}
}

func (c *memoCache) get(key memoKey) (memoized, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.lru.Get(key)
	if !ok {
		return memoized{}, false
	}
	return v.(memoized), true
}

func (c *memoCache) put(key memoKey, m memoized) {
	c.mu.Lock()
	c.lru.Add(key, m)
	c.mu.Unlock()
}

func (c *memoCache) remove(key memoKey) {
	c.mu.Lock()
	c.lru.Remove(key)
	c.mu.Unlock()
}

// purge removes every memoized result and returns the number removed.
func (c *memoCache) purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.lru.Len()
	c.lru = lru.New(c.max)
	return n
}

func (c *memoCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
