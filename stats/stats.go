// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package stats provides named counters for Hillview servers. A Map
// holds a set of counters that can be snapshotted as Values and
// exported to Prometheus through a Collector.
package stats

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Values is a snapshot of the counters of a Map.
type Values map[string]int64

// Keys returns the names of the values in v, sorted.
func (v Values) Keys() []string {
	keys := make([]string, 0, len(v))
	for key := range v {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// String returns the values in v as "name:value" pairs, sorted by
// name.
func (v Values) String() string {
	keys := v.Keys()
	for i, key := range keys {
		keys[i] = fmt.Sprintf("%s:%d", key, v[key])
	}
	return strings.Join(keys, " ")
}

// A Map is a set of counters keyed by name. Counters are created on
// first use.
type Map struct {
	mu       sync.Mutex
	counters map[string]*Int
}

// NewMap returns an empty Map.
func NewMap() *Map {
	return &Map{counters: make(map[string]*Int)}
}

// Int returns the counter with the provided name.
func (m *Map) Int(name string) *Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.counters[name]
	if c == nil {
		c = new(Int)
		m.counters[name] = c
	}
	return c
}

// Snapshot returns the current value of every counter in m.
func (m *Map) Snapshot() Values {
	vals := make(Values)
	m.mu.Lock()
	for name, c := range m.counters {
		vals[name] = c.Get()
	}
	m.mu.Unlock()
	return vals
}

// An Int is an integer counter that is safe for concurrent use. A
// nil *Int ignores updates and reads as zero.
type Int struct {
	val int64
}

// Add adds delta to the counter.
func (c *Int) Add(delta int64) {
	if c != nil {
		atomic.AddInt64(&c.val, delta)
	}
}

// Set sets the counter to val.
func (c *Int) Set(val int64) {
	if c != nil {
		atomic.StoreInt64(&c.val, val)
	}
}

// Get returns the counter's value.
func (c *Int) Get() int64 {
	if c == nil {
		return 0
	}
	return atomic.LoadInt64(&c.val)
}
