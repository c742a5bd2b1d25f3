// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package server

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grailbio/hillview"
)

// RootIndex is the handle of a server's first registered dataset.
const RootIndex int32 = 0

type entry struct {
	ds hillview.DataSet
	// root entries are never expired.
	root bool
	// lastAccess is the time of the last lookup, in Unix nanoseconds.
	lastAccess int64
}

func (e *entry) touch(now time.Time) {
	atomic.StoreInt64(&e.lastAccess, now.UnixNano())
}

func (e *entry) idle(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, atomic.LoadInt64(&e.lastAccess)))
}

// A registry maps handles to the datasets hosted by a server. Handles
// are never reused.
type registry struct {
	mu      sync.RWMutex
	next    int32
	entries map[int32]*entry
}

func newRegistry() *registry {
	return &registry{entries: make(map[int32]*entry)}
}

// add registers ds and returns its handle. Root datasets are kept
// until explicitly removed.
func (r *registry) add(ds hillview.DataSet, root bool, now time.Time) int32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	index := r.next
	r.next++
	e := &entry{ds: ds, root: root}
	e.touch(now)
	r.entries[index] = e
	return index
}

// get returns the dataset with the provided handle and records the
// access.
func (r *registry) get(index int32, now time.Time) (hillview.DataSet, bool) {
	r.mu.RLock()
	e := r.entries[index]
	r.mu.RUnlock()
	if e == nil {
		return nil, false
	}
	e.touch(now)
	return e.ds, true
}

func (r *registry) remove(index int32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries[index] == nil {
		return false
	}
	delete(r.entries, index)
	return true
}

// removeDerived removes every dataset that is not a root and returns
// the number removed.
func (r *registry) removeDerived() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int
	for index, e := range r.entries {
		if !e.root {
			delete(r.entries, index)
			n++
		}
	}
	return n
}

// expire removes derived datasets that have not been accessed within
// ttl and returns their handles.
func (r *registry) expire(now time.Time, ttl time.Duration) []int32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var expired []int32
	for index, e := range r.entries {
		if !e.root && e.idle(now) > ttl {
			delete(r.entries, index)
			expired = append(expired, index)
		}
	}
	return expired
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// dump writes a description of every registered dataset to w.
func (r *registry) dump(w io.Writer, now time.Time) error {
	r.mu.RLock()
	indices := make([]int, 0, len(r.entries))
	for index := range r.entries {
		indices = append(indices, int(index))
	}
	sort.Ints(indices)
	lines := make([]string, len(indices))
	for i, index := range indices {
		e := r.entries[int32(index)]
		kind := "derived"
		if e.root {
			kind = "root"
		}
		lines[i] = fmt.Sprintf("%d\t%s\t%s\tidle %s\n", index, kind, e.ds, e.idle(now).Round(time.Second))
	}
	r.mu.RUnlock()
	for _, line := range lines {
		if _, err := io.WriteString(w, line); err != nil {
			return err
		}
	}
	return nil
}
