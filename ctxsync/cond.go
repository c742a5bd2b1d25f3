// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package ctxsync provides synchronization primitives whose waits
// can be abandoned when a context is done.
package ctxsync

import (
	"context"
	"sync"
)

// A Cond is a condition variable whose Wait respects context
// cancellation. The zero Cond is not usable; use NewCond.
type Cond struct {
	l     sync.Locker
	waitc chan struct{}
}

// NewCond returns a Cond associated with the lock l.
func NewCond(l sync.Locker) *Cond {
	return &Cond{l: l}
}

// Broadcast wakes all goroutines waiting on c. The lock must be held.
func (c *Cond) Broadcast() {
	if c.waitc == nil {
		return
	}
	close(c.waitc)
	c.waitc = nil
}

// Wait releases the lock and waits for the next Broadcast or for ctx
// to be done, whichever comes first, then reacquires the lock. It
// returns ctx's error if ctx was done. The lock must be held.
func (c *Cond) Wait(ctx context.Context) error {
	if c.waitc == nil {
		c.waitc = make(chan struct{})
	}
	waitc := c.waitc
	c.l.Unlock()
	defer c.l.Lock()
	select {
	case <-waitc:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Until waits until ready returns true. Ready is evaluated with the
// lock held, initially and after every Broadcast. Until returns ctx's
// error if ctx is done first. The lock must be held.
func (c *Cond) Until(ctx context.Context, ready func() bool) error {
	for !ready() {
		if err := c.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}
