// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package hillview

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// A merger subscribes to the streams of a parallel dataset's children
// and relays their merged partial results to the parallel dataset's
// own subscription.
//
// Values are either combined with add, starting from zero, or handed
// to collect along with the index of the child that produced them.
// Each child's progress is scaled by 1/N. The first child error
// terminates the output immediately and unsubscribes every other
// child.
type merger struct {
	out      *Subscription
	n        int
	interval time.Duration

	zero    func() interface{}
	add     func(a, b interface{}) (interface{}, error)
	collect func(i int, v interface{}) error

	mu   sync.Mutex
	subs []*Subscription
	// acc and hasValue hold the combined values not yet emitted.
	acc      interface{}
	hasValue bool
	// done is the progress not yet emitted; total is all progress
	// received so far.
	done, total float64
	pending     bool
	err         error
}

func newMerger(out *Subscription, n int, interval time.Duration) *merger {
	return &merger{out: out, n: n, interval: interval, subs: make([]*Subscription, n)}
}

// run subscribes to streams, one per child, and returns once every
// child has terminated. It returns the first child error.
func (m *merger) run(ctx context.Context, streams []*Stream) error {
	m.reset()
	var (
		stop    = make(chan struct{})
		flusher sync.WaitGroup
	)
	if m.interval > 0 {
		flusher.Add(1)
		go func() {
			defer flusher.Done()
			m.flushEvery(stop)
		}()
	}
	var g errgroup.Group
	for i := range streams {
		i := i
		sub := streams[i].Subscribe(ctx, Observe(
			func(r PartialResult) { m.next(i, r) },
			m.fail,
			nil,
		))
		m.mu.Lock()
		m.subs[i] = sub
		failed := m.err != nil
		m.mu.Unlock()
		m.out.onUnsubscribe(sub.Unsubscribe)
		g.Go(func() error {
			<-sub.Done()
			return sub.Err()
		})
		if failed || ctx.Err() != nil {
			sub.Unsubscribe()
			break
		}
	}
	err := g.Wait()
	close(stop)
	flusher.Wait()

	m.mu.Lock()
	if m.err != nil {
		err = m.err
	}
	m.mu.Unlock()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.flush()
	return nil
}

// next handles the i'th child's partial result r.
func (m *merger) next(i int, r PartialResult) {
	m.mu.Lock()
	if m.err != nil {
		m.mu.Unlock()
		return
	}
	if r.Value != nil {
		var err error
		switch {
		case m.collect != nil:
			err = m.collect(i, r.Value)
		case m.add != nil:
			m.acc, err = m.add(m.acc, r.Value)
			m.hasValue = true
		}
		if err != nil {
			m.mu.Unlock()
			m.fail(err)
			return
		}
	}
	inc := r.DoneFraction
	if inc < 0 {
		inc = 0
	}
	inc /= float64(m.n)
	if m.total+inc > 1 {
		inc = 1 - m.total
	}
	m.total += inc
	m.done += inc
	m.pending = true
	if m.interval > 0 {
		m.mu.Unlock()
		return
	}
	out := m.take()
	m.mu.Unlock()
	_ = m.out.emit(out)
}

// fail terminates the output with err and unsubscribes from every
// child. Only the first failure is reported.
func (m *merger) fail(err error) {
	m.mu.Lock()
	if m.err != nil {
		m.mu.Unlock()
		return
	}
	m.err = err
	m.reset()
	subs := append([]*Subscription(nil), m.subs...)
	m.mu.Unlock()
	m.out.finish(err)
	for _, sub := range subs {
		if sub != nil {
			sub.Unsubscribe()
		}
	}
}

func (m *merger) flushEvery(stop <-chan struct{}) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.flush()
		case <-stop:
			return
		}
	}
}

// flush emits the pending partial result, if any.
func (m *merger) flush() {
	m.mu.Lock()
	if !m.pending || m.err != nil {
		m.mu.Unlock()
		return
	}
	out := m.take()
	m.mu.Unlock()
	_ = m.out.emit(out)
}

// take returns the pending partial result and resets the pending
// state. It must be called with m.mu held.
func (m *merger) take() PartialResult {
	var r PartialResult
	if m.hasValue {
		r.Value = m.acc
	}
	r.DoneFraction = m.done
	m.reset()
	return r
}

// reset clears the pending state. It must be called with m.mu held,
// or before the merger is shared.
func (m *merger) reset() {
	m.acc, m.hasValue = nil, false
	if m.zero != nil {
		m.acc = m.zero()
	}
	m.done = 0
	m.pending = false
}
