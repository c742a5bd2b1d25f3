// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package hillview

import (
	"context"
	"sync"

	"github.com/grailbio/base/errors"
)

// An Observer receives the events of a subscribed stream. The
// methods of an observer are invoked serially. A stream delivers any
// number of OnNext calls followed by at most one of OnError and
// OnCompleted; nothing is delivered after a terminal event, nor after
// the subscription is unsubscribed.
type Observer interface {
	OnNext(PartialResult)
	OnError(error)
	OnCompleted()
}

type observerFuncs struct {
	next      func(PartialResult)
	error     func(error)
	completed func()
}

// Observe returns an Observer that invokes the provided functions.
// Any of them may be nil.
func Observe(next func(PartialResult), error func(error), completed func()) Observer {
	return observerFuncs{next, error, completed}
}

func (o observerFuncs) OnNext(r PartialResult) {
	if o.next != nil {
		o.next(r)
	}
}

func (o observerFuncs) OnError(err error) {
	if o.error != nil {
		o.error(err)
	}
}

func (o observerFuncs) OnCompleted() {
	if o.completed != nil {
		o.completed()
	}
}

// A source produces the events of a stream for one subscription. It
// emits partial results through the subscription and returns the
// stream's terminal error, or nil on completion. Sources must return
// promptly once ctx is done.
type source func(ctx context.Context, sub *Subscription) error

// A Stream is a cold, asynchronous sequence of partial results. No
// work is done until the stream is subscribed, and each subscription
// runs the stream's work afresh.
type Stream struct {
	source source
	// inline runs the source on the subscribing goroutine.
	inline bool
}

func newStream(src source) *Stream {
	return &Stream{source: src}
}

// errorStream returns a stream that fails with err on subscription.
func errorStream(err error) *Stream {
	return &Stream{
		source: func(context.Context, *Subscription) error { return err },
		inline: true,
	}
}

// Subscribe starts the stream's work, delivering its events to obs.
// The work is cancelled when ctx is done or when the returned
// subscription is unsubscribed. Streams of synchronous datasets run
// to completion before Subscribe returns.
func (s *Stream) Subscribe(ctx context.Context, obs Observer) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		obs:    obs,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	if s.inline {
		s.run(ctx, sub)
	} else {
		go s.run(ctx, sub)
	}
	return sub
}

func (s *Stream) run(ctx context.Context, sub *Subscription) {
	err := s.source(ctx, sub)
	sub.finish(err)
	sub.cancel()
	close(sub.done)
}

type subscriptionState int

const (
	active subscriptionState = iota
	unsubscribed
	terminated
)

// errUnsubscribed is returned by emit once a subscription is no
// longer active.
var errUnsubscribed = errors.E(errors.Canceled, "hillview: stream unsubscribed")

// A Subscription is a handle to a running stream.
type Subscription struct {
	obs    Observer
	cancel context.CancelFunc
	done   chan struct{}

	// emitMu serializes observer callbacks. When a stream relays the
	// events of another, the inner subscription's emitMu is acquired
	// before the outer's.
	emitMu sync.Mutex

	mu    sync.Mutex
	state subscriptionState
	hooks []func()
	err   error
}

// Unsubscribe stops the delivery of events and cancels the work
// behind the stream, including any remote work. Unsubscribe is
// idempotent and may be called from any goroutine, including from
// within the observer's OnNext.
func (s *Subscription) Unsubscribe() {
	s.mu.Lock()
	if s.state != active {
		s.mu.Unlock()
		return
	}
	s.state = unsubscribed
	hooks := s.hooks
	s.hooks = nil
	s.mu.Unlock()
	s.cancel()
	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i]()
	}
}

// Done returns a channel that is closed once the stream's work has
// stopped.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that terminated the stream. It returns nil
// if the stream is still running, completed successfully, or was
// unsubscribed.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Active tells whether the subscription is still delivering events.
func (s *Subscription) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == active
}

// emit delivers r to the observer. It returns errUnsubscribed if the
// subscription is no longer active.
func (s *Subscription) emit(r PartialResult) error {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if !s.Active() {
		return errUnsubscribed
	}
	s.obs.OnNext(r)
	return nil
}

// finish terminates the subscription with err, or with a completion
// if err is nil. It reports whether the terminal event was delivered;
// finish is a no-op once the subscription is no longer active.
func (s *Subscription) finish(err error) bool {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	s.mu.Lock()
	if s.state != active {
		s.mu.Unlock()
		return false
	}
	s.state = terminated
	s.err = err
	s.hooks = nil
	s.mu.Unlock()
	if err != nil {
		s.obs.OnError(err)
	} else {
		s.obs.OnCompleted()
	}
	return true
}

// onUnsubscribe registers f to be called when s is unsubscribed. If
// s has already been unsubscribed, f is called immediately. Hooks
// are discarded once the stream terminates.
func (s *Subscription) onUnsubscribe(f func()) {
	s.mu.Lock()
	switch s.state {
	case active:
		s.hooks = append(s.hooks, f)
		s.mu.Unlock()
	case unsubscribed:
		s.mu.Unlock()
		f()
	default:
		s.mu.Unlock()
	}
}
