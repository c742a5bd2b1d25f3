// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package hillviewtest provides utilities for testing Hillview
// datasets and servers.
package hillviewtest

import (
	"context"
	"sync"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/hillview"
	"github.com/grailbio/hillview/server"
)

func init() {
	hillview.RegisterOp("hillviewtest.Fail", Fail{})
}

// A Recorder is an Observer that records the events of a stream.
type Recorder struct {
	// Next, if set, is called after each partial result is
	// recorded, with the number of results recorded so far.
	Next func(n int, r hillview.PartialResult)

	mu          sync.Mutex
	results     []hillview.PartialResult
	err         error
	errors      int
	completions int
}

// OnNext implements hillview.Observer.
func (r *Recorder) OnNext(pr hillview.PartialResult) {
	r.mu.Lock()
	r.results = append(r.results, pr)
	n := len(r.results)
	r.mu.Unlock()
	if r.Next != nil {
		r.Next(n, pr)
	}
}

// OnError implements hillview.Observer.
func (r *Recorder) OnError(err error) {
	r.mu.Lock()
	r.err = err
	r.errors++
	r.mu.Unlock()
}

// OnCompleted implements hillview.Observer.
func (r *Recorder) OnCompleted() {
	r.mu.Lock()
	r.completions++
	r.mu.Unlock()
}

// Results returns the partial results recorded so far.
func (r *Recorder) Results() []hillview.PartialResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]hillview.PartialResult(nil), r.results...)
}

// Err returns the recorded error, if any.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Errors returns the number of errors recorded.
func (r *Recorder) Errors() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errors
}

// Completions returns the number of completions recorded.
func (r *Recorder) Completions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completions
}

// Progress returns the sum of the recorded progress fractions.
func (r *Recorder) Progress() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var p float64
	for _, pr := range r.results {
		p += pr.DoneFraction
	}
	return p
}

// Sum combines the recorded values with red.
func (r *Recorder) Sum(red hillview.Reduction) (interface{}, error) {
	acc := red.Zero()
	for _, pr := range r.Results() {
		if pr.Value == nil {
			continue
		}
		var err error
		if acc, err = red.Add(acc, pr.Value); err != nil {
			return nil, err
		}
	}
	return acc, nil
}

// Last returns the last recorded value, or nil.
func (r *Recorder) Last() interface{} {
	results := r.Results()
	for i := len(results) - 1; i >= 0; i-- {
		if results[i].Value != nil {
			return results[i].Value
		}
	}
	return nil
}

// Run subscribes to s and returns a recorder of its events once the
// stream has terminated.
func Run(ctx context.Context, s *hillview.Stream) *Recorder {
	rec := new(Recorder)
	sub := s.Subscribe(ctx, rec)
	<-sub.Done()
	return rec
}

// Ints returns a parallel dataset of n local partitions. Partition i
// holds the integers [i*size, (i+1)*size).
func Ints(n, size int, popts []hillview.ParallelOption, lopts ...hillview.LocalOption) *hillview.ParallelDataSet {
	children := make([]hillview.DataSet, n)
	for i := range children {
		part := make([]int, size)
		for j := range part {
			part[j] = i*size + j
		}
		children[i] = hillview.NewLocalDataSet(part, lopts...)
	}
	return hillview.NewParallelDataSet(children, popts...)
}

// Serve starts a server on a loopback port, registers the provided
// root datasets, and returns the server and its address. The server
// is shut down when the test completes.
func Serve(t testing.TB, roots []hillview.DataSet, opts ...server.Option) (*server.Server, string) {
	t.Helper()
	s := server.New(opts...)
	for _, ds := range roots {
		s.Register(ds)
	}
	addr, err := s.Start("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Shutdown)
	return s, addr
}

// Fail is a transform and a reduction that fails with Message.
type Fail struct {
	Message string
}

// Map implements hillview.Transform.
func (f Fail) Map(context.Context, interface{}) (interface{}, error) {
	return nil, errors.E(f.Message)
}

// Zero implements hillview.Reduction.
func (Fail) Zero() interface{} { return 0 }

// Create implements hillview.Reduction.
func (f Fail) Create(context.Context, interface{}) (interface{}, error) {
	return nil, errors.E(f.Message)
}

// Add implements hillview.Reduction.
func (Fail) Add(a, b interface{}) (interface{}, error) { return a, nil }
