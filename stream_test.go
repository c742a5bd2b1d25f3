// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package hillview_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/grailbio/hillview"
	"github.com/grailbio/hillview/hillviewtest"
	"github.com/grailbio/hillview/sketches"
)

type countCreates struct {
	n *int32
	sketches.Sum
}

func (c countCreates) Create(ctx context.Context, data interface{}) (interface{}, error) {
	atomic.AddInt32(c.n, 1)
	return c.Sum.Create(ctx, data)
}

func TestStreamCold(t *testing.T) {
	var n int32
	ds := hillviewtest.Ints(4, 10, immediate)
	s := ds.Sketch(countCreates{n: &n})
	if got, want := atomic.LoadInt32(&n), int32(0); got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	// Every subscription runs the work afresh.
	for i := 1; i <= 2; i++ {
		rec := hillviewtest.Run(context.Background(), s)
		if got, want := rec.Completions(), 1; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
		if got, want := atomic.LoadInt32(&n), int32(4*i); got != want {
			t.Errorf("got %v, want %v", got, want)
		}
	}
}

func TestStreamUnsubscribeInNext(t *testing.T) {
	ds := hillview.NewLocalDataSet([]int{1})
	var sub *hillview.Subscription
	subc := make(chan *hillview.Subscription, 1)
	rec := &hillviewtest.Recorder{
		Next: func(int, hillview.PartialResult) {
			s := <-subc
			s.Unsubscribe()
			s.Unsubscribe()
		},
	}
	sub = ds.Sketch(sketches.Sum{}).Subscribe(context.Background(), rec)
	subc <- sub
	<-sub.Done()
	if got, want := len(rec.Results()), 1; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	// No terminal event follows an unsubscription.
	if got, want := rec.Completions()+rec.Errors(), 0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if sub.Active() {
		t.Error("subscription still active")
	}
}

func TestStreamUnsubscribeBeforeWork(t *testing.T) {
	var cancelled int32
	ds := hillview.NewLocalDataSet(5)
	rec := new(hillviewtest.Recorder)
	sub := ds.Sketch(blockAbove{threshold: 0, cancelled: &cancelled}).Subscribe(context.Background(), rec)
	sub.Unsubscribe()
	<-sub.Done()
	if got, want := atomic.LoadInt32(&cancelled), int32(1); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := len(rec.Results())+rec.Completions()+rec.Errors(), 0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestObserveNil(t *testing.T) {
	obs := hillview.Observe(nil, nil, nil)
	sub := hillview.NewLocalDataSet(1).Sketch(sketches.Sum{}).Subscribe(context.Background(), obs)
	<-sub.Done()
	if err := sub.Err(); err != nil {
		t.Fatal(err)
	}
}
