// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package hillview_test

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/limiter"
	"github.com/grailbio/hillview"
	"github.com/grailbio/hillview/hillviewtest"
	"github.com/grailbio/hillview/sketches"
	"github.com/grailbio/testutil/assert"
)

type panicky struct{}

func (panicky) Map(context.Context, interface{}) (interface{}, error) {
	panic("boom")
}

func TestLocalSketch(t *testing.T) {
	ctx := context.Background()
	ds := hillview.NewLocalDataSet([]int{1, 2, 3, 4})
	rec := hillviewtest.Run(ctx, ds.Sketch(sketches.Sum{}))
	assert.NoError(t, rec.Err())
	results := rec.Results()
	if got, want := len(results), 1; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	if got, want := results[0], (hillview.PartialResult{Value: 10, DoneFraction: 1}); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := rec.Completions(), 1; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestLocalMap(t *testing.T) {
	ctx := context.Background()
	ds := hillview.NewLocalDataSet([]int{1, 2, 3})
	out, err := hillview.BlockingMap(ctx, ds, sketches.AddConst{N: 10})
	assert.NoError(t, err)
	local, ok := out.(*hillview.LocalDataSet)
	if !ok {
		t.Fatalf("got %T, want *LocalDataSet", out)
	}
	assert.EQ(t, local.Data(), []int{11, 12, 13})
	// The input dataset is unchanged.
	assert.EQ(t, ds.Data(), []int{1, 2, 3})
}

func TestLocalFlatMap(t *testing.T) {
	ctx := context.Background()
	ds := hillview.NewLocalDataSet([]int{1, 2, 3, 4, 5})
	out, err := hillview.BlockingFlatMap(ctx, ds, sketches.Split{Parts: 2})
	assert.NoError(t, err)
	p, ok := out.(*hillview.ParallelDataSet)
	if !ok {
		t.Fatalf("got %T, want *ParallelDataSet", out)
	}
	if got, want := p.Size(), 2; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	sum, err := hillview.BlockingSketch(ctx, out, sketches.Sum{})
	assert.NoError(t, err)
	assert.EQ(t, sum, 15)
}

func TestLocalZip(t *testing.T) {
	ctx := context.Background()
	left := hillview.NewLocalDataSet([]int{1, 2})
	right := hillview.NewLocalDataSet([]int{10})
	out, err := hillview.BlockingZip(ctx, left, right)
	assert.NoError(t, err)
	assert.EQ(t, out.(*hillview.LocalDataSet).Data(), hillview.Pair{First: []int{1, 2}, Second: []int{10}})
	sum, err := hillview.BlockingSketch(ctx, out, sketches.PairSum{})
	assert.NoError(t, err)
	assert.EQ(t, sum, 13)

	_, err = hillview.BlockingZip(ctx, left, hillview.NewParallelDataSet(nil))
	if !hillview.IsTopology(err) {
		t.Errorf("expected topology error, got %v", err)
	}
}

func TestLocalManage(t *testing.T) {
	list, err := hillview.BlockingManage(context.Background(), hillview.NewLocalDataSet(1), sketches.Ping{})
	assert.NoError(t, err)
	if got, want := len(list), 1; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	if got, want := list[0].Result, "local"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestLocalErrors(t *testing.T) {
	ctx := context.Background()
	ds := hillview.NewLocalDataSet([]int{1})
	rec := hillviewtest.Run(ctx, ds.Sketch(hillviewtest.Fail{Message: "planned error"}))
	if got, want := rec.Errors(), 1; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	if !errors.Match(errors.E("planned error"), rec.Err()) {
		t.Errorf("unexpected error %v", rec.Err())
	}
	if got, want := len(rec.Results()), 0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := rec.Completions(), 0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}

	rec = hillviewtest.Run(ctx, ds.Map(panicky{}))
	if err := rec.Err(); err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("expected panic to be reported, got %v", err)
	}
	_, err := hillview.BlockingSketch(ctx, hillview.NewLocalDataSet("text"), sketches.Sum{})
	if !errors.Is(errors.Invalid, err) {
		t.Errorf("expected invalid error, got %v", err)
	}
}

func TestLocalSynchronous(t *testing.T) {
	ds := hillview.NewLocalDataSet([]int{5}, hillview.Synchronous)
	rec := new(hillviewtest.Recorder)
	sub := ds.Sketch(sketches.Sum{}).Subscribe(context.Background(), rec)
	// Synchronous datasets complete before Subscribe returns.
	select {
	case <-sub.Done():
	default:
		t.Fatal("synchronous subscription still running")
	}
	if got, want := rec.Completions(), 1; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	// Derived datasets are also synchronous.
	out, err := hillview.BlockingMap(context.Background(), ds, sketches.AddConst{N: 1})
	assert.NoError(t, err)
	rec = new(hillviewtest.Recorder)
	sub = out.Sketch(sketches.Sum{}).Subscribe(context.Background(), rec)
	select {
	case <-sub.Done():
	default:
		t.Fatal("derived subscription still running")
	}
	assert.EQ(t, rec.Last(), 6)
}

type gauge struct {
	cur, max int32
	sketches.Sum
}

func (g *gauge) Create(ctx context.Context, data interface{}) (interface{}, error) {
	n := atomic.AddInt32(&g.cur, 1)
	for {
		m := atomic.LoadInt32(&g.max)
		if n <= m || atomic.CompareAndSwapInt32(&g.max, m, n) {
			break
		}
	}
	defer atomic.AddInt32(&g.cur, -1)
	return g.Sum.Create(ctx, data)
}

func TestLocalLimit(t *testing.T) {
	lim := limiter.New()
	lim.Release(2)
	ds := hillviewtest.Ints(20, 100, nil, hillview.Limit(lim))
	g := new(gauge)
	sum, err := hillview.BlockingSketch(context.Background(), ds, g)
	assert.NoError(t, err)
	assert.EQ(t, sum, 2000*1999/2)
	if max := atomic.LoadInt32(&g.max); max > 2 {
		t.Errorf("concurrency %d exceeds limit 2", max)
	}
}
