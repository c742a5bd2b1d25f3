// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package hillview

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/limiter"
	"github.com/grailbio/base/log"
)

// A LocalDataSet is a leaf of a dataset tree: it holds a single
// partition in memory. Operations on a local dataset emit exactly one
// partial result, with DoneFraction 1, before completing.
//
// By default each subscription runs on its own goroutine, so that the
// leaves of a parallel dataset are processed concurrently.
type LocalDataSet struct {
	data        interface{}
	synchronous bool
	limiter     *limiter.Limiter
}

// A LocalOption configures a LocalDataSet. Datasets derived from a
// local dataset inherit its options.
type LocalOption func(*LocalDataSet)

// Synchronous runs operations on the subscribing goroutine: Subscribe
// returns only once the operation is complete.
var Synchronous LocalOption = func(l *LocalDataSet) {
	l.synchronous = true
}

// Limit bounds the number of operations running concurrently on
// datasets sharing the limiter lim. Each operation acquires one unit.
func Limit(lim *limiter.Limiter) LocalOption {
	return func(l *LocalDataSet) {
		l.limiter = lim
	}
}

// NewLocalDataSet returns a local dataset holding data.
func NewLocalDataSet(data interface{}, opts ...LocalOption) *LocalDataSet {
	l := &LocalDataSet{data: data}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Data returns the partition held by l.
func (l *LocalDataSet) Data() interface{} { return l.data }

func (l *LocalDataSet) String() string {
	return fmt.Sprintf("local(%T)", l.data)
}

func (*LocalDataSet) dataSet() {}

// derive returns a local dataset holding data with l's options.
func (l *LocalDataSet) derive(data interface{}) *LocalDataSet {
	return &LocalDataSet{data: data, synchronous: l.synchronous, limiter: l.limiter}
}

// Map implements DataSet.
func (l *LocalDataSet) Map(t Transform) *Stream {
	return l.stream("map", func(ctx context.Context) (interface{}, error) {
		out, err := t.Map(ctx, l.data)
		if err != nil {
			return nil, err
		}
		return l.derive(out), nil
	})
}

// FlatMap implements DataSet. The resulting dataset is a parallel
// dataset with one local child per returned partition.
func (l *LocalDataSet) FlatMap(t FlatTransform) *Stream {
	return l.stream("flatmap", func(ctx context.Context) (interface{}, error) {
		outs, err := t.FlatMap(ctx, l.data)
		if err != nil {
			return nil, err
		}
		children := make([]DataSet, len(outs))
		for i, out := range outs {
			children[i] = l.derive(out)
		}
		return NewParallelDataSet(children), nil
	})
}

// Sketch implements DataSet.
func (l *LocalDataSet) Sketch(r Reduction) *Stream {
	return l.stream("sketch", func(ctx context.Context) (interface{}, error) {
		return r.Create(ctx, l.data)
	})
}

// Zip implements DataSet. The other dataset must also be local.
func (l *LocalDataSet) Zip(other DataSet) *Stream {
	o, ok := other.(*LocalDataSet)
	if !ok {
		return errorStream(topologyError("zip: cannot zip local dataset with %s", other))
	}
	return l.stream("zip", func(context.Context) (interface{}, error) {
		return l.derive(Pair{l.data, o.data}), nil
	})
}

// Manage implements DataSet.
func (l *LocalDataSet) Manage(m ControlMessage) *Stream {
	return l.stream("manage", func(context.Context) (interface{}, error) {
		return statusListOf(m.LocalAction(l)), nil
	})
}

// stream returns a stream that computes a single result with
// compute. Panics in compute are reported as stream errors.
func (l *LocalDataSet) stream(op string, compute func(ctx context.Context) (interface{}, error)) *Stream {
	s := newStream(func(ctx context.Context, sub *Subscription) (err error) {
		if l.limiter != nil {
			if err := l.limiter.Acquire(ctx, 1); err != nil {
				return err
			}
			defer l.limiter.Release(1)
		}
		defer func() {
			if e := recover(); e != nil {
				err = errors.E(errors.Fatal, fmt.Sprintf("hillview: panic in %s: %v\n%s", op, e, string(debug.Stack())))
			}
		}()
		v, err := compute(ctx)
		if err != nil {
			log.Debug.Printf("%s: %s failed: %v", l, op, err)
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		_ = sub.emit(PartialResult{Value: v, DoneFraction: 1})
		return nil
	})
	s.inline = l.synchronous
	return s
}
