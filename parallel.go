// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package hillview

import (
	"context"
	"fmt"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
)

// DefaultBundleInterval is the default interval at which a parallel
// dataset combines and emits the partial results of its children.
const DefaultBundleInterval = 250 * time.Millisecond

// A ParallelDataSet is an interior node of a dataset tree. Operations
// are applied to every child concurrently, and the children's partial
// results are merged: sketch values are combined with the reduction's
// Add, and each child's progress counts for 1/N of the total.
//
// Partial results are bundled: updates received within a bundle
// interval are combined and emitted together. With an interval of
// zero, every child update is emitted immediately.
type ParallelDataSet struct {
	children       []DataSet
	bundleInterval time.Duration
}

// A ParallelOption configures a ParallelDataSet.
type ParallelOption func(*ParallelDataSet)

// BundleInterval sets the interval at which partial results are
// combined and emitted.
func BundleInterval(d time.Duration) ParallelOption {
	if d < 0 {
		log.Panicf("hillview.BundleInterval: negative interval %s", d)
	}
	return func(p *ParallelDataSet) {
		p.bundleInterval = d
	}
}

// NewParallelDataSet returns a parallel dataset with the provided
// children. The dataset may be empty.
func NewParallelDataSet(children []DataSet, opts ...ParallelOption) *ParallelDataSet {
	p := &ParallelDataSet{
		children:       append([]DataSet(nil), children...),
		bundleInterval: DefaultBundleInterval,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Size returns the number of children of p.
func (p *ParallelDataSet) Size() int { return len(p.children) }

// Child returns the i'th child of p.
func (p *ParallelDataSet) Child(i int) DataSet { return p.children[i] }

// Children returns the children of p.
func (p *ParallelDataSet) Children() []DataSet {
	return append([]DataSet(nil), p.children...)
}

func (p *ParallelDataSet) String() string {
	return fmt.Sprintf("parallel(%d)", len(p.children))
}

func (*ParallelDataSet) dataSet() {}

// Sketch implements DataSet. The sketch of an empty dataset is the
// reduction's zero.
func (p *ParallelDataSet) Sketch(r Reduction) *Stream {
	return newStream(func(ctx context.Context, sub *Subscription) error {
		if len(p.children) == 0 {
			_ = sub.emit(PartialResult{Value: r.Zero(), DoneFraction: 1})
			return nil
		}
		streams := make([]*Stream, len(p.children))
		for i, child := range p.children {
			streams[i] = child.Sketch(r)
		}
		m := newMerger(sub, len(streams), p.bundleInterval)
		m.zero, m.add = r.Zero, r.Add
		return m.run(ctx, streams)
	})
}

// Manage implements DataSet. The parallel action's status is emitted
// with no progress, followed by the children's.
func (p *ParallelDataSet) Manage(cm ControlMessage) *Stream {
	return newStream(func(ctx context.Context, sub *Subscription) error {
		if s := cm.ParallelAction(p); s != nil {
			_ = sub.emit(PartialResult{Value: statusListOf(s), DoneFraction: 0})
		}
		if len(p.children) == 0 {
			_ = sub.emit(PartialResult{Value: StatusList{}, DoneFraction: 1})
			return nil
		}
		streams := make([]*Stream, len(p.children))
		for i, child := range p.children {
			streams[i] = child.Manage(cm)
		}
		m := newMerger(sub, len(streams), p.bundleInterval)
		m.zero = func() interface{} { return StatusList{} }
		m.add = addStatusLists
		return m.run(ctx, streams)
	})
}

// Map implements DataSet.
func (p *ParallelDataSet) Map(t Transform) *Stream {
	return newStream(func(ctx context.Context, sub *Subscription) error {
		return p.reassemble(ctx, sub, "map", func(i int) *Stream {
			return p.children[i].Map(t)
		})
	})
}

// FlatMap implements DataSet.
func (p *ParallelDataSet) FlatMap(t FlatTransform) *Stream {
	return newStream(func(ctx context.Context, sub *Subscription) error {
		return p.reassemble(ctx, sub, "flatmap", func(i int) *Stream {
			return p.children[i].FlatMap(t)
		})
	})
}

// Zip implements DataSet. The other dataset must be a parallel
// dataset of the same shape. The shape of both trees is checked in
// full before any work starts.
func (p *ParallelDataSet) Zip(other DataSet) *Stream {
	o, ok := other.(*ParallelDataSet)
	if !ok {
		return errorStream(topologyError("zip: cannot zip parallel dataset with %s", other))
	}
	if len(p.children) != len(o.children) {
		return errorStream(topologyError("zip: mismatched sizes %d and %d", len(p.children), len(o.children)))
	}
	return newStream(func(ctx context.Context, sub *Subscription) error {
		if err := sameShape(p, o); err != nil {
			return err
		}
		return p.reassemble(ctx, sub, "zip", func(i int) *Stream {
			return p.children[i].Zip(o.children[i])
		})
	})
}

// reassemble runs a dataset-producing operation over every child and
// emits the parallel dataset of the children's results, in child
// order, once all children have completed. The final emission
// carries no progress: progress is accounted for by the children's
// own emissions.
func (p *ParallelDataSet) reassemble(ctx context.Context, sub *Subscription, op string, apply func(i int) *Stream) error {
	if len(p.children) == 0 {
		_ = sub.emit(PartialResult{Value: &ParallelDataSet{bundleInterval: p.bundleInterval}, DoneFraction: 1})
		return nil
	}
	results := make([]DataSet, len(p.children))
	streams := make([]*Stream, len(p.children))
	for i := range p.children {
		streams[i] = apply(i)
	}
	m := newMerger(sub, len(streams), p.bundleInterval)
	m.collect = func(i int, v interface{}) error {
		ds, ok := v.(DataSet)
		if !ok {
			return errors.E(errors.Invalid, fmt.Sprintf("%s: child %d produced %T, not a dataset", op, i, v))
		}
		results[i] = ds
		return nil
	}
	if err := m.run(ctx, streams); err != nil {
		return err
	}
	for i, ds := range results {
		if ds == nil {
			return errors.E(errors.Invalid, fmt.Sprintf("%s: child %d completed without a result", op, i))
		}
	}
	_ = sub.emit(PartialResult{
		Value:        &ParallelDataSet{children: results, bundleInterval: p.bundleInterval},
		DoneFraction: 0,
	})
	return nil
}
