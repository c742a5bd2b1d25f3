// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package sketches provides reference operations over integer
// partitions. A partition is either an int or an []int; Lengths
// turns text partitions into integer ones. The
// operations are registered with hillview, so they may be applied to
// remote datasets.
package sketches

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/hillview"
)

func init() {
	hillview.RegisterOp("sketches.Sum", Sum{})
	hillview.RegisterOp("sketches.Count", Count{})
	hillview.RegisterOp("sketches.PairSum", PairSum{})
	hillview.RegisterOp("sketches.AddConst", AddConst{})
	hillview.RegisterOp("sketches.Split", Split{})
	hillview.RegisterOp("sketches.Lengths", Lengths{})
	hillview.RegisterOp("sketches.Ping", Ping{})
}

// Ints returns the integers of partition data.
func Ints(data interface{}) ([]int, error) {
	switch data := data.(type) {
	case int:
		return []int{data}, nil
	case []int:
		return data, nil
	default:
		return nil, errors.E(errors.Invalid, fmt.Sprintf("sketches: unsupported partition type %T", data))
	}
}

func addInts(a, b interface{}) (interface{}, error) {
	x, ok := a.(int)
	if !ok {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("sketches: cannot add %T", a))
	}
	y, ok := b.(int)
	if !ok {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("sketches: cannot add %T", b))
	}
	return x + y, nil
}

// Sum is a reduction that sums the integers of a dataset.
type Sum struct{}

// Zero implements hillview.Reduction.
func (Sum) Zero() interface{} { return 0 }

// Create implements hillview.Reduction.
func (Sum) Create(ctx context.Context, data interface{}) (interface{}, error) {
	ints, err := Ints(data)
	if err != nil {
		return nil, err
	}
	var sum int
	for _, v := range ints {
		sum += v
	}
	return sum, nil
}

// Add implements hillview.Reduction.
func (Sum) Add(a, b interface{}) (interface{}, error) { return addInts(a, b) }

// Count is a reduction that counts the integers of a dataset.
type Count struct{}

// Zero implements hillview.Reduction.
func (Count) Zero() interface{} { return 0 }

// Create implements hillview.Reduction.
func (Count) Create(ctx context.Context, data interface{}) (interface{}, error) {
	ints, err := Ints(data)
	if err != nil {
		return nil, err
	}
	return len(ints), nil
}

// Add implements hillview.Reduction.
func (Count) Add(a, b interface{}) (interface{}, error) { return addInts(a, b) }

// PairSum sums the integers of a zipped dataset: both sides of every
// pair are summed.
type PairSum struct{}

// Zero implements hillview.Reduction.
func (PairSum) Zero() interface{} { return 0 }

// Create implements hillview.Reduction.
func (PairSum) Create(ctx context.Context, data interface{}) (interface{}, error) {
	p, ok := data.(hillview.Pair)
	if !ok {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("sketches: expected a pair, got %T", data))
	}
	first, err := Sum{}.Create(ctx, p.First)
	if err != nil {
		return nil, err
	}
	second, err := Sum{}.Create(ctx, p.Second)
	if err != nil {
		return nil, err
	}
	return first.(int) + second.(int), nil
}

// Add implements hillview.Reduction.
func (PairSum) Add(a, b interface{}) (interface{}, error) { return addInts(a, b) }

// AddConst is a transform that adds N to every integer.
type AddConst struct {
	N int
}

// Map implements hillview.Transform.
func (c AddConst) Map(ctx context.Context, data interface{}) (interface{}, error) {
	switch data := data.(type) {
	case int:
		return data + c.N, nil
	case []int:
		out := make([]int, len(data))
		for i, v := range data {
			out[i] = v + c.N
		}
		return out, nil
	default:
		return nil, errors.E(errors.Invalid, fmt.Sprintf("sketches: unsupported partition type %T", data))
	}
}

// Lengths is a transform that maps text partitions of type []string
// to the lengths of their lines.
type Lengths struct{}

// Map implements hillview.Transform.
func (Lengths) Map(ctx context.Context, data interface{}) (interface{}, error) {
	lines, ok := data.([]string)
	if !ok {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("sketches: expected lines, got %T", data))
	}
	out := make([]int, len(lines))
	for i, line := range lines {
		out[i] = len(line)
	}
	return out, nil
}

// Split is a flat transform that splits every partition into Parts
// partitions of nearly equal size.
type Split struct {
	Parts int
}

// FlatMap implements hillview.FlatTransform.
func (s Split) FlatMap(ctx context.Context, data interface{}) ([]interface{}, error) {
	if s.Parts <= 0 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("sketches: cannot split into %d parts", s.Parts))
	}
	ints, err := Ints(data)
	if err != nil {
		return nil, err
	}
	out := make([]interface{}, s.Parts)
	for i := range out {
		lo, hi := i*len(ints)/s.Parts, (i+1)*len(ints)/s.Parts
		out[i] = append([]int(nil), ints[lo:hi]...)
	}
	return out, nil
}

// Ping is a control message that reports the kind of every node it
// visits.
type Ping struct{}

// LocalAction implements hillview.ControlMessage.
func (Ping) LocalAction(ds *hillview.LocalDataSet) *hillview.Status {
	return hillview.NewStatus("local", nil)
}

// ParallelAction implements hillview.ControlMessage.
func (Ping) ParallelAction(ds *hillview.ParallelDataSet) *hillview.Status {
	return hillview.NewStatus(fmt.Sprintf("parallel(%d)", ds.Size()), nil)
}

// RemoteAction implements hillview.ControlMessage.
func (Ping) RemoteAction(ds *hillview.RemoteDataSet) *hillview.Status {
	return hillview.NewStatus("remote "+ds.Addr(), nil)
}
