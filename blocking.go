// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package hillview

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
)

// BlockingSketch runs r over ds and returns the combination of all
// partial results. If ctx is done before the sketch completes, the
// sketch is cancelled and the context's error is returned.
func BlockingSketch(ctx context.Context, ds DataSet, r Reduction) (interface{}, error) {
	var (
		acc    = r.Zero()
		addErr error
	)
	err := await(ctx, ds.Sketch(r), func(pr PartialResult) {
		if pr.Value == nil || addErr != nil {
			return
		}
		acc, addErr = r.Add(acc, pr.Value)
	})
	if err == nil {
		err = addErr
	}
	if err != nil {
		return nil, err
	}
	return acc, nil
}

// BlockingMap applies t to ds and returns the resulting dataset.
func BlockingMap(ctx context.Context, ds DataSet, t Transform) (DataSet, error) {
	return awaitDataSet(ctx, ds.Map(t))
}

// BlockingFlatMap applies t to ds and returns the resulting dataset.
func BlockingFlatMap(ctx context.Context, ds DataSet, t FlatTransform) (DataSet, error) {
	return awaitDataSet(ctx, ds.FlatMap(t))
}

// BlockingZip zips ds with other and returns the resulting dataset.
func BlockingZip(ctx context.Context, ds, other DataSet) (DataSet, error) {
	return awaitDataSet(ctx, ds.Zip(other))
}

// BlockingManage runs m over ds and returns the statuses of every
// node that reported one.
func BlockingManage(ctx context.Context, ds DataSet, m ControlMessage) (StatusList, error) {
	var list StatusList
	err := await(ctx, ds.Manage(m), func(pr PartialResult) {
		if l, ok := pr.Value.(StatusList); ok {
			list = append(list, l...)
		}
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

func awaitDataSet(ctx context.Context, s *Stream) (DataSet, error) {
	var last interface{}
	err := await(ctx, s, func(pr PartialResult) {
		if pr.Value != nil {
			last = pr.Value
		}
	})
	if err != nil {
		return nil, err
	}
	ds, ok := last.(DataSet)
	if !ok {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("hillview: operation produced %T, not a dataset", last))
	}
	return ds, nil
}

// await subscribes to s, delivering its partial results to next, and
// returns the stream's terminal error once it terminates.
func await(ctx context.Context, s *Stream, next func(PartialResult)) error {
	var err error
	sub := s.Subscribe(ctx, Observe(next, func(e error) { err = e }, nil))
	select {
	case <-sub.Done():
		return err
	case <-ctx.Done():
		sub.Unsubscribe()
		return ctx.Err()
	}
}
