// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package hillview

import (
	"fmt"

	"github.com/grailbio/base/errors"
)

// A DataSet is a tree of partitions. It is one of *LocalDataSet,
// *ParallelDataSet, or *RemoteDataSet.
//
// Operations return cold streams: no work is performed until the
// returned stream is subscribed. Failures, including user code
// failures and topology errors, are reported through the stream.
type DataSet interface {
	// Map applies t to every partition. The stream's final value
	// is the resulting dataset, which has the same shape as the
	// receiver.
	Map(t Transform) *Stream
	// FlatMap applies t to every partition. Each partition is
	// replaced by a parallel dataset of the partitions returned by
	// t.
	FlatMap(t FlatTransform) *Stream
	// Sketch runs r over every partition. The stream's values are
	// summaries to be combined with r.Add.
	Sketch(r Reduction) *Stream
	// Zip pairs the partitions of the receiver with those of
	// other, which must have the same shape. The resulting
	// partitions are Pairs.
	Zip(other DataSet) *Stream
	// Manage runs m over every node of the tree. The stream's
	// values are StatusLists.
	Manage(m ControlMessage) *Stream

	String() string

	dataSet()
}

// A Pair is the partition produced by zipping two partitions.
type Pair struct {
	First, Second interface{}
}

// IsTopology tells whether err is a topology error: an operation
// applied to datasets of mismatched shapes or kinds, or to a handle
// that does not exist.
func IsTopology(err error) bool {
	return errors.Is(errors.Invalid, err) || errors.Is(errors.NotExist, err)
}

func topologyError(format string, args ...interface{}) error {
	return errors.E(errors.Invalid, fmt.Sprintf(format, args...))
}

// sameShape returns a topology error if a and b do not have the same
// shape. Remote datasets are compared by their hosts only; their
// shapes are checked by the server that hosts them.
func sameShape(a, b DataSet) error {
	switch a := a.(type) {
	case *LocalDataSet:
		if _, ok := b.(*LocalDataSet); !ok {
			return topologyError("zip: cannot zip local dataset with %s", b)
		}
	case *ParallelDataSet:
		bp, ok := b.(*ParallelDataSet)
		if !ok {
			return topologyError("zip: cannot zip parallel dataset with %s", b)
		}
		if len(a.children) != len(bp.children) {
			return topologyError("zip: mismatched sizes %d and %d", len(a.children), len(bp.children))
		}
		for i := range a.children {
			if err := sameShape(a.children[i], bp.children[i]); err != nil {
				return err
			}
		}
	case *RemoteDataSet:
		br, ok := b.(*RemoteDataSet)
		if !ok {
			return topologyError("zip: cannot zip remote dataset with %s", b)
		}
		if a.addr != br.addr {
			return topologyError("zip: datasets live on different servers %s and %s", a.addr, br.addr)
		}
	default:
		panic(fmt.Sprintf("hillview: unknown dataset %T", a))
	}
	return nil
}
