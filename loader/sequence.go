// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package loader provides reference dataset loaders.
package loader

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/hillview"
)

func init() {
	hillview.RegisterValue(Sequence{})
}

// Sequence loads the integers [Start, Start+Count). The sequence is
// divided evenly among shards; each shard is further divided into
// Partitions partitions of type []int.
type Sequence struct {
	Start, Count int
	// Partitions is the number of partitions per shard. At least one
	// partition is loaded.
	Partitions int
}

// Load implements hillview.Loader.
func (s Sequence) Load(ctx context.Context, shard, numShards int) ([]interface{}, error) {
	if s.Count < 0 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("loader.Sequence: negative count %d", s.Count))
	}
	if numShards <= 0 || shard < 0 || shard >= numShards {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("loader.Sequence: invalid shard %d of %d", shard, numShards))
	}
	beg, end := split(s.Count, shard, numShards)
	nparts := s.Partitions
	if nparts < 1 {
		nparts = 1
	}
	parts := make([]interface{}, nparts)
	for i := range parts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pbeg, pend := split(end-beg, i, nparts)
		p := make([]int, pend-pbeg)
		for j := range p {
			p[j] = s.Start + beg + pbeg + j
		}
		parts[i] = p
	}
	return parts, nil
}

// String returns a description of the sequence.
func (s Sequence) String() string {
	return fmt.Sprintf("sequence[%d,%d)/%d", s.Start, s.Start+s.Count, s.Partitions)
}

// split returns the range of the i'th of n near-equal pieces of
// [0, count).
func split(count, i, n int) (beg, end int) {
	return count * i / n, count * (i + 1) / n
}
