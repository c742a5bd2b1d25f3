// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package hillview

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
)

// A Loader produces the partitions of one shard of a dataset. A
// dataset is split into numShards shards, typically one per server;
// Load returns the partitions of the given shard.
//
// Loaders are sent to the servers that load them, so implementations
// must be registered with RegisterValue.
type Loader interface {
	Load(ctx context.Context, shard, numShards int) ([]interface{}, error)
}

// Load loads a shard with l and returns a parallel dataset with one
// local child per partition.
func Load(ctx context.Context, l Loader, shard, numShards int, popts []ParallelOption, lopts ...LocalOption) (*ParallelDataSet, error) {
	if numShards <= 0 || shard < 0 || shard >= numShards {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("hillview.Load: invalid shard %d of %d", shard, numShards))
	}
	parts, err := l.Load(ctx, shard, numShards)
	if err != nil {
		return nil, err
	}
	children := make([]DataSet, len(parts))
	for i, p := range parts {
		children[i] = NewLocalDataSet(p, lopts...)
	}
	return NewParallelDataSet(children, popts...), nil
}
