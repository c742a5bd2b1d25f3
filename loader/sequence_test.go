// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package loader

import (
	"context"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/hillview"
	"github.com/grailbio/hillview/sketches"
	"github.com/grailbio/testutil/assert"
)

func TestSequence(t *testing.T) {
	ctx := context.Background()
	seq := Sequence{Start: 5, Count: 103, Partitions: 4}
	var (
		all  []int
		sum  int
		want int
	)
	for i := 5; i < 108; i++ {
		want += i
	}
	const nshard = 3
	for shard := 0; shard < nshard; shard++ {
		ds, err := hillview.Load(ctx, seq, shard, nshard, []hillview.ParallelOption{hillview.BundleInterval(0)})
		assert.NoError(t, err)
		if got, want := ds.Size(), 4; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
		v, err := hillview.BlockingSketch(ctx, ds, sketches.Sum{})
		assert.NoError(t, err)
		sum += v.(int)
		parts, err := seq.Load(ctx, shard, nshard)
		assert.NoError(t, err)
		for _, p := range parts {
			all = append(all, p.([]int)...)
		}
	}
	assert.EQ(t, sum, want)
	if got, want := len(all), 103; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i, v := range all {
		if got, want := v, 5+i; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
	}
}

func TestSequenceInvalid(t *testing.T) {
	ctx := context.Background()
	for _, c := range []struct {
		seq       Sequence
		shard, of int
	}{
		{Sequence{Count: -1}, 0, 1},
		{Sequence{Count: 1}, 1, 1},
		{Sequence{Count: 1}, 0, 0},
	} {
		_, err := c.seq.Load(ctx, c.shard, c.of)
		if !errors.Is(errors.Invalid, err) {
			t.Errorf("%s shard %d of %d: expected invalid error, got %v", c.seq, c.shard, c.of, err)
		}
	}
}

func TestSequenceEncoding(t *testing.T) {
	var l hillview.Loader = Sequence{Start: 1, Count: 2, Partitions: 3}
	p, err := hillview.EncodeValue(l)
	assert.NoError(t, err)
	v, err := hillview.DecodeValue(p)
	assert.NoError(t, err)
	assert.EQ(t, v, l)
}
