// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package hillview_test

import (
	"context"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/hillview"
	"github.com/grailbio/hillview/hillviewtest"
	"github.com/grailbio/hillview/sketches"
	"github.com/grailbio/testutil/assert"
)

type unregistered struct{ N int }

func (unregistered) Map(_ context.Context, data interface{}) (interface{}, error) { return data, nil }

type scale struct {
	Factor int
}

func (s *scale) Map(_ context.Context, data interface{}) (interface{}, error) {
	return data.(int) * s.Factor, nil
}

func init() {
	hillview.RegisterOp("hillview_test.scale", (*scale)(nil))
}

func TestOpEncoding(t *testing.T) {
	for _, op := range []interface{}{
		sketches.Sum{},
		sketches.AddConst{N: 3},
		sketches.Split{Parts: 7},
		&scale{Factor: 4},
		hillviewtest.Fail{Message: "planned"},
	} {
		p, err := hillview.EncodeOp(op)
		assert.NoError(t, err)
		got, err := hillview.DecodeOp(p)
		assert.NoError(t, err)
		assert.EQ(t, got, op)
	}
}

func TestOpUnregistered(t *testing.T) {
	_, err := hillview.EncodeOp(unregistered{1})
	if !errors.Is(errors.NotSupported, err) {
		t.Errorf("expected unsupported error, got %v", err)
	}
	// Operations on remote datasets fail through the stream.
	ds := hillview.NewRemoteDataSet("localhost:1", 0)
	_, err = hillview.BlockingMap(context.Background(), ds, unregistered{1})
	if !errors.Is(errors.NotSupported, err) {
		t.Errorf("expected unsupported error, got %v", err)
	}
}

func TestRegisterOpDuplicate(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	hillview.RegisterOp("sketches.Sum", unregistered{})
}

func TestValueEncoding(t *testing.T) {
	for _, v := range []interface{}{
		42,
		int32(7),
		[]int{1, 2, 3},
		hillview.Pair{First: 1, Second: []int{2}},
		hillview.StatusList{{Host: "h", Result: "ok"}},
	} {
		p, err := hillview.EncodeValue(v)
		assert.NoError(t, err)
		got, err := hillview.DecodeValue(p)
		assert.NoError(t, err)
		assert.EQ(t, got, v)
	}
}
