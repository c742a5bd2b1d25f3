// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package stats

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMap(t *testing.T) {
	m := NewMap()
	ops := m.Int("operations")
	m.Int("errors")
	ops.Add(3)
	m.Int("operations").Add(2)
	vals := m.Snapshot()
	if got, want := len(vals), 2; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := vals["operations"], int64(5); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := vals.String(), "errors:0 operations:5"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	var nilInt *Int
	nilInt.Add(1)
	if got, want := nilInt.Get(), int64(0); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestCollector(t *testing.T) {
	m := NewMap()
	m.Int("frames").Add(7)
	m.Int("memo-hits").Add(1)
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector("hillview", m))
	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	metrics := make(map[string]float64)
	for _, f := range families {
		metrics[f.GetName()] = f.GetMetric()[0].GetUntyped().GetValue()
	}
	if got, want := metrics["hillview_frames"], 7.0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := metrics["hillview_memo_hits"], 1.0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
