// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package stats

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// A Collector exports the counters of a Map as Prometheus metrics.
// Each counter becomes an untyped metric named
// <namespace>_<counter>. Since counters are created on demand, the
// collector is unchecked: it describes no metrics up front.
type Collector struct {
	namespace string
	m         *Map
}

// NewCollector returns a collector for the counters of m.
func NewCollector(namespace string, m *Map) *Collector {
	return &Collector{namespace: namespace, m: m}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	vals := c.m.Snapshot()
	for _, name := range vals.Keys() {
		desc := prometheus.NewDesc(
			prometheus.BuildFQName(c.namespace, "", metricName(name)),
			"Hillview counter "+name+".",
			nil, nil,
		)
		ch <- prometheus.MustNewConstMetric(desc, prometheus.UntypedValue, float64(vals[name]))
	}
}

// metricName replaces the characters of a counter name that are not
// valid in a metric name.
func metricName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
