// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package server

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/hillview"
	"github.com/grailbio/hillview/sketches"
	"github.com/grailbio/hillview/wire"
	"github.com/grailbio/testutil/assert"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
)

var stalled int32

// stall is a reduction whose Create blocks until cancelled.
type stall struct{ sketches.Sum }

func (stall) Create(ctx context.Context, data interface{}) (interface{}, error) {
	<-ctx.Done()
	atomic.AddInt32(&stalled, 1)
	return nil, ctx.Err()
}

func init() {
	hillview.RegisterOp("server.stall", stall{})
}

func ints(n int) hillview.DataSet {
	children := make([]hillview.DataSet, n)
	for i := range children {
		children[i] = hillview.NewLocalDataSet([]int{i})
	}
	return hillview.NewParallelDataSet(children, hillview.BundleInterval(0))
}

func start(t *testing.T, opts ...Option) (*Server, *wireClient) {
	t.Helper()
	s := New(opts...)
	if got, want := s.Register(ints(4)), RootIndex; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	addr, err := s.Start("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	conn, err := wire.Dial(addr)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		conn.Close()
		s.Shutdown()
	})
	return s, &wireClient{t, conn}
}

type wireClient struct {
	t    *testing.T
	conn *grpc.ClientConn
}

func (c *wireClient) request(kind wire.Kind, op interface{}) *wire.Request {
	c.t.Helper()
	req := &wire.Request{Version: wire.Version, ID: c.t.Name(), Kind: kind}
	if op != nil {
		p, err := hillview.EncodeOp(op)
		if err != nil {
			c.t.Fatal(err)
		}
		req.Payload = p
	}
	return req
}

// collect runs req and returns its frames, up to and including the
// terminal frame.
func (c *wireClient) collect(ctx context.Context, req *wire.Request) []*wire.Frame {
	c.t.Helper()
	stream, err := wire.Execute(ctx, c.conn, req)
	if err != nil {
		c.t.Fatal(err)
	}
	var frames []*wire.Frame
	for {
		f, err := stream.Recv()
		if err != nil {
			c.t.Fatal(err)
		}
		frames = append(frames, f)
		if f.Type != wire.Partial {
			return frames
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestExecuteSketch(t *testing.T) {
	_, c := start(t)
	frames := c.collect(context.Background(), c.request(wire.Sketch, sketches.Sum{}))
	last := frames[len(frames)-1]
	if got, want := last.Type, wire.Complete; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	var (
		sum      int
		progress float64
	)
	for _, f := range frames[:len(frames)-1] {
		progress += f.DoneFraction
		if !f.ValuePresent {
			continue
		}
		v, err := hillview.DecodeValue(f.Value)
		assert.NoError(t, err)
		sum += v.(int)
	}
	assert.EQ(t, sum, 0+1+2+3)
	if progress < 0.999 || progress > 1.001 {
		t.Errorf("progress %v, want 1", progress)
	}
}

func TestExecuteErrors(t *testing.T) {
	ctx := context.Background()
	_, c := start(t)
	for _, test := range []struct {
		req  *wire.Request
		kind errors.Kind
	}{
		{&wire.Request{Version: wire.Version, Kind: wire.Sketch, TargetIndex: 99}, errors.NotExist},
		{&wire.Request{Version: wire.Version + 1, Kind: wire.Sketch}, errors.NotSupported},
		{&wire.Request{Version: wire.Version, Kind: wire.Zip}, errors.Invalid},
		{c.request(wire.Map, sketches.Sum{}), errors.Invalid},
		{&wire.Request{Version: wire.Version, Kind: wire.Map, Payload: []byte("junk")}, errors.Invalid},
	} {
		frames := c.collect(ctx, test.req)
		if got, want := len(frames), 1; got != want {
			t.Errorf("%s: got %v, want %v", test.req, got, want)
			continue
		}
		f := frames[0]
		if got, want := f.Type, wire.Error; got != want {
			t.Errorf("%s: got %v, want %v", test.req, got, want)
			continue
		}
		if !errors.Is(test.kind, f.Err()) {
			t.Errorf("%s: expected error of kind %v, got %v", test.req, test.kind, f.Err())
		}
	}
}

func TestExecuteCancelMessage(t *testing.T) {
	s, c := start(t)
	before := atomic.LoadInt32(&stalled)
	stream, err := wire.Execute(context.Background(), c.conn, c.request(wire.Sketch, stall{}))
	assert.NoError(t, err)
	waitFor(t, "operation to start", func() bool { return s.Stats()["active"] == 1 })
	assert.NoError(t, stream.Cancel())
	waitFor(t, "operation to be cancelled", func() bool { return s.Stats()["cancelled"] == 1 })
	if got, want := atomic.LoadInt32(&stalled)-before, int32(4); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	assert.NoError(t, s.Drain(ctx))
}

func TestCancelOperation(t *testing.T) {
	ctx := context.Background()
	s, c := start(t)
	req := c.request(wire.Sketch, stall{})
	req.ID = "stalled-operation"
	stream, err := wire.Execute(ctx, c.conn, req)
	assert.NoError(t, err)
	waitFor(t, "operation to start", func() bool { return s.Stats()["active"] == 1 })

	manage := c.request(wire.Manage, CancelOperation{ID: "stalled-operation"})
	manage.ID = "canceller"
	frames := c.collect(ctx, manage)
	if got, want := frames[len(frames)-1].Type, wire.Complete; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	v, err := hillview.DecodeValue(frames[0].Value)
	assert.NoError(t, err)
	if got, want := v.(hillview.StatusList)[0].Result, "cancelled operation stalled-operation"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	// The cancelled operation's client is told.
	f, err := stream.Recv()
	assert.NoError(t, err)
	if got, want := f.Type, wire.Error; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	if !errors.Is(errors.Canceled, f.Err()) {
		t.Errorf("expected cancellation, got %v", f.Err())
	}
}

func TestRegistryExpire(t *testing.T) {
	s := New(Expiry(time.Hour))
	now := time.Now()
	root := s.Register(ints(1))
	derived := s.registry.add(ints(2), false, now)
	if derived == root {
		t.Fatal("handle reused")
	}
	if got, want := s.Expire(now.Add(30*time.Minute)), 0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	// Access refreshes the entry.
	s.registry.get(derived, now.Add(50*time.Minute))
	if got, want := s.Expire(now.Add(90*time.Minute)), 0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := s.Expire(now.Add(3*time.Hour)), 1; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if _, ok := s.Lookup(derived); ok {
		t.Error("expired dataset still registered")
	}
	// Roots never expire.
	if _, ok := s.Lookup(root); !ok {
		t.Error("root dataset expired")
	}
	if got, want := s.Stats()["evicted"], int64(1); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestDeleteAll(t *testing.T) {
	s := New()
	root := s.Register(ints(1))
	now := time.Now()
	for i := 0; i < 3; i++ {
		s.registry.add(ints(1), false, now)
	}
	s.memo.put(memoKey{target: root}, memoized{value: []byte("x")})
	if got, want := s.DeleteAll(), 3; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := s.Stats()["datasets"], int64(1); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := s.Stats()["memoized"], int64(0); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if !s.Unregister(root) {
		t.Error("root not registered")
	}
	if s.Unregister(root) {
		t.Error("root unregistered twice")
	}
}

func TestMemoKey(t *testing.T) {
	req := func(payload string, target int32) *wire.Request {
		return &wire.Request{Kind: wire.Sketch, TargetIndex: target, Payload: []byte(payload)}
	}
	if keyOf(req("a", 0)) != keyOf(req("a", 0)) {
		t.Error("equal requests have different keys")
	}
	if keyOf(req("a", 0)) == keyOf(req("b", 0)) {
		t.Error("different payloads have equal keys")
	}
	if keyOf(req("a", 0)) == keyOf(req("a", 1)) {
		t.Error("different targets have equal keys")
	}
	c := newMemoCache(2)
	for i := int32(0); i < 3; i++ {
		c.put(keyOf(req("a", i)), memoized{index: i})
	}
	if got, want := c.len(), 2; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if _, ok := c.get(keyOf(req("a", 0))); ok {
		t.Error("least recently used entry not evicted")
	}
}

func TestToggleMemoization(t *testing.T) {
	s := New(Memoize(false))
	if s.Memoizing() {
		t.Fatal("memoizing")
	}
	if !s.ToggleMemoization() {
		t.Error("expected memoization on")
	}
	if s.ToggleMemoization() {
		t.Error("expected memoization off")
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, c := start(t, Registerer(reg))
	c.collect(context.Background(), c.request(wire.Sketch, sketches.Sum{}))
	families, err := reg.Gather()
	assert.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	joined := strings.Join(names, " ")
	for _, name := range []string{"hillview_server_operations", "hillview_server_frames", "hillview_server_sketch"} {
		if !strings.Contains(joined, name) {
			t.Errorf("missing metric %s in %s", name, joined)
		}
	}
}
