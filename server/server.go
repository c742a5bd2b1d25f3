// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package server implements the Hillview server: a process that hosts
// datasets and executes operations on them on behalf of remote
// clients.
//
// A server's datasets are named by integer handles. Datasets
// registered with Register are roots; the first root has handle
// RootIndex. The datasets produced by remote map, flatmap, and zip
// operations are registered under fresh handles and expire once they
// have not been accessed for the server's expiry period. Completed
// results may be memoized, so that repeated requests are answered
// without recomputation.
package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grailbio/base/diagnostic/dump"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/eventlog"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/hillview"
	"github.com/grailbio/hillview/ctxsync"
	"github.com/grailbio/hillview/stats"
	"github.com/grailbio/hillview/wire"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
)

// DefaultExpiry is the default period after which an unused derived
// dataset is removed.
const DefaultExpiry = 2 * time.Hour

var nextServerIndex int32

// A Server hosts datasets for remote access. It implements
// wire.Handler.
type Server struct {
	index      int32
	registry   *registry
	memo       *memoCache
	memoize    int32
	expiry     time.Duration
	maxMemo    int
	status     *status.Group
	eventer    eventlog.Eventer
	registerer prometheus.Registerer
	stats      *stats.Map

	mu     sync.Mutex
	cond   *ctxsync.Cond
	active map[string]*hillview.Subscription
	grpc   *grpc.Server
	stop   chan struct{}
}

// An Option configures a Server.
type Option func(s *Server)

// Memoize enables or disables memoization of results. Memoization is
// enabled by default.
func Memoize(on bool) Option {
	return func(s *Server) {
		s.setMemoize(on)
	}
}

// Expiry sets the period after which an unused derived dataset is
// removed. An expiry of zero disables expiration.
func Expiry(d time.Duration) Option {
	if d < 0 {
		panic("server.Expiry: d < 0")
	}
	return func(s *Server) {
		s.expiry = d
	}
}

// MaxMemoized bounds the number of memoized results.
func MaxMemoized(n int) Option {
	if n <= 0 {
		panic("server.MaxMemoized: n <= 0")
	}
	return func(s *Server) {
		s.maxMemo = n
	}
}

// Status configures the server to report running operations to st.
func Status(st *status.Status) Option {
	return func(s *Server) {
		s.status = st.Groupf("hillview server %02d", s.index)
	}
}

// Eventer configures the server with an Eventer to which operation
// events are logged (for analytics).
func Eventer(e eventlog.Eventer) Option {
	return func(s *Server) {
		s.eventer = e
	}
}

// Registerer registers the server's counters with r.
func Registerer(r prometheus.Registerer) Option {
	return func(s *Server) {
		s.registerer = r
	}
}

// New returns a new server with no datasets.
func New(opts ...Option) *Server {
	s := &Server{
		index:    atomic.AddInt32(&nextServerIndex, 1) - 1,
		registry: newRegistry(),
		memoize:  1,
		expiry:   DefaultExpiry,
		maxMemo:  DefaultMaxMemoized,
		eventer:  eventlog.Nop{},
		stats:    stats.NewMap(),
		active:   make(map[string]*hillview.Subscription),
		stop:     make(chan struct{}),
	}
	s.cond = ctxsync.NewCond(&s.mu)
	for _, opt := range opts {
		opt(s)
	}
	s.memo = newMemoCache(s.maxMemo)
	if s.registerer != nil {
		s.registerer.MustRegister(stats.NewCollector("hillview_server", s.stats))
	}
	dump.Register(fmt.Sprintf("hillview-%02d-datasets", s.index), func(ctx context.Context, w io.Writer) error {
		return s.registry.dump(w, time.Now())
	})
	return s
}

// Register registers a root dataset and returns its handle. Root
// datasets never expire. The first root dataset registered with a
// server has handle RootIndex.
func (s *Server) Register(ds hillview.DataSet) int32 {
	index := s.registry.add(ds, true, time.Now())
	log.Printf("hillview: registered root dataset %d: %s", index, ds)
	return index
}

// Lookup returns the dataset with the provided handle.
func (s *Server) Lookup(index int32) (hillview.DataSet, bool) {
	return s.registry.get(index, time.Now())
}

// Unregister removes the dataset with the provided handle. It reports
// whether the dataset was registered.
func (s *Server) Unregister(index int32) bool {
	return s.registry.remove(index)
}

// DeleteAll removes every derived dataset and purges memoized
// results. Root datasets are kept. It returns the number of datasets
// removed.
func (s *Server) DeleteAll() int {
	n := s.registry.removeDerived()
	s.memo.purge()
	s.stats.Int("evicted").Add(int64(n))
	return n
}

// PurgeMemoized removes every memoized result and returns the number
// removed.
func (s *Server) PurgeMemoized() int {
	return s.memo.purge()
}

// Memoizing tells whether memoization is enabled.
func (s *Server) Memoizing() bool {
	return atomic.LoadInt32(&s.memoize) != 0
}

// ToggleMemoization flips memoization and returns the new setting.
// Disabling memoization purges memoized results.
func (s *Server) ToggleMemoization() bool {
	for {
		old := atomic.LoadInt32(&s.memoize)
		if atomic.CompareAndSwapInt32(&s.memoize, old, 1-old) {
			if old == 1 {
				s.memo.purge()
			}
			return old == 0
		}
	}
}

func (s *Server) setMemoize(on bool) {
	var v int32
	if on {
		v = 1
	}
	atomic.StoreInt32(&s.memoize, v)
}

// Expire removes the derived datasets that have not been accessed
// within the server's expiry period as of now. It returns the number
// of datasets removed.
func (s *Server) Expire(now time.Time) int {
	if s.expiry == 0 {
		return 0
	}
	expired := s.registry.expire(now, s.expiry)
	if len(expired) > 0 {
		log.Debug.Printf("hillview: expired datasets %v", expired)
		s.stats.Int("evicted").Add(int64(len(expired)))
	}
	return len(expired)
}

// Cancel unsubscribes the running operation with the provided id. It
// reports whether the operation was running.
func (s *Server) Cancel(id string) bool {
	s.mu.Lock()
	sub := s.active[id]
	s.mu.Unlock()
	if sub == nil {
		return false
	}
	sub.Unsubscribe()
	return true
}

// Stats returns a snapshot of the server's counters, together with
// the current number of datasets, memoized results, and running
// operations.
func (s *Server) Stats() stats.Values {
	vals := s.stats.Snapshot()
	vals["datasets"] = int64(s.registry.len())
	vals["memoized"] = int64(s.memo.len())
	s.mu.Lock()
	vals["active"] = int64(len(s.active))
	s.mu.Unlock()
	return vals
}

// Drain waits until no operations are running, or until ctx is done.
func (s *Server) Drain(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cond.Until(ctx, func() bool { return len(s.active) == 0 })
}

func (s *Server) track(id string, sub *hillview.Subscription) {
	s.mu.Lock()
	s.active[id] = sub
	s.mu.Unlock()
}

func (s *Server) untrack(id string, sub *hillview.Subscription) {
	s.mu.Lock()
	if s.active[id] == sub {
		delete(s.active, id)
	}
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Serve serves Hillview calls on lis until the server is shut down.
// Serve also expires unused datasets. Serve closes lis and fails if
// the server is already serving or has been shut down.
func (s *Server) Serve(lis net.Listener) error {
	g, err := s.prepare()
	if err != nil {
		lis.Close()
		return err
	}
	log.Printf("hillview: serving on %s", lis.Addr())
	return g.Serve(lis)
}

// Start listens on addr and serves Hillview calls in the background.
// It returns the address on which the server listens, which differs
// from addr when addr leaves the port unspecified.
func (s *Server) Start(addr string) (string, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return "", errors.E(errors.Net, fmt.Sprintf("listen %s", addr), err)
	}
	// The gRPC server exists before Start returns, so that a
	// subsequent Shutdown stops it.
	g, err := s.prepare()
	if err != nil {
		lis.Close()
		return "", err
	}
	log.Printf("hillview: serving on %s", lis.Addr())
	go func() {
		if err := g.Serve(lis); err != nil && err != grpc.ErrServerStopped {
			log.Error.Printf("hillview: serve %s: %v", lis.Addr(), err)
		}
	}()
	return lis.Addr().String(), nil
}

// prepare creates and registers the server's gRPC server and starts
// the expiry loop.
func (s *Server) prepare() (*grpc.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.stop:
		return nil, errors.E(errors.Invalid, "hillview: server is shut down")
	default:
	}
	if s.grpc != nil {
		return nil, errors.E(errors.Exists, "hillview: server already serving")
	}
	s.grpc = wire.NewServer()
	wire.Register(s.grpc, s)
	if s.expiry > 0 {
		go s.expireLoop()
	}
	return s.grpc, nil
}

// Shutdown stops the server. Running operations are cancelled.
func (s *Server) Shutdown() {
	s.mu.Lock()
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	g := s.grpc
	s.mu.Unlock()
	if g != nil {
		g.Stop()
	}
}

func (s *Server) expireLoop() {
	interval := s.expiry / 4
	if interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			s.Expire(now)
		case <-s.stop:
			return
		}
	}
}
