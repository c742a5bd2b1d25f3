// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package hillview

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/hillview/wire"
	"google.golang.org/grpc"
)

// A RemoteDataSet is a proxy for a dataset hosted by a Hillview
// server. It is identified by the server's address and the dataset's
// handle on that server; handle 0 names the server's root dataset.
//
// Operations are forwarded to the server, one call per subscription.
// Map, FlatMap, and Zip yield new remote datasets on the same server.
// Unsubscribing cancels the call, which cancels the operation on the
// server.
type RemoteDataSet struct {
	addr  string
	index int32
	conns *ConnCache
}

// A RemoteOption configures a RemoteDataSet. Datasets derived from a
// remote dataset inherit its options.
type RemoteOption func(*RemoteDataSet)

// Conns sets the connection cache used to reach the server. By
// default remote datasets share a process-wide cache.
func Conns(c *ConnCache) RemoteOption {
	return func(r *RemoteDataSet) {
		r.conns = c
	}
}

// NewRemoteDataSet returns a proxy for the dataset with the provided
// handle on the server at addr.
func NewRemoteDataSet(addr string, index int32, opts ...RemoteOption) *RemoteDataSet {
	r := &RemoteDataSet{addr: addr, index: index, conns: defaultConns}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Addr returns the address of the server hosting the dataset.
func (r *RemoteDataSet) Addr() string { return r.addr }

// Index returns the dataset's handle on its server.
func (r *RemoteDataSet) Index() int32 { return r.index }

func (r *RemoteDataSet) String() string {
	return fmt.Sprintf("remote(%s#%d)", r.addr, r.index)
}

func (*RemoteDataSet) dataSet() {}

// Map implements DataSet.
func (r *RemoteDataSet) Map(t Transform) *Stream {
	return r.call(wire.Map, t, nil, r.decodeDataSet)
}

// FlatMap implements DataSet.
func (r *RemoteDataSet) FlatMap(t FlatTransform) *Stream {
	return r.call(wire.FlatMap, t, nil, r.decodeDataSet)
}

// Sketch implements DataSet.
func (r *RemoteDataSet) Sketch(s Reduction) *Stream {
	return r.call(wire.Sketch, s, nil, DecodeValue)
}

// Zip implements DataSet. The other dataset must be hosted by the
// same server; the server checks the shapes of both datasets.
func (r *RemoteDataSet) Zip(other DataSet) *Stream {
	o, ok := other.(*RemoteDataSet)
	if !ok {
		return errorStream(topologyError("zip: cannot zip remote dataset with %s", other))
	}
	if o.addr != r.addr {
		return errorStream(topologyError("zip: datasets live on different servers %s and %s", r.addr, o.addr))
	}
	return r.call(wire.Zip, nil, &o.index, r.decodeDataSet)
}

// Manage implements DataSet. The remote action runs locally, before
// the message is forwarded to the server; its status is emitted with
// no progress.
func (r *RemoteDataSet) Manage(m ControlMessage) *Stream {
	s := r.call(wire.Manage, m, nil, DecodeValue)
	src := s.source
	s.source = func(ctx context.Context, sub *Subscription) error {
		if st := m.RemoteAction(r); st != nil {
			_ = sub.emit(PartialResult{Value: statusListOf(st), DoneFraction: 0})
		}
		return src(ctx, sub)
	}
	return s
}

func (r *RemoteDataSet) decodeDataSet(p []byte) (interface{}, error) {
	v, err := DecodeValue(p)
	if err != nil {
		return nil, err
	}
	index, ok := v.(int32)
	if !ok {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("%s: expected a dataset handle, got %T", r, v))
	}
	return &RemoteDataSet{addr: r.addr, index: index, conns: r.conns}, nil
}

// call returns a stream that performs the operation on the server.
// Each subscription is a separate call with its own operation id.
func (r *RemoteDataSet) call(kind wire.Kind, op interface{}, second *int32, decode func([]byte) (interface{}, error)) *Stream {
	proto := wire.Request{
		Version:     wire.Version,
		TargetIndex: r.index,
		Kind:        kind,
	}
	if op != nil {
		payload, err := EncodeOp(op)
		if err != nil {
			return errorStream(err)
		}
		proto.Payload = payload
	}
	if second != nil {
		proto.SecondTargetIndex, proto.HasSecond = *second, true
	}
	return newStream(func(ctx context.Context, sub *Subscription) error {
		req := proto
		req.ID = uuid.New().String()
		conn, err := r.conns.Get(r.addr)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithCancel(ctx)
		var once sync.Once
		hangup := func() { once.Do(cancel) }
		defer hangup()
		sub.onUnsubscribe(hangup)

		stream, err := wire.Execute(ctx, conn, &req)
		if err != nil {
			return r.transportError(ctx, &req, err)
		}
		for {
			f, err := stream.Recv()
			if err == io.EOF {
				return errors.E(errors.Net, fmt.Sprintf("%s: %s: stream ended without a terminal frame", r, &req))
			}
			if err != nil {
				return r.transportError(ctx, &req, err)
			}
			switch f.Type {
			case wire.Partial:
				pr := PartialResult{DoneFraction: f.DoneFraction}
				if f.ValuePresent {
					if pr.Value, err = decode(f.Value); err != nil {
						return err
					}
				}
				if err := sub.emit(pr); err != nil {
					return err
				}
			case wire.Complete:
				return nil
			case wire.Error:
				return f.Err()
			default:
				return errors.E(errors.Invalid, fmt.Sprintf("%s: %s: unexpected frame %s", r, &req, f))
			}
		}
	})
}

func (r *RemoteDataSet) transportError(ctx context.Context, req *wire.Request, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	log.Error.Printf("%s: %s: %v", r, req, err)
	return errors.E(errors.Net, fmt.Sprintf("%s: %s", r, req), err)
}

var defaultConns = NewConnCache()

// A ConnCache maintains one client connection per server address.
// Connections are established lazily and shared by all datasets
// using the cache.
type ConnCache struct {
	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
	opts  []grpc.DialOption
}

// NewConnCache returns an empty connection cache. The provided dial
// options are applied to every connection.
func NewConnCache(opts ...grpc.DialOption) *ConnCache {
	return &ConnCache{conns: make(map[string]*grpc.ClientConn), opts: opts}
}

// Get returns the connection to addr, creating it if needed.
func (c *ConnCache) Get(addr string) (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conn := c.conns[addr]; conn != nil {
		return conn, nil
	}
	conn, err := wire.Dial(addr, c.opts...)
	if err != nil {
		return nil, errors.E(errors.Net, fmt.Sprintf("dial %s", addr), err)
	}
	c.conns[addr] = conn
	return conn, nil
}

// Close closes every connection in the cache.
func (c *ConnCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var err error
	for addr, conn := range c.conns {
		if cerr := conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
		delete(c.conns, addr)
	}
	return err
}
