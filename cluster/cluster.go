// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package cluster brings up Hillview servers on bigmachine machines.
// Each machine runs a server that loads one shard of a dataset; the
// driver sees the cluster as a parallel dataset of remote datasets,
// one per machine.
package cluster

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigmachine"
	"github.com/grailbio/hillview"
	"github.com/grailbio/hillview/server"
	"github.com/grailbio/hillview/stats"
	"golang.org/x/sync/errgroup"
)

// LoadRequest asks a machine to load one shard of a dataset.
type LoadRequest struct {
	Loader           hillview.Loader
	Shard, NumShards int
}

// LoadReply tells the driver where a loaded shard is served.
type LoadReply struct {
	Port  int
	Index int32
}

// service is the bigmachine service that hosts a Hillview server on
// each machine.
type service struct {
	// Exported just satisfies gob's persnickety nature: we need at least
	// one exported field.
	Exported struct{}

	mu     sync.Mutex
	server *server.Server
	port   int
}

func (s *service) Init(b *bigmachine.B) error {
	s.server = server.New()
	addr, err := s.server.Start(":0")
	if err != nil {
		return err
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	s.port, err = strconv.Atoi(port)
	return err
}

// Load loads the requested shard and registers it as a root dataset of
// the machine's server.
func (s *service) Load(ctx context.Context, req LoadRequest, reply *LoadReply) error {
	if req.Loader == nil {
		return errors.E(errors.Invalid, "cluster: no loader")
	}
	ds, err := hillview.Load(ctx, req.Loader, req.Shard, req.NumShards, nil)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	reply.Index = s.server.Register(ds)
	reply.Port = s.port
	log.Printf("cluster: loaded shard %d/%d (%d partitions) as dataset %d", req.Shard, req.NumShards, ds.Size(), reply.Index)
	return nil
}

// Stats returns the server's counters.
func (s *service) Stats(ctx context.Context, _ struct{}, vals *stats.Values) error {
	*vals = s.server.Stats()
	return nil
}

// A Cluster is a set of machines, each serving one shard of a
// dataset.
type Cluster struct {
	machines []*bigmachine.Machine
	data     *hillview.ParallelDataSet
}

// Start starts n machines on b and loads one shard of l on each of
// them. Start fails if any machine fails to start or load; machines
// that were started are then stopped. Params are passed on to
// bigmachine.
func Start(ctx context.Context, b *bigmachine.B, group *status.Group, n int, l hillview.Loader, popts []hillview.ParallelOption, params ...bigmachine.Param) (*Cluster, error) {
	if n <= 0 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("cluster: invalid machine count %d", n))
	}
	params = append([]bigmachine.Param{bigmachine.Services{"Hillview": &service{}}}, params...)
	machines, err := b.Start(ctx, n, params...)
	if err != nil {
		return nil, err
	}
	c := &Cluster{machines: machines}
	children := make([]hillview.DataSet, len(machines))
	g, gctx := errgroup.WithContext(ctx)
	for i := range machines {
		i, m := i, machines[i]
		g.Go(func() error {
			var task *status.Task
			if group != nil {
				task = group.Startf("shard %d", i)
				defer task.Done()
				task.Print("waiting for machine to boot")
			}
			select {
			case <-m.Wait(bigmachine.Running):
			case <-gctx.Done():
				return gctx.Err()
			}
			if err := m.Err(); err != nil {
				return errors.E(fmt.Sprintf("machine %s failed to start", m.Addr), err)
			}
			if task != nil {
				task.Title(m.Addr)
				task.Print("loading")
			}
			req := LoadRequest{Loader: l, Shard: i, NumShards: len(machines)}
			var reply LoadReply
			if err := m.RetryCall(gctx, "Hillview.Load", req, &reply); err != nil {
				return errors.E(fmt.Sprintf("load shard %d on %s", i, m.Addr), err)
			}
			addr, err := serverAddr(m.Addr, reply.Port)
			if err != nil {
				return err
			}
			log.Printf("cluster: shard %d served at %s/%d", i, addr, reply.Index)
			children[i] = hillview.NewRemoteDataSet(addr, reply.Index)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		c.Shutdown()
		return nil, err
	}
	c.data = hillview.NewParallelDataSet(children, popts...)
	return c, nil
}

// DataSet returns the cluster's dataset.
func (c *Cluster) DataSet() *hillview.ParallelDataSet {
	return c.data
}

// Machines returns the cluster's machines.
func (c *Cluster) Machines() []*bigmachine.Machine {
	return c.machines
}

// Stats returns the server counters of each machine.
func (c *Cluster) Stats(ctx context.Context) ([]stats.Values, error) {
	vals := make([]stats.Values, len(c.machines))
	g, ctx := errgroup.WithContext(ctx)
	for i := range c.machines {
		i := i
		g.Go(func() error {
			return c.machines[i].Call(ctx, "Hillview.Stats", struct{}{}, &vals[i])
		})
	}
	return vals, g.Wait()
}

// Shutdown stops the cluster's machines.
func (c *Cluster) Shutdown() {
	for _, m := range c.machines {
		m.Cancel()
	}
}

// serverAddr returns the address of the Hillview server listening on
// port on the machine with the given bigmachine address.
func serverAddr(machine string, port int) (string, error) {
	u, err := url.Parse(machine)
	if err != nil {
		return "", errors.E(errors.Invalid, fmt.Sprintf("cluster: machine address %s", machine), err)
	}
	host := u.Hostname()
	if host == "" {
		return "", errors.E(errors.Invalid, fmt.Sprintf("cluster: machine address %s has no host", machine))
	}
	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}
