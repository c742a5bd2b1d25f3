// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/grailbio/base/backgroundcontext"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/hillview"
	"github.com/grailbio/hillview/server"
	"github.com/prometheus/client_golang/prometheus"
)

func serve(st *status.Status, args []string) error {
	var (
		flags   = flag.NewFlagSet("serve", flag.ExitOnError)
		addr    = flags.String("addr", fmt.Sprintf(":%d", DefaultPort), "address on which to serve")
		shard   = flags.Int("shard", 0, "the shard of the dataset to load")
		nshard  = flags.Int("nshard", 1, "number of shards of the dataset")
		expiry  = flags.Duration("expiry", server.DefaultExpiry, "period after which unused datasets are removed")
		memoize = flags.Bool("memoize", true, "memoize results")
		bundle  = flags.Duration("bundle", hillview.DefaultBundleInterval, "interval at which partial results are bundled")
		lflags  loaderFlags
	)
	lflags.register(flags)
	flags.Usage = func() {
		fmt.Fprintln(os.Stderr, `usage: hillview serve [-addr addr] [-shard N -nshard M] [-seq N | -files prefix]`)
		flags.PrintDefaults()
		os.Exit(2)
	}
	if err := flags.Parse(args); err != nil {
		log.Fatal(err)
	}
	l, err := lflags.loader()
	if err != nil {
		return err
	}
	ctx := backgroundcontext.Get()
	start := time.Now()
	ds, err := hillview.Load(ctx, l, *shard, *nshard, []hillview.ParallelOption{hillview.BundleInterval(*bundle)})
	if err != nil {
		return err
	}
	log.Printf("loaded shard %d/%d of %v: %d partitions in %s", *shard, *nshard, l, ds.Size(), time.Since(start))

	s := server.New(
		server.Expiry(*expiry),
		server.Memoize(*memoize),
		server.Status(st),
		server.Registerer(prometheus.DefaultRegisterer),
	)
	s.Register(ds)
	serveAddr, err := s.Start(*addr)
	if err != nil {
		return err
	}
	log.Printf("serving %s", serveAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	log.Printf("received %v: shutting down", <-sig)
	s.Shutdown()
	return nil
}
