// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/grailbio/base/backgroundcontext"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/retry"
	"github.com/grailbio/base/status"
	"github.com/grailbio/hillview"
	"github.com/grailbio/hillview/server"
	"github.com/grailbio/hillview/sketches"
)

var readyPolicy = retry.MaxRetries(retry.Backoff(time.Second, 5*time.Second, 1.5), 10)

func query(st *status.Status, cmd string, args []string) error {
	var (
		flags  = flag.NewFlagSet(cmd, flag.ExitOnError)
		addrs  = flags.String("addrs", fmt.Sprintf("localhost:%d", DefaultPort), "comma-separated list of server addresses")
		index  = flags.Int("index", int(server.RootIndex), "the handle of the dataset on each server")
		text   = flags.Bool("text", false, "the servers hold text; query the lengths of its lines")
		bundle = flags.Duration("bundle", hillview.DefaultBundleInterval, "interval at which partial results are bundled")
	)
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: hillview %s [-addrs host:port,...] [-index N] [-text]\n", cmd)
		flags.PrintDefaults()
		os.Exit(2)
	}
	if err := flags.Parse(args); err != nil {
		log.Fatal(err)
	}
	list := splitAddrs(*addrs)
	if len(list) == 0 {
		return errors.E(errors.Invalid, "no server addresses")
	}
	ctx := backgroundcontext.Get()
	children := make([]hillview.DataSet, len(list))
	for i, addr := range list {
		remote := hillview.NewRemoteDataSet(addr, int32(*index))
		if err := waitReady(ctx, remote); err != nil {
			return err
		}
		children[i] = remote
	}
	ds := hillview.NewParallelDataSet(children, hillview.BundleInterval(*bundle))
	v, err := run(ctx, st, ds, cmd, *text)
	if err != nil {
		return err
	}
	fmt.Println(v)
	return nil
}

// waitReady waits until the server hosting ds answers requests.
func waitReady(ctx context.Context, ds *hillview.RemoteDataSet) error {
	for retries := 0; ; retries++ {
		_, err := hillview.BlockingManage(ctx, ds, sketches.Ping{})
		if err == nil || !errors.Is(errors.Net, err) {
			return err
		}
		log.Printf("%s: not ready: %v", ds, err)
		if err := retry.Wait(ctx, readyPolicy, retries); err != nil {
			return err
		}
	}
}

// run computes the sum or count of the integers in ds, reporting
// progress in st. Text datasets are first mapped to line lengths.
func run(ctx context.Context, st *status.Status, ds hillview.DataSet, cmd string, text bool) (interface{}, error) {
	var red hillview.Reduction
	switch cmd {
	case "sum":
		red = sketches.Sum{}
	case "count":
		red = sketches.Count{}
	default:
		return nil, errors.E(errors.NotSupported, fmt.Sprintf("unknown query %s", cmd))
	}
	task := st.Group("hillview").Startf("%s %s", cmd, ds)
	defer task.Done()
	if text {
		task.Print("mapping lines")
		var err error
		ds, err = hillview.BlockingMap(ctx, ds, sketches.Lengths{})
		if err != nil {
			return nil, err
		}
	}
	var (
		start    = time.Now()
		acc      = red.Zero()
		progress float64
		addErr   error
		err      error
		nresult  int
	)
	sub := ds.Sketch(red).Subscribe(ctx, hillview.Observe(
		func(pr hillview.PartialResult) {
			nresult++
			progress += pr.DoneFraction
			if pr.Value != nil && addErr == nil {
				acc, addErr = red.Add(acc, pr.Value)
			}
			task.Printf("%.1f%%: %v", 100*progress, acc)
			log.Debug.Printf("%s: partial result %d: %s", cmd, nresult, pr)
		},
		func(e error) { err = e },
		nil,
	))
	<-sub.Done()
	if err == nil {
		err = addErr
	}
	if err != nil {
		return nil, err
	}
	log.Printf("%s: %v (%d partial results in %s)", cmd, acc, nresult, time.Since(start))
	return acc, nil
}
