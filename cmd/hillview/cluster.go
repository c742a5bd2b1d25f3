// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/grailbio/base/backgroundcontext"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigmachine"
	"github.com/grailbio/bigmachine/ec2system"
	"github.com/grailbio/hillview"
	"github.com/grailbio/hillview/cluster"
)

func runCluster(st *status.Status, args []string) error {
	var (
		flags    = flag.NewFlagSet("cluster", flag.ExitOnError)
		system   = flags.String("system", "local", "bigmachine system: local or ec2")
		instance = flags.String("instance", "m5.xlarge", "EC2 instance type")
		n        = flags.Int("n", 4, "number of machines")
		what     = flags.String("query", "sum", "query to run: sum or count")
		bundle   = flags.Duration("bundle", hillview.DefaultBundleInterval, "interval at which partial results are bundled")
		lflags   loaderFlags
	)
	lflags.register(flags)
	flags.Usage = func() {
		fmt.Fprintln(os.Stderr, `usage: hillview cluster [-system local|ec2] [-n N] [-query sum|count] [-seq N | -files prefix]`)
		flags.PrintDefaults()
		os.Exit(2)
	}
	if err := flags.Parse(args); err != nil {
		log.Fatal(err)
	}
	var sys bigmachine.System
	switch *system {
	case "local":
		sys = bigmachine.Local
	case "ec2":
		sys = &ec2system.System{InstanceType: *instance}
	default:
		return errors.E(errors.Invalid, fmt.Sprintf("unknown system %s", *system))
	}
	b := bigmachine.Start(sys)
	defer b.Shutdown()
	b.HandleDebug(http.DefaultServeMux)

	l, err := lflags.loader()
	if err != nil {
		return err
	}
	ctx := backgroundcontext.Get()
	c, err := cluster.Start(ctx, b, st.Group("machines"), *n, l, []hillview.ParallelOption{hillview.BundleInterval(*bundle)})
	if err != nil {
		return err
	}
	defer c.Shutdown()
	v, err := run(ctx, st, c.DataSet(), *what, lflags.isText())
	if err != nil {
		return err
	}
	fmt.Println(v)
	vals, err := c.Stats(ctx)
	if err != nil {
		return err
	}
	for i, m := range c.Machines() {
		log.Printf("%s: %s", m.Addr, vals[i])
	}
	return nil
}
