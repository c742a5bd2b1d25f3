// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Command hillview serves datasets and runs queries against them.
package main

import (
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/grailbio/base/backgroundcontext"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/file/s3file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
	"github.com/grailbio/base/status"
	"github.com/grailbio/hillview"
	"github.com/grailbio/hillview/loader"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultPort is the port on which servers listen by default.
const DefaultPort = 3569

func init() {
	file.RegisterImplementation("s3", s3file.NewImplementation(
		s3file.NewDefaultProvider(session.Options{})))
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `usage: hillview [flags] command args...

Command hillview serves datasets and runs queries against them.

Available commands are:

	serve
		Load a shard of a dataset and serve it.
	sum, count
		Sum or count the integers held by a set of servers.
	cluster
		Start servers on a bigmachine cluster and query them.
`)
		flag.PrintDefaults()
		os.Exit(2)
	}
	var (
		httpAddr      = flag.String("http", "", "address on which to serve debug, status and metrics pages")
		consoleStatus = flag.Bool("status", false, "print status to the console")
	)
	log.AddFlags()
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
	}
	st := new(status.Status)
	if *consoleStatus {
		var console status.Reporter
		go console.Go(os.Stdout, st)
	}
	if *httpAddr != "" {
		http.Handle("/debug/status", status.Handler(st))
		http.Handle("/metrics", promhttp.Handler())
		go func() {
			log.Printf("http: serving at %s", *httpAddr)
			if err := http.ListenAndServe(*httpAddr, nil); err != nil {
				log.Error.Printf("http: %v", err)
			}
		}()
	}

	cmd, args := flag.Arg(0), flag.Args()[1:]
	var err error
	switch cmd {
	default:
		fmt.Fprintf(os.Stderr, "unknown command %s\n", cmd)
		flag.Usage()
	case "serve":
		err = serve(st, args)
	case "sum", "count":
		err = query(st, cmd, args)
	case "cluster":
		err = runCluster(st, args)
	}
	must.Nil(err, cmd)
}

// loaderFlags configure the loader of a dataset.
type loaderFlags struct {
	count, partitions int
	files, suffix     string
}

func (l *loaderFlags) register(flags *flag.FlagSet) {
	flags.IntVar(&l.count, "seq", 1e6, "load the integers [0, N)")
	flags.IntVar(&l.partitions, "partitions", 16, "number of partitions per shard")
	flags.StringVar(&l.files, "files", "", "load the text files under this prefix instead of a sequence")
	flags.StringVar(&l.suffix, "suffix", ".txt", "suffix of the files to load")
}

func (l *loaderFlags) loader() (hillview.Loader, error) {
	if l.files == "" {
		return loader.Sequence{Count: l.count, Partitions: l.partitions}, nil
	}
	paths, err := loader.List(backgroundcontext.Get(), l.files, l.suffix)
	if err != nil {
		return nil, err
	}
	log.Printf("loading %d files under %s", len(paths), l.files)
	return loader.Files{Paths: paths}, nil
}

// isText tells whether the datasets loaded by l hold text.
func (l *loaderFlags) isText() bool {
	return l.files != ""
}

func splitAddrs(list string) []string {
	var addrs []string
	for _, addr := range strings.Split(list, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			if !strings.Contains(addr, ":") {
				addr = fmt.Sprintf("%s:%d", addr, DefaultPort)
			}
			addrs = append(addrs, addr)
		}
	}
	return addrs
}
