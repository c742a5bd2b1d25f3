// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package loader

import (
	"bufio"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/hillview"
)

func init() {
	hillview.RegisterValue(Files{})
}

// Files loads text files, one partition of type []string per file,
// holding the file's lines. Files are assigned to shards round-robin.
// Paths may name any file implementation registered with
// github.com/grailbio/base/file.
type Files struct {
	Paths []string
}

// Load implements hillview.Loader.
func (f Files) Load(ctx context.Context, shard, numShards int) ([]interface{}, error) {
	if numShards <= 0 || shard < 0 || shard >= numShards {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("loader.Files: invalid shard %d of %d", shard, numShards))
	}
	var parts []interface{}
	for i := shard; i < len(f.Paths); i += numShards {
		lines, err := readLines(ctx, f.Paths[i])
		if err != nil {
			return nil, err
		}
		parts = append(parts, lines)
	}
	return parts, nil
}

func (f Files) String() string {
	return fmt.Sprintf("files(%d)", len(f.Paths))
}

func readLines(ctx context.Context, path string) (lines []string, err error) {
	log.Debug.Printf("loader: reading %s", path)
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := in.Close(ctx); err == nil {
			err = cerr
		}
	}()
	scan := bufio.NewScanner(in.Reader(ctx))
	scan.Buffer(nil, 1<<20)
	for scan.Scan() {
		lines = append(lines, scan.Text())
	}
	if err := scan.Err(); err != nil {
		return nil, errors.E(fmt.Sprintf("read %s", path), err)
	}
	return lines, nil
}

// List returns, in lexicographic order, the paths under prefix that
// have the given suffix.
func List(ctx context.Context, prefix, suffix string) ([]string, error) {
	var paths []string
	lst := file.List(ctx, prefix)
	for lst.Scan() {
		if strings.HasSuffix(lst.Path(), suffix) {
			paths = append(paths, lst.Path())
		}
	}
	if err := lst.Err(); err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}
