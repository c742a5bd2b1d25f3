// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/hillview"
	"github.com/grailbio/hillview/sketches"
	"github.com/grailbio/testutil/assert"
)

func writeFiles(t *testing.T, n int) (dir string, lines int) {
	t.Helper()
	dir = t.TempDir()
	for i := 0; i < n; i++ {
		var b strings.Builder
		for j := 0; j <= i; j++ {
			fmt.Fprintf(&b, "file %d line %d\n", i, j)
			lines++
		}
		path := filepath.Join(dir, fmt.Sprintf("part-%02d.txt", i))
		if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "README"), []byte("skip me\n"), 0644); err != nil {
		t.Fatal(err)
	}
	return dir, lines
}

func TestFiles(t *testing.T) {
	ctx := context.Background()
	dir, nlines := writeFiles(t, 5)
	paths, err := List(ctx, dir, ".txt")
	assert.NoError(t, err)
	if got, want := len(paths), 5; got != want {
		t.Fatalf("got %v, want %v: %v", got, want, paths)
	}
	l := Files{Paths: paths}
	var children []hillview.DataSet
	for shard := 0; shard < 2; shard++ {
		ds, err := hillview.Load(ctx, l, shard, 2, nil)
		assert.NoError(t, err)
		children = append(children, ds)
	}
	if got, want := children[0].(*hillview.ParallelDataSet).Size(), 3; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	ds := hillview.NewParallelDataSet(children)
	lengths, err := hillview.BlockingMap(ctx, ds, sketches.Lengths{})
	assert.NoError(t, err)
	count, err := hillview.BlockingSketch(ctx, lengths, sketches.Count{})
	assert.NoError(t, err)
	assert.EQ(t, count, nlines)
}

func TestFilesMissing(t *testing.T) {
	l := Files{Paths: []string{filepath.Join(t.TempDir(), "missing")}}
	if _, err := l.Load(context.Background(), 0, 1); err == nil {
		t.Error("expected error")
	}
}
