// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package wire

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/grailbio/base/errors"
)

func TestErrorFrame(t *testing.T) {
	for _, err := range []error{
		errors.E(errors.NotExist, "dataset 7 is not registered"),
		errors.E(errors.Invalid, "zip: shape mismatch"),
		errors.E("plain failure"),
	} {
		f := ErrorFrame(err)
		if got, want := f.Type, Error; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
		got := f.Err()
		if !errors.Match(err, got) {
			t.Errorf("error %v did not survive the frame: got %v", err, got)
		}
		if got, want := errors.Recover(got).Kind, errors.Recover(err).Kind; got != want {
			t.Errorf("got kind %v, want %v", got, want)
		}
	}
}

func TestCodec(t *testing.T) {
	var c codec
	want := &ClientMessage{
		Request: &Request{
			Version:           Version,
			ID:                "op",
			TargetIndex:       3,
			Kind:              Zip,
			SecondTargetIndex: 4,
			HasSecond:         true,
		},
	}
	b, err := c.Marshal(want)
	if err != nil {
		t.Fatal(err)
	}
	got := new(ClientMessage)
	if err := c.Unmarshal(b, got); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("message mismatch (-want +got):\n%s", diff)
	}
	if err := c.Unmarshal([]byte("garbage"), got); !errors.Is(errors.Invalid, err) {
		t.Errorf("expected invalid error, got %v", err)
	}
}

func TestKindString(t *testing.T) {
	for kind, want := range map[Kind]string{
		Map:      "map",
		FlatMap:  "flatmap",
		Sketch:   "sketch",
		Zip:      "zip",
		Manage:   "manage",
		Kind(99): "kind(99)",
	} {
		if got := kind.String(); got != want {
			t.Errorf("got %v, want %v", got, want)
		}
	}
}
