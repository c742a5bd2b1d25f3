// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package wire defines the messages exchanged between a remote dataset
// proxy and the Hillview server that hosts the dataset, together with
// the gRPC plumbing that carries them.
//
// A call carries exactly one Request. The server answers with a
// stream of Partial frames terminated by either a Complete or an
// Error frame. The client may send a cancel message at any time; a
// disconnect has the same effect.
package wire

import (
	"fmt"

	"github.com/grailbio/base/errors"
)

// Version is the protocol version carried in every request. Servers
// reject requests with a different version.
const Version = 1

// Kind is the kind of operation requested.
type Kind int32

const (
	// Map applies a transform to every partition.
	Map Kind = iota + 1
	// FlatMap applies a transform that splits every partition.
	FlatMap
	// Sketch runs a reduction over all partitions.
	Sketch
	// Zip pairs the partitions of two datasets hosted by the
	// same server.
	Zip
	// Manage runs a control message over the dataset tree.
	Manage
)

func (k Kind) String() string {
	switch k {
	case Map:
		return "map"
	case FlatMap:
		return "flatmap"
	case Sketch:
		return "sketch"
	case Zip:
		return "zip"
	case Manage:
		return "manage"
	default:
		return fmt.Sprintf("kind(%d)", int32(k))
	}
}

// A Request describes one operation against a dataset hosted by a
// server.
type Request struct {
	// Version is the protocol version; see Version.
	Version int32
	// ID identifies the operation on the server, so that it may be
	// cancelled by id.
	ID string
	// TargetIndex is the server-side handle of the dataset to operate on.
	TargetIndex int32
	// Kind is the requested operation.
	Kind Kind
	// Payload is the encoded operation (transform, reduction, or
	// control message). It is empty for zips.
	Payload []byte
	// SecondTargetIndex is the handle of the second operand of a
	// zip. It is meaningful only when HasSecond is set.
	SecondTargetIndex int32
	HasSecond         bool
}

func (r *Request) String() string {
	if r.HasSecond {
		return fmt.Sprintf("%s #%d,#%d [%s]", r.Kind, r.TargetIndex, r.SecondTargetIndex, r.ID)
	}
	return fmt.Sprintf("%s #%d [%s]", r.Kind, r.TargetIndex, r.ID)
}

// A ClientMessage is sent from the client to the server. The first
// message of a call carries the request; a later message may ask
// the server to cancel it.
type ClientMessage struct {
	Request *Request
	Cancel  bool
}

// FrameType distinguishes the frames of a response stream.
type FrameType int32

const (
	// Partial carries one partial result.
	Partial FrameType = iota + 1
	// Complete terminates a successful stream.
	Complete
	// Error terminates a failed stream.
	Error
)

// A Frame is one element of a response stream.
type Frame struct {
	Type FrameType

	// ValuePresent tells whether Value carries an encoded value.
	// Progress-only partial results have no value.
	ValuePresent bool
	Value        []byte
	DoneFraction float64

	// ErrorKind and Message describe the error of an Error frame.
	ErrorKind int32
	Message   string
}

// CompleteFrame is the frame that terminates a successful stream.
var CompleteFrame = &Frame{Type: Complete}

// ErrorFrame returns the frame that terminates a stream failed by
// err. The error's kind is preserved so that the receiver can
// reconstruct an error of the same kind.
func ErrorFrame(err error) *Frame {
	e := errors.Recover(err)
	stripped := *e
	stripped.Kind = errors.Other
	return &Frame{
		Type:      Error,
		ErrorKind: int32(e.Kind),
		Message:   stripped.Error(),
	}
}

// Err returns the error described by an Error frame.
func (f *Frame) Err() error {
	return errors.E(errors.Kind(f.ErrorKind), f.Message)
}

func (f *Frame) String() string {
	switch f.Type {
	case Partial:
		return fmt.Sprintf("partial(value=%v, done=%g)", f.ValuePresent, f.DoneFraction)
	case Complete:
		return "complete"
	case Error:
		return fmt.Sprintf("error(%s)", f.Message)
	default:
		return fmt.Sprintf("frame(%d)", int32(f.Type))
	}
}
