// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package server

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/hillview"
	"github.com/grailbio/hillview/wire"
)

// Execute implements wire.Handler. It runs the requested operation
// and relays its partial results to the client, followed by a
// terminal frame. The operation is cancelled if the client sends a
// cancel message or disconnects; no terminal frame is sent in that
// case.
func (s *Server) Execute(stream wire.ServerStream) error {
	msg, err := stream.Recv()
	if err != nil {
		return err
	}
	if msg.Request == nil {
		return stream.Send(wire.ErrorFrame(errors.E(errors.Invalid, "hillview: call carries no request")))
	}
	req := msg.Request
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	ctx, cancel := context.WithCancel(stream.Context())
	defer cancel()
	// gone is set once the client has asked for cancellation or gone
	// away.
	var gone int32
	go s.watch(req, stream, cancel, &gone)

	s.stats.Int("operations").Add(1)
	s.stats.Int(req.Kind.String()).Add(1)
	s.eventer.Event("hillview:operation",
		"id", req.ID,
		"kind", req.Kind.String(),
		"target", req.TargetIndex)
	var task *status.Task
	if s.status != nil {
		task = s.status.Startf("%s", req)
		defer task.Done()
	}
	// The operation stays active until its terminal frame is sent.
	var sub *hillview.Subscription
	defer func() {
		if sub != nil {
			s.untrack(req.ID, sub)
		}
	}()
	start := time.Now()
	err = s.execute(ctx, req, stream, cancel, task, &sub)
	switch {
	case err != nil && (atomic.LoadInt32(&gone) != 0 || stream.Context().Err() != nil):
		s.stats.Int("cancelled").Add(1)
		log.Debug.Printf("hillview: %s: cancelled after %s", req, time.Since(start))
		return nil
	case err != nil:
		s.stats.Int("errors").Add(1)
		log.Error.Printf("hillview: %s: %v", req, err)
		return stream.Send(wire.ErrorFrame(err))
	default:
		log.Debug.Printf("hillview: %s: completed in %s", req, time.Since(start))
		return stream.Send(wire.CompleteFrame)
	}
}

// watch reads the client's messages after the request, cancelling
// the operation on a cancel message or a broken stream.
func (s *Server) watch(req *wire.Request, stream wire.ServerStream, cancel context.CancelFunc, gone *int32) {
	for {
		msg, err := stream.Recv()
		if err != nil {
			if err != io.EOF {
				atomic.StoreInt32(gone, 1)
				cancel()
			}
			return
		}
		if msg.Cancel {
			log.Debug.Printf("hillview: %s: cancel requested", req)
			atomic.StoreInt32(gone, 1)
			cancel()
			return
		}
	}
}

func (s *Server) execute(ctx context.Context, req *wire.Request, stream wire.ServerStream, cancel context.CancelFunc, task *status.Task, tracked **hillview.Subscription) error {
	if req.Version != wire.Version {
		return errors.E(errors.NotSupported, fmt.Sprintf("hillview: protocol version %d, want %d", req.Version, wire.Version))
	}
	target, ok := s.registry.get(req.TargetIndex, time.Now())
	if !ok {
		return errors.E(errors.NotExist, fmt.Sprintf("hillview: dataset %d is not registered", req.TargetIndex))
	}
	memoize := s.Memoizing() && req.Kind != wire.Manage
	var key memoKey
	if memoize {
		key = keyOf(req)
		if m, ok := s.memo.get(key); ok {
			valid := true
			if m.isDataSet {
				// Handing out a memoized handle counts as an access.
				_, valid = s.registry.get(m.index, time.Now())
			}
			if valid {
				s.stats.Int("memo_hits").Add(1)
				return stream.Send(&wire.Frame{
					Type:         wire.Partial,
					ValuePresent: true,
					Value:        m.value,
					DoneFraction: 1,
				})
			}
			s.memo.remove(key)
		}
	}
	var (
		op  interface{}
		err error
	)
	if len(req.Payload) > 0 {
		if op, err = hillview.DecodeOp(req.Payload); err != nil {
			return err
		}
	}
	var (
		results   *hillview.Stream
		reduction hillview.Reduction
		// producesDataSet is set for operations whose result is a
		// dataset, which is registered and returned by handle.
		producesDataSet bool
	)
	switch req.Kind {
	case wire.Map:
		t, ok := op.(hillview.Transform)
		if !ok {
			return opError(req, op)
		}
		results, producesDataSet = target.Map(t), true
	case wire.FlatMap:
		t, ok := op.(hillview.FlatTransform)
		if !ok {
			return opError(req, op)
		}
		results, producesDataSet = target.FlatMap(t), true
	case wire.Zip:
		if !req.HasSecond {
			return errors.E(errors.Invalid, fmt.Sprintf("hillview: %s: zip without a second operand", req))
		}
		second, ok := s.registry.get(req.SecondTargetIndex, time.Now())
		if !ok {
			return errors.E(errors.NotExist, fmt.Sprintf("hillview: dataset %d is not registered", req.SecondTargetIndex))
		}
		results, producesDataSet = target.Zip(second), true
	case wire.Sketch:
		r, ok := op.(hillview.Reduction)
		if !ok {
			return opError(req, op)
		}
		results, reduction = target.Sketch(r), r
	case wire.Manage:
		m, ok := op.(hillview.ControlMessage)
		if !ok {
			return opError(req, op)
		}
		if sm, ok := m.(Message); ok {
			if st := sm.ServerAction(s); st != nil {
				if err := s.sendValue(stream, hillview.StatusList{*st}, 0); err != nil {
					return err
				}
			}
		}
		results = target.Manage(m)
	default:
		return errors.E(errors.NotSupported, fmt.Sprintf("hillview: unsupported operation %s", req.Kind))
	}

	var (
		sendErr   error
		completed bool
		progress  float64
		acc       interface{}
		accErr    error
		index     int32
		hasIndex  bool
	)
	if reduction != nil {
		acc = reduction.Zero()
	}
	sub := results.Subscribe(ctx, hillview.Observe(
		func(pr hillview.PartialResult) {
			if sendErr != nil {
				return
			}
			value := pr.Value
			if value != nil && producesDataSet {
				ds, ok := value.(hillview.DataSet)
				if !ok {
					sendErr = errors.E(errors.Invalid, fmt.Sprintf("hillview: %s produced %T, not a dataset", req, value))
					return
				}
				index, hasIndex = s.registry.add(ds, false, time.Now()), true
				value = index
			}
			if value != nil && reduction != nil && accErr == nil {
				acc, accErr = reduction.Add(acc, value)
			}
			f, err := s.frame(value, pr.DoneFraction)
			if err == nil {
				err = s.send(stream, f)
			}
			if err != nil {
				sendErr = err
				cancel()
				return
			}
			if task != nil {
				progress += pr.DoneFraction
				task.Printf("%.0f%%", 100*progress)
			}
		},
		nil,
		func() { completed = true },
	))
	s.track(req.ID, sub)
	*tracked = sub
	<-sub.Done()

	if sendErr != nil {
		return sendErr
	}
	if err := sub.Err(); err != nil {
		return err
	}
	if !completed {
		return errors.E(errors.Canceled, fmt.Sprintf("hillview: operation %s cancelled", req.ID))
	}
	if !memoize {
		return nil
	}
	switch {
	case reduction != nil && accErr == nil:
		if b, err := hillview.EncodeValue(acc); err == nil {
			s.memo.put(key, memoized{value: b})
		}
	case producesDataSet && hasIndex:
		if b, err := hillview.EncodeValue(index); err == nil {
			s.memo.put(key, memoized{value: b, index: index, isDataSet: true})
		}
	}
	return nil
}

// sendValue sends a partial result frame. A nil value sends
// progress only.
func (s *Server) sendValue(stream wire.ServerStream, value interface{}, done float64) error {
	f, err := s.frame(value, done)
	if err != nil {
		return err
	}
	return s.send(stream, f)
}

// frame encodes a partial result frame.
func (s *Server) frame(value interface{}, done float64) (*wire.Frame, error) {
	f := &wire.Frame{Type: wire.Partial, DoneFraction: done}
	if value != nil {
		b, err := hillview.EncodeValue(value)
		if err != nil {
			return nil, err
		}
		f.ValuePresent, f.Value = true, b
	}
	return f, nil
}

func (s *Server) send(stream wire.ServerStream, f *wire.Frame) error {
	s.stats.Int("frames").Add(1)
	return stream.Send(f)
}

func opError(req *wire.Request, op interface{}) error {
	return errors.E(errors.Invalid, fmt.Sprintf("hillview: %s: %T is not a %s operation", req, op, req.Kind))
}
