// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package server

import (
	"fmt"

	"github.com/grailbio/hillview"
)

func init() {
	hillview.RegisterOp("server.DeleteAll", DeleteAll{})
	hillview.RegisterOp("server.PurgeMemoized", PurgeMemoized{})
	hillview.RegisterOp("server.ToggleMemoization", ToggleMemoization{})
	hillview.RegisterOp("server.GetStats", GetStats{})
	hillview.RegisterOp("server.Unregister", Unregister{})
	hillview.RegisterOp("server.CancelOperation", CancelOperation{})
}

// A Message is a control message with an action performed by the
// server that receives it, in addition to the actions performed at
// every node of the target dataset.
type Message interface {
	hillview.ControlMessage
	ServerAction(s *Server) *hillview.Status
}

// nodeActions implements the dataset actions of control messages that
// act on servers only.
type nodeActions struct{}

func (nodeActions) LocalAction(*hillview.LocalDataSet) *hillview.Status       { return nil }
func (nodeActions) ParallelAction(*hillview.ParallelDataSet) *hillview.Status { return nil }
func (nodeActions) RemoteAction(*hillview.RemoteDataSet) *hillview.Status     { return nil }

// DeleteAll removes every derived dataset from the server, and purges
// its memoized results.
type DeleteAll struct{ nodeActions }

// ServerAction implements Message.
func (DeleteAll) ServerAction(s *Server) *hillview.Status {
	return hillview.NewStatus(fmt.Sprintf("deleted %d datasets", s.DeleteAll()), nil)
}

// PurgeMemoized purges the server's memoized results.
type PurgeMemoized struct{ nodeActions }

// ServerAction implements Message.
func (PurgeMemoized) ServerAction(s *Server) *hillview.Status {
	return hillview.NewStatus(fmt.Sprintf("purged %d results", s.PurgeMemoized()), nil)
}

// ToggleMemoization flips the server's memoization setting.
type ToggleMemoization struct{ nodeActions }

// ServerAction implements Message.
func (ToggleMemoization) ServerAction(s *Server) *hillview.Status {
	if s.ToggleMemoization() {
		return hillview.NewStatus("memoization on", nil)
	}
	return hillview.NewStatus("memoization off", nil)
}

// GetStats reports the server's counters.
type GetStats struct{ nodeActions }

// ServerAction implements Message.
func (GetStats) ServerAction(s *Server) *hillview.Status {
	return hillview.NewStatus(s.Stats().String(), nil)
}

// Unregister removes the dataset with handle Index from the server.
type Unregister struct {
	Index int32
	nodeActions
}

// ServerAction implements Message.
func (u Unregister) ServerAction(s *Server) *hillview.Status {
	if !s.Unregister(u.Index) {
		return hillview.NewStatus(fmt.Sprintf("dataset %d not registered", u.Index), nil)
	}
	return hillview.NewStatus(fmt.Sprintf("unregistered dataset %d", u.Index), nil)
}

// CancelOperation cancels the running operation with the provided
// ID.
type CancelOperation struct {
	ID string
	nodeActions
}

// ServerAction implements Message.
func (c CancelOperation) ServerAction(s *Server) *hillview.Status {
	if !s.Cancel(c.ID) {
		return hillview.NewStatus(fmt.Sprintf("operation %s not running", c.ID), nil)
	}
	return hillview.NewStatus(fmt.Sprintf("cancelled operation %s", c.ID), nil)
}
