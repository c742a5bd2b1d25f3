// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package hillview

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

// A ControlMessage is an administrative action applied to every
// node of a dataset tree by Manage. Each action returns the node's
// status, or nil if the node has nothing to report. Actions run on
// the node's host: remote actions on the client side of a proxy,
// local actions in the process holding the partition.
type ControlMessage interface {
	LocalAction(ds *LocalDataSet) *Status
	ParallelAction(ds *ParallelDataSet) *Status
	RemoteAction(ds *RemoteDataSet) *Status
}

// A Status reports the outcome of a control message at one node.
type Status struct {
	// Host is the host name of the process that ran the action.
	Host string
	// Result is a free-form description of the outcome.
	Result string
	// Err describes the failure of the action, if any.
	Err string
}

// NewStatus returns a status for the current host. A non-nil err is
// recorded as the status's error.
func NewStatus(result string, err error) *Status {
	s := &Status{Host: hostname(), Result: result}
	if err != nil {
		s.Err = err.Error()
	}
	return s
}

func (s Status) String() string {
	if s.Err != "" {
		return fmt.Sprintf("%s: %s (error: %s)", s.Host, s.Result, s.Err)
	}
	return fmt.Sprintf("%s: %s", s.Host, s.Result)
}

// A StatusList is the result of Manage. Status lists combine by
// concatenation.
type StatusList []Status

func (l StatusList) String() string {
	strs := make([]string, len(l))
	for i, s := range l {
		strs[i] = s.String()
	}
	return strings.Join(strs, "\n")
}

// statusListOf returns a list containing s, which may be nil.
func statusListOf(s *Status) StatusList {
	if s == nil {
		return StatusList{}
	}
	return StatusList{*s}
}

// addStatusLists concatenates two status lists.
func addStatusLists(a, b interface{}) (interface{}, error) {
	var la, lb StatusList
	if a != nil {
		la = a.(StatusList)
	}
	if b != nil {
		lb = b.(StatusList)
	}
	out := make(StatusList, 0, len(la)+len(lb))
	out = append(out, la...)
	return append(out, lb...), nil
}

var (
	hostOnce sync.Once
	host     string
)

func hostname() string {
	hostOnce.Do(func() {
		var err error
		host, err = os.Hostname()
		if err != nil {
			host = "localhost"
		}
	})
	return host
}
