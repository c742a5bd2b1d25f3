// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

/*
	Package hillview implements the core of a distributed dataset
	engine. A dataset is a tree of partitions: leaves hold a single
	partition in memory (LocalDataSet), interior nodes fan operations
	out to their children (ParallelDataSet), and proxies forward
	operations to a dataset hosted by another process (RemoteDataSet).

	Datasets support a small algebra of operations. Map and FlatMap
	transform every partition, yielding a new dataset of the same
	shape; Sketch runs a reduction over every partition and combines
	the per-partition results; Zip pairs the partitions of two datasets
	of identical shape; and Manage runs a control message over every
	node of the tree.

	Every operation returns a cold Stream of PartialResults. Nothing
	happens until the stream is subscribed. A subscribed stream emits
	partial results, each carrying an incremental value and the
	fraction of the work completed since the previous result, and then
	terminates with either a completion or an error. Consumers
	accumulate a sketch's values with the sketch's own Add, starting
	from its Zero; the progress fractions of a stream sum to 1.
	Unsubscribing a stream cancels the work behind it, across
	processes.

	Because Go cannot ship code across process boundaries, the
	transforms, reductions, and control messages sent to remote
	datasets must be registered with RegisterOp, and the values they
	produce with RegisterValue, in every participating binary. Both
	should be called from init functions.

	Package server hosts datasets for remote access; package cluster
	brings up a set of servers with bigmachine.
*/
package hillview
