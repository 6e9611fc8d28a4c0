// SPDX-License-Identifier: ISC
// Copyright (c) 2020-2026 Ecovault Authors
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package background - run short tasks in the background
//
// Starts a list of background workers and waits for them all to
// terminate when stopping.
package background

// Background - the interface a background worker must implement
type Background interface {
	Run(args interface{}, shutdown <-chan struct{})
}

// Processes - list of workers to start
type Processes []Background

// T - handle for the started set
type T struct {
	finished chan struct{}
	shutdown chan struct{}
	count    int
}

// Start - run a set of background workers
func Start(processes Processes, args interface{}) *T {

	register := &T{
		finished: make(chan struct{}),
		shutdown: make(chan struct{}),
		count:    len(processes),
	}

	for _, p := range processes {
		go func(p Background) {
			p.Run(args, register.shutdown)
			register.finished <- struct{}{}
		}(p)
	}

	return register
}

// Stop - shut down the workers and wait for them to finish
func (t *T) Stop() {
	if nil == t {
		return
	}

	close(t.shutdown)

	for i := 0; i < t.count; i += 1 {
		<-t.finished
	}
}
