// SPDX-License-Identifier: ISC
// Copyright (c) 2020-2026 Ecovault Authors
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package locking - process wide per-account lock registry
//
// One mutex per logical account, created on first use and kept for the
// life of the process.  Every component that mutates a balance must
// take the account's lock from here; the registry is what serialises a
// transfer against a plain deposit on the same holder.
//
// Holder identifiers and bank names are separate key spaces with
// separate tables, so a bank can never alias a holder.
//
// The tables grow monotonically.  Each entry is a bare mutex, and the
// key space is bounded by the real holder/bank population, so no
// reclamation is attempted.
package locking

import (
	"sync"

	"github.com/ecovault/ecovaultd/holder"
)

var holderLocks sync.Map // holder.ID -> *sync.Mutex
var bankLocks sync.Map   // string -> *sync.Mutex

// Holder - the mutex for one holder account
//
// The same identifier always yields the same mutex.
func Holder(id holder.ID) *sync.Mutex {
	if l, ok := holderLocks.Load(id); ok {
		return l.(*sync.Mutex)
	}
	l, _ := holderLocks.LoadOrStore(id, &sync.Mutex{})
	return l.(*sync.Mutex)
}

// Bank - the mutex for one bank account
func Bank(name string) *sync.Mutex {
	if l, ok := bankLocks.Load(name); ok {
		return l.(*sync.Mutex)
	}
	l, _ := bankLocks.LoadOrStore(name, &sync.Mutex{})
	return l.(*sync.Mutex)
}
