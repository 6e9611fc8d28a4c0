// SPDX-License-Identifier: ISC
// Copyright (c) 2020-2026 Ecovault Authors
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package storage - the ledger backend contract
//
// A backend stores multi-currency balances for holder accounts and
// shared bank accounts plus an append-only transaction journal.
// Exactly one backend is active per deployment, chosen by
// configuration at startup; the concrete implementations live in the
// sub-packages:
//
//	flatfile  one JSON document per holder / bank
//	ldb       embedded leveldb key-value store
//	sqlite    embedded SQL database file
//	postgres  client-server SQL database
//	mongodb   document database
//
// All balance reads return 0 for a missing record; business outcomes
// (insufficient funds, duplicate bank, not a member) are boolean
// results, never errors.  Backend faults are logged inside the adapter
// and surface as the zero/false result so a transient outage can never
// leave a half-applied write.
//
// TryWithdraw and TryWithdrawBank are the only conditional mutations:
// each adapter must implement them as one atomic check-and-decrement
// relative to its own backend (a conditional UPDATE, a find-and-modify
// with a >= filter, or an adapter-internal critical section for plain
// files).  This is what prevents double spending underneath the
// per-account locks of the locking package.
package storage
