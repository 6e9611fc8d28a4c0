// SPDX-License-Identifier: ISC
// Copyright (c) 2020-2026 Ecovault Authors
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package storage

import (
	"github.com/ecovault/ecovaultd/currency"
	"github.com/ecovault/ecovaultd/holder"
)

// Provider - the operations every backend must supply
//
// All calls are blocking and safe for concurrent use; an adapter
// whose underlying handle is not concurrency safe guards it with its
// own internal mutex.  No method here takes a lock from the locking
// package - that is the caller's job - so any method may be called
// while an account lock is held.
type Provider interface {

	// Init - create schema/tables/indexes; safe to call on an
	// already-initialised store.  Failure is fatal to startup.
	Init() error

	// Load - open or refresh the live connection
	Load() error

	// Shutdown - release all resources
	Shutdown()

	// IsConnected - best-effort liveness; true for a loaded
	// file-backed store, a real probe for networked backends
	IsConnected() bool

	// holder balances; a missing record reads as 0 and a record is
	// only created on first write
	Balance(id holder.ID, c currency.Code) float64
	SetBalance(id holder.ID, c currency.Code, amount float64)
	TryWithdraw(id holder.ID, c currency.Code, amount float64) bool
	Deposit(id holder.ID, c currency.Code, amount float64)
	AllBalances(c currency.Code) map[holder.ID]float64

	// journal; Transactions returns most-recent-first and may be
	// re-read at any time
	LogTransaction(tx Transaction)
	Transactions(id holder.ID, c currency.Code) []Transaction

	// bank accounts, keyed by case-sensitive unique name
	CreateBank(name string, owner holder.ID) bool
	DeleteBank(name string) bool
	BankExists(name string) bool
	BankBalance(name string, c currency.Code) float64
	SetBankBalance(name string, c currency.Code, amount float64)
	TryWithdrawBank(name string, c currency.Code, amount float64) bool
	DepositBank(name string, c currency.Code, amount float64)
	Banks() []string
	IsBankOwner(name string, id holder.ID) bool
	IsBankMember(name string, id holder.ID) bool
	AddBankMember(name string, id holder.ID) bool
	RemoveBankMember(name string, id holder.ID) bool
	BankMembers(name string) []holder.ID

	// maintenance primitives; Holders lists every stored holder
	// identifier, RemoveHolder deletes one holder's balances and
	// journal and reports whether anything was removed
	Holders() []holder.ID
	RemoveHolder(id holder.ID) bool
}
