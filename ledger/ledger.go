// SPDX-License-Identifier: ISC
// Copyright (c) 2020-2026 Ecovault Authors
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package ledger - locked access to holder balances
//
// All single-holder mutations go through this package so the per-key
// lock and the journal write stay together. Multi-holder operations
// take their own locks and use the raw backend, see the transfer
// package.
package ledger

import (
	"math"
	"sync"
	"time"

	"github.com/bitmark-inc/logger"

	"github.com/ecovault/ecovaultd/currency"
	"github.com/ecovault/ecovaultd/fault"
	"github.com/ecovault/ecovaultd/holder"
	"github.com/ecovault/ecovaultd/locking"
	"github.com/ecovault/ecovaultd/storage"
)

// globals for this module
type globalDataType struct {
	sync.RWMutex

	log   *logger.L
	store storage.Provider
	now   func() int64

	initialised bool
}

var globalData globalDataType

// Initialise - bind the ledger to a storage backend
func Initialise(store storage.Provider) error {
	globalData.Lock()
	defer globalData.Unlock()

	if globalData.initialised {
		return fault.ErrAlreadyInitialised
	}

	globalData.log = logger.New("ledger")
	globalData.log.Info("starting…")

	globalData.store = store
	globalData.now = func() int64 {
		return time.Now().UnixMilli()
	}

	globalData.initialised = true
	return nil
}

// Finalise - release the backend binding
func Finalise() error {
	if !globalData.initialised {
		return fault.ErrNotInitialised
	}

	globalData.log.Info("shutting down…")
	globalData.log.Flush()

	globalData.Lock()
	globalData.store = nil
	globalData.initialised = false
	globalData.Unlock()
	return nil
}

// Store - the bound backend, for modules that manage their own locks
func Store() storage.Provider {
	globalData.RLock()
	defer globalData.RUnlock()
	return globalData.store
}

func validAmount(amount float64) bool {
	return !math.IsNaN(amount) && !math.IsInf(amount, 0) && amount >= 0
}

// Balance - current balance, zero for never-seen holders
func Balance(id holder.ID, c currency.Code) float64 {
	store := Store()
	if nil == store {
		return 0
	}
	return store.Balance(id, c)
}

// SetBalance - overwrite a balance, journalling the delta
func SetBalance(id holder.ID, c currency.Code, amount float64) error {
	if !validAmount(amount) {
		return fault.ErrInvalidAmount
	}
	store := Store()
	if nil == store {
		return fault.ErrNotInitialised
	}

	lock := locking.Holder(id)
	lock.Lock()
	defer lock.Unlock()

	previous := store.Balance(id, c)
	store.SetBalance(id, c, amount)
	journal(store, id, c, amount-previous)
	return nil
}

// Deposit - add to a balance, creating the account on first use
func Deposit(id holder.ID, c currency.Code, amount float64) error {
	if !validAmount(amount) {
		return fault.ErrInvalidAmount
	}
	store := Store()
	if nil == store {
		return fault.ErrNotInitialised
	}

	lock := locking.Holder(id)
	lock.Lock()
	defer lock.Unlock()

	store.Deposit(id, c, amount)
	journal(store, id, c, amount)
	return nil
}

// Withdraw - conditionally remove from a balance
//
// false result means insufficient funds; the balance is unchanged and
// nothing is journalled
func Withdraw(id holder.ID, c currency.Code, amount float64) (bool, error) {
	if !validAmount(amount) {
		return false, fault.ErrInvalidAmount
	}
	store := Store()
	if nil == store {
		return false, fault.ErrNotInitialised
	}

	lock := locking.Holder(id)
	lock.Lock()
	defer lock.Unlock()

	if !store.TryWithdraw(id, c, amount) {
		return false, nil
	}
	journal(store, id, c, -amount)
	return true, nil
}

// AllBalances - every known balance in one currency
func AllBalances(c currency.Code) map[holder.ID]float64 {
	store := Store()
	if nil == store {
		return map[holder.ID]float64{}
	}
	return store.AllBalances(c)
}

// Transactions - journal records, most recent first
func Transactions(id holder.ID, c currency.Code) []storage.Transaction {
	store := Store()
	if nil == store {
		return nil
	}
	return store.Transactions(id, c)
}

// Timestamp - current journal timestamp in milliseconds
func Timestamp() int64 {
	globalData.RLock()
	defer globalData.RUnlock()
	if nil == globalData.now {
		return time.Now().UnixMilli()
	}
	return globalData.now()
}

// caller holds the per-holder lock
func journal(store storage.Provider, id holder.ID, c currency.Code, delta float64) {
	if 0 == delta {
		return
	}
	store.LogTransaction(storage.Transaction{
		Holder:    id,
		Currency:  c,
		Amount:    delta,
		Timestamp: Timestamp(),
	})
}
