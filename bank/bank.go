// SPDX-License-Identifier: ISC
// Copyright (c) 2020-2026 Ecovault Authors
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package bank - shared accounts with an owner and a member set
//
// Mutations are keyed by bank name in the lock registry, a key space
// disjoint from holder identifiers. Bank names are case sensitive.
package bank

import (
	"math"
	"sync"

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

	initialised bool
}

var globalData globalDataType

// Initialise - bind the bank ledger to a storage backend
func Initialise(store storage.Provider) error {
	globalData.Lock()
	defer globalData.Unlock()

	if globalData.initialised {
		return fault.ErrAlreadyInitialised
	}

	globalData.log = logger.New("bank")
	globalData.log.Info("starting…")

	globalData.store = store

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

func theStore() storage.Provider {
	globalData.RLock()
	defer globalData.RUnlock()
	return globalData.store
}

func validAmount(amount float64) bool {
	return !math.IsNaN(amount) && !math.IsInf(amount, 0) && amount >= 0
}

// Create - register a new bank with its owner as first member
func Create(name string, owner holder.ID) (bool, error) {
	if "" == name {
		return false, fault.ErrBankNameIsRequired
	}
	store := theStore()
	if nil == store {
		return false, fault.ErrNotInitialised
	}

	lock := locking.Bank(name)
	lock.Lock()
	defer lock.Unlock()

	return store.CreateBank(name, owner), nil
}

// Delete - remove a bank, its balances and its member set
func Delete(name string) bool {
	store := theStore()
	if nil == store {
		return false
	}

	lock := locking.Bank(name)
	lock.Lock()
	defer lock.Unlock()

	return store.DeleteBank(name)
}

// Exists - true if the bank has been created
func Exists(name string) bool {
	store := theStore()
	if nil == store {
		return false
	}
	return store.BankExists(name)
}

// Balance - a bank's balance in one currency
func Balance(name string, c currency.Code) float64 {
	store := theStore()
	if nil == store {
		return 0
	}
	return store.BankBalance(name, c)
}

// SetBalance - overwrite a bank balance
func SetBalance(name string, c currency.Code, amount float64) error {
	if !validAmount(amount) {
		return fault.ErrInvalidAmount
	}
	store := theStore()
	if nil == store {
		return fault.ErrNotInitialised
	}

	lock := locking.Bank(name)
	lock.Lock()
	defer lock.Unlock()

	store.SetBankBalance(name, c, amount)
	return nil
}

// Deposit - add to a bank balance
func Deposit(name string, c currency.Code, amount float64) error {
	if !validAmount(amount) {
		return fault.ErrInvalidAmount
	}
	store := theStore()
	if nil == store {
		return fault.ErrNotInitialised
	}

	lock := locking.Bank(name)
	lock.Lock()
	defer lock.Unlock()

	store.DepositBank(name, c, amount)
	return nil
}

// Withdraw - conditionally remove from a bank balance
func Withdraw(name string, c currency.Code, amount float64) (bool, error) {
	if !validAmount(amount) {
		return false, fault.ErrInvalidAmount
	}
	store := theStore()
	if nil == store {
		return false, fault.ErrNotInitialised
	}

	lock := locking.Bank(name)
	lock.Lock()
	defer lock.Unlock()

	return store.TryWithdrawBank(name, c, amount), nil
}

// Names - every existing bank
func Names() []string {
	store := theStore()
	if nil == store {
		return nil
	}
	return store.Banks()
}

// IsOwner - true if the holder created the bank
func IsOwner(name string, id holder.ID) bool {
	store := theStore()
	if nil == store {
		return false
	}
	return store.IsBankOwner(name, id)
}

// IsMember - true if the holder belongs to the bank
func IsMember(name string, id holder.ID) bool {
	store := theStore()
	if nil == store {
		return false
	}
	return store.IsBankMember(name, id)
}

// AddMember - join a holder to a bank, false if already a member
func AddMember(name string, id holder.ID) bool {
	store := theStore()
	if nil == store {
		return false
	}

	lock := locking.Bank(name)
	lock.Lock()
	defer lock.Unlock()

	return store.AddBankMember(name, id)
}

// RemoveMember - drop a holder from a bank, false if not a member
func RemoveMember(name string, id holder.ID) bool {
	store := theStore()
	if nil == store {
		return false
	}

	lock := locking.Bank(name)
	lock.Lock()
	defer lock.Unlock()

	return store.RemoveBankMember(name, id)
}

// Members - a bank's member set, owner included
func Members(name string) []holder.ID {
	store := theStore()
	if nil == store {
		return nil
	}
	return store.BankMembers(name)
}
