// SPDX-License-Identifier: ISC
// Copyright (c) 2020-2026 Ecovault Authors
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package transfer - atomic two-party balance moves
//
// Debit and credit may differ to allow a fee model. Both holder locks
// are taken in identifier order before any balance is read, which is
// what makes opposing concurrent transfers over the same pair
// deadlock free.
package transfer

import (
	"sync"
	"time"

	"github.com/bitmark-inc/logger"

	"github.com/ecovault/ecovaultd/counter"
	"github.com/ecovault/ecovaultd/currency"
	"github.com/ecovault/ecovaultd/fault"
	"github.com/ecovault/ecovaultd/holder"
	"github.com/ecovault/ecovaultd/locking"
	"github.com/ecovault/ecovaultd/storage"
)

// Result - outcome of one transfer, balances as of its completion
type Result struct {
	Success     bool
	Reason      string
	FromBalance float64
	ToBalance   float64
}

// Event - post-transfer notification payload
type Event struct {
	From       holder.ID
	To         holder.ID
	Currency   currency.Code
	Debit      float64
	Credit     float64
	FromBefore float64
	FromAfter  float64
	ToBefore   float64
	ToAfter    float64
	Success    bool
	Reason     string
}

// PreHook - consulted with no locks released between the check and the
// move; a true veto aborts the transfer before any balance changes
type PreHook func(from holder.ID, to holder.ID, c currency.Code, debit float64, credit float64) (veto bool, reason string)

// PostHook - observes every completed transfer attempt
type PostHook func(event Event)

// veto reasons reported in failure results
const (
	ReasonNegativeAmount    = "negative amount"
	ReasonInsufficientFunds = "insufficient funds"
	ReasonNotInitialised    = "transfer not initialised"
)

// globals for this module
type globalDataType struct {
	sync.RWMutex

	log       *logger.L
	store     storage.Provider
	now       func() int64
	preHooks  []PreHook
	postHooks []PostHook

	succeeded counter.Counter
	failed    counter.Counter

	initialised bool
}

var globalData globalDataType

// Initialise - bind the coordinator to a storage backend
func Initialise(store storage.Provider) error {
	globalData.Lock()
	defer globalData.Unlock()

	if globalData.initialised {
		return fault.ErrAlreadyInitialised
	}

	globalData.log = logger.New("transfer")
	globalData.log.Info("starting…")

	globalData.store = store
	globalData.now = func() int64 {
		return time.Now().UnixMilli()
	}
	globalData.preHooks = nil
	globalData.postHooks = nil

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
	globalData.preHooks = nil
	globalData.postHooks = nil
	globalData.initialised = false
	globalData.Unlock()
	return nil
}

// RegisterPreHook - add a cancellable before-transfer check
func RegisterPreHook(hook PreHook) {
	globalData.Lock()
	globalData.preHooks = append(globalData.preHooks, hook)
	globalData.Unlock()
}

// RegisterPostHook - add an after-transfer observer
func RegisterPostHook(hook PostHook) {
	globalData.Lock()
	globalData.postHooks = append(globalData.postHooks, hook)
	globalData.Unlock()
}

// SucceededCount - transfers completed since start
func SucceededCount() uint64 {
	return globalData.succeeded.Uint64()
}

// FailedCount - transfers refused or vetoed since start
func FailedCount() uint64 {
	return globalData.failed.Uint64()
}

// Transfer - move funds from one holder to another
//
// Debit is removed from the source, credit added to the destination;
// the difference is the fee, removed from circulation. Failure results
// carry the balances as they stood when the transfer was refused.
func Transfer(from holder.ID, to holder.ID, c currency.Code, debit float64, credit float64) Result {
	globalData.RLock()
	store := globalData.store
	preHooks := globalData.preHooks
	postHooks := globalData.postHooks
	initialised := globalData.initialised
	globalData.RUnlock()

	if !initialised || nil == store {
		globalData.failed.Increment()
		return Result{Reason: ReasonNotInitialised}
	}

	if debit < 0 || credit < 0 {
		globalData.failed.Increment()
		result := Result{
			Reason:      ReasonNegativeAmount,
			FromBalance: store.Balance(from, c),
			ToBalance:   store.Balance(to, c),
		}
		notify(postHooks, Event{
			From: from, To: to, Currency: c, Debit: debit, Credit: credit,
			FromBefore: result.FromBalance, FromAfter: result.FromBalance,
			ToBefore: result.ToBalance, ToAfter: result.ToBalance,
			Reason: result.Reason,
		})
		return result
	}

	// identifier order decides lock order; equal identifiers share
	// one lock which must only be taken once
	first, second := from, to
	if from.Compare(to) > 0 {
		first, second = to, from
	}
	firstLock := locking.Holder(first)
	firstLock.Lock()
	defer firstLock.Unlock()
	if first != second {
		secondLock := locking.Holder(second)
		secondLock.Lock()
		defer secondLock.Unlock()
	}

	fromBefore := store.Balance(from, c)
	toBefore := store.Balance(to, c)

	for _, hook := range preHooks {
		if veto, reason := hook(from, to, c, debit, credit); veto {
			globalData.failed.Increment()
			result := Result{
				Reason:      reason,
				FromBalance: fromBefore,
				ToBalance:   toBefore,
			}
			notify(postHooks, Event{
				From: from, To: to, Currency: c, Debit: debit, Credit: credit,
				FromBefore: fromBefore, FromAfter: fromBefore,
				ToBefore: toBefore, ToAfter: toBefore,
				Reason: reason,
			})
			return result
		}
	}

	if fromBefore < debit || !store.TryWithdraw(from, c, debit) {
		globalData.failed.Increment()
		result := Result{
			Reason:      ReasonInsufficientFunds,
			FromBalance: store.Balance(from, c),
			ToBalance:   store.Balance(to, c),
		}
		notify(postHooks, Event{
			From: from, To: to, Currency: c, Debit: debit, Credit: credit,
			FromBefore: fromBefore, FromAfter: result.FromBalance,
			ToBefore: toBefore, ToAfter: result.ToBalance,
			Reason: result.Reason,
		})
		return result
	}

	if credit > 0 {
		store.Deposit(to, c, credit)
	}

	timestamp := globalData.timestamp()
	if debit > 0 {
		store.LogTransaction(storage.Transaction{
			Holder: from, Currency: c, Amount: -debit, Timestamp: timestamp,
		})
	}
	if credit > 0 {
		store.LogTransaction(storage.Transaction{
			Holder: to, Currency: c, Amount: credit, Timestamp: timestamp,
		})
	}

	globalData.succeeded.Increment()
	result := Result{
		Success:     true,
		FromBalance: store.Balance(from, c),
		ToBalance:   store.Balance(to, c),
	}
	notify(postHooks, Event{
		From: from, To: to, Currency: c, Debit: debit, Credit: credit,
		FromBefore: fromBefore, FromAfter: result.FromBalance,
		ToBefore: toBefore, ToAfter: result.ToBalance,
		Success: true,
	})
	return result
}

func (g *globalDataType) timestamp() int64 {
	g.RLock()
	defer g.RUnlock()
	if nil == g.now {
		return time.Now().UnixMilli()
	}
	return g.now()
}

// hooks are synchronous; a slow hook delays the transfer returning
func notify(hooks []PostHook, event Event) {
	for _, hook := range hooks {
		hook(event)
	}
}
