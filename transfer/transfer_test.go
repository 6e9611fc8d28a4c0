// SPDX-License-Identifier: ISC
// Copyright (c) 2020-2026 Ecovault Authors
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package transfer_test

import (
	"os"
	"sync"
	"testing"

	"github.com/bitmark-inc/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecovault/ecovaultd/currency"
	"github.com/ecovault/ecovaultd/holder"
	"github.com/ecovault/ecovaultd/storage"
	"github.com/ecovault/ecovaultd/storage/flatfile"
	"github.com/ecovault/ecovaultd/transfer"
)

const dollar = currency.Code("dollar")

func TestMain(m *testing.M) {
	curPath := os.Getenv("PWD")
	logDirectory := curPath + "/test-log"
	_ = os.Mkdir(logDirectory, 0700)

	logging := logger.Configuration{
		Directory: logDirectory,
		File:      "transfer_test.log",
		Size:      1048576,
		Count:     10,
		Console:   false,
		Levels: map[string]string{
			logger.DefaultTag: "critical",
		},
	}
	if err := logger.Initialise(logging); nil != err {
		panic("logger setup failed: " + err.Error())
	}

	result := m.Run()

	logger.Finalise()
	os.RemoveAll(logDirectory)
	os.Exit(result)
}

func setup(t *testing.T) storage.Provider {
	store := flatfile.New(&flatfile.Configuration{
		Directory: t.TempDir(),
	})
	require.NoError(t, store.Init())
	require.NoError(t, store.Load())
	require.NoError(t, transfer.Initialise(store))
	t.Cleanup(func() {
		require.NoError(t, transfer.Finalise())
		store.Shutdown()
	})
	return store
}

func mustID(t *testing.T, s string) holder.ID {
	id, err := holder.FromString(s)
	require.NoError(t, err)
	return id
}

func TestSimpleTransfer(t *testing.T) {
	store := setup(t)
	alice := mustID(t, "aaaaaaaa-1111-2222-3333-444444444444")
	bob := mustID(t, "bbbbbbbb-1111-2222-3333-444444444444")

	store.SetBalance(alice, dollar, 100)

	result := transfer.Transfer(alice, bob, dollar, 25, 25)
	assert.True(t, result.Success)
	assert.Equal(t, 75.0, result.FromBalance)
	assert.Equal(t, 25.0, result.ToBalance)
	assert.Equal(t, 75.0, store.Balance(alice, dollar))
	assert.Equal(t, 25.0, store.Balance(bob, dollar))

	// both sides journalled with matching signs
	fromTxs := store.Transactions(alice, dollar)
	require.Len(t, fromTxs, 1)
	assert.Equal(t, -25.0, fromTxs[0].Amount)
	toTxs := store.Transactions(bob, dollar)
	require.Len(t, toTxs, 1)
	assert.Equal(t, 25.0, toTxs[0].Amount)
}

func TestFeeBearingTransfer(t *testing.T) {
	store := setup(t)
	alice := mustID(t, "aaaaaaaa-1111-2222-3333-444444444444")
	bob := mustID(t, "bbbbbbbb-1111-2222-3333-444444444444")

	store.SetBalance(alice, dollar, 100)

	result := transfer.Transfer(alice, bob, dollar, 10.00, 9.50)
	assert.True(t, result.Success)
	assert.Equal(t, 90.0, store.Balance(alice, dollar))
	assert.Equal(t, 9.5, store.Balance(bob, dollar))
}

func TestInsufficientFunds(t *testing.T) {
	store := setup(t)
	alice := mustID(t, "aaaaaaaa-1111-2222-3333-444444444444")
	bob := mustID(t, "bbbbbbbb-1111-2222-3333-444444444444")

	store.SetBalance(alice, dollar, 5)

	result := transfer.Transfer(alice, bob, dollar, 10.00, 10.00)
	assert.False(t, result.Success)
	assert.Equal(t, transfer.ReasonInsufficientFunds, result.Reason)
	assert.Equal(t, 5.0, result.FromBalance)
	assert.Equal(t, 0.0, result.ToBalance)

	// a refused transfer journals nothing
	assert.Len(t, store.Transactions(alice, dollar), 0)
	assert.Len(t, store.Transactions(bob, dollar), 0)
}

func TestNegativeAmount(t *testing.T) {
	store := setup(t)
	alice := mustID(t, "aaaaaaaa-1111-2222-3333-444444444444")
	bob := mustID(t, "bbbbbbbb-1111-2222-3333-444444444444")

	store.SetBalance(alice, dollar, 100)

	result := transfer.Transfer(alice, bob, dollar, -1, 1)
	assert.False(t, result.Success)
	assert.Equal(t, transfer.ReasonNegativeAmount, result.Reason)
	assert.Equal(t, 100.0, store.Balance(alice, dollar))
	assert.Equal(t, 0.0, store.Balance(bob, dollar))

	result = transfer.Transfer(alice, bob, dollar, 1, -1)
	assert.False(t, result.Success)
	assert.Equal(t, 100.0, store.Balance(alice, dollar))
}

func TestSelfTransfer(t *testing.T) {
	store := setup(t)
	alice := mustID(t, "aaaaaaaa-1111-2222-3333-444444444444")

	store.SetBalance(alice, dollar, 100)

	result := transfer.Transfer(alice, alice, dollar, 10, 10)
	assert.True(t, result.Success)
	assert.Equal(t, 100.0, store.Balance(alice, dollar))

	// the fee leaves circulation even on a self-transfer
	result = transfer.Transfer(alice, alice, dollar, 10, 9.5)
	assert.True(t, result.Success)
	assert.Equal(t, 99.5, store.Balance(alice, dollar))
}

func TestPreHookVeto(t *testing.T) {
	store := setup(t)
	alice := mustID(t, "aaaaaaaa-1111-2222-3333-444444444444")
	bob := mustID(t, "bbbbbbbb-1111-2222-3333-444444444444")

	store.SetBalance(alice, dollar, 100)

	transfer.RegisterPreHook(func(from holder.ID, to holder.ID, c currency.Code, debit float64, credit float64) (bool, string) {
		if debit > 50 {
			return true, "limit exceeded"
		}
		return false, ""
	})

	result := transfer.Transfer(alice, bob, dollar, 60, 60)
	assert.False(t, result.Success)
	assert.Equal(t, "limit exceeded", result.Reason)
	assert.Equal(t, 100.0, store.Balance(alice, dollar))
	assert.Len(t, store.Transactions(alice, dollar), 0)

	result = transfer.Transfer(alice, bob, dollar, 40, 40)
	assert.True(t, result.Success)
}

func TestPostHookObservesBalances(t *testing.T) {
	store := setup(t)
	alice := mustID(t, "aaaaaaaa-1111-2222-3333-444444444444")
	bob := mustID(t, "bbbbbbbb-1111-2222-3333-444444444444")

	store.SetBalance(alice, dollar, 100)

	var events []transfer.Event
	transfer.RegisterPostHook(func(event transfer.Event) {
		events = append(events, event)
	})

	transfer.Transfer(alice, bob, dollar, 30, 30)
	transfer.Transfer(alice, bob, dollar, 1000, 1000)

	require.Len(t, events, 2)

	assert.True(t, events[0].Success)
	assert.Equal(t, 100.0, events[0].FromBefore)
	assert.Equal(t, 70.0, events[0].FromAfter)
	assert.Equal(t, 0.0, events[0].ToBefore)
	assert.Equal(t, 30.0, events[0].ToAfter)

	assert.False(t, events[1].Success)
	assert.Equal(t, transfer.ReasonInsufficientFunds, events[1].Reason)
	assert.Equal(t, 70.0, events[1].FromBefore)
	assert.Equal(t, 70.0, events[1].FromAfter)
}

func TestConcurrentDepletion(t *testing.T) {
	store := setup(t)
	alice := mustID(t, "aaaaaaaa-1111-2222-3333-444444444444")
	bob := mustID(t, "bbbbbbbb-1111-2222-3333-444444444444")

	store.SetBalance(alice, dollar, 100)

	const attempts = 20
	results := make([]transfer.Result, attempts)

	var wg sync.WaitGroup
	for i := 0; i < attempts; i += 1 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			results[n] = transfer.Transfer(alice, bob, dollar, 10, 10)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, result := range results {
		if result.Success {
			succeeded += 1
		} else {
			// refusals happen only after depletion
			assert.Equal(t, 0.0, result.FromBalance)
		}
	}
	assert.Equal(t, 10, succeeded)
	assert.Equal(t, 0.0, store.Balance(alice, dollar))
	assert.Equal(t, 100.0, store.Balance(bob, dollar))
}

func TestOpposingTransfersComplete(t *testing.T) {
	store := setup(t)
	alice := mustID(t, "aaaaaaaa-1111-2222-3333-444444444444")
	bob := mustID(t, "bbbbbbbb-1111-2222-3333-444444444444")

	store.SetBalance(alice, dollar, 100)
	store.SetBalance(bob, dollar, 100)

	const rounds = 50
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i += 1 {
			transfer.Transfer(alice, bob, dollar, 1, 1)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i += 1 {
			transfer.Transfer(bob, alice, dollar, 1, 1)
		}
	}()
	wg.Wait()

	// every unit moved is matched by one moving back
	total := store.Balance(alice, dollar) + store.Balance(bob, dollar)
	assert.Equal(t, 200.0, total)
}

func TestCounters(t *testing.T) {
	store := setup(t)
	alice := mustID(t, "aaaaaaaa-1111-2222-3333-444444444444")
	bob := mustID(t, "bbbbbbbb-1111-2222-3333-444444444444")

	store.SetBalance(alice, dollar, 10)

	beforeOK := transfer.SucceededCount()
	beforeFail := transfer.FailedCount()

	transfer.Transfer(alice, bob, dollar, 10, 10)
	transfer.Transfer(alice, bob, dollar, 10, 10)

	assert.Equal(t, beforeOK+1, transfer.SucceededCount())
	assert.Equal(t, beforeFail+1, transfer.FailedCount())
}
