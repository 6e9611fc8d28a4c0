// SPDX-License-Identifier: ISC
// Copyright (c) 2020-2026 Ecovault Authors
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mongodb_test

import (
	"os"
	"testing"

	"github.com/bitmark-inc/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecovault/ecovaultd/currency"
	"github.com/ecovault/ecovaultd/holder"
	"github.com/ecovault/ecovaultd/storage"
	"github.com/ecovault/ecovaultd/storage/mongodb"
)

// these tests need a live server:
//
//	ECOVAULT_TEST_MONGO_URI=mongodb://localhost:27017 go test
const (
	dollar = currency.Code("dollar")
	gem    = currency.Code("gem")
)

func TestMain(m *testing.M) {
	curPath := os.Getenv("PWD")
	logDirectory := curPath + "/test-log"
	_ = os.Mkdir(logDirectory, 0700)

	logging := logger.Configuration{
		Directory: logDirectory,
		File:      "mongodb_test.log",
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

func setupStore(t *testing.T) *mongodb.Store {
	uri := os.Getenv("ECOVAULT_TEST_MONGO_URI")
	if "" == uri {
		t.Skip("set ECOVAULT_TEST_MONGO_URI to run MongoDB backend tests")
	}
	s := mongodb.New(&mongodb.Configuration{
		URI:      uri,
		Database: "ecovault_test",
	})
	require.NoError(t, s.Init())
	require.NoError(t, s.Load())
	t.Cleanup(s.Shutdown)
	return s
}

func mustID(t *testing.T, s string) holder.ID {
	id, err := holder.FromString(s)
	require.NoError(t, err)
	return id
}

func cleanup(t *testing.T, s *mongodb.Store, ids []holder.ID, banks []string) {
	t.Cleanup(func() {
		for _, id := range ids {
			s.RemoveHolder(id)
		}
		for _, name := range banks {
			s.DeleteBank(name)
		}
	})
}

func TestHolderOperations(t *testing.T) {
	s := setupStore(t)
	alice := mustID(t, "aaaaaaaa-1111-2222-3333-444444444444")
	bob := mustID(t, "bbbbbbbb-1111-2222-3333-444444444444")
	cleanup(t, s, []holder.ID{alice, bob}, nil)

	assert.True(t, s.IsConnected())
	assert.Equal(t, 0.0, s.Balance(alice, dollar))

	s.SetBalance(alice, gem, 42.5)
	assert.Equal(t, 42.5, s.Balance(alice, gem))

	s.Deposit(alice, dollar, 100)
	s.Deposit(alice, dollar, 25.25)
	assert.Equal(t, 125.25, s.Balance(alice, dollar))

	assert.True(t, s.TryWithdraw(alice, dollar, 125.25))
	assert.False(t, s.TryWithdraw(alice, dollar, 0.01))
	assert.Equal(t, 0.0, s.Balance(alice, dollar))

	// zero withdrawal from an account never seen before
	assert.True(t, s.TryWithdraw(bob, dollar, 0))

	s.SetBalance(bob, dollar, 20)
	all := s.AllBalances(dollar)
	assert.Equal(t, 20.0, all[bob])
}

func TestJournal(t *testing.T) {
	s := setupStore(t)
	carol := mustID(t, "cccccccc-1111-2222-3333-444444444444")
	cleanup(t, s, []holder.ID{carol}, nil)

	s.SetBalance(carol, dollar, 3)
	s.LogTransaction(storage.Transaction{Holder: carol, Currency: dollar, Amount: 5, Timestamp: 100})
	s.LogTransaction(storage.Transaction{Holder: carol, Currency: dollar, Amount: -2, Timestamp: 200})

	txs := s.Transactions(carol, dollar)
	require.Len(t, txs, 2)
	assert.Equal(t, int64(200), txs[0].Timestamp)
	assert.Equal(t, int64(100), txs[1].Timestamp)
}

func TestBankOperations(t *testing.T) {
	s := setupStore(t)
	alice := mustID(t, "aaaaaaaa-1111-2222-3333-444444444444")
	bob := mustID(t, "bbbbbbbb-1111-2222-3333-444444444444")
	cleanup(t, s, nil, []string{"mongo-vault"})

	assert.True(t, s.CreateBank("mongo-vault", alice))
	assert.False(t, s.CreateBank("mongo-vault", bob))
	assert.True(t, s.IsBankOwner("mongo-vault", alice))
	assert.True(t, s.IsBankMember("mongo-vault", alice))

	assert.True(t, s.AddBankMember("mongo-vault", bob))
	assert.False(t, s.AddBankMember("mongo-vault", bob))
	assert.Len(t, s.BankMembers("mongo-vault"), 2)

	s.DepositBank("mongo-vault", dollar, 1000)
	assert.Equal(t, 1000.0, s.BankBalance("mongo-vault", dollar))
	assert.False(t, s.TryWithdrawBank("mongo-vault", dollar, 1000.01))
	assert.True(t, s.TryWithdrawBank("mongo-vault", dollar, 400))
	assert.Equal(t, 600.0, s.BankBalance("mongo-vault", dollar))

	// zero withdrawal against a currency the bank never held
	assert.True(t, s.TryWithdrawBank("mongo-vault", gem, 0))

	assert.True(t, s.RemoveBankMember("mongo-vault", bob))
	assert.False(t, s.RemoveBankMember("mongo-vault", bob))
	assert.True(t, s.DeleteBank("mongo-vault"))
	assert.False(t, s.BankExists("mongo-vault"))
}

func TestBankSurvivesOwnerRemoval(t *testing.T) {
	s := setupStore(t)
	alice := mustID(t, "aaaaaaaa-1111-2222-3333-444444444444")
	bob := mustID(t, "bbbbbbbb-1111-2222-3333-444444444444")
	cleanup(t, s, nil, []string{"mongo-empty"})

	require.True(t, s.CreateBank("mongo-empty", alice))
	s.DepositBank("mongo-empty", dollar, 1000)

	require.True(t, s.RemoveBankMember("mongo-empty", alice))
	assert.Len(t, s.BankMembers("mongo-empty"), 0)

	// a member-less bank still exists until DeleteBank
	assert.True(t, s.BankExists("mongo-empty"))
	assert.Contains(t, s.Banks(), "mongo-empty")
	assert.True(t, s.IsBankOwner("mongo-empty", alice))
	assert.Equal(t, 1000.0, s.BankBalance("mongo-empty", dollar))

	// the name stays taken
	assert.False(t, s.CreateBank("mongo-empty", bob))
}

func TestRecreatedBankStartsEmpty(t *testing.T) {
	s := setupStore(t)
	alice := mustID(t, "aaaaaaaa-1111-2222-3333-444444444444")
	bob := mustID(t, "bbbbbbbb-1111-2222-3333-444444444444")
	cleanup(t, s, nil, []string{"mongo-reuse"})

	require.True(t, s.CreateBank("mongo-reuse", alice))
	s.DepositBank("mongo-reuse", dollar, 1000)
	require.True(t, s.DeleteBank("mongo-reuse"))

	require.True(t, s.CreateBank("mongo-reuse", bob))
	assert.Equal(t, 0.0, s.BankBalance("mongo-reuse", dollar))
	assert.True(t, s.IsBankOwner("mongo-reuse", bob))
	assert.False(t, s.IsBankOwner("mongo-reuse", alice))
}
