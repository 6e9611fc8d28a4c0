// SPDX-License-Identifier: ISC
// Copyright (c) 2020-2026 Ecovault Authors
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package postgres_test

import (
	"os"
	"strconv"
	"testing"

	"github.com/bitmark-inc/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecovault/ecovaultd/currency"
	"github.com/ecovault/ecovaultd/holder"
	"github.com/ecovault/ecovaultd/storage"
	"github.com/ecovault/ecovaultd/storage/postgres"
)

// these tests need a live server:
//
//	ECOVAULT_TEST_PG_HOST=localhost ECOVAULT_TEST_PG_DATABASE=ecovault_test \
//	ECOVAULT_TEST_PG_USER=ecovault ECOVAULT_TEST_PG_PASSWORD=secret go test
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
		File:      "postgres_test.log",
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

func setupStore(t *testing.T) *postgres.Store {
	host := os.Getenv("ECOVAULT_TEST_PG_HOST")
	if "" == host {
		t.Skip("set ECOVAULT_TEST_PG_HOST to run PostgreSQL backend tests")
	}
	port := 5432
	if p := os.Getenv("ECOVAULT_TEST_PG_PORT"); "" != p {
		n, err := strconv.Atoi(p)
		require.NoError(t, err)
		port = n
	}
	s := postgres.New(&postgres.Configuration{
		Host:     host,
		Port:     port,
		Database: os.Getenv("ECOVAULT_TEST_PG_DATABASE"),
		User:     os.Getenv("ECOVAULT_TEST_PG_USER"),
		Password: os.Getenv("ECOVAULT_TEST_PG_PASSWORD"),
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

// scrub test identities so repeated runs start clean
func cleanup(t *testing.T, s *postgres.Store, ids []holder.ID, banks []string) {
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

	s.SetBalance(bob, dollar, 20)
	all := s.AllBalances(dollar)
	assert.Equal(t, 20.0, all[bob])
}

func TestJournal(t *testing.T) {
	s := setupStore(t)
	carol := mustID(t, "cccccccc-1111-2222-3333-444444444444")
	cleanup(t, s, []holder.ID{carol}, nil)

	s.LogTransaction(storage.Transaction{Holder: carol, Currency: dollar, Amount: 5, Timestamp: 100})
	s.LogTransaction(storage.Transaction{Holder: carol, Currency: dollar, Amount: -2, Timestamp: 200})

	// RemoveHolder drops journal rows too, but only when a balance
	// row exists, so give carol one
	s.SetBalance(carol, dollar, 3)

	txs := s.Transactions(carol, dollar)
	require.Len(t, txs, 2)
	assert.Equal(t, int64(200), txs[0].Timestamp)
	assert.Equal(t, int64(100), txs[1].Timestamp)
}

func TestBankOperations(t *testing.T) {
	s := setupStore(t)
	alice := mustID(t, "aaaaaaaa-1111-2222-3333-444444444444")
	bob := mustID(t, "bbbbbbbb-1111-2222-3333-444444444444")
	cleanup(t, s, nil, []string{"pg-vault"})

	assert.True(t, s.CreateBank("pg-vault", alice))
	assert.False(t, s.CreateBank("pg-vault", bob))
	assert.True(t, s.IsBankOwner("pg-vault", alice))
	assert.True(t, s.IsBankMember("pg-vault", alice))

	assert.True(t, s.AddBankMember("pg-vault", bob))
	assert.False(t, s.AddBankMember("pg-vault", bob))
	assert.Len(t, s.BankMembers("pg-vault"), 2)

	s.DepositBank("pg-vault", dollar, 1000)
	assert.Equal(t, 1000.0, s.BankBalance("pg-vault", dollar))
	assert.False(t, s.TryWithdrawBank("pg-vault", dollar, 1000.01))
	assert.True(t, s.TryWithdrawBank("pg-vault", dollar, 400))
	assert.Equal(t, 600.0, s.BankBalance("pg-vault", dollar))

	assert.True(t, s.RemoveBankMember("pg-vault", bob))
	assert.True(t, s.DeleteBank("pg-vault"))
	assert.False(t, s.BankExists("pg-vault"))
}

func TestBankSurvivesOwnerRemoval(t *testing.T) {
	s := setupStore(t)
	alice := mustID(t, "aaaaaaaa-1111-2222-3333-444444444444")
	bob := mustID(t, "bbbbbbbb-1111-2222-3333-444444444444")
	cleanup(t, s, nil, []string{"pg-empty"})

	require.True(t, s.CreateBank("pg-empty", alice))
	s.DepositBank("pg-empty", dollar, 1000)

	require.True(t, s.RemoveBankMember("pg-empty", alice))
	assert.Len(t, s.BankMembers("pg-empty"), 0)

	// a member-less bank still exists until DeleteBank
	assert.True(t, s.BankExists("pg-empty"))
	assert.Contains(t, s.Banks(), "pg-empty")
	assert.True(t, s.IsBankOwner("pg-empty", alice))
	assert.Equal(t, 1000.0, s.BankBalance("pg-empty", dollar))

	// the name stays taken
	assert.False(t, s.CreateBank("pg-empty", bob))
}

func TestRecreatedBankStartsEmpty(t *testing.T) {
	s := setupStore(t)
	alice := mustID(t, "aaaaaaaa-1111-2222-3333-444444444444")
	bob := mustID(t, "bbbbbbbb-1111-2222-3333-444444444444")
	cleanup(t, s, nil, []string{"pg-reuse"})

	require.True(t, s.CreateBank("pg-reuse", alice))
	s.DepositBank("pg-reuse", dollar, 1000)
	require.True(t, s.DeleteBank("pg-reuse"))

	require.True(t, s.CreateBank("pg-reuse", bob))
	assert.Equal(t, 0.0, s.BankBalance("pg-reuse", dollar))
	assert.True(t, s.IsBankOwner("pg-reuse", bob))
	assert.False(t, s.IsBankOwner("pg-reuse", alice))
}
