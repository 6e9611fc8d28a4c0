// SPDX-License-Identifier: ISC
// Copyright (c) 2020-2026 Ecovault Authors
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package sqlite - ledger backend on an embedded SQL database
//
// Withdrawals use a conditional UPDATE guarded on the current balance
// so the non-negativity invariant holds inside the database itself,
// not only under the in-process locks.
package sqlite

import (
	"database/sql"
	"sync"

	"github.com/bitmark-inc/logger"
	_ "modernc.org/sqlite"

	"github.com/ecovault/ecovaultd/currency"
	"github.com/ecovault/ecovaultd/fault"
	"github.com/ecovault/ecovaultd/holder"
	"github.com/ecovault/ecovaultd/storage"
)

// Configuration - from the database.sqlite section
type Configuration struct {
	File string `gluamapper:"file" json:"file"`
}

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
    uuid     TEXT NOT NULL,
    currency TEXT NOT NULL,
    balance  REAL NOT NULL DEFAULT 0,
    PRIMARY KEY (uuid, currency)
);
CREATE TABLE IF NOT EXISTS transactions (
    uuid      TEXT NOT NULL,
    currency  TEXT NOT NULL,
    amount    REAL NOT NULL,
    timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS transactions_account
    ON transactions (uuid, currency, timestamp);
CREATE TABLE IF NOT EXISTS banks (
    name     TEXT NOT NULL,
    currency TEXT NOT NULL,
    balance  REAL NOT NULL DEFAULT 0,
    PRIMARY KEY (name, currency)
);
CREATE TABLE IF NOT EXISTS bank_registry (
    bank  TEXT NOT NULL PRIMARY KEY,
    owner TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS bank_members (
    bank  TEXT NOT NULL,
    uuid  TEXT NOT NULL,
    owner INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (bank, uuid)
);
`

// Store - an embedded SQL backend instance
type Store struct {
	sync.Mutex // serialises multi-statement bank updates

	file string
	db   *sql.DB
	log  *logger.L
}

// New - create a backend for the configured database file
func New(configuration *Configuration) *Store {
	return &Store{
		file: configuration.File,
	}
}

// Init - open the database and create missing tables
func (s *Store) Init() error {
	s.Lock()
	defer s.Unlock()

	if nil == s.log {
		s.log = logger.New("storage-sqlite")
	}
	if nil != s.db {
		return nil
	}
	db, err := sql.Open("sqlite", s.file)
	if nil != err {
		s.log.Errorf("init: open: %s", err)
		return fault.ErrStorageInitialiseFailed
	}
	// a single shared connection keeps the embedded database free of
	// writer conflicts
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); nil != err {
		s.log.Errorf("init: schema: %s", err)
		db.Close()
		return fault.ErrStorageInitialiseFailed
	}
	s.db = db
	return nil
}

// Load - verify the database answers queries
func (s *Store) Load() error {
	s.Lock()
	defer s.Unlock()

	if nil == s.db {
		return fault.ErrStorageNotConnected
	}
	if err := s.db.Ping(); nil != err {
		s.log.Errorf("load: ping: %s", err)
		return fault.ErrStorageLoadFailed
	}
	return nil
}

// Shutdown - close the database
func (s *Store) Shutdown() {
	s.Lock()
	defer s.Unlock()

	if nil != s.db {
		s.db.Close()
		s.db = nil
	}
}

// IsConnected - true while the database answers a ping
func (s *Store) IsConnected() bool {
	s.Lock()
	defer s.Unlock()

	if nil == s.db {
		return false
	}
	return nil == s.db.Ping()
}

// ----- holder operations -----

func (s *Store) Balance(id holder.ID, c currency.Code) float64 {
	s.Lock()
	defer s.Unlock()

	if nil == s.db {
		return 0
	}
	var balance float64
	err := s.db.QueryRow(
		"SELECT balance FROM accounts WHERE uuid = ? AND currency = ?",
		id.String(), string(c),
	).Scan(&balance)
	if sql.ErrNoRows == err {
		return 0
	} else if nil != err {
		s.log.Errorf("holder %s: select: %s", id, err)
		return 0
	}
	return balance
}

func (s *Store) SetBalance(id holder.ID, c currency.Code, amount float64) {
	s.Lock()
	defer s.Unlock()

	if nil == s.db {
		return
	}
	_, err := s.db.Exec(
		`INSERT INTO accounts (uuid, currency, balance) VALUES (?, ?, ?)
		 ON CONFLICT (uuid, currency) DO UPDATE SET balance = excluded.balance`,
		id.String(), string(c), amount,
	)
	if nil != err {
		s.log.Errorf("holder %s: set: %s", id, err)
	}
}

func (s *Store) TryWithdraw(id holder.ID, c currency.Code, amount float64) bool {
	s.Lock()
	defer s.Unlock()

	if nil == s.db {
		return false
	}
	// account row must exist so a zero withdrawal from a fresh
	// account behaves like one from an explicit zero balance
	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO accounts (uuid, currency, balance) VALUES (?, ?, 0)",
		id.String(), string(c),
	)
	if nil != err {
		s.log.Errorf("holder %s: ensure: %s", id, err)
		return false
	}
	result, err := s.db.Exec(
		`UPDATE accounts SET balance = balance - ?
		 WHERE uuid = ? AND currency = ? AND balance >= ?`,
		amount, id.String(), string(c), amount,
	)
	if nil != err {
		s.log.Errorf("holder %s: withdraw: %s", id, err)
		return false
	}
	n, err := result.RowsAffected()
	if nil != err {
		s.log.Errorf("holder %s: withdraw rows: %s", id, err)
		return false
	}
	return n > 0
}

func (s *Store) Deposit(id holder.ID, c currency.Code, amount float64) {
	s.Lock()
	defer s.Unlock()

	if nil == s.db {
		return
	}
	_, err := s.db.Exec(
		`INSERT INTO accounts (uuid, currency, balance) VALUES (?, ?, ?)
		 ON CONFLICT (uuid, currency) DO UPDATE SET balance = balance + excluded.balance`,
		id.String(), string(c), amount,
	)
	if nil != err {
		s.log.Errorf("holder %s: deposit: %s", id, err)
	}
}

func (s *Store) AllBalances(c currency.Code) map[holder.ID]float64 {
	s.Lock()
	defer s.Unlock()

	all := map[holder.ID]float64{}
	if nil == s.db {
		return all
	}
	rows, err := s.db.Query(
		"SELECT uuid, balance FROM accounts WHERE currency = ?",
		string(c),
	)
	if nil != err {
		s.log.Errorf("balances: select: %s", err)
		return all
	}
	defer rows.Close()
	for rows.Next() {
		var uuid string
		var balance float64
		if err := rows.Scan(&uuid, &balance); nil != err {
			s.log.Errorf("balances: scan: %s", err)
			continue
		}
		id, err := holder.FromString(uuid)
		if nil != err {
			s.log.Errorf("balances: bad identifier %q", uuid)
			continue
		}
		all[id] = balance
	}
	return all
}

// ----- journal -----

func (s *Store) LogTransaction(tx storage.Transaction) {
	s.Lock()
	defer s.Unlock()

	if nil == s.db {
		return
	}
	_, err := s.db.Exec(
		"INSERT INTO transactions (uuid, currency, amount, timestamp) VALUES (?, ?, ?, ?)",
		tx.Holder.String(), string(tx.Currency), tx.Amount, tx.Timestamp,
	)
	if nil != err {
		s.log.Errorf("journal %s: insert: %s", tx.Holder, err)
	}
}

func (s *Store) Transactions(id holder.ID, c currency.Code) []storage.Transaction {
	s.Lock()
	defer s.Unlock()

	if nil == s.db {
		return nil
	}
	rows, err := s.db.Query(
		`SELECT amount, timestamp FROM transactions
		 WHERE uuid = ? AND currency = ? ORDER BY timestamp DESC, rowid DESC`,
		id.String(), string(c),
	)
	if nil != err {
		s.log.Errorf("journal %s: select: %s", id, err)
		return nil
	}
	defer rows.Close()

	var txs []storage.Transaction
	for rows.Next() {
		tx := storage.Transaction{Holder: id, Currency: c}
		if err := rows.Scan(&tx.Amount, &tx.Timestamp); nil != err {
			s.log.Errorf("journal %s: scan: %s", id, err)
			continue
		}
		txs = append(txs, tx)
	}
	return txs
}

// ----- bank operations -----

func (s *Store) CreateBank(name string, owner holder.ID) bool {
	if "" == name {
		return false
	}
	s.Lock()
	defer s.Unlock()

	if nil == s.db || s.bankExists(name) {
		return false
	}
	// the registry row is what makes a bank exist; it stays until
	// DeleteBank even when every member leaves
	tx, err := s.db.Begin()
	if nil != err {
		s.log.Errorf("bank %q: create begin: %s", name, err)
		return false
	}
	if _, err := tx.Exec(
		"INSERT INTO bank_registry (bank, owner) VALUES (?, ?)",
		name, owner.String(),
	); nil != err {
		s.log.Errorf("bank %q: create: %s", name, err)
		tx.Rollback()
		return false
	}
	if _, err := tx.Exec(
		"INSERT INTO bank_members (bank, uuid, owner) VALUES (?, ?, 1)",
		name, owner.String(),
	); nil != err {
		s.log.Errorf("bank %q: create owner member: %s", name, err)
		tx.Rollback()
		return false
	}
	if err := tx.Commit(); nil != err {
		s.log.Errorf("bank %q: create commit: %s", name, err)
		return false
	}
	return true
}

func (s *Store) DeleteBank(name string) bool {
	s.Lock()
	defer s.Unlock()

	if nil == s.db || !s.bankExists(name) {
		return false
	}
	tx, err := s.db.Begin()
	if nil != err {
		s.log.Errorf("bank %q: delete begin: %s", name, err)
		return false
	}
	if _, err := tx.Exec("DELETE FROM bank_registry WHERE bank = ?", name); nil != err {
		s.log.Errorf("bank %q: delete registry: %s", name, err)
		tx.Rollback()
		return false
	}
	if _, err := tx.Exec("DELETE FROM banks WHERE name = ?", name); nil != err {
		s.log.Errorf("bank %q: delete balances: %s", name, err)
		tx.Rollback()
		return false
	}
	if _, err := tx.Exec("DELETE FROM bank_members WHERE bank = ?", name); nil != err {
		s.log.Errorf("bank %q: delete members: %s", name, err)
		tx.Rollback()
		return false
	}
	if err := tx.Commit(); nil != err {
		s.log.Errorf("bank %q: delete commit: %s", name, err)
		return false
	}
	return true
}

func (s *Store) BankExists(name string) bool {
	s.Lock()
	defer s.Unlock()
	return nil != s.db && s.bankExists(name)
}

func (s *Store) BankBalance(name string, c currency.Code) float64 {
	s.Lock()
	defer s.Unlock()

	if nil == s.db {
		return 0
	}
	var balance float64
	err := s.db.QueryRow(
		"SELECT balance FROM banks WHERE name = ? AND currency = ?",
		name, string(c),
	).Scan(&balance)
	if sql.ErrNoRows == err {
		return 0
	} else if nil != err {
		s.log.Errorf("bank %q: select: %s", name, err)
		return 0
	}
	return balance
}

func (s *Store) SetBankBalance(name string, c currency.Code, amount float64) {
	s.Lock()
	defer s.Unlock()

	if nil == s.db || !s.bankExists(name) {
		return
	}
	_, err := s.db.Exec(
		`INSERT INTO banks (name, currency, balance) VALUES (?, ?, ?)
		 ON CONFLICT (name, currency) DO UPDATE SET balance = excluded.balance`,
		name, string(c), amount,
	)
	if nil != err {
		s.log.Errorf("bank %q: set: %s", name, err)
	}
}

func (s *Store) TryWithdrawBank(name string, c currency.Code, amount float64) bool {
	s.Lock()
	defer s.Unlock()

	if nil == s.db || !s.bankExists(name) {
		return false
	}
	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO banks (name, currency, balance) VALUES (?, ?, 0)",
		name, string(c),
	)
	if nil != err {
		s.log.Errorf("bank %q: ensure: %s", name, err)
		return false
	}
	result, err := s.db.Exec(
		`UPDATE banks SET balance = balance - ?
		 WHERE name = ? AND currency = ? AND balance >= ?`,
		amount, name, string(c), amount,
	)
	if nil != err {
		s.log.Errorf("bank %q: withdraw: %s", name, err)
		return false
	}
	n, err := result.RowsAffected()
	if nil != err {
		s.log.Errorf("bank %q: withdraw rows: %s", name, err)
		return false
	}
	return n > 0
}

func (s *Store) DepositBank(name string, c currency.Code, amount float64) {
	s.Lock()
	defer s.Unlock()

	if nil == s.db || !s.bankExists(name) {
		return
	}
	_, err := s.db.Exec(
		`INSERT INTO banks (name, currency, balance) VALUES (?, ?, ?)
		 ON CONFLICT (name, currency) DO UPDATE SET balance = balance + excluded.balance`,
		name, string(c), amount,
	)
	if nil != err {
		s.log.Errorf("bank %q: deposit: %s", name, err)
	}
}

func (s *Store) Banks() []string {
	s.Lock()
	defer s.Unlock()

	var names []string
	if nil == s.db {
		return names
	}
	rows, err := s.db.Query("SELECT bank FROM bank_registry ORDER BY bank")
	if nil != err {
		s.log.Errorf("banks: select: %s", err)
		return names
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); nil != err {
			s.log.Errorf("banks: scan: %s", err)
			continue
		}
		names = append(names, name)
	}
	return names
}

func (s *Store) IsBankOwner(name string, id holder.ID) bool {
	s.Lock()
	defer s.Unlock()

	if nil == s.db {
		return false
	}
	// ownership lives in the registry so it survives the owner
	// leaving the member list
	var n int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM bank_registry WHERE bank = ? AND owner = ?",
		name, id.String(),
	).Scan(&n)
	if nil != err {
		s.log.Errorf("bank %q: owner: %s", name, err)
		return false
	}
	return n > 0
}

func (s *Store) IsBankMember(name string, id holder.ID) bool {
	s.Lock()
	defer s.Unlock()

	if nil == s.db {
		return false
	}
	var n int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM bank_members WHERE bank = ? AND uuid = ?",
		name, id.String(),
	).Scan(&n)
	if nil != err {
		s.log.Errorf("bank %q: member: %s", name, err)
		return false
	}
	return n > 0
}

func (s *Store) AddBankMember(name string, id holder.ID) bool {
	s.Lock()
	defer s.Unlock()

	if nil == s.db || !s.bankExists(name) {
		return false
	}
	result, err := s.db.Exec(
		"INSERT OR IGNORE INTO bank_members (bank, uuid, owner) VALUES (?, ?, 0)",
		name, id.String(),
	)
	if nil != err {
		s.log.Errorf("bank %q: add member: %s", name, err)
		return false
	}
	n, err := result.RowsAffected()
	if nil != err {
		return false
	}
	return n > 0
}

func (s *Store) RemoveBankMember(name string, id holder.ID) bool {
	s.Lock()
	defer s.Unlock()

	if nil == s.db {
		return false
	}
	result, err := s.db.Exec(
		"DELETE FROM bank_members WHERE bank = ? AND uuid = ?",
		name, id.String(),
	)
	if nil != err {
		s.log.Errorf("bank %q: remove member: %s", name, err)
		return false
	}
	n, err := result.RowsAffected()
	if nil != err {
		return false
	}
	return n > 0
}

func (s *Store) BankMembers(name string) []holder.ID {
	s.Lock()
	defer s.Unlock()

	if nil == s.db {
		return nil
	}
	rows, err := s.db.Query(
		"SELECT uuid FROM bank_members WHERE bank = ? ORDER BY owner DESC, uuid",
		name,
	)
	if nil != err {
		s.log.Errorf("bank %q: members: %s", name, err)
		return nil
	}
	defer rows.Close()

	var members []holder.ID
	for rows.Next() {
		var uuid string
		if err := rows.Scan(&uuid); nil != err {
			continue
		}
		id, err := holder.FromString(uuid)
		if nil != err {
			s.log.Errorf("bank %q: bad member %q", name, uuid)
			continue
		}
		members = append(members, id)
	}
	return members
}

// ----- maintenance primitives -----

func (s *Store) Holders() []holder.ID {
	s.Lock()
	defer s.Unlock()

	var ids []holder.ID
	if nil == s.db {
		return ids
	}
	rows, err := s.db.Query("SELECT DISTINCT uuid FROM accounts ORDER BY uuid")
	if nil != err {
		s.log.Errorf("holders: select: %s", err)
		return ids
	}
	defer rows.Close()
	for rows.Next() {
		var uuid string
		if err := rows.Scan(&uuid); nil != err {
			continue
		}
		id, err := holder.FromString(uuid)
		if nil != err {
			s.log.Errorf("holders: bad identifier %q", uuid)
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func (s *Store) RemoveHolder(id holder.ID) bool {
	s.Lock()
	defer s.Unlock()

	if nil == s.db {
		return false
	}
	tx, err := s.db.Begin()
	if nil != err {
		s.log.Errorf("holder %s: remove begin: %s", id, err)
		return false
	}
	result, err := tx.Exec("DELETE FROM accounts WHERE uuid = ?", id.String())
	if nil != err {
		s.log.Errorf("holder %s: remove: %s", id, err)
		tx.Rollback()
		return false
	}
	if _, err := tx.Exec("DELETE FROM transactions WHERE uuid = ?", id.String()); nil != err {
		s.log.Errorf("holder %s: remove journal: %s", id, err)
		tx.Rollback()
		return false
	}
	n, err := result.RowsAffected()
	if nil != err {
		tx.Rollback()
		return false
	}
	if err := tx.Commit(); nil != err {
		s.log.Errorf("holder %s: remove commit: %s", id, err)
		return false
	}
	return n > 0
}

// caller holds s.Mutex
func (s *Store) bankExists(name string) bool {
	var n int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM bank_registry WHERE bank = ?",
		name,
	).Scan(&n)
	if nil != err {
		s.log.Errorf("bank %q: exists: %s", name, err)
		return false
	}
	return n > 0
}
