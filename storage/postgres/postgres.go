// SPDX-License-Identifier: ISC
// Copyright (c) 2020-2026 Ecovault Authors
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package postgres - ledger backend on a client-server SQL database
//
// The same guarded-update scheme as the embedded SQL backend, but
// running over a connection pool so several daemon instances can share
// one ledger. The conditional withdraw is atomic inside the server, so
// no cross-process locking is needed for single operations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/bitmark-inc/logger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ecovault/ecovaultd/currency"
	"github.com/ecovault/ecovaultd/fault"
	"github.com/ecovault/ecovaultd/holder"
	"github.com/ecovault/ecovaultd/storage"
)

// Configuration - from the database.postgres section
type Configuration struct {
	Host     string `gluamapper:"host" json:"host"`
	Port     int    `gluamapper:"port" json:"port"`
	Database string `gluamapper:"database" json:"database"`
	User     string `gluamapper:"user" json:"user"`
	Password string `gluamapper:"password" json:"password"`
}

const queryTimeout = 5 * time.Second

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
    uuid     TEXT NOT NULL,
    currency TEXT NOT NULL,
    balance  DOUBLE PRECISION NOT NULL DEFAULT 0,
    PRIMARY KEY (uuid, currency)
);
CREATE TABLE IF NOT EXISTS transactions (
    id        BIGSERIAL PRIMARY KEY,
    uuid      TEXT NOT NULL,
    currency  TEXT NOT NULL,
    amount    DOUBLE PRECISION NOT NULL,
    timestamp BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS transactions_account
    ON transactions (uuid, currency, timestamp);
CREATE TABLE IF NOT EXISTS banks (
    name     TEXT NOT NULL,
    currency TEXT NOT NULL,
    balance  DOUBLE PRECISION NOT NULL DEFAULT 0,
    PRIMARY KEY (name, currency)
);
CREATE TABLE IF NOT EXISTS bank_registry (
    bank  TEXT NOT NULL PRIMARY KEY,
    owner TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS bank_members (
    bank  TEXT NOT NULL,
    uuid  TEXT NOT NULL,
    owner BOOLEAN NOT NULL DEFAULT FALSE,
    PRIMARY KEY (bank, uuid)
);
`

// Store - a PostgreSQL backend instance
type Store struct {
	sync.Mutex // serialises multi-statement bank updates

	configuration Configuration
	pool          *pgxpool.Pool
	log           *logger.L
}

// New - create a backend for the configured server
func New(configuration *Configuration) *Store {
	return &Store{
		configuration: *configuration,
	}
}

func (s *Store) dsn() string {
	c := s.configuration
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   "/" + c.Database,
	}
	return u.String()
}

// Init - connect to the server and create missing tables
func (s *Store) Init() error {
	s.Lock()
	defer s.Unlock()

	if nil == s.log {
		s.log = logger.New("storage-postgres")
	}
	if nil != s.pool {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	pool, err := pgxpool.New(ctx, s.dsn())
	if nil != err {
		s.log.Errorf("init: connect: %s", err)
		return fault.ErrStorageInitialiseFailed
	}
	if _, err := pool.Exec(ctx, schema); nil != err {
		s.log.Errorf("init: schema: %s", err)
		pool.Close()
		return fault.ErrStorageInitialiseFailed
	}
	s.pool = pool
	return nil
}

// Load - verify the pool answers queries
func (s *Store) Load() error {
	s.Lock()
	defer s.Unlock()

	if nil == s.pool {
		return fault.ErrStorageNotConnected
	}
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	if err := s.pool.Ping(ctx); nil != err {
		s.log.Errorf("load: ping: %s", err)
		return fault.ErrStorageLoadFailed
	}
	return nil
}

// Shutdown - close the pool
func (s *Store) Shutdown() {
	s.Lock()
	defer s.Unlock()

	if nil != s.pool {
		s.pool.Close()
		s.pool = nil
	}
}

// IsConnected - true while the server answers a ping
func (s *Store) IsConnected() bool {
	s.Lock()
	defer s.Unlock()

	if nil == s.pool {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	return nil == s.pool.Ping(ctx)
}

func operationContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), queryTimeout)
}

// ----- holder operations -----

func (s *Store) Balance(id holder.ID, c currency.Code) float64 {
	s.Lock()
	defer s.Unlock()

	if nil == s.pool {
		return 0
	}
	ctx, cancel := operationContext()
	defer cancel()

	var balance float64
	err := s.pool.QueryRow(ctx,
		"SELECT balance FROM accounts WHERE uuid = $1 AND currency = $2",
		id.String(), string(c),
	).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
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

	if nil == s.pool {
		return
	}
	ctx, cancel := operationContext()
	defer cancel()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (uuid, currency, balance) VALUES ($1, $2, $3)
		 ON CONFLICT (uuid, currency) DO UPDATE SET balance = EXCLUDED.balance`,
		id.String(), string(c), amount,
	)
	if nil != err {
		s.log.Errorf("holder %s: set: %s", id, err)
	}
}

func (s *Store) TryWithdraw(id holder.ID, c currency.Code, amount float64) bool {
	s.Lock()
	defer s.Unlock()

	if nil == s.pool {
		return false
	}
	ctx, cancel := operationContext()
	defer cancel()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (uuid, currency, balance) VALUES ($1, $2, 0)
		 ON CONFLICT (uuid, currency) DO NOTHING`,
		id.String(), string(c),
	)
	if nil != err {
		s.log.Errorf("holder %s: ensure: %s", id, err)
		return false
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE accounts SET balance = balance - $1
		 WHERE uuid = $2 AND currency = $3 AND balance >= $1`,
		amount, id.String(), string(c),
	)
	if nil != err {
		s.log.Errorf("holder %s: withdraw: %s", id, err)
		return false
	}
	return tag.RowsAffected() > 0
}

func (s *Store) Deposit(id holder.ID, c currency.Code, amount float64) {
	s.Lock()
	defer s.Unlock()

	if nil == s.pool {
		return
	}
	ctx, cancel := operationContext()
	defer cancel()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (uuid, currency, balance) VALUES ($1, $2, $3)
		 ON CONFLICT (uuid, currency) DO UPDATE SET balance = accounts.balance + EXCLUDED.balance`,
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
	if nil == s.pool {
		return all
	}
	ctx, cancel := operationContext()
	defer cancel()

	rows, err := s.pool.Query(ctx,
		"SELECT uuid, balance FROM accounts WHERE currency = $1",
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

	if nil == s.pool {
		return
	}
	ctx, cancel := operationContext()
	defer cancel()

	_, err := s.pool.Exec(ctx,
		"INSERT INTO transactions (uuid, currency, amount, timestamp) VALUES ($1, $2, $3, $4)",
		tx.Holder.String(), string(tx.Currency), tx.Amount, tx.Timestamp,
	)
	if nil != err {
		s.log.Errorf("journal %s: insert: %s", tx.Holder, err)
	}
}

func (s *Store) Transactions(id holder.ID, c currency.Code) []storage.Transaction {
	s.Lock()
	defer s.Unlock()

	if nil == s.pool {
		return nil
	}
	ctx, cancel := operationContext()
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT amount, timestamp FROM transactions
		 WHERE uuid = $1 AND currency = $2 ORDER BY timestamp DESC, id DESC`,
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

	if nil == s.pool {
		return false
	}
	ctx, cancel := operationContext()
	defer cancel()

	if s.bankExists(ctx, name) {
		return false
	}
	// the registry row is what makes a bank exist; it stays until
	// DeleteBank even when every member leaves
	tx, err := s.pool.Begin(ctx)
	if nil != err {
		s.log.Errorf("bank %q: create begin: %s", name, err)
		return false
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		"INSERT INTO bank_registry (bank, owner) VALUES ($1, $2)",
		name, owner.String(),
	); nil != err {
		s.log.Errorf("bank %q: create: %s", name, err)
		return false
	}
	if _, err := tx.Exec(ctx,
		"INSERT INTO bank_members (bank, uuid, owner) VALUES ($1, $2, TRUE)",
		name, owner.String(),
	); nil != err {
		s.log.Errorf("bank %q: create owner member: %s", name, err)
		return false
	}
	if err := tx.Commit(ctx); nil != err {
		s.log.Errorf("bank %q: create commit: %s", name, err)
		return false
	}
	return true
}

func (s *Store) DeleteBank(name string) bool {
	s.Lock()
	defer s.Unlock()

	if nil == s.pool {
		return false
	}
	ctx, cancel := operationContext()
	defer cancel()

	if !s.bankExists(ctx, name) {
		return false
	}
	tx, err := s.pool.Begin(ctx)
	if nil != err {
		s.log.Errorf("bank %q: delete begin: %s", name, err)
		return false
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM bank_registry WHERE bank = $1", name); nil != err {
		s.log.Errorf("bank %q: delete registry: %s", name, err)
		return false
	}
	if _, err := tx.Exec(ctx, "DELETE FROM banks WHERE name = $1", name); nil != err {
		s.log.Errorf("bank %q: delete balances: %s", name, err)
		return false
	}
	if _, err := tx.Exec(ctx, "DELETE FROM bank_members WHERE bank = $1", name); nil != err {
		s.log.Errorf("bank %q: delete members: %s", name, err)
		return false
	}
	if err := tx.Commit(ctx); nil != err {
		s.log.Errorf("bank %q: delete commit: %s", name, err)
		return false
	}
	return true
}

func (s *Store) BankExists(name string) bool {
	s.Lock()
	defer s.Unlock()

	if nil == s.pool {
		return false
	}
	ctx, cancel := operationContext()
	defer cancel()
	return s.bankExists(ctx, name)
}

func (s *Store) BankBalance(name string, c currency.Code) float64 {
	s.Lock()
	defer s.Unlock()

	if nil == s.pool {
		return 0
	}
	ctx, cancel := operationContext()
	defer cancel()

	var balance float64
	err := s.pool.QueryRow(ctx,
		"SELECT balance FROM banks WHERE name = $1 AND currency = $2",
		name, string(c),
	).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
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

	if nil == s.pool {
		return
	}
	ctx, cancel := operationContext()
	defer cancel()

	if !s.bankExists(ctx, name) {
		return
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO banks (name, currency, balance) VALUES ($1, $2, $3)
		 ON CONFLICT (name, currency) DO UPDATE SET balance = EXCLUDED.balance`,
		name, string(c), amount,
	)
	if nil != err {
		s.log.Errorf("bank %q: set: %s", name, err)
	}
}

func (s *Store) TryWithdrawBank(name string, c currency.Code, amount float64) bool {
	s.Lock()
	defer s.Unlock()

	if nil == s.pool {
		return false
	}
	ctx, cancel := operationContext()
	defer cancel()

	if !s.bankExists(ctx, name) {
		return false
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO banks (name, currency, balance) VALUES ($1, $2, 0)
		 ON CONFLICT (name, currency) DO NOTHING`,
		name, string(c),
	)
	if nil != err {
		s.log.Errorf("bank %q: ensure: %s", name, err)
		return false
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE banks SET balance = balance - $1
		 WHERE name = $2 AND currency = $3 AND balance >= $1`,
		amount, name, string(c),
	)
	if nil != err {
		s.log.Errorf("bank %q: withdraw: %s", name, err)
		return false
	}
	return tag.RowsAffected() > 0
}

func (s *Store) DepositBank(name string, c currency.Code, amount float64) {
	s.Lock()
	defer s.Unlock()

	if nil == s.pool {
		return
	}
	ctx, cancel := operationContext()
	defer cancel()

	if !s.bankExists(ctx, name) {
		return
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO banks (name, currency, balance) VALUES ($1, $2, $3)
		 ON CONFLICT (name, currency) DO UPDATE SET balance = banks.balance + EXCLUDED.balance`,
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
	if nil == s.pool {
		return names
	}
	ctx, cancel := operationContext()
	defer cancel()

	rows, err := s.pool.Query(ctx, "SELECT bank FROM bank_registry ORDER BY bank")
	if nil != err {
		s.log.Errorf("banks: select: %s", err)
		return names
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); nil != err {
			continue
		}
		names = append(names, name)
	}
	return names
}

func (s *Store) IsBankOwner(name string, id holder.ID) bool {
	s.Lock()
	defer s.Unlock()

	if nil == s.pool {
		return false
	}
	ctx, cancel := operationContext()
	defer cancel()

	// ownership lives in the registry so it survives the owner
	// leaving the member list
	var n int
	err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM bank_registry WHERE bank = $1 AND owner = $2",
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

	if nil == s.pool {
		return false
	}
	ctx, cancel := operationContext()
	defer cancel()

	var n int
	err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM bank_members WHERE bank = $1 AND uuid = $2",
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

	if nil == s.pool {
		return false
	}
	ctx, cancel := operationContext()
	defer cancel()

	if !s.bankExists(ctx, name) {
		return false
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO bank_members (bank, uuid, owner) VALUES ($1, $2, FALSE)
		 ON CONFLICT (bank, uuid) DO NOTHING`,
		name, id.String(),
	)
	if nil != err {
		s.log.Errorf("bank %q: add member: %s", name, err)
		return false
	}
	return tag.RowsAffected() > 0
}

func (s *Store) RemoveBankMember(name string, id holder.ID) bool {
	s.Lock()
	defer s.Unlock()

	if nil == s.pool {
		return false
	}
	ctx, cancel := operationContext()
	defer cancel()

	tag, err := s.pool.Exec(ctx,
		"DELETE FROM bank_members WHERE bank = $1 AND uuid = $2",
		name, id.String(),
	)
	if nil != err {
		s.log.Errorf("bank %q: remove member: %s", name, err)
		return false
	}
	return tag.RowsAffected() > 0
}

func (s *Store) BankMembers(name string) []holder.ID {
	s.Lock()
	defer s.Unlock()

	if nil == s.pool {
		return nil
	}
	ctx, cancel := operationContext()
	defer cancel()

	rows, err := s.pool.Query(ctx,
		"SELECT uuid FROM bank_members WHERE bank = $1 ORDER BY owner DESC, uuid",
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
	if nil == s.pool {
		return ids
	}
	ctx, cancel := operationContext()
	defer cancel()

	rows, err := s.pool.Query(ctx, "SELECT DISTINCT uuid FROM accounts ORDER BY uuid")
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

	if nil == s.pool {
		return false
	}
	ctx, cancel := operationContext()
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if nil != err {
		s.log.Errorf("holder %s: remove begin: %s", id, err)
		return false
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, "DELETE FROM accounts WHERE uuid = $1", id.String())
	if nil != err {
		s.log.Errorf("holder %s: remove: %s", id, err)
		return false
	}
	if _, err := tx.Exec(ctx, "DELETE FROM transactions WHERE uuid = $1", id.String()); nil != err {
		s.log.Errorf("holder %s: remove journal: %s", id, err)
		return false
	}
	if err := tx.Commit(ctx); nil != err {
		s.log.Errorf("holder %s: remove commit: %s", id, err)
		return false
	}
	return tag.RowsAffected() > 0
}

// caller holds s.Mutex
func (s *Store) bankExists(ctx context.Context, name string) bool {
	var n int
	err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM bank_registry WHERE bank = $1",
		name,
	).Scan(&n)
	if nil != err {
		s.log.Errorf("bank %q: exists: %s", name, err)
		return false
	}
	return n > 0
}
