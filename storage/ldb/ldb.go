// SPDX-License-Identifier: ISC
// Copyright (c) 2020-2026 Ecovault Authors
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package ldb - ledger backend on an embedded leveldb database
//
// Single database file tree with prefixed key spaces:
//
//	B <id 16> <currency>                 balance, 8 byte big endian float
//	T <id 16> <len> <currency> <ts> <n>  journal record, JSON value
//	K <name>                             bank record, JSON value
//
// leveldb offers no conditional update, so the conditional withdraw is
// an adapter-internal critical section; like the flatfile backend this
// is in-process atomicity only.
package ldb

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"sync"

	"github.com/bitmark-inc/logger"
	"github.com/syndtr/goleveldb/leveldb"
	ldb_util "github.com/syndtr/goleveldb/leveldb/util"

	"github.com/ecovault/ecovaultd/currency"
	"github.com/ecovault/ecovaultd/fault"
	"github.com/ecovault/ecovaultd/holder"
	"github.com/ecovault/ecovaultd/storage"
)

// Configuration - from the database.leveldb section
type Configuration struct {
	Directory string `gluamapper:"directory" json:"directory"`
}

// key space prefixes
const (
	prefixBalance     = 'B'
	prefixTransaction = 'T'
	prefixBank        = 'K'
)

// stored bank document
type bankRecord struct {
	Owner    holder.ID                 `json:"owner"`
	Members  []holder.ID               `json:"members"`
	Balances map[currency.Code]float64 `json:"balances"`
}

// Store - a leveldb backend instance
type Store struct {
	sync.Mutex // serialises conditional read-modify-write

	directory string
	db        *leveldb.DB
	log       *logger.L
	sequence  uint32 // distinguishes journal keys in the same millisecond
}

// New - create a backend for the configured database directory
func New(configuration *Configuration) *Store {
	return &Store{
		directory: configuration.Directory,
	}
}

// Init - create the database if it does not exist
func (s *Store) Init() error {
	s.Lock()
	defer s.Unlock()

	if nil == s.log {
		s.log = logger.New("storage-ldb")
	}
	if nil != s.db {
		return nil // already open is not an error
	}
	db, err := leveldb.OpenFile(s.directory, nil)
	if nil != err {
		s.log.Errorf("init: open: %s", err)
		return fault.ErrStorageInitialiseFailed
	}
	// Init only proves the database can be created; Load opens it
	// for real use
	db.Close()
	return nil
}

// Load - open the live database handle
func (s *Store) Load() error {
	s.Lock()
	defer s.Unlock()

	if nil == s.log {
		s.log = logger.New("storage-ldb")
	}
	if nil != s.db {
		return nil
	}
	db, err := leveldb.OpenFile(s.directory, nil)
	if nil != err {
		s.log.Errorf("load: open: %s", err)
		return fault.ErrStorageLoadFailed
	}
	s.db = db
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

// IsConnected - true while the database handle is open
func (s *Store) IsConnected() bool {
	s.Lock()
	defer s.Unlock()
	return nil != s.db
}

// ----- holder operations -----

func (s *Store) Balance(id holder.ID, c currency.Code) float64 {
	s.Lock()
	defer s.Unlock()
	return s.readBalance(id, c)
}

func (s *Store) SetBalance(id holder.ID, c currency.Code, amount float64) {
	s.Lock()
	defer s.Unlock()
	s.writeBalance(id, c, amount)
}

func (s *Store) TryWithdraw(id holder.ID, c currency.Code, amount float64) bool {
	s.Lock()
	defer s.Unlock()

	balance := s.readBalance(id, c)
	if balance < amount {
		return false
	}
	return s.writeBalance(id, c, balance-amount)
}

func (s *Store) Deposit(id holder.ID, c currency.Code, amount float64) {
	s.Lock()
	defer s.Unlock()

	s.writeBalance(id, c, s.readBalance(id, c)+amount)
}

func (s *Store) AllBalances(c currency.Code) map[holder.ID]float64 {
	s.Lock()
	defer s.Unlock()

	all := map[holder.ID]float64{}
	if nil == s.db {
		return all
	}
	iter := s.db.NewIterator(ldb_util.BytesPrefix([]byte{prefixBalance}), nil)
	defer iter.Release()
	for iter.Next() {
		key := iter.Key()
		if len(key) <= 1+holder.Length {
			continue
		}
		if currency.Code(key[1+holder.Length:]) != c {
			continue
		}
		var id holder.ID
		copy(id[:], key[1:1+holder.Length])
		all[id] = decodeFloat(iter.Value())
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
	value, err := json.Marshal(tx)
	if nil != err {
		s.log.Errorf("journal %s: marshal: %s", tx.Holder, err)
		return
	}
	s.sequence += 1
	key := transactionPrefix(tx.Holder, tx.Currency)
	key = binary.BigEndian.AppendUint64(key, uint64(tx.Timestamp))
	key = binary.BigEndian.AppendUint32(key, s.sequence)
	if err := s.db.Put(key, value, nil); nil != err {
		s.log.Errorf("journal %s: put: %s", tx.Holder, err)
	}
}

func (s *Store) Transactions(id holder.ID, c currency.Code) []storage.Transaction {
	s.Lock()
	defer s.Unlock()

	if nil == s.db {
		return nil
	}
	var txs []storage.Transaction
	iter := s.db.NewIterator(ldb_util.BytesPrefix(transactionPrefix(id, c)), nil)
	defer iter.Release()

	// keys sort oldest first, so walk backwards for most-recent-first
	for ok := iter.Last(); ok; ok = iter.Prev() {
		var tx storage.Transaction
		if err := json.Unmarshal(iter.Value(), &tx); nil != err {
			s.log.Errorf("journal %s: corrupt record: %s", id, err)
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

	if nil != s.readBank(name) {
		return false
	}
	return s.writeBank(name, &bankRecord{
		Owner:    owner,
		Members:  []holder.ID{owner},
		Balances: map[currency.Code]float64{},
	})
}

func (s *Store) DeleteBank(name string) bool {
	s.Lock()
	defer s.Unlock()

	if nil == s.db || nil == s.readBank(name) {
		return false
	}
	if err := s.db.Delete(bankKey(name), nil); nil != err {
		s.log.Errorf("bank %q: delete: %s", name, err)
		return false
	}
	return true
}

func (s *Store) BankExists(name string) bool {
	s.Lock()
	defer s.Unlock()
	return nil != s.readBank(name)
}

func (s *Store) BankBalance(name string, c currency.Code) float64 {
	s.Lock()
	defer s.Unlock()

	if bank := s.readBank(name); nil != bank {
		return bank.Balances[c]
	}
	return 0
}

func (s *Store) SetBankBalance(name string, c currency.Code, amount float64) {
	s.Lock()
	defer s.Unlock()

	bank := s.readBank(name)
	if nil == bank {
		return
	}
	bank.Balances[c] = amount
	s.writeBank(name, bank)
}

func (s *Store) TryWithdrawBank(name string, c currency.Code, amount float64) bool {
	s.Lock()
	defer s.Unlock()

	bank := s.readBank(name)
	if nil == bank || bank.Balances[c] < amount {
		return false
	}
	bank.Balances[c] -= amount
	return s.writeBank(name, bank)
}

func (s *Store) DepositBank(name string, c currency.Code, amount float64) {
	s.Lock()
	defer s.Unlock()

	bank := s.readBank(name)
	if nil == bank {
		return
	}
	bank.Balances[c] += amount
	s.writeBank(name, bank)
}

func (s *Store) Banks() []string {
	s.Lock()
	defer s.Unlock()

	var names []string
	if nil == s.db {
		return names
	}
	iter := s.db.NewIterator(ldb_util.BytesPrefix([]byte{prefixBank}), nil)
	defer iter.Release()
	for iter.Next() {
		names = append(names, string(iter.Key()[1:]))
	}
	return names
}

func (s *Store) IsBankOwner(name string, id holder.ID) bool {
	s.Lock()
	defer s.Unlock()

	if bank := s.readBank(name); nil != bank {
		return bank.Owner == id
	}
	return false
}

func (s *Store) IsBankMember(name string, id holder.ID) bool {
	s.Lock()
	defer s.Unlock()

	bank := s.readBank(name)
	if nil == bank {
		return false
	}
	for _, m := range bank.Members {
		if m == id {
			return true
		}
	}
	return false
}

func (s *Store) AddBankMember(name string, id holder.ID) bool {
	s.Lock()
	defer s.Unlock()

	bank := s.readBank(name)
	if nil == bank {
		return false
	}
	for _, m := range bank.Members {
		if m == id {
			return false
		}
	}
	bank.Members = append(bank.Members, id)
	return s.writeBank(name, bank)
}

func (s *Store) RemoveBankMember(name string, id holder.ID) bool {
	s.Lock()
	defer s.Unlock()

	bank := s.readBank(name)
	if nil == bank {
		return false
	}
	for i, m := range bank.Members {
		if m == id {
			bank.Members = append(bank.Members[:i], bank.Members[i+1:]...)
			return s.writeBank(name, bank)
		}
	}
	return false
}

func (s *Store) BankMembers(name string) []holder.ID {
	s.Lock()
	defer s.Unlock()

	if bank := s.readBank(name); nil != bank {
		return bank.Members
	}
	return nil
}

// ----- maintenance primitives -----

func (s *Store) Holders() []holder.ID {
	s.Lock()
	defer s.Unlock()

	var ids []holder.ID
	if nil == s.db {
		return ids
	}
	seen := map[holder.ID]struct{}{}
	iter := s.db.NewIterator(ldb_util.BytesPrefix([]byte{prefixBalance}), nil)
	defer iter.Release()
	for iter.Next() {
		key := iter.Key()
		if len(key) <= 1+holder.Length {
			continue
		}
		var id holder.ID
		copy(id[:], key[1:1+holder.Length])
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
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
	batch := new(leveldb.Batch)
	for _, prefix := range [][]byte{
		append([]byte{prefixBalance}, id[:]...),
		append([]byte{prefixTransaction}, id[:]...),
	} {
		iter := s.db.NewIterator(ldb_util.BytesPrefix(prefix), nil)
		for iter.Next() {
			key := make([]byte, len(iter.Key()))
			copy(key, iter.Key())
			batch.Delete(key)
		}
		iter.Release()
	}
	if 0 == batch.Len() {
		return false
	}
	if err := s.db.Write(batch, nil); nil != err {
		s.log.Errorf("holder %s: remove: %s", id, err)
		return false
	}
	return true
}

// ----- internal key/value plumbing, caller holds s.Mutex -----

func balanceKey(id holder.ID, c currency.Code) []byte {
	key := make([]byte, 0, 1+holder.Length+len(c))
	key = append(key, prefixBalance)
	key = append(key, id[:]...)
	return append(key, c...)
}

func transactionPrefix(id holder.ID, c currency.Code) []byte {
	key := make([]byte, 0, 2+holder.Length+len(c)+12)
	key = append(key, prefixTransaction)
	key = append(key, id[:]...)
	key = append(key, byte(len(c)))
	return append(key, c...)
}

func bankKey(name string) []byte {
	return append([]byte{prefixBank}, name...)
}

func encodeFloat(value float64) []byte {
	buffer := make([]byte, 8)
	binary.BigEndian.PutUint64(buffer, math.Float64bits(value))
	return buffer
}

func decodeFloat(buffer []byte) float64 {
	if 8 != len(buffer) {
		return 0
	}
	return math.Float64frombits(binary.BigEndian.Uint64(buffer))
}

func (s *Store) readBalance(id holder.ID, c currency.Code) float64 {
	if nil == s.db {
		return 0
	}
	value, err := s.db.Get(balanceKey(id, c), nil)
	if leveldb.ErrNotFound == err {
		return 0
	} else if nil != err {
		s.log.Errorf("holder %s: get: %s", id, err)
		return 0
	}
	return decodeFloat(value)
}

func (s *Store) writeBalance(id holder.ID, c currency.Code, amount float64) bool {
	if nil == s.db {
		return false
	}
	if err := s.db.Put(balanceKey(id, c), encodeFloat(amount), nil); nil != err {
		s.log.Errorf("holder %s: put: %s", id, err)
		return false
	}
	return true
}

func (s *Store) readBank(name string) *bankRecord {
	if nil == s.db || "" == name {
		return nil
	}
	value, err := s.db.Get(bankKey(name), nil)
	if leveldb.ErrNotFound == err {
		return nil
	} else if nil != err {
		s.log.Errorf("bank %q: get: %s", name, err)
		return nil
	}
	bank := &bankRecord{}
	if err := json.Unmarshal(value, bank); nil != err {
		s.log.Errorf("bank %q: corrupt record: %s", name, err)
		return nil
	}
	if nil == bank.Balances {
		bank.Balances = map[currency.Code]float64{}
	}
	return bank
}

func (s *Store) writeBank(name string, bank *bankRecord) bool {
	value, err := json.Marshal(bank)
	if nil != err {
		s.log.Errorf("bank %q: marshal: %s", name, err)
		return false
	}
	if err := s.db.Put(bankKey(name), value, nil); nil != err {
		s.log.Errorf("bank %q: put: %s", name, err)
		return false
	}
	return true
}
