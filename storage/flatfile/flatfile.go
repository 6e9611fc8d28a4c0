// SPDX-License-Identifier: ISC
// Copyright (c) 2020-2026 Ecovault Authors
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package flatfile - ledger backend storing one JSON document per
// holder plus a single document for all banks
//
// There is no cross-process atomicity: the conditional withdraw is
// atomic only relative to other calls in this process, which is
// sufficient because the locking package already serialises in-process
// access per account.
package flatfile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bitmark-inc/logger"

	"github.com/ecovault/ecovaultd/currency"
	"github.com/ecovault/ecovaultd/fault"
	"github.com/ecovault/ecovaultd/holder"
	"github.com/ecovault/ecovaultd/storage"
)

// Configuration - from the database.flatfile section
type Configuration struct {
	Directory string `gluamapper:"directory" json:"directory"`
}

const (
	holderDirectory = "holders"
	banksFile       = "banks.json"
	fileSuffix      = ".json"
	filePermissions = 0600
	dirPermissions  = 0700
)

// on-disk document for one holder
type holderRecord struct {
	Balances     map[currency.Code]float64 `json:"balances"`
	Transactions []storage.Transaction     `json:"transactions,omitempty"`
}

// on-disk document for one bank
type bankRecord struct {
	Owner    holder.ID                 `json:"owner"`
	Members  []holder.ID               `json:"members"`
	Balances map[currency.Code]float64 `json:"balances"`
}

// Store - a flatfile backend instance
type Store struct {
	sync.Mutex // guards all file access

	directory string
	log       *logger.L
	loaded    bool
}

// New - create a backend for the configured data directory
func New(configuration *Configuration) *Store {
	return &Store{
		directory: configuration.Directory,
	}
}

// Init - create the directory layout
func (s *Store) Init() error {
	s.Lock()
	defer s.Unlock()

	if nil == s.log {
		s.log = logger.New("storage-flatfile")
	}
	if err := os.MkdirAll(filepath.Join(s.directory, holderDirectory), dirPermissions); nil != err {
		s.log.Errorf("init: mkdir: %s", err)
		return fault.ErrStorageInitialiseFailed
	}
	return nil
}

// Load - verify the directory is usable
func (s *Store) Load() error {
	s.Lock()
	defer s.Unlock()

	if nil == s.log {
		s.log = logger.New("storage-flatfile")
	}
	info, err := os.Stat(filepath.Join(s.directory, holderDirectory))
	if nil != err || !info.IsDir() {
		s.log.Errorf("load: %s", err)
		return fault.ErrStorageLoadFailed
	}
	s.loaded = true
	return nil
}

// Shutdown - nothing held open between calls
func (s *Store) Shutdown() {
	s.Lock()
	s.loaded = false
	s.Unlock()
}

// IsConnected - true once loaded; files have no connection to probe
func (s *Store) IsConnected() bool {
	s.Lock()
	defer s.Unlock()
	return s.loaded
}

// ----- holder operations -----

func (s *Store) Balance(id holder.ID, c currency.Code) float64 {
	s.Lock()
	defer s.Unlock()

	return s.readHolder(id).Balances[c]
}

func (s *Store) SetBalance(id holder.ID, c currency.Code, amount float64) {
	s.Lock()
	defer s.Unlock()

	r := s.readHolder(id)
	r.Balances[c] = amount
	s.writeHolder(id, r)
}

func (s *Store) TryWithdraw(id holder.ID, c currency.Code, amount float64) bool {
	s.Lock()
	defer s.Unlock()

	r := s.readHolder(id)
	if r.Balances[c] < amount {
		return false
	}
	r.Balances[c] -= amount
	return s.writeHolder(id, r)
}

func (s *Store) Deposit(id holder.ID, c currency.Code, amount float64) {
	s.Lock()
	defer s.Unlock()

	r := s.readHolder(id)
	r.Balances[c] += amount
	s.writeHolder(id, r)
}

func (s *Store) AllBalances(c currency.Code) map[holder.ID]float64 {
	s.Lock()
	defer s.Unlock()

	all := map[holder.ID]float64{}
	for _, id := range s.listHolders() {
		if balance, ok := s.readHolder(id).Balances[c]; ok {
			all[id] = balance
		}
	}
	return all
}

// ----- journal -----

func (s *Store) LogTransaction(tx storage.Transaction) {
	s.Lock()
	defer s.Unlock()

	r := s.readHolder(tx.Holder)
	r.Transactions = append(r.Transactions, tx)
	s.writeHolder(tx.Holder, r)
}

func (s *Store) Transactions(id holder.ID, c currency.Code) []storage.Transaction {
	s.Lock()
	defer s.Unlock()

	var matched []storage.Transaction
	for _, tx := range s.readHolder(id).Transactions {
		if tx.Currency == c {
			matched = append(matched, tx)
		}
	}
	sort.SliceStable(matched, func(i int, j int) bool {
		return matched[i].Timestamp > matched[j].Timestamp
	})
	return matched
}

// ----- bank operations -----

func (s *Store) CreateBank(name string, owner holder.ID) bool {
	if "" == name {
		return false
	}
	s.Lock()
	defer s.Unlock()

	banks := s.readBanks()
	if _, ok := banks[name]; ok {
		return false
	}
	banks[name] = &bankRecord{
		Owner:    owner,
		Members:  []holder.ID{owner},
		Balances: map[currency.Code]float64{},
	}
	return s.writeBanks(banks)
}

func (s *Store) DeleteBank(name string) bool {
	s.Lock()
	defer s.Unlock()

	banks := s.readBanks()
	if _, ok := banks[name]; !ok {
		return false
	}
	delete(banks, name)
	return s.writeBanks(banks)
}

func (s *Store) BankExists(name string) bool {
	s.Lock()
	defer s.Unlock()

	_, ok := s.readBanks()[name]
	return ok
}

func (s *Store) BankBalance(name string, c currency.Code) float64 {
	s.Lock()
	defer s.Unlock()

	if bank, ok := s.readBanks()[name]; ok {
		return bank.Balances[c]
	}
	return 0
}

func (s *Store) SetBankBalance(name string, c currency.Code, amount float64) {
	s.Lock()
	defer s.Unlock()

	banks := s.readBanks()
	bank, ok := banks[name]
	if !ok {
		return
	}
	bank.Balances[c] = amount
	s.writeBanks(banks)
}

func (s *Store) TryWithdrawBank(name string, c currency.Code, amount float64) bool {
	s.Lock()
	defer s.Unlock()

	banks := s.readBanks()
	bank, ok := banks[name]
	if !ok || bank.Balances[c] < amount {
		return false
	}
	bank.Balances[c] -= amount
	return s.writeBanks(banks)
}

func (s *Store) DepositBank(name string, c currency.Code, amount float64) {
	s.Lock()
	defer s.Unlock()

	banks := s.readBanks()
	bank, ok := banks[name]
	if !ok {
		return
	}
	bank.Balances[c] += amount
	s.writeBanks(banks)
}

func (s *Store) Banks() []string {
	s.Lock()
	defer s.Unlock()

	banks := s.readBanks()
	names := make([]string, 0, len(banks))
	for name := range banks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Store) IsBankOwner(name string, id holder.ID) bool {
	s.Lock()
	defer s.Unlock()

	if bank, ok := s.readBanks()[name]; ok {
		return bank.Owner == id
	}
	return false
}

func (s *Store) IsBankMember(name string, id holder.ID) bool {
	s.Lock()
	defer s.Unlock()

	bank, ok := s.readBanks()[name]
	if !ok {
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

	banks := s.readBanks()
	bank, ok := banks[name]
	if !ok {
		return false
	}
	for _, m := range bank.Members {
		if m == id {
			return false
		}
	}
	bank.Members = append(bank.Members, id)
	return s.writeBanks(banks)
}

func (s *Store) RemoveBankMember(name string, id holder.ID) bool {
	s.Lock()
	defer s.Unlock()

	banks := s.readBanks()
	bank, ok := banks[name]
	if !ok {
		return false
	}
	for i, m := range bank.Members {
		if m == id {
			bank.Members = append(bank.Members[:i], bank.Members[i+1:]...)
			return s.writeBanks(banks)
		}
	}
	return false
}

func (s *Store) BankMembers(name string) []holder.ID {
	s.Lock()
	defer s.Unlock()

	if bank, ok := s.readBanks()[name]; ok {
		members := make([]holder.ID, len(bank.Members))
		copy(members, bank.Members)
		return members
	}
	return nil
}

// ----- maintenance primitives -----

func (s *Store) Holders() []holder.ID {
	s.Lock()
	defer s.Unlock()

	return s.listHolders()
}

func (s *Store) RemoveHolder(id holder.ID) bool {
	s.Lock()
	defer s.Unlock()

	err := os.Remove(s.holderPath(id))
	if nil != err {
		return false
	}
	return true
}

// ----- internal file plumbing, caller holds s.Mutex -----

func (s *Store) holderPath(id holder.ID) string {
	return filepath.Join(s.directory, holderDirectory, id.String()+fileSuffix)
}

func (s *Store) readHolder(id holder.ID) *holderRecord {
	r := &holderRecord{
		Balances: map[currency.Code]float64{},
	}
	data, err := os.ReadFile(s.holderPath(id))
	if nil != err {
		return r // absent record reads as all zero
	}
	if err := json.Unmarshal(data, r); nil != err {
		s.log.Errorf("holder %s: corrupt record: %s", id, err)
		return &holderRecord{Balances: map[currency.Code]float64{}}
	}
	if nil == r.Balances {
		r.Balances = map[currency.Code]float64{}
	}
	return r
}

func (s *Store) writeHolder(id holder.ID, r *holderRecord) bool {
	data, err := json.MarshalIndent(r, "", "  ")
	if nil != err {
		s.log.Errorf("holder %s: marshal: %s", id, err)
		return false
	}
	return s.atomicWrite(s.holderPath(id), data)
}

func (s *Store) listHolders() []holder.ID {
	entries, err := os.ReadDir(filepath.Join(s.directory, holderDirectory))
	if nil != err {
		s.log.Errorf("list holders: %s", err)
		return nil
	}
	ids := make([]holder.ID, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		id, err := holder.FromString(strings.TrimSuffix(name, fileSuffix))
		if nil != err {
			continue // skip anything that is not a holder file
		}
		ids = append(ids, id)
	}
	return ids
}

func (s *Store) readBanks() map[string]*bankRecord {
	banks := map[string]*bankRecord{}
	data, err := os.ReadFile(filepath.Join(s.directory, banksFile))
	if nil != err {
		return banks
	}
	if err := json.Unmarshal(data, &banks); nil != err {
		s.log.Errorf("banks: corrupt record: %s", err)
		return map[string]*bankRecord{}
	}
	return banks
}

func (s *Store) writeBanks(banks map[string]*bankRecord) bool {
	data, err := json.MarshalIndent(banks, "", "  ")
	if nil != err {
		s.log.Errorf("banks: marshal: %s", err)
		return false
	}
	return s.atomicWrite(filepath.Join(s.directory, banksFile), data)
}

// write via rename so a crash mid-write cannot truncate a record
func (s *Store) atomicWrite(path string, data []byte) bool {
	temporary := path + ".tmp"
	if err := os.WriteFile(temporary, data, filePermissions); nil != err {
		s.log.Errorf("write %s: %s", temporary, err)
		return false
	}
	if err := os.Rename(temporary, path); nil != err {
		s.log.Errorf("rename %s: %s", path, err)
		return false
	}
	return true
}
