// SPDX-License-Identifier: ISC
// Copyright (c) 2020-2026 Ecovault Authors
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package mongodb - ledger backend on a document database
//
// Three collections: balances holds one document per holder and
// currency, banks one document per bank with an embedded balance map,
// transactions the append-only journal. The conditional withdraw is a
// findOneAndUpdate whose filter requires a sufficient balance, atomic
// inside the server.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bitmark-inc/logger"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/ecovault/ecovaultd/currency"
	"github.com/ecovault/ecovaultd/fault"
	"github.com/ecovault/ecovaultd/holder"
	"github.com/ecovault/ecovaultd/storage"
)

// Configuration - from the database.mongodb section
type Configuration struct {
	URI      string `gluamapper:"uri" json:"uri"`
	Database string `gluamapper:"database" json:"database"`
}

const queryTimeout = 5 * time.Second

const (
	balancesCollection     = "balances"
	banksCollection        = "banks"
	transactionsCollection = "transactions"
)

// Store - a document database backend instance
type Store struct {
	sync.Mutex // serialises read-modify-write member updates

	configuration Configuration
	client        *mongo.Client
	balances      *mongo.Collection
	banks         *mongo.Collection
	transactions  *mongo.Collection
	log           *logger.L
}

// New - create a backend for the configured server
func New(configuration *Configuration) *Store {
	return &Store{
		configuration: *configuration,
	}
}

// Init - connect to the server and verify it is reachable
func (s *Store) Init() error {
	s.Lock()
	defer s.Unlock()

	if nil == s.log {
		s.log = logger.New("storage-mongodb")
	}
	if nil != s.client {
		return nil
	}
	ctx, cancel := operationContext()
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(s.configuration.URI))
	if nil != err {
		s.log.Errorf("init: connect: %s", err)
		return fault.ErrStorageInitialiseFailed
	}
	if err := client.Ping(ctx, readpref.Primary()); nil != err {
		s.log.Errorf("init: ping: %s", err)
		client.Disconnect(ctx)
		return fault.ErrStorageInitialiseFailed
	}
	s.client = client
	return nil
}

// Load - bind the collection handles and create the journal index
func (s *Store) Load() error {
	s.Lock()
	defer s.Unlock()

	if nil == s.client {
		return fault.ErrStorageNotConnected
	}
	database := s.client.Database(s.configuration.Database)
	s.balances = database.Collection(balancesCollection)
	s.banks = database.Collection(banksCollection)
	s.transactions = database.Collection(transactionsCollection)

	ctx, cancel := operationContext()
	defer cancel()
	_, err := s.transactions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "uuid", Value: 1},
			{Key: "currency", Value: 1},
			{Key: "timestamp", Value: -1},
		},
	})
	if nil != err {
		s.log.Errorf("load: index: %s", err)
		return fault.ErrStorageLoadFailed
	}
	return nil
}

// Shutdown - disconnect from the server
func (s *Store) Shutdown() {
	s.Lock()
	defer s.Unlock()

	if nil != s.client {
		ctx, cancel := operationContext()
		s.client.Disconnect(ctx)
		cancel()
		s.client = nil
		s.balances = nil
		s.banks = nil
		s.transactions = nil
	}
}

// IsConnected - true while the server answers a ping
func (s *Store) IsConnected() bool {
	s.Lock()
	defer s.Unlock()

	if nil == s.client {
		return false
	}
	ctx, cancel := operationContext()
	defer cancel()
	return nil == s.client.Ping(ctx, readpref.Primary())
}

func operationContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), queryTimeout)
}

type balanceDocument struct {
	UUID     string  `bson:"uuid"`
	Currency string  `bson:"currency"`
	Balance  float64 `bson:"balance"`
}

type bankDocument struct {
	Name     string             `bson:"name"`
	Owner    string             `bson:"owner"`
	Members  []string           `bson:"members"`
	Balances map[string]float64 `bson:"balances"`
}

type transactionDocument struct {
	UUID      string  `bson:"uuid"`
	Currency  string  `bson:"currency"`
	Amount    float64 `bson:"amount"`
	Timestamp int64   `bson:"timestamp"`
}

// ----- holder operations -----

func (s *Store) Balance(id holder.ID, c currency.Code) float64 {
	s.Lock()
	defer s.Unlock()

	if nil == s.balances {
		return 0
	}
	ctx, cancel := operationContext()
	defer cancel()

	var doc balanceDocument
	err := s.balances.FindOne(ctx, bson.M{
		"uuid":     id.String(),
		"currency": string(c),
	}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0
	} else if nil != err {
		s.log.Errorf("holder %s: find: %s", id, err)
		return 0
	}
	return doc.Balance
}

func (s *Store) SetBalance(id holder.ID, c currency.Code, amount float64) {
	s.Lock()
	defer s.Unlock()

	if nil == s.balances {
		return
	}
	ctx, cancel := operationContext()
	defer cancel()

	_, err := s.balances.UpdateOne(ctx,
		bson.M{"uuid": id.String(), "currency": string(c)},
		bson.M{"$set": bson.M{"balance": amount}},
		options.Update().SetUpsert(true),
	)
	if nil != err {
		s.log.Errorf("holder %s: set: %s", id, err)
	}
}

func (s *Store) TryWithdraw(id holder.ID, c currency.Code, amount float64) bool {
	s.Lock()
	defer s.Unlock()

	if nil == s.balances {
		return false
	}
	ctx, cancel := operationContext()
	defer cancel()

	// fresh accounts read as zero, so a zero withdrawal must still
	// succeed; materialise the document first
	_, err := s.balances.UpdateOne(ctx,
		bson.M{"uuid": id.String(), "currency": string(c)},
		bson.M{"$setOnInsert": bson.M{"balance": 0.0}},
		options.Update().SetUpsert(true),
	)
	if nil != err {
		s.log.Errorf("holder %s: ensure: %s", id, err)
		return false
	}
	err = s.balances.FindOneAndUpdate(ctx,
		bson.M{
			"uuid":     id.String(),
			"currency": string(c),
			"balance":  bson.M{"$gte": amount},
		},
		bson.M{"$inc": bson.M{"balance": -amount}},
	).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false
	} else if nil != err {
		s.log.Errorf("holder %s: withdraw: %s", id, err)
		return false
	}
	return true
}

func (s *Store) Deposit(id holder.ID, c currency.Code, amount float64) {
	s.Lock()
	defer s.Unlock()

	if nil == s.balances {
		return
	}
	ctx, cancel := operationContext()
	defer cancel()

	_, err := s.balances.UpdateOne(ctx,
		bson.M{"uuid": id.String(), "currency": string(c)},
		bson.M{"$inc": bson.M{"balance": amount}},
		options.Update().SetUpsert(true),
	)
	if nil != err {
		s.log.Errorf("holder %s: deposit: %s", id, err)
	}
}

func (s *Store) AllBalances(c currency.Code) map[holder.ID]float64 {
	s.Lock()
	defer s.Unlock()

	all := map[holder.ID]float64{}
	if nil == s.balances {
		return all
	}
	ctx, cancel := operationContext()
	defer cancel()

	cursor, err := s.balances.Find(ctx, bson.M{"currency": string(c)})
	if nil != err {
		s.log.Errorf("balances: find: %s", err)
		return all
	}
	defer cursor.Close(ctx)
	for cursor.Next(ctx) {
		var doc balanceDocument
		if err := cursor.Decode(&doc); nil != err {
			s.log.Errorf("balances: decode: %s", err)
			continue
		}
		id, err := holder.FromString(doc.UUID)
		if nil != err {
			s.log.Errorf("balances: bad identifier %q", doc.UUID)
			continue
		}
		all[id] = doc.Balance
	}
	return all
}

// ----- journal -----

func (s *Store) LogTransaction(tx storage.Transaction) {
	s.Lock()
	defer s.Unlock()

	if nil == s.transactions {
		return
	}
	ctx, cancel := operationContext()
	defer cancel()

	_, err := s.transactions.InsertOne(ctx, transactionDocument{
		UUID:      tx.Holder.String(),
		Currency:  string(tx.Currency),
		Amount:    tx.Amount,
		Timestamp: tx.Timestamp,
	})
	if nil != err {
		s.log.Errorf("journal %s: insert: %s", tx.Holder, err)
	}
}

func (s *Store) Transactions(id holder.ID, c currency.Code) []storage.Transaction {
	s.Lock()
	defer s.Unlock()

	if nil == s.transactions {
		return nil
	}
	ctx, cancel := operationContext()
	defer cancel()

	cursor, err := s.transactions.Find(ctx,
		bson.M{"uuid": id.String(), "currency": string(c)},
		options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}}),
	)
	if nil != err {
		s.log.Errorf("journal %s: find: %s", id, err)
		return nil
	}
	defer cursor.Close(ctx)

	var txs []storage.Transaction
	for cursor.Next(ctx) {
		var doc transactionDocument
		if err := cursor.Decode(&doc); nil != err {
			s.log.Errorf("journal %s: decode: %s", id, err)
			continue
		}
		txs = append(txs, storage.Transaction{
			Holder:    id,
			Currency:  c,
			Amount:    doc.Amount,
			Timestamp: doc.Timestamp,
		})
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

	if nil == s.banks {
		return false
	}
	ctx, cancel := operationContext()
	defer cancel()

	if nil != s.findBank(ctx, name) {
		return false
	}
	_, err := s.banks.InsertOne(ctx, bankDocument{
		Name:     name,
		Owner:    owner.String(),
		Members:  []string{owner.String()},
		Balances: map[string]float64{},
	})
	if nil != err {
		s.log.Errorf("bank %q: create: %s", name, err)
		return false
	}
	return true
}

func (s *Store) DeleteBank(name string) bool {
	s.Lock()
	defer s.Unlock()

	if nil == s.banks {
		return false
	}
	ctx, cancel := operationContext()
	defer cancel()

	result, err := s.banks.DeleteOne(ctx, bson.M{"name": name})
	if nil != err {
		s.log.Errorf("bank %q: delete: %s", name, err)
		return false
	}
	return result.DeletedCount > 0
}

func (s *Store) BankExists(name string) bool {
	s.Lock()
	defer s.Unlock()

	if nil == s.banks {
		return false
	}
	ctx, cancel := operationContext()
	defer cancel()
	return nil != s.findBank(ctx, name)
}

func (s *Store) BankBalance(name string, c currency.Code) float64 {
	s.Lock()
	defer s.Unlock()

	if nil == s.banks {
		return 0
	}
	ctx, cancel := operationContext()
	defer cancel()

	if bank := s.findBank(ctx, name); nil != bank {
		return bank.Balances[string(c)]
	}
	return 0
}

func (s *Store) SetBankBalance(name string, c currency.Code, amount float64) {
	s.Lock()
	defer s.Unlock()

	if nil == s.banks {
		return
	}
	ctx, cancel := operationContext()
	defer cancel()

	_, err := s.banks.UpdateOne(ctx,
		bson.M{"name": name},
		bson.M{"$set": bson.M{balanceField(c): amount}},
	)
	if nil != err {
		s.log.Errorf("bank %q: set: %s", name, err)
	}
}

func (s *Store) TryWithdrawBank(name string, c currency.Code, amount float64) bool {
	s.Lock()
	defer s.Unlock()

	if nil == s.banks {
		return false
	}
	ctx, cancel := operationContext()
	defer cancel()

	bank := s.findBank(ctx, name)
	if nil == bank {
		return false
	}
	if bank.Balances[string(c)] < amount {
		return false
	}
	err := s.banks.FindOneAndUpdate(ctx,
		bson.M{
			"name":          name,
			balanceField(c): bson.M{"$gte": amount},
		},
		bson.M{"$inc": bson.M{balanceField(c): -amount}},
	).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		// a balance map entry may not exist yet; the pre-check above
		// accepted a zero withdrawal, record it as a no-op
		return 0 == amount
	} else if nil != err {
		s.log.Errorf("bank %q: withdraw: %s", name, err)
		return false
	}
	return true
}

func (s *Store) DepositBank(name string, c currency.Code, amount float64) {
	s.Lock()
	defer s.Unlock()

	if nil == s.banks {
		return
	}
	ctx, cancel := operationContext()
	defer cancel()

	_, err := s.banks.UpdateOne(ctx,
		bson.M{"name": name},
		bson.M{"$inc": bson.M{balanceField(c): amount}},
	)
	if nil != err {
		s.log.Errorf("bank %q: deposit: %s", name, err)
	}
}

func (s *Store) Banks() []string {
	s.Lock()
	defer s.Unlock()

	var names []string
	if nil == s.banks {
		return names
	}
	ctx, cancel := operationContext()
	defer cancel()

	cursor, err := s.banks.Find(ctx, bson.M{})
	if nil != err {
		s.log.Errorf("banks: find: %s", err)
		return names
	}
	defer cursor.Close(ctx)
	for cursor.Next(ctx) {
		var doc bankDocument
		if err := cursor.Decode(&doc); nil != err {
			continue
		}
		names = append(names, doc.Name)
	}
	return names
}

func (s *Store) IsBankOwner(name string, id holder.ID) bool {
	s.Lock()
	defer s.Unlock()

	if nil == s.banks {
		return false
	}
	ctx, cancel := operationContext()
	defer cancel()

	if bank := s.findBank(ctx, name); nil != bank {
		return bank.Owner == id.String()
	}
	return false
}

func (s *Store) IsBankMember(name string, id holder.ID) bool {
	s.Lock()
	defer s.Unlock()

	if nil == s.banks {
		return false
	}
	ctx, cancel := operationContext()
	defer cancel()

	bank := s.findBank(ctx, name)
	if nil == bank {
		return false
	}
	for _, m := range bank.Members {
		if m == id.String() {
			return true
		}
	}
	return false
}

func (s *Store) AddBankMember(name string, id holder.ID) bool {
	s.Lock()
	defer s.Unlock()

	if nil == s.banks {
		return false
	}
	ctx, cancel := operationContext()
	defer cancel()

	bank := s.findBank(ctx, name)
	if nil == bank {
		return false
	}
	for _, m := range bank.Members {
		if m == id.String() {
			return false
		}
	}
	_, err := s.banks.UpdateOne(ctx,
		bson.M{"name": name},
		bson.M{"$addToSet": bson.M{"members": id.String()}},
	)
	if nil != err {
		s.log.Errorf("bank %q: add member: %s", name, err)
		return false
	}
	return true
}

func (s *Store) RemoveBankMember(name string, id holder.ID) bool {
	s.Lock()
	defer s.Unlock()

	if nil == s.banks {
		return false
	}
	ctx, cancel := operationContext()
	defer cancel()

	bank := s.findBank(ctx, name)
	if nil == bank {
		return false
	}
	found := false
	for _, m := range bank.Members {
		if m == id.String() {
			found = true
			break
		}
	}
	if !found {
		return false
	}
	_, err := s.banks.UpdateOne(ctx,
		bson.M{"name": name},
		bson.M{"$pull": bson.M{"members": id.String()}},
	)
	if nil != err {
		s.log.Errorf("bank %q: remove member: %s", name, err)
		return false
	}
	return true
}

func (s *Store) BankMembers(name string) []holder.ID {
	s.Lock()
	defer s.Unlock()

	if nil == s.banks {
		return nil
	}
	ctx, cancel := operationContext()
	defer cancel()

	bank := s.findBank(ctx, name)
	if nil == bank {
		return nil
	}
	var members []holder.ID
	for _, m := range bank.Members {
		id, err := holder.FromString(m)
		if nil != err {
			s.log.Errorf("bank %q: bad member %q", name, m)
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
	if nil == s.balances {
		return ids
	}
	ctx, cancel := operationContext()
	defer cancel()

	values, err := s.balances.Distinct(ctx, "uuid", bson.M{})
	if nil != err {
		s.log.Errorf("holders: distinct: %s", err)
		return ids
	}
	for _, value := range values {
		uuid, ok := value.(string)
		if !ok {
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

	if nil == s.balances {
		return false
	}
	ctx, cancel := operationContext()
	defer cancel()

	result, err := s.balances.DeleteMany(ctx, bson.M{"uuid": id.String()})
	if nil != err {
		s.log.Errorf("holder %s: remove: %s", id, err)
		return false
	}
	if _, err := s.transactions.DeleteMany(ctx, bson.M{"uuid": id.String()}); nil != err {
		s.log.Errorf("holder %s: remove journal: %s", id, err)
	}
	return result.DeletedCount > 0
}

// caller holds s.Mutex
func (s *Store) findBank(ctx context.Context, name string) *bankDocument {
	var doc bankDocument
	err := s.banks.FindOne(ctx, bson.M{"name": name}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil
	} else if nil != err {
		s.log.Errorf("bank %q: find: %s", name, err)
		return nil
	}
	if nil == doc.Balances {
		doc.Balances = map[string]float64{}
	}
	return &doc
}

func balanceField(c currency.Code) string {
	return fmt.Sprintf("balances.%s", c)
}
