// SPDX-License-Identifier: ISC
// Copyright (c) 2020-2026 Ecovault Authors
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package locking_test

import (
	"sync"
	"testing"

	"github.com/ecovault/ecovaultd/holder"
	"github.com/ecovault/ecovaultd/locking"
)

func TestSameKeySameLock(t *testing.T) {
	a, _ := holder.FromString("11111111-2222-3333-4444-555555555555")

	if locking.Holder(a) != locking.Holder(a) {
		t.Fatalf("same holder produced different locks")
	}
	if locking.Bank("vault") != locking.Bank("vault") {
		t.Fatalf("same bank produced different locks")
	}
}

func TestDistinctKeys(t *testing.T) {
	a, _ := holder.FromString("11111111-2222-3333-4444-555555555555")
	b, _ := holder.FromString("11111111-2222-3333-4444-555555555556")

	if locking.Holder(a) == locking.Holder(b) {
		t.Fatalf("different holders share a lock")
	}
	if locking.Bank("vault") == locking.Bank("Vault") {
		t.Fatalf("bank names are case sensitive and must not share a lock")
	}
}

func TestSerialisation(t *testing.T) {
	a, _ := holder.FromString("21111111-2222-3333-4444-555555555555")

	n := 0
	wg := sync.WaitGroup{}
	for i := 0; i < 50; i += 1 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l := locking.Holder(a)
			l.Lock()
			n += 1 // data race unless the lock serialises
			l.Unlock()
		}()
	}
	wg.Wait()

	if 50 != n {
		t.Fatalf("lost updates: %d  expected: %d", n, 50)
	}
}

func TestConcurrentFirstUse(t *testing.T) {
	id, _ := holder.FromString("31111111-2222-3333-4444-555555555555")

	locks := make([]*sync.Mutex, 20)
	wg := sync.WaitGroup{}
	for i := 0; i < len(locks); i += 1 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			locks[i] = locking.Holder(id)
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(locks); i += 1 {
		if locks[0] != locks[i] {
			t.Fatalf("racey first use created distinct locks")
		}
	}
}
