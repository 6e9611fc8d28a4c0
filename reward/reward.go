// SPDX-License-Identifier: ISC
// Copyright (c) 2020-2026 Ecovault Authors
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package reward - once a day claimable deposits
//
// Claim times live in their own JSON file next to the ledger data, not
// in the storage backend, so switching backends never resets
// cooldowns.
package reward

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bitmark-inc/logger"

	"github.com/ecovault/ecovaultd/currency"
	"github.com/ecovault/ecovaultd/fault"
	"github.com/ecovault/ecovaultd/holder"
	"github.com/ecovault/ecovaultd/ledger"
)

const (
	rewardFile = "daily-rewards.json"

	// Cooldown - wait between successful claims
	Cooldown = 24 * time.Hour
)

// globals for this module
type globalDataType struct {
	sync.Mutex

	log  *logger.L
	file string
	last map[string]int64 // holder identifier -> unix millis
	now  func() int64

	initialised bool
}

var globalData globalDataType

// Initialise - load claim times from the data directory
func Initialise(directory string) error {
	globalData.Lock()
	defer globalData.Unlock()

	if globalData.initialised {
		return fault.ErrAlreadyInitialised
	}

	globalData.log = logger.New("reward")
	globalData.log.Info("starting…")

	globalData.file = filepath.Join(directory, rewardFile)
	globalData.last = map[string]int64{}
	globalData.now = func() int64 {
		return time.Now().UnixMilli()
	}

	data, err := os.ReadFile(globalData.file)
	if nil == err {
		if err := json.Unmarshal(data, &globalData.last); nil != err {
			globalData.log.Errorf("corrupt %s: %s", rewardFile, err)
			globalData.last = map[string]int64{}
		}
	} else if !os.IsNotExist(err) {
		globalData.log.Errorf("read %s: %s", rewardFile, err)
		return fault.ErrStorageLoadFailed
	}

	globalData.initialised = true
	return nil
}

// Finalise - drop the in-memory claim table
func Finalise() error {
	if !globalData.initialised {
		return fault.ErrNotInitialised
	}

	globalData.log.Info("shutting down…")
	globalData.log.Flush()

	globalData.Lock()
	globalData.last = nil
	globalData.initialised = false
	globalData.Unlock()
	return nil
}

// caller holds globalData.Mutex
func save() {
	data, err := json.MarshalIndent(globalData.last, "", "  ")
	if nil != err {
		globalData.log.Errorf("marshal: %s", err)
		return
	}
	temporary := globalData.file + ".tmp"
	if err := os.WriteFile(temporary, data, 0o600); nil != err {
		globalData.log.Errorf("write %s: %s", temporary, err)
		return
	}
	if err := os.Rename(temporary, globalData.file); nil != err {
		globalData.log.Errorf("rename %s: %s", temporary, err)
	}
}

// LastClaim - time of the holder's last successful claim, zero if none
func LastClaim(id holder.ID) time.Time {
	globalData.Lock()
	defer globalData.Unlock()

	if !globalData.initialised {
		return time.Time{}
	}
	millis, ok := globalData.last[id.String()]
	if !ok {
		return time.Time{}
	}
	return time.UnixMilli(millis)
}

// Reset - clear a holder's cooldown
func Reset(id holder.ID) {
	globalData.Lock()
	defer globalData.Unlock()

	if !globalData.initialised {
		return
	}
	delete(globalData.last, id.String())
	save()
}

// Claim - pay the daily reward if the cooldown has elapsed
//
// A refused claim returns the remaining wait; a granted claim deposits
// through the normal journalled holder path.
func Claim(id holder.ID, c currency.Code, amount float64) (bool, time.Duration, error) {
	globalData.Lock()

	if !globalData.initialised {
		globalData.Unlock()
		return false, 0, fault.ErrNotInitialised
	}

	now := globalData.now()
	previous, claimed := globalData.last[id.String()]
	if claimed {
		elapsed := time.Duration(now-previous) * time.Millisecond
		if elapsed < Cooldown {
			globalData.Unlock()
			return false, Cooldown - elapsed, nil
		}
	}
	// record first so a concurrent claim sees the cooldown
	globalData.last[id.String()] = now
	save()
	globalData.Unlock()

	// deposit outside our own lock; the ledger takes the holder lock
	if err := ledger.Deposit(id, c, amount); nil != err {
		globalData.Lock()
		if claimed {
			globalData.last[id.String()] = previous
		} else {
			delete(globalData.last, id.String())
		}
		save()
		globalData.Unlock()
		return false, 0, err
	}
	return true, 0, nil
}
