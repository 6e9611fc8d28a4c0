// SPDX-License-Identifier: ISC
// Copyright (c) 2020-2026 Ecovault Authors
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package preference - per-holder preferred currency
//
// A holder may pick one of the enabled currencies as the one shown and
// spent by default.  The choices live in their own JSON file next to
// the ledger data, like the daily reward claims, so switching backends
// keeps them.
package preference

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/bitmark-inc/logger"

	"github.com/ecovault/ecovaultd/currency"
	"github.com/ecovault/ecovaultd/fault"
	"github.com/ecovault/ecovaultd/holder"
)

const preferenceFile = "currency-preferences.json"

// globals for this module
type globalDataType struct {
	sync.Mutex

	log        *logger.L
	file       string
	currencies *currency.Set
	preferred  map[string]currency.Code // holder identifier -> code

	initialised bool
}

var globalData globalDataType

// Initialise - load stored choices from the data directory
//
// Malformed identifiers and codes are dropped with a warning.
func Initialise(directory string, currencies *currency.Set) error {
	globalData.Lock()
	defer globalData.Unlock()

	if globalData.initialised {
		return fault.ErrAlreadyInitialised
	}

	globalData.log = logger.New("preference")
	globalData.log.Info("starting…")

	globalData.file = filepath.Join(directory, preferenceFile)
	globalData.currencies = currencies
	globalData.preferred = map[string]currency.Code{}

	stored := map[string]string{}
	data, err := os.ReadFile(globalData.file)
	if nil == err {
		if err := json.Unmarshal(data, &stored); nil != err {
			globalData.log.Errorf("corrupt %s: %s", preferenceFile, err)
			stored = map[string]string{}
		}
	} else if !os.IsNotExist(err) {
		globalData.log.Errorf("read %s: %s", preferenceFile, err)
		return fault.ErrStorageLoadFailed
	}

	for key, value := range stored {
		id, err := holder.FromString(key)
		if nil != err {
			globalData.log.Warnf("invalid identifier %q", key)
			continue
		}
		c, err := currency.FromString(value)
		if nil != err {
			globalData.log.Warnf("holder %s: invalid currency %q", id, value)
			continue
		}
		globalData.preferred[id.String()] = c
	}

	globalData.initialised = true
	return nil
}

// Finalise - drop the in-memory table
func Finalise() error {
	if !globalData.initialised {
		return fault.ErrNotInitialised
	}

	globalData.log.Info("shutting down…")
	globalData.log.Flush()

	globalData.Lock()
	globalData.preferred = nil
	globalData.currencies = nil
	globalData.initialised = false
	globalData.Unlock()
	return nil
}

// caller holds globalData.Mutex
func save() {
	data, err := json.MarshalIndent(globalData.preferred, "", "  ")
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

// Preferred - the holder's chosen currency
//
// Falls back to the deployment default when nothing was chosen or the
// chosen currency is no longer enabled.
func Preferred(id holder.ID) currency.Code {
	globalData.Lock()
	defer globalData.Unlock()

	if !globalData.initialised {
		return currency.DefaultCode
	}
	if c, ok := globalData.preferred[id.String()]; ok && globalData.currencies.IsEnabled(c) {
		return c
	}
	return globalData.currencies.Default()
}

// Set - record a holder's choice; the currency must be enabled
func Set(id holder.ID, c currency.Code) error {
	globalData.Lock()
	defer globalData.Unlock()

	if !globalData.initialised {
		return fault.ErrNotInitialised
	}
	if !globalData.currencies.IsEnabled(c) {
		return fault.ErrInvalidCurrency
	}
	globalData.preferred[id.String()] = c
	save()
	return nil
}

// Clear - drop a holder's choice, reverting them to the default
func Clear(id holder.ID) {
	globalData.Lock()
	defer globalData.Unlock()

	if !globalData.initialised {
		return
	}
	if _, ok := globalData.preferred[id.String()]; ok {
		delete(globalData.preferred, id.String())
		save()
	}
}
