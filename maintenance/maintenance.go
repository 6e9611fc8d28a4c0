// SPDX-License-Identifier: ISC
// Copyright (c) 2020-2026 Ecovault Authors
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package maintenance - reclaim storage from unresolvable holders
//
// A holder record is orphaned when the injected resolver no longer
// knows its identifier. Preview reports the orphans, cleanup removes
// them. Neither takes a global lock across the scan, so the result is
// best effort when live traffic interleaves.
package maintenance

import (
	"sync"
	"time"

	"github.com/bitmark-inc/logger"
	cache "github.com/patrickmn/go-cache"

	"github.com/ecovault/ecovaultd/fault"
	"github.com/ecovault/ecovaultd/holder"
	"github.com/ecovault/ecovaultd/locking"
	"github.com/ecovault/ecovaultd/storage"
)

// Resolver - the external identity directory
//
// Resolve returns the display name for a known identifier and false
// for one that no longer exists.
type Resolver interface {
	Resolve(id holder.ID) (string, bool)
}

const (
	resolveCacheExpiry  = 5 * time.Minute
	resolveCacheCleanup = 10 * time.Minute
)

// globals for this module
type globalDataType struct {
	sync.RWMutex

	log      *logger.L
	store    storage.Provider
	resolver Resolver
	resolved *cache.Cache

	initialised bool
}

var globalData globalDataType

// Initialise - bind the scanner to a backend and a resolver
func Initialise(store storage.Provider, resolver Resolver) error {
	globalData.Lock()
	defer globalData.Unlock()

	if globalData.initialised {
		return fault.ErrAlreadyInitialised
	}

	globalData.log = logger.New("maintenance")
	globalData.log.Info("starting…")

	globalData.store = store
	globalData.resolver = resolver
	globalData.resolved = cache.New(resolveCacheExpiry, resolveCacheCleanup)

	globalData.initialised = true
	return nil
}

// Finalise - release the bindings
func Finalise() error {
	if !globalData.initialised {
		return fault.ErrNotInitialised
	}

	globalData.log.Info("shutting down…")
	globalData.log.Flush()

	globalData.Lock()
	globalData.store = nil
	globalData.resolver = nil
	globalData.resolved = nil
	globalData.initialised = false
	globalData.Unlock()
	return nil
}

// only positive resolutions are cached; a missing identifier must be
// re-checked at cleanup time
func isKnown(resolver Resolver, resolved *cache.Cache, id holder.ID) bool {
	key := id.String()
	if _, hit := resolved.Get(key); hit {
		return true
	}
	name, ok := resolver.Resolve(id)
	if ok {
		resolved.Set(key, name, cache.DefaultExpiration)
	}
	return ok
}

// PreviewOrphaned - report orphaned holders without touching them
func PreviewOrphaned() []holder.ID {
	globalData.RLock()
	store := globalData.store
	resolver := globalData.resolver
	resolved := globalData.resolved
	globalData.RUnlock()

	if nil == store || nil == resolver {
		return nil
	}

	var orphans []holder.ID
	for _, id := range store.Holders() {
		if !isKnown(resolver, resolved, id) {
			orphans = append(orphans, id)
		}
	}
	return orphans
}

// CleanupOrphaned - remove holders that are still orphaned
//
// Each holder is re-resolved and removed under its own lock, so an
// identifier that reappears between preview and cleanup survives.
func CleanupOrphaned() []holder.ID {
	globalData.RLock()
	store := globalData.store
	resolver := globalData.resolver
	resolved := globalData.resolved
	log := globalData.log
	globalData.RUnlock()

	if nil == store || nil == resolver {
		return nil
	}

	var removed []holder.ID
	for _, id := range store.Holders() {
		if isKnown(resolver, resolved, id) {
			continue
		}
		lock := locking.Holder(id)
		lock.Lock()
		ok := store.RemoveHolder(id)
		lock.Unlock()
		if ok {
			removed = append(removed, id)
			log.Infof("removed orphaned holder %s", id)
		}
	}
	return removed
}
