// SPDX-License-Identifier: ISC
// Copyright (c) 2020-2026 Ecovault Authors
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package bank

import (
	"time"

	"github.com/bitmark-inc/logger"

	"github.com/ecovault/ecovaultd/currency"
	"github.com/ecovault/ecovaultd/fault"
	"github.com/ecovault/ecovaultd/ledger"
	"github.com/ecovault/ecovaultd/util"
)

// Accrual - the periodic interest job
//
// Each tick credits every bank's members with their share of the
// bank's interest. Runs as a background process, see NewAccrual.
type Accrual struct {
	log        *logger.L
	currencies *currency.Set
	rate       float64
	interval   time.Duration
}

// NewAccrual - create the interest job
//
// rate is per tick, e.g. 0.01 for one percent each interval
func NewAccrual(currencies *currency.Set, rate float64, interval time.Duration) (*Accrual, error) {
	if interval <= 0 {
		return nil, fault.ErrInvalidInterestInterval
	}
	if rate < 0 {
		return nil, fault.ErrInvalidAmount
	}
	return &Accrual{
		log:        logger.New("bank-accrual"),
		currencies: currencies,
		rate:       rate,
		interval:   interval,
	}, nil
}

// Run - background process entry
func (a *Accrual) Run(args interface{}, shutdown <-chan struct{}) {
	a.log.Info("starting…")

	timer := time.NewTimer(a.interval)
	defer timer.Stop()

loop:
	for {
		select {
		case <-shutdown:
			break loop
		case <-timer.C:
			a.Accrue()
			timer.Reset(a.interval)
		}
	}

	a.log.Info("shutting down…")
	a.log.Flush()
}

// Accrue - run one interest pass over every bank and currency
//
// The gross interest is computed from the bank balance but paid into
// each member's holder balance; the bank balance itself is untouched.
// No lock spans the whole pass, each member deposit is serialised
// individually, so accrual interleaves safely with live transfers.
func (a *Accrual) Accrue() {
	for _, name := range Names() {
		members := Members(name)
		if 0 == len(members) {
			continue
		}
		for _, c := range a.currencies.Codes() {
			balance := Balance(name, c)
			gross := util.Round2(balance * a.rate)
			if gross <= 0 {
				continue
			}
			share := util.Round2(gross / float64(len(members)))
			if share <= 0 {
				continue
			}
			for _, member := range members {
				if err := ledger.Deposit(member, c, share); nil != err {
					a.log.Errorf("bank %q: interest for %s: %s", name, member, err)
				}
			}
			a.log.Infof("bank %q: %s %.2f interest to %d members", name, c, gross, len(members))
		}
	}
}
