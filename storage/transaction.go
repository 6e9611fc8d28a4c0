// SPDX-License-Identifier: ISC
// Copyright (c) 2020-2026 Ecovault Authors
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package storage

import (
	"time"

	"github.com/ecovault/ecovaultd/currency"
	"github.com/ecovault/ecovaultd/holder"
)

// Transaction - one immutable journal record
//
// Amount is signed: deposits are positive, withdrawals negative.
// Timestamp is wall clock milliseconds.
type Transaction struct {
	Holder    holder.ID     `json:"holder"`
	Currency  currency.Code `json:"currency"`
	Amount    float64       `json:"amount"`
	Timestamp int64         `json:"timestamp"`
}

// Time - the timestamp as a wall clock value
func (t Transaction) Time() time.Time {
	return time.UnixMilli(t.Timestamp)
}
