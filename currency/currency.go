// SPDX-License-Identifier: ISC
// Copyright (c) 2020-2026 Ecovault Authors
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package currency - currency codes for the parallel balance ledgers
//
// A code is a short identifier like "dollar" or "gem".  Codes are case
// insensitive on input and always stored and compared in lower case.
package currency

import (
	"strings"

	"github.com/ecovault/ecovaultd/fault"
)

// Code - a validated currency code
type Code string

// limits on the text form
const (
	minimumLength = 1
	maximumLength = 32
)

// DefaultCode - the ledger used when the deployment configures nothing
const DefaultCode = Code("dollar")

// FromString - validate and normalise a currency code
func FromString(s string) (Code, error) {
	t := strings.ToLower(strings.TrimSpace(s))
	if len(t) < minimumLength || len(t) > maximumLength {
		return "", fault.ErrInvalidCurrency
	}
	for _, r := range t {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case '_' == r:
		default:
			return "", fault.ErrInvalidCurrency
		}
	}
	return Code(t), nil
}

// String - the normalised text form
func (c Code) String() string {
	return string(c)
}
