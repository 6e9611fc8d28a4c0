// SPDX-License-Identifier: ISC
// Copyright (c) 2020-2026 Ecovault Authors
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package util - small helpers shared by the ledger components
package util

import (
	"math"
	"strconv"
	"strings"

	"github.com/ecovault/ecovaultd/fault"
)

// multipliers for the short amount suffixes players type
var suffixes = map[byte]float64{
	'k': 1e3,
	'm': 1e6,
	'b': 1e9,
	't': 1e12,
}

// ParseAmount - parse a decimal amount with an optional k/m/b/t suffix
//
// "1k" is 1000, "2.5m" is 2500000.  Case insensitive.
func ParseAmount(input string) (float64, error) {
	s := strings.ToLower(strings.TrimSpace(input))
	if "" == s {
		return 0, fault.ErrInvalidAmount
	}

	multiplier := 1.0
	if m, ok := suffixes[s[len(s)-1]]; ok {
		multiplier = m
		s = s[:len(s)-1]
	}

	value, err := strconv.ParseFloat(s, 64)
	if nil != err || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fault.ErrInvalidAmount
	}
	return value * multiplier, nil
}

// Round2 - round half up to two decimal places
//
// This is the rounding the interest accrual applies to a gross amount
// before splitting it between members.
func Round2(value float64) float64 {
	return math.Floor(value*100.0+0.5) / 100.0
}
