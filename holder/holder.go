// SPDX-License-Identifier: ISC
// Copyright (c) 2020-2026 Ecovault Authors
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package holder - stable 128 bit account holder identifier
//
// The text form is the usual hyphenated hexadecimal layout
// (8-4-4-4-12).  Parsing is case insensitive and also accepts the
// plain 32 digit form; output is always lower case hyphenated.
package holder

import (
	"bytes"
	"encoding/hex"
	"strings"

	"github.com/ecovault/ecovaultd/fault"
)

// Length - number of bytes in an identifier
const Length = 16

// ID - the identifier value
type ID [Length]byte

// Nil - the zero identifier, not a valid account
var Nil ID

// hyphen positions in the canonical text form
var groups = []int{8, 4, 4, 4, 12}

// FromString - parse the text form of an identifier
func FromString(s string) (ID, error) {
	hexOnly := strings.ReplaceAll(s, "-", "")
	if 2*Length != len(hexOnly) {
		return Nil, fault.ErrInvalidHolderIdentifier
	}
	var id ID
	if _, err := hex.Decode(id[:], []byte(strings.ToLower(hexOnly))); nil != err {
		return Nil, fault.ErrInvalidHolderIdentifier
	}
	return id, nil
}

// String - canonical text form
func (id ID) String() string {
	h := hex.EncodeToString(id[:])
	s := make([]string, 0, len(groups))
	i := 0
	for _, n := range groups {
		s = append(s, h[i:i+n])
		i += n
	}
	return strings.Join(s, "-")
}

// IsNil - check for the zero identifier
func (id ID) IsNil() bool {
	return id == Nil
}

// Compare - total order over identifiers, used for deterministic lock
// acquisition; negative, zero or positive like bytes.Compare
func (id ID) Compare(other ID) int {
	return bytes.Compare(id[:], other[:])
}

// MarshalText - for JSON and friends
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText - inverse of MarshalText
func (id *ID) UnmarshalText(s []byte) error {
	parsed, err := FromString(string(s))
	if nil != err {
		return err
	}
	*id = parsed
	return nil
}
