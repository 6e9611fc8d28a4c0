// SPDX-License-Identifier: ISC
// Copyright (c) 2020-2026 Ecovault Authors
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package currency

import (
	"github.com/ecovault/ecovaultd/fault"
)

// Set - the enabled currencies of one deployment
//
// Built once from configuration and passed to the components that need
// it; the zero Set is not usable.
type Set struct {
	codes      []Code
	enabled    map[Code]struct{}
	defaultsTo Code
}

// NewSet - build the enabled set
//
// An empty enabled list yields a single-currency set holding just the
// default.  The default currency is always a member of the set.
func NewSet(enabled []string, defaultCurrency string) (*Set, error) {

	defaultCode := DefaultCode
	if "" != defaultCurrency {
		c, err := FromString(defaultCurrency)
		if nil != err {
			return nil, err
		}
		defaultCode = c
	}

	s := &Set{
		enabled:    map[Code]struct{}{},
		defaultsTo: defaultCode,
	}

	for _, e := range enabled {
		c, err := FromString(e)
		if nil != err {
			return nil, err
		}
		if _, ok := s.enabled[c]; ok {
			continue
		}
		s.enabled[c] = struct{}{}
		s.codes = append(s.codes, c)
	}

	if _, ok := s.enabled[defaultCode]; !ok {
		s.enabled[defaultCode] = struct{}{}
		s.codes = append(s.codes, defaultCode)
	}

	return s, nil
}

// Codes - enabled codes in configuration order
func (s *Set) Codes() []Code {
	return s.codes
}

// Default - the deployment's default currency
func (s *Set) Default() Code {
	return s.defaultsTo
}

// IsEnabled - membership test
func (s *Set) IsEnabled(c Code) bool {
	_, ok := s.enabled[c]
	return ok
}

// Parse - FromString restricted to the enabled set
func (s *Set) Parse(text string) (Code, error) {
	c, err := FromString(text)
	if nil != err {
		return "", err
	}
	if !s.IsEnabled(c) {
		return "", fault.ErrInvalidCurrency
	}
	return c, nil
}
