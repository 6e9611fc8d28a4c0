// SPDX-License-Identifier: ISC
// Copyright (c) 2020-2026 Ecovault Authors
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package fault

// error base
type GenericError string

// to allow for different classes of errors
type ExistsError GenericError
type InvalidError GenericError
type NotFoundError GenericError
type ProcessError GenericError

// common errors - keep in alphabetic order
var (
	ErrAlreadyInitialised      = ExistsError("already initialised")
	ErrBankNameIsRequired      = InvalidError("bank name is required")
	ErrInvalidAmount           = InvalidError("invalid amount")
	ErrInvalidBackendName      = InvalidError("invalid backend name")
	ErrInvalidCurrency         = InvalidError("invalid currency")
	ErrInvalidDataDirectory    = InvalidError("invalid data directory")
	ErrInvalidHolderIdentifier = InvalidError("invalid holder identifier")
	ErrInvalidInterestInterval = InvalidError("invalid interest interval")
	ErrNotInitialised          = NotFoundError("not initialised")
	ErrStorageInitialiseFailed = ProcessError("storage initialise failed")
	ErrStorageLoadFailed       = ProcessError("storage load failed")
	ErrStorageNotConnected     = ProcessError("storage is not connected")
)

// the error interface base method
func (e GenericError) Error() string { return string(e) }

// the error interface methods
func (e ExistsError) Error() string   { return string(e) }
func (e InvalidError) Error() string  { return string(e) }
func (e NotFoundError) Error() string { return string(e) }
func (e ProcessError) Error() string  { return string(e) }

// determine the class of an error
func IsErrExists(e error) bool   { _, ok := e.(ExistsError); return ok }
func IsErrInvalid(e error) bool  { _, ok := e.(InvalidError); return ok }
func IsErrNotFound(e error) bool { _, ok := e.(NotFoundError); return ok }
func IsErrProcess(e error) bool  { _, ok := e.(ProcessError); return ok }
