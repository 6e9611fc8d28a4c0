// SPDX-License-Identifier: ISC
// Copyright (c) 2020-2026 Ecovault Authors
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package preference

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/bitmark-inc/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecovault/ecovaultd/currency"
	"github.com/ecovault/ecovaultd/fault"
	"github.com/ecovault/ecovaultd/holder"
)

const (
	dollar = currency.Code("dollar")
	gem    = currency.Code("gem")
)

func TestMain(m *testing.M) {
	curPath := os.Getenv("PWD")
	logDirectory := curPath + "/test-log"
	_ = os.Mkdir(logDirectory, 0700)

	logging := logger.Configuration{
		Directory: logDirectory,
		File:      "preference_test.log",
		Size:      1048576,
		Count:     10,
		Console:   false,
		Levels: map[string]string{
			logger.DefaultTag: "critical",
		},
	}
	if err := logger.Initialise(logging); nil != err {
		panic("logger setup failed: " + err.Error())
	}

	result := m.Run()

	logger.Finalise()
	os.RemoveAll(logDirectory)
	os.Exit(result)
}

func setup(t *testing.T) string {
	directory := t.TempDir()
	currencies, err := currency.NewSet([]string{"dollar", "gem"}, "dollar")
	require.NoError(t, err)
	require.NoError(t, Initialise(directory, currencies))
	t.Cleanup(func() {
		require.NoError(t, Finalise())
	})
	return directory
}

func mustID(t *testing.T, s string) holder.ID {
	id, err := holder.FromString(s)
	require.NoError(t, err)
	return id
}

func TestDefaultWhenUnset(t *testing.T) {
	setup(t)
	alice := mustID(t, "aaaaaaaa-1111-2222-3333-444444444444")

	assert.Equal(t, dollar, Preferred(alice))
}

func TestSetAndClear(t *testing.T) {
	setup(t)
	alice := mustID(t, "aaaaaaaa-1111-2222-3333-444444444444")

	require.NoError(t, Set(alice, gem))
	assert.Equal(t, gem, Preferred(alice))

	Clear(alice)
	assert.Equal(t, dollar, Preferred(alice))
}

func TestSetRejectsDisabledCurrency(t *testing.T) {
	setup(t)
	alice := mustID(t, "aaaaaaaa-1111-2222-3333-444444444444")

	assert.Equal(t, fault.ErrInvalidCurrency, Set(alice, currency.Code("doubloon")))
	assert.Equal(t, dollar, Preferred(alice))
}

func TestChoicesPersist(t *testing.T) {
	directory := setup(t)
	alice := mustID(t, "aaaaaaaa-1111-2222-3333-444444444444")

	require.NoError(t, Set(alice, gem))
	require.NoError(t, Finalise())

	currencies, err := currency.NewSet([]string{"dollar", "gem"}, "dollar")
	require.NoError(t, err)
	require.NoError(t, Initialise(directory, currencies))

	assert.Equal(t, gem, Preferred(alice))
}

func TestMalformedEntriesAreDropped(t *testing.T) {
	directory := t.TempDir()
	alice := mustID(t, "aaaaaaaa-1111-2222-3333-444444444444")

	stored := map[string]string{
		alice.String(): "GEM", // folded to lower case
		"not-a-uuid":   "dollar",
		"bbbbbbbb-1111-2222-3333-444444444444": "no spaces allowed",
	}
	data, err := json.Marshal(stored)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(directory, "currency-preferences.json"), data, 0o600))

	currencies, err := currency.NewSet([]string{"dollar", "gem"}, "dollar")
	require.NoError(t, err)
	require.NoError(t, Initialise(directory, currencies))
	defer Finalise()

	assert.Equal(t, gem, Preferred(alice))
	bob := mustID(t, "bbbbbbbb-1111-2222-3333-444444444444")
	assert.Equal(t, dollar, Preferred(bob))
}

func TestDisabledChoiceFallsBack(t *testing.T) {
	directory := t.TempDir()
	alice := mustID(t, "aaaaaaaa-1111-2222-3333-444444444444")

	currencies, err := currency.NewSet([]string{"dollar", "gem"}, "dollar")
	require.NoError(t, err)
	require.NoError(t, Initialise(directory, currencies))
	require.NoError(t, Set(alice, gem))
	require.NoError(t, Finalise())

	// the deployment drops "gem" from the enabled list
	reduced, err := currency.NewSet([]string{"dollar"}, "dollar")
	require.NoError(t, err)
	require.NoError(t, Initialise(directory, reduced))
	defer Finalise()

	assert.Equal(t, dollar, Preferred(alice))
}
