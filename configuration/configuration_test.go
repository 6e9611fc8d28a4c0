// SPDX-License-Identifier: ISC
// Copyright (c) 2020-2026 Ecovault Authors
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package configuration_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecovault/ecovaultd/configuration"
	"github.com/ecovault/ecovaultd/fault"
)

func writeConfiguration(t *testing.T, content string) string {
	directory := t.TempDir()
	fileName := filepath.Join(directory, "ecovaultd.conf")
	require.NoError(t, os.WriteFile(fileName, []byte(content), 0o600))
	return fileName
}

func TestDefaults(t *testing.T) {
	fileName := writeConfiguration(t, `
local M = {}
M.data_directory = "."
return M
`)

	options, err := configuration.GetConfiguration(fileName)
	require.NoError(t, err)

	assert.Equal(t, configuration.BackendFlatfile, options.Database.Backend)
	assert.Equal(t, []string{"dollar"}, options.Currency.Enabled)
	assert.Equal(t, "dollar", options.Currency.Default)
	assert.Equal(t, 0.01, options.Interest.Rate)
	assert.Equal(t, 60, options.Interest.IntervalMinutes)
	assert.Equal(t, 100.0, options.Reward.Amount)

	// relative paths are anchored at the data directory
	assert.True(t, filepath.IsAbs(options.Database.Flatfile.Directory))
	assert.True(t, filepath.IsAbs(options.Logging.Directory))
	assert.Equal(t, filepath.Dir(fileName), filepath.Dir(options.Database.Flatfile.Directory))
}

func TestFullConfiguration(t *testing.T) {
	fileName := writeConfiguration(t, `
local M = {}
M.data_directory = "."
M.pidfile = "ecovaultd.pid"

M.database = {
    backend = "LevelDB",
    leveldb = {
        directory = "custom.leveldb",
    },
    postgres = {
        host = "db.internal",
        port = 5432,
        database = "ecovault",
        user = "ledger",
        password = "secret",
    },
}

M.currency = {
    enabled = {"dollar", "gem"},
    default = "gem",
}

M.interest = {
    enabled = true,
    rate = 0.02,
    interval_minutes = 30,
}

M.reward = {
    enabled = true,
    amount = 250.0,
}

M.logging = {
    size = 65536,
    count = 5,
    console = true,
    levels = {
        DEFAULT = "info",
    },
}

return M
`)

	options, err := configuration.GetConfiguration(fileName)
	require.NoError(t, err)

	// backend names are case folded
	assert.Equal(t, configuration.BackendLevelDB, options.Database.Backend)
	assert.Equal(t, filepath.Join(filepath.Dir(fileName), "custom.leveldb"), options.Database.LevelDB.Directory)

	assert.Equal(t, "db.internal", options.Database.Postgres.Host)
	assert.Equal(t, 5432, options.Database.Postgres.Port)
	assert.Equal(t, "ledger", options.Database.Postgres.User)

	assert.Equal(t, []string{"dollar", "gem"}, options.Currency.Enabled)
	assert.Equal(t, "gem", options.Currency.Default)

	assert.True(t, options.Interest.Enabled)
	assert.Equal(t, 0.02, options.Interest.Rate)
	assert.Equal(t, 30, options.Interest.IntervalMinutes)

	assert.True(t, options.Reward.Enabled)
	assert.Equal(t, 250.0, options.Reward.Amount)

	assert.True(t, options.Logging.Console)
	assert.Equal(t, "info", options.Logging.Levels["DEFAULT"])
	assert.True(t, filepath.IsAbs(options.PidFile))
}

func TestComputedValues(t *testing.T) {
	fileName := writeConfiguration(t, `
local M = {}
M.data_directory = "."
M.interest = {
    rate = 0.005 * 2,
    interval_minutes = 6 * 10,
}
return M
`)

	options, err := configuration.GetConfiguration(fileName)
	require.NoError(t, err)
	assert.Equal(t, 0.01, options.Interest.Rate)
	assert.Equal(t, 60, options.Interest.IntervalMinutes)
}

func TestBadBackend(t *testing.T) {
	fileName := writeConfiguration(t, `
local M = {}
M.data_directory = "."
M.database = { backend = "oracle" }
return M
`)

	_, err := configuration.GetConfiguration(fileName)
	assert.Equal(t, fault.ErrInvalidBackendName, err)
}

func TestBadInterval(t *testing.T) {
	fileName := writeConfiguration(t, `
local M = {}
M.data_directory = "."
M.interest = { interval_minutes = 0 }
return M
`)

	_, err := configuration.GetConfiguration(fileName)
	assert.Equal(t, fault.ErrInvalidInterestInterval, err)
}

func TestMissingDataDirectory(t *testing.T) {
	fileName := writeConfiguration(t, `
local M = {}
return M
`)

	_, err := configuration.GetConfiguration(fileName)
	assert.Equal(t, fault.ErrInvalidDataDirectory, err)
}

func TestMissingFile(t *testing.T) {
	_, err := configuration.GetConfiguration(filepath.Join(t.TempDir(), "absent.conf"))
	assert.Error(t, err)
}
