// SPDX-License-Identifier: ISC
// Copyright (c) 2020-2026 Ecovault Authors
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package configuration - read the daemon's Lua configuration file
//
// The file is a Lua program whose final expression is the settings
// table, so deployments can compute values instead of repeating them.
package configuration

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/bitmark-inc/logger"

	"github.com/ecovault/ecovaultd/fault"
	"github.com/ecovault/ecovaultd/storage/flatfile"
	"github.com/ecovault/ecovaultd/storage/ldb"
	"github.com/ecovault/ecovaultd/storage/mongodb"
	"github.com/ecovault/ecovaultd/storage/postgres"
	"github.com/ecovault/ecovaultd/storage/sqlite"
	"github.com/ecovault/ecovaultd/util"
)

// backend names accepted in database.backend
const (
	BackendFlatfile = "flatfile"
	BackendLevelDB  = "leveldb"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMongoDB  = "mongodb"
)

// defaults, relative paths resolve against the data directory
const (
	defaultDataDirectory = ""

	defaultFlatfileDirectory = "ledger"
	defaultLevelDBDirectory  = "ledger.leveldb"
	defaultSQLiteFile        = "ledger.db"

	defaultLogDirectory = "log"
	defaultLogFile      = "ecovaultd.log"
	defaultLogCount     = 10
	defaultLogSize      = 1024 * 1024

	defaultCurrency        = "dollar"
	defaultInterestRate    = 0.01
	defaultInterestMinutes = 60
	defaultRewardAmount    = 100.0
)

// DatabaseType - backend selection and per-backend settings
type DatabaseType struct {
	Backend  string                 `gluamapper:"backend" json:"backend"`
	Flatfile flatfile.Configuration `gluamapper:"flatfile" json:"flatfile"`
	LevelDB  ldb.Configuration      `gluamapper:"leveldb" json:"leveldb"`
	SQLite   sqlite.Configuration   `gluamapper:"sqlite" json:"sqlite"`
	Postgres postgres.Configuration `gluamapper:"postgres" json:"postgres"`
	MongoDB  mongodb.Configuration  `gluamapper:"mongodb" json:"mongodb"`
}

// CurrencyType - enabled currencies and the default one
type CurrencyType struct {
	Enabled []string `gluamapper:"enabled" json:"enabled"`
	Default string   `gluamapper:"default" json:"default"`
}

// InterestType - bank interest accrual job settings
type InterestType struct {
	Enabled         bool    `gluamapper:"enabled" json:"enabled"`
	Rate            float64 `gluamapper:"rate" json:"rate"`
	IntervalMinutes int     `gluamapper:"interval_minutes" json:"interval_minutes"`
}

// MaintenanceType - orphan scan settings
//
// KnownHolders names a JSON file of identifier to display name,
// exported from the host system; blank disables the scan.
type MaintenanceType struct {
	KnownHolders string `gluamapper:"known_holders" json:"known_holders"`
}

// RewardType - daily reward settings
type RewardType struct {
	Enabled bool    `gluamapper:"enabled" json:"enabled"`
	Amount  float64 `gluamapper:"amount" json:"amount"`
}

// Configuration - the full daemon configuration
type Configuration struct {
	DataDirectory string               `gluamapper:"data_directory" json:"data_directory"`
	PidFile       string               `gluamapper:"pidfile" json:"pidfile"`
	Database      DatabaseType         `gluamapper:"database" json:"database"`
	Currency      CurrencyType         `gluamapper:"currency" json:"currency"`
	Interest      InterestType         `gluamapper:"interest" json:"interest"`
	Reward        RewardType           `gluamapper:"reward" json:"reward"`
	Maintenance   MaintenanceType      `gluamapper:"maintenance" json:"maintenance"`
	Logging       logger.Configuration `gluamapper:"logging" json:"logging"`
}

// GetConfiguration - read, decode and verify the configuration
func GetConfiguration(configurationFileName string) (*Configuration, error) {

	configurationFileName, err := filepath.Abs(filepath.Clean(configurationFileName))
	if nil != err {
		return nil, err
	}

	// absolute path to the main directory
	dataDirectory, _ := filepath.Split(configurationFileName)

	options := &Configuration{

		DataDirectory: defaultDataDirectory,
		PidFile:       "", // no PidFile by default

		Database: DatabaseType{
			Backend: BackendFlatfile,
			Flatfile: flatfile.Configuration{
				Directory: defaultFlatfileDirectory,
			},
			LevelDB: ldb.Configuration{
				Directory: defaultLevelDBDirectory,
			},
			SQLite: sqlite.Configuration{
				File: defaultSQLiteFile,
			},
		},

		Currency: CurrencyType{
			Enabled: []string{defaultCurrency},
			Default: defaultCurrency,
		},

		Interest: InterestType{
			Rate:            defaultInterestRate,
			IntervalMinutes: defaultInterestMinutes,
		},

		Reward: RewardType{
			Amount: defaultRewardAmount,
		},

		Logging: logger.Configuration{
			Directory: defaultLogDirectory,
			File:      defaultLogFile,
			Size:      defaultLogSize,
			Count:     defaultLogCount,
			Levels: map[string]string{
				logger.DefaultTag: "critical",
			},
		},
	}

	if err := ParseConfigurationFile(configurationFileName, options); nil != err {
		return nil, err
	}

	options.Database.Backend = strings.ToLower(options.Database.Backend)
	switch options.Database.Backend {
	case BackendFlatfile, BackendLevelDB, BackendSQLite, BackendPostgres, BackendMongoDB:
	default:
		return nil, fault.ErrInvalidBackendName
	}

	if options.Interest.IntervalMinutes <= 0 {
		return nil, fault.ErrInvalidInterestInterval
	}

	// ensure absolute data directory
	if "" == options.DataDirectory || "~" == options.DataDirectory {
		return nil, fault.ErrInvalidDataDirectory
	} else if "." == options.DataDirectory {
		options.DataDirectory = dataDirectory // same directory as the configuration file
	} else {
		options.DataDirectory = filepath.Clean(options.DataDirectory)
	}

	// this directory must exist - i.e. must be created prior to running
	if fileInfo, err := os.Stat(options.DataDirectory); nil != err {
		return nil, err
	} else if !fileInfo.IsDir() {
		return nil, fault.ErrInvalidDataDirectory
	}

	// force all relevant items to be absolute paths
	// if not, assign them to the data directory
	mustBeAbsolute := []*string{
		&options.Database.Flatfile.Directory,
		&options.Database.LevelDB.Directory,
		&options.Database.SQLite.File,
		&options.Logging.Directory,
	}
	for _, f := range mustBeAbsolute {
		*f = util.EnsureAbsolute(options.DataDirectory, *f)
	}

	// optional absolute items
	mustBeAbsoluteOrBlank := []*string{
		&options.PidFile,
		&options.Maintenance.KnownHolders,
	}
	for _, f := range mustBeAbsoluteOrBlank {
		if "" != *f {
			*f = util.EnsureAbsolute(options.DataDirectory, *f)
		}
	}

	return options, nil
}
