// SPDX-License-Identifier: ISC
// Copyright (c) 2020-2026 Ecovault Authors
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bitmark-inc/exitwithstatus"
	"github.com/bitmark-inc/getoptions"
	"github.com/bitmark-inc/logger"

	"github.com/ecovault/ecovaultd/background"
	"github.com/ecovault/ecovaultd/bank"
	"github.com/ecovault/ecovaultd/configuration"
	"github.com/ecovault/ecovaultd/currency"
	"github.com/ecovault/ecovaultd/ledger"
	"github.com/ecovault/ecovaultd/maintenance"
	"github.com/ecovault/ecovaultd/preference"
	"github.com/ecovault/ecovaultd/reward"
	"github.com/ecovault/ecovaultd/storage"
	"github.com/ecovault/ecovaultd/storage/flatfile"
	"github.com/ecovault/ecovaultd/storage/ldb"
	"github.com/ecovault/ecovaultd/storage/mongodb"
	"github.com/ecovault/ecovaultd/storage/postgres"
	"github.com/ecovault/ecovaultd/storage/sqlite"
	"github.com/ecovault/ecovaultd/transfer"
)

// set by the linker: go build -ldflags "-X main.version=M.N" ./...
var version = "zero" // do not change this value

// main program
func main() {
	// ensure exit handler is first
	defer exitwithstatus.Handler()

	flags := []getoptions.Option{
		{Long: "help", HasArg: getoptions.NO_ARGUMENT, Short: 'h'},
		{Long: "verbose", HasArg: getoptions.NO_ARGUMENT, Short: 'v'},
		{Long: "quiet", HasArg: getoptions.NO_ARGUMENT, Short: 'q'},
		{Long: "version", HasArg: getoptions.NO_ARGUMENT, Short: 'V'},
		{Long: "config-file", HasArg: getoptions.REQUIRED_ARGUMENT, Short: 'c'},
	}

	program, options, arguments, err := getoptions.GetOS(flags)
	if nil != err {
		exitwithstatus.Message("%s: getoptions error: %s", program, err)
	}

	if len(options["version"]) > 0 {
		processSetupCommand(program, []string{"version"})
		return
	}

	if len(options["help"]) > 0 {
		processSetupCommand(program, []string{"help"})
		return
	}

	// these commands do not require the configuration
	if len(arguments) > 0 && processSetupCommand(program, arguments) {
		return
	}

	if 1 != len(options["config-file"]) {
		exitwithstatus.Message("%s: only one config-file option is required, %d were detected", program, len(options["config-file"]))
	}

	// read options and parse the configuration file
	configurationFile := options["config-file"][0]
	theConfiguration, err := configuration.GetConfiguration(configurationFile)
	if nil != err {
		exitwithstatus.Message("%s: failed to read configuration from: %q  error: %s", program, configurationFile, err)
	}

	// these commands require the configuration and
	// perform enquiries on the configuration
	if len(arguments) > 0 && processConfigCommand(arguments, theConfiguration) {
		return
	}

	// start logging
	if err = logger.Initialise(theConfiguration.Logging); nil != err {
		exitwithstatus.Message("%s: logger setup failed with error: %s", program, err)
	}
	defer logger.Finalise()

	// create a logger channel for the main program
	log := logger.New("main")
	defer log.Info("finished")
	log.Info("starting…")
	log.Infof("version: %s", version)
	log.Debugf("theConfiguration: %v", theConfiguration)

	// ------------------
	// start of real main
	// ------------------

	// optional PID file
	// use if not running under a supervisor program like daemon(8)
	if "" != theConfiguration.PidFile {
		lockFile, err := os.OpenFile(theConfiguration.PidFile, os.O_WRONLY|os.O_EXCL|os.O_CREATE, os.ModeExclusive|0600)
		if err != nil {
			if os.IsExist(err) {
				exitwithstatus.Message("%s: another instance is already running", program)
			}
			exitwithstatus.Message("%s: PID file: %q creation failed, error: %s", program, theConfiguration.PidFile, err)
		}
		fmt.Fprintf(lockFile, "%d\n", os.Getpid())
		lockFile.Close()
		defer os.Remove(theConfiguration.PidFile)
	}

	// enabled currencies
	currencies, err := currency.NewSet(theConfiguration.Currency.Enabled, theConfiguration.Currency.Default)
	if nil != err {
		log.Criticalf("currency configuration error: %s", err)
		exitwithstatus.Message("currency configuration error: %s", err)
	}
	log.Infof("currencies: %v  default: %s", currencies.Codes(), currencies.Default())

	// start the ledger storage
	log.Infof("initialise storage backend: %s", theConfiguration.Database.Backend)
	store := newStore(&theConfiguration.Database)
	if err := store.Init(); nil != err {
		log.Criticalf("storage initialise error: %s", err)
		exitwithstatus.Message("storage initialise error: %s", err)
	}
	if err := store.Load(); nil != err {
		log.Criticalf("storage load error: %s", err)
		exitwithstatus.Message("storage load error: %s", err)
	}
	defer store.Shutdown()

	// ledger facade over the backend
	err = ledger.Initialise(store)
	if nil != err {
		log.Criticalf("ledger initialise error: %s", err)
		exitwithstatus.Message("ledger initialise error: %s", err)
	}
	defer ledger.Finalise()

	// transfer coordinator
	err = transfer.Initialise(store)
	if nil != err {
		log.Criticalf("transfer initialise error: %s", err)
		exitwithstatus.Message("transfer initialise error: %s", err)
	}
	defer transfer.Finalise()

	// bank ledger
	err = bank.Initialise(store)
	if nil != err {
		log.Criticalf("bank initialise error: %s", err)
		exitwithstatus.Message("bank initialise error: %s", err)
	}
	defer bank.Finalise()

	// per-holder preferred currencies
	err = preference.Initialise(theConfiguration.DataDirectory, currencies)
	if nil != err {
		log.Criticalf("preference initialise error: %s", err)
		exitwithstatus.Message("preference initialise error: %s", err)
	}
	defer preference.Finalise()

	// daily rewards
	if theConfiguration.Reward.Enabled {
		err = reward.Initialise(theConfiguration.DataDirectory)
		if nil != err {
			log.Criticalf("reward initialise error: %s", err)
			exitwithstatus.Message("reward initialise error: %s", err)
		}
		defer reward.Finalise()
	}

	// orphan scan, only with a known-holders file to resolve against
	if "" != theConfiguration.Maintenance.KnownHolders {
		resolver, err := maintenance.NewFileResolver(theConfiguration.Maintenance.KnownHolders)
		if nil != err {
			log.Criticalf("maintenance initialise error: %s", err)
			exitwithstatus.Message("maintenance initialise error: %s", err)
		}
		err = maintenance.Initialise(store, resolver)
		if nil != err {
			log.Criticalf("maintenance initialise error: %s", err)
			exitwithstatus.Message("maintenance initialise error: %s", err)
		}
		defer maintenance.Finalise()
	}

	// these commands are allowed to access the ledger
	if len(arguments) > 0 && processDataCommand(log, arguments, theConfiguration, currencies) {
		return
	}

	// start the interest accrual background job
	processes := background.Processes{}
	if theConfiguration.Interest.Enabled {
		interval := time.Duration(theConfiguration.Interest.IntervalMinutes) * time.Minute
		accrual, err := bank.NewAccrual(currencies, theConfiguration.Interest.Rate, interval)
		if nil != err {
			log.Criticalf("accrual initialise error: %s", err)
			exitwithstatus.Message("accrual initialise error: %s", err)
		}
		log.Infof("interest: %.4f every %s", theConfiguration.Interest.Rate, interval)
		processes = append(processes, accrual)
	}
	jobs := background.Start(processes, nil)
	defer jobs.Stop()

	// wait for CTRL-C before shutting down to allow manual testing
	if 0 == len(options["quiet"]) {
		fmt.Printf("\n\nWaiting for CTRL-C (SIGINT) or 'kill <pid>' (SIGTERM)…")
	}

	// turn Signals into channel messages
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	sig := <-ch
	log.Infof("received signal: %v", sig)
	if 0 == len(options["quiet"]) {
		fmt.Printf("\nreceived signal: %v\n", sig)
		fmt.Printf("\nshutting down…\n")
	}

	log.Info("shutting down…")
}

// construct the configured backend adapter
func newStore(database *configuration.DatabaseType) storage.Provider {
	switch database.Backend {
	case configuration.BackendFlatfile:
		return flatfile.New(&database.Flatfile)
	case configuration.BackendLevelDB:
		return ldb.New(&database.LevelDB)
	case configuration.BackendSQLite:
		return sqlite.New(&database.SQLite)
	case configuration.BackendPostgres:
		return postgres.New(&database.Postgres)
	case configuration.BackendMongoDB:
		return mongodb.New(&database.MongoDB)
	default:
		// GetConfiguration already validated the name
		exitwithstatus.Message("unsupported backend: %s", database.Backend)
		return nil
	}
}
