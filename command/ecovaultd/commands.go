// SPDX-License-Identifier: ISC
// Copyright (c) 2020-2026 Ecovault Authors
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/bitmark-inc/exitwithstatus"
	"github.com/bitmark-inc/logger"

	"github.com/ecovault/ecovaultd/bank"
	"github.com/ecovault/ecovaultd/configuration"
	"github.com/ecovault/ecovaultd/currency"
	"github.com/ecovault/ecovaultd/holder"
	"github.com/ecovault/ecovaultd/ledger"
	"github.com/ecovault/ecovaultd/maintenance"
	"github.com/ecovault/ecovaultd/preference"
	"github.com/ecovault/ecovaultd/reward"
)

// setup command handler
//
// commands that run before the configuration file is read
func processSetupCommand(program string, arguments []string) bool {

	command := "help"
	if len(arguments) > 0 {
		command = arguments[0]
	}

	switch command {
	case "start", "run":
		return false // continue processing

	case "config-test", "cfg":
		return false // defer processing until configuration is read

	case "balance", "bal", "journal", "j", "banks", "k", "claim", "preference", "pref", "orphans", "o", "cleanup-orphans", "co":
		return false // defer processing until the ledger is loaded

	case "version", "v":
		fmt.Printf("%s\n", version)
		return true

	default:
		switch command {
		case "help", "h", "?":
		case "", " ":
			fmt.Printf("error: missing command\n")
		default:
			fmt.Printf("error: no such command: %q\n", command)
		}
		fmt.Printf("usage: %s [--help] [--verbose] [--quiet] --config-file=FILE [[command|help] arguments...]\n\n", program)

		fmt.Printf("supported commands:\n\n")
		fmt.Printf("  help                       (h)      - display this message\n\n")
		fmt.Printf("  version                    (v)      - display version string\n\n")

		fmt.Printf("  start                      (run)    - just run the program, same as no arguments\n")
		fmt.Printf("                                        for convenience when passing script arguments\n")
		fmt.Printf("\n")

		fmt.Printf("  config-test                (cfg)    - just check the configuration file\n")
		fmt.Printf("\n")

		fmt.Printf("  balance UUID [CURRENCY]    (bal)    - display balances for one holder\n")
		fmt.Printf("\n")

		fmt.Printf("  journal UUID CURRENCY [N]  (j)      - display recent ledger entries for one holder\n")
		fmt.Printf("\n")

		fmt.Printf("  banks                      (k)      - list banks with balances and members\n")
		fmt.Printf("\n")

		fmt.Printf("  claim UUID                          - pay out one holder's daily reward\n")
		fmt.Printf("\n")

		fmt.Printf("  preference UUID [CURRENCY] (pref)   - show or set one holder's preferred currency\n")
		fmt.Printf("\n")

		fmt.Printf("  orphans                    (o)      - list holders with records but no known identity\n")
		fmt.Printf("\n")

		fmt.Printf("  cleanup-orphans            (co)     - remove records of unknown holders\n")
		fmt.Printf("\n")

		exitwithstatus.Exit(1)
	}

	// indicate processing complete and perform normal exit from main
	return true
}

// configuration file enquiry commands
// have configuration file read and decoded, but nothing else
func processConfigCommand(arguments []string, options *configuration.Configuration) bool {

	command := "help"
	if len(arguments) > 0 {
		command = arguments[0]
	}

	switch command {
	case "config-test", "cfg":
		b, err := json.Marshal(options)
		if err != nil {
			exitwithstatus.Message("error: %s", err)
		}
		var out bytes.Buffer
		json.Indent(&out, b, "", "  ")
		out.WriteTo(os.Stdout)
		os.Stdout.WriteString("\n")

	default: // unknown commands fall through to data command
		return false
	}

	// indicate processing complete and perform normal exit from main
	return true
}

// data command handler
// the ledger backend is loaded so these commands can access
// and/or change its records
func processDataCommand(log *logger.L, arguments []string, options *configuration.Configuration, currencies *currency.Set) bool {

	command := "help"
	if len(arguments) > 0 {
		command = arguments[0]
		arguments = arguments[1:]
	}

	switch command {

	case "start", "run":
		return false // continue processing

	case "balance", "bal":
		if len(arguments) < 1 {
			exitwithstatus.Message("missing holder identifier argument")
		}
		id, err := holder.FromString(arguments[0])
		if nil != err {
			exitwithstatus.Message("error in holder identifier: %s", err)
		}

		codes := currencies.Codes()
		if len(arguments) > 1 {
			c, err := currencies.Parse(arguments[1])
			if nil != err {
				exitwithstatus.Message("error in currency: %s", err)
			}
			codes = []currency.Code{c}
		}

		for _, c := range codes {
			fmt.Printf("%s: %s: %.2f\n", id, c, ledger.Balance(id, c))
		}

	case "journal", "j":
		if len(arguments) < 2 {
			exitwithstatus.Message("missing holder identifier or currency argument")
		}
		id, err := holder.FromString(arguments[0])
		if nil != err {
			exitwithstatus.Message("error in holder identifier: %s", err)
		}
		c, err := currencies.Parse(arguments[1])
		if nil != err {
			exitwithstatus.Message("error in currency: %s", err)
		}

		entries := ledger.Transactions(id, c)
		for _, entry := range entries {
			fmt.Printf("%s  %s  %+.2f\n", entry.Time().Format("2006-01-02 15:04:05"), entry.Currency, entry.Amount)
		}
		fmt.Printf("entries: %d\n", len(entries))

	case "banks", "k":
		names := bank.Names()
		for _, name := range names {
			fmt.Printf("%s:\n", name)
			for _, c := range currencies.Codes() {
				fmt.Printf("  %s: %.2f\n", c, bank.Balance(name, c))
			}
			for _, member := range bank.Members(name) {
				owner := ""
				if bank.IsOwner(name, member) {
					owner = "  (owner)"
				}
				fmt.Printf("  member: %s%s\n", member, owner)
			}
		}
		fmt.Printf("banks: %d\n", len(names))

	case "claim":
		if !options.Reward.Enabled {
			exitwithstatus.Message("error: reward is not enabled")
		}
		if len(arguments) < 1 {
			exitwithstatus.Message("missing holder identifier argument")
		}
		id, err := holder.FromString(arguments[0])
		if nil != err {
			exitwithstatus.Message("error in holder identifier: %s", err)
		}

		c := preference.Preferred(id)
		paid, remaining, err := reward.Claim(id, c, options.Reward.Amount)
		if nil != err {
			exitwithstatus.Message("claim error: %s", err)
		}
		if paid {
			log.Infof("daily reward paid: %s  %s %.2f", id, c, options.Reward.Amount)
			fmt.Printf("paid: %s %.2f\n", c, options.Reward.Amount)
		} else {
			fmt.Printf("on cooldown: %s remaining\n", remaining.Round(time.Second))
		}

	case "preference", "pref":
		if len(arguments) < 1 {
			exitwithstatus.Message("missing holder identifier argument")
		}
		id, err := holder.FromString(arguments[0])
		if nil != err {
			exitwithstatus.Message("error in holder identifier: %s", err)
		}

		if len(arguments) > 1 {
			c, err := currencies.Parse(arguments[1])
			if nil != err {
				exitwithstatus.Message("error in currency: %s", err)
			}
			if err := preference.Set(id, c); nil != err {
				exitwithstatus.Message("preference error: %s", err)
			}
		}
		fmt.Printf("%s: %s\n", id, preference.Preferred(id))

	case "orphans", "o":
		requireResolver(options)
		orphans := maintenance.PreviewOrphaned()
		for _, id := range orphans {
			fmt.Printf("%s\n", id)
		}
		fmt.Printf("orphans: %d\n", len(orphans))

	case "cleanup-orphans", "co":
		requireResolver(options)
		removed := maintenance.CleanupOrphaned()
		for _, id := range removed {
			log.Warnf("removed orphaned holder: %s", id)
			fmt.Printf("removed: %s\n", id)
		}
		fmt.Printf("removed: %d\n", len(removed))

	default:
		exitwithstatus.Message("error: no such command: %s", command)
	}

	// indicate processing complete and perform normal exit from main
	return true
}

func requireResolver(options *configuration.Configuration) {
	if "" == options.Maintenance.KnownHolders {
		exitwithstatus.Message("error: maintenance.known_holders is not configured")
	}
}
