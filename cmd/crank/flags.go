// Copyright (c) 2025 The Helium Program Library authors
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	cli "gopkg.in/urfave/cli.v1"
)

var (
	dataDirFlag = cli.StringFlag{
		Name:  "data-dir",
		Usage: "directory for the account store and event log (in-memory when empty)",
	}
	configFlag = cli.StringFlag{
		Name:  "config",
		Usage: "path to a YAML network parameter file (built-in mainnet set when empty)",
	}
	apiAddrFlag = cli.StringFlag{
		Name:  "api-addr",
		Value: "localhost:8000",
		Usage: "API service listening address",
	}
	queuesFlag = cli.StringFlag{
		Name:  "queues",
		Usage: "comma separated names of the task queues to crank",
	}
	walletFlag = cli.StringFlag{
		Name:  "wallet",
		Usage: "address receiving crank rewards",
	}
	intervalFlag = cli.Uint64Flag{
		Name:  "interval",
		Value: 5,
		Usage: "seconds between crank passes",
	}
	daoFlag = cli.StringFlag{
		Name:  "dao",
		Usage: "DAO address whose reward progress feeds the health status",
	}
	verifierKeyFlag = cli.StringFlag{
		Name:   "verifier-key",
		EnvVar: "ANCHOR_WALLET",
		Usage:  "path to the verifier wallet keypair, enables POST /verify",
	}
	enableMetricsFlag = cli.BoolFlag{
		Name:  "enable-metrics",
		Usage: "serve prometheus metrics on GET /metrics",
	}
	verbosityFlag = cli.Uint64Flag{
		Name:  "verbosity",
		Value: 2,
		Usage: "log verbosity (0=error 1=warn 2=info 3=debug)",
	}
)
