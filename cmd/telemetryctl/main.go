// Copyright 2026 The Telemetryd Authors
// SPDX-License-Identifier: Apache-2.0

// Telemetryctl is a command-line client for the telemetryd HTTP API.
//
// Usage:
//
//	telemetryctl [--server URL] <command> [flags]
//
// Commands:
//
//	machines    list the machine catalog
//	metrics     list the metric catalog
//	latest      newest reading per metric for one machine
//	history     time-bounded series for one (machine, metric)
//	stats       count/min/max/mean and quantiles for one series
//	start       start the simulator
//	stop        stop the simulator
//	status      simulator state
//	tail        follow the live reading stream
//	export      dump stored readings
//	version     print version information
package main

import (
	"fmt"
	"os"

	"github.com/fleetworks/telemetryd/lib/process"
	"github.com/fleetworks/telemetryd/lib/version"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	var err error
	switch command {
	case "machines":
		err = machinesCmd(args)
	case "metrics":
		err = metricsCmd(args)
	case "latest":
		err = latestCmd(args)
	case "history":
		err = historyCmd(args)
	case "stats":
		err = statsCmd(args)
	case "start":
		err = simulateCmd(args, "start")
	case "stop":
		err = simulateCmd(args, "stop")
	case "status":
		err = statusCmd(args)
	case "tail":
		err = tailCmd(args)
	case "export":
		err = exportCmd(args)
	case "version", "--version", "-v":
		fmt.Printf("telemetryctl %s\n", version.Info())
		return
	case "help", "--help", "-h":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		process.Fatal(err)
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `telemetryctl - client for the telemetryd HTTP API

Usage:
  telemetryctl <command> [flags]

Commands:
  machines    list the machine catalog
  metrics     list the metric catalog
  latest      newest reading per metric for one machine
  history     time-bounded series for one (machine, metric)
  stats       count/min/max/mean and quantiles for one series
  start       start the simulator
  stop        stop the simulator
  status      simulator state
  tail        follow the live reading stream
  export      dump stored readings
  version     print version information

Common flags:
  --server    base URL of the telemetryd server (default http://localhost:8080)
`)
}
