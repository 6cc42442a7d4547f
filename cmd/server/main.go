// Package main is the entry point for the Kerala Riders API server.
//
// The main package stays minimal. It parses the command line and hands off
// to internal/server; all actual logic lives in the internal packages.
//
//	server               # same as "server serve"
//	server serve         # run the HTTP API
//	server sync          # run one Strava sync of every connected rider
//	server version
package main

import (
	"fmt"
	"os"
	_ "time/tzdata" // TIMEZONE must resolve on hosts without zoneinfo
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
