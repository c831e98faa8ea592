// Package cmd contains the CLI entry points: serve, ingest, search.
package cmd

import (
	"fmt"
	"os"
)

// Version information, injected at build time via ldflags.
var (
	AppVersion = "0.1.0"
	GitCommit  = "unknown"
)

// Execute routes the command line to a subcommand. Called from main.
func Execute() error {
	args := os.Args[1:]
	if len(args) == 0 {
		printHelp()
		return nil
	}

	switch args[0] {
	case "serve":
		return runServe(args[1:])
	case "ingest":
		return runIngest(args[1:])
	case "search":
		return runSearch(args[1:])
	case "version", "--version", "-v":
		fmt.Printf("gqx v%s (%s)\n", AppVersion, GitCommit)
		return nil
	case "help", "--help", "-h":
		printHelp()
		return nil
	default:
		printHelp()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printHelp() {
	fmt.Print(`gqx - RAG chat engine

Usage:
  gqx serve  [-config path]                 start the HTTP API server
  gqx ingest [-config path] [-strict] file...  index local text files
  gqx search [-config path] [-k n] query    one-shot similarity search
  gqx version                               print version
  gqx help                                  print this help

Configuration is read from gqx.yaml (or -config) with GQX_* environment
overrides. Credentials are referenced by environment variable name and
read from the environment.
`)
}
