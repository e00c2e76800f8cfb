// dittostore is a file registry server with incremental content hashing
// and an acknowledged, chunked upload protocol.
//
// Usage:
//
//	dittostore init [--force] [--config path]
//	dittostore start [--config path]
//	dittostore upload [flags] <local-file> [remote-name]
//	dittostore version
package main

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/pflag"
)

// Set via -ldflags at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const usage = `DittoStore - file registry with incremental hashing

Usage:
  dittostore <command> [flags]

Commands:
  init      Write a sample configuration file
  start     Start the server
  upload    Upload a local file to a running server
  version   Show version information

Run 'dittostore <command> --help' for command flags.
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		fmt.Print(usage)
		return fmt.Errorf("no command given")
	}

	switch args[0] {
	case "init":
		return runInit(args[1:])
	case "start":
		return runStart(args[1:])
	case "upload":
		return runUpload(args[1:])
	case "version", "--version":
		printVersion()
		return nil
	case "help", "--help", "-h":
		fmt.Print(usage)
		return nil
	default:
		fmt.Print(usage)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printVersion() {
	fmt.Printf("dittostore %s\n", version)
	fmt.Printf("  commit:  %s\n", commit)
	fmt.Printf("  built:   %s\n", date)
	fmt.Printf("  go:      %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// newFlagSet creates a subcommand flag set that prints its own usage.
func newFlagSet(name, synopsis string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: dittostore %s\n\nFlags:\n", synopsis)
		fs.PrintDefaults()
	}
	return fs
}
