// Command acqtool records, replays, imports and exports tracked frame
// sequences and inspects the acquisition catalog.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/banshee-data/trackedvideo/internal/version"
)

type command struct {
	name    string
	summary string
	run     func(args []string, out io.Writer) error
}

var commands = []command{
	{"record", "Record a synthetic tracked probe, then log, export and catalog it", runRecord},
	{"replay", "Replay a frame log as a live sensor into a new acquisition", runReplay},
	{"import", "Import a directory of FITS frames into the catalog", runImport},
	{"export", "Export a frame log as a FITS sequence", runExport},
	{"info", "List catalogued acquisitions or show one", runInfo},
	{"framerate", "Analyse frame timing of a frame log or FITS sequence", runFramerate},
	{"slices", "Print the static slice indices for a sequence length", runSlices},
	{"config", "Print the effective configuration as JSON or YAML", runConfig},
}

func main() {
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	name := flag.Arg(0)
	args := flag.Args()[1:]

	switch name {
	case "version":
		fmt.Printf("acqtool %s\n", version.String())
		return
	case "help":
		printUsage()
		return
	}

	for _, c := range commands {
		if c.name != name {
			continue
		}
		if err := c.run(args, os.Stdout); err != nil {
			if errors.Is(err, flag.ErrHelp) {
				return
			}
			fmt.Fprintf(os.Stderr, "acqtool %s: %v\n", name, err)
			os.Exit(1)
		}
		return
	}

	fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", name)
	printUsage()
	os.Exit(1)
}

func printUsage() {
	fmt.Println(`acqtool - tracked frame sequence tool

Usage: acqtool <command> [options]

Commands:`)
	for _, c := range commands {
		fmt.Printf("  %-10s %s\n", c.name, c.summary)
	}
	fmt.Println(`  version    Show acqtool version
  help       Show this help message

Every command accepts --config <file> (.json, .yaml or .yml). Settings can
also be overridden with TRACKEDVIDEO_* environment variables, for example
TRACKEDVIDEO_BASE_DIR=/data/acquisitions.

Examples:
  # Record 300 ticks of the synthetic probe
  acqtool record --ticks 300 --name phantom

  # Record in real time for ten seconds
  acqtool record --duration 10s

  # Export a recorded log with the mask applied
  acqtool export --log acquisitions/<id>/log --masked

  # Frame timing report
  acqtool framerate --log acquisitions/<id>/log --html timing.html`)
}
