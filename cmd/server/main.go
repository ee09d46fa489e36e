package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

const version = "0.1.0"

func main() {
	app := &cli.App{
		Name:    "verrify",
		Usage:   "Land parcel verification API",
		Version: version,
		Commands: []*cli.Command{
			serveCommand,
			migrateCommand,
			caseIDCommand,
			tokenCommand,
		},
		DefaultCommand: serveCommand.Name,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "verrify: %v\n", err)
		os.Exit(1)
	}
}
