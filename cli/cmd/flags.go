// Package cmd provides CLI commands for the moviola binary.
package cmd

import "github.com/urfave/cli/v2"

// Shared flags for read-only commands.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// ConfigFlag points at a moviola.yaml config file.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to config file (default: ./moviola.yaml when present)",
	}

	// HostFlag overrides the script host binary.
	HostFlag = &cli.StringFlag{
		Name:  "host",
		Usage: "Path to the script host binary",
	}
)

// ReadOnlyFlags returns the shared flags for all read-only commands.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
	}
}

// engineFlags returns the flags shared by commands that build an engine
// session (open, save-frame).
func engineFlags() []cli.Flag {
	return []cli.Flag{
		ConfigFlag,
		HostFlag,
		&cli.Int64Flag{
			Name:  "cache-bytes",
			Usage: "Frame cache budget in bytes",
		},
		&cli.IntFlag{
			Name:  "workers",
			Usage: "Concurrent host decode calls",
		},
		&cli.StringFlag{
			Name:  "save-template",
			Usage: "Save file name template, e.g. {script_name}_{frame}",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level: debug, info, warn, error",
		},
	}
}
