// Command utaformatix converts vocal synthesizer project files.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

// Version is set during build using ldflags
var Version = "dev"

func newApp() *cli.Command {
	return &cli.Command{
		Name:    "utaformatix",
		Version: Version,
		Usage:   "Convert singing voice synthesizer projects between formats",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to TOML configuration file",
				Sources: cli.EnvVars("UTAFORMATIX_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "bundle",
				Aliases: []string{"b"},
				Usage:   "Library bundle to load instead of the embedded one",
				Sources: cli.EnvVars("UTAFORMATIX_BUNDLE"),
			},
			&cli.StringFlag{
				Name:  "global-name",
				Usage: "Global the bundle assigns its exports to",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (trace, debug, info, warn, error)",
				Sources: cli.EnvVars("UTAFORMATIX_LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Log format (text, json)",
			},
			&cli.IntFlag{
				Name:  "memory-limit",
				Usage: "Evaluator heap limit in MiB, 0 for the engine default",
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Usage:   "Time limit per file, 0 for none",
			},
			&cli.IntFlag{
				Name:    "jobs",
				Aliases: []string{"j"},
				Usage:   "Number of files converted in parallel",
			},
		},
		Commands: []*cli.Command{
			formatsCommand(),
			detectCommand(),
			convertCommand(),
			parseCommand(),
			lyricsCommand(),
			bundleCommand(),
			configCommand(),
			versionCommand(),
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print the version information",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			_, err := fmt.Fprintf(cmd.Root().Writer, "utaformatix version %s\n", cmd.Root().Version)
			return err
		},
	}
}

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
