package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

func parseCommand() *cli.Command {
	return &cli.Command{
		Name:      "parse",
		Usage:     "Print a project as UtaFormatix data",
		ArgsUsage: "FILE...",
		Description: "Several files are read as one project when the format keeps one track per file (UST).\n" +
			"Otherwise exactly one file is expected.",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:    "from",
				Aliases: []string{"f"},
				Usage:   "Input format, detected from the first file when omitted",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Write the JSON here instead of standard output",
			},
			&cli.BoolFlag{
				Name:  "tree",
				Usage: "Print a summary tree instead of JSON",
			},
		}, conversionFlags()...),
		Action: parseAction,
	}
}

func parseAction(ctx context.Context, cmd *cli.Command) error {
	paths, err := inputFiles(cmd)
	if err != nil {
		return err
	}
	format, err := parseFormatFlag(cmd, "from")
	if err != nil {
		return err
	}
	opts, err := conversionOptions(cmd)
	if err != nil {
		return err
	}
	files := make([][]byte, len(paths))
	for i, p := range paths {
		if files[i], err = os.ReadFile(p); err != nil {
			return err
		}
	}

	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	u, err := s.open()
	if err != nil {
		return err
	}
	defer u.Close()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if format == "" {
		if format, err = u.DetectFormat(ctx, files[0]); err != nil {
			return fmt.Errorf("%s: %w", paths[0], err)
		}
	}
	data, err := u.Parse(ctx, format, opts, files...)
	if err != nil {
		return err
	}

	if cmd.Bool("tree") {
		_, err = fmt.Fprintln(cmd.Root().Writer, projectTree(paths[0], data))
		return err
	}
	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	out = append(out, '\n')
	if path := cmd.String("output"); path != "" {
		return writeFiles([]string{path}, [][]byte{out})
	}
	_, err = cmd.Root().Writer.Write(out)
	return err
}
