package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	utaformatix "github.com/sevenc-nanashi/utaformatix-lib"
)

func lyricsCommand() *cli.Command {
	return &cli.Command{
		Name:      "lyrics",
		Usage:     "Analyze or convert Japanese lyrics",
		ArgsUsage: "FILE",
		Description: "Without --to, prints the lyrics type (KanaCv, KanaVcv, RomajiCv, RomajiVcv or Unknown).\n" +
			"With --to, rewrites the lyrics and writes the project in the same format, or --format.",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:    "from",
				Aliases: []string{"f"},
				Usage:   "Input format, detected when omitted",
			},
			&cli.StringFlag{
				Name:  "to",
				Usage: "Target lyrics type",
			},
			&cli.StringFlag{
				Name:  "lyrics-from",
				Usage: "Current lyrics type, analyzed when omitted",
			},
			&cli.StringFlag{
				Name:  "format",
				Usage: "Output format, defaults to the input format",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Output file",
			},
		}, conversionFlags()...),
		Action: lyricsAction,
	}
}

func lyricsAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return fmt.Errorf("exactly one input file is required")
	}
	path := cmd.Args().First()
	src, err := parseFormatFlag(cmd, "from")
	if err != nil {
		return err
	}
	dst, err := parseFormatFlag(cmd, "format")
	if err != nil {
		return err
	}
	opts, err := conversionOptions(cmd)
	if err != nil {
		return err
	}
	input, err := os.ReadFile(path)
	if err != nil {
		return err
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
	if src == "" {
		if src, err = u.DetectFormat(ctx, input); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	data, err := u.Parse(ctx, src, opts, input)
	if err != nil {
		return err
	}

	if !cmd.IsSet("to") {
		typ, err := u.AnalyzeJapaneseLyricsType(ctx, data)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.Root().Writer, typ)
		return err
	}

	converted, err := u.ConvertJapaneseLyrics(ctx, data,
		utaformatix.JapaneseLyricsType(cmd.String("lyrics-from")),
		utaformatix.JapaneseLyricsType(cmd.String("to")),
		opts)
	if err != nil {
		return err
	}
	if dst == "" {
		dst = src
	}
	out, err := u.Generate(ctx, dst, converted, opts)
	if err != nil {
		return err
	}
	paths := outputPaths(path, cmd.String("output"), dst, len(out))
	if cmd.String("output") == "" {
		// never overwrite the input
		for i, p := range paths {
			paths[i] = p[:len(p)-len(dst.Extension())-1] + "-" + cmd.String("to") + "." + dst.Extension()
		}
	}
	if err := writeFiles(paths, out); err != nil {
		return err
	}
	for _, p := range paths {
		fmt.Fprintf(cmd.Root().Writer, "%s -> %s\n", path, p)
	}
	return nil
}
