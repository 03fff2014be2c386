package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	utaformatix "github.com/sevenc-nanashi/utaformatix-lib"
	"github.com/sevenc-nanashi/utaformatix-lib/internal/bundle"
)

func bundleCommand() *cli.Command {
	return &cli.Command{
		Name:      "bundle",
		Usage:     "Bundle a library entry point into a single loadable script",
		ArgsUsage: "ENTRY",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Write the bundle here instead of standard output",
			},
			&cli.StringFlag{
				Name:  "workdir",
				Usage: "Directory imports are resolved from, defaults to the entry's",
			},
			&cli.BoolFlag{
				Name:  "minify",
				Usage: "Minify the output",
			},
			&cli.BoolFlag{
				Name:  "check",
				Usage: "Load the result and list its formats",
			},
		},
		Action: bundleAction,
	}
}

func bundleAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return fmt.Errorf("exactly one entry point is required")
	}
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	src, err := bundle.Build(bundle.Options{
		Entry:      cmd.Args().First(),
		WorkDir:    cmd.String("workdir"),
		GlobalName: s.cfg.GlobalName,
		Minify:     cmd.Bool("minify"),
	})
	if err != nil {
		return err
	}

	if cmd.Bool("check") {
		u, err := utaformatix.New(
			utaformatix.WithBundle(src),
			utaformatix.WithGlobalName(s.cfg.GlobalName),
			utaformatix.WithLogger(s.logger),
		)
		if err != nil {
			return fmt.Errorf("bundle does not load: %w", err)
		}
		defer u.Close()
		caps, err := u.Capabilities(ctx)
		if err != nil {
			return err
		}
		s.logger.Info("bundle loaded", "engine", u.Engine(), "formats", len(caps))
		fmt.Fprintln(cmd.Root().ErrWriter, formatsTable(caps))
	}

	if path := cmd.String("output"); path != "" {
		if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
			return fmt.Errorf("failed to write bundle: %w", err)
		}
		return nil
	}
	_, err = fmt.Fprint(cmd.Root().Writer, src)
	return err
}
