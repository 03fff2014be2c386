package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	utaformatix "github.com/sevenc-nanashi/utaformatix-lib"
)

func detectCommand() *cli.Command {
	return &cli.Command{
		Name:      "detect",
		Usage:     "Print the format of each file",
		ArgsUsage: "FILE...",
		Action:    detectAction,
	}
}

func detectAction(ctx context.Context, cmd *cli.Command) error {
	files, err := inputFiles(cmd)
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

	w := cmd.Root().Writer
	unknown := 0
	for _, path := range files {
		format, err := detectFile(ctx, s, u, path)
		switch {
		case errors.Is(err, utaformatix.ErrFormatNotRecognized):
			unknown++
			fmt.Fprintf(w, "%s\tunknown\n", path)
		case err != nil:
			return fmt.Errorf("%s: %w", path, err)
		default:
			fmt.Fprintf(w, "%s\t%s\n", path, format)
		}
	}
	if unknown > 0 {
		return fmt.Errorf("%d of %d files not recognized", unknown, len(files))
	}
	return nil
}

func detectFile(ctx context.Context, s *session, u *utaformatix.UtaFormatix, path string) (utaformatix.Format, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return u.DetectFormat(ctx, data)
}
