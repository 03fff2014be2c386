package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

func formatsCommand() *cli.Command {
	return &cli.Command{
		Name:    "formats",
		Aliases: []string{"ls"},
		Usage:   "List the formats the loaded library supports",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			s, err := newSession(cmd)
			if err != nil {
				return err
			}
			u, err := s.open()
			if err != nil {
				return err
			}
			defer u.Close()

			caps, err := u.Capabilities(ctx)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.Root().Writer, formatsTable(caps))
			return err
		},
	}
}
