package main

import (
	"context"

	"github.com/urfave/cli/v3"
)

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Print the effective configuration as TOML",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			s, err := newSession(cmd)
			if err != nil {
				return err
			}
			out, err := s.cfg.Marshal()
			if err != nil {
				return err
			}
			_, err = cmd.Root().Writer.Write(out)
			return err
		},
	}
}
