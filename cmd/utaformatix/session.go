package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	utaformatix "github.com/sevenc-nanashi/utaformatix-lib"
	"github.com/sevenc-nanashi/utaformatix-lib/internal/config"
	"github.com/sevenc-nanashi/utaformatix-lib/internal/logging"
)

// session is the effective configuration of one invocation: the config
// file, if any, overridden by flags.
type session struct {
	cfg    *config.Config
	logger *slog.Logger
}

func newSession(cmd *cli.Command) (*session, error) {
	cfg := config.Default()
	if path := cmd.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}
	if cmd.IsSet("bundle") {
		cfg.Bundle = cmd.String("bundle")
	}
	if cmd.IsSet("global-name") {
		cfg.GlobalName = cmd.String("global-name")
	}
	if cmd.IsSet("log-level") {
		cfg.LogLevel = cmd.String("log-level")
	}
	if cmd.IsSet("log-format") {
		cfg.LogFormat = cmd.String("log-format")
	}
	if cmd.IsSet("memory-limit") {
		cfg.MemoryLimitMB = int(cmd.Int("memory-limit"))
	}
	if cmd.IsSet("timeout") {
		cfg.Timeout = config.Duration(cmd.Duration("timeout"))
	}
	if cmd.IsSet("jobs") {
		cfg.PoolSize = int(cmd.Int("jobs"))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	format, err := logging.ParseFormat(cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewLogger(format, cfg.LogLevel, cmd.Root().ErrWriter)
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, logger: logger}, nil
}

func (s *session) options() []utaformatix.Option {
	opts := []utaformatix.Option{
		utaformatix.WithLogger(s.logger),
		utaformatix.WithGlobalName(s.cfg.GlobalName),
		utaformatix.WithMemoryLimitMB(s.cfg.MemoryLimitMB),
	}
	if s.cfg.Bundle != "" {
		opts = append(opts, utaformatix.WithBundleFile(s.cfg.Bundle))
	}
	return opts
}

func (s *session) open() (*utaformatix.UtaFormatix, error) {
	return utaformatix.New(s.options()...)
}

// openPool starts no more instances than there is work for.
func (s *session) openPool(work int) (*utaformatix.Pool, error) {
	return utaformatix.NewPool(max(1, min(s.cfg.PoolSize, work)), s.options()...)
}

// withTimeout bounds a single file's work.
func (s *session) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d := time.Duration(s.cfg.Timeout); d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

func conversionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:    "option",
			Aliases: []string{"O"},
			Usage:   "Library option as key=value, repeatable",
		},
		&cli.BoolFlag{
			Name:  "no-pitch",
			Usage: "Do not import pitch curves",
		},
		&cli.StringFlag{
			Name:  "default-lyric",
			Usage: "Lyric for notes that have none",
			Value: utaformatix.DefaultParseOptions().DefaultLyric,
		},
	}
}

// conversionOptions merges the parse flags with the -O pairs, which win.
func conversionOptions(cmd *cli.Command) (utaformatix.Options, error) {
	opts := utaformatix.ParseOptions{
		Pitch:        !cmd.Bool("no-pitch"),
		DefaultLyric: cmd.String("default-lyric"),
	}.Options()
	for _, pair := range cmd.StringSlice("option") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid option %q, expected key=value", pair)
		}
		opts[key] = value
	}
	return opts, nil
}

func parseFormatFlag(cmd *cli.Command, name string) (utaformatix.Format, error) {
	v := cmd.String(name)
	if v == "" {
		return "", nil
	}
	f, err := utaformatix.ParseFormat(v)
	if err != nil {
		return "", fmt.Errorf("--%s: %w", name, err)
	}
	return f, nil
}

func inputFiles(cmd *cli.Command) ([]string, error) {
	files := cmd.Args().Slice()
	if len(files) == 0 {
		return nil, fmt.Errorf("at least one input file is required")
	}
	return files, nil
}

func writeFiles(paths []string, files [][]byte) error {
	for i, path := range paths {
		if err := os.WriteFile(path, files[i], 0o644); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	return nil
}
