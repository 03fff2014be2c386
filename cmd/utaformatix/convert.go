package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	utaformatix "github.com/sevenc-nanashi/utaformatix-lib"
)

func convertCommand() *cli.Command {
	return &cli.Command{
		Name:      "convert",
		Usage:     "Convert files to another format",
		ArgsUsage: "FILE...",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:    "from",
				Aliases: []string{"f"},
				Usage:   "Input format, detected per file when omitted",
			},
			&cli.StringFlag{
				Name:     "to",
				Aliases:  []string{"T"},
				Usage:    "Output format",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Output file, or directory when converting several files",
			},
		}, conversionFlags()...),
		Action: convertAction,
	}
}

func convertAction(ctx context.Context, cmd *cli.Command) error {
	files, err := inputFiles(cmd)
	if err != nil {
		return err
	}
	src, err := parseFormatFlag(cmd, "from")
	if err != nil {
		return err
	}
	dst, err := parseFormatFlag(cmd, "to")
	if err != nil {
		return err
	}
	opts, err := conversionOptions(cmd)
	if err != nil {
		return err
	}
	output := cmd.String("output")
	if len(files) > 1 && output != "" {
		if err := os.MkdirAll(output, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	pool, err := s.openPool(len(files))
	if err != nil {
		return err
	}
	defer pool.Close()

	written := make([][]string, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(pool.Size())
	for i, path := range files {
		g.Go(func() error {
			paths, err := convertFile(ctx, s, pool, path, src, dst, opts, output)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			written[i] = paths
			return nil
		})
	}
	err = g.Wait()

	w := cmd.Root().Writer
	for i, paths := range written {
		for _, p := range paths {
			fmt.Fprintf(w, "%s -> %s\n", files[i], p)
		}
	}
	return err
}

func convertFile(
	ctx context.Context,
	s *session,
	pool *utaformatix.Pool,
	path string,
	src, dst utaformatix.Format,
	opts utaformatix.Options,
	output string,
) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if src == "" {
		src, err = pool.DetectFormat(ctx, data)
		if err != nil {
			return nil, err
		}
		s.logger.Debug("detected format", "file", path, "format", src)
	}
	out, err := pool.ConvertAll(ctx, data, src, dst, opts)
	if err != nil {
		return nil, err
	}
	paths := outputPaths(path, output, dst, len(out))
	if err := writeFiles(paths, out); err != nil {
		return nil, err
	}
	s.logger.Info("converted", "file", path, "from", src, "to", dst, "outputs", len(paths))
	return paths, nil
}

// outputPaths names n output files for input. An output that is an
// existing directory receives files named after the input; any other
// output is used as the file name. Several files get a -01, -02, ...
// suffix.
func outputPaths(input, output string, dst utaformatix.Format, n int) []string {
	dir := filepath.Dir(input)
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	ext := "." + dst.Extension()

	if output != "" {
		if fi, err := os.Stat(output); err == nil && fi.IsDir() {
			dir = output
		} else {
			if n == 1 {
				return []string{output}
			}
			dir = filepath.Dir(output)
			base = strings.TrimSuffix(filepath.Base(output), filepath.Ext(output))
		}
	}
	if n == 1 {
		return []string{filepath.Join(dir, base+ext)}
	}
	paths := make([]string, n)
	for i := range paths {
		paths[i] = filepath.Join(dir, fmt.Sprintf("%s-%02d%s", base, i+1, ext))
	}
	return paths
}
