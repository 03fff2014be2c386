package utaformatix

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sevenc-nanashi/utaformatix-lib/internal/evaluator"
)

// ListSupportedFormats returns, in display order, every format the loaded
// library can read or write.
func (u *UtaFormatix) ListSupportedFormats(ctx context.Context) ([]Format, error) {
	caps, err := u.Capabilities(ctx)
	if err != nil {
		return nil, err
	}
	formats := make([]Format, len(caps))
	for i, c := range caps {
		formats[i] = c.Format
	}
	return formats, nil
}

// Capabilities reports what the loaded library can do with each format it
// supports at all.
func (u *UtaFormatix) Capabilities(ctx context.Context) ([]Capabilities, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case <-u.done:
		return nil, ErrClosed
	default:
	}
	var caps []Capabilities
	for _, f := range AllFormats {
		c := Capabilities{
			Format:      f,
			CanParse:    u.hasExport(f.parseExport()),
			CanGenerate: u.hasExport(f.generateExport()),
		}
		if c.CanParse || c.CanGenerate {
			caps = append(caps, c)
		}
	}
	return caps, nil
}

// Parse reads a project. Formats that store one track per file (UST) take
// several files, or a single ZIP archive holding them; every other format
// takes exactly one.
func (u *UtaFormatix) Parse(ctx context.Context, format Format, opts Options, files ...[]byte) (*UfData, error) {
	if !format.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	arg, err := parseArg(format, files)
	if err != nil {
		return nil, err
	}
	var data *UfData
	err = u.call(ctx, format.parseExport(), func(h *evaluator.Host) error {
		var err error
		data, err = parseOn(h, format, arg, opts)
		return err
	})
	return data, err
}

// Generate writes a project. Formats that store one file per track
// (MusicXML, UST) return several files; every other format returns one.
func (u *UtaFormatix) Generate(ctx context.Context, format Format, data *UfData, opts Options) ([][]byte, error) {
	if !format.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if data == nil {
		return nil, fmt.Errorf("%w: nil project", ErrInvalidArgument)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encoding project: %w", err)
	}
	var files [][]byte
	err = u.call(ctx, format.generateExport(), func(h *evaluator.Host) error {
		var err error
		files, err = generateOn(h, format, raw, opts)
		return err
	})
	return files, err
}

// Convert parses data as src and generates dst. When dst yields several
// files they are returned packed in a ZIP archive; use ConvertAll to get
// them separately.
//
// opts go to both steps. The parser additionally gets the
// DefaultParseOptions for keys opts leaves unset.
func (u *UtaFormatix) Convert(ctx context.Context, data []byte, src, dst Format, opts Options) ([]byte, error) {
	files, err := u.ConvertAll(ctx, data, src, dst, opts)
	if err != nil {
		return nil, err
	}
	if len(files) == 1 {
		return files[0], nil
	}
	return packFiles(dst, files)
}

// ConvertAll is Convert returning every generated file.
func (u *UtaFormatix) ConvertAll(ctx context.Context, data []byte, src, dst Format, opts Options) ([][]byte, error) {
	for _, f := range []Format{src, dst} {
		if !f.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, f)
		}
	}
	arg, err := parseArg(src, [][]byte{data})
	if err != nil {
		return nil, err
	}
	var files [][]byte
	err = u.call(ctx, "convert", func(h *evaluator.Host) error {
		parsed, err := parseOn(h, src, arg, opts)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(parsed)
		if err != nil {
			return fmt.Errorf("encoding project: %w", err)
		}
		files, err = generateOn(h, dst, raw, opts)
		return err
	})
	return files, err
}

// AnalyzeJapaneseLyricsType guesses how the project's lyrics are written.
// It returns LyricsUnknown when the library cannot tell.
func (u *UtaFormatix) AnalyzeJapaneseLyricsType(ctx context.Context, data *UfData) (JapaneseLyricsType, error) {
	if data == nil {
		return "", fmt.Errorf("%w: nil project", ErrInvalidArgument)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encoding project: %w", err)
	}
	var t JapaneseLyricsType
	err = u.call(ctx, "analyzeJapaneseLyricsType", func(h *evaluator.Host) error {
		var err error
		t, err = analyzeOn(h, raw)
		return err
	})
	return t, err
}

// ConvertJapaneseLyrics rewrites the project's lyrics from one type to
// another. An empty from is detected first; if it cannot be determined the
// project is returned unchanged.
func (u *UtaFormatix) ConvertJapaneseLyrics(ctx context.Context, data *UfData, from, to JapaneseLyricsType, opts Options) (*UfData, error) {
	if data == nil {
		return nil, fmt.Errorf("%w: nil project", ErrInvalidArgument)
	}
	if !to.Valid() {
		return nil, fmt.Errorf("%w: target lyrics type %q", ErrInvalidArgument, to)
	}
	if from != "" && !from.Valid() {
		return nil, fmt.Errorf("%w: source lyrics type %q", ErrInvalidArgument, from)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encoding project: %w", err)
	}

	var out *UfData
	err = u.call(ctx, "convertJapaneseLyrics", func(h *evaluator.Host) error {
		src := from
		if src == "" {
			t, err := analyzeOn(h, raw)
			if err != nil {
				return err
			}
			if !t.Valid() {
				u.logger.Warn("could not determine the lyrics type, leaving lyrics unchanged")
				out, err = decodeUfData(raw)
				return err
			}
			src = t
		}
		v, err := h.Invoke("convertJapaneseLyrics", evaluator.JSON(raw), evaluator.Text(src), evaluator.Text(to), opts.arg())
		if err != nil {
			return err
		}
		out, err = projectResult("convertJapaneseLyrics", v)
		return err
	})
	return out, err
}

// parseArg shapes input files for the format's parser.
func parseArg(format Format, files [][]byte) (evaluator.Arg, error) {
	if format.MultiFileInput() {
		if len(files) == 1 {
			if unpacked, ok := unpackFiles(files[0]); ok {
				files = unpacked
			}
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("%w: %s needs at least one file", ErrInvalidArgument, format)
		}
		return evaluator.BytesList(files), nil
	}
	if len(files) != 1 {
		return nil, fmt.Errorf("%w: %s takes exactly one file, got %d", ErrInvalidArgument, format, len(files))
	}
	return evaluator.Bytes(files[0]), nil
}

func parseOn(h *evaluator.Host, format Format, arg evaluator.Arg, opts Options) (*UfData, error) {
	export := format.parseExport()
	v, err := h.Invoke(export, arg, opts.withDefaults(DefaultParseOptions().Options()).arg())
	if err != nil {
		return nil, err
	}
	return projectResult(export, v)
}

func generateOn(h *evaluator.Host, format Format, raw []byte, opts Options) ([][]byte, error) {
	export := format.generateExport()
	v, err := h.Invoke(export, evaluator.JSON(raw), opts.arg())
	if err != nil {
		return nil, err
	}
	switch v.Kind {
	case evaluator.ValueBytes:
		return [][]byte{v.Bytes}, nil
	case evaluator.ValueBytesList:
		return v.BytesList, nil
	}
	return nil, &FaultError{Op: export, Err: fmt.Errorf("expected bytes, library returned %s", v.Kind)}
}

func analyzeOn(h *evaluator.Host, raw []byte) (JapaneseLyricsType, error) {
	const export = "analyzeJapaneseLyricsType"
	v, err := h.Invoke(export, evaluator.JSON(raw))
	if err != nil {
		return "", err
	}
	switch v.Kind {
	case evaluator.ValueText:
		if t := JapaneseLyricsType(v.Text); t.Valid() {
			return t, nil
		}
		return LyricsUnknown, nil
	case evaluator.ValueUndefined:
		return LyricsUnknown, nil
	}
	return "", &FaultError{Op: export, Err: fmt.Errorf("expected text, library returned %s", v.Kind)}
}

func projectResult(export string, v evaluator.Value) (*UfData, error) {
	if v.Kind != evaluator.ValueJSON {
		return nil, &FaultError{Op: export, Err: fmt.Errorf("expected a project, library returned %s", v.Kind)}
	}
	data, err := decodeUfData(v.JSON)
	if err != nil {
		return nil, &FaultError{Op: export, Err: err}
	}
	return data, nil
}
