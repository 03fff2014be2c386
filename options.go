package utaformatix

import (
	"encoding/json"
	"log/slog"
	"maps"
	"strconv"

	"github.com/sevenc-nanashi/utaformatix-lib/internal/evaluator"
)

// Options are passed through to the library untouched. Values that are
// JSON literals (true, false, null, numbers, quoted strings) arrive as
// those values, everything else as plain strings.
type Options map[string]string

func (o Options) arg() evaluator.Options {
	if o == nil {
		return evaluator.Options{}
	}
	return evaluator.Options(o)
}

// withDefaults returns o with the keys of defaults it does not set.
func (o Options) withDefaults(defaults Options) Options {
	out := maps.Clone(defaults)
	if out == nil {
		out = Options{}
	}
	maps.Copy(out, o)
	return out
}

// ParseOptions are the options every parser understands.
type ParseOptions struct {
	// Pitch controls whether pitch curves are imported.
	Pitch bool
	// DefaultLyric replaces empty lyrics.
	DefaultLyric string
}

// DefaultParseOptions imports pitch and fills empty lyrics with "あ".
func DefaultParseOptions() ParseOptions {
	return ParseOptions{Pitch: true, DefaultLyric: "あ"}
}

// Options converts p to the pass-through form.
func (p ParseOptions) Options() Options {
	lyric := p.DefaultLyric
	if json.Valid([]byte(lyric)) {
		// "1" or "null" would otherwise cross as a number or null
		b, _ := json.Marshal(lyric)
		lyric = string(b)
	}
	return Options{
		"pitch":        strconv.FormatBool(p.Pitch),
		"defaultLyric": lyric,
	}
}

type settings struct {
	source          string
	bundlePath      string
	globalName      string
	logger          *slog.Logger
	memoryLimitMB   int
	recreateOnFault bool
}

// Option configures New and NewPool.
type Option func(*settings)

// WithBundle uses src as the library bundle: a script assigning
// globalThis.<global name>, or an ES module.
func WithBundle(src string) Option {
	return func(s *settings) { s.source = src }
}

// WithBundleFile reads the library bundle from path.
func WithBundleFile(path string) Option {
	return func(s *settings) { s.bundlePath = path }
}

// WithGlobalName sets the global the bundle assigns. Default "utaformatix".
func WithGlobalName(name string) Option {
	return func(s *settings) { s.globalName = name }
}

// WithLogger receives diagnostics and the library's console output.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithMemoryLimitMB caps the evaluator heap. Zero keeps the engine default.
func WithMemoryLimitMB(mb int) Option {
	return func(s *settings) { s.memoryLimitMB = mb }
}

// WithRecreateOnFault controls whether an instance whose evaluator failed
// (interrupted, crashed) gets a fresh evaluator before the next call.
// Enabled by default.
func WithRecreateOnFault(enabled bool) Option {
	return func(s *settings) { s.recreateOnFault = enabled }
}
