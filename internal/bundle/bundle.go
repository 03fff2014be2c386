// Package bundle produces and loads the JavaScript bundle of the conversion
// library: bundling a vendored entry with esbuild, turning an ES module into
// a script that publishes its exports on globalThis, and shipping a bundle
// embedded at build time.
//
// Nothing is embedded in a plain checkout; dist/ only holds a README. Build
// the library into dist/utaformatix.js (or .mjs) with Build, or the
// `utaformatix bundle` command, before compiling to make Default succeed.
package bundle

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	esbuild "github.com/evanw/esbuild/pkg/api"
)

// DefaultGlobalName is the global the library publishes itself under.
const DefaultGlobalName = "utaformatix"

// ErrNoBundle is returned by Default when no bundle was embedded.
var ErrNoBundle = errors.New("no embedded library bundle")

//go:embed dist
var dist embed.FS

// embeddedNames are tried in order when looking for the embedded bundle.
var embeddedNames = []string{"dist/utaformatix.js", "dist/utaformatix.mjs"}

// Options configures Build.
type Options struct {
	Entry      string // entry point, relative to WorkDir or absolute
	WorkDir    string // resolution root; defaults to the entry's directory
	GlobalName string // defaults to DefaultGlobalName
	Minify     bool
}

// Build bundles the entry point and everything it imports into one script
// that assigns the entry's exports to globalThis.<GlobalName>.
func Build(opts Options) (string, error) {
	if opts.Entry == "" {
		return "", errors.New("bundle: no entry point")
	}
	name := opts.GlobalName
	if name == "" {
		name = DefaultGlobalName
	}
	workDir := opts.WorkDir
	if workDir == "" {
		workDir = filepath.Dir(opts.Entry)
	}
	workDir, err := filepath.Abs(workDir)
	if err != nil {
		return "", fmt.Errorf("resolving work dir: %w", err)
	}
	entry := opts.Entry
	if !filepath.IsAbs(entry) && opts.WorkDir != "" {
		entry = filepath.Join(workDir, entry)
	}
	if _, err := os.Stat(entry); err != nil {
		return "", fmt.Errorf("reading entry point: %w", err)
	}

	result := esbuild.Build(esbuild.BuildOptions{
		EntryPoints:       []string{entry},
		AbsWorkingDir:     workDir,
		Bundle:            true,
		Format:            esbuild.FormatIIFE,
		GlobalName:        "globalThis." + name,
		Write:             false,
		Platform:          esbuild.PlatformBrowser,
		Target:            esbuild.ES2020,
		Charset:           esbuild.CharsetUTF8,
		LogLevel:          esbuild.LogLevelSilent,
		MinifyWhitespace:  opts.Minify,
		MinifyIdentifiers: opts.Minify,
		MinifySyntax:      opts.Minify,
	})
	if len(result.Errors) > 0 {
		return "", fmt.Errorf("bundling %s: %s", opts.Entry, messages(result.Errors))
	}
	if len(result.OutputFiles) == 0 {
		return "", fmt.Errorf("bundling produced no output")
	}
	return string(result.OutputFiles[0].Contents), nil
}

// moduleSyntax matches top-level import/export statements.
var moduleSyntax = regexp.MustCompile(`(?m)^\s*(export\s*(\{|\*|default\b|const\b|let\b|var\b|function\b|async\b|class\b)|import(\s+[\w{*"']|\s*[{*"']))`)

// IsModule reports whether source looks like an ES module rather than a
// plain script.
func IsModule(source string) bool {
	return moduleSyntax.MatchString(source)
}

// Wrap turns an ES module into a script that assigns its namespace to
// globalThis.<globalName>. Plain scripts are returned unchanged, as is any
// source esbuild cannot parse, so that evaluation reports the error.
func Wrap(source, globalName string) string {
	if !IsModule(source) {
		return source
	}
	if globalName == "" {
		globalName = DefaultGlobalName
	}
	result := esbuild.Transform(source, esbuild.TransformOptions{
		Format:     esbuild.FormatIIFE,
		GlobalName: "globalThis." + globalName,
		Target:     esbuild.ES2020,
		Charset:    esbuild.CharsetUTF8,
	})
	if len(result.Errors) > 0 {
		return source
	}
	return string(result.Code)
}

// Default returns the bundle embedded from dist/.
func Default() (string, error) {
	for _, name := range embeddedNames {
		data, err := dist.ReadFile(name)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("reading embedded %s: %w", name, err)
		}
		return string(data), nil
	}
	return "", ErrNoBundle
}

// Load reads a bundle from disk.
func Load(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading bundle: %w", err)
	}
	return string(data), nil
}

func messages(msgs []esbuild.Message) string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.Location != nil {
			out = append(out, fmt.Sprintf("%s:%d: %s", m.Location.File, m.Location.Line, m.Text))
			continue
		}
		out = append(out, m.Text)
	}
	return strings.Join(out, "; ")
}
