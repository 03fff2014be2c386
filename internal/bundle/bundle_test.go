package bundle

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestIsModule(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   bool
	}{
		{"plain script", "globalThis.utaformatix = { parseUfData: function() {} };", false},
		{"export function", "export function parseUfData() {}", true},
		{"export braces", "function a() {}\nexport { a as parseUfData };", true},
		{"export default", "export default {}", true},
		{"import", "import { x } from './x.js';", true},
		{"word in string", `var s = "please export this";`, false},
		{"comment", "// export function nope() {}\nvar a = 1;", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsModule(tt.source); got != tt.want {
				t.Errorf("IsModule = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWrap_PlainScriptUnchanged(t *testing.T) {
	src := "globalThis.utaformatix = {};"
	if got := Wrap(src, ""); got != src {
		t.Errorf("Wrap changed a plain script: %q", got)
	}
}

func TestWrap_ModuleAssignsGlobal(t *testing.T) {
	got := Wrap("export function parseUfData() { return 'あ'; }", "lib")
	if !strings.Contains(got, "globalThis.lib") {
		t.Fatalf("wrapped code does not assign globalThis.lib:\n%s", got)
	}
	if IsModule(got) || strings.Contains(got, "export function") {
		t.Fatalf("wrapped code still has export syntax:\n%s", got)
	}
	if !strings.Contains(got, "あ") {
		t.Fatalf("non-ASCII text was escaped:\n%s", got)
	}
}

func TestWrap_InvalidModuleReturnedAsIs(t *testing.T) {
	src := "export function ( {"
	if got := Wrap(src, ""); got != src {
		t.Errorf("Wrap = %q, want source unchanged", got)
	}
}

func TestBuild(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("util.js", `export function lyric() { return "あ"; }`)
	write("index.js", `import { lyric } from './util.js';
export function parseUfData() { return lyric(); }`)

	out, err := Build(Options{Entry: "index.js", WorkDir: dir})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.Contains(out, "globalThis.utaformatix") {
		t.Fatalf("bundle does not assign the default global:\n%s", out)
	}
	if strings.Contains(out, "import ") {
		t.Fatalf("bundle still imports:\n%s", out)
	}
}

func TestBuild_Minify(t *testing.T) {
	dir := t.TempDir()
	entry := filepath.Join(dir, "index.js")
	src := "export function generateUfData(project) {\n  const longVariableName = project;\n  return longVariableName;\n}\n"
	if err := os.WriteFile(entry, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	plain, err := Build(Options{Entry: entry, GlobalName: "lib"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	small, err := Build(Options{Entry: entry, GlobalName: "lib", Minify: true})
	if err != nil {
		t.Fatalf("Build minified: %v", err)
	}
	if len(small) >= len(plain) {
		t.Errorf("minified bundle (%d bytes) is not smaller than plain (%d bytes)", len(small), len(plain))
	}
}

func TestBuild_Errors(t *testing.T) {
	if _, err := Build(Options{}); err == nil {
		t.Error("expected error for empty entry")
	}
	dir := t.TempDir()
	if _, err := Build(Options{Entry: filepath.Join(dir, "missing.js")}); err == nil {
		t.Error("expected error for missing entry")
	}
	entry := filepath.Join(dir, "index.js")
	if err := os.WriteFile(entry, []byte(`import { x } from './nope.js'; export { x };`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Build(Options{Entry: entry}); err == nil || !strings.Contains(err.Error(), "nope.js") {
		t.Errorf("Build error = %v, want mention of nope.js", err)
	}
}

func TestDefault(t *testing.T) {
	src, err := Default()
	if errors.Is(err, ErrNoBundle) {
		t.Skip("no bundle embedded")
	}
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	if src == "" {
		t.Fatal("embedded bundle is empty")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lib.js")
	if err := os.WriteFile(path, []byte("var a = 1;"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil || got != "var a = 1;" {
		t.Fatalf("Load = %q, %v", got, err)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.js")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
