package polyfill

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/sevenc-nanashi/utaformatix-lib/internal/backend"
	"github.com/sevenc-nanashi/utaformatix-lib/internal/core"
	"github.com/sevenc-nanashi/utaformatix-lib/internal/eventloop"
)

type testEnv struct {
	rt  core.Engine
	el  *eventloop.EventLoop
	log *bytes.Buffer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	rt, err := backend.New(core.Config{})
	if err != nil {
		t.Fatalf("creating engine: %v", err)
	}
	t.Cleanup(rt.Close)
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	el := eventloop.New()
	if err := Install(rt, el, logger); err != nil {
		t.Fatalf("Install: %v", err)
	}
	return &testEnv{rt: rt, el: el, log: &buf}
}

func (e *testEnv) truthy(t *testing.T, js string) {
	t.Helper()
	ok, err := e.rt.EvalBool(js)
	if err != nil {
		t.Fatalf("%s: %v", js, err)
	}
	if !ok {
		t.Fatalf("expected true: %s", js)
	}
}

func (e *testEnv) str(t *testing.T, js string) string {
	t.Helper()
	s, err := e.rt.EvalString(js)
	if err != nil {
		t.Fatalf("%s: %v", js, err)
	}
	return s
}

// settle runs microtasks and timers until nothing is left.
func (e *testEnv) settle(t *testing.T) {
	t.Helper()
	e.rt.RunMicrotasks()
	if err := e.el.Drain(e.rt); err != nil {
		t.Fatalf("Drain: %v", err)
	}
}

func TestTextEncoder_Bytes(t *testing.T) {
	e := newTestEnv(t)
	tests := []struct {
		expr string
		want string
	}{
		{`'A'`, "65"},
		{`'あ\u0000'`, "227,129,130,0"},
		{`'🎤'`, "240,159,142,164"},
		{`'\ud800x'`, "239,191,189,120"},
		{`''`, ""},
	}
	for _, tt := range tests {
		got := e.str(t, "Array.from(new TextEncoder().encode("+tt.expr+")).join(',')")
		if got != tt.want {
			t.Errorf("encode(%s) = %s, want %s", tt.expr, got, tt.want)
		}
	}
	e.truthy(t, "new TextEncoder().encoding === 'utf-8'")
}

func TestTextEncoder_EncodeInto(t *testing.T) {
	e := newTestEnv(t)
	got := e.str(t, `(function() {
		var dst = new Uint8Array(4);
		var r = new TextEncoder().encodeInto('aあb', dst);
		return r.read + ':' + r.written + ':' + Array.from(dst).join(',');
	})()`)
	if got != "2:4:97,227,129,130" {
		t.Fatalf("encodeInto = %s", got)
	}
}

func TestTextDecoder_RoundTrip(t *testing.T) {
	e := newTestEnv(t)
	for _, s := range []string{
		`'plain'`,
		`'with\u0000nul\u0000'`,
		`'ドレミ 🎤 𝄞'`,
		`''`,
	} {
		e.truthy(t, "new TextDecoder().decode(new TextEncoder().encode("+s+")) === "+s)
	}
}

func TestTextDecoder_Replacement(t *testing.T) {
	e := newTestEnv(t)
	e.truthy(t, `new TextDecoder().decode(new Uint8Array([0x61, 0xFF, 0x62])) === 'a\uFFFDb'`)
	e.truthy(t, `new TextDecoder().decode(new Uint8Array([0xE3, 0x81])) === '\uFFFD'`)
	e.truthy(t, `new TextDecoder().decode(new Uint8Array([0xE3, 0x41])) === '\uFFFDA'`)
	e.truthy(t, `new TextDecoder().decode(new Uint8Array([0xED, 0xA0, 0x80])) === '\uFFFD\uFFFD\uFFFD'`)
}

func TestTextDecoder_Fatal(t *testing.T) {
	e := newTestEnv(t)
	e.truthy(t, `(function() {
		try { new TextDecoder('utf-8', { fatal: true }).decode(new Uint8Array([0xFF])); return false; }
		catch (err) { return err instanceof TypeError; }
	})()`)
}

func TestTextDecoder_Stream(t *testing.T) {
	e := newTestEnv(t)
	e.truthy(t, `(function() {
		var d = new TextDecoder();
		var a = d.decode(new Uint8Array([0x61, 0xE3, 0x81]), { stream: true });
		var b = d.decode(new Uint8Array([0x82]));
		return a === 'a' && b === 'あ';
	})()`)
}

func TestTextDecoder_BOM(t *testing.T) {
	e := newTestEnv(t)
	e.truthy(t, `new TextDecoder().decode(new Uint8Array([0xEF, 0xBB, 0xBF, 0x61])) === 'a'`)
	e.truthy(t, `new TextDecoder('utf-8', { ignoreBOM: true }).decode(new Uint8Array([0xEF, 0xBB, 0xBF, 0x61])) === '\uFEFFa'`)
}

func TestTextDecoder_ShiftJIS(t *testing.T) {
	e := newTestEnv(t)
	e.truthy(t, `new TextDecoder('sjis').encoding === 'shift_jis'`)
	e.truthy(t, `new TextDecoder('shift_jis').decode(new Uint8Array([0x82, 0xA0, 0x00, 0x41])) === 'あ\u0000A'`)
	e.truthy(t, `(function() {
		var d = new TextDecoder('shift_jis');
		var a = d.decode(new Uint8Array([0x82]), { stream: true });
		return a === '' && d.decode(new Uint8Array([0xA0])) === 'あ';
	})()`)
	e.truthy(t, `new TextDecoder('utf-16le').decode(new Uint8Array([0x42, 0x30])) === 'あ'`)
}

func TestTextDecoder_UnsupportedLabel(t *testing.T) {
	e := newTestEnv(t)
	got := e.str(t, `(function() {
		try { new TextDecoder('klingon-8'); return 'no throw'; }
		catch (err) { return err.name + ':' + err.code; }
	})()`)
	if got != "RangeError:ERR_ENCODING_NOT_SUPPORTED" {
		t.Fatalf("unsupported label = %s", got)
	}
}

func TestHostCodecGlobals(t *testing.T) {
	e := newTestEnv(t)
	e.truthy(t, `__encode('あ\u0000').join(',') === '227,129,130,0'`)
	e.truthy(t, `__encode('').length === 0`)
	e.truthy(t, `__decode(__encode('with\u0000nul 🎤')) === 'with\u0000nul 🎤'`)
	e.truthy(t, `__decode(new Uint8Array([0x82, 0xA0]), 'shift_jis') === 'あ'`)
	e.truthy(t, `__decode(new Uint8Array([0x61, 0xFF]).buffer, 'utf-8') === 'a\uFFFD'`)
	e.truthy(t, `(function() {
		try { __decode(new Uint8Array([0x61]), 'klingon-8'); return false; }
		catch (err) { return err.message.indexOf('unsupported encoding') >= 0; }
	})()`)
}

func TestTextDecoder_StreamFatalAndBOM(t *testing.T) {
	e := newTestEnv(t)
	e.truthy(t, `(function() {
		var d = new TextDecoder('utf-8', { fatal: true });
		var a = d.decode(new Uint8Array([0xEF, 0xBB]), { stream: true });
		var b = d.decode(new Uint8Array([0xBF, 0x61, 0xE3]), { stream: true });
		var c = d.decode(new Uint8Array([0x81, 0x82]));
		return a === '' && b === 'a' && c === 'あ';
	})()`)
	e.truthy(t, `(function() {
		var d = new TextDecoder();
		d.decode(new Uint8Array([0x61]), { stream: true });
		return d.decode(new Uint8Array([0xEF, 0xBB, 0xBF])) === '\uFEFF';
	})()`)
}

func TestBase64(t *testing.T) {
	e := newTestEnv(t)
	e.truthy(t, `btoa('hello') === 'aGVsbG8='`)
	e.truthy(t, `atob('aGVsbG8=') === 'hello'`)
	e.truthy(t, `atob(btoa('\u0000\u00ff\u0080ab')) === '\u0000\u00ff\u0080ab'`)
	e.truthy(t, `atob(' aGk ') === 'hi'`)
	e.truthy(t, `(function() { try { atob('a'); return false; } catch (err) { return err.name === 'InvalidCharacterError'; } })()`)
	e.truthy(t, `(function() { try { btoa('あ'); return false; } catch (err) { return true; } })()`)
}

func TestBlob_BytesPreserved(t *testing.T) {
	e := newTestEnv(t)
	if err := e.rt.Eval(`
		var b = new Blob([new Uint8Array([0, 255, 128]), 'あ', new Blob([new Uint8Array([7]).buffer])], { type: 'Application/Octet-Stream' });
		globalThis.__size = b.size;
		globalThis.__type = b.type;
		b.arrayBuffer().then(function(buf) { globalThis.__ab = Array.from(new Uint8Array(buf)).join(','); });
		b.slice(1, 3).bytes().then(function(u8) { globalThis.__slice = Array.from(u8).join(','); });
		b.slice(-1).bytes().then(function(u8) { globalThis.__tail = Array.from(u8).join(','); });
	`); err != nil {
		t.Fatalf("Eval: %v", err)
	}
	e.settle(t)
	if got := e.str(t, "String(__size)"); got != "7" {
		t.Errorf("size = %s, want 7", got)
	}
	if got := e.str(t, "__type"); got != "application/octet-stream" {
		t.Errorf("type = %s", got)
	}
	if got := e.str(t, "__ab"); got != "0,255,128,227,129,130,7" {
		t.Errorf("arrayBuffer = %s", got)
	}
	if got := e.str(t, "__slice"); got != "255,128" {
		t.Errorf("slice = %s", got)
	}
	if got := e.str(t, "__tail"); got != "7" {
		t.Errorf("tail = %s", got)
	}
}

func TestBlob_Text(t *testing.T) {
	e := newTestEnv(t)
	if err := e.rt.Eval(`new Blob(['hé', 'llo\u0000']).text().then(function(s) { globalThis.__text = s; });`); err != nil {
		t.Fatalf("Eval: %v", err)
	}
	e.settle(t)
	e.truthy(t, `__text === 'héllo\u0000'`)
}

func TestFile(t *testing.T) {
	e := newTestEnv(t)
	e.truthy(t, `(function() {
		var f = new File(['abc'], 'song.ust', { type: 'text/plain', lastModified: 42 });
		return f instanceof Blob && f.name === 'song.ust' && f.size === 3 && f.lastModified === 42 && f.type === 'text/plain';
	})()`)
	e.truthy(t, `(function() { try { new File(['a']); return false; } catch (err) { return err instanceof TypeError; } })()`)
}

func TestTimers_Order(t *testing.T) {
	e := newTestEnv(t)
	if err := e.rt.Eval(`
		globalThis.__order = [];
		setTimeout(function() { __order.push('c'); }, 20);
		setTimeout(function() { __order.push('a'); }, -5);
		setTimeout(function(x) { __order.push(x); }, 0, 'b');
		var cancelled = setTimeout(function() { __order.push('x'); }, 1);
		clearTimeout(cancelled);
	`); err != nil {
		t.Fatalf("Eval: %v", err)
	}
	e.settle(t)
	if got := e.str(t, "__order.join('')"); got != "abc" {
		t.Fatalf("order = %s, want abc", got)
	}
}

func TestTimers_Sleep(t *testing.T) {
	e := newTestEnv(t)
	if err := e.rt.Eval(`
		globalThis.__slept = false;
		(async function() { await __sleep(5); await sleep(-1); globalThis.__slept = true; })();
	`); err != nil {
		t.Fatalf("Eval: %v", err)
	}
	e.rt.RunMicrotasks()
	e.truthy(t, "__slept === false")
	e.settle(t)
	e.truthy(t, "__slept === true")
}

func TestTimers_ThrowingCallbackIsReported(t *testing.T) {
	e := newTestEnv(t)
	if err := e.rt.Eval(`
		globalThis.__after = false;
		setTimeout(function() { throw new Error('timer exploded'); }, 0);
		setTimeout(function() { globalThis.__after = true; }, 1);
	`); err != nil {
		t.Fatalf("Eval: %v", err)
	}
	e.settle(t)
	e.truthy(t, "__after")
	if !strings.Contains(e.log.String(), "timer exploded") {
		t.Fatalf("log missing timer error:\n%s", e.log.String())
	}
}

func TestConsole_ForwardsToLogger(t *testing.T) {
	e := newTestEnv(t)
	if err := e.rt.Eval(`console.warn('careful', 3, { a: 1 }); console.debug('quiet');`); err != nil {
		t.Fatalf("Eval: %v", err)
	}
	out := e.log.String()
	for _, want := range []string{"level=WARN", `careful 3 {\"a\":1}`, "source=js", "level=DEBUG", "quiet"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}

func TestSelfAndWindow(t *testing.T) {
	e := newTestEnv(t)
	e.truthy(t, "self === globalThis && window === globalThis")
}

func TestCheckInstalled_Missing(t *testing.T) {
	e := newTestEnv(t)
	if err := CheckInstalled(e.rt); err != nil {
		t.Fatalf("CheckInstalled after Install: %v", err)
	}
	if err := e.rt.Eval("delete globalThis.Blob; globalThis.__sleep = 1;"); err != nil {
		t.Fatalf("Eval: %v", err)
	}
	err := CheckInstalled(e.rt)
	if !errors.Is(err, ErrMissingGlobal) {
		t.Fatalf("error = %v, want ErrMissingGlobal", err)
	}
	if !strings.Contains(err.Error(), "Blob") || !strings.Contains(err.Error(), "__sleep") {
		t.Fatalf("error does not name missing globals: %v", err)
	}
}
