// Package enginetest holds the conformance checks every evaluator backend
// must pass. Backend packages call Run from their own tests.
package enginetest

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sevenc-nanashi/utaformatix-lib/internal/core"
)

// Run exercises an engine factory against the core.Engine contract.
func Run(t *testing.T, newEngine core.EngineFactory) {
	t.Helper()

	fresh := func(t *testing.T) core.Engine {
		t.Helper()
		e, err := newEngine(core.Config{})
		if err != nil {
			t.Fatalf("creating engine: %v", err)
		}
		t.Cleanup(e.Close)
		return e
	}

	t.Run("EvalScalars", func(t *testing.T) {
		e := fresh(t)
		s, err := e.EvalString("'a' + 'b'")
		if err != nil || s != "ab" {
			t.Fatalf("EvalString = %q, %v", s, err)
		}
		for _, empty := range []string{"undefined", "null", "void 0", "(function() {})()"} {
			s, err = e.EvalString(empty)
			if err != nil || s != "" {
				t.Fatalf("EvalString(%s) = %q, %v", empty, s, err)
			}
		}
		b, err := e.EvalBool("1 < 2")
		if err != nil || !b {
			t.Fatalf("EvalBool = %v, %v", b, err)
		}
		n, err := e.EvalInt("6 * 7")
		if err != nil || n != 42 {
			t.Fatalf("EvalInt = %d, %v", n, err)
		}
	})

	t.Run("EvalThrows", func(t *testing.T) {
		e := fresh(t)
		err := e.Eval("throw new Error('boom')")
		if err == nil || !strings.Contains(err.Error(), "boom") {
			t.Fatalf("Eval error = %v, want mention of boom", err)
		}
	})

	t.Run("StringsWithNUL", func(t *testing.T) {
		e := fresh(t)
		n, err := e.EvalInt(`"a\u0000b".length`)
		if err != nil || n != 3 {
			t.Fatalf("length = %d, %v", n, err)
		}
	})

	t.Run("RegisterFunc", func(t *testing.T) {
		e := fresh(t)
		if err := e.RegisterFunc("__add", func(a, b int) int { return a + b }); err != nil {
			t.Fatalf("RegisterFunc: %v", err)
		}
		if err := e.RegisterFunc("__fail", func(s string) (string, error) {
			if s == "bad" {
				return "", errors.New("rejected")
			}
			return strings.ToUpper(s), nil
		}); err != nil {
			t.Fatalf("RegisterFunc: %v", err)
		}
		n, err := e.EvalInt("__add(2, 3)")
		if err != nil || n != 5 {
			t.Fatalf("__add = %d, %v", n, err)
		}
		s, err := e.EvalString("__fail('ok')")
		if err != nil || s != "OK" {
			t.Fatalf("__fail('ok') = %q, %v", s, err)
		}
		s, err = e.EvalString("try { __fail('bad'); 'no throw' } catch (e) { e instanceof TypeError ? e.message : 'wrong type' }")
		if err != nil {
			t.Fatalf("__fail('bad'): %v", err)
		}
		if !strings.Contains(s, "rejected") {
			t.Fatalf("__fail('bad') message = %q", s)
		}
	})

	t.Run("SetGlobal", func(t *testing.T) {
		e := fresh(t)
		if err := e.SetGlobal("__name", "value"); err != nil {
			t.Fatalf("SetGlobal: %v", err)
		}
		s, err := e.EvalString("globalThis.__name")
		if err != nil || s != "value" {
			t.Fatalf("global = %q, %v", s, err)
		}
	})

	t.Run("Microtasks", func(t *testing.T) {
		e := fresh(t)
		if err := e.Eval("globalThis.__done = false; Promise.resolve().then(function() { return 1; }).then(function() { globalThis.__done = true; });"); err != nil {
			t.Fatalf("Eval: %v", err)
		}
		e.RunMicrotasks()
		done, err := e.EvalBool("globalThis.__done")
		if err != nil || !done {
			t.Fatalf("promise chain did not settle: %v, %v", done, err)
		}
	})

	t.Run("BinaryRoundTrip", func(t *testing.T) {
		e := fresh(t)
		data := []byte{0, 1, 2, 0xff, 0xfe, 0, 'M', 'T', 'h', 'd', 0}
		if err := e.WriteBinaryToJS("__bin", data); err != nil {
			t.Fatalf("WriteBinaryToJS: %v", err)
		}
		n, err := e.EvalInt("__bin.byteLength")
		if err != nil || n != len(data) {
			t.Fatalf("byteLength = %d, %v", n, err)
		}
		if err := e.Eval("globalThis.__bin2 = __bin.slice(0); new Uint8Array(__bin2)[1] = 9;"); err != nil {
			t.Fatalf("Eval: %v", err)
		}
		got, err := e.ReadBinaryFromJS("__bin2")
		if err != nil {
			t.Fatalf("ReadBinaryFromJS: %v", err)
		}
		want := bytes.Clone(data)
		want[1] = 9
		if !bytes.Equal(got, want) {
			t.Fatalf("read %x, want %x", got, want)
		}
		gone, err := e.EvalBool("typeof globalThis.__bin2 === 'undefined'")
		if err != nil || !gone {
			t.Fatalf("ReadBinaryFromJS left the global behind")
		}
	})

	t.Run("BinaryEmpty", func(t *testing.T) {
		e := fresh(t)
		if err := e.WriteBinaryToJS("__empty", nil); err != nil {
			t.Fatalf("WriteBinaryToJS: %v", err)
		}
		got, err := e.ReadBinaryFromJS("__empty")
		if err != nil || len(got) != 0 {
			t.Fatalf("ReadBinaryFromJS = %x, %v", got, err)
		}
	})

	t.Run("BinaryLarge", func(t *testing.T) {
		e := fresh(t)
		data := make([]byte, 1<<20+7)
		for i := range data {
			data[i] = byte(i * 31)
		}
		if err := e.WriteBinaryToJS("__big", data); err != nil {
			t.Fatalf("WriteBinaryToJS: %v", err)
		}
		if err := e.Eval("globalThis.__big2 = __big;"); err != nil {
			t.Fatalf("Eval: %v", err)
		}
		got, err := e.ReadBinaryFromJS("__big2")
		if err != nil {
			t.Fatalf("ReadBinaryFromJS: %v", err)
		}
		if !bytes.Equal(got, data) {
			t.Fatalf("large buffer corrupted in transfer")
		}
	})

	t.Run("Interrupt", func(t *testing.T) {
		e := fresh(t)
		timer := time.AfterFunc(50*time.Millisecond, e.Interrupt)
		defer timer.Stop()
		done := make(chan error, 1)
		go func() { done <- e.Eval("for (;;) {}") }()
		select {
		case err := <-done:
			if err == nil {
				t.Fatal("interrupted script returned no error")
			}
		case <-time.After(10 * time.Second):
			t.Fatal("Interrupt did not stop the script")
		}
	})

	t.Run("Name", func(t *testing.T) {
		if fresh(t).Name() == "" {
			t.Fatal("empty engine name")
		}
	})
}
