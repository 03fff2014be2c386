package evaluator

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/sevenc-nanashi/utaformatix-lib/internal/core"
	"github.com/sevenc-nanashi/utaformatix-lib/internal/eventloop"
)

// Arg is an argument to Invoke.
type Arg interface {
	// expr stages the argument in rt and returns the JS expression that
	// produces it. Staged globals are appended to *staged.
	expr(rt core.Engine, prefix string, staged *[]string) (string, error)
}

// Bytes crosses as a Uint8Array.
type Bytes []byte

// BytesList crosses as an Array of Uint8Array.
type BytesList [][]byte

// Text crosses as a string.
type Text string

// JSON crosses as the value JSON.parse produces from it.
type JSON []byte

// Options crosses as a plain object. Values that are JSON literals (true,
// false, null, numbers, quoted strings) cross as those values, everything
// else as strings.
type Options map[string]string

func (b Bytes) expr(rt core.Engine, prefix string, staged *[]string) (string, error) {
	if err := rt.WriteBinaryToJS(prefix, b); err != nil {
		return "", err
	}
	*staged = append(*staged, prefix)
	return fmt.Sprintf("new Uint8Array(globalThis.%s)", prefix), nil
}

func (l BytesList) expr(rt core.Engine, prefix string, staged *[]string) (string, error) {
	parts := make([]string, len(l))
	for i, b := range l {
		e, err := Bytes(b).expr(rt, prefix+"_"+strconv.Itoa(i), staged)
		if err != nil {
			return "", err
		}
		parts[i] = e
	}
	return "[" + strings.Join(parts, ", ") + "]", nil
}

func (t Text) expr(core.Engine, string, *[]string) (string, error) {
	return jsString(string(t)), nil
}

func (j JSON) expr(core.Engine, string, *[]string) (string, error) {
	if !json.Valid(j) {
		return "", errors.New("argument is not valid JSON")
	}
	return "JSON.parse(" + jsString(string(j)) + ")", nil
}

func (o Options) expr(core.Engine, string, *[]string) (string, error) {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString("(function() { var o = {};")
	for _, k := range keys {
		v := o[k]
		if !isLiteral(v) {
			v = jsString(v)
		}
		fmt.Fprintf(&sb, " o[%s] = %s;", jsString(k), v)
	}
	sb.WriteString(" return o; })()")
	return sb.String(), nil
}

func isLiteral(v string) bool {
	switch v {
	case "true", "false", "null":
		return true
	}
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		return json.Valid([]byte(v))
	}
	if _, err := strconv.ParseFloat(v, 64); err != nil {
		return false
	}
	// ParseFloat also accepts forms such as "Inf", "0x1p3" and "1_000".
	var n json.Number
	return json.Unmarshal([]byte(v), &n) == nil
}

// jsString quotes s as a JS string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// ValueKind is the shape of an Invoke result.
type ValueKind int

const (
	ValueUndefined ValueKind = iota
	ValueBytes
	ValueBytesList
	ValueText
	ValueJSON
)

func (k ValueKind) String() string {
	switch k {
	case ValueBytes:
		return "bytes"
	case ValueBytesList:
		return "bytesList"
	case ValueText:
		return "text"
	case ValueJSON:
		return "json"
	}
	return "undefined"
}

// Value is the marshaled result of an export. Only the field matching Kind
// is set.
type Value struct {
	Kind      ValueKind
	Bytes     []byte
	BytesList [][]byte
	Text      string
	JSON      json.RawMessage
}

const callTemplate = `(function() {
	var st = globalThis.__invoke_state = { done: false, failed: false, value: undefined, error: undefined };
	function settle(v) { if (!st.done) { st.done = true; st.value = v; } }
	function fail(e) { if (!st.done) { st.done = true; st.failed = true; st.error = e; } }
	try {
		var lib = globalThis[%s];
		var args = [%s];
		var staged = %s;
		for (var i = 0; i < staged.length; i++) delete globalThis[staged[i]];
		var r = lib[%s].apply(lib, args);
		if (r !== null && (typeof r === 'object' || typeof r === 'function') && typeof r.then === 'function') {
			r.then(settle, fail);
		} else {
			settle(r);
		}
	} catch (e) {
		fail(e);
	}
})()`

const resultScript = `(function() {
	var v = globalThis.__invoke_state.value;
	function isBinary(x) {
		return x instanceof ArrayBuffer || ArrayBuffer.isView(x) ||
			(typeof Blob === 'function' && x instanceof Blob);
	}
	function toBuffer(x) {
		if (x instanceof ArrayBuffer) return x;
		if (typeof Blob === 'function' && x instanceof Blob) x = x._bytes;
		return x.buffer.slice(x.byteOffset, x.byteOffset + x.byteLength);
	}
	if (v === undefined || v === null) return JSON.stringify({ kind: 'undefined' });
	if (typeof v === 'string') return JSON.stringify({ kind: 'text', text: v });
	if (isBinary(v)) {
		globalThis.__ret_0 = toBuffer(v);
		return JSON.stringify({ kind: 'bytes', count: 1 });
	}
	if (Array.isArray(v) && v.every(isBinary)) {
		for (var i = 0; i < v.length; i++) globalThis['__ret_' + i] = toBuffer(v[i]);
		return JSON.stringify({ kind: 'bytesList', count: v.length });
	}
	var s;
	try {
		s = JSON.stringify(v);
	} catch (e) {
		return JSON.stringify({ kind: 'unmarshalable', text: String(e && e.message || e) });
	}
	if (typeof s !== 'string') return JSON.stringify({ kind: 'unmarshalable', text: typeof v });
	return JSON.stringify({ kind: 'json', text: s });
})()`

const errorTemplate = `(function(lib) {
	var e = globalThis.__invoke_state.error;
	var d = { kind: 'Unexpected', illegalFileKind: '', name: '', message: '', code: '' };
	function is(cls) {
		try { return typeof cls === 'function' && e instanceof cls; } catch (_) { return false; }
	}
	try {
		d.message = (e !== null && typeof e === 'object' && e.message !== undefined) ? String(e.message) : String(e);
	} catch (_) {
		d.message = 'Unknown error';
	}
	try { if (e !== null && e !== undefined && e.name !== undefined) d.name = String(e.name); } catch (_) {}
	try { if (e !== null && e !== undefined && e.code !== undefined) d.code = String(e.code); } catch (_) {}
	var classes = [
		['EmptyProjectException', 'EmptyProject'],
		['IllegalNotePositionException', 'IllegalNotePosition'],
		['NotesOverlappingException', 'NotesOverlapping'],
		['UnsupportedFileFormatError', 'UnsupportedFileFormat'],
		['UnsupportedLegacyPpsfError', 'UnsupportedLegacyPpsf']
	];
	for (var i = 0; i < classes.length; i++) {
		if (is(lib[classes[i][0]])) return JSON.stringify((d.kind = classes[i][1], d));
	}
	if (is(lib.IllegalFileException)) {
		d.kind = 'IllegalFile';
		try { d.illegalFileKind = String(e.constructor.name); } catch (_) {}
	}
	return JSON.stringify(d);
})(globalThis[%s])`

type resultDescriptor struct {
	Kind  string `json:"kind"`
	Count int    `json:"count"`
	Text  string `json:"text"`
}

type errorDescriptor struct {
	Kind            ErrorKind `json:"kind"`
	IllegalFileKind string    `json:"illegalFileKind"`
	Name            string    `json:"name"`
	Message         string    `json:"message"`
	Code            string    `json:"code"`
}

// Invoke calls the named export with args and waits for the result,
// running timers and microtasks until a returned promise settles.
//
// A rejection or exception from the library is a *ConversionError. Engine
// failures are a *FaultError; an interrupt, a recovered panic or an engine
// error leave the Host failed.
func (h *Host) Invoke(export string, args ...Arg) (v Value, err error) {
	if state := h.machine.GetState(); state != StateReady {
		return Value{}, fmt.Errorf("%w: instance is %s", ErrNotReady, state)
	}
	if !h.HasExport(export) {
		return Value{}, fmt.Errorf("%w: %s", ErrNoSuchExport, export)
	}
	if h.interrupted.Load() {
		return Value{}, h.fatal(export, ErrInterrupted)
	}

	h.mu.Lock()
	rt, el := h.rt, h.el
	h.mu.Unlock()

	var staged []string
	defer func() {
		if p := recover(); p != nil {
			v = Value{}
			err = h.fatal(export, fmt.Errorf("panic: %v", p))
		}
		h.cleanup(rt, el, staged)
	}()

	exprs := make([]string, len(args))
	for i, a := range args {
		e, err := a.expr(rt, "__arg_"+strconv.Itoa(i), &staged)
		if err != nil {
			return Value{}, &FaultError{Op: export, Err: fmt.Errorf("marshaling argument %d: %w", i, err)}
		}
		exprs[i] = e
	}
	stagedJSON, _ := json.Marshal(staged)
	if staged == nil {
		stagedJSON = []byte("[]")
	}

	call := fmt.Sprintf(callTemplate, jsString(h.cfg.GlobalName), strings.Join(exprs, ", "), stagedJSON, jsString(export))
	if err := rt.Eval(call); err != nil {
		return Value{}, h.engineError(export, err)
	}
	staged = nil

	if err := h.settle(export, rt, el); err != nil {
		return Value{}, err
	}

	failed, err := rt.EvalBool("globalThis.__invoke_state.failed")
	if err != nil {
		return Value{}, h.engineError(export, err)
	}
	if failed {
		return Value{}, h.conversionError(export, rt)
	}
	return h.result(export, rt)
}

// settle pumps microtasks and fires timers until the call is done.
func (h *Host) settle(export string, rt core.Engine, el *eventloop.EventLoop) error {
	for {
		rt.RunMicrotasks()
		done, err := rt.EvalBool("globalThis.__invoke_state.done")
		if err != nil {
			return h.engineError(export, err)
		}
		if done {
			return nil
		}
		if !el.HasPending() {
			return &FaultError{Op: export, Err: ErrNeverSettled}
		}
		if _, err := el.RunNext(rt); err != nil {
			if errors.Is(err, eventloop.ErrAborted) {
				return h.fatal(export, ErrInterrupted)
			}
			return h.engineError(export, err)
		}
	}
}

func (h *Host) result(export string, rt core.Engine) (Value, error) {
	raw, err := rt.EvalString(resultScript)
	if err != nil {
		return Value{}, h.engineError(export, err)
	}
	var d resultDescriptor
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return Value{}, &FaultError{Op: export, Err: fmt.Errorf("decoding result: %w", err)}
	}

	switch d.Kind {
	case "undefined":
		return Value{Kind: ValueUndefined}, nil
	case "text":
		return Value{Kind: ValueText, Text: d.Text}, nil
	case "json":
		return Value{Kind: ValueJSON, JSON: json.RawMessage(d.Text)}, nil
	case "bytes":
		b, err := rt.ReadBinaryFromJS("__ret_0")
		if err != nil {
			return Value{}, &FaultError{Op: export, Err: fmt.Errorf("reading result: %w", err)}
		}
		return Value{Kind: ValueBytes, Bytes: nonNil(b)}, nil
	case "bytesList":
		list := make([][]byte, d.Count)
		for i := range list {
			b, err := rt.ReadBinaryFromJS("__ret_" + strconv.Itoa(i))
			if err != nil {
				return Value{}, &FaultError{Op: export, Err: fmt.Errorf("reading result %d: %w", i, err)}
			}
			list[i] = nonNil(b)
		}
		return Value{Kind: ValueBytesList, BytesList: list}, nil
	case "unmarshalable":
		return Value{}, &FaultError{Op: export, Err: fmt.Errorf("result cannot be marshaled: %s", d.Text)}
	}
	return Value{}, &FaultError{Op: export, Err: fmt.Errorf("unknown result kind %q", d.Kind)}
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

func (h *Host) conversionError(export string, rt core.Engine) error {
	raw, err := rt.EvalString(fmt.Sprintf(errorTemplate, jsString(h.cfg.GlobalName)))
	if err != nil {
		return h.engineError(export, err)
	}
	var d errorDescriptor
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return &FaultError{Op: export, Err: fmt.Errorf("decoding exception: %w", err)}
	}
	h.logger.Debug("library raised", "export", export, "kind", d.Kind, "message", d.Message)
	return &ConversionError{
		Export:          export,
		Kind:            d.Kind,
		IllegalFileKind: d.IllegalFileKind,
		Name:            d.Name,
		Message:         d.Message,
		Code:            d.Code,
	}
}

// engineError reports a failure of the engine itself. An interrupted
// engine fails with whatever error the backend produces, so the flag
// decides the cause.
func (h *Host) engineError(export string, err error) error {
	if h.interrupted.Load() {
		return h.fatal(export, ErrInterrupted)
	}
	return h.fatal(export, err)
}

func (h *Host) fatal(export string, cause error) error {
	h.fail(cause)
	return &FaultError{Op: export, Err: cause}
}

// cleanup drops per-call state so the next call starts from the same
// globals. Nothing is touched once the Host has failed.
func (h *Host) cleanup(rt core.Engine, el *eventloop.EventLoop, staged []string) {
	if h.machine.GetState() != StateReady {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			h.logger.Error("panic while cleaning up after call", "panic", p)
		}
	}()
	el.Reset()
	names, _ := json.Marshal(staged)
	if staged == nil {
		names = []byte("[]")
	}
	js := fmt.Sprintf(`(function(staged) {
		for (var i = 0; i < staged.length; i++) delete globalThis[staged[i]];
		for (var k in globalThis) {
			if (k.indexOf('__ret_') === 0) delete globalThis[k];
		}
		delete globalThis.__invoke_state;
		globalThis.__timerCallbacks = {};
	})(%s)`, names)
	if err := rt.Eval(js); err != nil {
		h.logger.Warn("cleaning up after call", "error", err)
	}
}
