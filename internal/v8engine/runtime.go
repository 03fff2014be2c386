//go:build v8

// Package v8engine is the V8 evaluator backend, selected with the v8 build
// tag.
package v8engine

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"sync"

	"github.com/sevenc-nanashi/utaformatix-lib/internal/core"
	v8 "github.com/tommie/v8go"
)

// Name is the backend identifier reported by Engine.Name.
const Name = "v8"

// v8Runtime implements core.Engine for the V8 engine.
type v8Runtime struct {
	iso       *v8.Isolate
	ctx       *v8.Context
	closeOnce sync.Once
}

var _ core.Engine = (*v8Runtime)(nil)

// New creates an isolate and context. A memory limit caps the old
// generation heap; half of it is reserved for the initial heap.
func New(cfg core.Config) (core.Engine, error) {
	var iso *v8.Isolate
	if cfg.MemoryLimitMB > 0 {
		heapSize := uint64(cfg.MemoryLimitMB) * 1024 * 1024
		iso = v8.NewIsolate(v8.WithResourceConstraints(heapSize/2, heapSize))
	} else {
		iso = v8.NewIsolate()
	}
	return &v8Runtime{iso: iso, ctx: v8.NewContext(iso)}, nil
}

func (r *v8Runtime) Name() string { return Name }

// run evaluates js and returns its completion value, nil when there is
// none. The origin shows up in V8 stack traces.
func (r *v8Runtime) run(js, origin string) (*v8.Value, error) {
	val, err := r.ctx.RunScript(js, origin)
	if err != nil || val == nil || val.IsUndefined() || val.IsNull() {
		return nil, err
	}
	return val, nil
}

func (r *v8Runtime) Eval(js string) error {
	_, err := r.run(js, "eval.js")
	return err
}

// EvalString stringifies the completion value. undefined and null give "".
func (r *v8Runtime) EvalString(js string) (string, error) {
	val, err := r.run(js, "eval_string.js")
	if val == nil {
		return "", err
	}
	return val.String(), nil
}

// EvalBool follows JS truthiness.
func (r *v8Runtime) EvalBool(js string) (bool, error) {
	val, err := r.run(js, "eval_bool.js")
	if val == nil {
		return false, err
	}
	return val.Boolean(), nil
}

func (r *v8Runtime) EvalInt(js string) (int, error) {
	val, err := r.run(js, "eval_int.js")
	if val == nil {
		return 0, err
	}
	return int(val.Integer()), nil
}

// RegisterFunc registers a Go function as a global JavaScript function.
// The signature is inspected with reflection:
//
//   - func(args...)
//   - func(args...) T
//   - func(args...) (T, error), throwing a TypeError on error
//
// Arguments and results may be string, int, int64, float64 or bool.
func (r *v8Runtime) RegisterFunc(name string, fn any) error {
	fnVal := reflect.ValueOf(fn)
	fnType := fnVal.Type()
	if fnType.Kind() != reflect.Func {
		return fmt.Errorf("RegisterFunc: expected function, got %T", fn)
	}

	throw := func(msg string) *v8.Value {
		jsMsg, _ := v8.NewValue(r.iso, msg)
		r.iso.ThrowException(jsMsg)
		return nil
	}

	tmpl := v8.NewFunctionTemplate(r.iso, func(info *v8.FunctionCallbackInfo) *v8.Value {
		args := info.Args()
		if len(args) < fnType.NumIn() {
			return throw(fmt.Sprintf("%s requires at least %d argument(s), got %d", name, fnType.NumIn(), len(args)))
		}
		goArgs := make([]reflect.Value, fnType.NumIn())
		for i := range goArgs {
			goArgs[i] = jsToGoArg(args[i], fnType.In(i))
		}
		results := fnVal.Call(goArgs)
		switch fnType.NumOut() {
		case 1:
			return goToJSValue(r.iso, results[0])
		case 2:
			if errVal := results[1]; !errVal.IsNil() {
				return throw(fmt.Sprintf("%s: %s", name, errVal.Interface().(error).Error()))
			}
			return goToJSValue(r.iso, results[0])
		default:
			return nil
		}
	})

	hidden := "__go_" + name
	if err := r.ctx.Global().Set(hidden, tmpl.GetFunction(r.ctx)); err != nil {
		return fmt.Errorf("registering %s: %w", name, err)
	}
	// callbacks throw bare strings; rethrow them as TypeError
	return r.Eval(fmt.Sprintf(`(function (hidden, name) {
		var fn = globalThis[hidden];
		delete globalThis[hidden];
		globalThis[name] = function () {
			try {
				return fn.apply(this, arguments);
			} catch (e) {
				throw typeof e === 'string' ? new TypeError(e) : e;
			}
		};
	})(%q, %q)`, hidden, name))
}

// SetGlobal sets a global variable on the JS context.
func (r *v8Runtime) SetGlobal(name string, value any) error {
	jsVal, err := goAnyToJSValue(r.iso, r.ctx, value)
	if err != nil {
		return fmt.Errorf("converting value for %q: %w", name, err)
	}
	return r.ctx.Global().Set(name, jsVal)
}

// RunMicrotasks pumps the V8 microtask queue.
func (r *v8Runtime) RunMicrotasks() {
	r.ctx.PerformMicrotaskCheckpoint()
}

// Interrupt terminates the running script. Safe from any goroutine.
func (r *v8Runtime) Interrupt() {
	r.iso.TerminateExecution()
}

// Close disposes of the context and isolate.
func (r *v8Runtime) Close() {
	r.closeOnce.Do(func() {
		r.ctx.Close()
		r.iso.Dispose()
	})
}

// Bytes cross the boundary through a SharedArrayBuffer, the only buffer
// whose backing store v8go exposes to Go. The staging global is removed
// again before returning.
const stagingGlobal = "__sab_staging"

// sharedBytes returns a copy of, or copies src into, the staged buffer.
func (r *v8Runtime) sharedBytes(src []byte) ([]byte, error) {
	val, err := r.ctx.Global().Get(stagingGlobal)
	if err != nil {
		return nil, fmt.Errorf("retrieving staging buffer: %w", err)
	}
	contents, release, err := val.SharedArrayBufferGetContents()
	if err != nil {
		return nil, fmt.Errorf("accessing staging buffer: %w", err)
	}
	defer release()
	if src != nil {
		copy(contents, src)
		return nil, nil
	}
	return append([]byte(nil), contents...), nil
}

func (r *v8Runtime) dropStaging() {
	_, _ = r.ctx.RunScript("delete globalThis."+stagingGlobal+";", "staging_cleanup.js")
}

// ReadBinaryFromJS copies the ArrayBuffer at globalThis[globalName] into Go
// memory and deletes the global.
func (r *v8Runtime) ReadBinaryFromJS(globalName string) ([]byte, error) {
	defer r.dropStaging()
	n, err := r.EvalInt(fmt.Sprintf(`(function(name) {
		var src = globalThis[name];
		delete globalThis[name];
		if (!src || !src.byteLength) return 0;
		var staged = new SharedArrayBuffer(src.byteLength);
		new Uint8Array(staged).set(new Uint8Array(src));
		globalThis.%s = staged;
		return src.byteLength;
	})(%q)`, stagingGlobal, globalName))
	if err != nil {
		return nil, fmt.Errorf("staging %s: %w", globalName, err)
	}
	if n == 0 {
		return nil, nil
	}
	return r.sharedBytes(nil)
}

// WriteBinaryToJS stores a copy of data as an ArrayBuffer at
// globalThis[globalName].
func (r *v8Runtime) WriteBinaryToJS(globalName string, data []byte) error {
	defer r.dropStaging()
	if err := r.Eval(fmt.Sprintf("globalThis.%s = new SharedArrayBuffer(%d);", stagingGlobal, len(data))); err != nil {
		return fmt.Errorf("allocating staging buffer: %w", err)
	}
	if len(data) > 0 {
		if _, err := r.sharedBytes(data); err != nil {
			return err
		}
	}
	err := r.Eval(fmt.Sprintf("globalThis[%q] = new Uint8Array(globalThis.%s).slice().buffer;", globalName, stagingGlobal))
	if err != nil {
		return fmt.Errorf("publishing %s: %w", globalName, err)
	}
	return nil
}

func jsToGoArg(val *v8.Value, targetType reflect.Type) reflect.Value {
	switch targetType.Kind() {
	case reflect.String:
		return reflect.ValueOf(val.String())
	case reflect.Int:
		return reflect.ValueOf(int(val.Integer()))
	case reflect.Int64:
		return reflect.ValueOf(val.Integer())
	case reflect.Float64:
		return reflect.ValueOf(val.Number())
	case reflect.Bool:
		return reflect.ValueOf(val.Boolean())
	default:
		return reflect.Zero(targetType)
	}
}

func goToJSValue(iso *v8.Isolate, val reflect.Value) *v8.Value {
	if !val.IsValid() {
		return nil
	}
	var (
		v   *v8.Value
		err error
	)
	switch val.Kind() {
	case reflect.String:
		v, err = v8.NewValue(iso, val.String())
	case reflect.Int, reflect.Int64, reflect.Int32:
		v, err = newNumber(iso, val.Int())
	case reflect.Float64, reflect.Float32:
		v, err = v8.NewValue(iso, val.Float())
	case reflect.Bool:
		v, err = v8.NewValue(iso, val.Bool())
	}
	if err != nil {
		return nil
	}
	return v
}

func goAnyToJSValue(iso *v8.Isolate, ctx *v8.Context, value any) (*v8.Value, error) {
	switch v := value.(type) {
	case nil:
		return v8.Undefined(iso), nil
	case string:
		return v8.NewValue(iso, v)
	case int:
		return newNumber(iso, int64(v))
	case int64:
		return newNumber(iso, v)
	case int32, float64, bool:
		return v8.NewValue(iso, v)
	case *v8.Value:
		return v, nil
	default:
		data, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("marshaling value: %w", err)
		}
		return ctx.RunScript("JSON.parse("+strconv.Quote(string(data))+")", "set_global.js")
	}
}

// newNumber creates a JS number. v8go maps int64 to BigInt, which scripts
// do not expect for plain counts and lengths.
func newNumber(iso *v8.Isolate, n int64) (*v8.Value, error) {
	if n >= math.MinInt32 && n <= math.MaxInt32 {
		return v8.NewValue(iso, int32(n))
	}
	return v8.NewValue(iso, float64(n))
}
