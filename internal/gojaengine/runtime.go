//go:build goja

// Package gojaengine is the pure Go evaluator backend built on
// github.com/dop251/goja, selected with the goja build tag. goja has no
// heap accounting, so Config.MemoryLimitMB is ignored.
package gojaengine

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/dop251/goja"
	"github.com/sevenc-nanashi/utaformatix-lib/internal/core"
)

// Name is the backend identifier reported by Engine.Name.
const Name = "goja"

// errInterrupted is the value goja carries in its InterruptedError.
var errInterrupted = errors.New("script interrupted")

type gojaRuntime struct {
	rt *goja.Runtime
}

var _ core.Engine = (*gojaRuntime)(nil)

// New creates a goja runtime.
func New(cfg core.Config) (core.Engine, error) {
	return &gojaRuntime{rt: goja.New()}, nil
}

func (r *gojaRuntime) Name() string { return Name }

func (r *gojaRuntime) run(js string) (goja.Value, error) {
	v, err := r.rt.RunString(js)
	if err != nil {
		var ie *goja.InterruptedError
		if errors.As(err, &ie) {
			return nil, fmt.Errorf("%w: %s", errInterrupted, ie.Error())
		}
		return nil, err
	}
	return v, nil
}

// Eval evaluates JavaScript and discards the result.
func (r *gojaRuntime) Eval(js string) error {
	_, err := r.run(js)
	return err
}

// EvalString evaluates JavaScript and returns the result as a Go string.
// undefined and null become "".
func (r *gojaRuntime) EvalString(js string) (string, error) {
	v, err := r.run(js)
	if err != nil {
		return "", err
	}
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return "", nil
	}
	return v.String(), nil
}

// EvalBool evaluates JavaScript and returns the result as a Go bool.
func (r *gojaRuntime) EvalBool(js string) (bool, error) {
	v, err := r.run(js)
	if err != nil {
		return false, err
	}
	b, ok := v.Export().(bool)
	if !ok {
		return false, fmt.Errorf("expected bool, got %T", v.Export())
	}
	return b, nil
}

// EvalInt evaluates JavaScript and returns the result as a Go int.
func (r *gojaRuntime) EvalInt(js string) (int, error) {
	v, err := r.run(js)
	if err != nil {
		return 0, err
	}
	switch v.Export().(type) {
	case int64, float64:
		return int(v.ToInteger()), nil
	default:
		return 0, fmt.Errorf("expected int, got %T", v.Export())
	}
}

// RegisterFunc registers a Go function as a global JavaScript function.
// A (T, error) result throws a TypeError when the error is set.
func (r *gojaRuntime) RegisterFunc(name string, fn any) error {
	fnVal := reflect.ValueOf(fn)
	fnType := fnVal.Type()
	if fnType.Kind() != reflect.Func {
		return fmt.Errorf("RegisterFunc: expected function, got %T", fn)
	}
	return r.rt.Set(name, func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < fnType.NumIn() {
			panic(r.rt.NewTypeError("%s requires at least %d argument(s), got %d", name, fnType.NumIn(), len(call.Arguments)))
		}
		args := make([]reflect.Value, fnType.NumIn())
		for i := range args {
			args[i] = jsToGoArg(call.Arguments[i], fnType.In(i))
		}
		results := fnVal.Call(args)
		switch fnType.NumOut() {
		case 1:
			return r.rt.ToValue(results[0].Interface())
		case 2:
			if errVal := results[1]; !errVal.IsNil() {
				panic(r.rt.NewTypeError("%s: %s", name, errVal.Interface().(error).Error()))
			}
			return r.rt.ToValue(results[0].Interface())
		default:
			return goja.Undefined()
		}
	})
}

// SetGlobal sets a global variable.
func (r *gojaRuntime) SetGlobal(name string, value any) error {
	return r.rt.Set(name, value)
}

// RunMicrotasks drains the job queue. goja runs queued jobs whenever a
// top-level script finishes, so an empty script is enough.
func (r *gojaRuntime) RunMicrotasks() {
	_, _ = r.rt.RunString("")
}

// Interrupt stops the running script. Safe from any goroutine.
func (r *gojaRuntime) Interrupt() {
	r.rt.Interrupt(errInterrupted)
}

// Close drops the runtime; goja is garbage collected.
func (r *gojaRuntime) Close() {}

// WriteBinaryToJS stores a copy of data as an ArrayBuffer at
// globalThis[globalName].
func (r *gojaRuntime) WriteBinaryToJS(globalName string, data []byte) error {
	buf := make([]byte, len(data))
	copy(buf, data)
	return r.rt.Set(globalName, r.rt.NewArrayBuffer(buf))
}

// ReadBinaryFromJS copies the ArrayBuffer at globalThis[globalName] and
// deletes the global.
func (r *gojaRuntime) ReadBinaryFromJS(globalName string) ([]byte, error) {
	glob := r.rt.GlobalObject()
	v := glob.Get(globalName)
	defer func() { _ = glob.Delete(globalName) }()
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	ab, ok := v.Export().(goja.ArrayBuffer)
	if !ok {
		return nil, fmt.Errorf("%s is %T, not an ArrayBuffer", globalName, v.Export())
	}
	src := ab.Bytes()
	if len(src) == 0 {
		return nil, nil
	}
	out := make([]byte, len(src))
	copy(out, src)
	return out, nil
}

func jsToGoArg(v goja.Value, t reflect.Type) reflect.Value {
	switch t.Kind() {
	case reflect.String:
		return reflect.ValueOf(v.String())
	case reflect.Int:
		return reflect.ValueOf(int(v.ToInteger()))
	case reflect.Int64:
		return reflect.ValueOf(v.ToInteger())
	case reflect.Float64:
		return reflect.ValueOf(v.ToFloat())
	case reflect.Bool:
		return reflect.ValueOf(v.ToBoolean())
	default:
		return reflect.Zero(t)
	}
}
