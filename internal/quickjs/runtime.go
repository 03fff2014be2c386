//go:build !v8 && !goja

// Package quickjs is the default evaluator backend, built on the pure Go
// QuickJS port from modernc.org.
package quickjs

import (
	"fmt"
	"sync"

	"github.com/sevenc-nanashi/utaformatix-lib/internal/core"
	"modernc.org/libc"
	"modernc.org/quickjs"
)

// Name is the backend identifier reported by Engine.Name.
const Name = "quickjs"

// qjsRuntime implements core.Engine for the QuickJS engine.
type qjsRuntime struct {
	vm        *quickjs.VM
	closeOnce sync.Once

	tls *libc.TLS // cached from VM internals for direct C API access
	ctx uintptr   // cached JSContext pointer for direct C API access

	// set when the C API pointers could not be extracted; binary
	// transfer then goes through chunked base64 instead.
	useFallback   bool
	pendingBinary []byte
	pendingResult []byte
}

var _ core.Engine = (*qjsRuntime)(nil)

// New creates a QuickJS VM with the given memory limit.
func New(cfg core.Config) (core.Engine, error) {
	vm, err := quickjs.NewVM()
	if err != nil {
		return nil, fmt.Errorf("creating QuickJS VM: %w", err)
	}
	if cfg.MemoryLimitMB > 0 {
		vm.SetMemoryLimit(uintptr(cfg.MemoryLimitMB) * 1024 * 1024)
	}
	r := &qjsRuntime{vm: vm}
	if err := r.initBinaryTransfer(); err != nil {
		vm.Close()
		return nil, fmt.Errorf("binary transfer setup: %w", err)
	}
	return r, nil
}

func (r *qjsRuntime) Name() string { return Name }

// Eval runs js for its side effects.
func (r *qjsRuntime) Eval(js string) error {
	v, err := r.vm.EvalValue(js, quickjs.EvalGlobal)
	if err != nil {
		return err
	}
	v.Free()
	return nil
}

func (r *qjsRuntime) eval(js string) (any, error) {
	return r.vm.Eval(js, quickjs.EvalGlobal)
}

// EvalString evaluates js and stringifies the completion value. undefined
// and null give "".
func (r *qjsRuntime) EvalString(js string) (string, error) {
	v, err := r.eval(js)
	if err != nil {
		return "", err
	}
	switch v := v.(type) {
	case nil, quickjs.Undefined:
		return "", nil
	case string:
		return v, nil
	}
	return fmt.Sprint(v), nil
}

func (r *qjsRuntime) EvalBool(js string) (bool, error) {
	v, err := r.eval(js)
	if err != nil {
		return false, err
	}
	if b, ok := v.(bool); ok {
		return b, nil
	}
	return false, fmt.Errorf("completion value is %T, not bool", v)
}

// EvalInt accepts any numeric completion value and truncates it.
func (r *qjsRuntime) EvalInt(js string) (int, error) {
	v, err := r.eval(js)
	if err != nil {
		return 0, err
	}
	if n, ok := toInt(v); ok {
		return n, nil
	}
	return 0, fmt.Errorf("completion value is %T, not a number", v)
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

// RegisterFunc exposes fn as globalThis[name]. modernc returns a Go
// (T, error) pair as a two element array; the shim below turns that into a
// plain T or a thrown TypeError.
func (r *qjsRuntime) RegisterFunc(name string, fn any) error {
	hidden := "__go_" + name
	if err := r.vm.RegisterFunc(hidden, fn, false); err != nil {
		return fmt.Errorf("registering %s: %w", name, err)
	}
	return r.Eval(fmt.Sprintf(`(function (hidden, name) {
		var fn = globalThis[hidden];
		delete globalThis[hidden];
		globalThis[name] = function () {
			var out = fn.apply(this, arguments);
			if (!Array.isArray(out) || out.length !== 2) return out;
			if (out[1] != null) throw new TypeError(name + ": " + out[1]);
			return out[0];
		};
	})(%q, %q)`, hidden, name))
}

// SetGlobal sets a property on the VM's global object.
func (r *qjsRuntime) SetGlobal(name string, value any) error {
	atom, err := r.vm.NewAtom(name)
	if err != nil {
		return fmt.Errorf("creating atom %q: %w", name, err)
	}
	glob := r.vm.GlobalObject()
	defer glob.Free()
	return glob.SetProperty(atom, value)
}

// RunMicrotasks pumps the QuickJS job queue until it is empty.
func (r *qjsRuntime) RunMicrotasks() {
	executePendingJobs(r.vm)
}

// Interrupt aborts the running script at its next interrupt check.
func (r *qjsRuntime) Interrupt() {
	r.vm.Interrupt()
}

// Close frees the VM. Calling it more than once is harmless.
func (r *qjsRuntime) Close() {
	r.closeOnce.Do(func() { r.vm.Close() })
}
