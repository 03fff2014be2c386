//go:build !v8 && !goja

package quickjs

import (
	"reflect"
	"unsafe"

	"modernc.org/libc"
	lib "modernc.org/libquickjs"
	"modernc.org/quickjs"
)

// executePendingJobs drains the QuickJS job queue (promise reactions) and
// returns the number of jobs run. The modernc.org/quickjs wrapper never calls
// JS_ExecutePendingJob itself, so without this a .then() callback would never
// fire. A job that throws stops the drain; the rejection is already recorded
// on the promise it belongs to.
func executePendingJobs(vm *quickjs.VM) int {
	rt, tls, ok := runtimeHandle(vm)
	if !ok {
		return 0
	}
	n := 0
	for lib.XJS_ExecutePendingJob(tls, rt, 0) > 0 {
		n++
	}
	return n
}

// runtimeHandle pulls the unexported C runtime pointer and its TLS out of a
// *quickjs.VM.
//
// Layout as of modernc.org/quickjs v0.17.1:
//
//	type VM struct {
//	    cContext uintptr
//	    ...
//	    runtime  *runtime
//	}
//
//	type runtime struct {
//	    cRuntime uintptr
//	    tls      *libc.TLS
//	}
func runtimeHandle(vm *quickjs.VM) (cRuntime uintptr, tls *libc.TLS, ok bool) {
	vmVal := reflect.ValueOf(vm).Elem()
	rtField := vmVal.FieldByName("runtime")
	if !rtField.IsValid() || rtField.IsNil() {
		return 0, nil, false
	}
	rtVal := reflect.NewAt(rtField.Type().Elem(), unsafe.Pointer(rtField.Pointer())).Elem()

	crt := rtVal.FieldByName("cRuntime")
	if !crt.IsValid() {
		return 0, nil, false
	}
	tlsField := rtVal.FieldByName("tls")
	if !tlsField.IsValid() || tlsField.IsNil() {
		return 0, nil, false
	}
	return uintptr(crt.Uint()), (*libc.TLS)(unsafe.Pointer(tlsField.Pointer())), true
}

// contextHandle returns the JSContext pointer, the first field of VM.
func contextHandle(vm *quickjs.VM) uintptr {
	return *(*uintptr)(unsafe.Pointer(vm))
}
