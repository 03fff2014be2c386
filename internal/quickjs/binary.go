//go:build !v8 && !goja

package quickjs

import (
	"encoding/base64"
	"fmt"
	"unsafe"

	"modernc.org/libc"
	lib "modernc.org/libquickjs"
)

// btChunkSize is the raw chunk size for the base64 fallback path.
const btChunkSize = 192 << 10

// initBinaryTransfer caches the C context and TLS used by the direct
// ArrayBuffer path. If the VM layout is not what we expect, the chunked
// base64 path is registered instead.
func (r *qjsRuntime) initBinaryTransfer() error {
	if err := r.extractHandles(); err != nil {
		r.useFallback = true
		return r.initFallbackTransfer()
	}
	glob := lib.XJS_GetGlobalObject(r.tls, r.ctx)
	lib.XFreeValue(r.tls, r.ctx, glob)
	return nil
}

func (r *qjsRuntime) extractHandles() (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("reading VM internals: %v", p)
		}
	}()
	_, tls, ok := runtimeHandle(r.vm)
	if !ok {
		return fmt.Errorf("quickjs.VM runtime not found")
	}
	ctx := contextHandle(r.vm)
	if ctx == 0 {
		return fmt.Errorf("JSContext is nil")
	}
	r.tls, r.ctx = tls, ctx
	return nil
}

// withCName calls fn with a C copy of name that is freed afterwards.
func (r *qjsRuntime) withCName(name string, fn func(cName uintptr) error) error {
	cName, err := libc.CString(name)
	if err != nil {
		return fmt.Errorf("allocating property name: %w", err)
	}
	defer libc.Xfree(r.tls, cName)
	return fn(cName)
}

// WriteBinaryToJS publishes a copy of data as the ArrayBuffer
// globalThis[globalName].
func (r *qjsRuntime) WriteBinaryToJS(globalName string, data []byte) error {
	switch {
	case len(data) == 0:
		return r.Eval(fmt.Sprintf("globalThis[%q] = new ArrayBuffer(0);", globalName))
	case r.useFallback:
		return r.writeBinaryFallback(globalName, data)
	}

	return r.withCName(globalName, func(cName uintptr) error {
		buf := lib.XJS_NewArrayBufferCopy(r.tls, r.ctx, uintptr(unsafe.Pointer(&data[0])), lib.Tsize_t(len(data)))
		glob := lib.XJS_GetGlobalObject(r.tls, r.ctx)
		defer lib.XFreeValue(r.tls, r.ctx, glob)
		// consumes buf
		if lib.XJS_SetPropertyStr(r.tls, r.ctx, glob, cName, buf) < 0 {
			return fmt.Errorf("setting global %q", globalName)
		}
		return nil
	})
}

// ReadBinaryFromJS copies the ArrayBuffer at globalThis[globalName] out and
// removes the global. Anything that is not a non-empty ArrayBuffer reads as
// nil.
func (r *qjsRuntime) ReadBinaryFromJS(globalName string) ([]byte, error) {
	if r.useFallback {
		return r.readBinaryFallback(globalName)
	}
	defer func() { _ = r.Eval(fmt.Sprintf("delete globalThis[%q];", globalName)) }()

	var out []byte
	err := r.withCName(globalName, func(cName uintptr) error {
		glob := lib.XJS_GetGlobalObject(r.tls, r.ctx)
		val := lib.XJS_GetPropertyStr(r.tls, r.ctx, glob, cName)
		lib.XFreeValue(r.tls, r.ctx, glob)
		defer lib.XFreeValue(r.tls, r.ctx, val)

		var n lib.Tsize_t
		p := lib.XJS_GetArrayBuffer(r.tls, r.ctx, uintptr(unsafe.Pointer(&n)), val)
		if p != 0 && n > 0 {
			out = append([]byte(nil), unsafe.Slice((*byte)(unsafe.Pointer(p)), n)...)
		}
		return nil
	})
	return out, err
}

func (r *qjsRuntime) initFallbackTransfer() error {
	if err := r.RegisterFunc("__bt_pull", func(offset int) (string, error) {
		if r.pendingBinary == nil {
			return "", fmt.Errorf("no pending binary data")
		}
		end := min(offset+btChunkSize, len(r.pendingBinary))
		return base64.StdEncoding.EncodeToString(r.pendingBinary[offset:end]), nil
	}); err != nil {
		return fmt.Errorf("registering __bt_pull: %w", err)
	}
	if err := r.RegisterFunc("__bt_push", func(b64 string) (string, error) {
		chunk, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return "", fmt.Errorf("decoding binary chunk: %w", err)
		}
		r.pendingResult = append(r.pendingResult, chunk...)
		return "", nil
	}); err != nil {
		return fmt.Errorf("registering __bt_push: %w", err)
	}
	return nil
}

// The fallback path decodes base64 by hand so that it does not depend on
// atob being installed yet.
const b64DecodeJS = `function(s) {
	var tbl = 'ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/';
	var out = [], buf = 0, bits = 0;
	for (var i = 0; i < s.length; i++) {
		var c = tbl.indexOf(s.charAt(i));
		if (c < 0) continue;
		buf = (buf << 6) | c; bits += 6;
		if (bits >= 8) { bits -= 8; out.push((buf >> bits) & 0xff); }
	}
	return out;
}`

const b64EncodeJS = `function(bytes) {
	var tbl = 'ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/';
	var out = '';
	for (var i = 0; i < bytes.length; i += 3) {
		var n = (bytes[i] << 16) | ((bytes[i+1] || 0) << 8) | (bytes[i+2] || 0);
		out += tbl.charAt((n >> 18) & 63) + tbl.charAt((n >> 12) & 63);
		out += i + 1 < bytes.length ? tbl.charAt((n >> 6) & 63) : '=';
		out += i + 2 < bytes.length ? tbl.charAt(n & 63) : '=';
	}
	return out;
}`

func (r *qjsRuntime) writeBinaryFallback(globalName string, data []byte) error {
	r.pendingBinary = data
	defer func() { r.pendingBinary = nil }()
	return r.Eval(fmt.Sprintf(`(function() {
		var dec = %s;
		var sz = %d, buf = new ArrayBuffer(sz), view = new Uint8Array(buf), off = 0;
		while (off < sz) {
			var raw = dec(__bt_pull(off));
			view.set(raw, off);
			off += raw.length;
		}
		globalThis[%q] = buf;
	})()`, b64DecodeJS, len(data), globalName))
}

func (r *qjsRuntime) readBinaryFallback(globalName string) ([]byte, error) {
	size, err := r.EvalInt(fmt.Sprintf(
		"(function(){var b=globalThis[%q];return b?b.byteLength:0;})()", globalName))
	if err != nil {
		return nil, fmt.Errorf("reading %s byte length: %w", globalName, err)
	}
	if size == 0 {
		_ = r.Eval(fmt.Sprintf("delete globalThis[%q];", globalName))
		return nil, nil
	}

	r.pendingResult = make([]byte, 0, size)
	defer func() { r.pendingResult = nil }()
	if err := r.Eval(fmt.Sprintf(`(function() {
		var enc = %s;
		var view = new Uint8Array(globalThis[%q]);
		delete globalThis[%q];
		for (var off = 0; off < view.length; off += %d) {
			__bt_push(enc(view.subarray(off, Math.min(off + %d, view.length))));
		}
	})()`, b64EncodeJS, globalName, globalName, btChunkSize, btChunkSize)); err != nil {
		return nil, fmt.Errorf("reading binary from JS: %w", err)
	}
	return r.pendingResult, nil
}
