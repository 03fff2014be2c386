package polyfill

import (
	"fmt"

	"github.com/sevenc-nanashi/utaformatix-lib/internal/core"
	"github.com/sevenc-nanashi/utaformatix-lib/internal/eventloop"
)

// blobJS implements Blob and File. Content is kept as bytes; strings are
// UTF-8 encoded when the Blob is built.
const blobJS = `
(function() {

function partBytes(part) {
	if (part instanceof Blob) return part._bytes;
	if (part instanceof ArrayBuffer) return new Uint8Array(part.slice(0));
	if (ArrayBuffer.isView(part)) {
		return new Uint8Array(part.buffer.slice(part.byteOffset, part.byteOffset + part.byteLength));
	}
	return new TextEncoder().encode(String(part));
}

function normalizeType(t) {
	t = t === undefined ? '' : String(t).toLowerCase();
	return /^[\x20-\x7e]*$/.test(t) ? t : '';
}

class Blob {
	constructor(parts, options) {
		options = options || {};
		if (parts !== undefined && parts !== null && typeof parts[Symbol.iterator] !== 'function') {
			throw new TypeError("Failed to construct 'Blob': The provided value cannot be converted to a sequence.");
		}
		var chunks = [], size = 0;
		if (parts) {
			for (var part of parts) {
				var b = partBytes(part);
				chunks.push(b);
				size += b.length;
			}
		}
		var all = new Uint8Array(size), off = 0;
		for (var i = 0; i < chunks.length; i++) {
			all.set(chunks[i], off);
			off += chunks[i].length;
		}
		this._bytes = all;
		this.type = normalizeType(options.type);
	}

	get size() { return this._bytes.length; }

	slice(start, end, contentType) {
		var size = this._bytes.length;
		var s = start === undefined ? 0 : start < 0 ? Math.max(size + start, 0) : Math.min(start, size);
		var e = end === undefined ? size : end < 0 ? Math.max(size + end, 0) : Math.min(end, size);
		var out = new Blob([], { type: contentType === undefined ? this.type : contentType });
		out._bytes = this._bytes.slice(s, Math.max(s, e));
		return out;
	}

	text() {
		return Promise.resolve(new TextDecoder().decode(this._bytes));
	}

	arrayBuffer() {
		return Promise.resolve(this._bytes.slice(0).buffer);
	}

	bytes() {
		return Promise.resolve(this._bytes.slice(0));
	}

	get [Symbol.toStringTag]() { return 'Blob'; }
}

class File extends Blob {
	constructor(parts, name, options) {
		if (arguments.length < 2) {
			throw new TypeError("Failed to construct 'File': 2 arguments required, but only " + arguments.length + " present.");
		}
		super(parts, options);
		this.name = String(name);
		this.lastModified = (options && options.lastModified !== undefined) ? Number(options.lastModified) : Date.now();
		this.webkitRelativePath = '';
	}

	get [Symbol.toStringTag]() { return 'File'; }
}

globalThis.Blob = Blob;
globalThis.File = File;
})();
`

// SetupBlob installs Blob and File. It depends on TextEncoder and
// TextDecoder, so SetupEncoding must run first.
func SetupBlob(rt core.Engine, _ *eventloop.EventLoop) error {
	if err := rt.Eval(blobJS); err != nil {
		return fmt.Errorf("evaluating blob polyfill: %w", err)
	}
	return nil
}
