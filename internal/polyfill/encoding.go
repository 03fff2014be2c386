package polyfill

import (
	"encoding/json"
	"fmt"

	"github.com/sevenc-nanashi/utaformatix-lib/internal/core"
	"github.com/sevenc-nanashi/utaformatix-lib/internal/eventloop"
	"github.com/sevenc-nanashi/utaformatix-lib/internal/textcodec"
)

// Globals that carry bytes across the boundary for __encode and __decode.
const (
	encodeOutGlobal = "__enc_out"
	decodeInGlobal  = "__dec_in"
)

// Flags passed to __decodeHost; textCodecJS uses the literal values.
const (
	decodeFatal = 1 << iota
	decodeIgnoreBOM
	decodeStream
)

// textCodecJS installs __encode and __decode, the byte<->text primitives the
// library's own polyfills call, and builds TextEncoder and TextDecoder on
// top of them. Text crosses as JSON so NUL and lone surrogates survive every
// backend's string marshaling; bytes cross as ArrayBuffers.
const textCodecJS = `
(function() {
	function toBytes(input) {
		if (input === undefined || input === null) return new Uint8Array(0);
		if (input instanceof ArrayBuffer) return new Uint8Array(input);
		if (typeof SharedArrayBuffer !== 'undefined' && input instanceof SharedArrayBuffer) return new Uint8Array(input);
		if (ArrayBuffer.isView(input)) return new Uint8Array(input.buffer, input.byteOffset, input.byteLength);
		if (Array.isArray(input)) return Uint8Array.from(input);
		throw new TypeError("The provided value is not of type '(ArrayBuffer or ArrayBufferView)'");
	}

	// wellFormed replaces lone surrogates with U+FFFD.
	function wellFormed(s) {
		if (typeof s.toWellFormed === 'function') return s.toWellFormed();
		return s.replace(/[\ud800-\udfff]/g, function(c, i, str) {
			var code = c.charCodeAt(0);
			if (code <= 0xDBFF) {
				var next = str.charCodeAt(i + 1);
				return next >= 0xDC00 && next <= 0xDFFF ? c : '\ufffd';
			}
			var prev = str.charCodeAt(i - 1);
			return prev >= 0xD800 && prev <= 0xDBFF ? c : '\ufffd';
		});
	}

	function encode(text) {
		var n = __encodeHost(JSON.stringify(wellFormed(String(text))));
		var buf = globalThis.` + encodeOutGlobal + `;
		delete globalThis.` + encodeOutGlobal + `;
		return n && buf ? new Uint8Array(buf) : new Uint8Array(0);
	}

	// decode hands bytes to the host and returns the text plus the number
	// of trailing bytes held back for the next streamed chunk.
	function decode(bytes, label, flags) {
		globalThis.` + decodeInGlobal + ` = bytes.slice(0).buffer;
		try {
			var r = JSON.parse(__decodeHost(label, flags));
			return { text: r[0], rest: r[1] };
		} finally {
			delete globalThis.` + decodeInGlobal + `;
		}
	}

	function concat(a, b) {
		if (!a || a.length === 0) return b;
		var out = new Uint8Array(a.length + b.length);
		out.set(a, 0);
		out.set(b, a.length);
		return out;
	}

	globalThis.__encode = function(text) {
		return encode(text === undefined ? '' : text);
	};
	globalThis.__decode = function(bytes, label) {
		return decode(toBytes(bytes), label === undefined ? 'utf-8' : String(label), 0).text;
	};

	class TextEncoder {
		get encoding() { return 'utf-8'; }
		encode(input) {
			return encode(input === undefined ? '' : input);
		}
		encodeInto(source, destination) {
			if (!(destination instanceof Uint8Array)) {
				throw new TypeError("The provided value is not of type 'Uint8Array'");
			}
			var s = wellFormed(String(source)), room = destination.length, read = 0, size = 0;
			while (read < s.length) {
				var c = s.charCodeAt(read), units = 1, n;
				if (c >= 0xD800 && c <= 0xDBFF) { units = 2; n = 4; }
				else n = c < 0x80 ? 1 : c < 0x800 ? 2 : 3;
				if (size + n > room) break;
				size += n;
				read += units;
			}
			var bytes = encode(s.slice(0, read));
			destination.set(bytes);
			return { read: read, written: bytes.length };
		}
		get [Symbol.toStringTag]() { return 'TextEncoder'; }
	}

	class TextDecoder {
		constructor(label, options) {
			label = label === undefined ? 'utf-8' : String(label);
			options = options || {};
			var name = __encodingSupported(label);
			if (!name) {
				var err = new RangeError('The encoding label provided (\'' + label + '\') is invalid.');
				err.code = 'ERR_ENCODING_NOT_SUPPORTED';
				throw err;
			}
			this._encoding = name;
			this._fatal = !!options.fatal;
			this._ignoreBOM = !!options.ignoreBOM;
			this._pending = null;
			this._bomSeen = false;
		}
		get encoding() { return this._encoding; }
		get fatal() { return this._fatal; }
		get ignoreBOM() { return this._ignoreBOM; }

		decode(input, options) {
			var stream = !!(options && options.stream);
			var bytes = concat(this._pending, toBytes(input));
			this._pending = null;
			var flags = (this._fatal ? 1 : 0) | (this._ignoreBOM || this._bomSeen ? 2 : 0) | (stream ? 4 : 0);
			var r;
			try {
				r = decode(bytes, this._encoding, flags);
			} catch (e) {
				this._bomSeen = false;
				throw e;
			}
			if (stream) {
				if (r.rest > 0) this._pending = bytes.slice(bytes.length - r.rest);
				if (bytes.length > r.rest) this._bomSeen = true;
			} else {
				this._bomSeen = false;
			}
			return r.text;
		}
		get [Symbol.toStringTag]() { return 'TextDecoder'; }
	}

	globalThis.TextEncoder = TextEncoder;
	globalThis.TextDecoder = TextDecoder;
})();
`

// base64JS implements atob and btoa.
const base64JS = `
(function() {
	var tbl = 'ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/';
	var rev = new Int16Array(128).fill(-1);
	for (var i = 0; i < tbl.length; i++) rev[tbl.charCodeAt(i)] = i;

	function invalidChar(fn) {
		var err = new Error(fn + ': The string to be decoded is not correctly encoded.');
		err.name = 'InvalidCharacterError';
		return err;
	}

	globalThis.btoa = function(data) {
		if (arguments.length < 1) throw new TypeError('btoa requires at least 1 argument(s)');
		var s = String(data), out = [];
		for (var i = 0; i < s.length; i += 3) {
			var a = s.charCodeAt(i), b = s.charCodeAt(i + 1), c = s.charCodeAt(i + 2);
			if (a > 255 || b > 255 || c > 255) throw invalidChar('btoa');
			b = i + 1 < s.length ? b : 0;
			c = i + 2 < s.length ? c : 0;
			out.push(
				tbl[a >> 2],
				tbl[((a & 3) << 4) | (b >> 4)],
				i + 1 < s.length ? tbl[((b & 15) << 2) | (c >> 6)] : '=',
				i + 2 < s.length ? tbl[c & 63] : '='
			);
		}
		return out.join('');
	};

	globalThis.atob = function(data) {
		if (arguments.length < 1) throw new TypeError('atob requires at least 1 argument(s)');
		var s = String(data).replace(/[\t\n\f\r ]/g, '');
		if (s.length % 4 === 0) s = s.replace(/==?$/, '');
		if (s.length % 4 === 1) throw invalidChar('atob');
		var units = [], parts = [], buf = 0, bits = 0;
		for (var i = 0; i < s.length; i++) {
			var ch = s.charCodeAt(i);
			var v = ch < 128 ? rev[ch] : -1;
			if (v < 0) throw invalidChar('atob');
			buf = (buf << 6) | v;
			bits += 6;
			if (bits >= 8) {
				bits -= 8;
				units.push((buf >> bits) & 0xFF);
				if (units.length >= 8192) {
					parts.push(String.fromCharCode.apply(null, units));
					units = [];
				}
			}
		}
		parts.push(String.fromCharCode.apply(null, units));
		return parts.join('');
	};
})();
`

// SetupEncoding installs __encode, __decode, TextEncoder, TextDecoder,
// atob and btoa. All byte<->text conversion happens in textcodec.
func SetupEncoding(rt core.Engine, _ *eventloop.EventLoop) error {
	if err := rt.RegisterFunc("__encodingSupported", func(label string) string {
		name, err := textcodec.Canonical(label)
		if err != nil {
			return ""
		}
		return name
	}); err != nil {
		return err
	}

	if err := rt.RegisterFunc("__encodeHost", func(quoted string) (int, error) {
		var text string
		if err := json.Unmarshal([]byte(quoted), &text); err != nil {
			return 0, fmt.Errorf("reading text: %w", err)
		}
		out := textcodec.Encode(text)
		if len(out) == 0 {
			return 0, nil
		}
		if err := rt.WriteBinaryToJS(encodeOutGlobal, out); err != nil {
			return 0, err
		}
		return len(out), nil
	}); err != nil {
		return err
	}

	if err := rt.RegisterFunc("__decodeHost", func(label string, flags int) (string, error) {
		data, err := rt.ReadBinaryFromJS(decodeInGlobal)
		if err != nil {
			return "", err
		}
		text, rest, err := textcodec.DecodeWith(data, label, textcodec.DecodeOptions{
			Fatal:     flags&decodeFatal != 0,
			IgnoreBOM: flags&decodeIgnoreBOM != 0,
			Stream:    flags&decodeStream != 0,
		})
		if err != nil {
			return "", err
		}
		out, err := json.Marshal([]any{text, rest})
		if err != nil {
			return "", err
		}
		return string(out), nil
	}); err != nil {
		return err
	}

	if err := rt.Eval(textCodecJS); err != nil {
		return fmt.Errorf("evaluating text codec polyfill: %w", err)
	}
	if err := rt.Eval(base64JS); err != nil {
		return fmt.Errorf("evaluating base64 polyfill: %w", err)
	}
	return nil
}
