// Package textcodec converts between text and bytes on the host side of the
// evaluator boundary. It is the single authority the encoding polyfill
// defers to for anything that is not plain UTF-8.
package textcodec

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
)

// DefaultEncoding is used when no encoding label is given.
const DefaultEncoding = "utf-8"

var (
	// ErrUnsupportedEncoding is returned for labels the host cannot decode.
	ErrUnsupportedEncoding = errors.New("unsupported encoding")
	// ErrMalformedInput is returned by fatal decodes of invalid UTF-8.
	ErrMalformedInput = errors.New("the encoded data was not valid")
)

// Encode returns the UTF-8 bytes of text. Invalid UTF-8 sequences in the
// Go string are replaced with U+FFFD, matching TextEncoder.
func Encode(text string) []byte {
	if utf8.ValidString(text) {
		return []byte(text)
	}
	return []byte(strings.ToValidUTF8(text, "�"))
}

// Canonical resolves an encoding label the way the WHATWG Encoding Standard
// does and returns the canonical name ("shift_jis", "utf-16le", ...).
// An empty label means DefaultEncoding.
func Canonical(label string) (string, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return DefaultEncoding, nil
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedEncoding, label)
	}
	name, err := htmlindex.Name(enc)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedEncoding, label)
	}
	return name, nil
}

// DecodeOptions mirror the TextDecoder flags.
type DecodeOptions struct {
	// Fatal turns malformed UTF-8 into ErrMalformedInput instead of U+FFFD.
	// Legacy decoders always replace.
	Fatal bool
	// IgnoreBOM keeps a leading UTF-8 byte order mark in the text.
	IgnoreBOM bool
	// Stream means more input follows. Trailing bytes that may still
	// complete a character are left undecoded and reported as rest.
	Stream bool
}

// Decode converts data in the named encoding to text. Malformed input is
// replaced with U+FFFD rather than rejected. A leading byte order mark that
// matches the encoding is stripped.
func Decode(data []byte, label string) (string, error) {
	text, _, err := DecodeWith(data, label, DecodeOptions{})
	return text, err
}

// DecodeWith is Decode with TextDecoder semantics. rest is the number of
// trailing bytes held back because opts.Stream is set; the caller prepends
// them to the next chunk.
func DecodeWith(data []byte, label string, opts DecodeOptions) (text string, rest int, err error) {
	name, err := Canonical(label)
	if err != nil {
		return "", 0, err
	}
	if name == DefaultEncoding {
		if !opts.IgnoreBOM {
			data = trimBOM(data, utf8BOM)
		}
		return decodeUTF8(data, opts.Fatal, opts.Stream)
	}

	// legacy decoders are not incremental; hold everything until the end
	if opts.Stream {
		return "", len(data), nil
	}
	enc, err := lookup(name)
	if err != nil {
		return "", 0, err
	}
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", 0, fmt.Errorf("decoding %s: %w", name, err)
	}
	return string(out), 0, nil
}

// decodeUTF8 follows the WHATWG UTF-8 decoder: each maximal invalid
// subpart becomes one U+FFFD, and surrogate code points are rejected.
func decodeUTF8(data []byte, fatal, stream bool) (string, int, error) {
	if utf8.Valid(data) {
		return string(data), 0, nil
	}
	var sb strings.Builder
	sb.Grow(len(data) + 8)
	malformed := func(at int) error {
		return fmt.Errorf("%w: utf-8 at byte %d", ErrMalformedInput, at)
	}
	for i := 0; i < len(data); {
		b := data[i]
		if b < utf8.RuneSelf {
			sb.WriteByte(b)
			i++
			continue
		}
		need, lo, hi := 0, byte(0x80), byte(0xBF)
		switch {
		case b >= 0xC2 && b <= 0xDF:
			need = 1
		case b >= 0xE0 && b <= 0xEF:
			need = 2
			if b == 0xE0 {
				lo = 0xA0
			}
			if b == 0xED {
				hi = 0x9F
			}
		case b >= 0xF0 && b <= 0xF4:
			need = 3
			if b == 0xF0 {
				lo = 0x90
			}
			if b == 0xF4 {
				hi = 0x8F
			}
		default:
			if fatal {
				return "", 0, malformed(i)
			}
			sb.WriteRune(utf8.RuneError)
			i++
			continue
		}

		j := 1
		for ; j <= need && i+j < len(data); j++ {
			if c := data[i+j]; c < lo || c > hi {
				break
			}
			lo, hi = 0x80, 0xBF
		}
		switch {
		case j > need:
			sb.Write(data[i : i+j])
			i += j
		case stream && i+j == len(data):
			return sb.String(), len(data) - i, nil
		default:
			if fatal {
				return "", 0, malformed(i)
			}
			sb.WriteRune(utf8.RuneError)
			i += j
		}
	}
	return sb.String(), 0, nil
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func trimBOM(data, bom []byte) []byte {
	if len(data) >= len(bom) && string(data[:len(bom)]) == string(bom) {
		return data[len(bom):]
	}
	return data
}

// lookup returns the decoder for a canonical name. UTF-16 is special-cased
// so that a matching BOM is consumed instead of leaking into the text.
func lookup(name string) (encoding.Encoding, error) {
	switch name {
	case "utf-16le":
		return unicode.UTF16(unicode.LittleEndian, unicode.UseBOM), nil
	case "utf-16be":
		return unicode.UTF16(unicode.BigEndian, unicode.UseBOM), nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, name)
	}
	return enc, nil
}
