// Package textutil coerces arbitrary bytes into well-formed text before
// anything is serialized. Every string that crosses a trust boundary
// (upstream API response, uploaded file name, transcription output, cached
// text) flows through Sanitize exactly once.
package textutil

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// binarySniffLen bounds how much of a byte buffer is inspected when deciding
// whether it holds text or binary data.
const binarySniffLen = 512

// Sanitize returns a valid, NFKC-normalized UTF-8 string. Ill-formed byte
// sequences and control characters other than \n, \r and \t become U+FFFD.
// Sanitize(Sanitize(s)) == Sanitize(s) for all s.
func Sanitize(s string) string {
	if s == "" {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			b.WriteRune(utf8.RuneError)
			i++
			continue
		}
		if isDisallowedControl(r) {
			b.WriteRune(utf8.RuneError)
		} else {
			b.WriteRune(r)
		}
		i += size
	}

	return norm.NFKC.String(b.String())
}

// SanitizeBytes converts a byte buffer to text. Buffers that look binary are
// replaced with a short placeholder instead of being decoded.
func SanitizeBytes(b []byte) string {
	if IsBinary(b) {
		return fmt.Sprintf("<binary data: %d bytes>", len(b))
	}
	return Sanitize(string(b))
}

// SanitizeAny walks strings, byte slices, slices and string-keyed maps,
// returning a structurally identical value whose leaves are valid text.
// Values of other types pass through untouched.
func SanitizeAny(v any) any {
	switch t := v.(type) {
	case string:
		return Sanitize(t)
	case []byte:
		return SanitizeBytes(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = SanitizeAny(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[Sanitize(k)] = SanitizeAny(e)
		}
		return out
	default:
		return v
	}
}

// IsBinary reports whether b looks like non-textual data: a NUL byte, or more
// than 30% of the sniffed prefix outside the textual byte ranges.
func IsBinary(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	sniff := b
	if len(sniff) > binarySniffLen {
		sniff = sniff[:binarySniffLen]
	}
	suspect := 0
	for _, c := range sniff {
		if c == 0x00 {
			return true
		}
		if c < 0x09 || (c > 0x0d && c < 0x20) {
			suspect++
		}
	}
	return suspect*10 > len(sniff)*3
}

func isDisallowedControl(r rune) bool {
	if r == '\n' || r == '\r' || r == '\t' {
		return false
	}
	return r < 0x20 || r == 0x7f
}
