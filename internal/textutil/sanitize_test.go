package textutil

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"plain ascii", "hello world", "hello world"},
		{"unicode preserved", "héllo wörld ✓", "héllo wörld ✓"},
		{"ill-formed overlong", "ab\xe0\x80\x80cd", "ab���cd"},
		{"lone continuation", "x\x80y", "x�y"},
		{"allowed whitespace", "a\tb\nc\rd", "a\tb\nc\rd"},
		{"control chars", "a\x00b\x1fc", "a�b�c"},
		{"delete char", "a\x7fb", "a�b"},
		{"nfkc fullwidth", "ｈｅｌｌｏ", "hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Sanitize(tt.input)
			if got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("Sanitize(%q) produced invalid UTF-8", tt.input)
			}
		})
	}
}

func TestSanitizeIdempotent(t *testing.T) {
	inputs := []string{
		"",
		"plain",
		"\xff\xfe\xfd",
		"mixed \x80 bytes \x01 and ütf",
		strings.Repeat("\xe0\x80", 50),
		"ｶﾀｶﾅ and ﬁ ligatures",
	}
	for _, in := range inputs {
		once := Sanitize(in)
		twice := Sanitize(once)
		if once != twice {
			t.Errorf("Sanitize not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestSanitizeBytes(t *testing.T) {
	if got := SanitizeBytes([]byte("hello")); got != "hello" {
		t.Errorf("text bytes: got %q", got)
	}

	bin := make([]byte, 64)
	got := SanitizeBytes(bin)
	if got != "<binary data: 64 bytes>" {
		t.Errorf("binary bytes: got %q", got)
	}
}

func TestSanitizeAny(t *testing.T) {
	in := map[string]any{
		"reply": "ok \x80",
		"nested": []any{
			"fine",
			[]byte{0x00, 0x01, 0x02},
			map[string]any{"k": "v\x01"},
		},
		"count": 3,
	}

	out, ok := SanitizeAny(in).(map[string]any)
	if !ok {
		t.Fatal("expected map back")
	}
	if out["reply"] != "ok �" {
		t.Errorf("reply = %q", out["reply"])
	}
	if out["count"] != 3 {
		t.Errorf("non-string leaf changed: %v", out["count"])
	}
	nested := out["nested"].([]any)
	if nested[1] != "<binary data: 3 bytes>" {
		t.Errorf("binary leaf = %q", nested[1])
	}
	if nested[2].(map[string]any)["k"] != "v�" {
		t.Errorf("nested map leaf = %q", nested[2].(map[string]any)["k"])
	}
}

func TestIsBinary(t *testing.T) {
	if IsBinary([]byte("just text, nothing else")) {
		t.Error("plain text flagged binary")
	}
	if !IsBinary([]byte{0x41, 0x00, 0x42}) {
		t.Error("NUL byte not flagged")
	}
	if IsBinary(nil) {
		t.Error("empty flagged binary")
	}
}
