package provider

import "testing"

func TestFlattenPrompt(t *testing.T) {
	got := flattenPrompt([]Message{
		{Role: RoleSystem, Content: "Be brief."},
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello"},
		{Role: RoleUser, Content: "how are you"},
	})
	want := "Be brief.\n\nUser: hi\nAssistant: hello\nUser: how are you\nAssistant:"
	if got != want {
		t.Errorf("flattenPrompt =\n%q\nwant\n%q", got, want)
	}
}

func TestStripEcho(t *testing.T) {
	prompt := "Be brief.\n\nUser: hi\nAssistant:"

	if got := stripEcho(prompt+" hello there.", prompt); got != " hello there." {
		t.Errorf("exact echo: got %q", got)
	}

	// Drifted echo falls back to the last role marker.
	drifted := "Be  brief.\nUser: hi\nAssistant: hello there."
	if got := stripEcho(drifted, prompt); got != " hello there." {
		t.Errorf("drifted echo: got %q", got)
	}

	if got := stripEcho("no markers at all", prompt); got != "no markers at all" {
		t.Errorf("no echo: got %q", got)
	}
}

func TestTruncateAtSentence(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Done already.", "Done already."},
		{"One. Two. trailing frag", "One. Two."},
		{"Excited! and then", "Excited!"},
		{"no terminator anywhere", "no terminator anywhere"},
	}
	for _, tt := range tests {
		if got := truncateAtSentence(tt.input); got != tt.want {
			t.Errorf("truncateAtSentence(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestLocalProviderUnconfigured(t *testing.T) {
	p := NewLocalProvider("", "")
	if _, err := p.Generate(t.Context(), msgs()); err == nil {
		t.Fatal("expected error for unconfigured binary")
	}
}
