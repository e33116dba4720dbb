package provider

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/solunalabs/voicegate/internal/textutil"
)

// localTimeout bounds one subprocess invocation wall-clock.
const localTimeout = 20 * time.Second

// minLocalOutput is the shortest stdout (after prompt stripping) accepted as
// a real reply.
const minLocalOutput = 10

// failureSignatures are substrings a local model emits when it produced
// nothing useful; output containing one is treated as a provider failure.
var failureSignatures = []string{
	"<|endoftext|>",
	"failed to load model",
	"error loading model",
	"[end of text]",
}

// LocalProvider invokes a local language-model binary as a child process.
// The process is terminated on every exit path, including cancellation of
// the enclosing turn.
type LocalProvider struct {
	binPath   string
	modelPath string
}

func NewLocalProvider(binPath, modelPath string) *LocalProvider {
	return &LocalProvider{binPath: binPath, modelPath: modelPath}
}

func (p *LocalProvider) Name() string { return "local" }

func (p *LocalProvider) Generate(ctx context.Context, msgs []Message) (string, error) {
	if p.binPath == "" {
		return "", fmt.Errorf("local binary not configured")
	}
	prompt := flattenPrompt(msgs)

	ctx, cancel := context.WithTimeout(ctx, localTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.binPath,
		"-m", p.modelPath,
		"-p", prompt,
		"-n", "150",
		"--temp", "0.7",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("local model timed out after %s", localTimeout)
		}
		return "", fmt.Errorf("local model: %w (stderr: %s)", err, truncate(stderr.String(), 200))
	}

	out := stripEcho(stdout.String(), prompt)
	out = strings.TrimSpace(out)
	if len(out) <= minLocalOutput {
		return "", fmt.Errorf("local model output too short (%d chars)", len(out))
	}
	for _, sig := range failureSignatures {
		if strings.Contains(out, sig) {
			return "", fmt.Errorf("local model failure signature %q", sig)
		}
	}
	return textutil.Sanitize(truncateAtSentence(out)), nil
}

// flattenPrompt reconstructs a transcript with role prefixes, ending with the
// latest user turn ready for completion.
func flattenPrompt(msgs []Message) string {
	var sb strings.Builder
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			sb.WriteString(m.Content)
			sb.WriteString("\n\n")
		case RoleAssistant:
			sb.WriteString("Assistant: ")
			sb.WriteString(m.Content)
			sb.WriteString("\n")
		default:
			sb.WriteString("User: ")
			sb.WriteString(m.Content)
			sb.WriteString("\n")
		}
	}
	sb.WriteString("Assistant:")
	return sb.String()
}

// stripEcho removes the echoed prompt from the head of the model output.
func stripEcho(out, prompt string) string {
	if strings.HasPrefix(out, prompt) {
		return out[len(prompt):]
	}
	// Some binaries echo with minor whitespace drift; fall back to cutting at
	// the final role marker.
	if idx := strings.LastIndex(out, "Assistant:"); idx >= 0 {
		return out[idx+len("Assistant:"):]
	}
	return out
}

// truncateAtSentence cuts an unterminated tail at the last sentence
// terminator. Output that already ends cleanly passes through.
func truncateAtSentence(s string) string {
	last := strings.LastIndexAny(s, ".!?")
	if last < 0 || last == len(s)-1 {
		return s
	}
	return s[:last+1]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
