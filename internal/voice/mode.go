// Package voice defines the closed set of response-style modes and the canned
// reply pools used when every provider fails.
package voice

import (
	"math/rand"
	"strings"
)

// Mode is a response-style tag, either selected by the caller or adapted from
// a detected emotion.
type Mode string

const (
	ModeBase       Mode = "Base"
	ModeSassy      Mode = "Sassy"
	ModeHype       Mode = "Hype"
	ModeEmpathy    Mode = "Empathy"
	ModeShadow     Mode = "Shadow"
	ModeAssert     Mode = "Assert"
	ModeChallenger Mode = "Challenger"
	ModeJoy        Mode = "Joy"
)

// All lists every valid mode.
var All = []Mode{
	ModeBase, ModeSassy, ModeHype, ModeEmpathy,
	ModeShadow, ModeAssert, ModeChallenger, ModeJoy,
}

// Parse maps a caller-supplied string onto a Mode, defaulting to Base for
// anything unrecognized.
func Parse(s string) Mode {
	s = strings.TrimSpace(s)
	for _, m := range All {
		if strings.EqualFold(s, string(m)) {
			return m
		}
	}
	return ModeBase
}

// fallbackPools has at least three canned lines per mode.
var fallbackPools = map[Mode][]string{
	ModeBase: {
		"I'm here. Tell me more.",
		"Got it. What would you like to do next?",
		"I'm listening. Go on.",
	},
	ModeSassy: {
		"Oh, is that so? Do go on.",
		"Bold of you to assume I wasn't already on it.",
		"Sure, sure. And then what?",
	},
	ModeHype: {
		"LET'S GO! What's the move?",
		"Huge energy. I'm all in, what's next?",
		"Now THAT is what I like to hear!",
	},
	ModeEmpathy: {
		"I hear you. That sounds like a lot.",
		"Take your time. I'm right here with you.",
		"That matters. Want to talk it through?",
	},
	ModeShadow: {
		"Interesting. And what are you not saying?",
		"There is more underneath that. Keep going.",
		"Noted. The quiet part matters too.",
	},
	ModeAssert: {
		"Here's the straight answer: let's handle it now.",
		"No hedging. Pick a direction and move.",
		"Decide, commit, execute. I'm with you.",
	},
	ModeChallenger: {
		"Is that actually true, or just comfortable?",
		"Push back on that assumption. What breaks?",
		"You can do better than that take. Try again.",
	},
	ModeJoy: {
		"What a day to be alive! Tell me everything.",
		"Love that. Truly. What's next?",
		"This is delightful. Keep it coming!",
	},
}

// Fallback draws a canned line for the mode uniformly at random.
func Fallback(m Mode) string {
	pool, ok := fallbackPools[m]
	if !ok || len(pool) == 0 {
		pool = fallbackPools[ModeBase]
	}
	return pool[rand.Intn(len(pool))]
}

// IsFallback reports whether reply is one of the canned lines for the mode.
// The broker uses this to keep canned replies out of the cache.
func IsFallback(m Mode, reply string) bool {
	for _, line := range fallbackPools[m] {
		if line == reply {
			return true
		}
	}
	return false
}
