// Package provider produces assistant text from a message list. A Broker
// sequences the configured providers with ordered fallback; when every
// provider fails it draws a canned line for the active voice mode, so
// generation never returns an error.
package provider

import "context"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of the provider input.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider is a named upstream capable of producing assistant text.
type Provider interface {
	Name() string
	Generate(ctx context.Context, msgs []Message) (string, error)
}
