package provider

import (
	"context"
	"fmt"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/solunalabs/voicegate/internal/textutil"
)

// Decoding profile for the hosted chat completion.
const (
	hostedTemperature = 0.7
	hostedTopP        = 0.9
	hostedMaxTokens   = 150
)

// HostedProvider calls a hosted chat-completion API.
type HostedProvider struct {
	client openai.Client
	model  string
}

// NewHostedProvider builds the provider. baseURL may be empty for the default
// endpoint.
func NewHostedProvider(apiKey, baseURL, model string) *HostedProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &HostedProvider{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

func (p *HostedProvider) Name() string { return "hosted" }

func (p *HostedProvider) Generate(ctx context.Context, msgs []Message) (string, error) {
	params := openai.ChatCompletionNewParams{
		Messages:    make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs)),
		Model:       openai.ChatModel(p.model),
		Temperature: openai.Float(hostedTemperature),
		TopP:        openai.Float(hostedTopP),
		MaxTokens:   openai.Int(hostedMaxTokens),
	}
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			params.Messages = append(params.Messages, openai.SystemMessage(m.Content))
		case RoleAssistant:
			params.Messages = append(params.Messages, openai.AssistantMessage(m.Content))
		default:
			params.Messages = append(params.Messages, openai.UserMessage(m.Content))
		}
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	content := resp.Choices[0].Message.Content
	if content == "" {
		return "", fmt.Errorf("empty message content")
	}
	return textutil.Sanitize(content), nil
}
