package llm

import (
	"context"
	"strings"

	appErrors "tapestry-backend/pkg/errors"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const maxResponseTokens = 4096

// AnthropicProvider calls the Anthropic Messages API. A provider is cheap
// to construct and is built per query so credential changes apply without
// a restart.
type AnthropicProvider struct {
	client anthropic.Client
	model  string
	apiKey string
}

// NewAnthropicProvider creates a provider bound to one API key and model.
func NewAnthropicProvider(apiKey, model string) *AnthropicProvider {
	return &AnthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
		apiKey: apiKey,
	}
}

// IsAvailable reports whether a credential is configured at all.
func (p *AnthropicProvider) IsAvailable() bool {
	return p.apiKey != ""
}

func (p *AnthropicProvider) Complete(ctx context.Context, system string, messages []Message) (string, error) {
	if !p.IsAvailable() {
		return "", appErrors.NewUnavailable("llm backend is not configured")
	}

	response, err := p.client.Messages.New(ctx, p.newParams(system, messages))
	if err != nil {
		return "", appErrors.Wrap(err, "llm completion failed")
	}

	var sb strings.Builder
	for _, block := range response.Content {
		if textBlock, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(textBlock.Text)
		}
	}
	return sb.String(), nil
}

func (p *AnthropicProvider) Stream(ctx context.Context, system string, messages []Message, onDelta func(string)) (string, error) {
	if !p.IsAvailable() {
		return "", appErrors.NewUnavailable("llm backend is not configured")
	}

	stream := p.client.Messages.NewStreaming(ctx, p.newParams(system, messages))

	var sb strings.Builder
	for stream.Next() {
		event := stream.Current()
		switch event := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if event.Delta.Text != "" {
				sb.WriteString(event.Delta.Text)
				onDelta(event.Delta.Text)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return "", appErrors.Wrap(err, "llm stream failed")
	}
	return sb.String(), nil
}

func (p *AnthropicProvider) newParams(system string, messages []Message) anthropic.MessageNewParams {
	converted := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case RoleAssistant:
			converted = append(converted, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Text)))
		default:
			converted = append(converted, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Text)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: maxResponseTokens,
		Messages:  converted,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	return params
}
