package llmclient

import (
	"context"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog/log"

	"github.com/local/denidin/internal/session"
)

// AnthropicClient adapts the Anthropic Messages API to Completer. Unlike
// the multi-turn, tool-calling, streaming client this was grounded on,
// DeniDin only ever needs a single non-streaming completion per turn, so
// tool use, thinking blocks, and prompt caching are all left out.
type AnthropicClient struct {
	sdk          anthropic.Client
	defaultModel string
}

// NewAnthropicClient constructs a Completer backed by the Anthropic SDK.
func NewAnthropicClient(apiKey, baseURL, defaultModel string) *AnthropicClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if base := strings.TrimSpace(baseURL); base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(base, "/")))
	}
	return &AnthropicClient{sdk: anthropic.NewClient(opts...), defaultModel: defaultModel}
}

func (c *AnthropicClient) Complete(ctx context.Context, system string, history []session.Turn, prompt string, params Params) (string, Usage, string, error) {
	model := params.Model
	if model == "" {
		model = c.defaultModel
	}
	maxTokens := int64(params.MaxReplyTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	messages := make([]anthropic.MessageParam, 0, len(history)+1)
	for _, turn := range history {
		switch turn.Role {
		case session.RoleUser:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(turn.Content)))
		case session.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(turn.Content)))
		}
	}
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)))

	req := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if strings.TrimSpace(system) != "" {
		req.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if params.Temperature > 0 {
		req.Temperature = anthropic.Float(params.Temperature)
	}

	resp, err := c.sdk.Messages.New(ctx, req)
	if err != nil {
		log.Error().Err(err).Str("model", model).Msg("llmclient: anthropic completion failed")
		return "", Usage{}, "", err
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(tb.Text)
		}
	}

	usage := Usage{
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
		TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
	}
	return sb.String(), usage, string(resp.StopReason), nil
}

// AnthropicEmbedder exists only to satisfy Embedder where an Anthropic-only
// deployment still needs recall; Anthropic has no embeddings endpoint, so
// this always returns an error and a deployment must pair it with
// OpenAIClient or another Embedder for the memory store.
type AnthropicEmbedder struct{}

func (AnthropicEmbedder) Embed(context.Context, string, string) ([]float32, error) {
	return nil, errUnsupportedEmbedding
}
