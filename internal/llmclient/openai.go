package llmclient

import (
	"context"
	"strings"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/packages/param"
	"github.com/rs/zerolog/log"

	"github.com/local/denidin/internal/session"
)

// OpenAIClient adapts OpenAI's Chat Completions and Embeddings APIs to
// Completer and Embedder.
type OpenAIClient struct {
	sdk          sdk.Client
	defaultModel string
}

// NewOpenAIClient constructs a Completer/Embedder backed by the OpenAI SDK.
func NewOpenAIClient(apiKey, baseURL, defaultModel string) *OpenAIClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if base := strings.TrimSpace(baseURL); base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(base, "/")))
	}
	return &OpenAIClient{sdk: sdk.NewClient(opts...), defaultModel: defaultModel}
}

func (c *OpenAIClient) Complete(ctx context.Context, system string, history []session.Turn, prompt string, params Params) (string, Usage, string, error) {
	model := params.Model
	if model == "" {
		model = c.defaultModel
	}

	messages := make([]sdk.ChatCompletionMessageParamUnion, 0, len(history)+2)
	if strings.TrimSpace(system) != "" {
		messages = append(messages, sdk.SystemMessage(system))
	}
	for _, turn := range history {
		switch turn.Role {
		case session.RoleUser:
			messages = append(messages, sdk.UserMessage(turn.Content))
		case session.RoleAssistant:
			messages = append(messages, sdk.AssistantMessage(turn.Content))
		}
	}
	messages = append(messages, sdk.UserMessage(prompt))

	req := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(model),
		Messages: messages,
	}
	if params.MaxReplyTokens > 0 {
		req.MaxCompletionTokens = param.NewOpt(int64(params.MaxReplyTokens))
	}
	if params.Temperature > 0 {
		req.Temperature = param.NewOpt(params.Temperature)
	}

	comp, err := c.sdk.Chat.Completions.New(ctx, req)
	if err != nil {
		log.Error().Err(err).Str("model", model).Msg("llmclient: openai completion failed")
		return "", Usage{}, "", err
	}
	if len(comp.Choices) == 0 {
		return "", Usage{}, "", errEmptyCompletion
	}

	choice := comp.Choices[0]
	usage := Usage{
		PromptTokens:     int(comp.Usage.PromptTokens),
		CompletionTokens: int(comp.Usage.CompletionTokens),
		TotalTokens:      int(comp.Usage.TotalTokens),
	}
	return choice.Message.Content, usage, string(choice.FinishReason), nil
}

func (c *OpenAIClient) Embed(ctx context.Context, text string, model string) ([]float32, error) {
	if model == "" {
		model = string(sdk.EmbeddingModelTextEmbedding3Small)
	}
	resp, err := c.sdk.Embeddings.New(ctx, sdk.EmbeddingNewParams{
		Model: sdk.EmbeddingModel(model),
		Input: sdk.EmbeddingNewParamsInputUnion{OfString: param.NewOpt(text)},
	})
	if err != nil {
		log.Error().Err(err).Str("model", model).Msg("llmclient: openai embedding failed")
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, errEmptyCompletion
	}
	vec := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}
