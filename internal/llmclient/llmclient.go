// Package llmclient defines the Completer/Embedder interfaces the core
// depends on (spec.md §6, Design Notes §9) plus concrete adapters over the
// Anthropic and OpenAI SDKs. Core packages (internal/pipeline,
// internal/history, internal/summary) import this package only for these
// interface and value types; the concrete adapters are constructed once in
// internal/appctx and injected.
package llmclient

import (
	"context"
	"errors"
	"net"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	sdk "github.com/openai/openai-go/v2"

	"github.com/local/denidin/internal/session"
)

var errUnsupportedEmbedding = errors.New("llmclient: this provider does not support embeddings")
var errEmptyCompletion = errors.New("llmclient: provider returned no choices")

// Params carries per-call generation parameters (spec.md §6).
type Params struct {
	Model          string
	MaxReplyTokens int
	Temperature    float64
}

// Usage reports token accounting for one completion call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Completer is the external LLM collaborator's completion contract
// (spec.md §6: "LLMClient exposing Complete(system, history, prompt,
// params) -> (text, tokens)").
type Completer interface {
	Complete(ctx context.Context, system string, history []session.Turn, prompt string, params Params) (text string, usage Usage, finishReason string, err error)
}

// Embedder is the external LLM collaborator's embedding contract
// (spec.md §6: "Embed(text) -> vector").
type Embedder interface {
	Embed(ctx context.Context, text string, model string) ([]float32, error)
}

// fixedModelEmbedder adapts an Embedder (which takes an explicit model) to
// internal/memory.Embedder (text -> vector only), binding a single
// configured embedding model. internal/memory never imports llmclient
// directly; it only sees this small closure-shaped adapter via its
// Embedder interface, constructed here and handed in from internal/appctx.
type fixedModelEmbedder struct {
	inner Embedder
	model string
}

// WithModel binds e to a single embedding model, producing something that
// satisfies internal/memory.Embedder (Embed(ctx, text) ([]float32, error)).
func WithModel(e Embedder, model string) interface {
	Embed(ctx context.Context, text string) ([]float32, error)
} {
	return fixedModelEmbedder{inner: e, model: model}
}

func (f fixedModelEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.inner.Embed(ctx, text, f.model)
}

// IsTransient classifies an error returned from Complete/Embed as eligible
// for the single retry spec.md §4.7 step 5 describes (rate-limit, timeout,
// 5xx from the provider). Both the Anthropic and OpenAI SDKs surface HTTP
// failures as a status-carrying error type; a timeout is any error that
// reports Timeout() through net.Error, which includes an expired context
// deadline (the pipeline's backoff wait still stops at once when the
// caller's own context has ended). Cancellation and anything else is
// treated as permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var aerr *anthropic.Error
	if errors.As(err, &aerr) {
		return isTransientStatus(aerr.StatusCode)
	}
	var operr *sdk.Error
	if errors.As(err, &operr) {
		return isTransientStatus(operr.StatusCode)
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	return false
}

func isTransientStatus(status int) bool {
	return status == 429 || status >= 500
}
