package llmclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/local/denidin/internal/session"
)

func TestAnthropicClientCompleteReturnsText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := sdk.Message{
			ID:         "msg_1",
			Type:       constant.Message("message"),
			Role:       constant.Assistant("assistant"),
			Model:      sdk.ModelClaude3_7SonnetLatest,
			StopReason: sdk.StopReasonEndTurn,
			Content: []sdk.ContentBlockUnion{
				{Type: "text", Text: "hello there"},
			},
			Usage: sdk.Usage{InputTokens: 5, OutputTokens: 2},
		}
		b, _ := json.Marshal(resp)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(b)
	}))
	t.Cleanup(srv.Close)

	client := NewAnthropicClient("test-key", srv.URL, "claude-3-7-sonnet")
	history := []session.Turn{{Role: session.RoleUser, Content: "earlier"}}
	text, usage, finish, err := client.Complete(context.Background(), "be helpful", history, "hi", Params{MaxReplyTokens: 100})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if text != "hello there" {
		t.Errorf("text = %q, want %q", text, "hello there")
	}
	if usage.TotalTokens != 7 {
		t.Errorf("total tokens = %d, want 7", usage.TotalTokens)
	}
	if finish != string(sdk.StopReasonEndTurn) {
		t.Errorf("finish reason = %q", finish)
	}
}

func TestAnthropicEmbedderUnsupported(t *testing.T) {
	var e AnthropicEmbedder
	if _, err := e.Embed(context.Background(), "text", "model"); err == nil {
		t.Fatal("expected an error, Anthropic has no embeddings endpoint")
	}
}
