package summary

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/local/denidin/internal/clock"
	"github.com/local/denidin/internal/llmclient"
	"github.com/local/denidin/internal/memory"
	"github.com/local/denidin/internal/memorytest"
	"github.com/local/denidin/internal/session"
)

type stubTranscripts struct {
	turns []session.Turn
}

func (s stubTranscripts) HistoryForSession(session.Session) ([]session.Turn, error) {
	return s.turns, nil
}

type stubCompleter struct {
	text string
	err  error
}

func (c stubCompleter) Complete(_ context.Context, _ string, _ []session.Turn, _ string, _ llmclient.Params) (string, llmclient.Usage, string, error) {
	if c.err != nil {
		return "", llmclient.Usage{}, "", c.err
	}
	return c.text, llmclient.Usage{TotalTokens: 10}, "stop", nil
}

func newTestMemoryStore() *memory.Store {
	return memory.New(memorytest.New(), memorytest.Embedder{Dimension: 8}, clock.SystemClock{})
}

func TestSummariseSuccess(t *testing.T) {
	turns := []session.Turn{
		{Role: session.RoleUser, Content: "let's plan the trip"},
		{Role: session.RoleAssistant, Content: "sure, where to?"},
		{Role: session.RoleUser, Content: "Japan in April"},
	}
	start := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	end := time.Date(2026, 1, 1, 9, 45, 0, 0, time.UTC)
	sess := session.Session{SessionID: "sess-1", ChatID: "chat_1", CreatedAt: start, LastActive: end}
	mem := newTestMemoryStore()
	s := New(stubTranscripts{turns: turns}, stubCompleter{text: "Discussed planning a trip to Japan in April."}, mem, clock.SystemClock{}, "claude-3-7-sonnet")

	outcome := s.Summarise(context.Background(), sess, "memory_chat_1")
	if !outcome.Ok {
		t.Fatal("expected Ok=true")
	}
	if outcome.UsedFallback {
		t.Error("expected UsedFallback=false on LLM success")
	}
	if outcome.MemoryID == "" {
		t.Error("expected a memory id")
	}

	records, err := mem.List(context.Background(), "memory_chat_1", 10, "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("len(records) = %d, want 1", len(records))
	}
	if records[0].Type != memory.TypeSessionSummary {
		t.Errorf("record type = %s, want %s", records[0].Type, memory.TypeSessionSummary)
	}
	if records[0].SummarizationFailed {
		t.Error("expected summarization_failed=false")
	}
	if !records[0].SessionStart.Equal(start) {
		t.Errorf("SessionStart = %v, want %v", records[0].SessionStart, start)
	}
	if !records[0].SessionEnd.Equal(end) {
		t.Errorf("SessionEnd = %v, want %v", records[0].SessionEnd, end)
	}
}

// S4 — archive-then-transfer under LLM failure: fallback record is stored,
// type=session_summary_fallback, summarization_failed=true, message_count
// correct, and Outcome.Ok is still true.
func TestSummariseFallsBackOnLLMFailure(t *testing.T) {
	turns := []session.Turn{
		{Role: session.RoleUser, Content: "one"},
		{Role: session.RoleAssistant, Content: "two"},
		{Role: session.RoleUser, Content: "three"},
	}
	sess := session.Session{SessionID: "sess-2", ChatID: "chat_2"}
	mem := newTestMemoryStore()
	s := New(stubTranscripts{turns: turns}, stubCompleter{err: errors.New("provider unavailable")}, mem, clock.SystemClock{}, "claude-3-7-sonnet")

	outcome := s.Summarise(context.Background(), sess, "memory_chat_2")
	if !outcome.Ok {
		t.Fatal("expected Ok=true even when summarisation fails (exactly one record must still exist)")
	}
	if !outcome.UsedFallback {
		t.Error("expected UsedFallback=true")
	}

	records, err := mem.List(context.Background(), "memory_chat_2", 10, "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("len(records) = %d, want 1 (invariant 7: never zero, never both)", len(records))
	}
	rec := records[0]
	if rec.Type != memory.TypeSessionSummaryFallback {
		t.Errorf("type = %s, want %s", rec.Type, memory.TypeSessionSummaryFallback)
	}
	if !rec.SummarizationFailed {
		t.Error("expected summarization_failed=true")
	}
	if rec.MessageCount != 3 {
		t.Errorf("message_count = %d, want 3", rec.MessageCount)
	}
}

func TestSummariseFallsBackOnEmptyLLMResponse(t *testing.T) {
	turns := []session.Turn{{Role: session.RoleUser, Content: "hi"}}
	sess := session.Session{SessionID: "sess-3", ChatID: "chat_3"}
	mem := newTestMemoryStore()
	s := New(stubTranscripts{turns: turns}, stubCompleter{text: ""}, mem, clock.SystemClock{}, "model")

	outcome := s.Summarise(context.Background(), sess, "memory_chat_3")
	if !outcome.Ok || !outcome.UsedFallback {
		t.Errorf("outcome = %+v, want Ok=true UsedFallback=true", outcome)
	}
}
