package history

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/local/denidin/internal/clock"
	"github.com/local/denidin/internal/memory"
	"github.com/local/denidin/internal/memorytest"
	"github.com/local/denidin/internal/rbac"
	"github.com/local/denidin/internal/session"
)

type stubHistory struct {
	turns []session.Turn
}

func (s stubHistory) History(string) ([]session.Turn, error) { return s.turns, nil }

func TestConstitutionCacheReloadsOnMtimeChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "constitution.txt")
	if err := os.WriteFile(path, []byte("v1"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	c := NewConstitutionCache(path)

	got, err := c.Get()
	if err != nil || got != "v1" {
		t.Fatalf("Get() = %q, %v, want v1, nil", got, err)
	}

	got2, _ := c.Get()
	if got2 != "v1" {
		t.Fatalf("second Get() = %q, want v1", got2)
	}

	if err := os.WriteFile(path, []byte("v2"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got3, err := c.Get()
	if err != nil || got3 != "v2" {
		t.Fatalf("Get() after change = %q, %v, want v2, nil", got3, err)
	}
}

func TestComposeTruncatesHistoryToBudget(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "constitution.txt")
	if err := os.WriteFile(path, []byte("system preamble"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	tok := session.DefaultTokenizer()
	store := memory.New(memorytest.New(), memorytest.Embedder{Dimension: 8}, clock.SystemClock{})

	turns := []session.Turn{
		{Role: session.RoleUser, Content: "message one is reasonably long text"},
		{Role: session.RoleAssistant, Content: "message two is reasonably long text"},
		{Role: session.RoleUser, Content: "message three"},
	}
	assembler := NewAssembler(NewConstitutionCache(path), stubHistory{turns: turns}, store, tok, "gpt-4o-mini", 512, 0.7, 0)

	user := rbac.User{Phone: "+972501111111", TokenLimit: 10, AllowedScopes: []rbac.Scope{rbac.ScopePublic, rbac.ScopePrivate}}
	input, err := assembler.Compose(context.Background(), user, "chat_budget", "new prompt", "memory_chat_budget", RecallParams{TopK: 5, MinSimilarity: 0})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if len(input.History) >= len(turns) {
		t.Errorf("expected history truncated under tight budget, got %d of %d turns", len(input.History), len(turns))
	}
	if len(input.History) > 0 && input.History[len(input.History)-1].Content != turns[len(turns)-1].Content {
		t.Errorf("expected the retained suffix to end with the most recent turn")
	}
}
