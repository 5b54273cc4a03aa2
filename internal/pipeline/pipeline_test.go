package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/local/denidin/internal/clock"
	"github.com/local/denidin/internal/history"
	"github.com/local/denidin/internal/llmclient"
	"github.com/local/denidin/internal/memory"
	"github.com/local/denidin/internal/memorytest"
	"github.com/local/denidin/internal/rbac"
	"github.com/local/denidin/internal/session"
	"github.com/local/denidin/internal/transport"
)

type stubDirectory struct {
	users map[string]rbac.User
}

func (d stubDirectory) Lookup(phone string) (rbac.User, error) {
	if u, ok := d.users[phone]; ok {
		return u, nil
	}
	return rbac.User{Phone: phone, Role: rbac.RoleClient, TokenLimit: 4000, AllowedScopes: []rbac.Scope{rbac.ScopePublic, rbac.ScopePrivate}}, nil
}

type stubSessions struct {
	mu      sync.Mutex
	appends []string
	cleared []string
}

func (s *stubSessions) AppendWithTokenLimit(chatID string, role session.Role, content, sender, recipient string, roleLimit int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appends = append(s.appends, string(role)+":"+content)
	return "msg-id", nil
}

func (s *stubSessions) Clear(chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleared = append(s.cleared, chatID)
	return nil
}

type stubCompleter struct {
	text string
	err  error
}

func (c stubCompleter) Complete(context.Context, string, []session.Turn, string, llmclient.Params) (string, llmclient.Usage, string, error) {
	if c.err != nil {
		return "", llmclient.Usage{}, "", c.err
	}
	return c.text, llmclient.Usage{TotalTokens: 1}, "stop", nil
}

type stubTransport struct {
	mu      sync.Mutex
	replies []string
	err     error
}

func (t *stubTransport) Reply(_ context.Context, _ transport.Notification, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	t.replies = append(t.replies, text)
	return nil
}

func newTestAssembler(t *testing.T) *history.Assembler {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "constitution.txt")
	if err := os.WriteFile(path, []byte("be helpful"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	tok := session.DefaultTokenizer()
	store := memory.New(memorytest.New(), memorytest.Embedder{Dimension: 8}, clock.SystemClock{})
	emptyHistory := emptySessionHistory{}
	return history.NewAssembler(history.NewConstitutionCache(path), emptyHistory, store, tok, "gpt-4o-mini", 512, 0.7, 0)
}

type emptySessionHistory struct{}

func (emptySessionHistory) History(string) ([]session.Turn, error) { return nil, nil }

func defaultConfig() Config {
	return Config{
		AssistantName:       "DeniDin",
		RecallCollectionFor: func(chatID string) string { return "memory_" + chatID },
		Recall:              history.RecallParams{TopK: 3, MinSimilarity: 0.5},
	}
}

func TestHandleRejectsUnsupportedKind(t *testing.T) {
	tr := &stubTransport{}
	p := New(stubDirectory{}, newTestAssembler(t), &stubSessions{}, stubCompleter{text: "hi"}, tr, defaultConfig())

	n := transport.Notification{ID: "1", ChatID: "chat_1", Sender: "+972501111111", Text: "a photo", Kind: transport.KindImage}
	p.Handle(context.Background(), n)

	if len(tr.replies) != 1 || tr.replies[0] != unsupportedKindReply {
		t.Errorf("replies = %v, want [%q]", tr.replies, unsupportedKindReply)
	}
}

func TestHandleGroupChatSkipsWithoutMention(t *testing.T) {
	tr := &stubTransport{}
	p := New(stubDirectory{}, newTestAssembler(t), &stubSessions{}, stubCompleter{text: "hi"}, tr, defaultConfig())

	n := transport.Notification{ID: "1", ChatID: "chat_1", Sender: "+972501111111", Text: "hello everyone", Kind: transport.KindText, IsGroup: true}
	p.Handle(context.Background(), n)

	if len(tr.replies) != 0 {
		t.Errorf("expected no reply for a group message without a mention, got %v", tr.replies)
	}
}

func TestHandleGroupChatRespondsWithMention(t *testing.T) {
	tr := &stubTransport{}
	p := New(stubDirectory{}, newTestAssembler(t), &stubSessions{}, stubCompleter{text: "hi there"}, tr, defaultConfig())

	n := transport.Notification{ID: "1", ChatID: "chat_1", Sender: "+972501111111", Text: "hey DeniDin, what's up", Kind: transport.KindText, IsGroup: true}
	p.Handle(context.Background(), n)

	if len(tr.replies) != 1 {
		t.Fatalf("expected one reply, got %v", tr.replies)
	}
}

func TestHandleDropsBlockedUserSilently(t *testing.T) {
	tr := &stubTransport{}
	dir := stubDirectory{users: map[string]rbac.User{
		"+972500000000": {Phone: "+972500000000", Role: rbac.RoleBlocked},
	}}
	sessions := &stubSessions{}
	p := New(dir, newTestAssembler(t), sessions, stubCompleter{text: "hi"}, tr, defaultConfig())

	n := transport.Notification{ID: "1", ChatID: "chat_1", Sender: "+972500000000", Text: "hello", Kind: transport.KindText}
	p.Handle(context.Background(), n)

	if len(tr.replies) != 0 {
		t.Errorf("expected no reply to a blocked user, got %v", tr.replies)
	}
	if len(sessions.appends) != 0 {
		t.Errorf("blocked user must never touch persistence, got %v", sessions.appends)
	}
}

func TestHandleHappyPathPersistsBothTurnsAndReplies(t *testing.T) {
	tr := &stubTransport{}
	sessions := &stubSessions{}
	p := New(stubDirectory{}, newTestAssembler(t), sessions, stubCompleter{text: "here is my answer"}, tr, defaultConfig())

	n := transport.Notification{ID: "1", ChatID: "chat_1", Sender: "+972501111111", Text: "what's the weather", Kind: transport.KindText}
	p.Handle(context.Background(), n)

	if len(tr.replies) != 1 || tr.replies[0] != "here is my answer" {
		t.Fatalf("replies = %v", tr.replies)
	}
	if len(sessions.appends) != 2 {
		t.Fatalf("expected exactly 2 appended turns (user then assistant), got %d: %v", len(sessions.appends), sessions.appends)
	}
	if sessions.appends[0] != "user:what's the weather" {
		t.Errorf("first append = %q, want the user turn first", sessions.appends[0])
	}
}

func TestHandleAdminResetCommandClearsSessionWithoutLLMCall(t *testing.T) {
	tr := &stubTransport{}
	sessions := &stubSessions{}
	dir := stubDirectory{users: map[string]rbac.User{
		"+972509999999": {Phone: "+972509999999", Role: rbac.RoleAdmin, TokenLimit: 100000, AllowedScopes: []rbac.Scope{rbac.ScopePublic, rbac.ScopePrivate, rbac.ScopeSystem}},
	}}
	p := New(dir, newTestAssembler(t), sessions, stubCompleter{err: errShouldNotBeCalled}, tr, defaultConfig())

	n := transport.Notification{ID: "1", ChatID: "chat_1", Sender: "+972509999999", Text: "!reset", Kind: transport.KindText}
	p.Handle(context.Background(), n)

	if len(sessions.cleared) != 1 || sessions.cleared[0] != "chat_1" {
		t.Fatalf("expected Clear(chat_1), got %v", sessions.cleared)
	}
	if len(tr.replies) != 1 || tr.replies[0] != resetReply {
		t.Errorf("replies = %v, want [%q]", tr.replies, resetReply)
	}
}

func TestHandleNonAdminResetCommandIsTreatedAsOrdinaryMessage(t *testing.T) {
	tr := &stubTransport{}
	sessions := &stubSessions{}
	p := New(stubDirectory{}, newTestAssembler(t), sessions, stubCompleter{text: "reply text"}, tr, defaultConfig())

	n := transport.Notification{ID: "1", ChatID: "chat_1", Sender: "+972501111111", Text: "!reset", Kind: transport.KindText}
	p.Handle(context.Background(), n)

	if len(sessions.cleared) != 0 {
		t.Errorf("non-admin !reset must not clear the session, got %v", sessions.cleared)
	}
	if len(tr.replies) != 1 || tr.replies[0] != "reply text" {
		t.Errorf("replies = %v, want the LLM reply", tr.replies)
	}
}

func TestHandleLLMFailureSendsFallbackReply(t *testing.T) {
	tr := &stubTransport{}
	p := New(stubDirectory{}, newTestAssembler(t), &stubSessions{}, stubCompleter{err: errShouldNotBeCalled}, tr, defaultConfig())

	n := transport.Notification{ID: "1", ChatID: "chat_1", Sender: "+972501111111", Text: "hello", Kind: transport.KindText}
	p.Handle(context.Background(), n)

	if len(tr.replies) != 1 || tr.replies[0] != fallbackReply {
		t.Errorf("replies = %v, want [%q]", tr.replies, fallbackReply)
	}
}

func TestTruncateReplyAppendsEllipsisAtLimit(t *testing.T) {
	text := make([]byte, maxReplyChars+50)
	for i := range text {
		text[i] = 'a'
	}
	out, truncated := truncateReply(string(text))
	if !truncated {
		t.Fatal("expected truncated=true")
	}
	if len(out) != maxReplyChars {
		t.Errorf("len(out) = %d, want %d", len(out), maxReplyChars)
	}
	if out[len(out)-3:] != "..." {
		t.Errorf("expected ellipsis suffix, got %q", out[len(out)-3:])
	}
}

func TestTruncateInboundCapsOversizedMessage(t *testing.T) {
	text := make([]byte, maxInboundChars+100)
	for i := range text {
		text[i] = 'b'
	}
	out := truncateInbound(string(text))
	if len(out) != maxInboundChars {
		t.Errorf("len(out) = %d, want %d", len(out), maxInboundChars)
	}
}

var errShouldNotBeCalled = errNotRetryable("the LLM must not be called on this path")

type errNotRetryable string

func (e errNotRetryable) Error() string { return string(e) }
