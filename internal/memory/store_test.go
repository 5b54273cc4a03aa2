package memory

import (
	"context"
	"testing"
	"time"

	"github.com/local/denidin/internal/clock"
	"github.com/local/denidin/internal/memorytest"
	"github.com/local/denidin/internal/rbac"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func newTestStore() (*Store, *memorytest.Index) {
	idx := memorytest.New()
	s := New(idx, memorytest.Embedder{Dimension: 16}, fixedClock{t: time.Now().UTC()})
	return s, idx
}

// S2 — RBAC filtering.
func TestRecallWithRBACFilter(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	const collection = "memory_chat_B"

	mustRemember(t, s, ctx, "public", collection, Record{Scope: rbac.ScopePublic})
	mustRemember(t, s, ctx, "secret_A", collection, Record{Scope: rbac.ScopePrivate, UserPhone: "+972501111111"})
	mustRemember(t, s, ctx, "secret_B", collection, Record{Scope: rbac.ScopePrivate, UserPhone: "+972502222222"})

	hits, err := s.RecallWithRBACFilter(ctx, "secret", []string{collection}, "+972501111111",
		[]rbac.Scope{rbac.ScopePublic, rbac.ScopePrivate}, false, 10, 0.0)
	if err != nil {
		t.Fatalf("RecallWithRBACFilter: %v", err)
	}
	if got := contentSet(hits); !setEquals(got, "public", "secret_A") {
		t.Errorf("can_see_all=false: got %v, want {public, secret_A}", got)
	}

	hitsAll, err := s.RecallWithRBACFilter(ctx, "secret", []string{collection}, "+972501111111",
		[]rbac.Scope{rbac.ScopePublic, rbac.ScopePrivate}, true, 10, 0.0)
	if err != nil {
		t.Fatalf("RecallWithRBACFilter (can_see_all): %v", err)
	}
	if got := contentSet(hitsAll); !setEquals(got, "public", "secret_A", "secret_B") {
		t.Errorf("can_see_all=true: got %v, want all three", got)
	}
}

// Round-trip law: remembering content and recalling the same content
// returns it with similarity 1.0 within embedding noise.
func TestRememberRecallRoundTrip(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	if _, err := s.Remember(ctx, "the quick brown fox", "memory_chat_roundtrip", Record{}); err != nil {
		t.Fatalf("Remember: %v", err)
	}
	hits, err := s.Recall(ctx, "the quick brown fox", []string{"memory_chat_roundtrip"}, 5, 0.0)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("len(hits) = %d, want 1", len(hits))
	}
	if hits[0].Similarity < 0.999 {
		t.Errorf("similarity = %f, want ~1.0", hits[0].Similarity)
	}
}

// Invariant 8: results sorted by similarity descending, none below
// min_similarity.
func TestRecallSortedAndThresholded(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	const collection = "memory_chat_sort"

	mustRemember(t, s, ctx, "apples and oranges", collection, Record{})
	mustRemember(t, s, ctx, "completely different subject matter entirely", collection, Record{})
	mustRemember(t, s, ctx, "apples and oranges are fruit", collection, Record{})

	hits, err := s.Recall(ctx, "apples and oranges", []string{collection}, 10, 0.2)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Similarity > hits[i-1].Similarity {
			t.Errorf("hits not sorted descending at index %d: %v", i, hits)
		}
	}
	for _, h := range hits {
		if h.Similarity < 0.2 {
			t.Errorf("hit %q below min_similarity: %f", h.Content, h.Similarity)
		}
	}
}

// Boundary: empty collection recall returns an empty list, not an error.
func TestRecallEmptyCollection(t *testing.T) {
	s, _ := newTestStore()
	hits, err := s.Recall(context.Background(), "anything", []string{"memory_chat_never_used"}, 5, 0.0)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("len(hits) = %d, want 0", len(hits))
	}
}

func TestCollectionNameSanitization(t *testing.T) {
	nc := newNamedCollection("1234567890@c.us")
	if nc.safe != "1234567890_at_c.us" {
		t.Errorf("safe name = %q, want %q", nc.safe, "1234567890_at_c.us")
	}
	if nc.canonical != "1234567890@c.us" {
		t.Errorf("canonical name changed: %q", nc.canonical)
	}
}

func mustRemember(t *testing.T, s *Store, ctx context.Context, content, collection string, rec Record) {
	t.Helper()
	if _, err := s.Remember(ctx, content, collection, rec); err != nil {
		t.Fatalf("Remember(%q): %v", content, err)
	}
}

func contentSet(hits []Hit) map[string]bool {
	out := make(map[string]bool, len(hits))
	for _, h := range hits {
		out[h.Content] = true
	}
	return out
}

func setEquals(got map[string]bool, want ...string) bool {
	if len(got) != len(want) {
		return false
	}
	for _, w := range want {
		if !got[w] {
			return false
		}
	}
	return true
}
