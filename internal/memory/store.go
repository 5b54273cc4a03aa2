package memory

import (
	"context"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/local/denidin/internal/clock"
	"github.com/local/denidin/internal/denerr"
	"github.com/local/denidin/internal/rbac"
)

// Store is the MemoryStore: the exclusive owner of MemoryRecords and their
// vector-store representation (spec.md §3, §4.3).
type Store struct {
	index    VectorIndex
	embedder Embedder
	clk      clock.Clock
}

// New constructs a Store over a concrete VectorIndex and Embedder.
func New(index VectorIndex, embedder Embedder, clk clock.Clock) *Store {
	return &Store{index: index, embedder: embedder, clk: clk}
}

// Remember embeds content and stores it durably in collection, defaulting
// scope to PRIVATE and type to fact when the caller does not specify them
// (spec.md §4.3).
func (s *Store) Remember(ctx context.Context, content, collection string, rec Record) (string, error) {
	vec, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return "", denerr.New(denerr.KindEmbedding, "memory.Remember", err)
	}

	if rec.Scope == "" {
		rec.Scope = rbac.ScopePrivate
	}
	if rec.Type == "" {
		rec.Type = TypeFact
	}
	rec.ID = clock.NewID()
	rec.Content = content
	rec.CreatedAt = s.clk.Now()
	rec.Embedding = vec

	nc := newNamedCollection(collection)
	point := VectorPoint{
		ID:       rec.ID,
		Vector:   vec,
		Content:  content,
		Metadata: rec.Metadata(),
	}
	if err := s.index.Upsert(ctx, nc.safe, point); err != nil {
		return "", denerr.New(denerr.KindStorage, "memory.Remember", err)
	}

	log.Info().Str("record_id", rec.ID).Str("collection", collection).Str("type", string(rec.Type)).Msg("memory: remembered")
	return rec.ID, nil
}

// Recall embeds query, searches every named collection, merges results,
// filters by min_similarity, and returns the global top-k sorted by
// similarity descending. Empty or missing collections are skipped, not
// errors (spec.md §4.3).
func (s *Store) Recall(ctx context.Context, query string, collections []string, topK int, minSimilarity float64) ([]Hit, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, denerr.New(denerr.KindEmbedding, "memory.Recall", err)
	}

	var all []Hit
	for _, name := range collections {
		nc := newNamedCollection(name)
		count, err := s.index.Count(ctx, nc.safe)
		if err != nil {
			log.Warn().Err(err).Str("collection", name).Msg("memory: skipping collection, count failed")
			continue
		}
		if count == 0 {
			continue
		}
		k := topK
		if count < k {
			k = count
		}
		results, err := s.index.Query(ctx, nc.safe, vec, k)
		if err != nil {
			log.Warn().Err(err).Str("collection", name).Msg("memory: skipping collection, query failed")
			continue
		}
		for _, r := range results {
			if r.Similarity < minSimilarity {
				continue
			}
			all = append(all, Hit{
				Content:        r.Content,
				Similarity:     r.Similarity,
				CollectionName: name,
				Record:         recordFromMetadata(r.ID, r.Content, r.Metadata),
			})
		}
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].Similarity > all[j].Similarity })
	if len(all) > topK {
		all = all[:topK]
	}
	return all, nil
}

// RecallWithScopeFilter post-filters Recall, retaining only hits whose
// scope is in allowedScopes (spec.md §4.3).
func (s *Store) RecallWithScopeFilter(ctx context.Context, query string, collections []string, allowedScopes []rbac.Scope, topK int, minSimilarity float64) ([]Hit, error) {
	hits, err := s.Recall(ctx, query, collections, topK, minSimilarity)
	if err != nil {
		return nil, err
	}
	return filterByScope(hits, allowedScopes), nil
}

// RecallWithRBACFilter composes the scope filter with an ownership filter:
// a hit passes if its scope is PUBLIC, or its user_phone matches userPhone,
// or canSeeAll is true (spec.md §4.3).
func (s *Store) RecallWithRBACFilter(ctx context.Context, query string, collections []string, userPhone string, allowedScopes []rbac.Scope, canSeeAll bool, topK int, minSimilarity float64) ([]Hit, error) {
	hits, err := s.RecallWithScopeFilter(ctx, query, collections, allowedScopes, topK, minSimilarity)
	if err != nil {
		return nil, err
	}
	if canSeeAll {
		return hits, nil
	}
	return filterByOwnership(hits, userPhone), nil
}

// List is an inspection aid: returns up to limit records from collection,
// optionally filtered by type (spec.md §4.3).
func (s *Store) List(ctx context.Context, collection string, limit int, typeFilter RecordType) ([]Record, error) {
	nc := newNamedCollection(collection)
	count, err := s.index.Count(ctx, nc.safe)
	if err != nil {
		return nil, denerr.New(denerr.KindStorage, "memory.List", err)
	}
	if count == 0 {
		return nil, nil
	}
	fetch := count
	if limit > 0 && limit < fetch {
		fetch = limit
	}
	points, err := s.index.List(ctx, nc.safe, fetch)
	if err != nil {
		return nil, denerr.New(denerr.KindStorage, "memory.List", err)
	}

	out := make([]Record, 0, len(points))
	for _, p := range points {
		rec := recordFromMetadata(p.ID, p.Content, p.Metadata)
		if typeFilter != "" && rec.Type != typeFilter {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func filterByScope(hits []Hit, allowedScopes []rbac.Scope) []Hit {
	allowed := make(map[rbac.Scope]struct{}, len(allowedScopes))
	for _, sc := range allowedScopes {
		allowed[sc] = struct{}{}
	}
	out := make([]Hit, 0, len(hits))
	for _, h := range hits {
		scope := h.Record.Scope
		if scope == "" {
			scope = rbac.ScopePrivate
		}
		if _, ok := allowed[scope]; ok {
			out = append(out, h)
		}
	}
	return out
}

func filterByOwnership(hits []Hit, userPhone string) []Hit {
	out := make([]Hit, 0, len(hits))
	for _, h := range hits {
		if h.Record.Scope == rbac.ScopePublic || h.Record.UserPhone == userPhone {
			out = append(out, h)
		}
	}
	return out
}
