// Package memorytest provides in-memory VectorIndex and Embedder fakes for
// tests of internal/memory and its callers, avoiding a live qdrant
// dependency in unit tests.
package memorytest

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/local/denidin/internal/memory"
)

// Index is a memory.VectorIndex implementation backed by a plain map.
type Index struct {
	mu          sync.Mutex
	collections map[string][]memory.VectorPoint
}

// New returns an empty in-memory VectorIndex.
func New() *Index {
	return &Index{collections: make(map[string][]memory.VectorPoint)}
}

func (m *Index) Upsert(_ context.Context, collection string, point memory.VectorPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pts := m.collections[collection]
	for i, p := range pts {
		if p.ID == point.ID {
			pts[i] = point
			return nil
		}
	}
	m.collections[collection] = append(pts, point)
	return nil
}

func (m *Index) Query(_ context.Context, collection string, vector []float32, topK int) ([]memory.VectorSearchResult, error) {
	m.mu.Lock()
	pts := append([]memory.VectorPoint(nil), m.collections[collection]...)
	m.mu.Unlock()

	results := make([]memory.VectorSearchResult, 0, len(pts))
	for _, p := range pts {
		results = append(results, memory.VectorSearchResult{
			ID:         p.ID,
			Content:    p.Content,
			Metadata:   p.Metadata,
			Similarity: cosineSimilarity(vector, p.Vector),
		})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (m *Index) Count(_ context.Context, collection string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.collections[collection]), nil
}

func (m *Index) List(_ context.Context, collection string, limit int) ([]memory.VectorPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pts := m.collections[collection]
	if limit > 0 && limit < len(pts) {
		pts = pts[:limit]
	}
	return append([]memory.VectorPoint(nil), pts...), nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Embedder is a deterministic memory.Embedder for tests: it hashes input
// text into a fixed-dimension vector so identical content always embeds to
// the same vector and near-identical content embeds close to it.
type Embedder struct {
	Dimension int
}

func (e Embedder) Embed(_ context.Context, text string) ([]float32, error) {
	dim := e.Dimension
	if dim <= 0 {
		dim = 8
	}
	vec := make([]float32, dim)
	for i, r := range text {
		vec[i%dim] += float32(r%97) + 1
	}
	return vec, nil
}
