package memory

import "context"

// VectorPoint is one entry as stored in a VectorIndex collection.
type VectorPoint struct {
	ID       string
	Vector   []float32
	Content  string
	Metadata map[string]string
}

// VectorSearchResult is a raw similarity hit from a VectorIndex, before
// Store converts it into a Hit (content + parsed Record).
type VectorSearchResult struct {
	ID         string
	Content    string
	Metadata   map[string]string
	Similarity float64 // 1 - cosine_distance, spec.md §4.3
}

// VectorIndex abstracts the concrete vector engine behind MemoryStore
// (Design Notes §9: "duck-typed vector engine -> VectorIndex interface").
// Collections are created lazily on first access by implementations.
type VectorIndex interface {
	Upsert(ctx context.Context, collection string, point VectorPoint) error
	Query(ctx context.Context, collection string, vector []float32, topK int) ([]VectorSearchResult, error)
	Count(ctx context.Context, collection string) (int, error)
	List(ctx context.Context, collection string, limit int) ([]VectorPoint, error)
}

// Embedder produces a dense embedding vector for a piece of text
// (spec.md §6, external collaborator `LLMClient.Embed`).
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
