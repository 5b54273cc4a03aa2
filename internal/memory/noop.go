package memory

import "context"

// NoopIndex is a VectorIndex that stores nothing and finds nothing. It
// backs Store when the long-term memory subsystem is disabled by
// configuration, or as the degrade-gracefully fallback spec.md §7's
// "Vector-store init" error kind calls for: the caller disables the memory
// path and continues, so foreground requests still succeed without
// long-term recall.
type NoopIndex struct{}

func (NoopIndex) Upsert(context.Context, string, VectorPoint) error { return nil }

func (NoopIndex) Query(context.Context, string, []float32, int) ([]VectorSearchResult, error) {
	return nil, nil
}

func (NoopIndex) Count(context.Context, string) (int, error) { return 0, nil }

func (NoopIndex) List(context.Context, string, int) ([]VectorPoint, error) { return nil, nil }

// NoopEmbedder pairs with NoopIndex when the long-term memory subsystem is
// disabled, so Store's Remember/Recall still type-check and return cleanly
// (an empty vector, never reached since NoopIndex never yields hits to
// filter or collections to upsert into with meaningful content).
type NoopEmbedder struct{}

func (NoopEmbedder) Embed(context.Context, string) ([]float32, error) { return nil, nil }

