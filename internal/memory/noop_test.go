package memory

import (
	"context"
	"testing"
)

func TestNoopIndexIsInert(t *testing.T) {
	idx := NoopIndex{}
	ctx := context.Background()

	if err := idx.Upsert(ctx, "collection", VectorPoint{ID: "1"}); err != nil {
		t.Errorf("Upsert: %v", err)
	}
	results, err := idx.Query(ctx, "collection", []float32{0.1, 0.2}, 5)
	if err != nil || results != nil {
		t.Errorf("Query = (%v, %v), want (nil, nil)", results, err)
	}
	count, err := idx.Count(ctx, "collection")
	if err != nil || count != 0 {
		t.Errorf("Count = (%d, %v), want (0, nil)", count, err)
	}
	points, err := idx.List(ctx, "collection", 10)
	if err != nil || points != nil {
		t.Errorf("List = (%v, %v), want (nil, nil)", points, err)
	}
}

func TestNoopEmbedderReturnsNoVector(t *testing.T) {
	vec, err := NoopEmbedder{}.Embed(context.Background(), "anything")
	if err != nil {
		t.Errorf("Embed: %v", err)
	}
	if vec != nil {
		t.Errorf("Embed vector = %v, want nil", vec)
	}
}
