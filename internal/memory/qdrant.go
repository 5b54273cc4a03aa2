package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// payloadContentField and payloadOriginalIDField mirror the
// original-id-preservation trick in intelligencedev-manifold's qdrant
// adapter: qdrant point ids must be UUIDs or positive integers, so a
// caller-supplied id that is not already a UUID is remapped deterministically
// and the original is carried in the payload for round-tripping.
const (
	payloadContentField    = "_content"
	payloadOriginalIDField = "_original_id"
)

// QdrantIndex is the production VectorIndex, backed by a single qdrant
// client shared across lazily-created collections (spec.md §4.3:
// "Collections are created lazily on first access").
type QdrantIndex struct {
	client    *qdrant.Client
	dimension int

	mu       sync.Mutex
	ensured  map[string]struct{}
}

// NewQdrantIndex dials the qdrant gRPC endpoint (default port 6334, per
// intelligencedev-manifold's adapter) and returns a VectorIndex that creates
// collections on demand with cosine distance, matching the original
// ChromaDB manager's `metadata={"hnsw:space": "cosine"}` configuration.
func NewQdrantIndex(host string, port int, apiKey string, useTLS bool, dimension int) (*QdrantIndex, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("memory: qdrant index requires dimension > 0")
	}
	cfg := &qdrant.Config{Host: host, Port: port, UseTLS: useTLS}
	if apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("memory: create qdrant client: %w", err)
	}
	return &QdrantIndex{client: client, dimension: dimension, ensured: make(map[string]struct{})}, nil
}

func (q *QdrantIndex) Close() error { return q.client.Close() }

func (q *QdrantIndex) ensureCollection(ctx context.Context, name string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.ensured[name]; ok {
		return nil
	}

	exists, err := q.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("check collection exists: %w", err)
	}
	if !exists {
		err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(q.dimension),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("create collection: %w", err)
		}
	}
	q.ensured[name] = struct{}{}
	return nil
}

func pointUUID(id string) string {
	if _, err := uuid.Parse(id); err == nil {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}

func (q *QdrantIndex) Upsert(ctx context.Context, collection string, point VectorPoint) error {
	if err := q.ensureCollection(ctx, collection); err != nil {
		return err
	}

	payload := make(map[string]any, len(point.Metadata)+2)
	for k, v := range point.Metadata {
		payload[k] = v
	}
	payload[payloadContentField] = point.Content
	payload[payloadOriginalIDField] = point.ID

	vec := make([]float32, len(point.Vector))
	copy(vec, point.Vector)

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(pointUUID(point.ID)),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: qdrant.NewValueMap(payload),
		}},
	})
	if err != nil {
		return fmt.Errorf("upsert point: %w", err)
	}
	return nil
}

func (q *QdrantIndex) Query(ctx context.Context, collection string, vector []float32, topK int) ([]VectorSearchResult, error) {
	if err := q.ensureCollection(ctx, collection); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 10
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)
	limit := uint64(topK)

	results, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("query points: %w", err)
	}

	out := make([]VectorSearchResult, 0, len(results))
	for _, hit := range results {
		content, metadata, originalID := splitPayload(hit.Payload)
		id := originalID
		if id == "" {
			id = hit.Id.GetUuid()
		}
		// cosine distance in [0,2]; qdrant's Query already scores by
		// similarity for Distance_Cosine collections, so Score is the
		// similarity directly (spec.md §4.3: similarity = 1 - cosine_distance).
		out = append(out, VectorSearchResult{
			ID:         id,
			Content:    content,
			Metadata:   metadata,
			Similarity: float64(hit.Score),
		})
	}
	return out, nil
}

func (q *QdrantIndex) Count(ctx context.Context, collection string) (int, error) {
	exists, err := q.client.CollectionExists(ctx, collection)
	if err != nil {
		return 0, fmt.Errorf("check collection exists: %w", err)
	}
	if !exists {
		return 0, nil
	}
	exact := true
	n, err := q.client.Count(ctx, &qdrant.CountPoints{CollectionName: collection, Exact: &exact})
	if err != nil {
		return 0, fmt.Errorf("count points: %w", err)
	}
	return int(n), nil
}

func (q *QdrantIndex) List(ctx context.Context, collection string, limit int) ([]VectorPoint, error) {
	if err := q.ensureCollection(ctx, collection); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	lim := uint32(limit)
	points, err := q.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: collection,
		Limit:          &lim,
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("scroll points: %w", err)
	}

	out := make([]VectorPoint, 0, len(points))
	for _, p := range points {
		content, metadata, originalID := splitPayload(p.Payload)
		id := originalID
		if id == "" {
			id = p.Id.GetUuid()
		}
		var vec []float32
		if dv := p.Vectors.GetVector(); dv != nil {
			vec = dv.GetData()
		}
		out = append(out, VectorPoint{ID: id, Vector: vec, Content: content, Metadata: metadata})
	}
	return out, nil
}

func splitPayload(payload map[string]*qdrant.Value) (content string, metadata map[string]string, originalID string) {
	metadata = make(map[string]string, len(payload))
	for k, v := range payload {
		switch k {
		case payloadContentField:
			content = v.GetStringValue()
		case payloadOriginalIDField:
			originalID = v.GetStringValue()
		default:
			metadata[k] = v.GetStringValue()
		}
	}
	return content, metadata, originalID
}
