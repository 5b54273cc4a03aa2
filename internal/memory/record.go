// Package memory implements the MemoryStore component (spec.md §4.3): a
// per-collection vector index over durable MemoryRecords, with embedding
// generation and scope/ownership-filtered similarity search.
package memory

import (
	"strconv"
	"time"

	"github.com/local/denidin/internal/rbac"
)

// RecordType discriminates the variants of MemoryRecord.metadata (Design
// Notes §9: "model it as a sum type").
type RecordType string

const (
	TypeFact                   RecordType = "fact"
	TypeSessionSummary         RecordType = "session_summary"
	TypeSessionSummaryFallback RecordType = "session_summary_fallback"
)

// Record is a durable long-term memory entry (spec.md §3, Entity:
// MemoryRecord).
type Record struct {
	ID        string
	Content   string
	Embedding []float32
	Scope     rbac.Scope
	Type      RecordType
	CreatedAt time.Time

	UserPhone           string
	SessionID           string
	ChatID              string
	SessionStart        time.Time
	SessionEnd          time.Time
	SummarizationFailed bool
	MessageCount        int
}

// Hit is one similarity-search result (spec.md §4.3).
type Hit struct {
	Content        string
	Similarity     float64
	CollectionName string
	Record         Record
}

// Metadata collapses a Record's tagged fields into the generic string-keyed
// map the VectorIndex payload actually stores, mirroring ChromaDB's
// metadata dict in the original (original_source/denidin-app/src/managers/
// memory_manager.py's `metadata` parameter).
func (r Record) Metadata() map[string]string {
	m := map[string]string{
		"scope":      string(r.Scope),
		"type":       string(r.Type),
		"created_at": r.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if r.UserPhone != "" {
		m["user_phone"] = r.UserPhone
	}
	if r.SessionID != "" {
		m["session_id"] = r.SessionID
	}
	if r.ChatID != "" {
		m["chat_id"] = r.ChatID
	}
	if !r.SessionStart.IsZero() {
		m["session_start"] = r.SessionStart.UTC().Format(time.RFC3339Nano)
	}
	if !r.SessionEnd.IsZero() {
		m["session_end"] = r.SessionEnd.UTC().Format(time.RFC3339Nano)
	}
	if r.SummarizationFailed {
		m["summarization_failed"] = "true"
	}
	if r.MessageCount > 0 {
		m["message_count"] = strconv.Itoa(r.MessageCount)
	}
	return m
}

func recordFromMetadata(id, content string, metadata map[string]string) Record {
	r := Record{
		ID:      id,
		Content: content,
		Scope:   rbac.Scope(metadata["scope"]),
		Type:    RecordType(metadata["type"]),
	}
	if r.Scope == "" {
		r.Scope = rbac.ScopePrivate
	}
	if ts, err := time.Parse(time.RFC3339Nano, metadata["created_at"]); err == nil {
		r.CreatedAt = ts
	}
	r.UserPhone = metadata["user_phone"]
	r.SessionID = metadata["session_id"]
	r.ChatID = metadata["chat_id"]
	if ts, err := time.Parse(time.RFC3339Nano, metadata["session_start"]); err == nil {
		r.SessionStart = ts
	}
	if ts, err := time.Parse(time.RFC3339Nano, metadata["session_end"]); err == nil {
		r.SessionEnd = ts
	}
	r.SummarizationFailed = metadata["summarization_failed"] == "true"
	if n, err := strconv.Atoi(metadata["message_count"]); err == nil {
		r.MessageCount = n
	}
	return r
}
