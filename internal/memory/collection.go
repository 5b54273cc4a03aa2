package memory

import "strings"

// sanitizeCollectionName replaces characters the underlying vector engine
// forbids in collection names (spec.md §4.3's "deterministic bijective
// sanitisation"), following the original's own rule for ChromaDB
// (original_source/denidin-app/src/managers/memory_manager.py:
// `replace('@', '_at_').replace(':', '_')`) — qdrant is no stricter, so the
// same substitution keeps the mapping reversible via namedCollection below.
func sanitizeCollectionName(name string) string {
	safe := strings.ReplaceAll(name, "@", "_at_")
	safe = strings.ReplaceAll(safe, ":", "_")
	return safe
}

// namedCollection pairs a sanitized vector-store collection name with the
// canonical, caller-facing name, so Store never leaks the sanitized form
// back out (ported from the original's CollectionWrapper).
type namedCollection struct {
	canonical string
	safe      string
}

func newNamedCollection(canonical string) namedCollection {
	return namedCollection{canonical: canonical, safe: sanitizeCollectionName(canonical)}
}
