// Package denerr defines the error-kind taxonomy shared across components
// (spec §7): Config, Forbidden, NotFound, Transient, Permanent, Storage,
// Embedding, and VectorInit. Components return these via errors.Is/As rather
// than raising exceptions for control flow.
package denerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the purposes of retry/propagation decisions.
type Kind int

const (
	KindConfig Kind = iota
	KindForbidden
	KindNotFound
	KindTransient
	KindPermanent
	KindStorage
	KindEmbedding
	KindVectorInit
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindStorage:
		return "storage"
	case KindEmbedding:
		return "embedding"
	case KindVectorInit:
		return "vector_init"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind so callers can branch on
// errors.As without string-matching messages.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a classified error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind == kind
	}
	return false
}

// ERR-MEMORY-001 / ERR-MEMORY-002 per spec §4.3.
const (
	ErrMemoryInit      = "ERR-MEMORY-001"
	ErrMemoryEmbedding = "ERR-MEMORY-002"
)
