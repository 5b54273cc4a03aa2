// Package transport defines the Transport interface the core depends on
// (spec.md §6) plus the concrete WhatsApp adapter.
package transport

import (
	"context"
	"time"
)

// MessageKind classifies an inbound notification's payload.
type MessageKind string

const (
	KindText     MessageKind = "text"
	KindImage    MessageKind = "image"
	KindDocument MessageKind = "document"
	KindAudio    MessageKind = "audio"
	KindOther    MessageKind = "other"
)

// Notification is the normalised IncomingMessage (spec.md §4.7 step 1).
type Notification struct {
	ID        string
	ChatID    string
	Sender    string
	Text      string
	Kind      MessageKind
	Timestamp time.Time
	IsGroup   bool
}

// ReplyError classifies a Reply failure so the pipeline can decide whether
// to retry (spec.md §4.7 step 8, §6: "classifiable errors (4xx, 5xx,
// timeout, network)").
type ReplyError struct {
	StatusCode int
	Timeout    bool
	Network    bool
	Err        error
}

func (e *ReplyError) Error() string { return e.Err.Error() }
func (e *ReplyError) Unwrap() error { return e.Err }

// Retryable reports whether the pipeline should retry the Reply call
// (5xx, timeout, or a bare network error; never 4xx).
func (e *ReplyError) Retryable() bool {
	if e.StatusCode >= 400 && e.StatusCode < 500 {
		return false
	}
	return e.Timeout || e.Network || e.StatusCode >= 500
}

// Transport is the external messaging collaborator's contract (spec.md §6:
// "MessagingTransport providing Receive(notification) and
// Reply(notification, text)"). Receive is push-driven (the concrete
// adapter delivers notifications to a handler), so only Reply is part of
// this interface; the core never polls.
type Transport interface {
	Reply(ctx context.Context, notification Notification, text string) error
}
