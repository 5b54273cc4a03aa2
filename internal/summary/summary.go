// Package summary implements the Summariser component (spec.md §4.5):
// converting one expired session into exactly one durable MemoryRecord,
// with a raw-transcript fallback when the LLM is unavailable.
package summary

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/local/denidin/internal/clock"
	"github.com/local/denidin/internal/llmclient"
	"github.com/local/denidin/internal/memory"
	"github.com/local/denidin/internal/session"
)

const summarisationPreamble = "Summarise key topics, decisions, and action items from this conversation transcript in under 500 words."

// Outcome is the structured result of Summarise (spec.md §4.5 step 5):
// the caller proceeds on Ok regardless of UsedFallback.
type Outcome struct {
	Ok           bool
	MemoryID     string
	UsedFallback bool
}

// TranscriptReader is the subset of session.Store Summarise needs to load
// a session's turns regardless of whether it is active or archived.
type TranscriptReader interface {
	HistoryForSession(sess session.Session) ([]session.Turn, error)
}

// Summariser drives spec.md §4.5's algorithm.
type Summariser struct {
	transcripts TranscriptReader
	completer   llmclient.Completer
	memories    *memory.Store
	clk         clock.Clock
	model       string
}

// New constructs a Summariser.
func New(transcripts TranscriptReader, completer llmclient.Completer, memories *memory.Store, clk clock.Clock, model string) *Summariser {
	return &Summariser{transcripts: transcripts, completer: completer, memories: memories, clk: clk, model: model}
}

// Summarise produces one MemoryRecord for sess, written to collection
// (spec.md §4.5). It never returns an error that would cause the caller to
// drop the session without a record — any internal failure is absorbed
// into a fallback record instead.
func (s *Summariser) Summarise(ctx context.Context, sess session.Session, collection string) Outcome {
	turns, err := s.transcripts.HistoryForSession(sess)
	if err != nil {
		log.Error().Err(err).Str("session_id", sess.SessionID).Msg("summary: failed to load transcript, falling back to empty transcript")
	}

	text, usedFallback := s.tryLLMSummary(ctx, turns)

	var metadata memory.Record
	if usedFallback {
		metadata = memory.Record{
			Type:                memory.TypeSessionSummaryFallback,
			SessionID:           sess.SessionID,
			ChatID:              sess.ChatID,
			SessionStart:        sess.CreatedAt,
			SessionEnd:          sess.LastActive,
			SummarizationFailed: true,
			MessageCount:        len(turns),
		}
	} else {
		metadata = memory.Record{
			Type:                memory.TypeSessionSummary,
			SessionID:           sess.SessionID,
			ChatID:              sess.ChatID,
			SessionStart:        sess.CreatedAt,
			SessionEnd:          sess.LastActive,
			SummarizationFailed: false,
			MessageCount:        len(turns),
		}
	}

	id, err := s.memories.Remember(ctx, text, collection, metadata)
	if err != nil {
		// Even the fallback write failed: this session cannot be retired
		// this cycle. The lifecycle worker's retry-next-cycle logic
		// (transferred_to_longterm stays false) covers this case.
		log.Error().Err(err).Str("session_id", sess.SessionID).Msg("summary: failed to store memory record")
		return Outcome{Ok: false}
	}

	return Outcome{Ok: true, MemoryID: id, UsedFallback: usedFallback}
}

func (s *Summariser) tryLLMSummary(ctx context.Context, turns []session.Turn) (text string, usedFallback bool) {
	if s.completer == nil {
		return rawTranscript(turns), true
	}
	transcript := rawTranscript(turns)
	result, _, _, err := s.completer.Complete(ctx, summarisationPreamble, nil, transcript, llmclient.Params{Model: s.model, MaxReplyTokens: 700, Temperature: 0.2})
	if err != nil {
		log.Warn().Err(err).Msg("summary: LLM summarisation failed, using raw transcript fallback")
		return transcript, true
	}
	if strings.TrimSpace(result) == "" {
		return transcript, true
	}
	return result, false
}

func rawTranscript(turns []session.Turn) string {
	var sb strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&sb, "%s: %s\n", t.Role, t.Content)
	}
	return sb.String()
}
