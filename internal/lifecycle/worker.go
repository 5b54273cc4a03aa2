// Package lifecycle implements the LifecycleWorker component (spec.md
// §4.6): the periodic and startup execution of the four-step cleanup
// protocol (archive -> summarise+remember -> remove-from-index ->
// mark-transferred), plus orphan recovery.
package lifecycle

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/denidin/internal/session"
	"github.com/local/denidin/internal/summary"
)

// SessionCleaner is the subset of session.Store the worker drives through
// the cleanup protocol.
type SessionCleaner interface {
	SessionsNeedingCleanup() ([]session.Session, error)
	ExpiredActiveSessions(now time.Time) ([]session.Session, error)
	OrphanSessions() ([]session.Session, error)
	Archive(sess session.Session, now time.Time) (session.Session, error)
	RemoveFromIndex(sess session.Session) bool
	MarkTransferred(sess session.Session) (session.Session, error)
	ReindexOrphan(sess session.Session)
}

// Summariser is the subset of internal/summary.Summariser the worker needs.
type Summariser interface {
	Summarise(ctx context.Context, sess session.Session, collection string) summary.Outcome
}

// CollectionNamer derives the per-chat memory collection name a session's
// summary should be written to.
type CollectionNamer func(chatID string) string

// Worker drives the cleanup protocol on a Tick/Shutdown channel pair
// (Design Notes §9: "a single worker that receives Tick/Shutdown signals
// on a channel"), rather than a background thread reaching into shared
// state directly.
type Worker struct {
	store      SessionCleaner
	summariser Summariser
	collection CollectionNamer
	interval   time.Duration

	tick     chan struct{}
	shutdown chan struct{}
	done     chan struct{}
}

// NewWorker constructs a Worker. interval is the periodic cleanup_interval
// (spec.md §4.6 default 3600s).
func NewWorker(store SessionCleaner, summariser Summariser, collection CollectionNamer, interval time.Duration) *Worker {
	return &Worker{
		store:      store,
		summariser: summariser,
		collection: collection,
		interval:   interval,
		tick:       make(chan struct{}, 1),
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Run starts the worker's loop: one immediate startup iteration (the
// crash-recovery mechanism, spec.md §4.6 "Startup"), then periodic ticks
// until Shutdown is called or ctx is cancelled. Run blocks until the loop
// exits; call it from its own goroutine.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)

	w.runStartupRecovery(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case <-w.tick:
			w.runCycle(ctx)
		case <-ticker.C:
			w.runCycle(ctx)
		}
	}
}

// Tick requests an out-of-schedule cleanup cycle. Non-blocking: a pending
// tick is coalesced if one is already queued.
func (w *Worker) Tick() {
	select {
	case w.tick <- struct{}{}:
	default:
	}
}

// Shutdown stops the worker after its current iteration finishes, up to
// deadline. It does not cancel an in-flight per-session protocol step
// (spec.md §4.6: "an in-flight iteration is allowed to finish its current
// session's protocol up to a bounded join deadline").
func (w *Worker) Shutdown(deadline time.Duration) {
	close(w.shutdown)
	select {
	case <-w.done:
	case <-time.After(deadline):
		log.Warn().Dur("deadline", deadline).Msg("lifecycle: shutdown deadline exceeded, worker may still be finishing a session")
	}
}

func (w *Worker) runStartupRecovery(ctx context.Context) {
	start := time.Now()
	orphans, err := w.store.OrphanSessions()
	if err != nil {
		log.Error().Err(err).Msg("lifecycle: startup orphan scan failed")
	}
	now := time.Now().UTC()
	for _, sess := range orphans {
		w.advanceOrphan(ctx, sess, now)
	}
	log.Info().Dur("elapsed", time.Since(start)).Int("orphans", len(orphans)).Msg("lifecycle: startup recovery complete")

	w.runCycle(ctx)
}

// advanceOrphan re-indexes an active-directory orphan (spec.md §4.6: "if
// fresh, simply insert into the index") without checking its age; a stale
// one is then archived and transferred by the runCycle that
// runStartupRecovery runs next. An archived, untransferred orphan is driven
// through the rest of the protocol here.
func (w *Worker) advanceOrphan(ctx context.Context, sess session.Session, now time.Time) {
	if sess.StoragePath == "" && !sess.TransferredToLongterm {
		// Active-directory orphan: re-associate this session's own
		// session_id with its chat_id. GetOrCreate would mint a fresh
		// session_id for an unindexed chat, silently abandoning this
		// session's history — ReindexOrphan inserts the id we already
		// loaded from disk instead.
		w.store.ReindexOrphan(sess)
		return
	}
	w.advanceSession(ctx, sess, now)
}

func (w *Worker) runCycle(ctx context.Context) {
	start := time.Now()
	now := time.Now().UTC()

	expired, err := w.store.ExpiredActiveSessions(now)
	if err != nil {
		log.Error().Err(err).Msg("lifecycle: failed to list expired active sessions")
	}
	for _, sess := range expired {
		w.advanceSession(ctx, sess, now)
	}

	candidates, err := w.store.SessionsNeedingCleanup()
	if err != nil {
		log.Error().Err(err).Msg("lifecycle: failed to list cleanup candidates")
	}
	for _, sess := range candidates {
		w.advanceSession(ctx, sess, now)
	}

	log.Info().Dur("elapsed", time.Since(start)).Int("expired", len(expired)).Int("candidates", len(candidates)).Msg("lifecycle: cleanup cycle complete")
}

// advanceSession drives one session through as much of the four-step
// protocol as currently applies (spec.md §4.6 step 2). Each step logs its
// own elapsed time and swallows its own errors so one bad session never
// poisons the cycle.
func (w *Worker) advanceSession(ctx context.Context, sess session.Session, now time.Time) {
	if sess.StoragePath == "" {
		archived, err := w.timedArchive(sess, now)
		if err != nil {
			log.Error().Err(err).Str("session_id", sess.SessionID).Msg("lifecycle: archive step failed")
			return
		}
		sess = archived
	}

	if !sess.TransferredToLongterm {
		collection := w.collection(sess.ChatID)
		outcome := w.timedSummarise(ctx, sess, collection)
		if !outcome.Ok {
			log.Error().Str("session_id", sess.SessionID).Msg("lifecycle: summarise+remember step failed, retrying next cycle")
			return
		}

		// RemoveFromIndex must run even though transfer is about to be
		// marked, so a crash between the two still leaves the chat free
		// to start a fresh session (spec.md §4.6 step 2).
		w.timedRemoveFromIndex(sess)

		updated, err := w.timedMarkTransferred(sess)
		if err != nil {
			log.Error().Err(err).Str("session_id", sess.SessionID).Msg("lifecycle: mark-transferred step failed, retrying next cycle")
			return
		}
		sess = updated
		return
	}

	// ARCHIVED_TRANSFERRED but still indexed: finish the last step.
	w.timedRemoveFromIndex(sess)
}

func (w *Worker) timedArchive(sess session.Session, now time.Time) (session.Session, error) {
	start := time.Now()
	out, err := w.store.Archive(sess, now)
	log.Debug().Str("session_id", sess.SessionID).Dur("elapsed", time.Since(start)).Msg("lifecycle: archive step")
	return out, err
}

func (w *Worker) timedSummarise(ctx context.Context, sess session.Session, collection string) summary.Outcome {
	start := time.Now()
	outcome := w.summariser.Summarise(ctx, sess, collection)
	log.Debug().Str("session_id", sess.SessionID).Dur("elapsed", time.Since(start)).Bool("ok", outcome.Ok).Msg("lifecycle: summarise step")
	return outcome
}

func (w *Worker) timedRemoveFromIndex(sess session.Session) {
	start := time.Now()
	removed := w.store.RemoveFromIndex(sess)
	log.Debug().Str("session_id", sess.SessionID).Dur("elapsed", time.Since(start)).Bool("removed", removed).Msg("lifecycle: remove-from-index step")
}

func (w *Worker) timedMarkTransferred(sess session.Session) (session.Session, error) {
	start := time.Now()
	out, err := w.store.MarkTransferred(sess)
	log.Debug().Str("session_id", sess.SessionID).Dur("elapsed", time.Since(start)).Msg("lifecycle: mark-transferred step")
	return out, err
}
