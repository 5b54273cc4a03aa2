// Package session implements the SessionStore component (spec.md §4.2): the
// durable, indexed conversation repository owning Session and Message
// entities, their on-disk layout, token-budgeted pruning, expiration
// detection, and archival.
package session

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/denidin/internal/clock"
	"github.com/local/denidin/internal/denerr"
)

// Turn is one entry of a conversation history as consumed by the
// HistoryAssembler: role plus content, nothing else.
type Turn struct {
	Role    Role
	Content string
}

// Store is the SessionStore. It owns all Session and Message entities and
// their on-disk representation; higher-level components only ever see
// Session/Message values returned from its methods.
type Store struct {
	root    string
	timeout time.Duration
	tok     Tokenizer
	clk     clock.Clock

	indexMu sync.RWMutex
	index   map[string]string // chat_id -> session_id, advisory per spec.md §5

	locks *lockTable
}

// NewStore creates a Store rooted at dir, loading the existing chat->session
// index from disk (the active-root scan described in spec.md §4.2).
func NewStore(dir string, timeout time.Duration, tok Tokenizer, clk clock.Clock) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, denerr.New(denerr.KindStorage, "session.NewStore", err)
	}
	s := &Store{
		root:    dir,
		timeout: timeout,
		tok:     tok,
		clk:     clk,
		index:   make(map[string]string),
		locks:   newLockTable(),
	}
	if err := s.loadIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) loadIndex() error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return denerr.New(denerr.KindStorage, "session.loadIndex", err)
	}
	for _, e := range entries {
		if !e.IsDir() || e.Name() == expiredDirName {
			continue
		}
		sess, err := loadSessionFile(filepath.Join(s.root, e.Name()))
		if err != nil {
			log.Error().Err(err).Str("session_dir", e.Name()).Msg("session: failed to load session during index rebuild, skipping")
			continue
		}
		s.indexMu.Lock()
		s.index[sess.ChatID] = sess.SessionID
		s.indexMu.Unlock()
	}
	return nil
}

// GetOrCreate returns the active session for chatID, creating one if none
// exists. Concurrent creations for the same chatID race-safely resolve to a
// single winner because the check-or-create section runs under the index's
// exclusive lock.
func (s *Store) GetOrCreate(chatID string) (Session, error) {
	s.indexMu.Lock()
	sessionID, ok := s.index[chatID]
	if ok {
		s.indexMu.Unlock()
		return s.loadByID(sessionID)
	}

	now := s.clk.Now()
	sess := Session{
		SessionID:      clock.NewID(),
		ChatID:         chatID,
		MessageIDs:     []string{},
		MessageCounter: 0,
		CreatedAt:      now,
		LastActive:     now,
		TotalTokens:    0,
	}
	if err := saveSessionFile(s.sessionDir(sess), sess); err != nil {
		s.indexMu.Unlock()
		return Session{}, err
	}
	s.index[chatID] = sess.SessionID
	s.indexMu.Unlock()

	log.Info().Str("session_id", sess.SessionID).Str("chat_id", chatID).Msg("session: created")
	return sess, nil
}

// loadByID loads a session by id from its active-root location. Used for
// sessions that are still indexed (GetOrCreate) — archived sessions are
// located via their StoragePath field, carried on the Session value itself.
func (s *Store) loadByID(sessionID string) (Session, error) {
	return loadSessionFile(filepath.Join(s.root, sessionID))
}

// sessionLock returns the per-session mutex for sessionID, serializing
// concurrent appends so message_counter increments and file writes stay
// atomic together (spec.md §5).
func (s *Store) sessionLock(sessionID string) *sync.Mutex {
	return s.locks.lockFor(sessionID)
}

// AppendMessage creates a message, persists it before updating the session
// metadata, increments message_counter, appends to message_ids, and updates
// last_active/total_tokens (spec.md §4.2).
func (s *Store) AppendMessage(chatID string, role Role, content, sender, recipient, attachment string) (string, error) {
	sess, err := s.GetOrCreate(chatID)
	if err != nil {
		return "", err
	}

	lock := s.sessionLock(sess.SessionID)
	lock.Lock()
	defer lock.Unlock()

	// Re-load under the lock: another goroutine may have appended since
	// GetOrCreate returned above.
	sess, err = s.reloadLocked(sess)
	if err != nil {
		return "", err
	}

	messageID, _, err := s.appendLocked(&sess, role, content, sender, recipient, attachment)
	if err != nil {
		return "", err
	}
	return messageID, nil
}

// reloadLocked re-reads a session's current on-disk state, honoring its
// StoragePath so the same method works for active and archived sessions.
func (s *Store) reloadLocked(sess Session) (Session, error) {
	return loadSessionFile(s.sessionDir(sess))
}

// appendLocked performs the actual write-message-then-save-session sequence.
// Caller must hold the session's lock.
func (s *Store) appendLocked(sess *Session, role Role, content, sender, recipient, attachment string) (string, int, error) {
	dir := s.sessionDir(*sess)
	msgDir := messagesDir(dir)

	sess.MessageCounter++
	now := s.clk.Now()
	msg := Message{
		MessageID:     clock.NewID(),
		SessionID:     sess.SessionID,
		Role:          role,
		Content:       content,
		Sender:        sender,
		Recipient:     recipient,
		CreatedAt:     now,
		SequenceNum:   sess.MessageCounter,
		AttachmentRef: attachment,
	}

	if err := writeMessageFile(msgDir, msg); err != nil {
		sess.MessageCounter--
		return "", 0, err
	}

	tokens := s.tok.Count(content)
	sess.MessageIDs = append(sess.MessageIDs, msg.MessageID)
	sess.LastActive = now
	sess.TotalTokens += tokens

	if err := saveSessionFile(dir, *sess); err != nil {
		return "", 0, err
	}

	return msg.MessageID, tokens, nil
}

// AppendWithTokenLimit counts the new message's tokens and, while
// total_tokens + new > roleLimit, evicts the oldest message until it fits,
// then appends. A roleLimit of zero fails with Forbidden and mutates
// nothing (spec.md §4.2, invariant 4 in spec.md §8).
func (s *Store) AppendWithTokenLimit(chatID string, role Role, content, sender, recipient string, roleLimit int) (string, error) {
	if roleLimit == 0 {
		return "", denerr.New(denerr.KindForbidden, "session.AppendWithTokenLimit", errZeroTokenLimit)
	}

	sess, err := s.GetOrCreate(chatID)
	if err != nil {
		return "", err
	}

	lock := s.sessionLock(sess.SessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err = s.reloadLocked(sess)
	if err != nil {
		return "", err
	}

	newTokens := s.tok.Count(content)
	if err := s.pruneUntilFitsLocked(&sess, roleLimit, newTokens); err != nil {
		return "", err
	}

	messageID, _, err := s.appendLocked(&sess, role, content, sender, recipient, "")
	if err != nil {
		return "", err
	}
	return messageID, nil
}

// pruneUntilFitsLocked evicts the oldest message (removing its file,
// subtracting its tokens) while total_tokens + newTokens would exceed
// roleLimit. Caller must hold the session's lock.
func (s *Store) pruneUntilFitsLocked(sess *Session, roleLimit, newTokens int) error {
	dir := s.sessionDir(*sess)
	msgDir := messagesDir(dir)

	for sess.TotalTokens+newTokens > roleLimit && len(sess.MessageIDs) > 0 {
		oldestID := sess.MessageIDs[0]
		msg, err := readMessageFile(msgDir, oldestID)
		if err != nil {
			// Missing message file: drop the dangling id and keep pruning,
			// per spec.md §4.2's "missing files during enumeration are
			// logged and skipped, not fatal".
			log.Error().Err(err).Str("message_id", oldestID).Msg("session: prune found missing message file, skipping")
			sess.MessageIDs = sess.MessageIDs[1:]
			continue
		}
		if err := removeMessageFile(msgDir, oldestID); err != nil {
			return err
		}
		sess.TotalTokens -= s.tok.Count(msg.Content)
		sess.MessageIDs = sess.MessageIDs[1:]
	}
	if sess.TotalTokens < 0 {
		sess.TotalTokens = 0
	}
	return saveSessionFile(dir, *sess)
}

// History returns the ordered turn sequence of the active session for
// chatID, read from disk on every call for correctness after restart
// (spec.md §4.2).
func (s *Store) History(chatID string) ([]Turn, error) {
	sess, err := s.GetOrCreate(chatID)
	if err != nil {
		return nil, err
	}
	return s.HistoryForSession(sess)
}

// HistoryForSession reads the turn sequence for an explicitly named
// session, active or archived, using its StoragePath. This is what the
// Summariser uses to locate a transcript that may already be archived.
func (s *Store) HistoryForSession(sess Session) ([]Turn, error) {
	dir := messagesDir(s.sessionDir(sess))
	turns := make([]Turn, 0, len(sess.MessageIDs))
	for _, id := range sess.MessageIDs {
		msg, err := readMessageFile(dir, id)
		if err != nil {
			if denerr.Is(err, denerr.KindNotFound) {
				log.Warn().Str("message_id", id).Str("session_id", sess.SessionID).Msg("session: message file missing, skipping")
				continue
			}
			return nil, err
		}
		turns = append(turns, Turn{Role: msg.Role, Content: msg.Content})
	}
	return turns, nil
}

// Clear wipes all messages of the active session and resets message_ids
// and total_tokens; message_counter is left as is, so it keeps counting
// every message ever added. The session itself remains (spec.md §4.2).
func (s *Store) Clear(chatID string) error {
	sess, err := s.GetOrCreate(chatID)
	if err != nil {
		return err
	}

	lock := s.sessionLock(sess.SessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err = s.reloadLocked(sess)
	if err != nil {
		return err
	}

	dir := s.sessionDir(sess)
	msgDir := messagesDir(dir)
	for _, id := range sess.MessageIDs {
		if err := removeMessageFile(msgDir, id); err != nil {
			return err
		}
	}
	sess.MessageIDs = []string{}
	sess.TotalTokens = 0
	if err := saveSessionFile(dir, sess); err != nil {
		return err
	}
	log.Info().Str("session_id", sess.SessionID).Msg("session: cleared")
	return nil
}

// RemoveFromIndex drops the chat -> session mapping; a subsequent
// GetOrCreate for that chat will mint a fresh session.
func (s *Store) RemoveFromIndex(sess Session) bool {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	if id, ok := s.index[sess.ChatID]; ok && id == sess.SessionID {
		delete(s.index, sess.ChatID)
		log.Info().Str("session_id", sess.SessionID).Str("chat_id", sess.ChatID).Msg("session: removed from index")
		return true
	}
	return false
}

// ReindexOrphan re-associates an already-loaded session with its chat_id in
// the in-memory index, without creating a new session_id. It is the
// re-indexing counterpart to RemoveFromIndex, used to recover a session
// file whose chat_id is missing from the index (spec.md §4.6: "if fresh,
// simply insert into the index") — unlike GetOrCreate, which mints a brand
// new session when the chat isn't indexed, abandoning sess's history.
func (s *Store) ReindexOrphan(sess Session) {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	s.index[sess.ChatID] = sess.SessionID
	log.Info().Str("session_id", sess.SessionID).Str("chat_id", sess.ChatID).Msg("session: re-indexed orphaned session")
}

// MarkTransferred sets transferred_to_longterm and persists it at the
// session's current (possibly archived) location.
func (s *Store) MarkTransferred(sess Session) (Session, error) {
	lock := s.sessionLock(sess.SessionID)
	lock.Lock()
	defer lock.Unlock()

	current, err := s.reloadLocked(sess)
	if err != nil {
		return Session{}, err
	}
	current.TransferredToLongterm = true
	if err := saveSessionFile(s.sessionDir(current), current); err != nil {
		return Session{}, err
	}
	return current, nil
}

// recomputeTokens fully recounts total_tokens from the messages currently
// present, used by tests to verify invariant 2 of spec.md §8.
func (s *Store) recomputeTokens(sess Session) (int, error) {
	dir := messagesDir(s.sessionDir(sess))
	total := 0
	for _, id := range sess.MessageIDs {
		msg, err := readMessageFile(dir, id)
		if err != nil {
			if denerr.Is(err, denerr.KindNotFound) {
				continue
			}
			return 0, err
		}
		total += s.tok.Count(msg.Content)
	}
	return total, nil
}

type sentinelErr string

func (e sentinelErr) Error() string { return string(e) }

const errZeroTokenLimit sentinelErr = "token limit exceeded: zero-token-limit role cannot add messages"
