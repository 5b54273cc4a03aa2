package session

import (
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/denidin/internal/denerr"
)

// ExpiredActiveSessions returns every indexed session whose idle time has
// reached timeout, for the lifecycle worker's sweep (spec.md §4.6 step 1).
func (s *Store) ExpiredActiveSessions(now time.Time) ([]Session, error) {
	s.indexMu.RLock()
	ids := make([]string, 0, len(s.index))
	for _, id := range s.index {
		ids = append(ids, id)
	}
	s.indexMu.RUnlock()

	var expired []Session
	for _, id := range ids {
		sess, err := loadSessionFile(filepath.Join(s.root, id))
		if err != nil {
			if denerr.Is(err, denerr.KindNotFound) {
				log.Warn().Str("session_id", id).Msg("session: indexed session missing on disk, skipping")
				continue
			}
			return nil, err
		}
		if sess.IsExpired(now, s.timeout) {
			expired = append(expired, sess)
		}
	}
	return expired, nil
}

// Archive moves a session's directory under root/expired/<YYYY-MM-DD>/ and
// records the new location in StoragePath, so later steps of the lifecycle
// protocol can find it even after RemoveFromIndex drops the chat mapping
// (spec.md §4.2, §4.6 step 1). Archiving an already-archived session is a
// no-op and returns the session unchanged, so the step is safe to retry.
func (s *Store) Archive(sess Session, now time.Time) (Session, error) {
	if sess.StoragePath != "" {
		return sess, nil
	}

	lock := s.sessionLock(sess.SessionID)
	lock.Lock()
	defer lock.Unlock()

	current, err := loadSessionFile(filepath.Join(s.root, sess.SessionID))
	if err != nil {
		if denerr.Is(err, denerr.KindNotFound) {
			// Already moved by a prior, interrupted attempt; find it under
			// today's or a recent date directory is not reliable, so treat
			// the caller's view as authoritative if it already carries a
			// StoragePath, otherwise this is a genuine loss.
			return Session{}, denerr.New(denerr.KindNotFound, "session.Archive", err)
		}
		return Session{}, err
	}
	if current.StoragePath != "" {
		return current, nil
	}

	dateDir := now.UTC().Format("2006-01-02")
	rel := filepath.Join(expiredDirName, dateDir, current.SessionID)
	dst := filepath.Join(s.root, rel)
	src := filepath.Join(s.root, current.SessionID)

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return Session{}, denerr.New(denerr.KindStorage, "session.Archive.mkdir", err)
	}
	if err := os.Rename(src, dst); err != nil {
		return Session{}, denerr.New(denerr.KindStorage, "session.Archive.rename", err)
	}

	current.StoragePath = rel
	if err := saveSessionFile(dst, current); err != nil {
		return Session{}, err
	}

	log.Info().Str("session_id", current.SessionID).Str("storage_path", rel).Msg("session: archived")
	return current, nil
}

// UntransferredArchivedSessions walks root/expired for sessions whose
// transferred_to_longterm flag is still false, the set the lifecycle worker
// must summarise and remember (spec.md §4.6 step 2).
func (s *Store) UntransferredArchivedSessions() ([]Session, error) {
	base := filepath.Join(s.root, expiredDirName)
	entries, err := os.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, denerr.New(denerr.KindStorage, "session.UntransferredArchivedSessions", err)
	}

	var out []Session
	for _, dateEntry := range entries {
		if !dateEntry.IsDir() {
			continue
		}
		dateDir := filepath.Join(base, dateEntry.Name())
		sessEntries, err := os.ReadDir(dateDir)
		if err != nil {
			log.Error().Err(err).Str("dir", dateDir).Msg("session: failed to read archive date directory, skipping")
			continue
		}
		for _, se := range sessEntries {
			if !se.IsDir() {
				continue
			}
			sess, err := loadSessionFile(filepath.Join(dateDir, se.Name()))
			if err != nil {
				log.Error().Err(err).Str("session_dir", se.Name()).Msg("session: failed to load archived session, skipping")
				continue
			}
			if !sess.TransferredToLongterm {
				out = append(out, sess)
			}
		}
	}
	return out, nil
}

// SessionsNeedingCleanup returns every archived session the lifecycle
// worker still has work to do on (spec.md §4.6 steps 2-4): sessions
// archived but not yet summarised (a crash between steps 1 and 2 leaves
// these behind), plus sessions already transferred but still present in
// the chat index (a crash between steps 3 and 4).
func (s *Store) SessionsNeedingCleanup() ([]Session, error) {
	untransferred, err := s.UntransferredArchivedSessions()
	if err != nil {
		return nil, err
	}
	transferredButIndexed := make([]Session, 0)

	base := filepath.Join(s.root, expiredDirName)
	entries, err := os.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, denerr.New(denerr.KindStorage, "session.SessionsNeedingCleanup", err)
	}
	for _, dateEntry := range entries {
		if !dateEntry.IsDir() {
			continue
		}
		dateDir := filepath.Join(base, dateEntry.Name())
		sessEntries, err := os.ReadDir(dateDir)
		if err != nil {
			continue
		}
		for _, se := range sessEntries {
			if !se.IsDir() {
				continue
			}
			sess, err := loadSessionFile(filepath.Join(dateDir, se.Name()))
			if err != nil {
				continue
			}
			if !sess.TransferredToLongterm {
				continue
			}
			s.indexMu.RLock()
			id, indexed := s.index[sess.ChatID]
			s.indexMu.RUnlock()
			if indexed && id == sess.SessionID {
				transferredButIndexed = append(transferredButIndexed, sess)
			}
		}
	}
	return append(untransferred, transferredButIndexed...), nil
}

// OrphanSessions enumerates every active session directory under root whose
// chat_id is not indexed to that session, plus every archived session not
// yet transferred (whether or not it is indexed), the recovery sweep run
// once at startup per Design Notes §9 to repair a crash that left index
// state stale relative to disk.
func (s *Store) OrphanSessions() ([]Session, error) {
	var out []Session

	activeEntries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, denerr.New(denerr.KindStorage, "session.OrphanSessions", err)
	}
	for _, e := range activeEntries {
		if !e.IsDir() || e.Name() == expiredDirName {
			continue
		}
		sess, err := loadSessionFile(filepath.Join(s.root, e.Name()))
		if err != nil {
			continue
		}
		s.indexMu.RLock()
		id, ok := s.index[sess.ChatID]
		s.indexMu.RUnlock()
		if !ok || id != sess.SessionID {
			out = append(out, sess)
		}
	}

	archived, err := s.UntransferredArchivedSessions()
	if err != nil {
		return nil, err
	}
	out = append(out, archived...)

	if len(out) > 0 {
		log.Warn().Int("count", len(out)).Msg("session: orphan sessions found during startup recovery")
	}
	return out, nil
}
