package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/local/denidin/internal/denerr"
)

const (
	sessionFileName = "session.json"
	messagesDirName  = "messages"
	expiredDirName   = "expired"
)

// sessionDir resolves the on-disk directory for a session, honoring
// StoragePath when the session has been archived (spec.md §4.2).
func (s *Store) sessionDir(sess Session) string {
	if sess.StoragePath != "" {
		return filepath.Join(s.root, sess.StoragePath)
	}
	return filepath.Join(s.root, sess.SessionID)
}

func messagesDir(sessionDir string) string {
	return filepath.Join(sessionDir, messagesDirName)
}

// writeMessageFile persists a message before the owning session file is
// touched, so a crash mid-append never leaves a dangling message reference
// in the session (spec.md §4.2 write protocol).
func writeMessageFile(dir string, msg Message) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return denerr.New(denerr.KindStorage, "session.writeMessageFile.mkdir", err)
	}
	b, err := json.MarshalIndent(msg, "", "  ")
	if err != nil {
		return denerr.New(denerr.KindStorage, "session.writeMessageFile.marshal", err)
	}
	path := filepath.Join(dir, msg.MessageID+".json")
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return denerr.New(denerr.KindStorage, "session.writeMessageFile.write", err)
	}
	return nil
}

func readMessageFile(dir, messageID string) (Message, error) {
	path := filepath.Join(dir, messageID+".json")
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Message{}, denerr.New(denerr.KindNotFound, "session.readMessageFile", err)
		}
		return Message{}, denerr.New(denerr.KindStorage, "session.readMessageFile", err)
	}
	var msg Message
	if err := json.Unmarshal(b, &msg); err != nil {
		return Message{}, denerr.New(denerr.KindStorage, "session.readMessageFile.unmarshal", err)
	}
	return msg, nil
}

func removeMessageFile(dir, messageID string) error {
	path := filepath.Join(dir, messageID+".json")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return denerr.New(denerr.KindStorage, "session.removeMessageFile", err)
	}
	return nil
}

// saveSessionFile writes session.json atomically: a temp file in the same
// directory, then an os.Rename, so a crash leaves either the old or the new
// file, never a torn one (spec.md §4.2).
func saveSessionFile(dir string, sess Session) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return denerr.New(denerr.KindStorage, "session.saveSessionFile.mkdir", err)
	}
	b, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return denerr.New(denerr.KindStorage, "session.saveSessionFile.marshal", err)
	}
	final := filepath.Join(dir, sessionFileName)
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.tmp-%s", sessionFileName, sess.SessionID))
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return denerr.New(denerr.KindStorage, "session.saveSessionFile.write", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return denerr.New(denerr.KindStorage, "session.saveSessionFile.rename", err)
	}
	return nil
}

func loadSessionFile(dir string) (Session, error) {
	path := filepath.Join(dir, sessionFileName)
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Session{}, denerr.New(denerr.KindNotFound, "session.loadSessionFile", err)
		}
		return Session{}, denerr.New(denerr.KindStorage, "session.loadSessionFile", err)
	}
	var sess Session
	if err := json.Unmarshal(b, &sess); err != nil {
		return Session{}, denerr.New(denerr.KindStorage, "session.loadSessionFile.unmarshal", err)
	}
	return sess, nil
}
