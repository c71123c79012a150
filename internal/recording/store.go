package recording

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/fernet/fernet-go"
)

var validID = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Store writes recordings to a directory, one file per session.
type Store struct {
	dir string
	key *fernet.Key
}

// NewStore creates the directory if needed. When key is non-empty it must be
// a base64 fernet key; recordings are then encrypted at rest.
func NewStore(dir, key string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create recording dir: %w", err)
	}
	s := &Store{dir: dir}
	if key != "" {
		k, err := fernet.DecodeKey(key)
		if err != nil {
			return nil, fmt.Errorf("decode recording key: %w", err)
		}
		s.key = k
	}
	return s, nil
}

// Encrypted reports whether recordings are encrypted.
func (s *Store) Encrypted() bool {
	return s.key != nil
}

func (s *Store) path(sessionID string) (string, error) {
	if !validID.MatchString(sessionID) {
		return "", fmt.Errorf("invalid session id %q", sessionID)
	}
	return filepath.Join(s.dir, sessionID+".json"), nil
}

// Save writes rec under the session ID and returns the file path.
func (s *Store) Save(sessionID string, rec *Recording) (string, error) {
	p, err := s.path(sessionID)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encode recording: %w", err)
	}
	if s.key != nil {
		data, err = fernet.EncryptAndSign(data, s.key)
		if err != nil {
			return "", fmt.Errorf("encrypt recording: %w", err)
		}
	}
	if err := os.WriteFile(p, data, 0o600); err != nil {
		return "", fmt.Errorf("write recording: %w", err)
	}
	return p, nil
}

// Load reads a stored recording back.
func (s *Store) Load(sessionID string) ([]Entry, error) {
	p, err := s.path(sessionID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read recording: %w", err)
	}
	if s.key != nil {
		data = fernet.VerifyAndDecrypt(data, 0*time.Second, []*fernet.Key{s.key})
		if data == nil {
			return nil, fmt.Errorf("decrypt recording: invalid token")
		}
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode recording: %w", err)
	}
	return entries, nil
}
