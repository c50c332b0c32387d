package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const fileFormatVersion = 1

// fileEntry is the on-disk document. Exactly one of Token or the seal
// fields is populated.
type fileEntry struct {
	V          int    `json:"v"`
	Name       string `json:"name"`
	Token      string `json:"token,omitempty"`
	Salt       []byte `json:"salt,omitempty"`
	Nonce      []byte `json:"nonce,omitempty"`
	Ciphertext []byte `json:"ciphertext,omitempty"`
}

// FileStore keeps the token in a single file with 0600 permissions.
//
// Writes go to a temporary file in the same directory, are fsynced, then
// renamed over the target, so a crash never leaves a half-written entry and
// a Load after Save always sees the new value.
type FileStore struct {
	path   string
	sealer *sealer

	mu sync.Mutex
}

// FileOption configures a FileStore.
type FileOption func(*FileStore) error

// WithPassphrase seals the token at rest with a key derived from passphrase.
func WithPassphrase(passphrase string, p SealParams) FileOption {
	return func(s *FileStore) error {
		sl, err := newSealer(passphrase, p)
		if err != nil {
			return err
		}
		s.sealer = sl
		return nil
	}
}

// NewFileStore returns a store persisting to dir/EntryName. The directory is
// created with 0700 permissions when missing.
func NewFileStore(dir string, opts ...FileOption) (*FileStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("credential: empty directory")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("credential: create dir: %w", err)
	}

	s := &FileStore{path: filepath.Join(dir, EntryName)}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("credential: %w", err)
		}
	}
	return s, nil
}

// Path returns the file backing the store.
func (s *FileStore) Path() string { return s.path }

// Load reads and (when sealed) decrypts the stored token.
func (s *FileStore) Load(ctx context.Context) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("credential: read: %w", err)
	}

	var e fileEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if e.V != fileFormatVersion || e.Name != EntryName {
		return "", false, fmt.Errorf("%w: unexpected header v=%d name=%q", ErrCorrupt, e.V, e.Name)
	}

	token := e.Token
	if len(e.Ciphertext) > 0 {
		if s.sealer == nil {
			return "", false, fmt.Errorf("%w: entry is sealed but no passphrase is configured", ErrCorrupt)
		}
		plain, err := s.sealer.open(e.Salt, e.Nonce, e.Ciphertext)
		if err != nil {
			return "", false, err
		}
		token = string(plain)
	}

	token, err = normalizeToken(token)
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return token, true, nil
}

// Save atomically replaces the stored token.
func (s *FileStore) Save(ctx context.Context, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	token, err := normalizeToken(token)
	if err != nil {
		return err
	}

	e := fileEntry{V: fileFormatVersion, Name: EntryName}
	if s.sealer != nil {
		e.Salt, e.Nonce, e.Ciphertext, err = s.sealer.seal([]byte(token))
		if err != nil {
			return fmt.Errorf("credential: seal: %w", err)
		}
	} else {
		e.Token = token
	}

	b, err := json.Marshal(e)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return writeFileAtomic(s.path, b)
}

// Clear removes the file. It ignores ctx so that logout always completes.
func (s *FileStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("credential: remove: %w", err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("credential: temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("credential: chmod: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("credential: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("credential: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("credential: close: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("credential: rename: %w", err)
	}
	return nil
}
