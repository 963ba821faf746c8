// Package auth persists the single shared secret that clients present to the
// dictation server.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

const (
	tokenBytes = 32
	dirPerm    = 0o700
	filePerm   = 0o600
)

// TokenStore owns the on-disk token file.
type TokenStore struct {
	path string
	log  zerolog.Logger
}

// NewTokenStore returns a store for the token at path.
func NewTokenStore(path string, log zerolog.Logger) *TokenStore {
	return &TokenStore{
		path: path,
		log:  log.With().Str("component", "auth").Logger(),
	}
}

// Path returns the token file location.
func (s *TokenStore) Path() string { return s.path }

// LoadOrCreate returns the persisted token, generating and writing a fresh one
// when the file is missing or blank. An existing non-blank token is never
// replaced.
func (s *TokenStore) LoadOrCreate() (string, error) {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return "", fmt.Errorf("create token dir: %w", err)
	}
	s.chmodQuietly(dir, dirPerm)

	token, err := s.read()
	if err != nil {
		return "", err
	}

	if token == "" {
		token, err = GenerateToken()
		if err != nil {
			return "", err
		}
		if err := s.write(token); err != nil {
			return "", err
		}
		s.log.Info().Str("path", s.path).Msg("generated new auth token")
	}

	s.chmodQuietly(s.path, filePerm)
	return token, nil
}

func (s *TokenStore) read() (string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// write replaces the token file atomically: the token goes to a 0600 temp
// file in the same directory which is then renamed over the target.
func (s *TokenStore) write(token string) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".asr-token-*")
	if err != nil {
		return fmt.Errorf("create temp token file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op after a successful rename

	if err := tmp.Chmod(filePerm); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp token file: %w", err)
	}
	if _, err := tmp.WriteString(token + "\n"); err != nil {
		tmp.Close()
		return fmt.Errorf("write token: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync token: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close token file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("install token file: %w", err)
	}
	return nil
}

func (s *TokenStore) chmodQuietly(path string, mode os.FileMode) {
	if err := os.Chmod(path, mode); err != nil {
		s.log.Debug().Err(err).Str("path", path).Msg("could not set permissions")
	}
}

// GenerateToken returns 32 random bytes encoded as unpadded URL-safe base64.
func GenerateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Equal reports whether candidate matches want. Empty values never match.
// The comparison does not short-circuit on the first differing byte.
func Equal(candidate, want string) bool {
	if candidate == "" || want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(want)) == 1
}
