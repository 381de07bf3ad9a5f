package storage

import (
	"encoding/json"
	"fmt"

	"github.com/ivi39c/speaka-sub000/internal/core/auth"
	"github.com/ivi39c/speaka-sub000/internal/core/observability/log"
)

// Stable key names; renaming any of them needs a migration.
const (
	KeyProfile     = "lineProfile"
	KeyAccessToken = "lineAccessToken"
	KeyAppState    = "speaka_state"
)

// IsIdentityKey reports whether key is one of the two keys that together
// define the logged-in state.
func IsIdentityKey(key string) bool {
	return key == KeyProfile || key == KeyAccessToken
}

// Store is the typed view over a Backend. Reads never fail: corrupt or
// unreadable values are logged and reported as absent.
type Store struct {
	backend Backend
	logger  log.Log
}

var _ auth.CredentialWriter = (*Store)(nil)

// NewStore wraps backend.
func NewStore(backend Backend, logger log.Log) *Store {
	return &Store{
		backend: backend,
		logger:  logger.With(log.String("component", "store")),
	}
}

// Backend exposes the wrapped backend.
func (s *Store) Backend() Backend { return s.backend }

// GetProfile returns the stored identity, or nil when absent or unparsable.
func (s *Store) GetProfile() *auth.Identity {
	raw, ok := s.read(KeyProfile)
	if !ok {
		return nil
	}
	var rec auth.Identity
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		s.logger.Warn("Stored profile is not valid JSON, treating as absent",
			log.String("key", KeyProfile), log.Error(err))
		return nil
	}
	if !rec.Valid() {
		s.logger.Warn("Stored profile has no user id, treating as absent",
			log.String("key", KeyProfile), log.Error(ErrInvalidValue))
		return nil
	}
	return &rec
}

func (s *Store) SetProfile(rec auth.Identity) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	return s.backend.Set(KeyProfile, string(b))
}

// GetToken returns the access token. An empty stored string counts as absent.
func (s *Store) GetToken() (string, bool) {
	tok, ok := s.read(KeyAccessToken)
	if !ok || tok == "" {
		return "", false
	}
	return tok, true
}

func (s *Store) SetToken(token string) error {
	return s.backend.Set(KeyAccessToken, token)
}

// IsLoggedIn is true only when both the profile and the token are present.
func (s *Store) IsLoggedIn() bool {
	return s.Snapshot().LoggedIn
}

// Snapshot reads the identity pair. One half without the other is reported
// as anonymous.
func (s *Store) Snapshot() auth.Snapshot {
	rec := s.GetProfile()
	if rec == nil {
		return auth.Anonymous()
	}
	if _, ok := s.GetToken(); !ok {
		return auth.Anonymous()
	}
	return auth.Authenticated(*rec)
}

// Clear removes the profile and the token. The profile goes first so any
// reader flips to anonymous on the first removal.
func (s *Store) Clear() {
	for _, key := range []string{KeyProfile, KeyAccessToken} {
		if err := s.backend.Remove(key); err != nil {
			s.logger.Error("Failed to remove key", log.String("key", key), log.Error(err))
		}
	}
}

// LoadAppState decodes the persisted application-state subset into v.
func (s *Store) LoadAppState(v any) bool {
	raw, ok := s.read(KeyAppState)
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		s.logger.Warn("Stored app state is not valid JSON, ignoring",
			log.String("key", KeyAppState), log.Error(err))
		return false
	}
	return true
}

// SaveAppState persists v under KeyAppState. Failures are logged.
func (s *Store) SaveAppState(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("Failed to encode app state", log.Error(err))
		return
	}
	if err := s.backend.Set(KeyAppState, string(b)); err != nil {
		s.logger.Error("Failed to persist app state", log.Error(err))
	}
}

func (s *Store) ClearAppState() {
	if err := s.backend.Remove(KeyAppState); err != nil {
		s.logger.Error("Failed to remove key", log.String("key", KeyAppState), log.Error(err))
	}
}

func (s *Store) read(key string) (string, bool) {
	v, ok, err := s.backend.Get(key)
	if err != nil {
		s.logger.Warn("Failed to read key, treating as absent", log.String("key", key), log.Error(err))
		return "", false
	}
	return v, ok
}
