package attrsession

import (
	"encoding/json"
	"maps"
	"sync"
)

// Session is the in-memory state of one user session for the duration of a request.
// Its ID is fixed once assigned. Manager.Regenerate is the only operation that
// moves a Session to a new ID.
type Session struct {
	mu        sync.Mutex
	id        string
	values    map[string]any
	modified  bool
	permanent bool
}

func newSession(id string, values map[string]any, permanent bool) *Session {
	if values == nil {
		values = make(map[string]any)
	}
	return &Session{
		id:        id,
		values:    values,
		permanent: permanent,
	}
}

// ID returns the raw (unsigned) session identifier.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Get returns the value stored under key.
func (s *Session) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// GetString returns the value under key when it is a string.
func (s *Session) GetString(key string) (string, bool) {
	v, ok := s.Get(key)
	if !ok {
		return "", false
	}
	str, ok := v.(string)
	return str, ok
}

// GetInt64 returns the value under key as an int64. Decoded payloads hold
// numbers as json.Number; values set during the request may be any Go integer.
func (s *Session) GetInt64(key string) (int64, bool) {
	v, ok := s.Get(key)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case int:
		return int64(n), true
	case int64:
		return n, true
	case int32:
		return int64(n), true
	default:
		return 0, false
	}
}

// Set stores a value and marks the session as modified.
func (s *Session) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	s.modified = true
}

// Delete removes a key and marks the session as modified.
func (s *Session) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	s.modified = true
}

// Clear drops every value. A cleared session deletes its stored record on save.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.values)
	s.modified = true
}

// Len returns the number of stored keys.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.values)
}

// IsEmpty reports whether the payload holds no keys.
func (s *Session) IsEmpty() bool {
	return s.Len() == 0
}

// Values returns a copy of the payload.
func (s *Session) Values() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.values)
}

// Modified reports whether the payload changed since the session was opened.
func (s *Session) Modified() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modified
}

// Permanent reports whether the session outlives the browser session.
func (s *Session) Permanent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.permanent
}

// SetPermanent toggles permanence and marks the session as modified.
func (s *Session) SetPermanent(permanent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.permanent = permanent
	s.modified = true
}

// snapshot returns the fields Save needs under a single lock. The payload is
// copied so encoding can run while handlers keep mutating the session.
func (s *Session) snapshot() (id string, values map[string]any, modified, permanent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id, maps.Clone(s.values), s.modified, s.permanent
}

func (s *Session) setID(id string) {
	s.mu.Lock()
	s.id = id
	s.mu.Unlock()
}

func (s *Session) markSaved() {
	s.mu.Lock()
	s.modified = false
	s.mu.Unlock()
}
