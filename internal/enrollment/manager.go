package enrollment

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/face-attendance/internal/logger"
	"github.com/kozaktomas/face-attendance/internal/quality"
)

// ErrSessionNotFound is returned for unknown or expired session ids.
var ErrSessionNotFound = errors.New("enrollment session not found")

// SessionManager holds in-progress sessions by id.
type SessionManager struct {
	gate     quality.Gate
	cfg      SessionConfig
	log      *logger.Logger
	sessions map[string]*Session
	mu       sync.RWMutex
}

// NewSessionManager creates an empty manager.
func NewSessionManager(gate quality.Gate, cfg SessionConfig) *SessionManager {
	return &SessionManager{
		gate:     gate,
		cfg:      cfg,
		log:      logger.Default().Component("enrollment"),
		sessions: make(map[string]*Session),
	}
}

// SetLogger replaces the logger handed to new sessions.
func (m *SessionManager) SetLogger(l *logger.Logger) {
	if l != nil {
		m.log = l.Component("enrollment")
	}
}

// Start creates a session and begins capture in the given mode.
func (m *SessionManager) Start(mode Mode) (*Session, error) {
	s := NewSession(uuid.NewString(), m.gate, m.cfg)
	s.log = m.log
	if err := s.Begin(mode); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()
	return s, nil
}

// Get returns a session by id.
func (m *SessionManager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Remove drops a session and cancels its background checks.
func (m *SessionManager) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if ok {
		s.Close()
		delete(m.sessions, id)
	}
	return ok
}

// List returns a snapshot of every session, most recently updated first.
func (m *SessionManager) List() []Status {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	out := make([]Status, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

// Prune drops sessions idle for longer than maxAge. Returns how many were removed.
func (m *SessionManager) Prune(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, s := range m.sessions {
		if s.UpdatedAt().Before(cutoff) {
			s.Close()
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}
