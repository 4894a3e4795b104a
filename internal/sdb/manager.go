package sdb

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ctagard/sdb-dap/internal/errors"
)

// Session is a runtime registered with a Manager
type Session struct {
	ID        string
	Runtime   *Runtime
	CreatedAt time.Time
}

// SessionInfo is the listing view of a Session
type SessionInfo struct {
	SessionID string    `json:"sessionId"`
	State     string    `json:"state"`
	Address   string    `json:"address,omitempty"`
	Program   string    `json:"program,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Info returns the listing view of the session
func (s *Session) Info() SessionInfo {
	return SessionInfo{
		SessionID: s.ID,
		State:     s.Runtime.State().String(),
		Address:   s.Runtime.HostPort(),
		Program:   s.Runtime.Program(),
		CreatedAt: s.CreatedAt,
	}
}

// Manager owns concurrent runtimes. Sessions beyond maxSessions are refused
// and, when sessionTimeout is positive, sessions older than it are closed.
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex

	opts           Options
	maxSessions    int
	sessionTimeout time.Duration
	logger         *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates a manager whose runtimes use opts
func NewManager(opts Options, maxSessions int, sessionTimeout time.Duration) *Manager {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		sessions:       make(map[string]*Session),
		opts:           opts,
		maxSessions:    maxSessions,
		sessionTimeout: sessionTimeout,
		logger:         opts.Logger,
		ctx:            ctx,
		cancel:         cancel,
	}

	if sessionTimeout > 0 {
		go m.cleanupLoop(cleanupInterval(sessionTimeout))
	}

	return m
}

func cleanupInterval(timeout time.Duration) time.Duration {
	interval := time.Minute
	if half := timeout / 2; half < interval {
		interval = half
	}
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	return interval
}

// cleanupLoop periodically closes expired sessions
func (m *Manager) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.cleanupExpiredSessions()
		}
	}
}

func (m *Manager) cleanupExpiredSessions() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for id, session := range m.sessions {
		if now.Sub(session.CreatedAt) > m.sessionTimeout {
			m.logger.Info("Session expired", "session_id", id)
			m.terminateLocked(id)
		}
	}
}

// Create registers a new idle runtime
func (m *Manager) Create() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) >= m.maxSessions {
		return nil, errors.SessionLimitReached(m.maxSessions)
	}

	id := uuid.New().String()
	opts := m.opts
	opts.Logger = m.logger.With("session_id", id)

	session := &Session{
		ID:        id,
		Runtime:   NewRuntime(opts),
		CreatedAt: time.Now(),
	}
	m.sessions[id] = session
	return session, nil
}

// Get retrieves a session by ID
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, errors.SessionNotFound(id)
	}
	return session, nil
}

// List returns all sessions, oldest first
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions
}

// Terminate closes a session's runtime and forgets it
func (m *Manager) Terminate(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return errors.SessionNotFound(id)
	}
	m.terminateLocked(id)
	return nil
}

// terminateLocked closes a session (must be called with lock held)
func (m *Manager) terminateLocked(id string) {
	session, ok := m.sessions[id]
	if !ok {
		return
	}
	if err := session.Runtime.Close(); err != nil {
		m.logger.Warn("Failed to close runtime", "session_id", id, "error", err)
	}
	delete(m.sessions, id)
}

// Close shuts down the manager and all sessions
func (m *Manager) Close() {
	m.cancel()

	m.mu.Lock()
	defer m.mu.Unlock()

	for id := range m.sessions {
		m.terminateLocked(id)
	}
}
