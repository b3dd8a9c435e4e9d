package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/neboloop/nebo/internal/collaberr"
	"github.com/neboloop/nebo/internal/logging"
)

const snapshotVersion = 1

// sessionsFile is the well-known name spec.md §6 gives the session
// directory snapshot.
const sessionsFile = "sessions.json"

// manifest is the on-disk shape of sessions.json.
type manifest struct {
	Version  int                 `json:"version"`
	Sessions map[string]*Session `json:"sessions"`
}

// Manager is the session directory (C5): an in-memory map of session id to
// Session, capped at MaxSessions, mirrored to a durable snapshot on every
// create/remove. Load is tolerant of a missing file.
type Manager struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	maxSessions int
	storageDir  string
}

// NewManager builds a Manager rooted at storageDir. storageDir may be
// empty, in which case persistence is skipped entirely (useful for tests).
func NewManager(maxSessions int, storageDir string) *Manager {
	return &Manager{
		sessions:    make(map[string]*Session),
		maxSessions: maxSessions,
		storageDir:  storageDir,
	}
}

// Create builds a new session with a fresh id and registers it, failing
// with SessionLimitReached at capacity.
func (m *Manager) Create(name string, cfg Config, host AgentInfo) (*Session, error) {
	m.mu.Lock()
	if m.maxSessions > 0 && len(m.sessions) >= m.maxSessions {
		m.mu.Unlock()
		return nil, collaberr.New(collaberr.SessionLimitReached, "session manager is at max_sessions capacity")
	}
	s := New(uuid.NewString(), name, cfg, host)
	m.sessions[s.ID] = s
	m.mu.Unlock()

	if err := m.persist(); err != nil {
		logging.Warnf("session manager: snapshot persist failed after create: %v", err)
	}
	return s, nil
}

// Get returns the session with the given id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Remove deletes a session from the directory.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	if _, ok := m.sessions[id]; !ok {
		m.mu.Unlock()
		return collaberr.New(collaberr.SessionNotFound, "no such session")
	}
	delete(m.sessions, id)
	m.mu.Unlock()

	if err := m.persist(); err != nil {
		logging.Warnf("session manager: snapshot persist failed after remove: %v", err)
	}
	return nil
}

// List returns every session currently held, in no particular order.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Count reports how many sessions are currently held.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// SessionsWithAgent returns every session where agentID currently
// participates. Carried over from the original's
// `sessions_with_agent` (SPEC_FULL.md §C.3).
func (m *Manager) SessionsWithAgent(agentID string) []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Session
	for _, s := range m.sessions {
		if _, ok := s.Participant(agentID); ok {
			out = append(out, s)
		}
	}
	return out
}

func (m *Manager) snapshotPath() string {
	return filepath.Join(m.storageDir, sessionsFile)
}

// persist writes the full session directory to sessions.json. Failure is
// logged but never undoes the in-memory mutation that triggered it
// (§7: "persistence failure does not undo the in-memory mutation").
func (m *Manager) persist() error {
	if m.storageDir == "" {
		return nil
	}

	m.mu.RLock()
	snap := manifest{Version: snapshotVersion, Sessions: make(map[string]*Session, len(m.sessions))}
	for id, s := range m.sessions {
		snap.Sessions[id] = s
	}
	m.mu.RUnlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(m.storageDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(m.snapshotPath(), data, 0o644)
}

// Load reads sessions.json into the directory. A missing file is treated
// as empty state, not an error.
func (m *Manager) Load() error {
	if m.storageDir == "" {
		return nil
	}

	data, err := os.ReadFile(m.snapshotPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var snap manifest
	if err := json.Unmarshal(data, &snap); err != nil {
		return collaberr.Wrap(collaberr.InvalidResponse, "sessions.json is corrupt", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = make(map[string]*Session, len(snap.Sessions))
	for id, s := range snap.Sessions {
		m.sessions[id] = s
	}
	return nil
}
