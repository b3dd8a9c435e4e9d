// Package session implements the collaboration session state machine
// (C4), its message log (C3), and the durable session directory (C5).
package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/neboloop/nebo/internal/collaberr"
)

// State is one of the five session lifecycle states.
type State string

const (
	StateInitializing State = "initializing"
	StateActive       State = "active"
	StatePaused       State = "paused"
	StateCompleted    State = "completed"
	StateTerminated   State = "terminated"
)

// Config holds the tunables a session is created with.
type Config struct {
	SessionType               string `json:"session_type"`
	MaxParticipants           int    `json:"max_participants"`
	MessageHistoryLimit       int    `json:"message_history_limit"`
	RequirePermissionForTools bool   `json:"require_permission_for_tools"`
	AutoSummarize             bool   `json:"auto_summarize"`
	TimeoutMinutes            *int   `json:"timeout_minutes,omitempty"`
}

// DefaultConfig mirrors the donor's sensible defaults for an ad hoc session.
func DefaultConfig() Config {
	return Config{
		SessionType:         "collaboration",
		MaxParticipants:     8,
		MessageHistoryLimit: 200,
	}
}

// Participant is one agent's membership record in a Session.
type Participant struct {
	Agent       AgentInfo     `json:"agent"`
	Permissions PermissionSet `json:"permissions"`
	IsHost      bool          `json:"is_host"`
	JoinedAt    time.Time     `json:"joined_at"`
}

// Session is the collaboration session state machine: participants,
// permissions, a bounded message log, and a free-form context map.
// Every mutation is serialized by mu, matching the donor's pattern of a
// single exclusive lock guarding a session's full state (§5: "add_message
// is serialized by the session's exclusive lock").
type Session struct {
	mu sync.RWMutex

	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Config    Config    `json:"config"`
	state     State
	HostID    string    `json:"host_id"`
	CreatedAt time.Time `json:"created_at"`
	updatedAt time.Time

	participants map[string]*Participant
	log          *MessageLog
	context      map[string]any
}

// New creates a session in Initializing state with host as its sole,
// fully-permissioned participant.
func New(id, name string, cfg Config, host AgentInfo) *Session {
	now := time.Now()
	s := &Session{
		ID:           id,
		Name:         name,
		Config:       cfg,
		state:        StateInitializing,
		HostID:       host.ID,
		CreatedAt:    now,
		updatedAt:    now,
		participants: make(map[string]*Participant),
		log:          NewMessageLog(cfg.MessageHistoryLimit),
		context:      make(map[string]any),
	}
	s.participants[host.ID] = &Participant{
		Agent:       host,
		Permissions: SessionHostPermissions(),
		IsHost:      true,
		JoinedAt:    now,
	}
	return s
}

func (s *Session) touch() {
	s.updatedAt = time.Now()
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// UpdatedAt returns the last mutation timestamp.
func (s *Session) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// IsActive reports whether the session is in the Active state.
func (s *Session) IsActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StateActive
}

// allowedTransitions encodes the FSM edges in §4.4. Complete and Terminate
// are handled separately: Terminate is always legal from any non-terminal
// state.
var allowedTransitions = map[State]State{
	StateInitializing: StateActive, // start()
	StateActive:        StatePaused, // pause()
	StatePaused:        StateActive, // resume()
}

func (s *Session) transition(from, to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != from {
		return collaberr.New(collaberr.InvalidState,
			"cannot transition session from "+string(s.state)+" via this operation")
	}
	s.state = to
	s.touch()
	return nil
}

// Start moves Initializing -> Active.
func (s *Session) Start() error {
	return s.transition(StateInitializing, StateActive)
}

// Pause moves Active -> Paused.
func (s *Session) Pause() error {
	return s.transition(StateActive, StatePaused)
}

// Resume moves Paused -> Active.
func (s *Session) Resume() error {
	return s.transition(StatePaused, StateActive)
}

// Complete moves Active or Paused -> Completed.
func (s *Session) Complete() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateActive && s.state != StatePaused {
		return collaberr.New(collaberr.InvalidState, "session must be active or paused to complete")
	}
	s.state = StateCompleted
	s.touch()
	return nil
}

// Terminate is always allowed from a non-terminal state and is
// non-recoverable. Terminating an already-terminal session is a no-op.
func (s *Session) Terminate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateCompleted || s.state == StateTerminated {
		return
	}
	s.state = StateTerminated
	s.touch()
}

// AddParticipant adds agent with the given permissions as a non-host
// participant. Fails with SessionLimitReached at capacity, or
// AgentUnavailable if the agent is already a member (no upsert).
func (s *Session) AddParticipant(agent AgentInfo, perms PermissionSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Config.MaxParticipants > 0 && len(s.participants) >= s.Config.MaxParticipants {
		return collaberr.New(collaberr.SessionLimitReached, "session has reached max_participants")
	}
	if _, exists := s.participants[agent.ID]; exists {
		return collaberr.New(collaberr.AgentUnavailable, "agent already joined this session")
	}
	s.participants[agent.ID] = &Participant{
		Agent:       agent,
		Permissions: perms,
		IsHost:      false,
		JoinedAt:    time.Now(),
	}
	s.touch()
	return nil
}

// RemoveParticipant removes a participant. The host can never be removed,
// even by a caller holding PermRemoveParticipants.
func (s *Session) RemoveParticipant(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == s.HostID {
		return collaberr.New(collaberr.PermissionDenied, "the session host cannot be removed")
	}
	if _, ok := s.participants[id]; !ok {
		return collaberr.New(collaberr.AgentNotFound, "participant not found")
	}
	delete(s.participants, id)
	s.touch()
	return nil
}

// Participant returns the participant record for id, if present.
func (s *Session) Participant(id string) (Participant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[id]
	if !ok {
		return Participant{}, false
	}
	return *p, true
}

// Participants returns a snapshot of every participant, keyed by agent id.
func (s *Session) Participants() map[string]Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Participant, len(s.participants))
	for id, p := range s.participants {
		out[id] = *p
	}
	return out
}

// HasPermission reports whether agentID is a participant holding p.
func (s *Session) HasPermission(agentID string, p Permission) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	part, ok := s.participants[agentID]
	if !ok {
		return false
	}
	return part.Permissions.Has(p)
}

// AddMessage appends m to the message log, evicting the oldest entry on
// overflow, and touches updated_at.
func (s *Session) AddMessage(m CollabMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log.Append(m)
	s.touch()
}

// Messages returns every message currently retained, oldest first.
func (s *Session) Messages() []CollabMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.log.All()
}

// MessageCount reports how many messages are currently retained.
func (s *Session) MessageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.log.Len()
}

// RecentMessages returns up to n messages, most recent first. Carried over
// from the original's `recent_messages` (see SPEC_FULL.md §C.2).
func (s *Session) RecentMessages(n int) []CollabMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.log.Recent(n)
}

// MessagesFrom returns every message sent by agentID, in log order.
// Carried over from the original's `messages_from` (SPEC_FULL.md §C.2).
func (s *Session) MessagesFrom(agentID string) []CollabMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.log.From(agentID)
}

// SetContext stores value under key in the session's free-form context
// map and touches updated_at. Carried over from the original's
// `set_context`/`get_context` (SPEC_FULL.md §C.1).
func (s *Session) SetContext(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.context[key] = value
	s.touch()
}

// GetContext retrieves a previously set context value.
func (s *Session) GetContext(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.context[key]
	return v, ok
}

// sessionSnapshot is the wire shape persisted to sessions.json; Session's
// mutex and unexported fields are flattened into plain JSON-friendly
// fields here, and Session's MarshalJSON/UnmarshalJSON go through this
// type, so the lock itself is never serialized.
type sessionSnapshot struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	Config       Config                 `json:"config"`
	State        State                  `json:"state"`
	HostID       string                 `json:"host_id"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
	Participants map[string]Participant `json:"participants"`
	Messages     []CollabMessage        `json:"messages"`
	Context      map[string]any         `json:"context"`
}

func (s *Session) MarshalJSON() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	parts := make(map[string]Participant, len(s.participants))
	for id, p := range s.participants {
		parts[id] = *p
	}
	return json.Marshal(sessionSnapshot{
		ID:           s.ID,
		Name:         s.Name,
		Config:       s.Config,
		State:        s.state,
		HostID:       s.HostID,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.updatedAt,
		Participants: parts,
		Messages:     s.log.All(),
		Context:      s.context,
	})
}

func (s *Session) UnmarshalJSON(data []byte) error {
	var snap sessionSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.ID = snap.ID
	s.Name = snap.Name
	s.Config = snap.Config
	s.state = snap.State
	s.HostID = snap.HostID
	s.CreatedAt = snap.CreatedAt
	s.updatedAt = snap.UpdatedAt

	s.participants = make(map[string]*Participant, len(snap.Participants))
	for id, p := range snap.Participants {
		p := p
		s.participants[id] = &p
	}

	s.log = NewMessageLog(snap.Config.MessageHistoryLimit)
	for _, m := range snap.Messages {
		s.log.Append(m)
	}

	s.context = snap.Context
	if s.context == nil {
		s.context = make(map[string]any)
	}
	return nil
}
