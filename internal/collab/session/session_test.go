package session

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neboloop/nebo/internal/collaberr"
)

func hostAgent() AgentInfo {
	return NewAgentInfo("openai", "gpt-4o")
}

func TestSessionLifecycleFSM(t *testing.T) {
	s := New("s1", "planning", DefaultConfig(), hostAgent())
	require.Equal(t, StateInitializing, s.State())

	require.NoError(t, s.Start())
	require.Equal(t, StateActive, s.State())
	require.True(t, s.IsActive())

	require.NoError(t, s.Pause())
	require.Equal(t, StatePaused, s.State())
	require.False(t, s.IsActive())

	require.NoError(t, s.Resume())
	require.Equal(t, StateActive, s.State())

	require.NoError(t, s.Complete())
	require.Equal(t, StateCompleted, s.State())

	err := s.Start()
	require.Error(t, err)
	assert.True(t, collaberr.Is(err, collaberr.InvalidState))
}

func TestSessionTerminateAlwaysAllowed(t *testing.T) {
	s := New("s1", "x", DefaultConfig(), hostAgent())
	s.Terminate()
	assert.Equal(t, StateTerminated, s.State())

	// terminating an already-terminal session is a no-op, not an error
	s.Terminate()
	assert.Equal(t, StateTerminated, s.State())
}

func TestAddParticipantCapacity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxParticipants = 2
	s := New("s1", "x", cfg, hostAgent())

	require.NoError(t, s.AddParticipant(NewAgentInfo("anthropic", "claude"), StandardAgentPermissions()))

	err := s.AddParticipant(NewAgentInfo("gemini", "gemini-pro"), StandardAgentPermissions())
	require.Error(t, err)
	assert.True(t, collaberr.Is(err, collaberr.SessionLimitReached))
}

func TestAddParticipantNoUpsert(t *testing.T) {
	s := New("s1", "x", DefaultConfig(), hostAgent())
	agent := NewAgentInfo("anthropic", "claude")

	require.NoError(t, s.AddParticipant(agent, StandardAgentPermissions()))
	err := s.AddParticipant(agent, StandardAgentPermissions())
	require.Error(t, err)
	assert.True(t, collaberr.Is(err, collaberr.AgentUnavailable))
}

func TestRemoveParticipantProtectsHost(t *testing.T) {
	s := New("s1", "x", DefaultConfig(), hostAgent())
	err := s.RemoveParticipant(s.HostID)
	require.Error(t, err)
	assert.True(t, collaberr.Is(err, collaberr.PermissionDenied))
}

func TestAddedParticipantIsNeverHost(t *testing.T) {
	s := New("s1", "x", DefaultConfig(), hostAgent())
	agent := NewAgentInfo("anthropic", "claude")
	require.NoError(t, s.AddParticipant(agent, StandardAgentPermissions()))

	p, ok := s.Participant(agent.ID)
	require.True(t, ok)
	assert.False(t, p.IsHost)
}

func TestHasPermission(t *testing.T) {
	s := New("s1", "x", DefaultConfig(), hostAgent())
	assert.True(t, s.HasPermission(s.HostID, PermRemoveParticipants))

	agent := NewAgentInfo("anthropic", "claude")
	require.NoError(t, s.AddParticipant(agent, StandardAgentPermissions()))
	assert.True(t, s.HasPermission(agent.ID, PermSendMessages))
	assert.False(t, s.HasPermission(agent.ID, PermRemoveParticipants))
	assert.False(t, s.HasPermission("missing", PermSendMessages))
}

func TestMessageLogCapAndEviction(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MessageHistoryLimit = 3
	s := New("s1", "x", cfg, hostAgent())

	for i := 0; i < 5; i++ {
		s.AddMessage(ChatMessage(s.ID, s.HostID, "msg"))
	}

	assert.Equal(t, 3, s.MessageCount())
	msgs := s.Messages()
	require.Len(t, msgs, 3)
}

func TestContextMap(t *testing.T) {
	s := New("s1", "x", DefaultConfig(), hostAgent())
	_, ok := s.GetContext("topic")
	assert.False(t, ok)

	s.SetContext("topic", "refactor auth")
	v, ok := s.GetContext("topic")
	require.True(t, ok)
	assert.Equal(t, "refactor auth", v)
}

func TestSessionJSONRoundTrip(t *testing.T) {
	s := New("s1", "planning", DefaultConfig(), hostAgent())
	require.NoError(t, s.Start())
	s.AddMessage(ChatMessage(s.ID, s.HostID, "hello"))
	s.SetContext("k", "v")

	data, err := json.Marshal(s)
	require.NoError(t, err)

	var s2 Session
	require.NoError(t, json.Unmarshal(data, &s2))

	assert.Equal(t, s.ID, s2.ID)
	assert.Equal(t, s.State(), s2.State())
	assert.Equal(t, s.Messages(), s2.Messages())
	v, ok := s2.GetContext("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestManagerCreateCapacityAndPersistence(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(1, dir)

	s, err := m.Create("solo", DefaultConfig(), hostAgent())
	require.NoError(t, err)
	require.NotEmpty(t, s.ID)

	_, err = m.Create("second", DefaultConfig(), hostAgent())
	require.Error(t, err)
	assert.True(t, collaberr.Is(err, collaberr.SessionLimitReached))

	m2 := NewManager(1, dir)
	require.NoError(t, m2.Load())
	assert.Equal(t, 1, m2.Count())
	got, ok := m2.Get(s.ID)
	require.True(t, ok)
	assert.Equal(t, "solo", got.Name)
}

func TestManagerLoadMissingFileIsNotAnError(t *testing.T) {
	m := NewManager(10, t.TempDir())
	require.NoError(t, m.Load())
	assert.Equal(t, 0, m.Count())
}

func TestSessionsWithAgent(t *testing.T) {
	m := NewManager(10, "")
	agent := NewAgentInfo("anthropic", "claude")

	s1, err := m.Create("a", DefaultConfig(), hostAgent())
	require.NoError(t, err)
	require.NoError(t, s1.AddParticipant(agent, StandardAgentPermissions()))

	_, err = m.Create("b", DefaultConfig(), hostAgent())
	require.NoError(t, err)

	found := m.SessionsWithAgent(agent.ID)
	require.Len(t, found, 1)
	assert.Equal(t, s1.ID, found[0].ID)
}
