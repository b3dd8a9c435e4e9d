package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neboloop/nebo/internal/collab/provider"
	"github.com/neboloop/nebo/internal/collab/session"
)

// fakeAdapter is a minimal provider.Adapter double that echoes a fixed
// response, for exercising the orchestrator without real network calls.
type fakeAdapter struct {
	id       string
	model    string
	response string
	err      error
}

func (f *fakeAdapter) ProviderID() string                    { return f.id }
func (f *fakeAdapter) DisplayName() string                   { return f.id }
func (f *fakeAdapter) DefaultModel() string                  { return f.model }
func (f *fakeAdapter) AvailableModels() []provider.ModelInfo  { return nil }
func (f *fakeAdapter) Capabilities() provider.Capabilities    { return provider.Capabilities{} }
func (f *fakeAdapter) Status() provider.Status                { return provider.StatusConnected }

func (f *fakeAdapter) Chat(ctx context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &provider.ChatResponse{
		ID: "resp", Provider: f.id, Model: f.model, Content: f.response,
		Role: provider.RoleAssistant, FinishReason: provider.FinishStop,
	}, nil
}

func (f *fakeAdapter) ChatStream(ctx context.Context, req *provider.ChatRequest) (<-chan provider.StreamChunk, error) {
	ch := make(chan provider.StreamChunk, 1)
	ch <- provider.StreamChunk{Delta: f.response, IsFinal: true}
	close(ch)
	return ch, nil
}

func newOrchestrator() (*Orchestrator, *provider.Router) {
	r := provider.NewRouter()
	r.Register(&fakeAdapter{id: "openai", model: "gpt-4o", response: "host reply"})
	r.Register(&fakeAdapter{id: "anthropic", model: "claude", response: "claude reply"})
	sm := session.NewManager(10, "")
	return New(r, sm), r
}

func TestCreateJoinStartSession(t *testing.T) {
	o, _ := newOrchestrator()

	s, err := o.CreateSession("design review", "openai", session.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, session.StateInitializing, s.State())

	require.NoError(t, o.JoinSession(s.ID, "anthropic"))
	require.NoError(t, o.StartSession(s.ID))
	assert.True(t, s.IsActive())
}

func TestSendMessageRequiresActiveSessionAndPermission(t *testing.T) {
	o, _ := newOrchestrator()
	s, err := o.CreateSession("x", "openai", session.DefaultConfig())
	require.NoError(t, err)

	err = o.SendMessage(s, s.HostID, "hi")
	require.Error(t, err) // not active yet

	require.NoError(t, o.StartSession(s.ID))
	require.NoError(t, o.SendMessage(s, s.HostID, "hi"))
	assert.Equal(t, 1, s.MessageCount())
}

func TestBroadcastToAgentsPartialSuccess(t *testing.T) {
	o, r := newOrchestrator()
	r.Register(&fakeAdapter{id: "broken", model: "m", err: assertErr{}})

	s, err := o.CreateSession("x", "openai", session.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, o.JoinSession(s.ID, "anthropic"))
	broken := session.NewAgentInfo("broken", "m")
	require.NoError(t, s.AddParticipant(broken, session.StandardAgentPermissions()))
	require.NoError(t, o.StartSession(s.ID))

	results := o.BroadcastToAgents(context.Background(), s, s.HostID, "what do you think?")
	require.Len(t, results, 2) // anthropic succeeds, broken fails

	var successes int
	for _, r := range results {
		if r.Err == nil {
			successes++
		}
	}
	assert.Equal(t, 1, successes)
}

func TestRequestAnalysisAppendsRequestAndResponse(t *testing.T) {
	o, _ := newOrchestrator()
	s, err := o.CreateSession("x", "openai", session.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, o.StartSession(s.ID))

	_, err = o.RequestAnalysis(context.Background(), s, s.HostID, "anthropic", session.RequestPayload{
		RequestType: "code_review", Description: "review this diff",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, s.MessageCount())
}

func TestGetSessionSummary(t *testing.T) {
	o, _ := newOrchestrator()
	s, err := o.CreateSession("x", "openai", session.DefaultConfig())
	require.NoError(t, err)

	summary, err := o.GetSessionSummary(s.ID)
	require.NoError(t, err)
	assert.Equal(t, "x", summary.Name)
	require.Len(t, summary.Participants, 1)
	assert.True(t, summary.Participants[0].IsHost)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
