// Package orchestrator implements the collaboration hub orchestrator
// (C8): it wires the provider router (C2) and session manager (C5)
// together to drive session creation, broadcast, and analysis requests.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/neboloop/nebo/internal/collab/provider"
	"github.com/neboloop/nebo/internal/collab/session"
	"github.com/neboloop/nebo/internal/collaberr"
	"github.com/neboloop/nebo/internal/logging"
)

// Orchestrator composes a provider Router and a session Manager.
type Orchestrator struct {
	router   *provider.Router
	sessions *session.Manager
}

// New builds an Orchestrator over an existing router and session manager.
func New(router *provider.Router, sessions *session.Manager) *Orchestrator {
	return &Orchestrator{router: router, sessions: sessions}
}

// CreateSession registers a host AgentInfo from hostProviderID's adapter
// and opens a new session around it.
func (o *Orchestrator) CreateSession(name, hostProviderID string, cfg session.Config) (*session.Session, error) {
	adapter, ok := o.router.Get(hostProviderID)
	if !ok {
		return nil, collaberr.New(collaberr.AgentNotFound, "no adapter registered for provider "+hostProviderID)
	}
	host := session.NewAgentInfo(adapter.ProviderID(), adapter.DefaultModel())
	return o.sessions.Create(name, cfg, host)
}

// JoinSession adds a standard-agent participant backed by providerID's
// adapter.
func (o *Orchestrator) JoinSession(sessionID, providerID string) error {
	adapter, ok := o.router.Get(providerID)
	if !ok {
		return collaberr.New(collaberr.AgentNotFound, "no adapter registered for provider "+providerID)
	}
	s, ok := o.sessions.Get(sessionID)
	if !ok {
		return collaberr.New(collaberr.SessionNotFound, "no such session")
	}
	agent := session.NewAgentInfo(adapter.ProviderID(), adapter.DefaultModel())
	return s.AddParticipant(agent, session.StandardAgentPermissions())
}

// StartSession moves a session from Initializing to Active.
func (o *Orchestrator) StartSession(sessionID string) error {
	s, ok := o.sessions.Get(sessionID)
	if !ok {
		return collaberr.New(collaberr.SessionNotFound, "no such session")
	}
	return s.Start()
}

// SendMessage appends a plain-text message from sender, enforcing
// SendMessages permission and session activity.
func (o *Orchestrator) SendMessage(s *session.Session, senderID, text string) error {
	if !s.IsActive() {
		return collaberr.New(collaberr.InvalidState, "session is not active")
	}
	if !s.HasPermission(senderID, session.PermSendMessages) {
		return collaberr.New(collaberr.PermissionDenied, "sender lacks SendMessages permission")
	}
	s.AddMessage(session.ChatMessage(s.ID, senderID, text))
	return nil
}

// buildContext renders the plain-text block passed as a single user turn
// to broadcast/analysis recipients: session name, participant count, the
// last 10 messages (text content only) in forward order, and the new
// message.
func buildContext(s *session.Session, newMessage string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session: %s\n", s.Name)
	fmt.Fprintf(&b, "Participants: %d\n\n", len(s.Participants()))

	recent := s.RecentMessages(10) // most-recent-first
	for i := len(recent) - 1; i >= 0; i-- {
		m := recent[i]
		if m.Content.Kind != session.ContentText {
			continue
		}
		fmt.Fprintf(&b, "[%s]: %s\n", m.SenderID, m.Content.Text)
	}

	b.WriteString("\n")
	b.WriteString(newMessage)
	return b.String()
}

// BroadcastResult is one participant's outcome from BroadcastToAgents.
type BroadcastResult struct {
	AgentID  string
	Response *provider.ChatResponse
	Err      error
}

// BroadcastToAgents issues a chat request in parallel to every available
// participant other than sender whose provider has a registered adapter.
// Failures are logged, not propagated (partial success semantics); every
// successful response is appended to the session log. Responses are
// appended in completion order, not participant-list order.
func (o *Orchestrator) BroadcastToAgents(ctx context.Context, s *session.Session, senderID, text string) []BroadcastResult {
	contextBlock := buildContext(s, text)
	participants := s.Participants()

	var targets []session.Participant
	for id, p := range participants {
		if id == senderID || !p.Agent.IsAvailable() {
			continue
		}
		if _, ok := o.router.Get(p.Agent.Provider); !ok {
			continue
		}
		targets = append(targets, p)
	}

	results := make(chan BroadcastResult, len(targets))
	var wg sync.WaitGroup
	for _, p := range targets {
		wg.Add(1)
		go func(p session.Participant) {
			defer wg.Done()
			adapter, _ := o.router.Get(p.Agent.Provider)
			resp, err := adapter.Chat(ctx, &provider.ChatRequest{
				Messages: []provider.Message{provider.TextMessage(provider.RoleUser, contextBlock)},
				Model:    p.Agent.Model,
			})
			if err != nil {
				logging.Warnf("broadcast to %s failed: %v", p.Agent.ID, err)
			}
			results <- BroadcastResult{AgentID: p.Agent.ID, Response: resp, Err: err}
		}(p)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var out []BroadcastResult
	for r := range results {
		out = append(out, r)
		if r.Err == nil && r.Response != nil {
			s.AddMessage(session.ChatMessage(s.ID, r.AgentID, r.Response.Content))
		}
	}
	return out
}

// analysisPromptTemplate renders a RequestPayload into a canonical prompt
// for the target adapter.
func analysisPromptTemplate(req session.RequestPayload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analysis request: %s\n\n%s", req.RequestType, req.Description)
	if len(req.Parameters) > 0 {
		b.WriteString("\n\nParameters:\n")
		for k, v := range req.Parameters {
			fmt.Fprintf(&b, "- %s: %v\n", k, v)
		}
	}
	return b.String()
}

// RequestAnalysis emits a Request message, invokes targetProviderID's
// adapter with the canonical prompt, and appends the Response message.
// Adapter errors propagate unchanged.
func (o *Orchestrator) RequestAnalysis(ctx context.Context, s *session.Session, requesterID, targetProviderID string, req session.RequestPayload) (*session.CollabMessage, error) {
	adapter, ok := o.router.Get(targetProviderID)
	if !ok {
		return nil, collaberr.New(collaberr.AgentNotFound, "no adapter registered for provider "+targetProviderID)
	}

	reqMsg := session.RequestMessage(s.ID, requesterID, req)
	s.AddMessage(reqMsg)

	resp, err := adapter.Chat(ctx, &provider.ChatRequest{
		Messages: []provider.Message{provider.TextMessage(provider.RoleUser, analysisPromptTemplate(req))},
		Model:    adapter.DefaultModel(),
	})
	if err != nil {
		return nil, err
	}

	respMsg := session.ResponseMessage(s.ID, adapter.ProviderID(), reqMsg.ID, session.SuccessResponse(resp.Content))
	s.AddMessage(respMsg)
	return &respMsg, nil
}

// ParticipantSummary is a read-only view of one participant, carried over
// from the original's session summary views (SPEC_FULL.md §C.4).
type ParticipantSummary struct {
	AgentID      string `json:"agent_id"`
	IsHost       bool   `json:"is_host"`
	MessageCount int    `json:"message_count"`
}

// SessionSummary is a read-only snapshot of a session's shape, carried
// over from the original's `get_session_summary` (SPEC_FULL.md §C.4).
type SessionSummary struct {
	ID           string               `json:"id"`
	Name         string               `json:"name"`
	State        session.State        `json:"state"`
	CreatedAt    string               `json:"created_at"`
	Participants []ParticipantSummary `json:"participants"`
}

// GetSessionSummary builds a SessionSummary for sessionID.
func (o *Orchestrator) GetSessionSummary(sessionID string) (SessionSummary, error) {
	s, ok := o.sessions.Get(sessionID)
	if !ok {
		return SessionSummary{}, collaberr.New(collaberr.SessionNotFound, "no such session")
	}

	parts := s.Participants()
	summary := SessionSummary{
		ID:        s.ID,
		Name:      s.Name,
		State:     s.State(),
		CreatedAt: s.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	for id, p := range parts {
		summary.Participants = append(summary.Participants, ParticipantSummary{
			AgentID:      id,
			IsHost:       p.IsHost,
			MessageCount: len(s.MessagesFrom(id)),
		})
	}
	return summary, nil
}

// ListActiveSessions returns summaries of every session currently Active,
// carried over from the original's `list_active_sessions`
// (SPEC_FULL.md §C.4).
func (o *Orchestrator) ListActiveSessions() []SessionSummary {
	var out []SessionSummary
	for _, s := range o.sessions.List() {
		if !s.IsActive() {
			continue
		}
		summary, err := o.GetSessionSummary(s.ID)
		if err != nil {
			continue
		}
		out = append(out, summary)
	}
	return out
}
