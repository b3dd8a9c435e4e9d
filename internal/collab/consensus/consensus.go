// Package consensus implements the proposal/voting engine (C6): proposal
// lifecycle, weighted vote tallying under four strategies, and deadline
// expiry.
package consensus

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/neboloop/nebo/internal/collaberr"
)

// State is a proposal's lifecycle state.
type State string

const (
	StatePending  State = "pending"
	StateVoting   State = "voting"
	StateApproved State = "approved"
	StateRejected State = "rejected"
	StateExpired  State = "expired"
)

// Strategy selects how cast votes are tallied into an approve/reject
// decision.
type Strategy string

const (
	Unanimous        Strategy = "unanimous"
	Majority         Strategy = "majority"
	SuperMajority    Strategy = "super_majority"
	WeightedMajority Strategy = "weighted_majority"
)

// Choice is a single vote's position.
type Choice string

const (
	Approve Choice = "approve"
	Reject  Choice = "reject"
	Abstain Choice = "abstain"
)

// Vote is one agent's position on a Proposal. Weight clamps to [0, 10].
type Vote struct {
	VoterID   string    `json:"voter_id"`
	Choice    Choice    `json:"choice"`
	Weight    float64   `json:"weight"`
	Reasoning string    `json:"reasoning,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func clampWeight(w float64) float64 {
	if w < 0 {
		return 0
	}
	if w > 10 {
		return 10
	}
	return w
}

// Result is the outcome of tallying a proposal's cast votes under its
// strategy.
type Result struct {
	Approved      bool    `json:"approved"`
	ApprovalRatio float64 `json:"approval_ratio"`
	ApproveWeight float64 `json:"approve_weight"`
	RejectWeight  float64 `json:"reject_weight"`
	AbstainCount  int     `json:"abstain_count"`
}

// Proposal is a single consensus round within a session.
type Proposal struct {
	mu sync.RWMutex

	ID             string              `json:"id"`
	SessionID      string              `json:"session_id"`
	ProposerID     string              `json:"proposer_id"`
	Title          string              `json:"title"`
	Description    string              `json:"description"`
	state          State
	Strategy       Strategy            `json:"strategy"`
	RequiredVoters map[string]struct{} `json:"-"`
	votes          map[string]Vote
	CreatedAt      time.Time  `json:"created_at"`
	Deadline       *time.Time `json:"deadline,omitempty"`
}

// New builds a Pending proposal. requiredVoters may be empty, meaning any
// agent may cast a vote and the proposal never auto-finalizes purely by
// vote coverage (§9 open question).
func New(id, sessionID, proposerID, title, description string, strategy Strategy, requiredVoters []string, deadline *time.Time) *Proposal {
	req := make(map[string]struct{}, len(requiredVoters))
	for _, v := range requiredVoters {
		req[v] = struct{}{}
	}
	return &Proposal{
		ID:             id,
		SessionID:      sessionID,
		ProposerID:     proposerID,
		Title:          title,
		Description:    description,
		state:          StatePending,
		Strategy:       strategy,
		RequiredVoters: req,
		votes:          make(map[string]Vote),
		CreatedAt:      time.Now(),
		Deadline:       deadline,
	}
}

// State returns the current lifecycle state.
func (p *Proposal) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Votes returns a snapshot of every vote cast so far, keyed by voter id.
func (p *Proposal) Votes() map[string]Vote {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]Vote, len(p.votes))
	for k, v := range p.votes {
		out[k] = v
	}
	return out
}

// StartVoting moves Pending -> Voting.
func (p *Proposal) StartVoting() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StatePending {
		return collaberr.New(collaberr.InvalidState, "proposal must be pending to start voting")
	}
	p.state = StateVoting
	return nil
}

// hasAllRequiredVotesLocked reports whether every required voter has cast a
// vote. An empty RequiredVoters set never counts as "all received"
// (§9 open question): finalization then requires an explicit
// FinalizeVoting call or deadline expiry.
func (p *Proposal) hasAllRequiredVotesLocked() bool {
	if len(p.RequiredVoters) == 0 {
		return false
	}
	for voter := range p.RequiredVoters {
		if _, voted := p.votes[voter]; !voted {
			return false
		}
	}
	return true
}

// AllVotesReceived reports whether every required voter has cast a vote.
func (p *Proposal) AllVotesReceived() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasAllRequiredVotesLocked()
}

// CastVote records v against the proposal. Only legal in Voting state;
// rejects a second vote from the same voter, and rejects a voter outside
// RequiredVoters when that set is non-empty. Automatically finalizes when
// the cast vote completes full coverage of RequiredVoters.
func (p *Proposal) CastVote(v Vote) error {
	p.mu.Lock()

	if p.state != StateVoting {
		p.mu.Unlock()
		return collaberr.New(collaberr.InvalidState, "votes are only accepted while voting is open")
	}
	if _, already := p.votes[v.VoterID]; already {
		p.mu.Unlock()
		return collaberr.New(collaberr.PermissionDenied, "voter has already cast a vote on this proposal")
	}
	if len(p.RequiredVoters) > 0 {
		if _, required := p.RequiredVoters[v.VoterID]; !required {
			p.mu.Unlock()
			return collaberr.New(collaberr.PermissionDenied, "voter is not a required voter for this proposal")
		}
	}

	v.Weight = clampWeight(v.Weight)
	if v.Timestamp.IsZero() {
		v.Timestamp = time.Now().UTC().Round(0)
	}
	p.votes[v.VoterID] = v

	finalize := p.hasAllRequiredVotesLocked()
	p.mu.Unlock()

	if finalize {
		return p.FinalizeVoting()
	}
	return nil
}

// CheckExpiration moves a Voting proposal past its deadline to Expired.
// No-op otherwise.
func (p *Proposal) CheckExpiration() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateVoting || p.Deadline == nil {
		return
	}
	if time.Now().After(*p.Deadline) {
		p.state = StateExpired
	}
}

// calculateResultLocked implements §4.6's threshold table.
func (p *Proposal) calculateResultLocked() Result {
	var approveWeight, rejectWeight float64
	var abstainCount int
	var anyReject bool

	for _, v := range p.votes {
		switch v.Choice {
		case Approve:
			approveWeight += v.Weight
		case Reject:
			rejectWeight += v.Weight
			anyReject = true
		case Abstain:
			abstainCount++
		}
	}

	totalWeight := approveWeight + rejectWeight
	var ratio float64
	if totalWeight > 0 {
		ratio = approveWeight / totalWeight
	}

	var approved bool
	switch p.Strategy {
	case Unanimous:
		approved = !anyReject
	case Majority, WeightedMajority:
		approved = ratio > 0.5
	case SuperMajority:
		approved = ratio > 0.67
	}

	return Result{
		Approved:      approved,
		ApprovalRatio: ratio,
		ApproveWeight: approveWeight,
		RejectWeight:  rejectWeight,
		AbstainCount:  abstainCount,
	}
}

// CalculateResult tallies the votes cast so far without changing state.
func (p *Proposal) CalculateResult() Result {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.calculateResultLocked()
}

// FinalizeVoting computes the result and sets Approved or Rejected.
func (p *Proposal) FinalizeVoting() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateVoting {
		return collaberr.New(collaberr.InvalidState, "proposal is not in voting")
	}

	result := p.calculateResultLocked()
	if result.Approved {
		p.state = StateApproved
	} else {
		p.state = StateRejected
	}
	return nil
}

// proposalSnapshot is the JSON wire shape; see Session's identical
// rationale for flattening the lock out of the serialized form.
type proposalSnapshot struct {
	ID             string          `json:"id"`
	SessionID      string          `json:"session_id"`
	ProposerID     string          `json:"proposer_id"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	State          State           `json:"state"`
	Strategy       Strategy        `json:"strategy"`
	RequiredVoters []string        `json:"required_voters"`
	Votes          map[string]Vote `json:"votes"`
	CreatedAt      time.Time       `json:"created_at"`
	Deadline       *time.Time      `json:"deadline,omitempty"`
}

func (p *Proposal) MarshalJSON() ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	required := make([]string, 0, len(p.RequiredVoters))
	for v := range p.RequiredVoters {
		required = append(required, v)
	}
	votes := make(map[string]Vote, len(p.votes))
	for k, v := range p.votes {
		votes[k] = v
	}
	return json.Marshal(proposalSnapshot{
		ID:             p.ID,
		SessionID:      p.SessionID,
		ProposerID:     p.ProposerID,
		Title:          p.Title,
		Description:    p.Description,
		State:          p.state,
		Strategy:       p.Strategy,
		RequiredVoters: required,
		Votes:          votes,
		CreatedAt:      p.CreatedAt,
		Deadline:       p.Deadline,
	})
}

func (p *Proposal) UnmarshalJSON(data []byte) error {
	var snap proposalSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.ID = snap.ID
	p.SessionID = snap.SessionID
	p.ProposerID = snap.ProposerID
	p.Title = snap.Title
	p.Description = snap.Description
	p.state = snap.State
	p.Strategy = snap.Strategy
	p.CreatedAt = snap.CreatedAt
	p.Deadline = snap.Deadline

	p.RequiredVoters = make(map[string]struct{}, len(snap.RequiredVoters))
	for _, v := range snap.RequiredVoters {
		p.RequiredVoters[v] = struct{}{}
	}
	p.votes = snap.Votes
	if p.votes == nil {
		p.votes = make(map[string]Vote)
	}
	return nil
}
