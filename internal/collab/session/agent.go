package session

// AgentStatus is the coarse availability state of a participant's backing
// agent.
type AgentStatus string

const (
	AgentAvailable AgentStatus = "available"
	AgentBusy      AgentStatus = "busy"
	AgentOffline   AgentStatus = "offline"
)

// AgentInfo identifies the provider/model pair backing a participant.
type AgentInfo struct {
	ID       string      `json:"id"`
	Provider string      `json:"provider"`
	Model    string      `json:"model"`
	Status   AgentStatus `json:"status"`
}

// NewAgentInfo builds an AgentInfo with an id derived from provider+model,
// matching the donor's "provider/model" composite identifier convention.
func NewAgentInfo(provider, model string) AgentInfo {
	return AgentInfo{
		ID:       provider + "/" + model,
		Provider: provider,
		Model:    model,
		Status:   AgentAvailable,
	}
}

func (a *AgentInfo) UpdateStatus(status AgentStatus) {
	a.Status = status
}

func (a AgentInfo) IsAvailable() bool {
	return a.Status == AgentAvailable
}
