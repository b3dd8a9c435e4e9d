package routing

import (
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/neboloop/nebo/internal/collaberr"
)

// Profile is a specialist agent's routing metadata: the domains it claims,
// per-domain expertise, and its current load.
type Profile struct {
	AgentID    string                 `json:"agent_id"`
	Provider   string                 `json:"provider"`
	Model      string                 `json:"model"`
	Specialty  []TaskDomain           `json:"specialty"`
	Expertise  map[TaskDomain]float64 `json:"expertise"`
	Load       float64                `json:"load"`
	Available  bool                   `json:"available"`
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// expertiseFor returns Expertise[domain], defaulting to 0.5 when unset, per
// §3.
func (p Profile) expertiseFor(domain TaskDomain) float64 {
	if v, ok := p.Expertise[domain]; ok {
		return clamp01(v)
	}
	return 0.5
}

// EffectiveScore computes expertise penalized by current load:
// max(0, expertise - 0.3*load), per §4.7. Always in [0, 1].
func (p Profile) EffectiveScore(domain TaskDomain) float64 {
	score := p.expertiseFor(domain) - 0.3*clamp01(p.Load)
	if score < 0 {
		score = 0
	}
	return clamp01(score)
}

// Strategy selects among available specialist profiles.
type Strategy string

const (
	BestMatch   Strategy = "best_match"
	LeastLoaded Strategy = "least_loaded"
	RoundRobin  Strategy = "round_robin"
	Random      Strategy = "random"
)

// Alternative is a runner-up returned alongside the primary selection.
type Alternative struct {
	AgentID string  `json:"agent_id"`
	Score   float64 `json:"score"`
}

// Selection is the outcome of a routing decision.
type Selection struct {
	AgentID      string        `json:"agent_id"`
	Score        float64       `json:"score"`
	Alternatives []Alternative `json:"alternatives"`
}

// Router is the specialist registry: a set of Profiles plus the cursor
// RoundRobin needs to advance across calls.
type Router struct {
	mu       sync.Mutex
	profiles map[string]*Profile
	cursor   int
}

func NewRouter() *Router {
	return &Router{profiles: make(map[string]*Profile)}
}

// Register adds or replaces a specialist profile.
func (r *Router) Register(p Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := p
	r.profiles[p.AgentID] = &cp
}

// UpdateLoad sets a profile's current load, clamped to [0, 1].
func (r *Router) UpdateLoad(agentID string, load float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.profiles[agentID]; ok {
		p.Load = clamp01(load)
	}
}

// SetAvailable toggles a profile's availability flag.
func (r *Router) SetAvailable(agentID string, available bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.profiles[agentID]; ok {
		p.Available = available
	}
}

// Get returns a copy of the named profile.
func (r *Router) Get(agentID string) (Profile, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[agentID]
	if !ok {
		return Profile{}, false
	}
	return *p, true
}

func (r *Router) availableLocked() []*Profile {
	out := make([]*Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		if p.Available {
			out = append(out, p)
		}
	}
	// deterministic iteration order for RoundRobin/alternatives, by agent id
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// Select routes a task in domain using strategy across the registered
// available profiles. Fails with AgentUnavailable when none are available.
func (r *Router) Select(domain TaskDomain, strategy Strategy) (Selection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	available := r.availableLocked()
	if len(available) == 0 {
		return Selection{}, collaberr.New(collaberr.AgentUnavailable, "no specialist profiles are available")
	}

	switch strategy {
	case LeastLoaded:
		return r.selectLeastLoaded(available, domain), nil
	case RoundRobin:
		return r.selectRoundRobin(available), nil
	case Random:
		return r.selectRandom(available), nil
	default: // BestMatch
		return r.selectBestMatch(available, domain), nil
	}
}

// scoredProfile pairs a profile with its effective score for a domain.
type scoredProfile struct {
	p     *Profile
	score float64
}

func (r *Router) selectBestMatch(available []*Profile, domain TaskDomain) Selection {
	scoredList := make([]scoredProfile, len(available))
	for i, p := range available {
		scoredList[i] = scoredProfile{p, p.EffectiveScore(domain)}
	}
	sort.SliceStable(scoredList, func(i, j int) bool { return scoredList[i].score > scoredList[j].score })

	return Selection{
		AgentID:      scoredList[0].p.AgentID,
		Score:        scoredList[0].score,
		Alternatives: alternativesFromScored(scoredList, 1),
	}
}

func (r *Router) selectLeastLoaded(available []*Profile, domain TaskDomain) Selection {
	sorted := append([]*Profile(nil), available...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Load < sorted[j].Load })

	alts := make([]Alternative, 0, 3)
	for _, p := range sorted[1:] {
		if len(alts) >= 3 {
			break
		}
		alts = append(alts, Alternative{AgentID: p.AgentID, Score: p.EffectiveScore(domain)})
	}
	return Selection{
		AgentID:      sorted[0].AgentID,
		Score:        sorted[0].EffectiveScore(domain),
		Alternatives: alts,
	}
}

// selectRoundRobin increments the cursor before indexing, matching the
// original's off-by-one: the first selection after a Router is constructed
// skips index 0 (§9 open question — callers that lock exact selection
// order must account for this).
func (r *Router) selectRoundRobin(available []*Profile) Selection {
	r.cursor = (r.cursor + 1) % len(available)
	selected := available[r.cursor]

	alts := make([]Alternative, 0, len(available)-1)
	for i, p := range available {
		if i == r.cursor {
			continue
		}
		alts = append(alts, Alternative{AgentID: p.AgentID, Score: p.Load})
	}
	return Selection{AgentID: selected.AgentID, Score: selected.Load, Alternatives: alts}
}

// selectRandom picks an index from a nanosecond-timestamp-seeded hash mod
// N, per §4.7.
func (r *Router) selectRandom(available []*Profile) Selection {
	h := fnv.New64a()
	var buf [8]byte
	ts := uint64(time.Now().UnixNano())
	for i := 0; i < 8; i++ {
		buf[i] = byte(ts >> (8 * i))
	}
	h.Write(buf[:])
	idx := int(h.Sum64() % uint64(len(available)))

	selected := available[idx]
	alts := make([]Alternative, 0, len(available)-1)
	for i, p := range available {
		if i == idx {
			continue
		}
		alts = append(alts, Alternative{AgentID: p.AgentID, Score: p.Load})
	}
	return Selection{AgentID: selected.AgentID, Score: selected.Load, Alternatives: alts}
}

func alternativesFromScored(scoredList []scoredProfile, start int) []Alternative {
	alts := make([]Alternative, 0, 3)
	for i := start; i < len(scoredList) && len(alts) < 3; i++ {
		alts = append(alts, Alternative{AgentID: scoredList[i].p.AgentID, Score: scoredList[i].score})
	}
	return alts
}
