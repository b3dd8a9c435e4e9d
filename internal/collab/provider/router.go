package provider

import (
	"context"
	"sync"

	"github.com/neboloop/nebo/internal/collaberr"
	"github.com/neboloop/nebo/internal/logging"
)

// Router holds a registry of adapters and provides default resolution and
// fallback chaining. Adapters fail independently; callers normally don't
// need to know which backend actually served a request unless they pinned
// one explicitly.
type Router struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	order    []string // registration order, for fallback iteration
	def      string
}

func NewRouter() *Router {
	return &Router{adapters: make(map[string]Adapter)}
}

// Register adds an adapter to the registry. The first adapter registered
// becomes the default unless SetDefault is called later.
func (r *Router) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := a.ProviderID()
	if _, exists := r.adapters[id]; !exists {
		r.order = append(r.order, id)
	}
	r.adapters[id] = a
	if r.def == "" {
		r.def = id
	}
}

func (r *Router) SetDefault(providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.def = providerID
}

func (r *Router) Get(providerID string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[providerID]
	return a, ok
}

// AllModels flattens model catalogs across all registered adapters.
func (r *Router) AllModels() []ModelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var all []ModelInfo
	for _, id := range r.order {
		all = append(all, r.adapters[id].AvailableModels()...)
	}
	return all
}

// ChatWithFallback tries the configured default adapter first, then walks
// the remaining adapters in registration order until one succeeds.
func (r *Router) ChatWithFallback(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	r.mu.RLock()
	def := r.def
	order := append([]string(nil), r.order...)
	r.mu.RUnlock()

	if def == "" {
		return nil, collaberr.New(collaberr.AgentUnavailable, "no providers registered")
	}

	tried := make(map[string]bool, len(order)+1)
	candidates := append([]string{def}, order...)

	var lastErr error
	for _, id := range candidates {
		if tried[id] {
			continue
		}
		tried[id] = true

		a, ok := r.Get(id)
		if !ok {
			continue
		}

		resp, err := a.Chat(ctx, req)
		if err == nil {
			return resp, nil
		}
		logging.Warnf("provider %s failed, trying next: %v", id, err)
		lastErr = err
	}

	if lastErr == nil {
		lastErr = collaberr.New(collaberr.AgentUnavailable, "no adapters available")
	}
	return nil, lastErr
}
