package provider

import (
	"context"

	"github.com/neboloop/nebo/internal/collaberr"
)

// Adapter is the contract every provider kind implements: one instance per
// provider, translating the uniform chat/streaming contract into that
// provider's wire dialect.
type Adapter interface {
	ProviderID() string
	DisplayName() string
	DefaultModel() string
	AvailableModels() []ModelInfo
	Capabilities() Capabilities
	Status() Status

	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	// ChatStream returns a channel of StreamChunk. The channel is closed
	// after a chunk with IsFinal=true is sent, or when the upstream closes,
	// or when ctx is cancelled (in which case no further chunks are sent
	// and the stream is simply abandoned — no undo of anything already
	// emitted).
	ChatStream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error)
}

// httpStatusError maps an HTTP status code to the taxonomy in
// collaberr, matching §4.1's HTTP mapping table.
func httpStatusError(status int, body string) error {
	switch status {
	case 401, 403:
		return collaberr.New(collaberr.AuthenticationFailed, "provider rejected credentials")
	case 429:
		return collaberr.RateLimitedErr(60)
	default:
		return collaberr.RequestFailedErr(status, body)
	}
}
