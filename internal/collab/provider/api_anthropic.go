package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/neboloop/nebo/internal/collaberr"
)

const (
	anthropicAPIURL     = "https://api.anthropic.com/v1/messages"
	anthropicAPIVersion = "2023-06-01"
	anthropicDefaultMax = 8192
)

var debugAnthropic = os.Getenv("NEBO_COLLAB_DEBUG") != ""

func logAnthropic(format string, args ...any) {
	if debugAnthropic {
		fmt.Printf("[Anthropic] "+format+"\n", args...)
	}
}

// AnthropicAdapter speaks Anthropic's typed-event SSE dialect directly over
// net/http; it does not use the official SDK's streaming client because the
// framing must be reconstructed from arbitrary byte chunks rather than
// delegated to SDK-internal buffering.
type AnthropicAdapter struct {
	client *http.Client
	config Config
}

func NewAnthropicAdapter(cfg Config) *AnthropicAdapter {
	return &AnthropicAdapter{
		client: &http.Client{Timeout: cfg.timeout()},
		config: cfg,
	}
}

func (a *AnthropicAdapter) ProviderID() string   { return "anthropic" }
func (a *AnthropicAdapter) DisplayName() string  { return "Anthropic" }
func (a *AnthropicAdapter) DefaultModel() string {
	if a.config.DefaultModel != "" {
		return a.config.DefaultModel
	}
	return "claude-sonnet-4-5"
}

func (a *AnthropicAdapter) AvailableModels() []ModelInfo {
	return a.Capabilities().Models
}

func (a *AnthropicAdapter) Capabilities() Capabilities {
	return Capabilities{
		Streaming:        true,
		ToolUse:          true,
		Vision:           true,
		MaxContextTokens: 200000,
		Models: []ModelInfo{
			{ID: "claude-sonnet-4-5", DisplayName: "Claude Sonnet 4.5", ContextLength: 200000, SupportsVision: true, SupportsTools: true, SupportsStream: true},
			{ID: "claude-opus-4", DisplayName: "Claude Opus 4", ContextLength: 200000, SupportsVision: true, SupportsTools: true, SupportsStream: true},
		},
	}
}

func (a *AnthropicAdapter) Status() Status {
	if _, ok := a.config.GetAPIKey(); !ok {
		return StatusUnconfigured
	}
	return StatusConnected
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string              `json:"model"`
	System    string              `json:"system,omitempty"`
	Messages  []anthropicMessage  `json:"messages"`
	MaxTokens int                 `json:"max_tokens"`
	Stream    bool                `json:"stream,omitempty"`
}

func (a *AnthropicAdapter) buildRequest(req *ChatRequest, stream bool) anthropicRequest {
	var system string
	var msgs []anthropicMessage
	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			if system != "" {
				system += "\n"
			}
			system += m.Text
			continue
		}
		role := "user"
		if m.Role == RoleAssistant {
			role = "assistant"
		}
		msgs = append(msgs, anthropicMessage{Role: role, Content: m.Text})
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMax
	}

	model := req.Model
	if model == "" {
		model = a.DefaultModel()
	}

	return anthropicRequest{
		Model:     model,
		System:    system,
		Messages:  msgs,
		MaxTokens: maxTokens,
		Stream:    stream,
	}
}

func (a *AnthropicAdapter) newHTTPRequest(ctx context.Context, body anthropicRequest) (*http.Request, error) {
	apiKey, ok := a.config.GetAPIKey()
	if !ok {
		return nil, collaberr.New(collaberr.NotConfigured, "ANTHROPIC_API_KEY not set")
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode anthropic request: %w", err)
	}

	url := anthropicAPIURL
	if a.config.BaseURL != "" {
		url = a.config.BaseURL
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build anthropic request: %w", err)
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("x-api-key", apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)
	return httpReq, nil
}

func (a *AnthropicAdapter) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	httpReq, err := a.newHTTPRequest(ctx, a.buildRequest(req, false))
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, collaberr.Wrap(collaberr.NetworkError, "anthropic request failed", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, httpStatusError(resp.StatusCode, string(body))
	}

	var parsed struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		StopReason string `json:"stop_reason"`
		Usage      struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, collaberr.Wrap(collaberr.InvalidResponse, "cannot parse anthropic response", err)
	}
	if len(parsed.Content) == 0 {
		return nil, collaberr.New(collaberr.InvalidResponse, "anthropic response had no content blocks")
	}

	var text string
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return &ChatResponse{
		ID:           uuid.NewString(),
		Provider:     a.ProviderID(),
		Model:        a.DefaultModel(),
		Content:      text,
		Role:         RoleAssistant,
		FinishReason: NormalizeFinishReason(parsed.StopReason),
		CreatedAt:    time.Now(),
		Usage: Usage{
			PromptTokens:     parsed.Usage.InputTokens,
			CompletionTokens: parsed.Usage.OutputTokens,
			TotalTokens:      parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
		},
	}, nil
}

// anthropicStreamEvent mirrors the subset of typed SSE events this module
// cares about: content_block_delta carries text, message_stop ends the
// stream. Other event kinds (message_start, content_block_start,
// content_block_stop, message_delta, ping, error) are no-ops that still
// produce an empty, non-final chunk so they never terminate the stream.
type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
}

func (a *AnthropicAdapter) ChatStream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error) {
	httpReq, err := a.newHTTPRequest(ctx, a.buildRequest(req, true))
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, collaberr.Wrap(collaberr.NetworkError, "anthropic stream request failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, httpStatusError(resp.StatusCode, string(body))
	}

	out := make(chan StreamChunk)
	go a.pumpStream(ctx, resp.Body, out)
	return out, nil
}

func (a *AnthropicAdapter) pumpStream(ctx context.Context, body io.ReadCloser, out chan<- StreamChunk) {
	defer close(out)
	defer body.Close()

	var lb lineBuffer
	var dec sseLineDecoder
	buf := make([]byte, 4096)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			for _, line := range lb.Feed(buf[:n]) {
				ev, ok := dec.decode(line)
				if !ok {
					continue
				}
				if ev.done {
					out <- StreamChunk{Provider: a.ProviderID(), IsFinal: true, FinishReason: FinishStop}
					return
				}

				var parsed anthropicStreamEvent
				if err := json.Unmarshal([]byte(ev.data), &parsed); err != nil {
					logAnthropic("skipping unparsable event: %v", err)
					out <- StreamChunk{Provider: a.ProviderID()}
					continue
				}

				switch parsed.Type {
				case "content_block_delta":
					if parsed.Delta.Type == "text_delta" {
						out <- StreamChunk{Provider: a.ProviderID(), Delta: parsed.Delta.Text}
					} else {
						out <- StreamChunk{Provider: a.ProviderID()}
					}
				case "message_stop":
					out <- StreamChunk{Provider: a.ProviderID(), IsFinal: true, FinishReason: FinishStop}
					return
				default:
					out <- StreamChunk{Provider: a.ProviderID()}
				}
			}
		}

		if readErr != nil {
			if readErr != io.EOF {
				logAnthropic("stream read error: %v", readErr)
			}
			return
		}
	}
}
