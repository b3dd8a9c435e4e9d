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

var debugOpenAI = os.Getenv("NEBO_COLLAB_DEBUG") != ""

func logOpenAI(format string, args ...any) {
	if debugOpenAI {
		fmt.Printf("[OpenAI] "+format+"\n", args...)
	}
}

// openAIStyleAdapter implements the choice.delta.content SSE dialect shared
// by OpenAI and Mistral-compatible endpoints. The two concrete adapters
// below are thin parameterizations of this one wire format.
type openAIStyleAdapter struct {
	providerID   string
	displayName  string
	apiURL       string
	defaultModel string
	client       *http.Client
	config       Config
	models       []ModelInfo
}

func (a *openAIStyleAdapter) ProviderID() string          { return a.providerID }
func (a *openAIStyleAdapter) DisplayName() string         { return a.displayName }
func (a *openAIStyleAdapter) AvailableModels() []ModelInfo { return a.models }

func (a *openAIStyleAdapter) DefaultModel() string {
	if a.config.DefaultModel != "" {
		return a.config.DefaultModel
	}
	return a.defaultModel
}

func (a *openAIStyleAdapter) Capabilities() Capabilities {
	return Capabilities{
		Streaming:        true,
		ToolUse:          true,
		Vision:           true,
		MaxContextTokens: 128000,
		Models:           a.models,
	}
}

func (a *openAIStyleAdapter) Status() Status {
	if _, ok := a.config.GetAPIKey(); !ok {
		return StatusUnconfigured
	}
	return StatusConnected
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
	TopP        float64         `json:"top_p,omitempty"`
	Stop        []string        `json:"stop,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
}

func (a *openAIStyleAdapter) buildRequest(req *ChatRequest, stream bool) openAIRequest {
	var msgs []openAIMessage
	for _, m := range req.Messages {
		if m.Role == RoleTool {
			// tool-role messages are preserved for OpenAI/Mistral, both of
			// which support tool turns.
		}
		msgs = append(msgs, openAIMessage{Role: string(m.Role), Content: m.Text, Name: m.Name})
	}

	model := req.Model
	if model == "" {
		model = a.DefaultModel()
	}

	return openAIRequest{
		Model:       model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
		Stream:      stream,
	}
}

func (a *openAIStyleAdapter) newHTTPRequest(ctx context.Context, body openAIRequest) (*http.Request, error) {
	apiKey, ok := a.config.GetAPIKey()
	if !ok {
		return nil, collaberr.New(collaberr.NotConfigured, a.providerID+" API key not set")
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", a.providerID, err)
	}

	url := a.apiURL
	if a.config.BaseURL != "" {
		url = a.config.BaseURL
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", a.providerID, err)
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("authorization", "Bearer "+apiKey)
	return httpReq, nil
}

func (a *openAIStyleAdapter) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	httpReq, err := a.newHTTPRequest(ctx, a.buildRequest(req, false))
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, collaberr.Wrap(collaberr.NetworkError, a.providerID+" request failed", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, httpStatusError(resp.StatusCode, string(body))
	}

	var parsed struct {
		ID      string `json:"id"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, collaberr.Wrap(collaberr.InvalidResponse, "cannot parse "+a.providerID+" response", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, collaberr.New(collaberr.InvalidResponse, a.providerID+" response had no choices")
	}

	id := parsed.ID
	if id == "" {
		id = uuid.NewString()
	}

	return &ChatResponse{
		ID:           id,
		Provider:     a.providerID,
		Model:        a.DefaultModel(),
		Content:      parsed.Choices[0].Message.Content,
		Role:         RoleAssistant,
		FinishReason: NormalizeFinishReason(parsed.Choices[0].FinishReason),
		CreatedAt:    time.Now(),
		Usage: Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
	}, nil
}

func (a *openAIStyleAdapter) ChatStream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error) {
	httpReq, err := a.newHTTPRequest(ctx, a.buildRequest(req, true))
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, collaberr.Wrap(collaberr.NetworkError, a.providerID+" stream request failed", err)
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

func (a *openAIStyleAdapter) pumpStream(ctx context.Context, body io.ReadCloser, out chan<- StreamChunk) {
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
					out <- StreamChunk{Provider: a.providerID, IsFinal: true, FinishReason: FinishStop}
					return
				}

				var parsed struct {
					Choices []struct {
						Delta struct {
							Content string `json:"content"`
						} `json:"delta"`
						FinishReason *string `json:"finish_reason"`
					} `json:"choices"`
				}
				if err := json.Unmarshal([]byte(ev.data), &parsed); err != nil {
					logOpenAI("skipping unparsable event: %v", err)
					out <- StreamChunk{Provider: a.providerID}
					continue
				}
				if len(parsed.Choices) == 0 {
					out <- StreamChunk{Provider: a.providerID}
					continue
				}

				choice := parsed.Choices[0]
				chunk := StreamChunk{Provider: a.providerID, Delta: choice.Delta.Content}
				if choice.FinishReason != nil {
					chunk.IsFinal = true
					chunk.FinishReason = NormalizeFinishReason(*choice.FinishReason)
					out <- chunk
					return
				}
				out <- chunk
			}
		}

		if readErr != nil {
			if readErr != io.EOF {
				logOpenAI("stream read error: %v", readErr)
			}
			return
		}
	}
}

// OpenAIAdapter speaks OpenAI's chat-completions SSE dialect.
type OpenAIAdapter struct{ *openAIStyleAdapter }

func NewOpenAIAdapter(cfg Config) *OpenAIAdapter {
	return &OpenAIAdapter{&openAIStyleAdapter{
		providerID:   "openai",
		displayName:  "OpenAI",
		apiURL:       "https://api.openai.com/v1/chat/completions",
		defaultModel: "gpt-4.1",
		client:       &http.Client{Timeout: cfg.timeout()},
		config:       cfg,
		models: []ModelInfo{
			{ID: "gpt-4.1", DisplayName: "GPT-4.1", ContextLength: 1047576, SupportsVision: true, SupportsTools: true, SupportsStream: true},
		},
	}}
}

// MistralAdapter speaks the same choice.delta.content SSE dialect as OpenAI.
type MistralAdapter struct{ *openAIStyleAdapter }

func NewMistralAdapter(cfg Config) *MistralAdapter {
	return &MistralAdapter{&openAIStyleAdapter{
		providerID:   "mistral",
		displayName:  "Mistral",
		apiURL:       "https://api.mistral.ai/v1/chat/completions",
		defaultModel: "mistral-large-latest",
		client:       &http.Client{Timeout: cfg.timeout()},
		config:       cfg,
		models: []ModelInfo{
			{ID: "mistral-large-latest", DisplayName: "Mistral Large", ContextLength: 128000, SupportsVision: false, SupportsTools: true, SupportsStream: true},
		},
	}}
}
