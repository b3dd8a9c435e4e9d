package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/neboloop/nebo/internal/collaberr"
)

var debugOllama = os.Getenv("NEBO_COLLAB_DEBUG") != ""

func logOllama(format string, args ...any) {
	if debugOllama {
		fmt.Printf("[Ollama] "+format+"\n", args...)
	}
}

// OllamaAdapter speaks Ollama's newline-delimited JSON dialect directly,
// rather than through the official client's callback-based Chat method, so
// that framing can be exercised with arbitrary byte chunk boundaries.
type OllamaAdapter struct {
	client *http.Client
	config Config
}

func NewOllamaAdapter(cfg Config) *OllamaAdapter {
	if cfg.TimeoutSecs <= 0 {
		cfg.TimeoutSecs = 300 // local provider gets the longer default timeout
	}
	return &OllamaAdapter{
		client: &http.Client{Timeout: cfg.timeout()},
		config: cfg,
	}
}

func (a *OllamaAdapter) ProviderID() string  { return "ollama" }
func (a *OllamaAdapter) DisplayName() string { return "Ollama" }

func (a *OllamaAdapter) DefaultModel() string {
	if a.config.DefaultModel != "" {
		return a.config.DefaultModel
	}
	return "llama3.2"
}

func (a *OllamaAdapter) AvailableModels() []ModelInfo {
	return a.Capabilities().Models
}

func (a *OllamaAdapter) Capabilities() Capabilities {
	return Capabilities{
		Streaming:        true,
		ToolUse:          false,
		Vision:           true,
		MaxContextTokens: 128000,
		Models: []ModelInfo{
			{ID: "llama3.2", DisplayName: "Llama 3.2", ContextLength: 128000, SupportsStream: true},
		},
	}
}

func (a *OllamaAdapter) Status() Status {
	return StatusConnected // connectivity is only known at request time
}

func (a *OllamaAdapter) baseURL() string {
	if a.config.BaseURL != "" {
		return a.config.BaseURL
	}
	return "http://localhost:11434"
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float64  `json:"temperature,omitempty"`
	TopP        float64  `json:"top_p,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type ollamaRequest struct {
	Model    string        `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  ollamaOptions `json:"options,omitempty"`
}

func (a *OllamaAdapter) buildRequest(req *ChatRequest, stream bool) ollamaRequest {
	var msgs []ollamaMessage
	for _, m := range req.Messages {
		msgs = append(msgs, ollamaMessage{Role: string(m.Role), Content: m.Text})
	}
	model := req.Model
	if model == "" {
		model = a.DefaultModel()
	}
	return ollamaRequest{
		Model:    model,
		Messages: msgs,
		Stream:   stream,
		Options: ollamaOptions{
			Temperature: req.Temperature,
			TopP:        req.TopP,
			NumPredict:  req.MaxTokens,
			Stop:        req.Stop,
		},
	}
}

func (a *OllamaAdapter) newHTTPRequest(ctx context.Context, body ollamaRequest) (*http.Request, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode ollama request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL()+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build ollama request: %w", err)
	}
	httpReq.Header.Set("content-type", "application/json")
	return httpReq, nil
}

func (a *OllamaAdapter) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	httpReq, err := a.newHTTPRequest(ctx, a.buildRequest(req, false))
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		if strings.Contains(err.Error(), "connection refused") {
			return nil, collaberr.Wrap(collaberr.Unavailable, "ollama is not running", err)
		}
		return nil, collaberr.Wrap(collaberr.NetworkError, "ollama request failed", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, httpStatusError(resp.StatusCode, string(body))
	}

	var parsed struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Done           bool `json:"done"`
		PromptEvalCount int `json:"prompt_eval_count"`
		EvalCount       int `json:"eval_count"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, collaberr.Wrap(collaberr.InvalidResponse, "cannot parse ollama response", err)
	}

	return &ChatResponse{
		ID:           uuid.NewString(),
		Provider:     a.ProviderID(),
		Model:        a.DefaultModel(),
		Content:      parsed.Message.Content,
		Role:         RoleAssistant,
		FinishReason: FinishStop,
		CreatedAt:    time.Now(),
		Usage: Usage{
			PromptTokens:     parsed.PromptEvalCount,
			CompletionTokens: parsed.EvalCount,
			TotalTokens:      parsed.PromptEvalCount + parsed.EvalCount,
		},
	}, nil
}

func (a *OllamaAdapter) ChatStream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error) {
	httpReq, err := a.newHTTPRequest(ctx, a.buildRequest(req, true))
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		if strings.Contains(err.Error(), "connection refused") {
			return nil, collaberr.Wrap(collaberr.Unavailable, "ollama is not running", err)
		}
		return nil, collaberr.Wrap(collaberr.NetworkError, "ollama stream request failed", err)
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

func (a *OllamaAdapter) pumpStream(ctx context.Context, body io.ReadCloser, out chan<- StreamChunk) {
	defer close(out)
	defer body.Close()

	var lb lineBuffer
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
				if strings.TrimSpace(line) == "" {
					continue
				}

				var parsed struct {
					Message struct {
						Content string `json:"content"`
					} `json:"message"`
					Done            bool `json:"done"`
					PromptEvalCount int  `json:"prompt_eval_count"`
					EvalCount       int  `json:"eval_count"`
				}
				if err := json.Unmarshal([]byte(line), &parsed); err != nil {
					logOllama("skipping unparsable line: %v", err)
					out <- StreamChunk{Provider: a.ProviderID()}
					continue
				}

				chunk := StreamChunk{Provider: a.ProviderID(), Delta: parsed.Message.Content}
				if parsed.Done {
					chunk.IsFinal = true
					chunk.FinishReason = FinishStop
					chunk.Usage = &Usage{
						PromptTokens:     parsed.PromptEvalCount,
						CompletionTokens: parsed.EvalCount,
						TotalTokens:      parsed.PromptEvalCount + parsed.EvalCount,
					}
					out <- chunk
					return
				}
				out <- chunk
			}
		}

		if readErr != nil {
			if readErr != io.EOF {
				logOllama("stream read error: %v", readErr)
			}
			return
		}
	}
}
