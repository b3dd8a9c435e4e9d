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

var debugGemini = os.Getenv("NEBO_COLLAB_DEBUG") != ""

func logGemini(format string, args ...any) {
	if debugGemini {
		fmt.Printf("[Gemini] "+format+"\n", args...)
	}
}

// GeminiAdapter speaks Gemini's non-standard "JSON array stream" dialect:
// the streaming endpoint emits one giant JSON array, one object (roughly)
// per line, framed by '[' / ']' and comma-separated. It never emits
// Server-Sent-Events framing, so it gets its own hand-rolled parser rather
// than reusing sseLineDecoder.
type GeminiAdapter struct {
	client *http.Client
	config Config
}

func NewGeminiAdapter(cfg Config) *GeminiAdapter {
	return &GeminiAdapter{
		client: &http.Client{Timeout: cfg.timeout()},
		config: cfg,
	}
}

func (a *GeminiAdapter) ProviderID() string  { return "gemini" }
func (a *GeminiAdapter) DisplayName() string { return "Gemini" }

func (a *GeminiAdapter) DefaultModel() string {
	if a.config.DefaultModel != "" {
		return a.config.DefaultModel
	}
	return "gemini-2.0-flash"
}

func (a *GeminiAdapter) AvailableModels() []ModelInfo {
	return a.Capabilities().Models
}

func (a *GeminiAdapter) Capabilities() Capabilities {
	return Capabilities{
		Streaming:        true,
		ToolUse:          true,
		Vision:           true,
		MaxContextTokens: 1000000,
		Models: []ModelInfo{
			{ID: "gemini-2.0-flash", DisplayName: "Gemini 2.0 Flash", ContextLength: 1000000, SupportsVision: true, SupportsTools: true, SupportsStream: true},
		},
	}
}

func (a *GeminiAdapter) Status() Status {
	if _, ok := a.config.GetAPIKey(); !ok {
		return StatusUnconfigured
	}
	return StatusConnected
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	Temperature     float64  `json:"temperature,omitempty"`
	TopP            float64  `json:"topP,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent        `json:"contents"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig,omitempty"`
}

func (a *GeminiAdapter) buildRequest(req *ChatRequest) geminiRequest {
	var system *geminiContent
	var contents []geminiContent
	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			if system == nil {
				system = &geminiContent{Parts: []geminiPart{{Text: m.Text}}}
			} else {
				system.Parts[0].Text += "\n" + m.Text
			}
			continue
		}
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		contents = append(contents, geminiContent{Role: role, Parts: []geminiPart{{Text: m.Text}}})
	}

	return geminiRequest{
		Contents:          contents,
		SystemInstruction: system,
		GenerationConfig: geminiGenerationConfig{
			MaxOutputTokens: req.MaxTokens,
			Temperature:     req.Temperature,
			TopP:            req.TopP,
			StopSequences:   req.Stop,
		},
	}
}

func (a *GeminiAdapter) endpoint(model, method string) (string, error) {
	apiKey, ok := a.config.GetAPIKey()
	if !ok {
		return "", collaberr.New(collaberr.NotConfigured, "GEMINI_API_KEY not set")
	}
	base := a.config.BaseURL
	if base == "" {
		base = "https://generativelanguage.googleapis.com/v1beta"
	}
	return fmt.Sprintf("%s/models/%s:%s?key=%s", base, model, method, apiKey), nil
}

func (a *GeminiAdapter) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = a.DefaultModel()
	}

	url, err := a.endpoint(model, "generateContent")
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(a.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("encode gemini request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build gemini request: %w", err)
	}
	httpReq.Header.Set("content-type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, collaberr.Wrap(collaberr.NetworkError, "gemini request failed", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, httpStatusError(resp.StatusCode, string(body))
	}

	candidate, err := parseGeminiCandidate(body)
	if err != nil {
		return nil, err
	}

	return &ChatResponse{
		ID:           uuid.NewString(),
		Provider:     a.ProviderID(),
		Model:        model,
		Content:      candidate.text(),
		Role:         RoleAssistant,
		FinishReason: NormalizeFinishReason(candidate.FinishReason),
		CreatedAt:    time.Now(),
	}, nil
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

func (c geminiCandidate) text() string {
	var out string
	for _, p := range c.Content.Parts {
		out += p.Text
	}
	return out
}

func parseGeminiCandidate(body []byte) (geminiCandidate, error) {
	var parsed struct {
		Candidates []geminiCandidate `json:"candidates"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return geminiCandidate{}, collaberr.Wrap(collaberr.InvalidResponse, "cannot parse gemini response", err)
	}
	if len(parsed.Candidates) == 0 {
		return geminiCandidate{}, collaberr.New(collaberr.InvalidResponse, "gemini response had no candidates")
	}
	return parsed.Candidates[0], nil
}

func (a *GeminiAdapter) ChatStream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error) {
	model := req.Model
	if model == "" {
		model = a.DefaultModel()
	}

	url, err := a.endpoint(model, "streamGenerateContent")
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(a.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("encode gemini request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build gemini request: %w", err)
	}
	httpReq.Header.Set("content-type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, collaberr.Wrap(collaberr.NetworkError, "gemini stream request failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, httpStatusError(resp.StatusCode, string(body))
	}

	out := make(chan StreamChunk)
	go a.pumpStream(ctx, model, resp.Body, out)
	return out, nil
}

// trimArrayFraming strips the JSON-array punctuation Gemini wraps each
// streamed object in: a leading '[' or ',' and a trailing ',' or ']'.
func trimArrayFraming(line string) string {
	line = strings.TrimSpace(line)
	line = strings.TrimPrefix(line, "[")
	line = strings.TrimPrefix(line, ",")
	line = strings.TrimSpace(line)
	line = strings.TrimSuffix(line, "]")
	line = strings.TrimSuffix(line, ",")
	return strings.TrimSpace(line)
}

func (a *GeminiAdapter) pumpStream(ctx context.Context, model string, body io.ReadCloser, out chan<- StreamChunk) {
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
			for _, rawLine := range lb.Feed(buf[:n]) {
				line := trimArrayFraming(rawLine)
				if line == "" {
					out <- StreamChunk{Provider: a.ProviderID(), Model: model}
					continue
				}

				candidate, err := parseGeminiCandidate([]byte(line))
				if err != nil {
					logGemini("skipping unparsable fragment: %v", err)
					out <- StreamChunk{Provider: a.ProviderID(), Model: model}
					continue
				}

				chunk := StreamChunk{Provider: a.ProviderID(), Model: model, Delta: candidate.text()}
				if candidate.FinishReason != "" {
					chunk.IsFinal = true
					chunk.FinishReason = NormalizeFinishReason(candidate.FinishReason)
					out <- chunk
					return
				}
				out <- chunk
			}
		}

		if readErr != nil {
			if readErr != io.EOF {
				logGemini("stream read error: %v", readErr)
			}
			return
		}
	}
}
