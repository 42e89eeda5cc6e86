package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const googleDefaultBase = "https://generativelanguage.googleapis.com/v1beta"

// GoogleProvider talks to the Gemini generateContent API.
type GoogleProvider struct {
	apiKey  string
	apiBase string
	client  HTTPDoer
	limiter *rate.Limiter
}

func NewGoogleProvider(apiKey, apiBase string) *GoogleProvider {
	if apiBase == "" {
		apiBase = googleDefaultBase
	}
	return &GoogleProvider{
		apiKey:  apiKey,
		apiBase: apiBase,
		client:  &http.Client{Timeout: 300 * time.Second},
	}
}

func (p *GoogleProvider) Name() string { return "google" }

// SetHTTPClient replaces the HTTP client, for tests.
func (p *GoogleProvider) SetHTTPClient(c HTTPDoer) { p.client = c }

// SetRateLimit caps outbound requests per minute.
func (p *GoogleProvider) SetRateLimit(rpm int) {
	if rpm > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(float64(rpm)/60), max(1, rpm/10))
	}
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	Contents          []geminiContent         `json:"contents"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *GoogleProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var system *geminiContent
	if req.System != "" {
		system = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}

	contents := make([]geminiContent, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := m.Role
		if role == RoleAssistant {
			role = "model"
		}
		contents = append(contents, geminiContent{Role: role, Parts: encodeGeminiParts(m.Parts)})
	}

	var genCfg *geminiGenerationConfig
	if req.Temperature != nil || req.MaxTokens > 0 {
		genCfg = &geminiGenerationConfig{Temperature: req.Temperature, MaxOutputTokens: req.MaxTokens}
	}

	body, err := json.Marshal(geminiRequest{
		SystemInstruction: system,
		Contents:          contents,
		GenerationConfig:  genCfg,
	})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", p.apiBase, req.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", p.apiKey)

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, err
	}

	var parsed geminiResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse gemini response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil {
			return nil, fmt.Errorf("gemini API: %s", parsed.Error.Message)
		}
		return nil, fmt.Errorf("gemini API: status %d", resp.StatusCode)
	}
	if len(parsed.Candidates) == 0 {
		return nil, fmt.Errorf("gemini API: no candidates")
	}

	var sb strings.Builder
	for _, part := range parsed.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}

	slog.Debug("gemini chat done",
		"model", req.Model,
		"duration", time.Since(start).Round(time.Millisecond))

	return &ChatResponse{Content: sb.String(), Model: req.Model}, nil
}

func encodeGeminiParts(parts []Part) []geminiPart {
	out := make([]geminiPart, 0, len(parts))
	for _, part := range parts {
		if part.Image != nil {
			out = append(out, geminiPart{InlineData: &geminiInlineData{
				MIMEType: part.Image.MIME,
				Data:     base64.StdEncoding.EncodeToString(part.Image.Data),
			}})
			continue
		}
		out = append(out, geminiPart{Text: part.Text})
	}
	return out
}
