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
	"time"

	"golang.org/x/time/rate"
)

const openaiDefaultBase = "https://api.openai.com/v1"

// OpenAIProvider talks to the OpenAI chat completions API (and any
// compatible endpoint via apiBase).
type OpenAIProvider struct {
	name    string
	apiKey  string
	apiBase string
	client  HTTPDoer
	limiter *rate.Limiter
}

// NewOpenAIProvider builds a client. An empty apiBase falls back to
// the hosted API.
func NewOpenAIProvider(apiKey, apiBase string) *OpenAIProvider {
	if apiBase == "" {
		apiBase = openaiDefaultBase
	}
	return &OpenAIProvider{
		name:    "openai",
		apiKey:  apiKey,
		apiBase: apiBase,
		client:  &http.Client{Timeout: 300 * time.Second},
	}
}

func (p *OpenAIProvider) Name() string { return p.name }

// SetHTTPClient replaces the HTTP client, for tests.
func (p *OpenAIProvider) SetHTTPClient(c HTTPDoer) { p.client = c }

// SetRateLimit caps outbound requests per minute.
func (p *OpenAIProvider) SetRateLimit(rpm int) {
	if rpm > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(float64(rpm)/60), max(1, rpm/10))
	}
}

type oaiContentPart struct {
	Type     string       `json:"type"`
	Text     string       `json:"text,omitempty"`
	ImageURL *oaiImageURL `json:"image_url,omitempty"`
}

type oaiImageURL struct {
	URL string `json:"url"`
}

type oaiMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type oaiRequest struct {
	Model       string       `json:"model"`
	Messages    []oaiMessage `json:"messages"`
	Temperature *float64     `json:"temperature,omitempty"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
}

type oaiResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Model string `json:"model"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	msgs := make([]oaiMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, oaiMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, oaiMessage{Role: m.Role, Content: encodeOAIParts(m.Parts)})
	}

	body, err := json.Marshal(oaiRequest{
		Model:       req.Model,
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, err
	}

	var parsed oaiResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse openai response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil {
			return nil, fmt.Errorf("openai API: %s", parsed.Error.Message)
		}
		return nil, fmt.Errorf("openai API: status %d", resp.StatusCode)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("openai API: empty choices")
	}

	slog.Debug("openai chat done",
		"model", req.Model,
		"duration", time.Since(start).Round(time.Millisecond))

	return &ChatResponse{Content: parsed.Choices[0].Message.Content, Model: parsed.Model}, nil
}

// encodeOAIParts renders message parts. Text-only messages collapse to
// a plain string; anything with images uses the content-array form.
func encodeOAIParts(parts []Part) any {
	if len(parts) == 1 && parts[0].Image == nil {
		return parts[0].Text
	}
	out := make([]oaiContentPart, 0, len(parts))
	for _, part := range parts {
		if part.Image != nil {
			url := "data:" + part.Image.MIME + ";base64," + base64.StdEncoding.EncodeToString(part.Image.Data)
			out = append(out, oaiContentPart{Type: "image_url", ImageURL: &oaiImageURL{URL: url}})
			continue
		}
		out = append(out, oaiContentPart{Type: "text", Text: part.Text})
	}
	return out
}
