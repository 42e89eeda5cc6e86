package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"
)

const (
	openaiDefaultBase  = "https://api.openai.com/v1"
	openaiDefaultModel = "text-embedding-3-small"
	openaiDims         = 1536
)

// HTTPDoer is the subset of http.Client the provider needs.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// OpenAI calls the hosted embeddings API.
type OpenAI struct {
	apiKey  string
	apiBase string
	model   string
	client  HTTPDoer
}

// NewOpenAI builds an OpenAI embedding provider. Empty apiBase and
// model fall back to the API defaults.
func NewOpenAI(apiKey, apiBase, model string) *OpenAI {
	if apiBase == "" {
		apiBase = openaiDefaultBase
	}
	if model == "" {
		model = openaiDefaultModel
	}
	return &OpenAI{
		apiKey:  apiKey,
		apiBase: apiBase,
		model:   model,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

// SetHTTPClient replaces the HTTP client, for tests.
func (p *OpenAI) SetHTTPClient(c HTTPDoer) { p.client = c }

func (p *OpenAI) Dimensions() int { return openaiDims }

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *OpenAI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(embeddingRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embeddings request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, err
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse embeddings response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil {
			return nil, fmt.Errorf("embeddings API: %s", parsed.Error.Message)
		}
		return nil, fmt.Errorf("embeddings API: status %d", resp.StatusCode)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings API returned %d vectors for %d inputs", len(parsed.Data), len(texts))
	}

	sort.Slice(parsed.Data, func(i, j int) bool { return parsed.Data[i].Index < parsed.Data[j].Index })
	out := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		out[i] = d.Embedding
	}
	return out, nil
}
