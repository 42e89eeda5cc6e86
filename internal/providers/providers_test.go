package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
)

type fakeDoer struct {
	status  int
	body    string
	gotURL  string
	gotBody []byte
	headers http.Header
}

func (d *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	d.gotURL = req.URL.String()
	d.headers = req.Header
	if req.Body != nil {
		d.gotBody, _ = io.ReadAll(req.Body)
	}
	return &http.Response{
		StatusCode: d.status,
		Body:       io.NopCloser(strings.NewReader(d.body)),
	}, nil
}

func TestOpenAIChat(t *testing.T) {
	doer := &fakeDoer{
		status: 200,
		body:   `{"model":"gpt-4o","choices":[{"message":{"content":"hello from model"}}]}`,
	}
	p := NewOpenAIProvider("sk-test", "")
	p.SetHTTPClient(doer)

	resp, err := p.Chat(context.Background(), ChatRequest{
		Model:    "gpt-4o",
		System:   "be brief",
		Messages: []Message{Text(RoleUser, "hi")},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "hello from model" {
		t.Errorf("content = %q", resp.Content)
	}
	if doer.gotURL != "https://api.openai.com/v1/chat/completions" {
		t.Errorf("url = %q", doer.gotURL)
	}
	if got := doer.headers.Get("Authorization"); got != "Bearer sk-test" {
		t.Errorf("auth = %q", got)
	}

	var req map[string]any
	if err := json.Unmarshal(doer.gotBody, &req); err != nil {
		t.Fatalf("request body: %v", err)
	}
	msgs := req["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2 (system + user)", len(msgs))
	}
	sys := msgs[0].(map[string]any)
	if sys["role"] != "system" || sys["content"] != "be brief" {
		t.Errorf("system message = %v", sys)
	}
	// Text-only user content collapses to a plain string.
	user := msgs[1].(map[string]any)
	if _, isString := user["content"].(string); !isString {
		t.Errorf("text-only content should be a string, got %T", user["content"])
	}
}

func TestOpenAIChatImageParts(t *testing.T) {
	doer := &fakeDoer{
		status: 200,
		body:   `{"choices":[{"message":{"content":"a topology"}}]}`,
	}
	p := NewOpenAIProvider("sk-test", "")
	p.SetHTTPClient(doer)

	_, err := p.Chat(context.Background(), ChatRequest{
		Model:     "gpt-4.1-mini",
		Messages:  []Message{UserImage("describe", "image/png", []byte{1, 2, 3})},
		MaxTokens: 2000,
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	body := string(doer.gotBody)
	if !strings.Contains(body, `"max_tokens":2000`) {
		t.Error("max_tokens missing from request")
	}
	if !strings.Contains(body, "data:image/png;base64,") {
		t.Error("image data URL missing from request")
	}
	if !strings.Contains(body, `"type":"image_url"`) {
		t.Error("image part missing from request")
	}
}

func TestOpenAIChatAPIError(t *testing.T) {
	doer := &fakeDoer{status: 429, body: `{"error":{"message":"rate limited","type":"rate_limit"}}`}
	p := NewOpenAIProvider("sk-test", "")
	p.SetHTTPClient(doer)

	_, err := p.Chat(context.Background(), ChatRequest{Model: "gpt-4o", Messages: []Message{Text(RoleUser, "x")}})
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("expected API error, got %v", err)
	}
}

func TestGoogleChat(t *testing.T) {
	doer := &fakeDoer{
		status: 200,
		body:   `{"candidates":[{"content":{"parts":[{"text":"part one "},{"text":"part two"}]}}]}`,
	}
	p := NewGoogleProvider("g-key", "")
	p.SetHTTPClient(doer)

	temp := 0.6
	resp, err := p.Chat(context.Background(), ChatRequest{
		Model:       "gemini-2.5-pro",
		System:      "you are terse",
		Messages:    []Message{Text(RoleUser, "hi"), Text(RoleAssistant, "hello"), Text(RoleUser, "again")},
		Temperature: &temp,
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "part one part two" {
		t.Errorf("content = %q", resp.Content)
	}
	if !strings.Contains(doer.gotURL, "/models/gemini-2.5-pro:generateContent") {
		t.Errorf("url = %q", doer.gotURL)
	}
	if got := doer.headers.Get("x-goog-api-key"); got != "g-key" {
		t.Errorf("api key header = %q", got)
	}

	var req map[string]any
	if err := json.Unmarshal(doer.gotBody, &req); err != nil {
		t.Fatalf("request body: %v", err)
	}
	if _, ok := req["systemInstruction"]; !ok {
		t.Error("systemInstruction missing")
	}
	contents := req["contents"].([]any)
	second := contents[1].(map[string]any)
	if second["role"] != "model" {
		t.Errorf("assistant role should map to model, got %v", second["role"])
	}
	gen := req["generationConfig"].(map[string]any)
	if gen["temperature"] != 0.6 {
		t.Errorf("temperature = %v", gen["temperature"])
	}
}

func TestGoogleChatImage(t *testing.T) {
	doer := &fakeDoer{
		status: 200,
		body:   `{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`,
	}
	p := NewGoogleProvider("g-key", "")
	p.SetHTTPClient(doer)

	_, err := p.Chat(context.Background(), ChatRequest{
		Model:    "gemini-2.5-pro",
		Messages: []Message{UserImage("what is this", "image/jpeg", []byte{9, 9})},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if !strings.Contains(string(doer.gotBody), `"mimeType":"image/jpeg"`) {
		t.Error("inline image missing from request")
	}
}

func TestGoogleChatAPIError(t *testing.T) {
	doer := &fakeDoer{status: 400, body: `{"error":{"message":"invalid argument"}}`}
	p := NewGoogleProvider("g-key", "")
	p.SetHTTPClient(doer)

	_, err := p.Chat(context.Background(), ChatRequest{Model: "gemini-2.5-pro", Messages: []Message{Text(RoleUser, "x")}})
	if err == nil || !strings.Contains(err.Error(), "invalid argument") {
		t.Fatalf("expected API error, got %v", err)
	}
}
