// Package providers implements thin clients for hosted multimodal
// completion APIs. Requests carry text and inline images; everything
// model-specific stays behind the Client interface so callers only
// pick a provider and a model.
package providers

import (
	"context"
	"net/http"
)

// Role names follow the OpenAI convention; the Google client maps
// "assistant" to its "model" role on the wire.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Client is a chat-completion provider.
type Client interface {
	Name() string
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// ChatRequest is a provider-neutral completion request.
type ChatRequest struct {
	Model       string
	System      string
	Messages    []Message
	Temperature *float64 // nil leaves the provider default
	MaxTokens   int      // 0 leaves the provider default
}

// Message is one conversation turn, text and/or images.
type Message struct {
	Role  string
	Parts []Part
}

// Part is one content part. Exactly one field is set.
type Part struct {
	Text  string
	Image *ImageData
}

// ImageData is an inline image payload.
type ImageData struct {
	MIME string
	Data []byte
}

// ChatResponse is a provider-neutral completion response.
type ChatResponse struct {
	Content string
	Model   string
}

// HTTPDoer is the subset of http.Client providers use; tests inject
// fakes through it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Text builds a single-part text message.
func Text(role, text string) Message {
	return Message{Role: role, Parts: []Part{{Text: text}}}
}

// UserImage builds a user message with a text prompt and one image.
func UserImage(text string, mime string, data []byte) Message {
	return Message{Role: RoleUser, Parts: []Part{
		{Text: text},
		{Image: &ImageData{MIME: mime, Data: data}},
	}}
}

// Temp returns a pointer for ChatRequest.Temperature.
func Temp(v float64) *float64 { return &v }
