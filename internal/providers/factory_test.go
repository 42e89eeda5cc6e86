package providers

import (
	"context"
	"testing"
)

type namedFake struct{ name string }

func (f *namedFake) Name() string { return f.name }
func (f *namedFake) Chat(context.Context, ChatRequest) (*ChatResponse, error) {
	return &ChatResponse{Content: "fake"}, nil
}

func TestFactory_BuildsKnownProviders(t *testing.T) {
	c, err := New("openai", ClientConfig{APIKey: "sk-test"})
	if err != nil {
		t.Fatalf("New(openai): %v", err)
	}
	if c.Name() != "openai" {
		t.Errorf("name = %q", c.Name())
	}

	c, err = New("google", ClientConfig{APIKey: "g-test"})
	if err != nil {
		t.Fatalf("New(google): %v", err)
	}
	if c.Name() != "google" {
		t.Errorf("name = %q", c.Name())
	}
}

func TestFactory_UnknownProvider(t *testing.T) {
	if _, err := New("mystery", ClientConfig{APIKey: "k"}); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestFactory_MissingKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := New("openai", ClientConfig{}); err == nil {
		t.Fatal("expected error when no key anywhere")
	}
}

func TestFactory_EnvFallback(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "from-env")
	if _, err := New("openai", ClientConfig{}); err != nil {
		t.Fatalf("env key should satisfy the factory: %v", err)
	}

	// Gemini spelling works for the google provider.
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "gm-env")
	if _, err := New("google", ClientConfig{}); err != nil {
		t.Fatalf("GEMINI_API_KEY should satisfy the factory: %v", err)
	}
}

func TestFactory_RegisterOverride(t *testing.T) {
	Register("custom", func(apiKey, apiBase string) Client {
		return &namedFake{name: "custom"}
	})

	c, err := New("custom", ClientConfig{APIKey: "k"})
	if err != nil {
		t.Fatal(err)
	}
	if c.Name() != "custom" {
		t.Errorf("name = %q", c.Name())
	}
}
