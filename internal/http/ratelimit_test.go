package http

import (
	"net/http"
	"testing"
)

func TestRateLimiter_Disabled(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	if rl.Enabled() {
		t.Error("rps=0 should disable the limiter")
	}
	for i := 0; i < 100; i++ {
		if !rl.Allow("k") {
			t.Fatal("disabled limiter must always allow")
		}
	}
}

func TestRateLimiter_BurstThenBlock(t *testing.T) {
	rl := NewRateLimiter(0.001, 3) // effectively no refill during the test

	for i := 0; i < 3; i++ {
		if !rl.Allow("k") {
			t.Fatalf("request %d within burst should pass", i)
		}
	}
	if rl.Allow("k") {
		t.Error("request beyond burst should be blocked")
	}
	if !rl.Allow("other") {
		t.Error("separate key has its own bucket")
	}
}

func TestClientKey(t *testing.T) {
	r := &http.Request{RemoteAddr: "192.0.2.7:51234"}
	if got := clientKey(r); got != "192.0.2.7" {
		t.Errorf("clientKey = %q", got)
	}
	r = &http.Request{RemoteAddr: "bare-host"}
	if got := clientKey(r); got != "bare-host" {
		t.Errorf("clientKey fallback = %q", got)
	}
}

func TestTokenMatch(t *testing.T) {
	if !tokenMatch("anything", "") {
		t.Error("empty expected token means auth disabled")
	}
	if !tokenMatch("s3cret", "s3cret") {
		t.Error("equal tokens must match")
	}
	if tokenMatch("wrong", "s3cret") {
		t.Error("different tokens must not match")
	}
}
