package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/capclaw/internal/topology"
)

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func TestServer_WebSocketStreamsStageEvents(t *testing.T) {
	openai := &scriptClient{name: "openai", outputs: []string{"OPENAI-DRAFT", "REVISED-GEMINI"}}
	google := &scriptClient{name: "google", outputs: []string{"GEMINI-DRAFT", "REVISED-OPENAI", "FINAL"}}
	s := newTestServer(t, Options{Pipeline: testPipeline(openai, google)})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	body, ctype := multipartDiagram(t, "stream me")
	res, err := http.Post(srv.URL+"/v1/topology/generate", ctype, body)
	if err != nil {
		t.Fatal(err)
	}
	var accepted map[string]string
	decodeBody(t, res, &accepted)
	id := accepted["job_id"]

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/v1/topology/ws?job="+id), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var events []topology.StageEvent
	var finalState string
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break // normal close after the terminal frame
		}
		var ev topology.StageEvent
		if json.Unmarshal(data, &ev) == nil && ev.Stage != "" {
			events = append(events, ev)
			continue
		}
		var terminal map[string]string
		if json.Unmarshal(data, &terminal) == nil {
			finalState = terminal["state"]
		}
	}

	if len(events) != 10 {
		t.Errorf("events = %d, want 10", len(events))
	}
	if finalState != JobDone {
		t.Errorf("terminal state = %q, want done", finalState)
	}

	var done int
	for _, ev := range events {
		if ev.Status == topology.StatusDone {
			done++
		}
	}
	if done != 5 {
		t.Errorf("done events = %d, want 5", done)
	}
}

func TestServer_WebSocketUnknownJob(t *testing.T) {
	s := newTestServer(t, Options{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	_, res, err := websocket.DefaultDialer.Dial(wsURL(srv, "/v1/topology/ws?job=nope"), nil)
	if err == nil {
		t.Fatal("dial should fail for unknown job")
	}
	if res == nil || res.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 handshake rejection, got %+v", res)
	}
}

func TestServer_WebSocketRequiresJobParam(t *testing.T) {
	s := newTestServer(t, Options{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	_, res, err := websocket.DefaultDialer.Dial(wsURL(srv, "/v1/topology/ws"), nil)
	if err == nil {
		t.Fatal("dial should fail without job param")
	}
	if res == nil || res.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 handshake rejection, got %+v", res)
	}
}

func TestServer_WebSocketTokenQueryAuth(t *testing.T) {
	openai := &scriptClient{name: "openai", outputs: []string{"A", "B"}}
	google := &scriptClient{name: "google", outputs: []string{"C", "D", "E"}}
	s := newTestServer(t, Options{AuthToken: "secret", Pipeline: testPipeline(openai, google)})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	body, ctype := multipartDiagram(t, "authed stream")
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/topology/generate", body)
	req.Header.Set("Content-Type", ctype)
	req.Header.Set("Authorization", "Bearer secret")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	var accepted map[string]string
	decodeBody(t, res, &accepted)
	id := accepted["job_id"]

	// No token → handshake rejected.
	_, hs, err := websocket.DefaultDialer.Dial(wsURL(srv, "/v1/topology/ws?job="+id), nil)
	if err == nil {
		t.Fatal("dial without token should fail")
	}
	if hs == nil || hs.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %+v", hs)
	}

	// Token query parameter passes.
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/v1/topology/ws?job="+id+"&token=secret"), nil)
	if err != nil {
		t.Fatalf("dial with token: %v", err)
	}
	conn.Close()
}
