package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/capclaw/internal/embedding"
	"github.com/nextlevelbuilder/capclaw/internal/prompts"
	"github.com/nextlevelbuilder/capclaw/internal/providers"
	"github.com/nextlevelbuilder/capclaw/internal/session"
	"github.com/nextlevelbuilder/capclaw/internal/store"
	"github.com/nextlevelbuilder/capclaw/internal/topology"
)

// scriptClient replays canned outputs in call order.
type scriptClient struct {
	name string

	mu      sync.Mutex
	outputs []string
	err     error
}

func (c *scriptClient) Name() string { return c.name }

func (c *scriptClient) Chat(_ context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	if len(c.outputs) == 0 {
		return nil, errors.New("script exhausted")
	}
	out := c.outputs[0]
	c.outputs = c.outputs[1:]
	return &providers.ChatResponse{Content: out, Model: req.Model}, nil
}

func testPipeline(openai, google providers.Client) *topology.Pipeline {
	return topology.NewPipeline(topology.PipelineOptions{
		OpenAI:  openai,
		Google:  google,
		Prompts: prompts.NewLibrary(""),
	})
}

func testManager(t *testing.T) *session.Manager {
	t.Helper()
	m := session.NewManager(session.Options{
		Store:    store.NewMemoryStore(t.TempDir()),
		Embedder: embedding.NewLocal(),
		Prompts:  prompts.NewLibrary(""),
	})
	t.Cleanup(func() { m.Close() })
	return m
}

func newTestServer(t *testing.T, opts Options) *Server {
	t.Helper()
	if opts.Manager == nil {
		opts.Manager = testManager(t)
	}
	return NewServer(opts)
}

func diagramPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 48, 48))
	for x := 0; x < 48; x += 4 {
		for y := 0; y < 48; y++ {
			img.Set(x, y, color.RGBA{R: 20, G: 180, B: 20, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func multipartDiagram(t *testing.T, goal string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("image", "diagram.png")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(diagramPNG(t)); err != nil {
		t.Fatal(err)
	}
	if goal != "" {
		if err := mw.WriteField("goal", goal); err != nil {
			t.Fatal(err)
		}
	}
	mw.Close()
	return &body, mw.FormDataContentType()
}

func decodeBody(t *testing.T, res *http.Response, v interface{}) {
	t.Helper()
	defer res.Body.Close()
	if err := json.NewDecoder(res.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// waitForJob polls until the job leaves the running state.
func waitForJob(t *testing.T, srv *httptest.Server, token, id string) *Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/topology/jobs/"+id, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		res, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		var job Job
		decodeBody(t, res, &job)
		if job.State != JobRunning {
			return &job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job did not finish in time")
	return nil
}

func TestServer_Health(t *testing.T) {
	s := newTestServer(t, Options{Version: "1.2.3"})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	res, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	var body map[string]string
	decodeBody(t, res, &body)
	if body["status"] != "ok" || body["version"] != "1.2.3" {
		t.Errorf("body = %v", body)
	}
}

func TestServer_AuthRequired(t *testing.T) {
	s := newTestServer(t, Options{AuthToken: "secret"})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	// Health stays open.
	res, _ := http.Get(srv.URL + "/healthz")
	if res.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", res.StatusCode)
	}
	res.Body.Close()

	// Sessions requires the token.
	res, _ = http.Get(srv.URL + "/v1/sessions")
	if res.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", res.StatusCode)
	}
	res.Body.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer secret")
	res, _ = http.DefaultClient.Do(req)
	if res.StatusCode != http.StatusOK {
		t.Errorf("authenticated status = %d, want 200", res.StatusCode)
	}
	res.Body.Close()

	// Query-parameter token works for websocket-style clients.
	res, _ = http.Get(srv.URL + "/v1/sessions?token=secret")
	if res.StatusCode != http.StatusOK {
		t.Errorf("query-token status = %d, want 200", res.StatusCode)
	}
	res.Body.Close()

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	res, _ = http.DefaultClient.Do(req)
	if res.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong-token status = %d, want 401", res.StatusCode)
	}
	res.Body.Close()
}

func TestServer_SessionsList(t *testing.T) {
	m := testManager(t)
	if _, err := m.NewSession(context.Background()); err != nil {
		t.Fatal(err)
	}
	s := newTestServer(t, Options{Manager: m})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	res, err := http.Get(srv.URL + "/v1/sessions")
	if err != nil {
		t.Fatal(err)
	}
	var body struct {
		Sessions []*store.Session `json:"sessions"`
	}
	decodeBody(t, res, &body)
	if len(body.Sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(body.Sessions))
	}
	if body.Sessions[0].State != store.StateEmpty {
		t.Errorf("state = %s", body.Sessions[0].State)
	}
}

func TestServer_TopologyJobFlow(t *testing.T) {
	openai := &scriptClient{name: "openai", outputs: []string{"OPENAI-DRAFT", "REVISED-GEMINI"}}
	google := &scriptClient{name: "google", outputs: []string{"GEMINI-DRAFT", "REVISED-OPENAI", "# Final Config\nrouter ospf 1"}}
	s := newTestServer(t, Options{Pipeline: testPipeline(openai, google)})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	body, ctype := multipartDiagram(t, "full mesh OSPF")
	res, err := http.Post(srv.URL+"/v1/topology/generate", ctype, body)
	if err != nil {
		t.Fatal(err)
	}
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("generate status = %d, want 202", res.StatusCode)
	}
	var accepted map[string]string
	decodeBody(t, res, &accepted)
	id := accepted["job_id"]
	if id == "" {
		t.Fatal("no job_id in response")
	}

	job := waitForJob(t, srv, "", id)
	if job.State != JobDone {
		t.Fatalf("job state = %q (error %q)", job.State, job.Error)
	}
	if job.Result == nil || job.Result.Final != "# Final Config\nrouter ospf 1" {
		t.Errorf("result = %+v", job.Result)
	}
	if job.Result.InitialOpenAI != "OPENAI-DRAFT" || job.Result.RevisedGoogle != "REVISED-GEMINI" {
		t.Errorf("intermediates not populated: %+v", job.Result)
	}
	if len(job.Events) != 10 {
		t.Errorf("events = %d, want 10 (5 started + 5 done)", len(job.Events))
	}

	// Download the config.
	res, err = http.Get(srv.URL + "/v1/topology/jobs/" + id + "/config")
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("config status = %d", res.StatusCode)
	}
	if cd := res.Header.Get("Content-Disposition"); !strings.Contains(cd, topology.ConfigFilename) {
		t.Errorf("Content-Disposition = %q", cd)
	}
	data, _ := io.ReadAll(res.Body)
	if string(data) != "# Final Config\nrouter ospf 1" {
		t.Errorf("download = %q", data)
	}
}

func TestServer_GenerateValidation(t *testing.T) {
	s := newTestServer(t, Options{Pipeline: testPipeline(
		&scriptClient{name: "openai"}, &scriptClient{name: "google"})})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	// Missing image.
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("goal", "anything")
	mw.Close()
	res, _ := http.Post(srv.URL+"/v1/topology/generate", mw.FormDataContentType(), &body)
	if res.StatusCode != http.StatusBadRequest {
		t.Errorf("missing image status = %d, want 400", res.StatusCode)
	}
	res.Body.Close()

	// Missing goal.
	b2, ctype := multipartDiagram(t, "")
	res, _ = http.Post(srv.URL+"/v1/topology/generate", ctype, b2)
	if res.StatusCode != http.StatusBadRequest {
		t.Errorf("missing goal status = %d, want 400", res.StatusCode)
	}
	res.Body.Close()
}

func TestServer_FailedJobReportsError(t *testing.T) {
	openai := &scriptClient{name: "openai", err: errors.New("api down")}
	google := &scriptClient{name: "google", outputs: []string{"GEMINI-DRAFT"}}
	s := newTestServer(t, Options{Pipeline: testPipeline(openai, google)})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	body, ctype := multipartDiagram(t, "goal")
	res, _ := http.Post(srv.URL+"/v1/topology/generate", ctype, body)
	var accepted map[string]string
	decodeBody(t, res, &accepted)

	job := waitForJob(t, srv, "", accepted["job_id"])
	if job.State != JobFailed {
		t.Fatalf("state = %q, want failed", job.State)
	}
	if job.Error == "" {
		t.Error("failed job must carry the error")
	}

	// Config download refuses unfinished work.
	res, _ = http.Get(srv.URL + "/v1/topology/jobs/" + accepted["job_id"] + "/config")
	if res.StatusCode != http.StatusConflict {
		t.Errorf("config status = %d, want 409", res.StatusCode)
	}
	res.Body.Close()
}

func TestServer_JobNotFound(t *testing.T) {
	s := newTestServer(t, Options{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	res, _ := http.Get(srv.URL + "/v1/topology/jobs/nope")
	if res.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", res.StatusCode)
	}
	res.Body.Close()
}

func TestServer_Explain(t *testing.T) {
	openai := &scriptClient{name: "openai", outputs: []string{"It routes packets."}}
	s := newTestServer(t, Options{Pipeline: testPipeline(openai, &scriptClient{name: "google"})})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	payload, _ := json.Marshal(map[string]string{"config": "router ospf 1"})
	res, err := http.Post(srv.URL+"/v1/topology/explain", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	var body map[string]string
	decodeBody(t, res, &body)
	if body["explanation"] != "It routes packets." {
		t.Errorf("explanation = %q", body["explanation"])
	}

	// Empty config rejected.
	res, _ = http.Post(srv.URL+"/v1/topology/explain", "application/json", strings.NewReader(`{}`))
	if res.StatusCode != http.StatusBadRequest {
		t.Errorf("empty config status = %d, want 400", res.StatusCode)
	}
	res.Body.Close()
}

func TestServer_RateLimit(t *testing.T) {
	s := newTestServer(t, Options{RateLimitRPS: 1, RateBurst: 2})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	var limited bool
	for i := 0; i < 5; i++ {
		res, err := http.Get(srv.URL + "/v1/sessions")
		if err != nil {
			t.Fatal(err)
		}
		if res.StatusCode == http.StatusTooManyRequests {
			limited = true
		}
		res.Body.Close()
	}
	if !limited {
		t.Error("burst of 5 against burst=2 should hit the limit")
	}
}
