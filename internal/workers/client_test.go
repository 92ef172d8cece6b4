package workers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"deckforge/internal/config"
	"deckforge/internal/job"
	"deckforge/internal/services"
	"deckforge/internal/stage"
)

func testEndpoint(url string) config.WorkerEndpoint {
	return config.WorkerEndpoint{BaseURL: url, APIKey: "secret", TimeoutSeconds: 5}
}

func testInput() stage.Input {
	return stage.Input{
		JobID:          7,
		Kind:           "slidedeck",
		Stage:          "script",
		SourcePath:     "/uploads/deck.pptx",
		SourceName:     "deck.pptx",
		Prior:          map[string]job.Payload{"ingest": {"slide_count": 12.0}},
		IdempotencyKey: "attempt-key-1",
		Attempt:        1,
	}
}

func TestInvokeSuccess(t *testing.T) {
	var got stageRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/stages/script" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer token")
		}
		if r.Header.Get("Idempotency-Key") != "attempt-key-1" {
			t.Errorf("missing idempotency key header")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(stageResponse{Output: job.Payload{"script_text": "hello"}})
	}))
	defer server.Close()

	client, err := NewClient("scriptgen", testEndpoint(server.URL))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	output, err := client.Invoke(context.Background(), testInput())
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if output["script_text"] != "hello" {
		t.Fatalf("unexpected output %v", output)
	}
	if got.JobID != 7 || got.Stage != "script" || got.Attempt != 1 {
		t.Fatalf("request not forwarded faithfully: %+v", got)
	}
}

func TestInvokeClassifiesRemoteFailures(t *testing.T) {
	cases := []struct {
		status int
		marker error
	}{
		{http.StatusUnprocessableEntity, services.ErrValidation},
		{http.StatusTooManyRequests, services.ErrTransient},
		{http.StatusBadGateway, services.ErrTransient},
	}
	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
			json.NewEncoder(w).Encode(stageResponse{Error: "remote detail"})
		}))
		client, err := NewClient("scriptgen", testEndpoint(server.URL))
		if err != nil {
			t.Fatalf("new client: %v", err)
		}
		_, err = client.Invoke(context.Background(), testInput())
		server.Close()
		if !errors.Is(err, tc.marker) {
			t.Errorf("status %d: expected %v, got %v", tc.status, tc.marker, err)
		}
	}
}

func TestInvokeUnreachableService(t *testing.T) {
	client, err := NewClient("scriptgen", testEndpoint("http://127.0.0.1:1"))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.Invoke(context.Background(), testInput())
	if !errors.Is(err, services.ErrInfrastructure) {
		t.Fatalf("expected infrastructure error, got %v", err)
	}
}

func TestInvokeTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	client, err := NewClient("scriptgen", testEndpoint(server.URL))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = client.Invoke(ctx, testInput())
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	client, err := NewClient("render", testEndpoint(healthy.URL))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if h := client.HealthCheck(context.Background()); !h.Ready || h.Name != "render" {
		t.Fatalf("expected healthy render worker, got %+v", h)
	}

	down, err := NewClient("render", testEndpoint("http://127.0.0.1:1"))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if h := down.HealthCheck(context.Background()); h.Ready {
		t.Fatal("expected unhealthy worker for unreachable endpoint")
	}
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient("speech", config.WorkerEndpoint{}); err == nil {
		t.Fatal("expected error for missing base url")
	}
}

func TestFromConfigMapsAllStages(t *testing.T) {
	cfg := config.Default()
	cfg.Workers.ScriptGen.BaseURL = "http://scriptgen.local"
	cfg.Workers.Speech.BaseURL = "http://speech.local"
	cfg.Workers.Render.BaseURL = "http://render.local"

	registry, err := FromConfig(&cfg)
	if err != nil {
		t.Fatalf("from config: %v", err)
	}
	for _, stageName := range []string{"script", "storyboard", "narration", "render", "transcribe", "captions", "probe", "evaluate"} {
		if registry[stageName] == nil {
			t.Errorf("stage %q has no worker", stageName)
		}
	}
}
