package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"deckforge/internal/api"
	"deckforge/internal/batch"
	"deckforge/internal/cache"
	"deckforge/internal/config"
	"deckforge/internal/daemon"
	"deckforge/internal/logging"
	"deckforge/internal/pipeline"
	"deckforge/internal/testsupport"
	"deckforge/internal/workers"
)

type cliTestEnv struct {
	cfg    *config.Config
	daemon *daemon.Daemon
	client *api.Client
	addr   string
	deck   string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	workerSrv := httptest.NewServer(fakeWorkerHandler())
	t.Cleanup(workerSrv.Close)

	cfg := testsupport.NewConfig(t, testsupport.WithWorkerEndpoints(workerSrv.URL))

	definitions, err := pipeline.LoadDefinitions()
	if err != nil {
		t.Fatalf("load definitions: %v", err)
	}
	registry := testsupport.MustOpenRegistry(t, cfg, definitions.StageTemplates())

	workerRegistry, err := workers.FromConfig(cfg)
	if err != nil {
		t.Fatalf("workers.FromConfig: %v", err)
	}

	resultCache := cache.New(cache.Options{
		MaxEntries: cfg.Cache.MaxEntries,
		DefaultTTL: time.Duration(cfg.Cache.DefaultTTLSeconds) * time.Second,
		Logger:     logging.NewNop(),
	})

	executor := pipeline.NewExecutor(registry, resultCache, workerRegistry, logging.NewNop(),
		time.Duration(cfg.Pipeline.StageTimeoutSeconds)*time.Second)
	orchestrator := pipeline.NewOrchestrator(registry, executor, logging.NewNop(), cfg.Pipeline.MaxConcurrentJobs)
	coordinator := batch.NewCoordinator(registry, orchestrator, 0, logging.NewNop())

	d, err := daemon.New(daemon.Options{
		Config:       cfg,
		Logger:       logging.NewNop(),
		Registry:     registry,
		Orchestrator: orchestrator,
		Executor:     executor,
		Coordinator:  coordinator,
		Cache:        resultCache,
		Definitions:  definitions,
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}
	t.Cleanup(d.Stop)

	return &cliTestEnv{
		cfg:    cfg,
		daemon: d,
		client: api.NewClient(d.Addr()),
		addr:   d.Addr(),
		deck:   testsupport.WriteDeck(t, t.TempDir(), "launch-deck.pptx", 3),
	}
}

func fakeWorkerHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v1/stages/", func(w http.ResponseWriter, r *http.Request) {
		stageName := strings.TrimPrefix(r.URL.Path, "/v1/stages/")
		var req struct {
			JobID int64 `json:"job_id"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		output := map[string]any{stageName + "_artifact": fmt.Sprintf("%s-%d", stageName, req.JobID)}
		if stageName == "render" {
			output["video_url"] = fmt.Sprintf("/videos/%d.mp4", req.JobID)
		}
		json.NewEncoder(w).Encode(map[string]any{"output": output})
	})
	return mux
}

func runCLI(t *testing.T, env *cliTestEnv, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--addr", env.addr, "--config", env.cfg.Paths.DataDir + "/no-config.toml"}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func (env *cliTestEnv) waitForJobStatus(t *testing.T, id int64, want string) *api.JobView {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		view, err := env.client.GetJob(context.Background(), id)
		if err == nil && view.Status == want {
			return view
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("job %d did not reach status %s", id, want)
	return nil
}

func TestCLIStatusCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "running")
	requireContains(t, out, "slidedeck")
	requireContains(t, out, "scriptgen")

	out, _, err = runCLI(t, env, "pipelines")
	if err != nil {
		t.Fatalf("pipelines: %v", err)
	}
	requireContains(t, out, "captions")
	requireContains(t, out, "ingest > script > storyboard > narration > render")

	out, _, err = runCLI(t, env, "status", "--json")
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}
	var status api.StatusView
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("decode status JSON: %v", err)
	}
	if !status.Running {
		t.Fatal("expected running daemon in JSON output")
	}
}

func TestCLISubmitAndJobLifecycle(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env, "submit", env.deck)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	requireContains(t, out, "accepted")

	out, _, err = runCLI(t, env, "submit", "--json", testsupport.WriteDeck(t, t.TempDir(), "second.pptx", 2))
	if err != nil {
		t.Fatalf("submit --json: %v", err)
	}
	var submitted api.JobView
	if err := json.Unmarshal([]byte(out), &submitted); err != nil {
		t.Fatalf("decode submit JSON: %v", err)
	}
	env.waitForJobStatus(t, submitted.ID, "completed")

	out, _, err = runCLI(t, env, "jobs", "list")
	if err != nil {
		t.Fatalf("jobs list: %v", err)
	}
	requireContains(t, out, "second.pptx")
	requireContains(t, out, "launch-deck.pptx")

	out, _, err = runCLI(t, env, "jobs", "show", fmt.Sprintf("%d", submitted.ID))
	if err != nil {
		t.Fatalf("jobs show: %v", err)
	}
	requireContains(t, out, "completed")
	requireContains(t, out, "render")
	requireContains(t, out, "video_url")

	out, _, err = runCLI(t, env, "jobs", "remove", fmt.Sprintf("%d", submitted.ID))
	if err != nil {
		t.Fatalf("jobs remove: %v", err)
	}
	requireContains(t, out, "Removed job")

	if _, _, err = runCLI(t, env, "jobs", "show", fmt.Sprintf("%d", submitted.ID)); err == nil {
		t.Fatal("expected error showing a removed job")
	}
}

func TestCLIJobsRetryRequiresStage(t *testing.T) {
	env := setupCLITestEnv(t)

	if _, _, err := runCLI(t, env, "jobs", "retry", "7"); err == nil {
		t.Fatal("expected retry without --stage to fail")
	}
	if _, _, err := runCLI(t, env, "jobs", "show", "not-a-number"); err == nil {
		t.Fatal("expected invalid job id to fail")
	}
}

func TestCLIBatchCommands(t *testing.T) {
	env := setupCLITestEnv(t)

	deckDir := t.TempDir()
	first := testsupport.WriteDeck(t, deckDir, "alpha.pptx", 2)
	second := testsupport.WriteDeck(t, deckDir, "beta.pptx", 2)

	out, _, err := runCLI(t, env, "batch", "submit", "--json", first, second)
	if err != nil {
		t.Fatalf("batch submit: %v", err)
	}
	var view api.BatchView
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("decode batch JSON: %v", err)
	}
	if view.Total != 2 {
		t.Fatalf("expected 2 batch jobs, got %d", view.Total)
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		status, err := env.client.GetBatch(context.Background(), view.BatchID)
		if err == nil && status.Settled {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	out, _, err = runCLI(t, env, "batch", "status", view.BatchID)
	if err != nil {
		t.Fatalf("batch status: %v", err)
	}
	requireContains(t, out, "settled")
	requireContains(t, out, "alpha.pptx")

	out, _, err = runCLI(t, env, "batch", "cancel", view.BatchID)
	if err != nil {
		t.Fatalf("batch cancel: %v", err)
	}
	requireContains(t, out, "Cancellation requested for 0 jobs")
}

func TestCLICacheCommands(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env, "submit", "--json", env.deck)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	var submitted api.JobView
	if err := json.Unmarshal([]byte(out), &submitted); err != nil {
		t.Fatalf("decode submit JSON: %v", err)
	}
	env.waitForJobStatus(t, submitted.ID, "completed")

	out, _, err = runCLI(t, env, "cache", "stats")
	if err != nil {
		t.Fatalf("cache stats: %v", err)
	}
	requireContains(t, out, "Entries")
	requireContains(t, out, "Durable tier")

	out, _, err = runCLI(t, env, "cache", "invalidate", "^slidedeck:")
	if err != nil {
		t.Fatalf("cache invalidate: %v", err)
	}
	requireContains(t, out, "Removed")
}
