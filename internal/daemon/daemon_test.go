package daemon_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"deckforge/internal/api"
	"deckforge/internal/batch"
	"deckforge/internal/cache"
	"deckforge/internal/config"
	"deckforge/internal/daemon"
	"deckforge/internal/job"
	"deckforge/internal/logging"
	"deckforge/internal/pipeline"
	"deckforge/internal/testsupport"
	"deckforge/internal/workers"
)

// fakeWorkerService stands in for the scriptgen, speech, and render
// services. Each stage returns a canned payload; stages listed in failing
// return HTTP 500 until removed.
type fakeWorkerService struct {
	mu      sync.Mutex
	failing map[string]bool
}

func (f *fakeWorkerService) setFailing(stage string, failing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing == nil {
		f.failing = make(map[string]bool)
	}
	f.failing[stage] = failing
}

func (f *fakeWorkerService) isFailing(stage string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failing[stage]
}

func (f *fakeWorkerService) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v1/stages/", func(w http.ResponseWriter, r *http.Request) {
		stageName := strings.TrimPrefix(r.URL.Path, "/v1/stages/")
		if f.isFailing(stageName) {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"error": "synthetic outage"})
			return
		}
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

type fixture struct {
	daemon *daemon.Daemon
	client *api.Client
	cfg    *config.Config
}

func newFixture(t *testing.T, workerSrv *httptest.Server, opts ...testsupport.ConfigOption) *fixture {
	t.Helper()

	opts = append([]testsupport.ConfigOption{testsupport.WithWorkerEndpoints(workerSrv.URL)}, opts...)
	cfg := testsupport.NewConfig(t, opts...)

	definitions, err := pipeline.LoadDefinitions()
	if err != nil {
		t.Fatalf("load definitions: %v", err)
	}
	registry := testsupport.MustOpenRegistry(t, cfg, definitions.StageTemplates())

	workerRegistry, err := workers.FromConfig(cfg)
	if err != nil {
		t.Fatalf("workers.FromConfig: %v", err)
	}

	durable, err := cache.NewSQLiteTier(registry.DB())
	if err != nil {
		t.Fatalf("cache.NewSQLiteTier: %v", err)
	}
	resultCache := cache.New(cache.Options{
		MaxEntries: cfg.Cache.MaxEntries,
		DefaultTTL: time.Duration(cfg.Cache.DefaultTTLSeconds) * time.Second,
		Durable:    durable,
		Logger:     logging.NewNop(),
	})

	executor := pipeline.NewExecutor(registry, resultCache, workerRegistry, logging.NewNop(),
		time.Duration(cfg.Pipeline.StageTimeoutSeconds)*time.Second)
	orchestrator := pipeline.NewOrchestrator(registry, executor, logging.NewNop(), cfg.Pipeline.MaxConcurrentJobs)
	coordinator := batch.NewCoordinator(registry, orchestrator,
		time.Duration(cfg.Pipeline.BatchStaggerMillis)*time.Millisecond, logging.NewNop())

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

	clientOpts := []api.ClientOption{}
	if cfg.Paths.APIToken != "" {
		clientOpts = append(clientOpts, api.WithToken(cfg.Paths.APIToken))
	}
	return &fixture{
		daemon: d,
		client: api.NewClient(d.Addr(), clientOpts...),
		cfg:    cfg,
	}
}

func (f *fixture) waitForJobStatus(t *testing.T, id int64, want string) *api.JobView {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		view, err := f.client.GetJob(context.Background(), id)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if view.Status == want {
			return view
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("job %d never reached %s", id, want)
	return nil
}

func TestDaemonEndToEnd(t *testing.T) {
	workerSrv := httptest.NewServer((&fakeWorkerService{}).handler())
	defer workerSrv.Close()
	f := newFixture(t, workerSrv)
	ctx := context.Background()

	deckPath := testsupport.WriteDeck(t, t.TempDir(), "q3_review.pptx", 3)
	submitted, err := f.client.SubmitJob(ctx, "slidedeck", deckPath)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if submitted.Status != string(job.StatusPending) && submitted.Status != string(job.StatusRunning) {
		t.Fatalf("unexpected initial status %s", submitted.Status)
	}

	done := f.waitForJobStatus(t, submitted.ID, string(job.StatusCompleted))
	if done.Progress != 100 {
		t.Fatalf("expected progress 100, got %d", done.Progress)
	}
	if done.Result["video_url"] == nil {
		t.Fatalf("expected render result, got %v", done.Result)
	}
	if len(done.Stages) != 5 {
		t.Fatalf("expected 5 stage views, got %d", len(done.Stages))
	}

	jobs, err := f.client.ListJobs(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != submitted.ID {
		t.Fatalf("unexpected job list %+v", jobs)
	}

	status, err := f.client.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.Running || len(status.Pipelines) != 3 {
		t.Fatalf("unexpected status %+v", status)
	}
	for _, worker := range status.Workers {
		if !worker.Ready {
			t.Fatalf("worker %s should be ready", worker.Name)
		}
	}
}

func TestDaemonOwnershipIsolation(t *testing.T) {
	workerSrv := httptest.NewServer((&fakeWorkerService{}).handler())
	defer workerSrv.Close()
	f := newFixture(t, workerSrv)
	ctx := context.Background()

	deckPath := testsupport.WriteDeck(t, t.TempDir(), "mine.pptx", 1)
	submitted, err := f.client.SubmitJob(ctx, "slidedeck", deckPath)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	stranger := api.NewClient(f.daemon.Addr(), api.WithOwner("someone-else"))
	if _, err := stranger.GetJob(ctx, submitted.ID); err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected 403 for foreign owner, got %v", err)
	}
	if _, err := f.client.GetJob(ctx, submitted.ID+999); err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected 404 for unknown job, got %v", err)
	}
}

func TestDaemonRejectsInvalidUploads(t *testing.T) {
	workerSrv := httptest.NewServer((&fakeWorkerService{}).handler())
	defer workerSrv.Close()
	f := newFixture(t, workerSrv)
	ctx := context.Background()

	bogus := t.TempDir() + "/notes.txt"
	testsupport.WriteFile(t, bogus, 64)
	if _, err := f.client.SubmitJob(ctx, "slidedeck", bogus); err == nil || !strings.Contains(err.Error(), "422") {
		t.Fatalf("expected 422 for non-deck upload, got %v", err)
	}

	deckPath := testsupport.WriteDeck(t, t.TempDir(), "ok.pptx", 1)
	if _, err := f.client.SubmitJob(ctx, "nonexistent", deckPath); err == nil || !strings.Contains(err.Error(), "422") {
		t.Fatalf("expected 422 for unknown pipeline, got %v", err)
	}
}

func TestDaemonRetryFlow(t *testing.T) {
	fake := &fakeWorkerService{}
	fake.setFailing("narration", true)
	workerSrv := httptest.NewServer(fake.handler())
	defer workerSrv.Close()
	f := newFixture(t, workerSrv)
	ctx := context.Background()

	deckPath := testsupport.WriteDeck(t, t.TempDir(), "flaky.pptx", 2)
	submitted, err := f.client.SubmitJob(ctx, "slidedeck", deckPath)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	failed := f.waitForJobStatus(t, submitted.ID, string(job.StatusFailed))
	if failed.Error == "" {
		t.Fatal("expected job error after stage failure")
	}

	// Retrying a stage that never ran is rejected. A 409 here only means the
	// failed job's goroutine has not settled yet.
	if _, err := retryUntilIdle(ctx, f, submitted.ID, "render"); err == nil || !strings.Contains(err.Error(), "422") {
		t.Fatalf("expected 422 retrying pending stage, got %v", err)
	}

	fake.setFailing("narration", false)
	retried, err := retryUntilIdle(ctx, f, submitted.ID, "narration")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retried.Status == string(job.StatusFailed) && retried.Error != "" {
		t.Fatalf("retry snapshot still failed: %+v", retried)
	}

	done := f.waitForJobStatus(t, submitted.ID, string(job.StatusCompleted))
	for _, st := range done.Stages {
		if st.Name == "narration" && st.Attempt != 2 {
			t.Fatalf("expected narration attempt 2, got %d", st.Attempt)
		}
	}

	// A completed stage can be forced back through processing too.
	if _, err := retryUntilIdle(ctx, f, submitted.ID, "render"); err != nil {
		t.Fatalf("retry completed stage: %v", err)
	}
	done = f.waitForJobStatus(t, submitted.ID, string(job.StatusCompleted))
	for _, st := range done.Stages {
		if st.Name == "render" && st.Attempt != 2 {
			t.Fatalf("expected render attempt 2 after re-run, got %d", st.Attempt)
		}
	}
	if done.Result["video_url"] == nil {
		t.Fatalf("expected render result after re-run, got %v", done.Result)
	}
}

// retryUntilIdle absorbs the window where the failed job's orchestration
// goroutine has not yet settled and the retry reports a conflict.
func retryUntilIdle(ctx context.Context, f *fixture, id int64, stage string) (*api.JobView, error) {
	deadline := time.Now().Add(5 * time.Second)
	for {
		view, err := f.client.RetryJob(ctx, id, stage)
		if err == nil {
			return view, nil
		}
		if !strings.Contains(err.Error(), "409") || time.Now().After(deadline) {
			return nil, err
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestDaemonCancelFlow(t *testing.T) {
	workerSrv := httptest.NewServer((&fakeWorkerService{}).handler())
	defer workerSrv.Close()
	f := newFixture(t, workerSrv)
	ctx := context.Background()

	deckPath := testsupport.WriteDeck(t, t.TempDir(), "done.pptx", 1)
	submitted, err := f.client.SubmitJob(ctx, "slidedeck", deckPath)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	f.waitForJobStatus(t, submitted.ID, string(job.StatusCompleted))

	// Terminal jobs reject cancellation.
	if err := f.client.CancelJob(ctx, submitted.ID); err == nil || !strings.Contains(err.Error(), "409") {
		t.Fatalf("expected 409 cancelling completed job, got %v", err)
	}

	// Settled jobs can be removed.
	if err := f.client.RemoveJob(ctx, submitted.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := f.client.GetJob(ctx, submitted.ID); err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected 404 after removal, got %v", err)
	}
}

func TestDaemonBatchFlow(t *testing.T) {
	workerSrv := httptest.NewServer((&fakeWorkerService{}).handler())
	defer workerSrv.Close()
	f := newFixture(t, workerSrv)
	ctx := context.Background()

	dir := t.TempDir()
	paths := []string{
		testsupport.WriteDeck(t, dir, "one.pptx", 1),
		testsupport.WriteDeck(t, dir, "two.pptx", 2),
	}
	submitted, err := f.client.SubmitBatch(ctx, "slidedeck", paths)
	if err != nil {
		t.Fatalf("submit batch: %v", err)
	}
	if submitted.Total != 2 {
		t.Fatalf("expected 2 batch jobs, got %d", submitted.Total)
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		view, err := f.client.GetBatch(ctx, submitted.BatchID)
		if err != nil {
			t.Fatalf("get batch: %v", err)
		}
		if view.Settled {
			if view.Completed != 2 || view.OverallProgress != 100 {
				t.Fatalf("unexpected settled batch %+v", view)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("batch never settled: %+v", view)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestDaemonCacheEndpoints(t *testing.T) {
	workerSrv := httptest.NewServer((&fakeWorkerService{}).handler())
	defer workerSrv.Close()
	f := newFixture(t, workerSrv)
	ctx := context.Background()

	deckPath := testsupport.WriteDeck(t, t.TempDir(), "cached.pptx", 1)
	submitted, err := f.client.SubmitJob(ctx, "slidedeck", deckPath)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	f.waitForJobStatus(t, submitted.ID, string(job.StatusCompleted))

	stats, err := f.client.CacheStats(ctx)
	if err != nil {
		t.Fatalf("cache stats: %v", err)
	}
	if stats.Entries == 0 {
		t.Fatal("expected cached stage results")
	}
	if stats.DurableBackend != "sqlite" {
		t.Fatalf("expected sqlite durable tier, got %q", stats.DurableBackend)
	}

	removed, err := f.client.CacheInvalidate(ctx, "^slidedeck:")
	if err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if removed == 0 {
		t.Fatal("expected invalidation to remove entries")
	}
}

func TestDaemonAuth(t *testing.T) {
	workerSrv := httptest.NewServer((&fakeWorkerService{}).handler())
	defer workerSrv.Close()
	f := newFixture(t, workerSrv, testsupport.WithAPIToken("hunter2"))
	ctx := context.Background()

	anonymous := api.NewClient(f.daemon.Addr())
	if _, err := anonymous.Status(ctx); err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected 401 without token, got %v", err)
	}
	if _, err := f.client.Status(ctx); err != nil {
		t.Fatalf("authorized status: %v", err)
	}
}

func TestDaemonSingleInstance(t *testing.T) {
	workerSrv := httptest.NewServer((&fakeWorkerService{}).handler())
	defer workerSrv.Close()
	f := newFixture(t, workerSrv)

	definitions, err := pipeline.LoadDefinitions()
	if err != nil {
		t.Fatalf("load definitions: %v", err)
	}
	cfg := *f.cfg
	registry := testsupport.MustOpenRegistry(t, &cfg, definitions.StageTemplates())
	workerRegistry, err := workers.FromConfig(&cfg)
	if err != nil {
		t.Fatalf("workers.FromConfig: %v", err)
	}
	executor := pipeline.NewExecutor(registry, nil, workerRegistry, logging.NewNop(), time.Minute)
	orchestrator := pipeline.NewOrchestrator(registry, executor, logging.NewNop(), 1)
	coordinator := batch.NewCoordinator(registry, orchestrator, 0, logging.NewNop())

	second, err := daemon.New(daemon.Options{
		Config:       &cfg,
		Logger:       logging.NewNop(),
		Registry:     registry,
		Orchestrator: orchestrator,
		Executor:     executor,
		Coordinator:  coordinator,
		Definitions:  definitions,
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := second.Start(context.Background()); err == nil {
		second.Stop()
		t.Fatal("expected second daemon instance to be rejected")
	}
}
