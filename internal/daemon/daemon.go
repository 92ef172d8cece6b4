package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"deckforge/internal/batch"
	"deckforge/internal/cache"
	"deckforge/internal/config"
	"deckforge/internal/job"
	"deckforge/internal/logging"
	"deckforge/internal/pipeline"
	"deckforge/internal/stage"
)

// Daemon coordinates background processing and the HTTP API, and enforces
// single-instance execution through a lock file.
type Daemon struct {
	cfg          *config.Config
	logger       *slog.Logger
	registry     *job.Registry
	orchestrator *pipeline.Orchestrator
	executor     *pipeline.Executor
	coordinator  *batch.Coordinator
	cache        *cache.Cache
	definitions  *pipeline.Definitions
	server       *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// Options carries the daemon's wired dependencies.
type Options struct {
	Config       *config.Config
	Logger       *slog.Logger
	Registry     *job.Registry
	Orchestrator *pipeline.Orchestrator
	Executor     *pipeline.Executor
	Coordinator  *batch.Coordinator
	Cache        *cache.Cache
	Definitions  *pipeline.Definitions
}

// New constructs a daemon from its dependencies.
func New(opts Options) (*Daemon, error) {
	if opts.Config == nil || opts.Registry == nil || opts.Orchestrator == nil ||
		opts.Executor == nil || opts.Coordinator == nil || opts.Definitions == nil {
		return nil, errors.New("daemon requires config, registry, orchestrator, executor, coordinator, and definitions")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := filepath.Join(opts.Config.Paths.DataDir, "deckforge.lock")
	d := &Daemon{
		cfg:          opts.Config,
		logger:       logging.NewComponentLogger(logger, "daemon"),
		registry:     opts.Registry,
		orchestrator: opts.Orchestrator,
		executor:     opts.Executor,
		coordinator:  opts.Coordinator,
		cache:        opts.Cache,
		definitions:  opts.Definitions,
		lockPath:     lockPath,
		lock:         flock.New(lockPath),
	}
	server, err := newAPIServer(d, logger)
	if err != nil {
		return nil, err
	}
	d.server = server
	return d, nil
}

// Start acquires the instance lock, starts the orchestrator and cache
// sweeper, resumes interrupted jobs, and brings up the API listener.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another deckforge daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.orchestrator.Start(runCtx); err != nil {
		d.releaseLock()
		cancel()
		return fmt.Errorf("start orchestrator: %w", err)
	}

	if d.cache != nil {
		interval := time.Duration(d.cfg.Cache.SweepIntervalSeconds) * time.Second
		d.cache.StartSweeper(runCtx, interval)
	}

	if d.cfg.Pipeline.ResumeOnStart {
		resumed, err := d.orchestrator.ResumeAll(runCtx)
		if err != nil {
			d.logger.Warn("failed to resume interrupted jobs", logging.Error(err))
		} else if resumed > 0 {
			d.logger.Info("resumed interrupted jobs", logging.Int("jobs", resumed))
		}
	}

	if err := d.server.start(runCtx); err != nil {
		d.orchestrator.Stop()
		d.releaseLock()
		cancel()
		return err
	}

	d.running.Store(true)
	d.logger.Info("deckforge daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop shuts down the API, waits for in-flight jobs to reach a stage
// boundary, and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.server.stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.orchestrator.Stop()
	d.releaseLock()
	d.running.Store(false)
	d.logger.Info("deckforge daemon stopped")
}

// Close stops the daemon and releases its storage handles.
func (d *Daemon) Close() error {
	d.Stop()
	var errs []error
	if d.cache != nil {
		if err := d.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close cache: %w", err))
		}
	}
	if err := d.registry.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close registry: %w", err))
	}
	return errors.Join(errs...)
}

// Addr reports the API listener address, empty until started.
func (d *Daemon) Addr() string {
	return d.server.addr()
}

// Running reports whether the daemon has started.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// WorkerHealth probes every configured worker service.
func (d *Daemon) WorkerHealth(ctx context.Context) []stage.Health {
	return d.executor.WorkerHealth(ctx)
}

func (d *Daemon) releaseLock() {
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
}
