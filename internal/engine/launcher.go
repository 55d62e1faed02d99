package engine

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/rendis/jobflow/internal/job"
	"github.com/rendis/jobflow/internal/logging"
	"github.com/rendis/jobflow/internal/store"
	"github.com/rendis/jobflow/pkg/schema"
)

// DefaultPoolSize is the default number of executions LaunchAsync runs at once.
const DefaultPoolSize = 10

// ParamValidator checks launch parameters against a job's parameter schema.
type ParamValidator interface {
	ValidateParams(schemaJSON []byte, params map[string]string) error
}

// LauncherConfig holds configuration for the launcher.
type LauncherConfig struct {
	PoolSize  int
	Validator ParamValidator
	Logger    *slog.Logger
}

// Launcher is the entry point callers use to start jobs by name.
type Launcher struct {
	engine    *Engine
	repo      store.Store
	pool      *WorkerPool
	validator ParamValidator
	logger    *slog.Logger

	mu   sync.RWMutex
	jobs map[string]*job.Job
	// running holds the IDs of executions this launcher is driving, and of
	// executions being restarted.
	running map[string]struct{}
}

// NewLauncher creates a launcher running jobs on eng and looking up previous
// executions in repo.
func NewLauncher(eng *Engine, repo store.Store, cfg LauncherConfig) *Launcher {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Launcher{
		engine:    eng,
		repo:      repo,
		pool:      NewWorkerPool(cfg.PoolSize, cfg.Logger),
		validator: cfg.Validator,
		logger:    cfg.Logger.With("component", "launcher"),
		jobs:      make(map[string]*job.Job),
		running:   make(map[string]struct{}),
	}
}

// Register makes jobs launchable by name. Names must be unique; when any
// job is rejected none are registered.
func (l *Launcher) Register(jobs ...*job.Job) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	batch := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		if j == nil {
			return schema.NewError(schema.ErrCodeValidation, "cannot register a nil job")
		}
		if _, exists := l.jobs[j.Name()]; exists || batch[j.Name()] {
			return schema.NewErrorf(schema.ErrCodeConflict, "job %q already registered", j.Name())
		}
		batch[j.Name()] = true
	}
	for _, j := range jobs {
		l.jobs[j.Name()] = j
	}
	return nil
}

// claim marks execution IDs as running. It fails with CONFLICT, claiming
// nothing, when one of them already is.
func (l *Launcher) claim(ids ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range ids {
		if _, busy := l.running[id]; busy {
			return schema.NewErrorf(schema.ErrCodeConflict, "execution %s is still running", id)
		}
	}
	for _, id := range ids {
		l.running[id] = struct{}{}
	}
	return nil
}

func (l *Launcher) release(ids ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range ids {
		delete(l.running, id)
	}
}

// Job looks up a registered job.
func (l *Launcher) Job(name string) (*job.Job, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	j, ok := l.jobs[name]
	return j, ok
}

// Jobs returns the registered jobs sorted by name.
func (l *Launcher) Jobs() []*job.Job {
	l.mu.RLock()
	out := make([]*job.Job, 0, len(l.jobs))
	for _, j := range l.jobs {
		out = append(out, j)
	}
	l.mu.RUnlock()
	sort.Slice(out, func(a, b int) bool { return out[a].Name() < out[b].Name() })
	return out
}

// Launch runs the named job to completion and returns its execution record.
func (l *Launcher) Launch(ctx context.Context, jobName string, params map[string]string) (*store.ExecutionRecord, error) {
	j, err := l.prepare(jobName, params)
	if err != nil {
		return nil, err
	}
	id := uuid.New().String()
	if err := l.claim(id); err != nil {
		return nil, err
	}
	defer l.release(id)
	return l.engine.Run(ctx, j, params, WithExecutionID(id))
}

// LaunchAsync validates the launch, queues it on the worker pool and returns
// the execution ID without waiting. It blocks while the pool is full.
func (l *Launcher) LaunchAsync(ctx context.Context, jobName string, params map[string]string) (string, error) {
	j, err := l.prepare(jobName, params)
	if err != nil {
		return "", err
	}
	id := uuid.New().String()
	if err := l.claim(id); err != nil {
		return "", err
	}
	err = l.pool.Submit(ctx, func(ctx context.Context) error {
		defer l.release(id)
		_, err := l.engine.Run(ctx, j, params, WithExecutionID(id))
		return err
	})
	if err != nil {
		l.release(id)
		return "", err
	}
	logging.LogWith(logging.WithExecution(ctx, id, jobName), l.logger).InfoContext(ctx, "launch queued")
	return id, nil
}

// Restart re-runs the newest incomplete execution of the named job,
// replaying what it already completed. An execution still running here
// cannot be restarted.
func (l *Launcher) Restart(ctx context.Context, jobName string) (*store.ExecutionRecord, error) {
	j, previous, err := l.previous(ctx, jobName)
	if err != nil {
		return nil, err
	}
	id := uuid.New().String()
	if err := l.claim(previous.ID, id); err != nil {
		return nil, err
	}
	defer l.release(previous.ID, id)
	return l.engine.Restart(ctx, j, previous, WithExecutionID(id))
}

// RestartAsync is Restart on the worker pool. It returns the new execution ID.
func (l *Launcher) RestartAsync(ctx context.Context, jobName string) (string, error) {
	j, previous, err := l.previous(ctx, jobName)
	if err != nil {
		return "", err
	}
	id := uuid.New().String()
	if err := l.claim(previous.ID, id); err != nil {
		return "", err
	}
	err = l.pool.Submit(ctx, func(ctx context.Context) error {
		defer l.release(previous.ID, id)
		_, err := l.engine.Restart(ctx, j, previous, WithExecutionID(id))
		return err
	})
	if err != nil {
		l.release(previous.ID, id)
		return "", err
	}
	return id, nil
}

// Wait blocks until every queued launch has finished.
func (l *Launcher) Wait() { l.pool.Wait() }

// Shutdown stops accepting async launches and waits for running ones.
func (l *Launcher) Shutdown() { l.pool.Shutdown() }

// Metrics reports the state of the async launch pool.
func (l *Launcher) Metrics() PoolMetrics { return l.pool.Metrics() }

func (l *Launcher) prepare(jobName string, params map[string]string) (*job.Job, error) {
	j, ok := l.Job(jobName)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "job %q not found", jobName)
	}
	if l.validator != nil && len(j.ParameterSchema()) > 0 {
		if err := l.validator.ValidateParams(j.ParameterSchema(), params); err != nil {
			if jfErr, ok := schema.AsJobflowError(err); ok {
				return nil, jfErr
			}
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid parameters for job %q: %s", jobName, err.Error()).
				WithCause(err)
		}
	}
	return j, nil
}

func (l *Launcher) previous(ctx context.Context, jobName string) (*job.Job, *store.ExecutionRecord, error) {
	j, ok := l.Job(jobName)
	if !ok {
		return nil, nil, schema.NewErrorf(schema.ErrCodeNotFound, "job %q not found", jobName)
	}
	if !j.Restartable() {
		return nil, nil, schema.NewErrorf(schema.ErrCodeNotRestartable, "job %q is not restartable", jobName)
	}
	previous, err := l.repo.LoadLastIncompleteAttempt(ctx, jobName)
	if err != nil {
		return nil, nil, err
	}
	if previous == nil {
		return nil, nil, schema.NewErrorf(schema.ErrCodeNotFound, "job %q has no incomplete execution", jobName)
	}
	return j, previous, nil
}
