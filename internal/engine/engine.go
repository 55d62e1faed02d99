package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/jobflow/internal/job"
	"github.com/rendis/jobflow/internal/logging"
	"github.com/rendis/jobflow/internal/store"
	"github.com/rendis/jobflow/internal/streaming"
	"github.com/rendis/jobflow/pkg/schema"
)

// Engine drives jobs through their flows. It persists every node attempt
// through the step repository and emits lifecycle events. An Engine is safe
// for concurrent use; each Run is independent.
type Engine struct {
	repo    store.Store
	events  *eventSink
	execFSM *ExecutionFSM
	stepFSM *StepFSM
	logger  *slog.Logger
}

// Option configures an Engine.
type Option func(*engineConfig)

type engineConfig struct {
	logger *slog.Logger
	hub    streaming.EventHub
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *engineConfig) { c.logger = l }
}

// WithEventHub publishes every persisted event to hub as well.
func WithEventHub(hub streaming.EventHub) Option {
	return func(c *engineConfig) { c.hub = hub }
}

// NewEngine creates an Engine backed by repo.
func NewEngine(repo store.Store, opts ...Option) *Engine {
	cfg := engineConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	sink := &eventSink{repo: repo, hub: cfg.hub}
	return &Engine{
		repo:    repo,
		events:  sink,
		execFSM: NewExecutionFSM(sink),
		stepFSM: NewStepFSM(sink),
		logger:  cfg.logger.With("component", "engine"),
	}
}

// ExecutionFSM exposes the execution lifecycle for hook registration.
func (e *Engine) ExecutionFSM() *ExecutionFSM { return e.execFSM }

// StepFSM exposes the node attempt lifecycle for hook registration.
func (e *Engine) StepFSM() *StepFSM { return e.stepFSM }

// RunOption configures a single Run or Restart.
type RunOption func(*runConfig)

type runConfig struct {
	executionID string
}

// WithExecutionID fixes the ID of the execution instead of generating one.
func WithExecutionID(id string) RunOption {
	return func(c *runConfig) { c.executionID = id }
}

// Run executes j from its start node and returns the sealed execution record.
// The error is non-nil only when the run could not be driven to an end:
// the repository refused a commit or ctx was cancelled. In both cases the
// returned record, when present, is sealed FAILED with the fault.
func (e *Engine) Run(ctx context.Context, j *job.Job, params map[string]string, opts ...RunOption) (*store.ExecutionRecord, error) {
	return e.start(ctx, j, params, nil, opts)
}

// Restart launches a new execution of j that replays the nodes previous
// completed and runs the rest. Steps marked AllowRestart always run again.
func (e *Engine) Restart(ctx context.Context, j *job.Job, previous *store.ExecutionRecord, opts ...RunOption) (*store.ExecutionRecord, error) {
	switch {
	case j == nil:
		return nil, schema.NewError(schema.ErrCodeValidation, "job is required")
	case previous == nil:
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "no previous execution of job %q", j.Name())
	case previous.JobName != j.Name():
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"execution %s belongs to job %q, not %q", previous.ID, previous.JobName, j.Name())
	case !j.Restartable():
		return nil, schema.NewErrorf(schema.ErrCodeNotRestartable, "job %q is not restartable", j.Name())
	case previous.Status == schema.ExecutionCompleted:
		return nil, schema.NewErrorf(schema.ErrCodeConflict, "execution %s already completed", previous.ID)
	}
	return e.start(ctx, j, previous.Parameters, previous, opts)
}

func (e *Engine) start(ctx context.Context, j *job.Job, params map[string]string, previous *store.ExecutionRecord, opts []RunOption) (*store.ExecutionRecord, error) {
	if j == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "job is required")
	}
	var cfg runConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.executionID == "" {
		cfg.executionID = uuid.New().String()
	}

	rec := &store.ExecutionRecord{
		ID:         cfg.executionID,
		JobName:    j.Name(),
		Parameters: maps.Clone(params),
		Status:     schema.ExecutionStarting,
		StartTime:  time.Now().UTC(),
	}
	if rec.Parameters == nil {
		rec.Parameters = map[string]string{}
	}
	ln := &launch{}
	if previous != nil {
		rec.RestartOf = previous.ID
		ln.index(previous)
	}

	r := &run{rec: rec, job: j, launch: ln}
	if err := e.createExecution(ctx, r); err != nil {
		return nil, err
	}
	sc := &scope{run: r, ec: newExecContext(rec.ID, j.Name(), rec.Parameters)}
	_, err := e.execute(ctx, r, sc)
	return rec.Clone(), err
}

// launch is what a top-level execution shares with its nested executions.
type launch struct {
	replay map[string]store.StepExecutionRecord
	nested map[string]string
}

// index remembers, per path, the last replayable record of previous.
func (l *launch) index(previous *store.ExecutionRecord) {
	l.replay = make(map[string]store.StepExecutionRecord)
	l.nested = make(map[string]string)
	for _, s := range previous.Steps {
		if s.NestedExecutionID != "" {
			l.nested[s.Path] = s.NestedExecutionID
		}
		if s.Replayable() {
			l.replay[s.Path] = s
		}
	}
}

// run is one execution: the launched job or a nested job inside it.
type run struct {
	rec    *store.ExecutionRecord
	job    *job.Job
	launch *launch
	// outer is the path of this execution within the launched one.
	outer string
}

// scope is where a flow executes: the owning execution, the path prefix of
// its nodes, the context they read and write, and where records go. A nil
// branch appends straight to the execution's step sequence.
type scope struct {
	run    *run
	prefix string
	ec     *execContext
	branch *[]store.StepExecutionRecord
}

func (sc *scope) path(name string) string { return sc.prefix + name }

// within returns a scope for a sub-flow sharing this scope's context and records.
func (sc *scope) within(prefix string) *scope {
	return &scope{run: sc.run, prefix: prefix, ec: sc.ec, branch: sc.branch}
}

func (sc *scope) replayable(path string) (store.StepExecutionRecord, bool) {
	if sc.run.launch.replay == nil {
		return store.StepExecutionRecord{}, false
	}
	rec, ok := sc.run.launch.replay[sc.run.outer+path]
	return rec, ok
}

// outcome is how a node or flow ended. A faulted node routes as FAILED and
// never ends a job successfully.
type outcome struct {
	status  schema.ExitStatus
	faulted bool
	fault   *schema.JobflowError
}

func (e *Engine) createExecution(ctx context.Context, r *run) error {
	if err := e.repo.CreateExecution(ctx, r.rec); err != nil {
		if schema.IsCode(err, schema.ErrCodeConflict) {
			return err
		}
		return repositoryCommit("", fmt.Errorf("create execution %s: %w", r.rec.ID, err))
	}
	return nil
}

// execute drives a created execution to its end and seals the record.
func (e *Engine) execute(ctx context.Context, r *run, sc *scope) (outcome, error) {
	ctx = logging.WithExecution(ctx, r.rec.ID, r.job.Name())
	log := logging.LogWith(ctx, e.logger)

	e.executionTransition(ctx, r, schema.ExecutionStarting, schema.ExecutionStarted, map[string]any{
		"parameters": r.rec.Parameters,
		"parent_id":  r.rec.ParentID,
		"restart_of": r.rec.RestartOf,
	})
	r.rec.Status = schema.ExecutionStarted
	if err := e.repo.SaveExecution(ctx, r.rec); err != nil {
		out := outcome{status: schema.StatusFailed, fault: repositoryCommit("", err)}
		return out, e.seal(ctx, r, out, out.fault)
	}
	log.InfoContext(ctx, "execution started", "restart_of", r.rec.RestartOf, "parent_id", r.rec.ParentID)

	out, fatal := e.runFlow(ctx, sc, r.job.Flow())
	err := e.seal(ctx, r, out, fatal)

	attrs := []any{logging.Status(r.rec.Status), "final_status", string(out.status)}
	if out.fault != nil {
		attrs = append(attrs, logging.Err(out.fault))
	}
	if r.rec.Status == schema.ExecutionCompleted {
		log.InfoContext(ctx, "execution finished", attrs...)
	} else {
		log.WarnContext(ctx, "execution finished", attrs...)
	}
	return out, err
}

// seal records the final status and persists the record. The seal survives
// cancellation of ctx.
func (e *Engine) seal(ctx context.Context, r *run, out outcome, fatal error) error {
	ctx = context.WithoutCancel(ctx)
	if out.status == "" {
		out.status = schema.StatusFailed
	}
	end := time.Now().UTC()
	r.rec.FinalStatus = out.status
	r.rec.Fault = out.fault
	r.rec.EndTime = &end

	next := schema.ExecutionStatusFor(out.status)
	payload := map[string]any{"final_status": out.status}
	if out.fault != nil {
		payload["fault"] = out.fault
	}
	e.executionTransition(ctx, r, r.rec.Status, next, payload)
	r.rec.Status = next

	if err := e.repo.SaveExecution(ctx, r.rec); err != nil {
		logging.LogWith(ctx, e.logger).ErrorContext(ctx, "seal execution", logging.Err(err))
		if fatal == nil {
			fatal = repositoryCommit("", err)
		}
	}
	return fatal
}

// runFlow walks f from its start node until a terminal target or an
// unresolvable status. A non-nil error aborts the whole execution.
func (e *Engine) runFlow(ctx context.Context, sc *scope, f *job.Flow) (outcome, error) {
	node := f.Start()
	for {
		path := sc.path(node.Name())
		if err := ctx.Err(); err != nil {
			fault := schema.NewErrorf(schema.ErrCodeCancelled, "execution cancelled before %s", path).
				WithNode(path).WithCause(err)
			return outcome{status: schema.StatusFailed, fault: fault}, fault
		}

		out, err := e.invoke(logging.WithNode(ctx, path), sc, node)
		if err != nil {
			fault, ok := schema.AsJobflowError(err)
			if !ok {
				fault = schema.NewError(schema.ErrCodeRepositoryCommit, err.Error()).WithNode(path).WithCause(err)
			}
			return outcome{status: schema.StatusFailed, fault: fault}, err
		}

		routed := out.status
		if out.faulted {
			routed = schema.StatusFailed
		}

		res := f.Resolve(node.Name(), routed)
		if !res.HasRules && routed.IsReserved() {
			return finish(out, routed), nil
		}
		if !res.Matched {
			return e.unresolved(ctx, sc, path, routed, out), nil
		}

		e.emit(ctx, sc.run, path, schema.EventTransition, store.NodePayload{
			Kind:   string(node.Kind()),
			Status: routed,
			Target: res.Target.String(),
		})
		if status, ok := res.Target.Terminal(); ok {
			return finish(out, status), nil
		}
		next, ok := f.Node(res.Target.Node)
		if !ok {
			// Compile guarantees rule targets exist.
			fault := schema.NewErrorf(schema.ErrCodeValidation, "transition from %s targets unknown node %q", path, res.Target.Node).
				WithNode(path)
			return outcome{status: schema.StatusFailed, fault: fault}, nil
		}
		node = next
	}
}

// finish turns the last node's outcome into the flow's, ending with status.
func finish(last outcome, status schema.ExitStatus) outcome {
	if last.faulted && status == schema.StatusCompleted {
		status = schema.StatusFailed
	}
	out := outcome{status: status}
	if status != schema.StatusCompleted {
		out.fault = last.fault
	}
	return out
}

func (e *Engine) unresolved(ctx context.Context, sc *scope, path string, status schema.ExitStatus, last outcome) outcome {
	fault := schema.NewErrorf(schema.ErrCodeUnresolvedTransition,
		"no transition from %s for status %q", path, status).WithNode(path)
	if last.fault != nil {
		fault = fault.WithCause(last.fault)
	}
	logging.LogWith(ctx, e.logger).WarnContext(ctx, "unresolved transition", logging.Status(status))
	return outcome{status: schema.StatusFailed, fault: fault}
}

func (e *Engine) invoke(ctx context.Context, sc *scope, node job.Node) (outcome, error) {
	switch n := node.(type) {
	case *job.Step:
		return e.runStep(ctx, sc, n)
	case *job.Decider:
		return e.runDecider(ctx, sc, n)
	case *job.Split:
		return e.runSplit(ctx, sc, n)
	case *job.NestedJob:
		return e.runNested(ctx, sc, n)
	case *job.FlowNode:
		return e.runFlowNode(ctx, sc, n)
	default:
		return outcome{}, schema.NewErrorf(schema.ErrCodeValidation, "unsupported node type %T", node).
			WithNode(sc.path(node.Name()))
	}
}

func (e *Engine) runStep(ctx context.Context, sc *scope, s *job.Step) (outcome, error) {
	path := sc.path(s.Name())
	if prev, ok := sc.replayable(path); ok && !s.AllowsRestart() {
		return e.replay(ctx, sc, s, prev)
	}

	rec, err := e.begin(ctx, sc, s)
	if err != nil {
		return outcome{}, err
	}

	h := newStepHandle()
	execErr := protect(func() error { return s.Action().Execute(ctx, sc.ec, h) })
	h.close()
	status, outputs, effect := h.result()
	if execErr == nil && s.StatusMapper() != nil {
		execErr = protect(func() error {
			mapped, err := s.StatusMapper()(ctx, sc.ec, status)
			if err == nil && mapped == "" {
				err = fmt.Errorf("status mapper returned an empty status")
			}
			status = mapped
			return err
		})
	}
	if execErr != nil {
		return e.fault(ctx, sc, rec, stepFault(path, execErr))
	}

	rec.Status = status
	rec.State = stateFor(status)
	rec.Outputs = outputs
	if err := e.record(ctx, &rec, effect); err != nil {
		if jfErr, ok := schema.AsJobflowError(err); ok && jfErr.Code == schema.ErrCodeStepFault {
			rec.Outputs = nil
			return e.fault(ctx, sc, rec, jfErr.WithNode(path))
		}
		return outcome{}, err
	}
	if rec.State == schema.StepStatusCompleted {
		sc.ec.set(outputs)
	}
	if err := e.complete(ctx, sc, rec); err != nil {
		return outcome{}, err
	}
	return outcome{status: status}, nil
}

// replay reuses the record of a previous execution without running the step.
func (e *Engine) replay(ctx context.Context, sc *scope, s *job.Step, prev store.StepExecutionRecord) (outcome, error) {
	path := sc.path(s.Name())
	attemptID, err := e.repo.BeginAttempt(ctx, sc.run.rec.ID, sc.run.job.Name(), path)
	if err != nil {
		return outcome{}, repositoryCommit(path, err)
	}
	now := time.Now().UTC()
	rec := store.StepExecutionRecord{
		AttemptID: attemptID,
		Name:      s.Name(),
		Path:      path,
		Kind:      string(job.KindStep),
		State:     schema.StepStatusReplayed,
		Status:    prev.Status,
		Outputs:   maps.Clone(prev.Outputs),
		StartTime: now,
		EndTime:   &now,
	}
	if err := e.record(ctx, &rec, nil); err != nil {
		return outcome{}, err
	}
	e.stepTransition(ctx, sc.run, path, schema.StepStatusPending, schema.StepStatusReplayed, store.NodePayload{
		Kind:   rec.Kind,
		Status: rec.Status,
	})
	sc.ec.set(rec.Outputs)
	if err := e.appendRecords(ctx, sc, rec); err != nil {
		return outcome{}, err
	}
	return outcome{status: rec.Status}, nil
}

func (e *Engine) runDecider(ctx context.Context, sc *scope, d *job.Decider) (outcome, error) {
	path := sc.path(d.Name())
	rec, err := e.begin(ctx, sc, d)
	if err != nil {
		return outcome{}, err
	}

	var status schema.ExitStatus
	decideErr := protect(func() error {
		var err error
		status, err = d.Decision().Decide(ctx, sc.ec)
		if err == nil && status == "" {
			err = fmt.Errorf("decider returned an empty status")
		}
		return err
	})
	if decideErr != nil {
		return e.fault(ctx, sc, rec, stepFault(path, decideErr))
	}

	rec.Status = status
	rec.State = stateFor(status)
	if err := e.record(ctx, &rec, nil); err != nil {
		return outcome{}, err
	}
	if err := e.complete(ctx, sc, rec); err != nil {
		return outcome{}, err
	}
	return outcome{status: status}, nil
}

// runFlowNode runs an embedded flow inline: same execution, same context.
func (e *Engine) runFlowNode(ctx context.Context, sc *scope, n *job.FlowNode) (outcome, error) {
	path := sc.path(n.Name())
	rec, err := e.begin(ctx, sc, n)
	if err != nil {
		return outcome{}, err
	}
	out, fatal := e.runFlow(ctx, sc.within(path+"/"), n.Flow())
	if fatal != nil {
		return outcome{}, fatal
	}
	return e.composite(ctx, sc, rec, out)
}

// runNested runs a job as a child execution. The child reads the parent's
// parameters and outputs; its outputs and step records fold back into the
// parent under the node's path.
func (e *Engine) runNested(ctx context.Context, sc *scope, n *job.NestedJob) (outcome, error) {
	path := sc.path(n.Name())
	rec, err := e.begin(ctx, sc, n)
	if err != nil {
		return outcome{}, err
	}

	child := n.Job()
	childRec := &store.ExecutionRecord{
		ID:         uuid.New().String(),
		JobName:    child.Name(),
		Parameters: sc.ec.Params(),
		Status:     schema.ExecutionStarting,
		ParentID:   sc.run.rec.ID,
		StartTime:  time.Now().UTC(),
	}
	if prev, ok := sc.run.launch.nested[sc.run.outer+path]; ok {
		childRec.RestartOf = prev
	}
	cr := &run{rec: childRec, job: child, launch: sc.run.launch, outer: sc.run.outer + path + "/"}
	if err := e.createExecution(ctx, cr); err != nil {
		return outcome{}, err
	}
	e.emit(ctx, sc.run, path, schema.EventNestedJobStarted, map[string]string{
		"job":                 child.Name(),
		"nested_execution_id": childRec.ID,
	})

	childScope := &scope{run: cr, ec: sc.ec.fork(childRec.ID, child.Name())}
	out, fatal := e.execute(ctx, cr, childScope)

	folded := make([]store.StepExecutionRecord, len(childRec.Steps))
	for i, s := range childRec.Steps {
		s.Path = path + "/" + s.Path
		folded[i] = s
	}
	if err := e.appendRecords(ctx, sc, folded...); err != nil {
		return outcome{}, err
	}
	if err := sc.ec.join(childScope.ec); err != nil {
		logging.LogWith(ctx, e.logger).WarnContext(ctx, "merge nested job outputs", logging.Err(err))
	}
	if fatal != nil {
		return outcome{}, fatal
	}

	rec.NestedExecutionID = childRec.ID
	return e.composite(ctx, sc, rec, out)
}

// composite seals the record of a split, nested job or flow node after its
// children ran. Composite records are never replayed as a unit.
func (e *Engine) composite(ctx context.Context, sc *scope, rec store.StepExecutionRecord, out outcome) (outcome, error) {
	rec.Status = out.status
	rec.State = stateFor(out.status)
	if out.fault != nil {
		rec.Fault = out.fault.Error()
	}
	if err := e.record(ctx, &rec, nil); err != nil {
		return outcome{}, err
	}
	if err := e.complete(ctx, sc, rec); err != nil {
		return outcome{}, err
	}
	return out, nil
}

// begin registers an attempt for node and returns its unsealed record.
func (e *Engine) begin(ctx context.Context, sc *scope, node job.Node) (store.StepExecutionRecord, error) {
	path := sc.path(node.Name())
	attemptID, err := e.repo.BeginAttempt(ctx, sc.run.rec.ID, sc.run.job.Name(), path)
	if err != nil {
		return store.StepExecutionRecord{}, repositoryCommit(path, err)
	}
	e.stepTransition(ctx, sc.run, path, schema.StepStatusPending, schema.StepStatusStarted, store.NodePayload{
		Kind: string(node.Kind()),
	})
	return store.StepExecutionRecord{
		AttemptID: attemptID,
		Name:      node.Name(),
		Path:      path,
		Kind:      string(node.Kind()),
		State:     schema.StepStatusStarted,
		StartTime: time.Now().UTC(),
	}, nil
}

// record seals the attempt in the repository together with effect.
func (e *Engine) record(ctx context.Context, rec *store.StepExecutionRecord, effect store.SideEffect) error {
	end := time.Now().UTC()
	rec.EndTime = &end
	err := e.repo.RecordResult(ctx, rec.AttemptID, rec, effect)
	if err == nil {
		return nil
	}
	if schema.IsCode(err, schema.ErrCodeStepFault) {
		return err
	}
	return repositoryCommit(rec.Path, err)
}

// fault records a failed invocation in place of its result.
func (e *Engine) fault(ctx context.Context, sc *scope, rec store.StepExecutionRecord, fault *schema.JobflowError) (outcome, error) {
	rec.State = schema.StepStatusFailed
	rec.Status = schema.StatusFailed
	rec.Fault = fault.Error()
	rec.Outputs = nil
	if err := e.record(ctx, &rec, nil); err != nil {
		return outcome{}, repositoryCommit(rec.Path, err)
	}
	logging.LogWith(ctx, e.logger).WarnContext(ctx, "node fault", logging.Err(fault))
	if err := e.complete(ctx, sc, rec); err != nil {
		return outcome{}, err
	}
	return outcome{status: schema.StatusFailed, faulted: true, fault: fault}, nil
}

// complete emits the end-of-attempt event and adds rec to the scope.
func (e *Engine) complete(ctx context.Context, sc *scope, rec store.StepExecutionRecord) error {
	e.stepTransition(ctx, sc.run, rec.Path, schema.StepStatusStarted, rec.State, store.NodePayload{
		Kind:   rec.Kind,
		Flow:   rec.Flow,
		Status: rec.Status,
		Fault:  rec.Fault,
	})
	return e.appendRecords(ctx, sc, rec)
}

// appendRecords adds records to the scope. On the execution's own sequence
// the record is snapshotted so the step boundary is durable.
func (e *Engine) appendRecords(ctx context.Context, sc *scope, recs ...store.StepExecutionRecord) error {
	if len(recs) == 0 {
		return nil
	}
	if sc.branch != nil {
		*sc.branch = append(*sc.branch, recs...)
		return nil
	}
	sc.run.rec.Steps = append(sc.run.rec.Steps, recs...)
	if err := e.repo.SaveExecution(ctx, sc.run.rec); err != nil {
		return repositoryCommit(recs[len(recs)-1].Path, err)
	}
	return nil
}

func (e *Engine) executionTransition(ctx context.Context, r *run, from, to schema.ExecutionStatus, payload any) {
	if err := e.execFSM.Transition(ctx, r.rec.ID, from, to, payload); err != nil {
		logging.LogWith(ctx, e.logger).WarnContext(ctx, "execution transition", logging.Err(err))
	}
}

func (e *Engine) stepTransition(ctx context.Context, r *run, path string, from, to schema.StepStatus, payload any) {
	if err := e.stepFSM.Transition(ctx, r.rec.ID, path, from, to, payload); err != nil {
		logging.LogWith(ctx, e.logger).WarnContext(ctx, "step transition", logging.Err(err))
	}
}

func (e *Engine) emit(ctx context.Context, r *run, node, eventType string, payload any) {
	if err := e.events.emit(ctx, r.rec.ID, node, eventType, payload); err != nil {
		logging.LogWith(ctx, e.logger).WarnContext(ctx, "emit event", "event_type", eventType, logging.Err(err))
	}
}

func stateFor(status schema.ExitStatus) schema.StepStatus {
	if status == schema.StatusFailed {
		return schema.StepStatusFailed
	}
	return schema.StepStatusCompleted
}

func stepFault(path string, err error) *schema.JobflowError {
	return schema.NewError(schema.ErrCodeStepFault, err.Error()).WithNode(path).WithCause(err)
}

func repositoryCommit(path string, err error) *schema.JobflowError {
	if jfErr, ok := schema.AsJobflowError(err); ok && jfErr.Code == schema.ErrCodeRepositoryCommit {
		if jfErr.Node == "" && path != "" {
			jfErr.Node = path
		}
		return jfErr
	}
	jfErr := schema.NewError(schema.ErrCodeRepositoryCommit, err.Error()).WithCause(err)
	if path != "" {
		jfErr = jfErr.WithNode(path)
	}
	return jfErr
}

// protect runs fn and turns a panic into an error.
func protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// eventSink persists events and fans them out to the hub.
type eventSink struct {
	repo store.Store
	hub  streaming.EventHub
}

func (s *eventSink) AppendEvent(ctx context.Context, ev *store.Event) error {
	if err := s.repo.AppendEvent(ctx, ev); err != nil {
		return err
	}
	if s.hub != nil {
		var payload any
		if len(ev.Payload) > 0 {
			payload = json.RawMessage(ev.Payload)
		}
		_ = s.hub.Publish(ctx, streaming.StreamEvent{
			ExecutionID: ev.ExecutionID,
			JobName:     logging.Job(ctx),
			Node:        ev.Node,
			EventType:   ev.Type,
			Sequence:    ev.Sequence,
			Timestamp:   ev.Timestamp,
			Payload:     payload,
		})
	}
	return nil
}

func (s *eventSink) emit(ctx context.Context, executionID, node, eventType string, payload any) error {
	ev := &store.Event{ExecutionID: executionID, Node: node, Type: eventType}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		ev.Payload = data
	}
	return s.AppendEvent(ctx, ev)
}
