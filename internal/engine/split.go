package engine

import (
	"context"
	"sync"

	"github.com/rendis/jobflow/internal/job"
	"github.com/rendis/jobflow/internal/logging"
	"github.com/rendis/jobflow/internal/store"
	"github.com/rendis/jobflow/pkg/schema"
)

// branch is the result of one sub-flow of a split.
type branch struct {
	flow    *job.Flow
	out     outcome
	err     error
	records []store.StepExecutionRecord
	ec      *execContext
}

// runSplit runs every sub-flow concurrently and joins once all of them end.
// Records of each branch are appended in declaration order regardless of
// how the branches interleaved, and outputs merge in the same order.
func (e *Engine) runSplit(ctx context.Context, sc *scope, s *job.Split) (outcome, error) {
	path := sc.path(s.Name())
	rec, err := e.begin(ctx, sc, s)
	if err != nil {
		return outcome{}, err
	}

	flows := s.Flows()
	names := make([]string, len(flows))
	for i, f := range flows {
		names[i] = f.Name()
	}
	e.emit(ctx, sc.run, path, schema.EventSplitStarted, map[string]any{"flows": names})

	branches := make([]*branch, len(flows))
	var wg sync.WaitGroup
	for i, f := range flows {
		b := &branch{flow: f, ec: sc.ec.fork(sc.ec.executionID, sc.ec.jobName)}
		branches[i] = b
		wg.Add(1)
		go func() {
			defer wg.Done()
			bs := &scope{
				run:    sc.run,
				prefix: path + "/" + f.Name() + "/",
				ec:     b.ec,
				branch: &b.records,
			}
			b.out, b.err = e.runFlow(ctx, bs, f)
		}()
	}
	wg.Wait()

	out, fatal := e.join(ctx, sc, branches)
	if fatal != nil {
		return outcome{}, fatal
	}
	e.emit(ctx, sc.run, path, schema.EventSplitJoined, store.NodePayload{
		Kind:   string(job.KindSplit),
		Status: out.status,
	})
	return e.composite(ctx, sc, rec, out)
}

// join folds the branches back into the enclosing scope. The split fails if
// any branch failed and carries the fault of the first one that did.
func (e *Engine) join(ctx context.Context, sc *scope, branches []*branch) (outcome, error) {
	out := outcome{status: schema.StatusCompleted}
	var fatal error
	children := make([]*execContext, 0, len(branches))
	for _, b := range branches {
		for i := range b.records {
			if b.records[i].Flow == "" {
				b.records[i].Flow = b.flow.Name()
			}
		}
		if err := e.appendRecords(ctx, sc, b.records...); err != nil && fatal == nil {
			fatal = err
		}
		children = append(children, b.ec)

		if b.err != nil && fatal == nil {
			fatal = b.err
		}
		if b.out.status == schema.StatusFailed && out.status != schema.StatusFailed {
			out.status = schema.StatusFailed
			out.fault = b.out.fault
		}
	}
	if err := sc.ec.join(children...); err != nil {
		logging.LogWith(ctx, e.logger).WarnContext(ctx, "merge split outputs", logging.Err(err))
	}
	return out, fatal
}
