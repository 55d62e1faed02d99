package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/jobflow/pkg/schema"
)

// MemoryStore is the in-memory reference Store. A single mutex serializes
// commits, so a side effect and its step record are applied together.
// Side effects must not call back into the store.
type MemoryStore struct {
	mu         sync.Mutex
	executions map[string]*ExecutionRecord
	attempts   map[string]*attemptRow
	byExec     map[string][]string
	values     map[string][]byte
	events     map[string][]*Event
	eventSeq   int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		executions: make(map[string]*ExecutionRecord),
		attempts:   make(map[string]*attemptRow),
		byExec:     make(map[string][]string),
		values:     make(map[string][]byte),
		events:     make(map[string][]*Event),
	}
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }
func (s *MemoryStore) Close() error { return nil }

// --- Executions ---

func (s *MemoryStore) CreateExecution(_ context.Context, rec *ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.executions[rec.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "execution %q already exists", rec.ID)
	}
	s.executions[rec.ID] = rec.Clone()
	return nil
}

func (s *MemoryStore) SaveExecution(_ context.Context, rec *ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.executions[rec.ID]; !exists {
		return storeNotFound("execution", rec.ID)
	}
	s.executions[rec.ID] = rec.Clone()
	return nil
}

func (s *MemoryStore) GetExecution(_ context.Context, id string) (*ExecutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.executions[id]
	if !ok {
		return nil, storeNotFound("execution", id)
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) ListExecutions(_ context.Context, filter ExecutionFilter) ([]*ExecutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*ExecutionRecord
	for _, rec := range s.executions {
		if filter.match(rec) {
			out = append(out, rec.Clone())
		}
	}
	sortNewestFirst(out)
	return filter.page(out), nil
}

// --- Step repository ---

func (s *MemoryStore) BeginAttempt(_ context.Context, executionID, jobName, stepName string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.executions[executionID]; !ok {
		return "", storeNotFound("execution", executionID)
	}
	a := &attemptRow{
		ID:          uuid.New().String(),
		ExecutionID: executionID,
		JobName:     jobName,
		StepName:    stepName,
		Seq:         int64(len(s.byExec[executionID]) + 1),
		StartedAt:   time.Now().UTC(),
	}
	s.attempts[a.ID] = a
	s.byExec[executionID] = append(s.byExec[executionID], a.ID)
	return a.ID, nil
}

func (s *MemoryStore) RecordResult(_ context.Context, attemptID string, rec *StepExecutionRecord, commit SideEffect) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attempts[attemptID]
	if !ok {
		return storeNotFound("attempt", attemptID)
	}
	if a.Record != nil {
		return alreadyRecorded(attemptID)
	}

	tx := &memoryTx{base: s.values, writes: make(map[string][]byte), deletes: make(map[string]bool)}
	if commit != nil {
		if err := commit(tx); err != nil {
			return effectFault(attemptID, err)
		}
	}

	for k := range tx.deletes {
		delete(s.values, k)
	}
	for k, v := range tx.writes {
		s.values[k] = v
	}
	stored := rec.clone()
	stored.AttemptID = attemptID
	a.Record = &stored
	return nil
}

func (s *MemoryStore) LoadLastIncompleteAttempt(_ context.Context, jobName string) (*ExecutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *ExecutionRecord
	for _, rec := range s.executions {
		if rec.JobName != jobName || rec.ParentID != "" {
			continue
		}
		if latest == nil || rec.StartTime.After(latest.StartTime) {
			latest = rec
		}
	}
	if latest == nil || !incomplete(latest) {
		return nil, nil
	}

	out := latest.Clone()
	rows := make([]*attemptRow, 0, len(s.byExec[out.ID]))
	for _, id := range s.byExec[out.ID] {
		rows = append(rows, s.attempts[id])
	}
	mergeAttempts(out, rows)
	return out, nil
}

// --- Values ---

func (s *MemoryStore) GetValue(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok {
		return nil, storeNotFound("value", key)
	}
	return append([]byte(nil), v...), nil
}

// --- Events ---

func (s *MemoryStore) AppendEvent(_ context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventSeq++
	event.ID = s.eventSeq
	event.Sequence = int64(len(s.events[event.ExecutionID]) + 1)
	event.Timestamp = timeOrNow(event.Timestamp)
	e := *event
	s.events[event.ExecutionID] = append(s.events[event.ExecutionID], &e)
	return nil
}

func (s *MemoryStore) GetEvents(_ context.Context, executionID string, since int64) ([]*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Event
	for _, e := range s.events[executionID] {
		if e.Sequence > since {
			c := *e
			out = append(out, &c)
		}
	}
	return out, nil
}

// memoryTx stages writes over the committed values.
type memoryTx struct {
	base    map[string][]byte
	writes  map[string][]byte
	deletes map[string]bool
}

func (t *memoryTx) Put(key string, value []byte) error {
	delete(t.deletes, key)
	t.writes[key] = append([]byte(nil), value...)
	return nil
}

func (t *memoryTx) Get(key string) ([]byte, bool, error) {
	if t.deletes[key] {
		return nil, false, nil
	}
	if v, ok := t.writes[key]; ok {
		return v, true, nil
	}
	v, ok := t.base[key]
	return v, ok, nil
}

func (t *memoryTx) Delete(key string) error {
	delete(t.writes, key)
	t.deletes[key] = true
	return nil
}

var _ Store = (*MemoryStore)(nil)
