package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/rendis/jobflow/pkg/schema"
)

const (
	prefixExec       = "exec:"
	prefixAttempt    = "attempt:"
	prefixAttemptIdx = "attemptidx:"
	prefixAttemptSeq = "attemptseq:"
	prefixJobIdx     = "jobidx:"
	prefixValue      = "value:"
	prefixEvent      = "event:"
	prefixEventSeq   = "eventseq:"
	keyEventID       = "eventid"

	maxConflictRetries = 5
)

// BadgerStore implements the Store interface on an embedded Badger key-value
// database. Side effects run inside the Badger transaction that seals the
// attempt, and conflicting transactions are retried.
type BadgerStore struct {
	db     *badger.DB
	logger *slog.Logger

	// counterMu serializes writers of the sequence counters.
	counterMu sync.Mutex
}

// NewBadgerStore opens (or creates) a Badger database in dir.
func NewBadgerStore(dir string, logger *slog.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return NewBadgerStoreFromDB(db, logger), nil
}

// NewBadgerStoreFromDB wraps an already opened database.
func NewBadgerStoreFromDB(db *badger.DB, logger *slog.Logger) *BadgerStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &BadgerStore{db: db, logger: logger.With("component", "badger-store")}
}

// DB returns the underlying database.
func (s *BadgerStore) DB() *badger.DB { return s.db }

func (s *BadgerStore) Migrate(context.Context) error { return nil }

func (s *BadgerStore) Close() error { return s.db.Close() }

// update runs fn in a read-write transaction, retrying on conflicts.
func (s *BadgerStore) update(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.logger.Debug("transaction conflict, retrying", "attempt", attempt+1)
	}
	return err
}

// --- Executions ---

func (s *BadgerStore) CreateExecution(_ context.Context, rec *ExecutionRecord) error {
	return s.update(func(txn *badger.Txn) error {
		key := []byte(prefixExec + rec.ID)
		if _, err := txn.Get(key); err == nil {
			return schema.NewErrorf(schema.ErrCodeConflict, "execution %q already exists", rec.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := putJSON(txn, key, rec); err != nil {
			return err
		}
		if rec.ParentID == "" {
			return txn.Set(jobIndexKey(rec), []byte(rec.ID))
		}
		return nil
	})
}

func (s *BadgerStore) SaveExecution(_ context.Context, rec *ExecutionRecord) error {
	return s.update(func(txn *badger.Txn) error {
		key := []byte(prefixExec + rec.ID)
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return storeNotFound("execution", rec.ID)
			}
			return err
		}
		return putJSON(txn, key, rec)
	})
}

func (s *BadgerStore) GetExecution(_ context.Context, id string) (*ExecutionRecord, error) {
	var rec ExecutionRecord
	err := s.db.View(func(txn *badger.Txn) error {
		found, err := getJSON(txn, []byte(prefixExec+id), &rec)
		if err != nil {
			return err
		}
		if !found {
			return storeNotFound("execution", id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *BadgerStore) ListExecutions(_ context.Context, filter ExecutionFilter) ([]*ExecutionRecord, error) {
	var out []*ExecutionRecord
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prefixExec)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			rec := &ExecutionRecord{}
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, rec)
			}); err != nil {
				return err
			}
			if filter.match(rec) {
				out = append(out, rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortNewestFirst(out)
	return filter.page(out), nil
}

// --- Step repository ---

func (s *BadgerStore) BeginAttempt(_ context.Context, executionID, jobName, stepName string) (string, error) {
	id := uuid.New().String()
	s.counterMu.Lock()
	defer s.counterMu.Unlock()
	err := s.update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(prefixExec + executionID)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return storeNotFound("execution", executionID)
			}
			return err
		}
		seq, err := nextCounter(txn, []byte(prefixAttemptSeq+executionID))
		if err != nil {
			return err
		}
		a := &attemptRow{
			ID:          id,
			ExecutionID: executionID,
			JobName:     jobName,
			StepName:    stepName,
			Seq:         seq,
			StartedAt:   time.Now().UTC(),
		}
		if err := putJSON(txn, []byte(prefixAttempt+id), a); err != nil {
			return err
		}
		return txn.Set(attemptIndexKey(executionID, seq), []byte(id))
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// RecordResult runs the side effect and seals the attempt in one Badger
// transaction. On a conflict the whole transaction, side effect included,
// is run again.
func (s *BadgerStore) RecordResult(_ context.Context, attemptID string, rec *StepExecutionRecord, commit SideEffect) error {
	err := s.update(func(txn *badger.Txn) error {
		var a attemptRow
		found, err := getJSON(txn, []byte(prefixAttempt+attemptID), &a)
		if err != nil {
			return err
		}
		if !found {
			return storeNotFound("attempt", attemptID)
		}
		if a.Record != nil {
			return alreadyRecorded(attemptID)
		}
		if commit != nil {
			if err := commit(&badgerTx{txn: txn}); err != nil {
				return effectFault(attemptID, err)
			}
		}
		stored := rec.clone()
		stored.AttemptID = attemptID
		a.Record = &stored
		return putJSON(txn, []byte(prefixAttempt+attemptID), &a)
	})
	if err != nil {
		return commitFailed("record result", err)
	}
	return nil
}

func (s *BadgerStore) LoadLastIncompleteAttempt(_ context.Context, jobName string) (*ExecutionRecord, error) {
	var out *ExecutionRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)

		prefix := []byte(prefixJobIdx + jobName + "\x00")
		var latestID string
		it.Seek(append(append([]byte{}, prefix...), 0xFF))
		if it.ValidForPrefix(prefix) {
			if err := it.Item().Value(func(val []byte) error {
				latestID = string(val)
				return nil
			}); err != nil {
				it.Close()
				return err
			}
		}
		it.Close()
		if latestID == "" {
			return nil
		}

		rec := &ExecutionRecord{}
		found, err := getJSON(txn, []byte(prefixExec+latestID), rec)
		if err != nil || !found || !incomplete(rec) {
			return err
		}

		attempts, err := loadAttempts(txn, rec.ID)
		if err != nil {
			return err
		}
		mergeAttempts(rec, attempts)
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func loadAttempts(txn *badger.Txn, executionID string) ([]*attemptRow, error) {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	var ids []string
	prefix := []byte(prefixAttemptIdx + executionID + ":")
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		v, err := it.Item().ValueCopy(nil)
		if err != nil {
			return nil, err
		}
		ids = append(ids, string(v))
	}

	attempts := make([]*attemptRow, 0, len(ids))
	for _, id := range ids {
		a := &attemptRow{}
		found, err := getJSON(txn, []byte(prefixAttempt+id), a)
		if err != nil {
			return nil, err
		}
		if found {
			attempts = append(attempts, a)
		}
	}
	return attempts, nil
}

// --- Values ---

func (s *BadgerStore) GetValue(_ context.Context, key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixValue + key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return storeNotFound("value", key)
			}
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	return out, err
}

// --- Events ---

func (s *BadgerStore) AppendEvent(_ context.Context, event *Event) error {
	event.Timestamp = timeOrNow(event.Timestamp)
	s.counterMu.Lock()
	defer s.counterMu.Unlock()
	return s.update(func(txn *badger.Txn) error {
		id, err := nextCounter(txn, []byte(keyEventID))
		if err != nil {
			return err
		}
		seq, err := nextCounter(txn, []byte(prefixEventSeq+event.ExecutionID))
		if err != nil {
			return err
		}
		event.ID = id
		event.Sequence = seq
		return putJSON(txn, eventKey(event.ExecutionID, seq), event)
	})
}

func (s *BadgerStore) GetEvents(_ context.Context, executionID string, since int64) ([]*Event, error) {
	var events []*Event
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prefixEvent + executionID + ":")
		for it.Seek(eventKey(executionID, since+1)); it.ValidForPrefix(prefix); it.Next() {
			e := &Event{}
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, e)
			}); err != nil {
				return err
			}
			events = append(events, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// badgerTx exposes the open Badger transaction to a step's side effect.
type badgerTx struct {
	txn *badger.Txn
}

// Txn returns the underlying transaction for side effects that need raw keys.
func (t *badgerTx) Txn() *badger.Txn { return t.txn }

func (t *badgerTx) Put(key string, value []byte) error {
	return t.txn.Set([]byte(prefixValue+key), append([]byte(nil), value...))
}

func (t *badgerTx) Get(key string) ([]byte, bool, error) {
	item, err := t.txn.Get([]byte(prefixValue + key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	v, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (t *badgerTx) Delete(key string) error {
	return t.txn.Delete([]byte(prefixValue + key))
}

// --- Helpers ---

func putJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return txn.Set(key, data)
}

func getJSON(txn *badger.Txn, key []byte, v any) (bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func nextCounter(txn *badger.Txn, key []byte) (int64, error) {
	var current int64
	item, err := txn.Get(key)
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
	case err != nil:
		return 0, err
	default:
		if err := item.Value(func(val []byte) error {
			current, err = strconv.ParseInt(string(val), 10, 64)
			return err
		}); err != nil {
			return 0, err
		}
	}
	current++
	return current, txn.Set(key, []byte(strconv.FormatInt(current, 10)))
}

func jobIndexKey(rec *ExecutionRecord) []byte {
	return []byte(fmt.Sprintf("%s%s\x00%020d\x00%s", prefixJobIdx, rec.JobName, timeOrNow(rec.StartTime).UnixNano(), rec.ID))
}

func attemptIndexKey(executionID string, seq int64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", prefixAttemptIdx, executionID, seq))
}

func eventKey(executionID string, seq int64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", prefixEvent, executionID, seq))
}

var _ Store = (*BadgerStore)(nil)
