package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/jobflow/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
// Side effects run inside the same SQL transaction as the step record.
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/jobflow.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// --- Executions ---

func (s *LibSQLStore) CreateExecution(ctx context.Context, rec *ExecutionRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM executions WHERE id = ?`, rec.ID).Scan(&exists)
	if err != nil {
		return err
	}
	if exists > 0 {
		return schema.NewErrorf(schema.ErrCodeConflict, "execution %q already exists", rec.ID)
	}

	snapshot, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal execution: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO executions (id, job_name, parent_id, restart_of, status, final_status, record, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.JobName, nullStr(rec.ParentID), nullStr(rec.RestartOf), string(rec.Status),
		nullStr(string(rec.FinalStatus)), string(snapshot), timeOrNow(rec.StartTime), nullTime(rec.EndTime),
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return tx.Commit()
}

func (s *LibSQLStore) SaveExecution(ctx context.Context, rec *ExecutionRecord) error {
	snapshot, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal execution: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE executions SET status = ?, final_status = ?, record = ?, ended_at = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		string(rec.Status), nullStr(string(rec.FinalStatus)), string(snapshot), nullTime(rec.EndTime), rec.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "execution", rec.ID)
}

func (s *LibSQLStore) GetExecution(ctx context.Context, id string) (*ExecutionRecord, error) {
	var snapshot string
	err := s.db.QueryRowContext(ctx, `SELECT record FROM executions WHERE id = ?`, id).Scan(&snapshot)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("execution", id)
	}
	if err != nil {
		return nil, err
	}
	return decodeExecution(snapshot)
}

func (s *LibSQLStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*ExecutionRecord, error) {
	var where []string
	var args []any

	if filter.JobName != "" {
		where = append(where, "job_name = ?")
		args = append(args, filter.JobName)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Since != nil {
		where = append(where, "started_at >= ?")
		args = append(args, *filter.Since)
	}
	if filter.TopLevel {
		where = append(where, "parent_id IS NULL")
	}

	query := "SELECT record FROM executions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	} else if filter.Offset > 0 {
		query += fmt.Sprintf(" LIMIT -1 OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ExecutionRecord
	for rows.Next() {
		var snapshot string
		if err := rows.Scan(&snapshot); err != nil {
			return nil, err
		}
		rec, err := decodeExecution(snapshot)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// --- Step repository ---

func (s *LibSQLStore) BeginAttempt(ctx context.Context, executionID, jobName, stepName string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM executions WHERE id = ?`, executionID).Scan(&exists); err != nil {
		return "", err
	}
	if exists == 0 {
		return "", storeNotFound("execution", executionID)
	}

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM step_attempts WHERE execution_id = ?`, executionID,
	).Scan(&seq)
	if err != nil {
		return "", fmt.Errorf("get next attempt seq: %w", err)
	}

	id := uuid.New().String()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO step_attempts (id, execution_id, job_name, step_name, seq, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, executionID, jobName, stepName, seq, time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("insert attempt: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit attempt: %w", err)
	}
	return id, nil
}

// RecordResult runs the side effect and seals the attempt in one SQL
// transaction. The side effect must only use the Tx it is given: the store
// holds its single connection until the transaction ends.
func (s *LibSQLStore) RecordResult(ctx context.Context, attemptID string, rec *StepExecutionRecord, commit SideEffect) error {
	if err := s.recordResult(ctx, attemptID, rec, commit); err != nil {
		return commitFailed("record result", err)
	}
	return nil
}

func (s *LibSQLStore) recordResult(ctx context.Context, attemptID string, rec *StepExecutionRecord, commit SideEffect) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var recorded sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT record FROM step_attempts WHERE id = ?`, attemptID).Scan(&recorded)
	if err == sql.ErrNoRows {
		return storeNotFound("attempt", attemptID)
	}
	if err != nil {
		return err
	}
	if recorded.Valid {
		return alreadyRecorded(attemptID)
	}

	if commit != nil {
		if err := commit(&libsqlTx{ctx: ctx, tx: tx, attemptID: attemptID}); err != nil {
			return effectFault(attemptID, err)
		}
	}

	stored := rec.clone()
	stored.AttemptID = attemptID
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshal step record: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE step_attempts SET record = ?, ended_at = ? WHERE id = ?`,
		string(data), time.Now().UTC(), attemptID,
	)
	if err != nil {
		return fmt.Errorf("update attempt: %w", err)
	}
	return tx.Commit()
}

func (s *LibSQLStore) LoadLastIncompleteAttempt(ctx context.Context, jobName string) (*ExecutionRecord, error) {
	var snapshot string
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM executions WHERE job_name = ? AND parent_id IS NULL ORDER BY started_at DESC LIMIT 1`,
		jobName,
	).Scan(&snapshot)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec, err := decodeExecution(snapshot)
	if err != nil {
		return nil, err
	}
	if !incomplete(rec) {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, step_name, seq, record, started_at FROM step_attempts WHERE execution_id = ? ORDER BY seq ASC`,
		rec.ID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []*attemptRow
	for rows.Next() {
		a := &attemptRow{ExecutionID: rec.ID, JobName: jobName}
		var data sql.NullString
		if err := rows.Scan(&a.ID, &a.StepName, &a.Seq, &data, &a.StartedAt); err != nil {
			return nil, err
		}
		if data.Valid {
			var step StepExecutionRecord
			if err := json.Unmarshal([]byte(data.String), &step); err != nil {
				return nil, fmt.Errorf("unmarshal attempt %s: %w", a.ID, err)
			}
			a.Record = &step
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	mergeAttempts(rec, attempts)
	return rec, nil
}

// --- Values ---

func (s *LibSQLStore) GetValue(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM step_values WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("value", key)
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

// --- Events ---

func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE execution_id = ?`, event.ExecutionID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq
	event.Timestamp = timeOrNow(event.Timestamp)

	res, err := tx.ExecContext(ctx,
		`INSERT INTO events (execution_id, node, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.ExecutionID, nullStr(event.Node), event.Type, nullRaw(event.Payload), event.Timestamp, seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		event.ID = id
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

func (s *LibSQLStore) GetEvents(ctx context.Context, executionID string, since int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, execution_id, node, event_type, payload, timestamp, sequence
		 FROM events WHERE execution_id = ? AND sequence > ? ORDER BY sequence ASC`,
		executionID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		var node, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.ExecutionID, &node, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.Node = node.String
		e.Payload = rawOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// libsqlTx exposes the open SQL transaction to a step's side effect.
type libsqlTx struct {
	ctx       context.Context
	tx        *sql.Tx
	attemptID string
}

// SQL returns the underlying transaction for side effects that write their
// own tables. Statements must not commit or roll back.
func (t *libsqlTx) SQL() *sql.Tx { return t.tx }

func (t *libsqlTx) Put(key string, value []byte) error {
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO step_values (key, value, attempt_id, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, attempt_id=excluded.attempt_id, updated_at=CURRENT_TIMESTAMP`,
		key, value, t.attemptID,
	)
	return err
}

func (t *libsqlTx) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := t.tx.QueryRowContext(t.ctx, `SELECT value FROM step_values WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (t *libsqlTx) Delete(key string) error {
	_, err := t.tx.ExecContext(t.ctx, `DELETE FROM step_values WHERE key = ?`, key)
	return err
}

// --- Helpers ---

func decodeExecution(snapshot string) (*ExecutionRecord, error) {
	rec := &ExecutionRecord{}
	if err := json.Unmarshal([]byte(snapshot), rec); err != nil {
		return nil, fmt.Errorf("unmarshal execution: %w", err)
	}
	return rec, nil
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

var _ Store = (*LibSQLStore)(nil)
