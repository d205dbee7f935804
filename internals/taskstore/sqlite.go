package taskstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/Oudwins/clipq/internals/schemas"
)

//go:embed migrations/*.sql
var migrations embed.FS

type SQLiteStore struct {
	db *sql.DB
}

type taskRecord struct {
	ID         string
	Status     string
	LogJSON    string
	Result     sql.NullString
	CreatedAt  string
	FinishedAt sql.NullString
	Claimed    bool
}

func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, errors.New("sqlite store requires a path")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One connection serializes transactions, so Mutate is a plain
	// read-modify-write inside a tx.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	for _, pragma := range []string{"PRAGMA journal_mode = WAL;", "PRAGMA synchronous = NORMAL;", "PRAGMA busy_timeout = 5000;"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, err
		}
	}
	store := &SQLiteStore{db: db}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, s.db, fsys)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Create(ctx context.Context, task schemas.Task) error {
	if err := task.Validate(); err != nil {
		return err
	}
	record, err := toRecord(task)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id = ?`, task.ID).Scan(&exists)
	if err == nil {
		return fmt.Errorf("%w: %s", schemas.ErrAlreadyExists, task.ID)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO tasks (id, status, log_json, result, created_at, finished_at, claimed)
VALUES (?, ?, ?, ?, ?, ?, ?)
`, record.ID, record.Status, record.LogJSON, record.Result, record.CreatedAt, record.FinishedAt, record.Claimed)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) Read(ctx context.Context, id string) (schemas.Task, error) {
	return s.get(ctx, s.db, id)
}

func (s *SQLiteStore) Mutate(ctx context.Context, id string, fn MutateFunc) (schemas.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return schemas.Task{}, err
	}
	defer tx.Rollback()

	current, err := s.get(ctx, tx, id)
	if err != nil {
		return schemas.Task{}, err
	}
	next, err := apply(current, fn)
	if err != nil {
		return schemas.Task{}, err
	}
	record, err := toRecord(next)
	if err != nil {
		return schemas.Task{}, err
	}
	_, err = tx.ExecContext(ctx, `
UPDATE tasks
SET status = ?, log_json = ?, result = ?, finished_at = ?, claimed = ?
WHERE id = ?
`, record.Status, record.LogJSON, record.Result, record.FinishedAt, record.Claimed, record.ID)
	if err != nil {
		return schemas.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return schemas.Task{}, err
	}
	return next, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) List(ctx context.Context) ([]schemas.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, status, log_json, result, created_at, finished_at, claimed
FROM tasks
ORDER BY created_at, id
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []schemas.Task
	for rows.Next() {
		var record taskRecord
		if err := rows.Scan(&record.ID, &record.Status, &record.LogJSON, &record.Result, &record.CreatedAt, &record.FinishedAt, &record.Claimed); err != nil {
			return nil, err
		}
		task, err := record.task()
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) get(ctx context.Context, q queryer, id string) (schemas.Task, error) {
	row := q.QueryRowContext(ctx, `
SELECT id, status, log_json, result, created_at, finished_at, claimed
FROM tasks
WHERE id = ?
`, id)

	var record taskRecord
	if err := row.Scan(&record.ID, &record.Status, &record.LogJSON, &record.Result, &record.CreatedAt, &record.FinishedAt, &record.Claimed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return schemas.Task{}, fmt.Errorf("%w: %s", schemas.ErrNotFound, id)
		}
		return schemas.Task{}, err
	}
	return record.task()
}

func toRecord(task schemas.Task) (taskRecord, error) {
	log := task.Log
	if log == nil {
		log = []string{}
	}
	data, err := json.Marshal(log)
	if err != nil {
		return taskRecord{}, fmt.Errorf("failed to encode task log: %w", err)
	}
	record := taskRecord{
		ID:        task.ID,
		Status:    string(task.Status),
		LogJSON:   string(data),
		Result:    nullIfEmpty(task.Result),
		CreatedAt: task.CreatedAt.UTC().Format(time.RFC3339Nano),
		Claimed:   task.Claimed,
	}
	if !task.FinishedAt.IsZero() {
		record.FinishedAt = nullIfEmpty(task.FinishedAt.UTC().Format(time.RFC3339Nano))
	}
	return record, nil
}

func (r taskRecord) task() (schemas.Task, error) {
	task := schemas.Task{
		ID:      r.ID,
		Status:  schemas.TaskStatus(r.Status),
		Result:  r.Result.String,
		Claimed: r.Claimed,
	}
	if err := json.Unmarshal([]byte(r.LogJSON), &task.Log); err != nil {
		return schemas.Task{}, fmt.Errorf("failed to decode log of task %s: %w", r.ID, err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, r.CreatedAt)
	if err != nil {
		return schemas.Task{}, fmt.Errorf("failed to decode created_at of task %s: %w", r.ID, err)
	}
	task.CreatedAt = createdAt
	if r.FinishedAt.Valid {
		finishedAt, err := time.Parse(time.RFC3339Nano, r.FinishedAt.String)
		if err != nil {
			return schemas.Task{}, fmt.Errorf("failed to decode finished_at of task %s: %w", r.ID, err)
		}
		task.FinishedAt = finishedAt
	}
	return task, nil
}

func nullIfEmpty(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
