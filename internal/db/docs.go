package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Joseda-hg/imon/internal/model"
)

var (
	ErrNoDocument = errors.New("no document at key")
	ErrNoPath     = errors.New("path not present in document")
)

const defaultStoreTimeout = 3 * time.Second

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Docs is a JSON document store keyed by string. Paths use SQLite JSON
// path syntax ("$.field", "$.list[#]").
type Docs struct {
	db      *sql.DB
	timeout time.Duration
}

func NewDocs(db *sql.DB, timeout time.Duration) *Docs {
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	return &Docs{db: db, timeout: timeout}
}

// Tx runs document operations against either the pool or one transaction.
type Tx struct {
	ctx context.Context
	q   querier
}

// View runs fn without a transaction. Each call inside fn may use a
// different connection.
func (d *Docs) View(ctx context.Context, fn func(*Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	return storeError(fn(&Tx{ctx: ctx, q: d.db}))
}

// Update runs fn inside a write transaction and commits when fn returns nil.
func (d *Docs) Update(ctx context.Context, fn func(*Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	sqlTx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return storeError(fmt.Errorf("begin: %w", err))
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&Tx{ctx: ctx, q: sqlTx}); err != nil {
		return storeError(err)
	}
	if err := sqlTx.Commit(); err != nil {
		return storeError(fmt.Errorf("commit: %w", err))
	}
	return nil
}

func (d *Docs) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return storeError(d.db.PingContext(ctx))
}

// storeError passes domain errors through and reports anything else as the
// store being unavailable.
func storeError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := model.AsError(err); ok {
		return err
	}
	return model.StoreUnavailable(err)
}

func (t *Tx) Get(key string, v any) error {
	var body string
	err := t.q.QueryRowContext(t.ctx, "SELECT body FROM documents WHERE key = ?", key).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNoDocument
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	return json.Unmarshal([]byte(body), v)
}

// JSONGet decodes the value at path inside the document at key.
func (t *Tx) JSONGet(key, path string, v any) error {
	var value sql.NullString
	err := t.q.QueryRowContext(t.ctx, "SELECT body -> ? FROM documents WHERE key = ?", path, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNoDocument
	}
	if err != nil {
		return fmt.Errorf("get %s %s: %w", key, path, err)
	}
	if !value.Valid {
		return ErrNoPath
	}
	return json.Unmarshal([]byte(value.String), v)
}

func (t *Tx) Exists(key string) (bool, error) {
	var one int
	err := t.q.QueryRowContext(t.ctx, "SELECT 1 FROM documents WHERE key = ?", key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", key, err)
	}
	return true, nil
}

// Put writes the whole document, replacing any previous one.
func (t *Tx) Put(key string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = t.q.ExecContext(t.ctx, `
		INSERT INTO documents (key, body) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET body = excluded.body, updated_at = CURRENT_TIMESTAMP`,
		key, string(body))
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// PutNX writes the document only if key is absent and reports whether it did.
func (t *Tx) PutNX(key string, v any) (bool, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return false, err
	}
	result, err := t.q.ExecContext(t.ctx, "INSERT OR IGNORE INTO documents (key, body) VALUES (?, ?)", key, string(body))
	if err != nil {
		return false, fmt.Errorf("put %s: %w", key, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// JSONSet replaces the value at path.
func (t *Tx) JSONSet(key, path string, v any) error {
	value, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return t.exec(key, "json_set(body, ?, json(?))", path, string(value))
}

// ArrAppend appends v to the array at path.
func (t *Tx) ArrAppend(key, path string, v any) error {
	value, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return t.exec(key, "json_insert(body, ?, json(?))", path+"[#]", string(value))
}

func (t *Tx) exec(key, expr string, args ...any) error {
	query := "UPDATE documents SET body = " + expr + ", updated_at = CURRENT_TIMESTAMP WHERE key = ?"
	result, err := t.q.ExecContext(t.ctx, query, append(args, key)...)
	if err != nil {
		return fmt.Errorf("update %s: %w", key, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoDocument
	}
	return nil
}
