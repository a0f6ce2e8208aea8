package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Joseda-hg/imon/internal/clock"
	"github.com/Joseda-hg/imon/internal/logger"
	"github.com/Joseda-hg/imon/internal/model"
)

// Store owns every read-modify-write against the record documents. At most
// one mutation per key runs at a time within the process; the immediate
// write transactions of Docs extend that across processes.
type Store struct {
	DB *sql.DB

	docs    *Docs
	locks   *keyLocker
	subs    *subscribers
	now     func() time.Time
	timeout time.Duration
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithTimeout bounds every storage call.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) { s.timeout = d }
}

func NewStore(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		DB:      db,
		locks:   newKeyLocker(),
		subs:    newSubscribers(),
		now:     time.Now,
		timeout: defaultStoreTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.docs = NewDocs(db, s.timeout)
	return s
}

func (s *Store) Now() time.Time {
	return s.now()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.docs.Ping(ctx)
}

// Register allocates the next id for role and creates an empty record for
// name. The counter, key list and record are written in one transaction.
func (s *Store) Register(ctx context.Context, role model.Role, name string) (string, error) {
	if !role.Valid() {
		return "", model.Unprocessable("role", fmt.Sprintf("unknown role %q", role))
	}
	if err := model.ValidateName(name); err != nil {
		return "", err
	}

	unlock := s.locks.Lock(model.OperatingInfoKey)
	defer unlock()

	var key string
	err := s.docs.Update(ctx, func(tx *Tx) error {
		if _, err := tx.PutNX(model.OperatingInfoKey, model.NewOperatingInfo()); err != nil {
			return err
		}
		var info model.OperatingInfo
		if err := tx.Get(model.OperatingInfoKey, &info); err != nil {
			return err
		}

		id := info.NextID(role)
		key = model.DeriveKey(role, name, id)
		created, err := tx.PutNX(key, newRecord(role, name, id, s.now()))
		if err != nil {
			return err
		}
		if !created {
			return model.CorruptIndex(key, "record exists for an unallocated id")
		}

		if err := tx.JSONSet(model.OperatingInfoKey, model.IDPath(role), id); err != nil {
			return err
		}
		return tx.ArrAppend(model.OperatingInfoKey, model.ListPath(role), key)
	})
	if err != nil {
		return "", err
	}

	logger.Store.Info("record registered", "key", key)
	return key, nil
}

func newRecord(role model.Role, name string, id int, now time.Time) any {
	if role == model.RoleSudo {
		return model.SudoUserRecord{ID: id, UserName: name, PublishedTasks: []model.PublishedTask{}}
	}
	return model.UserRecord{
		ID:          id,
		UserName:    name,
		TaskHistory: []model.Task{},
		CurrentTask: model.IdleTask(model.PlaceholderInitialised, now),
	}
}

// Mutate replaces the current task of the user record at key with
// next(current) and records it in the history. An error from next aborts
// the mutation and is returned unchanged.
func (s *Store) Mutate(ctx context.Context, key string, next func(model.Task) (model.Task, error)) (model.UserRecord, error) {
	if _, err := parseRoleKey(key, model.RoleUser); err != nil {
		return model.UserRecord{}, err
	}

	unlock := s.locks.Lock(key)
	defer unlock()

	var record model.UserRecord
	var nextErr error
	err := s.docs.Update(ctx, func(tx *Tx) error {
		if err := getDoc(tx, key, &record); err != nil {
			return err
		}

		task, err := next(record.CurrentTask)
		if err != nil {
			nextErr = err
			return err
		}

		record.TaskHistory = clock.ReplaceOpenTail(record.TaskHistory, task, record.CurrentTask.State.Open())
		record.CurrentTask = task

		if err := tx.JSONSet(key, "$.task_history", record.TaskHistory); err != nil {
			return err
		}
		return tx.JSONSet(key, "$.current_task", record.CurrentTask)
	})
	if nextErr != nil {
		return model.UserRecord{}, nextErr
	}
	if err != nil {
		return model.UserRecord{}, err
	}

	s.notify(key)
	return record, nil
}

// Reset clears the history of an existing user record. Id and name are
// taken from the key.
func (s *Store) Reset(ctx context.Context, key string) (model.UserRecord, error) {
	parsed, err := parseRoleKey(key, model.RoleUser)
	if err != nil {
		return model.UserRecord{}, err
	}

	record := model.UserRecord{
		ID:          parsed.ID,
		UserName:    parsed.Name,
		TaskHistory: []model.Task{},
		CurrentTask: model.IdleTask(model.PlaceholderReset, s.now()),
	}
	if err := s.replace(ctx, key, record); err != nil {
		return model.UserRecord{}, err
	}
	return record, nil
}

func (s *Store) ResetSudo(ctx context.Context, key string) (model.SudoUserRecord, error) {
	parsed, err := parseRoleKey(key, model.RoleSudo)
	if err != nil {
		return model.SudoUserRecord{}, err
	}

	record := model.SudoUserRecord{
		ID:             parsed.ID,
		UserName:       parsed.Name,
		PublishedTasks: []model.PublishedTask{},
	}
	if err := s.replace(ctx, key, record); err != nil {
		return model.SudoUserRecord{}, err
	}
	return record, nil
}

func (s *Store) replace(ctx context.Context, key string, record any) error {
	unlock := s.locks.Lock(key)
	defer unlock()

	err := s.docs.Update(ctx, func(tx *Tx) error {
		exists, err := tx.Exists(key)
		if err != nil {
			return err
		}
		if !exists {
			return model.NotFound(key)
		}
		return tx.Put(key, record)
	})
	if err != nil {
		return err
	}

	logger.Store.Info("record reset", "key", key)
	s.notify(key)
	return nil
}

// GetUser returns the user record with its history newest first.
func (s *Store) GetUser(ctx context.Context, key string) (model.UserRecord, error) {
	if _, err := parseRoleKey(key, model.RoleUser); err != nil {
		return model.UserRecord{}, err
	}

	var record model.UserRecord
	if err := s.docs.View(ctx, func(tx *Tx) error {
		return getDoc(tx, key, &record)
	}); err != nil {
		return model.UserRecord{}, err
	}

	sort.SliceStable(record.TaskHistory, func(i, j int) bool {
		return record.TaskHistory[i].BeginTime.After(record.TaskHistory[j].BeginTime)
	})
	return record, nil
}

// GetSudo returns the sudo record with its published tasks newest first.
func (s *Store) GetSudo(ctx context.Context, key string) (model.SudoUserRecord, error) {
	if _, err := parseRoleKey(key, model.RoleSudo); err != nil {
		return model.SudoUserRecord{}, err
	}

	var record model.SudoUserRecord
	if err := s.docs.View(ctx, func(tx *Tx) error {
		return getDoc(tx, key, &record)
	}); err != nil {
		return model.SudoUserRecord{}, err
	}

	sort.SliceStable(record.PublishedTasks, func(i, j int) bool {
		return record.PublishedTasks[i].CreatedAt.After(record.PublishedTasks[j].CreatedAt)
	})
	return record, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]model.UserRecord, error) {
	return listRecords[model.UserRecord](ctx, s, model.RoleUser)
}

func (s *Store) ListSudo(ctx context.Context) ([]model.SudoUserRecord, error) {
	return listRecords[model.SudoUserRecord](ctx, s, model.RoleSudo)
}

// listRecords loads every record named in role's key list, in registration
// order. A listed key without a record is a CorruptIndex error.
func listRecords[T any](ctx context.Context, s *Store, role model.Role) ([]T, error) {
	var records []T
	err := s.docs.View(ctx, func(tx *Tx) error {
		var keys []string
		err := tx.JSONGet(model.OperatingInfoKey, model.ListPath(role), &keys)
		if errors.Is(err, ErrNoDocument) {
			return nil
		}
		if err != nil {
			return err
		}

		records = make([]T, 0, len(keys))
		for _, key := range keys {
			var record T
			err := getDoc(tx, key, &record)
			if errors.Is(err, model.ErrRecordNotFound) {
				logger.Store.Error("listed key has no record", "key", key, "role", role)
				return model.CorruptIndex(key, "listed key has no record")
			}
			if err != nil {
				return err
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []T{}
	}
	return records, nil
}

// PublishTask appends a task descriptor to the sudo record at key.
func (s *Store) PublishTask(ctx context.Context, key, name, description string) (model.PublishedTask, error) {
	if _, err := parseRoleKey(key, model.RoleSudo); err != nil {
		return model.PublishedTask{}, err
	}
	if strings.TrimSpace(name) == "" {
		return model.PublishedTask{}, model.Unprocessable("task.name", "task name is required")
	}

	unlock := s.locks.Lock(key)
	defer unlock()

	task := model.PublishedTask{Name: name, Description: description, CreatedAt: s.now()}
	err := s.docs.Update(ctx, func(tx *Tx) error {
		err := tx.ArrAppend(key, "$.published_tasks", task)
		if errors.Is(err, ErrNoDocument) {
			return model.NotFound(key)
		}
		return err
	})
	if err != nil {
		return model.PublishedTask{}, err
	}

	s.notify(key)
	return task, nil
}

func parseRoleKey(key string, role model.Role) (model.RecordKey, error) {
	parsed, err := model.ParseKey(key)
	if err != nil {
		return model.RecordKey{}, err
	}
	if parsed.Role != role {
		return model.RecordKey{}, model.RoleMismatch("key", fmt.Sprintf("expected a %s key", role))
	}
	return parsed, nil
}

func getDoc(tx *Tx, key string, v any) error {
	err := tx.Get(key, v)
	if errors.Is(err, ErrNoDocument) {
		return model.NotFound(key)
	}
	return err
}
