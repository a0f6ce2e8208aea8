package db

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Joseda-hg/imon/internal/clock"
	"github.com/Joseda-hg/imon/internal/model"
)

func TestRegisterAssignsSequentialIDs(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	for i, name := range []string{"alice", "bob", "carol"} {
		key, err := store.Register(ctx, model.RoleUser, name)
		if err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
		want := model.DeriveKey(model.RoleUser, name, i)
		if key != want {
			t.Fatalf("expected key %q, got %q", want, key)
		}
	}

	sudoKey, err := store.Register(ctx, model.RoleSudo, "root")
	if err != nil {
		t.Fatalf("register sudo: %v", err)
	}
	if sudoKey != "sudo:root:0000" {
		t.Fatalf("expected sudo ids to start at 0, got %q", sudoKey)
	}

	record, err := store.GetUser(ctx, "user:bob:0001")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if record.ID != 1 || record.UserName != "bob" {
		t.Fatalf("unexpected record identity: %+v", record)
	}
	if record.CurrentTask.State != model.StateIdle || record.CurrentTask.Name != model.PlaceholderInitialised {
		t.Fatalf("expected idle placeholder, got %+v", record.CurrentTask)
	}
	if len(record.TaskHistory) != 0 {
		t.Fatalf("expected empty history, got %d entries", len(record.TaskHistory))
	}
}

func TestRegisterRejectsInvalidNames(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	for _, name := range []string{"", "  ", "a:b"} {
		_, err := store.Register(context.Background(), model.RoleUser, name)
		if !errors.Is(err, model.ErrUnprocessable) {
			t.Fatalf("register %q: expected unprocessable, got %v", name, err)
		}
	}
}

func TestMutateAppliesTransitionsAndReplacesOpenTail(t *testing.T) {
	now := newFakeClock()
	store, cleanup := newTestStore(t, WithClock(now.Now))
	defer cleanup()
	ctx := context.Background()

	key, err := store.Register(ctx, model.RoleUser, "alice")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	steps := []clock.Event{clock.EventBegin, clock.EventPause, clock.EventResume, clock.EventFinish}
	var record model.UserRecord
	for _, ev := range steps {
		now.Advance(60 * time.Second)
		record, err = store.Mutate(ctx, key, func(current model.Task) (model.Task, error) {
			return clock.Apply(current, ev, "write report", store.Now()), nil
		})
		if err != nil {
			t.Fatalf("mutate %s: %v", ev, err)
		}
		if len(record.TaskHistory) != 1 {
			t.Fatalf("after %s expected 1 history entry, got %d", ev, len(record.TaskHistory))
		}
	}

	if record.CurrentTask.State != model.StateEnd {
		t.Fatalf("expected End, got %s", record.CurrentTask.State)
	}
	if record.CurrentTask.Duration != 120 {
		t.Fatalf("expected 120s of work, got %d", record.CurrentTask.Duration)
	}

	now.Advance(time.Minute)
	record, err = store.Mutate(ctx, key, func(current model.Task) (model.Task, error) {
		return clock.Begin("second", store.Now()), nil
	})
	if err != nil {
		t.Fatalf("mutate second session: %v", err)
	}
	if len(record.TaskHistory) != 2 {
		t.Fatalf("expected closed session to stay in history, got %d entries", len(record.TaskHistory))
	}

	stored, err := store.GetUser(ctx, key)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if stored.TaskHistory[0].Name != "second" {
		t.Fatalf("expected newest session first, got %q", stored.TaskHistory[0].Name)
	}
	if stored.CurrentTask.Name != "second" || stored.CurrentTask.State != model.StateBegin {
		t.Fatalf("unexpected current task: %+v", stored.CurrentTask)
	}
}

func TestMutateErrorLeavesRecordUntouched(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	key, err := store.Register(ctx, model.RoleUser, "alice")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	rejected := errors.New("rejected")
	_, err = store.Mutate(ctx, key, func(model.Task) (model.Task, error) {
		return model.Task{}, rejected
	})
	if err != rejected {
		t.Fatalf("expected the callback error unchanged, got %v", err)
	}

	record, err := store.GetUser(ctx, key)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if record.CurrentTask.State != model.StateIdle || len(record.TaskHistory) != 0 {
		t.Fatalf("record changed after rejected mutation: %+v", record)
	}
}

func TestMutateValidatesKey(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()
	begin := func(model.Task) (model.Task, error) { return clock.Begin("x", time.Now()), nil }

	if _, err := store.Mutate(ctx, "user:ghost:0009", begin); !errors.Is(err, model.ErrRecordNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := store.Mutate(ctx, "user:ghost:abc", begin); !errors.Is(err, model.ErrMalformedKey) {
		t.Fatalf("expected malformed key, got %v", err)
	}
	if _, err := store.Mutate(ctx, "sudo:root:0000", begin); !errors.Is(err, model.ErrRoleMismatch) {
		t.Fatalf("expected role mismatch, got %v", err)
	}
}

func TestResetKeepsIdentity(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	if _, err := store.Register(ctx, model.RoleUser, "alice"); err != nil {
		t.Fatalf("register: %v", err)
	}
	key, err := store.Register(ctx, model.RoleUser, "bob")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := store.Mutate(ctx, key, func(model.Task) (model.Task, error) {
		return clock.Begin("x", store.Now()), nil
	}); err != nil {
		t.Fatalf("mutate: %v", err)
	}

	record, err := store.Reset(ctx, key)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if record.ID != 1 || record.UserName != "bob" {
		t.Fatalf("reset changed identity: %+v", record)
	}
	if len(record.TaskHistory) != 0 || record.CurrentTask.State != model.StateIdle || record.CurrentTask.Name != model.PlaceholderReset {
		t.Fatalf("unexpected reset record: %+v", record)
	}

	if _, err := store.Reset(ctx, "user:nobody:0042"); !errors.Is(err, model.ErrRecordNotFound) {
		t.Fatalf("expected not found for unknown key, got %v", err)
	}
}

func TestListUsersReturnsRegistrationOrder(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	empty, err := store.ListUsers(ctx)
	if err != nil {
		t.Fatalf("list before registration: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected no records, got %d", len(empty))
	}

	const n = 5
	for i := 0; i < n; i++ {
		if _, err := store.Register(ctx, model.RoleUser, fmt.Sprintf("user%d", i)); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	if _, err := store.Register(ctx, model.RoleSudo, "root"); err != nil {
		t.Fatalf("register sudo: %v", err)
	}

	records, err := store.ListUsers(ctx)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(records) != n {
		t.Fatalf("expected %d records, got %d", n, len(records))
	}
	for i, record := range records {
		if record.ID != i {
			t.Fatalf("expected record %d at position %d, got %d", i, i, record.ID)
		}
	}

	sudo, err := store.ListSudo(ctx)
	if err != nil {
		t.Fatalf("list sudo: %v", err)
	}
	if len(sudo) != 1 || sudo[0].UserName != "root" {
		t.Fatalf("unexpected sudo records: %+v", sudo)
	}
}

func TestListUsersReportsCorruptIndex(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	key, err := store.Register(ctx, model.RoleUser, "alice")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := store.DB.Exec("DELETE FROM documents WHERE key = ?", key); err != nil {
		t.Fatalf("delete record: %v", err)
	}

	_, err = store.ListUsers(ctx)
	if !errors.Is(err, model.ErrCorruptIndex) {
		t.Fatalf("expected corrupt index, got %v", err)
	}
	e, _ := model.AsError(err)
	if e.Key != key {
		t.Fatalf("expected offending key %q, got %q", key, e.Key)
	}
}

func TestPublishTaskOrdersNewestFirst(t *testing.T) {
	now := newFakeClock()
	store, cleanup := newTestStore(t, WithClock(now.Now))
	defer cleanup()
	ctx := context.Background()

	key, err := store.Register(ctx, model.RoleSudo, "root")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	for _, name := range []string{"first", "second", "third"} {
		now.Advance(time.Minute)
		if _, err := store.PublishTask(ctx, key, name, "do "+name); err != nil {
			t.Fatalf("publish %s: %v", name, err)
		}
	}

	record, err := store.GetSudo(ctx, key)
	if err != nil {
		t.Fatalf("get sudo: %v", err)
	}
	if len(record.PublishedTasks) != 3 || record.PublishedTasks[0].Name != "third" {
		t.Fatalf("unexpected published tasks: %+v", record.PublishedTasks)
	}

	if _, err := store.PublishTask(ctx, "user:alice:0000", "x", ""); !errors.Is(err, model.ErrRoleMismatch) {
		t.Fatalf("expected role mismatch, got %v", err)
	}
	if _, err := store.PublishTask(ctx, "sudo:ghost:0005", "x", ""); !errors.Is(err, model.ErrRecordNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	reset, err := store.ResetSudo(ctx, key)
	if err != nil {
		t.Fatalf("reset sudo: %v", err)
	}
	if len(reset.PublishedTasks) != 0 || reset.UserName != "root" {
		t.Fatalf("unexpected reset sudo record: %+v", reset)
	}
}

func TestConcurrentMutationsOnDistinctKeys(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	const users = 6
	keys := make([]string, users)
	for i := range keys {
		key, err := store.Register(ctx, model.RoleUser, fmt.Sprintf("user%d", i))
		if err != nil {
			t.Fatalf("register: %v", err)
		}
		keys[i] = key
	}

	events := []clock.Event{clock.EventBegin, clock.EventPause, clock.EventResume, clock.EventFinish, clock.EventBegin}
	var wg sync.WaitGroup
	errs := make(chan error, users)
	for _, key := range keys {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			for _, ev := range events {
				if _, err := store.Mutate(ctx, key, func(current model.Task) (model.Task, error) {
					return clock.Apply(current, ev, key, store.Now()), nil
				}); err != nil {
					errs <- err
					return
				}
			}
		}(key)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent mutate: %v", err)
	}

	for _, key := range keys {
		record, err := store.GetUser(ctx, key)
		if err != nil {
			t.Fatalf("get user: %v", err)
		}
		if len(record.TaskHistory) != 2 {
			t.Fatalf("%s: expected 2 history entries, got %d", key, len(record.TaskHistory))
		}
		if record.CurrentTask.State != model.StateBegin || record.CurrentTask.Name != key {
			t.Fatalf("%s: unexpected current task %+v", key, record.CurrentTask)
		}
	}
	if store.locks.len() != 0 {
		t.Fatalf("expected key locks to be released, %d remain", store.locks.len())
	}
}

func TestConcurrentMutationsOnSameKeySerialize(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	key, err := store.Register(ctx, model.RoleUser, "alice")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	const sessions = 10
	var wg sync.WaitGroup
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("s%d", i)
			if _, err := store.Mutate(ctx, key, func(current model.Task) (model.Task, error) {
				if current.State.Open() {
					return clock.Finish(current, store.Now()), nil
				}
				return clock.Begin(name, store.Now()), nil
			}); err != nil {
				t.Errorf("mutate: %v", err)
			}
		}(i)
	}
	wg.Wait()

	record, err := store.GetUser(ctx, key)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if len(record.TaskHistory) != sessions/2 {
		t.Fatalf("expected %d sessions, got %d", sessions/2, len(record.TaskHistory))
	}
	for _, task := range record.TaskHistory {
		if task.State != model.StateEnd {
			t.Fatalf("expected every session closed, got %+v", task)
		}
	}
}

func TestSubscribeNotifiesOnlyMatchingKey(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	alice, err := store.Register(ctx, model.RoleUser, "alice")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	bob, err := store.Register(ctx, model.RoleUser, "bob")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	id, ch := store.Subscribe(alice)
	defer store.Unsubscribe(id)

	begin := func(model.Task) (model.Task, error) { return clock.Begin("x", store.Now()), nil }
	if _, err := store.Mutate(ctx, bob, begin); err != nil {
		t.Fatalf("mutate bob: %v", err)
	}
	select {
	case <-ch:
		t.Fatalf("unexpected notification for another key")
	default:
	}

	if _, err := store.Mutate(ctx, alice, begin); err != nil {
		t.Fatalf("mutate alice: %v", err)
	}
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatalf("expected notification")
	}

	store.Unsubscribe(id)
	store.notify(alice)
	select {
	case <-ch:
		t.Fatalf("notification after unsubscribe")
	default:
	}
}

func TestNotifyDoesNotBlockSlowSubscribers(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	_, _ = store.Subscribe("user:alice:0000")
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			store.notify("user:alice:0000")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("notify blocked")
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T, opts ...Option) (*Store, func()) {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "imon.db"), 4)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	return NewStore(db, opts...), func() {
		_ = db.Close()
	}
}
