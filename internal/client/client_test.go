package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Joseda-hg/imon/internal/db"
	"github.com/Joseda-hg/imon/internal/model"
	"github.com/Joseda-hg/imon/internal/web"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn, err := db.Open(filepath.Join(t.TempDir(), "imon.db"), 4)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	srv := httptest.NewServer(web.NewServer(db.NewStore(conn)).Handler())
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", 5*time.Second)
}

func TestClientSessionRoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.Health(ctx))

	key, err := c.Register(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "user:alice:0000", key)

	task, err := c.Begin(ctx, key, "write report")
	require.NoError(t, err)
	assert.Equal(t, model.StateBegin, task.State)

	task, err = c.Update(ctx, key, model.StateBreak)
	require.NoError(t, err)
	assert.Equal(t, model.StateBreak, task.State)

	task, err = c.Update(ctx, key, model.StateEnd)
	require.NoError(t, err)
	assert.Equal(t, model.StateEnd, task.State)

	log, err := c.TaskLog(ctx, key)
	require.NoError(t, err)
	require.Len(t, log, 1)

	records, err := c.Records(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "alice", records[0].UserName)

	record, err := c.Reset(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, record.TaskHistory)
}

func TestClientSurfacesAPIErrors(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, err := c.TaskLog(ctx, "user:ghost:0001")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr), "got %v", err)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "Invalid credentials", apiErr.Message)

	key, err := c.Register(ctx, "bob")
	require.NoError(t, err)
	_, err = c.Update(ctx, key, model.StateEnd)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Equal(t, "state", apiErr.Field)
}

func TestClientWatch(t *testing.T) {
	c := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key, err := c.Register(ctx, "alice")
	require.NoError(t, err)

	stop := errors.New("stop")
	var seen []model.TaskState
	err = c.Watch(ctx, key, func(record model.UserRecord) error {
		seen = append(seen, record.CurrentTask.State)
		if len(seen) == 1 {
			_, err := c.Begin(ctx, key, "watched")
			return err
		}
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, []model.TaskState{model.StateIdle, model.StateBegin}, seen)
}

func TestClientWatchRefusedForUnknownKey(t *testing.T) {
	c := newTestClient(t)

	err := c.Watch(context.Background(), "user:ghost:0001", func(model.UserRecord) error { return nil })
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr), "got %v", err)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestCache(t *testing.T) {
	cache := NewCache(filepath.Join(t.TempDir(), "cache", "last-task.json"))

	_, ok, err := cache.Load()
	require.NoError(t, err)
	assert.False(t, ok)

	task := model.Task{Name: "x", State: model.StateBegin, BeginTime: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)}
	require.NoError(t, cache.Save(task))

	loaded, ok, err := cache.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, task.Name, loaded.Name)
	assert.True(t, task.BeginTime.Equal(loaded.BeginTime))

	require.NoError(t, cache.Clear())
	require.NoError(t, cache.Clear())
	_, ok, err = cache.Load()
	require.NoError(t, err)
	assert.False(t, ok)
}
