// Package client talks to the imon service over HTTP and websockets.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/Joseda-hg/imon/internal/model"
)

// APIError is an error response from the service.
type APIError struct {
	StatusCode int
	Message    string
	Field      string
}

func (e *APIError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Field)
	}
	return e.Message
}

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type envelope struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Field   string          `json:"field"`
}

func (c *Client) Register(ctx context.Context, name string) (string, error) {
	var out struct {
		UserKey string `json:"user_key"`
	}
	err := c.call(ctx, http.MethodPost, "/record/new", map[string]string{"user_name": name}, &out)
	return out.UserKey, err
}

func (c *Client) Begin(ctx context.Context, key, name string) (model.Task, error) {
	var out struct {
		CurrentTask model.Task `json:"current_task"`
	}
	body := map[string]any{"key": key, "task": map[string]string{"name": name}}
	err := c.call(ctx, http.MethodPost, "/task/new", body, &out)
	return out.CurrentTask, err
}

// Update moves the current task to state (Break, Back or End).
func (c *Client) Update(ctx context.Context, key string, state model.TaskState) (model.Task, error) {
	var out struct {
		CurrentTask model.Task `json:"current_task"`
	}
	body := map[string]any{"key": key, "state": state}
	err := c.call(ctx, http.MethodPost, "/task/update", body, &out)
	return out.CurrentTask, err
}

func (c *Client) Reset(ctx context.Context, key string) (model.UserRecord, error) {
	var out struct {
		UserData model.UserRecord `json:"user_data"`
	}
	err := c.call(ctx, http.MethodPost, "/task/reset", map[string]string{"key": key}, &out)
	return out.UserData, err
}

// TaskLog returns the history of key, newest first.
func (c *Client) TaskLog(ctx context.Context, key string) ([]model.Task, error) {
	var out struct {
		TaskLog []model.Task `json:"task_log"`
	}
	err := c.call(ctx, http.MethodPost, "/record", map[string]string{"key": key}, &out)
	return out.TaskLog, err
}

func (c *Client) Records(ctx context.Context) ([]model.UserRecord, error) {
	var out struct {
		UserRecords []model.UserRecord `json:"user_records"`
	}
	err := c.call(ctx, http.MethodGet, "/record/all", nil, &out)
	return out.UserRecords, err
}

func (c *Client) Health(ctx context.Context) error {
	return c.call(ctx, http.MethodGet, "/healthz", nil, nil)
}

// Watch streams the user record at key, calling fn with each version until
// ctx ends, the service closes the stream, or fn returns an error.
func (c *Client) Watch(ctx context.Context, key string, fn func(model.UserRecord) error) error {
	u, err := url.Parse(c.baseURL + "/record/stream")
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.RawQuery = url.Values{"key": {key}}.Encode()

	conn, resp, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return &APIError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("stream refused: %s", resp.Status)}
		}
		return err
	}
	defer conn.CloseNow()

	for {
		var record model.UserRecord
		if err := wsjson.Read(ctx, conn, &record); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := fn(record); err != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return err
		}
	}
}

func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &payload)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode %s response (%s): %w", path, resp.Status, err)
	}
	if resp.StatusCode != http.StatusOK || env.Status != "ok" {
		msg := env.Message
		if msg == "" {
			msg = resp.Status
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg, Field: env.Field}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}
