// Package rpc decodes operation envelopes and routes them to the record
// store.
package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Joseda-hg/imon/internal/model"
)

type EventType string

const (
	EventRegisterRecord  EventType = "register_record"
	EventAddTask         EventType = "add_task"
	EventUpdateTask      EventType = "update_task"
	EventResetRecord     EventType = "reset_record"
	EventGetSingleRecord EventType = "get_single_record"
	EventGetAllRecords   EventType = "get_all_records"
	EventPublishTask     EventType = "publish_task"
)

// Allows reports whether role may submit the event.
func (e EventType) Allows(role model.Role) bool {
	switch e {
	case EventAddTask, EventUpdateTask:
		return role == model.RoleUser
	case EventPublishTask:
		return role == model.RoleSudo
	}
	return role.Valid()
}

type Metadata struct {
	Of        model.Role `json:"of"`
	EventType EventType  `json:"event_type"`
}

type Envelope struct {
	Metadata Metadata        `json:"metadata"`
	Payload  json.RawMessage `json:"payload"`
}

// Operation is one of the payload types below.
type Operation interface {
	Event() EventType
	validate() error
}

type RegisterRecord struct {
	UserName string `json:"user_name"`
}

type NewTask struct {
	Name string `json:"name"`
}

type AddTask struct {
	Key  string  `json:"key"`
	Task NewTask `json:"task"`
}

type UpdateTask struct {
	Key   string          `json:"key"`
	State model.TaskState `json:"state"`
}

type ResetRecord struct {
	Key string `json:"key"`
}

type GetSingleRecord struct {
	Key string `json:"key"`
}

type GetAllRecords struct{}

type TaskSpec struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type PublishTask struct {
	Key  string   `json:"key"`
	Task TaskSpec `json:"task"`
}

func (RegisterRecord) Event() EventType  { return EventRegisterRecord }
func (AddTask) Event() EventType         { return EventAddTask }
func (UpdateTask) Event() EventType      { return EventUpdateTask }
func (ResetRecord) Event() EventType     { return EventResetRecord }
func (GetSingleRecord) Event() EventType { return EventGetSingleRecord }
func (GetAllRecords) Event() EventType   { return EventGetAllRecords }
func (PublishTask) Event() EventType     { return EventPublishTask }

func (o RegisterRecord) validate() error { return required("user_name", o.UserName) }
func (o AddTask) validate() error {
	if err := required("key", o.Key); err != nil {
		return err
	}
	return required("task.name", o.Task.Name)
}
func (o UpdateTask) validate() error {
	if err := required("key", o.Key); err != nil {
		return err
	}
	return required("state", string(o.State))
}
func (o ResetRecord) validate() error     { return required("key", o.Key) }
func (o GetSingleRecord) validate() error { return required("key", o.Key) }
func (GetAllRecords) validate() error     { return nil }
func (o PublishTask) validate() error {
	if err := required("key", o.Key); err != nil {
		return err
	}
	return required("task.name", o.Task.Name)
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return model.Unprocessable(field, field+" is required")
	}
	return nil
}

// Request is a decoded envelope.
type Request struct {
	Role model.Role
	Op   Operation
}

// Decode reads one envelope and its typed payload. Anything it does not
// recognize is rejected.
func Decode(r io.Reader) (Request, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Request{}, model.Unprocessable("body", err.Error())
	}

	var env Envelope
	if err := decodeStrict(data, &env); err != nil {
		return Request{}, model.Unprocessable("envelope", err.Error())
	}
	if env.Metadata.Of == "" {
		return Request{}, model.Unprocessable("metadata.of", "metadata.of is required")
	}
	if env.Metadata.EventType == "" {
		return Request{}, model.Unprocessable("metadata.event_type", "metadata.event_type is required")
	}

	op, err := DecodePayload(env.Metadata.EventType, env.Payload)
	if err != nil {
		return Request{}, err
	}
	if !op.Event().Allows(env.Metadata.Of) {
		return Request{}, model.RoleMismatch("metadata.of", fmt.Sprintf("%s cannot be submitted as %s", op.Event(), env.Metadata.Of))
	}
	return Request{Role: env.Metadata.Of, Op: op}, nil
}

// DecodePayload decodes raw as the payload type of event.
func DecodePayload(event EventType, raw []byte) (Operation, error) {
	switch event {
	case EventRegisterRecord:
		return decodeOp[RegisterRecord](raw)
	case EventAddTask:
		return decodeOp[AddTask](raw)
	case EventUpdateTask:
		return decodeOp[UpdateTask](raw)
	case EventResetRecord:
		return decodeOp[ResetRecord](raw)
	case EventGetSingleRecord:
		return decodeOp[GetSingleRecord](raw)
	case EventGetAllRecords:
		if isEmptyPayload(raw) {
			return GetAllRecords{}, nil
		}
		return decodeOp[GetAllRecords](raw)
	case EventPublishTask:
		return decodeOp[PublishTask](raw)
	}
	return nil, model.Unprocessable("metadata.event_type", fmt.Sprintf("unknown event type %q", event))
}

func decodeOp[T Operation](raw []byte) (Operation, error) {
	var op T
	if isEmptyPayload(raw) {
		return nil, model.Unprocessable("payload", "payload is required")
	}
	if err := decodeStrict(raw, &op); err != nil {
		return nil, model.Unprocessable("payload", err.Error())
	}
	if err := op.validate(); err != nil {
		return nil, err
	}
	return op, nil
}

// As extracts the concrete payload of op.
func As[T Operation](op Operation) (T, error) {
	concrete, ok := op.(T)
	if !ok {
		var zero T
		return zero, model.Unprocessable("payload", fmt.Sprintf("expected %s payload, got %s", zero.Event(), eventOf(op)))
	}
	return concrete, nil
}

func eventOf(op Operation) EventType {
	if op == nil {
		return "none"
	}
	return op.Event()
}

func isEmptyPayload(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after payload")
	}
	return nil
}
