package rpc

import (
	"context"
	"fmt"
	"time"

	"github.com/Joseda-hg/imon/internal/clock"
	"github.com/Joseda-hg/imon/internal/logger"
	"github.com/Joseda-hg/imon/internal/model"
)

// RecordStore is the storage the dispatcher drives.
type RecordStore interface {
	Now() time.Time
	Register(ctx context.Context, role model.Role, name string) (string, error)
	Mutate(ctx context.Context, key string, next func(model.Task) (model.Task, error)) (model.UserRecord, error)
	Reset(ctx context.Context, key string) (model.UserRecord, error)
	ResetSudo(ctx context.Context, key string) (model.SudoUserRecord, error)
	GetUser(ctx context.Context, key string) (model.UserRecord, error)
	GetSudo(ctx context.Context, key string) (model.SudoUserRecord, error)
	ListUsers(ctx context.Context) ([]model.UserRecord, error)
	ListSudo(ctx context.Context) ([]model.SudoUserRecord, error)
	PublishTask(ctx context.Context, key, name, description string) (model.PublishedTask, error)
}

type Dispatcher struct {
	store RecordStore
}

func NewDispatcher(store RecordStore) *Dispatcher {
	return &Dispatcher{store: store}
}

// Dispatch runs req and converts the outcome to a Response.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Response {
	data, err := d.handle(ctx, req)
	if err != nil {
		resp := FromError(err)
		switch {
		case resp.Code >= 500:
			logger.Dispatch.Error("operation failed", "event", eventOf(req.Op), "role", req.Role, "error", err)
		default:
			logger.Dispatch.Debug("operation rejected", "event", eventOf(req.Op), "role", req.Role, "error", err)
		}
		return resp
	}
	return OK(data)
}

func (d *Dispatcher) handle(ctx context.Context, req Request) (map[string]any, error) {
	if req.Op == nil {
		return nil, model.Unprocessable("payload", "payload is required")
	}
	if !req.Op.Event().Allows(req.Role) {
		return nil, model.RoleMismatch("metadata.of", fmt.Sprintf("%s cannot be submitted as %s", req.Op.Event(), req.Role))
	}

	switch op := req.Op.(type) {
	case RegisterRecord:
		key, err := d.store.Register(ctx, req.Role, op.UserName)
		if err != nil {
			return nil, err
		}
		return map[string]any{"user_key": key}, nil

	case AddTask:
		record, err := d.transition(ctx, op.Key, clock.EventBegin, op.Task.Name)
		if err != nil {
			return nil, err
		}
		return map[string]any{"current_task": record.CurrentTask}, nil

	case UpdateTask:
		ev, err := eventForState(op.State)
		if err != nil {
			return nil, err
		}
		record, err := d.transition(ctx, op.Key, ev, "")
		if err != nil {
			return nil, err
		}
		return map[string]any{"current_task": record.CurrentTask}, nil

	case ResetRecord:
		if req.Role == model.RoleSudo {
			record, err := d.store.ResetSudo(ctx, op.Key)
			if err != nil {
				return nil, err
			}
			return map[string]any{"user_data": record}, nil
		}
		record, err := d.store.Reset(ctx, op.Key)
		if err != nil {
			return nil, err
		}
		return map[string]any{"user_data": record}, nil

	case GetSingleRecord:
		if req.Role == model.RoleSudo {
			record, err := d.store.GetSudo(ctx, op.Key)
			if err != nil {
				return nil, err
			}
			return map[string]any{"record": record}, nil
		}
		record, err := d.store.GetUser(ctx, op.Key)
		if err != nil {
			return nil, err
		}
		return map[string]any{"task_log": record.TaskHistory}, nil

	case GetAllRecords:
		if req.Role == model.RoleSudo {
			records, err := d.store.ListSudo(ctx)
			if err != nil {
				return nil, err
			}
			return map[string]any{"sudo_records": records}, nil
		}
		records, err := d.store.ListUsers(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"user_records": records}, nil

	case PublishTask:
		task, err := d.store.PublishTask(ctx, op.Key, op.Task.Name, op.Task.Description)
		if err != nil {
			return nil, err
		}
		return map[string]any{"task": task}, nil
	}

	return nil, model.Unprocessable("metadata.event_type", fmt.Sprintf("unsupported event %s", req.Op.Event()))
}

// transition applies ev to the current task of key once guard allows it.
func (d *Dispatcher) transition(ctx context.Context, key string, ev clock.Event, name string) (model.UserRecord, error) {
	record, err := d.store.Mutate(ctx, key, func(current model.Task) (model.Task, error) {
		if err := guard(current, ev); err != nil {
			return model.Task{}, err
		}
		return clock.Apply(current, ev, name, d.store.Now()), nil
	})
	if err != nil {
		return model.UserRecord{}, err
	}
	logger.Dispatch.Info("task transition", "key", key, "event", ev, "state", record.CurrentTask.State)
	return record, nil
}
