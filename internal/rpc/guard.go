package rpc

import (
	"fmt"

	"github.com/Joseda-hg/imon/internal/clock"
	"github.com/Joseda-hg/imon/internal/model"
)

// guard rejects transitions that are not legal from current.
func guard(current model.Task, ev clock.Event) error {
	state := current.State
	switch ev {
	case clock.EventBegin:
		if state.Open() {
			return stateError("already working on `%s`, finish it first", current.Name)
		}
	case clock.EventPause:
		switch state {
		case model.StateBegin:
			return nil
		case model.StateBreak:
			return stateError("already on a break from `%s`", current.Name)
		case model.StateBack:
			return stateError("`%s` was already paused once and resumed", current.Name)
		default:
			return stateError("not working on anything")
		}
	case clock.EventResume:
		switch state {
		case model.StateBreak:
			return nil
		case model.StateBegin, model.StateBack:
			return stateError("still working on `%s`, nothing to resume", current.Name)
		default:
			return stateError("not on a break")
		}
	case clock.EventFinish:
		if !state.Open() {
			return stateError("nothing to finish")
		}
	}
	return nil
}

// eventForState maps the requested target state of an update to its event.
func eventForState(state model.TaskState) (clock.Event, error) {
	switch state {
	case model.StateBreak:
		return clock.EventPause, nil
	case model.StateBack:
		return clock.EventResume, nil
	case model.StateEnd:
		return clock.EventFinish, nil
	}
	return 0, model.Unprocessable("state", fmt.Sprintf("cannot update a task to %s", state))
}

func stateError(format string, args ...any) error {
	return model.Unprocessable("state", fmt.Sprintf(format, args...))
}
