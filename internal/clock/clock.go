// Package clock computes task snapshots for each lifecycle transition.
// It performs no validation; callers decide whether a transition is allowed.
package clock

import (
	"time"

	"github.com/Joseda-hg/imon/internal/model"
)

type Event int

const (
	EventBegin Event = iota + 1
	EventPause
	EventResume
	EventFinish
)

func (e Event) String() string {
	switch e {
	case EventBegin:
		return "begin"
	case EventPause:
		return "pause"
	case EventResume:
		return "resume"
	case EventFinish:
		return "finish"
	}
	return "unknown"
}

// Apply dispatches to the transition named by ev. name is only used by
// EventBegin.
func Apply(current model.Task, ev Event, name string, now time.Time) model.Task {
	switch ev {
	case EventBegin:
		return Begin(name, now)
	case EventPause:
		return Pause(current, now)
	case EventResume:
		return Resume(current, now)
	default:
		return Finish(current, now)
	}
}

func Begin(name string, now time.Time) model.Task {
	return model.Task{
		Name:      name,
		State:     model.StateBegin,
		BeginTime: now,
		EndTime:   now,
	}
}

func Pause(current model.Task, now time.Time) model.Task {
	return model.Task{
		Name:      current.Name,
		State:     model.StateBreak,
		BeginTime: current.BeginTime,
		EndTime:   now,
		Duration:  seconds(current.BeginTime, now),
	}
}

// Resume restarts the clock: the run since BeginTime is added to Duration
// when the session finishes.
func Resume(current model.Task, now time.Time) model.Task {
	return model.Task{
		Name:      current.Name,
		State:     model.StateBack,
		BeginTime: now,
		EndTime:   current.EndTime,
		Duration:  current.Duration,
	}
}

func Finish(current model.Task, now time.Time) model.Task {
	var duration int64
	switch current.State {
	case model.StateBreak:
		duration = current.Duration
	case model.StateBack:
		duration = seconds(current.BeginTime, now) + current.Duration
	default:
		duration = seconds(current.BeginTime, now)
	}
	return model.Task{
		Name:      current.Name,
		State:     model.StateEnd,
		BeginTime: current.BeginTime,
		EndTime:   now,
		Duration:  duration,
	}
}

// ReplaceOpenTail returns a new history with next appended. When wasOpen,
// the last entry is the previous snapshot of the same session and is dropped.
func ReplaceOpenTail(history []model.Task, next model.Task, wasOpen bool) []model.Task {
	keep := len(history)
	if wasOpen && keep > 0 {
		keep--
	}
	result := make([]model.Task, 0, keep+1)
	result = append(result, history[:keep]...)
	return append(result, next)
}

// seconds truncates to whole seconds; a clock running backwards yields 0.
func seconds(from, to time.Time) int64 {
	d := int64(to.Sub(from) / time.Second)
	if d < 0 {
		return 0
	}
	return d
}
