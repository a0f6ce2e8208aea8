package model

import (
	"encoding/json"
	"fmt"
	"time"
)

type Role string

const (
	RoleUser Role = "user"
	RoleSudo Role = "sudo"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleSudo
}

func (r *Role) UnmarshalJSON(data []byte) error {
	var value string
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	role := Role(value)
	if !role.Valid() {
		return fmt.Errorf("unknown role %q", value)
	}
	*r = role
	return nil
}

type TaskState string

const (
	StateIdle  TaskState = "Idle"
	StateBegin TaskState = "Begin"
	StateBreak TaskState = "Break"
	StateBack  TaskState = "Back"
	StateEnd   TaskState = "End"
)

// Open reports whether the state belongs to a session that has not ended.
func (s TaskState) Open() bool {
	switch s {
	case StateBegin, StateBreak, StateBack:
		return true
	}
	return false
}

func (s TaskState) Valid() bool {
	switch s {
	case StateIdle, StateBegin, StateBreak, StateBack, StateEnd:
		return true
	}
	return false
}

func (s *TaskState) UnmarshalJSON(data []byte) error {
	var value string
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	state := TaskState(value)
	if !state.Valid() {
		return fmt.Errorf("unknown task state %q", value)
	}
	*s = state
	return nil
}

// Task is one snapshot of a work session. Transitions produce new values.
type Task struct {
	Name      string    `json:"name"`
	State     TaskState `json:"state"`
	BeginTime time.Time `json:"begin_time"`
	EndTime   time.Time `json:"end_time"`
	Duration  int64     `json:"duration"`
}

func (t Task) Elapsed() time.Duration {
	return time.Duration(t.Duration) * time.Second
}

const (
	PlaceholderInitialised = "initialised"
	PlaceholderReset       = "reset"
)

func IdleTask(name string, now time.Time) Task {
	return Task{Name: name, State: StateIdle, BeginTime: now, EndTime: now}
}

type UserRecord struct {
	ID          int    `json:"id"`
	UserName    string `json:"user_name"`
	TaskHistory []Task `json:"task_history"`
	CurrentTask Task   `json:"current_task"`
}

type PublishedTask struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

type SudoUserRecord struct {
	ID             int             `json:"id"`
	UserName       string          `json:"user_name"`
	PublishedTasks []PublishedTask `json:"published_tasks"`
}

const OperatingInfoKey = "operating_info"

// OperatingInfo holds the id counters and key lists for both roles.
// A nil id means no record of that role was registered yet.
type OperatingInfo struct {
	LatestRecordID     *int     `json:"latest_record_id"`
	LatestSudoRecordID *int     `json:"latest_sudo_record_id"`
	UserList           []string `json:"user_list"`
	SudoUserList       []string `json:"sudo_user_list"`
}

func NewOperatingInfo() OperatingInfo {
	return OperatingInfo{UserList: []string{}, SudoUserList: []string{}}
}

// NextID returns the id the next registration of role receives.
func (o OperatingInfo) NextID(role Role) int {
	latest := o.LatestRecordID
	if role == RoleSudo {
		latest = o.LatestSudoRecordID
	}
	if latest == nil {
		return 0
	}
	return *latest + 1
}

func (o OperatingInfo) Keys(role Role) []string {
	if role == RoleSudo {
		return o.SudoUserList
	}
	return o.UserList
}

// IDPath and ListPath name the JSON paths holding role's counter and key list.
func IDPath(role Role) string {
	if role == RoleSudo {
		return "$.latest_sudo_record_id"
	}
	return "$.latest_record_id"
}

func ListPath(role Role) string {
	if role == RoleSudo {
		return "$.sudo_user_list"
	}
	return "$.user_list"
}
