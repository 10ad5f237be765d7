package model

import "time"

// Status is a task's lifecycle state.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusWorking  Status = "working"
	StatusFinished Status = "finished"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusWorking, StatusFinished:
		return true
	}
	return false
}

type Task struct {
	ID                 string     `json:"id"`
	Owner              string     `json:"owner"`
	Title              string     `json:"title"`
	Description        string     `json:"description,omitempty"`
	CreatedAt          time.Time  `json:"createdDate"`
	DueAt              *time.Time `json:"dueDate,omitempty"`
	EstimatedMinutes   *int       `json:"estimatedTime,omitempty"`
	Progress           int        `json:"progress"`
	Priority           int        `json:"priority"`
	Status             Status     `json:"status"`
	Order              int        `json:"order"`
	LastProgressUpdate time.Time  `json:"lastProgressUpdate"`
	Pinned             bool       `json:"pinned"`
	WorkingStartTime   *time.Time `json:"workingStartTime,omitempty"`
	TotalTimeSpent     int        `json:"totalTimeSpent"`
	Subtasks           []Subtask  `json:"subtasks"`
}

type Subtask struct {
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
}

// WorkLog is an immutable record of time spent on a task. Logs outlive
// their task: deleting a task orphans its logs but never removes them.
type WorkLog struct {
	ID        string     `json:"id"`
	TaskID    string     `json:"task"`
	Owner     string     `json:"owner"`
	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`
	TimeSpent int        `json:"timeSpent"`
	Notes     string     `json:"notes,omitempty"`
	CreatedAt time.Time  `json:"createdDate"`
}
