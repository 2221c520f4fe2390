package domain

import (
	"database/sql"
	"time"
)

type TaskStatus string

const (
	TaskStatusPending TaskStatus = "pending"
	TaskStatusRunning TaskStatus = "running"
	TaskStatusDone    TaskStatus = "done"
	TaskStatusFailed  TaskStatus = "failed"
)

// Task is the durable queue envelope for one job execution. The queue
// redelivers a claimed task whose runner crashed before acknowledging, so a
// job may be delivered more than once; runners must tolerate that.
type Task struct {
	ID          string
	JobID       string
	Kind        JobKind
	Status      TaskStatus
	Attempts    int64
	LastError   string
	CreatedAt   time.Time
	StartedAt   sql.NullTime
	CompletedAt sql.NullTime
}
