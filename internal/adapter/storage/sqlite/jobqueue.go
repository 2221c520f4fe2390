package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mediaforge/mediaforge/internal/domain"
	"github.com/mediaforge/mediaforge/internal/port"
)

// JobQueue is the durable task queue backed by the same SQLite database as
// the job store. Pending tasks survive restarts; tasks left running by a
// crashed process are requeued by ResetStalled at startup.
type JobQueue struct {
	db          *sql.DB
	maxAttempts int64
}

func NewJobQueue(store *Store, maxAttempts int) *JobQueue {
	return &JobQueue{
		db:          store.db,
		maxAttempts: int64(maxAttempts),
	}
}

func (q *JobQueue) Enqueue(jobID string, kind domain.JobKind) (*domain.Task, error) {
	res, err := q.db.Exec(`
		INSERT INTO tasks (job_id, kind, status, created_at) VALUES (?, ?, ?, ?)`,
		jobID, string(kind), string(domain.TaskStatusPending), time.Now(),
	)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return q.get(id)
}

func (q *JobQueue) Claim(kinds ...domain.JobKind) (*domain.Task, error) {
	if len(kinds) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(kinds))
	args := make([]any, 0, len(kinds)+1)
	args = append(args, string(domain.TaskStatusPending))
	for i, k := range kinds {
		placeholders[i] = "?"
		args = append(args, string(k))
	}

	tx, err := q.db.Begin()
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	err = tx.QueryRow(`
		SELECT id FROM tasks
		WHERE status = ? AND kind IN (`+strings.Join(placeholders, ",")+`)
		ORDER BY id LIMIT 1`, args...,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	_, err = tx.Exec(`
		UPDATE tasks SET status = ?, attempts = attempts + 1, started_at = ?
		WHERE id = ?`,
		string(domain.TaskStatusRunning), time.Now(), id,
	)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return q.get(id)
}

func (q *JobQueue) Complete(taskID string) error {
	id, err := parseTaskID(taskID)
	if err != nil {
		return err
	}
	_, err = q.db.Exec(`
		UPDATE tasks SET status = ?, completed_at = ? WHERE id = ?`,
		string(domain.TaskStatusDone), time.Now(), id,
	)
	return err
}

func (q *JobQueue) Fail(taskID string, errMsg string) (bool, error) {
	id, err := parseTaskID(taskID)
	if err != nil {
		return false, err
	}

	task, err := q.get(id)
	if err != nil {
		return false, err
	}

	if task.Attempts < q.maxAttempts {
		_, err = q.db.Exec(`
			UPDATE tasks SET status = ?, last_error = ?, started_at = NULL
			WHERE id = ?`,
			string(domain.TaskStatusPending), errMsg, id,
		)
		return err == nil, err
	}

	_, err = q.db.Exec(`
		UPDATE tasks SET status = ?, last_error = ?, completed_at = ?
		WHERE id = ?`,
		string(domain.TaskStatusFailed), errMsg, time.Now(), id,
	)
	return false, err
}

func (q *JobQueue) ResetStalled() error {
	_, err := q.db.Exec(`
		UPDATE tasks SET status = ?, started_at = NULL WHERE status = ?`,
		string(domain.TaskStatusPending), string(domain.TaskStatusRunning),
	)
	return err
}

func (q *JobQueue) get(id int64) (*domain.Task, error) {
	row := q.db.QueryRow(`
		SELECT id, job_id, kind, status, attempts, last_error, created_at, started_at, completed_at
		FROM tasks WHERE id = ?`, id)

	var (
		t      domain.Task
		rowID  int64
		kind   string
		status string
	)
	err := row.Scan(&rowID, &t.JobID, &kind, &status, &t.Attempts,
		&t.LastError, &t.CreatedAt, &t.StartedAt, &t.CompletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	t.ID = strconv.FormatInt(rowID, 10)
	t.Kind = domain.JobKind(kind)
	t.Status = domain.TaskStatus(status)
	return &t, nil
}

func parseTaskID(taskID string) (int64, error) {
	id, err := strconv.ParseInt(taskID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid task id %q: %w", taskID, err)
	}
	return id, nil
}

var _ port.JobQueue = (*JobQueue)(nil)
