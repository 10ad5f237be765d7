package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jvilhena/taskember/internal/model"
)

var ErrTaskNotFound = errors.New("task not found")

type Store struct {
	DB *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{DB: db}
}

// TaskOrder pairs a task ID with its new manual sort position.
type TaskOrder struct {
	ID    string `json:"id"`
	Order int    `json:"order"`
}

const taskColumns = `id, owner, title, description, created_at, due_at, estimated_minutes,
	progress, priority, status, sort_order, last_progress_update, pinned,
	working_start_time, total_time_spent, subtasks_json`

func (s *Store) CreateTask(ctx context.Context, task model.Task) error {
	subtasks, err := marshalSubtasks(task.Subtasks)
	if err != nil {
		return err
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.Owner, task.Title, task.Description, task.CreatedAt.UTC(),
		nullTime(task.DueAt), nullInt(task.EstimatedMinutes),
		task.Progress, task.Priority, string(task.Status), task.Order,
		task.LastProgressUpdate.UTC(), task.Pinned,
		nullTime(task.WorkingStartTime), task.TotalTimeSpent, subtasks,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, taskID string) (model.Task, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, taskID)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Task{}, ErrTaskNotFound
	}
	return task, err
}

func (s *Store) ListTasksByOwner(ctx context.Context, owner string) ([]model.Task, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE owner = ?
		ORDER BY sort_order, created_at`, owner)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// PutTask overwrites every mutable field of an existing task. The write and
// the optional demotion of working siblings happen in one transaction so the
// single-working invariant can never be observed violated.
func (s *Store) PutTask(ctx context.Context, task model.Task, demoteSiblings bool) error {
	subtasks, err := marshalSubtasks(task.Subtasks)
	if err != nil {
		return err
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if demoteSiblings {
		if _, err := tx.ExecContext(ctx, `
			UPDATE tasks
			SET status = 'idle', working_start_time = NULL
			WHERE owner = ? AND status = 'working' AND id <> ?`,
			task.Owner, task.ID); err != nil {
			return fmt.Errorf("demote working siblings: %w", err)
		}
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE tasks
		SET title = ?, description = ?, due_at = ?, estimated_minutes = ?,
			progress = ?, priority = ?, status = ?, sort_order = ?,
			last_progress_update = ?, pinned = ?, working_start_time = ?,
			total_time_spent = ?, subtasks_json = ?
		WHERE id = ?`,
		task.Title, task.Description, nullTime(task.DueAt), nullInt(task.EstimatedMinutes),
		task.Progress, task.Priority, string(task.Status), task.Order,
		task.LastProgressUpdate.UTC(), task.Pinned, nullTime(task.WorkingStartTime),
		task.TotalTimeSpent, subtasks, task.ID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrTaskNotFound
	}

	return tx.Commit()
}

func (s *Store) DeleteTask(ctx context.Context, taskID string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, taskID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// UpdateTaskOrder applies the given sort positions in one transaction,
// restricted to tasks the owner actually owns. IDs owned by someone else
// match zero rows and are skipped silently.
func (s *Store) UpdateTaskOrder(ctx context.Context, owner string, ordered []TaskOrder) (int64, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var modified int64
	for _, entry := range ordered {
		res, err := tx.ExecContext(ctx, `
			UPDATE tasks SET sort_order = ? WHERE id = ? AND owner = ?`,
			entry.Order, entry.ID, owner)
		if err != nil {
			return 0, fmt.Errorf("update order for %s: %w", entry.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		modified += n
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return modified, nil
}

// HasWorkLogSince reports whether the task has at least one work log created
// at or after the given instant.
func (s *Store) HasWorkLogSince(ctx context.Context, taskID string, since time.Time) (bool, error) {
	var exists int
	err := s.DB.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM work_logs WHERE task_id = ? AND created_at >= ?
		)`, taskID, since.UTC()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check work logs: %w", err)
	}
	return exists == 1, nil
}

// AppendWorkLog inserts the log and increments the task's total time in one
// transaction. The increment is done in SQL so concurrent appends cannot
// lose updates.
func (s *Store) AppendWorkLog(ctx context.Context, log model.WorkLog) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO work_logs (id, task_id, owner, start_time, end_time, time_spent, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.TaskID, log.Owner, log.StartTime.UTC(), nullTime(log.EndTime),
		log.TimeSpent, log.Notes, log.CreatedAt.UTC(),
	); err != nil {
		return fmt.Errorf("insert work log: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE tasks SET total_time_spent = total_time_spent + ? WHERE id = ?`,
		log.TimeSpent, log.TaskID)
	if err != nil {
		return fmt.Errorf("add time spent: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrTaskNotFound
	}

	return tx.Commit()
}

func (s *Store) ListWorkLogs(ctx context.Context, taskID string) ([]model.WorkLog, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, task_id, owner, start_time, end_time, time_spent, notes, created_at
		FROM work_logs
		WHERE task_id = ?
		ORDER BY created_at DESC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list work logs: %w", err)
	}
	defer rows.Close()

	var logs []model.WorkLog
	for rows.Next() {
		var log model.WorkLog
		var endTime sql.NullTime
		if err := rows.Scan(&log.ID, &log.TaskID, &log.Owner, &log.StartTime,
			&endTime, &log.TimeSpent, &log.Notes, &log.CreatedAt); err != nil {
			return nil, err
		}
		if endTime.Valid {
			t := endTime.Time
			log.EndTime = &t
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

// FindAgeable returns every task eligible for an aging bump: unfinished,
// unpinned, below maximum priority, and stale since before the threshold.
// Eligibility is global across owners.
func (s *Store) FindAgeable(ctx context.Context, threshold time.Time) ([]model.Task, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE status IN ('idle', 'working')
		  AND pinned = 0
		  AND priority < 100
		  AND last_progress_update < ?`, threshold.UTC())
	if err != nil {
		return nil, fmt.Errorf("find ageable tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// AgeTasks bumps priority (clamped at 100) and resets the staleness clock for
// the given tasks in one transaction. The eligibility predicate is repeated
// in the WHERE clause, so a task pinned or finished between selection and the
// write is skipped rather than aged. Returns the tasks actually modified,
// re-read after the write.
func (s *Store) AgeTasks(ctx context.Context, ids []string, bump int, now time.Time) ([]model.Task, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	aged := make([]string, 0, len(ids))
	for _, id := range ids {
		res, err := tx.ExecContext(ctx, `
			UPDATE tasks
			SET priority = MIN(100, priority + ?), last_progress_update = ?
			WHERE id = ?
			  AND status IN ('idle', 'working')
			  AND pinned = 0
			  AND priority < 100`,
			bump, now.UTC(), id)
		if err != nil {
			return nil, fmt.Errorf("age task %s: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if n > 0 {
			aged = append(aged, id)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	tasks := make([]model.Task, 0, len(aged))
	for _, id := range aged {
		task, err := s.GetTask(ctx, id)
		if errors.Is(err, ErrTaskNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (model.Task, error) {
	var task model.Task
	var dueAt, workingStart sql.NullTime
	var estimated sql.NullInt64
	var status string
	var subtasksJSON string

	err := row.Scan(&task.ID, &task.Owner, &task.Title, &task.Description,
		&task.CreatedAt, &dueAt, &estimated, &task.Progress, &task.Priority,
		&status, &task.Order, &task.LastProgressUpdate, &task.Pinned,
		&workingStart, &task.TotalTimeSpent, &subtasksJSON)
	if err != nil {
		return model.Task{}, err
	}

	task.Status = model.Status(status)
	if dueAt.Valid {
		t := dueAt.Time
		task.DueAt = &t
	}
	if workingStart.Valid {
		t := workingStart.Time
		task.WorkingStartTime = &t
	}
	if estimated.Valid {
		v := int(estimated.Int64)
		task.EstimatedMinutes = &v
	}
	if err := json.Unmarshal([]byte(subtasksJSON), &task.Subtasks); err != nil {
		return model.Task{}, fmt.Errorf("parse subtasks: %w", err)
	}
	return task, nil
}

func collectTasks(rows *sql.Rows) ([]model.Task, error) {
	var tasks []model.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func marshalSubtasks(subtasks []model.Subtask) (string, error) {
	if subtasks == nil {
		subtasks = []model.Subtask{}
	}
	payload, err := json.Marshal(subtasks)
	if err != nil {
		return "", fmt.Errorf("marshal subtasks: %w", err)
	}
	return string(payload), nil
}

// nullTime normalizes to UTC so stored text timestamps compare consistently.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
