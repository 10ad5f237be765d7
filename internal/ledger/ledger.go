// Package ledger records immutable work log entries and keeps each task's
// aggregate time in sync with them.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jvilhena/taskember/internal/apperr"
	"github.com/jvilhena/taskember/internal/db"
	"github.com/jvilhena/taskember/internal/model"
	"github.com/jvilhena/taskember/internal/notify"
)

type Ledger struct {
	store *db.Store
	sink  notify.Sink

	// Now is the clock used for createdAt stamps. Tests override it.
	Now func() time.Time
}

func New(store *db.Store, sink notify.Sink) *Ledger {
	return &Ledger{store: store, sink: sink, Now: time.Now}
}

// RecordInput holds the caller-supplied fields for a new work log entry.
type RecordInput struct {
	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime"`
	TimeSpent int        `json:"timeSpent"`
	Notes     string     `json:"notes"`
}

// RecordWork appends a work log entry and adds its minutes to the task's
// total. The append and the increment are one store transaction; once the
// call returns, the log is durable regardless of what the caller does next.
func (l *Ledger) RecordWork(ctx context.Context, taskID, owner string, input RecordInput) (model.WorkLog, error) {
	if input.TimeSpent <= 0 {
		return model.WorkLog{}, apperr.New(apperr.InvalidArgument, "timeSpent must be a positive number of minutes")
	}

	task, err := l.getOwnedTask(ctx, taskID, owner)
	if err != nil {
		return model.WorkLog{}, err
	}

	log := model.WorkLog{
		ID:        uuid.NewString(),
		TaskID:    task.ID,
		Owner:     owner,
		StartTime: input.StartTime,
		EndTime:   input.EndTime,
		TimeSpent: input.TimeSpent,
		Notes:     input.Notes,
		CreatedAt: l.Now(),
	}

	if err := l.store.AppendWorkLog(ctx, log); err != nil {
		if errors.Is(err, db.ErrTaskNotFound) {
			return model.WorkLog{}, apperr.Newf(apperr.NotFound, "task %s not found", taskID)
		}
		return model.WorkLog{}, storeErr(err)
	}

	l.sink.Publish(notify.WorkLogCreated, log)

	updated, err := l.store.GetTask(ctx, task.ID)
	if err == nil {
		l.sink.Publish(notify.TaskUpdated, updated)
	}

	return log, nil
}

// ListWorkLogs returns the task's work logs, most recent first.
func (l *Ledger) ListWorkLogs(ctx context.Context, taskID, owner string) ([]model.WorkLog, error) {
	if _, err := l.getOwnedTask(ctx, taskID, owner); err != nil {
		return nil, err
	}

	logs, err := l.store.ListWorkLogs(ctx, taskID)
	if err != nil {
		return nil, storeErr(err)
	}
	return logs, nil
}

func (l *Ledger) getOwnedTask(ctx context.Context, taskID, owner string) (model.Task, error) {
	task, err := l.store.GetTask(ctx, taskID)
	if errors.Is(err, db.ErrTaskNotFound) {
		return model.Task{}, apperr.Newf(apperr.NotFound, "task %s not found", taskID)
	}
	if err != nil {
		return model.Task{}, storeErr(err)
	}
	if task.Owner != owner {
		return model.Task{}, apperr.New(apperr.Forbidden, "task belongs to another user")
	}
	return task, nil
}

func storeErr(err error) error {
	return apperr.Wrap(apperr.StoreUnavailable, "task store failure", err)
}
