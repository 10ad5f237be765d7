// Package engine validates and applies task lifecycle transitions. It owns
// the single-working-task invariant, the finish guard, and the derivation of
// status and timer fields; the store underneath it is deliberately dumb.
package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jvilhena/taskember/internal/apperr"
	"github.com/jvilhena/taskember/internal/db"
	"github.com/jvilhena/taskember/internal/model"
	"github.com/jvilhena/taskember/internal/notify"
)

type Engine struct {
	store *db.Store
	sink  notify.Sink

	// Now is the clock used for derived timestamps. Tests override it.
	Now func() time.Time
}

func New(store *db.Store, sink notify.Sink) *Engine {
	return &Engine{store: store, sink: sink, Now: time.Now}
}

// CreateInput holds the caller-supplied fields for a new task. Everything
// else is defaulted by CreateTask.
type CreateInput struct {
	Title            string          `json:"title"`
	Description      string          `json:"description"`
	DueAt            *time.Time      `json:"dueDate"`
	EstimatedMinutes *int            `json:"estimatedTime"`
	Priority         int             `json:"priority"`
	Subtasks         []model.Subtask `json:"subtasks"`
}

// TaskPatch is a sparse update: nil fields are left untouched.
type TaskPatch struct {
	Title            *string          `json:"title"`
	Description      *string          `json:"description"`
	DueAt            *time.Time       `json:"dueDate"`
	EstimatedMinutes *int             `json:"estimatedTime"`
	Progress         *int             `json:"progress"`
	Priority         *int             `json:"priority"`
	Status           *model.Status    `json:"status"`
	Pinned           *bool            `json:"pinned"`
	Subtasks         *[]model.Subtask `json:"subtasks"`
	WorkingStartTime *time.Time       `json:"workingStartTime"`
	TotalTimeSpent   *int             `json:"totalTimeSpent"`
	Order            *int             `json:"order"`
}

func (e *Engine) CreateTask(ctx context.Context, owner string, input CreateInput) (model.Task, error) {
	if strings.TrimSpace(input.Title) == "" {
		return model.Task{}, apperr.New(apperr.InvalidArgument, "title is required")
	}
	if input.Priority < 0 || input.Priority > 100 {
		return model.Task{}, apperr.Newf(apperr.InvalidArgument, "priority %d out of range [0,100]", input.Priority)
	}
	if input.EstimatedMinutes != nil && *input.EstimatedMinutes < 0 {
		return model.Task{}, apperr.New(apperr.InvalidArgument, "estimated time cannot be negative")
	}
	if err := validateSubtasks(input.Subtasks); err != nil {
		return model.Task{}, err
	}

	now := e.Now()
	task := model.Task{
		ID:                 uuid.NewString(),
		Owner:              owner,
		Title:              input.Title,
		Description:        input.Description,
		CreatedAt:          now,
		DueAt:              input.DueAt,
		EstimatedMinutes:   input.EstimatedMinutes,
		Priority:           input.Priority,
		Status:             model.StatusIdle,
		LastProgressUpdate: now,
		Subtasks:           input.Subtasks,
	}

	if err := e.store.CreateTask(ctx, task); err != nil {
		return model.Task{}, storeErr(err)
	}

	e.sink.Publish(notify.TaskCreated, task)
	return task, nil
}

// ApplyUpdate merges the patch into the task and persists the result.
// All validation happens against the merged copy before anything is
// written, so a rejected update leaves the stored task untouched.
func (e *Engine) ApplyUpdate(ctx context.Context, taskID, owner string, patch TaskPatch) (model.Task, error) {
	task, err := e.getOwned(ctx, taskID, owner)
	if err != nil {
		return model.Task{}, err
	}

	merged := task
	now := e.Now()

	if patch.Title != nil {
		if strings.TrimSpace(*patch.Title) == "" {
			return model.Task{}, apperr.New(apperr.InvalidArgument, "title cannot be empty")
		}
		merged.Title = *patch.Title
	}
	if patch.Description != nil {
		merged.Description = *patch.Description
	}
	if patch.DueAt != nil {
		merged.DueAt = patch.DueAt
	}
	if patch.EstimatedMinutes != nil {
		if *patch.EstimatedMinutes < 0 {
			return model.Task{}, apperr.New(apperr.InvalidArgument, "estimated time cannot be negative")
		}
		merged.EstimatedMinutes = patch.EstimatedMinutes
	}
	if patch.Priority != nil {
		if *patch.Priority < 0 || *patch.Priority > 100 {
			return model.Task{}, apperr.Newf(apperr.InvalidArgument, "priority %d out of range [0,100]", *patch.Priority)
		}
		merged.Priority = *patch.Priority
	}
	if patch.Progress != nil {
		if *patch.Progress < 0 || *patch.Progress > 100 {
			return model.Task{}, apperr.Newf(apperr.InvalidArgument, "progress %d out of range [0,100]", *patch.Progress)
		}
		merged.Progress = *patch.Progress
		// The staleness clock moves only on an actual change, so replaying
		// the same patch does not keep a task artificially fresh.
		if *patch.Progress != task.Progress {
			merged.LastProgressUpdate = now
		}
	}
	if patch.Order != nil {
		merged.Order = *patch.Order
	}
	if patch.Pinned != nil {
		merged.Pinned = *patch.Pinned
	}
	if patch.Subtasks != nil {
		if err := validateSubtasks(*patch.Subtasks); err != nil {
			return model.Task{}, err
		}
		merged.Subtasks = *patch.Subtasks
	}
	if patch.TotalTimeSpent != nil {
		if *patch.TotalTimeSpent < 0 {
			return model.Task{}, apperr.New(apperr.InvalidArgument, "total time spent cannot be negative")
		}
		// Manual correction path: written verbatim, no ledger reconciliation.
		merged.TotalTimeSpent = *patch.TotalTimeSpent
	}

	demoteSiblings := false
	if patch.Status != nil {
		if !patch.Status.Valid() {
			return model.Task{}, apperr.Newf(apperr.InvalidArgument, "unknown status %q", *patch.Status)
		}
		merged.Status = *patch.Status
		if *patch.Status == model.StatusWorking {
			demoteSiblings = true
			if task.Status != model.StatusWorking && patch.WorkingStartTime == nil {
				merged.WorkingStartTime = &now
			}
		} else if task.Status == model.StatusWorking && patch.WorkingStartTime == nil {
			merged.WorkingStartTime = nil
		}
	}

	// Client-driven timer reset wins over derived values.
	if patch.WorkingStartTime != nil {
		merged.WorkingStartTime = patch.WorkingStartTime
	}

	if merged.Progress == 100 {
		if task.WorkingStartTime != nil {
			logged, err := e.store.HasWorkLogSince(ctx, task.ID, *task.WorkingStartTime)
			if err != nil {
				return model.Task{}, storeErr(err)
			}
			if !logged {
				return model.Task{}, apperr.New(apperr.InvalidTransition,
					"cannot finish a task without at least one work log entry since it was set to working")
			}
		}
		// progress=100 always wins over any status in the patch.
		merged.Status = model.StatusFinished
		if patch.WorkingStartTime == nil {
			merged.WorkingStartTime = nil
		}
	}

	if err := e.store.PutTask(ctx, merged, demoteSiblings); err != nil {
		if errors.Is(err, db.ErrTaskNotFound) {
			return model.Task{}, apperr.Newf(apperr.NotFound, "task %s not found", taskID)
		}
		return model.Task{}, storeErr(err)
	}

	e.sink.Publish(notify.TaskUpdated, merged)
	return merged, nil
}

func (e *Engine) DeleteTask(ctx context.Context, taskID, owner string) error {
	if _, err := e.getOwned(ctx, taskID, owner); err != nil {
		return err
	}

	// Work logs are left in place: they reference the task but do not
	// belong to it.
	if err := e.store.DeleteTask(ctx, taskID); err != nil {
		if errors.Is(err, db.ErrTaskNotFound) {
			return apperr.Newf(apperr.NotFound, "task %s not found", taskID)
		}
		return storeErr(err)
	}

	e.sink.Publish(notify.TaskDeleted, taskID)
	return nil
}

// ReorderTasks applies the given manual sort positions for the owner's tasks.
// IDs the owner does not own are skipped silently; the call reports how many
// rows actually changed.
func (e *Engine) ReorderTasks(ctx context.Context, owner string, ordered []db.TaskOrder) (int64, error) {
	modified, err := e.store.UpdateTaskOrder(ctx, owner, ordered)
	if err != nil {
		return 0, storeErr(err)
	}

	e.sink.Publish(notify.TaskOrderUpdated, ordered)
	return modified, nil
}

func (e *Engine) GetTask(ctx context.Context, taskID, owner string) (model.Task, error) {
	return e.getOwned(ctx, taskID, owner)
}

// ListTasks returns the owner's tasks sorted by manual order.
func (e *Engine) ListTasks(ctx context.Context, owner string) ([]model.Task, error) {
	tasks, err := e.store.ListTasksByOwner(ctx, owner)
	if err != nil {
		return nil, storeErr(err)
	}
	return tasks, nil
}

func (e *Engine) getOwned(ctx context.Context, taskID, owner string) (model.Task, error) {
	task, err := e.store.GetTask(ctx, taskID)
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

func validateSubtasks(subtasks []model.Subtask) error {
	for _, sub := range subtasks {
		if strings.TrimSpace(sub.Title) == "" {
			return apperr.New(apperr.InvalidArgument, "subtask title cannot be empty")
		}
	}
	return nil
}

func storeErr(err error) error {
	return apperr.Wrap(apperr.StoreUnavailable, "task store failure", err)
}
