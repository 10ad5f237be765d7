package db

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/jvilhena/taskember/internal/model"
)

func TestCreateAndGetTaskRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	due := time.Date(2026, 9, 15, 12, 0, 0, 0, time.UTC)
	estimated := 90
	task := testTask("alice")
	task.Description = "write the report"
	task.DueAt = &due
	task.EstimatedMinutes = &estimated
	task.Subtasks = []model.Subtask{{Title: "outline"}, {Title: "draft", Completed: true}}

	require.NoError(t, store.CreateTask(ctx, task))

	got, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, task.ID, got.ID)
	require.Equal(t, "alice", got.Owner)
	require.Equal(t, task.Title, got.Title)
	require.Equal(t, "write the report", got.Description)
	require.Equal(t, model.StatusIdle, got.Status)
	require.NotNil(t, got.DueAt)
	require.True(t, got.DueAt.Equal(due))
	require.NotNil(t, got.EstimatedMinutes)
	require.Equal(t, 90, *got.EstimatedMinutes)
	require.Equal(t, []model.Subtask{{Title: "outline"}, {Title: "draft", Completed: true}}, got.Subtasks)
}

func TestGetTaskMissingReturnsNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetTask(context.Background(), uuid.NewString())
	require.ErrorIs(t, err, ErrTaskNotFound)
}

func TestPutTaskDemotesWorkingSiblings(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	first := testTask("alice")
	first.Status = model.StatusWorking
	first.WorkingStartTime = &now
	second := testTask("alice")
	other := testTask("bob")
	other.Status = model.StatusWorking
	other.WorkingStartTime = &now

	require.NoError(t, store.CreateTask(ctx, first))
	require.NoError(t, store.CreateTask(ctx, second))
	require.NoError(t, store.CreateTask(ctx, other))

	second.Status = model.StatusWorking
	second.WorkingStartTime = &now
	require.NoError(t, store.PutTask(ctx, second, true))

	demoted, err := store.GetTask(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusIdle, demoted.Status)
	require.Nil(t, demoted.WorkingStartTime)

	promoted, err := store.GetTask(ctx, second.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusWorking, promoted.Status)

	// Another owner's working task is untouched.
	foreign, err := store.GetTask(ctx, other.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusWorking, foreign.Status)
}

func TestPutTaskMissingReturnsNotFound(t *testing.T) {
	store := newTestStore(t)

	err := store.PutTask(context.Background(), testTask("alice"), false)
	require.ErrorIs(t, err, ErrTaskNotFound)
}

func TestUpdateTaskOrderSkipsForeignTasks(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mine := testTask("alice")
	theirs := testTask("bob")
	require.NoError(t, store.CreateTask(ctx, mine))
	require.NoError(t, store.CreateTask(ctx, theirs))

	modified, err := store.UpdateTaskOrder(ctx, "alice", []TaskOrder{
		{ID: mine.ID, Order: 5},
		{ID: theirs.ID, Order: 9},
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, modified)

	got, err := store.GetTask(ctx, mine.ID)
	require.NoError(t, err)
	require.Equal(t, 5, got.Order)

	untouched, err := store.GetTask(ctx, theirs.ID)
	require.NoError(t, err)
	require.Equal(t, 0, untouched.Order)
}

func TestAppendWorkLogIncrementsTotalTime(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	task := testTask("alice")
	task.TotalTimeSpent = 10
	require.NoError(t, store.CreateTask(ctx, task))

	log := testWorkLog(task.ID, "alice", 15)
	require.NoError(t, store.AppendWorkLog(ctx, log))

	got, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, 25, got.TotalTimeSpent)

	logs, err := store.ListWorkLogs(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, log.ID, logs[0].ID)
	require.Equal(t, 15, logs[0].TimeSpent)
}

func TestAppendWorkLogMissingTaskRollsBack(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.AppendWorkLog(ctx, testWorkLog(uuid.NewString(), "alice", 5))
	require.ErrorIs(t, err, ErrTaskNotFound)

	// The orphan insert must not survive the failed transaction.
	var count int
	require.NoError(t, store.DB.QueryRow("SELECT COUNT(*) FROM work_logs").Scan(&count))
	require.Zero(t, count)
}

func TestListWorkLogsMostRecentFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	task := testTask("alice")
	require.NoError(t, store.CreateTask(ctx, task))

	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		log := testWorkLog(task.ID, "alice", 10)
		log.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, store.AppendWorkLog(ctx, log))
	}

	logs, err := store.ListWorkLogs(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	for i := 1; i < len(logs); i++ {
		require.True(t, logs[i].CreatedAt.Before(logs[i-1].CreatedAt))
	}
}

func TestHasWorkLogSince(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	task := testTask("alice")
	require.NoError(t, store.CreateTask(ctx, task))

	logTime := time.Date(2026, 8, 10, 14, 0, 0, 0, time.UTC)
	log := testWorkLog(task.ID, "alice", 30)
	log.CreatedAt = logTime
	require.NoError(t, store.AppendWorkLog(ctx, log))

	ok, err := store.HasWorkLogSince(ctx, task.ID, logTime.Add(-time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.HasWorkLogSince(ctx, task.ID, logTime.Add(time.Minute))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFindAgeableFiltersEligibility(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	stale := now.Add(-48 * time.Hour)

	eligible := testTask("alice")
	eligible.Priority = 50
	eligible.LastProgressUpdate = stale

	pinned := testTask("alice")
	pinned.Pinned = true
	pinned.LastProgressUpdate = stale

	maxed := testTask("alice")
	maxed.Priority = 100
	maxed.LastProgressUpdate = stale

	finished := testTask("bob")
	finished.Status = model.StatusFinished
	finished.Progress = 100
	finished.LastProgressUpdate = stale

	fresh := testTask("bob")
	fresh.LastProgressUpdate = now

	for _, task := range []model.Task{eligible, pinned, maxed, finished, fresh} {
		require.NoError(t, store.CreateTask(ctx, task))
	}

	found, err := store.FindAgeable(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, eligible.ID, found[0].ID)
}

func TestAgeTasksBumpsAndResetsClock(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	task := testTask("alice")
	task.Priority = 50
	task.LastProgressUpdate = time.Now().Add(-48 * time.Hour)
	require.NoError(t, store.CreateTask(ctx, task))

	now := time.Now()
	aged, err := store.AgeTasks(ctx, []string{task.ID}, 1, now)
	require.NoError(t, err)
	require.Len(t, aged, 1)
	require.Equal(t, 51, aged[0].Priority)
	require.True(t, aged[0].LastProgressUpdate.After(now.Add(-time.Minute)))
}

func TestAgeTasksClampsAtMaximum(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	task := testTask("alice")
	task.Priority = 99
	task.LastProgressUpdate = time.Now().Add(-48 * time.Hour)
	require.NoError(t, store.CreateTask(ctx, task))

	aged, err := store.AgeTasks(ctx, []string{task.ID}, 5, time.Now())
	require.NoError(t, err)
	require.Len(t, aged, 1)
	require.Equal(t, 100, aged[0].Priority)
}

func TestAgeTasksRechecksEligibilityAtWriteTime(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	task := testTask("alice")
	task.Priority = 50
	task.LastProgressUpdate = time.Now().Add(-48 * time.Hour)
	require.NoError(t, store.CreateTask(ctx, task))

	// Pin between selection and write: the bump must be skipped.
	task.Pinned = true
	require.NoError(t, store.PutTask(ctx, task, false))

	aged, err := store.AgeTasks(ctx, []string{task.ID}, 1, time.Now())
	require.NoError(t, err)
	require.Empty(t, aged)

	got, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, 50, got.Priority)
}

func TestDeleteTaskLeavesWorkLogs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	task := testTask("alice")
	require.NoError(t, store.CreateTask(ctx, task))
	require.NoError(t, store.AppendWorkLog(ctx, testWorkLog(task.ID, "alice", 20)))

	require.NoError(t, store.DeleteTask(ctx, task.ID))

	_, err := store.GetTask(ctx, task.ID)
	require.ErrorIs(t, err, ErrTaskNotFound)

	logs, err := store.ListWorkLogs(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
}

func TestListTasksByOwnerSortedByOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	third := testTask("alice")
	third.Order = 3
	first := testTask("alice")
	first.Order = 1
	second := testTask("alice")
	second.Order = 2
	foreign := testTask("bob")

	for _, task := range []model.Task{third, first, second, foreign} {
		require.NoError(t, store.CreateTask(ctx, task))
	}

	tasks, err := store.ListTasksByOwner(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	require.Equal(t, first.ID, tasks[0].ID)
	require.Equal(t, second.ID, tasks[1].ID)
	require.Equal(t, third.ID, tasks[2].ID)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	sqlDB, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return NewStore(sqlDB)
}

func testTask(owner string) model.Task {
	now := time.Now()
	return model.Task{
		ID:                 uuid.NewString(),
		Owner:              owner,
		Title:              "task " + uuid.NewString()[:8],
		CreatedAt:          now,
		Status:             model.StatusIdle,
		LastProgressUpdate: now,
	}
}

func testWorkLog(taskID, owner string, minutes int) model.WorkLog {
	now := time.Now()
	return model.WorkLog{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		Owner:     owner,
		StartTime: now.Add(-time.Duration(minutes) * time.Minute),
		TimeSpent: minutes,
		CreatedAt: now,
	}
}
