package sqlite_test

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/stplan/sheetsweep/internal/log"
	"github.com/stplan/sheetsweep/internal/model"
	"github.com/stplan/sheetsweep/internal/storage/sqlite"
	"github.com/stplan/sheetsweep/internal/storage/sqlite/migrations"
)

func getTestDB(t *testing.T) *sql.DB {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "sheetsweep-test-*.db")
	require.NoError(t, err)
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })

	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)", tmpFile.Name())
	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	migrator, err := migrations.NewMigrator(db, log.Noop)
	require.NoError(t, err)
	require.NoError(t, migrator.Up(context.Background()))

	return db
}

func getTestRepository(t *testing.T) *sqlite.Repository {
	t.Helper()

	repo, err := sqlite.NewRepositoryWithDB(getTestDB(t), log.Noop)
	require.NoError(t, err)
	return repo
}

func testTask(id string) model.Task {
	now := time.Now().UTC().Truncate(time.Second)
	return model.Task{
		ID:     id,
		Name:   "pricing sweep",
		Kind:   model.TaskKindSheetSweep,
		Status: model.TaskStatusPending,
		Config: model.SweepConfig{
			SpreadsheetID:      "sheet-id",
			SheetName:          "data",
			Parameters:         [][]string{{"1", "2"}, {"10", "20", "30"}},
			ParameterPositions: []string{"B1", "B2"},
			CheckPositions:     []string{"C1"},
			ResultPositions:    []string{"D1", "D2"},
			DelayMinSeconds:    20,
			DelayMaxSeconds:    30,
			MaxPollAttempts:    60,
			OnFailure:          model.FailurePolicyAbort,
		},
		TotalSteps: 6,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestTaskCreateAndGet(t *testing.T) {
	tests := map[string]struct {
		setup  func(repo *sqlite.Repository)
		id     string
		expErr error
	}{
		"A created task should be readable back.": {
			setup: func(repo *sqlite.Repository) {
				require.NoError(t, repo.CreateTask(context.Background(), testTask("task1")))
			},
			id: "task1",
		},

		"Getting a missing task should fail with a not found error.": {
			setup:  func(repo *sqlite.Repository) {},
			id:     "missing",
			expErr: model.ErrNotFound,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			repo := getTestRepository(t)
			test.setup(repo)

			task, err := repo.GetTask(context.Background(), test.id)

			if test.expErr != nil {
				assert.ErrorIs(err, test.expErr)
				return
			}

			require.NoError(t, err)
			exp := testTask(test.id)
			assert.Equal(exp.ID, task.ID)
			assert.Equal(exp.Name, task.Name)
			assert.Equal(exp.Kind, task.Kind)
			assert.Equal(exp.Status, task.Status)
			assert.Equal(exp.Config, task.Config)
			assert.Equal(exp.TotalSteps, task.TotalSteps)
			assert.Nil(task.StartedAt)
			assert.Nil(task.EndedAt)
		})
	}
}

func TestTaskCreateDuplicateFails(t *testing.T) {
	assert := assert.New(t)
	repo := getTestRepository(t)

	require.NoError(t, repo.CreateTask(context.Background(), testTask("task1")))
	err := repo.CreateTask(context.Background(), testTask("task1"))

	assert.ErrorIs(err, model.ErrAlreadyExists)
}

func TestTaskUpdate(t *testing.T) {
	assert := assert.New(t)
	repo := getTestRepository(t)

	task := testTask("task1")
	require.NoError(t, repo.CreateTask(context.Background(), task))

	now := time.Now().UTC().Truncate(time.Second)
	task.Status = model.TaskStatusError
	task.Error = "calculation did not settle"
	task.StartedAt = &now
	task.EndedAt = &now
	task.CurrentStep = 3
	require.NoError(t, repo.UpdateTask(context.Background(), task))

	updated, err := repo.GetTask(context.Background(), "task1")
	require.NoError(t, err)
	assert.Equal(model.TaskStatusError, updated.Status)
	assert.Equal("calculation did not settle", updated.Error)
	assert.Equal(3, updated.CurrentStep)
	require.NotNil(t, updated.StartedAt)
	assert.Equal(now, updated.StartedAt.UTC())
	require.NotNil(t, updated.EndedAt)

	err = repo.UpdateTask(context.Background(), testTask("missing"))
	assert.ErrorIs(err, model.ErrNotFound)
}

func TestTaskList(t *testing.T) {
	assert := assert.New(t)
	repo := getTestRepository(t)

	first := testTask("task1")
	first.CreatedAt = time.Now().UTC().Add(-time.Hour)
	second := testTask("task2")
	require.NoError(t, repo.CreateTask(context.Background(), first))
	require.NoError(t, repo.CreateTask(context.Background(), second))

	tasks, err := repo.ListTasks(context.Background())
	require.NoError(t, err)

	require.Len(t, tasks, 2)
	assert.Equal("task2", tasks[0].ID)
	assert.Equal("task1", tasks[1].ID)
}

func TestTaskDeleteCascades(t *testing.T) {
	assert := assert.New(t)
	repo := getTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.CreateTask(ctx, testTask("task1")))
	require.NoError(t, repo.AppendLog(ctx, model.TaskLogEntry{
		TaskID: "task1", Level: model.LogLevelInfo, Message: "started", Timestamp: time.Now().UTC(),
	}))
	require.NoError(t, repo.SaveResult(ctx, model.TaskResult{
		TaskID: "task1", StepIndex: 0, Parameters: []string{"1", "10"},
		Values: map[string]string{"D1": "42"}, Success: true, Timestamp: time.Now().UTC(),
	}))

	require.NoError(t, repo.DeleteTask(ctx, "task1"))

	_, err := repo.GetTask(ctx, "task1")
	assert.ErrorIs(err, model.ErrNotFound)

	logs, err := repo.ListLogs(ctx, "task1")
	require.NoError(t, err)
	assert.Empty(logs)

	results, err := repo.ListResults(ctx, "task1")
	require.NoError(t, err)
	assert.Empty(results)

	err = repo.DeleteTask(ctx, "task1")
	assert.ErrorIs(err, model.ErrNotFound)
}

func TestTaskUpdateProgress(t *testing.T) {
	assert := assert.New(t)
	repo := getTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.CreateTask(ctx, testTask("task1")))
	require.NoError(t, repo.UpdateProgress(ctx, "task1", 4, 6))

	task, err := repo.GetTask(ctx, "task1")
	require.NoError(t, err)
	assert.Equal(4, task.CurrentStep)
	assert.Equal(6, task.TotalSteps)

	err = repo.UpdateProgress(ctx, "missing", 1, 6)
	assert.ErrorIs(err, model.ErrNotFound)
}

func TestTaskLogs(t *testing.T) {
	assert := assert.New(t)
	repo := getTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.CreateTask(ctx, testTask("task1")))

	latest, err := repo.LatestLogTime(ctx, "task1")
	require.NoError(t, err)
	assert.Nil(latest)

	first := time.Now().UTC().Add(-time.Minute).Truncate(time.Second)
	second := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, repo.AppendLog(ctx, model.TaskLogEntry{
		TaskID: "task1", Level: model.LogLevelInfo, Message: "combination 1 written", Timestamp: first,
	}))
	require.NoError(t, repo.AppendLog(ctx, model.TaskLogEntry{
		TaskID: "task1", Level: model.LogLevelWarning, Message: "combination 2 failed", Timestamp: second,
	}))

	logs, err := repo.ListLogs(ctx, "task1")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal("combination 1 written", logs[0].Message)
	assert.Equal(model.LogLevelWarning, logs[1].Level)

	latest, err = repo.LatestLogTime(ctx, "task1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(second, latest.UTC())
}

func TestTaskResults(t *testing.T) {
	assert := assert.New(t)
	repo := getTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.CreateTask(ctx, testTask("task1")))

	// First attempt of step 0 fails, the retry succeeds and replaces it.
	require.NoError(t, repo.SaveResult(ctx, model.TaskResult{
		TaskID: "task1", StepIndex: 0, Parameters: []string{"1", "10"},
		Error: "calculation did not settle", Timestamp: time.Now().UTC(),
	}))
	require.NoError(t, repo.SaveResult(ctx, model.TaskResult{
		TaskID: "task1", StepIndex: 1, Parameters: []string{"1", "20"},
		Values: map[string]string{"D1": "42", "D2": "0.25"}, Success: true, Timestamp: time.Now().UTC(),
	}))
	require.NoError(t, repo.SaveResult(ctx, model.TaskResult{
		TaskID: "task1", StepIndex: 0, Parameters: []string{"1", "10"},
		Values: map[string]string{"D1": "7", "D2": "0.5"}, Success: true, Timestamp: time.Now().UTC(),
	}))

	results, err := repo.ListResults(ctx, "task1")
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(0, results[0].StepIndex)
	assert.True(results[0].Success)
	assert.Empty(results[0].Error)
	assert.Equal(map[string]string{"D1": "7", "D2": "0.5"}, results[0].Values)
	assert.Equal(1, results[1].StepIndex)
	assert.Equal([]string{"1", "20"}, results[1].Parameters)
}
