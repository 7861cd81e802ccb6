package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stplan/sheetsweep/internal/model"
	"github.com/stplan/sheetsweep/internal/storage/memory"
)

func getTestRepository(t *testing.T) *memory.Repository {
	t.Helper()

	repo, err := memory.NewRepository(memory.RepositoryConfig{})
	require.NoError(t, err)
	return repo
}

func testTask(id string, createdAt time.Time) model.Task {
	return model.Task{
		ID:     id,
		Name:   "pricing sweep",
		Kind:   model.TaskKindSheetSweep,
		Status: model.TaskStatusPending,
		Config: model.SweepConfig{
			SpreadsheetID:      "sheet-id",
			Parameters:         [][]string{{"1", "2"}},
			ParameterPositions: []string{"B1"},
			CheckPositions:     []string{"C1"},
			ResultPositions:    []string{"D1"},
		},
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func TestTaskLifecycle(t *testing.T) {
	assert := assert.New(t)
	repo := getTestRepository(t)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, repo.CreateTask(ctx, testTask("task1", now)))

	err := repo.CreateTask(ctx, testTask("task1", now))
	assert.ErrorIs(err, model.ErrAlreadyExists)

	task, err := repo.GetTask(ctx, "task1")
	require.NoError(t, err)
	assert.Equal("pricing sweep", task.Name)

	task.Status = model.TaskStatusRunning
	require.NoError(t, repo.UpdateTask(ctx, *task))

	updated, err := repo.GetTask(ctx, "task1")
	require.NoError(t, err)
	assert.Equal(model.TaskStatusRunning, updated.Status)

	require.NoError(t, repo.DeleteTask(ctx, "task1"))
	_, err = repo.GetTask(ctx, "task1")
	assert.ErrorIs(err, model.ErrNotFound)
}

func TestTaskGetReturnsACopy(t *testing.T) {
	assert := assert.New(t)
	repo := getTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.CreateTask(ctx, testTask("task1", time.Now().UTC())))

	task, err := repo.GetTask(ctx, "task1")
	require.NoError(t, err)
	task.Status = model.TaskStatusError

	stored, err := repo.GetTask(ctx, "task1")
	require.NoError(t, err)
	assert.Equal(model.TaskStatusPending, stored.Status)
}

func TestTaskListOrdersNewestFirst(t *testing.T) {
	assert := assert.New(t)
	repo := getTestRepository(t)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, repo.CreateTask(ctx, testTask("task1", now.Add(-time.Hour))))
	require.NoError(t, repo.CreateTask(ctx, testTask("task2", now)))

	tasks, err := repo.ListTasks(ctx)
	require.NoError(t, err)

	require.Len(t, tasks, 2)
	assert.Equal("task2", tasks[0].ID)
	assert.Equal("task1", tasks[1].ID)
}

func TestTaskLogsAndLatestLogTime(t *testing.T) {
	assert := assert.New(t)
	repo := getTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.CreateTask(ctx, testTask("task1", time.Now().UTC())))

	latest, err := repo.LatestLogTime(ctx, "task1")
	require.NoError(t, err)
	assert.Nil(latest)

	newest := time.Now().UTC()
	require.NoError(t, repo.AppendLog(ctx, model.TaskLogEntry{
		TaskID: "task1", Level: model.LogLevelInfo, Message: "started", Timestamp: newest.Add(-time.Minute),
	}))
	require.NoError(t, repo.AppendLog(ctx, model.TaskLogEntry{
		TaskID: "task1", Level: model.LogLevelInfo, Message: "combination 1 written", Timestamp: newest,
	}))

	logs, err := repo.ListLogs(ctx, "task1")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal("started", logs[0].Message)

	latest, err = repo.LatestLogTime(ctx, "task1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(newest, *latest)
}

func TestResultsUpsertByStepIndex(t *testing.T) {
	assert := assert.New(t)
	repo := getTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveResult(ctx, model.TaskResult{
		TaskID: "task1", StepIndex: 1, Error: "calculation did not settle",
	}))
	require.NoError(t, repo.SaveResult(ctx, model.TaskResult{
		TaskID: "task1", StepIndex: 0, Values: map[string]string{"D1": "42"}, Success: true,
	}))
	require.NoError(t, repo.SaveResult(ctx, model.TaskResult{
		TaskID: "task1", StepIndex: 1, Values: map[string]string{"D1": "7"}, Success: true,
	}))

	results, err := repo.ListResults(ctx, "task1")
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(0, results[0].StepIndex)
	assert.Equal(1, results[1].StepIndex)
	assert.True(results[1].Success)
	assert.Equal(map[string]string{"D1": "7"}, results[1].Values)
}

func TestSettings(t *testing.T) {
	assert := assert.New(t)
	repo := getTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.SetSetting(ctx, model.Setting{
		Key: model.SettingSheetName, Value: "data", Description: "worksheet name",
	}))
	require.NoError(t, repo.SetSetting(ctx, model.Setting{Key: model.SettingSheetName, Value: "other"}))
	require.NoError(t, repo.SetSetting(ctx, model.Setting{Key: model.SettingDelayMin, Value: "20"}))

	setting, err := repo.GetSetting(ctx, model.SettingSheetName)
	require.NoError(t, err)
	assert.Equal("other", setting.Value)
	assert.Equal("worksheet name", setting.Description)

	settings, err := repo.ListSettings(ctx)
	require.NoError(t, err)
	require.Len(t, settings, 2)
	assert.Equal(model.SettingDelayMin, settings[0].Key)

	require.NoError(t, repo.DeleteSetting(ctx, model.SettingDelayMin))
	_, err = repo.GetSetting(ctx, model.SettingDelayMin)
	assert.ErrorIs(err, model.ErrNotFound)
}
