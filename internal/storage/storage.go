package storage

import (
	"context"
	"time"

	"github.com/stplan/sheetsweep/internal/model"
)

// TaskRepository is the interface for task persistence.
type TaskRepository interface {
	CreateTask(ctx context.Context, t model.Task) error
	GetTask(ctx context.Context, id string) (*model.Task, error)
	ListTasks(ctx context.Context) ([]model.Task, error)
	UpdateTask(ctx context.Context, t model.Task) error
	// DeleteTask deletes a task and cascades to its logs and results.
	DeleteTask(ctx context.Context, id string) error

	// UpdateProgress persists the sweep checkpoint of a task.
	UpdateProgress(ctx context.Context, id string, currentStep, totalSteps int) error

	AppendLog(ctx context.Context, entry model.TaskLogEntry) error
	ListLogs(ctx context.Context, taskID string) ([]model.TaskLogEntry, error)
	// LatestLogTime returns the timestamp of the most recent log entry of a
	// task, or nil when the task has no logs.
	LatestLogTime(ctx context.Context, taskID string) (*time.Time, error)

	// SaveResult stores the outcome of one executed combination. At most one
	// result exists per (task, step index): saving again replaces the row.
	SaveResult(ctx context.Context, r model.TaskResult) error
	ListResults(ctx context.Context, taskID string) ([]model.TaskResult, error)
}

// SettingRepository is the interface for the global settings store.
type SettingRepository interface {
	GetSetting(ctx context.Context, key string) (*model.Setting, error)
	ListSettings(ctx context.Context) ([]model.Setting, error)
	SetSetting(ctx context.Context, s model.Setting) error
	DeleteSetting(ctx context.Context, key string) error
}
