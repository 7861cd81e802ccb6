package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/stplan/sheetsweep/internal/log"
	"github.com/stplan/sheetsweep/internal/model"
)

// RepositoryConfig is the configuration for the memory repository.
type RepositoryConfig struct {
	Logger log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.Memory"})
	return nil
}

// Repository is an in-memory implementation of storage.TaskRepository and
// storage.SettingRepository, used by tests and dry runs.
type Repository struct {
	tasks    map[string]model.Task
	logs     map[string][]model.TaskLogEntry
	results  map[string]map[int]model.TaskResult
	settings map[string]model.Setting
	nextID   int64
	mu       sync.RWMutex
	logger   log.Logger
}

// NewRepository creates a new memory repository.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Repository{
		tasks:    make(map[string]model.Task),
		logs:     make(map[string][]model.TaskLogEntry),
		results:  make(map[string]map[int]model.TaskResult),
		settings: make(map[string]model.Setting),
		logger:   cfg.Logger,
	}, nil
}

// CreateTask creates a new task in the repository.
func (r *Repository) CreateTask(ctx context.Context, t model.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[t.ID]; ok {
		return fmt.Errorf("task with id %s: %w", t.ID, model.ErrAlreadyExists)
	}

	r.tasks[t.ID] = t
	r.logger.Debugf("Created task in repository: %s", t.ID)
	return nil
}

// GetTask retrieves a task by ID.
func (r *Repository) GetTask(ctx context.Context, id string) (*model.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	task, ok := r.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}

	taskCopy := task
	return &taskCopy, nil
}

// ListTasks returns all tasks, newest first.
func (r *Repository) ListTasks(ctx context.Context) ([]model.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tasks := make([]model.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
		}
		return tasks[i].ID > tasks[j].ID
	})

	return tasks, nil
}

// UpdateTask updates an existing task.
func (r *Repository) UpdateTask(ctx context.Context, t model.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[t.ID]; !ok {
		return fmt.Errorf("task %s: %w", t.ID, model.ErrNotFound)
	}

	t.UpdatedAt = time.Now().UTC()
	r.tasks[t.ID] = t
	return nil
}

// DeleteTask deletes a task with its logs and results.
func (r *Repository) DeleteTask(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[id]; !ok {
		return fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}

	delete(r.tasks, id)
	delete(r.logs, id)
	delete(r.results, id)
	return nil
}

// UpdateProgress persists the sweep checkpoint of a task.
func (r *Repository) UpdateProgress(ctx context.Context, id string, currentStep, totalSteps int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}

	task.CurrentStep = currentStep
	task.TotalSteps = totalSteps
	task.UpdatedAt = time.Now().UTC()
	r.tasks[id] = task
	return nil
}

// AppendLog stores a new task log entry.
func (r *Repository) AppendLog(ctx context.Context, entry model.TaskLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	entry.ID = r.nextID
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	r.logs[entry.TaskID] = append(r.logs[entry.TaskID], entry)
	return nil
}

// ListLogs returns all log entries of a task, oldest first.
func (r *Repository) ListLogs(ctx context.Context, taskID string) ([]model.TaskLogEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]model.TaskLogEntry, len(r.logs[taskID]))
	copy(entries, r.logs[taskID])
	return entries, nil
}

// LatestLogTime returns the timestamp of the most recent log entry of a task.
func (r *Repository) LatestLogTime(ctx context.Context, taskID string) (*time.Time, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := r.logs[taskID]
	if len(entries) == 0 {
		return nil, nil
	}

	latest := entries[len(entries)-1].Timestamp
	for _, e := range entries {
		if e.Timestamp.After(latest) {
			latest = e.Timestamp
		}
	}
	return &latest, nil
}

// SaveResult stores the outcome of one executed combination, replacing any
// previous result for the same step index.
func (r *Repository) SaveResult(ctx context.Context, res model.TaskResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if res.Timestamp.IsZero() {
		res.Timestamp = time.Now().UTC()
	}

	steps, ok := r.results[res.TaskID]
	if !ok {
		steps = make(map[int]model.TaskResult)
		r.results[res.TaskID] = steps
	}
	if prev, ok := steps[res.StepIndex]; ok {
		res.ID = prev.ID
	} else {
		r.nextID++
		res.ID = r.nextID
	}
	steps[res.StepIndex] = res
	return nil
}

// ListResults returns all results of a task ordered by step index.
func (r *Repository) ListResults(ctx context.Context, taskID string) ([]model.TaskResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	steps := r.results[taskID]
	results := make([]model.TaskResult, 0, len(steps))
	for _, res := range steps {
		results = append(results, res)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].StepIndex < results[j].StepIndex })
	return results, nil
}

// GetSetting retrieves a setting by key.
func (r *Repository) GetSetting(ctx context.Context, key string) (*model.Setting, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.settings[key]
	if !ok {
		return nil, fmt.Errorf("setting %s: %w", key, model.ErrNotFound)
	}

	settingCopy := s
	return &settingCopy, nil
}

// ListSettings returns all settings ordered by key.
func (r *Repository) ListSettings(ctx context.Context) ([]model.Setting, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	settings := make([]model.Setting, 0, len(r.settings))
	for _, s := range r.settings {
		settings = append(settings, s)
	}
	sort.Slice(settings, func(i, j int) bool { return settings[i].Key < settings[j].Key })
	return settings, nil
}

// SetSetting inserts or updates a setting.
func (r *Repository) SetSetting(ctx context.Context, s model.Setting) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	if prev, ok := r.settings[s.Key]; ok {
		s.CreatedAt = prev.CreatedAt
		if s.Description == "" {
			s.Description = prev.Description
		}
	} else {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	r.settings[s.Key] = s
	return nil
}

// DeleteSetting deletes a setting by key.
func (r *Repository) DeleteSetting(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.settings[key]; !ok {
		return fmt.Errorf("setting %s: %w", key, model.ErrNotFound)
	}

	delete(r.settings, key)
	return nil
}
