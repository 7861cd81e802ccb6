// Package manager owns the task lifecycle: creation, execution handoff,
// cancellation and recovery of runs that died with the process.
package manager

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/stplan/sheetsweep/internal/log"
	"github.com/stplan/sheetsweep/internal/model"
	"github.com/stplan/sheetsweep/internal/notify"
	"github.com/stplan/sheetsweep/internal/storage"
	"github.com/stplan/sheetsweep/internal/sweep"
)

// ErrTooManyTasks is returned by Start when every execution slot is busy.
// Starts do not queue: the caller decides whether to retry later.
var ErrTooManyTasks = errors.New("maximum number of concurrent tasks reached")

// Runner executes one sweep task to a terminal status.
type Runner interface {
	Run(ctx context.Context, taskID string) (*sweep.Outcome, error)
}

// ServiceConfig is the configuration of the task manager.
type ServiceConfig struct {
	TaskRepository storage.TaskRepository
	Runner         Runner
	Notifier       notify.Notifier
	Streams        *Streams
	Registry       *RunRegistry

	// MaxConcurrentTasks caps parallel sweep runs.
	MaxConcurrentTasks int
	// StaleThreshold is how long a running task may stay silent before the
	// startup reconcile considers it dead.
	StaleThreshold time.Duration
	// ExternalBaseURL builds the deep links embedded in notifications.
	ExternalBaseURL string

	Logger log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.TaskRepository == nil {
		return fmt.Errorf("task repository is required")
	}
	if c.Runner == nil {
		return fmt.Errorf("runner is required")
	}
	if c.Notifier == nil {
		c.Notifier = notify.Noop
	}
	if c.Streams == nil {
		c.Streams = NewStreams()
	}
	if c.Registry == nil {
		c.Registry = NewRunRegistry()
	}
	if c.MaxConcurrentTasks <= 0 {
		c.MaxConcurrentTasks = 5
	}
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = 10 * time.Minute
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "manager.Service"})
	return nil
}

// Service manages sweep tasks.
type Service struct {
	repo     storage.TaskRepository
	runner   Runner
	notifier notify.Notifier
	streams  *Streams
	registry *RunRegistry

	slots           chan struct{}
	staleThreshold  time.Duration
	externalBaseURL string

	wg     sync.WaitGroup
	logger log.Logger
}

// NewService creates a new task manager.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:            cfg.TaskRepository,
		runner:          cfg.Runner,
		notifier:        cfg.Notifier,
		streams:         cfg.Streams,
		registry:        cfg.Registry,
		slots:           make(chan struct{}, cfg.MaxConcurrentTasks),
		staleThreshold:  cfg.StaleThreshold,
		externalBaseURL: strings.TrimRight(cfg.ExternalBaseURL, "/"),
		logger:          cfg.Logger,
	}, nil
}

// Streams returns the live event stream hub.
func (s *Service) Streams() *Streams { return s.streams }

// CreateRequest describes a new sweep task.
type CreateRequest struct {
	Name        string
	Description string
	Config      model.SweepConfig
}

// Create validates and stores a new pending task.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*model.Task, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("task name is required: %w", model.ErrNotValid)
	}

	req.Config.Defaults()
	if err := req.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sweep config: %w", err)
	}

	now := time.Now().UTC()
	task := model.Task{
		ID:          ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		Name:        req.Name,
		Description: req.Description,
		Kind:        model.TaskKindSheetSweep,
		Status:      model.TaskStatusPending,
		Config:      req.Config,
		TotalSteps:  req.Config.TotalSteps(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.repo.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("could not store task: %w", err)
	}

	s.logger.WithCtxValues(ctx).Infof("Task %s created (%d combinations)", task.ID, task.TotalSteps)
	return &task, nil
}

// Get returns a task by ID.
func (s *Service) Get(ctx context.Context, id string) (*model.Task, error) {
	return s.repo.GetTask(ctx, id)
}

// List returns all tasks, newest first.
func (s *Service) List(ctx context.Context) ([]model.Task, error) {
	return s.repo.ListTasks(ctx)
}

// Logs returns the log entries of a task.
func (s *Service) Logs(ctx context.Context, id string) ([]model.TaskLogEntry, error) {
	if _, err := s.repo.GetTask(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListLogs(ctx, id)
}

// Results returns the recorded combination results of a task.
func (s *Service) Results(ctx context.Context, id string) ([]model.TaskResult, error) {
	if _, err := s.repo.GetTask(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListResults(ctx, id)
}

// Start hands a pending task to an execution slot. It returns
// ErrTooManyTasks when all slots are busy.
func (s *Service) Start(ctx context.Context, id string) error {
	task, err := s.repo.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if task.Status == model.TaskStatusRunning || s.registry.Lookup(id) {
		return fmt.Errorf("task %s is already running: %w", id, model.ErrAlreadyExists)
	}
	if task.Status.Terminal() {
		return fmt.Errorf("task %s already finished with status %s, restart or clone it: %w",
			id, task.Status, model.ErrNotValid)
	}

	select {
	case s.slots <- struct{}{}:
	default:
		return ErrTooManyTasks
	}

	runCtx, cancel := context.WithCancel(context.Background())
	if !s.registry.Register(id, cancel) {
		<-s.slots
		cancel()
		return fmt.Errorf("task %s is already running: %w", id, model.ErrAlreadyExists)
	}

	s.wg.Add(1)
	go s.execute(runCtx, id)

	s.logger.WithCtxValues(ctx).Infof("Task %s handed to an execution slot", id)
	return nil
}

func (s *Service) execute(ctx context.Context, id string) {
	defer s.wg.Done()
	defer func() { <-s.slots }()
	defer s.registry.Unregister(id)
	defer s.streams.Close(id)

	logger := s.logger.WithValues(log.Kv{"task": id})

	outcome, err := s.runner.Run(ctx, id)
	if err != nil {
		logger.Errorf("Sweep run failed before reaching a terminal status: %s", err)
		s.failTask(ctx, id, err)
		return
	}

	s.streams.Publish(Event{Type: EventStatus, TaskID: id, Status: outcome.Status})
	s.notifyFinished(id, outcome)
}

// failTask records an infrastructure failure the runner could not persist
// itself.
func (s *Service) failTask(ctx context.Context, id string, runErr error) {
	// The run context may already be cancelled.
	task, err := s.repo.GetTask(context.Background(), id)
	if err != nil {
		s.logger.Errorf("Could not load task %s to record its failure: %s", id, err)
		return
	}
	if task.Status.Terminal() {
		return
	}

	now := time.Now().UTC()
	task.Status = model.TaskStatusError
	task.EndedAt = &now
	task.Error = runErr.Error()
	if err := s.repo.UpdateTask(context.Background(), *task); err != nil {
		s.logger.Errorf("Could not persist failure of task %s: %s", id, err)
		return
	}

	s.streams.Publish(Event{Type: EventStatus, TaskID: id, Status: model.TaskStatusError})
	s.notifyFinished(id, &sweep.Outcome{Status: model.TaskStatusError})
}

func (s *Service) notifyFinished(id string, outcome *sweep.Outcome) {
	task, err := s.repo.GetTask(context.Background(), id)
	if err != nil {
		s.logger.Errorf("Could not load task %s for notification: %s", id, err)
		return
	}

	notification := notify.Notification{
		TaskID:   task.ID,
		TaskName: task.Name,
		Status:   outcome.Status,
		Summary:  fmt.Sprintf("%d succeeded, %d failed", outcome.Succeeded, outcome.Failed),
	}
	if s.externalBaseURL != "" {
		notification.DetailURL = fmt.Sprintf("%s/tasks/%s", s.externalBaseURL, task.ID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := s.notifier.TaskFinished(ctx, notification); err != nil {
		s.logger.Warningf("Could not notify outcome of task %s: %s", id, err)
	}
}

// Cancel flags a task as cancelled. A running sweep observes the flag at its
// next checkpoint; a pending task is cancelled immediately.
func (s *Service) Cancel(ctx context.Context, id string) error {
	task, err := s.repo.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if task.Status.Terminal() {
		return fmt.Errorf("task %s already finished with status %s: %w", id, task.Status, model.ErrNotValid)
	}

	wasPending := task.Status == model.TaskStatusPending

	task.Status = model.TaskStatusCancelled
	if wasPending {
		now := time.Now().UTC()
		task.EndedAt = &now
	}
	if err := s.repo.UpdateTask(ctx, *task); err != nil {
		return fmt.Errorf("could not store cancellation: %w", err)
	}

	if wasPending {
		s.streams.Publish(Event{Type: EventStatus, TaskID: id, Status: model.TaskStatusCancelled})
		s.streams.Close(id)
	}

	s.logger.WithCtxValues(ctx).Infof("Task %s cancelled", id)
	return nil
}

// Restart resets a finished task back to pending on the same row. With
// resumeFromCheckpoint the recorded checkpoint is kept so the next run
// continues where the previous one stopped; without it the sweep starts over.
func (s *Service) Restart(ctx context.Context, id string, resumeFromCheckpoint bool) error {
	if s.registry.Lookup(id) {
		return fmt.Errorf("task %s has an in-flight run: %w", id, model.ErrAlreadyExists)
	}

	task, err := s.repo.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if task.Status == model.TaskStatusRunning {
		return fmt.Errorf("task %s is running: %w", id, model.ErrAlreadyExists)
	}

	task.Status = model.TaskStatusPending
	task.Error = ""
	task.EndedAt = nil
	task.StartedAt = nil
	if !resumeFromCheckpoint {
		task.CurrentStep = 0
	}

	if err := s.repo.UpdateTask(ctx, *task); err != nil {
		return fmt.Errorf("could not store restart: %w", err)
	}

	s.logger.WithCtxValues(ctx).Infof("Task %s reset to pending (resume=%t)", id, resumeFromCheckpoint)
	return nil
}

// Clone creates a new pending task with the same configuration.
func (s *Service) Clone(ctx context.Context, id string) (*model.Task, error) {
	task, err := s.repo.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	clone := model.Task{
		ID:          ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		Name:        fmt.Sprintf("%s (copy)", task.Name),
		Description: task.Description,
		Kind:        task.Kind,
		Status:      model.TaskStatusPending,
		Config:      task.Config,
		TotalSteps:  task.Config.TotalSteps(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.repo.CreateTask(ctx, clone); err != nil {
		return nil, fmt.Errorf("could not store cloned task: %w", err)
	}

	s.logger.WithCtxValues(ctx).Infof("Task %s cloned as %s", id, clone.ID)
	return &clone, nil
}

// Delete removes a task with its logs and results. A running task is
// cancelled first, without waiting for the sweep to observe it.
func (s *Service) Delete(ctx context.Context, id string) error {
	task, err := s.repo.GetTask(ctx, id)
	if err != nil {
		return err
	}

	if task.Status == model.TaskStatusRunning {
		if err := s.Cancel(ctx, id); err != nil && !errors.Is(err, model.ErrNotValid) {
			return err
		}
		s.registry.Cancel(id)
	}

	if err := s.repo.DeleteTask(ctx, id); err != nil {
		return err
	}

	s.streams.Close(id)
	s.logger.WithCtxValues(ctx).Infof("Task %s deleted", id)
	return nil
}

// ReconcileStale resets tasks that claim to be running but have no in-flight
// run in this process, or stopped logging for longer than the staleness
// threshold. It runs at startup, before the API accepts traffic, and never
// auto-resumes anything.
func (s *Service) ReconcileStale(ctx context.Context) (int, error) {
	tasks, err := s.repo.ListTasks(ctx)
	if err != nil {
		return 0, fmt.Errorf("could not list tasks: %w", err)
	}

	reset := 0
	for _, task := range tasks {
		if task.Status != model.TaskStatusRunning {
			continue
		}

		stale := !s.registry.Lookup(task.ID)
		if !stale {
			latest, err := s.repo.LatestLogTime(ctx, task.ID)
			if err != nil {
				return reset, fmt.Errorf("could not get latest log time of task %s: %w", task.ID, err)
			}
			stale = latest == nil || time.Since(*latest) > s.staleThreshold
		}
		if !stale {
			continue
		}

		task.Status = model.TaskStatusPending
		if err := s.repo.UpdateTask(ctx, task); err != nil {
			return reset, fmt.Errorf("could not reset stale task %s: %w", task.ID, err)
		}

		entry := model.TaskLogEntry{
			TaskID:    task.ID,
			Level:     model.LogLevelWarning,
			Message:   "Task was marked running but its run is gone, reset to pending",
			Timestamp: time.Now().UTC(),
		}
		if err := s.repo.AppendLog(ctx, entry); err != nil {
			s.logger.Warningf("Could not log stale reset of task %s: %s", task.ID, err)
		}

		s.logger.Warningf("Stale running task %s reset to pending", task.ID)
		reset++
	}

	return reset, nil
}

// Wait blocks until every in-flight run has finished. Used on shutdown.
func (s *Service) Wait() { s.wg.Wait() }

// Stop cancels every in-flight run and waits until each has recorded its
// terminal status.
func (s *Service) Stop() {
	s.registry.CancelAll()
	s.wg.Wait()
}
