package manager_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stplan/sheetsweep/internal/manager"
	"github.com/stplan/sheetsweep/internal/model"
	"github.com/stplan/sheetsweep/internal/notify"
	"github.com/stplan/sheetsweep/internal/storage/memory"
	"github.com/stplan/sheetsweep/internal/sweep"
)

type stubRunner struct {
	repo    *memory.Repository
	outcome sweep.Outcome
	block   chan struct{}
	runs    chan string
}

func (r *stubRunner) Run(ctx context.Context, taskID string) (*sweep.Outcome, error) {
	if r.runs != nil {
		r.runs <- taskID
	}
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
		}
	}

	task, err := r.repo.GetTask(context.Background(), taskID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	task.Status = r.outcome.Status
	task.EndedAt = &now
	if err := r.repo.UpdateTask(context.Background(), *task); err != nil {
		return nil, err
	}

	outcome := r.outcome
	return &outcome, nil
}

type capturingNotifier struct {
	notifications chan notify.Notification
}

func (n *capturingNotifier) TaskFinished(ctx context.Context, notification notify.Notification) error {
	n.notifications <- notification
	return nil
}

func validConfig() model.SweepConfig {
	return model.SweepConfig{
		SpreadsheetID:      "sheet-id",
		Parameters:         [][]string{{"1", "2"}},
		ParameterPositions: []string{"B1"},
		CheckPositions:     []string{"C1"},
		ResultPositions:    []string{"D1"},
	}
}

type managerFixture struct {
	repo     *memory.Repository
	runner   *stubRunner
	notifier *capturingNotifier
	svc      *manager.Service
}

func getTestManager(t *testing.T, mutate func(cfg *manager.ServiceConfig)) *managerFixture {
	t.Helper()

	repo, err := memory.NewRepository(memory.RepositoryConfig{})
	require.NoError(t, err)

	f := &managerFixture{
		repo:     repo,
		runner:   &stubRunner{repo: repo, outcome: sweep.Outcome{Status: model.TaskStatusCompleted, Succeeded: 2}},
		notifier: &capturingNotifier{notifications: make(chan notify.Notification, 8)},
	}

	cfg := manager.ServiceConfig{
		TaskRepository:     repo,
		Runner:             f.runner,
		Notifier:           f.notifier,
		MaxConcurrentTasks: 2,
		ExternalBaseURL:    "https://sweeps.example.com",
	}
	if mutate != nil {
		mutate(&cfg)
	}

	svc, err := manager.NewService(cfg)
	require.NoError(t, err)
	f.svc = svc

	return f
}

func (f *managerFixture) createTask(t *testing.T) *model.Task {
	t.Helper()

	task, err := f.svc.Create(context.TODO(), manager.CreateRequest{
		Name:   "pricing sweep",
		Config: validConfig(),
	})
	require.NoError(t, err)
	return task
}

func TestServiceCreate(t *testing.T) {
	tests := map[string]struct {
		request manager.CreateRequest
		expErr  error
	}{
		"A valid request should create a pending task.": {
			request: manager.CreateRequest{Name: "pricing sweep", Config: validConfig()},
		},

		"A request without name should fail.": {
			request: manager.CreateRequest{Config: validConfig()},
			expErr:  model.ErrNotValid,
		},

		"A request with an invalid sweep config should fail.": {
			request: manager.CreateRequest{Name: "pricing sweep"},
			expErr:  model.ErrNotValid,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			f := getTestManager(t, nil)

			task, err := f.svc.Create(context.TODO(), test.request)

			if test.expErr != nil {
				assert.ErrorIs(err, test.expErr)
				return
			}

			require.NoError(t, err)
			assert.NotEmpty(task.ID)
			assert.Equal(model.TaskStatusPending, task.Status)
			assert.Equal(model.TaskKindSheetSweep, task.Kind)
			assert.Equal(2, task.TotalSteps)

			stored, err := f.repo.GetTask(context.TODO(), task.ID)
			require.NoError(t, err)
			assert.Equal(task.ID, stored.ID)
		})
	}
}

func TestServiceStart(t *testing.T) {
	assert := assert.New(t)

	f := getTestManager(t, nil)
	task := f.createTask(t)

	err := f.svc.Start(context.TODO(), task.ID)
	require.NoError(t, err)

	f.svc.Wait()

	stored, err := f.repo.GetTask(context.TODO(), task.ID)
	require.NoError(t, err)
	assert.Equal(model.TaskStatusCompleted, stored.Status)

	select {
	case notification := <-f.notifier.notifications:
		assert.Equal(task.ID, notification.TaskID)
		assert.Equal(model.TaskStatusCompleted, notification.Status)
		assert.Equal("https://sweeps.example.com/tasks/"+task.ID, notification.DetailURL)
	case <-time.After(time.Second):
		t.Fatal("expected a notification")
	}
}

func TestServiceStartRejectsBusySlots(t *testing.T) {
	assert := assert.New(t)

	f := getTestManager(t, func(cfg *manager.ServiceConfig) { cfg.MaxConcurrentTasks = 1 })
	f.runner.block = make(chan struct{})
	f.runner.runs = make(chan string, 2)

	first := f.createTask(t)
	second := f.createTask(t)

	require.NoError(t, f.svc.Start(context.TODO(), first.ID))
	<-f.runner.runs

	err := f.svc.Start(context.TODO(), second.ID)
	assert.ErrorIs(err, manager.ErrTooManyTasks)

	close(f.runner.block)
	f.svc.Wait()

	// A freed slot accepts new work again.
	assert.NoError(f.svc.Start(context.TODO(), second.ID))
	f.svc.Wait()
}

func TestServiceStartRejectsInFlightAndFinishedTasks(t *testing.T) {
	assert := assert.New(t)

	f := getTestManager(t, nil)
	f.runner.block = make(chan struct{})
	f.runner.runs = make(chan string, 1)
	task := f.createTask(t)

	require.NoError(t, f.svc.Start(context.TODO(), task.ID))
	<-f.runner.runs

	err := f.svc.Start(context.TODO(), task.ID)
	assert.ErrorIs(err, model.ErrAlreadyExists)

	close(f.runner.block)
	f.svc.Wait()

	err = f.svc.Start(context.TODO(), task.ID)
	assert.ErrorIs(err, model.ErrNotValid)
}

func TestServiceCancelPendingTask(t *testing.T) {
	assert := assert.New(t)

	f := getTestManager(t, nil)
	task := f.createTask(t)

	err := f.svc.Cancel(context.TODO(), task.ID)
	require.NoError(t, err)

	stored, err := f.repo.GetTask(context.TODO(), task.ID)
	require.NoError(t, err)
	assert.Equal(model.TaskStatusCancelled, stored.Status)
	assert.NotNil(stored.EndedAt)

	err = f.svc.Cancel(context.TODO(), task.ID)
	assert.ErrorIs(err, model.ErrNotValid)
}

func TestServiceRestart(t *testing.T) {
	tests := map[string]struct {
		resume         bool
		expCurrentStep int
	}{
		"Restarting with resume should keep the checkpoint.":     {resume: true, expCurrentStep: 1},
		"Restarting from scratch should reset the checkpoint.":   {resume: false, expCurrentStep: 0},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			f := getTestManager(t, nil)
			task := f.createTask(t)

			now := time.Now().UTC()
			stored, err := f.repo.GetTask(context.TODO(), task.ID)
			require.NoError(t, err)
			stored.Status = model.TaskStatusError
			stored.Error = "calculation did not settle"
			stored.CurrentStep = 1
			stored.EndedAt = &now
			require.NoError(t, f.repo.UpdateTask(context.TODO(), *stored))

			err = f.svc.Restart(context.TODO(), task.ID, test.resume)
			require.NoError(t, err)

			restarted, err := f.repo.GetTask(context.TODO(), task.ID)
			require.NoError(t, err)
			assert.Equal(model.TaskStatusPending, restarted.Status)
			assert.Empty(restarted.Error)
			assert.Nil(restarted.EndedAt)
			assert.Equal(test.expCurrentStep, restarted.CurrentStep)
		})
	}
}

func TestServiceClone(t *testing.T) {
	assert := assert.New(t)

	f := getTestManager(t, nil)
	task := f.createTask(t)

	clone, err := f.svc.Clone(context.TODO(), task.ID)
	require.NoError(t, err)

	assert.NotEqual(task.ID, clone.ID)
	assert.Equal("pricing sweep (copy)", clone.Name)
	assert.Equal(model.TaskStatusPending, clone.Status)
	assert.Equal(task.Config, clone.Config)
	assert.Zero(clone.CurrentStep)
}

func TestServiceDelete(t *testing.T) {
	assert := assert.New(t)

	f := getTestManager(t, nil)
	task := f.createTask(t)

	err := f.svc.Delete(context.TODO(), task.ID)
	require.NoError(t, err)

	_, err = f.repo.GetTask(context.TODO(), task.ID)
	assert.ErrorIs(err, model.ErrNotFound)
}

func TestServiceReconcileStale(t *testing.T) {
	assert := assert.New(t)

	f := getTestManager(t, nil)
	task := f.createTask(t)

	stored, err := f.repo.GetTask(context.TODO(), task.ID)
	require.NoError(t, err)
	stored.Status = model.TaskStatusRunning
	require.NoError(t, f.repo.UpdateTask(context.TODO(), *stored))

	healthy := f.createTask(t)

	reset, err := f.svc.ReconcileStale(context.TODO())
	require.NoError(t, err)
	assert.Equal(1, reset)

	reconciled, err := f.repo.GetTask(context.TODO(), task.ID)
	require.NoError(t, err)
	assert.Equal(model.TaskStatusPending, reconciled.Status)

	logs, err := f.repo.ListLogs(context.TODO(), task.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(model.LogLevelWarning, logs[0].Level)

	untouched, err := f.repo.GetTask(context.TODO(), healthy.ID)
	require.NoError(t, err)
	assert.Equal(model.TaskStatusPending, untouched.Status)
}
