// Package sweep executes parameter sweeps against remote spreadsheets.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/stplan/sheetsweep/internal/aggregator"
	"github.com/stplan/sheetsweep/internal/log"
	"github.com/stplan/sheetsweep/internal/model"
	"github.com/stplan/sheetsweep/internal/sheet"
	"github.com/stplan/sheetsweep/internal/storage"
	"github.com/stplan/sheetsweep/internal/storage/retry"
	"github.com/stplan/sheetsweep/internal/validate"
)

// HardCellError is returned internally when a polled or harvested cell shows
// a spreadsheet formula error marker. Hard errors never settle, so the whole
// run stops instead of burning the remaining poll budget.
type HardCellError struct {
	Address string
	Value   string
}

func (e HardCellError) Error() string {
	return fmt.Sprintf("cell %s shows error marker %q", e.Address, e.Value)
}

// Aggregator forwards executed combinations to the external aggregation API
// and answers where previous runs of the same subject stopped.
type Aggregator interface {
	InsertRecord(ctx context.Context, record aggregator.Record) error
	LatestRecord(ctx context.Context, subjectID string) (*aggregator.Record, bool, error)
}

// Events receives live progress while a sweep runs. Implementations must not
// block.
type Events interface {
	ProgressChanged(taskID string, currentStep, totalSteps int)
	LogAppended(entry model.TaskLogEntry)
}

// Outcome summarizes a finished sweep run.
type Outcome struct {
	Succeeded int
	Failed    int
	Status    model.TaskStatus
}

// RunnerConfig is the configuration of the sweep runner.
type RunnerConfig struct {
	TaskRepository storage.TaskRepository
	SheetOpener    sheet.Opener
	// Aggregator is optional. When set, executed combinations are forwarded
	// best effort and its latest record feeds the resume offset.
	Aggregator Aggregator
	// Events is optional.
	Events Events
	Retry  retry.Config
	Logger log.Logger
	// Sleep is the delay primitive between poll attempts, injectable so tests
	// do not wait for real spreadsheet recalculations.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (c *RunnerConfig) defaults() error {
	if c.TaskRepository == nil {
		return fmt.Errorf("task repository is required")
	}
	if c.SheetOpener == nil {
		return fmt.Errorf("sheet opener is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "sweep.Runner"})
	if c.Sleep == nil {
		c.Sleep = sleepCtx
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Runner executes sweep tasks combination by combination.
type Runner struct {
	repo       storage.TaskRepository
	opener     sheet.Opener
	aggregator Aggregator
	events     Events
	retryCfg   retry.Config
	logger     log.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewRunner creates a new sweep runner.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Runner{
		repo:       cfg.TaskRepository,
		opener:     cfg.SheetOpener,
		aggregator: cfg.Aggregator,
		events:     cfg.Events,
		retryCfg:   cfg.Retry,
		logger:     cfg.Logger,
		sleep:      cfg.Sleep,
	}, nil
}

// Run executes a sweep task to a terminal status. Per-combination failures
// are recorded on the task, not returned: the returned error only covers
// infrastructure problems that stopped the run from being accounted for.
func (r *Runner) Run(ctx context.Context, taskID string) (*Outcome, error) {
	logger := r.logger.WithValues(log.Kv{"task": taskID})

	task, err := r.repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("could not get task: %w", err)
	}
	if task.Status.Terminal() {
		return nil, fmt.Errorf("task %s already finished with status %s: %w",
			taskID, task.Status, model.ErrNotValid)
	}

	task.Config.Defaults()
	if err := task.Config.Validate(); err != nil {
		out := &Outcome{Status: model.TaskStatusError}
		if ferr := r.finish(ctx, taskID, out, err.Error()); ferr != nil {
			return nil, ferr
		}
		return out, nil
	}

	space, err := NewSpace(task.Config.Parameters)
	if err != nil {
		out := &Outcome{Status: model.TaskStatusError}
		if ferr := r.finish(ctx, taskID, out, err.Error()); ferr != nil {
			return nil, ferr
		}
		return out, nil
	}

	if err := r.markRunning(ctx, task, space.Total()); err != nil {
		return nil, err
	}

	ws, err := r.opener.Open(ctx, sheet.OpenRequest{
		SpreadsheetID: task.Config.SpreadsheetID,
		WorksheetName: task.Config.SheetName,
		TokenFile:     task.Config.TokenFile,
		ProxyURL:      task.Config.ProxyURL,
	})
	if err != nil {
		out := &Outcome{Status: model.TaskStatusError}
		if ferr := r.finish(ctx, taskID, out, fmt.Sprintf("could not open worksheet: %s", err)); ferr != nil {
			return nil, ferr
		}
		return out, nil
	}

	startIndex := r.resolveStartIndex(ctx, logger, task)
	if startIndex > 0 {
		r.logTask(ctx, taskID, model.LogLevelInfo,
			"Resuming at combination %d of %d", startIndex+1, space.Total())
	}

	outcome := &Outcome{Status: model.TaskStatusCompleted}
	var abortReason string

	for idx := startIndex; idx < space.Total(); idx++ {
		cancelled, err := r.isCancelled(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if cancelled {
			outcome.Status = model.TaskStatusCancelled
			break
		}

		// The checkpoint is persisted before any side effect so a crash
		// resumes here and never silently re-executes this combination.
		if err := r.updateProgress(ctx, taskID, idx+1, space.Total()); err != nil {
			return nil, err
		}

		combo, err := space.Decode(idx)
		if err != nil {
			return nil, fmt.Errorf("could not decode combination %d: %w", idx, err)
		}

		stepErr := r.runStep(ctx, ws, task, idx, combo)

		var hardErr HardCellError
		switch {
		case stepErr == nil:
			outcome.Succeeded++

		case errors.Is(stepErr, context.Canceled), errors.Is(stepErr, context.DeadlineExceeded):
			outcome.Status = model.TaskStatusCancelled

		case errors.As(stepErr, &hardErr):
			outcome.Failed++
			outcome.Status = model.TaskStatusError
			abortReason = hardErr.Error()
			r.logTask(ctx, taskID, model.LogLevelError,
				"Combination %d stopped the sweep: %s", idx+1, hardErr)

		default:
			outcome.Failed++
			r.logTask(ctx, taskID, model.LogLevelWarning,
				"Combination %d failed: %s", idx+1, stepErr)
			if task.Config.OnFailure == model.FailurePolicyAbort {
				outcome.Status = model.TaskStatusError
				abortReason = stepErr.Error()
			}
		}

		if outcome.Status != model.TaskStatusCompleted {
			break
		}
	}

	if outcome.Status == model.TaskStatusCompleted {
		if err := r.updateProgress(ctx, taskID, space.Total(), space.Total()); err != nil {
			return nil, err
		}
	}

	if err := r.finish(ctx, taskID, outcome, abortReason); err != nil {
		return nil, err
	}

	logger.Infof("Sweep finished with status %s (%d succeeded, %d failed)",
		outcome.Status, outcome.Succeeded, outcome.Failed)

	return outcome, nil
}

// runStep executes one combination: write, poll, harvest, validate, record.
func (r *Runner) runStep(ctx context.Context, ws sheet.Sheet, task *model.Task, idx int, combo []string) error {
	cfg := task.Config

	cells := make([]sheet.Cell, 0, len(combo))
	for i, value := range combo {
		cells = append(cells, sheet.Cell{Address: cfg.ParameterPositions[i], Value: value})
	}
	if err := ws.WriteCellsBatch(ctx, cells); err != nil {
		return r.recordFailure(ctx, task.ID, idx, combo, fmt.Sprintf("could not write parameters: %s", err))
	}

	r.logTask(ctx, task.ID, model.LogLevelInfo,
		"Combination %d/%d written: %s", idx+1, task.TotalSteps, strings.Join(combo, ", "))

	settled, err := r.poll(ctx, ws, task, idx)
	if err != nil {
		var hardErr HardCellError
		if errors.As(err, &hardErr) {
			_ = r.recordFailure(ctx, task.ID, idx, combo, hardErr.Error())
		}
		return err
	}
	if !settled {
		return r.recordFailure(ctx, task.ID, idx, combo,
			fmt.Sprintf("calculation did not settle after %d poll attempts", cfg.MaxPollAttempts))
	}

	values, err := ws.ReadCellsBatch(ctx, cfg.ResultPositions)
	if err != nil {
		return r.recordFailure(ctx, task.ID, idx, combo, fmt.Sprintf("could not read results: %s", err))
	}

	resultSet := make(map[string]string, len(values))
	for i, address := range cfg.ResultPositions {
		resultSet[address] = values[i]
	}

	for address, value := range resultSet {
		if validate.IsHardError(value) {
			err := HardCellError{Address: address, Value: strings.TrimSpace(value)}
			_ = r.recordFailure(ctx, task.ID, idx, combo, err.Error())
			return err
		}
	}

	if reasons := validate.ValidateResultSet(resultSet); len(reasons) > 0 {
		return r.recordFailure(ctx, task.ID, idx, combo, strings.Join(reasons, "; "))
	}

	err = r.saveResult(ctx, model.TaskResult{
		TaskID:     task.ID,
		StepIndex:  idx,
		Parameters: combo,
		Values:     resultSet,
		Success:    true,
		Timestamp:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("could not save result: %w", err)
	}

	r.forwardResult(ctx, task, idx, combo, resultSet)

	return nil
}

// poll waits for every check position to settle. It returns a HardCellError
// when a check cell shows a formula error marker, and false when the attempt
// budget runs out.
func (r *Runner) poll(ctx context.Context, ws sheet.Sheet, task *model.Task, idx int) (bool, error) {
	cfg := task.Config

	for attempt := 1; attempt <= cfg.MaxPollAttempts; attempt++ {
		if err := r.sleep(ctx, pollDelay(cfg, attempt)); err != nil {
			return false, err
		}

		cancelled, err := r.isCancelled(ctx, task.ID)
		if err != nil {
			return false, err
		}
		if cancelled {
			return false, context.Canceled
		}

		values, err := ws.ReadCellsBatch(ctx, cfg.CheckPositions)
		if err != nil {
			r.logTask(ctx, task.ID, model.LogLevelWarning,
				"Combination %d poll attempt %d failed to read check cells: %s", idx+1, attempt, err)
			continue
		}

		settled := true
		for i, value := range values {
			if validate.IsHardError(value) {
				return false, HardCellError{
					Address: cfg.CheckPositions[i],
					Value:   strings.TrimSpace(value),
				}
			}
			if !validate.IsValidValue(value) {
				settled = false
			}
		}
		if settled {
			return true, nil
		}
	}

	return false, nil
}

// pollDelay returns the randomized wait before a poll attempt. The floor
// grows as attempts accumulate: a calculation that has not settled after many
// polls is slow, and hammering it faster does not help.
func pollDelay(cfg model.SweepConfig, attempt int) time.Duration {
	min := time.Duration(cfg.DelayMinSeconds) * time.Second
	max := time.Duration(cfg.DelayMaxSeconds) * time.Second

	min += time.Duration(attempt/10) * time.Second
	if min > max {
		min = max
	}
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)+1))
}

func (r *Runner) resolveStartIndex(ctx context.Context, logger log.Logger, task *model.Task) int {
	startIndex := task.Config.StartIndex
	if task.CurrentStep > startIndex {
		startIndex = task.CurrentStep
	}

	if r.aggregator != nil {
		record, ok, err := r.aggregator.LatestRecord(ctx, task.ID)
		if err != nil {
			logger.Warningf("Could not get latest aggregated record, ignoring offset hint: %s", err)
		} else if ok && record.StepIndex+1 > startIndex {
			startIndex = record.StepIndex + 1
		}
	}

	return startIndex
}

func (r *Runner) forwardResult(ctx context.Context, task *model.Task, idx int, combo []string, values map[string]string) {
	if r.aggregator == nil {
		return
	}

	parameters := make(map[string]string, len(combo))
	for i, value := range combo {
		parameters[task.Config.ParameterPositions[i]] = value
	}

	err := r.aggregator.InsertRecord(ctx, aggregator.Record{
		SubjectID:  task.ID,
		StepIndex:  idx,
		Parameters: parameters,
		Metrics:    values,
	})
	if err != nil {
		r.logTask(ctx, task.ID, model.LogLevelWarning,
			"Could not forward combination %d to the aggregation API: %s", idx+1, err)
	}
}

func (r *Runner) isCancelled(ctx context.Context, taskID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return true, nil
	}

	task, err := r.repo.GetTask(ctx, taskID)
	if err != nil {
		return false, fmt.Errorf("could not check cancellation: %w", err)
	}
	return task.Status == model.TaskStatusCancelled, nil
}

func (r *Runner) markRunning(ctx context.Context, task *model.Task, totalSteps int) error {
	now := time.Now().UTC()
	task.Status = model.TaskStatusRunning
	if task.StartedAt == nil {
		task.StartedAt = &now
	}
	task.TotalSteps = totalSteps
	task.Error = ""

	err := retry.Do(ctx, r.retryCfg, func() error {
		return r.repo.UpdateTask(ctx, *task)
	})
	if err != nil {
		return fmt.Errorf("could not mark task running: %w", err)
	}

	r.logTask(ctx, task.ID, model.LogLevelInfo, "Sweep started: %d combinations", totalSteps)
	return nil
}

// finish persists the terminal status. A task already cancelled in the store
// keeps its cancelled status.
func (r *Runner) finish(ctx context.Context, taskID string, outcome *Outcome, reason string) error {
	task, err := r.repo.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("could not get task to finish it: %w", err)
	}

	if task.Status == model.TaskStatusCancelled {
		outcome.Status = model.TaskStatusCancelled
	}

	now := time.Now().UTC()
	task.Status = outcome.Status
	task.EndedAt = &now
	task.Error = reason

	err = retry.Do(ctx, r.retryCfg, func() error {
		return r.repo.UpdateTask(ctx, *task)
	})
	if err != nil {
		return fmt.Errorf("could not persist terminal status: %w", err)
	}

	r.logTask(ctx, taskID, terminalLogLevel(outcome.Status),
		"Sweep finished with status %s (%d succeeded, %d failed)",
		outcome.Status, outcome.Succeeded, outcome.Failed)

	return nil
}

func terminalLogLevel(status model.TaskStatus) model.LogLevel {
	if status == model.TaskStatusError {
		return model.LogLevelError
	}
	return model.LogLevelInfo
}

func (r *Runner) updateProgress(ctx context.Context, taskID string, currentStep, totalSteps int) error {
	err := retry.Do(ctx, r.retryCfg, func() error {
		return r.repo.UpdateProgress(ctx, taskID, currentStep, totalSteps)
	})
	if err != nil {
		return fmt.Errorf("could not persist checkpoint: %w", err)
	}

	if r.events != nil {
		r.events.ProgressChanged(taskID, currentStep, totalSteps)
	}
	return nil
}

func (r *Runner) recordFailure(ctx context.Context, taskID string, idx int, combo []string, reason string) error {
	err := r.saveResult(ctx, model.TaskResult{
		TaskID:     taskID,
		StepIndex:  idx,
		Parameters: combo,
		Success:    false,
		Error:      reason,
		Timestamp:  time.Now().UTC(),
	})
	if err != nil {
		r.logger.WithValues(log.Kv{"task": taskID}).Errorf("Could not record failed combination: %s", err)
	}

	return fmt.Errorf("%s", reason)
}

func (r *Runner) saveResult(ctx context.Context, result model.TaskResult) error {
	return retry.Do(ctx, r.retryCfg, func() error {
		return r.repo.SaveResult(ctx, result)
	})
}

func (r *Runner) logTask(ctx context.Context, taskID string, level model.LogLevel, format string, args ...interface{}) {
	entry := model.TaskLogEntry{
		TaskID:    taskID,
		Level:     level,
		Message:   fmt.Sprintf(format, args...),
		Timestamp: time.Now().UTC(),
	}

	err := retry.Do(ctx, r.retryCfg, func() error {
		return r.repo.AppendLog(ctx, entry)
	})
	if err != nil {
		r.logger.WithValues(log.Kv{"task": taskID}).Errorf("Could not append task log: %s", err)
	}

	if r.events != nil {
		r.events.LogAppended(entry)
	}
}
