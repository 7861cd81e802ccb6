package model

import (
	"fmt"
	"time"
)

// TaskStatus represents the lifecycle status of a sweep task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has been created but not started.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusRunning indicates the task is being executed.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusCompleted indicates every combination was executed successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusCancelled indicates the task was cancelled by an external actor.
	TaskStatusCancelled TaskStatus = "cancelled"
	// TaskStatusError indicates the task finished with an error.
	TaskStatusError TaskStatus = "error"
)

// Terminal returns true when no further transitions are expected for the status.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusCancelled, TaskStatusError:
		return true
	}
	return false
}

// TaskKind represents the kind of work a task executes.
type TaskKind string

// TaskKindSheetSweep is a parameter sweep against a remote spreadsheet.
const TaskKindSheetSweep TaskKind = "sheet-sweep"

// Task represents a single sweep run.
type Task struct {
	ID          string
	Name        string
	Description string
	Kind        TaskKind
	Status      TaskStatus
	Config      SweepConfig

	StartedAt   *time.Time
	EndedAt     *time.Time
	CurrentStep int
	TotalSteps  int
	Error       string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProgressPercent returns the task completion as a percentage.
func (t *Task) ProgressPercent() float64 {
	if t.TotalSteps == 0 {
		return 0
	}
	return float64(t.CurrentStep) / float64(t.TotalSteps) * 100
}

// FailurePolicy decides what the sweep does when a combination fails
// (poll timeout or invalid harvested values).
type FailurePolicy string

const (
	// FailurePolicyAbort stops the run on the first failed combination.
	FailurePolicyAbort FailurePolicy = "abort"
	// FailurePolicyContinue records the failure and moves to the next combination.
	FailurePolicyContinue FailurePolicy = "continue"
)

// SweepConfig is the static configuration of a sweep task.
type SweepConfig struct {
	SpreadsheetID string
	SheetName     string
	TokenFile     string
	ProxyURL      string

	// Parameters holds one ordered value list per parameter dimension. The
	// sweep executes the Cartesian product of all lists.
	Parameters [][]string

	// ParameterPositions are the cell addresses the combination values are
	// written to, one per parameter dimension and in the same order.
	ParameterPositions []string
	// CheckPositions are the cells polled until the remote calculation settles.
	CheckPositions []string
	// ResultPositions are the cells harvested once the calculation settled.
	ResultPositions []string

	// DelayMinSeconds and DelayMaxSeconds bound the randomized sleep between
	// poll attempts.
	DelayMinSeconds int
	DelayMaxSeconds int
	// MaxPollAttempts bounds the number of poll attempts per combination.
	MaxPollAttempts int

	// StartIndex is an explicit offset hint: combinations below it are
	// considered already executed elsewhere and are skipped.
	StartIndex int

	OnFailure FailurePolicy
}

const (
	defaultDelayMinSeconds = 20
	defaultDelayMaxSeconds = 30
	defaultMaxPollAttempts = 60
)

// Defaults fills the optional sweep settings with their default values.
func (c *SweepConfig) Defaults() {
	if c.SheetName == "" {
		c.SheetName = "data"
	}
	if c.DelayMinSeconds == 0 {
		c.DelayMinSeconds = defaultDelayMinSeconds
	}
	if c.DelayMaxSeconds == 0 {
		c.DelayMaxSeconds = defaultDelayMaxSeconds
	}
	if c.MaxPollAttempts == 0 {
		c.MaxPollAttempts = defaultMaxPollAttempts
	}
	if c.OnFailure == "" {
		c.OnFailure = FailurePolicyAbort
	}
}

// Validate validates the sweep configuration. It fails fast so a misconfigured
// task never reaches the remote spreadsheet.
func (c *SweepConfig) Validate() error {
	if c.SpreadsheetID == "" {
		return fmt.Errorf("spreadsheet id is required: %w", ErrNotValid)
	}

	if len(c.Parameters) == 0 {
		return fmt.Errorf("at least one parameter value list is required: %w", ErrNotValid)
	}
	for i, values := range c.Parameters {
		if len(values) == 0 {
			return fmt.Errorf("parameter list %d is empty: %w", i, ErrNotValid)
		}
	}

	if len(c.ParameterPositions) != len(c.Parameters) {
		return fmt.Errorf("got %d parameter positions for %d parameter lists: %w",
			len(c.ParameterPositions), len(c.Parameters), ErrNotValid)
	}
	if len(c.CheckPositions) == 0 {
		return fmt.Errorf("at least one check position is required: %w", ErrNotValid)
	}
	if len(c.ResultPositions) == 0 {
		return fmt.Errorf("at least one result position is required: %w", ErrNotValid)
	}

	if c.DelayMinSeconds <= 0 || c.DelayMaxSeconds < c.DelayMinSeconds {
		return fmt.Errorf("invalid poll delay bounds [%d, %d]: %w",
			c.DelayMinSeconds, c.DelayMaxSeconds, ErrNotValid)
	}
	if c.MaxPollAttempts <= 0 {
		return fmt.Errorf("max poll attempts must be positive: %w", ErrNotValid)
	}
	if c.StartIndex < 0 {
		return fmt.Errorf("start index cannot be negative: %w", ErrNotValid)
	}

	switch c.OnFailure {
	case FailurePolicyAbort, FailurePolicyContinue:
	default:
		return fmt.Errorf("unknown failure policy %q: %w", c.OnFailure, ErrNotValid)
	}

	return nil
}

// TotalSteps returns the size of the combination space, the product of all
// parameter list lengths.
func (c *SweepConfig) TotalSteps() int {
	if len(c.Parameters) == 0 {
		return 0
	}
	total := 1
	for _, values := range c.Parameters {
		total *= len(values)
	}
	return total
}

// LogLevel is the severity of a task log entry.
type LogLevel string

const (
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// TaskLogEntry is one append-only log line attached to a task.
type TaskLogEntry struct {
	ID        int64
	TaskID    string
	Level     LogLevel
	Message   string
	Timestamp time.Time
}

// TaskResult is the outcome of one executed parameter combination.
type TaskResult struct {
	ID         int64
	TaskID     string
	StepIndex  int
	Parameters []string
	Values     map[string]string
	Success    bool
	Error      string
	Timestamp  time.Time
}
