package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stplan/sheetsweep/internal/model"
)

// sweepConfigRecord is the JSON shape the task configuration is stored with.
// Kept separate from the model so schema changes stay explicit.
type sweepConfigRecord struct {
	SpreadsheetID      string     `json:"spreadsheet_id"`
	SheetName          string     `json:"sheet_name"`
	TokenFile          string     `json:"token_file,omitempty"`
	ProxyURL           string     `json:"proxy_url,omitempty"`
	Parameters         [][]string `json:"parameters"`
	ParameterPositions []string   `json:"parameter_positions"`
	CheckPositions     []string   `json:"check_positions"`
	ResultPositions    []string   `json:"result_positions"`
	DelayMinSeconds    int        `json:"execution_delay_min"`
	DelayMaxSeconds    int        `json:"execution_delay_max"`
	MaxPollAttempts    int        `json:"max_poll_attempts"`
	StartIndex         int        `json:"start_index"`
	OnFailure          string     `json:"on_failure"`
}

func encodeConfig(c model.SweepConfig) (string, error) {
	rec := sweepConfigRecord{
		SpreadsheetID:      c.SpreadsheetID,
		SheetName:          c.SheetName,
		TokenFile:          c.TokenFile,
		ProxyURL:           c.ProxyURL,
		Parameters:         c.Parameters,
		ParameterPositions: c.ParameterPositions,
		CheckPositions:     c.CheckPositions,
		ResultPositions:    c.ResultPositions,
		DelayMinSeconds:    c.DelayMinSeconds,
		DelayMaxSeconds:    c.DelayMaxSeconds,
		MaxPollAttempts:    c.MaxPollAttempts,
		StartIndex:         c.StartIndex,
		OnFailure:          string(c.OnFailure),
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("could not marshal config: %w", err)
	}
	return string(data), nil
}

func decodeConfig(data string) (model.SweepConfig, error) {
	var rec sweepConfigRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return model.SweepConfig{}, fmt.Errorf("could not unmarshal config: %w", err)
	}

	return model.SweepConfig{
		SpreadsheetID:      rec.SpreadsheetID,
		SheetName:          rec.SheetName,
		TokenFile:          rec.TokenFile,
		ProxyURL:           rec.ProxyURL,
		Parameters:         rec.Parameters,
		ParameterPositions: rec.ParameterPositions,
		CheckPositions:     rec.CheckPositions,
		ResultPositions:    rec.ResultPositions,
		DelayMinSeconds:    rec.DelayMinSeconds,
		DelayMaxSeconds:    rec.DelayMaxSeconds,
		MaxPollAttempts:    rec.MaxPollAttempts,
		StartIndex:         rec.StartIndex,
		OnFailure:          model.FailurePolicy(rec.OnFailure),
	}, nil
}

// CreateTask creates a new task in the repository.
func (r *Repository) CreateTask(ctx context.Context, t model.Task) error {
	config, err := encodeConfig(t.Config)
	if err != nil {
		return err
	}

	var startedAt, endedAt *int64
	if t.StartedAt != nil {
		u := t.StartedAt.Unix()
		startedAt = &u
	}
	if t.EndedAt != nil {
		u := t.EndedAt.Unix()
		endedAt = &u
	}

	query := `
		INSERT INTO tasks (
			id, name, description, kind, status, config,
			started_at, ended_at, current_step, total_steps, error,
			created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(
		ctx,
		query,
		t.ID,
		t.Name,
		t.Description,
		t.Kind,
		t.Status,
		config,
		startedAt,
		endedAt,
		t.CurrentStep,
		t.TotalSteps,
		t.Error,
		t.CreatedAt.Unix(),
		t.UpdatedAt.Unix(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: tasks.") {
			return fmt.Errorf("task already exists: %w", model.ErrAlreadyExists)
		}
		return fmt.Errorf("could not insert task: %w", err)
	}

	r.logger.Debugf("Created task in repository: %s", t.ID)
	return nil
}

const taskColumns = `
	id, name, description, kind, status, config,
	started_at, ended_at, current_step, total_steps, error,
	created_at, updated_at
`

// GetTask retrieves a task by ID.
func (r *Repository) GetTask(ctx context.Context, id string) (*model.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`

	task, err := r.scanTask(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("task %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not query task: %w", err)
	}

	return task, nil
}

// ListTasks returns all tasks, newest first.
func (r *Repository) ListTasks(ctx context.Context) ([]model.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks ORDER BY created_at DESC, id DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("could not query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		task, err := r.scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("could not scan row: %w", err)
		}
		tasks = append(tasks, *task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return tasks, nil
}

// UpdateTask updates an existing task.
func (r *Repository) UpdateTask(ctx context.Context, t model.Task) error {
	config, err := encodeConfig(t.Config)
	if err != nil {
		return err
	}

	var startedAt, endedAt *int64
	if t.StartedAt != nil {
		u := t.StartedAt.Unix()
		startedAt = &u
	}
	if t.EndedAt != nil {
		u := t.EndedAt.Unix()
		endedAt = &u
	}

	query := `
		UPDATE tasks
		SET
			name = ?,
			description = ?,
			kind = ?,
			status = ?,
			config = ?,
			started_at = ?,
			ended_at = ?,
			current_step = ?,
			total_steps = ?,
			error = ?,
			updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(
		ctx,
		query,
		t.Name,
		t.Description,
		t.Kind,
		t.Status,
		config,
		startedAt,
		endedAt,
		t.CurrentStep,
		t.TotalSteps,
		t.Error,
		time.Now().UTC().Unix(),
		t.ID,
	)
	if err != nil {
		return fmt.Errorf("could not update task: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("task %s: %w", t.ID, model.ErrNotFound)
	}

	r.logger.Debugf("Updated task in repository: %s", t.ID)
	return nil
}

// DeleteTask deletes a task. Logs and results cascade.
func (r *Repository) DeleteTask(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("could not delete task: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}

	r.logger.Debugf("Deleted task from repository: %s", id)
	return nil
}

// UpdateProgress persists the sweep checkpoint of a task.
func (r *Repository) UpdateProgress(ctx context.Context, id string, currentStep, totalSteps int) error {
	query := `UPDATE tasks SET current_step = ?, total_steps = ?, updated_at = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, currentStep, totalSteps, time.Now().UTC().Unix(), id)
	if err != nil {
		return fmt.Errorf("could not update progress: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}

	return nil
}

// AppendLog stores a new task log entry.
func (r *Repository) AppendLog(ctx context.Context, entry model.TaskLogEntry) error {
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	query := `INSERT INTO task_logs (task_id, level, message, timestamp) VALUES (?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query, entry.TaskID, entry.Level, entry.Message, ts.Unix())
	if err != nil {
		return fmt.Errorf("could not insert task log: %w", err)
	}

	return nil
}

// ListLogs returns all log entries of a task, oldest first.
func (r *Repository) ListLogs(ctx context.Context, taskID string) ([]model.TaskLogEntry, error) {
	query := `
		SELECT id, task_id, level, message, timestamp
		FROM task_logs
		WHERE task_id = ?
		ORDER BY id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("could not query task logs: %w", err)
	}
	defer rows.Close()

	var entries []model.TaskLogEntry
	for rows.Next() {
		var entry model.TaskLogEntry
		var ts int64
		if err := rows.Scan(&entry.ID, &entry.TaskID, &entry.Level, &entry.Message, &ts); err != nil {
			return nil, fmt.Errorf("could not scan row: %w", err)
		}
		entry.Timestamp = timeFromUnix(ts)
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return entries, nil
}

// LatestLogTime returns the timestamp of the most recent log entry of a task.
func (r *Repository) LatestLogTime(ctx context.Context, taskID string) (*time.Time, error) {
	query := `SELECT MAX(timestamp) FROM task_logs WHERE task_id = ?`

	var ts sql.NullInt64
	if err := r.db.QueryRowContext(ctx, query, taskID).Scan(&ts); err != nil {
		return nil, fmt.Errorf("could not query latest log time: %w", err)
	}
	if !ts.Valid {
		return nil, nil
	}

	t := timeFromUnix(ts.Int64)
	return &t, nil
}

// SaveResult stores the outcome of one executed combination. Saving a result
// for the same (task, step index) replaces the previous row so retried steps
// keep the step uniqueness invariant.
func (r *Repository) SaveResult(ctx context.Context, res model.TaskResult) error {
	params, err := json.Marshal(res.Parameters)
	if err != nil {
		return fmt.Errorf("could not marshal parameters: %w", err)
	}
	values, err := json.Marshal(res.Values)
	if err != nil {
		return fmt.Errorf("could not marshal result values: %w", err)
	}

	ts := res.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	query := `
		INSERT INTO task_results (task_id, step_index, parameters, result, success, error, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (task_id, step_index) DO UPDATE SET
			parameters = excluded.parameters,
			result = excluded.result,
			success = excluded.success,
			error = excluded.error,
			timestamp = excluded.timestamp
	`

	_, err = r.db.ExecContext(ctx, query, res.TaskID, res.StepIndex, string(params), string(values), res.Success, res.Error, ts.Unix())
	if err != nil {
		return fmt.Errorf("could not insert task result: %w", err)
	}

	return nil
}

// ListResults returns all results of a task ordered by step index.
func (r *Repository) ListResults(ctx context.Context, taskID string) ([]model.TaskResult, error) {
	query := `
		SELECT id, task_id, step_index, parameters, result, success, error, timestamp
		FROM task_results
		WHERE task_id = ?
		ORDER BY step_index ASC
	`

	rows, err := r.db.QueryContext(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("could not query task results: %w", err)
	}
	defer rows.Close()

	var results []model.TaskResult
	for rows.Next() {
		var res model.TaskResult
		var params, values string
		var ts int64
		if err := rows.Scan(&res.ID, &res.TaskID, &res.StepIndex, &params, &values, &res.Success, &res.Error, &ts); err != nil {
			return nil, fmt.Errorf("could not scan row: %w", err)
		}
		if err := json.Unmarshal([]byte(params), &res.Parameters); err != nil {
			return nil, fmt.Errorf("could not unmarshal parameters: %w", err)
		}
		if err := json.Unmarshal([]byte(values), &res.Values); err != nil {
			return nil, fmt.Errorf("could not unmarshal result values: %w", err)
		}
		res.Timestamp = timeFromUnix(ts)
		results = append(results, res)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return results, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (r *Repository) scanTask(s scanner) (*model.Task, error) {
	var t model.Task
	var config string
	var startedAt, endedAt sql.NullInt64
	var createdAt, updatedAt int64

	err := s.Scan(
		&t.ID,
		&t.Name,
		&t.Description,
		&t.Kind,
		&t.Status,
		&config,
		&startedAt,
		&endedAt,
		&t.CurrentStep,
		&t.TotalSteps,
		&t.Error,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Config, err = decodeConfig(config)
	if err != nil {
		return nil, err
	}

	if startedAt.Valid {
		ts := timeFromUnix(startedAt.Int64)
		t.StartedAt = &ts
	}
	if endedAt.Valid {
		ts := timeFromUnix(endedAt.Int64)
		t.EndedAt = &ts
	}
	t.CreatedAt = timeFromUnix(createdAt)
	t.UpdatedAt = timeFromUnix(updatedAt)

	return &t, nil
}
