package printer

import (
	"encoding/json"
	"io"
	"time"

	"github.com/stplan/sheetsweep/internal/model"
)

// JSONPrinter prints sweep task information in JSON format.
type JSONPrinter struct {
	writer io.Writer
}

// NewJSONPrinter creates a new JSON printer.
func NewJSONPrinter(w io.Writer) *JSONPrinter {
	return &JSONPrinter{writer: w}
}

// listItem represents a task in the list output (subset of fields).
type listItem struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Status      string    `json:"status"`
	CurrentStep int       `json:"current_step"`
	TotalSteps  int       `json:"total_steps"`
	CreatedAt   time.Time `json:"created_at"`
}

// statusOutput represents the full task status output.
type statusOutput struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Description     string     `json:"description,omitempty"`
	Status          string     `json:"status"`
	SpreadsheetID   string     `json:"spreadsheet_id"`
	SheetName       string     `json:"sheet_name"`
	CurrentStep     int        `json:"current_step"`
	TotalSteps      int        `json:"total_steps"`
	ProgressPercent float64    `json:"progress_percent"`
	OnFailure       string     `json:"on_failure"`
	Error           string     `json:"error,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at"`
}

// resultOutput represents one combination result.
type resultOutput struct {
	StepIndex  int               `json:"step_index"`
	Parameters []string          `json:"parameters"`
	Values     map[string]string `json:"values,omitempty"`
	Success    bool              `json:"success"`
	Error      string            `json:"error,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// logOutput represents one task log entry.
type logOutput struct {
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// settingOutput represents one setting.
type settingOutput struct {
	Key         string `json:"key"`
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
}

// messageOutput represents a simple message output.
type messageOutput struct {
	Message string `json:"message"`
}

// PrintList prints tasks in JSON format with a subset of fields.
func (j *JSONPrinter) PrintList(tasks []model.Task) error {
	items := make([]listItem, len(tasks))
	for i, task := range tasks {
		items[i] = listItem{
			ID:          task.ID,
			Name:        task.Name,
			Status:      string(task.Status),
			CurrentStep: task.CurrentStep,
			TotalSteps:  task.TotalSteps,
			CreatedAt:   task.CreatedAt.UTC(),
		}
	}

	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(items)
}

// PrintStatus prints detailed task status in JSON format.
func (j *JSONPrinter) PrintStatus(task model.Task) error {
	output := statusOutput{
		ID:              task.ID,
		Name:            task.Name,
		Description:     task.Description,
		Status:          string(task.Status),
		SpreadsheetID:   task.Config.SpreadsheetID,
		SheetName:       task.Config.SheetName,
		CurrentStep:     task.CurrentStep,
		TotalSteps:      task.TotalSteps,
		ProgressPercent: task.ProgressPercent(),
		OnFailure:       string(task.Config.OnFailure),
		Error:           task.Error,
		CreatedAt:       task.CreatedAt.UTC(),
	}

	if task.StartedAt != nil {
		utcTime := task.StartedAt.UTC()
		output.StartedAt = &utcTime
	}
	if task.EndedAt != nil {
		utcTime := task.EndedAt.UTC()
		output.EndedAt = &utcTime
	}

	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(output)
}

// PrintResults prints combination results in JSON format.
func (j *JSONPrinter) PrintResults(results []model.TaskResult) error {
	items := make([]resultOutput, len(results))
	for i, r := range results {
		items[i] = resultOutput{
			StepIndex:  r.StepIndex,
			Parameters: r.Parameters,
			Values:     r.Values,
			Success:    r.Success,
			Error:      r.Error,
			Timestamp:  r.Timestamp.UTC(),
		}
	}

	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(items)
}

// PrintLogs prints task log entries in JSON format.
func (j *JSONPrinter) PrintLogs(logs []model.TaskLogEntry) error {
	items := make([]logOutput, len(logs))
	for i, entry := range logs {
		items[i] = logOutput{
			Level:     string(entry.Level),
			Message:   entry.Message,
			Timestamp: entry.Timestamp.UTC(),
		}
	}

	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(items)
}

// PrintSettings prints settings in JSON format.
func (j *JSONPrinter) PrintSettings(settings []model.Setting) error {
	items := make([]settingOutput, len(settings))
	for i, s := range settings {
		items[i] = settingOutput{
			Key:         s.Key,
			Value:       s.Value,
			Description: s.Description,
		}
	}

	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(items)
}

// PrintMessage prints a simple message in JSON format.
func (j *JSONPrinter) PrintMessage(msg string) error {
	output := messageOutput{Message: msg}
	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(output)
}
