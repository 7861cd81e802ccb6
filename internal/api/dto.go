package api

import (
	"time"

	"github.com/stplan/sheetsweep/internal/manager"
	"github.com/stplan/sheetsweep/internal/model"
)

type sweepConfigDTO struct {
	SpreadsheetID      string     `json:"spreadsheet_id"`
	SheetName          string     `json:"sheet_name,omitempty"`
	TokenFile          string     `json:"token_file,omitempty"`
	ProxyURL           string     `json:"proxy_url,omitempty"`
	Parameters         [][]string `json:"parameters"`
	ParameterPositions []string   `json:"parameter_positions"`
	CheckPositions     []string   `json:"check_positions"`
	ResultPositions    []string   `json:"result_positions"`
	DelayMinSeconds    int        `json:"execution_delay_min,omitempty"`
	DelayMaxSeconds    int        `json:"execution_delay_max,omitempty"`
	MaxPollAttempts    int        `json:"max_poll_attempts,omitempty"`
	StartIndex         int        `json:"start_index,omitempty"`
	OnFailure          string     `json:"on_failure,omitempty"`
}

func (d sweepConfigDTO) toModel() model.SweepConfig {
	return model.SweepConfig{
		SpreadsheetID:      d.SpreadsheetID,
		SheetName:          d.SheetName,
		TokenFile:          d.TokenFile,
		ProxyURL:           d.ProxyURL,
		Parameters:         d.Parameters,
		ParameterPositions: d.ParameterPositions,
		CheckPositions:     d.CheckPositions,
		ResultPositions:    d.ResultPositions,
		DelayMinSeconds:    d.DelayMinSeconds,
		DelayMaxSeconds:    d.DelayMaxSeconds,
		MaxPollAttempts:    d.MaxPollAttempts,
		StartIndex:         d.StartIndex,
		OnFailure:          model.FailurePolicy(d.OnFailure),
	}
}

func newSweepConfigDTO(c model.SweepConfig) sweepConfigDTO {
	return sweepConfigDTO{
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
}

type createTaskRequest struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Config      sweepConfigDTO `json:"config"`
}

type taskResponse struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Description     string         `json:"description,omitempty"`
	Kind            string         `json:"kind"`
	Status          string         `json:"status"`
	Config          sweepConfigDTO `json:"config"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	EndedAt         *time.Time     `json:"ended_at,omitempty"`
	CurrentStep     int            `json:"current_step"`
	TotalSteps      int            `json:"total_steps"`
	ProgressPercent float64        `json:"progress_percent"`
	Error           string         `json:"error,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func newTaskResponse(t *model.Task) taskResponse {
	return taskResponse{
		ID:              t.ID,
		Name:            t.Name,
		Description:     t.Description,
		Kind:            string(t.Kind),
		Status:          string(t.Status),
		Config:          newSweepConfigDTO(t.Config),
		StartedAt:       t.StartedAt,
		EndedAt:         t.EndedAt,
		CurrentStep:     t.CurrentStep,
		TotalSteps:      t.TotalSteps,
		ProgressPercent: t.ProgressPercent(),
		Error:           t.Error,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}

type logResponse struct {
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type resultResponse struct {
	StepIndex  int               `json:"step_index"`
	Parameters []string          `json:"parameters"`
	Values     map[string]string `json:"values"`
	Success    bool              `json:"success"`
	Error      string            `json:"error,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

type settingRequest struct {
	Key         string `json:"key"`
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
}

type settingResponse struct {
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	Description string    `json:"description,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type eventResponse struct {
	Type        string       `json:"type"`
	TaskID      string       `json:"task_id"`
	Log         *logResponse `json:"log,omitempty"`
	CurrentStep int          `json:"current_step,omitempty"`
	TotalSteps  int          `json:"total_steps,omitempty"`
	Status      string       `json:"status,omitempty"`
}

func newEventResponse(e manager.Event) eventResponse {
	resp := eventResponse{
		Type:        string(e.Type),
		TaskID:      e.TaskID,
		CurrentStep: e.CurrentStep,
		TotalSteps:  e.TotalSteps,
		Status:      string(e.Status),
	}
	if e.Log != nil {
		resp.Log = &logResponse{
			Level:     string(e.Log.Level),
			Message:   e.Log.Message,
			Timestamp: e.Log.Timestamp,
		}
	}
	return resp
}
