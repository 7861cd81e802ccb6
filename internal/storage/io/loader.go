package io

import (
	"context"
	"fmt"
	"io/fs"

	"gopkg.in/yaml.v3"

	"github.com/stplan/sheetsweep/internal/model"
)

// TaskYAMLRepository loads sweep task definitions from YAML files.
type TaskYAMLRepository struct {
	fs fs.FS
}

// NewTaskYAMLRepository creates a new YAML task definition repository.
func NewTaskYAMLRepository(filesystem fs.FS) *TaskYAMLRepository {
	return &TaskYAMLRepository{fs: filesystem}
}

// TaskDefinition is a parsed sweep task definition.
type TaskDefinition struct {
	Name        string
	Description string
	Config      model.SweepConfig
}

// GetTaskDefinition loads a sweep task definition from a YAML file and
// returns a validated domain config.
func (r *TaskYAMLRepository) GetTaskDefinition(ctx context.Context, path string) (TaskDefinition, error) {
	data, err := fs.ReadFile(r.fs, path)
	if err != nil {
		return TaskDefinition{}, fmt.Errorf("reading task file: %w", err)
	}

	if ctx.Err() != nil {
		return TaskDefinition{}, ctx.Err()
	}

	var def taskDefinitionYAML
	if err := yaml.Unmarshal(data, &def); err != nil {
		return TaskDefinition{}, fmt.Errorf("parsing YAML: %w", err)
	}

	if def.Name == "" {
		return TaskDefinition{}, fmt.Errorf("invalid task definition: name is required")
	}

	cfg := def.Sweep.toModel()
	cfg.Defaults()
	if err := cfg.Validate(); err != nil {
		return TaskDefinition{}, fmt.Errorf("invalid task definition: %w", err)
	}

	return TaskDefinition{
		Name:        def.Name,
		Description: def.Description,
		Config:      cfg,
	}, nil
}

// taskDefinitionYAML represents the YAML structure of a task definition.
type taskDefinitionYAML struct {
	Name        string          `yaml:"name"`
	Description string          `yaml:"description"`
	Sweep       sweepConfigYAML `yaml:"sweep"`
}

// sweepConfigYAML represents the YAML structure of the sweep configuration.
type sweepConfigYAML struct {
	SpreadsheetID      string     `yaml:"spreadsheet_id"`
	SheetName          string     `yaml:"sheet_name"`
	TokenFile          string     `yaml:"token_file"`
	ProxyURL           string     `yaml:"proxy_url"`
	Parameters         [][]string `yaml:"parameters"`
	ParameterPositions []string   `yaml:"parameter_positions"`
	CheckPositions     []string   `yaml:"check_positions"`
	ResultPositions    []string   `yaml:"result_positions"`
	DelayMinSeconds    int        `yaml:"execution_delay_min"`
	DelayMaxSeconds    int        `yaml:"execution_delay_max"`
	MaxPollAttempts    int        `yaml:"max_poll_attempts"`
	StartIndex         int        `yaml:"start_index"`
	OnFailure          string     `yaml:"on_failure"`
}

func (c sweepConfigYAML) toModel() model.SweepConfig {
	return model.SweepConfig{
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
		OnFailure:          model.FailurePolicy(c.OnFailure),
	}
}
