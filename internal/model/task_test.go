package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stplan/sheetsweep/internal/model"
)

func validConfig(mutate func(c *model.SweepConfig)) model.SweepConfig {
	c := model.SweepConfig{
		SpreadsheetID:      "sheet-id",
		SheetName:          "data",
		Parameters:         [][]string{{"1", "2"}, {"10", "20", "30"}},
		ParameterPositions: []string{"B1", "B2"},
		CheckPositions:     []string{"C1"},
		ResultPositions:    []string{"D1"},
		DelayMinSeconds:    20,
		DelayMaxSeconds:    30,
		MaxPollAttempts:    60,
		OnFailure:          model.FailurePolicyAbort,
	}
	if mutate != nil {
		mutate(&c)
	}
	return c
}

func TestSweepConfigValidate(t *testing.T) {
	tests := map[string]struct {
		mutate func(c *model.SweepConfig)
		expErr bool
	}{
		"A complete config should be valid.": {},

		"A config without spreadsheet id should fail.": {
			mutate: func(c *model.SweepConfig) { c.SpreadsheetID = "" },
			expErr: true,
		},

		"A config without parameters should fail.": {
			mutate: func(c *model.SweepConfig) { c.Parameters = nil },
			expErr: true,
		},

		"A config with an empty parameter list should fail.": {
			mutate: func(c *model.SweepConfig) { c.Parameters = [][]string{{"1"}, {}} },
			expErr: true,
		},

		"A config with mismatched parameter positions should fail.": {
			mutate: func(c *model.SweepConfig) { c.ParameterPositions = []string{"B1"} },
			expErr: true,
		},

		"A config without check positions should fail.": {
			mutate: func(c *model.SweepConfig) { c.CheckPositions = nil },
			expErr: true,
		},

		"A config without result positions should fail.": {
			mutate: func(c *model.SweepConfig) { c.ResultPositions = nil },
			expErr: true,
		},

		"A config with inverted delay bounds should fail.": {
			mutate: func(c *model.SweepConfig) { c.DelayMinSeconds = 30; c.DelayMaxSeconds = 20 },
			expErr: true,
		},

		"A config with a negative start index should fail.": {
			mutate: func(c *model.SweepConfig) { c.StartIndex = -1 },
			expErr: true,
		},

		"A config with an unknown failure policy should fail.": {
			mutate: func(c *model.SweepConfig) { c.OnFailure = "explode" },
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			c := validConfig(test.mutate)
			err := c.Validate()

			if test.expErr {
				assert.ErrorIs(t, err, model.ErrNotValid)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSweepConfigDefaults(t *testing.T) {
	assert := assert.New(t)

	c := model.SweepConfig{SpreadsheetID: "sheet-id"}
	c.Defaults()

	assert.Equal("data", c.SheetName)
	assert.Equal(20, c.DelayMinSeconds)
	assert.Equal(30, c.DelayMaxSeconds)
	assert.Equal(60, c.MaxPollAttempts)
	assert.Equal(model.FailurePolicyAbort, c.OnFailure)
}

func TestSweepConfigTotalSteps(t *testing.T) {
	tests := map[string]struct {
		parameters [][]string
		expTotal   int
	}{
		"No parameters should mean zero steps.":      {parameters: nil, expTotal: 0},
		"A single list should count its own values.": {parameters: [][]string{{"1", "2", "3"}}, expTotal: 3},
		"Lists should multiply.":                     {parameters: [][]string{{"1", "2"}, {"10", "20", "30"}}, expTotal: 6},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			c := validConfig(func(c *model.SweepConfig) { c.Parameters = test.parameters })
			assert.Equal(t, test.expTotal, c.TotalSteps())
		})
	}
}

func TestTaskStatusTerminal(t *testing.T) {
	tests := map[string]struct {
		status      model.TaskStatus
		expTerminal bool
	}{
		"Pending is not terminal.":  {status: model.TaskStatusPending},
		"Running is not terminal.":  {status: model.TaskStatusRunning},
		"Completed is terminal.":    {status: model.TaskStatusCompleted, expTerminal: true},
		"Cancelled is terminal.":    {status: model.TaskStatusCancelled, expTerminal: true},
		"Error is terminal.":        {status: model.TaskStatusError, expTerminal: true},
		"Unknown is not terminal.":  {status: model.TaskStatus("weird")},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.expTerminal, test.status.Terminal())
		})
	}
}

func TestTaskProgressPercent(t *testing.T) {
	tests := map[string]struct {
		task       model.Task
		expPercent float64
	}{
		"A task without steps reports zero.":   {task: model.Task{}, expPercent: 0},
		"A halfway task reports fifty.":        {task: model.Task{CurrentStep: 3, TotalSteps: 6}, expPercent: 50},
		"A finished task reports one hundred.": {task: model.Task{CurrentStep: 6, TotalSteps: 6}, expPercent: 100},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.InDelta(t, test.expPercent, test.task.ProgressPercent(), 0.001)
		})
	}
}
