package printer_test

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stplan/sheetsweep/internal/model"
	"github.com/stplan/sheetsweep/internal/printer"
)

func testTask() model.Task {
	return model.Task{
		ID:     "01ARZ3NDEKTSV4RRFFQ69G5FAV",
		Name:   "pricing sweep",
		Status: model.TaskStatusRunning,
		Config: model.SweepConfig{
			SpreadsheetID:      "sheet-id",
			SheetName:          "data",
			Parameters:         [][]string{{"1", "2"}, {"10", "20", "30"}},
			ParameterPositions: []string{"B1", "B2"},
			CheckPositions:     []string{"C1"},
			ResultPositions:    []string{"D1"},
			OnFailure:          model.FailurePolicyAbort,
		},
		CurrentStep: 3,
		TotalSteps:  6,
		CreatedAt:   time.Now().UTC().Add(-2 * time.Hour),
	}
}

func TestTablePrinterList(t *testing.T) {
	assert := assert.New(t)

	var buf bytes.Buffer
	p := printer.NewTablePrinter(&buf)

	require.NoError(t, p.PrintList([]model.Task{testTask()}))

	out := buf.String()
	assert.Contains(out, "ID")
	assert.Contains(out, "pricing sweep")
	assert.Contains(out, "running")
	assert.Contains(out, "3/6 (50%)")
	assert.Contains(out, "2 hours ago (UTC)")
}

func TestTablePrinterListEmpty(t *testing.T) {
	var buf bytes.Buffer
	p := printer.NewTablePrinter(&buf)

	require.NoError(t, p.PrintList(nil))

	assert.Empty(t, buf.String())
}

func TestTablePrinterStatus(t *testing.T) {
	assert := assert.New(t)

	var buf bytes.Buffer
	p := printer.NewTablePrinter(&buf)

	task := testTask()
	task.Status = model.TaskStatusError
	task.Error = "calculation did not settle"

	require.NoError(t, p.PrintStatus(task))

	out := buf.String()
	assert.Contains(out, "pricing sweep")
	assert.Contains(out, "sheet-id")
	assert.Contains(out, "2x3 values")
	assert.Contains(out, "B1, B2")
	assert.Contains(out, "calculation did not settle")
}

func TestTablePrinterResults(t *testing.T) {
	assert := assert.New(t)

	var buf bytes.Buffer
	p := printer.NewTablePrinter(&buf)

	require.NoError(t, p.PrintResults([]model.TaskResult{
		{StepIndex: 0, Parameters: []string{"1", "10"}, Values: map[string]string{"D1": "42"}, Success: true},
		{StepIndex: 1, Parameters: []string{"1", "20"}, Error: "calculation did not settle"},
	}))

	out := buf.String()
	assert.Contains(out, "D1=42")
	assert.Contains(out, "failed: calculation did not settle")
}

func TestJSONPrinterList(t *testing.T) {
	assert := assert.New(t)

	var buf bytes.Buffer
	p := printer.NewJSONPrinter(&buf)

	require.NoError(t, p.PrintList([]model.Task{testTask()}))

	var items []map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &items))
	require.Len(t, items, 1)
	assert.Equal("pricing sweep", items[0]["name"])
	assert.Equal("running", items[0]["status"])
	assert.Equal(float64(6), items[0]["total_steps"])
}

func TestJSONPrinterStatus(t *testing.T) {
	assert := assert.New(t)

	var buf bytes.Buffer
	p := printer.NewJSONPrinter(&buf)

	require.NoError(t, p.PrintStatus(testTask()))

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal("sheet-id", out["spreadsheet_id"])
	assert.Equal(float64(50), out["progress_percent"])
	assert.Nil(out["started_at"])
}
