package printer

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/stplan/sheetsweep/internal/model"
)

// TablePrinter prints sweep task information in a table format.
type TablePrinter struct {
	writer io.Writer
}

// NewTablePrinter creates a new table printer.
func NewTablePrinter(w io.Writer) *TablePrinter {
	return &TablePrinter{writer: w}
}

// PrintList prints tasks in a table format.
func (t *TablePrinter) PrintList(tasks []model.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	// Print header
	fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tPROGRESS\tCREATED")

	// Print rows
	for _, task := range tasks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d (%.0f%%)\t%s\n",
			task.ID, task.Name, task.Status,
			task.CurrentStep, task.TotalSteps, task.ProgressPercent(),
			TimeAgo(task.CreatedAt))
	}

	return nil
}

// PrintStatus prints detailed task status.
func (t *TablePrinter) PrintStatus(task model.Task) error {
	fmt.Fprintf(t.writer, "ID:           %s\n", task.ID)
	fmt.Fprintf(t.writer, "Name:         %s\n", task.Name)
	if task.Description != "" {
		fmt.Fprintf(t.writer, "Description:  %s\n", task.Description)
	}
	fmt.Fprintf(t.writer, "Status:       %s\n", task.Status)
	fmt.Fprintf(t.writer, "Progress:     %d/%d (%.0f%%)\n",
		task.CurrentStep, task.TotalSteps, task.ProgressPercent())
	fmt.Fprintf(t.writer, "Spreadsheet:  %s (worksheet %q)\n",
		task.Config.SpreadsheetID, task.Config.SheetName)
	fmt.Fprintf(t.writer, "Parameters:   %s -> %s\n",
		describeParameters(task.Config.Parameters),
		strings.Join(task.Config.ParameterPositions, ", "))
	fmt.Fprintf(t.writer, "Checks:       %s\n", strings.Join(task.Config.CheckPositions, ", "))
	fmt.Fprintf(t.writer, "Results:      %s\n", strings.Join(task.Config.ResultPositions, ", "))
	fmt.Fprintf(t.writer, "On failure:   %s\n", task.Config.OnFailure)
	fmt.Fprintf(t.writer, "Created:      %s\n", FormatTimestamp(task.CreatedAt))

	if task.StartedAt != nil {
		fmt.Fprintf(t.writer, "Started:      %s\n", FormatTimestamp(*task.StartedAt))
	}
	if task.EndedAt != nil {
		fmt.Fprintf(t.writer, "Ended:        %s\n", FormatTimestamp(*task.EndedAt))
	}
	if task.Error != "" {
		fmt.Fprintf(t.writer, "Error:        %s\n", task.Error)
	}

	return nil
}

func describeParameters(parameters [][]string) string {
	sizes := make([]string, 0, len(parameters))
	for _, values := range parameters {
		sizes = append(sizes, fmt.Sprintf("%d", len(values)))
	}
	return fmt.Sprintf("%s values", strings.Join(sizes, "x"))
}

// PrintResults prints combination results in a table format.
func (t *TablePrinter) PrintResults(results []model.TaskResult) error {
	if len(results) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	// Print header.
	fmt.Fprintln(tw, "STEP\tPARAMETERS\tOUTCOME\tVALUES")

	// Print rows.
	for _, r := range results {
		outcome := "ok"
		if !r.Success {
			outcome = "failed: " + r.Error
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n",
			r.StepIndex+1,
			strings.Join(r.Parameters, ", "),
			outcome,
			formatValues(r.Values),
		)
	}

	return nil
}

func formatValues(values map[string]string) string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%s", key, values[key]))
	}
	return strings.Join(pairs, " ")
}

// PrintLogs prints task log entries.
func (t *TablePrinter) PrintLogs(logs []model.TaskLogEntry) error {
	for _, entry := range logs {
		fmt.Fprintf(t.writer, "%s [%s] %s\n",
			FormatTimestamp(entry.Timestamp), entry.Level, entry.Message)
	}
	return nil
}

// PrintSettings prints settings in a table format.
func (t *TablePrinter) PrintSettings(settings []model.Setting) error {
	if len(settings) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	// Print header.
	fmt.Fprintln(tw, "KEY\tVALUE\tDESCRIPTION")

	// Print rows.
	for _, s := range settings {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Key, s.Value, s.Description)
	}

	return nil
}

// PrintMessage prints a simple text message.
func (t *TablePrinter) PrintMessage(msg string) error {
	fmt.Fprintln(t.writer, msg)
	return nil
}
