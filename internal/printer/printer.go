package printer

import "github.com/stplan/sheetsweep/internal/model"

// Printer knows how to print sweep task information in different formats.
type Printer interface {
	PrintList(tasks []model.Task) error
	PrintStatus(task model.Task) error
	PrintResults(results []model.TaskResult) error
	PrintLogs(logs []model.TaskLogEntry) error
	PrintSettings(settings []model.Setting) error
	PrintMessage(msg string) error
}
