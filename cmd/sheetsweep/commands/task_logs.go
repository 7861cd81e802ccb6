package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/stplan/sheetsweep/internal/storage/sqlite"
)

type TaskLogsCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	taskID string
	format string
}

// NewTaskLogsCommand returns the task logs command.
func NewTaskLogsCommand(rootCmd *RootCommand, parent *TaskCommand) *TaskLogsCommand {
	c := &TaskLogsCommand{rootCmd: rootCmd}

	c.Cmd = parent.Cmd.Command("logs", "Show the execution log of a sweep task.")
	c.Cmd.Arg("task-id", "Task ID.").Required().StringVar(&c.taskID)
	c.Cmd.Flag("format", "Output format (table, json).").Default("table").EnumVar(&c.format, "table", "json")

	return c
}

func (c TaskLogsCommand) Name() string { return c.Cmd.FullCommand() }

func (c TaskLogsCommand) Run(ctx context.Context) error {
	repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
		DBPath: c.rootCmd.DBPath,
		Logger: c.rootCmd.Logger,
	})
	if err != nil {
		return fmt.Errorf("could not create repository: %w", err)
	}

	if _, err := repo.GetTask(ctx, c.taskID); err != nil {
		return fmt.Errorf("could not get task: %w", err)
	}

	logs, err := repo.ListLogs(ctx, c.taskID)
	if err != nil {
		return fmt.Errorf("could not list logs: %w", err)
	}

	p := newPrinter(c.format, c.rootCmd)
	if err := p.PrintLogs(logs); err != nil {
		return fmt.Errorf("could not print logs: %w", err)
	}

	return nil
}
