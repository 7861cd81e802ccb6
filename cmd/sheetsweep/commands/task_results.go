package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/stplan/sheetsweep/internal/storage/sqlite"
)

type TaskResultsCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	taskID string
	format string
}

// NewTaskResultsCommand returns the task results command.
func NewTaskResultsCommand(rootCmd *RootCommand, parent *TaskCommand) *TaskResultsCommand {
	c := &TaskResultsCommand{rootCmd: rootCmd}

	c.Cmd = parent.Cmd.Command("results", "Show the harvested results of a sweep task.")
	c.Cmd.Arg("task-id", "Task ID.").Required().StringVar(&c.taskID)
	c.Cmd.Flag("format", "Output format (table, json).").Default("table").EnumVar(&c.format, "table", "json")

	return c
}

func (c TaskResultsCommand) Name() string { return c.Cmd.FullCommand() }

func (c TaskResultsCommand) Run(ctx context.Context) error {
	repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
		DBPath: c.rootCmd.DBPath,
		Logger: c.rootCmd.Logger,
	})
	if err != nil {
		return fmt.Errorf("could not create repository: %w", err)
	}

	// Fail with a proper not found error instead of printing an empty table.
	if _, err := repo.GetTask(ctx, c.taskID); err != nil {
		return fmt.Errorf("could not get task: %w", err)
	}

	results, err := repo.ListResults(ctx, c.taskID)
	if err != nil {
		return fmt.Errorf("could not list results: %w", err)
	}

	p := newPrinter(c.format, c.rootCmd)
	if err := p.PrintResults(results); err != nil {
		return fmt.Errorf("could not print results: %w", err)
	}

	return nil
}
