package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"
)

type TaskCancelCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	taskID string
}

// NewTaskCancelCommand returns the task cancel command.
func NewTaskCancelCommand(rootCmd *RootCommand, parent *TaskCommand) *TaskCancelCommand {
	c := &TaskCancelCommand{rootCmd: rootCmd}

	c.Cmd = parent.Cmd.Command("cancel", "Cancel a pending or running sweep task.")
	c.Cmd.Arg("task-id", "Task ID.").Required().StringVar(&c.taskID)

	return c
}

func (c TaskCancelCommand) Name() string { return c.Cmd.FullCommand() }

func (c TaskCancelCommand) Run(ctx context.Context) error {
	deps, err := newAppDeps(ctx, c.rootCmd)
	if err != nil {
		return err
	}

	// Cancellation is stored on the task row, so a run owned by another
	// process picks it up on its next combination.
	if err := deps.Manager.Cancel(ctx, c.taskID); err != nil {
		return fmt.Errorf("could not cancel task: %w", err)
	}

	fmt.Fprintf(c.rootCmd.Stdout, "Task %s cancelled\n", c.taskID)
	return nil
}
