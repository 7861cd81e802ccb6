package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"
)

type TaskRunCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	taskID string
}

// NewTaskRunCommand returns the task run command.
func NewTaskRunCommand(rootCmd *RootCommand, parent *TaskCommand) *TaskRunCommand {
	c := &TaskRunCommand{rootCmd: rootCmd}

	c.Cmd = parent.Cmd.Command("run", "Run a sweep task synchronously in the foreground.")
	c.Cmd.Arg("task-id", "Task ID.").Required().StringVar(&c.taskID)

	return c
}

func (c TaskRunCommand) Name() string { return c.Cmd.FullCommand() }

func (c TaskRunCommand) Run(ctx context.Context) error {
	deps, err := newAppDeps(ctx, c.rootCmd)
	if err != nil {
		return err
	}

	outcome, err := deps.Runner.Run(ctx, c.taskID)
	if err != nil {
		return fmt.Errorf("sweep run failed: %w", err)
	}

	fmt.Fprintf(c.rootCmd.Stdout, "Sweep finished with status %s\n", outcome.Status)
	fmt.Fprintf(c.rootCmd.Stdout, "  Succeeded: %d\n", outcome.Succeeded)
	fmt.Fprintf(c.rootCmd.Stdout, "  Failed:    %d\n", outcome.Failed)

	return nil
}
