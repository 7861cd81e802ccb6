package commands

import (
	"github.com/alecthomas/kingpin/v2"
)

// TaskCommand is the parent command for sweep task subcommands.
type TaskCommand struct {
	Cmd *kingpin.CmdClause
}

// NewTaskCommand returns the task parent command.
func NewTaskCommand(app *kingpin.Application) *TaskCommand {
	c := &TaskCommand{}
	c.Cmd = app.Command("task", "Manage sweep tasks.")
	return c
}
