package commands

import (
	"github.com/alecthomas/kingpin/v2"
)

// ConfigCommand is the parent command for settings management subcommands.
type ConfigCommand struct {
	Cmd *kingpin.CmdClause
}

// NewConfigCommand returns the config parent command.
func NewConfigCommand(app *kingpin.Application) *ConfigCommand {
	c := &ConfigCommand{}
	c.Cmd = app.Command("config", "Manage application settings.")
	return c
}
