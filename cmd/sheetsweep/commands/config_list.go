package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/stplan/sheetsweep/internal/storage/sqlite"
)

type ConfigListCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	format string
}

// NewConfigListCommand returns the config list command.
func NewConfigListCommand(rootCmd *RootCommand, parent *ConfigCommand) *ConfigListCommand {
	c := &ConfigListCommand{rootCmd: rootCmd}

	c.Cmd = parent.Cmd.Command("list", "List all settings.")
	c.Cmd.Flag("format", "Output format (table, json).").Default("table").EnumVar(&c.format, "table", "json")

	return c
}

func (c ConfigListCommand) Name() string { return c.Cmd.FullCommand() }

func (c ConfigListCommand) Run(ctx context.Context) error {
	repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
		DBPath: c.rootCmd.DBPath,
		Logger: c.rootCmd.Logger,
	})
	if err != nil {
		return fmt.Errorf("could not create repository: %w", err)
	}

	list, err := repo.ListSettings(ctx)
	if err != nil {
		return fmt.Errorf("could not list settings: %w", err)
	}

	p := newPrinter(c.format, c.rootCmd)
	if err := p.PrintSettings(list); err != nil {
		return fmt.Errorf("could not print settings: %w", err)
	}

	return nil
}
