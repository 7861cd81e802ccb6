package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/stplan/sheetsweep/internal/model"
	"github.com/stplan/sheetsweep/internal/storage/sqlite"
)

type ConfigSetCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	key   string
	value string
}

// NewConfigSetCommand returns the config set command.
func NewConfigSetCommand(rootCmd *RootCommand, parent *ConfigCommand) *ConfigSetCommand {
	c := &ConfigSetCommand{rootCmd: rootCmd}

	c.Cmd = parent.Cmd.Command("set", "Set the value of a setting.")
	c.Cmd.Arg("key", "Setting key.").Required().StringVar(&c.key)
	c.Cmd.Arg("value", "Setting value.").Required().StringVar(&c.value)

	return c
}

func (c ConfigSetCommand) Name() string { return c.Cmd.FullCommand() }

func (c ConfigSetCommand) Run(ctx context.Context) error {
	repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
		DBPath: c.rootCmd.DBPath,
		Logger: c.rootCmd.Logger,
	})
	if err != nil {
		return fmt.Errorf("could not create repository: %w", err)
	}

	if err := repo.SetSetting(ctx, model.Setting{Key: c.key, Value: c.value}); err != nil {
		return fmt.Errorf("could not set setting: %w", err)
	}

	fmt.Fprintf(c.rootCmd.Stdout, "Setting %s updated\n", c.key)
	return nil
}
