package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/stplan/sheetsweep/internal/model"
	"github.com/stplan/sheetsweep/internal/settings"
	"github.com/stplan/sheetsweep/internal/storage/sqlite"
)

type ConfigInitCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	force bool
}

// NewConfigInitCommand returns the config init command.
func NewConfigInitCommand(rootCmd *RootCommand, parent *ConfigCommand) *ConfigInitCommand {
	c := &ConfigInitCommand{rootCmd: rootCmd}

	c.Cmd = parent.Cmd.Command("init", "Seed the settings store with defaults.")
	c.Cmd.Flag("force", "Overwrite settings that already have a value.").BoolVar(&c.force)

	return c
}

func (c ConfigInitCommand) Name() string { return c.Cmd.FullCommand() }

func (c ConfigInitCommand) Run(ctx context.Context) error {
	repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
		DBPath: c.rootCmd.DBPath,
		Logger: c.rootCmd.Logger,
	})
	if err != nil {
		return fmt.Errorf("could not create repository: %w", err)
	}

	seeded := 0
	for _, s := range settings.Defaults() {
		if !c.force {
			_, err := repo.GetSetting(ctx, s.Key)
			if err == nil {
				continue // Keep the operator's value.
			}
			if !errors.Is(err, model.ErrNotFound) {
				return fmt.Errorf("could not check setting %s: %w", s.Key, err)
			}
		}

		if err := repo.SetSetting(ctx, s); err != nil {
			return fmt.Errorf("could not seed setting %s: %w", s.Key, err)
		}
		seeded++
	}

	fmt.Fprintf(c.rootCmd.Stdout, "Seeded %d settings (database: %s)\n", seeded, c.rootCmd.DBPath)
	return nil
}
