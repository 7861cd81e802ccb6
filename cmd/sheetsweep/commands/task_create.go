package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/alecthomas/kingpin/v2"

	"github.com/stplan/sheetsweep/internal/manager"
	storageio "github.com/stplan/sheetsweep/internal/storage/io"
)

type TaskCreateCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	file  string
	start bool
}

// NewTaskCreateCommand returns the task create command.
func NewTaskCreateCommand(rootCmd *RootCommand, parent *TaskCommand) *TaskCreateCommand {
	c := &TaskCreateCommand{rootCmd: rootCmd}

	c.Cmd = parent.Cmd.Command("create", "Create a new sweep task from a YAML definition.")
	c.Cmd.Flag("file", "Path to the task definition YAML file.").Short('f').Required().StringVar(&c.file)
	c.Cmd.Flag("start", "Start the task right after creating it.").BoolVar(&c.start)

	return c
}

func (c TaskCreateCommand) Name() string { return c.Cmd.FullCommand() }

func (c TaskCreateCommand) Run(ctx context.Context) error {
	// Load and validate the definition before touching storage.
	absPath, err := filepath.Abs(c.file)
	if err != nil {
		return fmt.Errorf("invalid file path: %w", err)
	}
	taskRepo := storageio.NewTaskYAMLRepository(os.DirFS(filepath.Dir(absPath)))
	def, err := taskRepo.GetTaskDefinition(ctx, filepath.Base(absPath))
	if err != nil {
		return fmt.Errorf("could not load task definition: %w", err)
	}

	deps, err := newAppDeps(ctx, c.rootCmd)
	if err != nil {
		return err
	}

	task, err := deps.Manager.Create(ctx, manager.CreateRequest{
		Name:        def.Name,
		Description: def.Description,
		Config:      def.Config,
	})
	if err != nil {
		return fmt.Errorf("could not create task: %w", err)
	}

	fmt.Fprintf(c.rootCmd.Stdout, "Task created successfully!\n")
	fmt.Fprintf(c.rootCmd.Stdout, "  ID:           %s\n", task.ID)
	fmt.Fprintf(c.rootCmd.Stdout, "  Name:         %s\n", task.Name)
	fmt.Fprintf(c.rootCmd.Stdout, "  Combinations: %d\n", task.TotalSteps)

	if !c.start {
		return nil
	}

	if err := deps.Manager.Start(ctx, task.ID); err != nil {
		return fmt.Errorf("could not start task: %w", err)
	}
	fmt.Fprintf(c.rootCmd.Stdout, "Task %s started\n", task.ID)
	deps.Manager.Wait()

	return nil
}
