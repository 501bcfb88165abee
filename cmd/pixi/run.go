package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/bilusteknoloji/pixi/internal/task"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <task> [args...]",
		Short: "Run a task, activating its environment first",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runRun,
	}

	cmd.Flags().String("platform", "", "Target platform (default: host platform)")

	return cmd
}

// runRun ensures the target environment satisfies the manifest (re-solving
// the lockfile first unless --frozen forbids that, then installing it),
// activates it, and hands the
// requested task and its depends-on closure to the Task Engine.
// Arguments after the task name are appended to the terminal task only.
func runRun(cmd *cobra.Command, args []string) error {
	g := parseGlobalFlags(cmd)
	logger := newLogger(g.verbose)

	taskName := args[0]
	extraArgs := args[1:]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	s, err := loadWorkspace(g, logger)
	if err != nil {
		return err
	}

	platform, err := resolvePlatformFlag(cmd, s.ws)
	if err != nil {
		return err
	}

	eff, err := s.ws.Resolve(g.environment, platform)
	if err != nil {
		return err
	}

	slice, err := resolveAndLock(ctx, s, g.environment, platform)
	if err != nil {
		return err
	}

	if err := ensureInstalled(ctx, s, g.environment, slice, logger); err != nil {
		return err
	}

	prefix := prefixPath(s.ws, g.environment)

	activator := task.NewActivator(task.WithActivatorLogger(logger))

	snapshotPath := filepath.Join(prefix, ".pixi-activation.json")

	snap, err := activator.Activate(prefix, eff.Activation, platform, snapshotPath)
	if err != nil {
		return err
	}

	engine := task.NewEngine(task.WithLogger(logger), task.WithInteractive(s.cfg.Interactive()))

	return engine.Run(ctx, eff.Tasks, task.Invocation{
		Task:      taskName,
		Env:       snap.Env,
		Cwd:       s.ws.Root,
		ExtraArgs: extraArgs,
		Platform:  platform,
	})
}
