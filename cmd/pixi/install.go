package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
)

func newInstallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Solve the workspace manifest and bring its prefix up to date",
		Args:  cobra.NoArgs,
		RunE:  runInstall,
	}

	cmd.Flags().String("platform", "", "Target platform (default: host platform)")

	return cmd
}

func runInstall(cmd *cobra.Command, _ []string) error {
	start := time.Now()

	g := parseGlobalFlags(cmd)
	logger := newLogger(g.verbose)

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

	slice, err := resolveAndLock(ctx, s, g.environment, platform)
	if err != nil {
		return err
	}

	if err := ensureInstalled(ctx, s, g.environment, slice, logger); err != nil {
		return err
	}

	prefix := prefixPath(s.ws, g.environment)

	fmt.Printf("Installed %d packages into %s (%s)\n", len(slice.Records), prefix, time.Since(start).Round(time.Millisecond))

	return nil
}
