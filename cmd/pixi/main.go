package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bilusteknoloji/pixi/internal/pixierr"
)

var version = "0.0.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps an error to the process exit code: 130 for a user
// interrupt, 1 for user-correctable errors (bad manifest, stale lockfile,
// failed task), 2 for everything else.
func exitCodeFor(err error) int {
	var cancelled *pixierr.Cancelled
	if errors.As(err, &cancelled) || errors.Is(err, context.Canceled) {
		return 130
	}

	var (
		manifestErr *pixierr.ManifestError
		staleErr    *pixierr.LockfileStale
		taskErr     *pixierr.TaskFailed
		noSolution  *pixierr.NoSolution
		groupErr    *pixierr.SolveGroupConflict
	)

	if errors.As(err, &manifestErr) || errors.As(err, &staleErr) ||
		errors.As(err, &taskErr) || errors.As(err, &noSolution) || errors.As(err, &groupErr) {
		return 1
	}

	return 2
}

func run() error {
	rootCmd := &cobra.Command{
		Use:           "pixi",
		Short:         "A fast, cross-platform workspace and package manager",
		Long:          "pixi manages conda and PyPI dependencies for reproducible, multi-platform workspaces.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("manifest-path", "", ".", "Path to the workspace root or manifest file")
	rootCmd.PersistentFlags().StringP("environment", "e", "default", "Environment to operate on")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().Bool("frozen", false, "Use the lockfile as-is, never touch the network")
	rootCmd.PersistentFlags().Bool("locked", false, "Require the lockfile to already satisfy the manifest")

	rootCmd.AddCommand(newInstallCmd())
	rootCmd.AddCommand(newLockCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newTreeCmd())

	return rootCmd.Execute()
}

func newLogger(verbose bool) *slog.Logger {
	logLevel := slog.LevelWarn
	if verbose {
		logLevel = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}

// globalFlags holds the persistent flags shared by every subcommand.
type globalFlags struct {
	manifestPath string
	environment  string
	verbose      bool
	frozen       bool
	locked       bool
}

func parseGlobalFlags(cmd *cobra.Command) globalFlags {
	manifestPath, _ := cmd.Flags().GetString("manifest-path")
	environment, _ := cmd.Flags().GetString("environment")
	verbose, _ := cmd.Flags().GetBool("verbose")
	frozen, _ := cmd.Flags().GetBool("frozen")
	locked, _ := cmd.Flags().GetBool("locked")

	return globalFlags{manifestPath, environment, verbose, frozen, locked}
}
