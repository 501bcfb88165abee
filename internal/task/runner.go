package task

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"

	"github.com/bilusteknoloji/pixi/internal/pixierr"
	"github.com/bilusteknoloji/pixi/internal/task/shell"
)

// CommandRunner executes one shell stage. It is an injected function, the
// same seam internal/python.CommandRunner provides there, so the engine
// never needs a real process to be tested.
type CommandRunner func(ctx context.Context, argv []string, cwd string, env map[string]string, stdout, stderr io.Writer) error

// DefaultRunner execs argv as a real child process.
func DefaultRunner(ctx context.Context, argv []string, cwd string, env map[string]string, stdout, stderr io.Writer) error {
	if len(argv) == 0 {
		return nil
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = cwd
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Env = flattenEnv(env)

	return cmd.Run()
}

func flattenEnv(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}

	return out
}

// RunCmd parses cmdline into "&&"-chained stages and runs each in order
// through run, stopping at the first failing stage. Extra args (from the
// CLI invocation's trailing arguments) are appended to the final stage.
func RunCmd(ctx context.Context, run CommandRunner, name, cmdline string, cwd string, env map[string]string, extraArgs []string, stdout, stderr io.Writer) error {
	stages, err := shell.Parse(cmdline, env)
	if err != nil {
		return &pixierr.TaskFailed{Task: name, Err: fmt.Errorf("parsing command: %w", err)}
	}

	for i, stage := range stages {
		argv := stage.Argv
		if i == len(stages)-1 {
			argv = append(append([]string{}, argv...), extraArgs...)
		}

		if err := run(ctx, argv, cwd, env, stdout, stderr); err != nil {
			exitCode := exitCodeOf(err)

			return &pixierr.TaskFailed{Task: name, ExitCode: exitCode, Err: err}
		}
	}

	return nil
}

func exitCodeOf(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}

	return -1
}
