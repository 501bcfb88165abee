// Package task implements the Task Engine: a DAG of named
// commands wired by `depends-on`, run through a portable shell
// (internal/task/shell) under an activated environment, with parallel
// execution of independent branches and cooperative cancellation.
package task

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bilusteknoloji/pixi/internal/manifest"
	"github.com/bilusteknoloji/pixi/internal/pixierr"
	"github.com/bilusteknoloji/pixi/internal/spec"
	"golang.org/x/sync/errgroup"
)

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithRunner overrides how commands are executed, for testing the DAG
// scheduler without spawning real processes.
func WithRunner(r CommandRunner) EngineOption {
	return func(e *Engine) {
		if r != nil {
			e.runner = r
		}
	}
}

// WithStdio sets the stdout/stderr every task's output is written to.
func WithStdio(stdout, stderr io.Writer) EngineOption {
	return func(e *Engine) {
		if stdout != nil {
			e.stdout = stdout
		}

		if stderr != nil {
			e.stderr = stderr
		}
	}
}

// WithInteractive controls whether Run announces each task with a
// line-buffered banner before executing it. A non-interactive destination
// (piped stdout, CI logs) gets an explicit "> task" line; an interactive
// terminal is left to the child command's own output.
func WithInteractive(interactive bool) EngineOption {
	return func(e *Engine) {
		e.interactive = interactive
	}
}

// Engine runs a task DAG drawn from one EffectiveFeatureSet.
// Tasks are already guaranteed acyclic by manifest load-time validation
// (manifest.Workspace.validateCycles); the engine trusts that and builds a
// plain dependency graph.
type Engine struct {
	runner      CommandRunner
	logger      *slog.Logger
	stdout      io.Writer
	stderr      io.Writer
	interactive bool
}

// NewEngine constructs an Engine.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		runner: DefaultRunner,
		logger: slog.Default(),
		stdout: os.Stdout,
		stderr: os.Stderr,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Invocation names one task to run, the base environment it and its
// dependency closure execute under, and CLI arguments appended to the
// terminal task only.
type Invocation struct {
	Task      string
	Env       map[string]string
	Cwd       string
	ExtraArgs []string
	Platform  spec.Platform
}

// Run executes inv.Task and its full depends-on closure, scheduling
// independent branches concurrently and stopping the whole run at the first
// failure. A context cancellation (e.g. SIGINT at the top level) surfaces as
// pixierr.Cancelled once in-flight tasks have wound down.
func (e *Engine) Run(ctx context.Context, tasks map[string]*manifest.Task, inv Invocation) error {
	closure, order, err := closureFor(tasks, inv.Task, inv.Platform)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	done := make(map[string]chan struct{}, len(order))
	for _, name := range order {
		done[name] = make(chan struct{})
	}

	var mu sync.Mutex

	failed := false

	for _, name := range order {
		name := name
		t := closure[name]

		g.Go(func() error {
			for _, dep := range t.DependsOn {
				select {
				case <-done[dep]:
				case <-gctx.Done():
					return &pixierr.Cancelled{Reason: "dependency " + dep + " did not complete"}
				}
			}

			defer close(done[name])

			mu.Lock()
			if failed {
				mu.Unlock()

				return nil
			}
			mu.Unlock()

			select {
			case <-gctx.Done():
				return &pixierr.Cancelled{Reason: gctx.Err().Error()}
			default:
			}

			extra := []string{}
			if name == inv.Task {
				extra = inv.ExtraArgs
			}

			cwd := t.Cwd
			if cwd == "" {
				cwd = inv.Cwd
			}

			if upToDate(cwd, t.Inputs, t.Outputs) {
				e.logger.Debug("task outputs up to date, skipping", slog.String("task", name))

				if !e.interactive {
					fmt.Fprintf(e.stdout, "> %s (cached)\n", name)
				}

				return nil
			}

			cmdline, extra, expandErr := expandTaskArgs(t, extra)
			if expandErr != nil {
				mu.Lock()
				failed = true
				mu.Unlock()

				return &pixierr.TaskFailed{Task: name, Err: expandErr}
			}

			e.logger.Debug("running task", slog.String("task", name))

			if !e.interactive {
				fmt.Fprintf(e.stdout, "> %s\n", name)
			}

			base := inv.Env
			if t.CleanEnv {
				base = nil
			}

			env := mergeEnv(base, t.Env)

			if runErr := RunCmd(gctx, e.runner, name, cmdline, cwd, env, extra, e.stdout, e.stderr); runErr != nil {
				mu.Lock()
				failed = true
				mu.Unlock()

				return runErr
			}

			return nil
		})
	}

	return g.Wait()
}

// closureFor resolves name's transitive depends-on closure filtered by
// platform (a task restricted to other platforms is dropped, along with its
// private edges) and returns it alongside a dependency-respecting
// topological order for deterministic, race-free channel setup.
func closureFor(tasks map[string]*manifest.Task, name string, platform spec.Platform) (map[string]*manifest.Task, []string, error) {
	root, ok := tasks[name]
	if !ok {
		return nil, nil, fmt.Errorf("unknown task %q", name)
	}

	if !taskAppliesTo(root, platform) {
		return nil, nil, fmt.Errorf("task %q does not apply to platform %s", name, platform)
	}

	closure := map[string]*manifest.Task{}

	var visit func(n string) error

	visit = func(n string) error {
		if _, ok := closure[n]; ok {
			return nil
		}

		t, ok := tasks[n]
		if !ok {
			return fmt.Errorf("unknown task %q", n)
		}

		closure[n] = t

		for _, dep := range t.DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}

		return nil
	}

	if err := visit(name); err != nil {
		return nil, nil, err
	}

	order, err := topoSort(closure)
	if err != nil {
		return nil, nil, err
	}

	return closure, order, nil
}

func taskAppliesTo(t *manifest.Task, platform spec.Platform) bool {
	if len(t.Platforms) == 0 {
		return true
	}

	for _, p := range t.Platforms {
		if p == platform {
			return true
		}
	}

	return false
}

// topoSort orders closure's names so every dependency precedes its
// dependents, breaking ties alphabetically for determinism.
func topoSort(closure map[string]*manifest.Task) ([]string, error) {
	visited := map[string]int{} // 0 unvisited, 1 in-progress, 2 done

	var order []string

	names := make([]string, 0, len(closure))
	for n := range closure {
		names = append(names, n)
	}

	sort.Strings(names)

	var visit func(n string) error

	visit = func(n string) error {
		switch visited[n] {
		case 2:
			return nil
		case 1:
			return fmt.Errorf("cycle detected at task %q", n)
		}

		visited[n] = 1

		deps := append([]string{}, closure[n].DependsOn...)
		sort.Strings(deps)

		for _, dep := range deps {
			if err := visit(dep); err != nil {
				return err
			}
		}

		visited[n] = 2

		order = append(order, n)

		return nil
	}

	for _, n := range names {
		if err := visit(n); err != nil {
			return nil, err
		}
	}

	return order, nil
}

// expandTaskArgs binds positional CLI arguments to the task's declared
// `args` list and substitutes each `{{ name }}` placeholder in Cmd. A
// declared arg with no value and no default is an error; CLI arguments past
// the declared list stay appended to the command.
func expandTaskArgs(t *manifest.Task, extra []string) (string, []string, error) {
	if len(t.Args) == 0 {
		return t.Cmd, extra, nil
	}

	cmd := t.Cmd

	for i, a := range t.Args {
		var value string

		switch {
		case i < len(extra):
			value = extra[i]
		case a.Default != nil:
			value = *a.Default
		default:
			return "", nil, fmt.Errorf("task %q: missing required argument %q", t.Name, a.Arg)
		}

		cmd = strings.ReplaceAll(cmd, "{{ "+a.Arg+" }}", value)
		cmd = strings.ReplaceAll(cmd, "{{"+a.Arg+"}}", value)
	}

	if len(extra) > len(t.Args) {
		return cmd, extra[len(t.Args):], nil
	}

	return cmd, nil, nil
}

// upToDate reports whether a task declaring both inputs and outputs can be
// skipped: every output glob matches at least one file and no input file is
// newer than the oldest output.
func upToDate(cwd string, inputs, outputs []string) bool {
	if len(inputs) == 0 || len(outputs) == 0 {
		return false
	}

	newestInput, ok := globMtime(cwd, inputs, time.Time.After)
	if !ok {
		return false
	}

	oldestOutput, ok := globMtime(cwd, outputs, time.Time.Before)
	if !ok {
		return false
	}

	return !newestInput.After(oldestOutput)
}

// globMtime stats every file matched by the globs (relative to cwd) and
// folds their mtimes with pick (After for newest, Before for oldest). ok is
// false when any glob matches nothing.
func globMtime(cwd string, globs []string, pick func(time.Time, time.Time) bool) (time.Time, bool) {
	var result time.Time

	seen := false

	for _, g := range globs {
		matches, err := filepath.Glob(filepath.Join(cwd, g))
		if err != nil || len(matches) == 0 {
			return time.Time{}, false
		}

		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil {
				return time.Time{}, false
			}

			if !seen || pick(info.ModTime(), result) {
				result = info.ModTime()
				seen = true
			}
		}
	}

	return result, seen
}

// mergeEnv layers task-specific overrides onto the activated base
// environment.
func mergeEnv(base, override map[string]string) map[string]string {
	env := make(map[string]string, len(base)+len(override))

	for k, v := range base {
		env[k] = v
	}

	for k, v := range override {
		env[k] = v
	}

	return env
}

// Describe renders a human-readable summary of a task, for `pixi task list`.
func Describe(t *manifest.Task) string {
	var b strings.Builder

	b.WriteString(t.Name)

	if t.Description != "" {
		b.WriteString(": ")
		b.WriteString(t.Description)
	}

	if len(t.DependsOn) > 0 {
		fmt.Fprintf(&b, " (depends on %s)", strings.Join(t.DependsOn, ", "))
	}

	return b.String()
}
