// Package manifest loads and validates a pixi workspace manifest:
// pixi.toml, merging features into environments and producing the per
// (environment, platform) effective contribution set the resolver consumes.
package manifest

import (
	"github.com/bilusteknoloji/pixi/internal/spec"
)

// Workspace is a root directory naming channels, supported platforms, a set
// of named features, and a set of named environments composed from them.
type Workspace struct {
	Root string

	Name    string
	Version string
	Authors []string
	Preview []string

	Channels  []string
	Platforms []spec.Platform

	Features     map[string]*Feature
	Environments map[string]*Environment
	Packages     []*Package
}

// Feature is a named bundle of contributions. Features have no
// independent environment; they are composable.
type Feature struct {
	Name string

	Dependencies     []spec.Dependency
	PypiDependencies []spec.Dependency

	SystemRequirements spec.SystemRequirements
	Channels           []string
	Platforms          []spec.Platform

	Activation Activation
	Tasks      map[string]*Task

	// Targets holds per-platform overrides
	// scoped to this feature. Each override follows the target-merge
	// discipline in merge.go when applied.
	Targets map[spec.Platform]*Feature

	PypiOptions PypiOptions
}

// PypiOptions holds the `[pypi-options]` table.
type PypiOptions struct {
	IndexURL            string
	ExtraIndexURLs      []string
	NoBinary            []string
	NoBuild             bool
	NoBuildIsolation    bool
	DependencyOverrides map[string]string
}

// Activation is the `[activation]` table: env vars and scripts executed
// before a command runs in the environment.
type Activation struct {
	Scripts []string
	Env     map[string]string
}

// Task is one entry of the `[tasks]` table.
type Task struct {
	Name        string
	Cmd         string
	Cwd         string
	DependsOn   []string
	Env         map[string]string
	CleanEnv    bool
	Description string
	Inputs      []string
	Outputs     []string
	Args        []TaskArg
	Platforms   []spec.Platform
}

// TaskArg is one entry of a task's `args` list: a named parameter with an
// optional default, substituted into Cmd before execution.
type TaskArg struct {
	Arg     string
	Default *string
}

// Environment is a named composition of features.
type Environment struct {
	Name             string
	FeatureNames     []string
	SolveGroup       string
	NoDefaultFeature bool
}

// Package describes a buildable unit living under the workspace root.
type Package struct {
	Name    string
	Version string
	Build   BuildDescriptor

	BuildDependencies []spec.Dependency
	HostDependencies  []spec.Dependency
	RunDependencies   []spec.Dependency
}

// BuildDescriptor names the backend that builds a Package.
type BuildDescriptor struct {
	Backend  string
	Channels []string
	Config   map[string]string
}

const defaultFeatureName = "default"
