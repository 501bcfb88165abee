package manifest

import "github.com/BurntSushi/toml"

// rawManifest mirrors the manifest's TOML shape. Dependency and task tables
// are decoded as toml.Primitive so that each entry's heterogeneous shape
// (a bare string vs. an inline table) can be resolved value-by-value in
// decode.go, the same two-pass approach BurntSushi/toml documents for
// sum-typed tables.
type rawManifest struct {
	Workspace rawWorkspaceMeta `toml:"workspace"`
	Project   rawWorkspaceMeta `toml:"project"`

	Dependencies     map[string]toml.Primitive `toml:"dependencies"`
	HostDependencies map[string]toml.Primitive `toml:"host-dependencies"`
	BuildDependencies map[string]toml.Primitive `toml:"build-dependencies"`
	RunDependencies  map[string]toml.Primitive `toml:"run-dependencies"`
	PypiDependencies map[string]toml.Primitive `toml:"pypi-dependencies"`

	PypiOptions rawPypiOptions `toml:"pypi-options"`

	SystemRequirements rawSystemRequirements `toml:"system-requirements"`
	Activation         rawActivation         `toml:"activation"`
	Tasks              map[string]toml.Primitive `toml:"tasks"`

	Feature map[string]rawSection `toml:"feature"`
	Target  map[string]rawSection `toml:"target"`

	Environments map[string]toml.Primitive `toml:"environments"`

	Package rawPackageSection `toml:"package"`
}

// rawSection mirrors everything that can appear both at workspace scope and
// inside `[feature.<name>]`, recursively including its own `[target.<os>]`
// overrides.
type rawSection struct {
	Dependencies      map[string]toml.Primitive `toml:"dependencies"`
	HostDependencies  map[string]toml.Primitive `toml:"host-dependencies"`
	BuildDependencies map[string]toml.Primitive `toml:"build-dependencies"`
	PypiDependencies  map[string]toml.Primitive `toml:"pypi-dependencies"`

	SystemRequirements rawSystemRequirements `toml:"system-requirements"`
	Channels           []string              `toml:"channels"`
	Platforms          []string              `toml:"platforms"`
	Activation         rawActivation         `toml:"activation"`
	Tasks              map[string]toml.Primitive `toml:"tasks"`

	Target map[string]rawSection `toml:"target"`

	PypiOptions rawPypiOptions `toml:"pypi-options"`
}

type rawWorkspaceMeta struct {
	Name      string   `toml:"name"`
	Version   string   `toml:"version"`
	Channels  []string `toml:"channels"`
	Platforms []string `toml:"platforms"`
	Preview   []string `toml:"preview"`
	Authors   []string `toml:"authors"`
}

type rawPypiOptions struct {
	IndexURL            string            `toml:"index-url"`
	ExtraIndexURLs      []string          `toml:"extra-index-urls"`
	NoBinary            []string          `toml:"no-binary"`
	NoBuild             bool              `toml:"no-build"`
	NoBuildIsolation    bool              `toml:"no-build-isolation"`
	DependencyOverrides map[string]string `toml:"dependency-overrides"`
}

type rawSystemRequirements struct {
	Linux string      `toml:"linux"`
	Libc  rawLibc     `toml:"libc"`
	Macos string      `toml:"macos"`
	CUDA  string      `toml:"cuda"`
}

type rawLibc struct {
	Family  string `toml:"family"`
	Version string `toml:"version"`
}

type rawActivation struct {
	Scripts []string          `toml:"scripts"`
	Env     map[string]string `toml:"env"`
}

type rawTaskArg struct {
	Arg     string  `toml:"arg"`
	Default *string `toml:"default"`
}

type rawTaskTable struct {
	Cmd         string            `toml:"cmd"`
	Cwd         string            `toml:"cwd"`
	DependsOn   []string          `toml:"depends-on"`
	Env         map[string]string `toml:"env"`
	CleanEnv    bool              `toml:"clean-env"`
	Description string            `toml:"description"`
	Inputs      []string          `toml:"inputs"`
	Outputs     []string          `toml:"outputs"`
	Args        []rawTaskArg      `toml:"args"`
}

type rawEnvironmentTable struct {
	Features         []string `toml:"features"`
	SolveGroup       string   `toml:"solve-group"`
	NoDefaultFeature bool     `toml:"no-default-feature"`
}

type rawPackageSection struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`

	Build rawBuildSection `toml:"build"`

	BuildDependencies map[string]toml.Primitive `toml:"build-dependencies"`
	HostDependencies  map[string]toml.Primitive `toml:"host-dependencies"`
	RunDependencies   map[string]toml.Primitive `toml:"run-dependencies"`
}

type rawBuildSection struct {
	Backend  string            `toml:"backend"`
	Channels []string          `toml:"channels"`
	Config   map[string]string `toml:"config"`
}
