package manifest

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/bilusteknoloji/pixi/internal/pixierr"
	"github.com/bilusteknoloji/pixi/internal/spec"
)

// condaDepTable is the inline-table form of a conda dependency value.
type condaDepTable struct {
	Version string `toml:"version"`
	Build   string `toml:"build"`
	Channel string `toml:"channel"`
	Subdir  string `toml:"subdir"`
	MD5     string `toml:"md5"`
	SHA256  string `toml:"sha256"`

	Path string `toml:"path"`

	Git          string `toml:"git"`
	Branch       string `toml:"branch"`
	Tag          string `toml:"tag"`
	Rev          string `toml:"rev"`
	Subdirectory string `toml:"subdirectory"`

	URL string `toml:"url"`
}

// pypiDepTable is the inline-table form of a pypi-dependency value.
type pypiDepTable struct {
	Version  string   `toml:"version"`
	Extras   []string `toml:"extras"`
	Index    string   `toml:"index"`
	Editable bool     `toml:"editable"`

	Path string `toml:"path"`

	Git          string `toml:"git"`
	Branch       string `toml:"branch"`
	Tag          string `toml:"tag"`
	Rev          string `toml:"rev"`
	Subdirectory string `toml:"subdirectory"`

	URL string `toml:"url"`
}

// decodeCondaDependency resolves a `[dependencies]`-family entry that is
// either a bare MatchSpec string or an inline table variant.
func decodeCondaDependency(md toml.MetaData, name string, prim toml.Primitive) (spec.Dependency, error) {
	var asString string
	if err := md.PrimitiveDecode(prim, &asString); err == nil {
		ms, err := spec.ParseMatchSpec(withName(name, asString))
		if err != nil {
			return spec.Dependency{}, err
		}

		return spec.Dependency{Kind: spec.DependencyConda, Match: ms}, nil
	}

	var table condaDepTable
	if err := md.PrimitiveDecode(prim, &table); err != nil {
		return spec.Dependency{}, fmt.Errorf("dependency %q is neither a string nor a recognized table: %w", name, err)
	}

	sourceSelectors := 0
	for _, sel := range []string{table.Path, table.Git, table.URL} {
		if sel != "" {
			sourceSelectors++
		}
	}

	if sourceSelectors > 1 || (sourceSelectors == 1 && (table.Version != "" || table.Build != "")) {
		return spec.Dependency{}, &pixierr.ManifestError{Kind: "ConflictingPackageAndPath", Location: "dependencies." + name}
	}

	switch {
	case table.Path != "":
		ref := &spec.SourceRef{Kind: spec.SourceRefPath, Path: table.Path}

		return spec.Dependency{Kind: spec.DependencySource, Source: ref, Match: spec.MatchSpec{Name: spec.NormalizeCondaName(name)}}, nil
	case table.Git != "":
		ref := &spec.SourceRef{
			Kind: spec.SourceRefGit, GitURL: table.Git, Branch: table.Branch,
			Tag: table.Tag, Rev: table.Rev, Subdirectory: table.Subdirectory,
		}

		if err := ref.Validate(); err != nil {
			return spec.Dependency{}, fmt.Errorf("dependency %q: %w", name, err)
		}

		return spec.Dependency{Kind: spec.DependencySource, Source: ref, Match: spec.MatchSpec{Name: spec.NormalizeCondaName(name)}}, nil
	case table.URL != "":
		ref := &spec.SourceRef{Kind: spec.SourceRefURL, URL: table.URL, SHA256: table.SHA256, MD5: table.MD5}

		return spec.Dependency{Kind: spec.DependencySource, Source: ref, Match: spec.MatchSpec{Name: spec.NormalizeCondaName(name)}}, nil
	default:
		ms := spec.MatchSpec{
			Name:        spec.NormalizeCondaName(name),
			VersionExpr: table.Version,
			Build:       table.Build,
			Channel:     table.Channel,
			Subdir:      table.Subdir,
			MD5:         table.MD5,
			SHA256:      table.SHA256,
		}

		return spec.Dependency{Kind: spec.DependencyConda, Match: ms}, nil
	}
}

// decodePypiDependency resolves a `[pypi-dependencies]` entry.
func decodePypiDependency(md toml.MetaData, name string, prim toml.Primitive) (spec.Dependency, error) {
	var asString string
	if err := md.PrimitiveDecode(prim, &asString); err == nil {
		req := spec.ParsePEP508(withName(name, asString))

		return spec.Dependency{Kind: spec.DependencyPyPI, PyPI: req}, nil
	}

	var table pypiDepTable
	if err := md.PrimitiveDecode(prim, &table); err != nil {
		return spec.Dependency{}, fmt.Errorf("pypi dependency %q is neither a string nor a recognized table: %w", name, err)
	}

	req := spec.PEP508Requirement{
		Name:      spec.NormalizePyPIName(name),
		Extras:    table.Extras,
		Specifier: table.Version,
	}

	switch {
	case table.Path != "":
		ref := &spec.SourceRef{Kind: spec.SourceRefPath, Path: table.Path, PyPITyped: true, Editable: table.Editable}

		return spec.Dependency{Kind: spec.DependencySource, Source: ref, PyPI: req}, nil
	case table.Git != "":
		ref := &spec.SourceRef{
			Kind: spec.SourceRefGit, GitURL: table.Git, Branch: table.Branch,
			Tag: table.Tag, Rev: table.Rev, Subdirectory: table.Subdirectory,
			PyPITyped: true, Editable: table.Editable,
		}

		if err := ref.Validate(); err != nil {
			return spec.Dependency{}, fmt.Errorf("pypi dependency %q: %w", name, err)
		}

		return spec.Dependency{Kind: spec.DependencySource, Source: ref, PyPI: req}, nil
	case table.URL != "":
		ref := &spec.SourceRef{Kind: spec.SourceRefURL, URL: table.URL, PyPITyped: true}

		return spec.Dependency{Kind: spec.DependencySource, Source: ref, PyPI: req}, nil
	default:
		return spec.Dependency{Kind: spec.DependencyPyPI, PyPI: req}, nil
	}
}

// withName prefixes a bare specifier string with its table key, since pixi
// manifests key dependencies by name and store only the constraint, while
// the PEP 508 parser expects the name to precede the specifier in one
// string.
func withName(name, specifier string) string {
	if specifier == "" || specifier == "*" {
		return name
	}

	return name + specifier
}

// decodeTask resolves a `[tasks]` entry that is either a bare command
// string or an inline/ nested table.
func decodeTask(md toml.MetaData, name string, prim toml.Primitive) (*Task, error) {
	var asString string
	if err := md.PrimitiveDecode(prim, &asString); err == nil {
		return &Task{Name: name, Cmd: asString}, nil
	}

	var table rawTaskTable
	if err := md.PrimitiveDecode(prim, &table); err != nil {
		return nil, &pixierr.ManifestError{Kind: "TypeMismatch", Location: "tasks." + name, Err: err}
	}

	args := make([]TaskArg, 0, len(table.Args))
	for _, a := range table.Args {
		args = append(args, TaskArg{Arg: a.Arg, Default: a.Default})
	}

	return &Task{
		Name:        name,
		Cmd:         table.Cmd,
		Cwd:         table.Cwd,
		DependsOn:   table.DependsOn,
		Env:         table.Env,
		CleanEnv:    table.CleanEnv,
		Description: table.Description,
		Inputs:      table.Inputs,
		Outputs:     table.Outputs,
		Args:        args,
	}, nil
}

// decodeEnvironment resolves an `[environments]` entry that is either a bare
// list of feature names or a table with solve-group/no-default-feature.
func decodeEnvironment(md toml.MetaData, name string, prim toml.Primitive) (*Environment, error) {
	var asList []string
	if err := md.PrimitiveDecode(prim, &asList); err == nil {
		return &Environment{Name: name, FeatureNames: asList}, nil
	}

	var table rawEnvironmentTable
	if err := md.PrimitiveDecode(prim, &table); err != nil {
		return nil, &pixierr.ManifestError{Kind: "TypeMismatch", Location: "environments." + name, Err: err}
	}

	return &Environment{
		Name:             name,
		FeatureNames:     table.Features,
		SolveGroup:       table.SolveGroup,
		NoDefaultFeature: table.NoDefaultFeature,
	}, nil
}
