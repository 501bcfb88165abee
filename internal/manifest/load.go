package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/bilusteknoloji/pixi/internal/pixierr"
	"github.com/bilusteknoloji/pixi/internal/spec"
)

type pyprojectWrapper struct {
	Tool struct {
		Pixi rawManifest `toml:"pixi"`
	} `toml:"tool"`
}

// Load loads a workspace manifest from a path to a workspace root or an
// explicit manifest file. It tries `pixi.toml` first, then
// falls back to a PEP 621 `pyproject.toml` carrying a `[tool.pixi]` section.
func Load(root string) (*Workspace, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, &pixierr.ManifestError{Kind: "SyntaxError", Location: root, Err: err}
	}

	manifestPath := root
	workspaceRoot := root

	if info.IsDir() {
		workspaceRoot = root

		pixiToml := filepath.Join(root, "pixi.toml")
		if _, err := os.Stat(pixiToml); err == nil {
			manifestPath = pixiToml
		} else {
			manifestPath = filepath.Join(root, "pyproject.toml")
		}
	} else {
		workspaceRoot = filepath.Dir(root)
	}

	var raw rawManifest

	var md toml.MetaData

	if filepath.Base(manifestPath) == "pyproject.toml" {
		var wrapper pyprojectWrapper

		md, err = toml.DecodeFile(manifestPath, &wrapper)
		if err != nil {
			return nil, &pixierr.ManifestError{Kind: "SyntaxError", Location: manifestPath, Err: err}
		}

		raw = wrapper.Tool.Pixi
	} else {
		md, err = toml.DecodeFile(manifestPath, &raw)
		if err != nil {
			return nil, &pixierr.ManifestError{Kind: "SyntaxError", Location: manifestPath, Err: err}
		}
	}

	ws, err := buildWorkspace(workspaceRoot, md, raw)
	if err != nil {
		return nil, err
	}

	// A pyproject.toml legitimately carries sections pixi does not define,
	// so only a native manifest is checked for typo'd top-level keys.
	if filepath.Base(manifestPath) != "pyproject.toml" {
		if err := checkUnknownKeys(md); err != nil {
			return nil, err
		}
	}

	if err := ws.validateCycles(); err != nil {
		return nil, err
	}

	if err := ws.validateEnvironmentRefs(); err != nil {
		return nil, err
	}

	return ws, nil
}

// knownTopLevelKeys are the sections the manifest schema defines. "$schema"
// is tolerated for editor tooling and "tool" for third-party sections.
var knownTopLevelKeys = map[string]bool{
	"workspace": true, "project": true,
	"dependencies": true, "host-dependencies": true,
	"build-dependencies": true, "run-dependencies": true,
	"pypi-dependencies": true, "pypi-options": true,
	"system-requirements": true, "activation": true,
	"tasks": true, "feature": true, "target": true,
	"environments": true, "package": true,
	"$schema": true, "tool": true,
}

func checkUnknownKeys(md toml.MetaData) error {
	for _, key := range md.Undecoded() {
		if !knownTopLevelKeys[key[0]] {
			return &pixierr.ManifestError{Kind: "UnknownKey", Location: key.String()}
		}
	}

	return nil
}

func buildWorkspace(root string, md toml.MetaData, raw rawManifest) (*Workspace, error) {
	meta := raw.Workspace
	if meta.Name == "" && meta.Channels == nil {
		meta = raw.Project
	}

	platforms, err := parsePlatforms(meta.Platforms)
	if err != nil {
		return nil, &pixierr.ManifestError{Kind: "UnknownPlatform", Location: "workspace.platforms", Err: err}
	}

	ws := &Workspace{
		Root:         root,
		Name:         meta.Name,
		Version:      meta.Version,
		Authors:      meta.Authors,
		Preview:      meta.Preview,
		Channels:     meta.Channels,
		Platforms:    platforms,
		Features:     map[string]*Feature{},
		Environments: map[string]*Environment{},
	}

	defaultSection := rawSection{
		Dependencies:       raw.Dependencies,
		HostDependencies:   raw.HostDependencies,
		BuildDependencies:  raw.BuildDependencies,
		PypiDependencies:   raw.PypiDependencies,
		SystemRequirements: raw.SystemRequirements,
		Channels:           meta.Channels,
		Platforms:          meta.Platforms,
		Activation:         raw.Activation,
		Tasks:              raw.Tasks,
		Target:             raw.Target,
		PypiOptions:        raw.PypiOptions,
	}

	defaultFeature, err := buildFeature(md, defaultFeatureName, defaultSection)
	if err != nil {
		return nil, err
	}

	ws.Features[defaultFeatureName] = defaultFeature

	for name, section := range raw.Feature {
		f, err := buildFeature(md, name, section)
		if err != nil {
			return nil, err
		}

		ws.Features[name] = f
	}

	for name, prim := range raw.Environments {
		env, err := decodeEnvironment(md, name, prim)
		if err != nil {
			return nil, err
		}

		ws.Environments[name] = env
	}

	if _, ok := ws.Environments[defaultFeatureName]; !ok {
		ws.Environments[defaultFeatureName] = &Environment{Name: defaultFeatureName}
	}

	if raw.Package.Name != "" {
		pkg, err := buildPackage(md, raw.Package)
		if err != nil {
			return nil, err
		}

		ws.Packages = append(ws.Packages, pkg)
	}

	return ws, nil
}

func buildFeature(md toml.MetaData, name string, section rawSection) (*Feature, error) {
	deps, err := buildCondaDeps(md, section.Dependencies)
	if err != nil {
		return nil, fmt.Errorf("feature %q: %w", name, err)
	}

	pypiDeps, err := buildPypiDeps(md, section.PypiDependencies)
	if err != nil {
		return nil, fmt.Errorf("feature %q: %w", name, err)
	}

	platforms, err := parsePlatforms(section.Platforms)
	if err != nil {
		return nil, &pixierr.ManifestError{Kind: "UnknownPlatform", Location: "feature." + name, Err: err}
	}

	tasks, err := buildTasks(md, section.Tasks)
	if err != nil {
		return nil, fmt.Errorf("feature %q: %w", name, err)
	}

	f := &Feature{
		Name:             name,
		Dependencies:     deps,
		PypiDependencies: pypiDeps,
		SystemRequirements: spec.SystemRequirements{
			Linux:       section.SystemRequirements.Linux,
			LibcFamily:  section.SystemRequirements.Libc.Family,
			LibcVersion: section.SystemRequirements.Libc.Version,
			Macos:       section.SystemRequirements.Macos,
			CUDA:        section.SystemRequirements.CUDA,
		},
		Channels:  section.Channels,
		Platforms: platforms,
		Activation: Activation{
			Scripts: section.Activation.Scripts,
			Env:     section.Activation.Env,
		},
		Tasks: tasks,
		PypiOptions: PypiOptions{
			IndexURL:            section.PypiOptions.IndexURL,
			ExtraIndexURLs:      section.PypiOptions.ExtraIndexURLs,
			NoBinary:            section.PypiOptions.NoBinary,
			NoBuild:             section.PypiOptions.NoBuild,
			NoBuildIsolation:    section.PypiOptions.NoBuildIsolation,
			DependencyOverrides: section.PypiOptions.DependencyOverrides,
		},
	}

	if len(section.Target) > 0 {
		f.Targets = map[spec.Platform]*Feature{}

		for platformStr, targetSection := range section.Target {
			platform, err := spec.ParsePlatform(platformStr)
			if err != nil {
				return nil, &pixierr.ManifestError{Kind: "UnknownPlatform", Location: "feature." + name + ".target." + platformStr, Err: err}
			}

			override, err := buildFeature(md, name+".target."+platformStr, targetSection)
			if err != nil {
				return nil, err
			}

			f.Targets[platform] = override
		}
	}

	return f, nil
}

func buildCondaDeps(md toml.MetaData, table map[string]toml.Primitive) ([]spec.Dependency, error) {
	deps := make([]spec.Dependency, 0, len(table))

	for name, prim := range table {
		d, err := decodeCondaDependency(md, name, prim)
		if err != nil {
			return nil, err
		}

		deps = append(deps, d)
	}

	return deps, nil
}

func buildPypiDeps(md toml.MetaData, table map[string]toml.Primitive) ([]spec.Dependency, error) {
	deps := make([]spec.Dependency, 0, len(table))

	for name, prim := range table {
		d, err := decodePypiDependency(md, name, prim)
		if err != nil {
			return nil, err
		}

		deps = append(deps, d)
	}

	return deps, nil
}

func buildTasks(md toml.MetaData, table map[string]toml.Primitive) (map[string]*Task, error) {
	tasks := make(map[string]*Task, len(table))

	for name, prim := range table {
		t, err := decodeTask(md, name, prim)
		if err != nil {
			return nil, err
		}

		tasks[name] = t
	}

	return tasks, nil
}

func buildPackage(md toml.MetaData, raw rawPackageSection) (*Package, error) {
	buildDeps, err := buildCondaDeps(md, raw.BuildDependencies)
	if err != nil {
		return nil, fmt.Errorf("package.build-dependencies: %w", err)
	}

	hostDeps, err := buildCondaDeps(md, raw.HostDependencies)
	if err != nil {
		return nil, fmt.Errorf("package.host-dependencies: %w", err)
	}

	runDeps, err := buildCondaDeps(md, raw.RunDependencies)
	if err != nil {
		return nil, fmt.Errorf("package.run-dependencies: %w", err)
	}

	return &Package{
		Name:    raw.Name,
		Version: raw.Version,
		Build: BuildDescriptor{
			Backend:  raw.Build.Backend,
			Channels: raw.Build.Channels,
			Config:   raw.Build.Config,
		},
		BuildDependencies: buildDeps,
		HostDependencies:  hostDeps,
		RunDependencies:   runDeps,
	}, nil
}

func parsePlatforms(ss []string) ([]spec.Platform, error) {
	platforms := make([]spec.Platform, 0, len(ss))

	for _, s := range ss {
		p, err := spec.ParsePlatform(s)
		if err != nil {
			return nil, err
		}

		platforms = append(platforms, p)
	}

	return platforms, nil
}
