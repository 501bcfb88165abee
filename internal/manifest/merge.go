package manifest

import (
	"github.com/bilusteknoloji/pixi/internal/pixierr"
	"github.com/bilusteknoloji/pixi/internal/spec"
)

// EffectiveFeatureSet is the merged contribution of every feature that
// composes one (environment, platform) pair. The resolver and
// task engine consume this, never raw Feature values.
type EffectiveFeatureSet struct {
	Environment string
	Platform    spec.Platform

	Dependencies     []spec.Dependency
	PypiDependencies []spec.Dependency

	SystemRequirements spec.SystemRequirements
	Channels           []string

	Activation Activation
	Tasks      map[string]*Task

	PypiOptions PypiOptions
}

// Resolve computes the effective contribution set for an environment on a
// platform by merging, in order, every feature the environment names and
// then the default feature (unless suppressed).
func (ws *Workspace) Resolve(envName string, platform spec.Platform) (*EffectiveFeatureSet, error) {
	env, ok := ws.Environments[envName]
	if !ok {
		return nil, &pixierr.ManifestError{Kind: "UnknownFeatureRef", Location: "environments." + envName}
	}

	eff := &EffectiveFeatureSet{
		Environment: envName,
		Platform:    platform,
		Tasks:       map[string]*Task{},
	}

	for _, name := range orderedFeatureNames(env) {
		f, ok := ws.Features[name]
		if !ok {
			return nil, &pixierr.ManifestError{Kind: "UnknownFeatureRef", Location: "environments." + envName + " -> feature " + name}
		}

		contrib := applyTarget(f, platform)
		if err := mergeFeatureInto(eff, contrib); err != nil {
			return nil, err
		}
	}

	return eff, nil
}

func orderedFeatureNames(env *Environment) []string {
	names := append([]string{}, env.FeatureNames...)
	if !env.NoDefaultFeature {
		names = append(names, defaultFeatureName)
	}

	return names
}

// applyTarget produces the feature's contribution for platform, folding in
// any `[target.<platform>]` override per the target-merge discipline:
// dependency and task tables merge by name with the override winning on
// collision (a target block adds platform-specific packages, it does not
// replace the feature's base set), env-var maps merge the same way, system
// requirements take the max floor of base and override, and list-valued
// fields (channels, activation scripts) are overwritten wholesale when the
// override sets them.
func applyTarget(f *Feature, platform spec.Platform) *Feature {
	base := &Feature{
		Name:               f.Name,
		Dependencies:       f.Dependencies,
		PypiDependencies:   f.PypiDependencies,
		SystemRequirements: f.SystemRequirements,
		Channels:           f.Channels,
		Platforms:          f.Platforms,
		Activation:         f.Activation,
		Tasks:              f.Tasks,
		PypiOptions:        f.PypiOptions,
	}

	override, ok := f.Targets[platform]
	if !ok {
		return base
	}

	merged, err := mergeDependencies(base.Dependencies, override.Dependencies)
	if err == nil {
		base.Dependencies = merged
	}

	mergedPypi, err := mergeDependencies(base.PypiDependencies, override.PypiDependencies)
	if err == nil {
		base.PypiDependencies = mergedPypi
	}

	base.SystemRequirements = base.SystemRequirements.Merge(override.SystemRequirements)

	if len(override.Channels) > 0 {
		base.Channels = override.Channels
	}

	if len(override.Activation.Scripts) > 0 {
		base.Activation.Scripts = override.Activation.Scripts
	}

	if len(override.Activation.Env) > 0 {
		env := map[string]string{}

		for k, v := range base.Activation.Env {
			env[k] = v
		}

		for k, v := range override.Activation.Env {
			env[k] = v
		}

		base.Activation.Env = env
	}

	if len(override.Tasks) > 0 {
		tasks := map[string]*Task{}

		for k, v := range base.Tasks {
			tasks[k] = v
		}

		for k, v := range override.Tasks {
			tasks[k] = v
		}

		base.Tasks = tasks
	}

	return base
}

// mergeFeatureInto folds contrib into eff following the cross-feature
// merge rules: channel concat+dedup, system-requirements max-floor,
// activation-env merge with later feature winning, task-table plain merge
// with duplicate-name rejection, and dependency-table merge-by-name with
// later overriding earlier.
func mergeFeatureInto(eff *EffectiveFeatureSet, contrib *Feature) error {
	eff.Channels = dedupStrings(append(eff.Channels, contrib.Channels...))
	eff.SystemRequirements = eff.SystemRequirements.Merge(contrib.SystemRequirements)

	if len(contrib.Activation.Env) > 0 {
		if eff.Activation.Env == nil {
			eff.Activation.Env = map[string]string{}
		}

		for k, v := range contrib.Activation.Env {
			eff.Activation.Env[k] = v
		}
	}

	eff.Activation.Scripts = append(eff.Activation.Scripts, contrib.Activation.Scripts...)

	for name, t := range contrib.Tasks {
		if _, exists := eff.Tasks[name]; exists {
			return &pixierr.ManifestError{Kind: "NameNormalizationClash", Location: "tasks." + name}
		}

		eff.Tasks[name] = t
	}

	merged, err := mergeDependencies(eff.Dependencies, contrib.Dependencies)
	if err != nil {
		return err
	}

	eff.Dependencies = merged

	mergedPypi, err := mergeDependencies(eff.PypiDependencies, contrib.PypiDependencies)
	if err != nil {
		return err
	}

	eff.PypiDependencies = mergedPypi
	eff.PypiOptions = mergePypiOptions(eff.PypiOptions, contrib.PypiOptions)

	return nil
}

// mergeDependencies merges two ordered dependency lists by name, the
// contribution overriding anything already present under the same name
// unless the two disagree on an explicit build pin for an overlapping
// platform, which is rejected as a conflict rather than silently resolved.
func mergeDependencies(base, contrib []spec.Dependency) ([]spec.Dependency, error) {
	index := map[string]int{}

	merged := append([]spec.Dependency{}, base...)
	for i, d := range merged {
		index[d.Name()] = i
	}

	for _, d := range contrib {
		name := d.Name()

		if i, exists := index[name]; exists {
			existing := merged[i]

			if conflictingBuildPin(existing, d) {
				return nil, &pixierr.ManifestError{Kind: "NameNormalizationClash", Location: "dependencies." + name}
			}

			merged[i] = d

			continue
		}

		index[name] = len(merged)
		merged = append(merged, d)
	}

	return merged, nil
}

func conflictingBuildPin(a, b spec.Dependency) bool {
	if a.Kind != spec.DependencyConda || b.Kind != spec.DependencyConda {
		return false
	}

	if a.Match.Build == "" || b.Match.Build == "" || a.Match.Build == b.Match.Build {
		return false
	}

	if len(a.Platforms) == 0 || len(b.Platforms) == 0 {
		return true
	}

	for _, pa := range a.Platforms {
		for _, pb := range b.Platforms {
			if pa == pb {
				return true
			}
		}
	}

	return false
}

func mergePypiOptions(base, contrib PypiOptions) PypiOptions {
	merged := base

	if contrib.IndexURL != "" {
		merged.IndexURL = contrib.IndexURL
	}

	merged.ExtraIndexURLs = dedupStrings(append(merged.ExtraIndexURLs, contrib.ExtraIndexURLs...))
	merged.NoBinary = dedupStrings(append(merged.NoBinary, contrib.NoBinary...))

	if contrib.NoBuild {
		merged.NoBuild = true
	}

	if contrib.NoBuildIsolation {
		merged.NoBuildIsolation = true
	}

	if len(contrib.DependencyOverrides) > 0 {
		if merged.DependencyOverrides == nil {
			merged.DependencyOverrides = map[string]string{}
		}

		for k, v := range contrib.DependencyOverrides {
			merged.DependencyOverrides[k] = v
		}
	}

	return merged
}

// dedupStrings removes repeats while preserving first-seen order, since
// channel lists and index URLs are priority-ordered, not sets.
func dedupStrings(ss []string) []string {
	if len(ss) == 0 {
		return nil
	}

	seen := map[string]bool{}

	out := make([]string, 0, len(ss))

	for _, s := range ss {
		if seen[s] {
			continue
		}

		seen[s] = true

		out = append(out, s)
	}

	return out
}
