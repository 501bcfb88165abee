package resolver

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/bilusteknoloji/pixi/internal/config"
	"github.com/bilusteknoloji/pixi/internal/gateway"
	"github.com/bilusteknoloji/pixi/internal/lockfile"
	"github.com/bilusteknoloji/pixi/internal/manifest"
	"github.com/bilusteknoloji/pixi/internal/mapper"
	"github.com/bilusteknoloji/pixi/internal/pixierr"
	"github.com/bilusteknoloji/pixi/internal/spec"
)

// SolveGroup solves every member of a named solve-group together.
// Members' direct specs are unioned into one combined effective
// set and solved once; the joint result is then projected back onto each
// member by keeping only the records reachable from that member's own
// direct dependencies, which guarantees every name shared across members
// carries an identical version+build+hash.
//
// A name two members both pin explicitly to different version or build
// text is rejected up front as SolveGroupConflict rather than handed to the
// solver, since no single joint solution could honor both pins anyway.
func SolveGroup(ctx context.Context, gw gateway.Gateway, mp mapper.Mapper, group string, members map[string]*manifest.EffectiveFeatureSet, cfg *config.Config, opts ...CondaStageOption) (map[string]*lockfile.Slice, error) {
	if len(members) == 0 {
		return map[string]*lockfile.Slice{}, nil
	}

	combined, err := unionEffectiveSets(group, members)
	if err != nil {
		return nil, err
	}

	jointSlice, err := Solve(ctx, gw, mp, combined, cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("solve group %q: %w", group, err)
	}

	byName := make(map[string]lockfile.Record, len(jointSlice.Records))
	for _, r := range jointSlice.Records {
		byName[r.Name()] = r
	}

	result := make(map[string]*lockfile.Slice, len(members))

	for envName, eff := range members {
		reachable := closureFrom(directNames(eff), byName)

		slice := &lockfile.Slice{
			Environment: envName,
			Platform:    eff.Platform,
			Channels:    eff.Channels,
		}

		for _, name := range reachable {
			if r, ok := byName[name]; ok {
				slice.Records = append(slice.Records, r)
			}
		}

		result[envName] = slice
	}

	return result, nil
}

// unionEffectiveSets folds every member's channels, system requirements,
// and direct dependencies into one combined EffectiveFeatureSet, failing
// with SolveGroupConflict if two members pin the same name to
// incompatible explicit text.
func unionEffectiveSets(group string, members map[string]*manifest.EffectiveFeatureSet) (*manifest.EffectiveFeatureSet, error) {
	var platform spec.Platform

	combined := &manifest.EffectiveFeatureSet{Environment: group}

	condaSeen := map[string]spec.Dependency{}
	pypiSeen := map[string]spec.Dependency{}

	var conflicts []string

	for _, name := range sortedEnvNames(members) {
		eff := members[name]

		if platform == "" {
			platform = eff.Platform
		} else if eff.Platform != platform {
			return nil, fmt.Errorf("solve group %q mixes platforms %s and %s", group, platform, eff.Platform)
		}

		combined.Channels = dedupAppend(combined.Channels, eff.Channels...)
		combined.SystemRequirements = combined.SystemRequirements.Merge(eff.SystemRequirements)

		for _, dep := range eff.Dependencies {
			if existing, ok := condaSeen[dep.Name()]; ok {
				if condaPinConflict(existing, dep) {
					conflicts = append(conflicts, dep.Name())

					continue
				}

				if existing.Match.VersionExpr == "" && dep.Match.VersionExpr != "" {
					condaSeen[dep.Name()] = dep
				}

				continue
			}

			condaSeen[dep.Name()] = dep
		}

		for _, dep := range eff.PypiDependencies {
			if existing, ok := pypiSeen[dep.Name()]; ok {
				if pypiPinConflict(existing, dep) {
					conflicts = append(conflicts, dep.Name())
				}

				continue
			}

			pypiSeen[dep.Name()] = dep
		}
	}

	if len(conflicts) > 0 {
		return nil, &pixierr.SolveGroupConflict{Group: group, ConflictingSpecs: conflicts}
	}

	combined.Platform = platform
	combined.Dependencies = sortedDependencyValues(condaSeen)
	combined.PypiDependencies = sortedDependencyValues(pypiSeen)

	return combined, nil
}

func condaPinConflict(a, b spec.Dependency) bool {
	if a.Match.VersionExpr != "" && b.Match.VersionExpr != "" && a.Match.VersionExpr != b.Match.VersionExpr {
		return true
	}

	if a.Match.Build != "" && b.Match.Build != "" && a.Match.Build != b.Match.Build {
		return true
	}

	return false
}

func pypiPinConflict(a, b spec.Dependency) bool {
	return a.PyPI.Specifier != "" && b.PyPI.Specifier != "" && a.PyPI.Specifier != b.PyPI.Specifier
}

func sortedEnvNames(members map[string]*manifest.EffectiveFeatureSet) []string {
	names := make([]string, 0, len(members))
	for name := range members {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

func sortedDependencyValues(byName map[string]spec.Dependency) []spec.Dependency {
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}

	sort.Strings(names)

	deps := make([]spec.Dependency, 0, len(names))
	for _, name := range names {
		deps = append(deps, byName[name])
	}

	return deps
}

func dedupAppend(base []string, extra ...string) []string {
	have := map[string]bool{}
	for _, s := range base {
		have[s] = true
	}

	out := append([]string{}, base...)

	for _, s := range extra {
		if have[s] {
			continue
		}

		have[s] = true

		out = append(out, s)
	}

	return out
}

// directNames collects the package names a member directly depends on, the
// seed set closureFrom walks outward from within the jointly solved record
// set.
func directNames(eff *manifest.EffectiveFeatureSet) []string {
	names := make([]string, 0, len(eff.Dependencies)+len(eff.PypiDependencies))

	for _, dep := range eff.Dependencies {
		names = append(names, dep.Name())
	}

	for _, dep := range eff.PypiDependencies {
		names = append(names, dep.Name())
	}

	return names
}

// closureFrom walks byName's dependency edges outward from seeds, returning
// every reachable package name (seeds included).
func closureFrom(seeds []string, byName map[string]lockfile.Record) []string {
	visited := map[string]bool{}

	var order []string

	var visit func(name string)

	visit = func(name string) {
		if visited[name] {
			return
		}

		visited[name] = true

		r, ok := byName[name]
		if !ok {
			return
		}

		order = append(order, name)

		for _, dep := range recordDependsOn(r) {
			visit(dep)
		}
	}

	for _, s := range seeds {
		visit(s)
	}

	return order
}

// recordDependsOn extracts the package names r's own Depends/RequiresDist
// entries name, regardless of record kind.
func recordDependsOn(r lockfile.Record) []string {
	var raw []string

	switch r.Kind {
	case lockfile.RecordConda:
		raw = r.Conda.Depends
	case lockfile.RecordPyPIWheel, lockfile.RecordPyPISource:
		raw = r.PyPI.RequiresDist
	case lockfile.RecordSourceBuilt:
		raw = r.SourceBuilt.Produced.Depends
	}

	names := make([]string, 0, len(raw))

	for _, entry := range raw {
		if name := leadingName(entry); name != "" {
			names = append(names, name)
		}
	}

	return names
}

// leadingName extracts a bare package name from a conda Depends entry
// ("numpy >=1.26,<2") or a PEP 508 RequiresDist entry ("requests[socks]>=2"),
// stopping at the first separator either grammar uses.
func leadingName(entry string) string {
	entry = strings.TrimSpace(entry)

	if strings.HasPrefix(entry, "__") {
		return "" // virtual package, never a real record name
	}

	cut := strings.IndexAny(entry, " <>=!~;[(")
	if cut < 0 {
		return entry
	}

	return entry[:cut]
}
