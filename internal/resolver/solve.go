package resolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/bilusteknoloji/pixi/internal/config"
	"github.com/bilusteknoloji/pixi/internal/gateway"
	"github.com/bilusteknoloji/pixi/internal/lockfile"
	"github.com/bilusteknoloji/pixi/internal/manifest"
	"github.com/bilusteknoloji/pixi/internal/mapper"
	"github.com/bilusteknoloji/pixi/internal/pypi"
	"github.com/bilusteknoloji/pixi/internal/spec"
)

// Solve runs the two-stage resolve for one (environment, platform) slice:
// a conda stage over eff's conda dependencies and system requirements,
// then a PyPI stage (the BFS Service above) over eff's pypi-dependencies,
// constrained by stage 1 through mp so a PyPI name the mapper attributes
// to an already-resolved conda package is never solved twice.
func Solve(ctx context.Context, gw gateway.Gateway, mp mapper.Mapper, eff *manifest.EffectiveFeatureSet, cfg *config.Config, opts ...CondaStageOption) (*lockfile.Slice, error) {
	condaSpecs := make([]spec.MatchSpec, 0, len(eff.Dependencies))

	for _, dep := range eff.Dependencies {
		if !dep.AppliesToPlatform(eff.Platform) || dep.Kind == spec.DependencySource {
			continue
		}

		condaSpecs = append(condaSpecs, dep.Match)
	}

	virtualPackages := eff.SystemRequirements.VirtualPackages(eff.Platform)

	cs := NewCondaStage(gw, cfg.ChannelPriority, opts...)

	condaRecords, err := cs.Solve(ctx, eff.Channels, eff.Platform, condaSpecs, virtualPackages)
	if err != nil {
		return nil, fmt.Errorf("conda stage: %w", err)
	}

	condaByName := make(map[string]CondaRecord, len(condaRecords))
	for _, r := range condaRecords {
		condaByName[r.Name] = r
	}

	pypiRecords, err := solvePyPIStage(ctx, gw, mp, eff, condaByName)
	if err != nil {
		return nil, fmt.Errorf("pypi stage: %w", err)
	}

	slice := &lockfile.Slice{
		Environment: eff.Environment,
		Platform:    eff.Platform,
		Channels:    eff.Channels,
	}

	for _, r := range condaRecords {
		slice.Records = append(slice.Records, lockfile.Record{
			Kind: lockfile.RecordConda,
			Conda: &lockfile.CondaPackage{
				Name: r.Name, Version: r.Version, Build: r.Build, BuildNumber: r.BuildNumber,
				URL: r.URL, SHA256: r.SHA256, MD5: r.MD5, Size: r.Size,
				Depends: r.Depends, Constrains: r.Constrains, Subdir: r.Subdir, Channel: r.Channel,
			},
		})
	}

	slice.Records = append(slice.Records, pypiRecords...)

	return slice, nil
}

// solvePyPIStage resolves eff's pypi-dependencies through the BFS Service,
// skipping any name the mapper claims is already provided by a resolved
// conda record. The marker environment is derived from stage 1's resolved
// Python interpreter record, when one was solved.
func solvePyPIStage(ctx context.Context, gw gateway.Gateway, mp mapper.Mapper, eff *manifest.EffectiveFeatureSet, condaByName map[string]CondaRecord) ([]lockfile.Record, error) {
	var requirements []string

	for _, dep := range eff.PypiDependencies {
		if !dep.AppliesToPlatform(eff.Platform) {
			continue
		}

		name := dep.PyPI.Name

		condaName, ok, err := mp.CondaName(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("mapping %s to conda: %w", name, err)
		}

		if ok {
			if _, resolved := condaByName[condaName]; resolved {
				continue
			}
		}

		requirements = append(requirements, formatRequirement(dep.PyPI))
	}

	if len(requirements) == 0 {
		return nil, nil
	}

	client := &gatewayPyPIAdapter{gw: gw}

	// A transitive requires_dist entry the mapper attributes to an
	// already-resolved conda record is externally satisfied too, not just
	// the direct pypi-dependencies filtered above.
	claimed := func(name string) bool {
		condaName, ok, err := mp.CondaName(ctx, name)
		if err != nil || !ok {
			return false
		}

		_, resolved := condaByName[condaName]

		return resolved
	}

	svc := New(client, WithMarkerEnv(deriveMarkerEnv(condaByName, eff.Platform)), WithClaimedNames(claimed))

	resolved, err := svc.Resolve(ctx, requirements)
	if err != nil {
		return nil, err
	}

	records := make([]lockfile.Record, 0, len(resolved))

	for _, pkg := range resolved {
		info, err := client.GetPackage(ctx, pkg.Name)
		if err != nil {
			return nil, fmt.Errorf("fetching resolved metadata for %s: %w", pkg.Name, err)
		}

		url, sha256 := bestWheelURL(info, pkg.Version)

		records = append(records, lockfile.Record{
			Kind: lockfile.RecordPyPIWheel,
			PyPI: &lockfile.PyPIPackage{
				Name:           pkg.Name,
				Version:        pkg.Version,
				URL:            url,
				SHA256:         sha256,
				RequiresDist:   info.Info.RequiresDist,
				RequiresPython: info.Info.RequiresPython,
			},
		})
	}

	return records, nil
}

// bestWheelURL picks a release file for version, preferring the first
// non-yanked wheel (of any tag) over an sdist. Stage 2's exact tag-compatibility selection is
// internal/downloader.SelectWheel's job once a lockfile record is actually
// installed; here we only need a stable URL/digest to record.
func bestWheelURL(info *pypi.PackageInfo, version string) (url, sha256 string) {
	files := info.Releases[version]
	if len(files) == 0 {
		files = info.URLs
	}

	var fallback pypi.URL

	for _, f := range files {
		if f.Yanked {
			continue
		}

		if f.PackageType == "bdist_wheel" {
			return f.URL, f.Digests.SHA256
		}

		fallback = f
	}

	return fallback.URL, fallback.Digests.SHA256
}

// formatRequirement renders a PEP508Requirement back into the string form
// ParseRequirement accepts, since Service.Resolve's public surface is
// string-based.
func formatRequirement(req spec.PEP508Requirement) string {
	var b strings.Builder

	b.WriteString(req.Name)

	if req.Specifier != "" {
		b.WriteString(req.Specifier)
	}

	if req.Marker != "" {
		b.WriteString("; ")
		b.WriteString(req.Marker)
	}

	return b.String()
}

// deriveMarkerEnv builds a MarkerEnv for the PyPI stage from stage 1's
// resolved Python interpreter record, falling back to platform-only
// inference when no conda Python was solved (e.g. a PyPI-only environment).
func deriveMarkerEnv(condaByName map[string]CondaRecord, platform spec.Platform) MarkerEnv {
	env := MarkerEnv{SysPlatform: sysPlatformFor(platform), OsName: osNameFor(platform)}

	if py, ok := condaByName["python"]; ok {
		env.PythonVersion = majorMinor(py.Version)
	}

	return env
}

func majorMinor(version string) string {
	parts := strings.SplitN(version, ".", 3)
	if len(parts) >= 2 {
		return parts[0] + "." + parts[1]
	}

	return version
}

func sysPlatformFor(p spec.Platform) string {
	switch {
	case strings.HasPrefix(string(p), "linux"):
		return "linux"
	case strings.HasPrefix(string(p), "osx"):
		return "darwin"
	case strings.HasPrefix(string(p), "win"):
		return "win32"
	default:
		return ""
	}
}

func osNameFor(p spec.Platform) string {
	if strings.HasPrefix(string(p), "win") {
		return "nt"
	}

	return "posix"
}

// gatewayPyPIAdapter adapts gateway.Gateway to pypi.Client so the BFS
// Service can consume gateway-backed data without depending on gateway
// directly.
type gatewayPyPIAdapter struct {
	gw gateway.Gateway
}

var _ pypi.Client = (*gatewayPyPIAdapter)(nil)

func (a *gatewayPyPIAdapter) GetPackage(ctx context.Context, name string) (*pypi.PackageInfo, error) {
	return a.gw.FetchPyPIMetadata(ctx, name)
}

func (a *gatewayPyPIAdapter) GetPackageVersion(ctx context.Context, name, _ string) (*pypi.PackageInfo, error) {
	return a.gw.FetchPyPIMetadata(ctx, name)
}
