package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/bilusteknoloji/pixi/internal/config"
	"github.com/bilusteknoloji/pixi/internal/gateway"
	"github.com/bilusteknoloji/pixi/internal/pixierr"
	"github.com/bilusteknoloji/pixi/internal/spec"
)

// CondaRecord is one resolved conda package, the stage-1 output record.
type CondaRecord struct {
	Name        string
	Version     string
	Build       string
	BuildNumber int
	Depends     []string
	Constrains  []string
	Subdir      string
	Channel     string
	FileName    string
	URL         string
	SHA256      string
	MD5         string
	Size        int64
}

// CondaStageOption configures a CondaStage.
type CondaStageOption func(*CondaStage)

// WithCondaStageLogger sets the structured logger.
func WithCondaStageLogger(l *slog.Logger) CondaStageOption {
	return func(cs *CondaStage) {
		if l != nil {
			cs.logger = l
		}
	}
}

// CondaStage resolves the conda side of one (environment, platform)
// solve. It generalizes Service.Resolve's BFS-with-constraint-
// accumulation loop from "one PyPI name list" to conda MatchSpecs over
// repodata records, adding channel-priority tie-breaking and virtual-package
// satisfaction in place of PEP 440 ordering.
type CondaStage struct {
	gw              gateway.Gateway
	channelPriority config.ChannelPriority
	logger          *slog.Logger
}

// NewCondaStage constructs a CondaStage.
func NewCondaStage(gw gateway.Gateway, channelPriority config.ChannelPriority, opts ...CondaStageOption) *CondaStage {
	cs := &CondaStage{
		gw:              gw,
		channelPriority: channelPriority,
		logger:          slog.Default(),
	}

	for _, opt := range opts {
		opt(cs)
	}

	return cs
}

// Solve resolves specs against the given channels on platform, honoring
// virtualPackages as the synthetic satisfaction set for any `__`-prefixed
// dependency name a repodata record declares.
func (cs *CondaStage) Solve(ctx context.Context, channels []string, platform spec.Platform, specs []spec.MatchSpec, virtualPackages map[string]string) ([]CondaRecord, error) {
	repodataByChannel := make(map[string]*gateway.Repodata, len(channels))

	for _, ch := range channels {
		rd, err := cs.gw.FetchRepodata(ctx, ch, platform)
		if err != nil {
			return nil, err
		}

		repodataByChannel[ch] = rd
	}

	resolved := make(map[string]CondaRecord)
	constraints := make(map[string][]string)
	processing := make(map[string]bool)

	var queue []spec.MatchSpec
	queue = append(queue, specs...)

	for len(queue) > 0 {
		ms := queue[0]
		queue = queue[1:]

		name := ms.Name

		if strings.HasPrefix(name, "__") {
			if err := cs.checkVirtualPackage(name, ms.VersionExpr, virtualPackages); err != nil {
				return nil, err
			}

			continue
		}

		if ms.VersionExpr != "" {
			constraints[name] = append(constraints[name], ms.VersionExpr)
		}

		if rec, ok := resolved[name]; ok {
			v, err := spec.ParseCondaVersion(rec.Version)
			if err != nil {
				return nil, fmt.Errorf("parsing resolved version of %s: %w", name, err)
			}

			if !checkAllRanges(v, constraints[name]) {
				return nil, &pixierr.NoSolution{UnsatCore: []string{name}, Channels: channels}
			}

			continue
		}

		if processing[name] {
			continue
		}

		processing[name] = true

		cs.logger.Debug("resolving conda package", slog.String("name", name))

		best, err := cs.bestCandidate(channels, repodataByChannel, name, constraints[name])
		if err != nil {
			return nil, err
		}

		resolved[name] = best

		for _, dep := range best.Depends {
			depSpec, err := spec.ParseMatchSpec(dep)
			if err != nil {
				cs.logger.Debug("skipping unparseable depends entry", slog.String("entry", dep))

				continue
			}

			queue = append(queue, depSpec)
		}
	}

	return topoSortConda(resolved), nil
}

func (cs *CondaStage) checkVirtualPackage(name, requiredExpr string, virtualPackages map[string]string) error {
	have, ok := virtualPackages[name]
	if !ok {
		return &pixierr.MissingVirtualPackage{Name: name, Required: requiredExpr}
	}

	if requiredExpr == "" {
		return nil
	}

	rng, err := spec.ParseVersionRange(requiredExpr)
	if err != nil {
		return fmt.Errorf("parsing virtual package constraint %q: %w", requiredExpr, err)
	}

	haveV, err := spec.ParseCondaVersion(have)
	if err != nil {
		return fmt.Errorf("parsing virtual package version %q: %w", have, err)
	}

	if !rng.Check(haveV) {
		return &pixierr.MissingVirtualPackage{Name: name, Required: requiredExpr}
	}

	return nil
}

// bestCandidate picks the winning record for name across channels,
// applying channel priority then tie-breaking by highest
// version, then highest build number, then channel order.
//
// Under strict priority the highest-priority channel carrying the name at
// all owns it: if that channel's candidates all fail the version
// constraints, the solve fails rather than falling through to a
// lower-priority channel. With priority disabled, every channel's records
// are pooled before the version filter runs.
func (cs *CondaStage) bestCandidate(channels []string, repodataByChannel map[string]*gateway.Repodata, name string, constraintExprs []string) (CondaRecord, error) {
	ranges := make([]spec.VersionRange, 0, len(constraintExprs))

	for _, expr := range constraintExprs {
		rng, err := spec.ParseVersionRange(expr)
		if err != nil {
			return CondaRecord{}, fmt.Errorf("parsing constraint %q for %s: %w", expr, name, err)
		}

		ranges = append(ranges, rng)
	}

	if cs.channelPriority == config.ChannelPriorityDisabled {
		var all []gateway.RepodataRecord

		for _, ch := range channels {
			all = append(all, repodataByChannel[ch].Packages[name]...)
		}

		candidates := matchingCandidates(all, ranges)
		if len(candidates) == 0 {
			return CondaRecord{}, &pixierr.NoSolution{UnsatCore: []string{name}, Channels: channels}
		}

		return pickBest(candidates), nil
	}

	for _, ch := range channels {
		records := repodataByChannel[ch].Packages[name]
		if len(records) == 0 {
			continue
		}

		candidates := matchingCandidates(records, ranges)
		if len(candidates) == 0 {
			return CondaRecord{}, &pixierr.NoSolution{UnsatCore: []string{name}, Channels: channels}
		}

		return pickBest(candidates), nil
	}

	return CondaRecord{}, &pixierr.NoSolution{UnsatCore: []string{name}, Channels: channels}
}

func matchingCandidates(records []gateway.RepodataRecord, ranges []spec.VersionRange) []gateway.RepodataRecord {
	var out []gateway.RepodataRecord

	for _, r := range records {
		v, err := spec.ParseCondaVersion(r.Version)
		if err != nil {
			continue
		}

		ok := true

		for _, rng := range ranges {
			if !rng.Check(v) {
				ok = false

				break
			}
		}

		if ok {
			out = append(out, r)
		}
	}

	return out
}

func pickBest(candidates []gateway.RepodataRecord) CondaRecord {
	best := candidates[0]
	bestVersion, _ := spec.ParseCondaVersion(best.Version)

	for _, c := range candidates[1:] {
		v, err := spec.ParseCondaVersion(c.Version)
		if err != nil {
			continue
		}

		switch {
		case v.GreaterThan(bestVersion):
			best, bestVersion = c, v
		case v.Equal(bestVersion) && c.BuildNumber > best.BuildNumber:
			best = c
		}
	}

	return CondaRecord{
		Name: best.Name, Version: best.Version, Build: best.Build, BuildNumber: best.BuildNumber,
		Depends: best.Depends, Constrains: best.Constrains, Subdir: best.Subdir, Channel: best.Channel,
		FileName: best.FileName, URL: strings.TrimSuffix(best.Channel, "/") + "/" + best.Subdir + "/" + best.FileName,
		SHA256: best.SHA256, MD5: best.MD5, Size: best.Size,
	}
}

func checkAllRanges(v spec.CondaVersion, exprs []string) bool {
	for _, expr := range exprs {
		rng, err := spec.ParseVersionRange(expr)
		if err != nil {
			continue
		}

		if !rng.Check(v) {
			return false
		}
	}

	return true
}

// topoSortConda orders records topologically on Depends, ties broken by
// name.
func topoSortConda(resolved map[string]CondaRecord) []CondaRecord {
	names := make([]string, 0, len(resolved))
	for name := range resolved {
		names = append(names, name)
	}

	sort.Strings(names)

	visited := make(map[string]bool, len(names))
	onStack := make(map[string]bool, len(names))

	var out []CondaRecord

	var visit func(name string)

	visit = func(name string) {
		if visited[name] || onStack[name] {
			return
		}

		onStack[name] = true

		rec, ok := resolved[name]
		if ok {
			depNames := dependencyNames(rec.Depends)
			sort.Strings(depNames)

			for _, dep := range depNames {
				if _, ok := resolved[dep]; ok {
					visit(dep)
				}
			}
		}

		onStack[name] = false
		visited[name] = true

		if ok {
			out = append(out, rec)
		}
	}

	for _, name := range names {
		visit(name)
	}

	return out
}

func dependencyNames(depends []string) []string {
	names := make([]string, 0, len(depends))

	for _, d := range depends {
		ms, err := spec.ParseMatchSpec(d)
		if err != nil || strings.HasPrefix(ms.Name, "__") {
			continue
		}

		names = append(names, ms.Name)
	}

	return names
}
