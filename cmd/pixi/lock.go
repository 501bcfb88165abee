package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/bilusteknoloji/pixi/internal/lockfile"
	"github.com/bilusteknoloji/pixi/internal/manifest"
	"github.com/bilusteknoloji/pixi/internal/resolver"
	"github.com/bilusteknoloji/pixi/internal/spec"
)

func newLockCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Solve every environment/platform pair and update the lockfile",
		Args:  cobra.NoArgs,
		RunE:  runLock,
	}

	cmd.Flags().String("platform", "", "Limit solving to one target platform (default: every declared platform)")

	return cmd
}

// solveUnit is one independently schedulable solve: either a single
// environment (group == "") or every member of a named solve-group,
// solved jointly via resolver.SolveGroup so their shared packages carry
// identical versions.
type solveUnit struct {
	group    string // "" for a lone environment
	envs     []string
	platform spec.Platform
}

// runLock re-solves every (environment, platform) pair the workspace
// declares and merges the results into pixi.lock, regardless of whether the
// existing lockfile already satisfies the manifest. Solves
// for independent units run concurrently, bounded by
// config.Config.MaxConcurrentSolves; the lockfile itself is only ever merged
// and written from this single goroutine, so concurrent solving never
// races a concurrent read-modify-write of pixi.lock.
func runLock(cmd *cobra.Command, _ []string) error {
	g := parseGlobalFlags(cmd)
	logger := newLogger(g.verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	s, err := loadWorkspace(g, logger)
	if err != nil {
		return err
	}

	platformFlag, _ := cmd.Flags().GetString("platform")

	units, err := lockUnits(s, platformFlag)
	if err != nil {
		return err
	}

	slices := make([]lockfile.Slice, 0, len(units))

	var mu sync.Mutex

	sem := semaphore.NewWeighted(int64(s.cfg.MaxConcurrentSolves))

	eg, egCtx := errgroup.WithContext(ctx)

	for _, u := range units {
		u := u

		eg.Go(func() error {
			if err := sem.Acquire(egCtx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			unitSlices, err := solveUnitAgainst(egCtx, s, u)
			if err != nil {
				return err
			}

			mu.Lock()
			slices = append(slices, unitSlices...)
			mu.Unlock()

			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return err
	}

	lf, err := lockfile.Read(lockfilePath(s.ws))
	if err != nil {
		return fmt.Errorf("reading lockfile: %w", err)
	}

	for _, slice := range slices {
		lf.Merge(slice)
	}

	if err := lockfile.Write(lockfilePath(s.ws), lf); err != nil {
		return fmt.Errorf("writing lockfile: %w", err)
	}

	fmt.Printf("Updated pixi.lock for %d environment/platform pair(s)\n", len(slices))

	return nil
}

// solveUnitAgainst solves u, returning one lockfile.Slice per environment it
// covers.
func solveUnitAgainst(ctx context.Context, s *workspaceSetup, u solveUnit) ([]lockfile.Slice, error) {
	if u.group == "" {
		slice, err := solveSlice(ctx, s, u.envs[0], u.platform)
		if err != nil {
			return nil, fmt.Errorf("locking %s/%s: %w", u.envs[0], u.platform, err)
		}

		return []lockfile.Slice{slice}, nil
	}

	members := make(map[string]*manifest.EffectiveFeatureSet, len(u.envs))

	for _, envName := range u.envs {
		eff, err := s.ws.Resolve(envName, u.platform)
		if err != nil {
			return nil, fmt.Errorf("resolving environment %q: %w", envName, err)
		}

		members[envName] = eff
	}

	slicesByEnv, err := resolver.SolveGroup(ctx, s.gw, s.mapper, u.group, members, s.cfg)
	if err != nil {
		return nil, fmt.Errorf("locking solve-group %q/%s: %w", u.group, u.platform, err)
	}

	out := make([]lockfile.Slice, 0, len(slicesByEnv))

	for _, envName := range u.envs {
		out = append(out, *slicesByEnv[envName])
	}

	return out, nil
}

// lockUnits enumerates every solve unit to run, honoring the --platform
// flag when set and grouping environments that share a `solve-group` name
// into one joint unit per platform.
func lockUnits(s *workspaceSetup, platformFlag string) ([]solveUnit, error) {
	envNames := make([]string, 0, len(s.ws.Environments))
	for name := range s.ws.Environments {
		envNames = append(envNames, name)
	}

	sort.Strings(envNames)

	platforms := s.ws.Platforms

	if platformFlag != "" {
		p, err := spec.ParsePlatform(platformFlag)
		if err != nil {
			return nil, err
		}

		platforms = []spec.Platform{p}
	}

	var units []solveUnit

	for _, platform := range platforms {
		groups := map[string][]string{}

		var ungrouped []string

		for _, envName := range envNames {
			group := s.ws.Environments[envName].SolveGroup
			if group == "" {
				ungrouped = append(ungrouped, envName)

				continue
			}

			groups[group] = append(groups[group], envName)
		}

		for _, envName := range ungrouped {
			units = append(units, solveUnit{envs: []string{envName}, platform: platform})
		}

		groupNames := make([]string, 0, len(groups))
		for name := range groups {
			groupNames = append(groupNames, name)
		}

		sort.Strings(groupNames)

		for _, group := range groupNames {
			units = append(units, solveUnit{group: group, envs: groups[group], platform: platform})
		}
	}

	return units, nil
}
