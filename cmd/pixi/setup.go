package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/bilusteknoloji/pixi/internal/cache"
	"github.com/bilusteknoloji/pixi/internal/config"
	"github.com/bilusteknoloji/pixi/internal/gateway"
	"github.com/bilusteknoloji/pixi/internal/installer"
	"github.com/bilusteknoloji/pixi/internal/lockfile"
	"github.com/bilusteknoloji/pixi/internal/mapper"
	"github.com/bilusteknoloji/pixi/internal/manifest"
	"github.com/bilusteknoloji/pixi/internal/pixierr"
	"github.com/bilusteknoloji/pixi/internal/resolver"
	"github.com/bilusteknoloji/pixi/internal/spec"
)

// workspaceSetup bundles the objects every subcommand needs once it has
// loaded the manifest: the workspace itself, the resolved configuration,
// and the content-addressed package cache backing both the gateway and the
// installer.
type workspaceSetup struct {
	ws     *manifest.Workspace
	cfg    *config.Config
	cache  *cache.Manager
	gw     *gateway.Service
	mapper *mapper.Service
}

func loadWorkspace(g globalFlags, logger *slog.Logger) (*workspaceSetup, error) {
	ws, err := manifest.Load(g.manifestPath)
	if err != nil {
		return nil, fmt.Errorf("loading workspace: %w", err)
	}

	cfg := config.New(
		config.WithFrozen(g.frozen),
		config.WithLocked(g.locked),
	)

	cacheMgr, err := cache.New(cache.WithDir(cfg.CacheDir))
	if err != nil {
		return nil, fmt.Errorf("opening package cache: %w", err)
	}

	gw := gateway.New(
		gateway.WithLogger(logger),
		gateway.WithHTTPClient(cfg.HTTPClient),
		gateway.WithMaxConcurrentDownloads(cfg.MaxConcurrentDownloads),
	)
	mp := mapper.New(mapper.WithCacheDir(cfg.CacheDir), mapper.WithLogger(logger))

	return &workspaceSetup{ws: ws, cfg: cfg, cache: cacheMgr, gw: gw, mapper: mp}, nil
}

// hostPlatform reports the conda platform tag for the process's own OS and
// architecture, used when no --platform flag narrows a command to another
// target.
func hostPlatform() (spec.Platform, error) {
	var tag string

	switch runtime.GOOS {
	case "linux":
		switch runtime.GOARCH {
		case "amd64":
			tag = "linux-64"
		case "arm64":
			tag = "linux-aarch64"
		case "ppc64le":
			tag = "linux-ppc64le"
		}
	case "darwin":
		switch runtime.GOARCH {
		case "amd64":
			tag = "osx-64"
		case "arm64":
			tag = "osx-arm64"
		}
	case "windows":
		if runtime.GOARCH == "amd64" {
			tag = "win-64"
		}
	}

	if tag == "" {
		return "", fmt.Errorf("unsupported host platform %s/%s", runtime.GOOS, runtime.GOARCH)
	}

	return spec.ParsePlatform(tag)
}

// resolvePlatformFlag returns the --platform override if set and valid,
// otherwise the host platform.
func resolvePlatformFlag(cmd *cobra.Command, ws *manifest.Workspace) (spec.Platform, error) {
	raw, _ := cmd.Flags().GetString("platform")
	if raw == "" {
		return hostPlatform()
	}

	return spec.ParsePlatform(raw)
}

func lockfilePath(ws *manifest.Workspace) string {
	return filepath.Join(ws.Root, "pixi.lock")
}

func prefixPath(ws *manifest.Workspace, envName string) string {
	return filepath.Join(ws.Root, ".pixi", "envs", envName)
}

// resolveAndLock computes the effective feature set for (envName, platform),
// solves it into a lockfile slice (skipping the network entirely when the
// workspace is frozen), and merges the result into the on-disk lockfile.
func resolveAndLock(ctx context.Context, s *workspaceSetup, envName string, platform spec.Platform) (lockfile.Slice, error) {
	eff, err := s.ws.Resolve(envName, platform)
	if err != nil {
		return lockfile.Slice{}, fmt.Errorf("resolving environment %q: %w", envName, err)
	}

	lf, err := lockfile.Read(lockfilePath(s.ws))
	if err != nil {
		return lockfile.Slice{}, fmt.Errorf("reading lockfile: %w", err)
	}

	if s.cfg.Frozen {
		slice, ok := lf.Slice(envName, platform)
		if !ok {
			return lockfile.Slice{}, fmt.Errorf("lockfile has no entry for %s/%s and --frozen forbids solving", envName, platform)
		}

		return slice, nil
	}

	ok, reason := lockfile.Satisfies(lf, eff)
	if ok {
		slice, _ := lf.Slice(envName, platform)

		return slice, nil
	}

	if s.cfg.Locked {
		return lockfile.Slice{}, &pixierr.LockfileStale{Environment: envName, Platform: string(platform), Reason: reason.String()}
	}

	slicePtr, err := resolver.Solve(ctx, s.gw, s.mapper, eff, s.cfg)
	if err != nil {
		return lockfile.Slice{}, fmt.Errorf("solving %s/%s: %w", envName, platform, err)
	}

	lf.Merge(*slicePtr)

	if err := lockfile.Write(lockfilePath(s.ws), lf); err != nil {
		return lockfile.Slice{}, fmt.Errorf("writing lockfile: %w", err)
	}

	return *slicePtr, nil
}

// solveSlice runs the resolver for one (environment, platform) pair without
// touching the on-disk lockfile, so callers that need to solve several
// pairs concurrently (e.g. `pixi lock`) can bound simultaneous solves with
// `max_concurrent_solves` and merge results into the lockfile
// serially afterward.
func solveSlice(ctx context.Context, s *workspaceSetup, envName string, platform spec.Platform) (lockfile.Slice, error) {
	eff, err := s.ws.Resolve(envName, platform)
	if err != nil {
		return lockfile.Slice{}, fmt.Errorf("resolving environment %q: %w", envName, err)
	}

	slicePtr, err := resolver.Solve(ctx, s.gw, s.mapper, eff, s.cfg)
	if err != nil {
		return lockfile.Slice{}, fmt.Errorf("solving %s/%s: %w", envName, platform, err)
	}

	return *slicePtr, nil
}

// ensureInstalled brings envName's prefix up to date with slice, the same
// materialization step `pixi install` performs, reused by any subcommand
// (e.g. `run`) that needs a guaranteed-installed environment before acting.
func ensureInstalled(ctx context.Context, s *workspaceSetup, envName string, slice lockfile.Slice, logger *slog.Logger) error {
	inst := installer.NewPrefixInstaller(s.cache, installer.WithPrefixLogger(logger))

	prefix := prefixPath(s.ws, envName)

	if err := inst.Install(ctx, prefix, slice); err != nil {
		return fmt.Errorf("installing into %s: %w", prefix, err)
	}

	return nil
}
