package acceptance

import (
	"context"

	"github.com/bilusteknoloji/pixi/internal/cache"
	"github.com/bilusteknoloji/pixi/internal/config"
	"github.com/bilusteknoloji/pixi/internal/lockfile"
	"github.com/bilusteknoloji/pixi/internal/manifest"
	"github.com/bilusteknoloji/pixi/internal/spec"
)

// world carries one scenario's state across steps, threaded through
// context.Value the way internal/task/shell's callers and the tsukumogami
// functional suite both do, since godog scenarios run concurrently and a
// package-level variable would race.
type world struct {
	dir string

	ws       *manifest.Workspace
	gw       *fakeGateway
	mp       *fakeMapper
	cfg      *config.Config
	platform spec.Platform

	cacheDir string
	cacheMgr *cache.Manager

	lf *lockfile.Lockfile

	slices     map[string]*lockfile.Slice // "env/platform" -> last solved slice
	solveErr   error
	lastRecord lockfile.Record

	backendCounts fakeBackendCounts

	effForStaleCheck *manifest.EffectiveFeatureSet
	satisfiesOK      bool
	satisfiesReason  *lockfile.Reason
}

type worldKeyType struct{}

var worldKey = worldKeyType{}

func withWorld(ctx context.Context, w *world) context.Context {
	return context.WithValue(ctx, worldKey, w)
}

func getWorld(ctx context.Context) *world {
	w, _ := ctx.Value(worldKey).(*world)

	return w
}
