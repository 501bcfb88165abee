package resolver_test

import (
	"context"
	"errors"
	"testing"

	"github.com/bilusteknoloji/pixi/internal/config"
	"github.com/bilusteknoloji/pixi/internal/lockfile"
	"github.com/bilusteknoloji/pixi/internal/manifest"
	"github.com/bilusteknoloji/pixi/internal/pixierr"
	"github.com/bilusteknoloji/pixi/internal/resolver"
	"github.com/bilusteknoloji/pixi/internal/spec"
)

func TestSolveGroup_SharedDependencyResolvesIdentically(t *testing.T) {
	gw := &fakeGateway{repodata: newFakeRepodata()}
	mp := &fakeMapper{table: map[string]string{}}

	members := map[string]*manifest.EffectiveFeatureSet{
		"prod": {
			Environment: "prod",
			Platform:    spec.PlatformLinux64,
			Channels:    []string{"conda-forge"},
			Dependencies: []spec.Dependency{
				{Kind: spec.DependencyConda, Match: spec.MatchSpec{Name: "numpy"}},
			},
		},
		"test": {
			Environment: "test",
			Platform:    spec.PlatformLinux64,
			Channels:    []string{"conda-forge"},
			Dependencies: []spec.Dependency{
				{Kind: spec.DependencyConda, Match: spec.MatchSpec{Name: "numpy"}},
				{Kind: spec.DependencyConda, Match: spec.MatchSpec{Name: "python"}},
			},
		},
	}

	slices, err := resolver.SolveGroup(context.Background(), gw, mp, "main", members, config.New())
	if err != nil {
		t.Fatalf("SolveGroup: %v", err)
	}

	prodNumpy := findConda(t, slices["prod"], "numpy")
	testNumpy := findConda(t, slices["test"], "numpy")

	if prodNumpy.Version != testNumpy.Version || prodNumpy.Build != testNumpy.Build || prodNumpy.SHA256 != testNumpy.SHA256 {
		t.Fatalf("solve-group invariant violated: prod=%+v test=%+v", prodNumpy, testNumpy)
	}
}

func TestSolveGroup_ConflictingPinsRejected(t *testing.T) {
	gw := &fakeGateway{repodata: newFakeRepodata()}
	mp := &fakeMapper{table: map[string]string{}}

	members := map[string]*manifest.EffectiveFeatureSet{
		"prod": {
			Environment: "prod",
			Platform:    spec.PlatformLinux64,
			Channels:    []string{"conda-forge"},
			Dependencies: []spec.Dependency{
				{Kind: spec.DependencyConda, Match: spec.MatchSpec{Name: "numpy", VersionExpr: ">=1.26,<1.27"}},
			},
		},
		"test": {
			Environment: "test",
			Platform:    spec.PlatformLinux64,
			Channels:    []string{"conda-forge"},
			Dependencies: []spec.Dependency{
				{Kind: spec.DependencyConda, Match: spec.MatchSpec{Name: "numpy", VersionExpr: ">=2.0,<2.1"}},
			},
		},
	}

	_, err := resolver.SolveGroup(context.Background(), gw, mp, "main", members, config.New())
	if err == nil {
		t.Fatal("expected SolveGroupConflict, got nil")
	}

	var conflict *pixierr.SolveGroupConflict
	if !errors.As(err, &conflict) {
		t.Fatalf("expected *pixierr.SolveGroupConflict, got %T: %v", err, err)
	}

	if conflict.Group != "main" {
		t.Errorf("Group = %q", conflict.Group)
	}

	if len(conflict.ConflictingSpecs) != 1 || conflict.ConflictingSpecs[0] != "numpy" {
		t.Errorf("ConflictingSpecs = %+v", conflict.ConflictingSpecs)
	}
}

func findConda(t *testing.T, slice *lockfile.Slice, name string) *lockfile.CondaPackage {
	t.Helper()

	for _, r := range slice.Records {
		if r.Kind == lockfile.RecordConda && r.Conda.Name == name {
			return r.Conda
		}
	}

	t.Fatalf("no conda record named %q in slice %+v", name, slice)

	return nil
}
