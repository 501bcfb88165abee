package lockfile_test

import (
	"path/filepath"
	"testing"

	"github.com/bilusteknoloji/pixi/internal/lockfile"
	"github.com/bilusteknoloji/pixi/internal/manifest"
	"github.com/bilusteknoloji/pixi/internal/spec"
)

func sampleSlice(env string, platform spec.Platform) lockfile.Slice {
	return lockfile.Slice{
		Environment: env,
		Platform:    platform,
		Channels:    []string{"conda-forge"},
		Records: []lockfile.Record{
			{
				Kind: lockfile.RecordConda,
				Conda: &lockfile.CondaPackage{
					Name: "python", Version: "3.12.4", Build: "h1234", URL: "https://example/python.conda",
					SHA256: "abc", Subdir: string(platform), Channel: "conda-forge",
				},
			},
			{
				Kind: lockfile.RecordPyPIWheel,
				PyPI: &lockfile.PyPIPackage{
					Name: "requests", Version: "2.32.0", URL: "https://example/requests.whl", SHA256: "def",
				},
			},
		},
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	lf := lockfile.New()
	lf.Merge(sampleSlice("default", spec.PlatformLinux64))

	path := filepath.Join(t.TempDir(), "pixi.lock")
	if err := lockfile.Write(path, lf); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := lockfile.Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if got.Version != lockfile.FormatVersion {
		t.Fatalf("Version = %d, want %d", got.Version, lockfile.FormatVersion)
	}

	slice, ok := got.Slice("default", spec.PlatformLinux64)
	if !ok {
		t.Fatal("expected default/linux-64 slice")
	}

	if len(slice.Records) != 2 {
		t.Fatalf("len(Records) = %d, want 2", len(slice.Records))
	}
}

func TestMergeDeduplicatesAcrossEnvironments(t *testing.T) {
	lf := lockfile.New()
	lf.Merge(sampleSlice("default", spec.PlatformLinux64))
	lf.Merge(sampleSlice("test", spec.PlatformLinux64))

	if len(lf.Packages) != 2 {
		t.Fatalf("len(Packages) = %d, want 2 (deduplicated)", len(lf.Packages))
	}

	for _, r := range lf.Packages {
		if len(r.Environments) != 2 {
			t.Fatalf("record %s environments = %v, want both default and test", r.Name(), r.Environments)
		}
	}
}

func TestSatisfies_MissingDependency(t *testing.T) {
	lf := lockfile.New()
	lf.Merge(sampleSlice("default", spec.PlatformLinux64))

	eff := &manifest.EffectiveFeatureSet{
		Environment: "default",
		Platform:    spec.PlatformLinux64,
		Channels:    []string{"conda-forge"},
		Dependencies: []spec.Dependency{
			{Kind: spec.DependencyConda, Match: spec.MatchSpec{Name: "numpy"}},
		},
	}

	ok, reason := lockfile.Satisfies(lf, eff)
	if ok {
		t.Fatal("expected unsatisfied lockfile for a dependency with no recorded record")
	}

	if reason.Problem != "missing" {
		t.Fatalf("Problem = %q, want missing", reason.Problem)
	}
}

func TestSatisfies_HashPinMismatch(t *testing.T) {
	lf := lockfile.New()
	lf.Merge(sampleSlice("default", spec.PlatformLinux64))

	eff := &manifest.EffectiveFeatureSet{
		Environment: "default",
		Platform:    spec.PlatformLinux64,
		Channels:    []string{"conda-forge"},
		Dependencies: []spec.Dependency{
			{Kind: spec.DependencyConda, Match: spec.MatchSpec{Name: "python", SHA256: "not-the-recorded-hash"}},
		},
	}

	ok, reason := lockfile.Satisfies(lf, eff)
	if ok {
		t.Fatal("expected stale lockfile on hash mismatch")
	}

	if reason.Problem != "hash-mismatch" {
		t.Fatalf("Problem = %q, want hash-mismatch", reason.Problem)
	}
}

func TestSatisfies_UpToDate(t *testing.T) {
	lf := lockfile.New()
	lf.Merge(sampleSlice("default", spec.PlatformLinux64))

	eff := &manifest.EffectiveFeatureSet{
		Environment: "default",
		Platform:    spec.PlatformLinux64,
		Channels:    []string{"conda-forge"},
		Dependencies: []spec.Dependency{
			{Kind: spec.DependencyConda, Match: spec.MatchSpec{Name: "python"}},
		},
		PypiDependencies: []spec.Dependency{
			{Kind: spec.DependencyPyPI, PyPI: spec.PEP508Requirement{Name: "requests"}},
		},
	}

	ok, reason := lockfile.Satisfies(lf, eff)
	if !ok {
		t.Fatalf("expected up-to-date lockfile, got stale: %v", reason)
	}
}

func TestSatisfies_MissingEnvironmentSlice(t *testing.T) {
	lf := lockfile.New()

	eff := &manifest.EffectiveFeatureSet{Environment: "default", Platform: spec.PlatformLinux64}

	ok, reason := lockfile.Satisfies(lf, eff)
	if ok {
		t.Fatal("expected unsatisfied for an empty lockfile")
	}

	if reason.Problem != "missing" {
		t.Fatalf("Problem = %q, want missing", reason.Problem)
	}
}
