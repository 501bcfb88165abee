package lockfile_test

import (
	"testing"

	"github.com/bilusteknoloji/pixi/internal/lockfile"
	"github.com/bilusteknoloji/pixi/internal/manifest"
	"github.com/bilusteknoloji/pixi/internal/spec"
)

func condaDep(t *testing.T, raw string) spec.Dependency {
	t.Helper()

	ms, err := spec.ParseMatchSpec(raw)
	if err != nil {
		t.Fatalf("ParseMatchSpec(%q): %v", raw, err)
	}

	return spec.Dependency{Kind: spec.DependencyConda, Match: ms}
}

func pypiDep(raw string) spec.Dependency {
	return spec.Dependency{Kind: spec.DependencyPyPI, PyPI: spec.ParsePEP508(raw)}
}

func effFor(deps, pypiDeps []spec.Dependency) *manifest.EffectiveFeatureSet {
	return &manifest.EffectiveFeatureSet{
		Environment:      "default",
		Platform:         spec.PlatformLinux64,
		Channels:         []string{"conda-forge"},
		Dependencies:     deps,
		PypiDependencies: pypiDeps,
	}
}

func TestSatisfies(t *testing.T) {
	lf := lockfile.New()
	lf.Merge(sampleSlice("default", spec.PlatformLinux64))

	tests := []struct {
		name        string
		eff         *manifest.EffectiveFeatureSet
		want        bool
		wantProblem string
	}{
		{
			name: "matching specs",
			eff:  effFor([]spec.Dependency{condaDep(t, "python >=3.12")}, []spec.Dependency{pypiDep("requests")}),
			want: true,
		},
		{
			name:        "new conda spec has no record",
			eff:         effFor([]spec.Dependency{condaDep(t, "python >=3.12"), condaDep(t, "numpy")}, nil),
			want:        false,
			wantProblem: "missing",
		},
		{
			name:        "tightened range no longer matches",
			eff:         effFor([]spec.Dependency{condaDep(t, "python >=3.13")}, nil),
			want:        false,
			wantProblem: "missing",
		},
		{
			name:        "hash pin no longer matches",
			eff:         effFor([]spec.Dependency{condaDep(t, "python [sha256=feedbeef]")}, nil),
			want:        false,
			wantProblem: "hash-mismatch",
		},
		{
			name:        "new pypi spec has no record",
			eff:         effFor(nil, []spec.Dependency{pypiDep("flask")}),
			want:        false,
			wantProblem: "missing",
		},
		{
			name: "pypi name claimed by the conda record",
			eff:  effFor(nil, []spec.Dependency{pypiDep("python")}),
			want: true,
		},
		{
			name: "required channel absent",
			eff: &manifest.EffectiveFeatureSet{
				Environment: "default",
				Platform:    spec.PlatformLinux64,
				Channels:    []string{"conda-forge", "bioconda"},
			},
			want:        false,
			wantProblem: "channel-missing",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, reason := lockfile.Satisfies(lf, tc.eff)
			if got != tc.want {
				t.Fatalf("Satisfies = %v (reason %v), want %v", got, reason, tc.want)
			}

			if !tc.want && reason.Problem != tc.wantProblem {
				t.Fatalf("reason.Problem = %q, want %q", reason.Problem, tc.wantProblem)
			}
		})
	}
}

func TestSatisfiesMissingSlice(t *testing.T) {
	lf := lockfile.New()

	ok, reason := lockfile.Satisfies(lf, effFor(nil, nil))
	if ok {
		t.Fatal("expected an empty lockfile to be stale")
	}

	if reason.Problem != "missing" {
		t.Fatalf("reason.Problem = %q, want %q", reason.Problem, "missing")
	}
}

func TestSatisfiesSourceFingerprintChanged(t *testing.T) {
	ref := &spec.SourceRef{Kind: spec.SourceRefPath, Path: "./foo"}

	lf := lockfile.New()
	lf.Merge(lockfile.Slice{
		Environment: "default",
		Platform:    spec.PlatformLinux64,
		Channels:    []string{"conda-forge"},
		Records: []lockfile.Record{{
			Kind: lockfile.RecordSourceBuilt,
			SourceBuilt: &lockfile.SourceBuilt{
				Fingerprint: "stale-fingerprint",
				Produced: lockfile.CondaPackage{
					Name: "foo", Version: "1.0.0", Build: "py_0",
					URL: "file:///cache/foo-1.0.0-py_0.conda", SHA256: "foosha",
					Subdir: "linux-64", Channel: "conda-forge",
				},
			},
		}},
	})

	eff := effFor([]spec.Dependency{{
		Kind:   spec.DependencySource,
		Match:  spec.MatchSpec{Name: "foo"},
		Source: ref,
	}}, nil)

	ok, reason := lockfile.Satisfies(lf, eff)
	if ok {
		t.Fatal("expected a changed source fingerprint to be stale")
	}

	if reason.Problem != "source-fingerprint-changed" {
		t.Fatalf("reason.Problem = %q, want %q", reason.Problem, "source-fingerprint-changed")
	}
}
