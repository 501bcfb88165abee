package lockfile

import (
	"fmt"

	"github.com/bilusteknoloji/pixi/internal/manifest"
	"github.com/bilusteknoloji/pixi/internal/spec"
)

// Reason explains why Satisfies returned false, carrying enough structure
// for pixierr.LockfileStale to report a precise mismatch.
type Reason struct {
	Spec    string
	Problem string // "missing", "hash-mismatch", "channel-missing", "system-requirement-tightened", "source-fingerprint-changed"
}

func (r Reason) String() string {
	return fmt.Sprintf("%s: %s", r.Problem, r.Spec)
}

// Satisfies reports whether the lockfile slice for (environment, platform)
// still matches eff's effective dependency set, without touching the
// network. It is the single source of truth `--frozen`,
// `--locked`, and the default (resolve-only-stale-slices) install paths all
// consult.
func Satisfies(lf *Lockfile, eff *manifest.EffectiveFeatureSet) (bool, *Reason) {
	slice, ok := lf.Slice(eff.Environment, eff.Platform)
	if !ok {
		return false, &Reason{Spec: eff.Environment + "/" + string(eff.Platform), Problem: "missing"}
	}

	if reason := channelsMissing(slice, eff); reason != nil {
		return false, reason
	}

	byName := make(map[string]Record, len(slice.Records))
	for _, r := range slice.Records {
		byName[r.Name()] = r
	}

	for _, dep := range eff.Dependencies {
		if !dep.AppliesToPlatform(eff.Platform) {
			continue
		}

		if reason := satisfiesCondaDependency(dep, byName); reason != nil {
			return false, reason
		}
	}

	for _, dep := range eff.PypiDependencies {
		if !dep.AppliesToPlatform(eff.Platform) {
			continue
		}

		if reason := satisfiesPyPIDependency(dep, byName); reason != nil {
			return false, reason
		}
	}

	if reason := systemRequirementsTightened(slice, eff); reason != nil {
		return false, reason
	}

	return true, nil
}

func channelsMissing(slice Slice, eff *manifest.EffectiveFeatureSet) *Reason {
	have := make(map[string]bool, len(slice.Channels))
	for _, c := range slice.Channels {
		have[c] = true
	}

	for _, c := range eff.Channels {
		if !have[c] {
			return &Reason{Spec: c, Problem: "channel-missing"}
		}
	}

	return nil
}

// satisfiesCondaDependency checks a single conda or source dependency
// against the recorded slice. A hash-pinned MatchSpec (sha256/md5 given)
// that no longer matches the recorded record's hash is stale even if the
// name is still present.
func satisfiesCondaDependency(dep spec.Dependency, byName map[string]Record) *Reason {
	name := dep.Name()

	record, ok := byName[name]
	if !ok {
		return &Reason{Spec: name, Problem: "missing"}
	}

	if dep.Kind == spec.DependencySource {
		return satisfiesSourceDependency(dep, record)
	}

	ms := dep.Match

	if record.Kind != RecordConda {
		return &Reason{Spec: name, Problem: "missing"}
	}

	if ms.SHA256 != "" && ms.SHA256 != record.Conda.SHA256 {
		return &Reason{Spec: name, Problem: "hash-mismatch"}
	}

	if ms.MD5 != "" && ms.MD5 != record.Conda.MD5 {
		return &Reason{Spec: name, Problem: "hash-mismatch"}
	}

	if ms.VersionExpr != "" {
		rng, err := ms.Range()
		if err == nil {
			v, err := spec.ParseCondaVersion(record.Conda.Version)
			if err == nil && !rng.Check(v) {
				return &Reason{Spec: name, Problem: "missing"}
			}
		}
	}

	return nil
}

func satisfiesSourceDependency(dep spec.Dependency, record Record) *Reason {
	name := dep.Name()

	if record.Kind != RecordSourceBuilt {
		return &Reason{Spec: name, Problem: "missing"}
	}

	if dep.Source == nil {
		return nil
	}

	if dep.Source.Fingerprint() != record.SourceBuilt.Fingerprint {
		return &Reason{Spec: name, Problem: "source-fingerprint-changed"}
	}

	return nil
}

func satisfiesPyPIDependency(dep spec.Dependency, byName map[string]Record) *Reason {
	name := dep.Name()

	record, ok := byName[name]
	if !ok {
		return &Reason{Spec: name, Problem: "missing"}
	}

	// A PyPI name claimed by a conda record in stage 1 is satisfied by that
	// conda record and never produces a second PyPI entry.
	if record.Kind == RecordConda {
		return nil
	}

	if record.Kind != RecordPyPIWheel && record.Kind != RecordPyPISource {
		return &Reason{Spec: name, Problem: "missing"}
	}

	if dep.Kind == spec.DependencySource && dep.Source != nil {
		if record.Kind != RecordPyPISource {
			return &Reason{Spec: name, Problem: "missing"}
		}
	}

	return nil
}

// systemRequirementsTightened reports staleness when the manifest's
// system-requirements floor now exceeds what any recorded conda record's
// virtual-package constraint was solved against. It only catches floors recorded
// directly in a `depends`/`constrains` entry (e.g. `__glibc >=2.28`);
// floors no conda package constrains on at all can't regress against this
// slice and are left to the next resolve to confirm.
func systemRequirementsTightened(slice Slice, eff *manifest.EffectiveFeatureSet) *Reason {
	virtuals := eff.SystemRequirements.VirtualPackages(eff.Platform)
	if len(virtuals) == 0 {
		return nil
	}

	for _, r := range slice.Records {
		if r.Kind != RecordConda {
			continue
		}

		for _, d := range append(append([]string{}, r.Conda.Depends...), r.Conda.Constrains...) {
			ms, err := spec.ParseMatchSpec(d)
			if err != nil {
				continue
			}

			floorStr, ok := virtuals[ms.Name]
			if !ok {
				continue
			}

			rng, err := ms.Range()
			if err != nil {
				continue
			}

			floor, err := spec.ParseCondaVersion(floorStr)
			if err == nil && !rng.Check(floor) {
				return &Reason{Spec: ms.Name, Problem: "system-requirement-tightened"}
			}
		}
	}

	return nil
}
