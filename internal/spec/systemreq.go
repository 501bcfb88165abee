package spec

import "fmt"

// SystemRequirements is a declared floor on host capabilities,
// exposed to the resolver as synthetic virtual packages.
type SystemRequirements struct {
	Linux      string // minimum kernel version, e.g. "4.18"
	LibcFamily string // e.g. "glibc", "musl"
	LibcVersion string
	Macos      string // minimum macOS version, e.g. "12.0"
	CUDA       string // minimum CUDA version, e.g. "12.0"
}

// Merge combines two SystemRequirements, taking the max floor per field.
// Empty fields never lower an existing floor.
func (s SystemRequirements) Merge(other SystemRequirements) SystemRequirements {
	return SystemRequirements{
		Linux:       maxVersionField(s.Linux, other.Linux),
		LibcFamily:  pickNonEmpty(s.LibcFamily, other.LibcFamily),
		LibcVersion: maxVersionField(s.LibcVersion, other.LibcVersion),
		Macos:       maxVersionField(s.Macos, other.Macos),
		CUDA:        maxVersionField(s.CUDA, other.CUDA),
	}
}

func pickNonEmpty(a, b string) string {
	if b != "" {
		return b
	}

	return a
}

func maxVersionField(a, b string) string {
	if a == "" {
		return b
	}

	if b == "" {
		return a
	}

	va, errA := ParseCondaVersion(a)
	vb, errB := ParseCondaVersion(b)

	if errA != nil || errB != nil {
		return pickNonEmpty(a, b)
	}

	if va.GreaterThan(vb) {
		return a
	}

	return b
}

// VirtualPackages expands the system requirements into the synthetic
// virtual-package records the conda solver stage consults, named after the
// real rattler/conda convention.
func (s SystemRequirements) VirtualPackages(platform Platform) map[string]string {
	out := map[string]string{}

	if platform.IsOSFamily("linux") {
		out["__unix"] = "0"
		out["__linux"] = pickVersionOr(s.Linux, "0")

		if s.LibcFamily != "" {
			out["__"+s.LibcFamily] = pickVersionOr(s.LibcVersion, "2.17")
		} else {
			out["__glibc"] = pickVersionOr(s.LibcVersion, "2.17")
		}
	}

	if platform.IsOSFamily("osx") {
		out["__unix"] = "0"
		out["__osx"] = pickVersionOr(s.Macos, "10.13")
	}

	if s.CUDA != "" {
		out["__cuda"] = s.CUDA
	}

	out["__archspec"] = "1"

	return out
}

func pickVersionOr(v, fallback string) string {
	if v == "" {
		return fallback
	}

	return v
}

// Satisfies checks whether the virtual packages derived from this
// SystemRequirements satisfy a MissingVirtualPackage-style requirement of
// `name >= required`.
func (s SystemRequirements) Satisfies(platform Platform, name, requiredVersion string) (bool, error) {
	virtuals := s.VirtualPackages(platform)

	have, ok := virtuals[name]
	if !ok {
		return false, nil
	}

	haveV, err := ParseCondaVersion(have)
	if err != nil {
		return false, fmt.Errorf("parsing virtual package version %q: %w", have, err)
	}

	reqV, err := ParseCondaVersion(requiredVersion)
	if err != nil {
		return false, fmt.Errorf("parsing required version %q: %w", requiredVersion, err)
	}

	return haveV.Compare(reqV) >= 0, nil
}
