package spec

// DependencyKind tags how a Dependency should be resolved.
type DependencyKind string

const (
	DependencyConda  DependencyKind = "conda"
	DependencyPyPI   DependencyKind = "pypi"
	DependencySource DependencyKind = "source"
)

// Dependency is the tagged union of the three dependency spec forms: a
// conda MatchSpec, a PyPI PEP 508 requirement, or a Source ref (which may
// itself be conda- or PyPI-typed, per the `[pypi-dependencies]`
// convention).
type Dependency struct {
	Kind DependencyKind

	Match  MatchSpec
	PyPI   PEP508Requirement
	Source *SourceRef

	// Platforms restricts which platforms this dependency applies to; empty
	// means all platforms the environment supports.
	Platforms []Platform
}

// Name returns the normalized package name regardless of kind. A source
// dependency is named by whichever of Match/PyPI the manifest populated,
// since decode.go always fills one of them even for path/git/url forms.
func (d Dependency) Name() string {
	switch d.Kind {
	case DependencyConda:
		return d.Match.Name
	case DependencyPyPI:
		return d.PyPI.Name
	case DependencySource:
		if d.PyPI.Name != "" {
			return d.PyPI.Name
		}

		return d.Match.Name
	default:
		return ""
	}
}

// AppliesToPlatform reports whether the dependency applies to the given
// platform.
func (d Dependency) AppliesToPlatform(p Platform) bool {
	if len(d.Platforms) == 0 {
		return true
	}

	for _, candidate := range d.Platforms {
		if candidate == p {
			return true
		}
	}

	return false
}
