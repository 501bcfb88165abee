package config

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// ImplicitRange builds the conda version-range string used when a
// dependency is added without an explicit range. The pinning strategy only
// shapes this implicit range; it is never consulted at solve time. The
// input version is parsed as semver to pick out the
// major/minor/patch components the range is built from; most conda-forge
// package versions are dotted-numeric and parse cleanly under semver's
// loose mode for this narrow purpose. Exact solve-time comparison never
// uses this type; that's spec.CondaVersion, parsed separately.
func ImplicitRange(strategy PinningStrategy, version string) (string, error) {
	if strategy == PinNoPin || version == "" {
		return "", nil
	}

	v, err := semver.NewVersion(version)
	if err != nil {
		// Not a semver-shaped version (common for conda build strings);
		// fall back to a plain lower bound rather than guessing a range.
		return fmt.Sprintf(">=%s", version), nil
	}

	switch strategy {
	case PinExactVersion:
		return fmt.Sprintf("==%s", version), nil
	case PinMajor:
		return fmt.Sprintf(">=%d,<%d", v.Major(), v.Major()+1), nil
	case PinMinor:
		return fmt.Sprintf(">=%d.%d,<%d.%d", v.Major(), v.Minor(), v.Major(), v.Minor()+1), nil
	case PinLatestUp:
		return fmt.Sprintf(">=%s", version), nil
	case PinSemver:
		fallthrough
	default:
		if v.Major() > 0 {
			return fmt.Sprintf(">=%d.%d.%d,<%d", v.Major(), v.Minor(), v.Patch(), v.Major()+1), nil
		}

		return fmt.Sprintf(">=%d.%d.%d,<%d.%d", v.Major(), v.Minor(), v.Patch(), v.Major(), v.Minor()+1), nil
	}
}
