package spec

import "fmt"

// Platform is one of the closed set of conda platform tags.
type Platform string

const (
	PlatformLinux64       Platform = "linux-64"
	PlatformLinuxAarch64  Platform = "linux-aarch64"
	PlatformLinuxPpc64le  Platform = "linux-ppc64le"
	PlatformOsx64         Platform = "osx-64"
	PlatformOsxArm64      Platform = "osx-arm64"
	PlatformWin64         Platform = "win-64"
	PlatformNoarch        Platform = "noarch"
)

var knownPlatforms = map[Platform]bool{
	PlatformLinux64:      true,
	PlatformLinuxAarch64: true,
	PlatformLinuxPpc64le: true,
	PlatformOsx64:        true,
	PlatformOsxArm64:     true,
	PlatformWin64:        true,
	PlatformNoarch:       true,
}

// ParsePlatform validates a platform tag against the closed set.
func ParsePlatform(s string) (Platform, error) {
	p := Platform(s)
	if !knownPlatforms[p] {
		return "", fmt.Errorf("unknown platform %q", s)
	}

	return p, nil
}

// IsOSFamily reports whether the platform belongs to the given OS family
// ("linux", "osx", "win"), used when evaluating system requirements.
func (p Platform) IsOSFamily(family string) bool {
	switch family {
	case "linux":
		return p == PlatformLinux64 || p == PlatformLinuxAarch64 || p == PlatformLinuxPpc64le
	case "osx":
		return p == PlatformOsx64 || p == PlatformOsxArm64
	case "win":
		return p == PlatformWin64
	default:
		return false
	}
}

// Arch returns the architecture component of the platform tag, e.g.
// "64", "aarch64", "arm64". Empty for noarch.
func (p Platform) Arch() string {
	switch p {
	case PlatformLinux64, PlatformOsx64, PlatformWin64:
		return "64"
	case PlatformLinuxAarch64:
		return "aarch64"
	case PlatformLinuxPpc64le:
		return "ppc64le"
	case PlatformOsxArm64:
		return "arm64"
	default:
		return ""
	}
}
