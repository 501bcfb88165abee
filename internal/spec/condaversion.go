package spec

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// CondaVersion is a parsed conda/rattler version string: an optional epoch,
// dot/dash-separated segments, each segment an alternating run of numeric and
// alphabetic components (e.g. "1.0.0post1", "2023.08.01a1").
//
// The ordering is distinct from both semver and PEP 440, so the
// comparison is implemented here rather than borrowed from either.
type CondaVersion struct {
	raw     string
	epoch   int
	segments [][]component
}

// component is one token within a version segment: either a number or a
// string qualifier ("a", "b", "rc", "post", "dev", ...).
type component struct {
	isNumber bool
	number   int64
	text     string
}

var segmentSplitRe = regexp.MustCompile(`[._-]`)
var componentSplitRe = regexp.MustCompile(`(\d+|[^\d]+)`)

// qualifierRank orders the well-known alphabetic qualifiers. Lower sorts
// first. Unknown qualifiers rank between rc and the empty (final) marker,
// same as conda's fallback behavior.
var qualifierRank = map[string]int{
	"dev":   -3,
	"alpha": -2,
	"a":     -2,
	"beta":  -1,
	"b":     -1,
	"rc":    0,
	"c":     0,
}

const (
	rankUnknown = 1
	rankFinal   = 2
	rankPost    = 3
)

// ParseCondaVersion parses a conda version string.
func ParseCondaVersion(s string) (CondaVersion, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return CondaVersion{}, fmt.Errorf("empty version")
	}

	v := CondaVersion{raw: raw}

	rest := raw
	if idx := strings.Index(rest, "!"); idx >= 0 {
		epochStr := rest[:idx]

		epoch, err := strconv.Atoi(epochStr)
		if err != nil {
			return CondaVersion{}, fmt.Errorf("parsing epoch %q: %w", epochStr, err)
		}

		v.epoch = epoch
		rest = rest[idx+1:]
	}

	for _, seg := range segmentSplitRe.Split(rest, -1) {
		if seg == "" {
			continue
		}

		v.segments = append(v.segments, parseSegment(seg))
	}

	return v, nil
}

// parseSegment splits a segment like "post1" or "2023" or "a1" into its
// alternating numeric/alphabetic components.
func parseSegment(seg string) []component {
	parts := componentSplitRe.FindAllString(seg, -1)

	components := make([]component, 0, len(parts))

	for _, p := range parts {
		if n, err := strconv.ParseInt(p, 10, 64); err == nil {
			components = append(components, component{isNumber: true, number: n})
		} else {
			components = append(components, component{text: strings.ToLower(p)})
		}
	}

	return components
}

func (c component) rank() int {
	if c.isNumber {
		return rankFinal
	}

	if c.text == "post" {
		return rankPost
	}

	if r, ok := qualifierRank[c.text]; ok {
		return r
	}

	return rankUnknown
}

// compareComponent compares two components of a single segment position.
func compareComponent(a, b component) int {
	ar, br := a.rank(), b.rank()
	if ar != br {
		return sign(ar - br)
	}

	if a.isNumber && b.isNumber {
		switch {
		case a.number < b.number:
			return -1
		case a.number > b.number:
			return 1
		default:
			return 0
		}
	}

	return strings.Compare(a.text, b.text)
}

// compareComponents compares two component slices (within one segment),
// padding the shorter with "final, zero" components so "1" == "1.0" within
// a segment and a bare qualifier like "a" behaves as "a0".
func compareComponents(a, b []component) int {
	n := max(len(a), len(b))

	for i := 0; i < n; i++ {
		ca := componentAt(a, i)
		cb := componentAt(b, i)

		if d := compareComponent(ca, cb); d != 0 {
			return d
		}
	}

	return 0
}

func componentAt(cs []component, i int) component {
	if i < len(cs) {
		return cs[i]
	}

	return component{isNumber: true, number: 0}
}

// Compare returns -1, 0, or 1 if v is less than, equal to, or greater than
// other, using epoch first, then segment-by-segment comparison. A missing
// trailing segment compares as if it were a single zero numeric component
// (so "1.0" == "1.0.0").
func (v CondaVersion) Compare(other CondaVersion) int {
	if v.epoch != other.epoch {
		return sign(v.epoch - other.epoch)
	}

	n := max(len(v.segments), len(other.segments))

	for i := 0; i < n; i++ {
		sa := segmentAt(v.segments, i)
		sb := segmentAt(other.segments, i)

		if d := compareComponents(sa, sb); d != 0 {
			return d
		}
	}

	return 0
}

func segmentAt(segs [][]component, i int) []component {
	if i < len(segs) {
		return segs[i]
	}

	return []component{{isNumber: true, number: 0}}
}

// GreaterThan reports whether v > other.
func (v CondaVersion) GreaterThan(other CondaVersion) bool { return v.Compare(other) > 0 }

// Equal reports whether v == other.
func (v CondaVersion) Equal(other CondaVersion) bool { return v.Compare(other) == 0 }

// IsPreRelease reports whether any segment carries a dev/alpha/beta/rc qualifier.
func (v CondaVersion) IsPreRelease() bool {
	for _, seg := range v.segments {
		for _, c := range seg {
			if !c.isNumber && c.rank() < rankFinal && c.rank() != rankPost {
				return true
			}
		}
	}

	return false
}

// String returns the original, unnormalized version text (round-trip law).
func (v CondaVersion) String() string { return v.raw }

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}
