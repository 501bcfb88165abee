package spec

import (
	"fmt"
	"sort"
	"strings"
)

// MatchSpec is the conda dependency specification grammar:
//
//	name [ws version_range] [ws '[' attr-list ']']
//
// attrs = version=…,build=…,build_number=…,channel=…,subdir=…,md5=…,
// sha256=…,url=…,file-name=…
type MatchSpec struct {
	Name        string
	VersionExpr string // raw range text, also parseable via ParseVersionRange
	Build       string
	BuildNumber string
	Channel     string
	Subdir      string
	MD5         string
	SHA256      string
	URL         string
	FileName    string
}

// ParseMatchSpec parses a MatchSpec string.
func ParseMatchSpec(s string) (MatchSpec, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return MatchSpec{}, fmt.Errorf("empty match spec")
	}

	ms := MatchSpec{}

	rest := s

	if idx := strings.Index(rest, "["); idx >= 0 {
		end := strings.LastIndex(rest, "]")
		if end < idx {
			return MatchSpec{}, fmt.Errorf("unterminated attribute list in %q", s)
		}

		attrs := rest[idx+1 : end]
		rest = strings.TrimSpace(rest[:idx])

		if err := ms.parseAttrs(attrs); err != nil {
			return MatchSpec{}, fmt.Errorf("parsing attrs of %q: %w", s, err)
		}
	}

	name, versionExpr := splitNameVersion(rest)
	ms.Name = NormalizeCondaName(name)

	if versionExpr != "" {
		if ms.VersionExpr != "" {
			return MatchSpec{}, fmt.Errorf("version given both positionally and in attrs for %q", s)
		}

		ms.VersionExpr = versionExpr
	}

	if ms.Name == "" {
		return MatchSpec{}, fmt.Errorf("missing package name in %q", s)
	}

	return ms, nil
}

// splitNameVersion splits "name" from an optional trailing version range,
// e.g. "numpy >=1.20,<2.0" or "numpy>=1.20".
func splitNameVersion(s string) (name, versionExpr string) {
	s = strings.TrimSpace(s)

	idx := strings.IndexAny(s, " ><=!~")
	if idx < 0 {
		return s, ""
	}

	name = strings.TrimSpace(s[:idx])
	versionExpr = strings.TrimSpace(s[idx:])

	return name, versionExpr
}

func (ms *MatchSpec) parseAttrs(attrs string) error {
	for _, part := range splitAttrs(attrs) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return fmt.Errorf("invalid attribute %q", part)
		}

		key := strings.TrimSpace(kv[0])
		val := strings.Trim(strings.TrimSpace(kv[1]), `"'`)

		switch key {
		case "version":
			ms.VersionExpr = val
		case "build":
			ms.Build = val
		case "build_number":
			ms.BuildNumber = val
		case "channel":
			ms.Channel = val
		case "subdir":
			ms.Subdir = val
		case "md5":
			ms.MD5 = val
		case "sha256":
			ms.SHA256 = val
		case "url":
			ms.URL = val
		case "file-name", "file_name":
			ms.FileName = val
		default:
			return fmt.Errorf("unknown attribute %q", key)
		}
	}

	return nil
}

// splitAttrs splits a comma-separated attribute list, respecting quotes.
func splitAttrs(s string) []string {
	var parts []string

	depth := byte(0)
	start := 0

	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"', '\'':
			if depth == 0 {
				depth = s[i]
			} else if depth == s[i] {
				depth = 0
			}
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}

	parts = append(parts, s[start:])

	return parts
}

// Format renders the MatchSpec back to its canonical string form. Since
// attribute order is not semantically meaningful, Format always emits a
// deterministic order so Parse(Format(x)) reproduces an equivalent
// MatchSpec: the round-trip holds on the parsed value, not the literal
// bytes.
func (ms MatchSpec) Format() string {
	var b strings.Builder

	b.WriteString(ms.Name)

	attrs := ms.attrPairs()
	if ms.VersionExpr != "" && len(attrs) == 0 {
		b.WriteByte(' ')
		b.WriteString(ms.VersionExpr)

		return b.String()
	}

	if ms.VersionExpr != "" {
		attrs = append([]string{"version=" + ms.VersionExpr}, attrs...)
	}

	if len(attrs) > 0 {
		b.WriteString("[")
		b.WriteString(strings.Join(attrs, ","))
		b.WriteString("]")
	}

	return b.String()
}

func (ms MatchSpec) attrPairs() []string {
	pairs := map[string]string{
		"build":        ms.Build,
		"build_number": ms.BuildNumber,
		"channel":      ms.Channel,
		"subdir":       ms.Subdir,
		"md5":          ms.MD5,
		"sha256":       ms.SHA256,
		"url":          ms.URL,
		"file-name":    ms.FileName,
	}

	keys := make([]string, 0, len(pairs))
	for k, v := range pairs {
		if v != "" {
			keys = append(keys, k)
		}
	}

	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+pairs[k])
	}

	return out
}

// Range parses the MatchSpec's version expression into a checkable VersionRange.
func (ms MatchSpec) Range() (VersionRange, error) {
	return ParseVersionRange(ms.VersionExpr)
}

// NormalizeCondaName lowercases and hyphenates a conda package name, the
// same normalization resolver.NormalizeName applies to PyPI names,
// generalized to conda's identical PEP-503-like convention. Virtual package
// names (the synthetic `__glibc`/`__unix`/…
// tokens SystemRequirements.VirtualPackages emits) keep their literal
// double-underscore prefix untouched, since collapsing it would make them
// indistinguishable from a real package name.
func NormalizeCondaName(name string) string {
	name = strings.ToLower(name)

	if strings.HasPrefix(name, "__") {
		return name
	}

	var b strings.Builder

	prevHyphen := false

	for i := range len(name) {
		switch name[i] {
		case '-', '_', '.':
			if !prevHyphen {
				b.WriteByte('-')
				prevHyphen = true
			}
		default:
			b.WriteByte(name[i])
			prevHyphen = false
		}
	}

	return b.String()
}
