package spec

import "fmt"

// SourceRefKind tags the variant of a SourceRef.
type SourceRefKind string

const (
	SourceRefPath SourceRefKind = "path"
	SourceRefGit  SourceRefKind = "git"
	SourceRefURL  SourceRefKind = "url"
)

// SourceRef is a tagged-union source dependency reference:
// {path}, {git, branch|tag|rev, subdirectory?}, or {url, sha256|md5}. Exactly
// one selector among Branch/Tag/Rev may be set for a Git ref.
type SourceRef struct {
	Kind SourceRefKind

	Path string // SourceRefPath

	GitURL     string // SourceRefGit
	Branch     string
	Tag        string
	Rev        string
	Subdirectory string

	URL    string // SourceRefURL
	SHA256 string
	MD5    string

	// PyPITyped marks a source ref that appeared under [pypi-dependencies]
	// rather than [dependencies]; the resolver routes it to stage 2 instead
	// of stage 1 even though it still resolves through the build dispatcher.
	PyPITyped bool
	// Editable marks a PyPI path/git dependency installed in editable mode.
	Editable bool
}

// Validate checks the invariant that a Git ref selects at most one of
// branch/tag/rev.
func (r SourceRef) Validate() error {
	if r.Kind != SourceRefGit {
		return nil
	}

	selected := 0
	for _, s := range []string{r.Branch, r.Tag, r.Rev} {
		if s != "" {
			selected++
		}
	}

	if selected > 1 {
		return fmt.Errorf("git source ref must select at most one of branch/tag/rev")
	}

	return nil
}

// Fingerprint is a stable identity for the source ref, used as (part of) the
// source-build cache key. It deliberately does not hash file contents:
// the build backend's declared input_globs are authoritative for content
// hashing, so the dispatcher combines this fingerprint with a content
// hash of the declared globs at build time.
func (r SourceRef) Fingerprint() string {
	switch r.Kind {
	case SourceRefPath:
		return "path:" + r.Path
	case SourceRefGit:
		sel := r.Branch + r.Tag + r.Rev
		return fmt.Sprintf("git:%s@%s#%s", r.GitURL, sel, r.Subdirectory)
	case SourceRefURL:
		if r.SHA256 != "" {
			return "url:" + r.URL + "#sha256:" + r.SHA256
		}

		return "url:" + r.URL + "#md5:" + r.MD5
	default:
		return ""
	}
}
