// Package lockfile implements the lockfile model and satisfiability
// checker: a content-addressed, multi-environment document mapping
// (environment, platform) pairs to resolved package records, plus the
// cheap, network-free check that decides whether it still matches a
// manifest's effective dependency set.
package lockfile

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/bilusteknoloji/pixi/internal/spec"
)

// FormatVersion is the lockfile document's schema version.
const FormatVersion = 6

// Lockfile is the top-level `pixi.lock` document.
type Lockfile struct {
	Version      int                    `yaml:"version"`
	Environments map[string]EnvLock     `yaml:"environments"`
	Packages     []Record               `yaml:"packages"`
}

// EnvLock is one environment's entry: its effective channel list and, per
// platform, the ordered list of record references that belong to it.
type EnvLock struct {
	Channels []string                `yaml:"channels"`
	Indexes  []string                `yaml:"indexes,omitempty"`
	Packages map[string][]RecordRef `yaml:"packages"`
}

// RecordRef identifies one Packages[] entry from within an EnvLock, the
// same (kind, url-or-path, sha256) triple used for dedup.
type RecordRef struct {
	Kind string `yaml:"kind"`
	Key  string `yaml:"key"`
}

// RecordKind tags which variant of Record is populated.
type RecordKind string

const (
	RecordConda       RecordKind = "conda"
	RecordPyPIWheel    RecordKind = "pypi-wheel"
	RecordPyPISource   RecordKind = "pypi-source"
	RecordSourceBuilt RecordKind = "source-built"
)

// Record is one deduplicated package entry. Exactly one of Conda/PyPI/
// SourceBuilt is populated, selected by Kind.
type Record struct {
	Kind         RecordKind    `yaml:"kind"`
	Environments []string      `yaml:"environments"`

	Conda       *CondaPackage  `yaml:"conda,omitempty"`
	PyPI        *PyPIPackage   `yaml:"pypi,omitempty"`
	SourceBuilt *SourceBuilt   `yaml:"source-built,omitempty"`
}

// CondaPackage is a resolved conda binary record.
type CondaPackage struct {
	Name        string   `yaml:"name"`
	Version     string   `yaml:"version"`
	Build       string   `yaml:"build"`
	BuildNumber int      `yaml:"build-number"`
	URL         string   `yaml:"url"`
	SHA256      string   `yaml:"sha256"`
	MD5         string   `yaml:"md5,omitempty"`
	Size        int64    `yaml:"size,omitempty"`
	Depends     []string `yaml:"depends,omitempty"`
	Constrains  []string `yaml:"constrains,omitempty"`
	Subdir      string   `yaml:"subdir"`
	Channel     string   `yaml:"channel"`
	License     string   `yaml:"license,omitempty"`
}

// PyPIPackage is a resolved PyPI wheel or sdist/source record.
type PyPIPackage struct {
	Name           string   `yaml:"name"`
	Version        string   `yaml:"version"`
	URL            string   `yaml:"url,omitempty"`
	Path           string   `yaml:"path,omitempty"`
	SHA256         string   `yaml:"sha256,omitempty"`
	RequiresDist   []string `yaml:"requires-dist,omitempty"`
	RequiresPython string   `yaml:"requires-python,omitempty"`
	Marker         string   `yaml:"marker,omitempty"`
	Editable       bool     `yaml:"editable,omitempty"`
	Source         bool     `yaml:"source,omitempty"`
}

// SourceBuilt is a conda artifact produced by the build-backend dispatcher
// from a path/Git source dependency.
type SourceBuilt struct {
	Fingerprint string       `yaml:"fingerprint"`
	BackendID   string       `yaml:"backend-id"`
	Produced    CondaPackage `yaml:"produced"`
}

// Key returns the (kind, url-or-path, sha256) dedup key for a record; a
// source-built record is keyed by (kind, fingerprint) instead.
func (r Record) Key() string {
	switch r.Kind {
	case RecordConda:
		return fmt.Sprintf("conda:%s:%s", r.Conda.URL, r.Conda.SHA256)
	case RecordPyPIWheel, RecordPyPISource:
		if r.PyPI.Path != "" {
			return fmt.Sprintf("pypi:%s:%s", r.PyPI.Path, r.PyPI.SHA256)
		}

		return fmt.Sprintf("pypi:%s:%s", r.PyPI.URL, r.PyPI.SHA256)
	case RecordSourceBuilt:
		return fmt.Sprintf("source-built:%s", r.SourceBuilt.Fingerprint)
	default:
		return ""
	}
}

// Name returns the record's package name regardless of kind.
func (r Record) Name() string {
	switch r.Kind {
	case RecordConda:
		return r.Conda.Name
	case RecordPyPIWheel, RecordPyPISource:
		return r.PyPI.Name
	case RecordSourceBuilt:
		return r.SourceBuilt.Produced.Name
	default:
		return ""
	}
}

// New returns an empty Lockfile at the current FormatVersion.
func New() *Lockfile {
	return &Lockfile{
		Version:      FormatVersion,
		Environments: map[string]EnvLock{},
	}
}

// Read loads a lockfile document from path, returning a fresh empty
// Lockfile if none exists yet (the common case for a workspace's first
// `install`/`lock`).
func Read(path string) (*Lockfile, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}

		return nil, fmt.Errorf("reading lockfile %s: %w", path, err)
	}

	var lf Lockfile
	if err := yaml.Unmarshal(body, &lf); err != nil {
		return nil, fmt.Errorf("parsing lockfile %s: %w", path, err)
	}

	if lf.Environments == nil {
		lf.Environments = map[string]EnvLock{}
	}

	return &lf, nil
}

// Write renders lf to path using an atomic rename, so a reader never
// observes a half-written lockfile.
func Write(path string, lf *Lockfile) error {
	sortForDeterminism(lf)

	body, err := yaml.Marshal(lf)
	if err != nil {
		return fmt.Errorf("encoding lockfile: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating lockfile directory: %w", err)
	}

	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return fmt.Errorf("writing temp lockfile: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)

		return fmt.Errorf("renaming lockfile into place: %w", err)
	}

	return nil
}

// sortForDeterminism orders Packages and every per-platform record-ref list
// by key so two resolves of identical inputs produce byte-identical
// output.
func sortForDeterminism(lf *Lockfile) {
	sort.Slice(lf.Packages, func(i, j int) bool {
		return lf.Packages[i].Key() < lf.Packages[j].Key()
	})

	for _, env := range lf.Environments {
		for _, refs := range env.Packages {
			sort.Slice(refs, func(i, j int) bool {
				return refs[i].Key < refs[j].Key
			})
		}
	}
}

// Slice is the projection of a Lockfile to a single (environment,
// platform) pair: what the resolver produces and the installer consumes.
type Slice struct {
	Environment string
	Platform    spec.Platform
	Channels    []string
	Records     []Record
}

// Merge folds a freshly resolved Slice into lf, deduplicating records by
// key and merging environment membership.
func (lf *Lockfile) Merge(slice Slice) {
	byKey := make(map[string]int, len(lf.Packages))
	for i, r := range lf.Packages {
		byKey[r.Key()] = i
	}

	refs := make([]RecordRef, 0, len(slice.Records))

	for _, r := range slice.Records {
		key := r.Key()
		if key == "" {
			continue
		}

		if i, ok := byKey[key]; ok {
			lf.Packages[i].Environments = dedupAppend(lf.Packages[i].Environments, slice.Environment)
		} else {
			r.Environments = []string{slice.Environment}
			byKey[key] = len(lf.Packages)
			lf.Packages = append(lf.Packages, r)
		}

		refs = append(refs, RecordRef{Kind: string(r.Kind), Key: key})
	}

	env, ok := lf.Environments[slice.Environment]
	if !ok {
		env = EnvLock{Packages: map[string][]RecordRef{}}
	}

	if len(slice.Channels) > 0 {
		env.Channels = slice.Channels
	}

	if env.Packages == nil {
		env.Packages = map[string][]RecordRef{}
	}

	env.Packages[string(slice.Platform)] = refs
	lf.Environments[slice.Environment] = env
}

// Slice projects lf down to one (environment, platform) pair, resolving
// each RecordRef back to its full Record.
func (lf *Lockfile) Slice(environment string, platform spec.Platform) (Slice, bool) {
	env, ok := lf.Environments[environment]
	if !ok {
		return Slice{}, false
	}

	refs, ok := env.Packages[string(platform)]
	if !ok {
		return Slice{}, false
	}

	byKey := make(map[string]Record, len(lf.Packages))
	for _, r := range lf.Packages {
		byKey[r.Key()] = r
	}

	records := make([]Record, 0, len(refs))

	for _, ref := range refs {
		if r, ok := byKey[ref.Key]; ok {
			records = append(records, r)
		}
	}

	return Slice{Environment: environment, Platform: platform, Channels: env.Channels, Records: records}, true
}

func dedupAppend(envs []string, env string) []string {
	for _, e := range envs {
		if e == env {
			return envs
		}
	}

	return append(envs, env)
}
