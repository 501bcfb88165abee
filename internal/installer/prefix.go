package installer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"

	"github.com/bilusteknoloji/pixi/internal/cache"
	"github.com/bilusteknoloji/pixi/internal/downloader"
	"github.com/bilusteknoloji/pixi/internal/lockfile"
	"github.com/bilusteknoloji/pixi/internal/pixierr"
	"github.com/bilusteknoloji/pixi/internal/python"
)

const condaMetaDir = "conda-meta"

// condaMetaRecord is the on-disk shape of one conda-meta/<key>.json entry:
// enough to recover ownership of files on a later diff without re-resolving
// anything.
type condaMetaRecord struct {
	Kind    lockfile.RecordKind `json:"kind"`
	Key     string              `json:"key"`
	Name    string              `json:"name"`
	Version string              `json:"version"`
	Build   string              `json:"build,omitempty"`
	Channel string              `json:"channel,omitempty"`
	Files   []string            `json:"files"`
}

func condaMetaFilename(rec condaMetaRecord) string {
	if rec.Build != "" {
		return fmt.Sprintf("%s-%s-%s.json", rec.Name, rec.Version, rec.Build)
	}

	return fmt.Sprintf("%s-%s.json", rec.Name, rec.Version)
}

// PrefixOption configures a PrefixInstaller.
type PrefixOption func(*PrefixInstaller)

// WithPrefixLogger sets the structured logger.
func WithPrefixLogger(l *slog.Logger) PrefixOption {
	return func(p *PrefixInstaller) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithHTTPClient overrides the client used to fetch missing cache entries.
func WithHTTPClient(c *http.Client) PrefixOption {
	return func(p *PrefixInstaller) {
		if c != nil {
			p.httpClient = c
		}
	}
}

// PrefixInstaller materializes a conda prefix from a lockfile slice:
// diffing against the existing conda-meta/, fetching and linking
// anything missing, removing anything obsolete, and writing activation
// artifacts. It composes the package cache, the downloader, and the
// leaf primitives in condalink.go/installer.go rather than duplicating
// them.
type PrefixInstaller struct {
	cache      *cache.Manager
	httpClient *http.Client
	logger     *slog.Logger
}

// NewPrefixInstaller constructs a PrefixInstaller backed by c.
func NewPrefixInstaller(c *cache.Manager, opts ...PrefixOption) *PrefixInstaller {
	p := &PrefixInstaller{
		cache:      c,
		httpClient: &http.Client{},
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Install makes prefix's contents bit-equivalent (modulo timestamps) to
// slice.
func (p *PrefixInstaller) Install(ctx context.Context, prefix string, slice lockfile.Slice) error {
	metaDir := filepath.Join(prefix, condaMetaDir)
	if err := os.MkdirAll(metaDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", metaDir, err)
	}

	installed, err := readCondaMeta(metaDir)
	if err != nil {
		return fmt.Errorf("reading conda-meta: %w", err)
	}

	toRemove, toInstall, toKeep := diff(installed, slice.Records)

	p.logger.Debug("installer diff", slog.Int("remove", len(toRemove)), slog.Int("install", len(toInstall)), slog.Int("keep", len(toKeep)))

	for _, rec := range toRemove {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := p.remove(metaDir, rec); err != nil {
			return fmt.Errorf("removing %s: %w", rec.Name, err)
		}
	}

	for _, rec := range toInstall {
		if err := ctx.Err(); err != nil {
			return err
		}

		meta, err := p.installRecord(ctx, prefix, rec)
		if err != nil {
			return fmt.Errorf("installing %s: %w", rec.Name(), err)
		}

		if err := writeCondaMeta(metaDir, meta); err != nil {
			return fmt.Errorf("writing conda-meta for %s: %w", rec.Name(), err)
		}
	}

	return p.writeActivationArtifacts(prefix, slice)
}

// diff computes {to_remove, to_install, to_keep} between what's currently
// recorded in conda-meta and the target slice, keyed by the same
// (kind, url-or-path, sha256) key used for lockfile dedup.
func diff(installed map[string]condaMetaRecord, target []lockfile.Record) (toRemove []condaMetaRecord, toInstall []lockfile.Record, toKeep []condaMetaRecord) {
	targetKeys := make(map[string]bool, len(target))

	for _, rec := range target {
		key := rec.Key()
		if key == "" {
			continue
		}

		targetKeys[key] = true

		if _, ok := installed[key]; !ok {
			toInstall = append(toInstall, rec)
		}
	}

	for key, meta := range installed {
		if targetKeys[key] {
			toKeep = append(toKeep, meta)
		} else {
			toRemove = append(toRemove, meta)
		}
	}

	sort.Slice(toRemove, func(i, j int) bool { return toRemove[i].Key < toRemove[j].Key })
	sort.Slice(toInstall, func(i, j int) bool { return toInstall[i].Key() < toInstall[j].Key() })

	return toRemove, toInstall, toKeep
}

// remove deletes every file a conda-meta entry owns, preserving anything
// the prefix holds that isn't listed, then removes the entry itself.
func (p *PrefixInstaller) remove(metaDir string, rec condaMetaRecord) error {
	for _, f := range rec.Files {
		_ = os.Remove(f)
	}

	return os.Remove(filepath.Join(metaDir, condaMetaFilename(rec)))
}

// installRecord resolves one target record to a cache entry (fetching if
// absent), links it into prefix, and returns the conda-meta entry to
// persist.
func (p *PrefixInstaller) installRecord(ctx context.Context, prefix string, rec lockfile.Record) (condaMetaRecord, error) {
	switch rec.Kind {
	case lockfile.RecordConda:
		return p.installConda(ctx, prefix, rec, *rec.Conda)
	case lockfile.RecordSourceBuilt:
		return p.installConda(ctx, prefix, rec, rec.SourceBuilt.Produced)
	case lockfile.RecordPyPIWheel:
		return p.installWheel(ctx, prefix, rec)
	case lockfile.RecordPyPISource:
		return condaMetaRecord{}, fmt.Errorf("pypi source distributions require a build step not yet wired into the installer")
	default:
		return condaMetaRecord{}, fmt.Errorf("unknown record kind %q", rec.Kind)
	}
}

// installConda fetches (if needed), extracts, and links a conda binary
// record, shared by both true repodata records and source-built artifacts
// since both produce the same on-disk shape.
func (p *PrefixInstaller) installConda(ctx context.Context, prefix string, rec lockfile.Record, pkg lockfile.CondaPackage) (condaMetaRecord, error) {
	archivePath, err := p.fetchConda(ctx, pkg)
	if err != nil {
		return condaMetaRecord{}, err
	}

	extractedDir := filepath.Join(p.cache.Dir(cache.KindConda), "packages", fmt.Sprintf("%s-%s-%s", pkg.Name, pkg.Version, pkg.Build))

	if _, err := os.Stat(filepath.Join(extractedDir, "info")); err != nil {
		tmp := extractedDir + ".tmp"
		_ = os.RemoveAll(tmp)

		if err := ExtractCondaArchive(archivePath, tmp); err != nil {
			_ = os.RemoveAll(tmp)

			return condaMetaRecord{}, fmt.Errorf("extracting %s: %w", pkg.Name, err)
		}

		if err := os.Rename(tmp, extractedDir); err != nil {
			return condaMetaRecord{}, fmt.Errorf("placing extracted package %s: %w", pkg.Name, err)
		}
	}

	entries, err := LinkCondaPackage(extractedDir, prefix)
	if err != nil {
		return condaMetaRecord{}, fmt.Errorf("linking %s: %w", pkg.Name, err)
	}

	return condaMetaRecord{
		Kind:    rec.Kind,
		Key:     rec.Key(),
		Name:    pkg.Name,
		Version: pkg.Version,
		Build:   pkg.Build,
		Channel: pkg.Channel,
		Files:   filesOf(prefix, entries),
	}, nil
}

// fetchConda returns a local path to pkg's archive, fetching it through the
// conda cache/downloader if not already present.
func (p *PrefixInstaller) fetchConda(ctx context.Context, pkg lockfile.CondaPackage) (string, error) {
	store := p.cache.Store(cache.KindConda)

	filename := filepath.Base(pkg.URL)
	if filename == "" || filename == "." {
		filename = fmt.Sprintf("%s-%s-%s.conda", pkg.Name, pkg.Version, pkg.Build)
	}

	if path, ok := store.Get(filename, pkg.SHA256); ok {
		return path, nil
	}

	if pkg.URL == "" {
		// Source-built artifacts have no URL; their archive must already be
		// cached by the build-backend dispatcher under this filename.
		return "", fmt.Errorf("no cached artifact for source-built package %s and no URL to fetch it from", pkg.Name)
	}

	tmpDir, err := os.MkdirTemp("", "pixi-fetch-*")
	if err != nil {
		return "", fmt.Errorf("creating fetch staging dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	dl := downloader.New(tmpDir, downloader.WithHTTPClient(p.httpClient), downloader.WithCache(store), downloader.WithLogger(p.logger))

	results, err := dl.Download(ctx, []downloader.Request{{
		Name: pkg.Name, Version: pkg.Version, URL: pkg.URL, SHA256: pkg.SHA256, Filename: filename,
	}})
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", pkg.Name, err)
	}

	// The download itself lands in tmpDir, which is removed on return; hand
	// back the cached copy instead.
	if path, ok := store.Get(filename, pkg.SHA256); ok {
		return path, nil
	}

	return results[0].FilePath, nil
}

// installWheel fetches a pypi wheel and extracts it using the wheel
// installer primitives, targeting a python.Environment synthesized for
// this prefix rather than the system interpreter.
func (p *PrefixInstaller) installWheel(ctx context.Context, prefix string, rec lockfile.Record) (condaMetaRecord, error) {
	pkg := *rec.PyPI

	store := p.cache.Store(cache.KindPyPI)

	filename := filepath.Base(pkg.URL)

	var filePath string

	if path, ok := store.Get(filename, pkg.SHA256); ok {
		filePath = path
	} else {
		tmpDir, err := os.MkdirTemp("", "pixi-fetch-*")
		if err != nil {
			return condaMetaRecord{}, fmt.Errorf("creating fetch staging dir: %w", err)
		}
		defer func() { _ = os.RemoveAll(tmpDir) }()

		dl := downloader.New(tmpDir, downloader.WithHTTPClient(p.httpClient), downloader.WithCache(store), downloader.WithLogger(p.logger))

		results, err := dl.Download(ctx, []downloader.Request{{
			Name: pkg.Name, Version: pkg.Version, URL: pkg.URL, SHA256: pkg.SHA256, Filename: filename,
		}})
		if err != nil {
			return condaMetaRecord{}, fmt.Errorf("fetching %s: %w", pkg.Name, err)
		}

		filePath = results[0].FilePath
	}

	env := pythonEnvFor(prefix)

	svc := New(env, WithLogger(p.logger))

	entries, err := svc.installWheel(downloader.Result{Name: pkg.Name, Version: pkg.Version, FilePath: filePath})
	if err != nil {
		return condaMetaRecord{}, fmt.Errorf("installing wheel %s: %w", pkg.Name, err)
	}

	files := make([]string, 0, len(entries))
	for _, e := range entries {
		files = append(files, filepath.Join(env.SitePackages, e.Path))
	}

	return condaMetaRecord{
		Kind:    rec.Kind,
		Key:     rec.Key(),
		Name:    pkg.Name,
		Version: pkg.Version,
		Files:   files,
	}, nil
}

// pythonEnvFor synthesizes the python.Environment layout a standard conda
// prefix exposes, without probing a running interpreter (python.Detect
// is for the host interpreter the resolver marker-evaluates against; this
// is the target prefix being materialized, which has no running process
// yet).
func pythonEnvFor(prefix string) *python.Environment {
	return &python.Environment{
		Prefix:       prefix,
		SitePackages: filepath.Join(prefix, "lib", "python3", "site-packages"),
		PythonPath:   filepath.Join(prefix, "bin", "python3"),
	}
}

// filesOf resolves LinkCondaPackage's prefix-relative RecordEntry paths to
// absolute paths for conda-meta bookkeeping.
func filesOf(prefix string, entries []RecordEntry) []string {
	out := make([]string, 0, len(entries))

	for _, e := range entries {
		out = append(out, filepath.Join(prefix, e.Path))
	}

	return out
}

func readCondaMeta(metaDir string) (map[string]condaMetaRecord, error) {
	entries, err := os.ReadDir(metaDir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]condaMetaRecord{}, nil
		}

		return nil, err
	}

	out := map[string]condaMetaRecord{}

	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}

		body, err := os.ReadFile(filepath.Join(metaDir, e.Name()))
		if err != nil {
			return nil, err
		}

		var rec condaMetaRecord
		if err := json.Unmarshal(body, &rec); err != nil {
			return nil, &pixierr.PrefixCorrupt{Prefix: filepath.Dir(metaDir), Reason: "unparseable conda-meta entry " + e.Name()}
		}

		out[rec.Key] = rec
	}

	return out, nil
}

func writeCondaMeta(metaDir string, rec condaMetaRecord) error {
	body, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}

	path := filepath.Join(metaDir, condaMetaFilename(rec))
	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return err
	}

	return os.Rename(tmp, path)
}

// writeActivationArtifacts generates per-shell activation scripts and the
// environment-variable snapshot the Task Engine's activation cache
// consumes.
func (p *PrefixInstaller) writeActivationArtifacts(prefix string, slice lockfile.Slice) error {
	etcDir := filepath.Join(prefix, "etc", "pixi")
	if err := os.MkdirAll(etcDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", etcDir, err)
	}

	binDir := filepath.Join(prefix, "bin")

	sh := fmt.Sprintf("#!/bin/sh\nexport PATH=\"%s:$PATH\"\n", binDir)
	if err := os.WriteFile(filepath.Join(etcDir, "activate.sh"), []byte(sh), 0o755); err != nil {
		return fmt.Errorf("writing activate.sh: %w", err)
	}

	bat := fmt.Sprintf("@echo off\r\nset \"PATH=%s;%%PATH%%\"\r\n", prefix)
	if err := os.WriteFile(filepath.Join(etcDir, "activate.bat"), []byte(bat), 0o755); err != nil {
		return fmt.Errorf("writing activate.bat: %w", err)
	}

	snapshot := map[string]any{
		"platform": string(slice.Platform),
		"env": map[string]string{
			"PATH": binDir,
		},
	}

	body, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(etcDir, "activation-env.json"), body, 0o644)
}
