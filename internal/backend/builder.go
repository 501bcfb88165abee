package backend

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bilusteknoloji/pixi/internal/cache"
	"github.com/bilusteknoloji/pixi/internal/lockfile"
	"github.com/bilusteknoloji/pixi/internal/manifest"
	"github.com/bilusteknoloji/pixi/internal/spec"
)

// Request describes one source package build: where its source lives, the
// two isolated prefixes the caller already installed from sub-resolutions
// of the package's host and build dependencies, and the variant configuration
// (compiler selection, target platform) to pass through.
type Request struct {
	Package       manifest.Package
	SourceDir     string
	WorkspaceRoot string
	Platform      spec.Platform
	HostPrefix    string
	BuildPrefix   string
	VariantConfig map[string]string
}

// LaunchFunc starts the backend named by a BuildDescriptor. The default,
// DefaultLaunch, execs Backend as a command; tests substitute a fake.
type LaunchFunc func(ctx context.Context, req Request) (*Dispatcher, error)

// DefaultLaunch execs the descriptor's Backend field as a command.
func DefaultLaunch(ctx context.Context, req Request) (*Dispatcher, error) {
	return Launch(ctx, req.Package.Build.Backend, nil)
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithBuilderLogger sets the structured logger.
func WithBuilderLogger(l *slog.Logger) BuilderOption {
	return func(b *Builder) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithLaunchFunc overrides how backend processes are started, for testing
// the Builder without a real subprocess.
func WithLaunchFunc(fn LaunchFunc) BuilderOption {
	return func(b *Builder) {
		if fn != nil {
			b.launch = fn
		}
	}
}

// Builder drives the full build-backend lifecycle for one source package:
// launch, initialize, fingerprint, skip-if-cached, build, cache the
// result.
type Builder struct {
	cache  *cache.Manager
	launch LaunchFunc
	logger *slog.Logger
}

// NewBuilder constructs a Builder backed by cache for build-skip and
// artifact storage.
func NewBuilder(c *cache.Manager, opts ...BuilderOption) *Builder {
	b := &Builder{
		cache:  c,
		launch: DefaultLaunch,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Build produces a lockfile.Record for req.Package, consulting the cache
// first so a rebuild with unchanged inputs, backend identifier, and variant
// is a no-op. The backend's version is not part of the cache key: a
// different version of the same backend reuses the cached build.
func (b *Builder) Build(ctx context.Context, req Request) (lockfile.Record, error) {
	d, err := b.launch(ctx, req)
	if err != nil {
		return lockfile.Record{}, fmt.Errorf("launching backend %s: %w", req.Package.Build.Backend, err)
	}
	defer func() { _ = d.Close() }()

	initResult, err := d.Initialize(ctx, InitializeParams{
		WorkspaceRoot: req.WorkspaceRoot,
		SourceDir:     req.SourceDir,
		Platform:      string(req.Platform),
		Channels:      req.Package.Build.Channels,
	})
	if err != nil {
		return lockfile.Record{}, err
	}

	fingerprint, err := computeFingerprint(req.SourceDir, initResult.InputGlobs, req.Package.Build.Backend, req.VariantConfig)
	if err != nil {
		return lockfile.Record{}, fmt.Errorf("fingerprinting %s: %w", req.Package.Name, err)
	}

	if b.cache != nil {
		if rec, ok := b.readCachedRecord(fingerprint); ok {
			b.logger.Debug("build cache hit", slog.String("package", req.Package.Name), slog.String("fingerprint", fingerprint))

			return rec, nil
		}
	}

	outputDir, err := os.MkdirTemp("", "pixi-build-*")
	if err != nil {
		return lockfile.Record{}, fmt.Errorf("creating build output directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(outputDir) }()

	buildResult, err := d.Build(ctx, BuildParams{
		OutputDir:     outputDir,
		HostEnv:       req.HostPrefix,
		BuildEnv:      req.BuildPrefix,
		VariantConfig: req.VariantConfig,
	})
	if err != nil {
		return lockfile.Record{}, err
	}

	if err := d.Shutdown(ctx); err != nil {
		b.logger.Debug("backend shutdown failed, continuing", slog.String("backend", req.Package.Build.Backend), slog.String("error", err.Error()))
	}

	record := lockfile.Record{
		Kind: lockfile.RecordSourceBuilt,
		SourceBuilt: &lockfile.SourceBuilt{
			Fingerprint: fingerprint,
			BackendID:   req.Package.Build.Backend,
			Produced:    buildResult.Record,
		},
	}

	if b.cache != nil {
		if err := b.cacheArtifact(fingerprint, buildResult, record); err != nil {
			b.logger.Debug("caching build artifact failed, continuing", slog.String("package", req.Package.Name), slog.String("error", err.Error()))
		}
	}

	return record, nil
}

// readCachedRecord looks up a previously built record by fingerprint. The
// sidecar JSON file is itself the cache key, so no content hash check is
// needed beyond the filename matching.
func (b *Builder) readCachedRecord(fingerprint string) (lockfile.Record, bool) {
	path, ok := b.cache.Store(cache.KindSourceBuilt).Get(sidecarName(fingerprint), "")
	if !ok {
		return lockfile.Record{}, false
	}

	body, err := os.ReadFile(path)
	if err != nil {
		return lockfile.Record{}, false
	}

	var rec lockfile.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return lockfile.Record{}, false
	}

	return rec, true
}

// cacheArtifact stores the built conda artifact under its own content
// address and a fingerprint->record sidecar so the next Build call with the
// same inputs can skip the backend entirely.
func (b *Builder) cacheArtifact(fingerprint string, result BuildResult, record lockfile.Record) error {
	artifactName := filepath.Base(result.ArtifactPath)
	if err := b.cache.Store(cache.KindConda).Put(result.ArtifactPath, artifactName); err != nil {
		return fmt.Errorf("caching artifact: %w", err)
	}

	sidecarPath := filepath.Join(os.TempDir(), sidecarName(fingerprint))

	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding cached record: %w", err)
	}

	if err := os.WriteFile(sidecarPath, body, 0o644); err != nil {
		return fmt.Errorf("writing sidecar: %w", err)
	}
	defer func() { _ = os.Remove(sidecarPath) }()

	return b.cache.Store(cache.KindSourceBuilt).Put(sidecarPath, sidecarName(fingerprint))
}

func sidecarName(fingerprint string) string {
	return fingerprint + ".record.json"
}

// computeFingerprint hashes backendID, the sorted variant config, and the
// content of every file matched by globs (relative to sourceDir), treating
// the backend's declared globs as authoritative. The core never
// second-guesses which files a backend cares about.
func computeFingerprint(sourceDir string, globs []string, backendID string, variant map[string]string) (string, error) {
	h := sha256.New()

	io.WriteString(h, "backend:"+backendID+"\n")

	variantKeys := make([]string, 0, len(variant))
	for k := range variant {
		variantKeys = append(variantKeys, k)
	}

	sort.Strings(variantKeys)

	for _, k := range variantKeys {
		io.WriteString(h, fmt.Sprintf("variant:%s=%s\n", k, variant[k]))
	}

	files, err := matchGlobs(sourceDir, globs)
	if err != nil {
		return "", err
	}

	sort.Strings(files)

	for _, rel := range files {
		content, err := os.ReadFile(filepath.Join(sourceDir, rel))
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", rel, err)
		}

		io.WriteString(h, "file:"+rel+"\n")
		h.Write(content)
		io.WriteString(h, "\n")
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// matchGlobs expands globs (doublestar-free; filepath.Glob per pattern,
// plus a recursive "**" convention handled by walking) relative to root,
// returning deduplicated, root-relative paths.
func matchGlobs(root string, globs []string) ([]string, error) {
	seen := make(map[string]bool)

	var out []string

	for _, pattern := range globs {
		if strings.Contains(pattern, "**") {
			prefix := strings.SplitN(pattern, "**", 2)[0]
			walkRoot := filepath.Join(root, filepath.Dir(prefix))

			err := filepath.WalkDir(walkRoot, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}

				if d.IsDir() {
					return nil
				}

				rel, err := filepath.Rel(root, path)
				if err != nil {
					return nil
				}

				if !seen[rel] {
					seen[rel] = true

					out = append(out, rel)
				}

				return nil
			})
			if err != nil && !os.IsNotExist(err) {
				return nil, err
			}

			continue
		}

		matches, err := filepath.Glob(filepath.Join(root, pattern))
		if err != nil {
			return nil, fmt.Errorf("expanding glob %q: %w", pattern, err)
		}

		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil || info.IsDir() {
				continue
			}

			rel, err := filepath.Rel(root, m)
			if err != nil {
				continue
			}

			if !seen[rel] {
				seen[rel] = true

				out = append(out, rel)
			}
		}
	}

	return out, nil
}
