// Package mapper implements the Conda↔PyPI name mapper: a
// read-only lookup the resolver's PyPI stage consults to find out which
// PyPI names are already claimed by a conda package, so stage 2 never
// produces a second record for a name stage 1 already satisfied.
package mapper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/bilusteknoloji/pixi/internal/spec"
)

// defaultMappingURL is the real prefix.dev-published conda-forge/PyPI name
// correspondence document the mapper consults when the workspace doesn't
// override a name itself.
const defaultMappingURL = "https://conda-mapping.prefix.dev/hash-v0/pypi-to-conda.json"

const defaultTTL = 24 * time.Hour

// Mapper is consulted by the resolver's PyPI stage after stage 1
// completes. Unknown names return ok=false and the resolver treats the
// requirement as pure-PyPI.
type Mapper interface {
	CondaName(ctx context.Context, pypiName string) (name string, ok bool, err error)
}

// Option configures a Service.
type Option func(*Service)

// WithCacheDir sets the directory the TTL-cached mapping document is
// written to, the same atomic-rename pattern as internal/cache.
func WithCacheDir(dir string) Option {
	return func(s *Service) {
		if dir != "" {
			s.cacheDir = dir
		}
	}
}

// WithTTL overrides the default 24h cache lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithURL overrides the remote mapping document URL (tests point this at an
// httptest.Server).
func WithURL(url string) Option {
	return func(s *Service) {
		if url != "" {
			s.url = url
		}
	}
}

// WithOverrides installs the workspace's `[pypi-options] dependency-overrides`
// table. An
// override always wins over the remote document.
func WithOverrides(overrides map[string]string) Option {
	return func(s *Service) {
		s.overrides = overrides
	}
}

// WithHTTPClient overrides the retryablehttp transport's underlying client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) {
		if c != nil {
			s.retry.HTTPClient = c
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// Service is the default Mapper: a remote mapping document fetched through
// a retryablehttp client (reusing the Repository Gateway's transport
// policy) and cached to disk with a TTL, overlaid with a user override
// table.
type Service struct {
	retry     *retryablehttp.Client
	url       string
	cacheDir  string
	ttl       time.Duration
	overrides map[string]string
	logger    *slog.Logger

	mu     sync.Mutex
	loaded map[string]string
}

var _ Mapper = (*Service)(nil)

// New constructs a Service.
func New(opts ...Option) *Service {
	retry := retryablehttp.NewClient()
	retry.RetryMax = 3
	retry.Logger = nil

	s := &Service{
		retry:  retry,
		url:    defaultMappingURL,
		ttl:    defaultTTL,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// CondaName resolves a PyPI name to the conda name that provides it, if
// any. The workspace override table is consulted first; a name the
// override table does not mention falls through to the cached/remote
// mapping document.
func (s *Service) CondaName(ctx context.Context, pypiName string) (string, bool, error) {
	pypiName = spec.NormalizePyPIName(pypiName)

	if override, ok := s.overrides[pypiName]; ok {
		if override == "" {
			return "", false, nil
		}

		return spec.NormalizeCondaName(override), true, nil
	}

	table, err := s.table(ctx)
	if err != nil {
		return "", false, err
	}

	name, ok := table[pypiName]

	return name, ok, nil
}

// table loads the in-memory mapping, populating it from disk cache or the
// network on first use.
func (s *Service) table(ctx context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loaded != nil {
		return s.loaded, nil
	}

	if body, ok := s.readCache(); ok {
		table, err := decodeMapping(body)
		if err == nil {
			s.loaded = table

			return table, nil
		}

		s.logger.Debug("mapper cache decode failed, refetching", slog.String("error", err.Error()))
	}

	body, err := s.fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching conda/pypi name mapping: %w", err)
	}

	table, err := decodeMapping(body)
	if err != nil {
		return nil, fmt.Errorf("decoding conda/pypi name mapping: %w", err)
	}

	s.writeCache(body)

	s.loaded = table

	return table, nil
}

func (s *Service) fetch(ctx context.Context) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.retry.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, s.url)
	}

	return io.ReadAll(resp.Body)
}

func decodeMapping(body []byte) (map[string]string, error) {
	// The real prefix.dev document is a JSON object keyed by PyPI name whose
	// value carries the conda name among other metadata; a bare
	// name->name map is also accepted, which keeps fixtures in tests small.
	var rich map[string]struct {
		CondaName string `json:"conda_name"`
	}

	if err := json.Unmarshal(body, &rich); err == nil {
		table := make(map[string]string, len(rich))

		for pypiName, v := range rich {
			if v.CondaName != "" {
				table[spec.NormalizePyPIName(pypiName)] = spec.NormalizeCondaName(v.CondaName)
			}
		}

		if len(table) > 0 {
			return table, nil
		}
	}

	var flat map[string]string
	if err := json.Unmarshal(body, &flat); err != nil {
		return nil, err
	}

	table := make(map[string]string, len(flat))
	for pypiName, condaName := range flat {
		table[spec.NormalizePyPIName(pypiName)] = spec.NormalizeCondaName(condaName)
	}

	return table, nil
}

func (s *Service) cachePath() string {
	if s.cacheDir == "" {
		return ""
	}

	return filepath.Join(s.cacheDir, "pypi-to-conda.json")
}

func (s *Service) readCache() ([]byte, bool) {
	path := s.cachePath()
	if path == "" {
		return nil, false
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, false
	}

	if time.Since(info.ModTime()) > s.ttl {
		return nil, false
	}

	body, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}

	return body, true
}

// writeCache uses the same temp-then-rename pattern as internal/cache so a
// concurrent reader never observes a partially written mapping document.
func (s *Service) writeCache(body []byte) {
	path := s.cachePath()
	if path == "" {
		return
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		s.logger.Debug("mapper cache mkdir failed", slog.String("error", err.Error()))

		return
	}

	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		s.logger.Debug("mapper cache write failed", slog.String("error", err.Error()))

		return
	}

	if err := os.Rename(tmp, path); err != nil {
		s.logger.Debug("mapper cache rename failed", slog.String("error", err.Error()))
		_ = os.Remove(tmp)
	}
}
