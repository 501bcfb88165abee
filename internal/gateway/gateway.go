// Package gateway is the single network boundary for fetching conda
// repodata and PyPI package metadata. Nothing outside this package ever
// issues an HTTP request for index data, so the resolver and acceptance
// tests can run entirely against fakes.
package gateway

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/sync/semaphore"

	"github.com/bilusteknoloji/pixi/internal/pixierr"
	"github.com/bilusteknoloji/pixi/internal/pypi"
	"github.com/bilusteknoloji/pixi/internal/spec"
)

// RepodataRecord is one package entry from a channel's repodata.json, the
// conda-side analog of pypi.URL.
type RepodataRecord struct {
	Name        string
	Version     string // raw conda version text, parseable via spec.ParseCondaVersion
	Build       string
	BuildNumber int
	Depends     []string
	Constrains  []string
	Subdir      string
	Channel     string
	FileName    string
	SHA256      string
	MD5         string
	Size        int64
	Noarch      string // "", "generic", or "python"
	Timestamp   int64
}

// Repodata is one channel/platform's package index, split the way
// repodata.json itself is ("packages" for .tar.bz2, "packages.conda" for
// the newer .conda format; both feed the same RepodataRecord shape here).
type Repodata struct {
	Channel  string
	Subdir   spec.Platform
	Packages map[string][]RepodataRecord // keyed by package name
}

// Gateway is the network boundary the resolver and mapper consume.
type Gateway interface {
	FetchRepodata(ctx context.Context, channel string, platform spec.Platform) (*Repodata, error)
	FetchPyPIMetadata(ctx context.Context, name string) (*pypi.PackageInfo, error)
}

// Option configures a Service.
type Option func(*Service)

// WithHTTPClient overrides the retryable client's underlying transport.
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

// WithPyPIClient overrides the PyPI metadata client (tests inject a fake).
func WithPyPIClient(c pypi.Client) Option {
	return func(s *Service) {
		if c != nil {
			s.pypi = c
		}
	}
}

// WithAuthenticatedTransport installs an additional RoundTripper (typically
// an oauth2.Transport) used only for channel URLs the caller marks private.
func WithAuthenticatedTransport(host string, rt http.RoundTripper) Option {
	return func(s *Service) {
		if s.authByHost == nil {
			s.authByHost = map[string]http.RoundTripper{}
		}

		s.authByHost[host] = rt
	}
}

// WithMaxConcurrentDownloads bounds how many repodata/metadata fetches the
// gateway lets run at once, the `max_concurrent_downloads` permit
// (default 50, set from config.Config).
func WithMaxConcurrentDownloads(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.downloadSem = semaphore.NewWeighted(int64(n))
		}
	}
}

// Service is the default Gateway implementation: retryablehttp over plain
// HTTPS or OCI registries, with zstd/bz2 decoding of repodata payloads.
type Service struct {
	retry       *retryablehttp.Client
	logger      *slog.Logger
	pypi        pypi.Client
	authByHost  map[string]http.RoundTripper
	oci         *ociFetcher
	patch       PatchSource
	downloadSem *semaphore.Weighted
}

var _ Gateway = (*Service)(nil)

// New constructs a Service with a retryablehttp transport matching the rest
// of the codebase's index-fetch retry policy.
func New(opts ...Option) *Service {
	retry := retryablehttp.NewClient()
	retry.RetryMax = 3
	retry.Logger = nil

	s := &Service{
		retry:       retry,
		logger:      slog.Default(),
		pypi:        pypi.New(),
		oci:         &ociFetcher{},
		patch:       noopPatchSource{},
		downloadSem: semaphore.NewWeighted(50),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// FetchRepodata retrieves and decodes one channel's platform-scoped
// repodata index, dispatching on the channel's URL scheme.
func (s *Service) FetchRepodata(ctx context.Context, channel string, platform spec.Platform) (*Repodata, error) {
	if strings.HasPrefix(channel, "oci://") {
		return s.oci.fetchRepodata(ctx, channel, platform)
	}

	for _, ext := range []string{".json.zst", ".json.bz2", ".json"} {
		url := strings.TrimSuffix(channel, "/") + "/" + string(platform) + "/repodata" + ext

		body, err := s.getWithTransport(ctx, channel, url)
		if err != nil {
			continue
		}

		records, decodeErr := decodeRepodataPayload(body, ext)
		if decodeErr != nil {
			return nil, &pixierr.IndexError{Channel: channel, Reason: "decoding " + ext, Err: decodeErr}
		}

		return groupBySubdirName(channel, platform, records), nil
	}

	return nil, &pixierr.IndexError{Channel: channel, Reason: "no repodata encoding available", Err: fmt.Errorf("tried .json.zst, .json.bz2, .json")}
}

// FetchPyPIMetadata retrieves a package's JSON API document.
func (s *Service) FetchPyPIMetadata(ctx context.Context, name string) (*pypi.PackageInfo, error) {
	info, err := s.pypi.GetPackage(ctx, name)
	if err != nil {
		return nil, &pixierr.IndexError{Channel: "pypi", Reason: "fetching " + name, Err: err}
	}

	return info, nil
}

func (s *Service) getWithTransport(ctx context.Context, channel, url string) ([]byte, error) {
	if err := s.downloadSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.downloadSem.Release(1)

	retryClient := s.retry

	if rt, ok := s.authByHost[hostOf(channel)]; ok {
		clone := &retryablehttp.Client{
			HTTPClient:      &http.Client{Transport: rt, Timeout: s.retry.HTTPClient.Timeout},
			Logger:          s.retry.Logger,
			RetryWaitMin:    s.retry.RetryWaitMin,
			RetryWaitMax:    s.retry.RetryWaitMax,
			RetryMax:        s.retry.RetryMax,
			RequestLogHook:  s.retry.RequestLogHook,
			ResponseLogHook: s.retry.ResponseLogHook,
			CheckRetry:      s.retry.CheckRetry,
			Backoff:         s.retry.Backoff,
			ErrorHandler:    s.retry.ErrorHandler,
			PrepareRetry:    s.retry.PrepareRetry,
		}
		retryClient = clone
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := retryClient.StandardClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	return io.ReadAll(resp.Body)
}

func hostOf(channel string) string {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(channel, "https://"), "http://")
	if idx := strings.Index(trimmed, "/"); idx >= 0 {
		trimmed = trimmed[:idx]
	}

	return trimmed
}

func groupBySubdirName(channel string, platform spec.Platform, records []RepodataRecord) *Repodata {
	out := &Repodata{Channel: channel, Subdir: platform, Packages: map[string][]RepodataRecord{}}

	for _, r := range records {
		r.Channel = channel
		r.Subdir = string(platform)
		out.Packages[r.Name] = append(out.Packages[r.Name], r)
	}

	return out
}
