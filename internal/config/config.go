// Package config holds the process-wide settings pixi needs, built once at
// startup and passed by reference through every constructor. Nothing here is
// a package-level mutable global.
package config

import (
	"net/http"
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/term"
)

// PinningStrategy controls the implicit version range built for a dependency
// added without an explicit range. It never affects solving
// itself.
type PinningStrategy string

const (
	PinSemver       PinningStrategy = "semver"
	PinMinor        PinningStrategy = "minor"
	PinMajor        PinningStrategy = "major"
	PinLatestUp     PinningStrategy = "latest-up"
	PinExactVersion PinningStrategy = "exact-version"
	PinNoPin        PinningStrategy = "no-pin"
)

// ChannelPriority controls whether stage-1 candidates from a lower-priority
// channel are rejected when a higher-priority channel offers the same name.
type ChannelPriority string

const (
	ChannelPriorityStrict   ChannelPriority = "strict"
	ChannelPriorityDisabled ChannelPriority = "disabled"
)

// Config is the explicit, passed-by-reference configuration object every
// component reads from instead of touching the environment or a global.
type Config struct {
	// CacheDir is the root of the content-addressed package cache.
	// Priority: RATTLER_CACHE_DIR > PIXI_HOME/cache > platform default.
	CacheDir string

	// Frozen mirrors PIXI_FROZEN: use the lockfile as-is, never touch the network.
	Frozen bool
	// Locked mirrors PIXI_LOCKED: run satisfiability and refuse on mismatch.
	Locked bool

	NoProgress bool
	Color      bool

	PinningStrategy PinningStrategy
	ChannelPriority ChannelPriority

	// MaxConcurrentSolves gates simultaneous resolver invocations (default: CPU count).
	MaxConcurrentSolves int
	// MaxConcurrentDownloads gates Repository Gateway and download fetches (default 50).
	MaxConcurrentDownloads int

	// HTTPClient is the base client the Repository Gateway wraps with retry
	// and, optionally, an authenticated RoundTripper supplied by a caller.
	HTTPClient *http.Client
}

// Option configures a Config.
type Option func(*Config)

func WithCacheDir(dir string) Option {
	return func(c *Config) {
		if dir != "" {
			c.CacheDir = dir
		}
	}
}

func WithFrozen(frozen bool) Option {
	return func(c *Config) { c.Frozen = frozen }
}

func WithLocked(locked bool) Option {
	return func(c *Config) { c.Locked = locked }
}

func WithPinningStrategy(s PinningStrategy) Option {
	return func(c *Config) {
		if s != "" {
			c.PinningStrategy = s
		}
	}
}

func WithChannelPriority(p ChannelPriority) Option {
	return func(c *Config) {
		if p != "" {
			c.ChannelPriority = p
		}
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) {
		if client != nil {
			c.HTTPClient = client
		}
	}
}

// New builds a Config from environment variables plus overrides, the same
// env-var-then-default layering cache.defaultCacheDir uses for a single
// directory, generalized to the whole process configuration.
func New(opts ...Option) *Config {
	c := &Config{
		CacheDir:               defaultCacheDir(),
		PinningStrategy:        PinSemver,
		ChannelPriority:        ChannelPriorityStrict,
		MaxConcurrentSolves:    runtime.NumCPU(),
		MaxConcurrentDownloads: 50,
		NoProgress:             os.Getenv("PIXI_NO_PROGRESS") != "",
		Color:                  os.Getenv("PIXI_COLOR") != "0",
		Frozen:                 os.Getenv("PIXI_FROZEN") != "",
		Locked:                 os.Getenv("PIXI_LOCKED") != "",
		HTTPClient:             &http.Client{},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Interactive reports whether task output should use a live status line
// rather than plain line-buffered log output: stdout must be a
// terminal and the user must not have forced PIXI_NO_PROGRESS.
func (c *Config) Interactive() bool {
	return !c.NoProgress && term.IsTerminal(int(os.Stdout.Fd()))
}

func defaultCacheDir() string {
	if dir := os.Getenv("RATTLER_CACHE_DIR"); dir != "" {
		return dir
	}

	if home := os.Getenv("PIXI_HOME"); home != "" {
		return filepath.Join(home, "cache")
	}

	userCache, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "pixi", "cache")
	}

	return filepath.Join(userCache, "rattler", "cache")
}
