// Package backend implements the Build-Backend Dispatcher: a
// JSON-RPC conversation with an out-of-process child that builds a source
// package (local path or Git ref) into a conda artifact. The core never
// builds in-process; backend-specific logic (python/cmake/rust/ros) lives
// entirely on the other side of this protocol.
package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/bilusteknoloji/pixi/internal/lockfile"
	"github.com/bilusteknoloji/pixi/internal/pixierr"
)

const stderrTailSize = 4096

// InitializeParams negotiates capabilities with a freshly launched
// backend.
type InitializeParams struct {
	Capabilities  map[string]bool `json:"capabilities"`
	WorkspaceRoot string          `json:"workspace_root"`
	SourceDir     string          `json:"source_dir"`
	Platform      string          `json:"platform"`
	Channels      []string        `json:"channels"`
}

// InitializeResult is the backend's response: what it supports, and which
// files the core must fingerprint for build caching. The core treats
// InputGlobs as authoritative and never second-guesses it.
type InitializeResult struct {
	BackendCapabilities map[string]bool `json:"backend_capabilities"`
	InputGlobs          []string        `json:"input_globs"`
}

// ManifestResult is the backend's view of the source package's metadata,
// however it derived it (pyproject.toml, package.xml, CMakeLists.txt, ...).
type ManifestResult struct {
	Package struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"package"`
	Dependencies       []string `json:"dependencies"`
	HostDeps           []string `json:"host_deps"`
	BuildDeps          []string `json:"build_deps"`
	OutputNameTemplate string   `json:"output_name_template"`
}

// BuildParams drives one build call. HostEnv/BuildEnv are prefixes the core
// installed from sub-resolutions of the package's host and build
// dependencies before this call.
type BuildParams struct {
	OutputDir     string            `json:"output_dir"`
	HostEnv       string            `json:"host_env"`
	BuildEnv      string            `json:"build_env"`
	VariantConfig map[string]string `json:"variant_config"`
}

// BuildResult is the produced artifact: its path, digest, and the conda
// record the installer will treat exactly like any repodata-sourced record.
type BuildResult struct {
	ArtifactPath string                `json:"artifact_path"`
	SHA256       string                `json:"sha256"`
	Record       lockfile.CondaPackage `json:"record"`
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// Dispatcher manages one backend child process and drives its JSON-RPC
// conversation. Per-call timeouts and cancellation propagate
// through context.Context, matching every other blocking call in the
// codebase.
type Dispatcher struct {
	id     string
	conn   *Conn
	cmd    *exec.Cmd
	stderr *tailBuffer
	logger *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// Launch starts command as a child process and wires a framed JSON-RPC
// connection to its stdin/stdout, exactly the way python.Service.Detect
// runs and parses a subprocess, generalized from one-shot Output() to a
// long-lived bidirectional pipe.
func Launch(ctx context.Context, command string, args []string, opts ...Option) (*Dispatcher, error) {
	cmd := exec.CommandContext(ctx, command, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("opening stdin pipe for %s: %w", command, err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("opening stdout pipe for %s: %w", command, err)
	}

	tail := newTailBuffer(stderrTailSize)
	cmd.Stderr = tail

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting backend %s: %w", command, err)
	}

	d := &Dispatcher{
		id:     command,
		conn:   NewConn(stdin, stdout),
		cmd:    cmd,
		stderr: tail,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d, nil
}

// NewFromTransport wires a Dispatcher directly over an existing
// reader/writer pair instead of launching a process, for tests and for any
// caller that already owns the child's lifecycle.
func NewFromTransport(id string, w io.Writer, r io.Reader, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		id:     id,
		conn:   NewConn(w, r),
		stderr: newTailBuffer(stderrTailSize),
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Initialize negotiates capabilities and retrieves the fingerprint globs.
func (d *Dispatcher) Initialize(ctx context.Context, params InitializeParams) (InitializeResult, error) {
	var result InitializeResult

	err := d.call(ctx, "initialize", params, &result)

	return result, err
}

// Manifest asks the backend for its view of the source package's metadata.
func (d *Dispatcher) Manifest(ctx context.Context) (ManifestResult, error) {
	var result ManifestResult

	err := d.call(ctx, "get_manifest", nil, &result)

	return result, err
}

// Build drives the backend through an actual build.
func (d *Dispatcher) Build(ctx context.Context, params BuildParams) (BuildResult, error) {
	var result BuildResult

	err := d.call(ctx, "build", params, &result)

	return result, err
}

// Shutdown asks the backend to exit cleanly, then waits for the process.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	if err := d.call(ctx, "shutdown", nil, nil); err != nil {
		d.logger.Debug("backend shutdown call failed, killing", slog.String("backend", d.id), slog.String("error", err.Error()))

		d.Kill()

		return d.Close()
	}

	return d.Close()
}

// Close releases the underlying process, if any. Safe to call more than
// once and safe to call after Shutdown.
func (d *Dispatcher) Close() error {
	d.closeOnce.Do(func() {
		if d.cmd == nil || d.cmd.Process == nil {
			return
		}

		_ = d.cmd.Wait()
	})

	return d.closeErr
}

// Kill terminates the backend immediately; used when a call's context is
// cancelled or its deadline expires.
func (d *Dispatcher) Kill() {
	if d.cmd != nil && d.cmd.Process != nil {
		_ = d.cmd.Process.Kill()
	}
}

// call runs one RPC, racing it against ctx so a cancelled or timed-out
// build never blocks the caller on a hung backend. Any failure (transport
// error, rpc error, or context cancellation) is wrapped as a BackendError
// carrying the backend's stderr tail.
func (d *Dispatcher) call(ctx context.Context, stage string, params, out any) error {
	done := make(chan error, 1)

	go func() { done <- d.conn.Call(stage, params, out) }()

	select {
	case <-ctx.Done():
		d.Kill()

		return &pixierr.BackendError{Stage: stage, BackendID: d.id, StderrTail: d.stderr.String(), Err: ctx.Err()}
	case err := <-done:
		if err != nil {
			return &pixierr.BackendError{Stage: stage, BackendID: d.id, StderrTail: d.stderr.String(), Err: err}
		}

		return nil
	}
}

// tailBuffer keeps only the last n bytes written to it, for surfacing a
// backend's stderr tail in a BackendError without unbounded memory growth.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf bytes.Buffer
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf.Write(p)

	if t.buf.Len() > t.max {
		trimmed := t.buf.Bytes()[t.buf.Len()-t.max:]
		t.buf.Reset()
		t.buf.Write(trimmed)
	}

	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.buf.String()
}
