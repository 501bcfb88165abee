// Package pixierr defines the closed taxonomy of error kinds surfaced by the
// core. Every kind carries enough structured context to be
// actionable without parsing a message string.
package pixierr

import "fmt"

// ManifestError reports a problem loading or validating a workspace manifest.
type ManifestError struct {
	Kind     string // SyntaxError, UnknownKey, TypeMismatch, UnknownFeatureRef, UnknownPlatform, ConflictingPackageAndPath, CycleInDependsOn, NameNormalizationClash
	Location string
	Err      error
}

func (e *ManifestError) Error() string {
	return fmt.Sprintf("manifest error (%s) at %s: %v", e.Kind, e.Location, e.Err)
}

func (e *ManifestError) Unwrap() error { return e.Err }

// IndexError reports a repodata or PyPI index fetch failure.
type IndexError struct {
	Channel string
	Reason  string
	Err     error
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("index error for channel %s: %s: %v", e.Channel, e.Reason, e.Err)
}

func (e *IndexError) Unwrap() error { return e.Err }

// NoSolution reports an over-constrained resolve with a minimal unsat core.
type NoSolution struct {
	UnsatCore []string
	Channels  []string
}

func (e *NoSolution) Error() string {
	return fmt.Sprintf("no solution: unsatisfiable requirements %v (channels consulted: %v)", e.UnsatCore, e.Channels)
}

// SolveGroupConflict reports incompatible shared-name constraints within a solve group.
type SolveGroupConflict struct {
	Group           string
	ConflictingSpecs []string
}

func (e *SolveGroupConflict) Error() string {
	return fmt.Sprintf("solve group %q conflict: %v", e.Group, e.ConflictingSpecs)
}

// MissingVirtualPackage reports a system-requirement floor that no virtual package satisfies.
type MissingVirtualPackage struct {
	Name     string
	Required string
}

func (e *MissingVirtualPackage) Error() string {
	return fmt.Sprintf("missing virtual package %s (required %s)", e.Name, e.Required)
}

// PythonABIMismatch reports an interpreter ABI that no candidate wheel supports.
type PythonABIMismatch struct {
	Have  string
	Needed string
}

func (e *PythonABIMismatch) Error() string {
	return fmt.Sprintf("python ABI mismatch: have %s, needed %s", e.Have, e.Needed)
}

// LockfileStale reports that --locked found the lockfile out of date.
type LockfileStale struct {
	Environment string
	Platform    string
	Reason      string
}

func (e *LockfileStale) Error() string {
	return fmt.Sprintf("lockfile stale for %s/%s: %s", e.Environment, e.Platform, e.Reason)
}

// CacheCorrupt reports a hash mismatch discovered while reading a cache entry.
type CacheCorrupt struct {
	Key string
	Err error
}

func (e *CacheCorrupt) Error() string {
	return fmt.Sprintf("cache entry %s corrupt: %v", e.Key, e.Err)
}

func (e *CacheCorrupt) Unwrap() error { return e.Err }

// PrefixCorrupt reports an inconsistent conda-meta directory.
type PrefixCorrupt struct {
	Prefix string
	Reason string
}

func (e *PrefixCorrupt) Error() string {
	return fmt.Sprintf("prefix %s corrupt: %s (run reinstall)", e.Prefix, e.Reason)
}

// BackendError reports a source-build backend failure.
type BackendError struct {
	Stage      string
	BackendID  string
	StderrTail string
	Err        error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %s failed at stage %s: %v\n%s", e.BackendID, e.Stage, e.Err, e.StderrTail)
}

func (e *BackendError) Unwrap() error { return e.Err }

// TaskFailed reports a non-zero task exit, naming the failing node and its
// dependency path from the DAG root that was invoked.
type TaskFailed struct {
	Task         string
	DependencyPath []string
	ExitCode     int
	Err          error
}

func (e *TaskFailed) Error() string {
	return fmt.Sprintf("task %q failed (exit %d) via %v: %v", e.Task, e.ExitCode, e.DependencyPath, e.Err)
}

func (e *TaskFailed) Unwrap() error { return e.Err }

// Cancelled reports a cooperative shutdown after a user interrupt.
type Cancelled struct {
	Reason string
}

func (e *Cancelled) Error() string { return "cancelled: " + e.Reason }
