package acceptance

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cucumber/godog"

	"github.com/bilusteknoloji/pixi/internal/backend"
	"github.com/bilusteknoloji/pixi/internal/cache"
	"github.com/bilusteknoloji/pixi/internal/config"
	"github.com/bilusteknoloji/pixi/internal/lockfile"
	"github.com/bilusteknoloji/pixi/internal/manifest"
	"github.com/bilusteknoloji/pixi/internal/resolver"
	"github.com/bilusteknoloji/pixi/internal/spec"
)

// TestFeatures drives every *.feature scenario against the real
// manifest→resolver→lockfile (and, for the source-build feature,
// build-dispatcher) pipeline, substituting fakes only at the two process
// boundaries: the Repository Gateway and the Build-Backend Dispatcher's
// child process.
func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}

func InitializeScenario(ctx *godog.ScenarioContext) {
	ctx.Before(func(c context.Context, _ *godog.Scenario) (context.Context, error) {
		dir, err := os.MkdirTemp("", "pixi-acceptance-*")
		if err != nil {
			return c, err
		}

		w := &world{
			dir:      dir,
			gw:       &fakeGateway{repodata: seededRepodata(), pypi: seededPyPI()},
			mp:       &fakeMapper{table: map[string]string{}},
			cfg:      config.New(config.WithCacheDir(filepath.Join(dir, "cache"))),
			platform: spec.PlatformLinux64,
			slices:   map[string]*lockfile.Slice{},
		}

		return withWorld(c, w), nil
	})

	ctx.After(func(c context.Context, _ *godog.Scenario, _ error) (context.Context, error) {
		if w := getWorld(c); w != nil && w.dir != "" {
			_ = os.RemoveAll(w.dir)
		}

		return c, nil
	})

	ctx.Step(`^a workspace manifest:$`, aWorkspaceManifest)
	ctx.Step(`^the conda-pypi mapper maps "([^"]*)" to "([^"]*)"$`, theCondaPypiMapperMaps)
	ctx.Step(`^I solve environment "([^"]*)" for platform "([^"]*)"$`, iSolveEnvironmentForPlatform)
	ctx.Step(`^I solve the solve-group "([^"]*)" across environments (.+) for platform "([^"]*)"$`, iSolveTheSolveGroupAcrossEnvironments)
	ctx.Step(`^the solve succeeds$`, theSolveSucceeds)
	ctx.Step(`^the solve fails with a solve-group conflict naming "([^"]*)"$`, theSolveFailsWithASolveGroupConflictNaming)
	ctx.Step(`^the lockfile slice for "([^"]*)"\/"([^"]*)" has a conda record "([^"]*)"$`, theLockfileSliceHasACondaRecord)
	ctx.Step(`^the lockfile slice for "([^"]*)"\/"([^"]*)" has a pypi record "([^"]*)"$`, theLockfileSliceHasAPypiRecord)
	ctx.Step(`^the lockfile slice for "([^"]*)"\/"([^"]*)" has exactly (\d+) record named "([^"]*)"$`, theLockfileSliceHasExactlyNRecordsNamed)

	ctx.Step(`^a source package "([^"]*)" with a python build backend and source files$`, aSourcePackageWithAPythonBuildBackendAndSourceFiles)
	ctx.Step(`^I build the package through the dispatcher$`, iBuildThePackageThroughTheDispatcher)
	ctx.Step(`^I build the package through the dispatcher again$`, iBuildThePackageThroughTheDispatcher)
	ctx.Step(`^the backend received exactly (\d+) build call$`, theBackendReceivedExactlyNBuildCalls)
	ctx.Step(`^both builds produced a source-built record for "([^"]*)"$`, bothBuildsProducedASourceBuiltRecordFor)

	ctx.Step(`^a lockfile already recording "([^"]*)"\/"([^"]*)" with only "([^"]*)"$`, aLockfileAlreadyRecording)
	ctx.Step(`^the manifest adds a new dependency "([^"]*)" to "([^"]*)"$`, theManifestAddsANewDependencyTo)
	ctx.Step(`^I check satisfiability for "([^"]*)"\/"([^"]*)"$`, iCheckSatisfiabilityFor)
	ctx.Step(`^satisfiability reports stale with reason naming "([^"]*)"$`, satisfiabilityReportsStaleWithReasonNaming)
}

func aWorkspaceManifest(ctx context.Context, manifestTOML *godog.DocString) (context.Context, error) {
	w := getWorld(ctx)

	if err := os.WriteFile(filepath.Join(w.dir, "pixi.toml"), []byte(manifestTOML.Content), 0o644); err != nil {
		return ctx, err
	}

	ws, err := manifest.Load(w.dir)
	if err != nil {
		return ctx, fmt.Errorf("loading manifest: %w", err)
	}

	w.ws = ws

	return ctx, nil
}

func theCondaPypiMapperMaps(ctx context.Context, pypiName, condaName string) (context.Context, error) {
	w := getWorld(ctx)
	w.mp.table[pypiName] = condaName

	return ctx, nil
}

func iSolveEnvironmentForPlatform(ctx context.Context, envName, platform string) (context.Context, error) {
	w := getWorld(ctx)

	eff, err := w.ws.Resolve(envName, spec.Platform(platform))
	if err != nil {
		w.solveErr = err

		return ctx, nil
	}

	slice, err := resolver.Solve(ctx, w.gw, w.mp, eff, w.cfg)
	w.solveErr = err

	if err == nil {
		w.slices[envName+"/"+platform] = slice
	}

	return ctx, nil
}

func iSolveTheSolveGroupAcrossEnvironments(ctx context.Context, group, envListCSV, platform string) (context.Context, error) {
	w := getWorld(ctx)

	members := map[string]*manifest.EffectiveFeatureSet{}

	for _, name := range splitQuotedCSV(envListCSV) {
		eff, err := w.ws.Resolve(name, spec.Platform(platform))
		if err != nil {
			return ctx, fmt.Errorf("resolving %s: %w", name, err)
		}

		members[name] = eff
	}

	slices, err := resolver.SolveGroup(ctx, w.gw, w.mp, group, members, w.cfg)
	w.solveErr = err

	if err == nil {
		for name, slice := range slices {
			w.slices[name+"/"+platform] = slice
		}
	}

	return ctx, nil
}

// splitQuotedCSV parses `"prod", "test"` into ["prod", "test"].
func splitQuotedCSV(s string) []string {
	var out []string

	for _, part := range strings.Split(s, ",") {
		out = append(out, strings.Trim(strings.TrimSpace(part), `"`))
	}

	return out
}

func theSolveSucceeds(ctx context.Context) error {
	w := getWorld(ctx)
	if w.solveErr != nil {
		return fmt.Errorf("expected solve to succeed, got: %w", w.solveErr)
	}

	return nil
}

func theSolveFailsWithASolveGroupConflictNaming(ctx context.Context, name string) error {
	w := getWorld(ctx)
	if w.solveErr == nil {
		return fmt.Errorf("expected a SolveGroupConflict, solve succeeded")
	}

	if !strings.Contains(w.solveErr.Error(), name) {
		return fmt.Errorf("expected conflict to name %q, got: %v", name, w.solveErr)
	}

	return nil
}

func sliceFor(w *world, env, platform string) (*lockfile.Slice, error) {
	slice, ok := w.slices[env+"/"+platform]
	if !ok {
		return nil, fmt.Errorf("no solved slice for %s/%s", env, platform)
	}

	return slice, nil
}

func theLockfileSliceHasACondaRecord(ctx context.Context, env, platform, name string) error {
	w := getWorld(ctx)

	slice, err := sliceFor(w, env, platform)
	if err != nil {
		return err
	}

	for _, r := range slice.Records {
		if r.Kind == lockfile.RecordConda && r.Name() == name {
			return nil
		}
	}

	return fmt.Errorf("no conda record named %q in %s/%s", name, env, platform)
}

func theLockfileSliceHasAPypiRecord(ctx context.Context, env, platform, name string) error {
	w := getWorld(ctx)

	slice, err := sliceFor(w, env, platform)
	if err != nil {
		return err
	}

	for _, r := range slice.Records {
		if (r.Kind == lockfile.RecordPyPIWheel || r.Kind == lockfile.RecordPyPISource) && r.Name() == name {
			return nil
		}
	}

	return fmt.Errorf("no pypi record named %q in %s/%s", name, env, platform)
}

func theLockfileSliceHasExactlyNRecordsNamed(ctx context.Context, env, platform string, count int, name string) error {
	w := getWorld(ctx)

	slice, err := sliceFor(w, env, platform)
	if err != nil {
		return err
	}

	n := 0

	for _, r := range slice.Records {
		if r.Name() == name {
			n++
		}
	}

	if n != count {
		return fmt.Errorf("expected %d record(s) named %q in %s/%s, got %d", count, name, env, platform, n)
	}

	return nil
}

func aSourcePackageWithAPythonBuildBackendAndSourceFiles(ctx context.Context) (context.Context, error) {
	w := getWorld(ctx)

	srcDir := filepath.Join(w.dir, "foo")
	if err := os.MkdirAll(srcDir, 0o755); err != nil {
		return ctx, err
	}

	if err := os.WriteFile(filepath.Join(srcDir, "main.py"), []byte("print('hi')\n"), 0o644); err != nil {
		return ctx, err
	}

	artifactDir := filepath.Join(w.dir, "artifacts")
	if err := os.MkdirAll(artifactDir, 0o755); err != nil {
		return ctx, err
	}

	artifactPath := filepath.Join(artifactDir, "foo-1.0.0-py_0.conda")
	if err := os.WriteFile(artifactPath, []byte("fake-artifact"), 0o644); err != nil {
		return ctx, err
	}

	cacheMgr, err := cache.New(cache.WithDir(w.cfg.CacheDir))
	if err != nil {
		return ctx, err
	}

	w.cacheMgr = cacheMgr

	ctx = withBuildRequest(ctx, buildScenario{
		req: backend.Request{
			Package: manifest.Package{
				Name:    "foo",
				Version: "1.0.0",
				Build:   manifest.BuildDescriptor{Backend: "python-build-backend", Channels: []string{"conda-forge"}},
			},
			SourceDir:     srcDir,
			WorkspaceRoot: w.dir,
			Platform:      w.platform,
		},
		artifactPath: artifactPath,
	})

	return ctx, nil
}

type buildScenario struct {
	req          backend.Request
	artifactPath string
	counts       fakeBackendCounts
	lastRecord   lockfile.Record
}

type buildScenarioKeyType struct{}

var buildScenarioKey = buildScenarioKeyType{}

func withBuildRequest(ctx context.Context, b buildScenario) context.Context {
	return context.WithValue(ctx, buildScenarioKey, &b)
}

func getBuildRequest(ctx context.Context) *buildScenario {
	b, _ := ctx.Value(buildScenarioKey).(*buildScenario)

	return b
}

func iBuildThePackageThroughTheDispatcher(ctx context.Context) error {
	w := getWorld(ctx)
	bs := getBuildRequest(ctx)

	launch := newFakeBackendLaunch(&bs.counts, bs.artifactPath)
	builder := backend.NewBuilder(w.cacheMgr, backend.WithLaunchFunc(launch))

	rec, err := builder.Build(ctx, bs.req)
	if err != nil {
		return fmt.Errorf("building: %w", err)
	}

	bs.lastRecord = rec
	w.lastRecord = rec
	w.backendCounts = bs.counts

	return nil
}

func theBackendReceivedExactlyNBuildCalls(ctx context.Context, n int) error {
	bs := getBuildRequest(ctx)
	if int(bs.counts.build) != n {
		return fmt.Errorf("expected %d build call(s), got %d", n, bs.counts.build)
	}

	return nil
}

func bothBuildsProducedASourceBuiltRecordFor(ctx context.Context, name string) error {
	bs := getBuildRequest(ctx)
	if bs.lastRecord.Kind != lockfile.RecordSourceBuilt {
		return fmt.Errorf("expected a source-built record, got kind %q", bs.lastRecord.Kind)
	}

	if bs.lastRecord.Name() != name {
		return fmt.Errorf("expected source-built record named %q, got %q", name, bs.lastRecord.Name())
	}

	return nil
}

func aLockfileAlreadyRecording(ctx context.Context, env, platform, onlyName string) (context.Context, error) {
	w := getWorld(ctx)

	lf := lockfile.New()
	lf.Merge(lockfile.Slice{
		Environment: env,
		Platform:    spec.Platform(platform),
		Channels:    []string{"conda-forge"},
		Records: []lockfile.Record{{
			Kind: lockfile.RecordConda,
			Conda: &lockfile.CondaPackage{
				Name: onlyName, Version: "3.12.4", Build: "h1234_0",
				URL: "https://example/python-3.12.4.conda", SHA256: "pysha",
				Subdir: platform, Channel: "conda-forge",
			},
		}},
	})

	w.lf = lf

	return ctx, nil
}

func theManifestAddsANewDependencyTo(ctx context.Context, name, envName string) (context.Context, error) {
	w := getWorld(ctx)

	eff, err := w.ws.Resolve(envName, w.platform)
	if err != nil {
		return ctx, err
	}

	eff.Dependencies = append(eff.Dependencies, spec.Dependency{
		Kind:  spec.DependencyConda,
		Match: spec.MatchSpec{Name: name},
	})

	w.effForStaleCheck = eff

	return ctx, nil
}

func iCheckSatisfiabilityFor(ctx context.Context, env, platform string) (context.Context, error) {
	w := getWorld(ctx)

	ok, reason := lockfile.Satisfies(w.lf, w.effForStaleCheck)
	w.satisfiesOK = ok
	w.satisfiesReason = reason

	return ctx, nil
}

func satisfiabilityReportsStaleWithReasonNaming(ctx context.Context, name string) error {
	w := getWorld(ctx)

	if w.satisfiesOK {
		return fmt.Errorf("expected satisfiability to report stale, got satisfied")
	}

	if w.satisfiesReason == nil || w.satisfiesReason.Spec != name {
		return fmt.Errorf("expected stale reason naming %q, got %+v", name, w.satisfiesReason)
	}

	return nil
}

