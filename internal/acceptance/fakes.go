// Package acceptance drives the core's manifest-to-lockfile (and, for the
// source-build scenario, build-dispatcher) pipeline end-to-end against
// fakes, expressed as the BDD scenarios in the concrete end-to-end
// scenarios list: minimal resolve, conda+PyPI interplay, conda winning a
// name contested by both stages, a multi-environment solve-group conflict,
// a source build with cache-skip-on-rebuild, and a stale lockfile rejected
// under --locked.
package acceptance

import (
	"context"

	"github.com/bilusteknoloji/pixi/internal/gateway"
	"github.com/bilusteknoloji/pixi/internal/pypi"
	"github.com/bilusteknoloji/pixi/internal/spec"
)

// fakeGateway is the same shape internal/resolver's own tests use to avoid
// any real network access (internal/resolver/solve_test.go), reused here so
// the acceptance suite is grounded in a pattern this codebase already
// trusts.
type fakeGateway struct {
	repodata map[string]*gateway.Repodata
	pypi     map[string]*pypi.PackageInfo
}

func (g *fakeGateway) FetchRepodata(_ context.Context, channel string, _ spec.Platform) (*gateway.Repodata, error) {
	rd, ok := g.repodata[channel]
	if !ok {
		return &gateway.Repodata{Channel: channel, Packages: map[string][]gateway.RepodataRecord{}}, nil
	}

	return rd, nil
}

func (g *fakeGateway) FetchPyPIMetadata(_ context.Context, name string) (*pypi.PackageInfo, error) {
	info, ok := g.pypi[name]
	if !ok {
		return nil, errNotFound(name)
	}

	return info, nil
}

type errNotFound string

func (e errNotFound) Error() string { return "not found: " + string(e) }

// fakeMapper is the same shape as internal/resolver/solve_test.go's, a
// fixed table consulted in place of the real prefix.dev-published mapping.
type fakeMapper struct {
	table map[string]string
}

func (m *fakeMapper) CondaName(_ context.Context, pypiName string) (string, bool, error) {
	name, ok := m.table[pypiName]

	return name, ok, nil
}

// seededRepodata builds the conda-forge index every scenario solves
// against: a dependency-free python, and a numpy that depends on it,
// mirroring internal/resolver/solve_test.go's newFakeRepodata but with one
// extra package (requests, absent from conda-forge on purpose, so a
// pypi-dependency on it always falls to the PyPI stage).
func seededRepodata() map[string]*gateway.Repodata {
	return map[string]*gateway.Repodata{
		"conda-forge": {
			Channel: "conda-forge",
			Packages: map[string][]gateway.RepodataRecord{
				"python": {
					{
						Name: "python", Version: "3.12.4", Build: "h1234_0", BuildNumber: 0,
						Subdir: "linux-64", Channel: "conda-forge", FileName: "python-3.12.4-h1234_0.conda",
						SHA256: "pysha",
					},
				},
				"numpy": {
					{
						Name: "numpy", Version: "1.26.4", Build: "py312h1", BuildNumber: 0,
						Depends: []string{"python >=3.12,<3.13"},
						Subdir:  "linux-64", Channel: "conda-forge", FileName: "numpy-1.26.4-py312h1.conda",
						SHA256: "npsha",
					},
				},
			},
		},
	}
}

// seededPyPI builds the PyPI-side fixtures: a dependency-free requests, and
// a numpy entry present purely so scenario 3 can prove the conda stage
// wins even when a same-named PyPI project also exists upstream.
func seededPyPI() map[string]*pypi.PackageInfo {
	return map[string]*pypi.PackageInfo{
		"requests": {
			Info: pypi.Info{Name: "requests", Version: "2.32.0"},
			Releases: map[string][]pypi.URL{
				"2.32.0": {{Filename: "requests-2.32.0-py3-none-any.whl", URL: "https://pypi.example/requests-2.32.0-py3-none-any.whl", PackageType: "bdist_wheel", Digests: pypi.Digests{SHA256: "reqsha"}}},
			},
		},
		"numpy": {
			Info: pypi.Info{Name: "numpy", Version: "1.26.4"},
			Releases: map[string][]pypi.URL{
				"1.26.4": {{Filename: "numpy-1.26.4-py3-none-any.whl", URL: "https://pypi.example/numpy-1.26.4-py3-none-any.whl", PackageType: "bdist_wheel", Digests: pypi.Digests{SHA256: "npwheelsha"}}},
			},
		},
	}
}
