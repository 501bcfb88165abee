package gateway_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/klauspost/compress/zstd"

	"github.com/bilusteknoloji/pixi/internal/gateway"
	"github.com/bilusteknoloji/pixi/internal/pixierr"
	"github.com/bilusteknoloji/pixi/internal/pypi"
	"github.com/bilusteknoloji/pixi/internal/spec"
)

func repodataBody(t *testing.T) []byte {
	t.Helper()

	doc := map[string]any{
		"packages": map[string]any{
			"python-3.12.4-h1234_0.tar.bz2": map[string]any{
				"name": "python", "version": "3.12.4", "build": "h1234_0",
				"build_number": 0, "subdir": "linux-64", "sha256": "pysha",
			},
		},
		"packages.conda": map[string]any{
			"numpy-1.26.4-py312h1_0.conda": map[string]any{
				"name": "numpy", "version": "1.26.4", "build": "py312h1_0",
				"build_number": 0, "depends": []string{"python >=3.12,<3.13"},
				"subdir": "linux-64", "sha256": "npsha",
			},
		},
	}

	body, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshaling repodata fixture: %v", err)
	}

	return body
}

func TestFetchRepodataRawJSONFallback(t *testing.T) {
	body := repodataBody(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/linux-64/repodata.json" {
			http.NotFound(w, r)

			return
		}

		_, _ = w.Write(body)
	}))
	defer srv.Close()

	gw := gateway.New()

	rd, err := gw.FetchRepodata(context.Background(), srv.URL, spec.PlatformLinux64)
	if err != nil {
		t.Fatalf("FetchRepodata: %v", err)
	}

	if rd.Channel != srv.URL {
		t.Errorf("Channel = %q, want %q", rd.Channel, srv.URL)
	}

	pythons := rd.Packages["python"]
	if len(pythons) != 1 || pythons[0].Version != "3.12.4" {
		t.Fatalf("python records = %+v, want one 3.12.4 record", pythons)
	}

	numpys := rd.Packages["numpy"]
	if len(numpys) != 1 || numpys[0].FileName != "numpy-1.26.4-py312h1_0.conda" {
		t.Fatalf("numpy records = %+v, want one .conda record", numpys)
	}

	if len(numpys[0].Depends) != 1 {
		t.Fatalf("numpy depends = %v, want the python constraint", numpys[0].Depends)
	}
}

func TestFetchRepodataPrefersZstd(t *testing.T) {
	var buf bytes.Buffer

	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatalf("zstd.NewWriter: %v", err)
	}

	if _, err := enc.Write(repodataBody(t)); err != nil {
		t.Fatalf("compressing fixture: %v", err)
	}

	if err := enc.Close(); err != nil {
		t.Fatalf("closing zstd writer: %v", err)
	}

	var rawServed bool

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/linux-64/repodata.json.zst":
			_, _ = w.Write(buf.Bytes())
		case "/linux-64/repodata.json":
			rawServed = true

			http.NotFound(w, r)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	gw := gateway.New()

	rd, err := gw.FetchRepodata(context.Background(), srv.URL, spec.PlatformLinux64)
	if err != nil {
		t.Fatalf("FetchRepodata: %v", err)
	}

	if len(rd.Packages["python"]) != 1 {
		t.Fatalf("python records = %+v, want one", rd.Packages["python"])
	}

	if rawServed {
		t.Error("raw repodata.json was requested even though .json.zst succeeded")
	}
}

func TestFetchRepodataAllEncodingsMissing(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	gw := gateway.New()

	_, err := gw.FetchRepodata(context.Background(), srv.URL, spec.PlatformLinux64)
	if err == nil {
		t.Fatal("expected an error when every encoding 404s")
	}

	var idxErr *pixierr.IndexError
	if !errors.As(err, &idxErr) {
		t.Fatalf("error = %T (%v), want *pixierr.IndexError", err, err)
	}

	if idxErr.Channel != srv.URL {
		t.Errorf("IndexError.Channel = %q, want %q", idxErr.Channel, srv.URL)
	}
}

type stubPyPI struct {
	info *pypi.PackageInfo
	err  error
}

func (s *stubPyPI) GetPackage(context.Context, string) (*pypi.PackageInfo, error) {
	return s.info, s.err
}

func (s *stubPyPI) GetPackageVersion(context.Context, string, string) (*pypi.PackageInfo, error) {
	return s.info, s.err
}

func TestFetchPyPIMetadataWrapsClientError(t *testing.T) {
	gw := gateway.New(gateway.WithPyPIClient(&stubPyPI{err: errors.New("boom")}))

	_, err := gw.FetchPyPIMetadata(context.Background(), "requests")
	if err == nil {
		t.Fatal("expected the client error to propagate")
	}

	var idxErr *pixierr.IndexError
	if !errors.As(err, &idxErr) {
		t.Fatalf("error = %T (%v), want *pixierr.IndexError", err, err)
	}
}

func TestFetchPyPIMetadataPassesThrough(t *testing.T) {
	want := &pypi.PackageInfo{Info: pypi.Info{Name: "requests", Version: "2.32.0"}}

	gw := gateway.New(gateway.WithPyPIClient(&stubPyPI{info: want}))

	got, err := gw.FetchPyPIMetadata(context.Background(), "requests")
	if err != nil {
		t.Fatalf("FetchPyPIMetadata: %v", err)
	}

	if got.Info.Name != "requests" {
		t.Errorf("Info.Name = %q, want %q", got.Info.Name, "requests")
	}
}
