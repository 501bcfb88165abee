package spec_test

import (
	"reflect"
	"testing"

	"github.com/bilusteknoloji/pixi/internal/spec"
)

func TestParsePEP508(t *testing.T) {
	req := spec.ParsePEP508(`importlib-metadata[extra1,extra2]>=3.6.0; python_version < "3.10"`)

	if req.Name != "importlib-metadata" {
		t.Errorf("Name = %q", req.Name)
	}

	if !reflect.DeepEqual(req.Extras, []string{"extra1", "extra2"}) {
		t.Errorf("Extras = %v", req.Extras)
	}

	if req.Specifier != ">=3.6.0" {
		t.Errorf("Specifier = %q", req.Specifier)
	}

	if req.Marker != `python_version < "3.10"` {
		t.Errorf("Marker = %q", req.Marker)
	}
}

func TestEvalMarkerPythonVersion(t *testing.T) {
	env := spec.MarkerEnv{PythonVersion: "3.9"}

	if !spec.EvalMarker(`python_version < "3.10"`, env) {
		t.Error("expected marker to match for python 3.9")
	}

	env.PythonVersion = "3.11"
	if spec.EvalMarker(`python_version < "3.10"`, env) {
		t.Error("did not expect marker to match for python 3.11")
	}
}

func TestEvalMarkerExtra(t *testing.T) {
	env := spec.MarkerEnv{Extras: []string{"test"}}

	if !spec.EvalMarker(`extra == "test"`, env) {
		t.Error("expected extra marker to match")
	}

	if spec.EvalMarker(`extra == "docs"`, env) {
		t.Error("did not expect extra marker to match")
	}
}

func TestPEP508RoundTrip(t *testing.T) {
	cases := []string{
		"flask",
		"flask>=3.0",
		`importlib-metadata[extra1]>=3.6.0; python_version < "3.10"`,
	}

	for _, c := range cases {
		req := spec.ParsePEP508(c)
		reparsed := spec.ParsePEP508(req.Format())

		if !reflect.DeepEqual(req, reparsed) {
			t.Errorf("round trip mismatch for %q: %+v vs %+v", c, req, reparsed)
		}
	}
}

func TestEvalMarkerCompatibleRelease(t *testing.T) {
	env := spec.MarkerEnv{PythonVersion: "3.12"}

	if !spec.EvalMarker(`python_version ~= "3.6"`, env) {
		t.Error("expected 3.12 to satisfy ~= 3.6")
	}

	env.PythonVersion = "3.5"
	if spec.EvalMarker(`python_version ~= "3.6"`, env) {
		t.Error("did not expect 3.5 to satisfy ~= 3.6")
	}

	env.PythonVersion = "4.0"
	if spec.EvalMarker(`python_version ~= "3.6"`, env) {
		t.Error("did not expect 4.0 to satisfy ~= 3.6: the series is locked to 3.*")
	}
}
