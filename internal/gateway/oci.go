package gateway

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"

	"github.com/bilusteknoloji/pixi/internal/pixierr"
	"github.com/bilusteknoloji/pixi/internal/spec"
)

// ociFetcher pulls channel repodata published as an OCI artifact, the real
// prefix.dev/conda-forge distribution mechanism for `oci://` channel URLs.
type ociFetcher struct{}

func (f *ociFetcher) fetchRepodata(ctx context.Context, channel string, platform spec.Platform) (*Repodata, error) {
	ref, err := ociReference(channel, platform)
	if err != nil {
		return nil, &pixierr.IndexError{Channel: channel, Reason: "parsing oci reference", Err: err}
	}

	img, err := remote.Image(ref, remote.WithContext(ctx))
	if err != nil {
		return nil, &pixierr.IndexError{Channel: channel, Reason: "pulling oci image", Err: err}
	}

	layers, err := img.Layers()
	if err != nil {
		return nil, &pixierr.IndexError{Channel: channel, Reason: "reading oci layers", Err: err}
	}

	for _, layer := range layers {
		rc, err := layer.Uncompressed()
		if err != nil {
			continue
		}

		payload, ext, found := findRepodataInTar(rc)

		_ = rc.Close()

		if !found {
			continue
		}

		decoded, err := decodeRepodataPayload(payload, ext)
		if err != nil {
			return nil, &pixierr.IndexError{Channel: channel, Reason: "decoding oci layer repodata", Err: err}
		}

		return groupBySubdirName(channel, platform, decoded), nil
	}

	return nil, &pixierr.IndexError{Channel: channel, Reason: "no repodata found in oci layers", Err: fmt.Errorf("subdir %s", platform)}
}

func ociReference(channel string, platform spec.Platform) (name.Reference, error) {
	trimmed := strings.TrimPrefix(channel, "oci://")
	if !strings.Contains(trimmed, ":") {
		trimmed += ":" + string(platform)
	}

	return name.ParseReference(trimmed)
}

func findRepodataInTar(r io.Reader) ([]byte, string, bool) {
	tr := tar.NewReader(r)

	for {
		hdr, err := tr.Next()
		if err != nil {
			return nil, "", false
		}

		for _, ext := range []string{".json.zst", ".json.bz2", ".json"} {
			if strings.HasSuffix(hdr.Name, "repodata"+ext) {
				var buf bytes.Buffer

				if _, err := io.Copy(&buf, tr); err != nil { //nolint:gosec // trusted registry content, bounded by repodata size
					return nil, "", false
				}

				return buf.Bytes(), ext, true
			}
		}
	}
}
