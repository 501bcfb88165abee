package gateway

import (
	"bytes"
	"compress/bzip2"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// repodataJSON mirrors the on-disk repodata.json shape (both the legacy
// "packages" key for .tar.bz2 and the "packages.conda" key for the newer
// .conda format feed the same RepodataRecord).
type repodataJSON struct {
	Packages      map[string]repodataPackageJSON `json:"packages"`
	PackagesConda map[string]repodataPackageJSON `json:"packages.conda"`
}

type repodataPackageJSON struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Build       string   `json:"build"`
	BuildNumber int      `json:"build_number"`
	Depends     []string `json:"depends"`
	Constrains  []string `json:"constrains"`
	Subdir      string   `json:"subdir"`
	SHA256      string   `json:"sha256"`
	MD5         string   `json:"md5"`
	Size        int64    `json:"size"`
	Noarch      string   `json:"noarch"`
	Timestamp   int64    `json:"timestamp"`
}

// decodeRepodataPayload decompresses (if needed) and parses a repodata
// document fetched with the given filename suffix.
func decodeRepodataPayload(body []byte, ext string) ([]RepodataRecord, error) {
	raw, err := decompress(body, ext)
	if err != nil {
		return nil, err
	}

	var doc repodataJSON
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing repodata json: %w", err)
	}

	records := make([]RepodataRecord, 0, len(doc.Packages)+len(doc.PackagesConda))

	for fn, pkg := range doc.Packages {
		records = append(records, fromJSON(fn, pkg))
	}

	for fn, pkg := range doc.PackagesConda {
		records = append(records, fromJSON(fn, pkg))
	}

	return records, nil
}

func decompress(body []byte, ext string) ([]byte, error) {
	switch {
	case strings.HasSuffix(ext, ".zst"):
		dec, err := zstd.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("opening zstd stream: %w", err)
		}
		defer dec.Close()

		return io.ReadAll(dec)
	case strings.HasSuffix(ext, ".bz2"):
		return io.ReadAll(bzip2.NewReader(bytes.NewReader(body)))
	default:
		return body, nil
	}
}

func fromJSON(fn string, pkg repodataPackageJSON) RepodataRecord {
	return RepodataRecord{
		Name:        pkg.Name,
		Version:     pkg.Version,
		Build:       pkg.Build,
		BuildNumber: pkg.BuildNumber,
		Depends:     pkg.Depends,
		Constrains:  pkg.Constrains,
		Subdir:      pkg.Subdir,
		FileName:    fn,
		SHA256:      pkg.SHA256,
		MD5:         pkg.MD5,
		Size:        pkg.Size,
		Noarch:      pkg.Noarch,
		Timestamp:   pkg.Timestamp,
	}
}
