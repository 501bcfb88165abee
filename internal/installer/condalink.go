package installer

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

var errReflinkUnsupported = errors.New("reflink not supported on this platform")

// CondaArtifact is the subset of a resolved conda record the installer needs
// to locate and link a cached package, independent of the lockfile package
// so installer stays a leaf dependency.
type CondaArtifact struct {
	Name        string
	Version     string
	Build       string
	BuildNumber int
}

// ExtractCondaArchive unpacks a cached `.conda` or legacy `.tar.bz2` conda
// package into destDir, laid out exactly as the archive itself: an `info/`
// tree (package metadata) alongside the payload files that get linked into
// a prefix.
func ExtractCondaArchive(archivePath, destDir string) error {
	switch {
	case strings.HasSuffix(archivePath, ".conda"):
		return extractDotConda(archivePath, destDir)
	case strings.HasSuffix(archivePath, ".tar.bz2"):
		return extractTarBz2(archivePath, destDir)
	default:
		return fmt.Errorf("unsupported conda archive format: %s", archivePath)
	}
}

// extractDotConda unpacks the newer `.conda` container: an outer zip with no
// compression of its own, holding one `pkg-*.tar.zst` (the payload) and one
// `info-*.tar.zst` (metadata), both zstd-compressed tars.
func extractDotConda(archivePath, destDir string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", archivePath, err)
	}
	defer func() { _ = zr.Close() }()

	for _, f := range zr.File {
		if !strings.HasSuffix(f.Name, ".tar.zst") {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("opening %s in %s: %w", f.Name, archivePath, err)
		}

		err = extractZstdTar(rc, destDir)

		_ = rc.Close()

		if err != nil {
			return fmt.Errorf("extracting %s: %w", f.Name, err)
		}
	}

	return nil
}

func extractZstdTar(r io.Reader, destDir string) error {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return fmt.Errorf("opening zstd stream: %w", err)
	}
	defer zr.Close()

	return extractTar(zr, destDir)
}

func extractTarBz2(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", archivePath, err)
	}
	defer func() { _ = f.Close() }()

	return extractTar(bzip2.NewReader(f), destDir)
}

// extractTar streams r as a tar archive into destDir, rejecting any entry
// that would resolve outside destDir (the same ZipSlip discipline
// installWheel already applies to wheel archives).
func extractTar(r io.Reader, destDir string) error {
	tr := tar.NewReader(r)

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}

		if err != nil {
			return fmt.Errorf("reading tar entry: %w", err)
		}

		destPath := filepath.Join(destDir, hdr.Name)
		if !isInsideDir(destPath, destDir) {
			return fmt.Errorf("zip slip detected: %s resolves outside %s", hdr.Name, destDir)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(destPath, 0o755); err != nil {
				return fmt.Errorf("creating directory %s: %w", destPath, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
				return fmt.Errorf("creating directory for %s: %w", destPath, err)
			}

			out, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode)&0o777)
			if err != nil {
				return fmt.Errorf("creating %s: %w", destPath, err)
			}

			if _, err := io.Copy(out, tr); err != nil {
				_ = out.Close()

				return fmt.Errorf("writing %s: %w", destPath, err)
			}

			if err := out.Close(); err != nil {
				return fmt.Errorf("closing %s: %w", destPath, err)
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
				return fmt.Errorf("creating directory for %s: %w", destPath, err)
			}

			if err := os.Symlink(hdr.Linkname, destPath); err != nil && !os.IsExist(err) {
				return fmt.Errorf("symlinking %s: %w", destPath, err)
			}
		}
	}
}

// LinkCondaPackage links an extracted conda package's payload (everything
// except the `info/` metadata directory) into prefix, one file at a time,
// using hardlink → reflink → copy, in that preference order.
func LinkCondaPackage(extractedDir, prefix string) ([]RecordEntry, error) {
	var records []RecordEntry

	err := filepath.Walk(extractedDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(extractedDir, path)
		if err != nil {
			return err
		}

		if rel == "info" || strings.HasPrefix(rel, "info"+string(filepath.Separator)) {
			return nil
		}

		if info.IsDir() {
			return nil
		}

		destPath := filepath.Join(prefix, rel)

		if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
			return fmt.Errorf("creating directory for %s: %w", rel, err)
		}

		if err := linkOrCopy(path, destPath); err != nil {
			return fmt.Errorf("linking %s: %w", rel, err)
		}

		hash, size, err := HashFile(destPath)
		if err != nil {
			return fmt.Errorf("hashing %s: %w", destPath, err)
		}

		records = append(records, RecordEntry{Path: rel, Hash: hash, Size: size})

		return nil
	})
	if err != nil {
		return nil, err
	}

	return records, nil
}

// linkOrCopy places src at dst via the cheapest mechanism available:
// hardlink, then (Linux only) a copy-on-write reflink via FICLONE, then a
// byte-for-byte copy as the universal fallback.
func linkOrCopy(src, dst string) error {
	_ = os.Remove(dst)

	if err := os.Link(src, dst); err == nil {
		return nil
	}

	if err := tryReflink(src, dst); err == nil {
		return nil
	}

	return copyFile(src, dst)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode()&0o777)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()

		return err
	}

	return out.Close()
}
