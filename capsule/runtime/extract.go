package runtime

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/flate"
	log "github.com/sirupsen/logrus"

	"github.com/cloudydesk/provisioning/shared/status"
)

// Extract unpacks the zip archive into dstDir. Entries escaping dstDir are rejected.
func Extract(archive, dstDir string) (int, error) {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return 0, status.Wrap(status.ExtractionFailed, "extract", fmt.Errorf("open archive: %w", err))
	}
	defer func() {
		if err := zr.Close(); err != nil {
			log.Warnf("failed to close archive %s: %v", archive, err)
		}
	}()
	zr.RegisterDecompressor(zip.Deflate, func(r io.Reader) io.ReadCloser {
		return flate.NewReader(r)
	})

	root, err := filepath.Abs(dstDir)
	if err != nil {
		return 0, status.Wrap(status.ExtractionFailed, "extract", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return 0, status.Wrap(status.ExtractionFailed, "extract", err)
	}

	files := 0
	for _, f := range zr.File {
		target, err := entryPath(root, f.Name)
		if err != nil {
			return files, status.Wrap(status.ExtractionFailed, "extract", err)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return files, status.Wrap(status.ExtractionFailed, "extract", err)
			}
			continue
		}
		if !f.Mode().IsRegular() {
			log.Warnf("skipping non-regular archive entry %s", f.Name)
			continue
		}

		if err := extractFile(f, target); err != nil {
			return files, status.Wrap(status.ExtractionFailed, "extract", err)
		}
		files++
	}

	log.Infof("extracted %d files to %s", files, root)
	return files, nil
}

func entryPath(root, name string) (string, error) {
	if name == "" || strings.Contains(name, `\`) || filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("illegal archive entry %q", name)
	}
	target := filepath.Join(root, filepath.FromSlash(name))
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("archive entry %q escapes the extraction directory", name)
	}
	return target, nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	src, err := f.Open()
	if err != nil {
		return fmt.Errorf("open entry %s: %w", f.Name, err)
	}
	defer src.Close()

	perm := f.Mode().Perm() | 0o600
	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return fmt.Errorf("write %s: %w", target, err)
	}
	return dst.Close()
}
