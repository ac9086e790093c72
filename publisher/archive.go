package publisher

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/flate"
	log "github.com/sirupsen/logrus"

	"github.com/cloudydesk/provisioning/shared/status"
)

// entryTime is stamped on every archive entry so that the same tree always
// produces the same bytes.
var entryTime = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

// ArchiveStats summarises a written archive
type ArchiveStats struct {
	Files    int
	RawBytes int64
}

type sourceFile struct {
	rel  string
	abs  string
	mode fs.FileMode
	size int64
}

// Archive writes every regular file under srcDir into a zip stream on w.
// Entries are ordered by slash-separated relative path.
func Archive(ctx context.Context, srcDir string, w io.Writer) (ArchiveStats, error) {
	files, err := collectFiles(srcDir)
	if err != nil {
		return ArchiveStats{}, err
	}

	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})

	var stats ArchiveStats
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return stats, status.Wrap(status.CompressionError, "compress", fmt.Errorf("archive interrupted: %w", err))
		}

		if err := addFile(zw, f); err != nil {
			return stats, status.Wrap(status.CompressionError, "compress", err)
		}
		stats.Files++
		stats.RawBytes += f.size

		if stats.Files%50 == 0 {
			log.Debugf("added %d files (%.1f MB)", stats.Files, float64(stats.RawBytes)/(1024*1024))
		}
	}

	if err := zw.Close(); err != nil {
		return stats, status.Wrap(status.CompressionError, "compress", fmt.Errorf("finalize archive: %w", err))
	}
	return stats, nil
}

func collectFiles(srcDir string) ([]sourceFile, error) {
	info, err := os.Stat(srcDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, status.Errorf(status.SourceNotFound, "source directory %s does not exist", srcDir)
		}
		return nil, status.Wrap(status.SourceNotFound, "scan-source", err)
	}
	if !info.IsDir() {
		return nil, status.Errorf(status.SourceNotFound, "source %s is not a directory", srcDir)
	}

	var files []sourceFile
	err = filepath.WalkDir(srcDir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() {
			log.Warnf("skipping non-regular file %s", p)
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, p)
		if err != nil {
			return err
		}
		files = append(files, sourceFile{
			rel:  filepath.ToSlash(rel),
			abs:  p,
			mode: fi.Mode().Perm(),
			size: fi.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, status.Wrap(status.SourceNotFound, "scan-source", err)
	}
	if len(files) == 0 {
		return nil, status.Errorf(status.SourceNotFound, "source directory %s contains no files", srcDir)
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].rel < files[j].rel
	})
	return files, nil
}

func addFile(zw *zip.Writer, f sourceFile) error {
	hdr := &zip.FileHeader{
		Name:     f.rel,
		Method:   zip.Deflate,
		Modified: entryTime,
	}
	hdr.SetMode(f.mode)

	dst, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("create entry %s: %w", f.rel, err)
	}

	src, err := os.Open(f.abs)
	if err != nil {
		return fmt.Errorf("open %s: %w", f.abs, err)
	}
	defer func() {
		if err := src.Close(); err != nil {
			log.Warnf("failed to close %s: %v", f.abs, err)
		}
	}()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("compress %s: %w", f.rel, err)
	}
	return nil
}
