package transfer

import (
	"archive/tar"
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"github.com/The-Promised-Neverland/poller/pkg/logger"
)

const entryPrefix = "FS-*.tmp"

// ErrNotArchive is returned by openArchive when the file is neither zip nor tar.
var ErrNotArchive = errors.New("not a valid archive")

type Expander struct {
	unpack bool
}

func NewExpander(unpack bool) *Expander {
	return &Expander{unpack: unpack}
}

// Expand yields the files to dispatch for path. Without unpacking, or when the
// file is not an archive, that is path itself. Otherwise each regular entry is
// extracted next to the archive and yielded, and the archive is removed.
//
// Once any entry has been yielded the archive is never yielded. If every
// attempted entry failed, the archive is yielded unchanged instead.
func (e *Expander) Expand(path string) iter.Seq[string] {
	return func(yield func(string) bool) {
		if !e.unpack {
			yield(path)
			return
		}
		if _, err := os.Stat(path); err != nil {
			logger.Log.Warn("Received file vanished before expansion", "path", path, "err", err)
			return
		}
		arc, err := openArchive(path)
		if err != nil {
			logger.Log.Info("Passing file through unexpanded", "path", path, "reason", err)
			yield(path)
			return
		}

		yielded, failed := 0, 0
		stopped := false
		for {
			entry, err := arc.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				logger.Log.Warn("Failed to read archive entry table", "path", path, "err", err)
				failed++
				break
			}
			name := entryBaseName(entry.name)
			if entry.dir || name == "" {
				continue
			}
			if !entry.regular {
				logger.Log.Debug("Skipping non-regular archive entry", "name", entry.name)
				continue
			}
			out, err := extractEntry(entry, filepath.Dir(path))
			if err != nil {
				logger.Log.Warn("Failed to extract archive entry", "archive", path, "name", entry.name, "err", err)
				failed++
				continue
			}
			logger.Log.Debug("Unpacked archive entry", "name", name, "path", out)
			yielded++
			if !yield(out) {
				stopped = true
				break
			}
		}
		_ = arc.Close()

		if yielded == 0 && failed > 0 {
			logger.Log.Warn("No archive entries could be extracted, passing archive through", "path", path, "failed", failed)
			yield(path)
			return
		}
		if stopped {
			logger.Log.Warn("Expansion stopped early, remaining entries dropped", "path", path)
		}
		if err := os.Remove(path); err != nil {
			logger.Log.Warn("Failed to delete expanded archive", "path", path, "err", err)
		}
	}
}

// entryBaseName returns the trimmed component after the last "/". Zip and tar
// both store "/" as the separator, so a backslash is part of the name.
func entryBaseName(name string) string {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return strings.TrimSpace(name)
}

// extractEntry drains one entry into a fresh temp file in dir.
func extractEntry(entry *archiveEntry, dir string) (string, error) {
	rc, err := entry.open()
	if err != nil {
		return "", fmt.Errorf("failed to open entry: %w", err)
	}
	defer rc.Close()

	outFile, err := os.CreateTemp(dir, entryPrefix)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	outPath := outFile.Name()
	if _, err := io.Copy(outFile, rc); err != nil {
		outFile.Close()
		removeQuietly(outPath)
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := outFile.Close(); err != nil {
		removeQuietly(outPath)
		return "", fmt.Errorf("failed to close file: %w", err)
	}
	return outPath, nil
}

type archiveEntry struct {
	name    string
	dir     bool
	regular bool
	open    func() (io.ReadCloser, error)
}

type archive interface {
	// Next returns io.EOF after the last entry.
	Next() (*archiveEntry, error)
	Close() error
}

// openArchive checks the zip central directory first, then tries to read a tar
// header. Both failing yields ErrNotArchive.
func openArchive(path string) (archive, error) {
	zr, zipErr := zip.OpenReader(path)
	if zipErr == nil {
		return &zipArchive{r: zr}, nil
	}
	ta, tarErr := openTar(path)
	if tarErr == nil {
		return ta, nil
	}
	return nil, fmt.Errorf("%w: zip: %v; tar: %v", ErrNotArchive, zipErr, tarErr)
}

type zipArchive struct {
	r   *zip.ReadCloser
	idx int
}

func (a *zipArchive) Next() (*archiveEntry, error) {
	if a.idx >= len(a.r.File) {
		return nil, io.EOF
	}
	f := a.r.File[a.idx]
	a.idx++
	mode := f.Mode()
	return &archiveEntry{
		name:    f.Name,
		dir:     mode.IsDir() || strings.HasSuffix(f.Name, "/"),
		regular: mode.IsRegular(),
		open:    f.Open,
	}, nil
}

func (a *zipArchive) Close() error {
	return a.r.Close()
}

type tarArchive struct {
	file    *os.File
	tr      *tar.Reader
	pending *tar.Header
}

func openTar(path string) (*tarArchive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	tr := tar.NewReader(f)
	hdr, err := tr.Next()
	if err != nil {
		f.Close()
		if err == io.EOF {
			return nil, errors.New("no tar entries")
		}
		return nil, err
	}
	return &tarArchive{file: f, tr: tr, pending: hdr}, nil
}

func (a *tarArchive) Next() (*archiveEntry, error) {
	hdr := a.pending
	a.pending = nil
	if hdr == nil {
		var err error
		if hdr, err = a.tr.Next(); err != nil {
			return nil, err
		}
	}
	return &archiveEntry{
		name:    hdr.Name,
		dir:     hdr.Typeflag == tar.TypeDir,
		regular: hdr.Typeflag == tar.TypeReg,
		open: func() (io.ReadCloser, error) {
			return io.NopCloser(a.tr), nil
		},
	}, nil
}

func (a *tarArchive) Close() error {
	return a.file.Close()
}
