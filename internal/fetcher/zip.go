package fetcher

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Open returns a reader over a raw input. A ".zip" path is opened as an
// archive holding exactly one file. When path does not exist, the same name
// with a ".zip" extension is tried before giving up.
func Open(path string) (io.ReadCloser, error) {
	if strings.EqualFold(filepath.Ext(path), ".zip") {
		return OpenZIPSingle(path)
	}
	f, err := os.Open(path)
	if err == nil {
		return f, nil
	}
	if !os.IsNotExist(err) {
		return nil, eris.Wrapf(err, "fetcher: open %s", path)
	}
	alt := strings.TrimSuffix(path, filepath.Ext(path)) + ".zip"
	if _, statErr := os.Stat(alt); statErr == nil {
		return OpenZIPSingle(alt)
	}
	return nil, eris.Wrapf(err, "fetcher: open %s", path)
}

// OpenZIPSingle streams the single file of a ZIP that contains exactly one file.
func OpenZIPSingle(zipPath string) (io.ReadCloser, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, eris.Wrap(err, "zip: open archive")
	}

	// Filter to only files (skip directories)
	var files []*zip.File
	for _, f := range r.File {
		if !f.FileInfo().IsDir() {
			files = append(files, f)
		}
	}

	if len(files) != 1 {
		_ = r.Close()
		return nil, eris.Errorf("zip: expected exactly 1 file, got %d", len(files))
	}

	rc, err := files[0].Open()
	if err != nil {
		_ = r.Close()
		return nil, eris.Wrap(err, "zip: open entry")
	}
	return &zipEntry{ReadCloser: rc, archive: r}, nil
}

// zipEntry closes the archive together with the entry.
type zipEntry struct {
	io.ReadCloser
	archive *zip.ReadCloser
}

func (z *zipEntry) Close() error {
	err := z.ReadCloser.Close()
	if cerr := z.archive.Close(); err == nil {
		err = cerr
	}
	return err
}
