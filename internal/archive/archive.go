// Package archive streams filesystem trees or in-memory blobs into compressed
// zip artifacts, and extracts them again during restore. Archiving is
// all-or-nothing: any streaming failure aborts the operation and removes the
// partial output file.
package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/flate"
)

// ArchivePaths streams each source (file or directory, recursively) into a
// single zip at dst. Relative directory structure is preserved under each
// source's basename.
func ArchivePaths(dst string, sources []string) error {
	if len(sources) == 0 {
		return fmt.Errorf("no source paths to archive")
	}

	w, err := newWriter(dst)
	if err != nil {
		return err
	}

	for _, src := range sources {
		if err := w.addPath(src); err != nil {
			w.abort()
			return fmt.Errorf("archive %s: %w", src, err)
		}
	}

	return w.finish()
}

// ArchiveBlob writes an in-memory payload as a single named entry in a zip
// at dst.
func ArchiveBlob(dst, entryName string, data []byte) error {
	w, err := newWriter(dst)
	if err != nil {
		return err
	}

	ew, err := w.zw.Create(filepath.ToSlash(entryName))
	if err != nil {
		w.abort()
		return fmt.Errorf("create entry %s: %w", entryName, err)
	}
	if _, err := io.Copy(ew, bytes.NewReader(data)); err != nil {
		w.abort()
		return fmt.Errorf("write entry %s: %w", entryName, err)
	}

	return w.finish()
}

// Extract unpacks the zip at src into dst, creating directories as needed.
// Entries that would escape dst are rejected.
func Extract(src, dst string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer r.Close()

	if err := os.MkdirAll(dst, 0o755); err != nil {
		return fmt.Errorf("create target dir: %w", err)
	}

	for _, f := range r.File {
		if err := extractEntry(f, dst); err != nil {
			return fmt.Errorf("extract %s: %w", f.Name, err)
		}
	}
	return nil
}

func extractEntry(f *zip.File, dst string) error {
	name := filepath.FromSlash(f.Name)
	target := filepath.Join(dst, name)
	if !strings.HasPrefix(target, filepath.Clean(dst)+string(os.PathSeparator)) {
		return fmt.Errorf("entry path escapes target dir")
	}

	if f.FileInfo().IsDir() {
		return os.MkdirAll(target, 0o755)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

type writer struct {
	path string
	file *os.File
	zw   *zip.Writer
}

func newWriter(dst string) (*writer, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, fmt.Errorf("create destination dir: %w", err)
	}

	f, err := os.Create(dst)
	if err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}

	zw := zip.NewWriter(f)
	// Maximum compression ratio for durable artifacts.
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})

	return &writer{path: dst, file: f, zw: zw}, nil
}

// addPath streams a file or directory tree into the archive under the
// source's basename.
func (w *writer) addPath(src string) error {
	src = filepath.Clean(src)
	info, err := os.Stat(src)
	if err != nil {
		return err
	}

	base := filepath.Base(src)
	if !info.IsDir() {
		return w.addFile(src, base, info)
	}

	return filepath.Walk(src, func(path string, fi os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		name := base
		if rel != "." {
			name = base + "/" + filepath.ToSlash(rel)
		}
		if fi.IsDir() {
			_, err := w.zw.CreateHeader(&zip.FileHeader{Name: name + "/"})
			return err
		}
		return w.addFile(path, name, fi)
	})
}

func (w *writer) addFile(path, name string, info os.FileInfo) error {
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = name
	header.Method = zip.Deflate

	ew, err := w.zw.CreateHeader(header)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	_, err = io.Copy(ew, f)
	closeErr := f.Close()
	if err != nil {
		return err
	}
	return closeErr
}

// finish closes the archive. On failure the partial output is removed.
func (w *writer) finish() error {
	if err := w.zw.Close(); err != nil {
		w.file.Close()
		os.Remove(w.path)
		return fmt.Errorf("finalize archive: %w", err)
	}
	if err := w.file.Close(); err != nil {
		os.Remove(w.path)
		return fmt.Errorf("close archive: %w", err)
	}
	return nil
}

// abort discards the writer and removes the partial output file. Partial
// archives are never acceptable outputs.
func (w *writer) abort() {
	w.zw.Close()
	w.file.Close()
	os.Remove(w.path)
}
