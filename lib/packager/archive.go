package packager

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zip"

	"github.com/trufnetwork/lambda-e2e/lib/errs"
)

// Archive writes every regular file below dir into a deflated zip. Entry names
// are relative to dir, slash separated, and keep the file mode so executables
// stay executable.
func Archive(dir string, w io.Writer) (int, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, &errs.NotFoundError{What: "asset directory", Path: dir, Err: err}
		}
		return 0, fmt.Errorf("stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("asset %s is not a directory", dir)
	}

	zw := zip.NewWriter(w)
	files := 0
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := zip.FileInfoHeader(fi)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		hdr.Method = zip.Deflate

		dst, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		if _, err := io.Copy(dst, src); err != nil {
			return fmt.Errorf("archiving %s: %w", rel, err)
		}
		files++
		return nil
	})
	if err != nil {
		zw.Close()
		return files, fmt.Errorf("archive %s: %w", dir, err)
	}
	if err := zw.Close(); err != nil {
		return files, fmt.Errorf("finalize archive %s: %w", dir, err)
	}
	return files, nil
}
