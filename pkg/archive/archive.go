// Package archive reads and writes the flat-layout archive file: one
// manifest member plus zero or more payload members, all at the archive
// root, no subdirectories. The flat, opaque-id-keyed layout sidesteps
// path-length limits, illegal-character rewrites, and case-collision
// hazards that a deep-tree layout would hit.
package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// utf8Flag marks a zip entry name/comment as UTF-8, per APPNOTE 6.3.0
// §4.4.4, so archivers that honor the flag render any Unicode filename
// correctly instead of falling back to a legacy code page.
const utf8Flag = 0x800

// Create builds a new archive file at archivePath containing every
// regular file directly inside dir (dir itself is not part of any member
// name). Compression is the container default (deflate).
func Create(ctx context.Context, dir, archivePath string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("archive: read dir: %w", err)
	}

	out, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("archive: create output: %w", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	defer zw.Close()

	for _, e := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if e.IsDir() {
			continue
		}
		if err := addMember(zw, filepath.Join(dir, e.Name()), e.Name()); err != nil {
			return fmt.Errorf("archive: add member %q: %w", e.Name(), err)
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("archive: finalize: %w", err)
	}
	// The explicit Close above surfaces flush errors before we return
	// success; the deferred second Close only returns an error that is
	// ignored.
	return nil
}

func addMember(zw *zip.Writer, srcPath, memberName string) error {
	info, err := os.Stat(srcPath)
	if err != nil {
		return err
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = memberName
	header.Method = zip.Deflate
	header.Flags |= utf8Flag

	w, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}

	f, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(w, f)
	return err
}

// ExtractAll extracts every member of the archive at archivePath into
// dir, which must already exist. Each member is written directly under
// dir under the last element of its name, matching the flat layout
// Create produces.
func ExtractAll(ctx context.Context, archivePath, dir string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("archive: open: %w", err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := extractMember(f, dir); err != nil {
			return fmt.Errorf("archive: extract member %q: %w", f.Name, err)
		}
	}
	return nil
}

func extractMember(f *zip.File, dir string) error {
	// Flat layout only: any directory part of the member name is dropped,
	// so a name that would escape dir or introduce a subdirectory is
	// flattened into dir rather than rejected.
	name := filepath.Base(f.Name)
	destPath := filepath.Join(dir, name)

	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode().Perm()|0o600)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, rc)
	return err
}

// MemberNames lists the member names present in the archive, without
// extracting anything.
func MemberNames(archivePath string) ([]string, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("archive: open: %w", err)
	}
	defer zr.Close()

	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	return names, nil
}
