// Package fetch implements the shared RemoteFetcher capability both the
// Backup and Repair engines need: turning a RemoteItem into local bytes
// via download-or-export with the same retry policy, without either
// engine calling into the other to get it.
package fetch

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"drivearchive/pkg/driveport"
	"drivearchive/pkg/mimetable"
	"drivearchive/pkg/retry"
)

// ArchivePathFor computes the archive member name for item: id plus the
// export extension if item's mime type has a translation, otherwise id
// plus item's own extension. ok is false for unsupported google-apps
// types, which are skipped rather than archived.
func ArchivePathFor(item driveport.RemoteItem) (archivePath string, exportMime string, isExport bool, ok bool) {
	if t, found := mimetable.Lookup(item.MimeType); found {
		return item.ID + t.Extension, t.ExportMime, true, true
	}
	if mimetable.IsUnsupportedGoogleAppsType(item.MimeType) {
		return "", "", false, false
	}
	return item.ID + filepath.Ext(item.Name), "", false, true
}

// Fetcher streams a RemoteItem's content to a local file via download or
// export, applying the shared retry policy once in one place.
type Fetcher struct {
	Port driveport.Port
}

// New creates a Fetcher backed by port.
func New(port driveport.Port) *Fetcher {
	return &Fetcher{Port: port}
}

// FetchToFile writes item's content to destPath, using Export when item
// has a MIME translation and DownloadNative otherwise. It retries per
// pkg/retry's fixed policy, deleting any partial output between
// attempts and after a final failure, and returns the number of bytes written on success. onAttempt,
// if non-nil, is called once per attempt (including the first) so callers
// can maintain an accurate per-attempt counter rather than a per-call one.
func (f *Fetcher) FetchToFile(ctx context.Context, item driveport.RemoteItem, destPath string, onAttempt func()) (int64, error) {
	_, exportMime, isExport, ok := ArchivePathFor(item)
	if !ok {
		return 0, fmt.Errorf("fetch: %s has no supported representation (mime=%s)", item.ID, item.MimeType)
	}

	var written int64
	cleanup := func() {
		_ = os.Remove(destPath)
	}

	err := retry.Do(ctx, func() error {
		if onAttempt != nil {
			onAttempt()
		}
		written = 0
		out, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			return driveport.LocalIO(err)
		}
		defer out.Close()

		counter := &countingWriter{w: out}
		if isExport {
			err = f.Port.Export(ctx, item.ID, exportMime, counter)
		} else {
			err = f.Port.DownloadNative(ctx, item.ID, counter)
		}
		written = counter.n
		return err
	}, cleanup)

	if err != nil {
		cleanup()
		return 0, err
	}
	return written, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// guessMimeFromExtension derives an upload MIME type from a file name
// extension, falling back to application/octet-stream for unknown
// extensions.
func guessMimeFromExtension(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if m, ok := extensionMimeTable[ext]; ok {
		return m
	}
	return "application/octet-stream"
}

var extensionMimeTable = map[string]string{
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".pdf":  "application/pdf",
	".txt":  "text/plain",
	".csv":  "text/csv",
	".json": "application/json",
	".zip":  "application/zip",
	".mp4":  "video/mp4",
	".mp3":  "audio/mpeg",
}

// GuessMime is the exported form of guessMimeFromExtension, used by the
// Restore engine when uploading extracted members.
func GuessMime(name string) string { return guessMimeFromExtension(name) }
