package fetch

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"drivearchive/pkg/driveport"
)

type fakePort struct {
	downloadAttempts int
	failUntilAttempt int
	content          string
	err              error
}

func (f *fakePort) ListChildren(ctx context.Context, folderID, pageToken string) (driveport.ChildPage, error) {
	return driveport.ChildPage{}, nil
}
func (f *fakePort) GetMeta(ctx context.Context, id string) (driveport.RemoteItem, error) {
	return driveport.RemoteItem{}, nil
}

func (f *fakePort) DownloadNative(ctx context.Context, id string, dst io.Writer) error {
	f.downloadAttempts++
	if f.downloadAttempts < f.failUntilAttempt {
		return driveport.Transient(errors.New("temporary glitch"))
	}
	if f.err != nil {
		return f.err
	}
	_, err := dst.Write([]byte(f.content))
	return err
}

func (f *fakePort) Export(ctx context.Context, id, exportMime string, dst io.Writer) error {
	_, err := dst.Write([]byte(f.content))
	return err
}
func (f *fakePort) FindChildFolder(ctx context.Context, parentID, name string) (string, bool, error) {
	return "", false, nil
}
func (f *fakePort) CreateFolder(ctx context.Context, parentID, name string) (string, error) {
	return "", nil
}
func (f *fakePort) Upload(ctx context.Context, parentID, name, mimeType string, src io.Reader) (driveport.RemoteItem, error) {
	return driveport.RemoteItem{}, nil
}

func TestArchivePathForNativeFile(t *testing.T) {
	item := driveport.RemoteItem{ID: "X1", Name: "photo.jpg", MimeType: "image/jpeg"}
	path, _, isExport, ok := ArchivePathFor(item)
	if !ok || isExport {
		t.Fatalf("expected native non-export file, got ok=%v isExport=%v", ok, isExport)
	}
	if path != "X1.jpg" {
		t.Errorf("path = %q, want %q", path, "X1.jpg")
	}
}

func TestArchivePathForGoogleDoc(t *testing.T) {
	item := driveport.RemoteItem{ID: "X2", Name: "Doc", MimeType: "application/vnd.google-apps.document"}
	path, exportMime, isExport, ok := ArchivePathFor(item)
	if !ok || !isExport {
		t.Fatalf("expected exportable doc, got ok=%v isExport=%v", ok, isExport)
	}
	if path != "X2.docx" {
		t.Errorf("path = %q, want %q", path, "X2.docx")
	}
	if exportMime == "" {
		t.Error("expected a non-empty export mime type")
	}
}

func TestArchivePathForUnsupportedGoogleAppsType(t *testing.T) {
	item := driveport.RemoteItem{ID: "X3", Name: "Form", MimeType: "application/vnd.google-apps.form"}
	_, _, _, ok := ArchivePathFor(item)
	if ok {
		t.Error("expected an unsupported google-apps type to be rejected")
	}
}

func TestFetchToFileSucceedsOnFirstAttempt(t *testing.T) {
	port := &fakePort{content: "payload"}
	f := New(port)
	dest := filepath.Join(t.TempDir(), "X1.jpg")

	attempts := 0
	item := driveport.RemoteItem{ID: "X1", Name: "photo.jpg", MimeType: "image/jpeg"}
	n, err := f.FetchToFile(context.Background(), item, dest, func() { attempts++ })
	if err != nil {
		t.Fatalf("FetchToFile: %v", err)
	}
	if n != int64(len("payload")) {
		t.Errorf("bytes written = %d, want %d", n, len("payload"))
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	data, _ := os.ReadFile(dest)
	if string(data) != "payload" {
		t.Errorf("file content = %q, want %q", data, "payload")
	}
}

func TestFetchToFileDeletesPartialOutputOnPermanentFailure(t *testing.T) {
	port := &fakePort{err: driveport.Permanent(errors.New("not found"))}
	f := New(port)
	dest := filepath.Join(t.TempDir(), "X1.jpg")

	item := driveport.RemoteItem{ID: "X1", Name: "photo.jpg", MimeType: "image/jpeg"}
	_, err := f.FetchToFile(context.Background(), item, dest, nil)
	if err == nil {
		t.Fatal("expected an error")
	}
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Errorf("expected partial output to be removed, stat err = %v", statErr)
	}
}

func TestGuessMimeKnownAndUnknownExtensions(t *testing.T) {
	if got := GuessMime("report.docx"); got == "application/octet-stream" {
		t.Error("expected a specific mime type for .docx")
	}
	if got := GuessMime("data.unknownext"); got != "application/octet-stream" {
		t.Errorf("GuessMime(unknown ext) = %q, want application/octet-stream", got)
	}
}
