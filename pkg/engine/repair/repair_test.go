package repair

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"drivearchive/pkg/archive"
	"drivearchive/pkg/driveport"
	"drivearchive/pkg/fetch"
	"drivearchive/pkg/manifest"
	"drivearchive/pkg/opctx"
)

type fakePort struct {
	content map[string]string
	meta    map[string]driveport.RemoteItem
}

func newFakePort() *fakePort {
	return &fakePort{content: map[string]string{}, meta: map[string]driveport.RemoteItem{}}
}

func (f *fakePort) ListChildren(ctx context.Context, folderID, pageToken string) (driveport.ChildPage, error) {
	return driveport.ChildPage{}, nil
}
func (f *fakePort) GetMeta(ctx context.Context, id string) (driveport.RemoteItem, error) {
	m, ok := f.meta[id]
	if !ok {
		return driveport.RemoteItem{}, driveport.Permanent(os.ErrNotExist)
	}
	return m, nil
}
func (f *fakePort) DownloadNative(ctx context.Context, id string, dst io.Writer) error {
	c, ok := f.content[id]
	if !ok {
		return driveport.Permanent(os.ErrNotExist)
	}
	_, err := dst.Write([]byte(c))
	return err
}
func (f *fakePort) Export(ctx context.Context, id, exportMime string, dst io.Writer) error {
	_, err := dst.Write([]byte(f.content[id]))
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

func buildArchiveWithMissing(t *testing.T, present map[string]string, missingIDs []string) string {
	t.Helper()
	srcDir := t.TempDir()
	var entries []manifest.Entry
	for id, content := range present {
		name := id + ".txt"
		if err := os.WriteFile(filepath.Join(srcDir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write fixture: %v", err)
		}
		entries = append(entries, manifest.Entry{GoogleDrivePath: "/Root/" + name, ArchivePath: name, SizeBytes: int64(len(content))})
	}
	for _, id := range missingIDs {
		name := id + ".txt"
		entries = append(entries, manifest.Entry{GoogleDrivePath: "/Root/" + name, ArchivePath: name, SizeBytes: 5})
	}
	m := &manifest.Manifest{BackupToolVersion: "test", Files: entries}
	if err := manifest.Write(srcDir, m); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	archivePath := filepath.Join(t.TempDir(), "original.zip")
	if err := archive.Create(context.Background(), srcDir, archivePath); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return archivePath
}

func TestRunIntactArchiveIsNoOp(t *testing.T) {
	archivePath := buildArchiveWithMissing(t, map[string]string{"F1": "hello"}, nil)

	port := newFakePort()
	e := New(port, fetch.New(port))
	octx := opctx.New(context.Background(), zerolog.Nop())

	result, err := e.Run(octx, Options{ArchivePath: archivePath, TempDir: t.TempDir(), MaxParallelTasks: 1})
	require.NoError(t, err)
	require.False(t, result.RepairAttempted, "expected no repair attempt for an intact archive")
	require.True(t, result.Success, "result: %+v", result)
	require.EqualValues(t, 1, result.Counters.FilesFoundOk)
	require.EqualValues(t, 0, result.Counters.FilesFoundMissing)
}

func TestRunRefetchesMissingMember(t *testing.T) {
	archivePath := buildArchiveWithMissing(t, map[string]string{"F1": "hello"}, []string{"F2"})

	port := newFakePort()
	port.meta["F2"] = driveport.RemoteItem{ID: "F2", MimeType: "text/plain"}
	port.content["F2"] = "recovered"
	e := New(port, fetch.New(port))
	octx := opctx.New(context.Background(), zerolog.Nop())

	outputDir := t.TempDir()
	result, err := e.Run(octx, Options{
		ArchivePath:      archivePath,
		TempDir:          t.TempDir(),
		MaxParallelTasks: 1,
		OutputDir:        outputDir,
	})
	require.NoError(t, err)
	require.True(t, result.RepairAttempted, "expected a repair attempt")
	require.True(t, result.Success, "result: %+v", result)
	require.NotEmpty(t, result.RepairedArchive)

	names, err := archive.MemberNames(result.RepairedArchive)
	require.NoError(t, err)
	require.Contains(t, names, "F2.txt")
}

func TestRunSkipsMemberWithInvalidID(t *testing.T) {
	srcDir := t.TempDir()
	m := &manifest.Manifest{
		BackupToolVersion: "test",
		Files: []manifest.Entry{
			{GoogleDrivePath: "/Root/weird name!.txt", ArchivePath: "weird name!.txt", SizeBytes: 5},
		},
	}
	require.NoError(t, manifest.Write(srcDir, m))
	archivePath := filepath.Join(t.TempDir(), "original.zip")
	require.NoError(t, archive.Create(context.Background(), srcDir, archivePath))

	port := newFakePort()
	e := New(port, fetch.New(port))
	octx := opctx.New(context.Background(), zerolog.Nop())

	result, err := e.Run(octx, Options{ArchivePath: archivePath, TempDir: t.TempDir(), MaxParallelTasks: 1})
	require.NoError(t, err)
	require.EqualValues(t, 1, result.Counters.RepairsSkippedNoID)
	require.False(t, result.Success, "expected an unrepairable archive to not be marked successful")
	require.Empty(t, result.RepairedArchive)
}
