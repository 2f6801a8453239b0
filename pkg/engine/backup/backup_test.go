package backup

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"drivearchive/pkg/archive"
	"drivearchive/pkg/driveport"
	"drivearchive/pkg/exclude"
	"drivearchive/pkg/fetch"
	"drivearchive/pkg/manifest"
	"drivearchive/pkg/opctx"
)

// fakePort is a minimal in-memory driveport.Port backed by a folder ->
// children map, enough to exercise listing, classification, and fetch.
type fakePort struct {
	children map[string][]driveport.RemoteItem
	content  map[string]string
	meta     map[string]driveport.RemoteItem
}

func newFakePort() *fakePort {
	return &fakePort{
		children: map[string][]driveport.RemoteItem{},
		content:  map[string]string{},
		meta:     map[string]driveport.RemoteItem{},
	}
}

func (f *fakePort) addFile(folderID string, item driveport.RemoteItem, content string) {
	f.children[folderID] = append(f.children[folderID], item)
	f.content[item.ID] = content
	f.meta[item.ID] = item
}

func (f *fakePort) ListChildren(ctx context.Context, folderID, pageToken string) (driveport.ChildPage, error) {
	return driveport.ChildPage{Items: f.children[folderID]}, nil
}

func (f *fakePort) GetMeta(ctx context.Context, id string) (driveport.RemoteItem, error) {
	if m, ok := f.meta[id]; ok {
		return m, nil
	}
	return driveport.RemoteItem{}, driveport.Permanent(os.ErrNotExist)
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

func TestTimesEquivalentBoundary(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if !timesEquivalent(base, base.Add(999*time.Millisecond)) {
		t.Error("expected a 999ms difference to be equivalent")
	}
	if timesEquivalent(base, base.Add(1001*time.Millisecond)) {
		t.Error("expected a 1001ms difference to not be equivalent")
	}
}

func TestAnalyzeClassification(t *testing.T) {
	mtime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	items := []driveport.RemoteItem{
		{ID: "D1", Name: "Doc", MimeType: "application/vnd.google-apps.document"},
		{ID: "F1", Name: "unchanged.txt", MimeType: "text/plain", ModifiedTime: mtime, HasModTime: true},
		{ID: "F2", Name: "changed.txt", MimeType: "text/plain", ModifiedTime: mtime.Add(time.Hour), HasModTime: true},
		{ID: "G1", Name: "Form", MimeType: "application/vnd.google-apps.form"},
	}
	prior := map[string]manifest.Entry{
		"F1": {ArchivePath: "F1.txt", GoogleDriveModifiedTime: &mtime},
		"F2": {ArchivePath: "F2.txt", GoogleDriveModifiedTime: &mtime},
	}

	e := &Engine{}
	planned := e.analyze(items, prior)
	if len(planned) != 4 {
		t.Fatalf("expected 4 planned items, got %d", len(planned))
	}

	byID := map[string]plannedItem{}
	for _, p := range planned {
		byID[p.item.ID] = p
	}

	if byID["D1"].act != actionDownload {
		t.Errorf("google doc should always be downloaded, got %v", byID["D1"].act)
	}
	if byID["F1"].act != actionCopy {
		t.Errorf("unchanged file should be copied, got %v", byID["F1"].act)
	}
	if byID["F2"].act != actionDownload {
		t.Errorf("changed file should be downloaded, got %v", byID["F2"].act)
	}
	if byID["G1"].act != actionSkipUnsupported {
		t.Errorf("unsupported google-apps type should be skipped, got %v", byID["G1"].act)
	}
}

func TestRunBasicBackupNoPrior(t *testing.T) {
	port := newFakePort()
	port.meta["root"] = driveport.RemoteItem{ID: "root", Name: "Root", IsFolder: true}
	port.addFile("root", driveport.RemoteItem{ID: "F1", Name: "notes.txt", MimeType: "text/plain", SizeBytes: 5}, "hello")

	e := New(port, fetch.New(port))
	octx := opctx.New(context.Background(), zerolog.Nop())

	opts := Options{
		RootID:           "root",
		Exclusions:       exclude.New(nil),
		MaxParallelTasks: 2,
		TempDir:          t.TempDir(),
		OutputDir:        t.TempDir(),
		ToolVersion:      "test",
	}

	archivePath, result, err := e.Run(octx, opts)
	require.NoError(t, err)
	require.True(t, result.Success, "result: %+v", result)
	require.EqualValues(t, 1, result.Counters.FilesListed)
	require.EqualValues(t, 1, result.Counters.SuccessfulDownloads)

	names, err := archive.MemberNames(archivePath)
	require.NoError(t, err)
	require.Len(t, names, 2) // manifest + one file
}

func TestRunHonorsExclusions(t *testing.T) {
	port := newFakePort()
	port.meta["root"] = driveport.RemoteItem{ID: "root", Name: "Root", IsFolder: true}
	port.addFile("root", driveport.RemoteItem{ID: "F1", Name: "keep.txt", MimeType: "text/plain"}, "keep")
	port.addFile("root", driveport.RemoteItem{ID: "F2", Name: "skip.txt", MimeType: "text/plain"}, "skip")

	e := New(port, fetch.New(port))
	octx := opctx.New(context.Background(), zerolog.Nop())

	opts := Options{
		RootID:           "root",
		Exclusions:       exclude.New([]string{"/skip.txt"}),
		MaxParallelTasks: 1,
		TempDir:          t.TempDir(),
		OutputDir:        t.TempDir(),
		ToolVersion:      "test",
	}

	_, result, err := e.Run(octx, opts)
	require.NoError(t, err)
	require.EqualValues(t, 1, result.Counters.FilesListed, "exclusion should drop one file from the listing")
}

func TestRunFailsOnRootUnavailable(t *testing.T) {
	port := newFakePort()
	e := New(port, fetch.New(port))
	octx := opctx.New(context.Background(), zerolog.Nop())

	opts := Options{
		RootID:    "missing-root",
		TempDir:   t.TempDir(),
		OutputDir: t.TempDir(),
	}

	_, _, err := e.Run(octx, opts)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrRootUnavailable)
}
