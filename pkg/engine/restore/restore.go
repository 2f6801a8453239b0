// Package restore implements the Restore Engine: folder-tree
// materialization, resumable per-file upload, and resume-state
// journaling.
package restore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"drivearchive/pkg/archive"
	"drivearchive/pkg/config"
	"drivearchive/pkg/driveport"
	"drivearchive/pkg/executor"
	"drivearchive/pkg/fetch"
	"drivearchive/pkg/folderidcache"
	"drivearchive/pkg/manifest"
	"drivearchive/pkg/opctx"
	"drivearchive/pkg/resumestate"
	"drivearchive/pkg/retry"
)

// ErrResumeDirInvalid is returned when a resume directory is missing
// either its extraction or its state file.
var ErrResumeDirInvalid = errors.New("restore: resume directory missing manifest or state")

// Options configures one Restore run. Exactly one of ArchivePath or
// ResumeDir should be set: ArchivePath starts a fresh restore, ResumeDir
// resumes one already in progress.
type Options struct {
	ArchivePath string
	ResumeDir   string

	TempRoot        string
	AmbientSettings config.Settings
}

// Engine runs restores against a driveport.Port.
type Engine struct {
	Port driveport.Port
}

// New creates a restore Engine.
func New(port driveport.Port) *Engine {
	return &Engine{Port: port}
}

// Run executes all three phases and returns the structured Result. It
// deletes the extraction directory on success and preserves it (for a
// later resume) on any other outcome.
func (e *Engine) Run(octx *opctx.Context, opts Options) (opctx.Result, error) {
	counters := &opctx.Counters{}

	workDir, state, m, err := e.prepare(octx, opts)
	if err != nil {
		return opctx.Result{}, err
	}

	idx, err := resumestate.OpenIndex(filepath.Join(workDir, "_restore_index.sqlite"))
	if err != nil {
		octx.Log.Warn().Err(err).Msg("resume-state index unavailable, falling back to the JSON set")
		idx = nil
	} else {
		defer idx.Close()
		if err := idx.Rebuild(state); err != nil {
			octx.Log.Warn().Err(err).Msg("resume-state index rebuild failed, falling back to the JSON set")
			idx = nil
		}
	}

	cache := folderidcache.New(e.Port, state.SettingsUsed.RemoteRestoreParentID)
	if err := e.materializeFolders(octx, cache, m); err != nil {
		e.finalizeBestEffort(octx, workDir, state, &resumestate.CompletedBag{})
		if octx.Cancelled() {
			return e.cancelledResult(octx, counters, workDir), nil
		}
		return opctx.Result{}, err
	}

	bag := &resumestate.CompletedBag{}
	e.upload(octx, cache, m, state, workDir, idx, counters, bag)

	e.finalizeBestEffort(octx, workDir, state, bag)

	if octx.Cancelled() {
		return e.cancelledResult(octx, counters, workDir), nil
	}

	snap := counters.Snapshot()
	success := snap.FilesSkipped == 0 && (snap.FilesUploaded+snap.FilesAlreadyDone) == int64(len(m.Files))
	if success {
		os.RemoveAll(workDir)
	}

	return opctx.Result{
		Success:  success,
		Elapsed:  octx.Elapsed(),
		Counters: snap,
	}, nil
}

func (e *Engine) cancelledResult(octx *opctx.Context, counters *opctx.Counters, workDir string) opctx.Result {
	_ = workDir // preserved deliberately; never removed on a cancelled run
	return opctx.Result{
		Success:   false,
		Cancelled: true,
		Elapsed:   octx.Elapsed(),
		Counters:  counters.Snapshot(),
	}
}

// prepare branches between a fresh restore (extract-and-snapshot) and a
// resumed one (load-and-warn-on-drift).
func (e *Engine) prepare(octx *opctx.Context, opts Options) (string, *resumestate.State, *manifest.Manifest, error) {
	if opts.ResumeDir != "" {
		return e.prepareResume(octx, opts)
	}
	return e.prepareFresh(octx, opts)
}

func (e *Engine) prepareFresh(octx *opctx.Context, opts Options) (string, *resumestate.State, *manifest.Manifest, error) {
	stamp := time.Now().UTC().Format("20060102T150405Z") + "-" + uuid.NewString()[:8]
	workDir := filepath.Join(opts.TempRoot, "restore_"+stamp)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", nil, nil, fmt.Errorf("restore: create work dir: %w", err)
	}

	if err := archive.ExtractAll(octx, opts.ArchivePath, workDir); err != nil {
		return "", nil, nil, fmt.Errorf("restore: extract archive: %w", err)
	}

	m, err := manifest.Read(workDir)
	if err != nil {
		return "", nil, nil, fmt.Errorf("restore: %w", err)
	}

	settings := opts.AmbientSettings.Clamped()
	state := resumestate.New(settings, opts.ArchivePath, time.Now().UTC().Format(time.RFC3339))
	if err := resumestate.Save(workDir, state); err != nil {
		return "", nil, nil, fmt.Errorf("restore: save initial state: %w", err)
	}
	return workDir, state, m, nil
}

func (e *Engine) prepareResume(octx *opctx.Context, opts Options) (string, *resumestate.State, *manifest.Manifest, error) {
	workDir := opts.ResumeDir

	m, err := manifest.Read(workDir)
	if err != nil {
		return "", nil, nil, fmt.Errorf("%w: %v", ErrResumeDirInvalid, err)
	}
	state, err := resumestate.Load(workDir)
	if err != nil {
		return "", nil, nil, fmt.Errorf("%w: %v", ErrResumeDirInvalid, err)
	}

	diffs := config.Diff(state.SettingsUsed, opts.AmbientSettings)
	if len(diffs) > 0 {
		octx.Log.Warn().Strs("fields", diffs).Msg("resumed restore's stored settings differ from ambient settings; using stored settings")
	}
	return workDir, state, m, nil
}

// materializeFolders implements Phase 1: the distinct set of directory
// paths implied by every manifest entry, parents-first, single-threaded.
func (e *Engine) materializeFolders(octx *opctx.Context, cache *folderidcache.Cache, m *manifest.Manifest) error {
	dirSet := map[string]struct{}{}
	for _, f := range m.Files {
		dir := parentRelPath(f.GoogleDrivePath)
		if dir != "" {
			dirSet[dir] = struct{}{}
		}
	}
	dirs := make([]string, 0, len(dirSet))
	for d := range dirSet {
		dirs = append(dirs, d)
	}
	sort.Slice(dirs, func(i, j int) bool {
		if len(dirs[i]) != len(dirs[j]) {
			return len(dirs[i]) < len(dirs[j])
		}
		return dirs[i] < dirs[j]
	})

	for _, d := range dirs {
		if octx.Err() != nil {
			return octx.Err()
		}
		if _, err := cache.Ensure(octx, d); err != nil {
			return fmt.Errorf("restore: materialize folder %q: %w", d, err)
		}
	}
	return nil
}

// parentRelPath returns the directory portion of a canonical
// "/Root/.../name.ext" path, with the leading slash stripped, so it can
// be resolved relative to the configured restore parent.
func parentRelPath(remotePath string) string {
	dir := filepath.Dir(remotePath)
	dir = strings.TrimPrefix(dir, "/")
	if dir == "." {
		return ""
	}
	return dir
}

// upload implements Phase 2: bounded-parallel upload of every manifest
// entry not already recorded as completed.
func (e *Engine) upload(octx *opctx.Context, cache *folderidcache.Cache, m *manifest.Manifest, state *resumestate.State, workDir string, idx *resumestate.Index, counters *opctx.Counters, bag *resumestate.CompletedBag) {
	pool, _ := executor.NewPool(octx.Context, executor.Clamp(state.SettingsUsed.MaxParallelTasks))

	for _, entry := range m.Files {
		entry := entry
		pool.Submit(func(ctx context.Context) error {
			e.uploadOne(octx, ctx, cache, entry, state, workDir, idx, counters, bag)
			return nil
		})
	}
	_ = pool.Wait()
}

func (e *Engine) uploadOne(octx *opctx.Context, ctx context.Context, cache *folderidcache.Cache, entry manifest.Entry, state *resumestate.State, workDir string, idx *resumestate.Index, counters *opctx.Counters, bag *resumestate.CompletedBag) {
	if ctx.Err() != nil {
		return
	}
	if e.alreadyCompleted(entry.ArchivePath, state, idx) {
		counters.IncFilesAlreadyDone()
		return
	}

	localPath := filepath.Join(workDir, entry.ArchivePath)
	if _, err := os.Stat(localPath); err != nil {
		counters.IncFilesSkipped()
		return
	}

	parentDir := parentRelPath(entry.GoogleDrivePath)
	parentID, err := cache.Ensure(ctx, parentDir)
	if err != nil {
		octx.Log.Error().Err(err).Str("archivePath", entry.ArchivePath).Msg("could not resolve parent folder")
		return
	}

	name := filepath.Base(entry.GoogleDrivePath)
	mimeType := fetch.GuessMime(name)

	f, err := os.Open(localPath)
	if err != nil {
		counters.IncFilesSkipped()
		return
	}
	defer f.Close()

	rewind := func() {
		_, _ = f.Seek(0, io.SeekStart)
	}
	err = retry.Do(ctx, func() error {
		counters.IncUploadAttempts()
		_, err := e.Port.Upload(ctx, parentID, name, mimeType, f)
		return err
	}, rewind)
	if err != nil {
		octx.Log.Error().Err(err).Str("archivePath", entry.ArchivePath).Msg("upload failed")
		counters.IncFilesSkipped()
		return
	}

	counters.IncFilesUploaded()
	bag.Add(entry.ArchivePath)
	if idx != nil {
		if err := idx.Add(entry.ArchivePath); err != nil {
			octx.Log.Warn().Err(err).Str("archivePath", entry.ArchivePath).Msg("resume-state index add failed")
		}
	}
}

// alreadyCompleted checks the fast SQLite index first, when available, but
// only ever trusts it for a positive hit: the index's lookup is
// case-sensitive while State.IsCompleted compares case-insensitively, so a
// miss or an error from the index falls through to State's authoritative
// check rather than being treated as proof of absence.
func (e *Engine) alreadyCompleted(archivePath string, state *resumestate.State, idx *resumestate.Index) bool {
	if idx != nil {
		if ok, err := idx.Contains(archivePath); err == nil && ok {
			return true
		}
	}
	return state.IsCompleted(archivePath)
}

// finalizeBestEffort merges this run's completed uploads into the
// authoritative state and saves it. It runs even after cancellation, on
// a best-effort basis — a save failure is logged, never fatal.
func (e *Engine) finalizeBestEffort(octx *opctx.Context, workDir string, state *resumestate.State, bag *resumestate.CompletedBag) {
	state.MergeBag(bag)
	if err := resumestate.Save(workDir, state); err != nil {
		octx.Log.Error().Err(err).Msg("best-effort resume-state save failed")
	}
}
