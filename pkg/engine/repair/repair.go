// Package repair implements the Repair Engine: extraction, manifest
// validation, missing-member detection, parallel refetch, and
// repaired-archive emission.
package repair

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"drivearchive/pkg/archive"
	"drivearchive/pkg/driveport"
	"drivearchive/pkg/executor"
	"drivearchive/pkg/fetch"
	"drivearchive/pkg/manifest"
	"drivearchive/pkg/opctx"
)

// idPattern is deliberately permissive: widen only on evidence that a
// real remote id needs it.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Options configures one Repair run.
type Options struct {
	ArchivePath      string
	TempDir          string
	MaxParallelTasks int
	OutputDir        string // fallback output dir if ArchivePath's own dir is unusable
}

// Result is the Repair-specific outcome, layered on top of opctx.Result.
type Result struct {
	opctx.Result
	RepairAttempted bool
	RepairedArchive string // "" if none was emitted
}

// Engine runs repairs, refetching missing members through a shared
// fetch.Fetcher rather than calling into the Backup engine, so neither
// engine depends on the other.
type Engine struct {
	Port    driveport.Port
	Fetcher *fetch.Fetcher
}

// New creates a repair Engine.
func New(port driveport.Port, fetcher *fetch.Fetcher) *Engine {
	return &Engine{Port: port, Fetcher: fetcher}
}

type missingEntry struct {
	entry manifest.Entry
	id    string
}

// Run executes all four phases.
func (e *Engine) Run(octx *opctx.Context, opts Options) (Result, error) {
	counters := &opctx.Counters{}
	stamp := time.Now().UTC().Format("20060102T150405Z") + "-" + uuid.NewString()[:8]

	extractDir := filepath.Join(opts.TempDir, "repair_extract_"+stamp)
	if err := os.MkdirAll(extractDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("repair: create extract dir: %w", err)
	}
	defer os.RemoveAll(extractDir)

	if err := archive.ExtractAll(octx, opts.ArchivePath, extractDir); err != nil {
		return Result{RepairAttempted: false}, fmt.Errorf("repair: extract: %w", err)
	}

	m, err := manifest.Read(extractDir)
	if err != nil {
		return Result{RepairAttempted: false}, fmt.Errorf("repair: %w", err)
	}

	missing := e.check(extractDir, m, counters)

	snapBeforeRefetch := counters.Snapshot()
	if snapBeforeRefetch.FilesFoundMissing == 0 {
		return Result{
			Result:          opctx.Result{Success: true, Elapsed: octx.Elapsed(), Counters: snapBeforeRefetch},
			RepairAttempted: false,
		}, nil
	}
	if len(missing) == 0 {
		// Every missing member had an unusable id; nothing to refetch, and
		// the archive stays unrepaired.
		return Result{
			Result:          opctx.Result{Success: false, Elapsed: octx.Elapsed(), Counters: snapBeforeRefetch},
			RepairAttempted: true,
		}, nil
	}

	e.refetch(octx, extractDir, missing, opts.MaxParallelTasks, counters)

	if octx.Cancelled() {
		return Result{
			Result:          opctx.Result{Success: false, Cancelled: true, Elapsed: octx.Elapsed(), Counters: counters.Snapshot()},
			RepairAttempted: true,
		}, nil
	}

	snap := counters.Snapshot()
	canEmit := snap.FailedDownloads == 0 && snap.RepairsSkippedNoID == 0

	res := Result{
		Result:          opctx.Result{Success: canEmit, Elapsed: octx.Elapsed(), Counters: snap},
		RepairAttempted: true,
	}
	if !canEmit {
		return res, nil
	}

	repairedPath, err := e.emit(opts, extractDir, stamp)
	if err != nil {
		return Result{}, err
	}
	res.RepairedArchive = repairedPath
	return res, nil
}

// check implements Phase 2: for each manifest entry, test whether its
// archive member is present in the extraction.
func (e *Engine) check(extractDir string, m *manifest.Manifest, counters *opctx.Counters) []missingEntry {
	var missing []missingEntry
	for _, entry := range m.Files {
		if _, err := os.Stat(filepath.Join(extractDir, entry.ArchivePath)); err == nil {
			counters.IncFilesFoundOk()
			continue
		}
		counters.IncFilesFoundMissing()

		id := strings.TrimSuffix(entry.ArchivePath, filepath.Ext(entry.ArchivePath))
		if id == "" || !idPattern.MatchString(id) {
			counters.IncRepairsSkippedNoID()
			continue
		}
		missing = append(missing, missingEntry{entry: entry, id: id})
	}
	return missing
}

// refetch implements Phase 3: bounded-parallel refetch of every missing
// entry with a usable id, via the shared fetch.Fetcher so the retry
// policy matches the one Backup uses.
func (e *Engine) refetch(octx *opctx.Context, extractDir string, missing []missingEntry, maxParallel int, counters *opctx.Counters) {
	pool, _ := executor.NewPool(octx.Context, executor.Clamp(maxParallel))

	for _, me := range missing {
		me := me
		pool.Submit(func(ctx context.Context) error {
			e.refetchOne(octx, extractDir, me, counters)
			return nil
		})
	}
	_ = pool.Wait()
}

func (e *Engine) refetchOne(octx *opctx.Context, extractDir string, me missingEntry, counters *opctx.Counters) {
	if octx.Err() != nil {
		return
	}

	current, err := e.Port.GetMeta(octx, me.id)
	if err != nil {
		counters.IncDownloadAttempts()
		counters.IncFailedDownloads()
		return
	}

	item := driveport.RemoteItem{
		ID:        me.id,
		Name:      filepath.Base(me.entry.GoogleDrivePath),
		Path:      me.entry.GoogleDrivePath,
		MimeType:  current.MimeType,
		SizeBytes: me.entry.SizeBytes,
	}
	if me.entry.GoogleDriveModifiedTime != nil {
		item.ModifiedTime = *me.entry.GoogleDriveModifiedTime
		item.HasModTime = true
	}

	destPath := filepath.Join(extractDir, me.entry.ArchivePath)
	written, err := e.Fetcher.FetchToFile(octx, item, destPath, counters.IncDownloadAttempts)
	if err != nil {
		if driveport.Classify(err) == driveport.ClassCancelled {
			return
		}
		counters.IncFailedDownloads()
		return
	}
	counters.IncSuccessfulDownloads()
	counters.AddBytesDownloaded(written)
}

// emit implements Phase 4's naming rule: <original_stem>_REPAIRED_<stamp>.zip
// next to the original archive, falling back to opts.OutputDir if that
// directory is unusable.
func (e *Engine) emit(opts Options, extractDir, stamp string) (string, error) {
	stem := strings.TrimSuffix(filepath.Base(opts.ArchivePath), filepath.Ext(opts.ArchivePath))
	name := fmt.Sprintf("%s_REPAIRED_%s.zip", stem, stamp)

	dir := filepath.Dir(opts.ArchivePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		dir = opts.OutputDir
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("repair: no usable output dir: %w", err)
		}
	}

	repairedPath := filepath.Join(dir, name)
	if err := archive.Create(context.Background(), extractDir, repairedPath); err != nil {
		return "", fmt.Errorf("repair: emit archive: %w", err)
	}
	return repairedPath, nil
}
