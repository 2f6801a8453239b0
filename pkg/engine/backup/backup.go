// Package backup implements the Backup Engine: listing, exclusion
// filtering, incremental analysis against a prior archive, per-file
// copy-or-fetch, manifest emission, and archive finalization.
package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"drivearchive/pkg/archive"
	"drivearchive/pkg/driveport"
	"drivearchive/pkg/exclude"
	"drivearchive/pkg/executor"
	"drivearchive/pkg/fetch"
	"drivearchive/pkg/manifest"
	"drivearchive/pkg/opctx"
)

// Options configures one Backup run.
type Options struct {
	RootID           string
	PriorArchivePath string // optional; "" means no incremental base
	Exclusions       exclude.Set
	MaxParallelTasks int
	TempDir          string // scratch root; engine creates subdirs under it
	OutputDir        string // where the finished archive is written
	ToolVersion      string
}

// Engine runs backups against a driveport.Port, fetching content through
// a shared fetch.Fetcher so the retry policy and MIME translation live in
// exactly one place, shared with the Repair engine.
type Engine struct {
	Port    driveport.Port
	Fetcher *fetch.Fetcher
}

// New creates a backup Engine.
func New(port driveport.Port, fetcher *fetch.Fetcher) *Engine {
	return &Engine{Port: port, Fetcher: fetcher}
}

type action int

const (
	actionDownload action = iota
	actionCopy
	actionSkipUnsupported
)

type plannedItem struct {
	item        driveport.RemoteItem
	act         action
	archivePath string
	copySource  string // set only for actionCopy
}

// Run executes all five phases and returns the path to the finished
// archive (produced even when some files failed, but not when the
// operation was cancelled or Run returns an error) along with the
// structured Result.
func (e *Engine) Run(octx *opctx.Context, opts Options) (string, opctx.Result, error) {
	counters := &opctx.Counters{}
	stamp := time.Now().UTC().Format("20060102T150405Z") + "-" + uuid.NewString()[:8]

	workDir := filepath.Join(opts.TempDir, "backup_"+stamp)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", opctx.Result{}, fmt.Errorf("backup: create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	priorByID, priorExtractDir := e.loadPrior(octx, opts, stamp)
	if priorExtractDir != "" {
		defer os.RemoveAll(priorExtractDir)
	}

	root, err := e.Port.GetMeta(octx, opts.RootID)
	if err != nil {
		return "", opctx.Result{}, fmt.Errorf("backup: %w: %v", ErrRootUnavailable, err)
	}

	items, err := e.list(octx, opts, root)
	if err != nil {
		if octx.Cancelled() {
			return "", e.cancelledResult(octx, counters), nil
		}
		return "", opctx.Result{}, err
	}
	for range items {
		counters.IncFilesListed()
	}

	planned := e.analyze(items, priorByID)

	entries := e.execute(octx, opts, planned, workDir, priorExtractDir, counters)

	if octx.Cancelled() {
		return "", e.cancelledResult(octx, counters), nil
	}

	m := &manifest.Manifest{
		BackupToolVersion:  opts.ToolVersion,
		BackupTimestampUtc: time.Now().UTC().Format(time.RFC3339),
		Files:              entries,
	}
	if err := manifest.Write(workDir, m); err != nil {
		return "", opctx.Result{}, err
	}

	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return "", opctx.Result{}, fmt.Errorf("backup: create output dir: %w", err)
	}
	archivePath := filepath.Join(opts.OutputDir, "backup_"+stamp+".zip")
	if err := archive.Create(octx, workDir, archivePath); err != nil {
		return "", opctx.Result{}, err
	}

	snap := counters.Snapshot()
	success := snap.FailedDownloads == 0 && snap.CopyErrors == 0
	return archivePath, opctx.Result{
		Success:  success,
		Elapsed:  octx.Elapsed(),
		Counters: snap,
	}, nil
}

func (e *Engine) cancelledResult(octx *opctx.Context, counters *opctx.Counters) opctx.Result {
	return opctx.Result{
		Success:   false,
		Cancelled: true,
		Elapsed:   octx.Elapsed(),
		Counters:  counters.Snapshot(),
	}
}

// loadPrior implements Phase 1: if a prior archive was given and exists,
// extract it and read its manifest, building an id->entry map. Any
// failure here is logged and swallowed, falling back permissively to a
// full backup.
func (e *Engine) loadPrior(octx *opctx.Context, opts Options, stamp string) (map[string]manifest.Entry, string) {
	if opts.PriorArchivePath == "" {
		return nil, ""
	}
	if _, err := os.Stat(opts.PriorArchivePath); err != nil {
		octx.Log.Info().Str("path", opts.PriorArchivePath).Msg("prior archive not found, running full backup")
		return nil, ""
	}

	extractDir := filepath.Join(opts.TempDir, "oldextract_"+stamp)
	if err := os.MkdirAll(extractDir, 0o755); err != nil {
		octx.Log.Warn().Err(err).Msg("could not create prior-extract dir, running full backup")
		return nil, ""
	}
	if err := archive.ExtractAll(octx, opts.PriorArchivePath, extractDir); err != nil {
		octx.Log.Warn().Err(err).Msg("could not extract prior archive, running full backup")
		os.RemoveAll(extractDir)
		return nil, ""
	}
	priorManifest, err := manifest.Read(extractDir)
	if err != nil {
		octx.Log.Warn().Err(err).Msg("could not read prior manifest, running full backup")
		os.RemoveAll(extractDir)
		return nil, ""
	}
	return priorManifest.ByID(), extractDir
}

type queueEntry struct {
	folderID string
	relPath  string
}

// list implements Phase 2: breadth-first traversal of the remote
// subtree, applying exclusion filtering as folders/files are discovered.
func (e *Engine) list(octx *opctx.Context, opts Options, root driveport.RemoteItem) ([]driveport.RemoteItem, error) {
	var items []driveport.RemoteItem
	queue := []queueEntry{{folderID: opts.RootID, relPath: ""}}

	for len(queue) > 0 {
		if octx.Err() != nil {
			return items, octx.Err()
		}
		entry := queue[0]
		queue = queue[1:]

		pageToken := ""
		for {
			if octx.Err() != nil {
				return items, octx.Err()
			}
			page, err := e.Port.ListChildren(octx, entry.folderID, pageToken)
			if err != nil {
				return items, err
			}
			for _, child := range page.Items {
				childRel := normalizeRel(entry.relPath + "/" + child.Name)
				if opts.Exclusions.Excludes(childRel) {
					continue
				}
				child.Path = "/" + root.Name + childRel
				if child.IsFolder {
					queue = append(queue, queueEntry{folderID: child.ID, relPath: childRel})
					continue
				}
				items = append(items, child)
			}
			if page.NextPageToken == "" {
				break
			}
			pageToken = page.NextPageToken
		}
	}
	return items, nil
}

func normalizeRel(p string) string {
	for len(p) > 0 && p[0] == '/' {
		p = p[1:]
	}
	return "/" + p
}

// analyze implements Phase 3's four-way classification.
func (e *Engine) analyze(items []driveport.RemoteItem, priorByID map[string]manifest.Entry) []plannedItem {
	planned := make([]plannedItem, 0, len(items))
	for _, item := range items {
		archivePath, _, isExport, ok := fetch.ArchivePathFor(item)
		if !ok {
			planned = append(planned, plannedItem{item: item, act: actionSkipUnsupported})
			continue
		}
		if isExport {
			planned = append(planned, plannedItem{item: item, act: actionDownload, archivePath: archivePath})
			continue
		}

		if prior, ok := priorByID[item.ID]; ok && item.HasModTime && prior.GoogleDriveModifiedTime != nil &&
			timesEquivalent(item.ModifiedTime, *prior.GoogleDriveModifiedTime) {
			planned = append(planned, plannedItem{item: item, act: actionCopy, archivePath: archivePath, copySource: prior.ArchivePath})
			continue
		}

		planned = append(planned, plannedItem{item: item, act: actionDownload, archivePath: archivePath})
	}
	return planned
}

// timesEquivalent reports two timestamps as equivalent when their UTC
// representations differ by strictly less than one second.
func timesEquivalent(a, b time.Time) bool {
	diff := a.UTC().Sub(b.UTC())
	if diff < 0 {
		diff = -diff
	}
	return diff < time.Second
}

// execute implements Phase 4: bounded-parallel copy-or-download, filling
// a thread-safe manifest-entry bag drained into a slice only after every
// worker has finished.
func (e *Engine) execute(octx *opctx.Context, opts Options, planned []plannedItem, workDir, priorExtractDir string, counters *opctx.Counters) []manifest.Entry {
	var bagMu sync.Mutex
	var bag []manifest.Entry

	pool, _ := executor.NewPool(octx.Context, executor.Clamp(opts.MaxParallelTasks))

	for _, p := range planned {
		p := p
		if p.act == actionSkipUnsupported {
			counters.IncUnsupportedSkipped()
			continue
		}
		pool.Submit(func(ctx context.Context) error {
			e.runOne(octx, ctx, workDir, priorExtractDir, p, counters, &bagMu, &bag)
			return nil
		})
	}
	_ = pool.Wait()

	return bag
}

func (e *Engine) runOne(octx *opctx.Context, ctx context.Context, workDir, priorExtractDir string, p plannedItem, counters *opctx.Counters, bagMu *sync.Mutex, bag *[]manifest.Entry) {
	if ctx.Err() != nil {
		return
	}

	destPath := filepath.Join(workDir, p.archivePath)

	switch p.act {
	case actionCopy:
		if err := copyFile(filepath.Join(priorExtractDir, p.copySource), destPath); err != nil {
			counters.IncCopyErrors()
			e.downloadOne(octx, workDir, p, counters, bagMu, bag)
			return
		}
		counters.IncFilesCopied()
		info, _ := os.Stat(destPath)
		size := p.item.SizeBytes
		if info != nil {
			size = info.Size()
		}
		counters.AddBytesCopied(size)
		addEntry(bagMu, bag, p, size)

	case actionDownload:
		e.downloadOne(octx, workDir, p, counters, bagMu, bag)
	}
}

func (e *Engine) downloadOne(octx *opctx.Context, workDir string, p plannedItem, counters *opctx.Counters, bagMu *sync.Mutex, bag *[]manifest.Entry) {
	destPath := filepath.Join(workDir, p.archivePath)
	written, err := e.Fetcher.FetchToFile(octx, p.item, destPath, counters.IncDownloadAttempts)
	if err != nil {
		if driveport.Classify(err) == driveport.ClassCancelled {
			return
		}
		counters.IncFailedDownloads()
		return
	}
	counters.IncSuccessfulDownloads()
	counters.AddBytesDownloaded(written)
	addEntry(bagMu, bag, p, written)
}

func addEntry(bagMu *sync.Mutex, bag *[]manifest.Entry, p plannedItem, size int64) {
	var mtime *time.Time
	if p.item.HasModTime {
		t := p.item.ModifiedTime.UTC()
		mtime = &t
	}
	entry := manifest.Entry{
		GoogleDrivePath:         p.item.Path,
		ArchivePath:             p.archivePath,
		SizeBytes:               size,
		GoogleDriveModifiedTime: mtime,
	}
	bagMu.Lock()
	*bag = append(*bag, entry)
	bagMu.Unlock()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
