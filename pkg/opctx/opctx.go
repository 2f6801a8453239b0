// Package opctx supplies the operation context struct threading
// cancellation, a logger, and the start time through every phase of
// Backup, Restore, and Repair instead of module-level statics, plus the
// atomic Counters bag and the Result type those operations return.
// Bounded parallelism comes from pkg/executor, not from this package.
package opctx

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/tomb.v2"
)

// Counters is the atomic counter bag shared by a single Backup, Restore,
// or Repair run. All fields are updated with sync/atomic and are safe for
// concurrent access from executor workers.
type Counters struct {
	FilesListed        int64
	UnsupportedSkipped  int64
	FilesCopied         int64
	CopyErrors          int64
	DownloadAttempts    int64
	SuccessfulDownloads int64
	FailedDownloads     int64
	TotalBytesCopied    int64
	TotalBytesDownloaded int64

	UploadAttempts   int64
	FilesUploaded    int64
	FilesAlreadyDone int64
	FilesSkipped     int64

	FilesFoundOk       int64
	FilesFoundMissing  int64
	RepairsSkippedNoID int64
}

func (c *Counters) IncFilesListed()         { atomic.AddInt64(&c.FilesListed, 1) }
func (c *Counters) IncUnsupportedSkipped()  { atomic.AddInt64(&c.UnsupportedSkipped, 1) }
func (c *Counters) IncFilesCopied()         { atomic.AddInt64(&c.FilesCopied, 1) }
func (c *Counters) IncCopyErrors()          { atomic.AddInt64(&c.CopyErrors, 1) }
func (c *Counters) IncDownloadAttempts()    { atomic.AddInt64(&c.DownloadAttempts, 1) }
func (c *Counters) IncSuccessfulDownloads() { atomic.AddInt64(&c.SuccessfulDownloads, 1) }
func (c *Counters) IncFailedDownloads()     { atomic.AddInt64(&c.FailedDownloads, 1) }
func (c *Counters) AddBytesCopied(n int64)     { atomic.AddInt64(&c.TotalBytesCopied, n) }
func (c *Counters) AddBytesDownloaded(n int64) { atomic.AddInt64(&c.TotalBytesDownloaded, n) }

func (c *Counters) IncUploadAttempts()   { atomic.AddInt64(&c.UploadAttempts, 1) }
func (c *Counters) IncFilesUploaded()    { atomic.AddInt64(&c.FilesUploaded, 1) }
func (c *Counters) IncFilesAlreadyDone() { atomic.AddInt64(&c.FilesAlreadyDone, 1) }
func (c *Counters) IncFilesSkipped()     { atomic.AddInt64(&c.FilesSkipped, 1) }

func (c *Counters) IncFilesFoundOk()        { atomic.AddInt64(&c.FilesFoundOk, 1) }
func (c *Counters) IncFilesFoundMissing()   { atomic.AddInt64(&c.FilesFoundMissing, 1) }
func (c *Counters) IncRepairsSkippedNoID()  { atomic.AddInt64(&c.RepairsSkippedNoID, 1) }

// Snapshot returns a copy of the counters safe to read after a run
// completes (the run itself must have joined all workers first).
func (c *Counters) Snapshot() Counters {
	return Counters{
		FilesListed:           atomic.LoadInt64(&c.FilesListed),
		UnsupportedSkipped:    atomic.LoadInt64(&c.UnsupportedSkipped),
		FilesCopied:           atomic.LoadInt64(&c.FilesCopied),
		CopyErrors:            atomic.LoadInt64(&c.CopyErrors),
		DownloadAttempts:      atomic.LoadInt64(&c.DownloadAttempts),
		SuccessfulDownloads:   atomic.LoadInt64(&c.SuccessfulDownloads),
		FailedDownloads:       atomic.LoadInt64(&c.FailedDownloads),
		TotalBytesCopied:      atomic.LoadInt64(&c.TotalBytesCopied),
		TotalBytesDownloaded:  atomic.LoadInt64(&c.TotalBytesDownloaded),
		UploadAttempts:        atomic.LoadInt64(&c.UploadAttempts),
		FilesUploaded:         atomic.LoadInt64(&c.FilesUploaded),
		FilesAlreadyDone:      atomic.LoadInt64(&c.FilesAlreadyDone),
		FilesSkipped:          atomic.LoadInt64(&c.FilesSkipped),
		FilesFoundOk:          atomic.LoadInt64(&c.FilesFoundOk),
		FilesFoundMissing:     atomic.LoadInt64(&c.FilesFoundMissing),
		RepairsSkippedNoID:    atomic.LoadInt64(&c.RepairsSkippedNoID),
	}
}

// Result is the structured result every operation (Backup, Restore,
// Repair) returns: a success flag distinguishing clean from dirty, a
// cancelled flag, elapsed duration, and the full counter set.
type Result struct {
	Success   bool
	Cancelled bool
	Elapsed   time.Duration
	Counters  Counters
}

// Context carries cancellation and observability for a single operation.
// It is not a context.Context itself but embeds one, along with a tomb
// for coordinated goroutine shutdown and a scoped logger.
type Context struct {
	context.Context
	tomb *tomb.Tomb
	Log  zerolog.Logger

	startedAt time.Time
}

// New creates an operation Context derived from parent, tied to a tomb so
// cancellation can be observed both via ctx.Done() and tomb.Dying().
func New(parent context.Context, log zerolog.Logger) *Context {
	t, ctx := tomb.WithContext(parent)
	return &Context{
		Context:   ctx,
		tomb:      t,
		Log:       log,
		startedAt: nowFunc(),
	}
}

// nowFunc exists only so tests can substitute a deterministic clock.
var nowFunc = time.Now

// Cancel requests cancellation of the operation. In-flight work is
// permitted to finish or self-abort; it is never killed forcibly.
func (c *Context) Cancel(reason error) {
	if reason == nil {
		reason = context.Canceled
	}
	c.tomb.Kill(reason)
}

// Cancelled reports whether cancellation has been requested.
func (c *Context) Cancelled() bool {
	select {
	case <-c.tomb.Dying():
		return true
	default:
		return false
	}
}

// Go runs fn under the tomb so its error (if any) participates in
// Wait()'s aggregate result, matching the pack's tomb.v2 idiom for
// supervised goroutines.
func (c *Context) Go(fn func() error) {
	c.tomb.Go(fn)
}

// Wait blocks until all goroutines started with Go have returned, and
// returns the first non-nil error, if any.
func (c *Context) Wait() error {
	return c.tomb.Wait()
}

// Elapsed returns the duration since the Context was created.
func (c *Context) Elapsed() time.Duration {
	return nowFunc().Sub(c.startedAt)
}

// Background returns a plain, never-cancelled Context suitable for
// best-effort cleanup and saves that must run even after the parent
// operation was cancelled.
func Background(log zerolog.Logger) *Context {
	return New(context.Background(), log)
}
