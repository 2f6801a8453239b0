// Package driveport declares the capability set the Backup, Restore, and
// Repair engines use to talk to a remote drive, without depending on any
// concrete transport. Nothing in this package knows about HTTP, OAuth, or
// any particular cloud provider's SDK.
package driveport

import (
	"context"
	"io"
	"time"
)

// RemoteItem describes one listed item in the remote subtree. It is
// immutable once constructed during listing.
type RemoteItem struct {
	ID           string
	Name         string
	Path         string
	IsFolder     bool
	SizeBytes    int64
	MimeType     string
	ModifiedTime time.Time
	HasModTime   bool
}

// ErrorClass classifies an error surfaced by a Port implementation so the
// engines never need to inspect concrete error types.
type ErrorClass int

const (
	// ClassUnknown is never retried; Classify reports it only for a nil
	// error (an unclassified non-nil error is reported as ClassPermanent).
	ClassUnknown ErrorClass = iota
	ClassTransient
	ClassPermanent
	ClassDiskFull
	ClassCancelled
	ClassLocalIO
)

// ClassifiedError pairs an underlying error with its retry class.
type ClassifiedError struct {
	Class ErrorClass
	Err   error
}

func (e *ClassifiedError) Error() string { return e.Err.Error() }
func (e *ClassifiedError) Unwrap() error { return e.Err }

// Classify reports the retry class of an error returned by a Port. Errors
// that are not *ClassifiedError are treated as ClassPermanent: a Port
// implementation that doesn't classify its errors must not have its
// failures silently retried forever.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassUnknown
	}
	var ce *ClassifiedError
	for e := err; e != nil; {
		if c, ok := e.(*ClassifiedError); ok {
			ce = c
			break
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	if ce != nil {
		return ce.Class
	}
	return ClassPermanent
}

// Transient wraps err as a retryable remote condition: HTTP 500/502/503,
// rate limiting, and similar.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Class: ClassTransient, Err: err}
}

// Permanent wraps err as a non-retryable remote condition.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Class: ClassPermanent, Err: err}
}

// DiskFull wraps err as a non-retryable local disk-full condition.
func DiskFull(err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Class: ClassDiskFull, Err: err}
}

// LocalIO wraps err as a retryable generic local I/O condition: a
// transient open/seek/write failure on the local filesystem, distinct
// from DiskFull.
func LocalIO(err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Class: ClassLocalIO, Err: err}
}

// Cancelled wraps err (or context.Canceled) to signal that the operation
// was cancelled and must unwind immediately without retry.
func Cancelled(err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Class: ClassCancelled, Err: err}
}

// ChildPage is one page of ListChildren results.
type ChildPage struct {
	Items         []RemoteItem
	NextPageToken string
}

// Port is the capability set consumed by the engines. A concrete
// implementation (see pkg/driveclient) performs authentication, paging,
// and wire transport; the engines only ever see this interface.
type Port interface {
	// ListChildren returns one page of children of folderId. pageToken is
	// empty for the first call; a non-empty NextPageToken in the returned
	// page means more pages remain.
	ListChildren(ctx context.Context, folderID, pageToken string) (ChildPage, error)

	// GetMeta fetches metadata for a single item by id.
	GetMeta(ctx context.Context, id string) (RemoteItem, error)

	// DownloadNative streams the item's native bytes into dst.
	DownloadNative(ctx context.Context, id string, dst io.Writer) error

	// Export streams a converted representation of the item in exportMime
	// into dst.
	Export(ctx context.Context, id string, exportMime string, dst io.Writer) error

	// FindChildFolder looks up a folder named name directly under
	// parentID. ok is false if no such folder exists.
	FindChildFolder(ctx context.Context, parentID, name string) (id string, ok bool, err error)

	// CreateFolder creates a folder named name under parentID and returns
	// its id.
	CreateFolder(ctx context.Context, parentID, name string) (id string, err error)

	// Upload creates (or overwrites) a file named name under parentID
	// with the given mime type, reading its content from src. It returns
	// the confirmed remote item once the remote has acknowledged receipt.
	Upload(ctx context.Context, parentID, name, mimeType string, src io.Reader) (RemoteItem, error)
}
