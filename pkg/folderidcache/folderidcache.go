// Package folderidcache implements the FolderIdCache: the mapping from a
// relative folder path to the remote folder id that represents it for
// the current restore, built lazily and shared by every upload worker.
package folderidcache

import (
	"context"
	"strings"
	"sync"

	"drivearchive/pkg/driveport"
)

// Cache maps relative folder paths to remote folder ids. Reads are
// lock-free (backed by sync.Map); the find-or-create critical section is
// guarded by a single process-wide mutex for the whole restore — a
// per-path mutex would be an optimization, but is unnecessary given
// typical fan-out.
type Cache struct {
	m    sync.Map // string -> string
	mu   sync.Mutex
	port driveport.Port
}

// New creates a Cache whose empty key resolves to restoreParentID, the
// configured restore-parent folder.
func New(port driveport.Port, restoreParentID string) *Cache {
	c := &Cache{port: port}
	c.m.Store("", restoreParentID)
	return c
}

func normalize(relPath string) string {
	relPath = strings.ReplaceAll(relPath, "\\", "/")
	relPath = strings.Trim(relPath, "/")
	return relPath
}

// Get returns the cached id for relPath, if already resolved.
func (c *Cache) Get(relPath string) (string, bool) {
	v, ok := c.m.Load(normalize(relPath))
	if !ok {
		return "", false
	}
	return v.(string), true
}

// Ensure resolves relPath to a folder id, creating any missing folders
// along the way (parents first). Concurrent callers resolving
// overlapping paths never create duplicate sibling folders: the
// find-or-create critical section is serialized by c.mu.
func (c *Cache) Ensure(ctx context.Context, relPath string) (string, error) {
	key := normalize(relPath)
	if id, ok := c.m.Load(key); ok {
		return id.(string), nil
	}
	if key == "" {
		// The empty key is seeded in New; reaching here means it was
		// never seeded, which is a caller error.
		return "", driveport.Permanent(errEmptyRootUnseeded)
	}

	parentKey, name := splitLast(key)
	parentID, err := c.Ensure(ctx, parentKey)
	if err != nil {
		return "", err
	}

	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Re-check: another goroutine may have resolved this exact path
	// while we were waiting for the lock.
	if id, ok := c.m.Load(key); ok {
		return id.(string), nil
	}

	id, found, err := c.port.FindChildFolder(ctx, parentID, name)
	if err != nil {
		return "", err
	}
	if !found {
		id, err = c.port.CreateFolder(ctx, parentID, name)
		if err != nil {
			return "", err
		}
	}

	c.m.Store(key, id)
	return id, nil
}

// splitLast splits "a/b/c" into parent "a/b" and last segment "c". For a
// single segment "a" it returns ("", "a").
func splitLast(key string) (parent, name string) {
	idx := strings.LastIndex(key, "/")
	if idx < 0 {
		return "", key
	}
	return key[:idx], key[idx+1:]
}

var errEmptyRootUnseeded = errUnseeded{}

type errUnseeded struct{}

func (errUnseeded) Error() string {
	return "folderidcache: root key was never seeded with New"
}
