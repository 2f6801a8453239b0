// Package manifest implements the Manifest component: the authoritative,
// read-only-after-write mapping between archive members and their
// original remote paths, sizes, and modification times.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// FileName is the fixed member name the manifest is stored under, both
// inside the archive and inside a working extraction directory.
const FileName = "_manifest.json"

// ErrNotFound is returned by Read when dir contains no manifest file.
var ErrNotFound = errors.New("manifest: not found")

// ErrCorrupt is returned by Read when the manifest's "Files" property is
// absent or is not a JSON array.
var ErrCorrupt = errors.New("manifest: corrupt")

// Entry is one ManifestEntry: an archive member and the original remote
// location, size, and modification time it was captured from.
type Entry struct {
	GoogleDrivePath         string     `json:"GoogleDrivePath"`
	ArchivePath             string     `json:"ArchivePath"`
	SizeBytes               int64      `json:"SizeBytes"`
	GoogleDriveModifiedTime *time.Time `json:"GoogleDriveModifiedTime"`
}

// Manifest is the full document: tool version, backup timestamp, and the
// list of archived files.
type Manifest struct {
	BackupToolVersion  string  `json:"BackupToolVersion"`
	BackupTimestampUtc string  `json:"BackupTimestampUtc"`
	Files              []Entry `json:"Files"`
}

// SortByRemotePath sorts Files ascending by GoogleDrivePath, the order
// Write always persists.
func (m *Manifest) SortByRemotePath() {
	sort.Slice(m.Files, func(i, j int) bool {
		return m.Files[i].GoogleDrivePath < m.Files[j].GoogleDrivePath
	})
}

// ByID indexes Files by the remote id each ArchivePath's stem encodes,
// used by Backup's prior-archive analysis phase.
func (m *Manifest) ByID() map[string]Entry {
	out := make(map[string]Entry, len(m.Files))
	for _, f := range m.Files {
		id := strings.TrimSuffix(f.ArchivePath, filepath.Ext(f.ArchivePath))
		out[id] = f
	}
	return out
}

// Write serializes m as human-readable, case-preserving JSON and writes
// it to dir/_manifest.json, sorting Files by GoogleDrivePath first.
func Write(dir string, m *Manifest) error {
	m.SortByRemotePath()
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("manifest: marshal: %w", err)
	}
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("manifest: write: %w", err)
	}
	return nil
}

// Read loads dir/_manifest.json. It returns ErrNotFound if the file is
// absent, and ErrCorrupt if the "Files" property is missing or is not a
// JSON array. Property-name matching is case-insensitive, matching
// encoding/json's default struct-field matching behavior.
func Read(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("manifest: read: %w", err)
	}

	if err := validateFilesIsArray(data); err != nil {
		return nil, err
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return &m, nil
}

// validateFilesIsArray checks, ahead of the struct-typed unmarshal, that
// the document has a "files" key (any case) whose value is a JSON array.
// encoding/json would otherwise happily leave Files nil when the key is
// simply absent, which is treated as corruption rather than "zero files
// archived".
func validateFilesIsArray(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	var filesRaw json.RawMessage
	found := false
	for k, v := range raw {
		if strings.EqualFold(k, "files") {
			filesRaw = v
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: missing Files property", ErrCorrupt)
	}

	trimmed := strings.TrimSpace(string(filesRaw))
	if !strings.HasPrefix(trimmed, "[") {
		return fmt.Errorf("%w: Files is not an array", ErrCorrupt)
	}
	return nil
}
