// Package resumestate implements the Resume-State Store: the per-restore
// journal recording which archive members have already been uploaded,
// colocated with the temporary extraction directory it describes.
package resumestate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"drivearchive/pkg/config"
)

// FileName is the fixed name of the resume-state journal inside a
// restore's extraction directory.
const FileName = "_restore_state.json"

// ErrNotFound is returned by Load when dir contains no state file.
var ErrNotFound = errors.New("resumestate: not found")

// State is the RestoreState: the settings snapshot used for this restore
// (which wins over ambient settings on resume), the set of archive paths
// already uploaded, and bookkeeping for resuming.
type State struct {
	mu sync.Mutex

	SettingsUsed                  config.Settings `json:"SettingsUsed"`
	CompletedArchivePaths         []string        `json:"CompletedArchivePaths"`
	RestoreInitiatedTimestampUtc  string          `json:"RestoreInitiatedTimestampUtc"`
	OriginalBackupArchivePath     string          `json:"OriginalBackupArchivePath"`
}

// New creates a fresh State for a restore about to begin.
func New(settings config.Settings, originalArchivePath, initiatedUtc string) *State {
	return &State{
		SettingsUsed:                 settings,
		CompletedArchivePaths:        []string{},
		RestoreInitiatedTimestampUtc: initiatedUtc,
		OriginalBackupArchivePath:    originalArchivePath,
	}
}

// IsCompleted reports whether archivePath is already recorded as
// uploaded, compared case-insensitively.
func (s *State) IsCompleted(archivePath string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.CompletedArchivePaths {
		if strings.EqualFold(p, archivePath) {
			return true
		}
	}
	return false
}

// Count returns the number of completed archive paths recorded.
func (s *State) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.CompletedArchivePaths)
}

// MergeBag folds every entry of bag into CompletedArchivePaths,
// deduplicating case-insensitively while preserving the original case of
// whichever copy was recorded first. The merge happens entirely under the
// state's own mutex: the state is mutated only there, and writers
// serialize on it.
func (s *State) MergeBag(bag *CompletedBag) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{}, len(s.CompletedArchivePaths))
	for _, p := range s.CompletedArchivePaths {
		seen[strings.ToLower(p)] = struct{}{}
	}
	bag.Range(func(original string) {
		key := strings.ToLower(original)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		s.CompletedArchivePaths = append(s.CompletedArchivePaths, original)
	})
	sortCaseInsensitive(s.CompletedArchivePaths)
}

func sortCaseInsensitive(paths []string) {
	sort.Slice(paths, func(i, j int) bool {
		return strings.ToLower(paths[i]) < strings.ToLower(paths[j])
	})
}

// Save writes the state to dir/_restore_state.json. It serializes under
// s's own mutex and is idempotent: calling it repeatedly with no
// intervening mutation produces byte-identical output.
func Save(dir string, s *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sorted := append([]string{}, s.CompletedArchivePaths...)
	sortCaseInsensitive(sorted)

	snapshot := struct {
		SettingsUsed                 config.Settings `json:"SettingsUsed"`
		CompletedArchivePaths        []string        `json:"CompletedArchivePaths"`
		RestoreInitiatedTimestampUtc string          `json:"RestoreInitiatedTimestampUtc"`
		OriginalBackupArchivePath    string          `json:"OriginalBackupArchivePath"`
	}{
		SettingsUsed:                 s.SettingsUsed,
		CompletedArchivePaths:        sorted,
		RestoreInitiatedTimestampUtc: s.RestoreInitiatedTimestampUtc,
		OriginalBackupArchivePath:    s.OriginalBackupArchivePath,
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("resumestate: marshal: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, FileName), data, 0o644); err != nil {
		return fmt.Errorf("resumestate: write: %w", err)
	}
	return nil
}

// Load reads dir/_restore_state.json. It returns ErrNotFound if the file
// is absent.
func Load(dir string) (*State, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("resumestate: read: %w", err)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("resumestate: parse: %w", err)
	}
	return &s, nil
}

// CompletedBag is the thread-safe bag upload workers add to as each
// upload succeeds. It is drained into the authoritative State only once,
// during finalization.
type CompletedBag struct {
	mu    sync.Mutex
	items []string
}

// Add records archivePath as completed in this run.
func (b *CompletedBag) Add(archivePath string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, archivePath)
}

// Range calls fn once per recorded item, in the order they were added.
func (b *CompletedBag) Range(fn func(archivePath string)) {
	b.mu.Lock()
	items := append([]string{}, b.items...)
	b.mu.Unlock()
	for _, it := range items {
		fn(it)
	}
}

// Len reports how many items have been added to the bag.
func (b *CompletedBag) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}
