package marketdata

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go_twstock_backend/models"
)

var (
	// ErrEntryNotFound means no persisted entry exists for the dataset.
	ErrEntryNotFound = errors.New("cache entry not found")
	// ErrEntryCorrupt means a persisted entry could not be decoded.
	// Callers treat this the same as absent and refetch.
	ErrEntryCorrupt = errors.New("cache entry corrupt")
)

// cacheEntry is the on-disk form of a dataset: the serialized table
// plus its freshness timestamp.
type cacheEntry struct {
	Name      string        `json:"name"`
	FetchedAt time.Time     `json:"fetched_at"`
	Table     *models.Table `json:"table"`
}

// FileStore persists one JSON entry file per dataset under a cache
// directory. Writes go to a temp file first and are renamed into
// place, so a crash mid-write never leaves a half-written entry.
type FileStore struct {
	dir string
}

// NewFileStore creates the cache directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// entryPath maps a dataset name to its file. Provider field names
// contain ':' and '/', which are not filename-safe.
func (s *FileStore) entryPath(name string) string {
	safe := strings.NewReplacer(":", "_", "/", "_", " ", "_").Replace(name)
	return filepath.Join(s.dir, safe+".json")
}

// Load reads a persisted entry. Returns ErrEntryNotFound when no file
// exists and ErrEntryCorrupt when the file cannot be decoded.
func (s *FileStore) Load(name string) (*models.Table, time.Time, error) {
	data, err := os.ReadFile(s.entryPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, time.Time{}, ErrEntryNotFound
		}
		return nil, time.Time{}, fmt.Errorf("failed to read cache entry %s: %w", name, err)
	}

	var entry cacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: %s: %v", ErrEntryCorrupt, name, err)
	}
	if entry.Table == nil || entry.FetchedAt.IsZero() {
		return nil, time.Time{}, fmt.Errorf("%w: %s: missing table or timestamp", ErrEntryCorrupt, name)
	}
	if err := entry.Table.Validate(); err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: %v", ErrEntryCorrupt, err)
	}
	return entry.Table, entry.FetchedAt, nil
}

// Save atomically replaces the entry for a dataset.
func (s *FileStore) Save(name string, table *models.Table, fetchedAt time.Time) error {
	entry := cacheEntry{
		Name:      name,
		FetchedAt: fetchedAt,
		Table:     table,
	}
	data, err := json.Marshal(&entry)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry %s: %w", name, err)
	}

	path := s.entryPath(name)
	tmp, err := os.CreateTemp(s.dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", name, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write cache entry %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp file for %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace cache entry %s: %w", name, err)
	}
	return nil
}

// Delete removes the entry for a dataset. Deleting a missing entry is
// not an error.
func (s *FileStore) Delete(name string) error {
	err := os.Remove(s.entryPath(name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete cache entry %s: %w", name, err)
	}
	return nil
}

// Names lists datasets that currently have a persisted entry, by file
// name (the sanitized dataset name).
func (s *FileStore) Names() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}
	return names, nil
}

// PruneOlderThan deletes persisted entries whose freshness timestamp
// is before the cutoff, plus any entry that no longer decodes. Used by
// the scheduled update job's retention sweep.
func (s *FileStore) PruneOlderThan(cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list cache directory: %w", err)
	}

	deleted := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var entry cacheEntry
		stale := false
		if err := json.Unmarshal(data, &entry); err != nil || entry.FetchedAt.IsZero() {
			stale = true
		} else if entry.FetchedAt.Before(cutoff) {
			stale = true
		}
		if stale {
			if err := os.Remove(path); err == nil {
				deleted++
			}
		}
	}
	return deleted, nil
}
