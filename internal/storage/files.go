// Package storage provides the persistence layer: a thin key→file JSON driver
// with per-path locks used by every higher-level store, plus an optional
// Postgres-backed archive for raw LLM stream chunks.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileStore reads and writes UTF-8 JSON files under a data root. All access to
// a given path is serialised by a per-path mutex so that concurrent workers
// cannot tear a file. Locking is intentionally file-scoped rather than global:
// per-file traffic is low and unrelated channels should not contend.
type FileStore struct {
	root  string
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewFileStore creates a file store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{
		root:  dir,
		locks: make(map[string]*sync.Mutex),
	}
}

// Root returns the data root directory.
func (fs *FileStore) Root() string {
	return fs.root
}

// pathLock returns the mutex guarding the given absolute path.
func (fs *FileStore) pathLock(path string) *sync.Mutex {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	lock, ok := fs.locks[path]
	if !ok {
		lock = &sync.Mutex{}
		fs.locks[path] = lock
	}
	return lock
}

// Resolve joins a store-relative path onto the data root.
func (fs *FileStore) Resolve(rel string) string {
	return filepath.Join(fs.root, rel)
}

// ReadJSON decodes the file at rel into v. A missing file leaves v at its zero
// value and returns nil. A corrupt file is renamed to <path>.<epoch>.bak and
// treated as missing so normal operation resumes.
func (fs *FileStore) ReadJSON(rel string, v any) error {
	path := fs.Resolve(rel)
	lock := fs.pathLock(path)
	lock.Lock()
	defer lock.Unlock()
	return fs.readLocked(path, v)
}

func (fs *FileStore) readLocked(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		backup := fmt.Sprintf("%s.%d.bak", path, time.Now().Unix())
		if renameErr := os.Rename(path, backup); renameErr != nil {
			log.Printf("Failed to quarantine corrupt file %s: %v", path, renameErr)
		} else {
			log.Printf("Corrupt JSON at %s moved to %s: %v", path, backup, err)
		}
		return nil
	}
	return nil
}

// WriteJSON writes v to rel, creating parent directories, writing to a .tmp
// sibling first and atomically renaming over the target.
func (fs *FileStore) WriteJSON(rel string, v any) error {
	path := fs.Resolve(rel)
	lock := fs.pathLock(path)
	lock.Lock()
	defer lock.Unlock()
	return fs.writeLocked(path, v)
}

func (fs *FileStore) writeLocked(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to rename %s: %w", tmp, err)
	}
	return nil
}

// UpdateJSON performs a read-modify-write cycle on rel under the path lock.
// fn receives the decoded value (zero value when the file is absent) and
// returns whether the result should be written back.
func UpdateJSON[T any](fs *FileStore, rel string, fn func(*T) (bool, error)) error {
	path := fs.Resolve(rel)
	lock := fs.pathLock(path)
	lock.Lock()
	defer lock.Unlock()

	var value T
	if err := fs.readLocked(path, &value); err != nil {
		return err
	}
	write, err := fn(&value)
	if err != nil {
		return err
	}
	if !write {
		return nil
	}
	return fs.writeLocked(path, &value)
}

// Remove deletes the file at rel. Missing files are not an error.
func (fs *FileStore) Remove(rel string) error {
	path := fs.Resolve(rel)
	lock := fs.pathLock(path)
	lock.Lock()
	defer lock.Unlock()
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}

// Exists reports whether the file at rel is present.
func (fs *FileStore) Exists(rel string) bool {
	_, err := os.Stat(fs.Resolve(rel))
	return err == nil
}

// List returns the store-relative paths of all files matching the glob pattern
// rooted at the data root.
func (fs *FileStore) List(pattern string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(fs.root, pattern))
	if err != nil {
		return nil, err
	}
	rels := make([]string, 0, len(matches))
	for _, match := range matches {
		rel, err := filepath.Rel(fs.root, match)
		if err != nil {
			continue
		}
		rels = append(rels, rel)
	}
	return rels, nil
}
