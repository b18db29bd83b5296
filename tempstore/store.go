// Package tempstore owns the working directory of one host process and the
// registry mapping each temp file's short name to the request that owns it.
package tempstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/pithecene-io/quill/types"
)

// ErrNotRegistered is returned when a short name is not in the registry.
// For Delete this indicates a double delete.
var ErrNotRegistered = errors.New("temp file not registered")

// maxCreateAttempts bounds name regeneration on collision.
const maxCreateAttempts = 16

// Store creates, reads and deletes per-request temp files in one flat
// directory. All registry access is serialized by mu; Create holds the lock
// across the write so a watcher event for the new file always finds it
// registered.
type Store struct {
	dir string

	mu       sync.Mutex
	registry map[string]types.RequestID
}

// Open creates a fresh working directory under root and returns a store
// bound to it. An empty root means os.TempDir().
func Open(root string) (*Store, error) {
	if root == "" {
		root = os.TempDir()
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("create work root %s: %w", root, err)
	}
	dir, err := os.MkdirTemp(root, types.HostName+"-")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	return &Store{
		dir:      dir,
		registry: make(map[string]types.RequestID),
	}, nil
}

// Dir returns the absolute path of the working directory.
func (s *Store) Dir() string {
	return s.dir
}

// Create writes text into a new uniquely named file, registers owner for it
// and returns its absolute path.
func (s *Store) Create(text, url, ext string, owner types.RequestID) (string, error) {
	prefix := SanitizeURL(url)
	ext = SanitizeExtension(ext)

	s.mu.Lock()
	defer s.mu.Unlock()

	for range maxCreateAttempts {
		name := newName(prefix, ext)
		if _, taken := s.registry[name]; taken {
			continue
		}

		path := filepath.Join(s.dir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create temp file: %w", err)
		}

		_, werr := f.WriteString(text)
		cerr := f.Close()
		if err := errors.Join(werr, cerr); err != nil {
			_ = os.Remove(path)
			return "", fmt.Errorf("write temp file %s: %w", name, err)
		}

		s.registry[name] = owner
		return path, nil
	}
	return "", fmt.Errorf("create temp file: no unique name after %d attempts", maxCreateAttempts)
}

// Delete unregisters the file at path and removes it from disk.
func (s *Store) Delete(path string) error {
	name := filepath.Base(path)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.registry[name]; !ok {
		return fmt.Errorf("delete %s: %w", name, ErrNotRegistered)
	}
	delete(s.registry, name)

	if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", name, err)
	}
	return nil
}

// Read returns the current content of a registered file and its owner.
func (s *Store) Read(name string) (string, types.RequestID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	owner, ok := s.registry[name]
	if !ok {
		return "", "", fmt.Errorf("read %s: %w", name, ErrNotRegistered)
	}
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return "", "", fmt.Errorf("read %s: %w", name, err)
	}
	return string(data), owner, nil
}

// Contains reports whether name is registered.
func (s *Store) Contains(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.registry[name]
	return ok
}

// Len returns the number of registered files.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.registry)
}

// Close removes the working directory and everything left in it.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clear(s.registry)
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("remove work dir: %w", err)
	}
	return nil
}

// ResolveRoot picks the directory the working directory is created in:
// override when set, else the directory named by envVar when it exists,
// else the system temp directory.
func ResolveRoot(override, envVar string) string {
	if override != "" {
		return override
	}
	if envVar != "" {
		if dir := os.Getenv(envVar); dir != "" {
			if info, err := os.Stat(dir); err == nil && info.IsDir() {
				return dir
			}
		}
	}
	return os.TempDir()
}
