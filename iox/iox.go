// Package iox provides I/O helpers for resource cleanup.
package iox

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// DiscardClose closes c and discards the error.
// Use in defer statements where close errors are unactionable:
//
//	defer iox.DiscardClose(f)
func DiscardClose(c io.Closer) { _ = c.Close() }

// CloseFunc returns a cleanup function that closes c.
// Designed for t.Cleanup registration:
//
//	t.Cleanup(iox.CloseFunc(store))
func CloseFunc(c io.Closer) func() {
	return func() { _ = c.Close() }
}

// Stack closes resources in reverse order of registration. The host
// registers the temp store first so the working directory is removed last,
// after the watcher and the transcript are closed.
type Stack struct {
	mu      sync.Mutex
	entries []stackEntry
	closed  bool
}

type stackEntry struct {
	name  string
	close func() error
}

// Push registers a named close function. Pushing after Close runs fn
// immediately and returns its error.
func (s *Stack) Push(name string, fn func() error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return wrap(name, fn())
	}
	s.entries = append(s.entries, stackEntry{name: name, close: fn})
	s.mu.Unlock()
	return nil
}

// PushCloser registers c under name.
func (s *Stack) PushCloser(name string, c io.Closer) error {
	return s.Push(name, c.Close)
}

// Close runs every registered function, last registered first, and joins
// their errors. Later calls return nil.
func (s *Stack) Close() error {
	s.mu.Lock()
	entries := s.entries
	s.entries = nil
	s.closed = true
	s.mu.Unlock()

	var errs []error
	for i := len(entries) - 1; i >= 0; i-- {
		if err := wrap(entries[i].name, entries[i].close()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func wrap(name string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("close %s: %w", name, err)
}
