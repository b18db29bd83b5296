// Package watch reports files in one flat directory that were closed after
// being written. It performs no filtering beyond the directory boundary.
package watch

import (
	"fmt"
	"time"
)

// Backend selects the filesystem notification mechanism.
type Backend string

const (
	// BackendAuto picks inotify where available, fsnotify elsewhere.
	BackendAuto Backend = "auto"
	// BackendInotify uses IN_CLOSE_WRITE directly (Linux only).
	BackendInotify Backend = "inotify"
	// BackendFsnotify uses fsnotify write/create events with a settle window.
	BackendFsnotify Backend = "fsnotify"
)

// DefaultSettle is the fsnotify coalescing window.
const DefaultSettle = 75 * time.Millisecond

// eventBuffer is the capacity of the Events channel.
const eventBuffer = 64

// Watcher yields the short name of every file closed after write.
type Watcher interface {
	// Events yields short names. Closed after Close.
	Events() <-chan string
	// Errors yields non-fatal watch errors such as queue overflow. Closed
	// after Close.
	Errors() <-chan error
	// Close stops the watch and waits for its goroutine to exit.
	Close() error
}

// ParseBackend validates a backend name. Empty means BackendAuto.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(s); b {
	case "":
		return BackendAuto, nil
	case BackendAuto, BackendInotify, BackendFsnotify:
		return b, nil
	default:
		return "", fmt.Errorf("unknown watch backend %q (want auto, inotify or fsnotify)", s)
	}
}

// Resolve maps BackendAuto to the concrete backend for this platform.
func (b Backend) Resolve() Backend {
	if b != BackendAuto && b != "" {
		return b
	}
	if inotifySupported {
		return BackendInotify
	}
	return BackendFsnotify
}

// New starts watching dir. settle only affects the fsnotify backend.
func New(backend Backend, dir string, settle time.Duration) (Watcher, error) {
	var (
		w   Watcher
		err error
	)
	switch backend.Resolve() {
	case BackendInotify:
		w, err = newInotify(dir)
	case BackendFsnotify:
		w, err = newNotify(dir, settle)
	default:
		return nil, fmt.Errorf("unknown watch backend %q", backend)
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}
