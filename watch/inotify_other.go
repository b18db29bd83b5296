//go:build !linux

package watch

import "errors"

const inotifySupported = false

// ErrOverflow reports that the kernel dropped events.
var ErrOverflow = errors.New("inotify event queue overflowed")

func newInotify(string) (Watcher, error) {
	return nil, errors.New("inotify backend is only available on linux")
}
