//go:build linux

package watch

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

const inotifySupported = true

// inotifyMask selects writes that were closed and files renamed into the
// directory, which covers editors that save by replace.
const inotifyMask = unix.IN_CLOSE_WRITE | unix.IN_MOVED_TO

// ErrOverflow reports that the kernel dropped events.
var ErrOverflow = errors.New("inotify event queue overflowed")

type inotifyWatcher struct {
	file *os.File

	events chan string
	errors chan error
	stop   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

func newInotify(dir string) (*inotifyWatcher, error) {
	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC | unix.IN_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("inotify init: %w", err)
	}
	if _, err := unix.InotifyAddWatch(fd, dir, inotifyMask|unix.IN_ONLYDIR); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("inotify watch %s: %w", dir, err)
	}

	// A nonblocking fd wrapped by os.NewFile goes through the runtime poller,
	// so Close unblocks a pending Read.
	w := &inotifyWatcher{
		file:   os.NewFile(uintptr(fd), "inotify"),
		events: make(chan string, eventBuffer),
		errors: make(chan error, 1),
		stop:   make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w, nil
}

func (w *inotifyWatcher) Events() <-chan string { return w.events }
func (w *inotifyWatcher) Errors() <-chan error  { return w.errors }

func (w *inotifyWatcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.stop)
		err = w.file.Close()
		w.wg.Wait()
	})
	return err
}

func (w *inotifyWatcher) run() {
	defer w.wg.Done()
	defer close(w.errors)
	defer close(w.events)

	buf := make([]byte, 64*(unix.SizeofInotifyEvent+unix.NAME_MAX+1))
	for {
		n, err := w.file.Read(buf)
		if err != nil {
			if !errors.Is(err, os.ErrClosed) {
				w.report(fmt.Errorf("inotify read: %w", err))
			}
			return
		}
		if !w.dispatch(buf[:n]) {
			return
		}
	}
}

// dispatch walks the packed inotify_event records in buf.
func (w *inotifyWatcher) dispatch(buf []byte) bool {
	for off := 0; off+unix.SizeofInotifyEvent <= len(buf); {
		mask := binary.NativeEndian.Uint32(buf[off+4:])
		nameLen := int(binary.NativeEndian.Uint32(buf[off+12:]))
		start := off + unix.SizeofInotifyEvent
		end := start + nameLen
		if end > len(buf) {
			w.report(errors.New("inotify: truncated event"))
			return true
		}
		name := strings.TrimRight(string(buf[start:end]), "\x00")
		off = end

		switch {
		case mask&unix.IN_Q_OVERFLOW != 0:
			w.report(ErrOverflow)
		case mask&unix.IN_IGNORED != 0:
			w.report(errors.New("inotify: watch removed"))
		case mask&unix.IN_ISDIR != 0, name == "":
		case mask&inotifyMask != 0:
			select {
			case w.events <- name:
			case <-w.stop:
				return false
			}
		}
	}
	return true
}

func (w *inotifyWatcher) report(err error) {
	select {
	case w.errors <- err:
	default:
	}
}
