package watch

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// notifyWatcher approximates close-after-write with fsnotify: a file is
// reported once no write or create event has been seen for it during the
// settle window.
type notifyWatcher struct {
	dir    string
	settle time.Duration
	fs     *fsnotify.Watcher

	events chan string
	errors chan error
	stop   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

func newNotify(dir string, settle time.Duration) (*notifyWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	w := &notifyWatcher{
		dir:    filepath.Clean(dir),
		settle: settle,
		fs:     fsw,
		events: make(chan string, eventBuffer),
		errors: make(chan error, 1),
		stop:   make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w, nil
}

func (w *notifyWatcher) Events() <-chan string { return w.events }
func (w *notifyWatcher) Errors() <-chan error  { return w.errors }

func (w *notifyWatcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.stop)
		err = w.fs.Close()
		w.wg.Wait()
	})
	return err
}

func (w *notifyWatcher) run() {
	defer w.wg.Done()
	defer close(w.errors)
	defer close(w.events)

	// pending keeps first-seen order so reports for one file never overtake
	// an earlier file's.
	var (
		pending []string
		last    = make(map[string]time.Time)
	)

	tick := w.settle / 2
	if tick < 5*time.Millisecond {
		tick = 5 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return

		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if filepath.Dir(ev.Name) != w.dir {
				continue
			}
			name := filepath.Base(ev.Name)
			if w.settle <= 0 {
				if !w.send(name) {
					return
				}
				continue
			}
			if _, ok := last[name]; !ok {
				pending = append(pending, name)
			}
			last[name] = time.Now()

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			case <-w.stop:
				return
			default:
			}

		case now := <-ticker.C:
			kept := pending[:0]
			for _, name := range pending {
				if now.Sub(last[name]) < w.settle {
					kept = append(kept, name)
					continue
				}
				delete(last, name)
				if !w.send(name) {
					return
				}
			}
			pending = kept
		}
	}
}

func (w *notifyWatcher) send(name string) bool {
	select {
	case w.events <- name:
		return true
	case <-w.stop:
		return false
	}
}
