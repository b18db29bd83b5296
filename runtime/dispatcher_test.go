package runtime

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/pithecene-io/quill/iox"
	"github.com/pithecene-io/quill/ipc"
	"github.com/pithecene-io/quill/log"
	"github.com/pithecene-io/quill/metrics"
	"github.com/pithecene-io/quill/tempstore"
	"github.com/pithecene-io/quill/watch"
)

const frameTimeout = 5 * time.Second

// fakeWatcher lets a test inject watch events.
type fakeWatcher struct {
	events chan string
	errors chan error
	once   sync.Once
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{events: make(chan string, 16), errors: make(chan error, 1)}
}

func (w *fakeWatcher) Events() <-chan string { return w.events }
func (w *fakeWatcher) Errors() <-chan error  { return w.errors }
func (w *fakeWatcher) Close() error {
	w.once.Do(func() {
		close(w.events)
		close(w.errors)
	})
	return nil
}

// launchCall is one Run invocation observed by fakeLauncher.
type launchCall struct {
	template []string
	path     string
	line     int
	col      int
	release  chan ExitOutcome
}

// fakeLauncher blocks every Run until the test releases it or the context
// is cancelled.
type fakeLauncher struct {
	calls chan *launchCall
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{calls: make(chan *launchCall, 16)}
}

func (l *fakeLauncher) Run(ctx context.Context, template []string, path string, line, col int) ExitOutcome {
	call := &launchCall{
		template: template,
		path:     path,
		line:     line,
		col:      col,
		release:  make(chan ExitOutcome, 1),
	}
	l.calls <- call
	select {
	case outcome := <-call.release:
		outcome.Editor = template[0]
		return outcome
	case <-ctx.Done():
		return ExitOutcome{Kind: OutcomeNonZeroExit, Editor: template[0], Code: -1}
	}
}

func (l *fakeLauncher) next(t *testing.T) *launchCall {
	t.Helper()
	select {
	case call := <-l.calls:
		return call
	case <-time.After(frameTimeout):
		t.Fatal("timed out waiting for editor launch")
		return nil
	}
}

// outFrame is a decoded outbound frame.
type outFrame struct {
	Type    string `json:"type"`
	Payload struct {
		ID    json.RawMessage `json:"id"`
		Text  string          `json:"text"`
		Error string          `json:"error"`
	} `json:"payload"`
}

type harness struct {
	t         *testing.T
	in        *io.PipeWriter
	frames    chan outFrame
	store     *tempstore.Store
	watcher   watch.Watcher
	launcher  *fakeLauncher
	collector *metrics.Collector
	cancel    context.CancelFunc
	result    chan error

	once sync.Once
	err  error
}

type harnessOption func(*DispatcherConfig)

func withShutdown(mode ShutdownMode) harnessOption {
	return func(c *DispatcherConfig) { c.Shutdown = mode }
}

func withRealWatcher(t *testing.T) harnessOption {
	return func(c *DispatcherConfig) {
		w, err := watch.New(watch.BackendAuto, c.Store.Dir(), 10*time.Millisecond)
		if err != nil {
			t.Fatalf("watch.New: %v", err)
		}
		c.Watcher = w
	}
}

func withLauncher(l Launcher) harnessOption {
	return func(c *DispatcherConfig) { c.Launcher = l }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	store, err := tempstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("tempstore.Open: %v", err)
	}
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	h := &harness{
		t:         t,
		in:        inW,
		frames:    make(chan outFrame, 256),
		store:     store,
		launcher:  newFakeLauncher(),
		collector: metrics.NewCollector("fake", "terminate"),
		result:    make(chan error, 1),
	}

	cfg := DispatcherConfig{
		Input:     inR,
		Output:    outW,
		Store:     store,
		Watcher:   newFakeWatcher(),
		Launcher:  h.launcher,
		Logger:    log.Nop(),
		Collector: h.collector,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	h.watcher = cfg.Watcher

	d, err := NewDispatcher(cfg)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		h.result <- d.Run(ctx)
		_ = outW.Close()
	}()
	go h.readFrames(outR)

	t.Cleanup(func() {
		cancel()
		_ = inW.Close()
		h.wait()
		_ = h.watcher.Close()
		_ = store.Close()
	})
	return h
}

func (h *harness) readFrames(r io.Reader) {
	defer close(h.frames)
	dec := ipc.NewFrameDecoder(r)
	for {
		payload, err := dec.ReadFrame()
		if err != nil {
			return
		}
		var f outFrame
		if err := json.Unmarshal(payload, &f); err != nil {
			h.t.Errorf("outbound frame is not JSON: %q", payload)
			return
		}
		h.frames <- f
	}
}

// send writes one new_text request.
func (h *harness) send(id, text, url, ext, editor string, caret int) {
	h.t.Helper()
	payload := map[string]any{
		"id":    json.RawMessage(id),
		"text":  text,
		"url":   url,
		"prefs": map[string]string{"extension": ext, "editor": editor},
		"caret": caret,
	}
	body, err := json.Marshal(map[string]any{"type": "new_text", "payload": payload})
	if err != nil {
		h.t.Fatalf("marshal request: %v", err)
	}
	h.writeRaw(frameBytes(body))
}

func (h *harness) writeRaw(b []byte) {
	h.t.Helper()
	if _, err := h.in.Write(b); err != nil {
		h.t.Fatalf("write input: %v", err)
	}
}

func frameBytes(body []byte) []byte {
	buf := make([]byte, ipc.LengthPrefixSize+len(body))
	binary.NativeEndian.PutUint32(buf, uint32(len(body)))
	copy(buf[ipc.LengthPrefixSize:], body)
	return buf
}

// next returns the next outbound frame.
func (h *harness) next() outFrame {
	h.t.Helper()
	select {
	case f, ok := <-h.frames:
		if !ok {
			h.t.Fatal("output closed while waiting for a frame")
		}
		return f
	case <-time.After(frameTimeout):
		h.t.Fatal("timed out waiting for an outbound frame")
	}
	return outFrame{}
}

// expect returns the next frame and checks its type and id.
func (h *harness) expect(typ, id string) outFrame {
	h.t.Helper()
	f := h.next()
	if f.Type != typ {
		h.t.Fatalf("frame type = %q (%+v), want %q", f.Type, f.Payload, typ)
	}
	if id != "" && string(f.Payload.ID) != id {
		h.t.Fatalf("%s id = %s, want %s", typ, f.Payload.ID, id)
	}
	return f
}

// closeInput ends the inbound stream.
func (h *harness) closeInput() {
	_ = h.in.Close()
}

// wait returns Run's result.
func (h *harness) wait() error {
	h.t.Helper()
	h.once.Do(func() {
		select {
		case h.err = <-h.result:
		case <-time.After(3 * frameTimeout):
			h.t.Error("dispatcher did not return")
		}
	})
	return h.err
}

// waitFor polls cond until it holds.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(frameTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// rest drains frames written after Run returned.
func (h *harness) rest() []outFrame {
	var out []outFrame
	for f := range h.frames {
		out = append(out, f)
	}
	return out
}

func TestDispatcher_EndToEnd(t *testing.T) {
	h := newHarness(t, withRealWatcher(t))

	h.send(`"7_0"`, "hello", "https://example.com/compose", "md", `["vim", "+%l"]`, 5)
	call := h.launcher.next(t)

	if filepath.Dir(call.path) != h.store.Dir() || filepath.Ext(call.path) != ".md" {
		t.Errorf("path = %q, want .md file in %q", call.path, h.store.Dir())
	}
	if call.line != 0 || call.col != 5 {
		t.Errorf("line/col = %d/%d, want 0/5", call.line, call.col)
	}
	if diff := cmp.Diff([]string{"vim", "+%l"}, call.template); diff != "" {
		t.Errorf("template mismatch (-want +got):\n%s", diff)
	}

	if err := os.WriteFile(call.path, []byte("hello world"), 0o600); err != nil {
		t.Fatalf("editor write: %v", err)
	}

	// Creating the file echoes the original text first.
	for {
		f := h.expect("text_update", `"7_0"`)
		if f.Payload.Text == "hello world" {
			break
		}
		if f.Payload.Text != "hello" {
			t.Fatalf("text_update text = %q", f.Payload.Text)
		}
	}

	call.release <- ExitOutcome{Kind: OutcomeSuccess}
	h.expect("death_notice", `"7_0"`)
	if _, err := os.Stat(call.path); !os.IsNotExist(err) {
		t.Errorf("temp file present when death_notice arrived: %v", err)
	}

	h.closeInput()
	if err := h.wait(); err != nil {
		t.Fatalf("Run = %v, want nil", err)
	}
	for _, f := range h.rest() {
		t.Errorf("unexpected frame after death_notice: %+v", f)
	}
}

func TestDispatcher_EditorFailure(t *testing.T) {
	tests := []struct {
		name    string
		outcome ExitOutcome
		want    string
	}{
		{"not found", ExitOutcome{Kind: OutcomeNotFound}, "could not find editor 'nope'"},
		{"non-zero exit", ExitOutcome{Kind: OutcomeNonZeroExit, Code: 2}, "editor 'nope' did not exit successfully"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.send(`1`, "x", "u", "txt", `["nope"]`, 0)
			call := h.launcher.next(t)
			call.release <- tt.outcome

			errFrame := h.expect("error", "")
			if errFrame.Payload.Error != tt.want {
				t.Errorf("error = %q, want %q", errFrame.Payload.Error, tt.want)
			}
			h.expect("death_notice", `1`)
			if _, err := os.Stat(call.path); !os.IsNotExist(err) {
				t.Errorf("temp file survived failed session: %v", err)
			}
			if h.store.Len() != 0 {
				t.Errorf("store.Len() = %d, want 0", h.store.Len())
			}

			h.closeInput()
			if err := h.wait(); err != nil {
				t.Fatalf("Run = %v", err)
			}
		})
	}
}

func TestDispatcher_RealEditorNotFound(t *testing.T) {
	h := newHarness(t, withLauncher(&EditorLauncher{}))
	h.send(`"a"`, "x", "u", "txt", `["quill-no-such-editor", "%s"]`, 0)

	errFrame := h.expect("error", "")
	if errFrame.Payload.Error != "could not find editor 'quill-no-such-editor'" {
		t.Errorf("error = %q", errFrame.Payload.Error)
	}
	h.expect("death_notice", `"a"`)

	h.closeInput()
	if err := h.wait(); err != nil {
		t.Fatalf("Run = %v", err)
	}
	if entries, _ := os.ReadDir(h.store.Dir()); len(entries) != 0 {
		t.Errorf("work dir not empty: %v", entries)
	}
}

func TestDispatcher_DefaultsApplied(t *testing.T) {
	h := newHarness(t)
	h.send(`1`, "ab\ncd", "", "", "", 4)
	call := h.launcher.next(t)

	if diff := cmp.Diff(DefaultEditor, call.template); diff != "" {
		t.Errorf("template mismatch (-want +got):\n%s", diff)
	}
	if filepath.Ext(call.path) != ".txt" {
		t.Errorf("ext = %q, want .txt", filepath.Ext(call.path))
	}
	if call.line != 1 || call.col != 1 {
		t.Errorf("line/col = %d/%d, want 1/1", call.line, call.col)
	}
	call.release <- ExitOutcome{Kind: OutcomeSuccess}
	h.expect("death_notice", `1`)
}

func TestDispatcher_InvalidEditorPreference(t *testing.T) {
	h := newHarness(t)
	h.send(`9`, "x", "u", "txt", `vim -f`, 0)

	errFrame := h.expect("error", "")
	if !strings.HasPrefix(errFrame.Payload.Error, "invalid editor preference") {
		t.Errorf("error = %q", errFrame.Payload.Error)
	}
	h.expect("death_notice", `9`)

	h.closeInput()
	if err := h.wait(); err != nil {
		t.Fatalf("Run = %v", err)
	}
	select {
	case call := <-h.launcher.calls:
		t.Errorf("editor launched for invalid preference: %+v", call)
	default:
	}
	if s := h.collector.Snapshot(); s.SessionsRejected != 1 || s.SessionsStarted != 0 {
		t.Errorf("rejected/started = %d/%d, want 1/0", s.SessionsRejected, s.SessionsStarted)
	}
}

func TestDispatcher_StaleEventDiscarded(t *testing.T) {
	h := newHarness(t)
	fw := h.watcher.(*fakeWatcher)

	h.send(`1`, "x", "u", "txt", `["ed"]`, 0)
	call := h.launcher.next(t)
	call.release <- ExitOutcome{Kind: OutcomeSuccess}
	h.expect("death_notice", `1`)

	// A close event queued before the delete arrives late.
	fw.events <- filepath.Base(call.path)
	fw.events <- "never-registered.txt"
	waitFor(t, func() bool { return h.collector.Snapshot().StaleEvents == 2 })

	h.closeInput()
	if err := h.wait(); err != nil {
		t.Fatalf("Run = %v", err)
	}
	for _, f := range h.rest() {
		t.Errorf("unexpected frame for stale event: %+v", f)
	}
}

func TestDispatcher_ForwardsInjectedEvents(t *testing.T) {
	h := newHarness(t)
	fw := h.watcher.(*fakeWatcher)

	h.send(`"x"`, "v0", "u", "txt", `["ed"]`, 0)
	call := h.launcher.next(t)
	name := filepath.Base(call.path)

	for _, text := range []string{"v1", "v2", "v3"} {
		if err := os.WriteFile(call.path, []byte(text), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
		fw.events <- name
		f := h.expect("text_update", `"x"`)
		if f.Payload.Text != text {
			t.Errorf("text = %q, want %q", f.Payload.Text, text)
		}
	}

	call.release <- ExitOutcome{Kind: OutcomeSuccess}
	h.expect("death_notice", `"x"`)
	if got := h.collector.Snapshot().TextUpdates; got != 3 {
		t.Errorf("TextUpdates = %d, want 3", got)
	}
}

func TestDispatcher_OversizedUpdate(t *testing.T) {
	h := newHarness(t)
	fw := h.watcher.(*fakeWatcher)

	h.send(`1`, "x", "u", "txt", `["ed"]`, 0)
	call := h.launcher.next(t)
	big := strings.Repeat("z", ipc.MaxOutboundPayloadSize)
	if err := os.WriteFile(call.path, []byte(big), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	fw.events <- filepath.Base(call.path)

	errFrame := h.expect("error", "")
	if !strings.Contains(errFrame.Payload.Error, "too large") {
		t.Errorf("error = %q", errFrame.Payload.Error)
	}

	call.release <- ExitOutcome{Kind: OutcomeSuccess}
	h.expect("death_notice", `1`)
}

func TestDispatcher_IdenticalRequestsAreIndependent(t *testing.T) {
	h := newHarness(t)

	h.send(`1`, "same", "https://example.com", "txt", `["ed"]`, 0)
	h.send(`2`, "same", "https://example.com", "txt", `["ed"]`, 0)
	a := h.launcher.next(t)
	b := h.launcher.next(t)
	if a.path == b.path {
		t.Fatalf("identical requests share path %q", a.path)
	}

	_, ownerB, err := h.store.Read(filepath.Base(b.path))
	if err != nil {
		t.Fatalf("Read b: %v", err)
	}
	b.release <- ExitOutcome{Kind: OutcomeSuccess}
	h.expect("death_notice", string(ownerB))

	if _, err := os.Stat(b.path); !os.IsNotExist(err) {
		t.Errorf("finished session's file still present: %v", err)
	}
	if _, err := os.Stat(a.path); err != nil {
		t.Errorf("running session's file removed: %v", err)
	}

	a.release <- ExitOutcome{Kind: OutcomeSuccess}
	h.expect("death_notice", "")
	if h.store.Len() != 0 {
		t.Errorf("store.Len() = %d, want 0", h.store.Len())
	}
}

func TestDispatcher_ProtocolErrors(t *testing.T) {
	partial := make([]byte, ipc.LengthPrefixSize+10)
	binary.NativeEndian.PutUint32(partial, 100)

	tests := []struct {
		name  string
		input []byte
		check func(error) bool
	}{
		{"short body", partial, IsProtocolError},
		{"short prefix", []byte{1, 0}, IsProtocolError},
		{"malformed json", frameBytes([]byte(`{"type": new_text}`)), IsProtocolError},
		{"invalid utf-8", frameBytes([]byte("{\"type\":\"new_text\",\"payload\":{\"id\":\"a\",\"text\":\"h\xffi\"}}")), IsProtocolError},
		{"unknown type", frameBytes([]byte(`{"type":"open_file","payload":{}}`)), IsUnknownTypeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.writeRaw(tt.input)
			h.closeInput()

			err := h.wait()
			if !tt.check(err) {
				t.Fatalf("Run = %v, want matching DispatchError", err)
			}
		})
	}
}

func TestDispatcher_ProtocolErrorEndsRunningSessions(t *testing.T) {
	h := newHarness(t)
	h.send(`1`, "x", "u", "txt", `["ed"]`, 0)
	call := h.launcher.next(t)

	h.writeRaw(frameBytes([]byte(`not json`)))

	err := h.wait()
	if !IsProtocolError(err) {
		t.Fatalf("Run = %v, want protocol error", err)
	}
	frames := h.rest()
	if len(frames) == 0 || frames[len(frames)-1].Type != "death_notice" {
		t.Errorf("frames = %+v, want trailing death_notice", frames)
	}
	if _, err := os.Stat(call.path); !os.IsNotExist(err) {
		t.Errorf("temp file survived fatal error: %v", err)
	}
}

func TestDispatcher_ShutdownTerminate(t *testing.T) {
	h := newHarness(t, withShutdown(ShutdownTerminate))
	h.send(`1`, "x", "u", "txt", `["ed"]`, 0)
	call := h.launcher.next(t)

	h.closeInput()
	if err := h.wait(); err != nil {
		t.Fatalf("Run = %v", err)
	}

	frames := h.rest()
	if len(frames) == 0 || frames[len(frames)-1].Type != "death_notice" {
		t.Errorf("frames = %+v, want trailing death_notice", frames)
	}
	if _, err := os.Stat(call.path); !os.IsNotExist(err) {
		t.Errorf("temp file survived shutdown: %v", err)
	}
}

func TestDispatcher_ShutdownWait(t *testing.T) {
	h := newHarness(t, withShutdown(ShutdownWait))
	h.send(`1`, "x", "u", "txt", `["ed"]`, 0)
	call := h.launcher.next(t)

	h.closeInput()
	select {
	case err := <-h.result:
		t.Fatalf("Run returned %v while an editor was still open", err)
	case <-time.After(200 * time.Millisecond):
	}

	call.release <- ExitOutcome{Kind: OutcomeSuccess}
	h.expect("death_notice", `1`)
	if err := h.wait(); err != nil {
		t.Fatalf("Run = %v", err)
	}
}

func TestDispatcher_ContextCancel(t *testing.T) {
	h := newHarness(t, withShutdown(ShutdownWait))
	h.send(`1`, "x", "u", "txt", `["ed"]`, 0)
	call := h.launcher.next(t)

	h.cancel()
	err := h.wait()
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
	if _, err := os.Stat(call.path); !os.IsNotExist(err) {
		t.Errorf("temp file survived cancel: %v", err)
	}
}

func TestDispatcher_RealEditorLifecycle(t *testing.T) {
	launcher, tmpl := fakeEditorLauncher(t, "append: world", 0)
	h := newHarness(t, withLauncher(launcher))

	editor, err := json.Marshal(tmpl)
	if err != nil {
		t.Fatalf("marshal template: %v", err)
	}
	h.send(`"e"`, "hello", "u", "txt", string(editor), 5)
	h.expect("death_notice", `"e"`)

	h.closeInput()
	if err := h.wait(); err != nil {
		t.Fatalf("Run = %v", err)
	}
	if got := h.collector.Snapshot().EditorOutcomes["success"]; got != 1 {
		t.Errorf("success outcomes = %d, want 1", got)
	}
}

func TestNewDispatcher_Validation(t *testing.T) {
	store, err := tempstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("tempstore.Open: %v", err)
	}
	defer iox.DiscardClose(store)

	valid := DispatcherConfig{
		Input:   strings.NewReader(""),
		Output:  io.Discard,
		Store:   store,
		Watcher: newFakeWatcher(),
	}
	tests := []struct {
		name   string
		mutate func(*DispatcherConfig)
	}{
		{"no input", func(c *DispatcherConfig) { c.Input = nil }},
		{"no output", func(c *DispatcherConfig) { c.Output = nil }},
		{"no store", func(c *DispatcherConfig) { c.Store = nil }},
		{"no watcher", func(c *DispatcherConfig) { c.Watcher = nil }},
		{"bad shutdown", func(c *DispatcherConfig) { c.Shutdown = "linger" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			if _, err := NewDispatcher(cfg); err == nil {
				t.Error("NewDispatcher succeeded, want error")
			}
		})
	}

	if _, err := NewDispatcher(valid); err != nil {
		t.Errorf("NewDispatcher(valid) = %v", err)
	}
}

func TestParseShutdownMode(t *testing.T) {
	for in, want := range map[string]ShutdownMode{"": ShutdownTerminate, "terminate": ShutdownTerminate, "wait": ShutdownWait} {
		got, err := ParseShutdownMode(in)
		if err != nil || got != want {
			t.Errorf("ParseShutdownMode(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseShutdownMode("never"); err == nil {
		t.Error("ParseShutdownMode(never) succeeded")
	}
}
