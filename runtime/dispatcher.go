package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pithecene-io/quill/ipc"
	"github.com/pithecene-io/quill/log"
	"github.com/pithecene-io/quill/metrics"
	"github.com/pithecene-io/quill/tempstore"
	"github.com/pithecene-io/quill/trace"
	"github.com/pithecene-io/quill/types"
	"github.com/pithecene-io/quill/watch"
)

// ShutdownMode decides what happens to running editors once the browser
// closes the inbound stream.
type ShutdownMode string

const (
	// ShutdownTerminate signals every running editor and waits for its
	// session to complete.
	ShutdownTerminate ShutdownMode = "terminate"
	// ShutdownWait lets editors exit on their own.
	ShutdownWait ShutdownMode = "wait"
)

// ParseShutdownMode validates a mode name. Empty means ShutdownTerminate.
func ParseShutdownMode(s string) (ShutdownMode, error) {
	switch m := ShutdownMode(s); m {
	case "":
		return ShutdownTerminate, nil
	case ShutdownTerminate, ShutdownWait:
		return m, nil
	default:
		return "", fmt.Errorf("unknown shutdown mode %q (want terminate or wait)", s)
	}
}

// Defaults fill in request preferences the extension left empty.
type Defaults struct {
	// Editor is the argument template used when prefs.editor is empty.
	Editor []string
	// Extension is used when prefs.extension is empty.
	Extension string
}

// DispatcherConfig wires the dispatcher to its collaborators.
type DispatcherConfig struct {
	// Input carries frames from the browser (stdin).
	Input io.Reader
	// Output receives frames for the browser (stdout).
	Output io.Writer
	// Store owns the temp files and the registry.
	Store *tempstore.Store
	// Watcher reports close-after-write events in Store.Dir().
	Watcher watch.Watcher
	// Launcher runs editors. If nil, an EditorLauncher is used.
	Launcher Launcher
	// Defaults fill in missing request preferences.
	Defaults Defaults
	// Shutdown selects the behavior at end of input.
	Shutdown ShutdownMode
	// Logger receives host logs. If nil, logs are discarded.
	Logger *log.Logger
	// Collector counts host activity. May be nil.
	Collector *metrics.Collector
	// Recorder transcribes every frame. May be nil.
	Recorder *trace.Recorder
}

// inboundResult is one item from the input reader goroutine.
type inboundResult struct {
	msg types.Inbound
	err error
}

// Dispatcher is the host event loop. One goroutine (Run) owns session
// bookkeeping, registry mutation and all outbound writes of completion and
// update frames; editor waits and stdin reads run on helper goroutines that
// report back over channels.
type Dispatcher struct {
	cfg      DispatcherConfig
	encoder  *ipc.FrameEncoder
	logger   *log.Logger
	launcher Launcher

	active map[string]*session
	fatal  error
}

// NewDispatcher creates a dispatcher. Store, Watcher, Input and Output are
// required.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	switch {
	case cfg.Input == nil:
		return nil, errors.New("dispatcher: input is required")
	case cfg.Output == nil:
		return nil, errors.New("dispatcher: output is required")
	case cfg.Store == nil:
		return nil, errors.New("dispatcher: store is required")
	case cfg.Watcher == nil:
		return nil, errors.New("dispatcher: watcher is required")
	}
	mode, err := ParseShutdownMode(string(cfg.Shutdown))
	if err != nil {
		return nil, err
	}
	cfg.Shutdown = mode
	if len(cfg.Defaults.Editor) == 0 {
		cfg.Defaults.Editor = DefaultEditor
	}
	if cfg.Defaults.Extension == "" {
		cfg.Defaults.Extension = tempstore.DefaultExtension
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.Nop()
	}
	launcher := cfg.Launcher
	if launcher == nil {
		launcher = &EditorLauncher{}
	}

	return &Dispatcher{
		cfg:      cfg,
		encoder:  ipc.NewFrameEncoder(cfg.Output),
		logger:   logger,
		launcher: launcher,
		active:   make(map[string]*session),
	}, nil
}

// Run processes inbound requests and watch events until the input ends and
// every session has completed.
//
// Returns nil on a clean end of input, ctx.Err() when ctx is cancelled, or a
// *DispatchError for a fatal protocol or invariant failure. In every case
// all sessions have sent their death notice and removed their temp file
// before Run returns. Run does not wait for a reader blocked on Input when
// ctx is cancelled; closing Input releases it.
func (d *Dispatcher) Run(ctx context.Context) error {
	sessCtx, cancelSessions := context.WithCancel(ctx)
	defer cancelSessions()

	quit := make(chan struct{})
	defer close(quit)

	inbound := make(chan inboundResult)
	go d.readLoop(inbound, quit)

	var sessions errgroup.Group
	done := make(chan sessionResult)

	events := d.cfg.Watcher.Events()
	watchErrs := d.cfg.Watcher.Errors()
	ctxDone := ctx.Done()

	d.logger.Info("dispatcher started", map[string]any{
		"work_dir": d.cfg.Store.Dir(),
		"shutdown": string(d.cfg.Shutdown),
	})

	for inbound != nil || len(d.active) > 0 {
		select {
		case res := <-inbound:
			switch {
			case res.err == io.EOF:
				d.logger.Info("input closed", map[string]any{"active_sessions": len(d.active)})
				inbound = nil
				if d.cfg.Shutdown == ShutdownTerminate {
					cancelSessions()
				}
			case res.err != nil:
				d.fail(classifyInbound(res.err))
				inbound = nil
				cancelSessions()
			default:
				d.handle(sessCtx, res.msg, &sessions, done)
				if d.fatal != nil {
					inbound = nil
					cancelSessions()
				}
			}

		case res := <-done:
			d.complete(res)
			if d.fatal != nil {
				inbound = nil
				cancelSessions()
			}

		case name, ok := <-events:
			if !ok {
				d.logger.Warn("watcher stopped", nil)
				events = nil
				continue
			}
			d.forward(name)

		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			d.cfg.Collector.IncWatchErrors()
			d.logger.Warn("watch error", map[string]any{"error": err.Error()})

		case <-ctxDone:
			d.logger.Info("shutdown requested", map[string]any{"active_sessions": len(d.active)})
			ctxDone = nil
			inbound = nil
			cancelSessions()
		}
	}

	_ = sessions.Wait()

	d.logger.Info("dispatcher stopped", d.cfg.Collector.Snapshot().Fields())

	if d.fatal != nil {
		return d.fatal
	}
	return ctx.Err()
}

// readLoop decodes frames until EOF or the first error.
func (d *Dispatcher) readLoop(out chan<- inboundResult, quit <-chan struct{}) {
	decoder := ipc.NewFrameDecoder(d.cfg.Input)
	send := func(res inboundResult) bool {
		select {
		case out <- res:
			return true
		case <-quit:
			return false
		}
	}

	for {
		payload, err := decoder.ReadFrame()
		if err != nil {
			send(inboundResult{err: err})
			return
		}
		if err := d.cfg.Recorder.Record(trace.DirIn, payload); err != nil {
			d.logger.Warn("trace record failed", map[string]any{"error": err.Error()})
		}

		msg, err := ipc.DecodeMessage(payload)
		if err != nil {
			send(inboundResult{err: err})
			return
		}
		d.cfg.Collector.IncFramesIn()
		if !send(inboundResult{msg: msg}) {
			return
		}
	}
}

// handle dispatches one inbound message.
func (d *Dispatcher) handle(ctx context.Context, msg types.Inbound, sessions *errgroup.Group, done chan<- sessionResult) {
	switch m := msg.(type) {
	case *types.NewText:
		d.start(ctx, m, sessions, done)
	default:
		d.fail(&DispatchError{
			Kind: DispatchErrorUnknownType,
			Err:  fmt.Errorf("no handler for message type %q", msg.MessageType()),
		})
	}
}

// start creates the temp file and launches the editor for one request.
// Requests that cannot start get an error and a death notice immediately.
func (d *Dispatcher) start(ctx context.Context, msg *types.NewText, sessions *errgroup.Group, done chan<- sessionResult) {
	logger := d.logger.With(map[string]any{"request_id": string(msg.ID)})

	template, err := ParseTemplate(msg.Prefs.Editor, d.cfg.Defaults.Editor)
	if err != nil {
		logger.Warn("rejecting request", map[string]any{"error": err.Error()})
		d.reject(msg.ID, fmt.Sprintf("invalid editor preference: %v", err))
		return
	}

	ext := msg.Prefs.Extension
	if ext == "" {
		ext = d.cfg.Defaults.Extension
	}
	path, err := d.cfg.Store.Create(msg.Text, msg.URL, ext, msg.ID)
	if err != nil {
		logger.Error("temp file creation failed", map[string]any{"error": err.Error()})
		d.reject(msg.ID, fmt.Sprintf("could not create temp file: %v", err))
		return
	}

	line, col := OffsetToLineColumn(msg.Text, msg.Caret)
	s := newSession(msg.ID, path, template, line, col, d.logger)
	d.active[path] = s
	d.cfg.Collector.IncSessionStarted()
	s.logger.Info("session started", map[string]any{"editor": template[0]})

	sessions.Go(func() error {
		s.run(ctx, d.launcher, done)
		return nil
	})
}

// reject reports a request that never reached the editor.
func (d *Dispatcher) reject(id types.RequestID, reason string) {
	d.cfg.Collector.IncSessionRejected()
	d.emit(&types.ErrorNotice{Error: reason})
	d.emit(&types.DeathNotice{ID: id})
}

// complete finishes a session: error frame if the editor failed, temp file
// removal, then the death notice. The file is gone before the notice is
// written, so no text_update can follow it.
func (d *Dispatcher) complete(res sessionResult) {
	s := res.session
	delete(d.active, s.path)

	d.cfg.Collector.IncEditorOutcome(res.outcome.Kind.String())
	fields := map[string]any{
		"outcome":  res.outcome.Kind.String(),
		"duration": time.Since(s.started).String(),
	}
	if res.outcome.Kind == OutcomeNonZeroExit {
		fields["exit_code"] = res.outcome.Code
	}
	if res.outcome.Err != nil {
		fields["error"] = res.outcome.Err.Error()
	}
	s.logger.Info("editor exited", fields)

	if msg := res.outcome.Message(); msg != "" {
		d.emit(&types.ErrorNotice{Error: msg})
	}

	if err := d.cfg.Store.Delete(s.path); err != nil {
		s.logger.Error("temp file delete failed", map[string]any{"error": err.Error()})
		if errors.Is(err, tempstore.ErrNotRegistered) {
			d.fail(&DispatchError{Kind: DispatchErrorInvariant, Err: err})
		}
	}

	d.emit(&types.DeathNotice{ID: s.id})
	d.cfg.Collector.IncSessionCompleted()
}

// forward turns a watch event into a text_update. Events for names no
// longer registered are stale and dropped.
func (d *Dispatcher) forward(name string) {
	if !d.cfg.Store.Contains(name) {
		d.cfg.Collector.IncStaleEvents()
		d.logger.Debug("stale watch event", map[string]any{"file": name})
		return
	}

	text, id, err := d.cfg.Store.Read(name)
	if err != nil {
		d.logger.Warn("temp file read failed", map[string]any{"file": name, "error": err.Error()})
		return
	}

	err = d.send(&types.TextUpdate{ID: id, Text: text})
	if ipc.IsFrameError(err, ipc.FrameErrorTooLarge) {
		d.cfg.Collector.IncOversizedUpdates()
		d.emit(&types.ErrorNotice{Error: fmt.Sprintf("text of %s is too large to send back (%d bytes)", name, len(text))})
		return
	}
	if err == nil {
		d.cfg.Collector.IncTextUpdates()
	}
}

// send writes one outbound frame. Write failures are logged; the browser
// may already have gone away.
func (d *Dispatcher) send(msg types.Outbound) error {
	body, err := d.encoder.WriteMessage(msg)
	if err != nil {
		d.logger.Warn("outbound frame not sent", map[string]any{
			"type":  string(msg.MessageType()),
			"error": err.Error(),
		})
		return err
	}
	d.cfg.Collector.IncFramesOut()
	if err := d.cfg.Recorder.Record(trace.DirOut, body); err != nil {
		d.logger.Warn("trace record failed", map[string]any{"error": err.Error()})
	}
	return nil
}

// emit is send for frames whose failure needs no handling beyond the log.
func (d *Dispatcher) emit(msg types.Outbound) {
	_ = d.send(msg)
}

// fail records the first fatal error.
func (d *Dispatcher) fail(err error) {
	if d.fatal == nil {
		d.fatal = err
		d.logger.Error("fatal dispatch error", map[string]any{"error": err.Error()})
	}
}
