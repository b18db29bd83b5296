// Package metrics provides per-process counters for the host.
//
// The Collector accumulates counters for the lifetime of one host process
// and is logged once at shutdown. It is a leaf package with no internal
// dependencies.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Sessions
	SessionsStarted   int64
	SessionsCompleted int64
	SessionsRejected  int64

	// Editor outcomes, keyed by outcome kind ("success", "not_found", ...).
	EditorOutcomes map[string]int64

	// Wire
	FramesIn         int64
	FramesOut        int64
	TextUpdates      int64
	OversizedUpdates int64

	// Watch
	StaleEvents int64
	WatchErrors int64

	// Dimensions (informational, set at construction)
	WatchBackend string
	ShutdownMode string
}

// Collector accumulates counters for one host process.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	sessionsStarted   int64
	sessionsCompleted int64
	sessionsRejected  int64

	editorOutcomes map[string]int64

	framesIn         int64
	framesOut        int64
	textUpdates      int64
	oversizedUpdates int64

	staleEvents int64
	watchErrors int64

	watchBackend string
	shutdownMode string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(watchBackend, shutdownMode string) *Collector {
	return &Collector{
		editorOutcomes: make(map[string]int64),
		watchBackend:   watchBackend,
		shutdownMode:   shutdownMode,
	}
}

func (c *Collector) inc(counter *int64) {
	c.mu.Lock()
	*counter++
	c.mu.Unlock()
}

// --- Sessions ---

// IncSessionStarted records a session whose temp file was created.
func (c *Collector) IncSessionStarted() {
	if c == nil {
		return
	}
	c.inc(&c.sessionsStarted)
}

// IncSessionCompleted records a session that emitted its death notice.
func (c *Collector) IncSessionCompleted() {
	if c == nil {
		return
	}
	c.inc(&c.sessionsCompleted)
}

// IncSessionRejected records a request refused before an editor was started
// (bad editor template, temp file creation failure).
func (c *Collector) IncSessionRejected() {
	if c == nil {
		return
	}
	c.inc(&c.sessionsRejected)
}

// IncEditorOutcome records how an editor process ended.
func (c *Collector) IncEditorOutcome(kind string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.editorOutcomes[kind]++
	c.mu.Unlock()
}

// --- Wire ---

// IncFramesIn records a decoded inbound frame.
func (c *Collector) IncFramesIn() {
	if c == nil {
		return
	}
	c.inc(&c.framesIn)
}

// IncFramesOut records a written outbound frame.
func (c *Collector) IncFramesOut() {
	if c == nil {
		return
	}
	c.inc(&c.framesOut)
}

// IncTextUpdates records an emitted text_update.
func (c *Collector) IncTextUpdates() {
	if c == nil {
		return
	}
	c.inc(&c.textUpdates)
}

// IncOversizedUpdates records a text_update refused for exceeding the
// outbound frame limit.
func (c *Collector) IncOversizedUpdates() {
	if c == nil {
		return
	}
	c.inc(&c.oversizedUpdates)
}

// --- Watch ---

// IncStaleEvents records a watch event for an unregistered name.
func (c *Collector) IncStaleEvents() {
	if c == nil {
		return
	}
	c.inc(&c.staleEvents)
}

// IncWatchErrors records a non-fatal watcher error.
func (c *Collector) IncWatchErrors() {
	if c == nil {
		return
	}
	c.inc(&c.watchErrors)
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	outcomes := make(map[string]int64, len(c.editorOutcomes))
	for k, v := range c.editorOutcomes {
		outcomes[k] = v
	}

	return Snapshot{
		SessionsStarted:   c.sessionsStarted,
		SessionsCompleted: c.sessionsCompleted,
		SessionsRejected:  c.sessionsRejected,

		EditorOutcomes: outcomes,

		FramesIn:         c.framesIn,
		FramesOut:        c.framesOut,
		TextUpdates:      c.textUpdates,
		OversizedUpdates: c.oversizedUpdates,

		StaleEvents: c.staleEvents,
		WatchErrors: c.watchErrors,

		WatchBackend: c.watchBackend,
		ShutdownMode: c.shutdownMode,
	}
}

// Fields flattens the snapshot into log fields.
func (s Snapshot) Fields() map[string]any {
	fields := map[string]any{
		"sessions_started":   s.SessionsStarted,
		"sessions_completed": s.SessionsCompleted,
		"sessions_rejected":  s.SessionsRejected,
		"frames_in":          s.FramesIn,
		"frames_out":         s.FramesOut,
		"text_updates":       s.TextUpdates,
		"oversized_updates":  s.OversizedUpdates,
		"stale_events":       s.StaleEvents,
		"watch_errors":       s.WatchErrors,
		"watch_backend":      s.WatchBackend,
		"shutdown_mode":      s.ShutdownMode,
	}
	for k, v := range s.EditorOutcomes {
		fields["editor_"+k] = v
	}
	return fields
}
