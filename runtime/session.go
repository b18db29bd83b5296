package runtime

import (
	"context"
	"path/filepath"
	"time"

	"github.com/pithecene-io/quill/log"
	"github.com/pithecene-io/quill/types"
)

// session is one request between temp file creation and its death notice.
// Only the dispatcher loop reads or mutates it.
type session struct {
	id       types.RequestID
	path     string
	template []string
	line     int
	col      int
	started  time.Time
	logger   *log.Logger
}

// sessionResult is sent from a session goroutine back to the loop.
type sessionResult struct {
	session *session
	outcome ExitOutcome
}

func newSession(id types.RequestID, path string, template []string, line, col int, logger *log.Logger) *session {
	return &session{
		id:       id,
		path:     path,
		template: template,
		line:     line,
		col:      col,
		started:  time.Now(),
		logger: logger.With(map[string]any{
			"request_id": string(id),
			"file":       filepath.Base(path),
		}),
	}
}

// run waits for the editor and hands the outcome to the loop. It touches no
// shared state; completion happens on the loop.
func (s *session) run(ctx context.Context, launcher Launcher, done chan<- sessionResult) {
	s.logger.Debug("launching editor", map[string]any{
		"template": s.template,
		"line":     s.line,
		"col":      s.col,
	})
	outcome := launcher.Run(ctx, s.template, s.path, s.line, s.col)
	done <- sessionResult{session: s, outcome: outcome}
}
