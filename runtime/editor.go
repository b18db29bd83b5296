package runtime

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"time"
)

// DefaultGrace is how long an editor may take to exit after SIGTERM before
// it is killed.
const DefaultGrace = 3 * time.Second

// Launcher runs one editor to completion.
type Launcher interface {
	// Run substitutes path and the zero-based line and col into template,
	// starts the editor and waits for it to exit. Cancelling ctx terminates
	// the editor.
	Run(ctx context.Context, template []string, path string, line, col int) ExitOutcome
}

// EditorLauncher starts editors as child processes. The editor gets no
// stdin, and its stdout and stderr are discarded: stdout belongs to the
// native-messaging channel.
type EditorLauncher struct {
	// Grace bounds the wait after SIGTERM. Zero means DefaultGrace.
	Grace time.Duration
	// Env adds KEY=VALUE entries to the inherited environment.
	Env []string
}

// Run implements Launcher.
func (l *EditorLauncher) Run(ctx context.Context, template []string, path string, line, col int) ExitOutcome {
	argv := BuildArgs(template, path, line, col)
	outcome := ExitOutcome{Editor: argv[0]}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	// nil stdio is connected to the null device.
	cmd.Stdin, cmd.Stdout, cmd.Stderr = nil, nil, nil
	if len(l.Env) > 0 {
		cmd.Env = deduplicateEnv(append(os.Environ(), l.Env...))
	}
	cmd.WaitDelay = l.Grace
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = DefaultGrace
	}
	configureProcess(cmd)

	if err := cmd.Start(); err != nil {
		outcome.Err = err
		if isNotFound(err) {
			outcome.Kind = OutcomeNotFound
		} else {
			outcome.Kind = OutcomeLaunchFailed
		}
		return outcome
	}

	err := cmd.Wait()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		outcome.Kind = OutcomeSuccess
	case errors.As(err, &exitErr):
		outcome.Kind = OutcomeNonZeroExit
		outcome.Code = exitErr.ExitCode()
	case ctx.Err() != nil && cmd.ProcessState != nil && cmd.ProcessState.Success():
		// Exited cleanly after being asked to stop.
		outcome.Kind = OutcomeSuccess
	default:
		outcome.Kind = OutcomeNonZeroExit
		outcome.Code = -1
		outcome.Err = err
	}
	return outcome
}

func isNotFound(err error) bool {
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist)
}

// deduplicateEnv keeps the last occurrence of each env var key, so entries
// appended after os.Environ() win.
func deduplicateEnv(env []string) []string {
	seen := make(map[string]int, len(env))
	for i, entry := range env {
		key, _, _ := strings.Cut(entry, "=")
		seen[key] = i
	}
	result := make([]string, 0, len(seen))
	for i, entry := range env {
		key, _, _ := strings.Cut(entry, "=")
		if seen[key] == i {
			result = append(result, entry)
		}
	}
	return result
}
