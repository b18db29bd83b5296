// Package main provides the quill-host entrypoint, the native-messaging
// host started by the browser extension.
//
// Usage:
//
//	quill-host [options] [browser arguments...]
//	quill-host <command> [options]
//
// Without a command the host serves frames on stdin/stdout.
//
// Exit codes:
//   - 0: input closed, or stopped by signal
//   - 1: unexpected error
//   - 2: protocol or dispatch error
//   - 3: invalid configuration
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/quill/cli/cmd"
	"github.com/pithecene-io/quill/types"
)

// commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	if err := newApp(os.Stderr, os.Exit).Run(os.Args); err != nil {
		// ExitErrHandler already handled the exit for cli.ExitCoder errors.
		os.Exit(1)
	}
}

func newApp(stderr io.Writer, exit func(int)) *cli.App {
	return &cli.App{
		Name:           "quill-host",
		Usage:          "Edit browser text areas in an external editor",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		Flags:          cmd.HostFlags(),
		Action:         cmd.HostAction,
		ErrWriter:      stderr,
		ExitErrHandler: newExitErrHandler(stderr, exit),
		Commands: []*cli.Command{
			cmd.InstallCommand(),
			cmd.TraceCommand(),
			cmd.ConfigCommand(),
			cmd.VersionCommand(commit),
		},
	}
}

// newExitErrHandler preserves exit codes from cli.Exit(). Messages go to
// stderr: stdout belongs to the browser.
func newExitErrHandler(stderr io.Writer, exit func(int)) cli.ExitErrHandlerFunc {
	return func(_ *cli.Context, err error) {
		if err == nil {
			return
		}

		var exitCoder cli.ExitCoder
		if errors.As(err, &exitCoder) {
			code := exitCoder.ExitCode()
			msg := exitCoder.Error()

			// cli.Exit("", N).Error() returns "" or "exit status N"; skip those.
			if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
				fmt.Fprintln(stderr, msg)
			}
			exit(code)
			return
		}

		fmt.Fprintf(stderr, "Error: %v\n", err)
		exit(1)
	}
}
