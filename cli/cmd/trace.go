package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/quill/cli/render"
	"github.com/pithecene-io/quill/trace"
)

// TraceCommand returns the trace command, which prints a frame transcript
// written by the host's --trace option.
func TraceCommand() *cli.Command {
	return &cli.Command{
		Name:      "trace",
		Usage:     "Print a frame transcript",
		ArgsUsage: "FILE",
		Flags: append(ReadOnlyFlags(),
			&cli.StringFlag{
				Name:  "dir",
				Usage: "Only show frames in this direction: in or out",
			},
			&cli.StringFlag{
				Name:  "type",
				Usage: "Only show frames of this message type",
			},
		),
		Action: traceAction,
	}
}

func traceAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit(fmt.Sprintf("expected 1 argument, got %d", c.NArg()), exitUnexpected)
	}

	var dir trace.Direction
	switch d := trace.Direction(c.String("dir")); d {
	case "", trace.DirIn, trace.DirOut:
		dir = d
	default:
		return cli.Exit(fmt.Sprintf("invalid --dir %q (want in or out)", d), exitInvalidConfig)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	records, err := trace.ReadFile(c.Args().First())
	if err != nil {
		return err
	}

	msgType := c.String("type")
	filtered := make([]trace.Record, 0, len(records))
	for _, rec := range records {
		if dir != "" && rec.Dir != dir {
			continue
		}
		if msgType != "" && rec.Type != msgType {
			continue
		}
		filtered = append(filtered, rec)
	}
	return r.Render(filtered)
}
