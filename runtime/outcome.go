package runtime

import "fmt"

// OutcomeKind classifies how an editor session ended.
type OutcomeKind int

const (
	// OutcomeSuccess means the editor exited with status 0.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeNotFound means the editor executable could not be found.
	OutcomeNotFound
	// OutcomeNonZeroExit means the editor exited with a non-zero status or
	// was killed by a signal.
	OutcomeNonZeroExit
	// OutcomeLaunchFailed means the executable exists but could not be
	// started (permissions, bad format).
	OutcomeLaunchFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeNonZeroExit:
		return "non_zero_exit"
	case OutcomeLaunchFailed:
		return "launch_failed"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// ExitOutcome is the result of one editor run. It is never retried.
type ExitOutcome struct {
	Kind OutcomeKind
	// Editor is the command that was run (argv[0]).
	Editor string
	// Code is the exit status for OutcomeNonZeroExit; -1 when the process
	// was killed by a signal.
	Code int
	// Err is the launch error for OutcomeNotFound and OutcomeLaunchFailed.
	Err error
}

// Message returns the error text reported to the extension, or "" on
// success.
func (o ExitOutcome) Message() string {
	switch o.Kind {
	case OutcomeSuccess:
		return ""
	case OutcomeNotFound:
		return fmt.Sprintf("could not find editor '%s'", o.Editor)
	case OutcomeNonZeroExit:
		return fmt.Sprintf("editor '%s' did not exit successfully", o.Editor)
	case OutcomeLaunchFailed:
		if o.Err != nil {
			return fmt.Sprintf("could not start editor '%s': %v", o.Editor, o.Err)
		}
		return fmt.Sprintf("could not start editor '%s'", o.Editor)
	default:
		return fmt.Sprintf("editor '%s' ended with unknown outcome", o.Editor)
	}
}
