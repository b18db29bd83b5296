//go:build !unix

package runtime

import "os/exec"

// configureProcess keeps the exec.CommandContext default of killing the
// process on cancellation.
func configureProcess(*exec.Cmd) {}
