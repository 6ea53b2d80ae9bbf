//go:build !unix

package proc

import "os/exec"

// Without process groups only the direct child is killed; WaitDelay still
// releases the caller.
func killGroupOnCancel(*exec.Cmd) {}
