// Package proc starts external commands that can be stopped as a whole.
// A command runs in its own process group; when its context ends the
// group is killed, so children that inherited stdout cannot hold the
// caller past its deadline.
package proc

import (
	"context"
	"os/exec"
	"time"
)

// WaitDelay bounds how long Wait keeps reading output after the context
// ended and the group was killed.
const WaitDelay = time.Second

// Command is exec.CommandContext with process group cancellation.
func Command(ctx context.Context, path string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.WaitDelay = WaitDelay
	killGroupOnCancel(cmd)
	return cmd
}
