//go:build windows

package command

import (
	"os/exec"
)

// setProcessGroup is a no-op on Windows; cancellation kills the worker only.
func setProcessGroup(cmd *exec.Cmd) {}

// killProcessGroup terminates the worker process.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
