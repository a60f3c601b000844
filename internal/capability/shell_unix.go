//go:build unix

// ABOUTME: Unix shell launch: sh -c in its own process group.
// ABOUTME: Cancellation kills the whole group so pipelines do not linger.

package capability

import (
	"context"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

func shellCommand(ctx context.Context, command string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
	return cmd
}
