// ABOUTME: Shell runs one command line through the platform shell with a timeout.
// ABOUTME: Output is stdout followed by a labelled stderr section when non-empty.

package capability

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"github.com/2389/outpost/internal/protocol"
)

// DefaultExecTimeout bounds execute_command.
const DefaultExecTimeout = 15 * time.Second

// waitDelay bounds how long Run waits for pipes after the process is killed;
// a grandchild holding stdout open would otherwise stall it.
const waitDelay = 2 * time.Second

// Shell executes command lines.
type Shell struct {
	Timeout time.Duration
}

// Run executes command and captures its output. A non-zero exit status is
// not an error; the caller sees whatever the command printed.
func (s Shell) Run(ctx context.Context, command string) (string, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultExecTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := shellCommand(runCtx, command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	err := cmd.Run()
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return "", protocol.ErrTimeout
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return "", protocol.OperationFailed("executing command", err)
		}
	}

	output := strings.ToValidUTF8(stdout.String(), "�")
	if stderr.Len() > 0 {
		output += "\nStderr:\n" + strings.ToValidUTF8(stderr.String(), "�")
	}
	return output, nil
}
