package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

const defaultBashTimeout = 120 * time.Second

type bashInput struct {
	Command string `json:"command"`
	Timeout int    `json:"timeout,omitempty"` // seconds
}

func (e *Executor) bash(ctx context.Context, workdir string, input json.RawMessage) Result {
	var in bashInput
	if err := json.Unmarshal(input, &in); err != nil {
		return fail("invalid bash input: %v", err)
	}
	if strings.TrimSpace(in.Command) == "" {
		return fail("bash requires a command")
	}

	timeout := defaultBashTimeout
	if in.Timeout > 0 {
		timeout = time.Duration(in.Timeout) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "bash", "-c", in.Command)
	cmd.Dir = workdir
	// Own process group so the whole tree dies on timeout, not just bash.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	out, err := cmd.CombinedOutput()
	output := strings.TrimRight(string(out), "\n")

	if ctx.Err() == context.DeadlineExceeded {
		return fail("command timed out after %s", timeout)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// A non-zero exit is a result for the model, not an execution
			// failure.
			text := fmt.Sprintf("Command exited with code %d", exitErr.ExitCode())
			if output != "" {
				text += "\n" + output
			}
			return ok(text)
		}
		return fail("running command: %v", err)
	}

	if output == "" {
		output = "(no output)"
	}
	return ok(output)
}
