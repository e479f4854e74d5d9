package launch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/mattjoyce/accel/internal/log"
)

//go:generate mockgen -destination=mocks/mock_launch.go -package=mocks github.com/mattjoyce/accel/internal/launch Runner,Spawner

// terminationGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
const terminationGracePeriod = 10 * time.Second

// Runner executes a child command and reports its exit code.
// An error means the child could not be run at all.
type Runner interface {
	Run(ctx context.Context, cmd Command) (int, error)
}

// ExecRunner runs commands as OS processes wired to the given stdio.
// Cancelling ctx forwards SIGTERM to the child, then SIGKILL after GracePeriod.
type ExecRunner struct {
	Stdin       io.Reader
	Stdout      io.Writer
	Stderr      io.Writer
	GracePeriod time.Duration

	logger *slog.Logger
}

// NewExecRunner returns a runner attached to the current process's stdio.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{
		Stdin:       os.Stdin,
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
		GracePeriod: terminationGracePeriod,
		logger:      log.WithComponent("runner"),
	}
}

func (r *ExecRunner) Run(ctx context.Context, c Command) (int, error) {
	if len(c.Args) == 0 {
		return 0, fmt.Errorf("no command provided")
	}
	logger := r.logger
	if logger == nil {
		logger = log.WithComponent("runner")
	}

	// Not CommandContext: termination is escalated by hand below.
	cmd := exec.Command(c.Args[0], c.Args[1:]...)
	cmd.Env = c.Env
	cmd.Stdin = r.Stdin
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start process: %w", err)
	}
	logger.Debug("child started", "pid", cmd.Process.Pid, "command", c.String())

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	select {
	case err := <-waitErr:
		return exitCode(err)

	case <-ctx.Done():
		logger.Warn("launch cancelled, sending SIGTERM to child", "pid", cmd.Process.Pid)
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			logger.Error("failed to send SIGTERM", "error", err)
		}

		grace := r.GracePeriod
		if grace <= 0 {
			grace = terminationGracePeriod
		}
		timer := time.NewTimer(grace)
		defer timer.Stop()

		select {
		case err := <-waitErr:
			logger.Info("child exited after SIGTERM")
			return exitCode(err)
		case <-timer.C:
			logger.Warn("child did not exit after SIGTERM, sending SIGKILL", "pid", cmd.Process.Pid)
			if err := cmd.Process.Kill(); err != nil {
				logger.Error("failed to send SIGKILL", "error", err)
			}
			return exitCode(<-waitErr)
		}
	}
}

// exitCode maps a Wait error to a shell-style exit status.
// Signal deaths become 128+signal.
func exitCode(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return 0, fmt.Errorf("wait for process: %w", err)
	}
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return 128 + int(status.Signal()), nil
	}
	return exitErr.ExitCode(), nil
}
