package streamer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"
)

const (
	// maxEmptyReads is the number of consecutive empty output lines
	// tolerated before the stream is treated as stuck. A dead pipeline
	// can keep its stream open without ever signalling closure; the
	// counter forces a restart instead of hanging forever.
	maxEmptyReads = 100

	// killTimeout is how long terminate waits after SIGTERM before
	// escalating to SIGKILL.
	killTimeout = time.Second
)

// errStreamStalled marks the degenerate-stream restart path.
var errStreamStalled = errors.New("streamer output stream stalled")

// runOnce launches the resolved command and supervises it until the
// process exits, its output stream stalls, or the context is
// cancelled. It always returns a non-nil error: a pipeline that is
// expected to run forever has no normal exit, so even a clean exit is
// reported as unexpected. On every exit path any live process is
// killed before returning.
func (s *Streamer) runOnce(ctx context.Context, argv []string) error {
	cmd := exec.Command(argv[0], argv[1:]...) //nolint:gosec // argv comes from validated operator configuration

	// Own process group so terminate can signal the whole tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// Merge stderr into stdout through a single pipe for line reading.
	pr, pw, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("creating output pipe: %w", err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pr.Close() //nolint:errcheck // Best effort cleanup on error path
		pw.Close() //nolint:errcheck // Best effort cleanup on error path
		return fmt.Errorf("starting streamer process: %w", err)
	}

	// The child holds its own copy of the write end; closing ours lets
	// the read side see EOF when the child exits.
	pw.Close() //nolint:errcheck // Child keeps its duplicate
	defer pr.Close() //nolint:errcheck // Unblocks the reader goroutine

	pid := cmd.Process.Pid
	s.logger.Info("streamer process started", "pid", pid, "command", argv)

	s.statsMu.Lock()
	s.pid = pid
	s.statsMu.Unlock()

	if s.cfg.Hooks.ProcessStarted != nil {
		s.cfg.Hooks.ProcessStarted(pid, s.currentDevice())
	}

	exitCh := make(chan error, 1)
	go func() {
		exitCh <- cmd.Wait()
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(pr)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	emptyReads := 0
	for {
		select {
		case <-ctx.Done():
			s.terminate(cmd, exitCh)
			return ctx.Err()

		case err := <-exitCh:
			s.logger.Warn("streamer process exited unexpectedly",
				"pid", pid,
				"result", exitResult(err),
			)
			return fmt.Errorf("streamer process exited unexpectedly (%s)", exitResult(err))

		case line, ok := <-lines:
			if !ok {
				// Stream closed. The usual cause is the child exiting,
				// so give the exit status a short grace window before
				// treating the closure as a wedged process.
				select {
				case err := <-exitCh:
					s.logger.Warn("streamer process exited unexpectedly",
						"pid", pid,
						"result", exitResult(err),
					)
					return fmt.Errorf("streamer process exited unexpectedly (%s)", exitResult(err))
				case <-ctx.Done():
					s.terminate(cmd, exitCh)
					return ctx.Err()
				case <-time.After(killTimeout):
				}
				s.logger.Error("streamer output closed with process still alive, forcing restart",
					"pid", pid,
				)
				s.terminate(cmd, exitCh)
				return errStreamStalled
			}
			if line == "" {
				emptyReads++
				if emptyReads >= maxEmptyReads {
					s.logger.Error("streamer output stalled, forcing restart",
						"pid", pid,
						"empty_reads", emptyReads,
					)
					s.terminate(cmd, exitCh)
					return errStreamStalled
				}
				continue
			}
			emptyReads = 0
			s.logger.Info("streamer output", "pid", pid, "line", line)
		}
	}
}

// terminate stops the process group with escalation: SIGTERM, a
// bounded wait, then SIGKILL. A process that exits between the signal
// attempts is success, not an error. Killing is a best-effort terminal
// action; failures are logged and never propagated.
func (s *Streamer) terminate(cmd *exec.Cmd, exitCh <-chan error) {
	if cmd.Process == nil {
		return
	}
	pid := cmd.Process.Pid

	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		s.logger.Warn("failed to send SIGTERM to streamer process group",
			"pid", pid,
			"error", err,
		)
	}

	select {
	case err := <-exitCh:
		s.logger.Info("streamer process terminated", "pid", pid, "result", exitResult(err))
		return
	case <-time.After(killTimeout):
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		s.logger.Error("failed to kill streamer process group",
			"pid", pid,
			"error", err,
		)
	}

	err := <-exitCh
	s.logger.Info("streamer process killed", "pid", pid, "result", exitResult(err))
}

// exitResult renders a Wait result for logging.
func exitResult(err error) string {
	if err == nil {
		return "exit code 0"
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.String()
	}
	return err.Error()
}

// currentDevice returns the device node of the current cycle.
func (s *Streamer) currentDevice() string {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.device
}
