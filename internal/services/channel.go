package services

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/taskmind/taskmind/internal/logger"
)

// readPollWindow bounds how long a Read blocks waiting for output. A
// short window keeps drain-loop cancellation prompt without spinning.
const readPollWindow = 100 * time.Millisecond

// Channel owns one pseudo-terminal pair and one child process. The child
// runs with the slave side as its controlling terminal; this side holds
// the master handle. The master handle is valid exactly as long as the
// channel is live.
type Channel struct {
	cmd  *exec.Cmd
	ptmx *os.File

	mu     sync.Mutex
	closed bool
}

// StartChannel allocates a pseudo-terminal and spawns command under it in
// its own session, with cwd as the working directory and env layered over
// the inherited environment. The terminal advertises itself as a color
// capable xterm so interactive CLIs render spinners and colors.
func StartChannel(command []string, cwd string, env map[string]string) (*Channel, error) {
	if len(command) == 0 {
		return nil, &SpawnError{Command: command, Err: errors.New("empty command")}
	}

	if cwd != "" {
		info, err := os.Stat(cwd)
		if err != nil || !info.IsDir() {
			return nil, fmt.Errorf("%w: %s", ErrWorkingDirectoryMissing, cwd)
		}
	}

	cmd := exec.Command(command[0], command[1:]...)
	cmd.Dir = cwd
	cmd.Env = append(os.Environ(),
		"TERM=xterm-256color",
		"COLORTERM=truecolor",
		"FORCE_COLOR=1",
	)
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, &SpawnError{Command: command, Err: err}
	}

	c := &Channel{cmd: cmd, ptmx: ptmx}
	_ = c.Resize(24, 80)

	return c, nil
}

// Pid returns the child process id.
func (c *Channel) Pid() int {
	return c.cmd.Process.Pid
}

// Read fills p with available output. It returns ErrNoData when the poll
// window elapses with the channel still live, and ErrChannelClosed once
// the channel is permanently closed. All OS-level read failures (EIO on
// slave close, closed handle) collapse into ErrChannelClosed; they are
// never retried.
func (c *Channel) Read(p []byte) (int, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return 0, ErrChannelClosed
	}

	_ = c.ptmx.SetReadDeadline(time.Now().Add(readPollWindow))
	n, err := c.ptmx.Read(p)
	if n > 0 {
		return n, nil
	}
	if err != nil && errors.Is(err, os.ErrDeadlineExceeded) {
		return 0, ErrNoData
	}
	return 0, ErrChannelClosed
}

// Write sends raw bytes to the terminal's master side. PTYs are full
// duplex, so ordering relative to concurrent reads is unspecified.
func (c *Channel) Write(p []byte) (int, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return 0, ErrChannelClosed
	}
	return c.ptmx.Write(p)
}

// Resize issues a window-size change. A no-op once the channel is closed.
func (c *Channel) Resize(rows, cols uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	if err := pty.Setsize(c.ptmx, &pty.Winsize{Rows: rows, Cols: cols}); err != nil {
		return fmt.Errorf("resize to %dx%d failed: %w", cols, rows, err)
	}
	return nil
}

// Stop closes the master handle, kills the child's process group, and
// reaps the process. Idempotent: stopping an already-stopped channel is a
// no-op. "No such process" from an already-exited child is suppressed.
func (c *Channel) Stop() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	_ = c.ptmx.Close()

	if c.cmd.Process != nil {
		// pty.Start put the child in its own session, so its pid doubles
		// as the process group id.
		if err := syscall.Kill(-c.cmd.Process.Pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
			logger.Debugf("kill of pty process group %d: %v", c.cmd.Process.Pid, err)
		}
		_ = c.cmd.Wait()
	}
}
