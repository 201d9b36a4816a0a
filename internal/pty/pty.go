// Package pty spawns and manages a single pseudo-terminal process, the unit
// a comacode session attaches its pumps to. Grounded on
// internal/egg/server.go's RunSession/readPTY/Resize/Kill, replacing its
// replay-buffer/cursor model with the bounded-channel backpressure the
// daemon's wire protocol relies on.
package pty

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/creack/pty"
)

// OutputChanCapacity bounds the channel readPTY's goroutine feeds. A full
// channel blocks the PTY reader goroutine, which is the daemon's sole
// backpressure mechanism — a slow client stalls shell output instead of
// losing bytes.
const OutputChanCapacity = 1024

// readChunkSize is the buffer size for each blocking PTY read.
const readChunkSize = 8192

// Size is a terminal's column/row dimensions.
type Size struct {
	Cols uint16
	Rows uint16
}

// Session wraps one spawned shell process and its PTY file descriptor.
type Session struct {
	cmd  *exec.Cmd
	ptmx *os.File

	Output chan []byte // closed when the PTY reader observes EOF

	alive    atomic.Bool
	exitCode atomic.Int32

	writeMu sync.Mutex
}

// Spawn starts shell (with args) attached to a new PTY of the given size,
// in the given working directory. The child inherits the current process's
// environment with TERM, COLUMNS and LINES set to match the PTY; env is
// appended after those, following RunSession's envMap-merging idiom, so its
// entries take precedence.
func Spawn(shell string, args []string, cwd string, size Size, env map[string]string) (*Session, error) {
	cmd := exec.Command(shell, args...)
	if cwd != "" {
		cmd.Dir = cwd
	}
	cmd.Env = append(os.Environ(),
		"TERM=xterm-256color",
		fmt.Sprintf("COLUMNS=%d", size.Cols),
		fmt.Sprintf("LINES=%d", size.Rows),
	)
	for k, v := range env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: size.Cols, Rows: size.Rows})
	if err != nil {
		return nil, fmt.Errorf("pty: spawn %s: %w", shell, err)
	}

	s := &Session{
		cmd:    cmd,
		ptmx:   ptmx,
		Output: make(chan []byte, OutputChanCapacity),
	}
	s.alive.Store(true)

	go s.readLoop()
	go s.waitLoop()

	return s, nil
}

// readLoop is the dedicated blocking reader: Read on a PTY master is a
// blocking syscall, so this goroutine's underlying OS thread parks for the
// duration of each read rather than occupying a worker-pool slot.
func (s *Session) readLoop() {
	defer close(s.Output)
	buf := make([]byte, readChunkSize)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.Output <- chunk // blocks here when the channel is full
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) waitLoop() {
	err := s.cmd.Wait()
	s.alive.Store(false)
	if err == nil {
		s.exitCode.Store(0)
		return
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		s.exitCode.Store(int32(exitErr.ExitCode()))
		return
	}
	s.exitCode.Store(-1)
}

// Write sends bytes to the PTY's stdin.
func (s *Session) Write(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.ptmx.Write(data)
	return err
}

// Resize changes the PTY's terminal dimensions.
func (s *Session) Resize(size Size) error {
	return pty.Setsize(s.ptmx, &pty.Winsize{Cols: size.Cols, Rows: size.Rows})
}

// IsAlive reports whether the underlying process has not yet exited.
func (s *Session) IsAlive() bool {
	return s.alive.Load()
}

// ExitCode returns the process's exit code. Only meaningful once IsAlive
// is false.
func (s *Session) ExitCode() int32 {
	return s.exitCode.Load()
}

// Kill terminates the underlying process and closes its PTY.
func (s *Session) Kill() error {
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	return s.ptmx.Close()
}
