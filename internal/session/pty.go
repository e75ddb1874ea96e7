// Package session implements the PTY session engine and session manager
// from spec §4.5–§4.6: spawning and driving a pseudo-terminal behind a
// dedicated blocking reader goroutine, and tracking the set of live
// sessions under a monotonic SessionId allocator.
package session

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/qterm/qterm/internal/wire"
)

// outputChanCapacity bounds the channel a PTY's reader goroutine feeds;
// once full, the reader blocks on sending, applying backpressure all the
// way back to the child process's own stdout writes (spec §4.5, §5).
const outputChanCapacity = 1024

// Config describes how to spawn a session's child process.
type Config struct {
	Shell string   // path to the shell/program to run; defaults to $SHELL
	Args  []string
	Dir   string
	Env   []string
	Rows  uint16
	Cols  uint16
}

// PTY drives one spawned pseudo-terminal: a dedicated blocking reader
// goroutine feeds both a bounded output channel (for immediate streaming
// to a connected client) and a bounded output ring (for Snapshot resync).
type PTY struct {
	ID uint64

	cmd  *exec.Cmd
	ptmx *os.File
	ring *outputRing

	Output chan []byte // bounded; consumer is the server connection handler

	mu       sync.Mutex
	rows     uint16
	cols     uint16
	done     chan struct{}
	exitErr  error
	exited   bool
	closedCh bool
}

// Spawn starts a new child process attached to a freshly allocated PTY,
// sized to cfg.Rows x cfg.Cols, and starts the background reader
// goroutine. The caller owns the returned PTY and must eventually call
// Kill to release resources even if the child has already exited.
func Spawn(id uint64, cfg Config) (*PTY, error) {
	shell := cfg.Shell
	if shell == "" {
		shell = os.Getenv("SHELL")
	}
	if shell == "" {
		shell = "/bin/sh"
	}

	cmd := exec.Command(shell, cfg.Args...)
	if cfg.Dir != "" {
		cmd.Dir = cfg.Dir
	}
	cmd.Env = cfg.Env
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = 5 * time.Second

	size := &pty.Winsize{Cols: cfg.Cols, Rows: cfg.Rows}
	ptmx, err := pty.StartWithSize(cmd, size)
	if err != nil {
		return nil, wire.WrapError(wire.ErrKindPtySpawn, "start pty", err)
	}

	p := &PTY{
		ID:     id,
		cmd:    cmd,
		ptmx:   ptmx,
		ring:   newOutputRing(),
		Output: make(chan []byte, outputChanCapacity),
		rows:   cfg.Rows,
		cols:   cfg.Cols,
		done:   make(chan struct{}),
	}

	go p.readLoop()
	go p.waitLoop()
	return p, nil
}

// readLoop is the dedicated blocking reader thread spec §4.5 requires:
// os.File.Read on a PTY master cannot be made non-blocking portably, so it
// runs on its own goroutine rather than sharing a reactor with network I/O.
func (p *PTY) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := p.ptmx.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			p.ring.Write(data)
			select {
			case p.Output <- data:
			case <-p.done:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (p *PTY) waitLoop() {
	err := p.cmd.Wait()
	p.mu.Lock()
	p.exited = true
	p.exitErr = err
	if !p.closedCh {
		p.closedCh = true
		close(p.done)
	}
	p.mu.Unlock()
}

// Write sends bytes to the child's stdin (Input messages, spec §6).
func (p *PTY) Write(data []byte) error {
	if _, err := p.ptmx.Write(data); err != nil {
		return wire.WrapError(wire.ErrKindTerminal, "write pty", err)
	}
	return nil
}

// Resize changes the PTY's terminal geometry (Resize messages, spec §6).
func (p *PTY) Resize(rows, cols uint16) error {
	if err := pty.Setsize(p.ptmx, &pty.Winsize{Rows: rows, Cols: cols}); err != nil {
		return wire.WrapError(wire.ErrKindTerminal, "resize pty", err)
	}
	p.mu.Lock()
	p.rows, p.cols = rows, cols
	p.mu.Unlock()
	return nil
}

// Geometry returns the PTY's current terminal size.
func (p *PTY) Geometry() (rows, cols uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rows, p.cols
}

// Snapshot returns a resync dump of recent output plus the geometry it
// was captured at, for RequestSnapshot/Snapshot (spec §6).
func (p *PTY) Snapshot() (data []byte, rows, cols uint16) {
	buf := p.ring.Snapshot()
	r, c := p.Geometry()
	return buf, r, c
}

// IsAlive reports whether the child process has not yet exited.
func (p *PTY) IsAlive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.exited
}

// Done returns a channel closed once the child process has exited.
func (p *PTY) Done() <-chan struct{} {
	return p.done
}

// Kill terminates the child gracefully (SIGTERM), waits briefly, and
// falls back to SIGKILL — mirrored from the teacher's shutdown sequence.
func (p *PTY) Kill() error {
	p.mu.Lock()
	alreadyExited := p.exited
	p.mu.Unlock()
	if alreadyExited {
		p.ptmx.Close()
		return nil
	}

	if p.cmd.Process != nil {
		_ = p.cmd.Process.Signal(syscall.SIGTERM)
	}

	select {
	case <-p.done:
	case <-time.After(3 * time.Second):
		if p.cmd.Process != nil {
			if err := p.cmd.Process.Kill(); err != nil {
				log.Printf("qterm/session: sigkill pid %v failed: %v", p.cmd.Process.Pid, err)
			}
		}
		<-p.done
	}
	return p.ptmx.Close()
}

// ExitError returns the error cmd.Wait() returned, if any, once the
// process has exited.
func (p *PTY) ExitError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

func (p *PTY) String() string {
	return fmt.Sprintf("pty[id=%d pid=%d]", p.ID, p.cmd.Process.Pid)
}
