package sbi

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/rvkernel/rvkernel/internal/log"
)

// ErrNoTTY is returned if standard input is not a terminal, in which case
// Console cannot put the descriptor into raw, non-blocking mode.
var ErrNoTTY = errors.New("sbi: not a TTY")

// Console is a Bridge backed by the process's own controlling terminal,
// put into raw mode so the kernel sees every keystroke immediately and
// unbuffered, exactly as a real SBI console would deliver them.
type Console struct {
	in  *os.File
	out *os.File
	fd  int

	state *term.State

	log *log.Logger
}

// NewConsole creates a Console using the given streams. sin must be a
// terminal or ErrNoTTY is returned. Callers must call Restore to return
// the terminal to its original state.
func NewConsole(sin, sout *os.File) (*Console, error) {
	fd := int(sin.Fd())

	if !term.IsTerminal(fd) {
		return nil, ErrNoTTY
	}

	saved, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoTTY, err)
	}

	c := &Console{
		in:    sin,
		out:   sout,
		fd:    fd,
		state: saved,
		log:   log.DefaultLogger(),
	}

	if err := c.setTerminalParams(0, 0); err != nil {
		_ = term.Restore(fd, saved)

		return nil, err
	}

	return c, nil
}

// setTerminalParams configures VMIN/VTIME and non-blocking reads so
// Getchar can poll for a byte instead of blocking the caller, matching
// the legacy SBI getchar contract of returning immediately when no
// character is pending.
func (c *Console) setTerminalParams(vmin, vtime byte) error {
	termIO, err := unix.IoctlGetTermios(c.fd, getTermiosIoctl)
	if err != nil {
		return err
	}

	termIO.Cc[unix.VMIN] = vmin
	termIO.Cc[unix.VTIME] = vtime

	if err := unix.IoctlSetTermios(c.fd, setTermiosIoctl, termIO); err != nil {
		return err
	}

	return syscall.SetNonblock(c.fd, true)
}

// Restore returns the terminal to its state prior to NewConsole.
func (c *Console) Restore() error {
	return term.Restore(c.fd, c.state)
}

// Putchar writes ch to the console.
func (c *Console) Putchar(ch byte) error {
	_, err := c.out.Write([]byte{ch})

	return err
}

// Getchar reads one byte without blocking. ok is false when the
// descriptor currently has nothing to read (EAGAIN), which the
// non-blocking mode set up in NewConsole makes an ordinary, expected
// outcome rather than an error.
func (c *Console) Getchar() (byte, bool) {
	buf := make([]byte, 1)

	n, err := c.in.Read(buf)
	if err != nil || n == 0 {
		return 0, false
	}

	return buf[0], true
}
