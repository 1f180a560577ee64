package kernel

import (
	"context"
	"testing"
	"time"

	"github.com/rvkernel/rvkernel/internal/sbi"
	"github.com/rvkernel/rvkernel/internal/syscall"
	"github.com/rvkernel/rvkernel/internal/trap"
)

// scriptedTrapSource replays a fixed sequence of traps for a single PID,
// then reports ok=false, modeling a shell program that makes a few
// syscalls and then falls off the end of its code without an explicit
// SYS_EXIT.
type scriptedTrapSource struct {
	pid    int32
	frames []trap.Frame
	i      int
}

func (s *scriptedTrapSource) NextTrap(pid int32) (trap.Frame, trap.Cause, bool) {
	if pid != s.pid || s.i >= len(s.frames) {
		return trap.Frame{}, 0, false
	}

	f := s.frames[s.i]
	s.i++

	return f, trap.CauseEnvCallU, true
}

func TestKernel_Boot(tt *testing.T) {
	tt.Parallel()

	k := New(WithProcTableSize(4), WithFileTableSize(2))

	if err := k.Boot(context.Background(), []byte{0x01, 0x02, 0x03}); err != nil {
		tt.Fatal(err)
	}

	if k.Sched.Current().PID != 2 {
		tt.Fatalf("after boot, current PID = %d, want 2 (shell)", k.Sched.Current().PID)
	}
}

func TestKernel_Run_PutcharThenExit(tt *testing.T) {
	tt.Parallel()

	bridge := sbi.NewFakeBridge("")
	k := New(WithProcTableSize(4), WithFileTableSize(2), WithSBI(bridge))

	if err := k.Boot(context.Background(), []byte{0x00}); err != nil {
		tt.Fatal(err)
	}

	shellPID := k.Sched.Current().PID

	source := &scriptedTrapSource{
		pid: shellPID,
		frames: []trap.Frame{
			{A0: uint32('h'), A3: uint32(syscall.Putchar)},
			{A0: uint32('i'), A3: uint32(syscall.Putchar)},
			{A3: uint32(syscall.Exit)},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := k.Run(ctx, source); err != nil {
		tt.Fatal(err)
	}

	if got := bridge.Out.String(); got != "hi" {
		tt.Fatalf("console output = %q, want %q", got, "hi")
	}

	if k.Sched.Current().PID != -1 {
		tt.Fatalf("after the shell exits, current PID = %d, want idle (-1)", k.Sched.Current().PID)
	}
}

func TestKernel_Run_CancelledContext(tt *testing.T) {
	tt.Parallel()

	k := New(WithProcTableSize(4), WithFileTableSize(2))

	if err := k.Boot(context.Background(), []byte{0x00}); err != nil {
		tt.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	source := &scriptedTrapSource{pid: k.Sched.Current().PID}

	if err := k.Run(ctx, source); err == nil {
		tt.Fatal("expected an error from a cancelled context")
	}
}
