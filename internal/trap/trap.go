// Package trap models the kernel's single trap entry/exit path: the
// register save/restore that brackets every transition from user mode
// into supervisor mode and back.
//
// There is exactly one trap vector and exactly one handled cause
// (environment calls from user mode); anything else is fatal.
package trap

import (
	"fmt"

	"github.com/rvkernel/rvkernel/internal/kpanic"
	"github.com/rvkernel/rvkernel/internal/log"
)

// Cause identifies why control transferred from user mode to the trap
// handler, taken from the value latched into scause.
type Cause uint32

// The only cause this kernel handles. Any other value reaching Dispatch
// is fatal, matching the original's exhaustive switch of one.
const CauseEnvCallU Cause = 8

// Frame holds every general-purpose register saved across a trap, in the
// exact order kernel_entry pushes them onto the kernel stack and
// Return pops them back off. Field order matters: it is the layout a real
// save/restore sequence would also have to agree on between the two
// halves of the trampoline.
type Frame struct {
	RA uint32
	GP uint32
	TP uint32

	T0, T1, T2          uint32
	T3, T4, T5, T6      uint32
	A0, A1, A2, A3      uint32
	A4, A5, A6, A7      uint32
	S0, S1, S2, S3      uint32
	S4, S5, S6, S7      uint32
	S8, S9, S10, S11    uint32

	SP uint32
}

// Arg returns the value of argument register n (a0..a7).
func (f *Frame) Arg(n int) uint32 {
	switch n {
	case 0:
		return f.A0
	case 1:
		return f.A1
	case 2:
		return f.A2
	case 3:
		return f.A3
	case 4:
		return f.A4
	case 5:
		return f.A5
	case 6:
		return f.A6
	case 7:
		return f.A7
	default:
		panic(fmt.Sprintf("trap: invalid argument register a%d", n))
	}
}

// SetReturn writes a value into a0, the syscall ABI's return-value
// register.
func (f *Frame) SetReturn(v uint32) { f.A0 = v }

// Context is the single hart's supervisor-mode CSR state relevant to trap
// handling. The kernel never runs on more than one hart, so one Context
// per kernel instance is sufficient (spec's no-SMP non-goal).
type Context struct {
	SEPC    uint32 // Program counter at the time of the trap.
	SCAUSE  Cause  // Why the trap occurred.
	STVAL   uint32 // Trap-specific auxiliary value (bad address, etc).
	SSCRATCH uint32 // Kernel stack pointer, swapped with user SP on entry.
	SATP    uint32 // Active page table root, (mode<<31)|(ppn).
	SSTATUS uint32 // Previous-privilege and interrupt-enable bits.

	log *log.Logger
}

// NewContext returns a zeroed trap Context.
func NewContext() *Context {
	return &Context{log: log.DefaultLogger()}
}

// SSTATUS bits this kernel cares about.
const (
	SSTATUS_SPIE uint32 = 1 << 5 // Supervisor previous interrupt-enable.
	SSTATUS_SUM  uint32 = 1 << 18 // Supervisor access to user pages.
)

// Entry models kernel_entry: on a real trap it would swap sp/sscratch and
// push the register file onto the kernel stack. Here, it simply returns a
// fresh Frame capturing the user registers the caller snapshotted just
// before the trap, and swaps SSCRATCH to record that the kernel stack is
// now live.
func Entry(ctx *Context, user Frame) *Frame {
	f := user
	ctx.SSCRATCH, f.SP = f.SP, ctx.SSCRATCH

	return &f
}

// Return models the tail of kernel_entry: restoring the saved registers
// and handing control back to user mode at the (possibly advanced) sepc.
// It swaps sp/sscratch back, mirroring Entry.
func Return(ctx *Context, f *Frame) Frame {
	user := *f
	user.SP, ctx.SSCRATCH = ctx.SSCRATCH, user.SP

	return user
}

// Dispatch decides what to do with a trap given the context's latched
// scause. It advances sepc past the ecall instruction on success, exactly
// as handle_trap does, and returns a kpanic error for any other cause.
//
// handle is called only when the cause is CauseEnvCallU; it receives f so
// the caller can run syscall dispatch without this package needing to
// know about processes or the syscall ABI.
func Dispatch(ctx *Context, f *Frame, handle func(*Frame) error) error {
	switch ctx.SCAUSE {
	case CauseEnvCallU:
		if err := handle(f); err != nil {
			return err
		}

		ctx.SEPC += 4

		return nil
	default:
		return kpanic.Panic("unexpected trap scause=%#x, stval=%#x, sepc=%#x",
			uint32(ctx.SCAUSE), ctx.STVAL, ctx.SEPC)
	}
}
