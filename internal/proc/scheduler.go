package proc

import (
	"github.com/rvkernel/rvkernel/internal/mem"
	"github.com/rvkernel/rvkernel/internal/trap"
)

// Scheduler runs the kernel's entire scheduling policy: round-robin over
// a Table, no preemption, no priorities.
type Scheduler struct {
	table   *Table
	current *Process
	idle    *Process
	regs    Registers
}

// NewScheduler creates a Scheduler over table, starting with current as
// the running process and idle as the fallback process run when nothing
// else is runnable.
func NewScheduler(table *Table, current, idle *Process) *Scheduler {
	return &Scheduler{table: table, current: current, idle: idle}
}

// Current returns the currently running process.
func (s *Scheduler) Current() *Process { return s.current }

// Yield picks the next runnable process after current, round-robin, and
// switches to it. If no other process is runnable it falls back to the
// idle process. If the selected process is already current, Yield is a
// no-op, exactly as the original returns early rather than switching a
// process to itself.
func (s *Scheduler) Yield(ctx *trap.Context) {
	next := s.idle

	n := s.table.Len()

	for i := 0; i < n; i++ {
		idx := (int(s.current.PID) + i) % n
		if idx < 0 {
			idx += n
		}

		proc := s.table.At(idx)
		if proc.State == Runnable && proc.PID > 0 {
			next = proc

			break
		}
	}

	if next == s.current {
		return
	}

	prev := s.current
	s.current = next

	ctx.SATP = satpSv32(next.PageTableAddr)
	ctx.SSCRATCH = uint32(len(next.Stack))

	s.Switch(prev, next)

	if !next.Started {
		next.Started = true
		Trampoline(ctx, uint32(UserBase))
	}
}

// satpModeSv32 is the satp mode bit selecting Sv32 paging.
const satpModeSv32 = 1 << 31

// satpSv32 builds the satp CSR value for the page table at root: Sv32
// mode with the table's page number in the low bits.
func satpSv32(root mem.Addr) uint32 {
	return satpModeSv32 | uint32(root)/mem.PageSize
}

// Switch saves the scheduler's current register bank into prev's stack
// frame and loads next's frame into the bank, modeling switch_context's
// save-then-restore. It is the only place register state crosses between
// two Process values.
func (s *Scheduler) Switch(prev, next *Process) {
	prev.saveRegisters(prev.SP, s.regs)
	s.regs = next.loadRegisters(next.SP)
}

// Trampoline models user_entry: the leaf of a process's first switch-in,
// which sets sepc to the process's entry point and sstatus so sret drops
// into user mode with interrupts re-enabled and supervisor access to
// user pages allowed (needed by the syscall handler to read/write user
// buffers directly).
func Trampoline(ctx *trap.Context, entry uint32) {
	ctx.SEPC = entry
	ctx.SSTATUS = trap.SSTATUS_SPIE | trap.SSTATUS_SUM
}
