// Package proc implements process lifecycle and cooperative scheduling:
// a fixed-size process table, construction of a process's address space,
// and the round-robin yield that is this kernel's entire scheduler.
package proc

//go:generate stringer -type=State

import (
	"encoding/binary"

	"github.com/rvkernel/rvkernel/internal/kpanic"
	"github.com/rvkernel/rvkernel/internal/mem"
)

// KernelStackSize is the size, in bytes, of each process's kernel stack.
const KernelStackSize = 8192

// UserBase is the virtual address a process's image is mapped at.
const UserBase = mem.Addr(0x1000000)

// State is a process's position in its lifecycle.
type State int

const (
	Unused State = iota
	Runnable
	Exited
)

// IdlePID is the PID the idle process is given after creation. Yield
// falls back to whichever process holds it when no other slot is
// runnable; it is never reached by the normal round-robin scan since
// that scan only considers PID > 0.
const IdlePID = -1

// Registers are the callee-saved registers switch_context preserves
// across a context switch: ra and s0 through s11, thirteen words, in the
// exact order they are pushed and popped.
type Registers struct {
	RA                                      uint32
	S0, S1, S2, S3, S4, S5, S6, S7          uint32
	S8, S9, S10, S11                        uint32
}

// registerCount is the number of words in a Registers frame.
const registerCount = 13

// Process holds everything needed to resume a process's execution: its
// kernel stack, the saved offset into it where the last Switch left its
// register frame, and the root of its page table.
type Process struct {
	PID   int32
	State State

	// SP is the byte offset into Stack of this process's saved
	// Registers frame, as left by the last Switch out of this process.
	SP uint32

	PageTableAddr mem.Addr
	PageTable     *mem.Table

	// Started is false until the first Switch into this process. The
	// scheduler uses it to decide whether a switch-in is the one that
	// must run the user-mode trampoline rather than merely resuming a
	// previously-trapped process.
	Started bool

	Stack [KernelStackSize]byte
}

// saveRegisters writes regs to the frame at offset off in the process's
// stack.
func (p *Process) saveRegisters(off uint32, regs Registers) {
	words := [registerCount]uint32{
		regs.RA, regs.S0, regs.S1, regs.S2, regs.S3, regs.S4, regs.S5, regs.S6,
		regs.S7, regs.S8, regs.S9, regs.S10, regs.S11,
	}

	for i, w := range words {
		binary.LittleEndian.PutUint32(p.Stack[off+uint32(i*4):], w)
	}
}

// loadRegisters reads the frame at offset off out of the process's stack.
func (p *Process) loadRegisters(off uint32) Registers {
	var words [registerCount]uint32

	for i := range words {
		words[i] = binary.LittleEndian.Uint32(p.Stack[off+uint32(i*4):])
	}

	return Registers{
		RA: words[0],
		S0: words[1], S1: words[2], S2: words[3], S3: words[4],
		S4: words[5], S5: words[6], S6: words[7], S7: words[8],
		S8: words[9], S9: words[10], S10: words[11], S11: words[12],
	}
}

// Table is a fixed-size collection of process slots, matching the
// original's PROCS_MAX-sized array: processes are never dynamically
// allocated or freed, only marked Unused/Runnable/Exited in place.
type Table struct {
	slots  []Process
	mapper *mem.Mapper

	kernelBase, kernelEnd mem.Addr
	virtioAddr            mem.Addr

	userEntry uint32
}

// NewTable creates a Table with the given number of slots. kernelBase and
// kernelEnd bound the region identity-mapped into every process (the
// kernel image plus free RAM); virtioAddr is the single device page
// mapped alongside it. userEntry is the address every created process's
// saved ra resumes at on its first switch-in: the kernel-to-user
// trampoline.
func NewTable(size int, mapper *mem.Mapper, kernelBase, kernelEnd, virtioAddr mem.Addr, userEntry uint32) *Table {
	return &Table{
		slots:      make([]Process, size),
		mapper:     mapper,
		kernelBase: kernelBase,
		kernelEnd:  kernelEnd,
		virtioAddr: virtioAddr,
		userEntry:  userEntry,
	}
}

// Len returns the number of process slots in the table.
func (t *Table) Len() int { return len(t.slots) }

// At returns the process occupying slot i.
func (t *Table) At(i int) *Process { return &t.slots[i] }

// Create finds a free slot, builds a fresh kernel-stack frame whose
// callee-saved registers are all zero and whose return address resumes
// at the user-mode trampoline, allocates and populates that slot's page
// table (kernel identity map, device page, then the image itself), and
// marks the slot Runnable.
//
// The returned PID is the slot index plus one, so PID 0 never occurs for
// a created process.
func (t *Table) Create(image []byte) (*Process, error) {
	idx := -1

	for i := range t.slots {
		if t.slots[i].State == Unused {
			idx = i

			break
		}
	}

	if idx == -1 {
		return nil, kpanic.Panic("no free process slots")
	}

	proc := &t.slots[idx]
	*proc = Process{}

	frameOff := uint32(KernelStackSize - registerCount*4)
	proc.saveRegisters(frameOff, Registers{RA: t.userEntry})

	rootAddr, root, err := t.mapper.NewRootTable()
	if err != nil {
		return nil, err
	}

	if err := t.mapper.IdentityMapKernel(rootAddr, root, t.kernelBase, t.kernelEnd); err != nil {
		return nil, err
	}

	if err := t.mapper.MapDevice(rootAddr, root, t.virtioAddr); err != nil {
		return nil, err
	}

	if err := t.mapper.MapImage(rootAddr, root, UserBase, image); err != nil {
		return nil, err
	}

	proc.PID = int32(idx) + 1
	proc.State = Runnable
	proc.SP = frameOff
	proc.PageTableAddr = rootAddr
	proc.PageTable = root

	return proc, nil
}

// Idle marks a slot as the permanently-runnable idle process and returns
// it. It is created the same way as any other process, from an empty
// image, then its PID is overwritten to IdlePID so Yield never selects it
// except as the fallback.
func (t *Table) Idle() (*Process, error) {
	proc, err := t.Create(nil)
	if err != nil {
		return nil, err
	}

	proc.PID = IdlePID

	return proc, nil
}
