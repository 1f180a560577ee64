// Package syscall dispatches the five system calls this kernel's user
// programs can make, decoded from a trapped frame's a3 register.
package syscall

//go:generate stringer -type=Num

import (
	"context"

	"github.com/rvkernel/rvkernel/internal/kpanic"
	"github.com/rvkernel/rvkernel/internal/mem"
	"github.com/rvkernel/rvkernel/internal/proc"
	"github.com/rvkernel/rvkernel/internal/sbi"
	"github.com/rvkernel/rvkernel/internal/tarfs"
	"github.com/rvkernel/rvkernel/internal/trap"
)

// Num identifies a system call, carried in a trap frame's a3 register.
type Num uint32

const (
	Putchar   Num = 1
	Getchar   Num = 2
	Exit      Num = 3
	Readfile  Num = 4
	Writefile Num = 5
)

// Dispatcher handles every trapped ecall from user mode. It is the one
// place the kernel's subsystems — the console bridge, the memory mapper,
// the process table and scheduler, and the file store — meet.
type Dispatcher struct {
	SBI    sbi.Bridge
	Mem    *mem.Allocator
	Mapper *mem.Mapper
	Procs  *proc.Table
	Sched  *proc.Scheduler
	FS     *tarfs.Store
}

// NewDispatcher creates a Dispatcher over the given subsystems.
func NewDispatcher(b sbi.Bridge, alloc *mem.Allocator, mapper *mem.Mapper, procs *proc.Table, sched *proc.Scheduler, fs *tarfs.Store) *Dispatcher {
	return &Dispatcher{SBI: b, Mem: alloc, Mapper: mapper, Procs: procs, Sched: sched, FS: fs}
}

// Handle dispatches on f.Arg(3), exactly as handle_syscall switches on
// a3.
func (d *Dispatcher) Handle(ctx *trap.Context, f *trap.Frame) error {
	switch Num(f.Arg(3)) {
	case Putchar:
		return d.SBI.Putchar(byte(f.Arg(0)))

	case Getchar:
		for {
			if ch, ok := d.SBI.Getchar(); ok {
				f.SetReturn(uint32(ch))

				return nil
			}

			d.Sched.Yield(ctx)
		}

	case Exit:
		d.Sched.Current().State = proc.Exited
		d.Sched.Yield(ctx)

		return nil

	case Readfile:
		return d.readWriteFile(f, false)

	case Writefile:
		return d.readWriteFile(f, true)

	default:
		return kpanic.Panic("unexpected syscall a3=%#x", f.Arg(3))
	}
}

// readWriteFile implements SYS_READFILE and SYS_WRITEFILE. The length
// clamp matches the original literally: a single rule, applied before
// branching on direction — if the requested length exceeds the file
// data buffer's fixed capacity, the length actually used is clamped to
// the file's *current* size rather than to the buffer capacity.
func (d *Dispatcher) readWriteFile(f *trap.Frame, write bool) error {
	name := d.cStringIn(f.Arg(0))

	file := d.FS.Lookup(name)
	if file == nil {
		f.SetReturn(0xffffffff)

		return nil
	}

	length := int(f.Arg(2))
	if length > tarfs.MaxFileSize {
		length = file.Size
	}

	if write {
		d.copyIn(file.Data[:length], f.Arg(1))
		file.Size = length
		file.InUse = true

		if err := d.FS.Flush(context.Background()); err != nil {
			return err
		}
	} else {
		d.copyOut(f.Arg(1), file.Data[:length])
	}

	f.SetReturn(uint32(length))

	return nil
}

// currentRoot returns the in-memory root page table of the process the
// scheduler is currently running, the table every copyIn/copyOut/
// cStringIn translation walks.
func (d *Dispatcher) currentRoot() *mem.Table {
	return d.Sched.Current().PageTable
}

// copyIn copies len(dst) bytes of user memory starting at vaddr into
// dst, translating page by page. A translation failure for any page
// stops the copy and leaves the remainder of dst unchanged, since there is no pointer-
// permission check to reject the syscall earlier, per this kernel's own
// non-goal.
func (d *Dispatcher) copyIn(dst []byte, vaddr uint32) {
	root := d.currentRoot()
	offset := 0

	for offset < len(dst) {
		va := mem.Addr(vaddr) + mem.Addr(offset)

		paddr, err := d.Mapper.Translate(root, va)
		if err != nil {
			return
		}

		pageOff := int(va % mem.PageSize)
		chunk := int(mem.PageSize) - pageOff

		if remaining := len(dst) - offset; chunk > remaining {
			chunk = remaining
		}

		copy(dst[offset:offset+chunk], d.Mem.Bytes(paddr, chunk))
		offset += chunk
	}
}

// copyOut is copyIn's mirror: it copies src into user memory starting
// at vaddr.
func (d *Dispatcher) copyOut(vaddr uint32, src []byte) {
	root := d.currentRoot()
	offset := 0

	for offset < len(src) {
		va := mem.Addr(vaddr) + mem.Addr(offset)

		paddr, err := d.Mapper.Translate(root, va)
		if err != nil {
			return
		}

		pageOff := int(va % mem.PageSize)
		chunk := int(mem.PageSize) - pageOff

		if remaining := len(src) - offset; chunk > remaining {
			chunk = remaining
		}

		copy(d.Mem.Bytes(paddr, chunk), src[offset:offset+chunk])
		offset += chunk
	}
}

// cStringIn reads a NUL-terminated string out of user memory starting
// at vaddr, one byte at a time, stopping at the first NUL or at
// tarfs.MaxNameLength, whichever comes first.
func (d *Dispatcher) cStringIn(vaddr uint32) string {
	root := d.currentRoot()
	buf := make([]byte, 0, tarfs.MaxNameLength)

	for i := 0; i < tarfs.MaxNameLength; i++ {
		va := mem.Addr(vaddr) + mem.Addr(i)

		paddr, err := d.Mapper.Translate(root, va)
		if err != nil {
			break
		}

		b := d.Mem.Bytes(paddr, 1)[0]
		if b == 0 {
			break
		}

		buf = append(buf, b)
	}

	return string(buf)
}
