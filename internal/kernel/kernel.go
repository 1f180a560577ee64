// Package kernel wires the mapper, process table, scheduler, block
// device, file store, and syscall dispatcher into the single owned
// value the rest of the program runs against, and drives its boot
// sequence and trap loop.
package kernel

import (
	"context"
	"fmt"

	"github.com/rvkernel/rvkernel/internal/log"
	"github.com/rvkernel/rvkernel/internal/mem"
	"github.com/rvkernel/rvkernel/internal/proc"
	"github.com/rvkernel/rvkernel/internal/sbi"
	"github.com/rvkernel/rvkernel/internal/syscall"
	"github.com/rvkernel/rvkernel/internal/tarfs"
	"github.com/rvkernel/rvkernel/internal/trap"
	"github.com/rvkernel/rvkernel/internal/virtio"
)

// Defaults matching the original's fixed constants, carried here instead
// of as package-level globals per this package's design note: prefer a
// single owned value, threaded through explicit references, over
// free-standing mutable state.
const (
	DefaultProcsMax  = 8
	DefaultFilesMax  = 2
	DefaultFreeRAM   = 64 * mem.PageSize
	defaultVirtioMMIO = mem.Addr(0x10001000)
)

// Kernel is the single composition root: every subsystem this program
// runs is reachable from here, and only from here.
type Kernel struct {
	Mem    *mem.Allocator
	Mapper *mem.Mapper
	Procs  *proc.Table
	Sched  *proc.Scheduler
	Disk   virtio.BlockDevice
	FS     *tarfs.Store
	SBI    sbi.Bridge
	Sys    *syscall.Dispatcher

	ctx *trap.Context
	log *log.Logger

	kernelBase, kernelEnd mem.Addr
	virtioAddr            mem.Addr
	userEntry             uint32

	procsMax int
	filesMax int
	sectors  int
}

// Option configures a Kernel during New.
type Option func(*Kernel)

// WithProcTableSize overrides the number of process slots, PROCS_MAX in
// the original.
func WithProcTableSize(n int) Option { return func(k *Kernel) { k.procsMax = n } }

// WithFileTableSize overrides the number of file slots, FILES_MAX in the
// original.
func WithFileTableSize(n int) Option { return func(k *Kernel) { k.filesMax = n } }

// WithDiskSectors overrides the number of sectors the file store reads
// and writes on Load/Flush.
func WithDiskSectors(n int) Option { return func(k *Kernel) { k.sectors = n } }

// WithSBI overrides the firmware console bridge; defaults to a
// FakeBridge so a Kernel is usable without a real terminal attached.
func WithSBI(b sbi.Bridge) Option { return func(k *Kernel) { k.SBI = b } }

// WithBlockDevice overrides the backing block device; defaults to an
// in-memory FakeBlockDevice.
func WithBlockDevice(dev virtio.BlockDevice) Option { return func(k *Kernel) { k.Disk = dev } }

// WithLogger overrides the kernel's logger.
func WithLogger(l *log.Logger) Option { return func(k *Kernel) { k.log = l } }

// WithUserEntry overrides the value seeded as every created process's
// saved ra. The scheduler's first switch-in into a process sets sepc to
// proc.UserBase whatever this value is.
func WithUserEntry(addr uint32) Option { return func(k *Kernel) { k.userEntry = addr } }

// New allocates the kernel's physical memory region and its mapper, then
// applies every option. Subsystems that depend on a boot-time argument
// (the process table's identity-mapped kernel span, the shell image) are
// built in Boot, not New, mirroring vm.New's early/late option split: New
// establishes the machine's static shape, Boot runs it up.
//
// The default Disk is a bare FakeBlockDevice, not a virtio.LegacyBlk: a
// caller that only wants to exercise the scheduler or the syscall ABI
// (this package's own tests) shouldn't have to stand up a register
// handshake and a virtqueue to get one. A caller that wants the real
// virtio-mmio driver under test builds one with virtio.NewSimulatedDevice
// and passes it via WithBlockDevice, the way cmd/kernel's boot and
// inspect commands do.
func New(opts ...Option) *Kernel {
	k := &Kernel{
		log:        log.DefaultLogger(),
		virtioAddr: defaultVirtioMMIO,
		userEntry:  uint32(proc.UserBase),
		procsMax:   DefaultProcsMax,
		filesMax:   DefaultFilesMax,
		sectors:    tarfs.DefaultDiskSectors,
		SBI:        sbi.NewFakeBridge(""),
		Disk:       virtio.NewFakeBlockDevice(uint64(tarfs.DefaultDiskSectors)),
	}

	for _, opt := range opts {
		opt(k)
	}

	region := make([]byte, DefaultFreeRAM)
	base := mem.Addr(0x80000000)

	k.Mem = mem.NewAllocator(base, region)
	k.Mapper = mem.NewMapper(k.Mem)
	k.kernelBase = base
	k.kernelEnd = base + mem.Addr(len(region))

	return k
}

// Boot runs the kernel's startup sequence end to end: bring up the
// block device, load the file table from disk, create the idle process,
// create the shell process from shellImage, and yield into it.
//
// Zeroing BSS and installing the trap vector have no counterpart here: a
// hosted Go program has no linker-provided BSS segment to clear, and
// Context already exists before Boot runs, so "installing" it is simply
// constructing it.
func (k *Kernel) Boot(ctx context.Context, shellImage []byte) error {
	k.ctx = trap.NewContext()

	if err := k.Disk.Init(); err != nil {
		return fmt.Errorf("kernel: boot: %w", err)
	}

	fileTable := tarfs.NewTable(k.filesMax)
	k.FS = tarfs.NewStore(fileTable, k.Disk, k.sectors)

	if err := k.FS.Load(ctx); err != nil {
		return fmt.Errorf("kernel: boot: %w", err)
	}

	k.Procs = proc.NewTable(k.procsMax, k.Mapper, k.kernelBase, k.kernelEnd, k.virtioAddr, k.userEntry)

	idle, err := k.Procs.Idle()
	if err != nil {
		return fmt.Errorf("kernel: boot: %w", err)
	}

	shell, err := k.Procs.Create(shellImage)
	if err != nil {
		return fmt.Errorf("kernel: boot: %w", err)
	}

	k.Sched = proc.NewScheduler(k.Procs, idle, idle)
	k.Sys = syscall.NewDispatcher(k.SBI, k.Mem, k.Mapper, k.Procs, k.Sched, k.FS)

	k.log.Info("BOOT", "PROCS", k.procsMax, "FILES", k.filesMax, log.Proc(shell.PID, shell.State.String()))

	k.Sched.Yield(k.ctx)

	return nil
}

// TrapSource supplies the trap this kernel's single hart would next
// receive: in a real kernel that's whatever instruction the running
// process's program counter reaches; in this hosted model, a program
// never does anything between syscalls, so a TrapSource stands in for
// "the sequence of ecalls this process's code makes," in order.
type TrapSource interface {
	// NextTrap returns the frame and cause the process with the given
	// PID next traps into the kernel with. ok is false once that
	// process has nothing further to run (it has reached the end of
	// its program without an explicit SYS_EXIT).
	NextTrap(pid int32) (trap.Frame, trap.Cause, bool)
}

// Run drives the kernel's trap loop: while the scheduler is not parked
// on the idle process, pull the current process's next trap from
// source and dispatch it; a syscall yields only if it does so itself
// (GETCHAR, EXIT). When source has no further trap for the current
// process, Run marks it Exited and yields. It returns nil once the idle process
// is the only one left runnable (spec's "switched to idle process"
// terminal condition, here a clean return instead of a PANIC), or ctx's
// error if ctx is cancelled first.
func (k *Kernel) Run(ctx context.Context, source TrapSource) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		current := k.Sched.Current()
		if current.PID == proc.IdlePID {
			k.log.Info("HALTED", "REASON", "switched to idle process")

			return nil
		}

		frame, cause, ok := source.NextTrap(current.PID)
		if !ok {
			k.Sched.Current().State = proc.Exited
			k.Sched.Yield(k.ctx)

			continue
		}

		k.ctx.SCAUSE = cause

		k.log.Debug("TRAP", log.Trap(uint32(cause), k.ctx.SEPC))

		f := trap.Entry(k.ctx, frame)
		handle := func(fr *trap.Frame) error { return k.Sys.Handle(k.ctx, fr) }

		if err := trap.Dispatch(k.ctx, f, handle); err != nil {
			return fmt.Errorf("kernel: run: %w", err)
		}

		trap.Return(k.ctx, f)
	}
}
