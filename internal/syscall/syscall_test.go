package syscall

import (
	"testing"

	"github.com/rvkernel/rvkernel/internal/mem"
	"github.com/rvkernel/rvkernel/internal/proc"
	"github.com/rvkernel/rvkernel/internal/sbi"
	"github.com/rvkernel/rvkernel/internal/tarfs"
	"github.com/rvkernel/rvkernel/internal/trap"
	"github.com/rvkernel/rvkernel/internal/virtio"
)

const testVirtioAddr = mem.Addr(0x10001000)

// newTestDispatcher builds a Dispatcher with a single created process
// and a one-file store, returning the dispatcher and that process so a
// test can address its mapped user image.
func newTestDispatcher(tt *testing.T, image []byte) (*Dispatcher, *proc.Process) {
	tt.Helper()

	alloc := mem.NewAllocator(0x80000000, make([]byte, 64*mem.PageSize))
	mapper := mem.NewMapper(alloc)

	procs := proc.NewTable(2, mapper, 0x80000000, 0x80000000+32*mem.PageSize, testVirtioAddr, uint32(proc.UserBase))

	p, err := procs.Create(image)
	if err != nil {
		tt.Fatal(err)
	}

	idle, err := procs.Idle()
	if err != nil {
		tt.Fatal(err)
	}

	sched := proc.NewScheduler(procs, p, idle)

	bridge := sbi.NewFakeBridge("")

	table := tarfs.NewTable(2)
	f := table.At(0)
	f.InUse = true
	copy(f.Name[:], "greeting.txt")
	f.Size = copy(f.Data[:], []byte("hi"))

	dev := virtio.NewFakeBlockDevice(tarfs.DefaultDiskSectors)
	store := tarfs.NewStore(table, dev, tarfs.DefaultDiskSectors)

	return NewDispatcher(bridge, alloc, mapper, procs, sched, store), p
}

func TestDispatcher_Putchar(tt *testing.T) {
	tt.Parallel()

	d, p := newTestDispatcher(tt, nil)
	_ = p

	ctx := trap.NewContext()
	f := &trap.Frame{A0: uint32('x'), A3: uint32(Putchar)}

	if err := d.Handle(ctx, f); err != nil {
		tt.Fatal(err)
	}

	got := d.SBI.(*sbi.FakeBridge).Out.String()
	if got != "x" {
		tt.Fatalf("Out = %q, want %q", got, "x")
	}
}

func TestDispatcher_Getchar(tt *testing.T) {
	tt.Parallel()

	d, _ := newTestDispatcher(tt, nil)
	d.SBI = sbi.NewFakeBridge("z")

	ctx := trap.NewContext()
	f := &trap.Frame{A3: uint32(Getchar)}

	if err := d.Handle(ctx, f); err != nil {
		tt.Fatal(err)
	}

	if f.A0 != uint32('z') {
		tt.Fatalf("A0 = %d, want %d", f.A0, 'z')
	}
}

func TestDispatcher_Exit(tt *testing.T) {
	tt.Parallel()

	d, p := newTestDispatcher(tt, nil)

	ctx := trap.NewContext()
	f := &trap.Frame{A3: uint32(Exit)}

	if err := d.Handle(ctx, f); err != nil {
		tt.Fatal(err)
	}

	if p.State != proc.Exited {
		tt.Fatalf("State = %v, want Exited", p.State)
	}
}

func TestDispatcher_Readfile_WritesUserBuffer(tt *testing.T) {
	tt.Parallel()

	// A one-page image: the filename "greeting.txt\x00" at offset 0, a
	// destination buffer at offset 64.
	image := make([]byte, mem.PageSize)
	copy(image, "greeting.txt\x00")
	const bufOff = 64

	d, _ := newTestDispatcher(tt, image)

	ctx := trap.NewContext()
	f := &trap.Frame{
		A0: uint32(proc.UserBase),
		A1: uint32(proc.UserBase) + bufOff,
		A2: 16,
		A3: uint32(Readfile),
	}

	if err := d.Handle(ctx, f); err != nil {
		tt.Fatal(err)
	}

	// 16 does not exceed the 1024-byte data field, so no clamp applies:
	// all 16 bytes (the 2 file bytes, then zeros) are copied out.
	if f.A0 != 16 {
		tt.Fatalf("return length = %d, want 16", f.A0)
	}

	paddr, err := d.Mapper.Translate(d.Sched.Current().PageTable, mem.Addr(proc.UserBase)+bufOff)
	if err != nil {
		tt.Fatal(err)
	}

	got := d.Mem.Bytes(paddr, 2)
	if string(got) != "hi" {
		tt.Fatalf("user buffer = %q, want %q", got, "hi")
	}
}

func TestDispatcher_Writefile_PersistsToStore(tt *testing.T) {
	tt.Parallel()

	image := make([]byte, mem.PageSize)
	copy(image, "greeting.txt\x00")
	const bufOff = 64
	copy(image[bufOff:], "bye")

	d, _ := newTestDispatcher(tt, image)

	ctx := trap.NewContext()
	f := &trap.Frame{
		A0: uint32(proc.UserBase),
		A1: uint32(proc.UserBase) + bufOff,
		A2: 3,
		A3: uint32(Writefile),
	}

	if err := d.Handle(ctx, f); err != nil {
		tt.Fatal(err)
	}

	if f.A0 != 3 {
		tt.Fatalf("return length = %d, want 3", f.A0)
	}

	file := d.FS.Lookup("greeting.txt")
	if file == nil || string(file.Data[:file.Size]) != "bye" {
		tt.Fatalf("file after write = %+v", file)
	}
}

func TestDispatcher_Readfile_UnknownFile(tt *testing.T) {
	tt.Parallel()

	image := make([]byte, mem.PageSize)
	copy(image, "missing.txt\x00")

	d, _ := newTestDispatcher(tt, image)

	ctx := trap.NewContext()
	f := &trap.Frame{
		A0: uint32(proc.UserBase),
		A1: uint32(proc.UserBase) + 64,
		A2: 16,
		A3: uint32(Readfile),
	}

	if err := d.Handle(ctx, f); err != nil {
		tt.Fatal(err)
	}

	if f.A0 != 0xffffffff {
		tt.Fatalf("return = %#x, want 0xffffffff", f.A0)
	}
}

func TestDispatcher_UnknownSyscall(tt *testing.T) {
	tt.Parallel()

	d, _ := newTestDispatcher(tt, nil)

	ctx := trap.NewContext()
	f := &trap.Frame{A3: 0xff}

	if err := d.Handle(ctx, f); err == nil {
		tt.Fatal("expected an error for an unknown syscall number")
	}
}
