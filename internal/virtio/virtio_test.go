package virtio

import (
	"bytes"
	"errors"
	"testing"
)

const testReqAddr = 0x80300000

func newTestDriver(tt *testing.T, sectors uint64) (*LegacyBlk, *FakeMMIO) {
	tt.Helper()

	q := NewQueue(0)
	bus := NewRAM(testReqAddr, requestSize)
	mmio := NewFakeMMIO(q, bus, sectors)
	blk := NewLegacyBlk(mmio, q, bus, testReqAddr)

	if err := blk.Init(); err != nil {
		tt.Fatal(err)
	}

	return blk, mmio
}

func TestLegacyBlk_Init(tt *testing.T) {
	tt.Parallel()

	blk, _ := newTestDriver(tt, 8)

	if blk.Capacity() != 8*SectorSize {
		tt.Error("wrong capacity:", blk.Capacity())
	}
}

func TestLegacyBlk_Init_BadMagic(tt *testing.T) {
	tt.Parallel()

	q := NewQueue(0)
	bus := NewRAM(testReqAddr, requestSize)
	mmio := NewFakeMMIO(q, bus, 1)
	mmio.regs[RegMagic] = 0

	blk := NewLegacyBlk(mmio, q, bus, testReqAddr)

	err := blk.Init()
	if !errors.Is(err, ErrBadMagic) {
		tt.Fatal("expected ErrBadMagic, got:", err)
	}
}

func TestLegacyBlk_ReadWrite_RoundTrip(tt *testing.T) {
	tt.Parallel()

	blk, _ := newTestDriver(tt, 4)

	want := bytes.Repeat([]byte{0x5a}, SectorSize)

	if err := blk.ReadWrite(2, want, true); err != nil {
		tt.Fatal(err)
	}

	got := make([]byte, SectorSize)
	if err := blk.ReadWrite(2, got, false); err != nil {
		tt.Fatal(err)
	}

	if !bytes.Equal(got, want) {
		tt.Fatal("read did not return what was written")
	}
}

func TestLegacyBlk_ReadWrite_OutOfRange(tt *testing.T) {
	tt.Parallel()

	blk, _ := newTestDriver(tt, 2)

	buf := make([]byte, SectorSize)

	err := blk.ReadWrite(5, buf, false)
	if !errors.Is(err, ErrSectorRange) {
		tt.Fatal("expected ErrSectorRange, got:", err)
	}
}

func TestQueue_Busy(tt *testing.T) {
	tt.Parallel()

	q := NewQueue(0)

	if q.Busy() {
		tt.Fatal("fresh queue should not be busy")
	}
}

func TestFakeBlockDevice_ReadWrite(tt *testing.T) {
	tt.Parallel()

	dev := NewFakeBlockDevice(4)

	want := bytes.Repeat([]byte{0x42}, SectorSize)

	if err := dev.ReadWrite(1, want, true); err != nil {
		tt.Fatal(err)
	}

	got := make([]byte, SectorSize)
	if err := dev.ReadWrite(1, got, false); err != nil {
		tt.Fatal(err)
	}

	if !bytes.Equal(got, want) {
		tt.Fatal("read did not return what was written")
	}

	if err := dev.ReadWrite(10, got, false); !errors.Is(err, ErrSectorRange) {
		tt.Fatal("expected ErrSectorRange, got:", err)
	}
}
