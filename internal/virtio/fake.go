package virtio

import "encoding/binary"

// FakeMMIO simulates a legacy virtio-blk device's register file and
// queue processing, entirely synchronously: a WriteReg32 to
// RegQueueNotify performs the requested sector transfer against Sectors
// before returning, so a driver's busy-wait loop never actually spins.
type FakeMMIO struct {
	regs map[uint32]uint32

	q   *Queue
	bus Bus

	// Sectors is the backing store FakeMMIO reads and writes on behalf
	// of the simulated device.
	Sectors [][SectorSize]byte
}

// NewFakeMMIO returns a FakeMMIO presenting as a legacy virtio-blk device
// with capacitySectors sectors of storage, operating on q and bus (the
// same Queue and Bus given to the LegacyBlk driver under test).
func NewFakeMMIO(q *Queue, bus Bus, capacitySectors uint64) *FakeMMIO {
	return &FakeMMIO{
		regs: map[uint32]uint32{
			RegMagic:    magicValue,
			RegVersion:  legacyVersion,
			RegDeviceID: deviceIDBlk,
		},
		q:       q,
		bus:     bus,
		Sectors: make([][SectorSize]byte, capacitySectors),
	}
}

func (f *FakeMMIO) ReadReg32(off uint32) uint32 { return f.regs[off] }

func (f *FakeMMIO) WriteReg32(off uint32, val uint32) {
	f.regs[off] = val

	if off == RegQueueNotify {
		f.process()
	}
}

func (f *FakeMMIO) ReadReg64(off uint32) uint64 {
	return uint64(len(f.Sectors))
}

func (f *FakeMMIO) FetchOr32(off uint32, bits uint32) uint32 {
	f.regs[off] |= bits

	return f.regs[off]
}

// process runs the one request the driver just kicked: read the
// three-descriptor chain starting at descriptor 0, perform the transfer
// against Sectors, write the status byte, and publish a used-ring entry.
func (f *FakeMMIO) process() {
	idx := f.q.AvailRing[(f.q.LastUsedIndex)%QueueSize]

	header := f.q.Desc[idx]
	data := f.q.Desc[header.Next]
	status := f.q.Desc[data.Next]

	headerBytes := f.bus.Bytes(header.Addr, int(header.Len))
	reqType := binary.LittleEndian.Uint32(headerBytes[0:4])
	sector := binary.LittleEndian.Uint64(headerBytes[8:16])

	statusByte := f.bus.Bytes(status.Addr, 1)

	if sector >= uint64(len(f.Sectors)) {
		statusByte[0] = 1

		f.publish(idx)

		return
	}

	dataBytes := f.bus.Bytes(data.Addr, int(data.Len))

	if reqType == BlkTypeOut {
		copy(f.Sectors[sector][:], dataBytes)
	} else {
		copy(dataBytes, f.Sectors[sector][:])
	}

	statusByte[0] = 0

	f.publish(idx)
}

func (f *FakeMMIO) publish(descIndex uint16) {
	slot := f.q.UsedIdx % QueueSize
	f.q.UsedRing[slot] = UsedElem{ID: uint32(descIndex), Len: SectorSize}
	f.q.UsedIdx++
}

// FakeBlockDevice is a BlockDevice backed entirely by an in-memory sector
// array, with no MMIO or virtqueue modeling at all. internal/tarfs's
// tests use this rather than wiring up a LegacyBlk + FakeMMIO pair when
// the virtio protocol itself isn't what's under test.
type FakeBlockDevice struct {
	Sectors [][SectorSize]byte
}

// NewFakeBlockDevice returns a FakeBlockDevice with the given number of
// zeroed sectors.
func NewFakeBlockDevice(sectors uint64) *FakeBlockDevice {
	return &FakeBlockDevice{Sectors: make([][SectorSize]byte, sectors)}
}

func (f *FakeBlockDevice) Init() error { return nil }

func (f *FakeBlockDevice) Capacity() uint64 { return uint64(len(f.Sectors)) * SectorSize }

func (f *FakeBlockDevice) ReadWrite(sector uint64, buf []byte, write bool) error {
	if sector >= uint64(len(f.Sectors)) {
		return ErrSectorRange
	}

	if write {
		copy(f.Sectors[sector][:], buf)
	} else {
		copy(buf, f.Sectors[sector][:])
	}

	return nil
}
