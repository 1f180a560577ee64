package virtio

// DefaultReqAddr is the bus address the simulated device's request buffer
// lives at. It shares no namespace with a process's virtual addresses or
// the kernel's MMIO register mapping; it only has to be a valid offset
// into the RAM this file's constructor allocates.
const DefaultReqAddr = 0x90000000

// NewSimulatedDevice builds a LegacyBlk driver bound to a FakeMMIO device
// over a dedicated RAM bus, preloaded with disk's contents, and runs the
// driver's Init handshake against it. It is the deployment-side
// counterpart to virtio_test.go's newTestDriver: the same
// Queue/RAM/FakeMMIO/LegacyBlk wiring, but sized and seeded from a real
// disk image instead of a test fixture, so a caller that only has bytes
// read from a file still exercises the real register handshake and
// virtqueue descriptor chaining on every sector transfer, rather than
// bypassing the protocol with FakeBlockDevice.
func NewSimulatedDevice(disk []byte) (*LegacyBlk, error) {
	sectors := uint64(len(disk))/SectorSize + 1

	q := NewQueue(0)
	bus := NewRAM(DefaultReqAddr, requestSize)
	mmio := NewFakeMMIO(q, bus, sectors)

	for s := uint64(0); s*SectorSize < uint64(len(disk)); s++ {
		sector := disk[s*SectorSize:]
		if uint64(len(sector)) > SectorSize {
			sector = sector[:SectorSize]
		}

		copy(mmio.Sectors[s][:], sector)
	}

	blk := NewLegacyBlk(mmio, q, bus, DefaultReqAddr)
	if err := blk.Init(); err != nil {
		return nil, err
	}

	return blk, nil
}
