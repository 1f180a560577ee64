package virtio

import (
	"encoding/binary"
	"fmt"

	"github.com/rvkernel/rvkernel/internal/log"
)

// headerSize is the byte length of the type+reserved+sector header the
// first descriptor in a request points at, matching virtio_blk_req's
// wire layout.
const headerSize = 4 + 4 + 8

// statusOffset is the byte offset of the status byte within a request's
// wire layout: header, then one sector of data, then the status byte.
const statusOffset = headerSize + SectorSize

// requestSize is the total size of one block request buffer.
const requestSize = statusOffset + 1

// LegacyBlk is a virtio-mmio legacy (version 1) block device driver. It
// performs synchronous, single-sector reads and writes over a single
// virtqueue, busy-waiting for each request to complete; there is no
// interrupt-driven I/O in this kernel.
type LegacyBlk struct {
	mmio MMIO
	q    *Queue
	bus  Bus

	reqAddr  uint64
	capacity uint64 // bytes

	log *log.Logger
}

// NewLegacyBlk creates a driver bound to the given register window,
// virtqueue, and memory bus. reqAddr is where the driver's request
// buffer lives on bus; q must not be used by any other driver instance.
// Call Init before ReadWrite.
func NewLegacyBlk(mmio MMIO, q *Queue, bus Bus, reqAddr uint64) *LegacyBlk {
	return &LegacyBlk{
		mmio:    mmio,
		q:       q,
		bus:     bus,
		reqAddr: reqAddr,
		log:     log.DefaultLogger(),
	}
}

// Init performs the legacy virtio handshake: verify the device identifies
// itself as virtio-blk, negotiate (trivially — this driver accepts
// whatever features are offered), register queue 0's size, and read the
// device's reported capacity.
func (b *LegacyBlk) Init() error {
	if got := b.mmio.ReadReg32(RegMagic); got != magicValue {
		return fmt.Errorf("%w: got %#x", ErrBadMagic, got)
	}

	if got := b.mmio.ReadReg32(RegVersion); got != legacyVersion {
		return fmt.Errorf("%w: got %d", ErrBadVersion, got)
	}

	if got := b.mmio.ReadReg32(RegDeviceID); got != deviceIDBlk {
		return fmt.Errorf("%w: got %d", ErrBadDevice, got)
	}

	b.mmio.WriteReg32(RegDeviceStatus, 0)
	b.mmio.FetchOr32(RegDeviceStatus, StatusAck)
	b.mmio.FetchOr32(RegDeviceStatus, StatusDriver)
	b.mmio.FetchOr32(RegDeviceStatus, StatusFeatureOK)

	b.mmio.WriteReg32(RegQueueSel, b.q.QueueIndex)
	b.mmio.WriteReg32(RegQueueNum, QueueSize)
	b.mmio.WriteReg32(RegQueueAlign, 0)
	b.mmio.WriteReg32(RegQueuePFN, 1) // symbolic: queue state lives in Go values, not a real frame.

	b.mmio.FetchOr32(RegDeviceStatus, StatusDriverOK)

	b.capacity = b.mmio.ReadReg64(RegDeviceConfig) * SectorSize

	b.log.Debug("virtio-blk initialized", "CAPACITY", b.capacity)

	return nil
}

// Capacity returns the device's reported capacity in bytes.
func (b *LegacyBlk) Capacity() uint64 { return b.capacity }

// ReadWrite performs one synchronous sector transfer. buf must be exactly
// SectorSize bytes.
func (b *LegacyBlk) ReadWrite(sector uint64, buf []byte, write bool) error {
	if sector >= b.capacity/SectorSize {
		return fmt.Errorf("%w: sector=%d capacity=%d sectors", ErrSectorRange, sector, b.capacity/SectorSize)
	}

	req := b.bus.Bytes(b.reqAddr, requestSize)

	if write {
		binary.LittleEndian.PutUint32(req[0:4], BlkTypeOut)
	} else {
		binary.LittleEndian.PutUint32(req[0:4], BlkTypeIn)
	}

	binary.LittleEndian.PutUint64(req[8:16], sector)

	if write {
		copy(req[headerSize:headerSize+SectorSize], buf)
	}

	b.q.Desc[0] = Desc{Addr: b.reqAddr, Len: headerSize, Flags: DescFNext, Next: 1}

	writeFlag := uint16(0)
	if !write {
		writeFlag = DescFWrite
	}

	b.q.Desc[1] = Desc{
		Addr:  b.reqAddr + headerSize,
		Len:   SectorSize,
		Flags: DescFNext | writeFlag,
		Next:  2,
	}

	b.q.Desc[2] = Desc{Addr: b.reqAddr + statusOffset, Len: 1, Flags: DescFWrite}

	b.q.Kick(b.mmio, 0)

	for b.q.Busy() {
	}

	b.log.Debug("request completed", log.Queue(b.q.QueueIndex, b.q.AvailIdx, b.q.UsedIdx))

	req = b.bus.Bytes(b.reqAddr, requestSize)

	if status := req[statusOffset]; status != 0 {
		return fmt.Errorf("%w: sector=%d status=%d", ErrRequestFailed, sector, status)
	}

	if !write {
		copy(buf, req[headerSize:headerSize+SectorSize])
	}

	return nil
}
