package virtio

// Bus is the slice of physical memory a block request's descriptors
// point into. Real virtio-mmio devices perform DMA against physical RAM
// at the addresses given in the descriptor table; Bus stands in for that
// bus so both the driver and, in tests, a simulated device can address
// the same bytes by the same addresses.
type Bus interface {
	// Bytes returns a live view of n bytes starting at addr. Writes
	// through the returned slice are visible to any other holder of
	// the same Bus.
	Bytes(addr uint64, n int) []byte
}

// RAM is a Bus backed by a single contiguous byte slice addressed
// starting at base.
type RAM struct {
	base uint64
	mem  []byte
}

// NewRAM creates a RAM region of size bytes, addressed starting at base.
func NewRAM(base uint64, size int) *RAM {
	return &RAM{base: base, mem: make([]byte, size)}
}

func (r *RAM) Bytes(addr uint64, n int) []byte {
	off := addr - r.base

	return r.mem[off : off+uint64(n)]
}
