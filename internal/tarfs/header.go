// Package tarfs implements the kernel's flat file table and its
// persistence as a USTAR tar stream on a block device: every file the
// kernel knows about is loaded from, and flushed back to, a handful of
// fixed-size sectors at boot and on every write.
package tarfs

import (
	"bytes"
	"fmt"
)

// headerSize is the size, in bytes, of one USTAR header record. Data
// immediately follows a header in the stream, sector-aligned.
const headerSize = 512

// Header is one USTAR header record. Field widths and order match the
// original's packed C struct exactly, since the on-disk bytes must
// round-trip whether they were last written by this package or are being
// read for the first time at boot.
type Header struct {
	Name     [100]byte
	Mode     [8]byte
	UID      [8]byte
	GID      [8]byte
	Size     [12]byte
	MTime    [12]byte
	Checksum [8]byte
	Type     byte
	LinkName [100]byte
	Magic    [6]byte
	Version  [2]byte
	UName    [32]byte
	GName    [32]byte
	DevMajor [8]byte
	DevMinor [8]byte
	Prefix   [155]byte
	Padding  [12]byte
}

// ustarMagic and ustarVersion are the fixed fields a valid USTAR header
// must carry; Load treats any other magic as a fatal, corrupted-disk
// condition.
var (
	ustarMagic   = [6]byte{'u', 's', 't', 'a', 'r', 0}
	ustarVersion = [2]byte{'0', '0'}
)

// defaultMode is the permission octal string every flushed header carries,
// matching the original's hard-coded "000644".
var defaultMode = [8]byte{'0', '0', '0', '6', '4', '4', 0, 0}

// NewHeader builds a header for a file of the given name and size, ready
// for its Checksum to be filled in by Store.Flush once the full record
// (including trailing padding) is known.
func NewHeader(name string, size int) *Header {
	h := &Header{
		Mode:    defaultMode,
		Magic:   ustarMagic,
		Version: ustarVersion,
		Type:    '0',
	}

	copy(h.Name[:], name)
	putOctal(h.Size[:], size)

	return h
}

// MarshalBinary encodes the header to its 512-byte wire form. The
// checksum field must already have been set by SetChecksum; MarshalBinary
// does not compute it, since the checksum covers the entire record
// including itself and so cannot be computed from inside the thing being
// marshaled.
func (h *Header) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Grow(headerSize)

	for _, field := range [][]byte{
		h.Name[:], h.Mode[:], h.UID[:], h.GID[:], h.Size[:], h.MTime[:],
		h.Checksum[:], {h.Type}, h.LinkName[:], h.Magic[:], h.Version[:],
		h.UName[:], h.GName[:], h.DevMajor[:], h.DevMinor[:], h.Prefix[:], h.Padding[:],
	} {
		buf.Write(field)
	}

	if buf.Len() != headerSize {
		return nil, fmt.Errorf("tarfs: marshaled header is %d bytes, want %d", buf.Len(), headerSize)
	}

	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a 512-byte USTAR header. It validates neither
// the checksum nor the magic, since an empty, all-zero record is a valid
// "end of archive" sentinel rather than a corrupt header. Store.Load
// checks the magic itself; nothing in this package checks the checksum.
func (h *Header) UnmarshalBinary(data []byte) error {
	if len(data) != headerSize {
		return fmt.Errorf("tarfs: header record is %d bytes, want %d", len(data), headerSize)
	}

	off := 0
	read := func(n int) []byte {
		b := data[off : off+n]
		off += n

		return b
	}

	copy(h.Name[:], read(len(h.Name)))
	copy(h.Mode[:], read(len(h.Mode)))
	copy(h.UID[:], read(len(h.UID)))
	copy(h.GID[:], read(len(h.GID)))
	copy(h.Size[:], read(len(h.Size)))
	copy(h.MTime[:], read(len(h.MTime)))
	copy(h.Checksum[:], read(len(h.Checksum)))
	h.Type = read(1)[0]
	copy(h.LinkName[:], read(len(h.LinkName)))
	copy(h.Magic[:], read(len(h.Magic)))
	copy(h.Version[:], read(len(h.Version)))
	copy(h.UName[:], read(len(h.UName)))
	copy(h.GName[:], read(len(h.GName)))
	copy(h.DevMajor[:], read(len(h.DevMajor)))
	copy(h.DevMinor[:], read(len(h.DevMinor)))
	copy(h.Prefix[:], read(len(h.Prefix)))
	copy(h.Padding[:], read(len(h.Padding)))

	return nil
}

// IsUSTAR reports whether the header's magic field identifies it as a
// USTAR record ("ustar\0").
func (h *Header) IsUSTAR() bool { return h.Magic == ustarMagic }

// IsEmpty reports whether the header's name field is entirely zero,
// the tar format's end-of-archive sentinel.
func (h *Header) IsEmpty() bool {
	for _, b := range h.Name {
		if b != 0 {
			return false
		}
	}

	return true
}

// FileSize decodes the header's octal size field.
func (h *Header) FileSize() int { return oct2int(h.Size[:]) }

// SetChecksum computes and stores the header's checksum: the sum of every
// byte in the 512-byte record with the checksum field itself treated as
// eight ASCII spaces, encoded as six octal digits. This follows the
// original's own fs_flush exactly, which leaves the checksum field's
// final two bytes zeroed rather than writing the NUL-and-space trailer a
// strict USTAR implementation would.
func (h *Header) SetChecksum() error {
	h.Checksum = [8]byte{}

	raw, err := h.MarshalBinary()
	if err != nil {
		return err
	}

	sum := 8 * int(' ')
	for _, b := range raw {
		sum += int(b)
	}

	var checksum [8]byte
	for i := 5; i >= 0; i-- {
		checksum[i] = byte(sum%8) + '0'
		sum /= 8
	}

	h.Checksum = checksum

	return nil
}

// putOctal encodes n as a zero-padded octal ASCII string filling field
// entirely, matching the original's digit-at-a-time encoding.
func putOctal(field []byte, n int) {
	for i := len(field) - 1; i >= 0; i-- {
		field[i] = byte(n%8) + '0'
		n /= 8
	}
}

// oct2int decodes a NUL-or-space-terminated octal ASCII field, stopping
// at the first byte outside '0'..'7' exactly as the original's oct2int
// does (so a field holding e.g. "0000123\0" decodes the same way whether
// or not it is NUL-terminated mid-field).
func oct2int(field []byte) int {
	n := 0

	for _, b := range field {
		if b < '0' || b > '7' {
			break
		}

		n = n*8 + int(b-'0')
	}

	return n
}
