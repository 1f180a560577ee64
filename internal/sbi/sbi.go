// Package sbi models the Supervisor Binary Interface call gate: the
// firmware layer the kernel asks, via ecall, to put a character on the
// console or read one back.
//
// Only the two console calls the kernel actually uses are modeled; the
// original's legacy extension IDs are kept as named constants even
// though Bridge implementations never inspect them directly.
package sbi

import "fmt"

// Legacy SBI extension IDs for the console calls this kernel uses.
const (
	EIDConsolePutchar = 0x01
	EIDConsoleGetchar = 0x02
)

// Bridge is the firmware side of an ecall from supervisor mode. The
// kernel's syscall dispatcher calls through a Bridge rather than issuing
// a real ecall, since there is no firmware to trap into on this host.
type Bridge interface {
	// Putchar writes one byte to the console.
	Putchar(ch byte) error

	// Getchar reads one byte from the console without blocking. ok is
	// false if no byte is currently available, mirroring the legacy
	// SBI getchar call's -1 sentinel.
	Getchar() (ch byte, ok bool)
}

// Call models a generic ecall: dispatch by extension ID to the matching
// Bridge method, returning -1 (0xffffffff) from getchar when no byte is
// available. internal/syscall's dispatcher does not go through Call; it
// invokes Bridge's methods directly.
func Call(b Bridge, eid, fid uint32, arg0 byte) (uint32, error) {
	switch eid {
	case EIDConsolePutchar:
		if err := b.Putchar(arg0); err != nil {
			return 0, err
		}

		return 0, nil
	case EIDConsoleGetchar:
		ch, ok := b.Getchar()
		if !ok {
			return 0xffffffff, nil
		}

		return uint32(ch), nil
	default:
		return 0, fmt.Errorf("sbi: unsupported extension id %#x", eid)
	}
}
