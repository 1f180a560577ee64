package sbi

import "bytes"

// FakeBridge is an in-memory Bridge for tests: Putchar appends to Out,
// Getchar drains In one byte at a time.
type FakeBridge struct {
	Out bytes.Buffer
	In  bytes.Buffer
}

// NewFakeBridge returns a FakeBridge with In pre-loaded with input.
func NewFakeBridge(input string) *FakeBridge {
	f := &FakeBridge{}
	f.In.WriteString(input)

	return f
}

func (f *FakeBridge) Putchar(ch byte) error {
	f.Out.WriteByte(ch)

	return nil
}

func (f *FakeBridge) Getchar() (byte, bool) {
	ch, err := f.In.ReadByte()
	if err != nil {
		return 0, false
	}

	return ch, true
}
