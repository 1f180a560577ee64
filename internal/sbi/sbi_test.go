package sbi

import "testing"

func TestCall_Putchar(tt *testing.T) {
	tt.Parallel()

	bridge := NewFakeBridge("")

	ret, err := Call(bridge, EIDConsolePutchar, 0, 'A')
	if err != nil {
		tt.Fatal(err)
	}

	if ret != 0 {
		tt.Error("unexpected return value:", ret)
	}

	if bridge.Out.String() != "A" {
		tt.Error("byte not written:", bridge.Out.String())
	}
}

func TestCall_Getchar(tt *testing.T) {
	tt.Parallel()

	bridge := NewFakeBridge("hi")

	ret, err := Call(bridge, EIDConsoleGetchar, 0, 0)
	if err != nil {
		tt.Fatal(err)
	}

	if ret != 'h' {
		tt.Errorf("wrong char: got %#x, want %#x", ret, 'h')
	}
}

func TestCall_Getchar_Empty(tt *testing.T) {
	tt.Parallel()

	bridge := NewFakeBridge("")

	ret, err := Call(bridge, EIDConsoleGetchar, 0, 0)
	if err != nil {
		tt.Fatal(err)
	}

	if ret != 0xffffffff {
		tt.Errorf("expected sentinel, got %#x", ret)
	}
}

func TestCall_UnsupportedExtension(tt *testing.T) {
	tt.Parallel()

	bridge := NewFakeBridge("")

	if _, err := Call(bridge, 0xdead, 0, 0); err == nil {
		tt.Fatal("expected an error for an unsupported extension id")
	}
}

func TestFakeBridge_RoundTrip(tt *testing.T) {
	tt.Parallel()

	bridge := NewFakeBridge("ab")

	for _, want := range []byte{'a', 'b'} {
		ch, ok := bridge.Getchar()
		if !ok {
			tt.Fatal("expected a byte")
		}

		if ch != want {
			tt.Errorf("got %c, want %c", ch, want)
		}
	}

	if _, ok := bridge.Getchar(); ok {
		tt.Fatal("expected no more bytes")
	}
}
